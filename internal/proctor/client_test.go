package proctor

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctoring/internal/cache"
)

// verifySignature recomputes the signature of r the way the vendor does.
func verifySignature(t *testing.T, r *http.Request) {
	t.Helper()
	auth := strings.TrimPrefix(r.Header.Get("Authorization"), "amx ")
	parts := strings.Split(auth, ":")
	if len(parts) != 4 {
		t.Errorf("malformed Authorization header %q", r.Header.Get("Authorization"))
		return
	}
	ts, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		t.Errorf("timestamp %q: %v", parts[3], err)
		return
	}
	want, err := Sign("http://"+r.Host+r.URL.Path, r.Method, ts, parts[2], testAPIKey, parts[0])
	if err != nil {
		t.Errorf("recompute signature: %v", err)
		return
	}
	checkStringEqual(t, "signature", parts[1], want)
	checkStringEqual(t, "appid", parts[0], testAppID)
}

func TestGetParticipantEndToEnd(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, standardDirectory(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		checkStringEqual(t, "path", r.URL.Path, "/api/participant")
		checkStringEqual(t, "participantidentifier", r.URL.Query().Get("participantidentifier"), "42")
		checkStringEqual(t, "courseid", r.URL.Query().Get("courseid"), "9")
		checkStringEqual(t, "instance header", r.Header.Get("X-Proctor-Instance-Id"), "3")
		checkStringEqual(t, "app header", r.Header.Get("X-Proctor-App-Id"), testAppID)
		checkStringEqual(t, "plugin header", r.Header.Get("X-Proctor-Plugin-Version"), "2024010100")
		verifySignature(t, r)
		writeJSON(w, `{"ParticipantIdentifier":42,"Course_Id":9,"Email":"x@y.com","Status":"Valid","Sessions":[]}`)
	}))

	p, err := c.GetParticipant(context.Background(), testCreds(), 9, 42, 3)
	checkNoError(t, err)
	if p == nil {
		t.Fatal("expected a participant")
	}
	checkIntEqual(t, "status", p.Status.Code(), 0)
	checkIntEqual(t, "participantidentifier", p.ParticipantIdentifier, 42)
	checkIntEqual(t, "sessions", len(p.Sessions), 0)
	if p.Sessions == nil {
		t.Error("expected an empty, non-nil session list")
	}
	checkIntEqual(t, "requests", int(calls.Load()), 1)
}

func TestGetParticipantRequestCache(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, standardDirectory(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, `{"participantidentifier":42,"courseid":9,"email":"x@y.com","status":"Valid",
			"sessions":[{"id":"`+sessionA+`","activityid":100,"status":"Valid","start":10,"end":20}]}`)
	}))

	ctx := cache.Begin(context.Background(), cache.NewMemory(time.Minute))
	first, err := c.GetParticipant(ctx, testCreds(), 9, 42, 0)
	checkNoError(t, err)
	second, err := c.GetParticipant(ctx, testCreds(), 9, 42, 0)
	checkNoError(t, err)

	checkIntEqual(t, "requests", int(calls.Load()), 1)
	checkIntEqual(t, "cached sessions", len(second.Sessions), len(first.Sessions))
	if s := second.Session(sessionA); s == nil || s.Owner() != Owner(second) {
		t.Error("expected cached sessions to be relinked to their participant")
	}

	// A new request scope asks again.
	_, err = c.GetParticipant(context.Background(), testCreds(), 9, 42, 0)
	checkNoError(t, err)
	checkIntEqual(t, "requests after new scope", int(calls.Load()), 2)
}

func TestGetParticipantNotFound(t *testing.T) {
	c, sink := newTestClient(t, standardDirectory(), http.NotFoundHandler())

	p, err := c.GetParticipant(context.Background(), testCreds(), 9, 42, 0)
	checkNoError(t, err)
	if p != nil {
		t.Errorf("expected no participant, got %+v", p)
	}
	checkIntEqual(t, "failures", sink.count(), 0)
}

func TestValidationHappensBeforeNetwork(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, standardDirectory(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	ctx := context.Background()

	_, err := c.GetParticipant(ctx, testCreds(), 0, 42, 0)
	checkErrorIs(t, err, ErrValidation)
	_, err = c.GetParticipant(ctx, Credentials{AppID: testAppID, APIKey: "validBase64Key"}, 9, 42, 0)
	checkErrorIs(t, err, ErrValidation)
	_, err = c.GetParticipants(ctx, Credentials{AppID: "nope", APIKey: testAPIKey}, 9)
	checkErrorIs(t, err, ErrValidation)
	_, err = c.GetParticipantSessions(ctx, testCreds(), 9, 200, 0, 0)
	checkErrorIs(t, err, ErrValidation)
	_, err = c.GetParticipantsBulk(ctx, testCreds(), 9, []int{42, -1}, 0)
	checkErrorIs(t, err, ErrValidation)

	checkIntEqual(t, "requests", int(calls.Load()), 0)
}

func TestTransportFailureIsReportedOncePerSession(t *testing.T) {
	var calls atomic.Int32
	c, sink := newTestClient(t, standardDirectory(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	ctx := WithActor(context.Background(), 7)

	for i := 0; i < 3; i++ {
		_, err := c.GetParticipant(ctx, testCreds(), 9, 42, 0)
		checkErrorIs(t, err, ErrTransport)
	}
	checkIntEqual(t, "requests", int(calls.Load()), 3)
	checkIntEqual(t, "failures", sink.count(), 1)

	f := sink.failures[0]
	checkIntEqual(t, "user", f.UserID, 7)
	checkIntEqual(t, "status code", f.StatusCode, http.StatusInternalServerError)
	checkStringEqual(t, "app", f.AppID, testAppID)

	// Another session reports again.
	ctx = cache.WithSession(ctx, cache.NewMemory(time.Minute))
	_, _ = c.GetParticipant(ctx, testCreds(), 9, 42, 0)
	checkIntEqual(t, "failures in new session", sink.count(), 2)
}

func TestPing(t *testing.T) {
	c, _ := newTestClient(t, standardDirectory(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ping" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "" {
			t.Error("ping must not be signed")
		}
		writeJSON(w, `{"status":"ok"}`)
	}))

	ok, err := c.Ping(context.Background())
	checkNoError(t, err)
	if !ok {
		t.Error("expected ping to succeed")
	}
}

func TestLayerLoggersFollowComponentLevels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"participantidentifier":44,"courseid":9,"email":"x@y.com","status":"Valid"}`)
	}))
	t.Cleanup(srv.Close)

	var buf bytes.Buffer
	out := zerolog.New(&buf)
	c := New(Config{
		BaseURL:       srv.URL,
		PluginVersion: "2024010100",
		InstanceID:    "lms-test",
		AppID:         testAppID,
		APIKey:        testAPIKey,
		MaxRecursion:  5,
	}, Deps{
		Directory:  standardDirectory(),
		HTTPClient: srv.Client(),
		LoggerFor: func(component string) zerolog.Logger {
			level := zerolog.InfoLevel
			if component == "transport" {
				level = zerolog.DebugLevel
			}
			return out.With().Str("component", component).Logger().Level(level)
		},
	})

	// 44 is not enrolled, so the parser rejects the record at debug level.
	p, err := c.GetParticipant(context.Background(), testCreds(), 9, 44, 0)
	checkNoError(t, err)
	if p != nil {
		t.Fatalf("expected no participant, got %+v", p)
	}

	logged := buf.String()
	if !strings.Contains(logged, `"component":"transport"`) || !strings.Contains(logged, "Remote call") {
		t.Errorf("expected transport debug output, got %s", logged)
	}
	if strings.Contains(logged, "Participant record rejected") {
		t.Errorf("expected parser debug output to be suppressed, got %s", logged)
	}
}
