package proctor

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stemsi/exstem-proctoring/internal/cache"
)

func TestGetParticipantsIsIdempotentWithinRequest(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, standardDirectory(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		checkStringEqual(t, "path", r.URL.Path, "/api/course/9/participants")
		writeJSON(w, `{"Participants":[
			{"participantidentifier":42,"courseid":9,"email":"x@y.com","status":"Valid","modified":100},
			{"participantidentifier":44,"courseid":9,"email":"grace@example.com","status":"Valid","modified":300}
		],"NextToken":"null"}`)
	}))

	ctx := cache.Begin(context.Background(), cache.NewMemory(time.Minute))
	first, err := c.GetParticipants(ctx, testCreds(), 9)
	checkNoError(t, err)
	second, err := c.GetParticipants(ctx, testCreds(), 9)
	checkNoError(t, err)

	checkIntEqual(t, "requests", int(calls.Load()), 1)
	checkIntEqual(t, "first size", len(first), 1)
	checkIntEqual(t, "second size", len(second), 1)
	if second[42] == nil {
		t.Error("expected participant 42")
	}
}

func TestGetParticipantsRefreshInterval(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, standardDirectory(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, `{"Participants":[{"participantidentifier":42,"courseid":9,"email":"x@y.com","modified":100}]}`)
	}))
	c.cfg.ParticipantsRefreshInterval = time.Minute

	for i := 0; i < 3; i++ {
		set, err := c.GetParticipants(context.Background(), testCreds(), 9)
		checkNoError(t, err)
		checkIntEqual(t, "size", len(set), 1)
	}
	checkIntEqual(t, "requests", int(calls.Load()), 1)
}

func TestGetParticipantsIncrementalSync(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, standardDirectory(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		q := r.URL.Query()
		if n == 1 {
			checkStringEqual(t, "first lastmodified", q.Get("lastmodified"), "")
			writeJSON(w, `{"Participants":[{"participantidentifier":42,"courseid":9,"email":"x@y.com","status":"In Progress","modified":100}]}`)
			return
		}
		checkStringEqual(t, "incremental lastmodified", q.Get("lastmodified"), "100")
		writeJSON(w, `{"Participants":[
			{"participantidentifier":42,"courseid":9,"email":"x@y.com","status":"Valid","modified":250},
			{"participantidentifier":43,"courseid":9,"email":"alan@example.com","status":"Valid","modified":200}
		]}`)
	}))

	_, err := c.GetParticipants(context.Background(), testCreds(), 9)
	checkNoError(t, err)
	set, err := c.GetParticipants(context.Background(), testCreds(), 9)
	checkNoError(t, err)

	checkIntEqual(t, "requests", int(calls.Load()), 2)
	checkIntEqual(t, "size", len(set), 2)
	checkStatus(t, "updated status", set[42].Status, StatusValid)

	// The watermark is now 250.
	var stored participantSet
	ok, err := cache.GetJSON(context.Background(), c.session, cache.ScopeSession, cache.Key("participant_set", testAppID, 9), &stored)
	checkNoError(t, err)
	if !ok {
		t.Fatal("expected the set in the session cache")
	}
	checkInt64Equal(t, "watermark", stored.Watermark, 250)
}

func TestGetParticipantsEmptyFullFetchDropsSessionEntry(t *testing.T) {
	c, _ := newTestClient(t, standardDirectory(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"Participants":[],"NextToken":"null"}`)
	}))
	key := cache.Key("participant_set", testAppID, 9)
	checkNoError(t, cache.SetJSON(context.Background(), c.session, key, participantSet{}, time.Minute))

	set, err := c.GetParticipants(context.Background(), testCreds(), 9)
	checkNoError(t, err)
	checkIntEqual(t, "size", len(set), 0)

	if _, err := c.session.Get(context.Background(), key); !errors.Is(err, cache.ErrMiss) {
		t.Errorf("expected the session entry to be deleted, got %v", err)
	}
}

func TestGetParticipantSessions(t *testing.T) {
	c, _ := newTestClient(t, standardDirectory(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		checkStringEqual(t, "path", r.URL.Path, "/api/course/9/participantsessions")
		q := r.URL.Query()
		checkStringEqual(t, "activityid", q.Get("activityid"), "100")
		checkStringEqual(t, "courseid", q.Get("courseid"), "")
		checkStringEqual(t, "backwardsearch", q.Get("backwardsearch"), "")
		writeJSON(w, `{"ParticipantSessions":[
			{"id":"`+sessionA+`","activityid":100,"participantidentifier":42,"status":"Valid","start":1,"end":2},
			{"id":"`+sessionB+`","activityid":100,"participantidentifier":43,"status":"In Progress","start":3},
			{"id":"6f1d0c1e-8a53-4c0e-9f8e-2d6b3f0a1b03","activityid":100,"participantidentifier":44,"status":"Valid"},
			{"id":"6f1d0c1e-8a53-4c0e-9f8e-2d6b3f0a1b04","activityid":101,"participantidentifier":42,"status":"Valid"}
		],"NextToken":"null"}`)
	}))

	sessions, err := c.GetParticipantSessions(context.Background(), testCreds(), 9, 100, 0, 0)
	checkNoError(t, err)
	checkIntEqual(t, "sessions", len(sessions), 2)

	owner, ok := sessions[0].Owner().(*MinimalOwner)
	if !ok {
		t.Fatalf("expected a MinimalOwner, got %T", sessions[0].Owner())
	}
	checkIntEqual(t, "owner user", owner.UserID, 42)
	checkStringEqual(t, "owner email", owner.Email, "x@y.com")
	checkStringEqual(t, "owner name", owner.FirstName, "Ada")
}

func TestGetParticipantSessionsLimitUsesBackwardSearch(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, standardDirectory(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		q := r.URL.Query()
		checkStringEqual(t, "limit", q.Get("limit"), "1")
		checkStringEqual(t, "backwardsearch", q.Get("backwardsearch"), "true")
		checkStringEqual(t, "participantidentifier", q.Get("participantidentifier"), "42")
		writeJSON(w, `{"ParticipantSessions":[
			{"id":"`+sessionA+`","activityid":100,"status":"Valid","start":5,"end":6},
			{"id":"`+sessionB+`","activityid":100,"status":"Valid","start":1,"end":2}
		],"NextToken":"more"}`)
	}))

	sessions, err := c.GetParticipantSessions(context.Background(), testCreds(), 9, 100, 42, 1)
	checkNoError(t, err)
	checkIntEqual(t, "sessions", len(sessions), 1)
	checkStringEqual(t, "session", sessions[0].ID, sessionA)
	checkIntEqual(t, "requests", int(calls.Load()), 1)
}

func TestGetLatestCompletedSession(t *testing.T) {
	c, _ := newTestClient(t, standardDirectory(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		checkStringEqual(t, "path", r.URL.Path, "/api/participantsessions/activity")
		checkStringEqual(t, "courseid", r.URL.Query().Get("courseid"), "")
		writeJSON(w, `{"ParticipantSessions":[{"id":"`+sessionA+`","activityid":100,"participantidentifier":42,"status":"Invalid (Rules)","start":5,"end":6}]}`)
	}))

	s, err := c.GetLatestCompletedSession(context.Background(), testCreds(), 100, 42)
	checkNoError(t, err)
	if s == nil {
		t.Fatal("expected a session")
	}
	checkStatus(t, "status", s.Status, StatusInvalidRules)

	_, err = c.GetLatestCompletedSession(context.Background(), testCreds(), 999, 42)
	checkErrorIs(t, err, ErrValidation)
}

func TestCloseRemoteSession(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, standardDirectory(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		checkStringEqual(t, "path", r.URL.Path, "/api/participants/endsession")
		checkStringEqual(t, "appid", r.URL.Query().Get("appid"), testAppID)
		checkStringEqual(t, "activityid", r.URL.Query().Get("activityid"), "100")
		w.WriteHeader(http.StatusNoContent)
	}))
	ctx := context.Background()

	closed, err := c.CloseRemoteSession(ctx, testCreds(), 9, 100, 42)
	checkNoError(t, err)
	if closed {
		t.Error("expected nothing to close without a marker")
	}
	checkIntEqual(t, "requests without marker", int(calls.Load()), 0)

	checkNoError(t, c.MarkSessionStarted(ctx, testAppID, 9, 100, 42))
	closed, err = c.CloseRemoteSession(ctx, testCreds(), 9, 100, 42)
	checkNoError(t, err)
	if !closed {
		t.Error("expected the session to be closed")
	}
	checkIntEqual(t, "requests", int(calls.Load()), 1)

	// The marker is one-time.
	closed, err = c.CloseRemoteSession(ctx, testCreds(), 9, 100, 42)
	checkNoError(t, err)
	if closed {
		t.Error("expected the marker to be consumed")
	}
	checkIntEqual(t, "requests after consume", int(calls.Load()), 1)
}

func TestCloseRemoteSessionGone(t *testing.T) {
	c, _ := newTestClient(t, standardDirectory(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	ctx := context.Background()

	checkNoError(t, c.MarkSessionStarted(ctx, testAppID, 9, 100, 42))
	closed, err := c.CloseRemoteSession(ctx, testCreds(), 9, 100, 42)
	checkNoError(t, err)
	if closed {
		t.Error("expected false for a session the vendor no longer has")
	}
}

func TestGetModuleStatus(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, standardDirectory(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		checkStringEqual(t, "path", r.URL.Path, "/api/2-0/participantstatus")
		switch r.URL.Query().Get("activityid") {
		case "100":
			writeJSON(w, `{"Status":"Invalid (Rules)","OverrideStatus":"Valid"}`)
		default:
			http.Error(w, "boom", http.StatusBadGateway)
		}
	}))
	ctx := context.Background()
	module := ModuleContext{Credentials: testCreds(), CourseID: 9, ModuleID: 100}

	checkStatus(t, "override wins", c.GetModuleStatus(ctx, module, 42), StatusValid)
	checkStatus(t, "suspended enrolment", c.GetModuleStatus(ctx, module, 43), StatusInProgress)
	checkStatus(t, "not enrolled", c.GetModuleStatus(ctx, module, 44), StatusInProgress)
	checkStatus(t, "foreign module", c.GetModuleStatus(ctx, ModuleContext{Credentials: testCreds(), CourseID: 9, ModuleID: 200}, 42), StatusInProgress)
	checkIntEqual(t, "requests", int(calls.Load()), 1)

	failing := ModuleContext{Credentials: testCreds(), CourseID: 9, ModuleID: 101}
	checkStatus(t, "vendor failure", c.GetModuleStatus(ctx, failing, 42), StatusInProgress)
	checkStatus(t, "no credentials", c.GetModuleStatus(ctx, ModuleContext{CourseID: 9, ModuleID: 100}, 42), StatusInProgress)
}

func TestGetParticipantsBulk(t *testing.T) {
	var calls atomic.Int32
	var auth atomic.Value
	c, _ := newTestClient(t, standardDirectory(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if prev, ok := auth.Load().(string); ok && prev != r.Header.Get("Authorization") {
			t.Error("expected every bulk request to share one signature")
		}
		auth.Store(r.Header.Get("Authorization"))
		verifySignature(t, r)

		switch id := r.URL.Query().Get("participantidentifier"); id {
		case "42":
			writeJSON(w, `{"participantidentifier":42,"courseid":9,"email":"x@y.com","status":"Valid"}`)
		case "43":
			writeJSON(w, `{"participantidentifier":43,"courseid":9,"email":"alan@example.com","status":"Invalid (ID)"}`)
		case "44":
			http.Error(w, "forbidden", http.StatusForbidden)
		default:
			http.NotFound(w, r)
		}
	}))

	ctx := cache.Begin(context.Background(), cache.NewMemory(time.Minute))
	got, err := c.GetParticipantsBulk(ctx, testCreds(), 9, []int{42, 43, 44, 45, 42}, 0)
	checkNoError(t, err)
	checkIntEqual(t, "participants", len(got), 2)
	checkStatus(t, "43 status", got[43].Status, StatusInvalidID)
	checkIntEqual(t, "requests", int(calls.Load()), 4)

	// Bulk results seed the request scope.
	p, err := c.GetParticipant(ctx, testCreds(), 9, 42, 0)
	checkNoError(t, err)
	checkIntEqual(t, "participant", p.ParticipantIdentifier, 42)
	checkIntEqual(t, "requests after single get", int(calls.Load()), 4)
}

func TestGetParticipantsBulkAbortsOnServerError(t *testing.T) {
	c, _ := newTestClient(t, standardDirectory(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusServiceUnavailable)
	}))

	_, err := c.GetParticipantsBulk(context.Background(), testCreds(), 9, []int{42, 43}, 0)
	checkErrorIs(t, err, ErrTransport)
}

func TestGetParticipantsBulkReportsOnlyTheFailingItem(t *testing.T) {
	c, sink := newTestClient(t, standardDirectory(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("participantidentifier") == "42" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		http.NotFound(w, r)
	}))

	_, err := c.GetParticipantsBulk(context.Background(), testCreds(), 9, []int{42, 43, 44, 45, 46}, 0)
	checkErrorIs(t, err, ErrTransport)
	checkIntEqual(t, "failures reported", sink.count(), 1)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	checkIntEqual(t, "reported status", sink.failures[0].StatusCode, http.StatusInternalServerError)
}
