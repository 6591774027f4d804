package proctor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/stemsi/exstem-proctoring/internal/audit"
	"github.com/stemsi/exstem-proctoring/internal/cache"
	"github.com/stemsi/exstem-proctoring/internal/metrics"
)

const (
	breakerName  = "proctor-api"
	maxBodyBytes = 32 << 20

	headerPluginVersion = "X-Proctor-Plugin-Version"
	headerAppID         = "X-Proctor-App-Id"
	headerInstanceID    = "X-Proctor-Instance-Id"
)

// acceptedStatus is the closed set of statuses that are not failures.
// 404 and 410 are normal "nothing there" answers.
var acceptedStatus = map[int]bool{
	http.StatusOK:           true,
	http.StatusCreated:      true,
	http.StatusAccepted:     true,
	http.StatusNoContent:    true,
	http.StatusResetContent: true,
	http.StatusSeeOther:     true,
	http.StatusNotModified:  true,
	http.StatusNotFound:     true,
	http.StatusGone:         true,
}

// Response is a vendor answer with an accepted status.
type Response struct {
	StatusCode int
	// URL is the requested target, query included.
	URL    string
	Body   []byte
	Header http.Header
}

// Empty reports whether the response carries no payload to parse.
func (r *Response) Empty() bool {
	switch r.StatusCode {
	case http.StatusNoContent, http.StatusResetContent, http.StatusNotModified,
		http.StatusNotFound, http.StatusGone:
		return true
	}
	return len(bytes.TrimSpace(r.Body)) == 0
}

// NotFound reports the 404/410 "no such thing" answers.
func (r *Response) NotFound() bool {
	return r.StatusCode == http.StatusNotFound || r.StatusCode == http.StatusGone
}

type transport struct {
	cfg     Config
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*Response]
	sink    audit.Sink
	session cache.Store
	log     zerolog.Logger
	now     func() time.Time
}

func newTransport(cfg Config, httpClient *http.Client, sink audit.Sink, session cache.Store, log zerolog.Logger) *transport {
	if httpClient == nil {
		httpClient = newHTTPClient(cfg)
	}
	t := &transport{
		cfg:     cfg,
		http:    httpClient,
		sink:    sink,
		session: session,
		log:     log,
		now:     time.Now,
	}
	if cfg.BreakerEnabled {
		t.breaker = newBreaker(log)
	}
	return t
}

// newHTTPClient verifies TLS, bounds the connect and overall time, follows a
// limited number of redirects and never retries.
func newHTTPClient(cfg Config) *http.Client {
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.DialContext = (&net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	base.TLSHandshakeTimeout = cfg.ConnectTimeout

	maxRedirects := cfg.MaxRedirects
	return &http.Client{
		Timeout:   cfg.RequestTimeout,
		Transport: base,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
}

func newBreaker(log zerolog.Logger) *gobreaker.CircuitBreaker[*Response] {
	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	return gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		// Opens at a 60% failure rate over at least 10 requests.
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			if ratio >= 0.6 {
				log.Warn().Uint32("failures", counts.TotalFailures).Float64("failure_rate", ratio*100).Msg("Opening circuit")
				return true
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info().Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
		// A caller giving up is not a vendor failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// endpointURL builds {baseurl}/{versionpath}{path}.
func (t *transport) endpointURL(path string) string {
	base := strings.TrimRight(t.cfg.BaseURL, "/")
	if v := strings.Trim(t.cfg.APIVersionPath, "/"); v != "" {
		base += "/" + v
	}
	return base + path
}

// GetUnsigned calls {baseurl}{path} without authentication.
func (t *transport) GetUnsigned(ctx context.Context, path, rawQuery string) (*Response, error) {
	target := strings.TrimRight(t.cfg.BaseURL, "/") + path
	if rawQuery != "" {
		target += "?" + rawQuery
	}
	header := http.Header{}
	header.Set("Accept", "application/json")
	header.Set(headerPluginVersion, t.cfg.PluginVersion)
	return t.do(ctx, path, "", target, header)
}

// GetSigned validates params, signs and sends a GET to endpoint. extra
// headers override the defaults.
func (t *transport) GetSigned(ctx context.Context, endpoint Endpoint, creds Credentials, params Params, extra http.Header) (*Response, error) {
	if err := ValidateEndpointParams(endpoint, params); err != nil {
		return nil, err
	}
	path, rawQuery := resolvePath(endpoint, params)
	uri := t.endpointURL(path)

	header, err := t.signedHeader(creds, uri, t.now())
	if err != nil {
		return nil, err
	}
	for name, values := range extra {
		header[http.CanonicalHeaderKey(name)] = values
	}

	target := uri
	if rawQuery != "" {
		target += "?" + rawQuery
	}
	return t.do(ctx, string(endpoint), creds.AppID, target, header)
}

// signedHeader builds the authentication and diagnostic headers for uri.
// Requests sharing uri, credentials and instant may share the result.
func (t *transport) signedHeader(creds Credentials, uri string, now time.Time) (http.Header, error) {
	ts := now.Unix()
	nonce := newNonce(now)
	sig, err := Sign(uri, http.MethodGet, ts, nonce, creds.APIKey, creds.AppID)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", AuthorizationHeader(creds.AppID, sig, nonce, ts))
	header.Set("Accept", "application/json")
	header.Set(headerPluginVersion, t.cfg.PluginVersion)
	header.Set(headerAppID, creds.AppID)
	header.Set(headerInstanceID, t.cfg.InstanceID)
	return header, nil
}

func (t *transport) do(ctx context.Context, label, appID, target string, header http.Header) (*Response, error) {
	start := time.Now()
	exec := func() (*Response, error) {
		return t.roundTrip(ctx, target, header)
	}

	var (
		resp *Response
		err  error
	)
	if t.breaker != nil {
		resp, err = t.breaker.Execute(exec)
		t.recordBreaker(err)
	} else {
		resp, err = exec()
	}
	metrics.RemoteRequestDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())

	if err != nil {
		var te *TransportError
		if !errors.As(err, &te) {
			te = &TransportError{Method: http.MethodGet, URL: target, Err: err}
		}
		// Calls abandoned by the caller, such as bulk siblings of a failed
		// item, say nothing about the vendor.
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			metrics.RemoteRequests.WithLabelValues(label, "cancelled").Inc()
			t.log.Debug().Err(err).Str("url", target).Msg("Remote call cancelled")
			return nil, te
		}

		code := "error"
		if te.StatusCode > 0 {
			code = strconv.Itoa(te.StatusCode)
		}
		metrics.RemoteRequests.WithLabelValues(label, code).Inc()

		t.log.Debug().Err(err).Str("url", target).Int("status_code", te.StatusCode).Msg("Remote call failed")
		t.reportFailure(ctx, appID, te)
		return nil, te
	}

	metrics.RemoteRequests.WithLabelValues(label, strconv.Itoa(resp.StatusCode)).Inc()
	t.log.Debug().Str("url", target).Int("status_code", resp.StatusCode).Dur("took", time.Since(start)).Msg("Remote call")
	return resp, nil
}

func (t *transport) roundTrip(ctx context.Context, target string, header http.Header) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, &TransportError{Method: http.MethodGet, URL: target, Err: err}
	}
	req.Header = header.Clone()

	res, err := t.http.Do(req)
	if err != nil {
		return nil, &TransportError{Method: http.MethodGet, URL: target, Err: err}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return nil, &TransportError{Method: http.MethodGet, URL: target, StatusCode: res.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	if !acceptedStatus[res.StatusCode] {
		return nil, &TransportError{Method: http.MethodGet, URL: target, StatusCode: res.StatusCode}
	}
	return &Response{StatusCode: res.StatusCode, URL: target, Body: body, Header: res.Header}, nil
}

// malformed turns an accepted response whose body cannot be used into a
// TransportError and reports it like any other failed call.
func (t *transport) malformed(ctx context.Context, appID string, resp *Response, err error) *TransportError {
	te := &TransportError{Method: http.MethodGet, URL: resp.URL, StatusCode: resp.StatusCode, Err: err}
	t.log.Warn().Err(err).Str("url", resp.URL).Int("status_code", resp.StatusCode).Msg("Malformed vendor response")
	t.reportFailure(ctx, appID, te)
	return te
}

func (t *transport) recordBreaker(err error) {
	switch {
	case err == nil:
		metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "success").Inc()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "rejected").Inc()
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "failure").Inc()
	}
}

// reportFailure emits a failure record once per (user, app, method, URL,
// code) within the caller's session.
func (t *transport) reportFailure(ctx context.Context, appID string, te *TransportError) {
	if t.sink == nil {
		return
	}
	userID := actorFrom(ctx)
	store := cache.SessionFrom(ctx, t.session)
	if store != nil {
		key := cache.Key("remote_failure", userID, appID, te.Method, te.URL, te.StatusCode)
		added, err := store.Add(context.WithoutCancel(ctx), key, []byte{'1'}, t.cfg.FailureDedupeTTL)
		if err != nil {
			t.log.Warn().Err(err).Msg("Failure dedupe unavailable, reporting anyway")
		} else if !added {
			return
		}
	}

	msg := ""
	if te.Err != nil {
		msg = te.Err.Error()
	}
	err := t.sink.Report(context.WithoutCancel(ctx), audit.Failure{
		UserID:     userID,
		AppID:      appID,
		Method:     te.Method,
		URL:        te.URL,
		StatusCode: te.StatusCode,
		Message:    msg,
		OccurredAt: t.now().UTC(),
	})
	if err != nil {
		t.log.Error().Err(err).Str("url", te.URL).Msg("Failed to report remote call failure")
		return
	}
	metrics.RemoteFailuresReported.Inc()
}

// decodeObject decodes a JSON object keeping numbers as json.Number.
func decodeObject(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
