package proctor

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctoring/internal/audit"
	"github.com/stemsi/exstem-proctoring/internal/model"
)

const testAppID = "2b5cdd71-aeb1-4f3d-8ac0-1f3acca4efe4"

var testAPIKey = base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))

func testCreds() Credentials {
	return Credentials{AppID: testAppID, APIKey: testAPIKey}
}

// checkNoError fails the test immediately on err
func checkNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// checkErrorIs checks that err matches target
func checkErrorIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Errorf("expected error matching %v, got %v", target, err)
	}
}

func checkIntEqual(t *testing.T, fieldName string, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("%s: expected %d, got %d", fieldName, want, got)
	}
}

func checkInt64Equal(t *testing.T, fieldName string, got, want int64) {
	t.Helper()
	if got != want {
		t.Errorf("%s: expected %d, got %d", fieldName, want, got)
	}
}

func checkStringEqual(t *testing.T, fieldName, got, want string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: expected %q, got %q", fieldName, want, got)
	}
}

func checkStatus(t *testing.T, fieldName string, got, want Status) {
	t.Helper()
	if got != want {
		t.Errorf("%s: expected %s, got %s", fieldName, want, got)
	}
}

// fakeDirectory is an in-memory LMS.
type fakeDirectory struct {
	users      map[int]*model.User
	courses    map[int]bool
	modules    map[int]int
	enrolments map[[2]int]model.EnrolmentStatus
	err        error
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		users:      map[int]*model.User{},
		courses:    map[int]bool{},
		modules:    map[int]int{},
		enrolments: map[[2]int]model.EnrolmentStatus{},
	}
}

func (d *fakeDirectory) addUser(id int, first, last, email string) *fakeDirectory {
	d.users[id] = &model.User{ID: id, FirstName: first, LastName: last, Email: email}
	return d
}

func (d *fakeDirectory) addCourse(id int, moduleIDs ...int) *fakeDirectory {
	d.courses[id] = true
	for _, m := range moduleIDs {
		d.modules[m] = id
	}
	return d
}

func (d *fakeDirectory) enrol(courseID, userID int, status model.EnrolmentStatus) *fakeDirectory {
	d.enrolments[[2]int{courseID, userID}] = status
	return d
}

func (d *fakeDirectory) User(_ context.Context, userID int) (*model.User, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.users[userID], nil
}

func (d *fakeDirectory) CourseExists(_ context.Context, courseID int) (bool, error) {
	return d.courses[courseID], d.err
}

func (d *fakeDirectory) ModuleCourse(_ context.Context, moduleID int) (int, error) {
	return d.modules[moduleID], d.err
}

func (d *fakeDirectory) IsEnrolled(_ context.Context, courseID, userID int, onlyActive bool) (bool, error) {
	status, ok := d.enrolments[[2]int{courseID, userID}]
	if !ok {
		return false, d.err
	}
	if onlyActive && status != model.EnrolmentActive {
		return false, d.err
	}
	return true, d.err
}

// standardDirectory has users 42 and 43 enrolled in course 9, which holds
// modules 100 and 101. User 44 exists but is not enrolled.
func standardDirectory() *fakeDirectory {
	return newFakeDirectory().
		addUser(42, "Ada", "Lovelace", "x@y.com").
		addUser(43, "Alan", "Turing", "alan@example.com").
		addUser(44, "Grace", "Hopper", "grace@example.com").
		addCourse(9, 100, 101).
		addCourse(10, 200).
		enrol(9, 42, model.EnrolmentActive).
		enrol(9, 43, model.EnrolmentSuspended)
}

// recordingSink keeps every reported failure.
type recordingSink struct {
	mu       sync.Mutex
	failures []audit.Failure
}

func (s *recordingSink) Report(_ context.Context, f audit.Failure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, f)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.failures)
}

// newTestClient starts a vendor stub serving handler and returns a client
// pointed at it.
func newTestClient(t *testing.T, dir Directory, handler http.Handler) (*Client, *recordingSink) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	sink := &recordingSink{}
	c := New(Config{
		BaseURL:       srv.URL,
		PluginVersion: "2024010100",
		InstanceID:    "lms-test",
		AppID:         testAppID,
		APIKey:        testAPIKey,
		MaxRecursion:  5,
	}, Deps{
		Directory:  dir,
		Sink:       sink,
		HTTPClient: srv.Client(),
		Log:        zerolog.Nop(),
	})
	return c, sink
}

func writeJSON(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}
