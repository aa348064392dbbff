// package testing contains shared testing utilities
package testing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/feedbridge/internal/repositories"
	"github.com/desertthunder/feedbridge/internal/services"
	"github.com/desertthunder/feedbridge/internal/shared"
)

// MockFeed is an in-memory [services.Feed] that records every call.
type MockFeed struct {
	mu sync.Mutex

	Tag      string
	Timeline []services.Entry
	Direct   []services.DirectMessage

	// Errors returned by the matching calls.
	TimelineErr error
	DirectErr   error
	GetErr      error
	WriteErr    error

	Calls           []string
	TimelineSinceID []int64
	DirectSinceID   []int64
	nextID          int64
}

// NewMockFeed creates a [MockFeed] whose Name is tag.
func NewMockFeed(tag string) *MockFeed {
	return &MockFeed{Tag: tag, nextID: 1000}
}

func (m *MockFeed) record(format string, args ...any) {
	m.Calls = append(m.Calls, fmt.Sprintf(format, args...))
}

// CallLog returns a copy of the recorded calls.
func (m *MockFeed) CallLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Calls...)
}

func (m *MockFeed) Post(ctx context.Context, text string) (*services.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("post:%s", text)
	if m.WriteErr != nil {
		return nil, m.WriteErr
	}
	m.nextID++
	return &services.Entry{ID: m.nextID, Text: text}, nil
}

func (m *MockFeed) Reply(ctx context.Context, text string, inReplyTo int64) (*services.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("reply:%d:%s", inReplyTo, text)
	if m.WriteErr != nil {
		return nil, m.WriteErr
	}
	m.nextID++
	return &services.Entry{ID: m.nextID, Text: text}, nil
}

func (m *MockFeed) Favorite(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("favorite:%d", id)
	return m.WriteErr
}

func (m *MockFeed) Retweet(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("retweet:%d", id)
	return m.WriteErr
}

func (m *MockFeed) Block(ctx context.Context, handle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("block:%s", handle)
	return m.WriteErr
}

func (m *MockFeed) ReportSpam(ctx context.Context, handle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("report:%s", handle)
	return m.WriteErr
}

// HomeTimeline returns the configured entries newer than sinceID in their configured order.
func (m *MockFeed) HomeTimeline(ctx context.Context, sinceID int64) ([]services.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TimelineSinceID = append(m.TimelineSinceID, sinceID)
	if m.TimelineErr != nil {
		return nil, m.TimelineErr
	}
	var out []services.Entry
	for _, e := range m.Timeline {
		if e.ID > sinceID {
			out = append(out, e)
		}
	}
	return out, nil
}

// DirectMessages returns the configured messages newer than sinceID in their configured order.
func (m *MockFeed) DirectMessages(ctx context.Context, sinceID int64) ([]services.DirectMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DirectSinceID = append(m.DirectSinceID, sinceID)
	if m.DirectErr != nil {
		return nil, m.DirectErr
	}
	var out []services.DirectMessage
	for _, d := range m.Direct {
		if d.ID > sinceID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *MockFeed) GetEntry(ctx context.Context, id int64) (*services.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("get:%d", id)
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	for _, e := range m.Timeline {
		if e.ID == id {
			return &e, nil
		}
	}
	return &services.Entry{ID: id}, nil
}

func (m *MockFeed) Name() string { return m.Tag }

// CoreEvent is one callback observed by [RecordingCore].
type CoreEvent struct {
	Kind    string // "room", "user" or "presence"
	Room    string
	Nick    string
	Body    string
	Stamp   time.Time
	Present bool
}

// Scheduled is one callback armed through [RecordingCore.Schedule].
type Scheduled struct {
	Delay time.Duration
	Fn    func(context.Context)
}

// RecordingCore records connector callbacks instead of sending stanzas.
type RecordingCore struct {
	mu        sync.Mutex
	Events    []CoreEvent
	Scheduled []Scheduled
}

func (r *RecordingCore) Schedule(delay time.Duration, fn func(context.Context)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Scheduled = append(r.Scheduled, Scheduled{Delay: delay, Fn: fn})
}

func (r *RecordingCore) SendRoomMessage(room, nick, body string, stamp time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, CoreEvent{Kind: "room", Room: room, Nick: nick, Body: body, Stamp: stamp})
}

func (r *RecordingCore) SendUserMessage(room, nick, body string, stamp time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, CoreEvent{Kind: "user", Room: room, Nick: nick, Body: body, Stamp: stamp})
}

func (r *RecordingCore) SendUserPresence(room, nick string, present bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, CoreEvent{Kind: "presence", Room: room, Nick: nick, Present: present})
}

// Filter returns the recorded events of one kind.
func (r *RecordingCore) Filter(kind string) []CoreEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []CoreEvent
	for _, e := range r.Events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Reset clears recorded events and scheduled callbacks.
func (r *RecordingCore) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = nil
	r.Scheduled = nil
}

// NewTestStore opens a migrated file-backed SQLite store and reconciles the given services.
func NewTestStore(t *testing.T, declared ...shared.ServiceConfig) *repositories.Store {
	t.Helper()

	db, err := shared.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := shared.RunMigrations(db, shared.DialectSQLite); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	store := repositories.NewStore(db, repositories.StoreOpts{Dialect: shared.DialectSQLite, Logger: shared.NewLogger(io.Discard)})
	if len(declared) > 0 {
		err := store.WithSession(context.Background(), func(s *repositories.Session) error {
			_, err := s.ReconcileServices(context.Background(), declared)
			return err
		})
		if err != nil {
			t.Fatalf("failed to reconcile services: %v", err)
		}
	}
	return store
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// MockRoundTripper allows custom HTTP responses for testing
type MockRoundTripper struct {
	response *http.Response
	err      error
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return m.response, m.err
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
