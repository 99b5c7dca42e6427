package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agpaii-digital/exam-portal/internal/config"
	"github.com/agpaii-digital/exam-portal/internal/countdown"
	"github.com/agpaii-digital/exam-portal/internal/examclient"
	"github.com/agpaii-digital/exam-portal/internal/model"
	"github.com/agpaii-digital/exam-portal/internal/repository"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeExamService is an in-process exam-content service.
type fakeExamService struct {
	mu           sync.Mutex
	questions    []model.Question
	durasi       int
	fetchStatus  int
	answerStatus int
	finishStatus int
	fetchGate    chan struct{}
	finishGate   chan struct{}
	calls        []string
	fetches      int

	finishStarted chan struct{}
	finishOnce    sync.Once

	srv *httptest.Server
}

func newFakeExamService(t *testing.T, durasi int, qs ...model.Question) *fakeExamService {
	t.Helper()
	f := &fakeExamService{
		questions:     qs,
		durasi:        durasi,
		fetchStatus:   http.StatusOK,
		answerStatus:  http.StatusOK,
		finishStatus:  http.StatusOK,
		finishStarted: make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/cbt/latihan/{id}", f.handleFetch)
	mux.HandleFunc("POST /api/cbt/latihan/{id}/jawab", f.handleAnswer)
	mux.HandleFunc("POST /api/cbt/latihan/{id}/selesai", f.handleFinish)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeExamService) client() *examclient.Client {
	return examclient.New(examclient.Config{BaseURL: f.srv.URL, Token: "test"}, zerolog.Nop())
}

func (f *fakeExamService) handleFetch(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	gate := f.fetchGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	f.fetches++
	status := f.fetchStatus
	body := map[string]any{
		"success":  true,
		"durasi":   f.durasi,
		"paket_id": "P9",
		"soal":     f.questions,
	}
	f.mu.Unlock()

	w.WriteHeader(status)
	if status != http.StatusOK {
		_, _ = w.Write([]byte(`{"success":false,"message":"unavailable"}`))
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

func (f *fakeExamService) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SoalID  int64  `json:"soal_id"`
		Jawaban string `json:"jawaban"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	f.calls = append(f.calls, fmt.Sprintf("answer:%d:%s", body.SoalID, body.Jawaban))
	status := f.answerStatus
	f.mu.Unlock()

	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"success":true}`))
}

func (f *fakeExamService) handleFinish(w http.ResponseWriter, r *http.Request) {
	f.finishOnce.Do(func() { close(f.finishStarted) })

	f.mu.Lock()
	gate := f.finishGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	f.calls = append(f.calls, "finish")
	status := f.finishStatus
	f.mu.Unlock()

	w.WriteHeader(status)
	if status != http.StatusOK {
		_, _ = w.Write([]byte(`{"success":false,"message":"gagal"}`))
		return
	}
	_, _ = w.Write([]byte(`{"success":true}`))
}

func (f *fakeExamService) set(fn func(f *fakeExamService)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeExamService) snapshotCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeExamService) count(prefix string) int {
	n := 0
	for _, c := range f.snapshotCalls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingRecorder struct {
	mu   sync.Mutex
	seen []model.AttemptCompletion
}

func (r *recordingRecorder) Record(_ context.Context, c model.AttemptCompletion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, c)
	return nil
}

func (r *recordingRecorder) completions() []model.AttemptCompletion {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.AttemptCompletion(nil), r.seen...)
}

// harness wires a session manager against the fake service with exact
// (unprefixed) keys, a fake clock and a manual countdown tick channel.
type harness struct {
	t        *testing.T
	fake     *fakeExamService
	store    *repository.MemoryStore
	clock    *testClock
	ticks    chan time.Time
	ticked   chan int64
	gateway  *AnswerSyncGateway
	recorder *recordingRecorder
	manager  *SessionManager
	keys     config.SessionKeys
}

func newHarness(t *testing.T, fake *fakeExamService) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		fake:     fake,
		store:    repository.NewMemoryStore(),
		clock:    newTestClock(),
		ticks:    make(chan time.Time),
		ticked:   make(chan int64, 64),
		recorder: &recordingRecorder{},
		keys:     config.NewSessionKeys(),
	}
	h.gateway = NewAnswerSyncGateway(fake.client(), 4, 2*time.Second, zerolog.Nop())
	h.manager = NewSessionManager(SessionManagerConfig{
		Store:    h.store,
		Content:  fake.client(),
		Sync:     h.gateway,
		Recorder: h.recorder,
		Scope:    SharedKeyScope,
		Clock:    h.clock.Now,
		Countdown: []countdown.Option{
			countdown.WithClock(h.clock.Now),
			countdown.WithTickSource(func(time.Duration) (<-chan time.Time, func()) {
				return h.ticks, func() {}
			}),
			countdown.WithOnTick(func(rem int64) {
				select {
				case h.ticked <- rem:
				default:
				}
			}),
		},
		Log: zerolog.Nop(),
	})
	t.Cleanup(h.manager.Shutdown)
	return h
}

func (h *harness) newStore(attemptID, packageID string) *SessionStore {
	return NewSessionStore(h.store, h.keys, h.fake.client(), h.clock.Now, zerolog.Nop(), attemptID, packageID)
}

// open opens a session and waits for its initial fetch.
func (h *harness) open(attemptID, packageID string) *ExamSession {
	h.t.Helper()
	sess, err := h.manager.Open(1, attemptID, packageID)
	require.NoError(h.t, err)
	waitClosed(h.t, sess.Loaded())
	return sess
}

// tick advances the clock, delivers one countdown tick and waits until the
// session has seen it.
func (h *harness) tick(d time.Duration) {
	h.t.Helper()
	for drained := false; !drained; {
		select {
		case <-h.ticked:
		default:
			drained = true
		}
	}
	h.clock.Advance(d)
	select {
	case h.ticks <- h.clock.Now():
	case <-time.After(2 * time.Second):
		h.t.Fatal("countdown did not take the tick")
	}
	select {
	case <-h.ticked:
	case <-time.After(2 * time.Second):
		h.t.Fatal("countdown did not apply the tick")
	}
}

func (h *harness) record(attemptID string) []byte {
	h.t.Helper()
	raw, err := h.store.Get(context.Background(), h.keys.ExamSessionKey(attemptID))
	require.NoError(h.t, err)
	return raw
}

func (h *harness) hasRecord(attemptID string) bool {
	_, err := h.store.Get(context.Background(), h.keys.ExamSessionKey(attemptID))
	return err == nil
}

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out")
	}
}

func waitErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("timed out")
		return nil
	}
}

func q(id int64, opts ...string) model.Question {
	m := make(map[string]string)
	keys := []string{"A", "B", "C", "D", "E"}
	for i, o := range opts {
		m[keys[i]] = o
	}
	return model.Question{ID: model.QuestionID(id), PromptHTML: fmt.Sprintf("<p>Soal %d</p>", id), Options: m}
}
