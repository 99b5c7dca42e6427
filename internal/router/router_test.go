package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agpaii-digital/exam-portal/internal/config"
	"github.com/agpaii-digital/exam-portal/internal/handler"
	"github.com/agpaii-digital/exam-portal/internal/model"
	"github.com/agpaii-digital/exam-portal/internal/repository"
	"github.com/agpaii-digital/exam-portal/internal/service"
	"github.com/agpaii-digital/exam-portal/internal/validator"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	validator.Setup()
	os.Exit(m.Run())
}

// fakeExamAPI serves both the session and the catalog side of the exam service.
type fakeExamAPI struct {
	mu        sync.Mutex
	finishErr error
	answers   []string
}

func (f *fakeExamAPI) FetchAttempt(_ context.Context, attemptID string) (*model.AttemptPaper, error) {
	return &model.AttemptPaper{
		PackageID:       "P9",
		DurationSeconds: 600,
		Questions: []model.Question{
			{ID: 2, PromptHTML: "<p>Dua</p>", Options: map[string]string{"A": "a", "B": "b", "C": "c", "D": "d"}},
			{ID: 1, PromptHTML: "<p>Satu</p>", Options: map[string]string{"A": "a", "B": "b", "C": "c", "D": "d"}},
		},
	}, nil
}

func (f *fakeExamAPI) RecordAnswer(_ context.Context, _ string, id model.QuestionID, answer string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, answer)
	return nil
}

func (f *fakeExamAPI) Finish(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finishErr
}

func (f *fakeExamAPI) setFinishErr(err error) {
	f.mu.Lock()
	f.finishErr = err
	f.mu.Unlock()
}

func (f *fakeExamAPI) ListPackages(context.Context) ([]model.ExamPackage, error) {
	return []model.ExamPackage{
		{ID: "P9", Title: "Tryout PPPK"},
		{ID: "P7", Title: "Latihan Pedagogik"},
	}, nil
}

func (f *fakeExamAPI) StartAttempt(context.Context, string, int64) (string, error) {
	return "A1", nil
}

func (f *fakeExamAPI) Result(context.Context, string) (*model.AttemptResult, error) {
	return &model.AttemptResult{Package: "Tryout PPPK", Score: 80, PassScore: 65, Correct: 8, Total: 10}, nil
}

func (f *fakeExamAPI) History(context.Context, int64) ([]model.HistoryEntry, error) {
	return nil, nil
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code   string            `json:"code"`
		Fields map[string]string `json:"fields"`
	} `json:"error"`
}

type testServer struct {
	t      *testing.T
	engine *gin.Engine
	api    *fakeExamAPI
	token  string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := &config.Config{
		GinMode:            gin.TestMode,
		JWTSecret:          "test-secret",
		JWTExpiry:          time.Hour,
		RateLimitPerMinute: 1000,
	}
	log := zerolog.Nop()
	api := &fakeExamAPI{}
	store := repository.NewMemoryStore()

	gateway := service.NewAnswerSyncGateway(api, 4, time.Second, log)
	sessions := service.NewSessionManager(service.SessionManagerConfig{
		Store:   store,
		Content: api,
		Sync:    gateway,
		Log:     log,
	})
	packages := service.NewPackageService(api, store, service.MemberKeyScope, nil, log)
	auth := service.NewAuthService(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		sessions.Shutdown()
		gateway.Wait()
		cancel()
	})

	engine := SetupRouter(ctx, auth, &Handlers{
		Auth:   handler.NewAuthHandler(),
		Exam:   handler.NewExamPortalHandler(packages, sessions, nil, log),
		WS:     handler.NewWSHandler(sessions, log, nil),
		System: handler.NewSystemHandler(nil, sessions, log),
	}, cfg)

	token, err := auth.GenerateMemberToken(7, "Ani")
	require.NoError(t, err)

	return &testServer{t: t, engine: engine, api: api, token: token}
}

func (s *testServer) do(method, path string, body interface{}) (int, envelope) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	var env envelope
	require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func (s *testServer) open(t *testing.T) model.SessionView {
	t.Helper()
	code, env := s.do(http.MethodPost, "/api/v1/member/cbt/exams/A1/open", gin.H{"package_id": "P9"})
	require.Equal(t, http.StatusOK, code)
	var view model.SessionView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	return view
}

func TestRouter_Health(t *testing.T) {
	s := newTestServer(t)
	s.token = ""
	code, env := s.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"status":"ok"`)
}

func TestRouter_RequiresToken(t *testing.T) {
	s := newTestServer(t)
	s.token = ""
	code, env := s.do(http.MethodGet, "/api/v1/member/cbt/packages", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "TOKEN_REQUIRED", env.Error.Code)

	s.token = "garbage"
	code, env = s.do(http.MethodGet, "/api/v1/member/cbt/packages", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "TOKEN_INVALID", env.Error.Code)
}

func TestRouter_PackagesStartThenContinue(t *testing.T) {
	s := newTestServer(t)

	code, _ := s.do(http.MethodPost, "/api/v1/member/cbt/packages/P9/start", nil)
	assert.Equal(t, http.StatusCreated, code)

	code, env := s.do(http.MethodPost, "/api/v1/member/cbt/packages/P9/start", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"resumed":true`)

	code, env = s.do(http.MethodGet, "/api/v1/member/cbt/packages?q=pppk", nil)
	require.Equal(t, http.StatusOK, code)
	var body struct {
		Packages []model.PackageListing `json:"packages"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &body))
	require.Len(t, body.Packages, 1)
	assert.Equal(t, model.PackageActionContinue, body.Packages[0].Action)
	assert.Equal(t, "A1", body.Packages[0].AttemptID)
}

func TestRouter_OpenAnswerSubmit(t *testing.T) {
	s := newTestServer(t)

	view := s.open(t)
	assert.Equal(t, model.SessionStateInProgress, view.State)
	assert.Equal(t, 2, view.QuestionCount)
	require.NotNil(t, view.Question)
	assert.Equal(t, model.QuestionID(1), view.Question.ID)
	assert.InDelta(t, 600, view.RemainingSeconds, 1)

	code, env := s.do(http.MethodPut, "/api/v1/member/cbt/exams/A1/answers", gin.H{"question_id": 1, "option": "B"})
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, 1, view.AnsweredCount)
	assert.Equal(t, "B", view.Question.Selected)

	code, env = s.do(http.MethodPost, "/api/v1/member/cbt/exams/A1/navigate", gin.H{"direction": "next"})
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, 1, view.CurrentIndex)

	code, env = s.do(http.MethodPost, "/api/v1/member/cbt/exams/A1/submit", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"result_path":"/api/v1/member/cbt/exams/A1/result"`)

	code, env = s.do(http.MethodGet, "/api/v1/member/cbt/exams/A1", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "SESSION_NOT_OPEN", env.Error.Code)

	code, env = s.do(http.MethodGet, "/api/v1/member/cbt/exams/A1/result", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"passed":true`)
}

func TestRouter_SubmitFinishFailureIsRetryable(t *testing.T) {
	s := newTestServer(t)
	s.open(t)
	s.api.setFinishErr(errors.New("upstream down"))

	code, env := s.do(http.MethodPost, "/api/v1/member/cbt/exams/A1/submit", nil)
	require.Equal(t, http.StatusBadGateway, code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "FINISH_FAILED", env.Error.Code)

	var view model.SessionView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, model.SessionStateInProgress, view.State)
	assert.NotEmpty(t, view.LastError)

	s.api.setFinishErr(nil)
	code, _ = s.do(http.MethodPost, "/api/v1/member/cbt/exams/A1/submit", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestRouter_AnswerValidation(t *testing.T) {
	s := newTestServer(t)
	s.open(t)

	code, env := s.do(http.MethodPut, "/api/v1/member/cbt/exams/A1/answers", gin.H{"question_id": 1, "option": "!!"})
	assert.Equal(t, http.StatusBadRequest, code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
	assert.Contains(t, env.Error.Fields, "option")

	code, env = s.do(http.MethodPut, "/api/v1/member/cbt/exams/A1/answers", gin.H{"question_id": 1, "option": "E"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "UNKNOWN_OPTION", env.Error.Code)

	code, env = s.do(http.MethodPut, "/api/v1/member/cbt/exams/A1/answers", gin.H{"question_id": 99, "option": "A"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "UNKNOWN_QUESTION", env.Error.Code)

	code, env = s.do(http.MethodPost, "/api/v1/member/cbt/exams/A1/navigate", gin.H{"direction": "sideways"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
}

func TestRouter_OpenWithOtherPackageConflicts(t *testing.T) {
	s := newTestServer(t)
	s.open(t)

	code, env := s.do(http.MethodPost, "/api/v1/member/cbt/exams/A1/open", gin.H{"package_id": "P7"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "PACKAGE_MISMATCH", env.Error.Code)
}

func TestRouter_ReopenUnderOtherPackageConflicts(t *testing.T) {
	s := newTestServer(t)
	s.open(t)
	code, _ := s.do(http.MethodDelete, "/api/v1/member/cbt/exams/A1", nil)
	require.Equal(t, http.StatusOK, code)

	code, env := s.do(http.MethodPost, "/api/v1/member/cbt/exams/A1/open", gin.H{"package_id": "P5"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "PACKAGE_MISMATCH", env.Error.Code)

	code, env = s.do(http.MethodGet, "/api/v1/member/cbt/exams/A1", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "SESSION_NOT_OPEN", env.Error.Code)

	view := s.open(t)
	assert.Equal(t, model.SessionStateInProgress, view.State)
}

func TestRouter_CloseKeepsRecord(t *testing.T) {
	s := newTestServer(t)
	s.open(t)
	s.do(http.MethodPut, "/api/v1/member/cbt/exams/A1/answers", gin.H{"question_id": 1, "option": "C"})

	code, _ := s.do(http.MethodDelete, "/api/v1/member/cbt/exams/A1", nil)
	require.Equal(t, http.StatusOK, code)

	code, env := s.do(http.MethodDelete, "/api/v1/member/cbt/exams/A1", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "SESSION_NOT_OPEN", env.Error.Code)

	view := s.open(t)
	assert.Equal(t, 1, view.AnsweredCount)
	assert.Equal(t, "C", view.Answers[1])
}

func TestRouter_AttemptLogDisabled(t *testing.T) {
	s := newTestServer(t)
	code, env := s.do(http.MethodGet, "/api/v1/member/cbt/attempt-log", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "ATTEMPT_LOG_DISABLED", env.Error.Code)
}

func TestRouter_UnknownQuestionJump(t *testing.T) {
	s := newTestServer(t)
	s.open(t)
	code, env := s.do(http.MethodPost, "/api/v1/member/cbt/exams/A1/navigate", gin.H{"direction": "jump", "index": 5})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "UNKNOWN_QUESTION", env.Error.Code)
}

func readEvent(t *testing.T, conn *websocket.Conn, event string) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg map[string]interface{}
		require.NoError(t, conn.ReadJSON(&msg))
		if msg["event"] == event {
			return msg
		}
	}
}

func TestRouter_WebSocketStream(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.engine)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/v1/member/cbt/exams/A1/stream?token=" + s.token

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err, "stream requires an open session")
	if resp != nil {
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		resp.Body.Close()
	}

	s.open(t)
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	resp.Body.Close()
	defer conn.Close()

	first := readEvent(t, conn, "view")
	view := first["view"].(map[string]interface{})
	assert.Equal(t, "IN_PROGRESS", view["state"])

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"action": "ping"}))
	readEvent(t, conn, "pong")

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"action": "answer", "question_id": 1, "option": "zz!"}))
	bad := readEvent(t, conn, "error")
	assert.Equal(t, "VALIDATION_ERROR", bad["code"])

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"action": "answer", "question_id": 1, "option": "D"}))
	answered := readEvent(t, conn, "view")
	assert.EqualValues(t, 1, answered["view"].(map[string]interface{})["answered_count"])

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"action": "submit"}))
	done := readEvent(t, conn, "completed")
	assert.Equal(t, "A1", done["attempt_id"])
	assert.Equal(t, "/api/v1/member/cbt/exams/A1/result", done["result_path"])
}
