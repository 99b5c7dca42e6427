package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/agpaii-digital/exam-portal/internal/examclient"
	"github.com/agpaii-digital/exam-portal/internal/middleware"
	"github.com/agpaii-digital/exam-portal/internal/model"
	"github.com/agpaii-digital/exam-portal/internal/response"
	"github.com/agpaii-digital/exam-portal/internal/service"
	"github.com/agpaii-digital/exam-portal/internal/validator"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const (
	// openWait bounds how long opening a fresh attempt waits for the first
	// question fetch before returning the loading view.
	openWait = 10 * time.Second

	maxIDLength         = 64
	defaultAttemptLogs  = 20
	maxAttemptLogsLimit = 100
)

// AttemptLogLister reads the member's finished attempts.
type AttemptLogLister interface {
	ListByMember(ctx context.Context, memberID int64, limit int) ([]model.AttemptLog, error)
}

// ExamPortalHandler serves the member CBT endpoints.
type ExamPortalHandler struct {
	packages    *service.PackageService
	sessions    *service.SessionManager
	attemptLogs AttemptLogLister
	log         zerolog.Logger
}

// NewExamPortalHandler creates an ExamPortalHandler. attemptLogs may be nil
// when no database is configured.
func NewExamPortalHandler(
	packages *service.PackageService,
	sessions *service.SessionManager,
	attemptLogs AttemptLogLister,
	log zerolog.Logger,
) *ExamPortalHandler {
	return &ExamPortalHandler{
		packages:    packages,
		sessions:    sessions,
		attemptLogs: attemptLogs,
		log:         log.With().Str("component", "exam_portal_handler").Logger(),
	}
}

// ResultPath is where the result of a finished attempt is served.
func ResultPath(attemptID string) string {
	return "/api/v1/member/cbt/exams/" + attemptID + "/result"
}

// ListPackages godoc
// GET /api/v1/member/cbt/packages?q=
func (h *ExamPortalHandler) ListPackages(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	packages, err := h.packages.ListPackages(c.Request.Context(), claims.MemberID, c.Query("q"))
	if err != nil {
		h.remoteFail(c, err, "List packages failed")
		return
	}
	if packages == nil {
		packages = []model.PackageListing{}
	}

	response.Success(c, http.StatusOK, gin.H{"packages": packages})
}

// StartAttempt godoc
// POST /api/v1/member/cbt/packages/:package_id/start
// Returns the running attempt of the package, or starts a new one.
func (h *ExamPortalHandler) StartAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	packageID, ok := pathID(c, "package_id")
	if !ok {
		return
	}

	ptr, resumed, err := h.packages.StartAttempt(c.Request.Context(), claims.MemberID, packageID)
	if err != nil {
		h.remoteFail(c, err, "Start attempt failed")
		return
	}

	status := http.StatusCreated
	if resumed {
		status = http.StatusOK
	}
	response.Success(c, status, gin.H{"attempt": ptr, "resumed": resumed})
}

// OpenExam godoc
// POST /api/v1/member/cbt/exams/:attempt_id/open
// Restores or initialises the session and returns its view.
func (h *ExamPortalHandler) OpenExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, ok := pathID(c, "attempt_id")
	if !ok {
		return
	}

	var req model.OpenSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	sess, err := h.sessions.Open(claims.MemberID, attemptID, req.PackageID)
	if errors.Is(err, service.ErrPackageMismatch) {
		response.Fail(c, http.StatusConflict, response.ErrPackageMismatch)
		return
	}
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	if sess.State() == model.SessionStateLoading {
		wait, cancel := context.WithTimeout(c.Request.Context(), openWait)
		select {
		case <-sess.Loaded():
		case <-wait.Done():
		}
		cancel()
	}

	response.Success(c, http.StatusOK, sess.View())
}

// GetExam godoc
// GET /api/v1/member/cbt/exams/:attempt_id
func (h *ExamPortalHandler) GetExam(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	response.Success(c, http.StatusOK, sess.View())
}

// RecordAnswer godoc
// PUT /api/v1/member/cbt/exams/:attempt_id/answers
func (h *ExamPortalHandler) RecordAnswer(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	var req model.RecordAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := sess.SelectAnswer(c.Request.Context(), req.QuestionID, req.Option); err != nil {
		h.sessionFail(c, sess, err)
		return
	}

	response.Success(c, http.StatusOK, sess.View())
}

// Navigate godoc
// POST /api/v1/member/cbt/exams/:attempt_id/navigate
func (h *ExamPortalHandler) Navigate(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	var req model.NavigateRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	view, err := sess.Navigate(req.Direction, req.Index)
	if err != nil {
		h.sessionFail(c, sess, err)
		return
	}

	response.Success(c, http.StatusOK, view)
}

// RefreshExam godoc
// POST /api/v1/member/cbt/exams/:attempt_id/refresh
// Refetches the question list and merges it into the session.
func (h *ExamPortalHandler) RefreshExam(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	if err := sess.Refresh(c.Request.Context()); err != nil {
		h.log.Warn().Err(err).Str("attempt_id", sess.AttemptID()).Msg("Refresh failed")
		response.FailWithData(c, http.StatusBadGateway, remoteCode(err), sess.View())
		return
	}

	response.Success(c, http.StatusOK, sess.View())
}

// SubmitExam godoc
// POST /api/v1/member/cbt/exams/:attempt_id/submit
// Syncs every answer and finishes the attempt. A finish failure leaves the
// session in progress so the member can retry.
func (h *ExamPortalHandler) SubmitExam(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	if err := sess.Submit(c.Request.Context(), model.SubmitReasonManual); err != nil {
		h.sessionFail(c, sess, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"view":        sess.View(),
		"result_path": ResultPath(sess.AttemptID()),
	})
}

// CloseExam godoc
// DELETE /api/v1/member/cbt/exams/:attempt_id
// Tears the live session down when the member leaves the page. The
// durable record is kept for the next open.
func (h *ExamPortalHandler) CloseExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, ok := pathID(c, "attempt_id")
	if !ok {
		return
	}

	if !h.sessions.Close(claims.MemberID, attemptID) {
		response.Fail(c, http.StatusNotFound, response.ErrSessionNotOpen)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"closed": true})
}

// GetResult godoc
// GET /api/v1/member/cbt/exams/:attempt_id/result
func (h *ExamPortalHandler) GetResult(c *gin.Context) {
	attemptID, ok := pathID(c, "attempt_id")
	if !ok {
		return
	}

	result, err := h.packages.Result(c.Request.Context(), attemptID)
	if err != nil {
		h.remoteFail(c, err, "Get result failed")
		return
	}
	if result == nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"result": result, "passed": result.Passed()})
}

// GetHistory godoc
// GET /api/v1/member/cbt/history
func (h *ExamPortalHandler) GetHistory(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	history, err := h.packages.History(c.Request.Context(), claims.MemberID)
	if err != nil {
		h.remoteFail(c, err, "Get history failed")
		return
	}
	if history == nil {
		history = []model.HistoryEntry{}
	}

	response.Success(c, http.StatusOK, gin.H{"history": history})
}

// GetAttemptLog godoc
// GET /api/v1/member/cbt/attempt-log?limit=
func (h *ExamPortalHandler) GetAttemptLog(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	if h.attemptLogs == nil {
		response.Fail(c, http.StatusServiceUnavailable, response.ErrAttemptLogOff)
		return
	}

	limit := defaultAttemptLogs
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation,
				map[string]string{"limit": "limit must be a positive number"})
			return
		}
		limit = min(n, maxAttemptLogsLimit)
	}

	logs, err := h.attemptLogs.ListByMember(c.Request.Context(), claims.MemberID, limit)
	if err != nil {
		h.log.Error().Err(err).Int64("member_id", claims.MemberID).Msg("List attempt logs failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	if logs == nil {
		logs = []model.AttemptLog{}
	}

	response.Success(c, http.StatusOK, gin.H{"logs": logs})
}

// ─── Helpers ────────────────────────────────────────────────────────

// session resolves the caller's live session for the attempt in the path.
func (h *ExamPortalHandler) session(c *gin.Context) (*service.ExamSession, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, false
	}

	attemptID, ok := pathID(c, "attempt_id")
	if !ok {
		return nil, false
	}

	sess, found := h.sessions.Get(claims.MemberID, attemptID)
	if !found {
		response.Fail(c, http.StatusNotFound, response.ErrSessionNotOpen)
		return nil, false
	}
	return sess, true
}

func pathID(c *gin.Context, name string) (string, bool) {
	id := c.Param(name)
	if id == "" || len(id) > maxIDLength {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return "", false
	}
	return id, true
}

// sessionFail maps session errors to responses. Finish failures carry the
// view so the client can show the retry state.
func (h *ExamPortalHandler) sessionFail(c *gin.Context, sess *service.ExamSession, err error) {
	status, code := sessionErrorCode(err)
	if status >= http.StatusInternalServerError {
		h.log.Warn().Err(err).Str("attempt_id", sess.AttemptID()).Msg("Session request failed")
	}
	if errors.Is(err, service.ErrFinishFailed) {
		response.FailWithData(c, status, code, sess.View())
		return
	}
	response.Fail(c, status, code)
}

func sessionErrorCode(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, service.ErrSessionNotReady):
		return http.StatusConflict, response.ErrSessionNotReady
	case errors.Is(err, service.ErrNotInProgress):
		return http.StatusConflict, response.ErrNotInProgress
	case errors.Is(err, service.ErrTimeUp):
		return http.StatusConflict, response.ErrTimeUp
	case errors.Is(err, service.ErrUnknownQuestion):
		return http.StatusBadRequest, response.ErrUnknownQuestion
	case errors.Is(err, service.ErrUnknownOption):
		return http.StatusBadRequest, response.ErrUnknownOption
	case errors.Is(err, service.ErrFinishFailed):
		return http.StatusBadGateway, response.ErrFinishFailed
	case errors.Is(err, service.ErrSessionClosed):
		return http.StatusNotFound, response.ErrSessionNotOpen
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, response.ErrRemoteUnavailable
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}

func (h *ExamPortalHandler) remoteFail(c *gin.Context, err error, msg string) {
	h.log.Warn().Err(err).Msg(msg)
	response.Fail(c, http.StatusBadGateway, remoteCode(err))
}

func remoteCode(err error) response.ErrCode {
	if errors.Is(err, examclient.ErrRemoteRejected) {
		return response.ErrRemoteRejected
	}
	return response.ErrRemoteUnavailable
}
