package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/agpaii-digital/exam-portal/internal/middleware"
	"github.com/agpaii-digital/exam-portal/internal/model"
	"github.com/agpaii-digital/exam-portal/internal/response"
	"github.com/agpaii-digital/exam-portal/internal/service"
	"github.com/agpaii-digital/exam-portal/internal/validator"
	ws "github.com/agpaii-digital/exam-portal/internal/websocket"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams a live exam session over a WebSocket.
type WSHandler struct {
	sessions *service.SessionManager
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessions *service.SessionManager, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessions: sessions,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// ExamWebSocketStream godoc
// WS /ws/v1/member/cbt/exams/:attempt_id/stream?token=
// Pushes countdown ticks and state changes, and accepts answer, navigate,
// submit and ping actions. The session must be opened first.
func (h *WSHandler) ExamWebSocketStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, ok := pathID(c, "attempt_id")
	if !ok {
		return
	}

	sess, found := h.sessions.Get(claims.MemberID, attemptID)
	if !found {
		response.Fail(c, http.StatusNotFound, response.ErrSessionNotOpen)
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.NewConn(raw)
	defer conn.Close()

	wsLog := h.log.With().
		Int64("member_id", claims.MemberID).
		Str("attempt_id", attemptID).
		Logger()
	wsLog.Info().Msg("Member connected")

	events, unsubscribe := sess.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = conn.WriteTyped(ws.ViewResponse{Event: ws.EventView, View: sess.View()})
	go h.pump(ctx, conn, events, cancel)

	for {
		var msg ws.RequestPayload
		if err := conn.ReadJSON(&msg); err != nil {
			if ws.IsUnexpectedClose(err) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		switch msg.Action {
		case ws.ActionAnswer:
			h.handleAnswer(ctx, conn, sess, msg)
		case ws.ActionNavigate:
			h.handleNavigate(conn, sess, msg)
		case ws.ActionSubmit:
			h.handleSubmit(ctx, conn, wsLog, sess)
		case ws.ActionPing:
			_ = conn.WriteTyped(ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			_ = conn.WriteError(string(response.ErrInvalidPayload), "unknown action: "+string(msg.Action), nil)
		}
	}
}

// pump forwards session events until the session closes or the client
// goes away. A completed event ends the stream. Closing the connection
// unblocks the reader.
func (h *WSHandler) pump(ctx context.Context, conn *ws.Conn, events <-chan service.SessionEvent, cancel context.CancelFunc) {
	defer func() {
		cancel()
		_ = conn.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteTyped(eventPayload(ev)); err != nil {
				return
			}
			if ev.Type == service.SessionEventCompleted {
				return
			}
		}
	}
}

func eventPayload(ev service.SessionEvent) interface{} {
	switch ev.Type {
	case service.SessionEventTick:
		return ws.TickResponse{Event: ws.EventTick, RemainingSeconds: ev.RemainingSeconds}
	case service.SessionEventCompleted:
		return ws.CompletedResponse{
			Event:      ws.EventCompleted,
			AttemptID:  ev.AttemptID,
			ResultPath: ResultPath(ev.AttemptID),
		}
	default:
		return ws.StateResponse{Event: ws.EventState, State: ev.State, Error: ev.Error}
	}
}

func (h *WSHandler) handleAnswer(ctx context.Context, conn *ws.Conn, sess *service.ExamSession, msg ws.RequestPayload) {
	req := msg.AnswerRequest()
	if fields := validator.Struct(&req); fields != nil {
		_ = conn.WriteError(string(response.ErrValidation), response.GetMessage(response.ErrValidation), fields)
		return
	}
	if err := sess.SelectAnswer(ctx, req.QuestionID, req.Option); err != nil {
		writeSessionError(conn, err)
		return
	}
	_ = conn.WriteTyped(ws.ViewResponse{Event: ws.EventView, View: sess.View()})
}

func (h *WSHandler) handleNavigate(conn *ws.Conn, sess *service.ExamSession, msg ws.RequestPayload) {
	req := msg.NavigateRequest()
	if fields := validator.Struct(&req); fields != nil {
		_ = conn.WriteError(string(response.ErrValidation), response.GetMessage(response.ErrValidation), fields)
		return
	}
	view, err := sess.Navigate(req.Direction, req.Index)
	if err != nil {
		writeSessionError(conn, err)
		return
	}
	_ = conn.WriteTyped(ws.ViewResponse{Event: ws.EventView, View: view})
}

// handleSubmit runs the submission in the background so ticks and pings
// keep flowing. Completion is announced by the session event.
func (h *WSHandler) handleSubmit(ctx context.Context, conn *ws.Conn, wsLog zerolog.Logger, sess *service.ExamSession) {
	go func() {
		err := sess.Submit(ctx, model.SubmitReasonManual)
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		wsLog.Warn().Err(err).Msg("Submit failed")
		writeSessionError(conn, err)
	}()
}

func writeSessionError(conn *ws.Conn, err error) {
	_, code := sessionErrorCode(err)
	_ = conn.WriteError(string(code), response.GetMessage(code), nil)
}
