package service

import (
	"context"
	"errors"
	"sync"

	"github.com/agpaii-digital/exam-portal/internal/countdown"
	"github.com/agpaii-digital/exam-portal/internal/repository"
	"github.com/rs/zerolog"
)

// ErrPackageMismatch is returned when an attempt is opened under a package
// it does not belong to.
var ErrPackageMismatch = errors.New("attempt belongs to a different package")

type sessionKey struct {
	memberID  int64
	attemptID string
}

// SessionManagerConfig wires a SessionManager.
type SessionManagerConfig struct {
	Store     repository.KeyValueStore
	Content   ExamContent
	Sync      *AnswerSyncGateway
	Recorder  CompletionRecorder
	Scope     KeyScope
	Clock     Clock
	Countdown []countdown.Option
	Log       zerolog.Logger
}

// SessionManager keeps the live ExamSession of every member and attempt.
// A single manager is the only writer of the records it serves.
type SessionManager struct {
	cfg    SessionManagerConfig
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[sessionKey]*ExamSession
}

// NewSessionManager creates a SessionManager.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	if cfg.Scope == nil {
		cfg.Scope = MemberKeyScope
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SessionManager{
		cfg:      cfg,
		log:      cfg.Log.With().Str("component", "session_manager").Logger(),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[sessionKey]*ExamSession),
	}
}

// Open returns the live session for the attempt, starting one if needed.
// When packageID is set and the attempt is known to belong to another
// package, Open returns ErrPackageMismatch and leaves no new session behind.
func (m *SessionManager) Open(memberID int64, attemptID, packageID string) (*ExamSession, error) {
	key := sessionKey{memberID: memberID, attemptID: attemptID}

	m.mu.Lock()
	if sess, ok := m.sessions[key]; ok {
		m.mu.Unlock()
		if !belongsTo(sess, packageID) {
			return nil, ErrPackageMismatch
		}
		return sess, nil
	}

	store := NewSessionStore(
		m.cfg.Store,
		m.cfg.Scope(memberID),
		m.cfg.Content,
		m.cfg.Clock,
		m.cfg.Log,
		attemptID,
		packageID,
	)
	sess := NewExamSession(m.ctx, memberID, store, ExamSessionDeps{
		Sync:        m.cfg.Sync,
		Recorder:    m.cfg.Recorder,
		Clock:       m.cfg.Clock,
		Countdown:   m.cfg.Countdown,
		Log:         m.cfg.Log,
		OnCompleted: func(s *ExamSession) { m.remove(key, s) },
	})
	m.sessions[key] = sess
	m.mu.Unlock()

	m.log.Debug().Int64("member_id", memberID).Str("attempt_id", attemptID).Msg("Session opened")
	sess.Start()

	if !belongsTo(sess, packageID) {
		m.log.Warn().
			Int64("member_id", memberID).
			Str("attempt_id", attemptID).
			Str("package_id", sess.PackageID()).
			Str("requested_package_id", packageID).
			Msg("Session refused, package mismatch")
		m.remove(key, sess)
		return nil, ErrPackageMismatch
	}
	return sess, nil
}

func belongsTo(sess *ExamSession, packageID string) bool {
	pkg := sess.PackageID()
	return packageID == "" || pkg == "" || pkg == packageID
}

// Get returns the live session for the attempt.
func (m *SessionManager) Get(memberID int64, attemptID string) (*ExamSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionKey{memberID: memberID, attemptID: attemptID}]
	return sess, ok
}

// Close tears down the live session for the attempt, if any. The durable
// record stays so the attempt can be resumed.
func (m *SessionManager) Close(memberID int64, attemptID string) bool {
	key := sessionKey{memberID: memberID, attemptID: attemptID}
	m.mu.Lock()
	sess, ok := m.sessions[key]
	delete(m.sessions, key)
	m.mu.Unlock()

	if ok {
		sess.Close()
	}
	return ok
}

// Len returns the number of live sessions.
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown closes every live session.
func (m *SessionManager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*ExamSession, 0, len(m.sessions))
	for k, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, k)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	m.cancel()
	m.log.Info().Int("sessions", len(sessions)).Msg("Session manager stopped")
}

// remove drops a completed session. Its view stays readable by callers that
// still hold it.
func (m *SessionManager) remove(key sessionKey, sess *ExamSession) {
	m.mu.Lock()
	if cur, ok := m.sessions[key]; ok && cur == sess {
		delete(m.sessions, key)
	}
	m.mu.Unlock()
	sess.Close()
}
