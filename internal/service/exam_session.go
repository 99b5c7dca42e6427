package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agpaii-digital/exam-portal/internal/countdown"
	"github.com/agpaii-digital/exam-portal/internal/model"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Exam session errors.
var (
	ErrNotInProgress   = errors.New("exam session is not in progress")
	ErrUnknownQuestion = errors.New("question is not part of this attempt")
	ErrUnknownOption   = errors.New("option is not available for this question")
	ErrFinishFailed    = errors.New("attempt could not be finished, answers are kept for retry")
	ErrSessionClosed   = errors.New("exam session is closed")
	ErrTimeUp          = errors.New("time is up, the attempt can only be submitted")
)

const finishFailedMessage = "Pengumpulan gagal, silakan coba lagi"

// ExamSessionDeps are the collaborators of an ExamSession.
type ExamSessionDeps struct {
	Sync      *AnswerSyncGateway
	Recorder  CompletionRecorder
	Clock     Clock
	Countdown []countdown.Option
	Log       zerolog.Logger
	// OnCompleted runs once, after the attempt finished and its durable
	// state was cleared.
	OnCompleted func(*ExamSession)
}

// ExamSession drives one attempt through
// LOADING -> IN_PROGRESS -> (EXPIRED) -> SUBMITTING -> COMPLETED.
type ExamSession struct {
	memberID    int64
	store       *SessionStore
	sync        *AnswerSyncGateway
	recorder    CompletionRecorder
	now         Clock
	cdOpts      []countdown.Option
	log         zerolog.Logger
	onCompleted func(*ExamSession)

	ctx    context.Context
	cancel context.CancelFunc
	flight singleflight.Group
	events *broadcaster
	loaded chan struct{}

	mu      sync.Mutex
	state   model.SessionState
	current int
	lastErr string
	timer   *countdown.Countdown
	closed  bool
}

// NewExamSession creates a session in LOADING. Call Start to restore it.
func NewExamSession(parent context.Context, memberID int64, store *SessionStore, deps ExamSessionDeps) *ExamSession {
	ctx, cancel := context.WithCancel(parent)
	recorder := deps.Recorder
	if recorder == nil {
		recorder = NewLogCompletionRecorder(deps.Log)
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	return &ExamSession{
		memberID:    memberID,
		store:       store,
		sync:        deps.Sync,
		recorder:    recorder,
		now:         now,
		cdOpts:      deps.Countdown,
		onCompleted: deps.OnCompleted,
		log: deps.Log.With().
			Str("component", "exam_session").
			Str("attempt_id", store.AttemptID()).
			Int64("member_id", memberID).
			Logger(),
		ctx:    ctx,
		cancel: cancel,
		events: newBroadcaster(),
		loaded: make(chan struct{}),
		state:  model.SessionStateLoading,
	}
}

// Start restores the durable record and kicks off the background fetch. A
// restored record with questions puts the session in progress right away.
func (s *ExamSession) Start() {
	done := s.store.RestoreOrInit(s.ctx)
	s.activate()

	go func() {
		defer close(s.loaded)
		if err := <-done; err != nil && !s.store.Ready() {
			s.mu.Lock()
			s.lastErr = "Soal belum dapat dimuat"
			s.mu.Unlock()
			s.publishState()
		}
		s.activate()
	}()
}

// Loaded is closed once the initial fetch settled.
func (s *ExamSession) Loaded() <-chan struct{} {
	return s.loaded
}

// activate moves a ready session out of LOADING and starts its countdown,
// or re-supplies the recomputed remaining time to a running countdown.
func (s *ExamSession) activate() {
	snap := s.store.Snapshot()
	if snap == nil || len(snap.Questions) == 0 {
		return
	}
	remaining := snap.RemainingSeconds(s.now())

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.current = clampIndex(s.current, len(snap.Questions))

	switch s.state {
	case model.SessionStateLoading:
		s.state = model.SessionStateInProgress
		s.lastErr = ""
		opts := append([]countdown.Option{countdown.WithOnTick(s.onTick)}, s.cdOpts...)
		s.timer = countdown.New(remaining, s.onExpire, opts...)
		timer := s.timer
		s.mu.Unlock()

		s.log.Info().Int64("remaining_seconds", remaining).Msg("Exam session in progress")
		s.publishState()
		timer.Start()
	case model.SessionStateInProgress:
		timer := s.timer
		s.mu.Unlock()
		timer.Reset(remaining)
	default:
		s.mu.Unlock()
	}
}

func (s *ExamSession) onTick(remaining int64) {
	s.events.publish(SessionEvent{Type: SessionEventTick, RemainingSeconds: remaining})
}

func (s *ExamSession) onExpire() {
	s.mu.Lock()
	if s.closed || s.state != model.SessionStateInProgress {
		s.mu.Unlock()
		return
	}
	s.state = model.SessionStateExpired
	s.mu.Unlock()

	s.log.Info().Msg("Time is up, submitting attempt")
	s.publishState()

	go func() {
		if err := s.Submit(s.ctx, model.SubmitReasonExpired); err != nil {
			s.log.Error().Err(err).Msg("Automatic submission failed")
		}
	}()
}

// SelectAnswer records option for questionID.
func (s *ExamSession) SelectAnswer(ctx context.Context, questionID model.QuestionID, option string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != model.SessionStateInProgress {
		return ErrNotInProgress
	}
	// A failed finish after expiry returns to IN_PROGRESS for the retry only.
	if s.timer != nil && s.timer.Expired() {
		return ErrTimeUp
	}
	snap := s.store.Snapshot()
	if snap == nil {
		return ErrSessionNotReady
	}
	q, ok := snap.Question(questionID)
	if !ok {
		return ErrUnknownQuestion
	}
	if !q.HasOption(option) {
		return ErrUnknownOption
	}

	if err := s.store.RecordAnswer(ctx, questionID, option); err != nil {
		if errors.Is(err, ErrSessionNotReady) {
			return err
		}
		s.log.Warn().Err(err).Int64("question_id", int64(questionID)).Msg("Answer kept in memory only")
	}
	return nil
}

// Navigate moves to another question and syncs the answer of the question
// being left in the background. Moving past either end stays in place but
// still syncs.
func (s *ExamSession) Navigate(direction model.NavigateDirection, index int) (model.SessionView, error) {
	s.mu.Lock()
	if s.state != model.SessionStateInProgress {
		s.mu.Unlock()
		return model.SessionView{}, ErrNotInProgress
	}
	snap := s.store.Snapshot()
	if snap == nil || len(snap.Questions) == 0 {
		s.mu.Unlock()
		return model.SessionView{}, ErrSessionNotReady
	}

	n := len(snap.Questions)
	cur := clampIndex(s.current, n)
	target := cur
	switch direction {
	case model.NavigateNext:
		if cur < n-1 {
			target++
		}
	case model.NavigatePrev:
		if cur > 0 {
			target--
		}
	case model.NavigateJump:
		if index < 0 || index >= n {
			s.mu.Unlock()
			return model.SessionView{}, ErrUnknownQuestion
		}
		target = index
	default:
		s.mu.Unlock()
		return model.SessionView{}, fmt.Errorf("unknown direction %q", direction)
	}
	s.current = target
	s.mu.Unlock()

	left := snap.Questions[cur]
	s.sync.SyncOne(s.ctx, model.AnswerSyncTask{
		Kind:       model.SyncKindAnswer,
		AttemptID:  snap.AttemptID,
		QuestionID: left.ID,
		Answer:     snap.Answers[left.ID],
	})

	return s.View(), nil
}

// Refresh refetches the question list and merges it.
func (s *ExamSession) Refresh(ctx context.Context) error {
	err := s.store.Refresh(ctx)
	s.activate()
	if err == nil {
		s.publishState()
	}
	return err
}

// Submit syncs every answer and finishes the attempt. Concurrent calls share
// one finish; calls after completion return nil without a network call.
func (s *ExamSession) Submit(ctx context.Context, reason model.SubmitReason) error {
	ch := s.flight.DoChan("finish", func() (any, error) {
		return nil, s.submit(reason)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ExamSession) submit(reason model.SubmitReason) error {
	s.mu.Lock()
	if s.state == model.SessionStateCompleted {
		s.mu.Unlock()
		return nil
	}
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	switch s.state {
	case model.SessionStateInProgress, model.SessionStateExpired:
	default:
		s.mu.Unlock()
		return ErrNotInProgress
	}
	s.state = model.SessionStateSubmitting
	s.lastErr = ""
	s.mu.Unlock()
	s.publishState()

	snap := s.store.Snapshot()
	failed := s.sync.SyncAll(s.ctx, BulkSyncTasks(snap))

	if err := s.sync.Finish(s.ctx, snap.AttemptID); err != nil {
		s.log.Error().Err(err).
			Str("reason", string(reason)).
			Int("sync_failures", failed).
			Msg("Finish failed, session back in progress")
		s.mu.Lock()
		s.state = model.SessionStateInProgress
		s.lastErr = finishFailedMessage
		s.mu.Unlock()
		s.publishState()
		return fmt.Errorf("%w: %w", ErrFinishFailed, err)
	}

	if err := s.store.Clear(s.ctx); err != nil {
		s.log.Warn().Err(err).Msg("Durable session clear failed")
	}

	s.mu.Lock()
	s.state = model.SessionStateCompleted
	timer := s.timer
	s.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}

	s.log.Info().Str("reason", string(reason)).Int("sync_failures", failed).Msg("Attempt finished")

	completion := model.AttemptCompletion{
		AttemptID:  snap.AttemptID,
		PackageID:  snap.PackageID,
		MemberID:   s.memberID,
		Answered:   snap.AnsweredCount(),
		Total:      len(snap.Questions),
		Reason:     reason,
		FinishedAt: s.now(),
	}
	if err := s.recorder.Record(s.ctx, completion); err != nil {
		s.log.Warn().Err(err).Msg("Completion not recorded")
	}

	s.publishState()
	s.events.publish(SessionEvent{Type: SessionEventCompleted, AttemptID: snap.AttemptID, State: model.SessionStateCompleted})

	if s.onCompleted != nil {
		s.onCompleted(s)
	}
	return nil
}

// View returns the renderable state of the session.
func (s *ExamSession) View() model.SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := model.SessionView{
		AttemptID: s.store.AttemptID(),
		PackageID: s.store.PackageID(),
		State:     s.state,
		LastError: s.lastErr,
		Answers:   map[model.QuestionID]string{},
	}
	snap := s.store.Snapshot()
	if snap == nil {
		return v
	}

	if s.timer != nil {
		v.RemainingSeconds = s.timer.Remaining()
	} else {
		v.RemainingSeconds = snap.RemainingSeconds(s.now())
	}
	v.Answers = snap.Answers
	v.AnsweredCount = snap.AnsweredCount()
	v.QuestionCount = len(snap.Questions)
	v.QuestionIDs = make([]model.QuestionID, 0, len(snap.Questions))
	for _, q := range snap.Questions {
		v.QuestionIDs = append(v.QuestionIDs, q.ID)
	}

	if len(snap.Questions) > 0 {
		cur := clampIndex(s.current, len(snap.Questions))
		q := snap.Questions[cur]
		v.CurrentIndex = cur
		v.Question = &model.QuestionView{
			ID:         q.ID,
			Number:     cur + 1,
			PromptHTML: q.PromptHTML,
			Options:    q.VisibleOptions(),
			Selected:   snap.Answers[q.ID],
		}
	}
	return v
}

// State returns the current state.
func (s *ExamSession) State() model.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RemainingSeconds returns the countdown value, or 0 before the session is
// in progress.
func (s *ExamSession) RemainingSeconds() int64 {
	s.mu.Lock()
	timer := s.timer
	s.mu.Unlock()
	if timer == nil {
		return 0
	}
	return timer.Remaining()
}

// Subscribe returns a channel of session events and a function to stop
// receiving them. The channel is closed when the session closes.
func (s *ExamSession) Subscribe() (<-chan SessionEvent, func()) {
	return s.events.subscribe()
}

// AttemptID returns the attempt ID.
func (s *ExamSession) AttemptID() string { return s.store.AttemptID() }

// PackageID returns the package the attempt belongs to, if known.
func (s *ExamSession) PackageID() string { return s.store.PackageID() }

// MemberID returns the owning member.
func (s *ExamSession) MemberID() int64 { return s.memberID }

// Close tears the session view down. The countdown and background work
// stop; the durable record is untouched. It must not be called from a
// countdown callback.
func (s *ExamSession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	timer := s.timer
	s.mu.Unlock()

	s.cancel()
	if timer != nil {
		timer.Stop()
	}
	s.events.close()
}

func (s *ExamSession) publishState() {
	s.mu.Lock()
	ev := SessionEvent{Type: SessionEventState, State: s.state, Error: s.lastErr}
	s.mu.Unlock()
	s.events.publish(ev)
}

func clampIndex(i, n int) int {
	if n == 0 || i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
