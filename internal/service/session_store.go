package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agpaii-digital/exam-portal/internal/config"
	"github.com/agpaii-digital/exam-portal/internal/model"
	"github.com/agpaii-digital/exam-portal/internal/repository"
	"github.com/rs/zerolog"
)

// ErrSessionNotReady is returned while an attempt has no questions yet.
var ErrSessionNotReady = errors.New("exam session has no questions yet")

// SessionStore owns the state of one attempt and is the only writer of its
// durable record.
type SessionStore struct {
	store     repository.KeyValueStore
	keys      config.SessionKeys
	content   ExamContent
	now       Clock
	log       zerolog.Logger
	attemptID string

	// mu serializes in-memory mutation and the durable write that follows.
	mu        sync.Mutex
	packageID string
	attempt   *model.ExamAttempt
}

// NewSessionStore creates a store for one attempt. packageID may be empty
// when it is only known from the durable record or the exam service.
func NewSessionStore(
	store repository.KeyValueStore,
	keys config.SessionKeys,
	content ExamContent,
	now Clock,
	log zerolog.Logger,
	attemptID, packageID string,
) *SessionStore {
	if now == nil {
		now = time.Now
	}
	return &SessionStore{
		store:     store,
		keys:      keys,
		content:   content,
		now:       now,
		attemptID: attemptID,
		packageID: packageID,
		log: log.With().
			Str("component", "session_store").
			Str("attempt_id", attemptID).
			Logger(),
	}
}

// RestoreOrInit adopts the durable record, if any, before returning, then
// fetches the question set in the background. The channel receives the
// fetch outcome and is closed. A failed fetch leaves the restored state in
// place.
func (s *SessionStore) RestoreOrInit(ctx context.Context) <-chan error {
	s.restore(ctx)

	done := make(chan error, 1)
	go func() {
		defer close(done)
		done <- s.Refresh(ctx)
	}()
	return done
}

func (s *SessionStore) restore(ctx context.Context) {
	key := s.keys.ExamSessionKey(s.attemptID)
	raw, err := s.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, repository.ErrRecordNotFound) {
			s.log.Warn().Err(err).Msg("Durable session read failed, starting fresh")
		}
		return
	}

	var rec model.ExamAttempt
	if err := json.Unmarshal(raw, &rec); err != nil {
		s.log.Warn().Err(err).Msg("Discarding unreadable durable session")
		return
	}
	if rec.Version != config.SessionRecordVersion || rec.AttemptID != s.attemptID || rec.StartedAtEpochMillis <= 0 {
		s.log.Warn().Int("version", rec.Version).Msg("Discarding incompatible durable session")
		return
	}
	if rec.Answers == nil {
		rec.Answers = make(map[model.QuestionID]string)
	}
	model.SortQuestions(rec.Questions)

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case rec.PackageID == "":
		rec.PackageID = s.packageID
	case s.packageID != rec.PackageID:
		if s.packageID != "" {
			s.log.Warn().
				Str("record_package_id", rec.PackageID).
				Str("requested_package_id", s.packageID).
				Msg("Attempt belongs to another package, keeping the recorded one")
		}
		s.packageID = rec.PackageID
	}
	s.attempt = &rec
	s.log.Debug().
		Int("questions", len(rec.Questions)).
		Int("answers", len(rec.Answers)).
		Msg("Durable session restored")
}

// Refresh fetches the question set. Without a prior record it starts the
// attempt clock now and writes the first record; otherwise only the
// question list is replaced.
func (s *SessionStore) Refresh(ctx context.Context) error {
	paper, err := s.content.FetchAttempt(ctx, s.attemptID)
	if err != nil {
		s.log.Warn().Err(err).Msg("Question fetch failed, continuing with local state")
		return fmt.Errorf("fetch attempt: %w", err)
	}

	questions := model.CloneQuestions(paper.Questions)
	model.SortQuestions(questions)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.packageID == "" {
		s.packageID = paper.PackageID
	}

	if s.attempt == nil {
		s.attempt = &model.ExamAttempt{
			Version:                 config.SessionRecordVersion,
			AttemptID:               s.attemptID,
			PackageID:               s.packageID,
			Questions:               questions,
			Answers:                 make(map[model.QuestionID]string),
			OriginalDurationSeconds: paper.DurationSeconds,
			StartedAtEpochMillis:    s.now().UnixMilli(),
		}
		s.log.Info().
			Int64("duration_seconds", paper.DurationSeconds).
			Int("questions", len(questions)).
			Msg("Attempt initialized")
	} else {
		s.attempt.Questions = questions
		if s.attempt.PackageID == "" {
			s.attempt.PackageID = s.packageID
		}
		s.log.Debug().Int("questions", len(questions)).Msg("Question list refreshed")
	}

	if err := s.persistLocked(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Durable session write failed")
	}
	return nil
}

// RecordAnswer stores an answer in memory and rewrites the durable record.
// The in-memory answer is kept even when the write fails.
func (s *SessionStore) RecordAnswer(ctx context.Context, questionID model.QuestionID, option string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.attempt == nil || len(s.attempt.Questions) == 0 {
		return ErrSessionNotReady
	}
	s.attempt.Answers[questionID] = option
	return s.persistLocked(ctx)
}

// Clear deletes the durable record and the resume pointer of the package the
// attempt belongs to. Call it only after the exam service confirmed the
// finish.
func (s *SessionStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	packageID := s.packageID
	s.mu.Unlock()

	keys := []string{s.keys.ExamSessionKey(s.attemptID)}
	if packageID != "" {
		keys = append(keys, s.keys.ResumePointerKey(packageID))
	}
	if err := s.store.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// Snapshot returns a copy of the attempt, or nil before anything was
// restored or fetched.
func (s *SessionStore) Snapshot() *model.ExamAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt.Clone()
}

// Ready reports whether the attempt has questions to show.
func (s *SessionStore) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt != nil && len(s.attempt.Questions) > 0
}

// AttemptID returns the attempt this store belongs to.
func (s *SessionStore) AttemptID() string {
	return s.attemptID
}

// PackageID returns the package, once known.
func (s *SessionStore) PackageID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.packageID
}

func (s *SessionStore) persistLocked(ctx context.Context) error {
	raw, err := json.Marshal(s.attempt)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.store.Set(ctx, s.keys.ExamSessionKey(s.attemptID), raw); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}
