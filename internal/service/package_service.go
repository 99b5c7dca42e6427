package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agpaii-digital/exam-portal/internal/model"
	"github.com/agpaii-digital/exam-portal/internal/repository"
	"github.com/rs/zerolog"
)

// PackageService serves the screens around an exam session: the package
// listing, starting or continuing an attempt, results and history.
type PackageService struct {
	catalog PackageCatalog
	store   repository.KeyValueStore
	scope   KeyScope
	now     Clock
	log     zerolog.Logger
}

// NewPackageService creates a PackageService.
func NewPackageService(catalog PackageCatalog, store repository.KeyValueStore, scope KeyScope, now Clock, log zerolog.Logger) *PackageService {
	if scope == nil {
		scope = MemberKeyScope
	}
	if now == nil {
		now = time.Now
	}
	return &PackageService{
		catalog: catalog,
		store:   store,
		scope:   scope,
		now:     now,
		log:     log.With().Str("component", "package_service").Logger(),
	}
}

func (s *PackageService) pointers(memberID int64) *ResumePointerStore {
	return NewResumePointerStore(s.store, s.scope(memberID))
}

// ListPackages returns the packages whose title contains query (case
// insensitive), each marked START or CONTINUE for the member.
func (s *PackageService) ListPackages(ctx context.Context, memberID int64, query string) ([]model.PackageListing, error) {
	pkgs, err := s.catalog.ListPackages(ctx)
	if err != nil {
		return nil, fmt.Errorf("list packages: %w", err)
	}

	query = strings.ToLower(strings.TrimSpace(query))
	ptrs := s.pointers(memberID)
	out := make([]model.PackageListing, 0, len(pkgs))

	for _, p := range pkgs {
		if query != "" && !strings.Contains(strings.ToLower(p.Title), query) {
			continue
		}
		entry := model.PackageListing{ExamPackage: p, Action: model.PackageActionStart}

		ptr, err := ptrs.Get(ctx, string(p.ID))
		if err != nil {
			// The listing still works without the overlay.
			s.log.Warn().Err(err).Str("package_id", string(p.ID)).Msg("Resume pointer unavailable")
		} else if ptr != nil {
			entry.Action = model.PackageActionContinue
			entry.AttemptID = ptr.AttemptID
		}
		out = append(out, entry)
	}
	return out, nil
}

// StartAttempt returns the member's in-progress attempt for packageID, or
// starts a new one and records its resume pointer. resumed reports which.
func (s *PackageService) StartAttempt(ctx context.Context, memberID int64, packageID string) (ptr *model.ResumePointer, resumed bool, err error) {
	ptrs := s.pointers(memberID)

	existing, err := ptrs.Get(ctx, packageID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, true, nil
	}

	attemptID, err := s.catalog.StartAttempt(ctx, packageID, memberID)
	if err != nil {
		return nil, false, fmt.Errorf("start attempt: %w", err)
	}

	ptr = &model.ResumePointer{
		AttemptID: attemptID,
		PackageID: packageID,
		StartedAt: s.now().UTC(),
	}
	if err := ptrs.Put(ctx, *ptr); err != nil {
		// The attempt exists remotely; the listing will offer START again.
		s.log.Warn().Err(err).Str("attempt_id", attemptID).Msg("Resume pointer not written")
	}

	s.log.Info().
		Int64("member_id", memberID).
		Str("package_id", packageID).
		Str("attempt_id", attemptID).
		Msg("Attempt started")
	return ptr, false, nil
}

// Result returns the scored result of a finished attempt.
func (s *PackageService) Result(ctx context.Context, attemptID string) (*model.AttemptResult, error) {
	res, err := s.catalog.Result(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}
	return res, nil
}

// History lists the member's past attempts.
func (s *PackageService) History(ctx context.Context, memberID int64) ([]model.HistoryEntry, error) {
	entries, err := s.catalog.History(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	return entries, nil
}
