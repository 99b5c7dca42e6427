package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/agpaii-digital/exam-portal/internal/config"
	"github.com/agpaii-digital/exam-portal/internal/model"
	"github.com/agpaii-digital/exam-portal/internal/repository"
)

// ResumePointerStore reads and writes the per-package markers that let a
// listing offer "continue" instead of "start".
type ResumePointerStore struct {
	store repository.KeyValueStore
	keys  config.SessionKeys
}

// NewResumePointerStore creates a ResumePointerStore.
func NewResumePointerStore(store repository.KeyValueStore, keys config.SessionKeys) *ResumePointerStore {
	return &ResumePointerStore{store: store, keys: keys}
}

// Get returns the pointer for packageID, or nil when there is none. An
// unreadable pointer counts as none.
func (r *ResumePointerStore) Get(ctx context.Context, packageID string) (*model.ResumePointer, error) {
	raw, err := r.store.Get(ctx, r.keys.ResumePointerKey(packageID))
	if errors.Is(err, repository.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get resume pointer: %w", err)
	}

	var ptr model.ResumePointer
	if err := json.Unmarshal(raw, &ptr); err != nil || ptr.AttemptID == "" {
		return nil, nil
	}
	return &ptr, nil
}

// Put writes the pointer for ptr.PackageID.
func (r *ResumePointerStore) Put(ctx context.Context, ptr model.ResumePointer) error {
	raw, err := json.Marshal(ptr)
	if err != nil {
		return fmt.Errorf("encode resume pointer: %w", err)
	}
	if err := r.store.Set(ctx, r.keys.ResumePointerKey(ptr.PackageID), raw); err != nil {
		return fmt.Errorf("put resume pointer: %w", err)
	}
	return nil
}

// Delete removes the pointer for packageID.
func (r *ResumePointerStore) Delete(ctx context.Context, packageID string) error {
	if err := r.store.Delete(ctx, r.keys.ResumePointerKey(packageID)); err != nil {
		return fmt.Errorf("delete resume pointer: %w", err)
	}
	return nil
}
