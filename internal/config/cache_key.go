package config

import (
	"fmt"
)

// SessionRecordVersion tags the durable exam session format. Bumping it
// orphans older records instead of trying to decode them.
const SessionRecordVersion = 2

// SessionKeys builds durable storage keys, optionally scoped by a namespace
// so that several members can share one backing store.
type SessionKeys struct {
	namespace string
}

// NewSessionKeys returns key builders without a namespace (exact client keys).
func NewSessionKeys() SessionKeys {
	return SessionKeys{}
}

// MemberSessionKeys returns key builders scoped to one member.
func MemberSessionKeys(memberID int64) SessionKeys {
	return SessionKeys{namespace: fmt.Sprintf("member:%d:", memberID)}
}

// ExamSessionKey returns the key of the durable record for an attempt.
func (k SessionKeys) ExamSessionKey(attemptID string) string {
	return fmt.Sprintf("%sexamSession:v%d:%s", k.namespace, SessionRecordVersion, attemptID)
}

// ResumePointerKey returns the key of the resume pointer for a package.
func (k SessionKeys) ResumePointerKey(packageID string) string {
	return fmt.Sprintf("%sexamResumePointer:%s", k.namespace, packageID)
}
