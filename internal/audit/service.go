// Package audit implements the append-only command audit log from
// spec.md §4.10. Failures are always non-fatal to the command pipeline:
// callers fire-and-forget Record and only a counter observes drops.
package audit

import "context"

// Entry is one audited command, matching spec.md §4.10's column list.
type Entry struct {
	ActorID         string
	Topic           string
	CommandKind     string
	TargetUserID    string
	TargetMessageID string
}

// Service records audit entries. Implementations must not block the
// command pipeline on failure.
type Service interface {
	Record(ctx context.Context, e Entry)
	FailureCount() uint64
}
