package audit

import (
	"context"
	"log/slog"
	"sync/atomic"

	"chatty/internal/durable"
)

// DurableService persists audit entries into the same SQLite database
// replay durability uses (durable.Store's audit_log table).
type DurableService struct {
	store    *durable.Store
	failures atomic.Uint64
}

func NewDurableService(store *durable.Store) *DurableService {
	return &DurableService{store: store}
}

func (s *DurableService) Record(ctx context.Context, e Entry) {
	_, err := s.store.DB().ExecContext(ctx,
		`INSERT INTO audit_log(actor_id, topic, command_kind, target_user_id, target_message_id) VALUES(?, ?, ?, ?, ?)`,
		e.ActorID, e.Topic, e.CommandKind, e.TargetUserID, e.TargetMessageID,
	)
	if err != nil {
		s.failures.Add(1)
		slog.Warn("audit: failed to persist entry", "topic", e.Topic, "command_kind", e.CommandKind, "err", err)
	}
}

func (s *DurableService) FailureCount() uint64 { return s.failures.Load() }
