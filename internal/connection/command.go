package connection

import (
	"context"

	"chatty/internal/adapter"
	"chatty/internal/audit"
	"chatty/internal/protocol"
)

// handleCommand runs the 8-step pipeline from spec.md §4.9: authorize (a
// no-op re-check here; the handshake already gates the connection),
// connection rate limit, topic parse/validate, topic rate limit, payload
// validation, audit record, dispatch, then map the adapter's result onto
// the wire CommandStatus.
func (c *Conn) handleCommand(ctx context.Context, requestID string, req *protocol.CommandReq) {
	result := c.runCommandPipeline(ctx, req)
	_ = c.writeControl(&protocol.Envelope{
		Version: protocol.ProtocolVersion, RequestID: requestID,
		Type: protocol.MsgCommandResult, CommandResult: &result,
	})
}

func (c *Conn) runCommandPipeline(ctx context.Context, req *protocol.CommandReq) protocol.CommandResult {
	if !c.connLimiter.Allow() {
		return protocol.CommandResult{Status: protocol.CmdStatusNotAuthorized, Detail: "rate limited"}
	}

	room, err := protocol.ParseTopic(req.Topic)
	if err != nil {
		return protocol.CommandResult{Status: protocol.CmdStatusInvalidTopic, Detail: err.Error()}
	}

	if !c.deps.Topics.Allow(room) {
		return protocol.CommandResult{Status: protocol.CmdStatusNotAuthorized, Detail: "rate limited"}
	}

	if detail, ok := validateCommandPayload(req); !ok {
		return protocol.CommandResult{Status: protocol.CmdStatusInvalidCommand, Detail: detail}
	}

	c.deps.Audit.Record(ctx, audit.Entry{
		ActorID:         c.clientID,
		Topic:           req.Topic,
		CommandKind:     string(req.Kind),
		TargetUserID:    req.UserID,
		TargetMessageID: req.PlatformMessageID,
	})

	detail, cmdErr := c.deps.Adapters.ExecuteCommand(ctx, req, c.auth)
	return protocol.CommandResult{Status: mapCommandError(cmdErr), Detail: detail}
}

// validateCommandPayload enforces the minimal per-kind field requirements
// spec.md §4.9 names: non-empty text for send_chat, a target message for
// delete_message, a target user for timeout/ban.
func validateCommandPayload(req *protocol.CommandReq) (detail string, ok bool) {
	switch req.Kind {
	case protocol.CmdSendChat:
		if req.Text == "" {
			return "text must not be empty", false
		}
	case protocol.CmdDeleteMessage:
		if req.PlatformMessageID == "" {
			return "platform_message_id is required", false
		}
	case protocol.CmdTimeoutUser:
		if req.UserID == "" {
			return "user_id is required", false
		}
		if req.DurationSeconds <= 0 {
			return "duration_seconds must be positive", false
		}
	case protocol.CmdBanUser:
		if req.UserID == "" {
			return "user_id is required", false
		}
	default:
		return "unknown command kind", false
	}
	return "", true
}

func mapCommandError(err adapter.CommandError) protocol.CommandStatus {
	switch err {
	case adapter.CmdErrNone:
		return protocol.CmdStatusOk
	case adapter.CmdErrNotSupported:
		return protocol.CmdStatusNotSupported
	case adapter.CmdErrNotAuthorized:
		return protocol.CmdStatusNotAuthorized
	case adapter.CmdErrInvalidTopic:
		return protocol.CmdStatusInvalidTopic
	case adapter.CmdErrInvalidCommand:
		return protocol.CmdStatusInvalidCommand
	default:
		return protocol.CmdStatusInternalError
	}
}
