package kick

import (
	"context"
	"errors"

	"chatty/internal/adapter"
	"chatty/internal/chattyerr"
	"chatty/internal/protocol"
)

// executeCommand maps the generic command request onto Kick's REST
// surface, classifying failures by HTTP status per spec.md §4.7:
// 401/403 -> NotAuthorized, 404 -> InvalidTopic, everything else -> Internal.
func (a *Adapter) executeCommand(ctx context.Context, msg adapter.ControlMsg) {
	if msg.CommandResp == nil || msg.Command == nil {
		return
	}
	req := msg.Command

	room, err := protocol.ParseTopic(req.Topic)
	if err != nil {
		sendOutcome(msg.CommandResp, adapter.CommandOutcome{Err: adapter.CmdErrInvalidTopic})
		return
	}

	chatroomID, err := a.resolveChatroomID(ctx, room.RoomID)
	if err != nil {
		sendOutcome(msg.CommandResp, adapter.CommandOutcome{Err: adapter.CmdErrInvalidTopic, Detail: err.Error()})
		return
	}

	switch req.Kind {
	case protocol.CmdSendChat:
		if req.Text == "" {
			sendOutcome(msg.CommandResp, adapter.CommandOutcome{Err: adapter.CmdErrInvalidCommand})
			return
		}
		err = a.rest.sendMessage(ctx, chatroomID, req.Text, req.ReplyToPlatformMsgID)
	case protocol.CmdDeleteMessage:
		if req.PlatformMessageID == "" {
			sendOutcome(msg.CommandResp, adapter.CommandOutcome{Err: adapter.CmdErrInvalidCommand})
			return
		}
		err = a.rest.deleteMessage(ctx, chatroomID, req.PlatformMessageID)
	case protocol.CmdTimeoutUser:
		if req.UserID == "" {
			sendOutcome(msg.CommandResp, adapter.CommandOutcome{Err: adapter.CmdErrInvalidCommand})
			return
		}
		err = a.rest.banUser(ctx, chatroomID, req.UserID, req.Reason, req.DurationSeconds)
	case protocol.CmdBanUser:
		if req.UserID == "" {
			sendOutcome(msg.CommandResp, adapter.CommandOutcome{Err: adapter.CmdErrInvalidCommand})
			return
		}
		err = a.rest.banUser(ctx, chatroomID, req.UserID, req.Reason, 0)
	default:
		sendOutcome(msg.CommandResp, adapter.CommandOutcome{Err: adapter.CmdErrNotSupported})
		return
	}

	if err != nil {
		sendOutcome(msg.CommandResp, classifyCommandErr(err))
		return
	}
	sendOutcome(msg.CommandResp, adapter.CommandOutcome{Err: adapter.CmdErrNone})
}

func sendOutcome(ch chan<- adapter.CommandOutcome, out adapter.CommandOutcome) {
	select {
	case ch <- out:
	default:
	}
}

func classifyCommandErr(err error) adapter.CommandOutcome {
	var uerr *chattyerr.UpstreamError
	if errors.As(err, &uerr) {
		switch uerr.Kind {
		case chattyerr.UpstreamAuth:
			return adapter.CommandOutcome{Err: adapter.CmdErrNotAuthorized}
		case chattyerr.UpstreamNotFound:
			return adapter.CommandOutcome{Err: adapter.CmdErrInvalidTopic}
		}
	}
	return adapter.CommandOutcome{Err: adapter.CmdErrInternal, Detail: err.Error()}
}
