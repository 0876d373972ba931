package connection

import (
	"testing"

	"chatty/internal/adapter"
	"chatty/internal/protocol"
)

func TestValidateCommandPayloadSendChatRequiresText(t *testing.T) {
	_, ok := validateCommandPayload(&protocol.CommandReq{Kind: protocol.CmdSendChat, Text: ""})
	if ok {
		t.Fatal("send_chat with empty text should fail validation")
	}
	_, ok = validateCommandPayload(&protocol.CommandReq{Kind: protocol.CmdSendChat, Text: "hi"})
	if !ok {
		t.Fatal("send_chat with non-empty text should pass validation")
	}
}

func TestValidateCommandPayloadDeleteMessageRequiresTarget(t *testing.T) {
	_, ok := validateCommandPayload(&protocol.CommandReq{Kind: protocol.CmdDeleteMessage})
	if ok {
		t.Fatal("delete_message without a platform_message_id should fail validation")
	}
	_, ok = validateCommandPayload(&protocol.CommandReq{Kind: protocol.CmdDeleteMessage, PlatformMessageID: "m1"})
	if !ok {
		t.Fatal("delete_message with a platform_message_id should pass validation")
	}
}

func TestValidateCommandPayloadTimeoutRequiresUserAndPositiveDuration(t *testing.T) {
	cases := []struct {
		name string
		req  *protocol.CommandReq
		ok   bool
	}{
		{"missing user", &protocol.CommandReq{Kind: protocol.CmdTimeoutUser, DurationSeconds: 10}, false},
		{"zero duration", &protocol.CommandReq{Kind: protocol.CmdTimeoutUser, UserID: "u1", DurationSeconds: 0}, false},
		{"negative duration", &protocol.CommandReq{Kind: protocol.CmdTimeoutUser, UserID: "u1", DurationSeconds: -1}, false},
		{"valid", &protocol.CommandReq{Kind: protocol.CmdTimeoutUser, UserID: "u1", DurationSeconds: 60}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, ok := validateCommandPayload(tc.req)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
		})
	}
}

func TestValidateCommandPayloadBanRequiresUser(t *testing.T) {
	_, ok := validateCommandPayload(&protocol.CommandReq{Kind: protocol.CmdBanUser})
	if ok {
		t.Fatal("ban_user without a user_id should fail validation")
	}
	_, ok = validateCommandPayload(&protocol.CommandReq{Kind: protocol.CmdBanUser, UserID: "u1"})
	if !ok {
		t.Fatal("ban_user with a user_id should pass validation")
	}
}

func TestValidateCommandPayloadUnknownKindFails(t *testing.T) {
	_, ok := validateCommandPayload(&protocol.CommandReq{Kind: protocol.CommandKind("bogus")})
	if ok {
		t.Fatal("an unrecognized command kind should always fail validation")
	}
}

func TestMapCommandError(t *testing.T) {
	cases := map[adapter.CommandError]protocol.CommandStatus{
		adapter.CmdErrNone:            protocol.CmdStatusOk,
		adapter.CmdErrNotSupported:    protocol.CmdStatusNotSupported,
		adapter.CmdErrNotAuthorized:   protocol.CmdStatusNotAuthorized,
		adapter.CmdErrInvalidTopic:    protocol.CmdStatusInvalidTopic,
		adapter.CmdErrInvalidCommand:  protocol.CmdStatusInvalidCommand,
	}
	for in, want := range cases {
		if got := mapCommandError(in); got != want {
			t.Errorf("mapCommandError(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestMapCommandErrorUnknownMapsToInternalError(t *testing.T) {
	if got := mapCommandError(adapter.CommandError("something_else")); got != protocol.CmdStatusInternalError {
		t.Fatalf("unmapped adapter error should map to internal error, got %v", got)
	}
}
