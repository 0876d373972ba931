// Package adapter defines the platform-adapter contract and the manager
// that owns one running adapter per upstream platform, grounded on the
// teacher's client/Room control-channel dispatch in
// _examples/rustyguts-bken/server/client.go and room.go.
package adapter

import (
	"chatty/internal/protocol"
)

// AuthKind discriminates Auth.
type AuthKind string

const (
	AuthNone              AuthKind = "none"
	AuthUserAccessToken    AuthKind = "user_access_token"
	AuthPlatformUserCreds AuthKind = "platform_user_creds"
	AuthAppAccessToken    AuthKind = "app_access_token"
	AuthOpaque            AuthKind = "opaque"
)

// Auth is the sum type of credential shapes a connection can hand an
// adapter via UpdateAuth or per-command.
type Auth struct {
	Kind AuthKind

	UserAccessToken string            // AuthUserAccessToken
	PlatformCreds   *protocol.PlatformCreds // AuthPlatformUserCreds
	AppAccessToken  string            // AuthAppAccessToken
	Opaque          map[string]string // AuthOpaque
}

// CommandError is the set of failure categories execute_command can
// return, matching spec.md §4.5's enumeration 1:1 with
// protocol.CommandStatus so the command pipeline can map directly.
type CommandError string

const (
	CmdErrNone            CommandError = ""
	CmdErrNotSupported    CommandError = "not_supported"
	CmdErrNotAuthorized   CommandError = "not_authorized"
	CmdErrInvalidTopic    CommandError = "invalid_topic"
	CmdErrInvalidCommand  CommandError = "invalid_command"
	CmdErrInternal        CommandError = "internal"
)

// CommandOutcome is what an adapter posts back on a Command's response
// channel.
type CommandOutcome struct {
	Detail string
	Err    CommandError // CmdErrNone on success
}

// ControlKind discriminates ControlMsg.
type ControlKind string

const (
	CtrlJoin             ControlKind = "join"
	CtrlLeave            ControlKind = "leave"
	CtrlUpdateAuth       ControlKind = "update_auth"
	CtrlCommand          ControlKind = "command"
	CtrlQueryPermissions ControlKind = "query_permissions"
	CtrlShutdown         ControlKind = "shutdown"
)

// ControlMsg is the unit sent on an adapter's bounded control channel.
type ControlMsg struct {
	Kind ControlKind

	Room protocol.RoomKey // Join, Leave

	Auth Auth // UpdateAuth, and the auth accompanying Command/QueryPermissions

	Command     *protocol.CommandReq    // Command
	CommandResp chan<- CommandOutcome   // Command

	PermissionsRoom protocol.RoomKey             // QueryPermissions
	PermissionsResp chan<- protocol.PermissionsInfo // QueryPermissions
}
