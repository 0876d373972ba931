package protocol

// ProtocolVersion is the version this server speaks. The Version of the
// envelope carrying Hello must match for the handshake to succeed.
const ProtocolVersion uint32 = 1

// MsgType discriminates Envelope.Msg the way the teacher's ControlMsg.Type
// discriminates its flat JSON struct.
type MsgType string

const (
	MsgHello        MsgType = "hello"
	MsgWelcome      MsgType = "welcome"
	MsgError        MsgType = "error"
	MsgPing         MsgType = "ping"
	MsgPong         MsgType = "pong"
	MsgSubscribe    MsgType = "subscribe"
	MsgSubscribed   MsgType = "subscribed"
	MsgUnsubscribe  MsgType = "unsubscribe"
	MsgUnsubscribed MsgType = "unsubscribed"
	MsgCommand      MsgType = "command"
	MsgCommandResult MsgType = "command_result"
	MsgEvent        MsgType = "event"
)

// Envelope is the unit exchanged on the control stream.
type Envelope struct {
	Version   uint32  `json:"version"`
	RequestID string  `json:"request_id,omitempty"`
	Type      MsgType `json:"type"`

	Hello        *Hello        `json:"hello,omitempty"`
	Welcome      *Welcome      `json:"welcome,omitempty"`
	Error        *ErrorMsg     `json:"error,omitempty"`
	Ping         *Ping         `json:"ping,omitempty"`
	Pong         *Pong         `json:"pong,omitempty"`
	Subscribe    *Subscribe    `json:"subscribe,omitempty"`
	Subscribed   *Subscribed   `json:"subscribed,omitempty"`
	Unsubscribe  *Unsubscribe  `json:"unsubscribe,omitempty"`
	Unsubscribed *Unsubscribed `json:"unsubscribed,omitempty"`
	Command      *CommandReq   `json:"command,omitempty"`
	CommandResult *CommandResult `json:"command_result,omitempty"`
	Event        *EventEnvelope `json:"event,omitempty"`
}

// Hello is the client's handshake opener.
type Hello struct {
	ClientName       string           `json:"client_name"`
	InstanceID       string           `json:"instance_id"`
	AuthToken        string           `json:"auth_token,omitempty"`
	PlatformCreds    *PlatformCreds   `json:"platform_creds,omitempty"`
	SupportedCodecs  []string         `json:"supported_codecs,omitempty"`
	PreferredCodec   string           `json:"preferred_codec,omitempty"`
}

// PlatformCreds is the optional OAuth blob a client presents so the server
// can forward it to the matching adapter via update_auth.
type PlatformCreds struct {
	Platform     Platform `json:"platform"`
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token,omitempty"`
	UserID       string   `json:"user_id,omitempty"`
	ExpiresIn    int64    `json:"expires_in,omitempty"`
}

// Welcome is the server's handshake reply.
type Welcome struct {
	ServerName       string `json:"server_name"`
	ServerInstanceID string `json:"server_instance_id"`
	ServerTimeUnixMS int64  `json:"server_time_unix_ms"`
	MaxFrameBytes    uint32 `json:"max_frame_bytes"`
	SelectedCodec    string `json:"selected_codec"`
}

// ErrorMsg is a server-initiated or reply error envelope.
type ErrorMsg struct {
	Detail string `json:"detail"`
}

type Ping struct {
	TS int64 `json:"ts"`
}

type Pong struct {
	TS int64 `json:"ts"`
}

// SubscribeItem pairs a topic with the client's last-seen cursor (0 = fresh).
type SubscribeItem struct {
	Topic      string `json:"topic"`
	LastCursor uint64 `json:"last_cursor"`
}

type Subscribe struct {
	Items []SubscribeItem `json:"items"`
}

type SubscriptionStatus string

const (
	SubOk                 SubscriptionStatus = "ok"
	SubReplayNotAvailable SubscriptionStatus = "replay_not_available"
	SubInvalidTopic       SubscriptionStatus = "invalid_topic"
	SubDenied             SubscriptionStatus = "denied"
)

type SubscriptionResult struct {
	Topic         string             `json:"topic"`
	Status        SubscriptionStatus `json:"status"`
	CurrentCursor uint64             `json:"current_cursor"`
}

type Subscribed struct {
	Results []SubscriptionResult `json:"results"`
}

type Unsubscribe struct {
	Topics []string `json:"topics"`
}

type Unsubscribed struct {
	Topics []string `json:"topics"`
}

// CommandKind discriminates CommandReq.
type CommandKind string

const (
	CmdSendChat      CommandKind = "send_chat"
	CmdDeleteMessage CommandKind = "delete_message"
	CmdTimeoutUser   CommandKind = "timeout_user"
	CmdBanUser       CommandKind = "ban_user"
)

// CommandReq is one client-issued moderation/send command.
type CommandReq struct {
	Kind    CommandKind `json:"kind"`
	Topic   string      `json:"topic"`

	// SendChat
	Text                    string `json:"text,omitempty"`
	ReplyToPlatformMsgID    string `json:"reply_to_platform_message_id,omitempty"`

	// DeleteMessage
	PlatformMessageID string `json:"platform_message_id,omitempty"`

	// TimeoutUser / BanUser
	UserID          string `json:"user_id,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

type CommandStatus string

const (
	CmdStatusOk             CommandStatus = "ok"
	CmdStatusNotSupported   CommandStatus = "not_supported"
	CmdStatusNotAuthorized  CommandStatus = "not_authorized"
	CmdStatusInvalidTopic   CommandStatus = "invalid_topic"
	CmdStatusInvalidCommand CommandStatus = "invalid_command"
	CmdStatusInternalError  CommandStatus = "internal_error"
)

type CommandResult struct {
	Status CommandStatus `json:"status"`
	Detail string        `json:"detail,omitempty"`
}

// EventKind discriminates EventEnvelope.
type EventKind string

const (
	EventChatMessage EventKind = "chat_message"
	EventTopicLagged EventKind = "topic_lagged"
	EventPermissions EventKind = "permissions"
	EventAssetBundle EventKind = "asset_bundle"
	EventRoomState   EventKind = "room_state"
	EventModeration  EventKind = "moderation"
	EventUserNotice  EventKind = "user_notice"
)

// EventEnvelope is the unit written on the events stream. Moderation and
// UserNotice extend the wire variants spec.md §6 lists by example: the
// ingest side (§3) names them as IngestPayload variants, so the events
// writer needs a wire projection for them too.
type EventEnvelope struct {
	Topic            string    `json:"topic"`
	Cursor           uint64    `json:"cursor"`
	ServerTimeUnixMS int64     `json:"server_time_unix_ms"`
	Kind             EventKind `json:"kind"`

	ChatMessage *ChatMessageEvent `json:"chat_message,omitempty"`
	TopicLagged *TopicLaggedEvent `json:"topic_lagged,omitempty"`
	Permissions *PermissionsInfo  `json:"permissions,omitempty"`
	AssetBundle *AssetBundle      `json:"asset_bundle,omitempty"`
	RoomState   *RoomState        `json:"room_state,omitempty"`
	Moderation  *Moderation       `json:"moderation,omitempty"`
	UserNotice  *UserNotice       `json:"user_notice,omitempty"`
}

// ChatMessageEvent is the wire projection of protocol.ChatMessage.
type ChatMessageEvent = ChatMessage

type TopicLaggedEvent struct {
	Dropped uint64 `json:"dropped"`
}

// PermissionsInfo is a best-effort, non-persisted snapshot.
type PermissionsInfo struct {
	CanSend      bool `json:"can_send"`
	CanReply     bool `json:"can_reply"`
	CanDelete    bool `json:"can_delete"`
	CanTimeout   bool `json:"can_timeout"`
	CanBan       bool `json:"can_ban"`
	IsModerator  bool `json:"is_moderator"`
	IsBroadcaster bool `json:"is_broadcaster"`
}
