package protocol

// IngestEvent is what an adapter hands the ingest router. Invariant:
// Platform == Room.Platform (enforced by the ingest router, not here).
type IngestEvent struct {
	Platform        Platform
	Room            RoomKey
	IngestTS        int64 // unix ms, set by the adapter on receipt
	PlatformTS      int64 // unix ms, 0 if the platform didn't supply one
	PlatformMsgID   string
	Trace           TraceMeta
	Payload         IngestPayload
}

// TraceMeta carries upstream session bookkeeping through the pipeline for
// logging; never includes secrets.
type TraceMeta struct {
	SessionID      string
	SubscriptionID string
	UpstreamMsgID  string
}

// IngestPayload is a tagged union; exactly one field group is populated,
// selected by Kind.
type IngestPayload struct {
	Kind PayloadKind

	ChatMessage *ChatMessage
	AssetBundle *AssetBundle
	Moderation  *Moderation
	RoomState   *RoomState
	UserNotice  *UserNotice
}

type PayloadKind string

const (
	PayloadChatMessage PayloadKind = "chat_message"
	PayloadAssetBundle PayloadKind = "asset_bundle"
	PayloadModeration  PayloadKind = "moderation"
	PayloadRoomState   PayloadKind = "room_state"
	PayloadUserNotice  PayloadKind = "user_notice"
)

// ChatMessage is a normalized chat line.
type ChatMessage struct {
	ServerID      string // server-generated UUID
	PlatformID    string
	Author        Author
	Text          string // non-empty
	ReplyPreview  *ReplyPreview
	Badges        []string // "<platform>:<set>:<id>", deduplicated
	EmoteRefs     []EmoteRef
}

type Author struct {
	ID          string // non-empty
	Login       string // non-empty
	DisplayName string
}

type ReplyPreview struct {
	ParentMsgID string
	ParentText  string
	ParentLogin string
}

type EmoteRef struct {
	ID       string
	Name     string
	Position [2]int // start, end byte offsets into Text
}

// AssetScope distinguishes a global asset bundle from one scoped to a room.
type AssetScope string

const (
	AssetScopeGlobal  AssetScope = "global"
	AssetScopeChannel AssetScope = "channel"
)

// AssetBundle bundles emotes/badges from one provider for caching by the
// client. CacheKey is non-empty.
type AssetBundle struct {
	Provider string
	Scope    AssetScope
	CacheKey string
	ETag     string
	Emotes   []AssetRef
	Badges   []AssetRef
}

type AssetRef struct {
	ID     string
	Name   string
	Images []AssetImage // at least one
}

type AssetImage struct {
	Scale AssetScale
	URL   string
}

type AssetScale string

const (
	Scale1x AssetScale = "1x"
	Scale2x AssetScale = "2x"
	Scale3x AssetScale = "3x"
	Scale4x AssetScale = "4x"
)

// ModerationKind is a free-text classification, e.g. "ban", "timeout",
// "raid", "cheer", "subscribe".
type ModerationKind string

// Moderation is a moderation-plane event.
type Moderation struct {
	Kind            ModerationKind
	Actor           *Author
	Target          *Author
	TargetMessageID string
	Action          *ModerationAction
}

// ModerationAction is a tagged union of structured moderation actions.
type ModerationAction struct {
	Kind ModerationActionKind

	Timeout             *TimeoutAction
	Ban                 *BanAction
	DeleteMessageID     string
	AutoModHold         *AutoModHoldAction
	AutoModUpdate       *AutoModUpdateAction
	AutoModTermsUpdate  *AutoModTermsUpdateAction
	ModeratorOrVIPUser  *Author
	UnbanRequest        *UnbanRequestAction
}

type ModerationActionKind string

const (
	ActionTimeout            ModerationActionKind = "timeout"
	ActionBan                ModerationActionKind = "ban"
	ActionUnban              ModerationActionKind = "unban"
	ActionDeleteMessage      ModerationActionKind = "delete_message"
	ActionClearChat          ModerationActionKind = "clear_chat"
	ActionAutoModHold        ModerationActionKind = "automod_hold"
	ActionAutoModUpdate      ModerationActionKind = "automod_update"
	ActionAutoModTermsUpdate ModerationActionKind = "automod_terms_update"
	ActionShieldModeBegin    ModerationActionKind = "shield_mode_begin"
	ActionShieldModeEnd      ModerationActionKind = "shield_mode_end"
	ActionModeratorAdd       ModerationActionKind = "moderator_add"
	ActionModeratorRemove    ModerationActionKind = "moderator_remove"
	ActionVIPAdd             ModerationActionKind = "vip_add"
	ActionVIPRemove          ModerationActionKind = "vip_remove"
	ActionUnbanRequestCreate ModerationActionKind = "unban_request_create"
	ActionUnbanRequestResolve ModerationActionKind = "unban_request_resolve"
)

type TimeoutAction struct {
	DurationSeconds int
	ExpiresAtUnix   int64
	Reason          string
}

type BanAction struct {
	IsPermanent bool
	Reason      string
}

type AutoModHoldAction struct {
	MessageID string
	Reason    string
}

type AutoModUpdateAction struct {
	MessageID string
	Status    string
}

type AutoModTermsUpdateAction struct {
	Action string
	Terms  []string
}

type UnbanRequestAction struct {
	RequestID string
	Status    string
}

// RoomState is a structured settings snapshot.
type RoomState struct {
	EmoteOnly        bool
	SubscribersOnly  bool
	UniqueChat       bool
	SlowModeSeconds  int
	FollowersOnly    bool
	FollowersMinutes int
	Flags            map[string]string
	Actor            *Author
}

// UserNotice is a catch-all for platform notices that don't fit the other
// variants (raids, resubs, etc. expressed purely via Kind + Flags).
type UserNotice struct {
	Kind  string
	Actor *Author
	Flags map[string]string
}
