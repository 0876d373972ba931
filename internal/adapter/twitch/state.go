// Package twitch implements the P-WS1 (EventSub-style) adapter: a
// WebSocket session to an EventSub-shaped upstream, reconciled against a
// Helix-shaped REST API, normalizing notifications into IngestEvents.
// Grounded on the control-channel dispatch and reconnect-timer pattern in
// _examples/rustyguts-bken/server/client.go, with reconnect backoff
// adopted from other_examples/54af6f5e_coachpo-meltica-gateway's
// streamManager.
package twitch

import "time"

// State is one node of the session state machine from spec.md §4.6.1.
type State string

const (
	StateWaitingForAuth State = "waiting_for_auth"
	StateNoRooms        State = "no_rooms"
	StateConnecting     State = "connecting"
	StateAwaitingWelcome State = "awaiting_welcome"
	StateReady          State = "ready"
	StateMigrating      State = "migrating"
	StateReconnecting   State = "reconnecting"
)

// Config holds the adapter's tunables. Field names mirror
// original_source/crates/chatty_server/src/config/mod.rs's twitch
// section, surfaced through internal/config.
type Config struct {
	ClientID     string
	ClientSecret string

	EventSubWSURL string // default wss://eventsub.wss.twitch.tv/ws
	HelixBaseURL  string // default https://api.twitch.tv/helix

	RefreshBufferSeconds     int
	MinReconnectDelay        time.Duration
	MaxReconnectDelay        time.Duration
	ReconnectResetAfter      time.Duration
	ModStatusRefreshInterval time.Duration
	MigrationBufferCapacity  int
	DropReportInterval       time.Duration
	KeepaliveGrace           time.Duration
}

// DefaultConfig matches the defaults named in spec.md / original_source.
func DefaultConfig() Config {
	return Config{
		EventSubWSURL:            "wss://eventsub.wss.twitch.tv/ws",
		HelixBaseURL:             "https://api.twitch.tv/helix",
		RefreshBufferSeconds:     120,
		MinReconnectDelay:        500 * time.Millisecond,
		MaxReconnectDelay:        30 * time.Second,
		ReconnectResetAfter:      90 * time.Second,
		ModStatusRefreshInterval: 5 * time.Minute,
		MigrationBufferCapacity:  256,
		DropReportInterval:       5 * time.Second,
		KeepaliveGrace:           5 * time.Second,
	}
}

// subKey identifies one required (room, subscription-type) tuple.
type subKey struct {
	room    string
	subType string
}

// requiredSubTypes lists the EventSub subscription types the adapter
// keeps reconciled for every joined room. Moderation-only types are
// filtered out in reconcileRoom when the adapter lacks mod/broadcaster
// standing.
var requiredSubTypes = []string{
	"channel.chat.message",
	"channel.chat.notification",
	"channel.moderate",
	"channel.ban",
	"channel.raid",
	"channel.subscribe",
	"channel.update",
}

var moderationOnlySubTypes = map[string]bool{
	"channel.moderate": true,
	"channel.ban":      true,
}
