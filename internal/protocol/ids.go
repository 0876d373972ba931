package protocol

import (
	"fmt"
	"strings"
)

// Platform tags one upstream chat platform. New platforms are added here;
// adapters register themselves against one Platform value each.
type Platform string

const (
	PlatformTwitch Platform = "twitch"
	PlatformKick   Platform = "kick"
)

func (p Platform) Valid() bool {
	switch p {
	case PlatformTwitch, PlatformKick:
		return true
	default:
		return false
	}
}

// RoomKey identifies one upstream chat room. RoomId equality is byte-exact.
type RoomKey struct {
	Platform Platform
	RoomID   string
}

// Topic renders the canonical wire form "room:<platform>/<room_id>".
func (k RoomKey) Topic() string {
	return fmt.Sprintf("room:%s/%s", k.Platform, k.RoomID)
}

// ParseTopic parses the canonical "room:<platform>/<room_id>" form back into
// a RoomKey. RoomID must be non-empty.
func ParseTopic(topic string) (RoomKey, error) {
	const prefix = "room:"
	if !strings.HasPrefix(topic, prefix) {
		return RoomKey{}, fmt.Errorf("invalid topic %q: missing %q prefix", topic, prefix)
	}
	rest := topic[len(prefix):]
	plat, roomID, ok := strings.Cut(rest, "/")
	if !ok || plat == "" || roomID == "" {
		return RoomKey{}, fmt.Errorf("invalid topic %q: expected room:<platform>/<room_id>", topic)
	}
	p := Platform(plat)
	if !p.Valid() {
		return RoomKey{}, fmt.Errorf("invalid topic %q: unknown platform %q", topic, plat)
	}
	return RoomKey{Platform: p, RoomID: roomID}, nil
}
