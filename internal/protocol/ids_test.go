package protocol

import "testing"

func TestRoomKeyTopicRoundTrip(t *testing.T) {
	k := RoomKey{Platform: PlatformTwitch, RoomID: "12345"}
	topic := k.Topic()
	if topic != "room:twitch/12345" {
		t.Fatalf("topic = %q", topic)
	}

	got, err := ParseTopic(topic)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != k {
		t.Fatalf("got %+v, want %+v", got, k)
	}
}

func TestParseTopicRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"room:",
		"room:twitch",
		"room:twitch/",
		"room:/123",
		"nonsense",
		"room:unknownplatform/123",
	}
	for _, topic := range cases {
		if _, err := ParseTopic(topic); err == nil {
			t.Errorf("ParseTopic(%q) = nil error, want error", topic)
		}
	}
}

func TestPlatformValid(t *testing.T) {
	if !PlatformTwitch.Valid() || !PlatformKick.Valid() {
		t.Fatal("known platforms should be valid")
	}
	if Platform("youtube").Valid() {
		t.Fatal("unregistered platform should be invalid")
	}
}
