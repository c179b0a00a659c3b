package chat

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/tjfontaine/kickhook/internal/events"
	"github.com/tjfontaine/kickhook/internal/testutil"
)

func TestDetect(t *testing.T) {
	flat := testutil.ChatPayload("m1", "viewer", "hi")

	tests := []struct {
		name string
		raw  map[string]any
		hint string
		want bool
	}{
		{name: "explicit hint", raw: map[string]any{}, hint: "chat.message.sent", want: true},
		{name: "direct flat fields", raw: flat, want: true},
		{name: "flat without sender but with id", raw: map[string]any{"content": "hi", "message_id": "m1"}, want: true},
		{name: "event discriminator", raw: map[string]any{"event": "chat.message.sent"}, want: true},
		{name: "type discriminator", raw: map[string]any{"type": "chat.message.sent"}, want: true},
		{name: "legacy data wrapper", raw: map[string]any{"id": "w1", "data": flat}, want: true},
		{name: "legacy message wrapper", raw: map[string]any{"message": flat}, want: true},
		{name: "follow payload", raw: testutil.FollowPayload("e1", "Ann"), want: false},
		{name: "other hint", raw: testutil.FollowPayload("e1", "Ann"), hint: "channel.followed", want: false},
		{name: "content without sender or id", raw: map[string]any{"content": "hi"}, want: false},
		{name: "nil", raw: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Detect(tt.raw, tt.hint); got != tt.want {
				t.Errorf("Detect() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalize_Shapes(t *testing.T) {
	now := time.Date(2025, 1, 15, 11, 0, 0, 0, time.UTC)
	flat := testutil.ChatPayload("m1", "viewer", "hello")

	shapes := map[string]map[string]any{
		"flat":           flat,
		"legacy data":    {"event": "chat.message.sent", "data": flat},
		"legacy message": {"message": flat},
	}

	for name, raw := range shapes {
		t.Run(name, func(t *testing.T) {
			msg := Normalize(raw, now)
			if msg.ID != "m1" {
				t.Errorf("ID = %q, want m1", msg.ID)
			}
			if msg.RoomID != "999" {
				t.Errorf("RoomID = %q, want 999", msg.RoomID)
			}
			if msg.Content != "hello" {
				t.Errorf("Content = %q", msg.Content)
			}
			if msg.SenderID != "123" || msg.SenderUsername != "viewer" || msg.SenderSlug != "slug-viewer" {
				t.Errorf("sender = %q/%q/%q", msg.SenderID, msg.SenderUsername, msg.SenderSlug)
			}
			if msg.Color != "#FF0000" {
				t.Errorf("Color = %q", msg.Color)
			}
			if len(msg.Badges) != 1 || msg.Badges[0] != (Badge{Text: "Subscriber", Type: "subscriber", Count: 3}) {
				t.Errorf("Badges = %+v", msg.Badges)
			}
			if msg.CreatedAt.Format(time.RFC3339) != testutil.Timestamp {
				t.Errorf("CreatedAt = %v", msg.CreatedAt)
			}
		})
	}
}

func TestNormalize_IDFallbacks(t *testing.T) {
	now := time.UnixMilli(1736938800000)

	t.Run("platform id", func(t *testing.T) {
		raw := testutil.ChatPayload("", "viewer", "hi")
		delete(raw, "message_id")
		raw["id"] = "platform-7"
		if got := Normalize(raw, now).ID; got != "platform-7" {
			t.Errorf("ID = %q, want platform-7", got)
		}
	})

	t.Run("generated id", func(t *testing.T) {
		raw := testutil.ChatPayload("", "viewer", "hi")
		delete(raw, "message_id")
		first := Normalize(raw, now)
		if !strings.HasPrefix(first.ID, "gen-") || !strings.HasSuffix(first.ID, "-1736938800000") {
			t.Errorf("ID = %q, want gen-<hash>-<millis>", first.ID)
		}
		again := Normalize(raw, now)
		if first.ID != again.ID {
			t.Errorf("generated ids differ for identical input: %q vs %q", first.ID, again.ID)
		}
		raw["content"] = "different"
		if other := Normalize(raw, now); other.ID == first.ID {
			t.Error("generated id did not change with content")
		}
	})

	t.Run("missing timestamp uses now", func(t *testing.T) {
		raw := testutil.ChatPayload("m1", "viewer", "hi")
		delete(raw, "created_at")
		if got := Normalize(raw, now).CreatedAt; !got.Equal(now) {
			t.Errorf("CreatedAt = %v, want %v", got, now)
		}
	})
}

func TestFromEvent(t *testing.T) {
	data := events.ChatMessageData{
		MessageID: "m9",
		Content:   "gg",
		Sender: events.ChatUser{
			UserID:      "5",
			Username:    "viewer",
			ChannelSlug: "viewer",
			Identity: &events.Identity{
				UsernameColor: "#00FF00",
				Badges:        []events.Badge{{Text: "VIP", Type: "vip"}},
			},
		},
		Broadcaster: events.ChatUser{UserID: "999"},
	}
	msg := FromEvent(nil, data, time.Now())
	if msg.ID != "m9" || msg.RoomID != "999" || msg.Color != "#00FF00" {
		t.Errorf("FromEvent() = %+v", msg)
	}
	if len(msg.Badges) != 1 || msg.Badges[0].Type != "vip" {
		t.Errorf("Badges = %+v", msg.Badges)
	}
	if msg.CreatedAt.IsZero() {
		t.Error("CreatedAt should default to now")
	}
}

func TestNormalize_LooseFields(t *testing.T) {
	now := time.Date(2025, 1, 15, 11, 0, 0, 0, time.UTC)
	raw := map[string]any{
		"message_id":  json.Number("77"),
		"content":     "hi",
		"chatroom_id": float64(4021),
		"created_at":  "not a time",
		"sender": map[string]any{
			"id":       int64(5),
			"username": "viewer",
			"slug":     "viewer-slug",
			"identity": map[string]any{
				"badges": []any{
					map[string]any{"text": "Sub", "type": "subscriber", "count": "6"},
					"broken",
				},
			},
		},
	}

	msg := Normalize(raw, now)
	if msg.ID != "77" || msg.RoomID != "4021" || msg.SenderID != "5" || msg.SenderSlug != "viewer-slug" {
		t.Errorf("Normalize() = %+v", msg)
	}
	if len(msg.Badges) != 1 || msg.Badges[0] != (Badge{Text: "Sub", Type: "subscriber", Count: 6}) {
		t.Errorf("Badges = %+v", msg.Badges)
	}
	if !msg.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", msg.CreatedAt, now)
	}
}

func TestFromEvent_ParsedWithoutMessageID(t *testing.T) {
	parser := events.NewParser(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	raw := testutil.ChatPayload("", "viewer", "hi")
	delete(raw, "message_id")

	env, ok := parser.Parse(context.Background(), raw, string(events.TypeChatMessage))
	if !ok {
		t.Fatal("Parse() ok = false, want true")
	}
	msg := FromEvent(env, env.Data.(events.ChatMessageData), time.Now())
	if !strings.HasPrefix(msg.ID, "gen-") || msg.ID != env.ID {
		t.Errorf("ID = %q, want generated envelope id %q", msg.ID, env.ID)
	}
	if msg.SenderUsername != "viewer" || msg.Content != "hi" {
		t.Errorf("FromEvent() = %+v", msg)
	}
}
