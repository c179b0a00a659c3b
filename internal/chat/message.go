// Package chat normalizes the chat-message webhook shapes into one canonical
// record for the chat bot.
//
// Chat messages do not arrive in the enveloped shape used by the other event
// types. Four shapes are recognized:
//
//   - an explicit chat.message.sent type hint from the transport header;
//   - direct flat fields (content plus sender or message_id at the top level);
//   - an "event" (or "type") discriminator equal to chat.message.sent;
//   - a legacy wrapper nesting the message under "data" or "message".
package chat

import (
	"strings"
	"time"

	"github.com/tjfontaine/kickhook/internal/events"
)

// Message is the canonical chat record forwarded to the bot.
type Message struct {
	ID             string    `json:"id"`
	RoomID         string    `json:"room_id"`
	Content        string    `json:"content"`
	SenderID       string    `json:"sender_id"`
	SenderUsername string    `json:"sender_username"`
	SenderSlug     string    `json:"sender_slug"`
	Color          string    `json:"color,omitempty"`
	Badges         []Badge   `json:"badges"`
	CreatedAt      time.Time `json:"created_at"`
}

type Badge struct {
	Text  string `json:"text" mapstructure:"text"`
	Type  string `json:"type" mapstructure:"type"`
	Count int    `json:"count" mapstructure:"count"`
}

// Detect reports whether raw is a chat message in any of the four shapes.
func Detect(raw map[string]any, hint string) bool {
	if hint == string(events.TypeChatMessage) {
		return true
	}
	if raw == nil {
		return false
	}
	if isFlatMessage(raw) {
		return true
	}
	if discriminator(raw) == string(events.TypeChatMessage) {
		return true
	}
	_, nested := legacyBody(raw)
	return nested
}

func discriminator(raw map[string]any) string {
	if s, ok := raw["event"].(string); ok && s != "" {
		return s
	}
	s, _ := raw["type"].(string)
	return s
}

func isFlatMessage(m map[string]any) bool {
	if _, ok := m["content"].(string); !ok {
		return false
	}
	_, hasSender := m["sender"].(map[string]any)
	_, hasID := m["message_id"]
	return hasSender || hasID
}

// legacyBody unwraps the legacy nested shape.
func legacyBody(raw map[string]any) (map[string]any, bool) {
	for _, key := range []string{"data", "message"} {
		inner, ok := raw[key].(map[string]any)
		if !ok {
			continue
		}
		if _, hasContent := inner["content"].(string); !hasContent {
			continue
		}
		if _, hasSender := inner["sender"].(map[string]any); hasSender {
			return inner, true
		}
	}
	return nil, false
}

// wireMessage is a chat body decoded loosely; any field may be missing.
type wireMessage struct {
	MessageID   string   `mapstructure:"message_id"`
	ID          string   `mapstructure:"id"`
	ChatroomID  string   `mapstructure:"chatroom_id"`
	ChannelID   string   `mapstructure:"channel_id"`
	Content     string   `mapstructure:"content"`
	CreatedAt   string   `mapstructure:"created_at"`
	Sender      wireUser `mapstructure:"sender"`
	Broadcaster wireUser `mapstructure:"broadcaster"`
}

type wireUser struct {
	ID          string `mapstructure:"id"`
	UserID      string `mapstructure:"user_id"`
	Username    string `mapstructure:"username"`
	ChannelSlug string `mapstructure:"channel_slug"`
	Slug        string `mapstructure:"slug"`
	Identity    struct {
		UsernameColor string  `mapstructure:"username_color"`
		Badges        []Badge `mapstructure:"badges"`
	} `mapstructure:"identity"`
}

// envelopeIDs holds the wrapper fields consulted when the body lacks them.
type envelopeIDs struct {
	ID        string `mapstructure:"id"`
	ChannelID string `mapstructure:"channel_id"`
}

// Normalize builds the canonical record from any detected shape without
// schema validation. now stamps generated ids and missing timestamps.
// Fields of an unexpected shape are treated as absent.
func Normalize(raw map[string]any, now time.Time) Message {
	body := raw
	if !isFlatMessage(raw) {
		if inner, ok := legacyBody(raw); ok {
			body = inner
		}
	}

	var w wireMessage
	_ = events.DecodeLoose(body, &w)
	var outer envelopeIDs
	_ = events.DecodeLoose(raw, &outer)

	msg := Message{
		RoomID:         firstString(w.ChatroomID, w.Broadcaster.UserID, w.ChannelID, outer.ChannelID),
		Content:        w.Content,
		SenderID:       firstString(w.Sender.UserID, w.Sender.ID),
		SenderUsername: w.Sender.Username,
		SenderSlug:     firstString(w.Sender.ChannelSlug, w.Sender.Slug),
		Color:          w.Sender.Identity.UsernameColor,
		Badges:         []Badge{},
		CreatedAt:      parseTime(w.CreatedAt, now),
	}
	for _, b := range w.Sender.Identity.Badges {
		if b != (Badge{}) {
			msg.Badges = append(msg.Badges, b)
		}
	}
	msg.ID = messageID(firstString(w.MessageID, w.ID, outer.ID), msg.SenderID, msg.Content, now)
	return msg
}

// FromEvent builds the canonical record from a parsed chat event.
func FromEvent(env *events.Envelope, data events.ChatMessageData, now time.Time) Message {
	msg := Message{
		RoomID:         data.RoomID(),
		Content:        data.Content,
		SenderID:       data.Sender.UserID,
		SenderUsername: data.Sender.Username,
		SenderSlug:     data.Sender.ChannelSlug,
		Badges:         []Badge{},
		CreatedAt:      data.CreatedAt,
	}
	if id := data.Sender.Identity; id != nil {
		msg.Color = id.UsernameColor
		for _, b := range id.Badges {
			msg.Badges = append(msg.Badges, Badge{Text: b.Text, Type: b.Type, Count: b.Count})
		}
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	platformID := data.MessageID
	if platformID == "" && env != nil {
		platformID = env.ID
	}
	msg.ID = messageID(platformID, msg.SenderID, msg.Content, now)
	return msg
}

func messageID(platformID, senderID, content string, now time.Time) string {
	if platformID != "" {
		return platformID
	}
	return events.GenerateMessageID(senderID, content, now)
}

func firstString(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseTime(s string, fallback time.Time) time.Time {
	if s == "" {
		return fallback
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fallback
	}
	return ts
}
