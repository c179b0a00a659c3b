// Package events defines the typed webhook events accepted by the service,
// the schema registry that describes their wire shape, and the parser that
// turns raw JSON mappings into Envelopes.
package events

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// EventType is the wire tag that identifies a webhook event.
type EventType string

const (
	TypeFollow              EventType = "channel.followed"
	TypeNewSubscription     EventType = "channel.subscription.new"
	TypeGiftedSubscription  EventType = "channel.subscription.gifts"
	TypeSubscriptionRenewal EventType = "channel.subscription.renewal"
	TypeChatMessage         EventType = "chat.message.sent"

	// TypeLivestreamStatus has no schema; it is handled from the raw payload.
	TypeLivestreamStatus EventType = "livestream.status.updated"
)

// Data is the type-specific payload of an Envelope. The set of
// implementations is closed to this package.
type Data interface {
	EventType() EventType
	sealed()
}

// Envelope carries the metadata common to every parsed event.
type Envelope struct {
	ID        string
	Type      EventType
	ChannelID string
	CreatedAt time.Time
	Data      Data
}

// NewEnvelope builds an Envelope, failing when the Data variant does not
// belong to the given tag or when required metadata is missing.
func NewEnvelope(id string, eventType EventType, channelID string, createdAt time.Time, data Data) (*Envelope, error) {
	var errs []error
	if strings.TrimSpace(id) == "" {
		errs = append(errs, errors.New("id: required"))
	}
	if strings.TrimSpace(channelID) == "" {
		errs = append(errs, errors.New("channel_id: required"))
	}
	if createdAt.IsZero() {
		errs = append(errs, errors.New("created_at: required"))
	}
	if data == nil {
		errs = append(errs, errors.New("data: required"))
	} else if data.EventType() != eventType {
		errs = append(errs, fmt.Errorf("data: variant %s does not match tag %s", data.EventType(), eventType))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return &Envelope{
		ID:        id,
		Type:      eventType,
		ChannelID: channelID,
		CreatedAt: createdAt,
		Data:      data,
	}, nil
}

// User identifies a platform account.
type User struct {
	ID       string `mapstructure:"id"`
	Username string `mapstructure:"username"`
}

func (u User) validate(field string) []error {
	var errs []error
	if strings.TrimSpace(u.ID) == "" {
		errs = append(errs, fmt.Errorf("%s.id: required", field))
	}
	if strings.TrimSpace(u.Username) == "" {
		errs = append(errs, fmt.Errorf("%s.username: required", field))
	}
	return errs
}

// FollowData is the payload of channel.followed.
type FollowData struct {
	Follower   User      `mapstructure:"follower"`
	FollowedAt time.Time `mapstructure:"followed_at"`
}

func (FollowData) EventType() EventType { return TypeFollow }
func (FollowData) sealed()              {}

func (d FollowData) Validate() error {
	errs := d.Follower.validate("follower")
	if d.FollowedAt.IsZero() {
		errs = append(errs, errors.New("followed_at: required"))
	}
	return errors.Join(errs...)
}

// Subscription holds the fields shared by new subscriptions and renewals.
// The wire field "duration" is the number of months subscribed.
type Subscription struct {
	Subscriber User      `mapstructure:"subscriber"`
	Tier       string    `mapstructure:"tier"`
	Months     int       `mapstructure:"duration"`
	CreatedAt  time.Time `mapstructure:"created_at"`
	ExpiresAt  time.Time `mapstructure:"expires_at"`
}

func (s Subscription) Validate() error {
	errs := s.Subscriber.validate("subscriber")
	if s.CreatedAt.IsZero() {
		errs = append(errs, errors.New("created_at: required"))
	}
	if s.ExpiresAt.IsZero() {
		errs = append(errs, errors.New("expires_at: required"))
	}
	if s.Months < 0 {
		errs = append(errs, fmt.Errorf("duration: must not be negative, got %d", s.Months))
	}
	return errors.Join(errs...)
}

// NewSubscriptionData is the payload of channel.subscription.new.
type NewSubscriptionData struct {
	Subscription `mapstructure:",squash"`
}

func (NewSubscriptionData) EventType() EventType { return TypeNewSubscription }
func (NewSubscriptionData) sealed()              {}

// SubscriptionRenewalData is the payload of channel.subscription.renewal.
type SubscriptionRenewalData struct {
	Subscription `mapstructure:",squash"`
}

func (SubscriptionRenewalData) EventType() EventType { return TypeSubscriptionRenewal }
func (SubscriptionRenewalData) sealed()              {}

// GiftedSubscriptionData is the payload of channel.subscription.gifts.
// Gifter is nil for anonymous gifts. The wire field "recipients" holds the
// giftees in the order the platform sent them.
type GiftedSubscriptionData struct {
	Gifter    *User     `mapstructure:"gifter"`
	Giftees   []User    `mapstructure:"recipients"`
	Tier      string    `mapstructure:"tier"`
	CreatedAt time.Time `mapstructure:"created_at"`
	ExpiresAt time.Time `mapstructure:"expires_at"`
}

func (GiftedSubscriptionData) EventType() EventType { return TypeGiftedSubscription }
func (GiftedSubscriptionData) sealed()              {}

func (d GiftedSubscriptionData) Validate() error {
	if len(d.Giftees) == 0 {
		return errors.New("recipients: at least one giftee required")
	}
	var errs []error
	for i, g := range d.Giftees {
		errs = append(errs, g.validate(fmt.Sprintf("recipients[%d]", i))...)
	}
	if d.CreatedAt.IsZero() {
		errs = append(errs, errors.New("created_at: required"))
	}
	if d.ExpiresAt.IsZero() {
		errs = append(errs, errors.New("expires_at: required"))
	}
	return errors.Join(errs...)
}

// GifteeNames returns the giftee usernames in order.
func (d GiftedSubscriptionData) GifteeNames() []string {
	names := make([]string, 0, len(d.Giftees))
	for _, g := range d.Giftees {
		names = append(names, g.Username)
	}
	return names
}

// ChatMessageData is the flat payload of chat.message.sent. MessageID and
// CreatedAt may be absent.
type ChatMessageData struct {
	MessageID   string    `mapstructure:"message_id"`
	ChatroomID  string    `mapstructure:"chatroom_id"`
	Content     string    `mapstructure:"content"`
	CreatedAt   time.Time `mapstructure:"created_at"`
	Sender      ChatUser  `mapstructure:"sender"`
	Broadcaster ChatUser  `mapstructure:"broadcaster"`
	Emotes      []Emote   `mapstructure:"emotes"`
}

func (ChatMessageData) EventType() EventType { return TypeChatMessage }
func (ChatMessageData) sealed()              {}

func (d ChatMessageData) Validate() error {
	if strings.TrimSpace(d.Sender.Username) == "" {
		return errors.New("sender.username: required")
	}
	return nil
}

// GenerateMessageID derives a pseudo-id for a chat message that arrived
// without one, so downstream de-duplication still has a key.
func GenerateMessageID(senderID, content string, at time.Time) string {
	sum := sha256.Sum256([]byte(senderID + "|" + content))
	return fmt.Sprintf("gen-%s-%d", hex.EncodeToString(sum[:])[:16], at.UnixMilli())
}

// RoomID returns the chatroom the message was posted to, falling back to the
// broadcaster's user id.
func (d ChatMessageData) RoomID() string {
	if d.ChatroomID != "" {
		return d.ChatroomID
	}
	return d.Broadcaster.UserID
}

// ChatUser is a sender or broadcaster as it appears in chat payloads.
type ChatUser struct {
	UserID         string    `mapstructure:"user_id"`
	Username       string    `mapstructure:"username"`
	ChannelSlug    string    `mapstructure:"channel_slug"`
	IsVerified     bool      `mapstructure:"is_verified"`
	ProfilePicture string    `mapstructure:"profile_picture"`
	Identity       *Identity `mapstructure:"identity"`
}

// Identity holds the chat presentation of a user.
type Identity struct {
	UsernameColor string  `mapstructure:"username_color"`
	Badges        []Badge `mapstructure:"badges"`
}

type Badge struct {
	Text  string `mapstructure:"text"`
	Type  string `mapstructure:"type"`
	Count int    `mapstructure:"count"`
}

type Emote struct {
	EmoteID   string          `mapstructure:"emote_id"`
	Positions []EmotePosition `mapstructure:"positions"`
}

type EmotePosition struct {
	Start int `mapstructure:"s"`
	End   int `mapstructure:"e"`
}
