// Package handlers implements the per-event business logic: thank-you chat
// messages, point-award intents, chat forwarding and the liveness flag.
//
// Every handler checks the global processing flag first. Side-effect failures
// (chat send, point awards, keyword forwarding) are logged where they happen
// and never returned.
package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tjfontaine/kickhook/internal/actions"
	"github.com/tjfontaine/kickhook/internal/chat"
	"github.com/tjfontaine/kickhook/internal/dispatch"
	"github.com/tjfontaine/kickhook/internal/events"
	"github.com/tjfontaine/kickhook/internal/points"
)

// Bot is the long-lived chat client that owns outbound messaging.
type Bot interface {
	SendText(ctx context.Context, message string) error
	HandleChatMessage(ctx context.Context, msg chat.Message) error
	AwardGiftPoints(ctx context.Context, username string, count int) error
	SetLive(live bool)
}

// Forwarder relays chat messages that contain a trigger keyword.
type Forwarder interface {
	Matches(content string) bool
	Forward(ctx context.Context, nickname, text string) error
}

// Deps holds the collaborators shared by all handlers. Ledger and Keyword are
// optional.
type Deps struct {
	Logger            *slog.Logger
	Bot               Bot
	Ledger            points.Ledger
	Keyword           Forwarder
	Actions           actions.Set
	ProcessingEnabled bool
	Now               func() time.Time
}

// Handlers carries the event handlers and their collaborators.
type Handlers struct {
	logger     *slog.Logger
	bot        Bot
	ledger     points.Ledger
	keyword    Forwarder
	actions    actions.Set
	processing bool
	now        func() time.Time
}

// New builds the handlers. A nil Logger means slog.Default and a nil Now
// means time.Now.
func New(deps Deps) *Handlers {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Handlers{
		logger:     logger,
		bot:        deps.Bot,
		ledger:     deps.Ledger,
		keyword:    deps.Keyword,
		actions:    deps.Actions,
		processing: deps.ProcessingEnabled,
		now:        now,
	}
}

// Register installs the typed handlers on d.
func (h *Handlers) Register(d *dispatch.Dispatcher) {
	d.Register(events.TypeFollow, dispatch.NewHandler("follow", h.Follow))
	d.Register(events.TypeNewSubscription, dispatch.NewHandler("new_subscription", h.NewSubscription))
	d.Register(events.TypeGiftedSubscription, dispatch.NewHandler("gifted_subscription", h.GiftedSubscription))
	d.Register(events.TypeSubscriptionRenewal, dispatch.NewHandler("subscription_renewal", h.SubscriptionRenewal))
	d.Register(events.TypeChatMessage, dispatch.NewHandler("chat_message", h.ChatMessage))
}

// Follow thanks a new follower in chat.
func (h *Handlers) Follow(ctx context.Context, env *events.Envelope, _ map[string]any) error {
	if h.skipped(ctx, events.TypeFollow, env.ID) {
		return nil
	}
	data, ok := env.Data.(events.FollowData)
	if !ok {
		return unexpectedData(env)
	}

	h.logger.InfoContext(ctx, "new follower",
		slog.String("event_id", env.ID),
		slog.String("channel_id", env.ChannelID),
		slog.String("username", data.Follower.Username),
		slog.String("user_id", data.Follower.ID),
		slog.Time("followed_at", data.FollowedAt))

	if h.actions.Follow.SendChatMessage {
		h.send(ctx, env.ID, fmt.Sprintf("Thanks for following, %s!", data.Follower.Username))
	}
	return nil
}

// NewSubscription welcomes a subscriber and awards subscription points.
func (h *Handlers) NewSubscription(ctx context.Context, env *events.Envelope, _ map[string]any) error {
	if h.skipped(ctx, events.TypeNewSubscription, env.ID) {
		return nil
	}
	data, ok := env.Data.(events.NewSubscriptionData)
	if !ok {
		return unexpectedData(env)
	}

	h.logSubscription(ctx, "new subscription", env, data.Subscription)

	cfg := h.actions.NewSubscription
	if cfg.SendChatMessage {
		h.send(ctx, env.ID, fmt.Sprintf("Welcome to the community, %s! Thanks for subscribing!", data.Subscriber.Username))
	}
	if cfg.AwardPoints {
		h.award(ctx, points.Award{
			EventID:  env.ID,
			Username: data.Subscriber.Username,
			UserID:   data.Subscriber.ID,
			Points:   cfg.PointsToAward,
			Reason:   points.ReasonNewSubscription,
		})
	}
	return nil
}

// SubscriptionRenewal thanks a resubscriber and awards renewal points.
func (h *Handlers) SubscriptionRenewal(ctx context.Context, env *events.Envelope, _ map[string]any) error {
	if h.skipped(ctx, events.TypeSubscriptionRenewal, env.ID) {
		return nil
	}
	data, ok := env.Data.(events.SubscriptionRenewalData)
	if !ok {
		return unexpectedData(env)
	}

	h.logSubscription(ctx, "subscription renewal", env, data.Subscription)

	cfg := h.actions.SubscriptionRenewal
	if cfg.SendChatMessage {
		h.send(ctx, env.ID, renewalMessage(data.Subscriber.Username, data.Months))
	}
	if cfg.AwardPoints {
		h.award(ctx, points.Award{
			EventID:  env.ID,
			Username: data.Subscriber.Username,
			UserID:   data.Subscriber.ID,
			Points:   cfg.PointsToAward,
			Reason:   points.ReasonSubscriptionRenewal,
		})
	}
	return nil
}

// GiftedSubscription is the only handler that receives the raw payload; it
// is used to recover gifter fields the typed schema does not carry.
func (h *Handlers) GiftedSubscription(ctx context.Context, env *events.Envelope, raw map[string]any) error {
	if h.skipped(ctx, events.TypeGiftedSubscription, env.ID) {
		return nil
	}
	data, ok := env.Data.(events.GiftedSubscriptionData)
	if !ok {
		return unexpectedData(env)
	}

	gifter := ResolveGifter(data, raw)
	giftees := data.GifteeNames()
	count := len(giftees)

	h.logger.InfoContext(ctx, "gifted subscriptions",
		slog.String("event_id", env.ID),
		slog.String("channel_id", env.ChannelID),
		slog.String("gifter", gifter.Username),
		slog.String("gifter_id", gifter.ID),
		slog.Int("count", count),
		slog.String("giftees", strings.Join(giftees, ", ")),
		slog.String("tier", data.Tier),
		slog.Time("expires_at", data.ExpiresAt))

	cfg := h.actions.GiftedSubscription
	if cfg.SendThankYouChatMessage {
		h.send(ctx, env.ID, giftMessage(gifter.Username, giftees))
	}

	switch {
	case !cfg.AwardPointsToGifter:
	case gifter.Anonymous():
		h.logger.InfoContext(ctx, "anonymous gifter, skipping gifter points",
			slog.String("event_id", env.ID))
	default:
		if h.bot != nil {
			if err := h.bot.AwardGiftPoints(ctx, gifter.Username, count); err != nil {
				h.logger.ErrorContext(ctx, "failed to award gift points",
					slog.String("event_id", env.ID),
					slog.String("username", gifter.Username),
					slog.Int("count", count),
					slog.String("error", err.Error()))
			}
		}
		h.award(ctx, points.Award{
			EventID:  env.ID,
			Username: gifter.Username,
			UserID:   gifter.ID,
			Points:   cfg.PointsToGifterPerSub * count,
			Reason:   points.ReasonGiftGifter,
		})
	}

	if cfg.AwardPointsToRecipients {
		for _, g := range data.Giftees {
			h.award(ctx, points.Award{
				EventID:  env.ID,
				Username: g.Username,
				UserID:   g.ID,
				Points:   cfg.PointsToRecipient,
				Reason:   points.ReasonGiftRecipient,
			})
		}
	}
	return nil
}

// ChatMessage handles the typed chat.message.sent event.
func (h *Handlers) ChatMessage(ctx context.Context, env *events.Envelope, _ map[string]any) error {
	if h.skipped(ctx, events.TypeChatMessage, env.ID) {
		return nil
	}
	data, ok := env.Data.(events.ChatMessageData)
	if !ok {
		return unexpectedData(env)
	}
	h.chat(ctx, chat.FromEvent(env, data, h.now()))
	return nil
}

// HandleChat handles a chat message that was normalized straight from the
// inbound payload.
func (h *Handlers) HandleChat(ctx context.Context, msg chat.Message) {
	if h.skipped(ctx, events.TypeChatMessage, msg.ID) {
		return
	}
	h.chat(ctx, msg)
}

func (h *Handlers) chat(ctx context.Context, msg chat.Message) {
	h.logger.InfoContext(ctx, "chat message",
		slog.String("message_id", msg.ID),
		slog.String("room_id", msg.RoomID),
		slog.String("sender", msg.SenderUsername),
		slog.String("sender_id", msg.SenderID),
		slog.Int("badges", len(msg.Badges)))

	if h.keyword != nil && h.keyword.Matches(msg.Content) {
		if err := h.keyword.Forward(ctx, msg.SenderUsername, msg.Content); err != nil {
			h.logger.WarnContext(ctx, "keyword forward failed",
				slog.String("message_id", msg.ID),
				slog.String("error", err.Error()))
		}
	}

	if h.bot == nil {
		return
	}
	if err := h.bot.HandleChatMessage(ctx, msg); err != nil {
		h.logger.ErrorContext(ctx, "failed to forward chat message",
			slog.String("message_id", msg.ID),
			slog.String("error", err.Error()))
	}
}

// LivestreamStatus updates the bot's liveness flag from a
// livestream.status.updated payload.
func (h *Handlers) LivestreamStatus(ctx context.Context, raw map[string]any) {
	id, _ := raw["id"].(string)
	if h.skipped(ctx, events.TypeLivestreamStatus, id) {
		return
	}

	live, ok := liveFlag(raw)
	if !ok {
		h.logger.WarnContext(ctx, "livestream status without is_live",
			slog.String("event_id", id))
		return
	}

	h.logger.InfoContext(ctx, "livestream status",
		slog.String("event_id", id),
		slog.Bool("is_live", live),
		slog.String("title", stringField(raw, "title")))

	if h.bot != nil {
		h.bot.SetLive(live)
	}
}

func (h *Handlers) skipped(ctx context.Context, t events.EventType, eventID string) bool {
	if h.processing {
		return false
	}
	h.logger.InfoContext(ctx, "processing disabled, skipping event",
		slog.String("event_type", string(t)),
		slog.String("event_id", eventID))
	return true
}

func (h *Handlers) send(ctx context.Context, eventID, message string) {
	if h.bot == nil {
		return
	}
	if err := h.bot.SendText(ctx, message); err != nil {
		h.logger.ErrorContext(ctx, "failed to send chat message",
			slog.String("event_id", eventID),
			slog.String("error", err.Error()))
	}
}

// award logs the points intent and records it when a ledger is configured.
func (h *Handlers) award(ctx context.Context, a points.Award) {
	a.CreatedAt = h.now()
	h.logger.InfoContext(ctx, "points award intent",
		slog.String("event_id", a.EventID),
		slog.String("username", a.Username),
		slog.String("user_id", a.UserID),
		slog.Int("points", a.Points),
		slog.String("reason", string(a.Reason)))

	if h.ledger == nil {
		return
	}
	if err := h.ledger.Record(ctx, a); err != nil {
		h.logger.ErrorContext(ctx, "failed to record points award",
			slog.String("event_id", a.EventID),
			slog.String("username", a.Username),
			slog.String("error", err.Error()))
	}
}

func (h *Handlers) logSubscription(ctx context.Context, msg string, env *events.Envelope, s events.Subscription) {
	h.logger.InfoContext(ctx, msg,
		slog.String("event_id", env.ID),
		slog.String("channel_id", env.ChannelID),
		slog.String("username", s.Subscriber.Username),
		slog.String("user_id", s.Subscriber.ID),
		slog.String("tier", s.Tier),
		slog.Int("months", s.Months),
		slog.Time("expires_at", s.ExpiresAt))
}

func renewalMessage(username string, months int) string {
	if months <= 0 {
		return fmt.Sprintf("Thanks for resubscribing, %s!", username)
	}
	return fmt.Sprintf("Thanks for resubscribing, %s! %d months of support!", username, months)
}

func giftMessage(gifter string, giftees []string) string {
	if len(giftees) == 1 {
		return fmt.Sprintf("Wow! %s just gifted a sub to %s! Thanks so much!", gifter, giftees[0])
	}
	return fmt.Sprintf("Wow! %s just gifted %d subs to the community! Thanks so much! Welcome %s!",
		gifter, len(giftees), strings.Join(giftees, ", "))
}

func unexpectedData(env *events.Envelope) error {
	return fmt.Errorf("event %s: unexpected data %T for %s", env.ID, env.Data, env.Type)
}

func liveFlag(raw map[string]any) (bool, bool) {
	if v, ok := raw["is_live"].(bool); ok {
		return v, true
	}
	if data, ok := raw["data"].(map[string]any); ok {
		if v, ok := data["is_live"].(bool); ok {
			return v, true
		}
	}
	return false, false
}

func stringField(raw map[string]any, key string) string {
	s, _ := raw[key].(string)
	return s
}
