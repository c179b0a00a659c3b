// Package actions builds the per-event-type Action Configurations that gate
// handler side effects. Every option has a documented default; an option
// present with the wrong type is dropped with a warning and the default is
// used instead.
package actions

import (
	"encoding/json"
	"log/slog"
	"math"
)

// Option names as they appear under actions.<event> in the config file.
const (
	OptSendChatMessage         = "send_chat_message"
	OptAwardPoints             = "award_points"
	OptPointsToAward           = "points_to_award"
	OptSendThankYouChatMessage = "send_thank_you_chat_message"
	OptAwardPointsToGifter     = "award_points_to_gifter"
	OptPointsToGifterPerSub    = "points_to_gifter_per_sub"
	OptAwardPointsToRecipients = "award_points_to_recipients"
	OptPointsToRecipient       = "points_to_recipient"
)

// Follow controls the channel.followed handler.
type Follow struct {
	SendChatMessage bool // default true
}

// Subscription controls the new-subscription and renewal handlers.
type Subscription struct {
	SendChatMessage bool // default true
	AwardPoints     bool // default true
	PointsToAward   int  // default 100
}

// GiftedSubscription controls the channel.subscription.gifts handler.
type GiftedSubscription struct {
	SendThankYouChatMessage bool // default true
	AwardPointsToGifter     bool // default true
	PointsToGifterPerSub    int  // default 50
	AwardPointsToRecipients bool // default true
	PointsToRecipient       int  // default 25
}

// Set holds the configuration of every handler that has options.
type Set struct {
	Follow              Follow
	NewSubscription     Subscription
	SubscriptionRenewal Subscription
	GiftedSubscription  GiftedSubscription
}

// Raw is the unvalidated input, one mapping per event. A nil mapping yields
// all defaults for that event.
type Raw struct {
	Follow              map[string]any
	NewSubscription     map[string]any
	SubscriptionRenewal map[string]any
	GiftedSubscription  map[string]any
}

// Defaults returns the configuration used when nothing is configured.
func Defaults() Set {
	return Set{
		Follow:              Follow{SendChatMessage: true},
		NewSubscription:     Subscription{SendChatMessage: true, AwardPoints: true, PointsToAward: 100},
		SubscriptionRenewal: Subscription{SendChatMessage: true, AwardPoints: true, PointsToAward: 100},
		GiftedSubscription: GiftedSubscription{
			SendThankYouChatMessage: true,
			AwardPointsToGifter:     true,
			PointsToGifterPerSub:    50,
			AwardPointsToRecipients: true,
			PointsToRecipient:       25,
		},
	}
}

// Load validates raw into a Set.
func Load(raw Raw, logger *slog.Logger) Set {
	if logger == nil {
		logger = slog.Default()
	}
	d := Defaults()
	return Set{
		Follow:              LoadFollow(raw.Follow, logger),
		NewSubscription:     loadSubscription("new_subscription", raw.NewSubscription, d.NewSubscription, logger),
		SubscriptionRenewal: loadSubscription("subscription_renewal", raw.SubscriptionRenewal, d.SubscriptionRenewal, logger),
		GiftedSubscription:  LoadGiftedSubscription(raw.GiftedSubscription, logger),
	}
}

// LoadFollow validates the actions.follow mapping.
func LoadFollow(raw map[string]any, logger *slog.Logger) Follow {
	d := Defaults().Follow
	r := reader{section: "follow", raw: raw, logger: logger}
	return Follow{
		SendChatMessage: r.boolean(OptSendChatMessage, d.SendChatMessage),
	}
}

// LoadNewSubscription validates the actions.new_subscription mapping.
func LoadNewSubscription(raw map[string]any, logger *slog.Logger) Subscription {
	return loadSubscription("new_subscription", raw, Defaults().NewSubscription, logger)
}

// LoadSubscriptionRenewal validates the actions.subscription_renewal mapping.
func LoadSubscriptionRenewal(raw map[string]any, logger *slog.Logger) Subscription {
	return loadSubscription("subscription_renewal", raw, Defaults().SubscriptionRenewal, logger)
}

func loadSubscription(section string, raw map[string]any, d Subscription, logger *slog.Logger) Subscription {
	r := reader{section: section, raw: raw, logger: logger}
	return Subscription{
		SendChatMessage: r.boolean(OptSendChatMessage, d.SendChatMessage),
		AwardPoints:     r.boolean(OptAwardPoints, d.AwardPoints),
		PointsToAward:   r.integer(OptPointsToAward, d.PointsToAward),
	}
}

// LoadGiftedSubscription validates the actions.gifted_subscription mapping.
func LoadGiftedSubscription(raw map[string]any, logger *slog.Logger) GiftedSubscription {
	d := Defaults().GiftedSubscription
	r := reader{section: "gifted_subscription", raw: raw, logger: logger}
	return GiftedSubscription{
		SendThankYouChatMessage: r.boolean(OptSendThankYouChatMessage, d.SendThankYouChatMessage),
		AwardPointsToGifter:     r.boolean(OptAwardPointsToGifter, d.AwardPointsToGifter),
		PointsToGifterPerSub:    r.integer(OptPointsToGifterPerSub, d.PointsToGifterPerSub),
		AwardPointsToRecipients: r.boolean(OptAwardPointsToRecipients, d.AwardPointsToRecipients),
		PointsToRecipient:       r.integer(OptPointsToRecipient, d.PointsToRecipient),
	}
}

type reader struct {
	section string
	raw     map[string]any
	logger  *slog.Logger
}

func (r reader) boolean(key string, def bool) bool {
	v, ok := r.raw[key]
	if !ok || v == nil {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		r.invalid(key, v, def)
		return def
	}
	return b
}

func (r reader) integer(key string, def int) int {
	v, ok := r.raw[key]
	if !ok || v == nil {
		return def
	}
	n, ok := wholeNumber(v)
	if !ok {
		r.invalid(key, v, def)
		return def
	}
	return n
}

func (r reader) invalid(key string, value any, def any) {
	r.logger.Warn("invalid action option, using default",
		slog.String("section", r.section),
		slog.String("option", key),
		slog.Any("value", value),
		slog.Any("default", def))
}

func wholeNumber(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case int32:
		return int(t), true
	case uint64:
		return int(t), true
	case float64:
		if t != math.Trunc(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return int(t), true
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}
