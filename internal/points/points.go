// Package points defines the ledger that records point-award intents
// produced by event handlers.
package points

import (
	"context"
	"time"
)

// Reason explains why points were awarded.
type Reason string

const (
	ReasonNewSubscription     Reason = "new_subscription"
	ReasonSubscriptionRenewal Reason = "subscription_renewal"
	ReasonGiftGifter          Reason = "gift_gifter"
	ReasonGiftRecipient       Reason = "gift_recipient"
)

// Award is one point-award intent.
type Award struct {
	EventID   string    `json:"event_id"`
	Username  string    `json:"username"`
	UserID    string    `json:"user_id,omitempty"`
	Points    int       `json:"points"`
	Reason    Reason    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// Ledger records point awards.
// Implementations: memory (tests, ephemeral), sqlite, redis.
type Ledger interface {
	Record(ctx context.Context, award Award) error
	Total(ctx context.Context, username string) (int, error)
	Close() error
}
