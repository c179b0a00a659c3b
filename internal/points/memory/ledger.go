package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tjfontaine/kickhook/internal/points"
)

// Ledger is an in-memory implementation of points.Ledger
type Ledger struct {
	mu     sync.RWMutex
	awards []points.Award
}

var _ points.Ledger = (*Ledger)(nil)

// New creates a new in-memory ledger
func New() *Ledger {
	return &Ledger{}
}

func (l *Ledger) Record(ctx context.Context, award points.Award) error {
	if strings.TrimSpace(award.Username) == "" {
		return fmt.Errorf("award for event %s has no username", award.EventID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if award.CreatedAt.IsZero() {
		award.CreatedAt = time.Now()
	}
	l.awards = append(l.awards, award)
	return nil
}

func (l *Ledger) Total(ctx context.Context, username string) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	total := 0
	for _, a := range l.awards {
		if strings.EqualFold(a.Username, username) {
			total += a.Points
		}
	}
	return total, nil
}

// Awards returns a copy of every recorded award in insertion order.
func (l *Ledger) Awards() []points.Award {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]points.Award, len(l.awards))
	copy(out, l.awards)
	return out
}

func (l *Ledger) Close() error {
	return nil
}
