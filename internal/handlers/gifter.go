package handlers

import (
	"strings"

	"github.com/tjfontaine/kickhook/internal/events"
)

// AnonymousGifter is the display name used when no gifter can be resolved.
const AnonymousGifter = "Anonymous"

// Gifter is the resolved identity of whoever paid for a gift.
type Gifter struct {
	Username string
	ID       string
}

// Anonymous reports whether the gifter could not be identified.
func (g Gifter) Anonymous() bool {
	return g.Username == AnonymousGifter
}

// rawGifter is data.gifter read loosely from the original payload. It carries
// the alternate name fields the typed schema does not model.
type rawGifter struct {
	ID          string `mapstructure:"id"`
	UserID      string `mapstructure:"user_id"`
	Username    string `mapstructure:"username"`
	Name        string `mapstructure:"name"`
	UserName    string `mapstructure:"user_name"`
	DisplayName string `mapstructure:"display_name"`
}

// accessor reads one candidate value from either the typed event or the raw
// payload.
type accessor struct {
	name string
	get  func(data events.GiftedSubscriptionData, raw rawGifter) string
}

func typedField(name string, pick func(u *events.User) string) accessor {
	return accessor{name: name, get: func(data events.GiftedSubscriptionData, _ rawGifter) string {
		if data.Gifter == nil {
			return ""
		}
		return pick(data.Gifter)
	}}
}

func rawField(key string, pick func(g rawGifter) string) accessor {
	return accessor{name: "data.gifter." + key, get: func(_ events.GiftedSubscriptionData, raw rawGifter) string {
		return pick(raw)
	}}
}

// Candidate sources in priority order.
var (
	gifterUsernameAccessors = []accessor{
		typedField("gifter.username", func(u *events.User) string { return u.Username }),
		rawField("username", func(g rawGifter) string { return g.Username }),
		rawField("name", func(g rawGifter) string { return g.Name }),
		rawField("user_name", func(g rawGifter) string { return g.UserName }),
		rawField("display_name", func(g rawGifter) string { return g.DisplayName }),
	}
	gifterIDAccessors = []accessor{
		typedField("gifter.id", func(u *events.User) string { return u.ID }),
		rawField("id", func(g rawGifter) string { return g.ID }),
		rawField("user_id", func(g rawGifter) string { return g.UserID }),
	}
)

// ResolveGifter walks the username and id accessors in order; the first value
// that is non-empty and not "none" wins. An unresolved username becomes
// AnonymousGifter.
func ResolveGifter(data events.GiftedSubscriptionData, raw map[string]any) Gifter {
	rg := decodeRawGifter(raw)
	g := Gifter{
		Username: firstResolved(gifterUsernameAccessors, data, rg),
		ID:       firstResolved(gifterIDAccessors, data, rg),
	}
	if g.Username == "" {
		g.Username = AnonymousGifter
	}
	return g
}

func firstResolved(accessors []accessor, data events.GiftedSubscriptionData, raw rawGifter) string {
	for _, a := range accessors {
		v := strings.TrimSpace(a.get(data, raw))
		if v == "" || strings.EqualFold(v, "none") {
			continue
		}
		return v
	}
	return ""
}

// decodeRawGifter ignores decode errors; a field of the wrong shape is simply
// not a candidate.
func decodeRawGifter(raw map[string]any) rawGifter {
	var wire struct {
		Data struct {
			Gifter rawGifter `mapstructure:"gifter"`
		} `mapstructure:"data"`
	}
	if raw != nil {
		_ = events.DecodeLoose(raw, &wire)
	}
	return wire.Data.Gifter
}
