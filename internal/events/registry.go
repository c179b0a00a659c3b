package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// Schema describes how one event type is decoded and validated.
type Schema struct {
	Type EventType

	// Flat schemas carry their metadata inline rather than in an envelope
	// with a nested "data" object.
	Flat bool

	decode func(raw map[string]any) (*Envelope, error)
}

// Decode validates raw against the schema and builds the Envelope.
func (s Schema) Decode(raw map[string]any) (*Envelope, error) {
	return s.decode(raw)
}

// Registry maps event tags to their schemas.
type Registry struct {
	schemas map[EventType]Schema
}

// NewRegistry returns a registry holding every supported event type.
func NewRegistry() *Registry {
	r := &Registry{schemas: make(map[EventType]Schema)}
	r.add(envelopeSchema[FollowData](TypeFollow, "follower", "followed_at"))
	r.add(envelopeSchema[NewSubscriptionData](TypeNewSubscription, subscriptionKeys...))
	r.add(envelopeSchema[GiftedSubscriptionData](TypeGiftedSubscription, "recipients", "created_at", "expires_at"))
	r.add(envelopeSchema[SubscriptionRenewalData](TypeSubscriptionRenewal, subscriptionKeys...))
	r.add(chatMessageSchema())
	return r
}

func (r *Registry) add(s Schema) {
	r.schemas[s.Type] = s
}

// Lookup returns the schema for a tag.
func (r *Registry) Lookup(t EventType) (Schema, bool) {
	s, ok := r.schemas[t]
	return s, ok
}

// Types returns the registered tags in sorted order.
func (r *Registry) Types() []EventType {
	types := make([]EventType, 0, len(r.schemas))
	for t := range r.schemas {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

type validatable interface {
	Data
	Validate() error
}

// envelopeWire is the common outer shape of enveloped events.
type envelopeWire struct {
	ID        string         `mapstructure:"id"`
	Event     string         `mapstructure:"event"`
	ChannelID string         `mapstructure:"channel_id"`
	CreatedAt time.Time      `mapstructure:"created_at"`
	Data      map[string]any `mapstructure:"data"`
}

// subscriptionKeys must be present in a subscription's data object. A missing
// duration would otherwise decode as zero months.
var subscriptionKeys = []string{"subscriber", "duration", "created_at", "expires_at"}

// envelopeSchema decodes the envelope shape. required lists the data keys
// that must be present and non-null.
func envelopeSchema[T validatable](t EventType, required ...string) Schema {
	return Schema{
		Type: t,
		decode: func(raw map[string]any) (*Envelope, error) {
			var wire envelopeWire
			if err := decodeInto(raw, &wire); err != nil {
				return nil, err
			}
			if wire.Data == nil {
				return nil, errors.New("data: required")
			}
			if err := requireKeys(wire.Data, required); err != nil {
				return nil, fmt.Errorf("data: %w", err)
			}
			var data T
			if err := decodeInto(wire.Data, &data); err != nil {
				return nil, fmt.Errorf("data: %w", err)
			}
			if err := data.Validate(); err != nil {
				return nil, fmt.Errorf("data: %w", err)
			}
			return NewEnvelope(wire.ID, t, wire.ChannelID, wire.CreatedAt, data)
		},
	}
}

func chatMessageSchema() Schema {
	return Schema{
		Type: TypeChatMessage,
		Flat: true,
		decode: func(raw map[string]any) (*Envelope, error) {
			var data ChatMessageData
			if err := decodeInto(raw, &data); err != nil {
				return nil, err
			}
			if err := data.Validate(); err != nil {
				return nil, err
			}
			createdAt := data.CreatedAt
			if createdAt.IsZero() {
				createdAt = time.Now()
			}
			id := data.MessageID
			if id == "" {
				id = GenerateMessageID(data.Sender.UserID, data.Content, createdAt)
			}
			return NewEnvelope(id, TypeChatMessage, data.RoomID(), createdAt, data)
		},
	}
}

func requireKeys(m map[string]any, keys []string) error {
	var errs []error
	for _, key := range keys {
		if v, ok := m[key]; !ok || v == nil {
			errs = append(errs, fmt.Errorf("%s: required", key))
		}
	}
	return errors.Join(errs...)
}

// DecodeLoose decodes input into out with weak typing: numbers and strings
// convert freely and fields of the wrong shape are left at their zero value.
// It serves payloads that bypass schema validation. The returned error lists
// the fields that could not be decoded; the rest of out is still filled.
func DecodeLoose(input any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       identifierHook,
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("build decoder: %w", err)
	}
	return dec.Decode(input)
}

func decodeInto(input any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			timestampHook,
			integerHook,
			identifierHook,
		),
		Result: out,
	})
	if err != nil {
		return fmt.Errorf("build decoder: %w", err)
	}
	return dec.Decode(input)
}

var timeType = reflect.TypeOf(time.Time{})

// timestampHook parses RFC 3339 strings into time.Time.
func timestampHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != timeType || from.Kind() != reflect.String {
		return data, nil
	}
	s, ok := data.(string)
	if !ok {
		return data, nil
	}
	if s == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return ts, nil
}

// integerHook only lets whole numbers into integer fields. Strings are left
// for the decoder to reject.
func integerHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	switch to.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
	default:
		return data, nil
	}
	switch v := data.(type) {
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("expected an integer, got %v", v)
		}
		return int64(v), nil
	case float32:
		f := float64(v)
		if f != math.Trunc(f) {
			return nil, fmt.Errorf("expected an integer, got %v", v)
		}
		return int64(f), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return nil, fmt.Errorf("expected an integer, got %s", v)
		}
		return n, nil
	}
	return data, nil
}

// identifierHook accepts whole numbers where a string is expected; the
// platform sends numeric user and chatroom ids.
func identifierHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to.Kind() != reflect.String {
		return data, nil
	}
	switch v := data.(type) {
	case json.Number:
		return v.String(), nil
	case float64:
		if v == math.Trunc(v) {
			return strconv.FormatInt(int64(v), 10), nil
		}
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	}
	return data, nil
}
