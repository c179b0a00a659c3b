package events

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"
)

// Parser turns raw webhook mappings into typed Envelopes.
type Parser struct {
	registry *Registry
	logger   *slog.Logger
}

// NewParser creates a parser over the given registry. A nil registry means
// NewRegistry().
func NewParser(registry *Registry, logger *slog.Logger) *Parser {
	if registry == nil {
		registry = NewRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{registry: registry, logger: logger}
}

// Registry returns the schema registry used by the parser.
func (p *Parser) Registry() *Registry {
	return p.registry
}

// Parse resolves the event tag and validates raw against its schema. The tag
// comes from raw["event"] when present, otherwise from hint, which is then
// injected into a copy of the mapping. ok is false when the payload is
// unparseable: unknown tag, missing tag or a validation failure.
func (p *Parser) Parse(ctx context.Context, raw map[string]any, hint string) (env *Envelope, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.WarnContext(ctx, "event parse panicked",
				slog.String("error", fmt.Sprint(r)))
			env, ok = nil, false
		}
	}()

	if raw == nil {
		return nil, false
	}

	original, _ := raw["event"].(string)
	tag := strings.TrimSpace(original)
	if tag == "" {
		tag = strings.TrimSpace(hint)
		if tag == "" {
			p.logger.DebugContext(ctx, "event type missing from payload and hint")
			return nil, false
		}
	}
	if tag != original {
		raw = maps.Clone(raw)
		raw["event"] = tag
	}

	schema, found := p.registry.Lookup(EventType(tag))
	if !found {
		p.logger.DebugContext(ctx, "unknown event type", slog.String("event_type", tag))
		return nil, false
	}

	env, err := schema.Decode(raw)
	if err != nil {
		p.logger.WarnContext(ctx, "event failed validation",
			slog.String("event_type", tag),
			slog.String("error", err.Error()))
		return nil, false
	}
	return env, true
}
