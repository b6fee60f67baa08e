// Package activitymap converts maskmail activity events into a
// transport-agnostic shape for downstream feeds and audit pipelines.
package activitymap

import (
	"strings"
	"time"

	maskmail "github.com/maskmail/go-maskmail"
)

const (
	// MetadataKeyFromPhase stores the source phase for phase change events.
	MetadataKeyFromPhase = "from_phase"
	// MetadataKeyToPhase stores the target phase for phase change events.
	MetadataKeyToPhase = "to_phase"
	// MetadataKeyIdentifier is set by sign-in events that never reached an
	// account id; it doubles as the actor and object fallback.
	MetadataKeyIdentifier = "identifier"
)

const (
	defaultChannel    = "auth"
	defaultObjectType = "session"
	defaultActorID    = "system"
)

// Normalized is a transport-agnostic activity shape for downstream systems.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes normalization behavior.
type Option func(*normalizeOptions)

type normalizeOptions struct {
	channel    string
	objectType string
}

// Normalize converts a maskmail.ActivityEvent into a generic normalized shape.
// The actor and object are the account when the event carries one; sign-in
// attempts that never authenticated fall back to the submitted identifier.
func Normalize(event maskmail.ActivityEvent, opts ...Option) Normalized {
	options := normalizeOptions{
		channel:    defaultChannel,
		objectType: defaultObjectType,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	subject := eventSubject(event)
	actorID := subject
	if actorID == "" {
		actorID = defaultActorID
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	return Normalized{
		ActorID:    actorID,
		Verb:       string(event.EventType),
		ObjectType: options.objectType,
		ObjectID:   subject,
		Channel:    options.channel,
		Metadata:   normalizeMetadata(event),
		OccurredAt: occurredAt,
	}
}

// WithDefaultChannel sets the channel for normalized records.
func WithDefaultChannel(channel string) Option {
	return func(opts *normalizeOptions) {
		opts.channel = strings.TrimSpace(channel)
	}
}

// WithDefaultObjectType sets the object type for normalized records.
func WithDefaultObjectType(objectType string) Option {
	return func(opts *normalizeOptions) {
		opts.objectType = strings.TrimSpace(objectType)
	}
}

// eventSubject resolves who the event is about: the account id when present,
// otherwise the sign-in identifier carried in the metadata.
func eventSubject(event maskmail.ActivityEvent) string {
	if id := strings.TrimSpace(event.AccountID); id != "" {
		return id
	}
	if v, ok := event.Metadata[MetadataKeyIdentifier].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func normalizeMetadata(event maskmail.ActivityEvent) map[string]any {
	metadata := cloneMap(event.Metadata)

	if event.FromPhase != "" {
		if metadata == nil {
			metadata = map[string]any{}
		}
		metadata[MetadataKeyFromPhase] = string(event.FromPhase)
	}

	if event.ToPhase != "" {
		if metadata == nil {
			metadata = map[string]any{}
		}
		metadata[MetadataKeyToPhase] = string(event.ToPhase)
	}

	return metadata
}

func cloneMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
