package eventing

import (
	"errors"
	"reflect"
	"time"

	"github.com/google/uuid"
)

// Envelope carries dispatch metadata for an event.
type Envelope struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	Key        string    `json:"key"`
	OccurredAt time.Time `json:"occurred_at"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Keyed events choose their own ordering key.
type Keyed interface {
	DispatchKey() string
}

// BuildEnvelope derives metadata from the event. The ordering key comes from
// DispatchKey when implemented, otherwise from an AlertID, RuleID or Key field.
func BuildEnvelope(event any, now time.Time) (Envelope, error) {
	if event == nil {
		return Envelope{}, errors.New("eventing: nil event")
	}
	key := ""
	if keyed, ok := event.(Keyed); ok {
		key = keyed.DispatchKey()
	} else {
		key = extractStringField(event, "AlertID", "RuleID", "Key")
	}
	occurredAt := extractTimeField(event, "OccurredAt")
	if occurredAt.IsZero() {
		occurredAt = now
	}
	return Envelope{
		EventID:    uuid.NewString(),
		EventType:  EventType(event),
		Key:        key,
		OccurredAt: occurredAt.UTC(),
		EnqueuedAt: now.UTC(),
	}, nil
}

func extractStringField(event any, names ...string) string {
	value := reflect.ValueOf(event)
	for value.Kind() == reflect.Ptr {
		if value.IsNil() {
			return ""
		}
		value = value.Elem()
	}
	if value.Kind() != reflect.Struct {
		return ""
	}
	for _, name := range names {
		field := value.FieldByName(name)
		if field.IsValid() && field.Kind() == reflect.String {
			return field.String()
		}
	}
	return ""
}

func extractTimeField(event any, name string) time.Time {
	value := reflect.ValueOf(event)
	for value.Kind() == reflect.Ptr {
		if value.IsNil() {
			return time.Time{}
		}
		value = value.Elem()
	}
	if value.Kind() != reflect.Struct {
		return time.Time{}
	}
	field := value.FieldByName(name)
	if !field.IsValid() || !field.CanInterface() {
		return time.Time{}
	}
	if t, ok := field.Interface().(time.Time); ok {
		return t
	}
	return time.Time{}
}
