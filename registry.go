package rewind

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	jsoniter "github.com/json-iterator/go"
)

type (
	// Serializer converts Events to and from their persisted payloads.
	// Deserialize(Serialize(e), e.EventType()) must yield a value equal to e
	Serializer interface {
		Serialize(Event) (json.RawMessage, error)
		Deserialize(json.RawMessage, EventType) (Event, error)
	}

	// Decoder turns a payload into the concrete Event it encodes
	Decoder func(json.RawMessage) (Event, error)

	// Registry is a Serializer that resolves event types through an
	// explicit table of Decoders. It is safe for concurrent use
	Registry struct {
		decoders map[EventType]Decoder
		mu       sync.RWMutex
	}
)

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

// NewRegistry returns an empty Registry
func NewRegistry() *Registry {
	return &Registry{
		decoders: map[EventType]Decoder{},
	}
}

// Register adds a JSON Decoder for the Event type E, keyed by the type tag
// that E reports. When E is a pointer type, the tag is read from a freshly
// allocated value rather than from a nil pointer
func Register[E Event](r *Registry) {
	r.RegisterDecoder(eventTypeOf[E](), func(data json.RawMessage) (Event, error) {
		var ev E
		if err := jsonCodec.Unmarshal(data, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	})
}

func eventTypeOf[E Event]() EventType {
	t := reflect.TypeFor[E]()
	if t.Kind() == reflect.Pointer {
		return reflect.New(t.Elem()).Interface().(Event).EventType()
	}
	var zero E
	return zero.EventType()
}

// RegisterDecoder adds or replaces the Decoder for an event type
func (r *Registry) RegisterDecoder(typ EventType, dec Decoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[typ] = dec
}

// Types returns the number of registered event types
func (r *Registry) Types() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.decoders)
}

// Serialize encodes the Event as JSON. Events whose type has no Decoder are
// rejected, since they could never be read back
func (r *Registry) Serialize(ev Event) (json.RawMessage, error) {
	if _, err := r.decoder(ev.EventType()); err != nil {
		return nil, err
	}
	return jsonCodec.Marshal(ev)
}

// Deserialize decodes a payload using the Decoder registered for typ
func (r *Registry) Deserialize(data json.RawMessage, typ EventType) (Event, error) {
	dec, err := r.decoder(typ)
	if err != nil {
		return nil, err
	}
	ev, err := dec(data)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", typ, err)
	}
	return ev, nil
}

func (r *Registry) decoder(typ EventType) (Decoder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if dec, ok := r.decoders[typ]; ok {
		return dec, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, typ)
}
