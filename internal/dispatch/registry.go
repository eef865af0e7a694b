package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrUnknownType    = errors.New("unknown submission type")
	ErrInvalidPayload = errors.New("invalid submission payload")
)

// Poster is the slice of the API client routes deliver through.
type Poster interface {
	PostJSON(ctx context.Context, path string, body any) error
	PutJSON(ctx context.Context, path string, body any) error
}

// Route delivers one kind of submission. Payloads are stored opaque in the
// queue; only the route that owns a type knows its shape.
type Route interface {
	// Type is the tag stored on queue items
	Type() string

	// Validate checks a payload before it is accepted into the queue
	Validate(payload json.RawMessage) error

	// Send delivers the payload verbatim
	Send(ctx context.Context, poster Poster, payload json.RawMessage) error
}

// Registry maps submission types to routes.
type Registry struct {
	mu     sync.RWMutex
	routes map[string]Route
	poster Poster
}

func NewRegistry(poster Poster) *Registry {
	return &Registry{
		routes: make(map[string]Route),
		poster: poster,
	}
}

// Register adds a route, replacing any route with the same type.
func (r *Registry) Register(route Route) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[route.Type()] = route
}

// Find returns the route for a type, or nil.
func (r *Registry) Find(typ string) Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.routes[typ]
}

// Types lists registered types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.routes))
	for typ := range r.routes {
		types = append(types, typ)
	}
	sort.Strings(types)
	return types
}

// Encode marshals payload and validates it against the route for typ.
func (r *Registry) Encode(typ string, payload any) (json.RawMessage, error) {
	route := r.Find(typ)
	if route == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}

	var raw json.RawMessage
	switch p := payload.(type) {
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: encoding %s: %v", ErrInvalidPayload, typ, err)
		}
		raw = data
	}

	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: %s is not valid JSON", ErrInvalidPayload, typ)
	}
	if err := route.Validate(raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, typ, err)
	}
	return raw, nil
}

// Send delivers a stored submission through its route. Its signature matches
// queue.SendFunc.
func (r *Registry) Send(ctx context.Context, typ string, payload json.RawMessage) error {
	route := r.Find(typ)
	if route == nil {
		return fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	return route.Send(ctx, r.poster, payload)
}
