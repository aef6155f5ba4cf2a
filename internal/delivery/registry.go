// Package delivery routes out-of-band notices to the channel owning a
// session key.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/user/bankdesk/internal/types"
)

// ErrNoHandler is returned by Deliver when no channel is registered for
// the key.
var ErrNoHandler = errors.New("no delivery handler")

// Handler delivers a message to the conversation identified by key.
type Handler func(ctx context.Context, key types.SessionKey, message string) error

// Registry routes messages to the appropriate delivery handler based on
// the channel prefix of the session key ("telegram" for "telegram:1:2").
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty delivery registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register adds the handler for keys of the given channel, replacing any
// previous one.
func (r *Registry) Register(channel string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[channel] = handler
}

// Handles reports whether a handler exists for the key's channel.
func (r *Registry) Handles(key types.SessionKey) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[key.Channel()]
	return ok
}

// Deliver finds the handler for the key's channel and calls it.
func (r *Registry) Deliver(ctx context.Context, key types.SessionKey, message string) error {
	r.mu.RLock()
	handler, ok := r.handlers[key.Channel()]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w for session key: %s", ErrNoHandler, key)
	}
	return handler(ctx, key, message)
}
