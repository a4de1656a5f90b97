// Package outreach delivers query invitations to matched experts across
// their registered channels, with per-expert throttling.
package outreach

import (
	"context"
	"sync"

	"github.com/brianellis1997/ErrandBoy-sub000/internal/model"
)

// DefaultChannel is used when a contact has no channel preferences.
const DefaultChannel = "sms"

// Notifier delivers one invitation over one channel.
type Notifier interface {
	Channel() string
	Notify(ctx context.Context, contact *model.Contact, query *model.Query) error
}

// Registry holds the available notifiers. It is injected wherever outreach
// happens so tests and alternate deployments can swap delivery channels.
type Registry struct {
	mu        sync.RWMutex
	byChannel map[string]Notifier
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byChannel: make(map[string]Notifier)}
}

// Register adds a notifier, replacing any previous one for its channel.
func (r *Registry) Register(n Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byChannel[n.Channel()] = n
}

// Get returns the notifier for a channel.
func (r *Registry) Get(channel string) (Notifier, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.byChannel[channel]
	return n, ok
}

// ChannelsFor returns the contact's preferred channels in order, from the
// metadata "channels" list, defaulting to SMS.
func (r *Registry) ChannelsFor(c *model.Contact) []string {
	raw, _ := c.Metadata["channels"].([]any)
	var out []string
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		out = []string{DefaultChannel}
	}
	return out
}
