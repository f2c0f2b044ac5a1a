package idp

import (
	"context"
	"fmt"

	"github.com/dgellow/handoff/internal/config"
	"github.com/dgellow/handoff/internal/log"
	"github.com/dgellow/handoff/internal/loginview"
)

var _ loginview.ProviderDirectory = (*Directory)(nil)

// Entry is one login option shown on the login page
type Entry struct {
	Key         string
	DisplayName string
	ButtonClass string
	IconClass   string
	Provider    Provider
}

// Directory is the ordered, immutable set of configured providers
type Directory struct {
	entries []Entry
	byKey   map[string]int
}

// NewDirectory builds providers from config, keeping config order
func NewDirectory(ctx context.Context, cfgs []config.ProviderConfig) (*Directory, error) {
	entries := make([]Entry, 0, len(cfgs))
	for _, cfg := range cfgs {
		provider, err := NewProvider(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", cfg.Key, err)
		}
		entries = append(entries, Entry{
			Key:         cfg.Key,
			DisplayName: cfg.DisplayName,
			ButtonClass: cfg.ButtonClass,
			IconClass:   cfg.IconClass,
			Provider:    provider,
		})
		log.LogInfoWithFields("idp", "Provider configured", map[string]any{
			"key":  cfg.Key,
			"type": provider.Type(),
		})
	}
	return NewStaticDirectory(entries...)
}

// NewStaticDirectory builds a directory from ready entries
func NewStaticDirectory(entries ...Entry) (*Directory, error) {
	d := &Directory{
		entries: make([]Entry, 0, len(entries)),
		byKey:   make(map[string]int, len(entries)),
	}
	for _, e := range entries {
		if e.Key == "" {
			return nil, fmt.Errorf("provider entry has no key")
		}
		if _, dup := d.byKey[e.Key]; dup {
			return nil, fmt.Errorf("duplicate provider key %q", e.Key)
		}
		d.byKey[e.Key] = len(d.entries)
		d.entries = append(d.entries, e)
	}
	return d, nil
}

// Entries returns a copy of the entries in display order
func (d *Directory) Entries() []Entry {
	out := make([]Entry, len(d.entries))
	copy(out, d.entries)
	return out
}

// Providers lists the login options in display order
func (d *Directory) Providers() []loginview.AuthProvider {
	out := make([]loginview.AuthProvider, 0, len(d.entries))
	for _, e := range d.entries {
		out = append(out, loginview.AuthProvider{
			Key:         e.Key,
			DisplayName: e.DisplayName,
			ButtonClass: e.ButtonClass,
			IconClass:   e.IconClass,
		})
	}
	return out
}

// Lookup finds a provider by key
func (d *Directory) Lookup(key string) (Entry, bool) {
	i, ok := d.byKey[key]
	if !ok {
		return Entry{}, false
	}
	return d.entries[i], true
}

func (d *Directory) Len() int {
	return len(d.entries)
}
