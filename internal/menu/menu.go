// Package menu derives the dashboard navigation from the service config store.
package menu

import (
	"sort"
	"sync"

	"github.com/pitabwire/admindash/model"
)

// PathPrefix is prepended to a service code to form its route.
const PathPrefix = "/admin/"

// Configs is the read side of the service config store.
type Configs interface {
	List() []model.ParsedServiceConfig
}

// Builder maps every stored service config to a menu entry. It keeps no state
// and recomputes on every call.
type Builder struct {
	configs Configs
}

// NewBuilder creates a Builder reading from configs.
func NewBuilder(configs Configs) *Builder {
	return &Builder{configs: configs}
}

// Build returns one entry per config, ordered by display order. Entries with
// equal order keep the store's code order. Disabled configs are included with
// Enabled false so callers decide whether to show them.
func (b *Builder) Build() []model.MenuItem {
	cfgs := b.configs.List()
	items := make([]model.MenuItem, 0, len(cfgs))
	for _, c := range cfgs {
		items = append(items, model.MenuItem{
			ID:       c.Code,
			Label:    c.DisplayName,
			Path:     PathPrefix + c.Code,
			Icon:     c.Icon,
			Category: c.Category,
			Order:    c.DisplayOrder,
			Enabled:  c.Enabled,
		})
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Order < items[j].Order
	})
	return items
}

// Visible filters items down to the enabled ones.
func Visible(items []model.MenuItem) []model.MenuItem {
	out := make([]model.MenuItem, 0, len(items))
	for _, it := range items {
		if it.Enabled {
			out = append(out, it)
		}
	}
	return out
}

// Group is a category heading with its entries.
type Group struct {
	Category string           `json:"category"`
	Items    []model.MenuItem `json:"items"`
}

// Grouped buckets items by category in first-seen order. Uncategorised
// entries share the empty category.
func Grouped(items []model.MenuItem) []Group {
	var groups []Group
	index := map[string]int{}
	for _, it := range items {
		i, ok := index[it.Category]
		if !ok {
			i = len(groups)
			index[it.Category] = i
			groups = append(groups, Group{Category: it.Category})
		}
		groups[i].Items = append(groups[i].Items, it)
	}
	return groups
}

// Subscriber is implemented by stores that announce changes.
type Subscriber interface {
	Subscribe(fn func()) func()
}

// Live holds the most recent menu and rebuilds it whenever the store changes.
type Live struct {
	builder *Builder

	mu    sync.RWMutex
	items []model.MenuItem

	unsubscribe func()
}

// NewLive builds the menu once and subscribes to store changes.
func NewLive(builder *Builder, store Subscriber) *Live {
	l := &Live{builder: builder}
	l.rebuild()
	l.unsubscribe = store.Subscribe(l.rebuild)
	return l
}

// Items returns the current menu.
func (l *Live) Items() []model.MenuItem {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]model.MenuItem(nil), l.items...)
}

// Close stops following store changes.
func (l *Live) Close() {
	if l.unsubscribe != nil {
		l.unsubscribe()
	}
}

func (l *Live) rebuild() {
	items := l.builder.Build()
	l.mu.Lock()
	l.items = items
	l.mu.Unlock()
}
