package provider

import (
	"fmt"
	"sort"

	"dowser/pkg/media"
)

// Registry holds the registered plugins. Register everything at startup,
// then treat it as read-only; concurrent reads are safe once registration
// is done.
type Registry struct {
	sources  []Source
	embeds   []Embed
	sourceID map[string]Source
	embedID  map[string]Embed
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sourceID: make(map[string]Source),
		embedID:  make(map[string]Embed),
	}
}

// RegisterSource adds a source plugin. Duplicate IDs are rejected.
func (r *Registry) RegisterSource(s Source) error {
	if s == nil {
		return fmt.Errorf("provider: nil source")
	}
	id := s.ID()
	if id == "" {
		return fmt.Errorf("provider: source with empty id")
	}
	if _, exists := r.sourceID[id]; exists {
		return fmt.Errorf("provider: source %q already registered", id)
	}
	if _, exists := r.embedID[id]; exists {
		return fmt.Errorf("provider: id %q already registered as an embed", id)
	}
	r.sourceID[id] = s
	r.sources = append(r.sources, s)
	return nil
}

// RegisterEmbed adds an embed plugin. Duplicate IDs are rejected.
func (r *Registry) RegisterEmbed(e Embed) error {
	if e == nil {
		return fmt.Errorf("provider: nil embed")
	}
	id := e.ID()
	if id == "" {
		return fmt.Errorf("provider: embed with empty id")
	}
	if _, exists := r.embedID[id]; exists {
		return fmt.Errorf("provider: embed %q already registered", id)
	}
	if _, exists := r.sourceID[id]; exists {
		return fmt.Errorf("provider: id %q already registered as a source", id)
	}
	r.embedID[id] = e
	r.embeds = append(r.embeds, e)
	return nil
}

// Sources returns all source plugins ordered by rank, highest first.
// Plugins with equal rank keep their registration order.
func (r *Registry) Sources() []Source {
	out := make([]Source, len(r.sources))
	copy(out, r.sources)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Rank() > out[j].Rank() })
	return out
}

// Embeds returns all embed plugins ordered by rank, highest first.
func (r *Registry) Embeds() []Embed {
	out := make([]Embed, len(r.embeds))
	copy(out, r.embeds)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Rank() > out[j].Rank() })
	return out
}

// SourceByID looks up a source plugin.
func (r *Registry) SourceByID(id string) (Source, bool) {
	s, ok := r.sourceID[id]
	return s, ok
}

// EmbedByID looks up an embed plugin.
func (r *Registry) EmbedByID(id string) (Embed, bool) {
	e, ok := r.embedID[id]
	return e, ok
}

// Reorder returns all with the plugins named in preferred moved to the
// front, in preferred-list order. The remainder keeps its original relative
// order. Preferred IDs that match nothing are ignored. The input slice is
// never modified.
func Reorder(preferred []string, all []Source) []Source {
	if len(preferred) == 0 {
		out := make([]Source, len(all))
		copy(out, all)
		return out
	}

	byID := make(map[string]Source, len(all))
	for _, s := range all {
		byID[s.ID()] = s
	}

	out := make([]Source, 0, len(all))
	picked := make(map[string]bool, len(preferred))
	for _, id := range preferred {
		if picked[id] {
			continue
		}
		if s, ok := byID[id]; ok {
			out = append(out, s)
			picked[id] = true
		}
	}
	for _, s := range all {
		if !picked[s.ID()] {
			out = append(out, s)
		}
	}
	return out
}

// FilterApplicable keeps the sources that are enabled and handle the given
// media kind, preserving order.
func FilterApplicable(kind media.Kind, list []Source) []Source {
	out := make([]Source, 0, len(list))
	for _, s := range list {
		if s.Enabled() && s.AppliesTo(kind) {
			out = append(out, s)
		}
	}
	return out
}

// ReorderRefs returns refs with references whose embed plugin appears in
// preferred moved to the front, in preferred-list order; the remainder keeps
// its original relative order. Used to apply an embed preference to the
// references of a single source before they are queued.
func ReorderRefs(preferred []string, refs []EmbedRef) []EmbedRef {
	if len(preferred) == 0 {
		out := make([]EmbedRef, len(refs))
		copy(out, refs)
		return out
	}

	rank := make(map[string]int, len(preferred))
	for i, id := range preferred {
		if _, seen := rank[id]; !seen {
			rank[id] = i
		}
	}

	out := make([]EmbedRef, len(refs))
	copy(out, refs)
	sort.SliceStable(out, func(i, j int) bool {
		ri, iOK := rank[out[i].EmbedID]
		rj, jOK := rank[out[j].EmbedID]
		switch {
		case iOK && jOK:
			return ri < rj
		case iOK:
			return true
		default:
			return false
		}
	})
	return out
}
