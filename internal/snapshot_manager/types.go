package snapshot_manager //nolint:revive // var-naming: using underscores for domain clarity

import (
	"fmt"
	"strings"
	"time"

	"github.com/lewisedginton/memory_chatbot/pkg/prefixed_uuid"
)

// DetailSnapshot is an oracle-generated abstraction over a batch of raw
// memories. MemoryRefs never own the memories, they reference them.
type DetailSnapshot struct {
	ID          string    `json:"id"`
	Summary     string    `json:"summary"`
	KeyElements []string  `json:"key_elements"`
	EmotionTags []string  `json:"emotion_tags,omitempty"`
	MemoryRefs  []string  `json:"memory_refs"`
	Category    string    `json:"category"`
	Importance  float64   `json:"importance"`
	Timestamp   time.Time `json:"timestamp"`
}

// BaseSnapshot is the top tier: an abstraction over a cluster of detail
// snapshots.
type BaseSnapshot struct {
	ID                string    `json:"id"`
	Category          string    `json:"category"`
	Keywords          []string  `json:"keywords"`
	DetailSnapshotIDs []string  `json:"detail_snapshot_ids"`
	Description       string    `json:"description"`
	Timestamp         time.Time `json:"timestamp"`
}

// Resolver reports whether an id exists in the referenced tier. Snapshot
// constructors use it to enforce that cross-references resolve at creation
// time.
type Resolver func(id string) bool

// NewDetailSnapshot validates and builds a detail snapshot. Every memory
// ref must resolve; a dangling ref is a data integrity violation, not
// something to store and fix later.
func NewDetailSnapshot(summary string, keyElements, emotionTags, memoryRefs []string, category string, importance float64, resolves Resolver) (DetailSnapshot, error) {
	if strings.TrimSpace(summary) == "" {
		return DetailSnapshot{}, fmt.Errorf("detail snapshot summary cannot be empty")
	}
	if len(memoryRefs) == 0 {
		return DetailSnapshot{}, fmt.Errorf("detail snapshot must reference at least one memory")
	}
	if importance < 0 || importance > 1 {
		return DetailSnapshot{}, fmt.Errorf("importance must be in [0, 1], got %v", importance)
	}
	for _, ref := range memoryRefs {
		if !resolves(ref) {
			return DetailSnapshot{}, fmt.Errorf("memory ref %s does not resolve", ref)
		}
	}

	return DetailSnapshot{
		ID:          prefixed_uuid.New("snap").String(),
		Summary:     summary,
		KeyElements: dedupe(keyElements),
		EmotionTags: dedupe(emotionTags),
		MemoryRefs:  append([]string(nil), memoryRefs...),
		Category:    category,
		Importance:  importance,
		Timestamp:   time.Now().UTC(),
	}, nil
}

// NewBaseSnapshot validates and builds a base snapshot over existing
// detail snapshots.
func NewBaseSnapshot(category string, keywords, detailIDs []string, description string, resolves Resolver) (BaseSnapshot, error) {
	if strings.TrimSpace(category) == "" {
		return BaseSnapshot{}, fmt.Errorf("base snapshot category cannot be empty")
	}
	if len(detailIDs) == 0 {
		return BaseSnapshot{}, fmt.Errorf("base snapshot must reference at least one detail snapshot")
	}
	for _, id := range detailIDs {
		if !resolves(id) {
			return BaseSnapshot{}, fmt.Errorf("detail snapshot ref %s does not resolve", id)
		}
	}

	return BaseSnapshot{
		ID:                prefixed_uuid.New("meta").String(),
		Category:          category,
		Keywords:          dedupe(keywords),
		DetailSnapshotIDs: append([]string(nil), detailIDs...),
		Description:       description,
		Timestamp:         time.Now().UTC(),
	}, nil
}

// EmbeddingText returns the text whose embedding stands in for this
// snapshot during clustering and retrieval.
func (d DetailSnapshot) EmbeddingText() string {
	if len(d.KeyElements) == 0 {
		return d.Summary
	}
	return d.Summary + "\n" + strings.Join(d.KeyElements, ", ")
}

// SearchText returns the text indexed for base-snapshot retrieval.
func (b BaseSnapshot) SearchText() string {
	parts := []string{b.Category}
	if len(b.Keywords) > 0 {
		parts = append(parts, strings.Join(b.Keywords, ", "))
	}
	if b.Description != "" {
		parts = append(parts, b.Description)
	}
	return strings.Join(parts, "\n")
}

// dedupe preserves first-seen order while dropping duplicates and blanks.
func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}
