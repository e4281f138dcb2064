package scrapers

import (
	"encoding/json"
	"strings"

	"github.com/ekaya-inc/ekaya-watch/pkg/models"
)

// Matcher detects mentions of tracked competitors in signal text.
// Entities are checked in declared order and the first keyword hit wins.
type Matcher struct {
	entries []matchEntry
}

type matchEntry struct {
	entity   *models.CompetitorEntity
	keywords []string
}

// NewMatcher builds a matcher over the active entities, keeping their order.
// An entity without keywords is matched on its name.
func NewMatcher(entities []*models.CompetitorEntity) *Matcher {
	m := &Matcher{}
	for _, e := range entities {
		if e == nil || !e.Active {
			continue
		}
		keywords := make([]string, 0, len(e.Keywords))
		for _, k := range e.Keywords {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				keywords = append(keywords, k)
			}
		}
		if len(keywords) == 0 {
			keywords = append(keywords, strings.ToLower(e.Name))
		}
		m.entries = append(m.entries, matchEntry{entity: e, keywords: keywords})
	}
	return m
}

// Len returns how many entities the matcher checks.
func (m *Matcher) Len() int {
	return len(m.entries)
}

// MatchText returns the first entity whose keywords occur in text, case-insensitively.
func (m *Matcher) MatchText(text string) (*models.CompetitorEntity, bool) {
	lower := strings.ToLower(text)
	for _, entry := range m.entries {
		for _, k := range entry.keywords {
			if strings.Contains(lower, k) {
				return entry.entity, true
			}
		}
	}
	return nil, false
}

// Match checks the title, the address and the serialized raw payload together.
func (m *Matcher) Match(title string, address *string, raw map[string]any) (*models.CompetitorEntity, bool) {
	if len(m.entries) == 0 {
		return nil, false
	}

	var b strings.Builder
	b.WriteString(title)
	if address != nil {
		b.WriteString(" ")
		b.WriteString(*address)
	}
	if len(raw) > 0 {
		if payload, err := json.Marshal(raw); err == nil {
			b.WriteString(" ")
			b.Write(payload)
		}
	}
	return m.MatchText(b.String())
}

// ByCIK returns the active entity that owns the given filer identifier.
func (m *Matcher) ByCIK(cik string) (*models.CompetitorEntity, bool) {
	cik = strings.TrimLeft(cik, "0")
	for _, entry := range m.entries {
		if entry.entity.CIK != nil && strings.TrimLeft(*entry.entity.CIK, "0") == cik {
			return entry.entity, true
		}
	}
	return nil, false
}

// matchName returns the competitor_match value for a signal.
func matchName(e *models.CompetitorEntity, ok bool) *string {
	if !ok || e == nil {
		return nil
	}
	name := e.Name
	return &name
}
