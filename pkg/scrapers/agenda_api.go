package scrapers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Field names tried in order when reading a meetings API. The first set
// follows Legistar's event schema; the rest cover common generic shapes.
var (
	meetingIDFields    = []string{"EventId", "id", "meeting_id", "guid"}
	meetingNameFields  = []string{"EventBodyName", "name", "title", "meeting_name"}
	meetingTypeFields  = []string{"EventComment", "type", "meeting_type", "category"}
	meetingDateFields  = []string{"EventDate", "date", "meeting_date", "start", "start_date"}
	meetingLinkFields  = []string{"EventAgendaFile", "EventInSiteURL", "agenda_url", "agendaUrl", "url", "link"}
	meetingItemsFields = []string{"EventItems", "items", "agenda_items", "agendaItems"}
	itemTitleFields    = []string{"EventItemTitle", "EventItemMatterName", "title", "name", "description"}
	itemTypeFields     = []string{"EventItemMatterType", "type", "matter_type"}
	meetingListKeys    = []string{"value", "meetings", "events", "data", "items"}
)

func extractAPIAgenda(ctx context.Context, s *AgendaScraper) ([]agendaRecord, error) {
	body, err := s.deps.Fetcher.Get(ctx, s.source.URL, map[string]string{"Accept": "application/json"})
	if err != nil {
		return nil, err
	}

	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode meetings: %w", err)
	}

	meetings := objectList(payload, meetingListKeys)
	if meetings == nil {
		return nil, fmt.Errorf("meetings response has no meeting list")
	}

	records := make([]agendaRecord, 0, len(meetings))
	for _, m := range meetings {
		name := firstString(m, meetingNameFields)
		meetingType := firstString(m, meetingTypeFields)
		date, _ := ParseDate(firstValue(m, meetingDateFields))
		if name == "" && date.IsZero() {
			continue
		}

		link := s.resolve(firstString(m, meetingLinkFields))
		title := name
		var texts []string

		items := objectList(firstValue(m, meetingItemsFields), nil)
		if len(items) > 0 {
			for _, item := range items {
				itemText := firstString(item, itemTitleFields) + " " + firstString(item, itemTypeFields)
				texts = append(texts, itemText)
				if title == name && IsLandUseItem(itemText) {
					title = joinNonEmpty(": ", name, firstString(item, itemTitleFields))
				}
			}
		} else {
			texts = []string{name, meetingType}
		}

		id := recordID(firstString(m, meetingIDFields), link, date, name)
		if id == "" || title == "" {
			continue
		}

		records = append(records, agendaRecord{
			ID:    id,
			Title: title,
			Link:  link,
			Date:  date,
			Texts: texts,
			Raw:   m,
		})
	}
	return records, nil
}

// objectList returns v as a list of objects. A wrapping object is unwrapped
// through the first of keys that holds a list. Non-object elements are dropped.
func objectList(v any, keys []string) []map[string]any {
	switch t := v.(type) {
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, e := range t {
			if m, ok := e.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	case map[string]any:
		for _, k := range keys {
			if list, ok := t[k].([]any); ok {
				return objectList(list, nil)
			}
		}
	}
	return nil
}

func firstValue(m map[string]any, fields []string) any {
	for _, f := range fields {
		if v, ok := m[f]; ok && v != nil {
			return v
		}
	}
	return nil
}

func firstString(m map[string]any, fields []string) string {
	for _, f := range fields {
		if s := stringField(m, f); s != "" {
			return s
		}
	}
	return ""
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
