package scrapers

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Default selectors for the table format (CivicPlus AgendaCenter layout,
// then any table, then list items).
const (
	defaultRowSelector  = "tr.catAgendaRow, table tr"
	fallbackRowSelector = "li"
	defaultLinkSelector = "a[href]"
)

var (
	numericDatePattern = regexp.MustCompile(`\b(\d{1,2})[/-](\d{1,2})[/-](\d{2,4})\b`)
	longDatePattern    = regexp.MustCompile(`\b(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Sept|Oct|Nov|Dec)[a-z]*\.?\s+\d{1,2},\s+\d{4}\b`)
)

// ParseNumericDate finds the first month/day/year date in text ("03/14/24", "3-14-2024").
func ParseNumericDate(text string) (time.Time, bool) {
	for _, m := range numericDatePattern.FindAllStringSubmatch(text, -1) {
		month, _ := strconv.Atoi(m[1])
		day, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		switch len(m[3]) {
		case 2:
			year += 2000
		case 3:
			continue
		}
		t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
		if t.Month() == time.Month(month) && t.Day() == day {
			return t, true
		}
	}
	return time.Time{}, false
}

// parseLooseDate accepts a bare date string, an embedded numeric date or an
// embedded "March 14, 2024" style date.
func parseLooseDate(text string) (time.Time, bool) {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return time.Time{}, false
	}
	// Bare numbers in a row are item counters, not epoch timestamps.
	if _, err := strconv.ParseFloat(text, 64); err != nil {
		if t, ok := ParseDate(text); ok {
			return t, true
		}
	}
	if t, ok := ParseNumericDate(text); ok {
		return t, true
	}
	if m := longDatePattern.FindString(text); m != "" {
		m = strings.Replace(strings.Replace(m, "Sept", "Sep", 1), ".", "", 1)
		for _, layout := range []string{"Jan 2, 2006", "January 2, 2006"} {
			if t, err := time.Parse(layout, m); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func (s *AgendaScraper) fetchDocument(ctx context.Context) (*goquery.Document, error) {
	body, err := s.deps.Fetcher.Get(ctx, s.source.URL, map[string]string{"Accept": "text/html"})
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse agenda page: %w", err)
	}
	return doc, nil
}

// extractTableAgenda reads one meeting per row. Rows without a date or a
// title, header rows included, are skipped.
func extractTableAgenda(ctx context.Context, s *AgendaScraper) ([]agendaRecord, error) {
	doc, err := s.fetchDocument(ctx)
	if err != nil {
		return nil, err
	}

	rowSelector := s.source.RowSelector
	if rowSelector == "" {
		rowSelector = defaultRowSelector
	}
	rows := doc.Find(rowSelector)
	if rows.Length() == 0 && s.source.RowSelector == "" {
		rows = doc.Find(fallbackRowSelector)
	}

	linkSelector := s.source.LinkSelector
	if linkSelector == "" {
		linkSelector = defaultLinkSelector
	}

	var records []agendaRecord
	rows.Each(func(_ int, row *goquery.Selection) {
		date := s.rowDate(row)
		if date.IsZero() {
			return
		}

		anchor := row.Find(linkSelector).First()
		href, _ := anchor.Attr("href")
		link := s.resolve(href)

		var title string
		if s.source.TitleSelector != "" {
			title = collapse(row.Find(s.source.TitleSelector).First().Text())
		}
		if title == "" {
			title = collapse(anchor.Text())
		}
		if title == "" {
			title = collapse(row.Text())
		}
		if title == "" {
			return
		}

		records = append(records, agendaRecord{
			ID:    recordID("", link, date, title),
			Title: title,
			Link:  link,
			Date:  date,
			Texts: []string{title, collapse(row.Text())},
			Raw: map[string]any{
				"row_text": collapse(row.Text()),
				"href":     href,
			},
		})
	})
	return records, nil
}

// rowDate tries the configured selector, a <time datetime> element, the first
// cell and finally the whole row text.
func (s *AgendaScraper) rowDate(row *goquery.Selection) time.Time {
	if s.source.DateSelector != "" {
		if t, ok := parseLooseDate(row.Find(s.source.DateSelector).First().Text()); ok {
			return t
		}
	}
	if dt, ok := row.Find("time[datetime]").First().Attr("datetime"); ok {
		if t, ok := ParseDate(dt); ok {
			return t
		}
	}
	if t, ok := parseLooseDate(row.Find("td").First().Text()); ok {
		return t
	}
	if t, ok := parseLooseDate(row.Text()); ok {
		return t
	}
	return time.Time{}
}

// extractGenericAgenda scans every link on the page. Only links that mention
// "agenda" in their text or href and carry a numeric date in their text count.
func extractGenericAgenda(ctx context.Context, s *AgendaScraper) ([]agendaRecord, error) {
	doc, err := s.fetchDocument(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var records []agendaRecord
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		text := collapse(a.Text())
		href, _ := a.Attr("href")
		if !strings.Contains(strings.ToLower(text), "agenda") && !strings.Contains(strings.ToLower(href), "agenda") {
			return
		}
		date, ok := ParseNumericDate(text)
		if !ok {
			return
		}
		link := s.resolve(href)
		if link == "" || seen[link] {
			return
		}
		seen[link] = true

		records = append(records, agendaRecord{
			ID:    link,
			Title: text,
			Link:  link,
			Date:  date,
			Texts: []string{text},
			Raw: map[string]any{
				"text": text,
				"href": href,
			},
		})
	})
	return records, nil
}
