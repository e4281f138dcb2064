package scrapers

import (
	"context"
	"fmt"
	"strings"
	"time"
)

func extractFeedAgenda(ctx context.Context, s *AgendaScraper) ([]agendaRecord, error) {
	body, err := s.deps.Fetcher.Get(ctx, s.source.URL, map[string]string{
		"Accept": "application/rss+xml, application/atom+xml, application/xml",
	})
	if err != nil {
		return nil, err
	}

	feed, err := s.parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse agenda feed: %w", err)
	}

	records := make([]agendaRecord, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		title := collapse(item.Title)
		if title == "" {
			continue
		}

		var date time.Time
		switch {
		case item.PublishedParsed != nil:
			date = *item.PublishedParsed
		case item.UpdatedParsed != nil:
			date = *item.UpdatedParsed
		}

		link := s.resolve(item.Link)
		id := recordID(strings.TrimSpace(item.GUID), link, date, title)
		if id == "" {
			continue
		}

		records = append(records, agendaRecord{
			ID:    id,
			Title: title,
			Link:  link,
			Date:  date,
			Texts: append([]string{title, item.Description}, item.Categories...),
			Raw: map[string]any{
				"title":       item.Title,
				"description": item.Description,
				"categories":  item.Categories,
				"published":   item.Published,
			},
		})
	}
	return records, nil
}
