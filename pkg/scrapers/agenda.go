package scrapers

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-watch/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-watch/pkg/models"
)

// agendaRecord is one meeting or agenda entry extracted by a strategy.
type agendaRecord struct {
	ID    string
	Title string
	Link  string
	// Date is zero when the strategy could not determine one.
	Date time.Time
	// Texts are checked against the land-use keywords.
	Texts []string
	Raw   map[string]any
}

// agendaStrategy extracts records from one wire format. Malformed rows are
// skipped by the strategy; an error means the whole page was unusable.
type agendaStrategy struct {
	priority int
	extract  func(ctx context.Context, s *AgendaScraper) ([]agendaRecord, error)
}

var agendaStrategies = map[string]agendaStrategy{
	models.AgendaFormatAPI:     {priority: agendaStructuredPriority, extract: extractAPIAgenda},
	models.AgendaFormatTable:   {priority: agendaStructuredPriority, extract: extractTableAgenda},
	models.AgendaFormatGeneric: {priority: agendaLoosePriority, extract: extractGenericAgenda},
	models.AgendaFormatFeed:    {priority: agendaLoosePriority, extract: extractFeedAgenda},
}

// AgendaScraper reads one meeting-agenda publisher using the strategy for its format.
type AgendaScraper struct {
	deps         Deps
	tracker      *JobTracker
	jurisdiction string
	source       models.AgendaSourceConfig
	strategy     agendaStrategy
	base         *url.URL
	parser       *gofeed.Parser
	logger       *zap.Logger
}

var _ Scraper = (*AgendaScraper)(nil)

// NewAgendaScraper validates the source and resolves its extraction strategy.
func NewAgendaScraper(jurisdiction *models.Jurisdiction, source models.AgendaSourceConfig, deps Deps) (*AgendaScraper, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if jurisdiction == nil || jurisdiction.Key == "" {
		return nil, fmt.Errorf("%w: jurisdiction is required", apperrors.ErrInvalidConfig)
	}
	if err := source.Validate(); err != nil {
		return nil, err
	}
	strategy, ok := agendaStrategies[source.Format]
	if !ok {
		return nil, fmt.Errorf("%w: agenda source %s: no strategy for format %q", apperrors.ErrInvalidConfig, source.Key, source.Format)
	}

	baseRaw := source.BaseURL
	if baseRaw == "" {
		baseRaw = source.URL
	}
	base, err := url.Parse(baseRaw)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: agenda source %s: base url %q must be absolute", apperrors.ErrInvalidConfig, source.Key, baseRaw)
	}

	return &AgendaScraper{
		deps:         deps,
		tracker:      NewJobTracker(deps.Jobs, deps.Logger),
		jurisdiction: jurisdiction.Key,
		source:       source,
		strategy:     strategy,
		base:         base,
		parser:       gofeed.NewParser(),
		logger: deps.Logger.Named("agenda-scraper").With(
			zap.String("jurisdiction", jurisdiction.Key),
			zap.String("agenda_source", source.Key),
			zap.String("format", source.Format)),
	}, nil
}

// Source implements Scraper.
func (s *AgendaScraper) Source() string {
	return SourceAgenda
}

// Scrape fetches the agenda page and keeps land-use items newer than the cutoff.
func (s *AgendaScraper) Scrape(ctx context.Context, opts Options) (*Result, error) {
	now := s.deps.now()
	cutoff := Cutoff(now, opts.DaysBack)

	params := map[string]any{
		"agenda_source": s.source.Key,
		"format":        s.source.Format,
		"url":           s.source.URL,
		"days_back":     opts.DaysBack,
		"cutoff":        cutoff.Format("2006-01-02"),
	}

	return s.tracker.Track(ctx, SourceAgenda, s.jurisdiction, params, func(ctx context.Context) (*Result, error) {
		records, err := s.strategy.extract(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("agenda fetch failed: %w", err)
		}

		result := &Result{}
		matcher := s.deps.matcher()

		for _, rec := range records {
			occurredAt := rec.Date
			if occurredAt.IsZero() {
				occurredAt = now
			}
			if occurredAt.Before(cutoff) {
				continue
			}
			result.RecordsFound++

			if !IsLandUseItem(rec.Texts...) {
				continue
			}

			raw := rec.Raw
			if raw == nil {
				raw = map[string]any{}
			}
			raw["agenda_source"] = s.source.Key
			raw["format"] = s.source.Format

			title := Truncate(strings.TrimSpace(rec.Title), permitTitleMaxLen)
			signal := &models.CompetitorSignal{
				Type:            models.SignalTypeAgenda,
				Source:          SourceAgenda,
				Jurisdiction:    s.jurisdiction,
				SourceID:        s.source.Key + ":" + rec.ID,
				Title:           title,
				OccurredAt:      occurredAt,
				Link:            optionalString(rec.Link),
				RawData:         raw,
				Priority:        s.strategy.priority,
				CompetitorMatch: matchName(matcher.Match(title, nil, raw)),
			}

			inserted, err := persist(ctx, s.deps.Signals, signal)
			if err != nil {
				return nil, err
			}
			if inserted {
				result.RecordsNew++
			}
		}

		return result, nil
	})
}

// resolve turns href into an absolute URL against the configured base.
// Non-navigational links resolve to "".
func (s *AgendaScraper) resolve(href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	switch strings.ToLower(ref.Scheme) {
	case "", "http", "https":
	default:
		return ""
	}
	return s.base.ResolveReference(ref).String()
}

// recordID picks a stable identifier for a record: native id, then link, then date and title.
func recordID(nativeID, link string, date time.Time, title string) string {
	switch {
	case nativeID != "":
		return nativeID
	case link != "":
		return link
	case !date.IsZero():
		return date.Format("2006-01-02") + ":" + strings.ToLower(strings.Join(strings.Fields(title), " "))
	}
	return ""
}
