package scrapers

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-watch/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-watch/pkg/models"
)

const defaultGISIDField = "OBJECTID"

// templateFieldPattern matches {field} placeholders in title and link templates.
var templateFieldPattern = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// GISScraper queries one ArcGIS permit layer of one jurisdiction.
type GISScraper struct {
	deps         Deps
	tracker      *JobTracker
	jurisdiction string
	bbox         *models.BoundingBox
	dataset      models.DatasetConfig
	pageSize     int
	logger       *zap.Logger
}

var _ Scraper = (*GISScraper)(nil)

// NewGISScraper validates the dataset configuration and builds the adapter.
func NewGISScraper(jurisdiction *models.Jurisdiction, dataset models.DatasetConfig, pageSize int, deps Deps) (*GISScraper, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if jurisdiction == nil || jurisdiction.Key == "" {
		return nil, fmt.Errorf("%w: jurisdiction is required", apperrors.ErrInvalidConfig)
	}
	if err := dataset.Validate(); err != nil {
		return nil, err
	}
	if _, err := url.Parse(dataset.URL); err != nil {
		return nil, fmt.Errorf("%w: dataset %s: bad url: %v", apperrors.ErrInvalidConfig, dataset.Key, err)
	}
	if dataset.IDField == "" {
		dataset.IDField = defaultGISIDField
	}
	if pageSize <= 0 {
		pageSize = 1000
	}

	return &GISScraper{
		deps:         deps,
		tracker:      NewJobTracker(deps.Jobs, deps.Logger),
		jurisdiction: jurisdiction.Key,
		bbox:         jurisdiction.BoundingBox,
		dataset:      dataset,
		pageSize:     pageSize,
		logger: deps.Logger.Named("gis-scraper").With(
			zap.String("jurisdiction", jurisdiction.Key),
			zap.String("dataset", dataset.Key)),
	}, nil
}

// Source implements Scraper.
func (s *GISScraper) Source() string {
	return SourceArcGIS
}

type arcGISResponse struct {
	Features []struct {
		Attributes map[string]any `json:"attributes"`
	} `json:"features"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Scrape runs one query for records changed since the cutoff.
func (s *GISScraper) Scrape(ctx context.Context, opts Options) (*Result, error) {
	now := s.deps.now()
	cutoff := Cutoff(now, opts.DaysBack)
	queryURL := s.queryURL(cutoff)

	params := map[string]any{
		"dataset":   s.dataset.Key,
		"url":       s.dataset.URL,
		"days_back": opts.DaysBack,
		"cutoff":    cutoff.Format("2006-01-02"),
	}

	return s.tracker.Track(ctx, SourceArcGIS, s.jurisdiction, params, func(ctx context.Context) (*Result, error) {
		var resp arcGISResponse
		if err := s.deps.Fetcher.GetJSON(ctx, queryURL, &resp); err != nil {
			return nil, fmt.Errorf("permit query failed: %w", err)
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("permit query rejected: %d %s", resp.Error.Code, resp.Error.Message)
		}

		result := &Result{}
		matcher := s.deps.matcher()

		for _, feature := range resp.Features {
			attrs := feature.Attributes
			sourceID := stringField(attrs, s.dataset.IDField)
			if sourceID == "" {
				s.logger.Debug("Skipping feature without id")
				continue
			}

			occurredAt := ParseDateOr(attrs[s.dataset.DateField], now)
			if occurredAt.Before(cutoff) {
				continue
			}
			result.RecordsFound++

			permitType := stringField(attrs, s.dataset.TypeField)
			description := stringField(attrs, s.dataset.DescriptionField)
			occupancy := stringField(attrs, s.dataset.OccupancyField)
			value := numberField(attrs, s.dataset.ValueField)

			if !IsSignificantPermit(permitType, description, occupancy, value) {
				continue
			}

			title := s.title(attrs, permitType, description, sourceID)
			address := optionalString(NormalizeAddress(stringField(attrs, s.dataset.AddressField)))

			signal := &models.CompetitorSignal{
				Type:            models.SignalTypePermit,
				Source:          SourceArcGIS,
				Jurisdiction:    s.jurisdiction,
				SourceID:        s.dataset.Key + ":" + sourceID,
				Title:           title,
				Address:         address,
				OccurredAt:      occurredAt,
				Link:            optionalString(s.link(attrs)),
				RawData:         attrs,
				Priority:        PermitPriority(description, value),
				CompetitorMatch: matchName(matcher.Match(title, address, attrs)),
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

// queryURL builds the layer query: date field at or after the cutoff, newest first, one page.
func (s *GISScraper) queryURL(cutoff time.Time) string {
	base := strings.TrimSuffix(s.dataset.URL, "/")
	if !strings.HasSuffix(base, "/query") {
		base += "/query"
	}

	q := url.Values{}
	q.Set("where", fmt.Sprintf("%s >= DATE '%s'", s.dataset.DateField, cutoff.Format("2006-01-02")))
	q.Set("outFields", "*")
	q.Set("orderByFields", s.dataset.DateField+" DESC")
	q.Set("resultRecordCount", strconv.Itoa(s.pageSize))
	q.Set("returnGeometry", "false")
	q.Set("f", "json")
	if s.bbox != nil {
		q.Set("geometry", fmt.Sprintf("%g,%g,%g,%g", s.bbox.MinLon, s.bbox.MinLat, s.bbox.MaxLon, s.bbox.MaxLat))
		q.Set("geometryType", "esriGeometryEnvelope")
		q.Set("inSR", "4326")
		q.Set("spatialRel", "esriSpatialRelIntersects")
	}
	return base + "?" + q.Encode()
}

func (s *GISScraper) title(attrs map[string]any, permitType, description, sourceID string) string {
	var title string
	if s.dataset.TitleTemplate != "" {
		title = expandTemplate(s.dataset.TitleTemplate, attrs, map[string]string{
			"type":        permitType,
			"description": description,
		})
	} else {
		parts := make([]string, 0, 2)
		for _, p := range []string{permitType, description} {
			if p != "" {
				parts = append(parts, p)
			}
		}
		title = strings.Join(parts, ": ")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Permit " + sourceID
	}
	return Truncate(title, permitTitleMaxLen)
}

func (s *GISScraper) link(attrs map[string]any) string {
	if s.dataset.LinkTemplate == "" {
		return ""
	}
	return expandTemplate(s.dataset.LinkTemplate, attrs, map[string]string{
		"id": url.PathEscape(stringField(attrs, s.dataset.IDField)),
	})
}

// expandTemplate replaces {name} with an alias value or the named attribute.
func expandTemplate(tmpl string, attrs map[string]any, aliases map[string]string) string {
	return templateFieldPattern.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := m[1 : len(m)-1]
		if v, ok := aliases[name]; ok {
			return v
		}
		return stringField(attrs, name)
	})
}
