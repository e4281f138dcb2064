package scrapers

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ekaya-inc/ekaya-watch/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-watch/pkg/models"
)

// FilingConfig configures the EDGAR filing adapter.
type FilingConfig struct {
	BaseURL   string
	UserAgent string
	// FeedCount is how many recent filings to request per filer.
	FeedCount int
	// FilerDelay spaces consecutive filer requests.
	FilerDelay time.Duration
}

// FilingScraper polls the recent-filings feed of every tracked filer.
// It runs once per cycle, scoped to the national jurisdiction.
type FilingScraper struct {
	deps    Deps
	tracker *JobTracker
	cfg     FilingConfig
	filers  []*models.CompetitorEntity
	parser  *gofeed.Parser
	logger  *zap.Logger
}

var _ Scraper = (*FilingScraper)(nil)

// NewFilingScraper builds the adapter over the entities that carry a CIK.
func NewFilingScraper(cfg FilingConfig, entities []*models.CompetitorEntity, deps Deps) (*FilingScraper, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: filing base url is required", apperrors.ErrInvalidConfig)
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("%w: filing base url: %v", apperrors.ErrInvalidConfig, err)
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		return nil, fmt.Errorf("%w: filing user agent is required", apperrors.ErrInvalidConfig)
	}
	if cfg.FeedCount <= 0 {
		cfg.FeedCount = 40
	}

	filers := make([]*models.CompetitorEntity, 0, len(entities))
	for _, e := range entities {
		if e != nil && e.Active && e.CIK != nil && strings.TrimSpace(*e.CIK) != "" {
			filers = append(filers, e)
		}
	}

	return &FilingScraper{
		deps:    deps,
		tracker: NewJobTracker(deps.Jobs, deps.Logger),
		cfg:     cfg,
		filers:  filers,
		parser:  gofeed.NewParser(),
		logger:  deps.Logger.Named("filing-scraper"),
	}, nil
}

// Source implements Scraper.
func (s *FilingScraper) Source() string {
	return SourceSECEdgar
}

// Filers returns the number of entities polled per run.
func (s *FilingScraper) Filers() int {
	return len(s.filers)
}

// Scrape polls every filer in turn. A failing filer is logged and skipped;
// the job fails only when every filer failed.
func (s *FilingScraper) Scrape(ctx context.Context, opts Options) (*Result, error) {
	now := s.deps.now()
	cutoff := Cutoff(now, opts.DaysBack)

	ciks := make([]string, 0, len(s.filers))
	for _, f := range s.filers {
		ciks = append(ciks, *f.CIK)
	}
	params := map[string]any{
		"filers":    ciks,
		"count":     s.cfg.FeedCount,
		"days_back": opts.DaysBack,
		"cutoff":    cutoff.Format("2006-01-02"),
	}

	return s.tracker.Track(ctx, SourceSECEdgar, NationalJurisdiction, params, func(ctx context.Context) (*Result, error) {
		result := &Result{}
		limiter := rate.NewLimiter(rate.Inf, 1)
		if s.cfg.FilerDelay > 0 {
			limiter = rate.NewLimiter(rate.Every(s.cfg.FilerDelay), 1)
		}

		var failures []error
		for _, filer := range s.filers {
			if err := limiter.Wait(ctx); err != nil {
				return nil, err
			}

			found, created, err := s.scrapeFiler(ctx, filer, now, cutoff)
			result.RecordsFound += found
			result.RecordsNew += created
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				s.logger.Warn("Filer feed failed, continuing",
					zap.String("competitor", filer.Name),
					zap.String("cik", *filer.CIK),
					zap.Error(err))
				failures = append(failures, fmt.Errorf("%s: %w", *filer.CIK, err))
			}
		}

		if len(failures) > 0 && len(failures) == len(s.filers) {
			return nil, fmt.Errorf("all %d filer feeds failed: %w", len(failures), errors.Join(failures...))
		}
		return result, nil
	})
}

func (s *FilingScraper) feedURL(cik string) string {
	q := url.Values{}
	q.Set("action", "getcompany")
	q.Set("CIK", cik)
	q.Set("type", "")
	q.Set("dateb", "")
	q.Set("owner", "include")
	q.Set("count", strconv.Itoa(s.cfg.FeedCount))
	q.Set("output", "atom")
	return strings.TrimSuffix(s.cfg.BaseURL, "/") + "/cgi-bin/browse-edgar?" + q.Encode()
}

func (s *FilingScraper) scrapeFiler(ctx context.Context, filer *models.CompetitorEntity, now, cutoff time.Time) (found, created int, err error) {
	cik := strings.TrimSpace(*filer.CIK)
	body, err := s.deps.Fetcher.Get(ctx, s.feedURL(cik), map[string]string{
		"User-Agent": s.cfg.UserAgent,
		"Accept":     "application/atom+xml",
	})
	if err != nil {
		return 0, 0, err
	}

	feed, err := s.parser.ParseString(string(body))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to parse filing feed: %w", err)
	}

	competitor := filer.Name
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		filedAt := itemTime(item, now)
		if filedAt.Before(cutoff) {
			continue
		}
		found++

		filingType := ExtractFilingType(item.Categories, item.Title, item.Description)
		if !IsSignificantFiling(filingType) {
			continue
		}

		sourceID := strings.TrimSpace(item.GUID)
		if sourceID == "" {
			sourceID = fmt.Sprintf("%s-%d", cik, filedAt.Unix())
		}
		title := strings.TrimSpace(item.Title)
		if title == "" {
			title = fmt.Sprintf("%s filing by %s", filingType, filer.Name)
		}

		signal := &models.CompetitorSignal{
			Type:         models.SignalTypeSECFiling,
			Source:       SourceSECEdgar,
			Jurisdiction: NationalJurisdiction,
			SourceID:     sourceID,
			Title:        Truncate(title, permitTitleMaxLen),
			OccurredAt:   filedAt,
			Link:         optionalString(strings.TrimSpace(item.Link)),
			RawData: map[string]any{
				"cik":         cik,
				"company":     filer.Name,
				"filing_type": filingType,
				"summary":     item.Description,
				"categories":  item.Categories,
			},
			Priority:        FilingPriority(filingType),
			CompetitorMatch: &competitor,
		}

		inserted, err := persist(ctx, s.deps.Signals, signal)
		if err != nil {
			return found, created, err
		}
		if inserted {
			created++
		}
	}
	return found, created, nil
}

// itemTime prefers the published date, then the updated date, then now.
func itemTime(item *gofeed.Item, now time.Time) time.Time {
	switch {
	case item.PublishedParsed != nil:
		return *item.PublishedParsed
	case item.UpdatedParsed != nil:
		return *item.UpdatedParsed
	case item.Published != "":
		return ParseDateOr(item.Published, now)
	}
	return ParseDateOr(item.Updated, now)
}

var (
	parentheticalPattern = regexp.MustCompile(`\(([^()]+)\)`)
	formTypePattern      = regexp.MustCompile(`^[0-9A-Z][0-9A-Z /-]*$`)
	htmlTagPattern       = regexp.MustCompile(`<[^>]*>`)
	summaryFormPattern   = regexp.MustCompile(`(?i)\bform(?:\s+type)?\s*:\s*([0-9A-Z][0-9A-Z-]*(?:/A)?(?: \d+[A-Z](?:/A)?)?)`)
)

// ExtractFilingType determines the form type from, in order: the category
// metadata, a parenthetical in the title such as "Acme Corp (8-K)", or a
// "Form Type:" label in the summary. The first non-empty answer wins.
func ExtractFilingType(categories []string, title, summary string) string {
	for _, c := range categories {
		if c = strings.TrimSpace(c); c != "" {
			return strings.ToUpper(c)
		}
	}

	for _, m := range parentheticalPattern.FindAllStringSubmatch(title, -1) {
		candidate := strings.TrimSpace(m[1])
		if formTypePattern.MatchString(candidate) && strings.ContainsAny(candidate, "ABCDEFGHIJKLMNOPQRSTUVWXYZ") {
			return candidate
		}
	}

	plain := htmlTagPattern.ReplaceAllString(summary, " ")
	if m := summaryFormPattern.FindStringSubmatch(plain); len(m) == 2 {
		return strings.ToUpper(strings.TrimSpace(m[1]))
	}
	return ""
}
