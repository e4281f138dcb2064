package scrapers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-watch/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-watch/pkg/models"
)

const acmeFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>ACME CORP</title>
  <entry>
    <title>Acme Corp (8-K)</title>
    <link rel="alternate" type="text/html" href="https://www.sec.gov/Archives/edgar/data/320193/000032019324000001.htm"/>
    <summary type="html">&lt;b&gt;Filed:&lt;/b&gt; 2024-03-20</summary>
    <updated>2024-03-20T16:05:00-04:00</updated>
    <id>urn:tag:sec.gov,2008:accession-number=0000320193-24-000001</id>
  </entry>
  <entry>
    <title>4 - Acme Corp (0000320193) (Issuer)</title>
    <link rel="alternate" type="text/html" href="https://www.sec.gov/Archives/edgar/data/320193/000032019324000002.htm"/>
    <category label="form type" scheme="https://www.sec.gov/" term="4"/>
    <updated>2024-03-18T10:00:00-04:00</updated>
    <id>urn:tag:sec.gov,2008:accession-number=0000320193-24-000002</id>
  </entry>
  <entry>
    <title>10-K annual report</title>
    <category label="form type" scheme="https://www.sec.gov/" term="10-K"/>
    <updated>2023-11-01T10:00:00-04:00</updated>
    <id>urn:tag:sec.gov,2008:accession-number=0000320193-23-000099</id>
  </entry>
</feed>`

func filer(name, cik string) *models.CompetitorEntity {
	e := testEntity(name, name)
	e.CIK = &cik
	return e
}

func testFilingConfig(baseURL string) FilingConfig {
	return FilingConfig{
		BaseURL:   baseURL,
		UserAgent: "ekaya-watch test@example.com",
		FeedCount: 40,
	}
}

func TestFilingScraper_Scrape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/cgi-bin/browse-edgar", r.URL.Path)
		assert.Equal(t, "0000320193", r.URL.Query().Get("CIK"))
		assert.Equal(t, "atom", r.URL.Query().Get("output"))
		assert.Equal(t, "40", r.URL.Query().Get("count"))
		assert.Equal(t, "ekaya-watch test@example.com", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/atom+xml")
		_, _ = w.Write([]byte(acmeFeed))
	}))
	defer server.Close()

	acme := filer("Acme Corp", "0000320193")
	deps := newTestDeps(t, acme)
	scraper, err := NewFilingScraper(testFilingConfig(server.URL), []*models.CompetitorEntity{acme, testEntity("No CIK Inc")}, deps.Deps)
	require.NoError(t, err)
	assert.Equal(t, 1, scraper.Filers())

	result, err := scraper.Scrape(context.Background(), Options{DaysBack: 30})
	require.NoError(t, err)

	// The 8-K and the Form 4 are in range; the 10-K is older than the cutoff.
	assert.Equal(t, 2, result.RecordsFound)
	assert.Equal(t, 1, result.RecordsNew)

	signals := deps.signals.all()
	require.Len(t, signals, 1)
	s := signals[0]
	assert.Equal(t, models.SignalTypeSECFiling, s.Type)
	assert.Equal(t, SourceSECEdgar, s.Source)
	assert.Equal(t, NationalJurisdiction, s.Jurisdiction)
	assert.Equal(t, "urn:tag:sec.gov,2008:accession-number=0000320193-24-000001", s.SourceID)
	assert.Equal(t, 8, s.Priority)
	assert.Equal(t, "8-K", s.RawData["filing_type"])
	require.NotNil(t, s.CompetitorMatch)
	assert.Equal(t, "Acme Corp", *s.CompetitorMatch)

	job := deps.jobs.last()
	assert.Equal(t, models.JobStatusDone, job.Status)
	assert.Equal(t, NationalJurisdiction, job.Jurisdiction)

	again, err := scraper.Scrape(context.Background(), Options{DaysBack: 30})
	require.NoError(t, err)
	assert.Equal(t, 0, again.RecordsNew)
}

func TestFilingScraper_ContinuesPastFailingFiler(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Query().Get("CIK") == "111" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(acmeFeed))
	}))
	defer server.Close()

	broken := filer("Broken Co", "111")
	acme := filer("Acme Corp", "0000320193")
	deps := newTestDeps(t, broken, acme)
	scraper, err := NewFilingScraper(testFilingConfig(server.URL), []*models.CompetitorEntity{broken, acme}, deps.Deps)
	require.NoError(t, err)

	result, err := scraper.Scrape(context.Background(), Options{DaysBack: 30})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 1, result.RecordsNew)
	assert.Equal(t, models.JobStatusDone, deps.jobs.last().Status)
}

func TestFilingScraper_AllFilersFailingFailsJob(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not a feed</html>"))
	}))
	defer server.Close()

	acme := filer("Acme Corp", "320193")
	deps := newTestDeps(t, acme)
	scraper, err := NewFilingScraper(testFilingConfig(server.URL), []*models.CompetitorEntity{acme}, deps.Deps)
	require.NoError(t, err)

	_, err = scraper.Scrape(context.Background(), Options{DaysBack: 30})
	require.Error(t, err)
	assert.Equal(t, models.JobStatusFailed, deps.jobs.last().Status)
}

func TestFilingScraper_NoFilers(t *testing.T) {
	deps := newTestDeps(t)
	scraper, err := NewFilingScraper(testFilingConfig("https://www.sec.gov"), nil, deps.Deps)
	require.NoError(t, err)

	result, err := scraper.Scrape(context.Background(), Options{DaysBack: 7})
	require.NoError(t, err)
	assert.Equal(t, 0, result.RecordsFound)
	assert.Equal(t, models.JobStatusDone, deps.jobs.last().Status)
}

func TestNewFilingScraper_RequiresUserAgent(t *testing.T) {
	deps := newTestDeps(t)
	cfg := testFilingConfig("https://www.sec.gov")
	cfg.UserAgent = " "
	_, err := NewFilingScraper(cfg, nil, deps.Deps)
	assert.ErrorIs(t, err, apperrors.ErrInvalidConfig)
}
