package scrapers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-watch/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-watch/pkg/models"
)

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func gisFixture() string {
	recent := millis(testNow.AddDate(0, 0, -3))
	old := millis(testNow.AddDate(0, 0, -60))
	return `{"features": [
		{"attributes": {"OBJECTID": 101, "ISSUED": ` + itoa(recent) + `, "PERMIT_TYPE": "New Construction",
			"DESCRIPTION": "Multi-family residential tower", "ESTIMATED_COST": 6000000,
			"ADDRESS": "100  Congress Ave, , Austin", "APPLICANT": "Greystar Development"}},
		{"attributes": {"OBJECTID": 102, "ISSUED": ` + itoa(recent) + `, "PERMIT_TYPE": "Residential",
			"DESCRIPTION": "Deck repair", "ESTIMATED_COST": 8000}},
		{"attributes": {"OBJECTID": 103, "ISSUED": ` + itoa(old) + `, "PERMIT_TYPE": "Commercial",
			"DESCRIPTION": "Office build-out", "ESTIMATED_COST": 2000000}},
		{"attributes": {"ISSUED": ` + itoa(recent) + `, "PERMIT_TYPE": "Commercial", "DESCRIPTION": "no id"}}
	]}`
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

func testDataset(url string) models.DatasetConfig {
	return models.DatasetConfig{
		Key:              "building_permits",
		Type:             models.DatasetTypeArcGIS,
		URL:              url,
		DateField:        "ISSUED",
		AddressField:     "ADDRESS",
		TypeField:        "PERMIT_TYPE",
		DescriptionField: "DESCRIPTION",
		ValueField:       "ESTIMATED_COST",
		LinkTemplate:     "https://permits.example.gov/permit/{id}",
	}
}

func TestGISScraper_Scrape(t *testing.T) {
	var gotQuery map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/arcgis/rest/services/Permits/FeatureServer/0/query", r.URL.Path)
		gotQuery = map[string]string{
			"where":             r.URL.Query().Get("where"),
			"orderByFields":     r.URL.Query().Get("orderByFields"),
			"resultRecordCount": r.URL.Query().Get("resultRecordCount"),
			"f":                 r.URL.Query().Get("f"),
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(gisFixture()))
	}))
	defer server.Close()

	deps := newTestDeps(t, testEntity("Greystar", "greystar"))
	jurisdiction := &models.Jurisdiction{Key: "austin"}
	scraper, err := NewGISScraper(jurisdiction, testDataset(server.URL+"/arcgis/rest/services/Permits/FeatureServer/0"), 1000, deps.Deps)
	require.NoError(t, err)

	result, err := scraper.Scrape(context.Background(), Options{DaysBack: 30})
	require.NoError(t, err)

	assert.Equal(t, "ISSUED >= DATE '2024-02-23'", gotQuery["where"])
	assert.Equal(t, "ISSUED DESC", gotQuery["orderByFields"])
	assert.Equal(t, "1000", gotQuery["resultRecordCount"])
	assert.Equal(t, "json", gotQuery["f"])

	// 101 and 102 are in range; 103 is too old and the id-less row is malformed.
	assert.Equal(t, 2, result.RecordsFound)
	assert.Equal(t, 1, result.RecordsNew)

	signals := deps.signals.all()
	require.Len(t, signals, 1)
	s := signals[0]
	assert.Equal(t, models.SignalTypePermit, s.Type)
	assert.Equal(t, SourceArcGIS, s.Source)
	assert.Equal(t, "austin", s.Jurisdiction)
	assert.Equal(t, "building_permits:101", s.SourceID)
	assert.Equal(t, 8, s.Priority)
	assert.Equal(t, "New Construction: Multi-family residential tower", s.Title)
	require.NotNil(t, s.Address)
	assert.Equal(t, "100 Congress Ave, Austin", *s.Address)
	require.NotNil(t, s.Link)
	assert.Equal(t, "https://permits.example.gov/permit/101", *s.Link)
	require.NotNil(t, s.CompetitorMatch)
	assert.Equal(t, "Greystar", *s.CompetitorMatch)
	assert.True(t, s.OccurredAt.Equal(testNow.AddDate(0, 0, -3).Truncate(time.Millisecond)))

	job := deps.jobs.last()
	assert.Equal(t, models.JobStatusDone, job.Status)
	assert.Equal(t, result.JobID, job.ID)
	assert.Equal(t, "building_permits", job.QueryParams["dataset"])
}

func TestGISScraper_RerunIsIdempotent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(gisFixture()))
	}))
	defer server.Close()

	deps := newTestDeps(t)
	scraper, err := NewGISScraper(&models.Jurisdiction{Key: "austin"}, testDataset(server.URL), 1000, deps.Deps)
	require.NoError(t, err)

	first, err := scraper.Scrape(context.Background(), Options{DaysBack: 30})
	require.NoError(t, err)
	second, err := scraper.Scrape(context.Background(), Options{DaysBack: 30})
	require.NoError(t, err)

	assert.Equal(t, 1, first.RecordsNew)
	assert.Equal(t, first.RecordsFound, second.RecordsFound)
	assert.Equal(t, 0, second.RecordsNew)
	assert.Len(t, deps.signals.all(), 1)
}

func TestGISScraper_TitleTemplateTruncated(t *testing.T) {
	long := strings.Repeat("a", 300)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"features": [{"attributes": {"OBJECTID": 7, "ISSUED": "2024-03-20",
			"PERMIT_TYPE": "Commercial", "DESCRIPTION": "` + long + `", "PERMIT_NUM": "BP-7"}}]}`))
	}))
	defer server.Close()

	deps := newTestDeps(t)
	dataset := testDataset(server.URL)
	dataset.TitleTemplate = "{PERMIT_NUM} {type}: {description}"
	scraper, err := NewGISScraper(&models.Jurisdiction{Key: "austin"}, dataset, 1000, deps.Deps)
	require.NoError(t, err)

	_, err = scraper.Scrape(context.Background(), Options{DaysBack: 30})
	require.NoError(t, err)

	signals := deps.signals.all()
	require.Len(t, signals, 1)
	assert.Len(t, []rune(signals[0].Title), 200)
	assert.Equal(t, "BP-7 Commercial: aaa", signals[0].Title[:20])
}

func TestGISScraper_QueryFailureFailsJob(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	deps := newTestDeps(t)
	scraper, err := NewGISScraper(&models.Jurisdiction{Key: "austin"}, testDataset(server.URL), 1000, deps.Deps)
	require.NoError(t, err)

	_, err = scraper.Scrape(context.Background(), Options{DaysBack: 30})
	require.Error(t, err)

	job := deps.jobs.last()
	assert.Equal(t, models.JobStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Contains(t, *job.ErrorMessage, "500")
	assert.Empty(t, deps.signals.all())
}

func TestGISScraper_ServiceErrorObjectFailsJob(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error": {"code": 400, "message": "Invalid field: ISSUED"}}`))
	}))
	defer server.Close()

	deps := newTestDeps(t)
	scraper, err := NewGISScraper(&models.Jurisdiction{Key: "austin"}, testDataset(server.URL), 1000, deps.Deps)
	require.NoError(t, err)

	_, err = scraper.Scrape(context.Background(), Options{DaysBack: 30})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid field")
	assert.Equal(t, models.JobStatusFailed, deps.jobs.last().Status)
}

func TestNewGISScraper_InvalidConfig(t *testing.T) {
	deps := newTestDeps(t)
	jurisdiction := &models.Jurisdiction{Key: "austin"}

	missingDate := testDataset("https://example.gov/query")
	missingDate.DateField = ""
	_, err := NewGISScraper(jurisdiction, missingDate, 1000, deps.Deps)
	assert.ErrorIs(t, err, apperrors.ErrInvalidConfig)

	missingURL := testDataset("")
	_, err = NewGISScraper(jurisdiction, missingURL, 1000, deps.Deps)
	assert.ErrorIs(t, err, apperrors.ErrInvalidConfig)

	_, err = NewGISScraper(nil, testDataset("https://example.gov/query"), 1000, deps.Deps)
	assert.ErrorIs(t, err, apperrors.ErrInvalidConfig)

	noRepo := deps.Deps
	noRepo.Signals = nil
	_, err = NewGISScraper(jurisdiction, testDataset("https://example.gov/query"), 1000, noRepo)
	assert.ErrorIs(t, err, apperrors.ErrInvalidConfig)
}
