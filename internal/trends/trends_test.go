package trends

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ubuygold/stockmeta/internal/config"
	"github.com/ubuygold/stockmeta/internal/db"
	"github.com/ubuygold/stockmeta/internal/generator"
	"github.com/ubuygold/stockmeta/internal/keymanager"
	"github.com/ubuygold/stockmeta/internal/logger"
	"github.com/ubuygold/stockmeta/internal/model"
)

type fakeCreds struct {
	err     error
	reports []keymanager.Outcome
}

func (f *fakeCreds) Select() (model.Credential, error) {
	if f.err != nil {
		return model.Credential{}, f.err
	}
	return model.Credential{Key: "admin-key-1234", Pool: model.PoolAdmin}, nil
}

func (f *fakeCreds) Wait(ctx context.Context, c model.Credential) error { return nil }

func (f *fakeCreds) Report(c model.Credential, o keymanager.Outcome) {
	f.reports = append(f.reports, o)
}

type fakeScraper struct {
	trends []model.Trend
	err    error
	key    string
	block   chan struct{}
	started chan struct{}
}

func (f *fakeScraper) ScrapeTrends(ctx context.Context, key string, now time.Time) ([]model.Trend, error) {
	f.key = key
	if f.started != nil {
		close(f.started)
	}
	if f.block != nil {
		<-f.block
	}
	return f.trends, f.err
}

var fixedNow = time.Date(2026, 10, 18, 9, 0, 0, 0, time.Local)

func setup(t *testing.T, creds *fakeCreds, scraper *fakeScraper) (*Service, db.Service) {
	store, err := db.NewService(config.DatabaseConfig{Type: "sqlite", DSN: "file::memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	s := NewService(store, creds, scraper, logger.Discard(), nil)
	s.now = func() time.Time { return fixedNow }
	return s, store
}

func TestListFallsBackToCatalog(t *testing.T) {
	s, _ := setup(t, &fakeCreds{}, &fakeScraper{})
	listing, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, SourceCatalog, listing.Source)
	require.Len(t, listing.Trends, 6)
	assert.Equal(t, "Cyberpunk Solarpunk City", listing.Trends[0].Title)
	assert.Len(t, Keywords(), 6)
}

func TestScrape(t *testing.T) {
	t.Run("replaces trends and stamps date", func(t *testing.T) {
		creds := &fakeCreds{}
		scraper := &fakeScraper{trends: []model.Trend{{Ref: "live-1", Title: "Quiet Luxury"}, {Ref: "live-2", Title: "Biophilic Offices"}}}
		s, store := setup(t, creds, scraper)

		trends, err := s.Scrape(context.Background(), "manual")
		require.NoError(t, err)
		assert.Len(t, trends, 2)
		assert.Equal(t, "admin-key-1234", scraper.key)
		assert.Equal(t, []keymanager.Outcome{keymanager.OutcomeSuccess}, creds.reports)

		listing, err := s.List()
		require.NoError(t, err)
		assert.Equal(t, SourceLive, listing.Source)
		assert.Equal(t, "2026-10-18", listing.LastScrapedDate)
		assert.Equal(t, "Quiet Luxury", listing.Trends[0].Title)

		settings, err := store.GetSettings()
		require.NoError(t, err)
		assert.Equal(t, "2026-10-18", settings.LastScrapedDate)
	})

	t.Run("empty result keeps existing data", func(t *testing.T) {
		scraper := &fakeScraper{trends: []model.Trend{{Ref: "a", Title: "Kept"}}}
		s, _ := setup(t, &fakeCreds{}, scraper)
		_, err := s.Scrape(context.Background(), "manual")
		require.NoError(t, err)

		scraper.trends = nil
		_, err = s.Scrape(context.Background(), "manual")
		assert.ErrorIs(t, err, generator.ErrEmptyResponse)

		listing, err := s.List()
		require.NoError(t, err)
		assert.Equal(t, "Kept", listing.Trends[0].Title)
	})

	t.Run("no admin key", func(t *testing.T) {
		s, _ := setup(t, &fakeCreds{err: keymanager.ErrNoEligibleCredential}, &fakeScraper{})
		_, err := s.Scrape(context.Background(), "manual")
		assert.ErrorIs(t, err, keymanager.ErrNoEligibleCredential)
	})

	t.Run("rate limit reported", func(t *testing.T) {
		creds := &fakeCreds{}
		s, _ := setup(t, creds, &fakeScraper{err: fmt.Errorf("%w: busy", generator.ErrRateLimited)})
		_, err := s.Scrape(context.Background(), "manual")
		assert.ErrorIs(t, err, generator.ErrRateLimited)
		assert.Equal(t, []keymanager.Outcome{keymanager.OutcomeRateLimited}, creds.reports)
	})

	t.Run("one scrape at a time", func(t *testing.T) {
		scraper := &fakeScraper{trends: []model.Trend{{Title: "x"}}, block: make(chan struct{}), started: make(chan struct{})}
		s, _ := setup(t, &fakeCreds{}, scraper)

		done := make(chan error)
		go func() {
			_, err := s.Scrape(context.Background(), "manual")
			done <- err
		}()
		<-scraper.started
		_, err := s.Scrape(context.Background(), "manual")
		assert.True(t, errors.Is(err, ErrScrapeInProgress))
		close(scraper.block)
		assert.NoError(t, <-done)
	})
}

func TestShouldAutoScrape(t *testing.T) {
	now := time.Date(2026, 10, 18, 9, 0, 30, 0, time.Local)
	base := model.Settings{AutoScrapeTime: "09:00", IsAutoScrapeEnabled: true}

	assert.True(t, ShouldAutoScrape(base, now))

	disabled := base
	disabled.IsAutoScrapeEnabled = false
	assert.False(t, ShouldAutoScrape(disabled, now))

	done := base
	done.LastScrapedDate = "2026-10-18"
	assert.False(t, ShouldAutoScrape(done, now))

	yesterday := base
	yesterday.LastScrapedDate = "2026-10-17"
	assert.True(t, ShouldAutoScrape(yesterday, now))

	assert.False(t, ShouldAutoScrape(base, now.Add(time.Minute)))
}

func TestAutoScrape(t *testing.T) {
	scraper := &fakeScraper{trends: []model.Trend{{Title: "Auto"}}}
	s, store := setup(t, &fakeCreds{}, scraper)

	ran, err := s.AutoScrape(context.Background())
	require.NoError(t, err)
	assert.False(t, ran, "disabled by default")

	require.NoError(t, store.SaveSettings(&model.Settings{AutoScrapeTime: "09:00", IsAutoScrapeEnabled: true}))
	ran, err = s.AutoScrape(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)

	ran, err = s.AutoScrape(context.Background())
	require.NoError(t, err)
	assert.False(t, ran, "already scraped today")
}

func TestValidScrapeTime(t *testing.T) {
	assert.True(t, ValidScrapeTime("09:00"))
	assert.True(t, ValidScrapeTime("23:59"))
	assert.False(t, ValidScrapeTime("9:00"))
	assert.False(t, ValidScrapeTime("24:00"))
	assert.False(t, ValidScrapeTime("noon"))
}
