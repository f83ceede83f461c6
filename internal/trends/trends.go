// Package trends serves trending niches: live scrapes made with the admin rotation
// pool, falling back to a built-in catalog.
package trends

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ubuygold/stockmeta/internal/generator"
	"github.com/ubuygold/stockmeta/internal/keymanager"
	"github.com/ubuygold/stockmeta/internal/logger"
	"github.com/ubuygold/stockmeta/internal/metrics"
	"github.com/ubuygold/stockmeta/internal/model"
)

// DateLayout is the format of Settings.LastScrapedDate.
const DateLayout = "2006-01-02"

// Sources of a trend listing.
const (
	SourceCatalog = "catalog"
	SourceLive    = "live"
)

// ErrScrapeInProgress is returned when a scrape is requested while one is running.
var ErrScrapeInProgress = errors.New("a trend scrape is already running")

// Store is the persistence the trend service needs.
type Store interface {
	ListTrends() ([]model.Trend, error)
	ReplaceTrends(trends []model.Trend) error
	GetSettings() (*model.Settings, error)
	SaveSettings(s *model.Settings) error
}

// CredentialSource supplies admin rotation keys.
type CredentialSource interface {
	Select() (model.Credential, error)
	Wait(ctx context.Context, c model.Credential) error
	Report(c model.Credential, outcome keymanager.Outcome)
}

// Scraper produces live trend records.
type Scraper interface {
	ScrapeTrends(ctx context.Context, key string, now time.Time) ([]model.Trend, error)
}

// Listing is the trend feed served to users.
type Listing struct {
	Source          string        `json:"source"`
	LastScrapedDate string        `json:"lastScrapedDate,omitempty"`
	Trends          []model.Trend `json:"trends"`
}

// Service coordinates scrapes and serves the feed.
type Service struct {
	store   Store
	creds   CredentialSource
	scraper Scraper
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	running sync.Mutex
}

// NewService creates a trend service.
func NewService(store Store, creds CredentialSource, scraper Scraper, log *slog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		store:   store,
		creds:   creds,
		scraper: scraper,
		logger:  log.With("component", "trends"),
		metrics: m,
		now:     time.Now,
	}
}

// Scrape fetches fresh trends with an admin rotation key and replaces the stored ones.
// On any failure, including an empty result, the stored trends are kept.
func (s *Service) Scrape(ctx context.Context, trigger string) (trends []model.Trend, err error) {
	if !s.running.TryLock() {
		return nil, ErrScrapeInProgress
	}
	defer s.running.Unlock()
	defer func() { s.metrics.Scrape(trigger, err) }()

	cred, err := s.creds.Select()
	if err != nil {
		return nil, fmt.Errorf("no usable admin rotation key: %w", err)
	}
	if err := s.creds.Wait(ctx, cred); err != nil {
		return nil, err
	}

	now := s.now()
	trends, err = s.scraper.ScrapeTrends(ctx, cred.Key, now)
	if outcome, ok := generator.CredentialOutcome(err); ok {
		s.creds.Report(cred, outcome)
	}
	if err != nil {
		s.logger.Error("Trend scrape failed", "trigger", trigger, "key_suffix", logger.KeySuffix(cred.Key), "error", err)
		return nil, fmt.Errorf("trend scrape failed: %w", err)
	}
	if len(trends) == 0 {
		return nil, fmt.Errorf("trend scrape failed: %w", generator.ErrEmptyResponse)
	}

	if err := s.store.ReplaceTrends(trends); err != nil {
		return nil, err
	}
	settings, err := s.store.GetSettings()
	if err != nil {
		return nil, err
	}
	settings.LastScrapedDate = now.Format(DateLayout)
	if err := s.store.SaveSettings(settings); err != nil {
		return nil, err
	}

	s.logger.Info("Trend scrape succeeded", "trigger", trigger, "count", len(trends))
	return trends, nil
}

// List returns the live trends, or the catalog when none were scraped yet.
func (s *Service) List() (Listing, error) {
	stored, err := s.store.ListTrends()
	if err != nil {
		return Listing{}, err
	}
	if len(stored) == 0 {
		return Listing{Source: SourceCatalog, Trends: Catalog()}, nil
	}
	settings, err := s.store.GetSettings()
	if err != nil {
		return Listing{}, err
	}
	return Listing{Source: SourceLive, LastScrapedDate: settings.LastScrapedDate, Trends: stored}, nil
}

// Catalog returns a copy of the built-in trends.
func Catalog() []model.Trend {
	out := make([]model.Trend, len(catalogTrends))
	copy(out, catalogTrends)
	return out
}

// Keywords returns the low-competition keyword suggestions.
func Keywords() []model.Keyword {
	out := make([]model.Keyword, len(catalogKeywords))
	copy(out, catalogKeywords)
	return out
}

// ShouldAutoScrape reports whether an automatic scrape is due at now: auto-scrape
// is enabled, the HH:MM time matches and no scrape happened today.
func ShouldAutoScrape(settings model.Settings, now time.Time) bool {
	if !settings.IsAutoScrapeEnabled {
		return false
	}
	return now.Format("15:04") == settings.AutoScrapeTime && settings.LastScrapedDate != now.Format(DateLayout)
}

// AutoScrape runs a scrape when one is due and reports whether it ran.
func (s *Service) AutoScrape(ctx context.Context) (bool, error) {
	settings, err := s.store.GetSettings()
	if err != nil {
		return false, err
	}
	if !ShouldAutoScrape(*settings, s.now()) {
		return false, nil
	}
	s.logger.Info("Auto-scrape triggered", "time", settings.AutoScrapeTime)
	_, err = s.Scrape(ctx, "auto")
	return true, err
}

// ValidScrapeTime reports whether t is a 24-hour HH:MM time.
func ValidScrapeTime(t string) bool {
	_, err := time.Parse("15:04", t)
	return err == nil && len(t) == 5
}
