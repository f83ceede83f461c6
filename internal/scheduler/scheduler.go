package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ubuygold/stockmeta/internal/config"
	"github.com/ubuygold/stockmeta/internal/logger"
	"github.com/ubuygold/stockmeta/internal/model"
)

// AutoScraper runs the daily trend scrape when it is due.
type AutoScraper interface {
	AutoScrape(ctx context.Context) (bool, error)
}

// KeyMaintainer is the part of the credential manager maintenance touches.
type KeyMaintainer interface {
	ReviveCooledDown() int
	ExpiringSoon() []model.Credential
	PurgeExpired() (int64, error)
}

type Scheduler struct {
	cfg     config.SchedulerConfig
	scraper AutoScraper
	keys    KeyMaintainer
	logger  *slog.Logger
	c       *cron.Cron
	timeout time.Duration
}

func NewScheduler(cfg config.SchedulerConfig, scraper AutoScraper, keys KeyMaintainer, log *slog.Logger) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		scraper: scraper,
		keys:    keys,
		logger:  log.With("component", "scheduler"),
		c:       cron.New(),
		timeout: 5 * time.Minute,
	}
}

// Start registers the jobs and starts the cron runner.
func (s *Scheduler) Start() error {
	if _, err := s.c.AddFunc(s.cfg.AutoScrapeCheck, s.checkAutoScrape); err != nil {
		return fmt.Errorf("error scheduling auto-scrape check %q: %w", s.cfg.AutoScrapeCheck, err)
	}
	if _, err := s.c.AddFunc(s.cfg.KeyMaintenance, s.maintainKeys); err != nil {
		return fmt.Errorf("error scheduling key maintenance %q: %w", s.cfg.KeyMaintenance, err)
	}
	s.c.Start()
	s.logger.Info("Scheduler started", "auto_scrape_check", s.cfg.AutoScrapeCheck, "key_maintenance", s.cfg.KeyMaintenance)
	return nil
}

// Stop stops the cron runner and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.c.Stop().Done()
}

func (s *Scheduler) checkAutoScrape() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	ran, err := s.scraper.AutoScrape(ctx)
	if err != nil {
		s.logger.Error("Auto-scrape failed", "error", err)
		return
	}
	if ran {
		s.logger.Info("Auto-scrape completed")
	}
}

func (s *Scheduler) maintainKeys() {
	if n := s.keys.ReviveCooledDown(); n > 0 {
		s.logger.Info("Revived cooled-down credentials", "count", n)
	}
	for _, c := range s.keys.ExpiringSoon() {
		s.logger.Warn("Rotation key expires soon", "key_suffix", logger.KeySuffix(c.Key), "label", c.Label, "created_at", c.CreatedAt)
	}
	if !s.cfg.PurgeExpired {
		return
	}
	if _, err := s.keys.PurgeExpired(); err != nil {
		s.logger.Error("Error purging expired rotation keys", "error", err)
	}
}
