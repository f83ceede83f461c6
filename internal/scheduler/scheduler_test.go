package scheduler

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ubuygold/stockmeta/internal/config"
	"github.com/ubuygold/stockmeta/internal/logger"
	"github.com/ubuygold/stockmeta/internal/model"
)

type mockScraper struct{ mock.Mock }

func (m *mockScraper) AutoScrape(ctx context.Context) (bool, error) {
	args := m.Called()
	return args.Bool(0), args.Error(1)
}

type mockKeys struct{ mock.Mock }

func (m *mockKeys) ReviveCooledDown() int {
	return m.Called().Int(0)
}

func (m *mockKeys) ExpiringSoon() []model.Credential {
	return m.Called().Get(0).([]model.Credential)
}

func (m *mockKeys) PurgeExpired() (int64, error) {
	args := m.Called()
	return args.Get(0).(int64), args.Error(1)
}

var testCfg = config.SchedulerConfig{AutoScrapeCheck: "@every 1m", KeyMaintenance: "@every 5m"}

func TestStartAndStop(t *testing.T) {
	s := NewScheduler(testCfg, &mockScraper{}, &mockKeys{}, logger.Discard())
	require.NoError(t, s.Start())
	assert.Len(t, s.c.Entries(), 2)
	s.Stop()
}

func TestStartRejectsBadSpec(t *testing.T) {
	cfg := testCfg
	cfg.KeyMaintenance = "every now and then"
	s := NewScheduler(cfg, &mockScraper{}, &mockKeys{}, logger.Discard())
	assert.Error(t, s.Start())
}

func TestCheckAutoScrape(t *testing.T) {
	var buf bytes.Buffer
	scraper := &mockScraper{}
	scraper.On("AutoScrape").Return(false, nil).Once()
	scraper.On("AutoScrape").Return(true, errors.New("quota exceeded")).Once()

	s := NewScheduler(testCfg, scraper, &mockKeys{}, logger.NewWithWriter(&buf, false))
	s.checkAutoScrape()
	assert.Empty(t, buf.String())

	s.checkAutoScrape()
	assert.Contains(t, buf.String(), "Auto-scrape failed")
	scraper.AssertExpectations(t)
}

func TestMaintainKeys(t *testing.T) {
	expiring := model.Credential{Key: "AIza-old-9876", Label: "week 1"}

	t.Run("without purge", func(t *testing.T) {
		var buf bytes.Buffer
		keys := &mockKeys{}
		keys.On("ReviveCooledDown").Return(2).Once()
		keys.On("ExpiringSoon").Return([]model.Credential{expiring}).Once()

		s := NewScheduler(testCfg, &mockScraper{}, keys, logger.NewWithWriter(&buf, false))
		s.maintainKeys()

		keys.AssertExpectations(t)
		keys.AssertNotCalled(t, "PurgeExpired")
		assert.Contains(t, buf.String(), "9876")
		assert.NotContains(t, buf.String(), "AIza-old", "keys are only logged by suffix")
	})

	t.Run("with purge", func(t *testing.T) {
		keys := &mockKeys{}
		keys.On("ReviveCooledDown").Return(0).Once()
		keys.On("ExpiringSoon").Return([]model.Credential(nil)).Once()
		keys.On("PurgeExpired").Return(int64(3), nil).Once()

		cfg := testCfg
		cfg.PurgeExpired = true
		s := NewScheduler(cfg, &mockScraper{}, keys, logger.Discard())
		s.maintainKeys()
		keys.AssertExpectations(t)
	})
}
