package keymanager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ubuygold/stockmeta/internal/config"
	"github.com/ubuygold/stockmeta/internal/db"
	"github.com/ubuygold/stockmeta/internal/logger"
	"github.com/ubuygold/stockmeta/internal/model"
)

// MockDBService overrides the calls a test cares about; the embedded nil Service
// panics on anything unexpected.
type MockDBService struct {
	mock.Mock
	db.Service
}

func (m *MockDBService) LoadAllCredentials() ([]model.Credential, error) {
	args := m.Called()
	return args.Get(0).([]model.Credential), args.Error(1)
}

func (m *MockDBService) UpdateCredentialHealth(c *model.Credential) error {
	args := m.Called(c)
	return args.Error(0)
}

func (m *MockDBService) IncrementCredentialUsage(id uint, at time.Time) error {
	args := m.Called(id, at)
	return args.Error(0)
}

var testCfg = config.CredentialsConfig{
	RotationWindow:   7 * 24 * time.Hour,
	WarningWindow:    6 * 24 * time.Hour,
	FailureThreshold: 3,
	Cooldown:         5 * time.Minute,
	RequestsPerMin:   0,
}

func setupDB(t *testing.T) db.Service {
	service, err := db.NewService(config.DatabaseConfig{Type: "sqlite", DSN: "file::memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = service.Close() })
	return service
}

// newTestManager builds a manager with synchronous persistence and a fixed clock.
func newTestManager(t *testing.T, service db.Service, now time.Time) *KeyManager {
	km := newKeyManager(service, testCfg, logger.Discard())
	km.syncDBUpdates = true
	km.now = func() time.Time { return now }
	require.NoError(t, km.load())
	return km
}

func seed(t *testing.T, service db.Service, c model.Credential) model.Credential {
	require.NoError(t, service.GetDB().Create(&c).Error)
	return c
}

func TestNewKeyManager(t *testing.T) {
	t.Run("successful initialization", func(t *testing.T) {
		mockDB := new(MockDBService)
		mockDB.On("LoadAllCredentials").Return([]model.Credential{{Key: "key1"}, {Key: "key2"}}, nil).Once()

		km, err := NewKeyManager(mockDB, testCfg, logger.Discard())
		assert.NoError(t, err)
		require.NotNil(t, km)
		assert.Len(t, km.keys, 2)
		mockDB.AssertExpectations(t)
		km.Close()
	})

	t.Run("db error on initial load", func(t *testing.T) {
		mockDB := new(MockDBService)
		mockDB.On("LoadAllCredentials").Return(([]model.Credential)(nil), errors.New("db error")).Once()

		km, err := NewKeyManager(mockDB, testCfg, logger.Discard())
		assert.Error(t, err)
		assert.Nil(t, km)
		mockDB.AssertExpectations(t)
	})

	t.Run("close is idempotent", func(t *testing.T) {
		mockDB := new(MockDBService)
		mockDB.On("LoadAllCredentials").Return(([]model.Credential)(nil), nil).Once()

		km, err := NewKeyManager(mockDB, testCfg, logger.Discard())
		require.NoError(t, err)
		km.Close()
		assert.NotPanics(t, km.Close)
	})
}

func TestClassify(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	day := 24 * time.Hour
	tests := []struct {
		name string
		age  time.Duration
		want AgeState
	}{
		{"fresh", time.Hour, AgeActive},
		{"just under six days", 6*day - time.Second, AgeActive},
		{"six days", 6 * day, AgeWarning},
		{"six and a half days", 6*day + 12*time.Hour, AgeWarning},
		{"seven days", 7 * day, AgeExpired},
		{"a month", 30 * day, AgeExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(now.Add(-tt.age), now, 7*day, 6*day))
		})
	}
}

func TestEligible(t *testing.T) {
	now := time.Now()
	window := 7 * 24 * time.Hour

	admin := model.Credential{Pool: model.PoolAdmin, Status: model.StatusError}
	admin.CreatedAt = now.Add(-time.Hour)
	assert.True(t, Eligible(admin, now, window), "admin keys ignore status")

	admin.CreatedAt = now.Add(-8 * 24 * time.Hour)
	assert.False(t, Eligible(admin, now, window))

	user := model.Credential{Pool: model.PoolUser}
	user.CreatedAt = now.Add(-100 * 24 * time.Hour)
	for status, want := range map[model.CredentialStatus]bool{
		model.StatusActive:        true,
		model.StatusRateLimited:   true,
		model.StatusQuotaExceeded: false,
		model.StatusError:         false,
		model.StatusExpired:       false,
	} {
		user.Status = status
		assert.Equal(t, want, Eligible(user, now, window), string(status))
	}
}

func TestSelect(t *testing.T) {
	now := time.Now()

	t.Run("admin pool excludes expired keys", func(t *testing.T) {
		service := setupDB(t)
		fresh := model.Credential{Key: "fresh", Pool: model.PoolAdmin}
		fresh.CreatedAt = now.Add(-24 * time.Hour)
		old := model.Credential{Key: "old", Pool: model.PoolAdmin}
		old.CreatedAt = now.Add(-8 * 24 * time.Hour)
		seed(t, service, fresh)
		seed(t, service, old)

		km := newTestManager(t, service, now)
		for i := 0; i < 20; i++ {
			c, err := km.Select(model.PoolAdmin, 0)
			require.NoError(t, err)
			assert.Equal(t, "fresh", c.Key)
		}
	})

	t.Run("no eligible admin key", func(t *testing.T) {
		service := setupDB(t)
		old := model.Credential{Key: "old", Pool: model.PoolAdmin}
		old.CreatedAt = now.Add(-8 * 24 * time.Hour)
		seed(t, service, old)

		km := newTestManager(t, service, now)
		_, err := km.Select(model.PoolAdmin, 0)
		assert.ErrorIs(t, err, ErrNoEligibleCredential)
	})

	t.Run("user pool filters by status and owner", func(t *testing.T) {
		service := setupDB(t)
		seed(t, service, model.Credential{Key: "active", Pool: model.PoolUser, OwnerID: 1, Status: model.StatusActive})
		seed(t, service, model.Credential{Key: "limited", Pool: model.PoolUser, OwnerID: 1, Status: model.StatusRateLimited})
		seed(t, service, model.Credential{Key: "quota", Pool: model.PoolUser, OwnerID: 1, Status: model.StatusQuotaExceeded})
		seed(t, service, model.Credential{Key: "other", Pool: model.PoolUser, OwnerID: 2, Status: model.StatusActive})

		km := newTestManager(t, service, now)
		seen := map[string]bool{}
		for i := 0; i < 2; i++ {
			km.intn = func(n int) int {
				assert.Equal(t, 2, n)
				return i
			}
			c, err := km.Select(model.PoolUser, 1)
			require.NoError(t, err)
			seen[c.Key] = true
		}
		assert.Equal(t, map[string]bool{"active": true, "limited": true}, seen)

		_, err := km.Select(model.PoolUser, 3)
		assert.ErrorIs(t, err, ErrNoEligibleCredential)
	})
}

func TestCounts(t *testing.T) {
	service := setupDB(t)
	now := time.Now()
	seed(t, service, model.Credential{Key: "a", Pool: model.PoolUser, OwnerID: 1, Status: model.StatusActive})
	seed(t, service, model.Credential{Key: "b", Pool: model.PoolUser, OwnerID: 1, Status: model.StatusActive})
	seed(t, service, model.Credential{Key: "c", Pool: model.PoolUser, OwnerID: 1, Status: model.StatusRateLimited})
	seed(t, service, model.Credential{Key: "d", Pool: model.PoolUser, OwnerID: 1, Status: model.StatusError})

	km := newTestManager(t, service, now)
	assert.Equal(t, 2, km.ActiveCount(1))
	assert.Equal(t, 3, km.EligibleCount(model.PoolUser, 1))
	assert.Equal(t, 0, km.ActiveCount(2))
}

func TestReport(t *testing.T) {
	now := time.Now()

	t.Run("rate limits escalate to quota exceeded", func(t *testing.T) {
		service := setupDB(t)
		c := seed(t, service, model.Credential{Key: "user-key", Pool: model.PoolUser, OwnerID: 1, Status: model.StatusActive})
		km := newTestManager(t, service, now)

		km.Report(c.ID, OutcomeRateLimited)
		assert.Equal(t, model.StatusRateLimited, km.keys[0].Status)
		assert.Equal(t, 1, km.keys[0].FailureCount)

		km.Report(c.ID, OutcomeRateLimited)
		km.Report(c.ID, OutcomeRateLimited)
		assert.Equal(t, model.StatusQuotaExceeded, km.keys[0].Status)

		stored, err := service.GetCredential(c.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusQuotaExceeded, stored.Status)
		assert.Equal(t, 3, stored.FailureCount)
		assert.Equal(t, int64(3), stored.UsageCount)
	})

	t.Run("success resets health", func(t *testing.T) {
		service := setupDB(t)
		c := seed(t, service, model.Credential{Key: "user-key", Pool: model.PoolUser, OwnerID: 1, Status: model.StatusRateLimited, FailureCount: 2})
		km := newTestManager(t, service, now)

		km.Report(c.ID, OutcomeSuccess)
		stored, err := service.GetCredential(c.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusActive, stored.Status)
		assert.Zero(t, stored.FailureCount)
		assert.Equal(t, int64(1), stored.UsageCount)
		assert.NotNil(t, stored.LastUsedAt)
	})

	t.Run("invalid key marked error", func(t *testing.T) {
		service := setupDB(t)
		c := seed(t, service, model.Credential{Key: "user-key", Pool: model.PoolUser, OwnerID: 1, Status: model.StatusActive})
		km := newTestManager(t, service, now)

		km.Report(c.ID, OutcomeInvalid)
		assert.Equal(t, model.StatusError, km.keys[0].Status)
		_, err := km.Select(model.PoolUser, 1)
		assert.ErrorIs(t, err, ErrNoEligibleCredential)
	})

	t.Run("admin keys only record usage", func(t *testing.T) {
		service := setupDB(t)
		c := seed(t, service, model.Credential{Key: "admin-key", Pool: model.PoolAdmin, Status: model.StatusActive})
		km := newTestManager(t, service, now)

		km.Report(c.ID, OutcomeRateLimited)
		km.Report(c.ID, OutcomeInvalid)
		stored, err := service.GetCredential(c.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusActive, stored.Status)
		assert.Equal(t, int64(2), stored.UsageCount)
	})

	t.Run("unknown id ignored", func(t *testing.T) {
		service := setupDB(t)
		km := newTestManager(t, service, now)
		assert.NotPanics(t, func() { km.Report(99, OutcomeSuccess) })
	})

	t.Run("persisted through the worker", func(t *testing.T) {
		mockDB := new(MockDBService)
		mockDB.On("LoadAllCredentials").Return([]model.Credential{
			{Model: gormModel(5), Key: "k", Pool: model.PoolUser, OwnerID: 1, Status: model.StatusActive},
		}, nil).Once()
		mockDB.On("IncrementCredentialUsage", uint(5), mock.AnythingOfType("time.Time")).Return(nil).Once()
		mockDB.On("UpdateCredentialHealth", mock.MatchedBy(func(c *model.Credential) bool {
			return c.ID == 5 && c.Status == model.StatusRateLimited
		})).Return(nil).Once()

		km, err := NewKeyManager(mockDB, testCfg, logger.Discard())
		require.NoError(t, err)
		km.Report(5, OutcomeRateLimited)
		km.Close() // drains the queue
		mockDB.AssertExpectations(t)
	})
}

func TestReviveCooledDown(t *testing.T) {
	service := setupDB(t)
	now := time.Now()
	long := now.Add(-10 * time.Minute)
	recent := now.Add(-time.Minute)
	cooled := seed(t, service, model.Credential{Key: "cooled", Pool: model.PoolUser, OwnerID: 1, Status: model.StatusQuotaExceeded, FailureCount: 3, StatusAt: &long})
	seed(t, service, model.Credential{Key: "hot", Pool: model.PoolUser, OwnerID: 1, Status: model.StatusQuotaExceeded, FailureCount: 3, StatusAt: &recent})

	km := newTestManager(t, service, now)
	assert.Equal(t, 1, km.ReviveCooledDown())

	stored, err := service.GetCredential(cooled.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRateLimited, stored.Status)
	assert.Zero(t, stored.FailureCount)
	assert.Equal(t, 1, km.EligibleCount(model.PoolUser, 1))
}

func TestAddRemovePurge(t *testing.T) {
	service := setupDB(t)
	now := time.Now()
	expired := model.Credential{Key: "expired", Pool: model.PoolAdmin}
	expired.CreatedAt = now.Add(-8 * 24 * time.Hour)
	warning := model.Credential{Key: "warning", Pool: model.PoolAdmin}
	warning.CreatedAt = now.Add(-(6*24 + 1) * time.Hour)
	seed(t, service, expired)
	seed(t, service, warning)

	km := newTestManager(t, service, now)

	added := &model.Credential{Key: "new-user-key", Label: "Work", Pool: model.PoolUser, OwnerID: 4}
	require.NoError(t, km.Add(added))
	assert.Equal(t, model.StatusActive, added.Status)
	assert.Equal(t, 1, km.ActiveCount(4))

	assert.Error(t, km.Add(&model.Credential{Key: "x", Pool: model.PoolUser, OwnerID: 4, Status: "bogus"}))

	// another user cannot remove it
	assert.ErrorIs(t, km.Remove(model.PoolUser, 5, added.ID), db.ErrNotFound)
	require.NoError(t, km.Remove(model.PoolUser, 4, added.ID))
	assert.Zero(t, km.ActiveCount(4))

	expiring := km.ExpiringSoon()
	require.Len(t, expiring, 1)
	assert.Equal(t, "warning", expiring[0].Key)

	n, err := km.PurgeExpired()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	remaining := km.List(model.PoolAdmin, 0)
	require.Len(t, remaining, 1)
	assert.Equal(t, "warning", remaining[0].Key)
	assert.Equal(t, AgeWarning, km.Classify(remaining[0]))
}

func TestReload(t *testing.T) {
	service := setupDB(t)
	km := newTestManager(t, service, time.Now())
	assert.Zero(t, km.EligibleCount(model.PoolAdmin, 0))

	// written behind the manager's back, as an import does
	seed(t, service, model.Credential{Key: "imported", Pool: model.PoolAdmin})
	assert.Zero(t, km.EligibleCount(model.PoolAdmin, 0))

	require.NoError(t, km.Reload())
	assert.Equal(t, 1, km.EligibleCount(model.PoolAdmin, 0))
}

func TestWait(t *testing.T) {
	service := setupDB(t)
	c := seed(t, service, model.Credential{Key: "k", Pool: model.PoolUser, OwnerID: 1, Status: model.StatusActive})

	km := newKeyManager(service, config.CredentialsConfig{RequestsPerMin: 1}, logger.Discard())
	require.NoError(t, km.load())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NoError(t, km.Wait(ctx, c.ID), "first call uses the burst")
	assert.Error(t, km.Wait(ctx, c.ID), "second call within a minute must wait past the deadline")
	assert.NoError(t, km.Wait(context.Background(), 999), "unknown ids are not throttled")
}

func TestSource(t *testing.T) {
	service := setupDB(t)
	now := time.Now()
	seed(t, service, model.Credential{Key: "u", Pool: model.PoolUser, OwnerID: 1, Status: model.StatusActive})
	seed(t, service, model.Credential{Key: "a", Pool: model.PoolAdmin})
	km := newTestManager(t, service, now)

	user := UserSource(km, 1)
	assert.Equal(t, 1, user.ActiveCount())
	c, err := user.Select()
	require.NoError(t, err)
	assert.Equal(t, "u", c.Key)
	user.Report(c, OutcomeRateLimited)
	assert.Equal(t, 0, user.ActiveCount())
	assert.Equal(t, 1, user.EligibleCount())

	admin := AdminSource(km)
	assert.Equal(t, 1, admin.ActiveCount())
	c, err = admin.Select()
	require.NoError(t, err)
	assert.Equal(t, "a", c.Key)
	assert.NoError(t, admin.Wait(context.Background(), c))
}

func gormModel(id uint) gorm.Model {
	return gorm.Model{ID: id}
}
