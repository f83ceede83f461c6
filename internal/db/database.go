package db

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ubuygold/stockmeta/internal/config"
	"github.com/ubuygold/stockmeta/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a unique constraint would be violated.
	ErrDuplicate = errors.New("record already exists")
)

// Service is the persistence boundary for credentials, users, settings and trends.
type Service interface {
	LoadAllCredentials() ([]model.Credential, error)
	ListCredentials(pool model.Pool, ownerID uint) ([]model.Credential, error)
	GetCredential(id uint) (*model.Credential, error)
	CreateCredential(c *model.Credential) error
	DeleteCredential(id uint) error
	DeleteCredentialsCreatedBefore(pool model.Pool, cutoff time.Time) (int64, error)
	UpdateCredentialHealth(c *model.Credential) error
	IncrementCredentialUsage(id uint, at time.Time) error

	CreateUser(u *model.User) error
	ListUsers(search string) ([]model.User, error)
	GetUser(id uint) (*model.User, error)
	FindUserByToken(token string) (*model.User, error)
	FindUserByEmail(email string) (*model.User, error)
	UpdateUserStatus(id uint, status model.UserStatus) error
	DeleteUser(id uint) error

	GetSettings() (*model.Settings, error)
	SaveSettings(s *model.Settings) error

	ListTrends() ([]model.Trend, error)
	ReplaceTrends(trends []model.Trend) error

	GetDB() *gorm.DB
	Close() error
}

type gormService struct {
	db *gorm.DB
}

// NewService opens the configured database and migrates the schema.
func NewService(cfg config.DatabaseConfig) (Service, error) {
	var dialector gorm.Dialector
	switch cfg.Type {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Type == "sqlite" {
		// One connection keeps in-memory databases coherent and serializes sqlite writers.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sqlite handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&model.Credential{}, &model.User{}, &model.Settings{}, &model.Trend{}); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate database: %w", err)
	}

	return &gormService{db: db}, nil
}

func (s *gormService) GetDB() *gorm.DB {
	return s.db
}

func (s *gormService) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func translate(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%s: %w", what, ErrDuplicate)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// LoadAllCredentials returns every credential of both pools ordered by creation.
func (s *gormService) LoadAllCredentials() ([]model.Credential, error) {
	var creds []model.Credential
	if err := s.db.Order("created_at asc, id asc").Find(&creds).Error; err != nil {
		return nil, translate(err, "failed to load credentials")
	}
	return creds, nil
}

// ListCredentials returns the credentials of one pool. ownerID is ignored for the admin pool.
func (s *gormService) ListCredentials(pool model.Pool, ownerID uint) ([]model.Credential, error) {
	var creds []model.Credential
	q := s.db.Where("pool = ?", pool)
	if pool == model.PoolUser {
		q = q.Where("owner_id = ?", ownerID)
	}
	if err := q.Order("created_at asc, id asc").Find(&creds).Error; err != nil {
		return nil, translate(err, "failed to list credentials")
	}
	return creds, nil
}

func (s *gormService) GetCredential(id uint) (*model.Credential, error) {
	var c model.Credential
	if err := s.db.First(&c, id).Error; err != nil {
		return nil, translate(err, fmt.Sprintf("failed to get credential %d", id))
	}
	return &c, nil
}

func (s *gormService) CreateCredential(c *model.Credential) error {
	c.Key = strings.TrimSpace(c.Key)
	if c.Key == "" {
		return fmt.Errorf("credential key cannot be empty")
	}
	if c.Status == "" {
		c.Status = model.StatusActive
	}
	return translate(s.db.Create(c).Error, "failed to create credential")
}

// DeleteCredential removes a credential permanently so the same key can be added again.
func (s *gormService) DeleteCredential(id uint) error {
	result := s.db.Unscoped().Delete(&model.Credential{}, id)
	if result.Error != nil {
		return translate(result.Error, "failed to delete credential")
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("credential %d: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteCredentialsCreatedBefore purges a pool's credentials older than cutoff.
func (s *gormService) DeleteCredentialsCreatedBefore(pool model.Pool, cutoff time.Time) (int64, error) {
	result := s.db.Unscoped().Where("pool = ? AND created_at <= ?", pool, cutoff).Delete(&model.Credential{})
	if result.Error != nil {
		return 0, translate(result.Error, "failed to purge credentials")
	}
	return result.RowsAffected, nil
}

// UpdateCredentialHealth persists the health fields of a credential. A key that was
// removed in the meantime is not an error.
func (s *gormService) UpdateCredentialHealth(c *model.Credential) error {
	err := s.db.Model(&model.Credential{}).Where("id = ?", c.ID).Updates(map[string]interface{}{
		"status":        c.Status,
		"failure_count": c.FailureCount,
		"status_at":     c.StatusAt,
	}).Error
	return translate(err, fmt.Sprintf("failed to update credential %d", c.ID))
}

// IncrementCredentialUsage atomically increments the usage count and stamps last use.
func (s *gormService) IncrementCredentialUsage(id uint, at time.Time) error {
	err := s.db.Model(&model.Credential{}).Where("id = ?", id).Updates(map[string]interface{}{
		"usage_count":  gorm.Expr("usage_count + 1"),
		"last_used_at": at,
	}).Error
	return translate(err, fmt.Sprintf("failed to increment usage for credential %d", id))
}

func (s *gormService) CreateUser(u *model.User) error {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.Email == "" || strings.TrimSpace(u.Name) == "" {
		return fmt.Errorf("user name and email are required")
	}
	if u.Role == "" {
		u.Role = model.RoleUser
	}
	if u.Status == "" {
		u.Status = model.UserActive
	}
	return translate(s.db.Create(u).Error, "failed to create user")
}

// ListUsers returns users whose name or email contains search (case-insensitive).
func (s *gormService) ListUsers(search string) ([]model.User, error) {
	var users []model.User
	q := s.db.Order("id asc")
	if search = strings.ToLower(strings.TrimSpace(search)); search != "" {
		like := "%" + search + "%"
		q = q.Where("LOWER(name) LIKE ? OR LOWER(email) LIKE ?", like, like)
	}
	if err := q.Find(&users).Error; err != nil {
		return nil, translate(err, "failed to list users")
	}
	return users, nil
}

func (s *gormService) GetUser(id uint) (*model.User, error) {
	var u model.User
	if err := s.db.First(&u, id).Error; err != nil {
		return nil, translate(err, fmt.Sprintf("failed to get user %d", id))
	}
	return &u, nil
}

func (s *gormService) FindUserByToken(token string) (*model.User, error) {
	var u model.User
	if err := s.db.Where("token = ?", token).First(&u).Error; err != nil {
		return nil, translate(err, "failed to find user by token")
	}
	return &u, nil
}

func (s *gormService) FindUserByEmail(email string) (*model.User, error) {
	var u model.User
	if err := s.db.Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&u).Error; err != nil {
		return nil, translate(err, "failed to find user by email")
	}
	return &u, nil
}

func (s *gormService) UpdateUserStatus(id uint, status model.UserStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid user status %q", status)
	}
	result := s.db.Model(&model.User{}).Where("id = ?", id).Update("status", status)
	if result.Error != nil {
		return translate(result.Error, "failed to update user status")
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteUser permanently removes a user together with their personal credentials.
func (s *gormService) DeleteUser(id uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Unscoped().Delete(&model.User{}, id)
		if result.Error != nil {
			return translate(result.Error, "failed to delete user")
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("user %d: %w", id, ErrNotFound)
		}
		err := tx.Unscoped().Where("pool = ? AND owner_id = ?", model.PoolUser, id).Delete(&model.Credential{}).Error
		return translate(err, "failed to delete user credentials")
	})
}

// GetSettings returns the stored settings or the defaults when none were saved.
func (s *gormService) GetSettings() (*model.Settings, error) {
	var settings model.Settings
	err := s.db.First(&settings, model.SettingsID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		defaults := model.DefaultSettings()
		return &defaults, nil
	}
	if err != nil {
		return nil, translate(err, "failed to load settings")
	}
	return &settings, nil
}

func (s *gormService) SaveSettings(settings *model.Settings) error {
	settings.ID = model.SettingsID
	return translate(s.db.Save(settings).Error, "failed to save settings")
}

// ListTrends returns the stored trends in scrape order.
func (s *gormService) ListTrends() ([]model.Trend, error) {
	var trends []model.Trend
	if err := s.db.Order("position asc, id asc").Find(&trends).Error; err != nil {
		return nil, translate(err, "failed to list trends")
	}
	return trends, nil
}

// ReplaceTrends atomically swaps the stored trends for a fresh scrape.
func (s *gormService) ReplaceTrends(trends []model.Trend) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("1 = 1").Delete(&model.Trend{}).Error; err != nil {
			return translate(err, "failed to clear trends")
		}
		if len(trends) == 0 {
			return nil
		}
		for i := range trends {
			trends[i].Position = i
		}
		return translate(tx.Create(&trends).Error, "failed to insert trends")
	})
}
