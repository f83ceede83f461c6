package admin

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ubuygold/stockmeta/internal/db"
	"github.com/ubuygold/stockmeta/internal/keymanager"
	"github.com/ubuygold/stockmeta/internal/legacy"
	"github.com/ubuygold/stockmeta/internal/logger"
	"github.com/ubuygold/stockmeta/internal/model"
	"github.com/ubuygold/stockmeta/internal/trends"
)

// Store is the persistence the admin panel reads and writes directly.
type Store interface {
	legacy.Store
	ListUsers(search string) ([]model.User, error)
	CreateUser(u *model.User) error
	UpdateUserStatus(id uint, status model.UserStatus) error
	DeleteUser(id uint) error
	GetSettings() (*model.Settings, error)
}

// Scraper triggers a trend scrape.
type Scraper interface {
	Scrape(ctx context.Context, trigger string) ([]model.Trend, error)
}

// Sessions holds per-user batch state that must go when a user is deleted.
type Sessions interface {
	Drop(ownerID uint)
}

type Handler struct {
	keys     keymanager.Manager
	store    Store
	scraper  Scraper
	sessions Sessions
	rotation time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func NewHandler(keys keymanager.Manager, store Store, scraper Scraper, sessions Sessions, rotation time.Duration, log *slog.Logger) *Handler {
	return &Handler{
		keys:     keys,
		rotation: rotation,
		store:    store,
		scraper:  scraper,
		sessions: sessions,
		logger:   log.With("component", "admin"),
		now:      time.Now,
	}
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, db.ErrDuplicate):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ID format"})
		return 0, false
	}
	return uint(id), true
}

// KeyView is a rotation key as shown in the admin panel. The key itself is masked.
type KeyView struct {
	ID           uint                   `json:"id"`
	Label        string                 `json:"label"`
	KeySuffix    string                 `json:"keySuffix"`
	Status       model.CredentialStatus `json:"status"`
	UsageCount   int64                  `json:"usageCount"`
	LastUsedAt   *time.Time             `json:"lastUsedAt,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
	ExpiresAt    time.Time              `json:"expiresAt"`
	AgeState     keymanager.AgeState    `json:"ageState"`
	ExpiringSoon bool                   `json:"expiringSoon"`
}

func (h *Handler) keyView(c model.Credential) KeyView {
	state := h.keys.Classify(c)
	return KeyView{
		ID:           c.ID,
		Label:        c.Label,
		KeySuffix:    logger.KeySuffix(c.Key),
		Status:       c.Status,
		UsageCount:   c.UsageCount,
		LastUsedAt:   c.LastUsedAt,
		CreatedAt:    c.CreatedAt,
		ExpiresAt:    c.CreatedAt.Add(h.rotation),
		AgeState:     state,
		ExpiringSoon: state == keymanager.AgeWarning,
	}
}

func (h *Handler) ListKeysHandler(c *gin.Context) {
	creds := h.keys.List(model.PoolAdmin, 0)
	views := make([]KeyView, len(creds))
	expiring := 0
	for i, cred := range creds {
		views[i] = h.keyView(cred)
		if views[i].ExpiringSoon {
			expiring++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"keys":     views,
		"eligible": h.keys.EligibleCount(model.PoolAdmin, 0),
		"expiring": expiring,
	})
}

type createKeyRequest struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

func (h *Handler) CreateKeyHandler(c *gin.Context) {
	var req createKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	req.Key = strings.TrimSpace(req.Key)
	if req.Key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Key cannot be empty"})
		return
	}

	cred := &model.Credential{Key: req.Key, Label: strings.TrimSpace(req.Label), Pool: model.PoolAdmin}
	if err := h.keys.Add(cred); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, h.keyView(*cred))
}

func (h *Handler) DeleteKeyHandler(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.keys.Remove(model.PoolAdmin, 0, id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) PurgeExpiredKeysHandler(c *gin.Context) {
	n, err := h.keys.PurgeExpired()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"purged": n})
}

func (h *Handler) GetSettingsHandler(c *gin.Context) {
	settings, err := h.store.GetSettings()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

type settingsRequest struct {
	AutoScrapeTime      *string `json:"autoScrapeTime"`
	IsAutoScrapeEnabled *bool   `json:"isAutoScrapeEnabled"`
}

// UpdateSettingsHandler changes the auto-scrape schedule. lastScrapedDate is owned
// by the scraper and cannot be set here.
func (h *Handler) UpdateSettingsHandler(c *gin.Context) {
	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	settings, err := h.store.GetSettings()
	if err != nil {
		respondError(c, err)
		return
	}
	if req.AutoScrapeTime != nil {
		if !trends.ValidScrapeTime(*req.AutoScrapeTime) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "autoScrapeTime must be HH:MM"})
			return
		}
		settings.AutoScrapeTime = *req.AutoScrapeTime
	}
	if req.IsAutoScrapeEnabled != nil {
		settings.IsAutoScrapeEnabled = *req.IsAutoScrapeEnabled
	}
	if err := h.store.SaveSettings(settings); err != nil {
		respondError(c, err)
		return
	}
	h.logger.Info("Scraper settings updated", "time", settings.AutoScrapeTime, "enabled", settings.IsAutoScrapeEnabled)
	c.JSON(http.StatusOK, settings)
}

func (h *Handler) ScrapeHandler(c *gin.Context) {
	scraped, err := h.scraper.Scrape(c.Request.Context(), "manual")
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"trends": scraped, "count": len(scraped)})
	case errors.Is(err, trends.ErrScrapeInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, keymanager.ErrNoEligibleCredential):
		c.JSON(http.StatusConflict, gin.H{"error": "No active rotation key. Add a key in the admin panel."})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}

func (h *Handler) ListUsersHandler(c *gin.Context) {
	users, err := h.store.ListUsers(c.Query("q"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

type createUserRequest struct {
	Name   string           `json:"name"`
	Email  string           `json:"email"`
	Role   model.Role       `json:"role"`
	Status model.UserStatus `json:"status"`
	Avatar string           `json:"avatar"`
}

func (h *Handler) CreateUserHandler(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if strings.TrimSpace(req.Name) == "" || !strings.Contains(req.Email, "@") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Name and a valid email are required"})
		return
	}
	if req.Role != "" && req.Role != model.RoleUser && req.Role != model.RoleAdmin {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid role"})
		return
	}
	if req.Status != "" && !req.Status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status"})
		return
	}

	user := &model.User{
		Name:   strings.TrimSpace(req.Name),
		Email:  req.Email,
		Role:   req.Role,
		Status: req.Status,
		Avatar: req.Avatar,
		Token:  uuid.NewString(),
	}
	if err := h.store.CreateUser(user); err != nil {
		respondError(c, err)
		return
	}
	h.logger.Info("User created", "user_id", user.ID)
	c.JSON(http.StatusCreated, user)
}

type statusRequest struct {
	Status model.UserStatus `json:"status"`
}

func (h *Handler) UpdateUserStatusHandler(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil || !req.Status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be active, pending or banned"})
		return
	}
	if err := h.store.UpdateUserStatus(id, req.Status); err != nil {
		respondError(c, err)
		return
	}
	if req.Status == model.UserBanned {
		h.sessions.Drop(id)
	}
	h.logger.Info("User status changed", "user_id", id, "status", req.Status)
	c.JSON(http.StatusOK, gin.H{"id": id, "status": req.Status})
}

func (h *Handler) DeleteUserHandler(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.store.DeleteUser(id); err != nil {
		respondError(c, err)
		return
	}
	h.sessions.Drop(id)
	if err := h.keys.Reload(); err != nil {
		h.logger.Warn("Failed to reload credentials after user delete", "error", err)
	}
	h.logger.Info("User deleted", "user_id", id)
	c.Status(http.StatusNoContent)
}

// ImportLegacyHandler loads a dashboard localStorage export. User keys go to the
// user given by the owner query parameter.
func (h *Handler) ImportLegacyHandler(c *gin.Context) {
	var owner uint
	if raw := c.Query("owner"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid owner"})
			return
		}
		owner = uint(id)
	}

	state, err := legacy.Parse(c.Request.Body, h.now())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	report, err := legacy.Apply(h.store, state, owner)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "report": report})
		return
	}
	if err := h.keys.Reload(); err != nil {
		respondError(c, err)
		return
	}
	h.logger.Info("Legacy state imported", "admin_keys", report.AdminKeys, "user_keys", report.UserKeys, "duplicates", report.Duplicates)
	c.JSON(http.StatusOK, report)
}
