// Package api serves the user dashboard: trends, prompt ideas, personal keys, the
// metadata queue, batch runs and exports.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ubuygold/stockmeta/internal/auth"
	"github.com/ubuygold/stockmeta/internal/db"
	"github.com/ubuygold/stockmeta/internal/generator"
	"github.com/ubuygold/stockmeta/internal/keymanager"
	"github.com/ubuygold/stockmeta/internal/model"
	"github.com/ubuygold/stockmeta/internal/runner"
	"github.com/ubuygold/stockmeta/internal/trends"
)

// TrendLister serves the trend feed.
type TrendLister interface {
	List() (trends.Listing, error)
}

// PromptGenerator produces image-prompt ideas.
type PromptGenerator interface {
	GeneratePrompts(ctx context.Context, key string, req generator.PromptRequest) ([]model.GeneratedPrompt, error)
}

// Handler serves the /api routes. Batch runs started here outlive the request and
// run under baseCtx.
type Handler struct {
	keys      keymanager.Manager
	sessions  *runner.Registry
	trends    TrendLister
	prompts   PromptGenerator
	maxUpload int64
	baseCtx   context.Context
	logger    *slog.Logger
	now       func() time.Time
}

func NewHandler(baseCtx context.Context, keys keymanager.Manager, sessions *runner.Registry, trendList TrendLister,
	prompts PromptGenerator, maxUpload int64, log *slog.Logger) *Handler {
	return &Handler{
		keys:      keys,
		sessions:  sessions,
		trends:    trendList,
		prompts:   prompts,
		maxUpload: maxUpload,
		baseCtx:   baseCtx,
		logger:    log.With("component", "api"),
		now:       time.Now,
	}
}

func currentUser(c *gin.Context) *model.User {
	user, ok := auth.CurrentUser(c)
	if !ok {
		// routes are always mounted behind UserAuthMiddleware
		panic("api: no authenticated user in context")
	}
	return user
}

// respondError maps domain errors onto status codes.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var verr *generator.ValidationError
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
	case errors.Is(err, db.ErrNotFound), errors.Is(err, runner.ErrItemNotFound):
		status = http.StatusNotFound
	case errors.Is(err, db.ErrDuplicate),
		errors.Is(err, runner.ErrItemBusy),
		errors.Is(err, runner.ErrItemNotDone),
		errors.Is(err, runner.ErrRunActive),
		errors.Is(err, runner.ErrQueueFull):
		status = http.StatusConflict
	case errors.Is(err, keymanager.ErrNoEligibleCredential):
		c.JSON(http.StatusConflict, gin.H{"error": "No eligible API key. Add a key or wait for a rate-limited one to recover.", "errorKind": runner.KindNoEligibleCredential})
		return
	case errors.Is(err, generator.ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, generator.ErrInvalidCredential):
		status = http.StatusUnauthorized
	case errors.Is(err, generator.ErrEmptyResponse):
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"error": err.Error(), "errorKind": generator.Kind(err)})
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ID format"})
		return 0, false
	}
	return uint(id), true
}

func (h *Handler) TrendsHandler(c *gin.Context) {
	listing, err := h.trends.List()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

func (h *Handler) KeywordsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, trends.Keywords())
}

// PromptsHandler generates prompt ideas with one of the user's own keys.
func (h *Handler) PromptsHandler(c *gin.Context) {
	var req generator.PromptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		respondError(c, err)
		return
	}

	src := keymanager.UserSource(h.keys, currentUser(c).ID)
	cred, err := src.Select()
	if err != nil {
		respondError(c, err)
		return
	}
	if err := src.Wait(c.Request.Context(), cred); err != nil {
		respondError(c, err)
		return
	}
	prompts, err := h.prompts.GeneratePrompts(c.Request.Context(), cred.Key, req)
	if outcome, ok := generator.CredentialOutcome(err); ok {
		src.Report(cred, outcome)
	}
	if err != nil {
		h.logger.Warn("Prompt generation failed", "user_id", currentUser(c).ID, "error", err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"prompts": prompts})
}
