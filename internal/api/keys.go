package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ubuygold/stockmeta/internal/logger"
	"github.com/ubuygold/stockmeta/internal/model"
)

// KeyView is a personal key with the secret masked.
type KeyView struct {
	ID           uint                   `json:"id"`
	Label        string                 `json:"label"`
	KeySuffix    string                 `json:"keySuffix"`
	Status       model.CredentialStatus `json:"status"`
	FailureCount int                    `json:"failureCount"`
	UsageCount   int64                  `json:"usageCount"`
	LastUsedAt   *time.Time             `json:"lastUsedAt,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
}

func keyView(c model.Credential) KeyView {
	return KeyView{
		ID:           c.ID,
		Label:        c.Label,
		KeySuffix:    logger.KeySuffix(c.Key),
		Status:       c.Status,
		FailureCount: c.FailureCount,
		UsageCount:   c.UsageCount,
		LastUsedAt:   c.LastUsedAt,
		CreatedAt:    c.CreatedAt,
	}
}

func (h *Handler) ListKeysHandler(c *gin.Context) {
	user := currentUser(c)
	creds := h.keys.List(model.PoolUser, user.ID)
	views := make([]KeyView, len(creds))
	for i, cred := range creds {
		views[i] = keyView(cred)
	}
	c.JSON(http.StatusOK, gin.H{
		"keys":     views,
		"active":   h.keys.ActiveCount(user.ID),
		"eligible": h.keys.EligibleCount(model.PoolUser, user.ID),
	})
}

type addKeyRequest struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

func (h *Handler) AddKeyHandler(c *gin.Context) {
	var req addKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	req.Key = strings.TrimSpace(req.Key)
	if req.Key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Key cannot be empty"})
		return
	}
	label := strings.TrimSpace(req.Label)
	if label == "" {
		label = "Key " + logger.KeySuffix(req.Key)
	}

	cred := &model.Credential{Key: req.Key, Label: label, Pool: model.PoolUser, OwnerID: currentUser(c).ID}
	if err := h.keys.Add(cred); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, keyView(*cred))
}

func (h *Handler) DeleteKeyHandler(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.keys.Remove(model.PoolUser, currentUser(c).ID, id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
