package api

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/ubuygold/stockmeta/internal/export"
	"github.com/ubuygold/stockmeta/internal/keymanager"
	"github.com/ubuygold/stockmeta/internal/model"
	"github.com/ubuygold/stockmeta/internal/runner"
)

// StartBatchHandler starts a run in the background. It refuses to start when the
// user has no eligible key, so the whole queue is not failed item by item.
func (h *Handler) StartBatchHandler(c *gin.Context) {
	opts := model.DefaultGenerationOptions()
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&opts); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
	}

	user := currentUser(c)
	r := h.sessions.For(user.ID)
	if r.Busy() {
		respondError(c, runner.ErrRunActive)
		return
	}
	if keymanager.UserSource(h.keys, user.ID).EligibleCount() == 0 {
		respondError(c, keymanager.ErrNoEligibleCredential)
		return
	}

	items, err := r.Start(h.baseCtx, opts)
	if err != nil {
		respondError(c, err)
		return
	}
	if items == 0 {
		c.JSON(http.StatusOK, gin.H{"started": false, "message": "Nothing to process"})
		return
	}
	h.logger.Info("Batch run queued", "user_id", user.ID, "items", items)
	c.JSON(http.StatusAccepted, gin.H{"started": true, "items": items})
}

func (h *Handler) StopBatchHandler(c *gin.Context) {
	r := h.sessions.For(currentUser(c).ID)
	r.Stop()
	c.JSON(http.StatusOK, r.Progress())
}

func (h *Handler) ProgressHandler(c *gin.Context) {
	c.JSON(http.StatusOK, h.sessions.For(currentUser(c).ID).Progress())
}

// ExportHandler downloads the done items as CSV or XLSX.
func (h *Handler) ExportHandler(c *gin.Context) {
	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	vector := false
	if v := c.Query("vector"); v != "" {
		if vector, err = strconv.ParseBool(v); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "vector must be true or false"})
			return
		}
	}
	platform := c.DefaultQuery("platform", model.DefaultPlatform)

	var rows []export.Row
	for _, it := range h.sessions.For(currentUser(c).ID).Queue().Completed() {
		rows = append(rows, export.Row{FileName: it.FileName, Result: *it.Result})
	}

	var buf bytes.Buffer
	opts := export.Options{Platform: platform, Vector: vector, Format: format}
	if err := export.Write(&buf, opts, rows); err != nil {
		if errors.Is(err, export.ErrNothingToExport) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		respondError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+export.FileName(platform, format, h.now())+`"`)
	c.Data(http.StatusOK, format.ContentType(), buf.Bytes())
}
