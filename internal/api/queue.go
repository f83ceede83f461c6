package api

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/ubuygold/stockmeta/internal/model"
	"github.com/ubuygold/stockmeta/internal/runner"
)

// maxFilesPerUpload bounds one multipart request.
const maxFilesPerUpload = 100

type rejectedFile struct {
	FileName string `json:"fileName"`
	Error    string `json:"error"`
}

// sniffMIME detects the content type from the bytes, ignoring any parameters.
func sniffMIME(data []byte) string {
	mt := mimetype.Detect(data).String()
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return strings.TrimSpace(mt)
}

// UploadFilesHandler queues the files of a multipart "files" field. Files over the
// size limit are rejected individually; the rest are queued.
func (h *Handler) UploadFilesHandler(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload*maxFilesPerUpload)
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid multipart upload"})
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No files uploaded"})
		return
	}
	if len(files) > maxFilesPerUpload {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("At most %d files per upload", maxFilesPerUpload)})
		return
	}

	queue := h.sessions.For(currentUser(c).ID).Queue()
	items := make([]runner.Item, 0, len(files))
	var rejected []rejectedFile
	for _, fh := range files {
		if fh.Size > h.maxUpload {
			rejected = append(rejected, rejectedFile{FileName: fh.Filename, Error: fmt.Sprintf("file exceeds %d bytes", h.maxUpload)})
			continue
		}
		f, err := fh.Open()
		if err != nil {
			rejected = append(rejected, rejectedFile{FileName: fh.Filename, Error: err.Error()})
			continue
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			rejected = append(rejected, rejectedFile{FileName: fh.Filename, Error: err.Error()})
			continue
		}

		item, err := queue.AddFile(fh.Filename, sniffMIME(data), data)
		if err != nil {
			rejected = append(rejected, rejectedFile{FileName: fh.Filename, Error: err.Error()})
			continue
		}
		items = append(items, item)
	}

	status := http.StatusCreated
	if len(items) == 0 {
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"items": items, "rejected": rejected})
}

type addTextsRequest struct {
	Texts []string `json:"texts"`
}

func (h *Handler) AddTextsHandler(c *gin.Context) {
	var req addTextsRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Texts) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "texts must be a non-empty list"})
		return
	}

	queue := h.sessions.For(currentUser(c).ID).Queue()
	items := make([]runner.Item, 0, len(req.Texts))
	for _, text := range req.Texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		item, err := queue.AddText(text)
		if err != nil {
			respondError(c, err)
			return
		}
		items = append(items, item)
	}
	c.JSON(http.StatusCreated, gin.H{"items": items})
}

func (h *Handler) ListQueueHandler(c *gin.Context) {
	r := h.sessions.For(currentUser(c).ID)
	c.JSON(http.StatusOK, gin.H{"items": r.Queue().Items(), "progress": r.Progress()})
}

func (h *Handler) RemoveItemHandler(c *gin.Context) {
	if err := h.sessions.For(currentUser(c).ID).Queue().Remove(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ClearQueueHandler(c *gin.Context) {
	n, err := h.sessions.For(currentUser(c).ID).Clear()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": n})
}

func (h *Handler) UpdateResultHandler(c *gin.Context) {
	var result model.MetadataResult
	if err := c.ShouldBindJSON(&result); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	item, err := h.sessions.For(currentUser(c).ID).Queue().UpdateResult(c.Param("id"), result)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// RegenerateHandler reprocesses one item synchronously with the options in the body.
func (h *Handler) RegenerateHandler(c *gin.Context) {
	opts := model.DefaultGenerationOptions()
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&opts); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
	}
	item, err := h.sessions.For(currentUser(c).ID).RegenerateOne(c.Request.Context(), c.Param("id"), opts)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}
