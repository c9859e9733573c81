package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"audioseg/config"
	"audioseg/logger"
	"audioseg/pipeline"
	"audioseg/playlist"
	"audioseg/progress"
	"audioseg/tagger"
	"audioseg/task"

	"github.com/gin-gonic/gin"
)

const maxCoverSize = 5 << 20

// TaskService is the polling binding as seen by the handlers.
type TaskService interface {
	Submit(ctx context.Context, req pipeline.Request) (*task.Task, error)
	Get(ctx context.Context, taskID string) (*task.Task, error)
	List(ctx context.Context) ([]*task.Task, error)
	Cancel(ctx context.Context, taskID string) error
}

type Handler struct {
	tasks    TaskService
	pipeline task.Pipeline
	cfg      *config.Config
}

func NewHandler(tm TaskService, p task.Pipeline, cfg *config.Config) *Handler {
	return &Handler{
		tasks:    tm,
		pipeline: p,
		cfg:      cfg,
	}
}

// TaskRequest is the non-multipart body of POST /tasks.
type TaskRequest struct {
	SourceRef string `json:"sourceRef" form:"sourceRef"`
	SourceURL string `json:"sourceUrl" form:"sourceUrl"`
	MimeType  string `json:"mimeType" form:"mimeType"`
	Title     string `json:"title" form:"title"`
	Artist    string `json:"artist" form:"artist"`
	Genre     string `json:"genre" form:"genre"`
}

func isMultipart(c *gin.Context) bool {
	return strings.HasPrefix(c.ContentType(), "multipart/form-data")
}

// readPart reads at most limit+1 bytes so oversize uploads are detectable
// without buffering all of them.
func readPart(fh *multipart.FileHeader, limit int64) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, limit+1))
}

// bindMultipart builds a request from a multipart form with a required
// "file" part and optional title, artist, genre and "cover" parts.
func (h *Handler) bindMultipart(c *gin.Context) (pipeline.Request, error) {
	var req pipeline.Request

	fh, err := c.FormFile("file")
	if err != nil {
		return req, fmt.Errorf("audio file is required: %w", err)
	}
	data, err := readPart(fh, h.cfg.MaxInputSize)
	if err != nil {
		return req, fmt.Errorf("failed to read audio file: %w", err)
	}
	req.Source = pipeline.Source{
		Data:     data,
		MimeType: fh.Header.Get("Content-Type"),
		Size:     fh.Size,
		Filename: fh.Filename,
	}

	req.Tags = tagger.Tags{
		Title:  c.PostForm("title"),
		Artist: c.PostForm("artist"),
		Genre:  c.PostForm("genre"),
	}
	if cover, err := c.FormFile("cover"); err == nil {
		if cover.Size > maxCoverSize {
			return req, fmt.Errorf("cover image exceeds %d bytes", maxCoverSize)
		}
		img, err := readPart(cover, maxCoverSize)
		if err != nil {
			return req, fmt.Errorf("failed to read cover image: %w", err)
		}
		req.Tags.Cover = img
		req.Tags.CoverMIME = cover.Header.Get("Content-Type")
	}
	return req, nil
}

// handleProcess runs the pipeline inline and streams every event as an
// NDJSON line. The stream ends after the terminal event.
func (h *Handler) handleProcess(c *gin.Context) {
	if !isMultipart(c) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart/form-data body with a file part is required"})
		return
	}
	req, err := h.bindMultipart(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.TaskID = task.NewID()

	c.Header("Content-Type", "application/x-ndjson")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Header("X-Task-Id", req.TaskID)
	c.Status(http.StatusOK)
	c.Writer.Flush()

	sink := progress.NewStreamSink(c.Writer)
	tr := progress.NewTracker(req.TaskID, sink)
	if _, err := h.pipeline.Run(c.Request.Context(), req, tr); err != nil {
		logger.Warn("Streamed task failed", logger.String("taskId", req.TaskID), logger.Err(err))
	}
	if err := sink.Close(); err != nil {
		logger.Warn("Progress stream closed with error", logger.String("taskId", req.TaskID), logger.Err(err))
	}
}

// handleCreateTask handles asynchronous task creation.
func (h *Handler) handleCreateTask(c *gin.Context) {
	var req pipeline.Request
	if isMultipart(c) {
		r, err := h.bindMultipart(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		req = r
	} else {
		var body TaskRequest
		if err := c.ShouldBind(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if (body.SourceRef == "") == (body.SourceURL == "") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "exactly one of sourceRef or sourceUrl is required"})
			return
		}
		req.Source = pipeline.Source{Ref: body.SourceRef, URL: body.SourceURL, MimeType: body.MimeType}
		req.Tags = tagger.Tags{Title: body.Title, Artist: body.Artist, Genre: body.Genre}
	}

	t, err := h.tasks.Submit(c.Request.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, task.ErrQueueFull) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": "Failed to create task", "details": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"taskId": t.ID})
}

// handleListTasks lists all tasks.
func (h *Handler) handleListTasks(c *gin.Context) {
	tasks, err := h.tasks.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if tasks == nil {
		tasks = []*task.Task{}
	}
	c.JSON(http.StatusOK, tasks)
}

// resolvePlaylist substitutes uploaded segment references into the
// placeholder playlist of a completed task.
func resolvePlaylist(t *task.Task) {
	if t.Status != task.StatusCompleted || t.Result == nil {
		return
	}
	refs := t.Result.References()
	if len(refs) == 0 {
		return
	}
	resolved, err := playlist.Resolve(t.Result.Playlist, refs)
	if err != nil {
		logger.Warn("Failed to resolve playlist", logger.String("taskId", t.ID), logger.Err(err))
		return
	}
	t.ResolvedPlaylist = resolved
}

// handleGetTaskStatus retrieves the status of a single task.
func (h *Handler) handleGetTaskStatus(c *gin.Context) {
	taskID := c.Param("taskId")
	t, err := h.tasks.Get(c.Request.Context(), taskID)
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resolvePlaylist(t)
	c.JSON(http.StatusOK, t)
}

// handleCancelTask cancels a task.
func (h *Handler) handleCancelTask(c *gin.Context) {
	taskID := c.Param("taskId")
	err := h.tasks.Cancel(c.Request.Context(), taskID)
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Task cancellation requested"})
}
