package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/timmy/intelliparse/internal/api/middleware"
	"github.com/timmy/intelliparse/internal/domain"
	"github.com/timmy/intelliparse/internal/service"
)

// maxSidecarBytes bounds the embedding sidecar read into memory.
const maxSidecarBytes = 4 << 20

// JobService submits analysis jobs and reads their records.
type JobService interface {
	Submit(ctx context.Context, sub *service.Submission) (*domain.Job, error)
	Get(ctx context.Context, id string) (*domain.Job, error)
}

// AnalyzeHandler handles job submission and polling.
type AnalyzeHandler struct {
	jobs JobService
}

// NewAnalyzeHandler creates a new analyze handler.
func NewAnalyzeHandler(jobs JobService) *AnalyzeHandler {
	return &AnalyzeHandler{jobs: jobs}
}

// Analyze returns the handler for POST /v1/{images,audio,videos}:analyze.
// The upload is the multipart "file" part; "sidecar" optionally carries the
// embedding JSON and "options" the AnalyzeOptions, as a form field or query
// parameter.
func (h *AnalyzeHandler) Analyze(modality domain.Modality) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := middleware.GetLogger(c)

		raw := c.PostForm("options")
		if raw == "" {
			raw = c.Query("options")
		}
		opts, err := ParseOptions(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		header, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
			return
		}

		var sidecar []byte
		if sh, err := c.FormFile("sidecar"); err == nil {
			sidecar, err = readPart(sh, maxSidecarBytes)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid sidecar: " + err.Error()})
				return
			}
		}

		f, err := header.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read upload: " + err.Error()})
			return
		}
		defer f.Close()

		job, err := h.jobs.Submit(c.Request.Context(), &service.Submission{
			Modality:    modality,
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Data:        f,
			Size:        header.Size,
			Sidecar:     sidecar,
			Options:     opts,
		})
		switch {
		case errors.Is(err, service.ErrQueueFull), errors.Is(err, service.ErrPipelineClosed):
			body := gin.H{"error": err.Error()}
			if job != nil {
				body["job_id"] = job.ID
			}
			c.JSON(http.StatusServiceUnavailable, body)
			return
		case err != nil:
			log.WithError(err).Error("Failed to submit job")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to submit job"})
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"job_id": job.ID,
			"status": job.Status,
		})
	}
}

// GetJob handles GET /v1/jobs/:id.
func (h *AnalyzeHandler) GetJob(c *gin.Context) {
	job, err := h.jobs.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, domain.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}
	if err != nil {
		middleware.GetLogger(c).WithError(err).Error("Failed to load job")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load job"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// ParseOptions decodes AnalyzeOptions JSON over the defaults, which enable
// every check. A callback must be an absolute http(s) URL.
func ParseOptions(raw string) (domain.AnalyzeOptions, error) {
	opts := domain.DefaultAnalyzeOptions()
	if strings.TrimSpace(raw) == "" {
		return opts, nil
	}
	if err := json.Unmarshal([]byte(raw), &opts); err != nil {
		return opts, fmt.Errorf("%w: %v", domain.ErrInvalidOptions, err)
	}
	if opts.CallbackURL != "" {
		u, err := url.Parse(opts.CallbackURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return opts, fmt.Errorf("%w: callback_url must be an absolute http(s) URL", domain.ErrInvalidOptions)
		}
	}
	return opts, nil
}

func readPart(fh *multipart.FileHeader, limit int64) ([]byte, error) {
	if fh.Size > limit {
		return nil, fmt.Errorf("larger than %d bytes", limit)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, limit))
}
