package api

import (
	"errors"
	"io"
	"log"
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/ligustah/folio/internal/checkpoint"
	"github.com/ligustah/folio/internal/jobs"
	"github.com/ligustah/folio/internal/library"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// Options configures the router.
type Options struct {
	// AllowOrigins lists the CORS origins allowed to call the API. "*"
	// allows any origin.
	AllowOrigins []string

	// Heartbeat is the interval between keep-alive comments on the event
	// stream.
	// Default: 15s
	Heartbeat time.Duration

	Logger *log.Logger
}

// DownloadRequest is the body of POST /api/download.
type DownloadRequest struct {
	URL     string             `json:"url"`
	Options checkpoint.Options `json:"options"`
}

type server struct {
	jobs      *jobs.Manager
	library   *library.Library
	heartbeat time.Duration
	logger    *log.Logger
}

// NewRouter returns a gin engine serving the job and library API.
func NewRouter(m *jobs.Manager, lib *library.Library, opts Options) *gin.Engine {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 15 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	s := &server{jobs: m, library: lib, heartbeat: opts.Heartbeat, logger: opts.Logger}

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(cors.New(corsConfig(opts.AllowOrigins)))

	router.GET("/health", handleHealth)

	api := router.Group("/api")
	{
		api.POST("/download", s.startDownload)
		api.POST("/download/:id/cancel", s.cancelDownload)
		api.GET("/downloads", s.listDownloads)
		api.GET("/downloads/:id", s.getDownload)
		api.POST("/resume/:name", s.resume)

		api.GET("/comics", s.listComics)
		api.GET("/comics/:name/chapters", s.listChapters)
		api.DELETE("/comics/:name", s.deleteComic)

		api.GET("/events", s.events)
	}
	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	return cfg
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "folio",
		"version": Version,
	})
}

// startDownload handles POST /api/download.
func (s *server) startDownload(c *gin.Context) {
	var req DownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "request body must be JSON with a url field",
		})
		return
	}

	rec, err := s.jobs.Start(req.URL, req.Options)
	if err != nil {
		s.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"jobId": rec.ID, "job": rec})
}

// cancelDownload handles POST /api/download/:id/cancel.
func (s *server) cancelDownload(c *gin.Context) {
	id := c.Param("id")
	if err := s.jobs.Cancel(id); err != nil {
		s.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobId": id, "message": "cancellation requested"})
}

// listDownloads handles GET /api/downloads.
func (s *server) listDownloads(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": s.jobs.List()})
}

// getDownload handles GET /api/downloads/:id.
func (s *server) getDownload(c *gin.Context) {
	rec, err := s.jobs.Get(c.Param("id"))
	if err != nil {
		s.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// resume handles POST /api/resume/:name.
func (s *server) resume(c *gin.Context) {
	name := c.Param("name")
	if _, err := s.library.Path(name); err != nil {
		s.respondWithError(c, err)
		return
	}
	rec, err := s.jobs.Resume(c.Request.Context(), name)
	if err != nil {
		s.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"jobId": rec.ID, "job": rec})
}

// listComics handles GET /api/comics.
func (s *server) listComics(c *gin.Context) {
	comics, err := s.library.List(c.Request.Context())
	if err != nil {
		s.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"comics": comics})
}

// listChapters handles GET /api/comics/:name/chapters.
func (s *server) listChapters(c *gin.Context) {
	name := c.Param("name")
	chapters, err := s.library.Chapters(name)
	if err != nil {
		s.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": name, "chapters": chapters})
}

// deleteComic handles DELETE /api/comics/:name.
func (s *server) deleteComic(c *gin.Context) {
	name := c.Param("name")
	for _, rec := range s.jobs.List() {
		if rec.Name == name && rec.Status == jobs.StatusRunning {
			s.respondWithError(c, jobs.ErrAlreadyRunning)
			return
		}
	}
	if err := s.library.Delete(c.Request.Context(), name); err != nil {
		s.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": name, "message": "deleted"})
}

// events handles GET /api/events, streaming every job's progress events as
// server-sent events named after the event kind.
func (s *server) events(c *gin.Context) {
	events, unsubscribe := s.jobs.Subscribe()
	defer unsubscribe()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("ready", gin.H{"version": Version})
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Kind), ev)
			return true
		case <-heartbeat.C:
			_, err := io.WriteString(w, ": ping\n\n")
			return err == nil
		case <-ctx.Done():
			return false
		}
	})
}

func (s *server) respondWithError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, jobs.ErrInvalidOptions), errors.Is(err, library.ErrInvalidName):
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": err.Error(),
		})
	case errors.Is(err, jobs.ErrNotFound), errors.Is(err, library.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "NOT_FOUND",
			"message": err.Error(),
		})
	case errors.Is(err, jobs.ErrNoCheckpoint):
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "NO_CHECKPOINT",
			"message": err.Error(),
		})
	case errors.Is(err, jobs.ErrAlreadyRunning):
		c.JSON(http.StatusConflict, gin.H{
			"code":    "ALREADY_RUNNING",
			"message": err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "internal server error",
		})
		s.logger.Printf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
}
