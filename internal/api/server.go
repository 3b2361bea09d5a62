package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"silence-trimmer/internal/config"
	"silence-trimmer/internal/logging"
	"silence-trimmer/internal/media"
	"silence-trimmer/internal/models"
	"silence-trimmer/internal/preview"
	"silence-trimmer/internal/ratelimit"
	"silence-trimmer/internal/scheduler"
	"silence-trimmer/internal/storage"
	"silence-trimmer/internal/telemetry"
)

// multipartOverhead is allowed on top of the upload limit for boundaries and headers.
const multipartOverhead = 1 << 20

// Scheduler is the job queue surface the handlers use.
type Scheduler interface {
	Submit(id, input string) (models.Job, error)
	Status(id string) (models.Job, bool)
	Cancel(id string) error
	CanAdmit() bool
	Load() float64
	Active() int
	QueueDepth() int
}

// Uploads stores incoming files.
type Uploads interface {
	SaveUpload(id string, r io.Reader, limit int64) (int64, error)
	ResolveInputPath(id string) string
	ResolveOutputPath(id string) string
	Remove(id string) error
}

type Prober interface {
	Probe(ctx context.Context, path string) (media.Info, error)
}

type Limiter interface {
	Allow(ctx context.Context, key string) (ratelimit.Decision, error)
}

type Previewer interface {
	Render(ctx context.Context, src string, duration float64, frames int, w io.Writer) error
}

// Server wires HTTP handlers for the upload API.
type Server struct {
	cfg     config.Config
	sched   Scheduler
	uploads Uploads
	prober  Prober
	limiter Limiter
	preview Previewer
	log     *slog.Logger
	newID   func() string
}

// New constructs the API server. limiter and previewer may be nil.
func New(cfg config.Config, sched Scheduler, uploads Uploads, prober Prober, limiter Limiter, previewer Previewer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Server{
		cfg:     cfg,
		sched:   sched,
		uploads: uploads,
		prober:  prober,
		limiter: limiter,
		preview: previewer,
		log:     logger,
		newID:   uuid.NewString,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Get("/load", s.handleLoad)
	r.Post("/jobs", s.handleUpload)
	r.Route("/jobs/{id}", func(r chi.Router) {
		r.Get("/", s.handleGetJob)
		r.Delete("/", s.handleCancel)
		r.Get("/download", s.handleDownload)
		r.Get("/thumbnail", s.handleThumbnail)
	})
	return r
}

type loadResponse struct {
	Load     float64 `json:"load"`
	Active   int     `json:"active"`
	Queued   int     `json:"queued"`
	CanAdmit bool    `json:"can_admit"`
	Busy     bool    `json:"busy"`
}

func (s *Server) handleLoad(w http.ResponseWriter, _ *http.Request) {
	load := s.sched.Load()
	writeJSON(w, http.StatusOK, loadResponse{
		Load:     math.Round(load*10) / 10,
		Active:   s.sched.Active(),
		Queued:   s.sched.QueueDepth(),
		CanAdmit: s.sched.CanAdmit(),
		Busy:     s.busy(load),
	})
}

func (s *Server) busy(load float64) bool {
	return s.cfg.BusyLoadPercent > 0 && load >= s.cfg.BusyLoadPercent
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil {
		d, err := s.limiter.Allow(r.Context(), clientKey(r))
		if err != nil {
			s.log.Error("rate limiter unavailable", slog.Any("error", err))
			http.Error(w, "rate limit error", http.StatusInternalServerError)
			return
		}
		if !d.Allowed {
			telemetry.RateLimitRejects.Inc()
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(d.RetryAfter.Seconds()))))
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
	}
	if s.busy(s.sched.Load()) {
		telemetry.BusyRejects.Inc()
		http.Error(w, "server busy, try again later", http.StatusServiceUnavailable)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+multipartOverhead)
	id := s.newID()
	if err := s.receive(r, id); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, storage.ErrTooLarge), errors.As(err, &maxErr):
			http.Error(w, "upload too large", http.StatusRequestEntityTooLarge)
		case errors.Is(err, errNoVideoField):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			s.log.Error("receive upload", logging.JobID(id), slog.Any("error", err))
			http.Error(w, "invalid upload", http.StatusBadRequest)
		}
		return
	}

	info, err := s.prober.Probe(r.Context(), s.uploads.ResolveInputPath(id))
	if err == nil {
		err = media.ValidateInput(info)
	}
	if err != nil {
		_ = s.uploads.Remove(id)
		s.log.Info("upload rejected", logging.JobID(id), slog.Any("error", err))
		http.Error(w, "uploaded file is not a readable video", http.StatusUnprocessableEntity)
		return
	}

	job, err := s.sched.Submit(id, "")
	if err != nil {
		_ = s.uploads.Remove(id)
		if errors.Is(err, scheduler.ErrClosed) {
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
			return
		}
		s.log.Error("submit job", logging.JobID(id), slog.Any("error", err))
		http.Error(w, "submit failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

var errNoVideoField = errors.New(`multipart field "video" is required`)

// receive streams the "video" part of a multipart body to storage.
func (s *Server) receive(r *http.Request, id string) error {
	mr, err := r.MultipartReader()
	if err != nil {
		return fmt.Errorf("read multipart: %w", err)
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return errNoVideoField
		}
		if err != nil {
			return fmt.Errorf("next part: %w", err)
		}
		if part.FormName() != "video" {
			_ = part.Close()
			continue
		}
		_, err = s.uploads.SaveUpload(id, part, s.cfg.MaxUploadBytes)
		_ = part.Close()
		return err
	}
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.sched.Status(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.sched.Cancel(id); err != nil {
		if errors.Is(err, scheduler.ErrNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to cancel job", http.StatusInternalServerError)
		return
	}
	if job, ok := s.sched.Status(id); ok {
		writeJSON(w, http.StatusOK, job)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "cancelled"})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, ok := s.sched.Status(id)
	if !ok {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	if job.Status != models.StatusCompleted {
		http.Error(w, "job not completed", http.StatusConflict)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.mp4"`, id))
	http.ServeFile(w, r, s.uploads.ResolveOutputPath(id))
}

func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	if s.preview == nil {
		http.Error(w, "previews disabled", http.StatusNotFound)
		return
	}
	id := chi.URLParam(r, "id")
	job, ok := s.sched.Status(id)
	if !ok {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	frames := 1
	if raw := strings.TrimSpace(r.URL.Query().Get("frames")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > preview.MaxFrames {
			http.Error(w, fmt.Sprintf("frames must be between 1 and %d", preview.MaxFrames), http.StatusBadRequest)
			return
		}
		frames = n
	}

	src := s.uploads.ResolveInputPath(id)
	if job.Status == models.StatusCompleted {
		src = s.uploads.ResolveOutputPath(id)
	}
	info, err := s.prober.Probe(r.Context(), src)
	if err != nil {
		s.log.Warn("probe for thumbnail", logging.JobID(id), slog.Any("error", err))
		http.Error(w, "media unavailable", http.StatusGone)
		return
	}
	var buf bytes.Buffer
	if err := s.preview.Render(r.Context(), src, info.DurationSeconds, frames, &buf); err != nil {
		s.log.Error("render thumbnail", logging.JobID(id), slog.Any("error", err))
		http.Error(w, "thumbnail failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// clientKey identifies the caller for rate limiting.
func clientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
