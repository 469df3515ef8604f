package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"assetlib/internal/api"
	"assetlib/internal/checkout"
	"assetlib/internal/config"
	"assetlib/internal/logging"
	"assetlib/internal/registry"
	"assetlib/internal/services"
)

// maxFormMemory bounds how much of a check-in upload is held in memory;
// the remainder spills to temporary files.
const maxFormMemory = 32 << 20

type apiServer struct {
	bind   string
	holder string
	logger *slog.Logger
	daemon *Daemon

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:   strings.TrimSpace(cfg.Paths.APIBind),
		holder: strings.TrimSpace(cfg.Identity.Holder),
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}
	srv.server = &http.Server{
		Handler:           authMiddleware(cfg.Paths.APIToken, srv.withRequestContext(srv.routes())),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/assets", s.handleListAssets)
	mux.HandleFunc("GET /api/assets/{name}", s.handleGetAsset)
	mux.HandleFunc("POST /api/assets/{name}/upload", s.handleUpload)
	mux.HandleFunc("POST /api/assets/{name}/checkout", s.handleCheckout)
	mux.HandleFunc("POST /api/assets/{name}/checkin", s.handleCheckin)
	mux.HandleFunc("POST /api/assets/{name}/fetch", s.handleFetch)
	mux.HandleFunc("POST /api/assets/{name}/launch", s.handleLaunch)
	mux.HandleFunc("GET /api/checkins", s.handleCheckins)
	mux.HandleFunc("POST /api/checkins/{id}/resume", s.handleResume)
	mux.HandleFunc("GET /api/jobs", s.handleJobs)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleJob)
	mux.HandleFunc("GET /api/tools", s.handleTools)
	return mux
}

// Handler exposes the API handler, including authentication, for embedding
// and tests.
func (d *Daemon) Handler() http.Handler {
	return d.api.server.Handler
}

func (s *apiServer) start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ErrorWithContext(s.logger, "api server error", "api_serve_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "local API requests will fail"),
			)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening",
		logging.String("address", listener.Addr().String()),
		logging.String(logging.FieldEventType, "api_listening"),
	)
	return nil
}

func (s *apiServer) stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
	s.mu.Lock()
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
	s.mu.Unlock()
}

func (s *apiServer) addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := s.daemon.Status()
	payload := api.DaemonStatus{
		Running:      status.Running,
		PID:          status.PID,
		Address:      status.Address,
		LockFilePath: status.LockFilePath,
		JournalPath:  status.JournalPath,
		Dependencies: api.FromDependencies(status.Dependencies),
	}
	if !status.StartedAt.IsZero() {
		payload.StartedAt = status.StartedAt.UTC().Format(time.RFC3339)
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *apiServer) handleListAssets(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	opts := registry.ListOptions{
		Search:        strings.TrimSpace(query.Get("search")),
		Author:        strings.TrimSpace(query.Get("author")),
		CheckedInOnly: queryBool(query.Get("checkedInOnly")),
		SortBy:        strings.TrimSpace(query.Get("sortBy")),
	}
	assets, err := s.daemon.svc.Catalog.ListAssets(r.Context(), opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if assets == nil {
		assets = []registry.Asset{}
	}
	s.writeJSON(w, http.StatusOK, api.AssetListResponse{Assets: assets})
}

func (s *apiServer) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	asset, err := s.daemon.svc.Catalog.GetAsset(r.Context(), r.PathValue("name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.AssetResponse{Asset: *asset})
}

func (s *apiServer) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req api.CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "checkout", "invalid request body", err))
		return
	}
	asset, err := s.daemon.svc.Checkouts.Checkout(r.Context(), r.PathValue("name"), s.holderOr(req.Holder))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.AssetResponse{Asset: *asset})
}

func (s *apiServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "upload", "expected a multipart form", err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "upload", "form field \"file\" is required", err))
		return
	}
	defer file.Close()

	asset, err := s.daemon.svc.Checkouts.Create(r.Context(), checkout.CreateRequest{
		Asset:    r.PathValue("name"),
		Version:  r.FormValue("version"),
		Filename: header.Filename,
		Payload:  file,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, api.AssetResponse{Asset: *asset})
}

func (s *apiServer) handleCheckin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "checkin", "expected a multipart form", err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "checkin", "form field \"file\" is required", err))
		return
	}
	defer file.Close()

	bump, err := checkout.ParseBump(r.FormValue("bump"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	hasTexture := false
	if raw := strings.TrimSpace(r.FormValue("hasTexture")); raw != "" {
		if hasTexture, err = strconv.ParseBool(raw); err != nil {
			s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "checkin", "hasTexture must be a boolean", err))
			return
		}
	}

	result, err := s.daemon.svc.Checkouts.Checkin(r.Context(), checkout.CheckinRequest{
		Asset:      r.PathValue("name"),
		Holder:     s.holderOr(r.FormValue("holder")),
		Filename:   header.Filename,
		Payload:    file,
		Note:       r.FormValue("note"),
		Keywords:   splitKeywords(r.MultipartForm.Value["keywords"]),
		HasTexture: hasTexture,
		Version:    r.FormValue("version"),
		Bump:       bump,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.CheckinResponse{Checkin: api.FromCheckinResult(result)})
}

func (s *apiServer) handleFetch(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	result, err := s.daemon.svc.Fetcher.Fetch(r.Context(), name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if result.Stale && queryBool(r.URL.Query().Get("refresh")) {
		if err := s.daemon.svc.Fetcher.Invalidate(r.Context(), name); err != nil {
			s.writeError(w, r, err)
			return
		}
		result.Stale = false
	}
	s.writeJSON(w, http.StatusOK, api.FetchResponse{Fetch: api.FromFetch(result)})
}

func (s *apiServer) handleLaunch(w http.ResponseWriter, r *http.Request) {
	job, err := s.daemon.svc.Launcher.Launch(r.Context(), r.PathValue("name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/jobs/"+job.ID)
	s.writeJSON(w, http.StatusAccepted, api.JobResponse{Job: api.FromJob(job)})
}

func (s *apiServer) handleCheckins(w http.ResponseWriter, r *http.Request) {
	sagas, err := s.daemon.svc.Checkouts.Checkins(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.CheckinListResponse{Checkins: api.FromSagas(sagas)})
}

func (s *apiServer) handleResume(w http.ResponseWriter, r *http.Request) {
	result, err := s.daemon.svc.Checkouts.ResumeCheckin(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.CheckinResponse{Checkin: api.FromCheckinResult(result)})
}

func (s *apiServer) handleJobs(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, api.JobListResponse{Jobs: api.FromJobs(s.daemon.svc.Launcher.Jobs())})
}

func (s *apiServer) handleJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, ok := s.daemon.svc.Launcher.Job(id)
	if !ok {
		s.writeError(w, r, services.Wrap(services.ErrNotFound, "api", "job", fmt.Sprintf("no launch job %q", id), nil))
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobResponse{Job: api.FromJob(job)})
}

func (s *apiServer) handleTools(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, api.ToolsResponse{Tools: api.FromDependencies(s.daemon.svc.Tools.Check())})
}

func (s *apiServer) holderOr(holder string) string {
	if holder = strings.TrimSpace(holder); holder != "" {
		return holder
	}
	return s.holder
}

// statusFor maps the services error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrPartialCheckin):
		return http.StatusBadGateway
	case errors.Is(err, services.ErrMissingArchive):
		return http.StatusPreconditionFailed
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrToolNotFound):
		return http.StatusFailedDependency
	case errors.Is(err, services.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	logger := logging.WithContext(r.Context(), s.logger)
	if status >= http.StatusInternalServerError {
		logging.WarnWithContext(logger, "api request failed", "api_request_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorKind, services.Kind(err)),
			logging.String(logging.FieldErrorHint, services.Hint(err)),
			logging.String("path", r.URL.Path),
			logging.Int("status", status),
		)
	}
	s.writeJSON(w, status, api.NewErrorResponse(err))
}

// withRequestContext tags each request with a correlation id and logs it.
func (s *apiServer) withRequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := services.WithRequestID(r.Context(), id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		started := time.Now()
		next.ServeHTTP(rec, r.WithContext(ctx))
		logging.WithContext(ctx, s.logger).Debug("api request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", rec.status),
			logging.Duration("duration", time.Since(started)),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func queryBool(value string) bool {
	value = strings.TrimSpace(value)
	return value == "1" || strings.EqualFold(value, "true")
}

func splitKeywords(values []string) []string {
	var out []string
	for _, value := range values {
		for _, kw := range strings.Split(value, ",") {
			if kw = strings.TrimSpace(kw); kw != "" {
				out = append(out, kw)
			}
		}
	}
	return out
}
