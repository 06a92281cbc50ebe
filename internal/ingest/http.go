package ingest

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rotisserie/eris"

	"rescuefusion/internal/config"
	"rescuefusion/internal/model"
)

type HTTPServer struct {
	frames  FrameProcessor
	wifi    WifiSubmitter
	maxBody int64
	logger  *slog.Logger
}

func NewHTTPServer(frames FrameProcessor, wifi WifiSubmitter, maxBody int64, logger *slog.Logger) *HTTPServer {
	if maxBody <= 0 {
		maxBody = 4 << 20
	}
	return &HTTPServer{frames: frames, wifi: wifi, maxBody: maxBody, logger: logger}
}

func (s *HTTPServer) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/cameras/{cameraID}/frames", s.handleFrame)
	r.Post("/sensors/wifi", s.handleWifi)
	return r
}

// StartHTTP serves the ingest endpoints until ctx is done.
func StartHTTP(ctx context.Context, cfg *config.Manager, frames FrameProcessor, wifi WifiSubmitter, logger *slog.Logger) *http.Server {
	current := cfg.Get().Ingest.HTTP
	if !current.Enabled {
		if logger != nil {
			logger.Info("http ingest disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("http ingest enabled", "addr", current.Addr)
	}
	server := NewHTTPServer(frames, wifi, current.MaxBodyBytes, logger)
	httpServer := &http.Server{Addr: current.Addr, Handler: server.Routes(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("http ingest server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *HTTPServer) handleFrame(w http.ResponseWriter, r *http.Request) {
	cameraID, err := strconv.ParseInt(chi.URLParam(r, "cameraID"), 10, 64)
	if err != nil {
		writeError(w, model.Validationf("camera id %q is not a number", chi.URLParam(r, "cameraID")))
		return
	}
	locationID, err := strconv.ParseInt(r.URL.Query().Get("location_id"), 10, 64)
	if err != nil {
		writeError(w, model.Validationf("location_id query parameter is required"))
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		writeError(w, eris.Wrapf(model.ErrValidation, "read body: %v", err))
		return
	}
	result, err := DecodeDetectionResult(body)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := s.frames.ProcessFrame(r.Context(), model.VisionFrame{
		CameraID:   cameraID,
		LocationID: locationID,
		MediaURL:   r.URL.Query().Get("media_url"),
		Result:     result,
		ReceivedAt: time.Now().UTC(),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleWifi(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		writeError(w, eris.Wrapf(model.ErrValidation, "read body: %v", err))
		return
	}
	if err := submitWifi(s.wifi, body, 0, "http", s.logger); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// StatusFor maps the error taxonomy onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case eris.Is(err, model.ErrValidation):
		return http.StatusBadRequest
	case eris.Is(err, model.ErrReferenceNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, StatusFor(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
