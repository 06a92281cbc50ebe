package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"

	"rescuefusion/internal/alerts"
	"rescuefusion/internal/config"
	"rescuefusion/internal/ingest"
	"rescuefusion/internal/metrics"
	"rescuefusion/internal/model"
	"rescuefusion/internal/normalize"
	"rescuefusion/internal/storage"
)

// FusionControl is the part of the orchestrator the operator API drives.
type FusionControl interface {
	UpdateRescueStatus(ctx context.Context, identityID int64, status model.RescueStatus) (model.Identity, error)
	MarkFalsePositive(ctx context.Context, identityID int64) (model.Identity, error)
	UpdateConfig(cfg *config.Config)
}

type CoalescerStats interface {
	Stats() model.CoalescerStats
}

type Deps struct {
	Config    *config.Manager
	Store     storage.Store
	Fusion    FusionControl
	Rates     *metrics.Store
	Counters  *metrics.Counters
	Coalescer CoalescerStats
	Triage    *alerts.Triage
	Hub       http.Handler
	Logger    *slog.Logger
	Version   string
}

type Server struct {
	Deps
}

type statusResponse struct {
	Status     string                 `json:"status"`
	Time       string                 `json:"time"`
	Version    string                 `json:"version"`
	ConfigPath string                 `json:"config_path"`
	Storage    string                 `json:"storage"`
	Ingest     ingestStatus           `json:"ingest"`
	Broadcast  sinkStatus             `json:"broadcast"`
	Retention  config.RetentionConfig `json:"retention"`
}

type ingestStatus struct {
	HTTP      bool `json:"http"`
	MQTT      bool `json:"mqtt"`
	Kafka     bool `json:"kafka"`
	TCPStream bool `json:"tcp_stream"`
	Replay    bool `json:"replay"`
}

type sinkStatus struct {
	WebSocket bool `json:"websocket"`
	Redis     bool `json:"redis"`
	Kafka     bool `json:"kafka"`
}

func NewServer(deps Deps) *Server {
	return &Server{Deps: deps}
}

func Start(ctx context.Context, deps Deps) *http.Server {
	if deps.Config == nil {
		return nil
	}
	logger := deps.Logger
	current := deps.Config.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	httpServer := &http.Server{Addr: current.Addr, Handler: NewServer(deps).Routes(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/status", s.handleStatus)
	r.Get("/metrics", s.handleMetrics)
	r.Get("/metrics/sensors/{sensorID}", s.handleSensorMetrics)
	r.Get("/alerts", s.handleAlerts)

	r.Route("/survivors", func(r chi.Router) {
		r.Get("/", s.handleListSurvivors)
		r.Route("/{identityID}", func(r chi.Router) {
			r.Get("/", s.handleGetSurvivor)
			r.Get("/observations", s.handleObservations)
			r.Get("/assessments", s.handleAssessments)
			r.Put("/rescue-status", s.handleRescueStatus)
			r.Post("/rescue-status", s.handleRescueStatus)
			r.Post("/false-positive", s.handleFalsePositive)
		})
	})
	r.Get("/archived", s.handleArchived)

	r.Route("/locations", func(r chi.Router) {
		r.Get("/", s.handleListLocations)
		r.Post("/", s.handlePutLocation)
	})
	r.Route("/cameras", func(r chi.Router) {
		r.Get("/", s.handleListCameras)
		r.Post("/", s.handlePutCamera)
	})
	r.Route("/sensors", func(r chi.Router) {
		r.Get("/", s.handleListSensors)
		r.Post("/", s.handlePutSensor)
	})

	r.Get("/config/alerts", s.handleGetAlertPolicy)
	r.Post("/config/alerts", s.handleSetAlertPolicy)
	r.Post("/admin/clear", s.handleClear)
	r.Post("/admin/reload", s.handleReload)
	if s.Hub != nil {
		r.Get("/ws", s.Hub.ServeHTTP)
	}
	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	cfg := s.Config.Get()
	writeJSON(w, http.StatusOK, statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.Version,
		ConfigPath: s.Config.Path(),
		Storage:    cfg.Storage.Driver,
		Ingest: ingestStatus{
			HTTP:      cfg.Ingest.HTTP.Enabled,
			MQTT:      cfg.Ingest.MQTT.Enabled,
			Kafka:     cfg.Ingest.Kafka.Enabled,
			TCPStream: cfg.Ingest.TCPStream.Enabled,
			Replay:    cfg.Ingest.Replay.Enabled,
		},
		Broadcast: sinkStatus{
			WebSocket: cfg.Broadcast.WebSocket.Enabled,
			Redis:     cfg.Broadcast.Redis.Enabled,
			Kafka:     cfg.Broadcast.Kafka.Enabled,
		},
		Retention: cfg.Retention,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{}
	if s.Rates != nil {
		all := s.Rates.GetAll()
		resp["sensors"] = all
		resp["count"] = len(all)
	}
	if s.Counters != nil {
		resp["counters"] = s.Counters.Snapshot()
	}
	if s.Coalescer != nil {
		resp["coalescer"] = s.Coalescer.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSensorMetrics(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "sensorID")
	if !ok {
		return
	}
	if s.Rates == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	rate, updated, found := s.Rates.Get(id)
	if !found {
		writeError(w, model.NotFoundf("no rate for sensor %d", id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sensor_id":  id,
		"updated_at": updated.Format(time.RFC3339Nano),
		"rate":       rate,
	})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if s.Triage == nil {
		writeJSON(w, http.StatusOK, map[string]any{"alerts": []model.TriageAlert{}, "count": 0})
		return
	}
	store := s.Triage.Store()
	var list []model.TriageAlert
	switch {
	case r.URL.Query().Get("since") != "":
		ts, err := normalize.ParseTimestamp(r.URL.Query().Get("since"))
		if err != nil {
			writeError(w, err)
			return
		}
		list = store.Since(ts)
	case r.URL.Query().Get("identity_id") != "":
		id, err := strconv.ParseInt(r.URL.Query().Get("identity_id"), 10, 64)
		if err != nil {
			writeError(w, model.Validationf("identity_id %q is not a number", r.URL.Query().Get("identity_id")))
			return
		}
		list = store.ForIdentity(id)
	default:
		list = store.List(queryInt(r, "limit"))
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": list, "count": len(list)})
}

func (s *Server) handleListSurvivors(w http.ResponseWriter, r *http.Request) {
	filter := storage.IdentityFilter{
		ActiveOnly: r.URL.Query().Get("active") == "true",
		Limit:      queryInt(r, "limit"),
	}
	if v := r.URL.Query().Get("location_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, model.Validationf("location_id %q is not a number", v))
			return
		}
		filter.LocationID = id
	}
	list, err := s.Store.ListIdentities(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"survivors": list, "count": len(list)})
}

type survivorDetail struct {
	model.Identity
	LatestAssessment *model.Assessment `json:"latest_assessment,omitempty"`
}

func (s *Server) handleGetSurvivor(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "identityID")
	if !ok {
		return
	}
	ident, found, err := s.Store.GetIdentity(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !found {
		writeError(w, model.NotFoundf("identity %d", id))
		return
	}
	detail := survivorDetail{Identity: ident}
	if a, ok, err := s.Store.LatestAssessment(r.Context(), id); err == nil && ok {
		detail.LatestAssessment = &a
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleObservations(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "identityID")
	if !ok {
		return
	}
	list, err := s.Store.ListObservations(r.Context(), id, queryInt(r, "limit"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"observations": list, "count": len(list)})
}

func (s *Server) handleAssessments(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "identityID")
	if !ok {
		return
	}
	list, err := s.Store.ListAssessments(r.Context(), id, queryInt(r, "limit"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assessments": list, "count": len(list)})
}

func (s *Server) handleRescueStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "identityID")
	if !ok {
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	status, err := normalize.RescueStatus(req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	ident, err := s.Fusion.UpdateRescueStatus(r.Context(), id, status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ident)
}

func (s *Server) handleFalsePositive(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "identityID")
	if !ok {
		return
	}
	ident, err := s.Fusion.MarkFalsePositive(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.Triage != nil {
		s.Triage.Forget(id)
	}
	writeJSON(w, http.StatusOK, ident)
}

func (s *Server) handleArchived(w http.ResponseWriter, r *http.Request) {
	list, err := s.Store.ListArchived(r.Context(), queryInt(r, "limit"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"archived": list, "count": len(list)})
}

func (s *Server) handleListLocations(w http.ResponseWriter, r *http.Request) {
	list, err := s.Store.ListLocations(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"locations": list, "count": len(list)})
}

func (s *Server) handlePutLocation(w http.ResponseWriter, r *http.Request) {
	var loc model.Location
	if err := decodeBody(w, r, &loc); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(loc.BuildingName) == "" {
		writeError(w, model.Validationf("building_name is required"))
		return
	}
	saved, err := s.Store.PutLocation(r.Context(), loc)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleListCameras(w http.ResponseWriter, r *http.Request) {
	list, err := s.Store.ListCameras(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cameras": list, "count": len(list)})
}

func (s *Server) handlePutCamera(w http.ResponseWriter, r *http.Request) {
	var cam model.Camera
	if err := decodeBody(w, r, &cam); err != nil {
		writeError(w, err)
		return
	}
	if err := s.requireLocation(r.Context(), cam.LocationID); err != nil {
		writeError(w, err)
		return
	}
	saved, err := s.Store.PutCamera(r.Context(), cam)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleListSensors(w http.ResponseWriter, r *http.Request) {
	list, err := s.Store.ListSensors(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sensors": list, "count": len(list)})
}

func (s *Server) handlePutSensor(w http.ResponseWriter, r *http.Request) {
	var sensor model.Sensor
	if err := decodeBody(w, r, &sensor); err != nil {
		writeError(w, err)
		return
	}
	if err := s.requireLocation(r.Context(), sensor.LocationID); err != nil {
		writeError(w, err)
		return
	}
	saved, err := s.Store.PutSensor(r.Context(), sensor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) requireLocation(ctx context.Context, id int64) error {
	if id <= 0 {
		return model.Validationf("location_id is required")
	}
	_, ok, err := s.Store.GetLocation(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return model.NotFoundf("location %d", id)
	}
	return nil
}

func (s *Server) handleGetAlertPolicy(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"alerts": s.Config.Get().Alerts})
}

func (s *Server) handleSetAlertPolicy(w http.ResponseWriter, r *http.Request) {
	var req config.AlertsConfig
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	req.MinUrgency = model.UrgencyTier(strings.ToUpper(strings.TrimSpace(string(req.MinUrgency))))
	if req.MinUrgency != "" && req.MinUrgency.Rank() == 0 {
		writeError(w, model.Validationf("unknown urgency tier %q", req.MinUrgency))
		return
	}
	if req.Cooldown < 0 {
		writeError(w, model.Validationf("cooldown must not be negative"))
		return
	}
	current := s.Config.Get()
	next := *current
	if req.MinUrgency != "" {
		next.Alerts.MinUrgency = req.MinUrgency
	}
	next.Alerts.Cooldown = req.Cooldown
	if req.StoreLimit > 0 {
		next.Alerts.StoreLimit = req.StoreLimit
	}
	if err := s.Config.Update(&next); err != nil {
		writeError(w, err)
		return
	}
	s.apply(&next)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "alerts": next.Alerts})
}

func (s *Server) handleReload(w http.ResponseWriter, _ *http.Request) {
	cfg, err := s.Config.Reload()
	if err != nil {
		writeError(w, err)
		return
	}
	s.apply(cfg)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) apply(cfg *config.Config) {
	switch {
	case s.Fusion != nil:
		s.Fusion.UpdateConfig(cfg)
	case s.Triage != nil:
		s.Triage.SetPolicy(alerts.PolicyFromConfig(cfg.Alerts))
	}
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	var req struct {
		Target string `json:"target"`
	}
	_ = json.Unmarshal(body, &req)
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	clearAlerts := func() {
		if s.Triage != nil {
			s.Triage.Store().Clear()
		}
	}
	clearMetrics := func() {
		if s.Rates != nil {
			s.Rates.Clear()
		}
	}
	switch target {
	case "all":
		clearAlerts()
		clearMetrics()
	case "alerts":
		clearAlerts()
	case "metrics":
		clearMetrics()
	default:
		writeError(w, model.Validationf("unknown clear target %q", req.Target))
		return
	}
	if s.Logger != nil {
		s.Logger.Info("operator cleared in-memory state", "target", target)
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func pathID(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	raw := chi.URLParam(r, key)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, model.Validationf("%s %q is not a valid id", key, raw))
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		return eris.Wrapf(model.ErrValidation, "read body: %v", err)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return eris.Wrapf(model.ErrValidation, "decode body: %v", err)
	}
	return nil
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, ingest.StatusFor(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
