// Package server exposes the acquisition pipeline over HTTP: tuning,
// lifecycle control, the MJPEG preview stream and the pupil websocket feed.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ebanchero/pupila/internal/capture"
	"github.com/ebanchero/pupila/internal/config"
	"github.com/ebanchero/pupila/internal/pipeline"
	"github.com/ebanchero/pupila/internal/server/api"
	"github.com/ebanchero/pupila/internal/store"
)

// Config holds the server configuration.
type Config struct {
	StaticDir  string
	Store      *store.Store
	Controller *pipeline.Controller
	Pump       *Pump
	Log        *slog.Logger
}

// Server is the HTTP front of the acquisition pipeline.
type Server struct {
	config Config
	log    *slog.Logger
	mux    *http.ServeMux
	start  time.Time

	mu        sync.Mutex
	sessionID string
	profileID string
}

// New creates a new Server with the given configuration.
func New(cfg Config) *Server {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	s := &Server{
		config: cfg,
		log:    cfg.Log,
		mux:    http.NewServeMux(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if s.config.Controller != nil {
		s.mux.HandleFunc("/api/pipeline/config", s.handleConfig)
		s.mux.HandleFunc("/api/pipeline/status", s.handleStatus)
		s.mux.HandleFunc("/api/pipeline/start", s.handleStart)
		s.mux.HandleFunc("/api/pipeline/stop", s.handleStop)
		s.mux.HandleFunc("/api/pipeline/reconfigure", s.handleReconfigure)
	}

	if s.config.Store != nil {
		profileHandler := api.NewProfileHandler(s.config.Store)

		// Route /api/profiles/{id}/apply here, where the live pipeline
		// config is reachable; everything else is plain CRUD.
		profileRouter := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, "/apply") && s.config.Controller != nil {
				s.handleProfileApply(w, r)
				return
			}
			profileHandler.ServeHTTP(w, r)
		})

		s.mux.Handle("/api/profiles", profileRouter)
		s.mux.Handle("/api/profiles/", profileRouter)
	}

	if s.config.Pump != nil {
		s.mux.Handle("/api/stream", NewStreamHandler(s.config.Pump))
		s.mux.Handle("/api/pupils", NewPupilsHandler(s.config.Pump, s.log))
	}

	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe starts the HTTP server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := map[string]any{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	}
	if s.config.Controller != nil {
		resp["state"] = s.config.Controller.State().String()
		resp["capture_failed"] = s.config.Controller.CaptureFailed()
		if s.config.Controller.CaptureFailed() {
			resp["status"] = "degraded"
		}
	}
	api.WriteJSON(w, http.StatusOK, resp)
}

// handleStatus reports the pipeline lifecycle state.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	api.WriteJSON(w, http.StatusOK, map[string]any{
		"state":          s.config.Controller.State().String(),
		"capture_failed": s.config.Controller.CaptureFailed(),
	})
}

// configUpdateRequest is a partial tuning update; only the fields present in
// the request body are applied.
type configUpdateRequest struct {
	Threshold      *[2]int        `json:"threshold"`
	Erode          *[2]int        `json:"erode"`
	NoseWidthRatio *float64       `json:"nose_width_ratio"`
	EyeHeightRatio *float64       `json:"eye_height_ratio"`
	Brightness     *int           `json:"brightness"`
	Contrast       *int           `json:"contrast"`
	UseModel       *bool          `json:"use_model"`
	SliderHeld     *bool          `json:"slider_held"`
	FixedROI       *[2]config.ROI `json:"fixed_roi"`
}

// handleConfig serves and updates the live pipeline tuning.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.config.Controller.Config()

	switch r.Method {
	case http.MethodGet:
		api.WriteJSON(w, http.StatusOK, cfg.Snapshot())

	case http.MethodPut:
		var req configUpdateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			api.WriteError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if req.Threshold != nil {
			cfg.SetThreshold(config.EyeRight, req.Threshold[config.EyeRight])
			cfg.SetThreshold(config.EyeLeft, req.Threshold[config.EyeLeft])
		}
		if req.Erode != nil {
			cfg.SetErode(config.EyeRight, req.Erode[config.EyeRight])
			cfg.SetErode(config.EyeLeft, req.Erode[config.EyeLeft])
		}
		if req.NoseWidthRatio != nil {
			cfg.SetNoseWidthRatio(*req.NoseWidthRatio)
		}
		if req.EyeHeightRatio != nil {
			cfg.SetEyeHeightRatio(*req.EyeHeightRatio)
		}
		if req.Brightness != nil || req.Contrast != nil {
			brightness, contrast := cfg.Brightness(), cfg.Contrast()
			if req.Brightness != nil {
				brightness = *req.Brightness
			}
			if req.Contrast != nil {
				contrast = *req.Contrast
			}
			cfg.SetColor(brightness, contrast)
		}
		if req.UseModel != nil {
			cfg.SetUseModel(*req.UseModel)
		}
		if req.SliderHeld != nil {
			cfg.SetSliderHeld(*req.SliderHeld)
		}
		if req.FixedROI != nil {
			cfg.SetFixedROI(config.EyeRight, req.FixedROI[config.EyeRight])
			cfg.SetFixedROI(config.EyeLeft, req.FixedROI[config.EyeLeft])
		}

		api.WriteJSON(w, http.StatusOK, cfg.Snapshot())

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleStart launches the pipeline and opens an acquisition session.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.config.Controller.Start(); err != nil {
		if errors.Is(err, pipeline.ErrNotStopped) {
			api.WriteError(w, http.StatusConflict, "pipeline already running")
			return
		}
		api.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.beginSession()

	api.WriteJSON(w, http.StatusOK, map[string]any{
		"state": s.config.Controller.State().String(),
	})
}

// handleStop brings the pipeline down and closes the open session.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.config.Controller.Stop(); err != nil {
		if errors.Is(err, pipeline.ErrNotRunning) {
			api.WriteError(w, http.StatusConflict, "pipeline not running")
			return
		}
		api.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.endSession()

	api.WriteJSON(w, http.StatusOK, map[string]any{
		"state": s.config.Controller.State().String(),
	})
}

// reconfigureRequest carries new device settings. Geometry is mandatory;
// device id, brightness and contrast are optional and keep their current
// values when absent, so a geometry-only request does not silently reset the
// color tuning or jump to camera 0.
type reconfigureRequest struct {
	Width    int  `json:"width"`
	Height   int  `json:"height"`
	FPS      int  `json:"fps"`
	DeviceID *int `json:"device_id"`

	Brightness *int `json:"brightness"`
	Contrast   *int `json:"contrast"`
}

// handleReconfigure restarts the pipeline with new device settings. The call
// blocks through the restart cooldown, which is deliberate: the client knows
// the pipeline is live again when the response arrives.
func (s *Server) handleReconfigure(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req reconfigureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Width <= 0 || req.Height <= 0 || req.FPS <= 0 {
		api.WriteError(w, http.StatusBadRequest, "width, height and fps must be positive")
		return
	}

	// Brightness and contrast default to the live tuning, not the boot-time
	// device settings, so values adjusted over /api/pipeline/config survive.
	cfg := s.config.Controller.Config()
	dev := capture.DeviceSettings{
		DeviceID:   s.config.Controller.Device().DeviceID,
		Width:      req.Width,
		Height:     req.Height,
		FPS:        req.FPS,
		Brightness: cfg.Brightness(),
		Contrast:   cfg.Contrast(),
	}
	if req.DeviceID != nil {
		dev.DeviceID = *req.DeviceID
	}
	if req.Brightness != nil {
		dev.Brightness = *req.Brightness
	}
	if req.Contrast != nil {
		dev.Contrast = *req.Contrast
	}

	s.endSession()
	if err := s.config.Controller.Reconfigure(dev); err != nil {
		api.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.beginSession()

	api.WriteJSON(w, http.StatusOK, map[string]any{
		"state": s.config.Controller.State().String(),
	})
}

// handleProfileApply loads a stored profile into the live pipeline tuning.
func (s *Server) handleProfileApply(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Profiles can be applied by id or by name.
	key := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/profiles/"), "/apply")
	profile, err := s.config.Store.Profiles().GetByID(key)
	if errors.Is(err, store.ErrNotFound) {
		profile, err = s.config.Store.Profiles().GetByName(key)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			api.WriteError(w, http.StatusNotFound, "profile not found")
			return
		}
		api.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	applyLive(s.config.Controller.Config(), profile.Settings)

	s.mu.Lock()
	s.profileID = profile.ID
	s.mu.Unlock()

	s.log.Info("profile applied", "profile", profile.Name)
	api.WriteJSON(w, http.StatusOK, s.config.Controller.Config().Snapshot())
}

// applyLive pushes stored settings into a running pipeline through the
// setters, so the change flags fire and the stages pick the values up.
func applyLive(cfg *config.Shared, s config.Settings) {
	for eye := 0; eye < 2; eye++ {
		cfg.SetThreshold(eye, s.Threshold[eye])
		cfg.SetErode(eye, s.Erode[eye])
		cfg.SetFixedROI(eye, s.FixedROI[eye])
	}
	cfg.SetNoseWidthRatio(s.NoseWidthRatio)
	cfg.SetEyeHeightRatio(s.EyeHeightRatio)
	cfg.SetColor(s.Brightness, s.Contrast)
	cfg.SetUseModel(s.UseModel)
}

func (s *Server) beginSession() {
	if s.config.Store == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dev := s.config.Controller.Device()
	sess, err := s.config.Store.Sessions().Begin(s.profileID, dev.Width, dev.Height, dev.FPS)
	if err != nil {
		s.log.Warn("could not record session start", "error", err)
		return
	}
	s.sessionID = sess.ID
}

func (s *Server) endSession() {
	if s.config.Store == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sessionID == "" {
		return
	}
	if err := s.config.Store.Sessions().End(s.sessionID); err != nil {
		s.log.Warn("could not record session end", "error", err)
	}
	s.sessionID = ""
}
