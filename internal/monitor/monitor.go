// Package monitor implements the Monitor Port: a read-only HTTP
// JSON surface over the Device Registry. Grounded on
// glennswest-ipmiserial/server's Server struct (gorilla/mux router,
// Run(ctx) wrapping http.Server with shutdown-on-cancel), trimmed to
// three read-only endpoints — no HTMX fragments, no embedded web UI, no
// mutation routes.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/telematics/avl-gateway/internal/registry"
)

// Server exposes health(), devices(), and connections() over HTTP.
type Server struct {
	port        int
	devicePort  int
	monitorPort int
	startedAt   time.Time
	reg         *registry.Registry
	router      *mux.Router
	httpServer  *http.Server
	log         *logrus.Entry
}

// New builds a Monitor HTTP server bound to monitorPort. devicePort is
// only surfaced in the /healthz payload.
func New(monitorPort, devicePort int, reg *registry.Registry, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.New()
	}
	s := &Server{
		port:        monitorPort,
		devicePort:  devicePort,
		monitorPort: monitorPort,
		startedAt:   time.Now(),
		reg:         reg,
		router:      mux.NewRouter(),
		log:         log.WithField("component", "monitor"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/devices", s.handleDevices).Methods(http.MethodGet)
	s.router.HandleFunc("/connections", s.handleConnections).Methods(http.MethodGet)
	s.router.NotFoundHandler = http.HandlerFunc(handleNotFound)
}

func loggingMiddleware(log *logrus.Entry, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Debugf("%s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}

// Run starts the HTTP server and blocks until ctx is canceled or the
// server fails. It always returns a non-nil error except on a clean
// shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.router.Use(func(next http.Handler) http.Handler { return loggingMiddleware(s.log, next) })
	s.router.Use(s.recoveryMiddleware)
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.router,
	}

	go func() {
		<-ctx.Done()
		s.log.Info("context done, shutting down monitor HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Infof("starting monitor HTTP server on port %d", s.port)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

type healthResponse struct {
	Status      string `json:"status"`
	UptimeSec   int64  `json:"uptimeSec"`
	DevicePort  int    `json:"devicePort"`
	MonitorPort int    `json:"monitorPort"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		UptimeSec:   int64(time.Since(s.startedAt).Seconds()),
		DevicePort:  s.devicePort,
		MonitorPort: s.monitorPort,
	})
}

type deviceView struct {
	DeviceID         string    `json:"deviceId"`
	ConnectedAt      time.Time `json:"connectedAt"`
	LastActivityAt   time.Time `json:"lastActivityAt"`
	BytesReceived    uint64    `json:"bytesReceived"`
	PacketsProcessed uint64    `json:"packetsProcessed"`
}

type devicesResponse struct {
	Devices []deviceView `json:"devices"`
}

func (s *Server) handleDevices(w http.ResponseWriter, _ *http.Request) {
	snap := s.reg.Snapshot()
	views := make([]deviceView, 0, len(snap))
	for _, d := range snap {
		views = append(views, deviceView{
			DeviceID:         d.DeviceID,
			ConnectedAt:      d.ConnectedAt,
			LastActivityAt:   d.LastActivityAt,
			BytesReceived:    d.BytesReceived,
			PacketsProcessed: d.PacketsProcessed,
		})
	}
	writeJSON(w, http.StatusOK, devicesResponse{Devices: views})
}

type connectionsResponse struct {
	ActiveConnections int      `json:"activeConnections"`
	Issues            []string `json:"issues"`
}

const staleThreshold = 30 * time.Second

func (s *Server) handleConnections(w http.ResponseWriter, _ *http.Request) {
	issues := s.reg.StaleSince(staleThreshold)
	if issues == nil {
		issues = []string{}
	}
	writeJSON(w, http.StatusOK, connectionsResponse{
		ActiveConnections: s.reg.Len(),
		Issues:            issues,
	})
}

func handleNotFound(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNotFound)
}

type errorResponse struct {
	Error string `json:"error"`
}

// recoveryMiddleware turns a panicking handler into a 500 instead of
// killing the monitor's goroutine.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Errorf("panic handling %s: %v", r.URL.Path, rec)
				writeJSON(w, http.StatusInternalServerError, errorResponse{Error: fmt.Sprintf("%v", rec)})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logrus.WithError(err).Error("failed to encode monitor response")
	}
}
