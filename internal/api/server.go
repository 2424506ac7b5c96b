// Package api serves the engine's read-only HTTP surface: live tracks,
// identity linkages, exercise sets, alerts, pipeline stats, and the
// effective configuration.
package api

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/floorsight/internal/config"
	"github.com/banshee-data/floorsight/internal/db"
	"github.com/banshee-data/floorsight/internal/floor"
	"github.com/banshee-data/floorsight/internal/floor/exercise"
	"github.com/banshee-data/floorsight/internal/floor/identity"
	"github.com/banshee-data/floorsight/internal/floor/pipeline"
	"github.com/banshee-data/floorsight/internal/httputil"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

const defaultListLimit = 100

type Server struct {
	arena     *floor.Arena
	resolver  *identity.Resolver
	exercises *exercise.Engine
	pipe      *pipeline.Coordinator
	db        *db.DB
	cfg       *config.TuningConfig
}

// NewServer wires the API over the live engine components. db may be
// nil when persistence is disabled; the persisted-history endpoints
// then return 503.
func NewServer(arena *floor.Arena, resolver *identity.Resolver,
	exercises *exercise.Engine, pipe *pipeline.Coordinator,
	database *db.DB, cfg *config.TuningConfig) *Server {
	return &Server{
		arena:     arena,
		resolver:  resolver,
		exercises: exercises,
		pipe:      pipe,
		db:        database,
		cfg:       cfg,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tracks", s.listTracks)
	mux.HandleFunc("/api/identities", s.listIdentities)
	mux.HandleFunc("/api/exercises", s.listExerciseStates)
	mux.HandleFunc("/api/sessions", s.listSessions)
	mux.HandleFunc("/api/alerts", s.listAlerts)
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/api/config", s.showConfig)
	if s.db != nil {
		s.db.AttachAdminRoutes(mux)
	}
	return mux
}

func (s *Server) requireGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return false
	}
	return true
}

func limitParam(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			return n
		}
	}
	return defaultListLimit
}

// trackView is the wire form of a live track.
type trackView struct {
	CameraID     floor.CameraID   `json:"camera_id"`
	LocalTrackID int64            `json:"local_track_id"`
	State        floor.TrackState `json:"state"`
	LastSeenNS   int64            `json:"last_seen_ns"`
	Observations int              `json:"observations"`
	IdentityID   floor.IdentityID `json:"identity_id,omitempty"`
}

func (s *Server) listTracks(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}
	live := s.arena.Live()
	out := make([]trackView, 0, len(live))
	for _, t := range live {
		v := trackView{
			CameraID:     t.Key.Camera,
			LocalTrackID: t.Key.LocalID,
			State:        t.State,
			LastSeenNS:   t.LastSeenNS,
			Observations: t.ObservationCount,
		}
		if l := s.resolver.Linkage(t.Key); l != nil {
			v.IdentityID = l.Identity
		}
		out = append(out, v)
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) listIdentities(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}
	httputil.WriteJSONOK(w, s.resolver.Linkages())
}

func (s *Server) listExerciseStates(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}
	httputil.WriteJSONOK(w, s.exercises.Snapshots())
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}
	if s.db == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "persistence disabled")
		return
	}
	sets, err := s.db.RecentSets(r.Context(), limitParam(r))
	if err != nil {
		httputil.InternalServerError(w, "Failed to retrieve sessions")
		return
	}
	httputil.WriteJSONOK(w, sets)
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}
	if s.db == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "persistence disabled")
		return
	}
	alerts, err := s.db.RecentFormAlerts(r.Context(), limitParam(r))
	if err != nil {
		httputil.InternalServerError(w, "Failed to retrieve alerts")
		return
	}
	httputil.WriteJSONOK(w, alerts)
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}
	type statsView struct {
		Pipeline pipeline.StatsSnapshot `json:"pipeline"`
		Tracks   map[string]int         `json:"tracks"`
	}
	total, active, lost, closed := s.arena.Counts()
	httputil.WriteJSONOK(w, statsView{
		Pipeline: s.pipe.Stats(),
		Tracks: map[string]int{
			"total":  total,
			"active": active,
			"lost":   lost,
			"closed": closed,
		},
	})
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}
	httputil.WriteJSONOK(w, s.cfg)
}
