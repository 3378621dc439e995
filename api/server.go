// Package api serves live statistics, session history, and capture control
// over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/netlens/netlens/internal/app"
	"github.com/netlens/netlens/pkg/model"
	"github.com/netlens/netlens/pkg/query"
	"github.com/netlens/netlens/pkg/store"
)

// Controller starts and stops capture sessions.
type Controller interface {
	StartCapture(name, iface, bpf string) (*model.Session, error)
	StopCapture() (*model.Session, error)
	Capturing() bool
	Session() *model.Session
}

// StatsSource reads live aggregates from the stats engine.
type StatsSource interface {
	CurrentStats() model.Snapshot
	TrafficHistory(seconds int) []model.TrafficSample
	TopTalkers(n int) []model.TopTalker
	ActiveConnections(timeout time.Duration) []model.ConnState
}

// Server is the HTTP read API plus capture control.
type Server struct {
	ctrl     Controller
	stats    StatsSource
	sessions store.SessionStore
	query    query.Engine
	metrics  http.Handler
	log      *slog.Logger
}

// New assembles the server. metrics may be nil to disable /metrics.
func New(ctrl Controller, stats StatsSource, sessions store.SessionStore, q query.Engine, metrics http.Handler, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		ctrl:     ctrl,
		stats:    stats,
		sessions: sessions,
		query:    q,
		metrics:  metrics,
		log:      log,
	}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	v1 := r.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	v1.HandleFunc("/traffic", s.handleTraffic).Methods(http.MethodGet)
	v1.HandleFunc("/talkers", s.handleTalkers).Methods(http.MethodGet)
	v1.HandleFunc("/connections", s.handleConnections).Methods(http.MethodGet)

	v1.HandleFunc("/sessions", s.handleSessions).Methods(http.MethodGet)
	v1.HandleFunc("/sessions/{id:[0-9]+}", s.handleSession).Methods(http.MethodGet)
	v1.HandleFunc("/sessions/{id:[0-9]+}/packets", s.handlePackets).Methods(http.MethodGet)
	v1.HandleFunc("/sessions/{id:[0-9]+}/protocols", s.handleProtocols).Methods(http.MethodGet)
	v1.HandleFunc("/sessions/{id:[0-9]+}/trend", s.handleTrend).Methods(http.MethodGet)

	v1.HandleFunc("/capture/start", s.handleCaptureStart).Methods(http.MethodPost)
	v1.HandleFunc("/capture/stop", s.handleCaptureStop).Methods(http.MethodPost)
	v1.HandleFunc("/capture", s.handleCaptureStatus).Methods(http.MethodGet)

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}
	return r
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.stats.CurrentStats())
}

func (s *Server) handleTraffic(w http.ResponseWriter, r *http.Request) {
	seconds := queryInt(r, "seconds", 60)
	samples := s.stats.TrafficHistory(seconds)
	if samples == nil {
		samples = []model.TrafficSample{}
	}
	writeJSON(w, http.StatusOK, samples)
}

func (s *Server) handleTalkers(w http.ResponseWriter, r *http.Request) {
	n := queryInt(r, "n", 10)
	talkers := s.stats.TopTalkers(n)
	if talkers == nil {
		talkers = []model.TopTalker{}
	}
	writeJSON(w, http.StatusOK, talkers)
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	timeout := time.Duration(queryInt(r, "timeout", 0)) * time.Second
	conns := s.stats.ActiveConnections(timeout)
	if conns == nil {
		conns = []model.ConnState{}
	}
	writeJSON(w, http.StatusOK, conns)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessions.ListSessions()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if sessions == nil {
		sessions = []*model.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	sess, err := s.sessions.GetSession(id)
	if errors.Is(err, store.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handlePackets(w http.ResponseWriter, r *http.Request) {
	filter := query.PacketFilter{
		SessionID: pathID(r),
		Protocol:  r.URL.Query().Get("protocol"),
		SrcIP:     r.URL.Query().Get("src_ip"),
		DstIP:     r.URL.Query().Get("dst_ip"),
		IP:        r.URL.Query().Get("ip"),
		SortBy:    r.URL.Query().Get("sort"),
		SortOrder: r.URL.Query().Get("order"),
		Limit:     queryInt(r, "limit", 100),
		Offset:    queryInt(r, "offset", 0),
	}
	if v := r.URL.Query().Get("start"); v != "" {
		filter.StartTime, _ = strconv.ParseFloat(v, 64)
	}
	if v := r.URL.Query().Get("end"); v != "" {
		filter.EndTime, _ = strconv.ParseFloat(v, 64)
	}

	packets, err := s.query.GetPackets(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if packets == nil {
		packets = []*model.PacketRecord{}
	}
	writeJSON(w, http.StatusOK, packets)
}

func (s *Server) handleProtocols(w http.ResponseWriter, r *http.Request) {
	var start, end float64
	if v := r.URL.Query().Get("start"); v != "" {
		start, _ = strconv.ParseFloat(v, 64)
	}
	if v := r.URL.Query().Get("end"); v != "" {
		end, _ = strconv.ParseFloat(v, 64)
	}
	stats, err := s.query.ProtocolStats(r.Context(), pathID(r), start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if stats == nil {
		stats = []*query.ProtocolStat{}
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleTrend(w http.ResponseWriter, r *http.Request) {
	unit := queryInt(r, "unit", 1)
	trend, err := s.query.TrafficTrend(r.Context(), pathID(r), unit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if trend == nil {
		trend = []query.TrendPoint{}
	}
	writeJSON(w, http.StatusOK, trend)
}

type captureRequest struct {
	Name      string `json:"name"`
	Interface string `json:"interface"`
	BPF       string `json:"bpf"`
}

func (s *Server) handleCaptureStart(w http.ResponseWriter, r *http.Request) {
	var req captureRequest
	if r.Body != nil {
		// An empty body starts a capture with configured defaults.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	sess, err := s.ctrl.StartCapture(req.Name, req.Interface, req.BPF)
	if errors.Is(err, app.ErrCaptureRunning) {
		writeError(w, http.StatusConflict, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleCaptureStop(w http.ResponseWriter, r *http.Request) {
	sess, err := s.ctrl.StopCapture()
	if errors.Is(err, app.ErrNoCapture) {
		writeError(w, http.StatusConflict, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleCaptureStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"capturing": s.ctrl.Capturing()}
	if sess := s.ctrl.Session(); sess != nil {
		resp["session"] = sess
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func pathID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id
}
