package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"exchange-latency-sim/src/config"
	"exchange-latency-sim/src/engine"
	"exchange-latency-sim/src/latency"
	"exchange-latency-sim/src/observer"
	"exchange-latency-sim/src/replay"
	"exchange-latency-sim/src/sim"
)

const (
	simulationsPath = "/api/v1/simulations"
	maxEvents       = 100_000
)

// Settings are the run parameters a request cannot override.
type Settings struct {
	PriceScale int64
	TicksPerMs float64
	ViewDepth  int
}

// Server runs simulations on request and keeps their results in memory.
type Server struct {
	settings Settings
	logger   *slog.Logger
	metrics  *observer.Metrics
	registry *prometheus.Registry
	mux      *http.ServeMux

	mu   sync.RWMutex
	runs map[string]*simulationResult
}

func NewServer(settings Settings, logger *slog.Logger) (*Server, error) {
	if settings.PriceScale <= 0 {
		settings.PriceScale = 100
	}
	if settings.TicksPerMs <= 0 {
		settings.TicksPerMs = sim.DefaultTicksPerMillisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	reg := prometheus.NewRegistry()
	metrics, err := observer.NewMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	s := &Server{
		settings: settings,
		logger:   logger.With("module", "api"),
		metrics:  metrics,
		registry: reg,
		mux:      http.NewServeMux(),
		runs:     make(map[string]*simulationResult),
	}
	s.registerRoutes()
	return s, nil
}

// Start serves until the listener fails.
func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv.ListenAndServe()
}

// ServeHTTP allows Server to satisfy http.Handler, delegating to its mux.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Metrics exposes the collectors every run reports to.
func (s *Server) Metrics() *observer.Metrics {
	return s.metrics
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/api/v1/profiles", s.handleProfiles)
	s.mux.HandleFunc(simulationsPath, s.handleSimulations)
	s.mux.HandleFunc(simulationsPath+"/", s.handleSimulationByID)
	s.mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	// simple health check
	s.mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "healthy"})
	})
}

type eventRequest struct {
	Timestamp int64  `json:"timestamp"`
	Type      string `json:"type"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	Quantity  int64  `json:"qty"`
	OrderID   uint64 `json:"order_id"`
}

type strategyRequest struct {
	TriggerBid string `json:"trigger_bid"`
	Price      string `json:"price"`
	Quantity   int64  `json:"quantity"`
	OrderID    uint64 `json:"order_id"`
}

type simulationRequest struct {
	Seed     uint64                 `json:"seed"`
	Profile  string                 `json:"profile"`
	Network  *latency.NetworkConfig `json:"network"`
	Events   []eventRequest         `json:"events"`
	Strategy *strategyRequest       `json:"strategy"`
}

type simulationResult struct {
	ID            string                `json:"id"`
	Seed          uint64                `json:"seed"`
	Network       latency.NetworkConfig `json:"network"`
	PriceScale    int64                 `json:"price_scale"`
	FinalTime     int64                 `json:"final_time"`
	Stats         sim.Stats             `json:"stats"`
	Trades        []engine.Trade        `json:"trades"`
	StrategyOrder *engine.Order         `json:"strategy_order,omitempty"`
	Book          engine.BookSnapshot   `json:"book"`
	CreatedAt     time.Time             `json:"created_at"`
}

func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeErrorPlain(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"profiles": latency.Profiles()})
}

func (s *Server) handleSimulations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createSimulation(w, r)
	case http.MethodGet:
		s.listSimulations(w)
	default:
		s.writeErrorPlain(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) createSimulation(w http.ResponseWriter, r *http.Request) {
	var req simulationRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		s.writeErrorPlain(w, http.StatusBadRequest, "Invalid json")
		return
	}
	if len(req.Events) == 0 {
		s.writeErrorPlain(w, http.StatusBadRequest, "Invalid simulation: events are required")
		return
	}
	if len(req.Events) > maxEvents {
		s.writeErrorPlain(w, http.StatusBadRequest, fmt.Sprintf("Invalid simulation: at most %d events", maxEvents))
		return
	}

	network, err := s.resolveNetwork(req)
	if err != nil {
		s.writeErrorPlain(w, http.StatusBadRequest, "Invalid simulation: "+err.Error())
		return
	}
	events, err := s.parseEvents(req.Events)
	if err != nil {
		s.writeErrorPlain(w, http.StatusBadRequest, "Invalid simulation: "+err.Error())
		return
	}

	var (
		strat   sim.Strategy
		stratID engine.OrderID
	)
	if req.Strategy != nil {
		mm, err := config.StrategyConfig{
			Enabled:    true,
			TriggerBid: req.Strategy.TriggerBid,
			Price:      req.Strategy.Price,
			Quantity:   req.Strategy.Quantity,
			OrderID:    req.Strategy.OrderID,
		}.MarketMaker(s.settings.PriceScale)
		if err != nil {
			s.writeErrorPlain(w, http.StatusBadRequest, "Invalid strategy: "+err.Error())
			return
		}
		strat, stratID = mm, mm.OrderID
	}

	lat, err := latency.NewSimulator(network, req.Seed)
	if err != nil {
		s.writeErrorPlain(w, http.StatusBadRequest, "Invalid simulation: "+err.Error())
		return
	}
	eng := engine.NewMatchingEngine()
	runner := sim.NewRunner(
		replay.NewSliceSource(events),
		eng,
		lat,
		strat,
		sim.WithObserver(s.metrics),
		sim.WithLogger(s.logger),
		sim.WithTicksPerMillisecond(s.settings.TicksPerMs),
		sim.WithViewDepth(s.settings.ViewDepth),
	)
	if err := runner.Run(r.Context()); err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, engine.ErrCrossedBook) {
			status = http.StatusInternalServerError
		}
		s.writeErrorPlain(w, status, err.Error())
		return
	}

	res := &simulationResult{
		ID:         uuid.New().String(),
		Seed:       req.Seed,
		Network:    network,
		PriceScale: s.settings.PriceScale,
		FinalTime:  runner.Now(),
		Stats:      runner.Stats(),
		Trades:     eng.Trades(),
		Book:       eng.Snapshot(0),
		CreatedAt:  time.Now().UTC(),
	}
	if strat != nil {
		if o, ok := eng.Order(stratID); ok {
			res.StrategyOrder = &o
		}
	}

	s.mu.Lock()
	s.runs[res.ID] = res
	s.mu.Unlock()

	s.logger.Info("simulation stored", "id", res.ID, "trades", res.Stats.Trades, "network", network.Name)
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) resolveNetwork(req simulationRequest) (latency.NetworkConfig, error) {
	if req.Network != nil {
		if req.Profile != "" {
			return latency.NetworkConfig{}, errors.New("profile and network are mutually exclusive")
		}
		cfg := *req.Network
		if cfg.Name == "" {
			cfg.Name = "custom"
		}
		return cfg, cfg.Validate()
	}
	name := req.Profile
	if name == "" {
		name = "colo"
	}
	cfg, ok := latency.Profile(name)
	if !ok {
		return latency.NetworkConfig{}, fmt.Errorf("unknown profile %q", name)
	}
	return cfg, nil
}

func (s *Server) parseEvents(in []eventRequest) ([]replay.MarketEvent, error) {
	var ids replay.IDs
	out := make([]replay.MarketEvent, 0, len(in))
	for i, e := range in {
		kind, err := replay.ParseKind(e.Type)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		side, err := replay.ParseSide(e.Side)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		price, err := replay.ParsePrice(e.Price, s.settings.PriceScale)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		id := engine.OrderID(e.OrderID)
		if id == 0 {
			id = ids.Next()
		}
		out = append(out, replay.MarketEvent{
			Timestamp: e.Timestamp,
			Kind:      kind,
			Side:      side,
			Price:     price,
			Quantity:  e.Quantity,
			OrderID:   id,
		})
	}
	return out, nil
}

func (s *Server) listSimulations(w http.ResponseWriter) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.runs))
	for id := range s.runs {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	writeJSON(w, http.StatusOK, map[string]interface{}{"simulations": ids})
}

// handleSimulationByID serves /api/v1/simulations/{id} and
// /api/v1/simulations/{id}/orderbook.
func (s *Server) handleSimulationByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeErrorPlain(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, simulationsPath+"/"), "/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		s.writeErrorPlain(w, http.StatusBadRequest, "simulation id required")
		return
	}

	s.mu.RLock()
	res, ok := s.runs[id]
	s.mu.RUnlock()
	if !ok {
		s.writeErrorPlain(w, http.StatusNotFound, "Simulation not found")
		return
	}

	switch sub {
	case "":
		writeJSON(w, http.StatusOK, res)
	case "orderbook":
		s.getOrderBook(w, r, res)
	default:
		s.writeErrorPlain(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) getOrderBook(w http.ResponseWriter, r *http.Request, res *simulationResult) {
	depthParam := r.URL.Query().Get("depth")
	depth := 0
	if depthParam != "" {
		if v, err := strconv.Atoi(depthParam); err == nil && v >= 0 {
			depth = v
		} else {
			s.writeErrorPlain(w, http.StatusBadRequest, "invalid depth")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":          res.ID,
		"timestamp":   res.FinalTime,
		"price_scale": res.PriceScale,
		"bids":        truncate(res.Book.Bids, depth),
		"asks":        truncate(res.Book.Asks, depth),
	})
}

func truncate(levels []engine.AggregatedPriceLevel, depth int) []engine.AggregatedPriceLevel {
	if levels == nil {
		return []engine.AggregatedPriceLevel{}
	}
	if depth > 0 && len(levels) > depth {
		return levels[:depth]
	}
	return levels
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// helper for simple error bodies
func (s *Server) writeErrorPlain(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
