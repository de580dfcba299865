package telemetry

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/rjboer/rxcapture/internal/logging"
	"github.com/rjboer/rxcapture/internal/sdr"
)

// Config represents the runtime configuration exposed by the telemetry hub.
type Config struct {
	HistoryLimit int `json:"historyLimit"`
}

const (
	minHistoryLimit = 1
	maxHistoryLimit = 100_000
)

func defaultConfig() Config {
	return Config{HistoryLimit: 500}
}

func validateConfig(cfg Config, base Config) (Config, error) {
	if base.HistoryLimit == 0 {
		base = defaultConfig()
	}
	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = base.HistoryLimit
	}
	if cfg.HistoryLimit < minHistoryLimit || cfg.HistoryLimit > maxHistoryLimit {
		return Config{}, fmt.Errorf("history limit must be between %d and %d", minHistoryLimit, maxHistoryLimit)
	}
	return cfg, nil
}

// Level is the consumer's view of the most recent block.
type Level struct {
	Time      time.Time `json:"time"`
	Seq       uint64    `json:"seq"`
	Samples   int       `json:"samples"`
	PowerDBFS float64   `json:"powerDbfs"`
	PeakDBFS  float64   `json:"peakDbfs"`
	PeakHz    float64   `json:"peakHz"`
	Signal    string    `json:"signal"`
	Frames    uint64    `json:"frames"`
	Missed    uint64    `json:"missed"`
}

// Stats aggregates the status stream.
type Stats struct {
	Session     string         `json:"session"`
	Records     uint64         `json:"records"`
	Samples     uint64         `json:"samples"`
	LastSeq     uint64         `json:"lastSeq"`
	LastRecord  time.Time      `json:"lastRecord"`
	ByKind      map[string]int `json:"byKind"`
	Consecutive int            `json:"consecutive"`
	LastKind    string         `json:"lastKind"`
}

// Controller is the subset of the acquisition task the hub can drive.
type Controller interface {
	Stop()
}

// Hub collects status history and fans out records to subscribers.
type Hub struct {
	mu          sync.RWMutex
	history     []Record
	config      Config
	subscribers map[chan Record]struct{}
	stats       Stats
	level       *Level
	controller  Controller
	logger      logging.Logger
	started     time.Time
}

// NewHub builds a telemetry hub with the provided history limit.
func NewHub(historyLimit int, logger logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Default()
	}
	cfg := defaultConfig()
	if historyLimit > 0 {
		cfg.HistoryLimit = historyLimit
	}
	if valid, err := validateConfig(cfg, defaultConfig()); err == nil {
		cfg = valid
	} else {
		cfg = defaultConfig()
	}
	return &Hub{
		config:      cfg,
		subscribers: make(map[chan Record]struct{}),
		stats:       Stats{ByKind: make(map[string]int)},
		logger:      logger.With(logging.Field{Key: "subsystem", Value: "telemetry"}),
		started:     time.Now(),
	}
}

// Report implements Reporter.
func (h *Hub) Report(rec Record) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.history = append(h.history, rec)
	if len(h.history) > h.config.HistoryLimit {
		h.history = h.history[len(h.history)-h.config.HistoryLimit:]
	}
	if rec.Session != h.stats.Session {
		h.stats.Session = rec.Session
	}
	h.stats.Records++
	h.stats.Samples += uint64(rec.Count)
	h.stats.LastSeq = rec.Seq
	h.stats.LastRecord = rec.Time
	h.stats.ByKind[rec.ErrorName]++
	h.stats.LastKind = rec.ErrorName
	h.stats.Consecutive = rec.Consecutive
	for ch := range h.subscribers {
		select {
		case ch <- rec:
		default:
		}
	}
}

// UpdateLevel stores the consumer's latest block statistics.
func (h *Hub) UpdateLevel(l Level) {
	h.mu.Lock()
	h.level = &l
	h.mu.Unlock()
}

// SetController wires the stop control endpoint to c.
func (h *Hub) SetController(c Controller) {
	h.mu.Lock()
	h.controller = c
	h.mu.Unlock()
}

// History returns a copy of stored records.
func (h *Hub) History() []Record {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Record, len(h.history))
	copy(out, h.history)
	return out
}

// Stats returns a snapshot of the aggregated counters.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s := h.stats
	s.ByKind = make(map[string]int, len(h.stats.ByKind))
	for k, v := range h.stats.ByKind {
		s.ByKind[k] = v
	}
	return s
}

// ConfigSnapshot returns the latest validated configuration.
func (h *Hub) ConfigSnapshot() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// Subscribe registers a listener for live updates. Slow listeners miss records.
func (h *Hub) Subscribe() (chan Record, func()) {
	ch := make(chan Record, 64)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, ch)
			close(ch)
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

func (h *Hub) applyConfig(cfg Config) {
	h.config = cfg
	if len(h.history) > cfg.HistoryLimit {
		h.history = h.history[len(h.history)-cfg.HistoryLimit:]
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Hub) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, h.History())
}

func (h *Hub) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.mu.RLock()
	level := h.level
	h.mu.RUnlock()
	writeJSON(w, struct {
		Stats
		Level *Level `json:"level,omitempty"`
	}{h.Stats(), level})
}

func (h *Hub) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, h.ConfigSnapshot())
	case http.MethodPost:
		var incoming Config
		if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
			http.Error(w, fmt.Sprintf("invalid config payload: %v", err), http.StatusBadRequest)
			return
		}
		h.mu.Lock()
		cfg, err := validateConfig(incoming, h.config)
		if err == nil {
			h.applyConfig(cfg)
		}
		h.mu.Unlock()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, cfg)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HealthStatus summarises whether the stream is flowing.
type HealthStatus struct {
	Status       string        `json:"status"`
	LastKind     string        `json:"lastKind,omitempty"`
	Consecutive  int           `json:"consecutive"`
	SinceLast    time.Duration `json:"sinceLastNs"`
	Uptime       time.Duration `json:"uptimeNs"`
	NumGoroutine int           `json:"numGoroutine"`
}

// staleAfter is how long without records before the stream counts as stalled.
const staleAfter = 10 * time.Second

func (h *Hub) health(now time.Time) HealthStatus {
	st := h.Stats()
	hs := HealthStatus{
		LastKind:     st.LastKind,
		Consecutive:  st.Consecutive,
		Uptime:       now.Sub(h.started),
		NumGoroutine: runtime.NumGoroutine(),
	}
	switch {
	case st.Records == 0:
		hs.Status = "idle"
	case now.Sub(st.LastRecord) > staleAfter:
		hs.Status = "stalled"
		hs.SinceLast = now.Sub(st.LastRecord)
	case st.LastKind != sdr.ErrorNone.String():
		hs.Status = "degraded"
		hs.SinceLast = now.Sub(st.LastRecord)
	default:
		hs.Status = "ok"
		hs.SinceLast = now.Sub(st.LastRecord)
	}
	return hs
}

func (h *Hub) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, h.health(time.Now()))
}

func (h *Hub) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.mu.RLock()
	c := h.controller
	h.mu.RUnlock()
	if c == nil {
		http.Error(w, "no acquisition task", http.StatusServiceUnavailable)
		return
	}
	h.logger.Info("stop requested over http", logging.Field{Key: "remote", Value: r.RemoteAddr})
	c.Stop()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "stopping"})
}

func (h *Hub) handleLive(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := h.Subscribe()
	defer cancel()

	for _, rec := range h.History() {
		writeEvent(w, rec)
	}
	flusher.Flush()

	for {
		select {
		case rec, ok := <-ch:
			if !ok {
				return
			}
			writeEvent(w, rec)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, rec Record) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return
	}
	w.Write([]byte("data: "))
	w.Write(payload)
	w.Write([]byte("\n\n"))
}
