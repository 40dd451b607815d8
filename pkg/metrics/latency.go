// Package metrics tracks the latency of every external operation a call
// makes (transcription, synthesis, LLM, RAG, CRM, lead API) and of whole
// turns.
//
// Features:
//   - Bounded ring of the most recent measurements
//   - Running aggregates per operation type and name
//   - Warning and critical thresholds per operation type, from the environment
//   - Alert callbacks, and pluggable reporters (Prometheus)
//
// Recording never fails and never blocks on a slow reporter beyond the
// reporter's own call.
package metrics

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/festnoze/squad-ai-sub000/pkg/logging"
	"go.uber.org/zap"
)

// OperationType groups measurements for thresholds and aggregation.
type OperationType string

const (
	OpSTT     OperationType = "stt"
	OpTTS     OperationType = "tts"
	OpLLM     OperationType = "llm"
	OpRAG     OperationType = "rag"
	OpCRM     OperationType = "crm"
	OpLeadAPI OperationType = "lead_api"
	OpTurn    OperationType = "turn"
)

// OperationTypes lists every known operation type.
var OperationTypes = []OperationType{OpSTT, OpTTS, OpLLM, OpRAG, OpCRM, OpLeadAPI, OpTurn}

// Status is the outcome of a measured operation.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

const (
	DefaultCapacity     = 1000
	DefaultRecentWindow = 100
)

// Metric is one latency measurement.
type Metric struct {
	OperationType OperationType
	OperationName string
	Latency       time.Duration
	Status        Status
	Timestamp     time.Time
	Provider      string
	CallSid       string
	StreamSid     string
	ErrorMessage  string
	Metadata      map[string]string
}

// LatencyMs returns the latency in milliseconds.
func (m Metric) LatencyMs() float64 {
	return float64(m.Latency) / float64(time.Millisecond)
}

// Stats aggregates the measurements of one operation.
type Stats struct {
	Count  int
	Errors int
	AvgMs  float64
	MinMs  float64
	MaxMs  float64
	// RecentMs holds the latest measurements, oldest first.
	RecentMs []float64
}

// Thresholds are the alert limits of an operation type. Zero disables a level.
type Thresholds struct {
	Warning  time.Duration
	Critical time.Duration
}

// AlertLevel is the severity of a threshold breach.
type AlertLevel string

const (
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
)

// Alert is raised when a measurement exceeds its thresholds.
type Alert struct {
	Level     AlertLevel
	Metric    Metric
	Threshold time.Duration
}

// AlertFunc receives alerts synchronously from Record.
type AlertFunc func(Alert)

// Reporter exports measurements to an external system.
type Reporter interface {
	Report(m Metric)
	ReportAlert(a Alert)
}

// DefaultThresholds returns the built-in limits.
func DefaultThresholds() map[OperationType]Thresholds {
	ms := func(w, c int) Thresholds {
		return Thresholds{Warning: time.Duration(w) * time.Millisecond, Critical: time.Duration(c) * time.Millisecond}
	}
	return map[OperationType]Thresholds{
		OpSTT:     ms(1500, 3000),
		OpTTS:     ms(1000, 2500),
		OpLLM:     ms(2000, 5000),
		OpRAG:     ms(3000, 8000),
		OpCRM:     ms(1500, 4000),
		OpLeadAPI: ms(1500, 4000),
		OpTurn:    ms(4000, 8000),
	}
}

// ThresholdsFromEnv overlays LATENCY_<OP>_WARNING_MS and
// LATENCY_<OP>_CRITICAL_MS on the defaults. lookup is os.LookupEnv in
// production.
func ThresholdsFromEnv(lookup func(string) (string, bool)) map[OperationType]Thresholds {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	out := DefaultThresholds()
	for _, op := range OperationTypes {
		th := out[op]
		prefix := "LATENCY_" + strings.ToUpper(string(op))
		if v, ok := lookupMs(lookup, prefix+"_WARNING_MS"); ok {
			th.Warning = v
		}
		if v, ok := lookupMs(lookup, prefix+"_CRITICAL_MS"); ok {
			th.Critical = v
		}
		out[op] = th
	}
	return out
}

func lookupMs(lookup func(string) (string, bool), key string) (time.Duration, bool) {
	raw, ok := lookup(key)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return time.Duration(v * float64(time.Millisecond)), true
}

// Config configures a Tracker.
type Config struct {
	Capacity     int
	RecentWindow int
	Thresholds   map[OperationType]Thresholds
}

type aggregate struct {
	count  int
	errors int
	sumMs  float64
	minMs  float64
	maxMs  float64
	recent []float64
}

// Tracker is the process-wide latency store. Configure it before the first
// call starts; thresholds are not changed afterwards.
type Tracker struct {
	mu         sync.Mutex
	ring       []Metric
	next       int
	full       bool
	window     int
	aggregates map[string]*aggregate

	thresholds map[OperationType]Thresholds
	alerts     []AlertFunc
	reporters  []Reporter
	logger     *zap.Logger
}

// NewTracker creates a tracker.
func NewTracker(cfg Config, logger *zap.Logger) *Tracker {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = DefaultRecentWindow
	}
	if cfg.Thresholds == nil {
		cfg.Thresholds = DefaultThresholds()
	}
	return &Tracker{
		ring:       make([]Metric, cfg.Capacity),
		window:     cfg.RecentWindow,
		aggregates: make(map[string]*aggregate),
		thresholds: cfg.Thresholds,
		logger:     logging.OrNop(logger).Named("latency"),
	}
}

// OnAlert registers an alert callback.
func (t *Tracker) OnAlert(fn AlertFunc) {
	if t == nil || fn == nil {
		return
	}
	t.mu.Lock()
	t.alerts = append(t.alerts, fn)
	t.mu.Unlock()
}

// AddReporter registers a reporter.
func (t *Tracker) AddReporter(r Reporter) {
	if t == nil || r == nil {
		return
	}
	t.mu.Lock()
	t.reporters = append(t.reporters, r)
	t.mu.Unlock()
}

// Thresholds returns the limits for op.
func (t *Tracker) Thresholds(op OperationType) Thresholds {
	return t.thresholds[op]
}

func key(op OperationType, name string) string {
	return string(op) + "/" + name
}

// Record stores m. A nil tracker ignores it.
func (t *Tracker) Record(m Metric) {
	if t == nil {
		return
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	if m.Status == "" {
		m.Status = StatusSuccess
	}

	t.mu.Lock()
	t.ring[t.next] = m
	t.next = (t.next + 1) % len(t.ring)
	if t.next == 0 {
		t.full = true
	}

	k := key(m.OperationType, m.OperationName)
	agg, ok := t.aggregates[k]
	if !ok {
		agg = &aggregate{minMs: math.Inf(1)}
		t.aggregates[k] = agg
	}
	ms := m.LatencyMs()
	agg.count++
	agg.sumMs += ms
	agg.minMs = math.Min(agg.minMs, ms)
	agg.maxMs = math.Max(agg.maxMs, ms)
	if m.Status == StatusError {
		agg.errors++
	}
	agg.recent = append(agg.recent, ms)
	if len(agg.recent) > t.window {
		agg.recent = agg.recent[len(agg.recent)-t.window:]
	}

	alerts := t.alerts
	reporters := t.reporters
	t.mu.Unlock()

	for _, r := range reporters {
		t.safely("reporter", func() { r.Report(m) })
	}

	alert, breached := t.check(m)
	if !breached {
		return
	}
	t.logger.Warn("latency threshold exceeded",
		zap.String("level", string(alert.Level)),
		zap.String("operation", k),
		zap.Float64("latency_ms", ms),
		zap.Duration("threshold", alert.Threshold),
		zap.String("call_sid", m.CallSid))
	for _, r := range reporters {
		t.safely("reporter", func() { r.ReportAlert(alert) })
	}
	for _, fn := range alerts {
		t.safely("alert callback", func() { fn(alert) })
	}
}

func (t *Tracker) check(m Metric) (Alert, bool) {
	th, ok := t.thresholds[m.OperationType]
	if !ok {
		return Alert{}, false
	}
	switch {
	case th.Critical > 0 && m.Latency >= th.Critical:
		return Alert{Level: AlertCritical, Metric: m, Threshold: th.Critical}, true
	case th.Warning > 0 && m.Latency >= th.Warning:
		return Alert{Level: AlertWarning, Metric: m, Threshold: th.Warning}, true
	}
	return Alert{}, false
}

func (t *Tracker) safely(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("recovered panic in "+what, zap.Any("panic", r))
		}
	}()
	fn()
}

// Recent returns up to n measurements, newest last.
func (t *Tracker) Recent(n int) []Metric {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	size := t.next
	if t.full {
		size = len(t.ring)
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]Metric, 0, n)
	for i := size - n; i < size; i++ {
		idx := i
		if t.full {
			idx = (t.next + i) % len(t.ring)
		}
		out = append(out, t.ring[idx])
	}
	return out
}

// Stats returns the aggregate of one operation.
func (t *Tracker) Stats(op OperationType, name string) (Stats, bool) {
	if t == nil {
		return Stats{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	agg, ok := t.aggregates[key(op, name)]
	if !ok {
		return Stats{}, false
	}
	return agg.stats(), true
}

// Summary returns every aggregate keyed "type/name".
func (t *Tracker) Summary() map[string]Stats {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Stats, len(t.aggregates))
	for k, agg := range t.aggregates {
		out[k] = agg.stats()
	}
	return out
}

// SummaryLines renders the summary sorted by key, for logs.
func (t *Tracker) SummaryLines() []string {
	summary := t.Summary()
	keys := make([]string, 0, len(summary))
	for k := range summary {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		s := summary[k]
		lines = append(lines, fmt.Sprintf("%s count=%d errors=%d avg=%.0fms min=%.0fms max=%.0fms",
			k, s.Count, s.Errors, s.AvgMs, s.MinMs, s.MaxMs))
	}
	return lines
}

func (a *aggregate) stats() Stats {
	s := Stats{
		Count:    a.count,
		Errors:   a.errors,
		MinMs:    a.minMs,
		MaxMs:    a.maxMs,
		RecentMs: append([]float64(nil), a.recent...),
	}
	if a.count > 0 {
		s.AvgMs = a.sumMs / float64(a.count)
	}
	return s
}

// Labels identify the call and provider behind a measurement.
type Labels struct {
	Provider  string
	CallSid   string
	StreamSid string
}

// Timer measures one operation.
type Timer struct {
	tracker *Tracker
	op      OperationType
	name    string
	labels  Labels
	start   time.Time
	meta    map[string]string
}

// Start begins timing an operation. The zero Tracker pointer yields a timer
// whose Done only measures.
func (t *Tracker) Start(op OperationType, name string, labels Labels) *Timer {
	return &Timer{tracker: t, op: op, name: name, labels: labels, start: time.Now()}
}

// With attaches a metadata entry.
func (tm *Timer) With(k, v string) *Timer {
	if tm.meta == nil {
		tm.meta = make(map[string]string)
	}
	tm.meta[k] = v
	return tm
}

// Done records the measurement with err deciding the status, and returns
// the elapsed time.
func (tm *Timer) Done(err error) time.Duration {
	elapsed := time.Since(tm.start)
	m := Metric{
		OperationType: tm.op,
		OperationName: tm.name,
		Latency:       elapsed,
		Status:        StatusSuccess,
		Timestamp:     tm.start,
		Provider:      tm.labels.Provider,
		CallSid:       tm.labels.CallSid,
		StreamSid:     tm.labels.StreamSid,
		Metadata:      tm.meta,
	}
	if err != nil {
		m.Status = StatusError
		m.ErrorMessage = err.Error()
	}
	tm.tracker.Record(m)
	return elapsed
}
