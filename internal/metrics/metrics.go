// Package metrics exposes VM, graph and render counters to Prometheus
package metrics

import (
	"log"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alltom/ckv/internal/errors"
	"github.com/alltom/ckv/internal/ugen"
	"github.com/alltom/ckv/internal/vm"
)

// MIDI event kinds, as used for the kind label
var midiKinds = []string{"note_on", "note_off", "key_pressure", "control_change", "program_change", "pitch_bend", "channel_pressure"}

var categories = []errors.ErrorCategory{
	errors.CategoryScriptLoad,
	errors.CategoryScriptRuntime,
	errors.CategoryAllocation,
	errors.CategoryProtocolMisuse,
	errors.CategoryFatal,
	errors.CategoryAudioDevice,
	errors.CategoryMIDIDevice,
	errors.CategoryConfiguration,
	errors.CategoryFileIO,
	errors.CategoryValidation,
	errors.CategoryGeneric,
}

// Metrics holds every collector on a private registry. Its methods are safe
// to call from the audio callback: label children are resolved up front, so
// recording is an atomic add.
type Metrics struct {
	registry *prometheus.Registry

	spawned    prometheus.Counter
	finished   *prometheus.CounterVec
	errorsVec  *prometheus.CounterVec
	live       prometheus.Gauge
	parked     prometheus.Gauge
	buffers    prometheus.Counter
	frames     prometheus.Counter
	clipped    prometheus.Counter
	renderTime prometheus.Histogram
	rebuilds   prometheus.Counter
	midiVec    *prometheus.CounterVec
	midiDrop   prometheus.Counter

	errorsBy map[errors.ErrorCategory]prometheus.Counter
	midiBy   map[string]prometheus.Counter
	stateBy  map[vm.State]prometheus.Counter

	collectors []prometheus.Collector
}

var (
	_ vm.Observer   = (*Metrics)(nil)
	_ ugen.Observer = (*Metrics)(nil)
)

// New creates the collectors and registers them on a fresh registry
func New() (*Metrics, error) {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.init()
	if err := m.registry.Register(m); err != nil {
		return nil, errors.New(err).Component("metrics").Category(errors.CategoryConfiguration).Build()
	}
	return m, nil
}

func (m *Metrics) init() {
	m.spawned = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ckv_shreds_spawned_total",
		Help: "Shreds scheduled since start",
	})
	m.finished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ckv_shreds_finished_total",
		Help: "Shreds that ended, by final state",
	}, []string{"state"})
	m.errorsVec = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ckv_shred_errors_total",
		Help: "Errors reported by the VM, by category",
	}, []string{"category"})
	m.live = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ckv_shreds_live",
		Help: "Shreds not yet terminated",
	})
	m.parked = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ckv_shreds_parked",
		Help: "Shreds waiting on an event",
	})
	m.buffers = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ckv_render_buffers_total",
		Help: "Audio buffers rendered",
	})
	m.frames = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ckv_render_frames_total",
		Help: "Audio frames rendered",
	})
	m.clipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ckv_clipped_samples_total",
		Help: "Output samples limited by the hard clip",
	})
	m.renderTime = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ckv_render_seconds",
		Help:    "Wall time spent rendering one buffer",
		Buckets: prometheus.ExponentialBuckets(0.00005, 2, 12), // 50µs to ~100ms
	})
	m.rebuilds = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ckv_tick_order_rebuilds_total",
		Help: "Signal graph tick orders recomputed after a change",
	})
	m.midiVec = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ckv_midi_events_total",
		Help: "MIDI events dispatched to scripts, by kind",
	}, []string{"kind"})
	m.midiDrop = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ckv_midi_dropped_total",
		Help: "MIDI events dropped because the hand-off buffer was full",
	})

	m.errorsBy = make(map[errors.ErrorCategory]prometheus.Counter, len(categories))
	for _, c := range categories {
		m.errorsBy[c] = m.errorsVec.WithLabelValues(string(c))
	}
	m.midiBy = make(map[string]prometheus.Counter, len(midiKinds))
	for _, k := range midiKinds {
		m.midiBy[k] = m.midiVec.WithLabelValues(k)
	}
	m.stateBy = map[vm.State]prometheus.Counter{
		vm.Terminated: m.finished.WithLabelValues(vm.Terminated.String()),
		vm.Failed:     m.finished.WithLabelValues(vm.Failed.String()),
	}

	m.collectors = []prometheus.Collector{
		m.spawned, m.finished, m.errorsVec, m.live, m.parked,
		m.buffers, m.frames, m.clipped, m.renderTime, m.rebuilds,
		m.midiVec, m.midiDrop,
	}
}

// Describe implements prometheus.Collector
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors {
		c.Collect(ch)
	}
}

// Registry returns the private registry
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ShredSpawned() { m.spawned.Inc() }

func (m *Metrics) ShredFinished(state vm.State) {
	if c, ok := m.stateBy[state]; ok {
		c.Inc()
		return
	}
	m.finished.WithLabelValues(state.String()).Inc()
}

func (m *Metrics) Error(category errors.ErrorCategory) {
	if c, ok := m.errorsBy[category]; ok {
		c.Inc()
		return
	}
	m.errorsVec.WithLabelValues(string(category)).Inc()
}

func (m *Metrics) Shreds(live, parked int) {
	m.live.Set(float64(live))
	m.parked.Set(float64(parked))
}

func (m *Metrics) OrderRebuilt(int) { m.rebuilds.Inc() }

// Rendered records one buffer
func (m *Metrics) Rendered(frames, clipped int, elapsed time.Duration) {
	m.buffers.Inc()
	m.frames.Add(float64(frames))
	if clipped > 0 {
		m.clipped.Add(float64(clipped))
	}
	m.renderTime.Observe(elapsed.Seconds())
}

func (m *Metrics) MIDIEvent(kind string) {
	if c, ok := m.midiBy[kind]; ok {
		c.Inc()
	}
}

func (m *Metrics) MIDIDropped(n int) { m.midiDrop.Add(float64(n)) }

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      log.New(os.Stderr, "metrics handler: ", log.LstdFlags),
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}

// RegisterHandlers mounts /metrics on mux
func (m *Metrics) RegisterHandlers(mux *http.ServeMux) {
	mux.Handle("/metrics", m.Handler())
}
