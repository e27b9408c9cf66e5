package main

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/alltom/ckv/internal/audio"
	"github.com/alltom/ckv/internal/conf"
	"github.com/alltom/ckv/internal/errors"
	"github.com/alltom/ckv/internal/logger"
	"github.com/alltom/ckv/internal/metrics"
	"github.com/alltom/ckv/internal/script"
	"github.com/alltom/ckv/internal/ugen"
	"github.com/alltom/ckv/internal/vm"
)

// session is one VM with its graph, bridge and metrics
type session struct {
	id       string
	settings *conf.Settings
	root     *logger.Root
	log      logger.Logger
	metrics  *metrics.Metrics
	vm       *vm.VM
	graph    *ugen.Graph
	bridge   *audio.Bridge
}

// newSession builds the engine; print output goes to out. A nil logw logs
// where the settings say.
func newSession(s *conf.Settings, out, logw io.Writer) (*session, error) {
	lc := s.Logger()
	lc.Writer = logw
	root, rr := logger.New(lc)
	if e(rr) {
		return nil, errors.New(rr).Component("main").Category(errors.CategoryConfiguration).Build()
	}
	ss := &session{id: uuid.NewString(), settings: s, root: root}
	ss.log = root.With(logger.String("session", ss.id))

	if ss.metrics, rr = metrics.New(); e(rr) {
		root.Close()
		return nil, rr
	}
	compiler := script.New(script.WithLogger(ss.log.Module("script")))
	if ss.vm, rr = vm.New(
		vm.WithCompiler(compiler),
		vm.WithLogger(ss.log.Module("vm")),
		vm.WithObserver(ss.metrics),
	); e(rr) {
		root.Close()
		return nil, rr
	}
	script.Install(ss.vm, out, time.Now().UnixNano())

	ss.graph = ugen.NewGraph(ugen.WithLogger(ss.log), ugen.WithObserver(ss.metrics))
	if ss.bridge, rr = audio.Open(ss.vm, ss.graph, audio.Config{
		SampleRate:   float64(s.Audio.SampleRate),
		Channels:     s.Audio.Channels,
		BufferFrames: s.Audio.BufferFrames,
		HardClip:     s.Audio.HardClip,
		PrintTime:    s.Audio.PrintTime,
		MIDIBuffer:   s.MIDI.Buffer,
		Logger:       ss.log,
		Observer:     ss.metrics,
	}); e(rr) {
		ss.close()
		return nil, rr
	}

	if rate := s.BeatRate(); rate > 0 {
		beat, rr := ss.vm.NewScheduler("beat", rate)
		if e(rr) {
			ss.close()
			return nil, rr
		}
		ss.vm.Register("beat", beat)
	}
	ss.log.Info("session started",
		logger.Int("sample_rate", s.Audio.SampleRate),
		logger.Int("channels", s.Audio.Channels),
		logger.String("backend", s.Audio.Backend))
	return ss, nil
}

// load adds each script as a top-level shred and returns how many loaded.
// Failures are reported by the VM.
func (ss *session) load(paths []string) int {
	n := 0
	for _, path := range paths {
		if _, rr := ss.vm.AddThreadFile(path); e(rr) {
			continue
		}
		n++
	}
	return n
}

// serveMetrics starts the prometheus endpoint when one is configured; the
// returned func shuts it down
func (ss *session) serveMetrics() (func(), error) {
	addr := ss.settings.Metrics.Listen
	if addr == "" {
		return func() {}, nil
	}
	ln, rr := net.Listen("tcp", addr)
	if e(rr) {
		return nil, errors.New(rr).Component("metrics").Category(errors.CategoryConfiguration).Context("listen", addr).Build()
	}
	mux := http.NewServeMux()
	ss.metrics.RegisterHandlers(mux)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	done := make(chan struct{})
	go func() {
		defer close(done)
		if rr := srv.Serve(ln); rr != nil && rr != http.ErrServerClosed {
			ss.log.Error("metrics server stopped", logger.Error(rr))
		}
	}()
	ss.log.Info("serving metrics", logger.String("addr", ln.Addr().String()))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
		<-done
	}, nil
}

func (ss *session) close() {
	ss.vm.Close()
	ss.log.Info("session closed", logger.Float64("samples", ss.vm.Now()))
	ss.root.Close()
}
