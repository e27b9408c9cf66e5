package main

import (
	"context"
	"os"
	"sync"

	"github.com/alltom/ckv/internal/audio"
	"github.com/alltom/ckv/internal/conf"
	"github.com/alltom/ckv/internal/errors"
	"github.com/alltom/ckv/internal/logger"
)

// soundcard is an opened realtime backend. The device callback renders
// straight from the bridge, so nothing else may touch the VM while it runs.
type soundcard struct {
	sampleRate float64
	channels   int
	info       string
	start      func() error
	cln        func()
}

func setupSoundcard(s *conf.Settings, b *audio.Bridge, log logger.Logger) (soundcard, error) {
	switch s.Audio.Backend {
	case "malgo":
		return setupMalgo(s, b, log)
	default:
		return setupPortaudio(s, b)
	}
}

func deviceError(rr error, what string) error {
	return errors.New(rr).
		Component("audio").
		Category(errors.CategoryAudioDevice).
		Context("op", what).
		Build()
}

// runLive plays scripts until they finish or ctx is cancelled
func runLive(ctx context.Context, s *conf.Settings, scripts []string) error {
	ss, rr := newSession(s, os.Stdout, nil)
	if e(rr) {
		return rr
	}
	defer ss.close()
	if ss.load(scripts) == 0 {
		return errors.Newf("no scripts loaded").Component("main").Category(errors.CategoryScriptLoad).Build()
	}

	stopMetrics, rr := ss.serveMetrics()
	if e(rr) {
		return rr
	}
	defer stopMetrics()

	sc, rr := setupSoundcard(s, ss.bridge, ss.log.Module("soundcard"))
	if e(rr) {
		return rr
	}
	defer sc.cln()
	pf("%s", sc.info)
	pf("%s%s%s\n", italic, advisory, reset)
	if sc.sampleRate != float64(s.Audio.SampleRate) {
		ss.log.Warn("device sample rate differs from the configured one",
			logger.Float64("device", sc.sampleRate),
			logger.Int("configured", s.Audio.SampleRate))
	}

	var wg sync.WaitGroup
	stopMIDI := make(chan struct{})
	if s.MIDI.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			midiRead(s.MIDI, ss.bridge, ss.log.Module("midi"), stopMIDI)
		}()
	}
	defer func() {
		close(stopMIDI)
		wg.Wait()
	}()

	if rr := sc.start(); e(rr) {
		return deviceError(rr, "start")
	}
	select {
	case <-ctx.Done():
		ss.log.Info("interrupted")
	case <-ss.bridge.Done():
	}
	return nil
}
