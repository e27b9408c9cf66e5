package main

import (
	"time"

	"github.com/rakyll/portmidi"

	"github.com/alltom/ckv/internal/audio"
	"github.com/alltom/ckv/internal/conf"
	"github.com/alltom/ckv/internal/logger"
)

// midiSource is the part of a portmidi input stream the reader polls
type midiSource interface {
	Poll() (bool, error)
	Read(n int) ([]portmidi.Event, error)
}

// midiRead opens the configured input and pumps it into the bridge until
// stop is closed
func midiRead(s conf.MIDISettings, b *audio.Bridge, log logger.Logger, stop <-chan struct{}) {
	if rr := portmidi.Initialize(); e(rr) {
		log.Warn("midi unavailable", logger.Error(rr))
		return
	}
	defer portmidi.Terminate()

	id := portmidi.DefaultInputDeviceID()
	if s.Port >= 0 {
		id = portmidi.DeviceID(s.Port)
	}
	if id < 0 {
		log.Warn("no midi input device")
		return
	}
	in, rr := portmidi.NewInputStream(id, int64(s.Buffer))
	if e(rr) {
		log.Warn("midi input unavailable", logger.Int("port", int(id)), logger.Error(rr))
		return
	}
	defer in.Close()
	if info := portmidi.Info(id); info != nil {
		log.Info("reading midi", logger.String("device", info.Name), logger.String("interface", info.Interface))
	}
	pump(in, b, s.Buffer, s.PollInterval, log, stop)
}

// pump moves events from src to the bridge, sleeping between empty polls
func pump(src midiSource, b *audio.Bridge, batch int, interval time.Duration, log logger.Logger, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		ready, rr := src.Poll()
		if e(rr) {
			log.Error("error polling midi input", logger.Error(rr))
			return
		}
		if !ready {
			time.Sleep(interval) // coarse loop timing
			continue
		}
		events, rr := src.Read(batch)
		if e(rr) {
			log.Error("error reading midi input", logger.Error(rr))
			return
		}
		for _, ev := range events {
			b.PushMIDI(byte(ev.Status), byte(ev.Data1), byte(ev.Data2))
		}
	}
}
