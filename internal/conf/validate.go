package conf

import (
	"github.com/alltom/ckv/internal/errors"
)

// Validate rejects settings the engine cannot run with
func Validate(s *Settings) error {
	switch {
	case s.Audio.SampleRate <= 0:
		return invalid("audio.samplerate", s.Audio.SampleRate, "sample rate must be positive")
	case s.Audio.BufferFrames <= 0:
		return invalid("audio.bufferframes", s.Audio.BufferFrames, "buffer size must be positive")
	case s.Audio.Channels <= 0:
		return invalid("audio.channels", s.Audio.Channels, "channel count must be positive")
	case s.Audio.HardClip < 0:
		return invalid("audio.hardclip", s.Audio.HardClip, "hard clip level cannot be negative")
	}
	switch s.Audio.Backend {
	case "portaudio", "malgo":
	default:
		return invalid("audio.backend", s.Audio.Backend, "unknown audio backend")
	}
	switch s.Offline.BitDepth {
	case 16, 24, 32:
	default:
		return invalid("offline.bitdepth", s.Offline.BitDepth, "bit depth must be 16, 24 or 32")
	}
	if s.Offline.Duration < 0 {
		return invalid("offline.duration", s.Offline.Duration, "duration cannot be negative")
	}
	if s.Tempo.BPM < 0 {
		return invalid("tempo.bpm", s.Tempo.BPM, "tempo cannot be negative")
	}
	if s.MIDI.Enabled {
		if s.MIDI.Buffer <= 0 {
			return invalid("midi.buffer", s.MIDI.Buffer, "midi buffer must hold at least one event")
		}
		if s.MIDI.PollInterval <= 0 {
			return invalid("midi.pollinterval", s.MIDI.PollInterval, "poll interval must be positive")
		}
	}
	if s.Log.MaxSize < 0 || s.Log.MaxBackups < 0 || s.Log.MaxAge < 0 {
		return invalid("log.maxsize", s.Log.MaxSize, "log rotation limits must not be negative")
	}
	switch s.Log.Format {
	case "", "text", "json":
	default:
		return invalid("log.format", s.Log.Format, "log format must be text or json")
	}
	return nil
}

func invalid(key string, value any, msg string) error {
	return errors.Newf("invalid %s: %s", key, msg).
		Component("conf").
		Category(errors.CategoryConfiguration).
		Context("value", value).
		Build()
}
