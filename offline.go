package main

import (
	"context"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/alltom/ckv/internal/conf"
	"github.com/alltom/ckv/internal/errors"
	"github.com/alltom/ckv/internal/logger"
)

func runOffline(ctx context.Context, s *conf.Settings, scripts []string) error {
	ss, rr := newSession(s, os.Stdout, nil)
	if e(rr) {
		return rr
	}
	defer ss.close()
	if ss.load(scripts) == 0 {
		return errors.Newf("no scripts loaded").Component("main").Category(errors.CategoryScriptLoad).Build()
	}
	frames, rr := renderOffline(ctx, ss, s.Offline)
	if e(rr) {
		return rr
	}
	pf("wrote %s: %d frames (%.2fs)\n", s.Offline.Output, frames, float64(frames)/float64(s.Audio.SampleRate))
	return nil
}

// renderOffline drives the bridge as fast as it will go, writing a wav file.
// It stops after the configured duration, once the VM is done, or when ctx is
// cancelled, and returns the frames written.
func renderOffline(ctx context.Context, ss *session, o conf.OfflineSettings) (int, error) {
	a := ss.settings.Audio
	f, rr := os.Create(o.Output)
	if e(rr) {
		return 0, fileError(rr, o.Output)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, a.SampleRate, o.BitDepth, a.Channels, 1)
	out := make([]float64, a.BufferFrames*a.Channels)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: a.Channels, SampleRate: a.SampleRate},
		Data:           make([]int, len(out)),
		SourceBitDepth: o.BitDepth,
	}
	scale := float64(int64(1)<<(o.BitDepth-1) - 1)

	limit := int(math.Round(o.Duration * float64(a.SampleRate)))
	total := 0
	for limit == 0 || total < limit {
		if ctx.Err() != nil {
			ss.log.Info("render interrupted", logger.Int("frames", total))
			break
		}
		n := ss.bridge.Render(out, nil)
		if limit > 0 && total+n > limit {
			n = limit - total
		}
		buf.Data = buf.Data[:n*a.Channels]
		for i := range buf.Data {
			buf.Data[i] = int(math.Round(math.Max(-1, math.Min(1, out[i])) * scale))
		}
		if rr := enc.Write(buf); e(rr) {
			return total, fileError(rr, o.Output)
		}
		total += n
		if done(ss) {
			break
		}
	}
	if rr := enc.Close(); e(rr) {
		return total, fileError(rr, o.Output)
	}
	return total, nil
}

func done(ss *session) bool {
	select {
	case <-ss.bridge.Done():
		return true
	default:
		return false
	}
}

func fileError(rr error, path string) error {
	return errors.New(rr).
		Component("main").
		Category(errors.CategoryFileIO).
		Context("path", path).
		Build()
}
