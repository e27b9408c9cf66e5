// miniaudio backend
package main

import (
	"encoding/binary"
	"math"
	"strings"

	"github.com/gen2brain/malgo"

	"github.com/alltom/ckv/internal/audio"
	"github.com/alltom/ckv/internal/conf"
	"github.com/alltom/ckv/internal/errors"
	"github.com/alltom/ckv/internal/logger"
)

func setupMalgo(s *conf.Settings, b *audio.Bridge, log logger.Logger) (soundcard, error) {
	sc := soundcard{}
	ctx, rr := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		log.Debug(strings.TrimSpace(message))
	})
	if e(rr) {
		return sc, deviceError(rr, "malgo init")
	}
	free := func() {
		ctx.Uninit()
		ctx.Free()
	}

	ch := s.Audio.Channels
	cfg := malgo.DefaultDeviceConfig(malgo.Duplex)
	cfg.Playback.Format = malgo.FormatF32
	cfg.Playback.Channels = uint32(ch)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(s.Audio.SampleRate)
	cfg.PeriodSizeInFrames = uint32(s.Audio.BufferFrames)
	cfg.Alsa.NoMMap = 1

	name := "default"
	if s.Audio.Device != "" {
		infos, rr := ctx.Devices(malgo.Playback)
		if e(rr) {
			free()
			return sc, deviceError(rr, "list devices")
		}
		info, ok := findPlayback(infos, s.Audio.Device)
		if !ok {
			free()
			return sc, errors.Newf("no output device matching %q", s.Audio.Device).
				Component("audio").
				Category(errors.CategoryAudioDevice).
				Build()
		}
		cfg.Playback.DeviceID = info.ID.Pointer()
		name = info.Name()
	}

	out32 := make([]float32, s.Audio.BufferFrames*ch)
	in32 := make([]float32, s.Audio.BufferFrames)
	onData := func(pOut, pIn []byte, frames uint32) {
		n := int(frames)
		if cap(out32) < n*ch {
			out32 = make([]float32, n*ch)
			in32 = make([]float32, n)
		}
		o, in := out32[:n*ch], in32[:min(n, len(pIn)/4)]
		for i := range in {
			in[i] = math.Float32frombits(binary.LittleEndian.Uint32(pIn[4*i:]))
		}
		b.Render32(o, in)
		for i, v := range o {
			binary.LittleEndian.PutUint32(pOut[4*i:], math.Float32bits(v))
		}
	}

	dev, rr := malgo.InitDevice(ctx.Context, cfg, malgo.DeviceCallbacks{Data: onData})
	if e(rr) {
		free()
		return sc, deviceError(rr, "init device")
	}

	sc.sampleRate = float64(dev.SampleRate())
	sc.channels = ch
	sc.info = sf(`miniaudio
Audio output: %s
channels: %d
SR: %.f
`, name, ch, sc.sampleRate)
	sc.start = dev.Start
	sc.cln = func() {
		dev.Stop()
		dev.Uninit()
		free()
	}
	return sc, nil
}

func findPlayback(infos []malgo.DeviceInfo, name string) (malgo.DeviceInfo, bool) {
	want := strings.ToLower(name)
	for _, info := range infos {
		if strings.Contains(strings.ToLower(info.Name()), want) {
			return info, true
		}
	}
	return malgo.DeviceInfo{}, false
}
