// portaudio backend
package main

import (
	"strings"

	pa "github.com/gordonklaus/portaudio"

	"github.com/alltom/ckv/internal/audio"
	"github.com/alltom/ckv/internal/conf"
	"github.com/alltom/ckv/internal/errors"
)

func setupPortaudio(s *conf.Settings, b *audio.Bridge) (soundcard, error) {
	sc := soundcard{}
	if rr := pa.Initialize(); e(rr) {
		return sc, deviceError(rr, "portaudio init")
	}
	out, rr := outputDevice(s.Audio.Device)
	if e(rr) {
		pa.Terminate()
		return sc, rr
	}
	in, rr := pa.DefaultInputDevice()
	if e(rr) || in.MaxInputChannels < 1 {
		in = nil // output only, adc stays silent
	}

	params := pa.LowLatencyParameters(in, out)
	params.Output.Channels = s.Audio.Channels
	if in != nil {
		params.Input.Channels = 1
	}
	params.SampleRate = float64(s.Audio.SampleRate)
	params.FramesPerBuffer = s.Audio.BufferFrames

	// interleaved float32; the callback takes an input buffer only when
	// the stream has one
	var callback any = func(out []float32) { b.Render32(out, nil) }
	if in != nil {
		callback = func(in, out []float32) { b.Render32(out, in) }
	}
	stream, rr := pa.OpenStream(params, callback)
	if e(rr) {
		pa.Terminate()
		return sc, deviceError(rr, "open stream")
	}

	sc.sampleRate = stream.Info().SampleRate
	sc.channels = s.Audio.Channels
	api, _ := pa.DefaultHostApi()
	apiName := "unknown"
	if api != nil {
		apiName = api.Name
	}
	input := "none"
	if in != nil {
		input = in.Name
	}
	sc.info = sf(`%s
Audio output: %s %s
input: %s
channels: %d
SR: %.f
`,
		strings.Split(pa.VersionText(), ",")[0],
		apiName,
		out.Name,
		input,
		sc.channels,
		sc.sampleRate,
	)

	sc.start = stream.Start
	sc.cln = func() {
		stream.Stop()
		stream.Close()
		if rr := pa.Terminate(); e(rr) {
			pf("termination error: %s\n", rr)
		}
	}
	return sc, nil
}

// outputDevice picks the default output, or the first whose name contains
// name, ignoring case
func outputDevice(name string) (*pa.DeviceInfo, error) {
	if name == "" {
		d, rr := pa.DefaultOutputDevice()
		if e(rr) {
			return nil, deviceError(rr, "default output")
		}
		return d, nil
	}
	devices, rr := pa.Devices()
	if e(rr) {
		return nil, deviceError(rr, "list devices")
	}
	want := strings.ToLower(name)
	for _, d := range devices {
		if d.MaxOutputChannels > 0 && strings.Contains(strings.ToLower(d.Name), want) {
			return d, nil
		}
	}
	return nil, errors.Newf("no output device matching %q", name).
		Component("audio").
		Category(errors.CategoryAudioDevice).
		Build()
}
