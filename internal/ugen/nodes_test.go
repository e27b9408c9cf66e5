package ugen

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alltom/ckv/internal/errors"
)

// run ticks n through g for frames frames and collects its outputs
func run(g *Graph, n Node, frames int, before func(i int)) []float64 {
	out := make([]float64, frames)
	for i := range out {
		if before != nil {
			before(i)
		}
		g.TickAll([]Node{n})
		out[i] = n.Last()
	}
	return out
}

func TestOscShapes(t *testing.T) {
	tests := []struct {
		shape Shape
		want  []float64
	}{
		{Sine, []float64{0, 1, 0, -1, 0}},
		{Square, []float64{-1, -1, 1, 1, -1}},
		{Saw, []float64{0, 0.25, 0.5, 0.75, 0}},
		{Triangle, []float64{1, 0, -1, 0, 1}},
		{Pulse, []float64{-1, -1, 1, 1, -1}},
	}
	for i, tt := range tests {
		g := NewGraph()
		o := NewOsc(tt.shape, 4, 1)
		got := run(g, o, 5, nil)
		assert.InDeltaSlice(t, tt.want, got, 1e-9, "#%d %s at 1Hz, 4 frames per second", i, tt.shape)
	}
}

func TestPulseWidth(t *testing.T) {
	g := NewGraph()
	o := NewOsc(Pulse, 4, 1)
	require.NoError(t, o.SetField("width", 0.25))
	assert.Equal(t, []float64{-1, 1, 1, 1, -1}, run(g, o, 5, nil))
	assert.Error(t, o.SetField("width", 2.0))

	s := NewOsc(Sine, 4, 1)
	assert.Error(t, s.SetField("width", 0.5), "only PulseOsc has a width")
	_, ok := s.Field("width")
	assert.False(t, ok)
}

func TestOscFreqPort(t *testing.T) {
	g := NewGraph()
	o := NewOsc(Saw, 4, 1)
	g.Connect(NewStep(1), o, "freq")
	assert.Equal(t, []float64{0, 0.5, 0, 0.5}, run(g, o, 4, nil))
	f, _ := o.Field("freq")
	assert.Equal(t, 1.0, f)
}

func TestImpulse(t *testing.T) {
	g := NewGraph()
	imp := NewImpulse()
	require.NoError(t, imp.SetField("next", 1))
	assert.Equal(t, []float64{1, 0, 0}, run(g, imp, 3, nil))
}

func TestDelay(t *testing.T) {
	tests := []struct {
		length int
		want   []float64
	}{
		{0, []float64{1, 0, 0, 0, 0}},
		{1, []float64{0, 1, 0, 0, 0}},
		{3, []float64{0, 0, 0, 1, 0}},
	}
	for i, tt := range tests {
		g := NewGraph()
		imp := NewImpulse()
		d := NewDelay(tt.length)
		g.Connect(imp, d, "")
		imp.next = 1
		got := run(g, d, 5, nil)
		assert.Equal(t, tt.want, got, "#%d Delay(%d) of an impulse", i, tt.length)
	}
}

func TestDelayResize(t *testing.T) {
	d := NewDelay(2)
	require.NoError(t, d.SetField("len", 4.5))
	assert.Equal(t, 5, d.Len())
	assert.Error(t, d.SetField("len", -1))
	assert.Error(t, d.SetField("length", 1))
}

func TestFollower(t *testing.T) {
	g := NewGraph()
	in := NewStep(-1)
	f := NewFollower(2)
	g.Connect(in, f, "")

	out := run(g, f, 3, func(i int) {
		if i == 1 {
			in.Set(0)
		}
	})
	assert.InDeltaSlice(t, []float64{1, math.Sqrt(0.5), 0.5}, out, 1e-12)

	require.NoError(t, f.SetField("half_life", 1))
	d, _ := f.Field("decay")
	assert.InDelta(t, 0.5, d, 1e-12)
	assert.Error(t, f.SetField("half_life", 0))
}

func TestNoiseRange(t *testing.T) {
	g := NewGraph()
	n := NewNoise(7)
	lo, hi := 1.0, -1.0
	for _, v := range run(g, n, 1000, nil) {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	assert.GreaterOrEqual(t, lo, -1.0)
	assert.Less(t, hi, 1.0)
	assert.Less(t, lo, -0.5)
	assert.Greater(t, hi, 0.5)
}

func TestFields(t *testing.T) {
	gain := NewGain(2)
	last, ok := gain.Field("last")
	assert.True(t, ok)
	assert.Equal(t, 0.0, last)

	err := gain.SetField("gain", "loud")
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
	assert.Error(t, gain.SetField("last", 1.0))
	require.NoError(t, gain.SetField("gain", 3))
	v, _ := gain.Field("gain")
	assert.Equal(t, 3.0, v)

	_, ok = NewNoise(1).Field("last")
	assert.True(t, ok)
	assert.Error(t, NewNoise(1).SetField("seed", 1.0))
}

func writeWAV(t *testing.T, sr, chans int, data []int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	enc := wav.NewEncoder(f, sr, 16, chans, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Data:           data,
		Format:         &audio.Format{SampleRate: sr, NumChannels: chans},
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
	return path
}

func TestSndIn(t *testing.T) {
	path := writeWAV(t, 8000, 2, []int{16384, 0, -16384, -16384, 8192, 8192})

	n, err := OpenSndIn(path, 8000)
	require.NoError(t, err)
	assert.Equal(t, 3.0, n.Duration())

	g := NewGraph()
	assert.Equal(t, []float64{0.25, -0.5, 0.25, 0, 0}, run(g, n, 5, nil))
	assert.True(t, n.Done())

	require.NoError(t, n.SetField("pos", 1))
	require.NoError(t, n.SetField("rate", 2))
	assert.Equal(t, []float64{-0.5, 0}, run(g, n, 2, nil))

	require.NoError(t, n.SetField("pos", 0))
	require.NoError(t, n.Close())
	assert.Equal(t, []float64{0}, run(g, n, 1, nil))
}

func TestSndInResamples(t *testing.T) {
	path := writeWAV(t, 8000, 1, []int{0, 16384, -16384, 8192})
	n, err := OpenSndIn(path, 4000)
	require.NoError(t, err)
	assert.Equal(t, 2.0, n.Duration())
	assert.Equal(t, []float64{0, -0.5, 0}, run(NewGraph(), n, 3, nil))
}

func TestSndInErrors(t *testing.T) {
	_, err := OpenSndIn(filepath.Join(t.TempDir(), "missing.wav"), 48000)
	assert.True(t, errors.IsCategory(err, errors.CategoryFileIO))

	junk := filepath.Join(t.TempDir(), "junk.wav")
	require.NoError(t, os.WriteFile(junk, []byte("not a riff file at all"), 0o644))
	_, err = OpenSndIn(junk, 48000)
	assert.Error(t, err)
}
