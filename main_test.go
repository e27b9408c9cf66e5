package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/rakyll/portmidi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/alltom/ckv/internal/conf"
	"github.com/alltom/ckv/internal/logger"
	"github.com/alltom/ckv/internal/vm"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testSettings(t *testing.T) *conf.Settings {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	s, err := conf.Load(conf.New(), "")
	require.NoError(t, err)
	s.Audio.SampleRate = 1000
	s.Audio.BufferFrames = 64
	s.Audio.Channels = 1
	s.Offline.Output = filepath.Join(t.TempDir(), "out.wav")
	return s
}

func testSession(t *testing.T, s *conf.Settings, out io.Writer) *session {
	t.Helper()
	ss, err := newSession(s, out, io.Discard)
	require.NoError(t, err)
	t.Cleanup(ss.close)
	return ss
}

func writeScript(t *testing.T, name, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func readWav(t *testing.T, path string) []int {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	d := wav.NewDecoder(f)
	require.True(t, d.IsValidFile())
	buf, err := d.FullPCMBuffer()
	require.NoError(t, err)
	return buf.Data
}

func TestRenderUntilIdle(t *testing.T) {
	s := testSettings(t)
	var out bytes.Buffer
	ss := testSession(t, s, &out)
	path := writeScript(t, "half.ckv", `
connect Step(0.5), dac
print "started"
sleep 100
`)
	require.Equal(t, 1, ss.load([]string{path}))

	frames, err := renderOffline(context.Background(), ss, s.Offline)
	require.NoError(t, err)
	assert.Equal(t, 100, frames, "rendering stops at the sample the script ends at")
	assert.Equal(t, "started\n", out.String())

	data := readWav(t, s.Offline.Output)
	require.Len(t, data, 100)
	for i, v := range data {
		if v != 16384 {
			t.Fatalf("#%d => %d, expected 16384", i, v)
		}
	}
}

func TestRenderDuration(t *testing.T) {
	s := testSettings(t)
	s.Offline.Duration = 0.05
	s.Offline.BitDepth = 24
	ss := testSession(t, s, io.Discard)
	path := writeScript(t, "forever.ckv", "connect Step(-1), dac\nyield forever\n")
	require.Equal(t, 1, ss.load([]string{path}))

	frames, err := renderOffline(context.Background(), ss, s.Offline)
	require.NoError(t, err)
	assert.Equal(t, 50, frames)
	data := readWav(t, s.Offline.Output)
	require.Len(t, data, 50)
	assert.Equal(t, -(1<<23 - 1), data[0])
	assert.True(t, ss.vm.Running())
}

func TestRenderCancelled(t *testing.T) {
	s := testSettings(t)
	ss := testSession(t, s, io.Discard)
	path := writeScript(t, "forever.ckv", "yield forever\n")
	require.Equal(t, 1, ss.load([]string{path}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	frames, err := renderOffline(ctx, ss, s.Offline)
	require.NoError(t, err)
	assert.Zero(t, frames)
}

func TestLoadSkipsBrokenScripts(t *testing.T) {
	s := testSettings(t)
	ss := testSession(t, s, io.Discard)
	good := writeScript(t, "good.ckv", "sleep 1\n")
	bad := writeScript(t, "bad.ckv", "loop {\n")
	missing := filepath.Join(t.TempDir(), "missing.ckv")
	assert.Equal(t, 1, ss.load([]string{good, bad, missing}))
	assert.Equal(t, 1, ss.vm.Live())
}

func TestBeatClock(t *testing.T) {
	s := testSettings(t)
	s.Audio.SampleRate = 1024
	s.Tempo.BPM = 60
	var out bytes.Buffer
	ss := testSession(t, s, &out)
	_, err := ss.vm.AddThread("beats", "sleep 2, beat\nprint now\n")
	require.NoError(t, err)
	ss.vm.RunUntil(5000)
	assert.Equal(t, "2048\n", out.String(), "two beats at 60bpm are two seconds")
}

func TestCheckCommand(t *testing.T) {
	good := writeScript(t, "good.ckv", "print 1\n")
	bad := writeScript(t, "bad.ckv", "let 3 = 1\n")

	var stdout, stderr bytes.Buffer
	cmd := rootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs([]string{"check", good, bad})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 scripts failed to load")
	assert.Contains(t, stdout.String(), good+": ok")
	assert.Contains(t, stderr.String(), bad+": line 1:")
}

type fakeMIDI struct {
	batches [][]portmidi.Event
}

func (f *fakeMIDI) Poll() (bool, error) {
	if len(f.batches) == 0 {
		return false, io.EOF
	}
	return true, nil
}

func (f *fakeMIDI) Read(int) ([]portmidi.Event, error) {
	b := f.batches[0]
	f.batches = f.batches[1:]
	return b, nil
}

func TestPumpFeedsBridge(t *testing.T) {
	s := testSettings(t)
	ss := testSession(t, s, io.Discard)
	_, err := ss.vm.Spawn("hold", func(sh *vm.Shred) error {
		sh.Wait(ss.bridge.MIDI().Event("any"))
		return nil
	})
	require.NoError(t, err)
	ss.vm.RunUntil(0)

	src := &fakeMIDI{batches: [][]portmidi.Event{
		{{Status: 0x90, Data1: 60, Data2: 100}},
		{{Status: 0x91, Data1: 64, Data2: 127}},
	}}
	pump(src, ss.bridge, 16, time.Millisecond, logger.Discard(), make(chan struct{}))

	out := make([]float64, 4)
	ss.bridge.Render(out, nil)
	last := ss.bridge.MIDI().Last()
	assert.Equal(t, 64, last.Note)
	assert.Equal(t, 1, last.Channel)
	assert.Zero(t, ss.vm.Live(), "the first message woke the waiter")
}

func TestPumpStops(t *testing.T) {
	s := testSettings(t)
	ss := testSession(t, s, io.Discard)
	stop := make(chan struct{})
	close(stop)
	pump(&fakeMIDI{batches: [][]portmidi.Event{{{Status: 0x90, Data1: 1, Data2: 1}}}}, ss.bridge, 16, time.Millisecond, logger.Discard(), stop)
	out := make([]float64, 1)
	ss.bridge.Render(out, nil)
	assert.Equal(t, 0, ss.bridge.MIDI().Last().Note)
}
