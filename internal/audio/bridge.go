// Package audio keeps VM time in lockstep with the sample clock. A device
// callback, or the offline renderer, hands buffers to Bridge.Render; for
// each frame the bridge runs every shred due at that sample, then ticks the
// signal graph once.
package audio

import (
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/alltom/ckv/internal/errors"
	"github.com/alltom/ckv/internal/logger"
	"github.com/alltom/ckv/internal/ugen"
	"github.com/alltom/ckv/internal/vm"
)

// Observer receives render counters; see internal/metrics
type Observer interface {
	Rendered(frames, clipped int, elapsed time.Duration)
	MIDIEvent(kind string)
	MIDIDropped(n int)
}

type nopObserver struct{}

func (nopObserver) Rendered(int, int, time.Duration) {}
func (nopObserver) MIDIEvent(string)                  {}
func (nopObserver) MIDIDropped(int)                   {}

// Config of a Bridge
type Config struct {
	SampleRate   float64
	Channels     int
	BufferFrames int     // expected device buffer, sizes the float32 scratch
	HardClip     float64 // 0 disables clipping
	PrintTime    bool
	MIDIBuffer   int // events held between two buffers
	Registry     *ugen.Registry
	Logger       logger.Logger
	Observer     Observer
}

// Bridge owns the render loop state
type Bridge struct {
	vm    *vm.VM
	graph *ugen.Graph
	cfg   Config

	dac       *ugen.Gain
	blackhole *ugen.Gain
	adc       *ugen.Step
	sinks     []ugen.Node

	now         float64 // audio time in samples
	silentUntil float64
	lastSecond  int64

	midi   *MIDI
	midiq  *midiQueue
	onMIDI func(status, d1, d2 byte)

	in32  []float64
	out32 []float64

	done     chan struct{}
	doneOnce sync.Once

	log      logger.Logger
	observer Observer
}

// Durations registered as globals, in samples per unit
var durations = []struct {
	names   []string
	seconds float64
}{
	{[]string{"second", "seconds"}, 1},
	{[]string{"minute", "minutes"}, 60},
	{[]string{"hour", "hours"}, 60 * 60},
	{[]string{"day", "days"}, 24 * 60 * 60},
	{[]string{"week", "weeks"}, 7 * 24 * 60 * 60},
	{[]string{"fortnight", "fortnights"}, 14 * 24 * 60 * 60},
}

// Open wires the graph to v: it creates dac, blackhole and adc and registers
// them, the duration globals, connect and disconnect, audio_ffwd, the midi
// object and every registry constructor.
func Open(v *vm.VM, g *ugen.Graph, cfg Config) (*Bridge, error) {
	if !(cfg.SampleRate > 0) || cfg.Channels < 1 {
		return nil, errors.Newf("invalid audio format: %v Hz, %d channels", cfg.SampleRate, cfg.Channels).
			Component("audio").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.HardClip < 0 {
		return nil, errors.Newf("hard clip must not be negative, got %v", cfg.HardClip).
			Component("audio").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.BufferFrames < 1 {
		cfg.BufferFrames = 256
	}
	if cfg.MIDIBuffer < 1 {
		cfg.MIDIBuffer = 256
	}
	if cfg.Registry == nil {
		cfg.Registry = ugen.Builtins(cfg.SampleRate)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}

	b := &Bridge{
		vm:        v,
		graph:     g,
		cfg:       cfg,
		dac:       ugen.NewGain(1),
		blackhole: ugen.NewGain(1),
		adc:       ugen.NewStep(0),
		midi:      newMIDI(v),
		midiq:     newMIDIQueue(cfg.MIDIBuffer),
		in32:      make([]float64, cfg.BufferFrames),
		out32:     make([]float64, cfg.BufferFrames*cfg.Channels),
		done:      make(chan struct{}),
		log:       cfg.Logger.Module("audio"),
		observer:  cfg.Observer,
	}
	b.sinks = []ugen.Node{b.dac, b.blackhole}
	b.onMIDI = b.handleMIDI
	b.register()
	return b, nil
}

func (b *Bridge) register() {
	v, sr := b.vm, b.cfg.SampleRate

	v.Register("sample_rate", sr)
	v.Register("sample", 1.0)
	v.Register("samples", 1.0)
	v.Register("ms", sr/1000)
	for _, d := range durations {
		for _, name := range d.names {
			v.Register(name, sr*d.seconds)
		}
	}

	v.Register("dac", b.dac)
	v.Register("speaker", b.dac)
	v.Register("blackhole", b.blackhole)
	v.Register("adc", b.adc)
	v.Register("mic", b.adc)
	v.Register("midi", b.midi)

	connect := vm.Func(b.connect)
	v.Register("connect", connect)
	v.Register("c", connect)
	disconnect := vm.Func(b.disconnect)
	v.Register("disconnect", disconnect)
	v.Register("d", disconnect)
	v.Register("audio_ffwd", vm.Func(b.ffwd))
	v.Register("close", vm.Func(b.closeNode))

	for _, name := range b.cfg.Registry.Names() {
		ctor, _ := b.cfg.Registry.Lookup(name)
		v.Register(name, vm.Func(func(_ *vm.Shred, args []any) (any, error) {
			n, err := ctor(args)
			if err != nil {
				return nil, err
			}
			return n, nil
		}))
	}
}

// node accepts a node, or a constructor to call with its defaults
func (b *Bridge) node(sh *vm.Shred, x any) (ugen.Node, error) {
	switch n := x.(type) {
	case ugen.Node:
		return n, nil
	case vm.Func:
		out, err := n(sh, nil)
		if err != nil {
			return nil, err
		}
		if node, ok := out.(ugen.Node); ok {
			return node, nil
		}
		return nil, fmt.Errorf("constructor returned %T, not a unit generator", out)
	}
	return nil, fmt.Errorf("cannot connect %T", x)
}

// connect a, b, c[, port] links each adjacent pair
func (b *Bridge) connect(sh *vm.Shred, args []any) (any, error) {
	port := ugen.DefaultPort
	if n := len(args); n > 0 {
		if s, ok := args[n-1].(string); ok {
			port, args = s, args[:n-1]
		}
	}
	if len(args) < 2 {
		return nil, fmt.Errorf("connect expects at least two arguments, received %d", len(args))
	}
	prev, err := b.node(sh, args[0])
	if err != nil {
		return nil, err
	}
	for _, a := range args[1:] {
		next, err := b.node(sh, a)
		if err != nil {
			return nil, err
		}
		b.graph.Connect(prev, next, port)
		prev = next
	}
	return nil, nil
}

// disconnect src, dst[, port]
func (b *Bridge) disconnect(sh *vm.Shred, args []any) (any, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("disconnect expects a source and a destination, received %d arguments", len(args))
	}
	src, ok1 := args[0].(ugen.Node)
	dst, ok2 := args[1].(ugen.Node)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("disconnect expects unit generators, got %T and %T", args[0], args[1])
	}
	port := ugen.DefaultPort
	if len(args) > 2 {
		s, ok := args[2].(string)
		if !ok {
			return nil, fmt.Errorf("port must be a string, got %T", args[2])
		}
		port = s
	}
	b.graph.Disconnect(src, dst, port)
	return nil, nil
}

func (b *Bridge) ffwd(sh *vm.Shred, args []any) (any, error) {
	var amount float64
	if len(args) > 0 {
		a, ok := vm.ToFloat(args[0])
		if !ok {
			return nil, fmt.Errorf("audio_ffwd expects a duration, got %T", args[0])
		}
		amount = a
	}
	if err := b.FastForward(amount); err != nil {
		b.vm.Report(err)
	}
	return nil, nil
}

// closeNode unlinks a node and releases whatever it holds
func (b *Bridge) closeNode(sh *vm.Shred, args []any) (any, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("close expects a unit generator")
	}
	n, ok := args[0].(ugen.Node)
	if !ok {
		return nil, fmt.Errorf("close expects a unit generator, got %T", args[0])
	}
	b.graph.Forget(n)
	if c, ok := n.(io.Closer); ok {
		return nil, c.Close()
	}
	return nil, nil
}

// FastForward renders the next amount samples without emitting them
func (b *Bridge) FastForward(amount float64) error {
	if amount < 0 {
		return errors.Newf("cannot fast-forward by a negative amount %v", amount).
			Component("audio").
			Category(errors.CategoryProtocolMisuse).
			Build()
	}
	b.silentUntil = math.Max(b.silentUntil, b.now+amount)
	return nil
}

func (b *Bridge) DAC() *ugen.Gain       { return b.dac }
func (b *Bridge) Blackhole() *ugen.Gain { return b.blackhole }
func (b *Bridge) ADC() *ugen.Step       { return b.adc }
func (b *Bridge) MIDI() *MIDI           { return b.midi }
func (b *Bridge) Graph() *ugen.Graph    { return b.graph }

// Now is the audio time in samples; it runs ahead of emitted frames while
// fast-forwarding
func (b *Bridge) Now() float64 { return b.now }

// Done is closed once the VM stops or runs out of work
func (b *Bridge) Done() <-chan struct{} { return b.done }

func (b *Bridge) finish() {
	b.doneOnce.Do(func() {
		close(b.done)
		b.log.Info("vm finished", logger.Float64("now", b.now), logger.Int("live", b.vm.Live()))
	})
}

// PushMIDI queues a raw message for the next buffer. It is meant for one
// reader goroutine; false means the queue was full and the message dropped.
func (b *Bridge) PushMIDI(status, d1, d2 byte) bool {
	if !b.midiq.push(status, d1, d2) {
		b.observer.MIDIDropped(1)
		return false
	}
	return true
}

func (b *Bridge) handleMIDI(status, d1, d2 byte) {
	msg, ok := DecodeMIDI(status, d1, d2)
	if !ok {
		return
	}
	b.midi.dispatch(msg)
	b.observer.MIDIEvent(msg.Kind.String())
}

// Render fills out, interleaved frames of cfg.Channels samples, reading one
// mono input sample per frame from in (missing input is silence). It returns
// the number of frames rendered; the rest of out is zeroed.
func (b *Bridge) Render(out, in []float64) int {
	start := time.Now()
	ch := b.cfg.Channels
	frames := len(out) / ch
	clipped := 0

	if b.vm.Running() {
		b.midiq.drain(b.onMIDI)
	}

	i := 0
	for i < frames {
		// a shred that exits, or the last one ending, at this sample
		// silences it
		b.vm.RunUntil(b.now)
		if !b.vm.Running() {
			b.finish()
			break
		}
		if !b.vm.Runnable() && b.vm.Parked() == 0 {
			b.vm.Stop()
			b.finish()
			break
		}

		if i < len(in) {
			b.adc.Set(in[i])
		} else {
			b.adc.Set(0)
		}
		b.graph.TickAll(b.sinks)

		s := b.dac.Last()
		if c := b.cfg.HardClip; c > 0 && (s > c || s < -c) {
			s = math.Max(-c, math.Min(c, s))
			clipped += ch
		}

		// audio_ffwd(n) drops exactly n frames
		silent := b.now < b.silentUntil
		b.now++
		if b.cfg.PrintTime {
			b.printTime()
		}
		if silent {
			continue
		}
		for c := 0; c < ch; c++ {
			out[i*ch+c] = s
		}
		i++
	}
	clear(out[i*ch:])

	b.observer.Rendered(i, clipped, time.Since(start))
	return i
}

// Render32 is Render for float32 devices
func (b *Bridge) Render32(out, in []float32) int {
	if cap(b.out32) < len(out) {
		b.out32 = make([]float64, len(out))
	}
	if cap(b.in32) < len(in) {
		b.in32 = make([]float64, len(in))
	}
	o, n := b.out32[:len(out)], b.in32[:len(in)]
	for i, s := range in {
		n[i] = float64(s)
	}
	frames := b.Render(o, n)
	for i, s := range o {
		out[i] = float32(s)
	}
	return frames
}

func (b *Bridge) printTime() {
	sec := int64(b.now / b.cfg.SampleRate)
	if sec <= b.lastSecond {
		return
	}
	b.lastSecond = sec
	b.log.Info("time", logger.String("at", clock(sec)))
}

// clock formats whole seconds as hh:mm:ss
func clock(sec int64) string {
	return fmt.Sprintf("%02d:%02d:%02d", sec/3600, sec/60%60, sec%60)
}
