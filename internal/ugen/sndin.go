package ugen

import (
	"fmt"
	"os"

	"github.com/go-audio/wav"

	"github.com/alltom/ckv/internal/errors"
)

// SndIn plays a WAV file, mixed down to mono. The whole file is decoded when
// it is opened so ticking never touches the disk. rate scales playback
// speed; the file's own sample rate is matched to the VM's.
type SndIn struct {
	base
	path   string
	data   []float64
	step   float64 // file frames per output frame at rate 1
	pos    float64
	rate   float64
	closed bool
}

func audioDivisor(bitDepth int) (float64, error) {
	switch bitDepth {
	case 16:
		return 32768, nil
	case 24:
		return 8388608, nil
	case 32:
		return 2147483648, nil
	}
	return 0, fmt.Errorf("unsupported bit depth: %d", bitDepth)
}

// OpenSndIn decodes path for playback at sample rate sr
func OpenSndIn(path string, sr float64) (*SndIn, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New(err).Component("ugen").Category(errors.CategoryFileIO).Context("path", path).Build()
	}
	defer f.Close()

	fail := func(err error) (*SndIn, error) {
		return nil, errors.New(err).Component("ugen").Category(errors.CategoryFileIO).Context("path", path).Build()
	}

	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if !dec.IsValidFile() {
		return fail(fmt.Errorf("not a valid WAV file"))
	}
	div, err := audioDivisor(int(dec.BitDepth))
	if err != nil {
		return fail(err)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return fail(err)
	}

	chans := int(dec.NumChans)
	if chans < 1 {
		return fail(fmt.Errorf("no channels"))
	}
	frames := len(buf.Data) / chans
	data := make([]float64, frames)
	for i := 0; i < frames; i++ {
		s := 0
		for c := 0; c < chans; c++ {
			s += buf.Data[i*chans+c]
		}
		data[i] = float64(s) / float64(chans) / div
	}

	return &SndIn{
		path: path,
		data: data,
		step: float64(dec.SampleRate) / sr,
		rate: 1,
	}, nil
}

// Duration is the file's length in output frames at rate 1
func (n *SndIn) Duration() float64 {
	if n.step == 0 {
		return 0
	}
	return float64(len(n.data)) / n.step
}

// Done reports whether playback has passed the end of the file
func (n *SndIn) Done() bool { return n.closed || int(n.pos) >= len(n.data) || n.pos < 0 }

func (n *SndIn) Tick(*Graph) {
	if n.Done() {
		n.last = 0
		return
	}
	n.last = n.data[int(n.pos)]
	n.pos += n.step * n.rate
}

// Close releases the decoded samples; the node outputs silence afterwards
func (n *SndIn) Close() error {
	n.closed = true
	n.data = nil
	return nil
}

func (n *SndIn) Field(name string) (any, bool) {
	switch name {
	case "rate":
		return n.rate, true
	case "duration":
		return n.Duration(), true
	case "path":
		return n.path, true
	case "pos":
		if n.step == 0 {
			return 0.0, true
		}
		return n.pos / n.step, true
	}
	return n.base.Field(name)
}

func (n *SndIn) SetField(name string, v any) error {
	switch name {
	case "rate", "pos":
	default:
		return noField("SndIn", name)
	}
	f, err := number("SndIn", name, v)
	if err != nil {
		return err
	}
	if name == "rate" {
		n.rate = f
	} else {
		n.pos = f * n.step
	}
	return nil
}
