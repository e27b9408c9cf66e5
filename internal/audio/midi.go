package audio

import (
	"github.com/smallnest/ringbuffer"

	"github.com/alltom/ckv/internal/errors"
	"github.com/alltom/ckv/internal/vm"
)

// Kind of a channel voice message
type Kind int

const (
	NoteOff Kind = iota
	NoteOn
	KeyPressure
	ControlChange
	ProgramChange
	ChannelPressure
	PitchBend
)

var kindNames = [...]string{"note_off", "note_on", "key_pressure", "control_change", "program_change", "channel_pressure", "pitch_bend"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// Message is a decoded channel voice message. Velocity and Pressure are
// scaled to [0, 1], Bend to [-1, 1].
type Message struct {
	Kind     Kind
	Channel  int
	Note     int
	Velocity float64
	Control  int
	Value    int
	Bend     float64
	Pressure float64
}

// DecodeMIDI turns three raw bytes into a Message. System messages are not
// decoded. A note on with velocity 0 is a note off.
func DecodeMIDI(status, d1, d2 byte) (Message, bool) {
	m := Message{Channel: int(status & 0x0f)}
	switch status & 0xf0 {
	case 0x80:
		m.Kind, m.Note = NoteOff, int(d1)
	case 0x90:
		m.Kind, m.Note, m.Velocity = NoteOn, int(d1), float64(d2)/127
		if d2 == 0 {
			m.Kind = NoteOff
		}
	case 0xa0:
		m.Kind, m.Note, m.Pressure = KeyPressure, int(d1), float64(d2)/127
	case 0xb0:
		m.Kind, m.Control, m.Value = ControlChange, int(d1), int(d2)
	case 0xc0:
		m.Kind, m.Value = ProgramChange, int(d1)
	case 0xd0:
		m.Kind, m.Pressure = ChannelPressure, float64(d1)/127
	case 0xe0:
		m.Kind = PitchBend
		m.Bend = float64((int(d2&0x7f)<<7|int(d1&0x7f))-8192) / 8192
	default:
		return Message{}, false
	}
	return m, true
}

const midiRecord = 4 // status, data1, data2, unused

// MIDI is the script-visible midi object. Each field holds the latest value
// carried by any message, so a control change leaves note and velocity
// alone. Its event fields are broadcast as messages arrive.
type MIDI struct {
	last   Message
	state  Message
	events map[string]*vm.Event
}

func newMIDI(v *vm.VM) *MIDI {
	m := &MIDI{events: make(map[string]*vm.Event)}
	for _, k := range []Kind{NoteOn, NoteOff, KeyPressure, ControlChange, ProgramChange, PitchBend, ChannelPressure} {
		m.events[k.String()] = v.NewEvent("midi." + k.String())
	}
	m.events["any"] = v.NewEvent("midi.any")
	return m
}

// Last returns the most recent message
func (m *MIDI) Last() Message { return m.last }

// Event returns the event broadcast for kind ("note_on", ... or "any")
func (m *MIDI) Event(kind string) *vm.Event { return m.events[kind] }

func (m *MIDI) Field(name string) (any, bool) {
	if ev, ok := m.events[name]; ok {
		return ev, true
	}
	st := &m.state
	switch name {
	case "kind":
		return m.last.Kind.String(), true
	case "channel":
		return float64(st.Channel), true
	case "note":
		return float64(st.Note), true
	case "velocity":
		return st.Velocity, true
	case "control":
		return float64(st.Control), true
	case "value":
		return float64(st.Value), true
	case "bend":
		return st.Bend, true
	case "pressure":
		return st.Pressure, true
	}
	return nil, false
}

func (m *MIDI) SetField(name string, _ any) error {
	return errors.Newf("midi.%s is read-only", name).Component("audio").Category(errors.CategoryValidation).Build()
}

func (m *MIDI) dispatch(msg Message) {
	m.last = msg
	st := &m.state
	st.Kind, st.Channel = msg.Kind, msg.Channel
	switch msg.Kind {
	case NoteOn, NoteOff:
		st.Note, st.Velocity = msg.Note, msg.Velocity
	case KeyPressure:
		st.Note, st.Pressure = msg.Note, msg.Pressure
	case ControlChange:
		st.Control, st.Value = msg.Control, msg.Value
	case ProgramChange:
		st.Value = msg.Value
	case ChannelPressure:
		st.Pressure = msg.Pressure
	case PitchBend:
		st.Bend = msg.Bend
	}
	if ev := m.events[msg.Kind.String()]; ev != nil {
		ev.Broadcast()
	}
	m.events["any"].Broadcast()
}

// midiQueue carries raw messages from the reader goroutine to the render
// loop in fixed-size records
type midiQueue struct {
	rb      *ringbuffer.RingBuffer
	scratch []byte
}

func newMIDIQueue(events int) *midiQueue {
	if events < 1 {
		events = 1
	}
	return &midiQueue{
		rb:      ringbuffer.New(events * midiRecord),
		scratch: make([]byte, events*midiRecord),
	}
}

// push is called by the single reader goroutine; false means dropped
func (q *midiQueue) push(status, d1, d2 byte) bool {
	if q.rb.Free() < midiRecord {
		return false
	}
	_, err := q.rb.Write([]byte{status, d1, d2, 0})
	return err == nil
}

// drain hands every queued record to fn; it does not allocate
func (q *midiQueue) drain(fn func(status, d1, d2 byte)) {
	n, _ := q.rb.Read(q.scratch)
	for i := 0; i+midiRecord <= n; i += midiRecord {
		fn(q.scratch[i], q.scratch[i+1], q.scratch[i+2])
	}
}
