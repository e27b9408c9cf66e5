package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/gen2brain/malgo"
	pa "github.com/gordonklaus/portaudio"
	"github.com/rakyll/portmidi"
)

// terminal colours
const (
	reset  = "\x1b[0m"
	bold   = "\x1b[1m"
	italic = "\x1b[3m"
	red    = "\x1b[31;1m"
	green  = "\x1b[32m"
	yellow = "\x1b[33m"
	cyan   = "\x1b[36m"
)

const advisory = `
Protect your hearing when listening to any audio on a system capable of
more than 85dB SPL.
`

const rule = "───────────────────────────────────────────────────"

// listDevices prints what each backend can see. A backend that fails to
// initialise is reported and skipped.
func listDevices(w io.Writer) error {
	fmt.Fprintf(w, "%sportaudio%s\n╭%s╮\n", cyan, reset, rule)
	if rr := portaudioDevices(w); e(rr) {
		fmt.Fprintf(w, "\t%sunavailable:%s %v\n", red, reset, rr)
	}
	fmt.Fprintf(w, "╰%s╯\n%smalgo%s\n╭%s╮\n", rule, cyan, reset, rule)
	if rr := malgoDevices(w); e(rr) {
		fmt.Fprintf(w, "\t%sunavailable:%s %v\n", red, reset, rr)
	}
	fmt.Fprintf(w, "╰%s╯\n%smidi%s\n╭%s╮\n", rule, cyan, reset, rule)
	if rr := midiDevices(w); e(rr) {
		fmt.Fprintf(w, "\t%sunavailable:%s %v\n", red, reset, rr)
	}
	fmt.Fprintf(w, "╰%s╯\n", rule)
	return nil
}

func portaudioDevices(w io.Writer) error {
	if rr := pa.Initialize(); e(rr) {
		return rr
	}
	defer pa.Terminate()
	fmt.Fprintf(w, "\t%s\n", strings.Split(pa.VersionText(), ",")[0])
	devices, rr := pa.Devices()
	if e(rr) {
		return rr
	}
	def, _ := pa.DefaultOutputDevice()
	for i, d := range devices {
		mark := " "
		if d == def {
			mark = green + "*" + reset
		}
		fmt.Fprintf(w, "\t%s%2d %s%s%s in:%d out:%d SR: %.f\n",
			mark, i, bold, d.Name, reset, d.MaxInputChannels, d.MaxOutputChannels, d.DefaultSampleRate)
	}
	return nil
}

func malgoDevices(w io.Writer) error {
	ctx, rr := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if e(rr) {
		return rr
	}
	defer func() {
		ctx.Uninit()
		ctx.Free()
	}()
	infos, rr := ctx.Devices(malgo.Playback)
	if e(rr) {
		return rr
	}
	for i, info := range infos {
		mark := " "
		if info.IsDefault != 0 {
			mark = green + "*" + reset
		}
		fmt.Fprintf(w, "\t%s%2d %s%s%s\n", mark, i, bold, info.Name(), reset)
	}
	return nil
}

func midiDevices(w io.Writer) error {
	if rr := portmidi.Initialize(); e(rr) {
		return rr
	}
	defer portmidi.Terminate()
	n := portmidi.CountDevices()
	if n == 0 {
		fmt.Fprintf(w, "\t%sno devices%s\n", italic, reset)
	}
	def := portmidi.DefaultInputDeviceID()
	for i := 0; i < n; i++ {
		id := portmidi.DeviceID(i)
		info := portmidi.Info(id)
		if info == nil {
			continue
		}
		mark := " "
		if id == def {
			mark = green + "*" + reset
		}
		dir := yellow + "out" + reset
		if info.IsInputAvailable {
			dir = yellow + "in" + reset
		}
		fmt.Fprintf(w, "\t%s%2d %s%s%s %s (%s)\n", mark, i, bold, info.Name, reset, dir, info.Interface)
	}
	return nil
}
