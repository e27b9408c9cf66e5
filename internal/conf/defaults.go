package conf

import (
	"time"

	"github.com/spf13/viper"
)

var defaults = map[string]any{
	"audio.backend":      "portaudio",
	"audio.device":       "",
	"audio.samplerate":   48000,
	"audio.bufferframes": 256,
	"audio.channels":     2,
	"audio.hardclip":     0.0,
	"audio.printtime":    false,

	"offline.enabled":  false,
	"offline.output":   "ckv.wav",
	"offline.duration": 0.0,
	"offline.bitdepth": 16,

	"midi.enabled":      false,
	"midi.port":         -1,
	"midi.buffer":       256,
	"midi.pollinterval": 2 * time.Millisecond,

	"tempo.bpm": 0.0,

	"log.level":      "info",
	"log.format":     "text",
	"log.file":       "",
	"log.maxsize":    100,
	"log.maxbackups": 3,
	"log.maxage":     28,
	"log.compress":   false,

	"metrics.listen": "",
}

func setDefaults(v *viper.Viper) {
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
}
