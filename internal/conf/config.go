// Package conf loads ckv settings from defaults, ckv.yaml, CKV_ environment
// variables and command line flags, in rising order of precedence.
package conf

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/alltom/ckv/internal/errors"
	"github.com/alltom/ckv/internal/logger"
)

// Settings is the whole configuration
type Settings struct {
	Audio   AudioSettings   `mapstructure:"audio"`
	Offline OfflineSettings `mapstructure:"offline"`
	MIDI    MIDISettings    `mapstructure:"midi"`
	Tempo   TempoSettings   `mapstructure:"tempo"`
	Log     LogSettings     `mapstructure:"log"`
	Metrics MetricsSettings `mapstructure:"metrics"`
}

// AudioSettings configures the realtime device and the render loop
type AudioSettings struct {
	Backend      string  `mapstructure:"backend"` // portaudio or malgo
	Device       string  `mapstructure:"device"`  // substring of the output device name, empty for default
	SampleRate   int     `mapstructure:"samplerate"`
	BufferFrames int     `mapstructure:"bufferframes"`
	Channels     int     `mapstructure:"channels"`
	HardClip     float64 `mapstructure:"hardclip"` // 0 disables clipping
	PrintTime    bool    `mapstructure:"printtime"`
}

// OfflineSettings configures rendering to a wav file
type OfflineSettings struct {
	Enabled  bool    `mapstructure:"enabled"`
	Output   string  `mapstructure:"output"`
	Duration float64 `mapstructure:"duration"` // seconds, 0 renders until the VM is idle
	BitDepth int     `mapstructure:"bitdepth"`
}

// MIDISettings configures the MIDI reader
type MIDISettings struct {
	Enabled      bool          `mapstructure:"enabled"`
	Port         int           `mapstructure:"port"` // -1 uses the default input
	Buffer       int           `mapstructure:"buffer"`
	PollInterval time.Duration `mapstructure:"pollinterval"`
}

// TempoSettings configures the optional beat clock
type TempoSettings struct {
	BPM float64 `mapstructure:"bpm"`
}

// LogSettings mirrors logger.Config
type LogSettings struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"maxsize"` // megabytes before the file rotates
	MaxBackups int    `mapstructure:"maxbackups"`
	MaxAge     int    `mapstructure:"maxage"` // days
	Compress   bool   `mapstructure:"compress"`
}

// MetricsSettings configures the prometheus endpoint
type MetricsSettings struct {
	Listen string `mapstructure:"listen"`
}

// Logger returns the logger configuration
func (s *Settings) Logger() logger.Config {
	return logger.Config{
		Level:      s.Log.Level,
		Format:     s.Log.Format,
		File:       s.Log.File,
		MaxSize:    s.Log.MaxSize,
		MaxBackups: s.Log.MaxBackups,
		MaxAge:     s.Log.MaxAge,
		Compress:   s.Log.Compress,
	}
}

// BeatRate is the beat clock rate relative to the sample clock, 0 without one
func (s *Settings) BeatRate() float64 {
	if s.Tempo.BPM <= 0 {
		return 0
	}
	return s.Tempo.BPM / (60 * float64(s.Audio.SampleRate))
}

// New returns a viper instance with defaults, search paths and the CKV_
// environment prefix set up
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("ckv")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "ckv"))
	}

	v.SetEnvPrefix("CKV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file, if any, and returns validated settings. An
// empty file searches the default paths; a missing default file is fine, a
// missing explicit one is not.
func Load(v *viper.Viper, file string) (*Settings, error) {
	if file != "" {
		v.SetConfigFile(file)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, errors.New(err).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Context("file", file).
				Build()
		}
	}

	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err := Validate(s); err != nil {
		return nil, err
	}
	return s, nil
}

// flag name => config key
var flagKeys = map[string]string{
	"backend":   "audio.backend",
	"device":    "audio.device",
	"srate":     "audio.samplerate",
	"buffer":    "audio.bufferframes",
	"channels":  "audio.channels",
	"hardclip":  "audio.hardclip",
	"printtime": "audio.printtime",
	"midi":      "midi.enabled",
	"midiport":  "midi.port",
	"bpm":       "tempo.bpm",
	"loglevel":  "log.level",
	"logformat": "log.format",
	"logfile":   "log.file",
	"metrics":   "metrics.listen",
	"out":       "offline.output",
	"duration":  "offline.duration",
	"bitdepth":  "offline.bitdepth",
}

// Flags defines the realtime command line flags on fs
func Flags(fs *pflag.FlagSet) {
	fs.String("backend", defaults["audio.backend"].(string), "audio backend (portaudio|malgo)")
	fs.String("device", "", "output device name, default device if empty")
	fs.Int("srate", defaults["audio.samplerate"].(int), "sample rate in Hz")
	fs.Int("buffer", defaults["audio.bufferframes"].(int), "frames per audio buffer")
	fs.Int("channels", defaults["audio.channels"].(int), "output channels")
	fs.Float64("hardclip", 0, "clip output to +/- this level, 0 for none")
	fs.Bool("printtime", false, "log the render clock every second")
	fs.Bool("midi", false, "read MIDI input")
	fs.Int("midiport", -1, "MIDI input device id, -1 for the default")
	fs.Float64("bpm", 0, "register a beat clock at this tempo")
	fs.String("loglevel", defaults["log.level"].(string), "log level (debug|info|warn|error)")
	fs.String("logformat", defaults["log.format"].(string), "log format (text|json)")
	fs.String("logfile", "", "append logs to this file")
	fs.String("metrics", "", "serve prometheus metrics on this address")
}

// OfflineFlags defines the render command flags on fs
func OfflineFlags(fs *pflag.FlagSet) {
	fs.String("out", defaults["offline.output"].(string), "output wav file")
	fs.Float64("duration", 0, "seconds to render, 0 renders until idle")
	fs.Int("bitdepth", defaults["offline.bitdepth"].(int), "output bit depth (16|24|32)")
}

// BindFlags binds every known flag defined on fs to its config key
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return errors.New(err).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Context("flag", name).
				Build()
		}
	}
	return nil
}
