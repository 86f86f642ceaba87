package config

import (
	"os"
	"strconv"

	"github.com/pelletier/go-toml/v2"

	"github.com/spaghettifunk/prisma/engine/core"
)

// Environment variables that take precedence over the options file.
const (
	EnvFramePace        = "DXVK_FRAME_PACE"
	EnvLowLatencyOffset = "DXVK_LOW_LATENCY_OFFSET"
)

// Options are the user-facing knobs of the submission pipeline and the
// frame pacer.
type Options struct {
	// FramePace selects the pacing strategy: "max-frame-latency",
	// "low-latency" or "min-latency".
	FramePace string `toml:"frame_pace"`
	// LowLatencyOffset trades latency for smoothness in low-latency
	// mode, in microseconds. Clamped to [-10000, 10000].
	LowLatencyOffset int32 `toml:"low_latency_offset"`
	// MaxFrameLatency is how many frames the CPU may run ahead in
	// max-frame-latency mode.
	MaxFrameLatency uint64 `toml:"max_frame_latency"`
	// TargetFrameRate caps the frame rate. Zero disables the cap.
	TargetFrameRate float64 `toml:"target_frame_rate"`
}

// Default returns the options used when no file is present.
func Default() *Options {
	return &Options{
		FramePace:        "low-latency",
		LowLatencyOffset: 0,
		MaxFrameLatency:  3,
		TargetFrameRate:  0,
	}
}

// Load reads the options file at path, applies environment overrides and
// clamps the result. A missing file is not an error; the defaults plus
// environment are returned.
func Load(path string) (*Options, error) {
	opts := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			core.LogError(err.Error())
			return nil, err
		}
	} else {
		if err := toml.Unmarshal(data, opts); err != nil {
			core.LogError("failed to parse options file %s: %s", path, err.Error())
			return nil, err
		}
	}

	opts.applyEnv()
	opts.clamp()
	return opts, nil
}

func (o *Options) applyEnv() {
	if pace := os.Getenv(EnvFramePace); pace != "" {
		o.FramePace = pace
	}

	if offset, ok := lowLatencyOffsetFromEnv(); ok {
		o.LowLatencyOffset = offset
	}
}

// lowLatencyOffsetFromEnv reports the parsed value and whether the
// variable was set separately, so an explicit zero offset is honoured.
func lowLatencyOffsetFromEnv() (int32, bool) {
	v := os.Getenv(EnvLowLatencyOffset)
	if v == "" {
		return 0, false
	}

	offset, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		core.LogWarn("ignoring malformed %s=%q", EnvLowLatencyOffset, v)
		return 0, false
	}
	return int32(offset), true
}

func (o *Options) clamp() {
	if o.LowLatencyOffset > 10000 {
		o.LowLatencyOffset = 10000
	}
	if o.LowLatencyOffset < -10000 {
		o.LowLatencyOffset = -10000
	}
	if o.MaxFrameLatency == 0 {
		o.MaxFrameLatency = 1
	}
	if o.TargetFrameRate < 0 {
		o.TargetFrameRate = 0
	}
}
