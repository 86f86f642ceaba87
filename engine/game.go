package engine

import (
	"github.com/spaghettifunk/prisma/engine/renderer/gpu"
)

// Producer is the front-end that drives the pipeline: it records the
// command lists of each frame. It stands in for the translation layer
// that turns client API calls into GPU work.
type Producer struct {
	ApplicationConfig *ApplicationConfig
	State             interface{}
	FnInitialize      Initialize
	FnRecordFrame     RecordFrame
	FnShutdown        Shutdown
}

type Initialize func() error

// AcquireCommandList hands out a recording-ready command list.
type AcquireCommandList func() (gpu.CommandList, error)

// RecordFrame records the work of frame frameID and returns the command
// lists to submit, in order.
type RecordFrame func(frameID uint64, acquire AcquireCommandList) ([]gpu.CommandList, error)

type Shutdown func() error
