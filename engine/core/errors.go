package core

import (
	"errors"
)

var (
	ErrQueueStopped     = errors.New("submission queue stopped")
	ErrSwapchainBooting = errors.New("swapchain resized or recreated, booting")
	ErrUnknown          = errors.New("unknown")
)
