package gpu

// Result mirrors the result codes of the underlying graphics API. The
// submission queue and pacer only ever branch on Success, NotReady and
// ErrorDeviceLost; everything else is carried through opaquely.
type Result int32

const (
	Success  Result = 0
	NotReady Result = 1

	ErrorOutOfHostMemory   Result = -1
	ErrorOutOfDeviceMemory Result = -2
	ErrorDeviceLost        Result = -4
	ErrorUnknown           Result = -13
	ErrorSurfaceLost       Result = -1000000000
	ErrorOutOfDate         Result = -1000001004
)

func (r Result) String() string {
	switch r {
	case Success:
		return "SUCCESS"
	case NotReady:
		return "NOT_READY"
	case ErrorOutOfHostMemory:
		return "ERROR_OUT_OF_HOST_MEMORY"
	case ErrorOutOfDeviceMemory:
		return "ERROR_OUT_OF_DEVICE_MEMORY"
	case ErrorDeviceLost:
		return "ERROR_DEVICE_LOST"
	case ErrorUnknown:
		return "ERROR_UNKNOWN"
	case ErrorSurfaceLost:
		return "ERROR_SURFACE_LOST"
	case ErrorOutOfDate:
		return "ERROR_OUT_OF_DATE"
	}
	return "UNKNOWN"
}

// PresentMode selects how presents are paced by the surface.
type PresentMode int32

const (
	PresentModeImmediate PresentMode = 0
	PresentModeMailbox   PresentMode = 1
	PresentModeFifo      PresentMode = 2
)
