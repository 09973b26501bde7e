package device

// FunctionID tags a scheduled or in-flight request. The high bits are
// opaque namespacing for concrete drivers; only the base-class range below
// 0x1000 has fixed meaning.
type FunctionID uint32

const (
	Unspecified FunctionID = iota
	ReadVersion
	ReadDeviceAddr
	WriteDeviceAddr
	WriteUartParams
	// CustomStart is where concrete driver function ids begin, mirroring
	// the vendor firmware's own RtuCustomStart split between base-class
	// housekeeping functions and device-specific ones.
	CustomStart FunctionID = 0x1000
)
