package engine

// Control parameter names accepted by WriteInt/WriteFloat and mirrored
// into the parameter store. The standard acquire/image names follow the
// usual detector-control conventions; the EVT_ prefixed names are the
// camera-specific extensions.
const (
	CtrlAcquire     = "Acquire"
	CtrlImageMode   = "ImageMode"
	CtrlNumImages   = "NumImages"
	CtrlTriggerMode = "TriggerMode"
	CtrlSizeX       = "SizeX"
	CtrlSizeY       = "SizeY"
	CtrlMinX        = "MinX"
	CtrlMinY        = "MinY"
	CtrlColorMode   = "ColorMode"
	CtrlGain        = "Gain"
	CtrlAcquireTime = "AcquireTime"

	CtrlPixelFormat = "EVT_PixelFormat"
	CtrlFramerate   = "EVT_Framerate"
	CtrlOffsetX     = "EVT_OffsetX"
	CtrlOffsetY     = "EVT_OffsetY"
	CtrlBufferMode  = "EVT_BufferMode"
	CtrlBufferNum   = "EVT_BufferNum"
	CtrlPacketSize  = "EVT_PacketSize"
	CtrlLUTEnable   = "EVT_LUTEnable"
	CtrlAutoGain    = "EVT_AutoGain"

	// Readbacks published by the engine.
	CtrlArrayCounter  = "ArrayCounter"
	CtrlDetectorState = "DetectorState"
	CtrlManufacturer  = "Manufacturer"
	CtrlModel         = "Model"
	CtrlSerialNumber  = "SerialNumber"
	CtrlFirmware      = "FirmwareVersion"
	CtrlDriverVersion = "DriverVersion"
)

// ImageMode selects how the capture loop decides continuation.
type ImageMode int

const (
	// ImageModeSingle publishes exactly one image, then auto-stops.
	ImageModeSingle ImageMode = iota
	// ImageModeMultiple publishes NumImages images, then auto-stops.
	ImageModeMultiple
	// ImageModeContinuous runs until Stop.
	ImageModeContinuous
)

// Trigger modes, matching the device's TriggerMode parameter.
const (
	TriggerFreeRun  = 0
	TriggerSoftware = 1
)
