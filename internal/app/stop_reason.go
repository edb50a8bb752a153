package app

// StopReason is logged when the daemon shuts down.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSIGINT     StopReason = "sigint"
	StopSIGTERM    StopReason = "sigterm"
	StopFatalError StopReason = "fatal_error"
	StopAppStop    StopReason = "app_stop"
	// StopOneShot ends a single convert run once its jobs settle.
	StopOneShot StopReason = "one_shot"
)
