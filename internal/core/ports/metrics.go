package ports

// MetricsRecorder receives lifecycle events for instrumentation.
type MetricsRecorder interface {
	ObserveOperation(op, result string)
	SetRunning(n int)
}
