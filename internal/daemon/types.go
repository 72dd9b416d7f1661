package daemon

// StartOptions configures the daemon. Component tuning (pool limits,
// scoring weights, gate definitions) comes from the config file under
// Home; options here are the process-level knobs the CLI exposes.
type StartOptions struct {
	Home      string
	Addr      string // overrides server.listen from the config file
	PprofAddr string
	NoMetrics bool // disable the OTel meter provider and /metrics
}

// StatusInfo is the result of Status (running or not, PID, listen addr).
type StatusInfo struct {
	Running bool
	PID     int
	Addr    string
}
