package core

// Exit codes for the bananagen CLI.
// Signal-based exits follow the Unix 128 + signal number convention.
const (
	// ExitCodeSuccess indicates every requested job succeeded
	ExitCodeSuccess = 0

	// ExitCodeError indicates a usage, configuration or startup error
	ExitCodeError = 1

	// ExitCodeJobsFailed indicates the command ran but at least one job failed
	ExitCodeJobsFailed = 2

	// ExitCodeSIGINT indicates termination due to SIGINT (Ctrl+C)
	ExitCodeSIGINT = 130
)

// ExitCodeName returns a human-readable name for an exit code.
func ExitCodeName(code int) string {
	switch code {
	case ExitCodeSuccess:
		return "success"
	case ExitCodeError:
		return "error"
	case ExitCodeJobsFailed:
		return "jobs failed"
	case ExitCodeSIGINT:
		return "interrupted (SIGINT)"
	default:
		return "unknown"
	}
}
