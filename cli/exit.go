package cli

import "fmt"

// Exit codes: 0 success, 1 runtime failure, 2 configuration or usage
// problem.
const (
	exitSuccess    = 0
	exitRuntime    = 1
	exitValidation = 2
)

// ExitError carries a specific process exit code. Cobra's RunE returns
// it so main can exit with the right code.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

// exitError creates an ExitError with a formatted message.
func exitError(code int, format string, args ...any) *ExitError {
	return &ExitError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}
