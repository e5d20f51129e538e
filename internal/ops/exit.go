package ops

import "github.com/yanun0323/errors"

// Process exit codes.
const (
	ExitOK        = 0
	ExitConfig    = 1
	ExitVenueAuth = 2
	ExitInvariant = 3
)

// ExitCodeFor maps a startup error to the process exit code.
func ExitCodeFor(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrVenueAuth):
		return ExitVenueAuth
	default:
		return ExitConfig
	}
}
