package application

import (
	"errors"

	"github.com/openkraft/anvil/internal/domain"
)

// Process exit codes.
const (
	ExitPassed      = 0
	ExitFailed      = 1
	ExitConfig      = 2
	ExitToolMissing = 3
)

// ExitCodeFor maps a run outcome to the process exit code. A missing
// required tool wins over the verdict; any other error means the run could
// not be evaluated.
func ExitCodeFor(report *domain.RunReport, err error) int {
	switch {
	case errors.Is(err, domain.ErrToolMissing):
		return ExitToolMissing
	case err != nil:
		return ExitConfig
	case report == nil:
		return ExitConfig
	case report.Run.Passed:
		return ExitPassed
	default:
		return ExitFailed
	}
}
