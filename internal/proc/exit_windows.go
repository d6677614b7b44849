//go:build windows

package proc

import (
	"errors"
	"os/exec"
	"time"
)

// decodeExit converts the error returned by exec.Cmd.Wait into an ExitResult.
// Windows has no signal-exit notion, so only exit codes are reported.
func decodeExit(err error) ExitResult {
	res := ExitResult{At: time.Now()}
	if err == nil {
		zero := 0
		res.Code = &zero
		return res
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		code := ee.ExitCode()
		res.Code = &code
		return res
	}
	res.Err = err
	return res
}
