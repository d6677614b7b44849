//go:build !windows

package proc

import (
	"errors"
	"os/exec"
	"syscall"
	"time"
)

// decodeExit converts the error returned by exec.Cmd.Wait into an ExitResult.
func decodeExit(err error) ExitResult {
	res := ExitResult{At: time.Now()}
	if err == nil {
		zero := 0
		res.Code = &zero
		return res
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		if ws, ok := ee.Sys().(syscall.WaitStatus); ok {
			if ws.Signaled() {
				res.Signal = SignalName(ws.Signal())
				return res
			}
			code := ws.ExitStatus()
			res.Code = &code
			return res
		}
		code := ee.ExitCode()
		res.Code = &code
		return res
	}
	res.Err = err
	return res
}
