package proc

import (
	"fmt"
	"strconv"
	"strings"
	"syscall"
)

// SignalName returns the conventional SIGXXX name for common signals,
// falling back to the numeric form for the rest.
func SignalName(sig syscall.Signal) string {
	switch sig {
	case syscall.SIGHUP:
		return "SIGHUP"
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGQUIT:
		return "SIGQUIT"
	case syscall.SIGKILL:
		return "SIGKILL"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return fmt.Sprintf("SIG%d", int(sig))
}

// ParseSignal accepts "TERM", "SIGTERM" or a number and returns the signal.
func ParseSignal(s string) (syscall.Signal, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	if name == "" {
		return 0, fmt.Errorf("proc: empty signal name")
	}
	if n, err := strconv.Atoi(name); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("proc: invalid signal number %d", n)
		}
		return syscall.Signal(n), nil
	}
	name = strings.TrimPrefix(name, "SIG")
	switch name {
	case "HUP":
		return syscall.SIGHUP, nil
	case "INT":
		return syscall.SIGINT, nil
	case "QUIT":
		return syscall.SIGQUIT, nil
	case "KILL":
		return syscall.SIGKILL, nil
	case "TERM":
		return syscall.SIGTERM, nil
	}
	return 0, fmt.Errorf("proc: unknown signal %q", s)
}
