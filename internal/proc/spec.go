package proc

import (
	"os"
	"os/exec"
	"strings"
)

// StdioMode selects how the child's stdout/stderr are wired.
type StdioMode int

const (
	// StdioPiped routes stdout/stderr through pipes owned by the handle.
	StdioPiped StdioMode = iota
	// StdioInherit passes the supervisor's own stdio through to the child.
	StdioInherit
	// StdioFiles redirects stdout/stderr to the files given in Spec.
	StdioFiles
)

// Spec describes one child process to launch.
type Spec struct {
	Project  string
	Command  string
	Args     []string
	Dir      string   // optional working dir
	Env      []string // full environment in "K=V" form; nil inherits
	Detached bool     // new session, survives supervisor exit
	Stdio    StdioMode
	Stdout   *os.File // destination when Stdio == StdioFiles
	Stderr   *os.File // destination when Stdio == StdioFiles
}

// BuildCommand constructs an *exec.Cmd for the spec. With explicit Args the
// command is executed directly. A bare Command string avoids invoking a
// shell when not necessary, respects an explicit shell invocation already
// present (e.g. "sh -c 'echo hi'") without double-wrapping, and falls back
// to a shell when metacharacters are present.
func (s *Spec) BuildCommand() *exec.Cmd {
	cmdStr := strings.TrimSpace(s.Command)
	if len(s.Args) > 0 {
		// #nosec G204
		return exec.Command(cmdStr, s.Args...)
	}
	if cmdStr == "" {
		return getTrueCommand()
	}
	// If the command already explicitly uses a shell, honor it without adding another layer.
	if _, afterC, ok := parseExplicitShell(cmdStr); ok {
		return getShellCommand(afterC)
	}
	// Fallback: when metacharacters are present, use the shell
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		return getShellCommand(cmdStr)
	}
	parts := strings.Fields(cmdStr)
	name := parts[0]
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	// ok: intentional execution, input is validated and safe
	// #nosec G204
	return exec.Command(name, args...)
}

// parseExplicitShell detects patterns like "sh -c <ARG>" or "/bin/sh -c <ARG>" at the
// beginning of cmdStr. It returns (shellPath, afterCArg, true) when matched.
// It preserves the substring after "-c " verbatim to avoid breaking quoting.
func parseExplicitShell(cmdStr string) (string, string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	candidates := []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "}
	for _, p := range candidates {
		if strings.HasPrefix(trim, p) {
			after := trim[len(p):]
			// If after is wrapped in single or double quotes, strip one pair so that
			// we pass the actual script to the shell (the outer quotes would otherwise
			// inhibit parsing/redirection inside the script).
			if n := len(after); n >= 2 {
				if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
					after = after[1 : n-1]
				}
			}
			return strings.Fields(p)[0], after, true
		}
	}
	return "", "", false
}
