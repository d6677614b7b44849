package proc

import (
	"errors"
	"os"
)

// ErrNoCommand is returned when a spec has neither a command string nor args.
var ErrNoCommand = errors.New("proc: empty command")

// Launcher spawns child processes described by a Spec. Launch returns
// immediately; spawn success or failure is reported through the handle.
type Launcher interface {
	Launch(spec Spec) (Handle, error)
}

// ExecLauncher launches children with os/exec.
type ExecLauncher struct{}

func (ExecLauncher) Launch(spec Spec) (Handle, error) {
	if spec.Command == "" && len(spec.Args) == 0 {
		return nil, ErrNoCommand
	}
	cmd := spec.BuildCommand()
	if spec.Dir != "" {
		cmd.Dir = spec.Dir
	}
	if len(spec.Env) > 0 {
		cmd.Env = spec.Env
	}
	configureSysProcAttr(cmd, spec.Detached)

	h := newExecHandle(spec.Project)
	var parentClosers []*os.File
	switch spec.Stdio {
	case StdioInherit:
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	case StdioFiles:
		// nil destinations fall through to the null device
		if spec.Stdout != nil {
			cmd.Stdout = spec.Stdout
			parentClosers = append(parentClosers, spec.Stdout)
		}
		if spec.Stderr != nil {
			cmd.Stderr = spec.Stderr
			parentClosers = append(parentClosers, spec.Stderr)
		}
	default: // StdioPiped
		outR, outW, err := os.Pipe()
		if err != nil {
			return nil, err
		}
		errR, errW, err := os.Pipe()
		if err != nil {
			_ = outR.Close()
			_ = outW.Close()
			return nil, err
		}
		cmd.Stdout = outW
		cmd.Stderr = errW
		h.stdout = outR
		h.stderr = errR
		parentClosers = append(parentClosers, outW, errW)
	}

	go h.run(cmd, parentClosers)
	return h, nil
}
