package output

import (
	"os"
	"path/filepath"
)

// LogDirName is the directory created under a project's working directory
// to hold detached stdio logs.
const LogDirName = ".dev-server-logs"

// DetachedPaths returns the stdout/stderr log paths for a detached project
// run under dir. An empty dir resolves relative to the current directory.
func DetachedPaths(dir, project string) (string, string) {
	base := filepath.Join(dir, LogDirName)
	return filepath.Join(base, project+"-out.log"), filepath.Join(base, project+"-err.log")
}

// DetachedFiles creates the log directory and opens both log files in
// append mode. The child inherits these descriptors, so its output
// survives supervisor exit.
func DetachedFiles(dir, project string) (stdout, stderr *os.File, err error) {
	outPath, errPath := DetachedPaths(dir, project)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o750); err != nil {
		return nil, nil, err
	}
	outF, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	errF, err := os.OpenFile(errPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		_ = outF.Close()
		return nil, nil, err
	}
	return outF, errF, nil
}
