// Package sandbox optionally confines worker processes with bubblewrap.
package sandbox

import (
	"os/exec"
	"path/filepath"
	"runtime"
)

// Argv returns the command and args to exec for a worker. If home is
// non-empty and bubblewrap (bwrap) is available on Linux, the worker
// runs inside a minimal bubblewrap sandbox: home is read-only, workDir
// (when non-empty and under home) is the only writable path, and the
// system dirs are bound read-only. Otherwise the argv is returned
// unchanged.
func Argv(home, workDir, binary string, args []string) (string, []string) {
	if home == "" || runtime.GOOS != "linux" {
		return binary, args
	}
	bwrap, err := exec.LookPath("bwrap")
	if err != nil {
		return binary, args
	}
	absHome, err := filepath.Abs(home)
	if err != nil {
		return binary, args
	}
	absWork := ""
	if workDir != "" {
		if d, err := filepath.Abs(workDir); err == nil && underDir(absHome, d) {
			absWork = d
		}
	}
	return bwrap, bwrapArgv(absHome, absWork, binary, args)
}

// bwrapArgv builds the bubblewrap argument list. With a writable work
// dir, home stays read-only; without one the whole home is writable.
func bwrapArgv(absHome, absWork, binary string, args []string) []string {
	var out []string
	if absWork != "" {
		out = []string{"--ro-bind", absHome, absHome, "--bind", absWork, absWork}
	} else {
		out = []string{"--bind", absHome, absHome}
	}
	out = append(out,
		"--ro-bind", "/usr", "/usr",
		"--ro-bind", "/lib", "/lib",
		"--ro-bind", "/lib64", "/lib64",
		"--dev", "/dev",
		"--proc", "/proc",
		"--tmpfs", "/tmp",
		"--unshare-pid",
		"--", binary,
	)
	return append(out, args...)
}

func underDir(parent, child string) bool {
	return child == parent ||
		(len(child) > len(parent) && child[:len(parent)] == parent && child[len(parent)] == filepath.Separator)
}
