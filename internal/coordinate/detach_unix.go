//go:build unix

package coordinate

import "syscall"

// detachAttr puts the run in its own session so it survives the hook
// process's terminal and process group.
func detachAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
