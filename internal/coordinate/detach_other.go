//go:build !unix

package coordinate

import "syscall"

func detachAttr() *syscall.SysProcAttr {
	return nil
}
