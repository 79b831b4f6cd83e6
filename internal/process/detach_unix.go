//go:build unix

package process

import (
	"os/exec"
	"syscall"
)

// detach puts the child in its own process group so signals aimed at this
// process do not reach it.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
