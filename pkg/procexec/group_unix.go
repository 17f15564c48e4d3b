//go:build !windows

package procexec

import (
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// With Setpgid the group id equals the leader's pid; a negative pid
// addresses the whole group.
func interruptGroup(p *os.Process) error {
	return unix.Kill(-p.Pid, unix.SIGINT)
}

func killGroup(p *os.Process) error {
	return unix.Kill(-p.Pid, unix.SIGKILL)
}
