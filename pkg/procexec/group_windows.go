//go:build windows

package procexec

import (
	"os"
	"os/exec"
	"strconv"
)

func setProcessGroup(cmd *exec.Cmd) {}

// Windows has no console interrupt for background children; both steps
// terminate the tree.
func interruptGroup(p *os.Process) error {
	return killGroup(p)
}

func killGroup(p *os.Process) error {
	// taskkill /F = force, /T = tree (kill children too)
	return exec.Command("taskkill", "/F", "/T", "/PID", strconv.Itoa(p.Pid)).Run()
}
