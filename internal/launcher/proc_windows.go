//go:build windows

package launcher

import (
	"os"
	"os/exec"
	"syscall"
)

const createNoWindow = 0x08000000

func configureProc(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: createNoWindow,
	}
}

// Windows has no polite termination signal for console-less processes.
func terminateGroup(p *os.Process) error {
	return p.Kill()
}

func killGroup(p *os.Process) error {
	return p.Kill()
}
