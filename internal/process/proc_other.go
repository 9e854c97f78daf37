//go:build !unix

package process

import (
	"os"
	"os/exec"
)

func setProcessGroup(_ *exec.Cmd) {}

// terminate has no cooperative variant here: os.Interrupt is not
// deliverable to a child process.
func terminate(p *os.Process) error {
	return p.Kill()
}

func kill(p *os.Process) error {
	return p.Kill()
}

func signalName(_ *os.ProcessState) string {
	return ""
}
