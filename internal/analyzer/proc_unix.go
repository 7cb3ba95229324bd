//go:build unix

package analyzer

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// killProcessGroup kills the analyzer's session. pty.Start makes the child a
// session leader, so its pid is also its process group id.
func killProcessGroup(p *os.Process) error {
	err := unix.Kill(-p.Pid, unix.SIGKILL)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}
