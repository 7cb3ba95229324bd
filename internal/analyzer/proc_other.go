//go:build !unix

package analyzer

import "os"

func killProcessGroup(p *os.Process) error {
	return p.Kill()
}
