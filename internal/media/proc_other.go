//go:build !unix

package media

import (
	"os/exec"
	"time"
)

// configureProcess relies on exec's default kill of the direct child.
func configureProcess(cmd *exec.Cmd) {
	cmd.WaitDelay = 5 * time.Second
}
