//go:build windows

package runtime

import (
	"os/exec"

	"github.com/overseer-dev/overseer/internal/core"
)

// startAgentProcess starts the agent CLI. Windows has no pty support
// here, so every agent kind runs over plain pipes.
func startAgentProcess(cmd *exec.Cmd, _ core.AgentKind) (*agentProcess, error) {
	return startWithPipes(cmd)
}
