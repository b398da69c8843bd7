//go:build !windows

package runtime

import (
	"os/exec"

	"github.com/creack/pty"

	"github.com/overseer-dev/overseer/internal/core"
)

// startAgentProcess starts the agent CLI. Claude streams line-delimited
// JSON over pipes; other CLIs expect a terminal, so they get a pty.
func startAgentProcess(cmd *exec.Cmd, agent core.AgentKind) (*agentProcess, error) {
	if claudeKind(agent) {
		return startWithPipes(cmd)
	}
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, err
	}
	return &agentProcess{
		Stdout:  ptmx,
		cmd:     cmd,
		cleanup: func() { _ = ptmx.Close() },
	}, nil
}
