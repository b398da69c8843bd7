package runtime

import (
	"io"
	"os/exec"

	"github.com/overseer-dev/overseer/internal/core"
)

// agentProcess abstracts a started agent subprocess over the two spawn
// modes: plain pipes for Claude's stream-JSON output, and a
// pseudo-terminal wrap for CLIs that refuse headless stdio.
type agentProcess struct {
	// Stdout carries the agent's primary output. Under a pty this also
	// includes what the CLI writes to stderr.
	Stdout io.Reader
	// Stderr is nil when the process runs under a pty.
	Stderr io.Reader

	cmd     *exec.Cmd
	cleanup func()
}

// Kill force-terminates the subprocess.
func (p *agentProcess) Kill() {
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
}

// Wait reaps the subprocess after its output has been drained.
func (p *agentProcess) Wait() error {
	err := p.cmd.Wait()
	if p.cleanup != nil {
		p.cleanup()
	}
	return err
}

func startWithPipes(cmd *exec.Cmd) (*agentProcess, error) {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &agentProcess{Stdout: stdout, Stderr: stderr, cmd: cmd}, nil
}

// claudeKind reports whether the agent speaks stream-JSON over plain
// pipes and therefore needs no pty.
func claudeKind(agent core.AgentKind) bool {
	return agent == core.AgentLocalClaude
}
