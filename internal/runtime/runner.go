// Package runtime executes tasks: it assembles the agent prompt,
// dispatches to a local agent subprocess or a remote device inbox,
// parses streamed output, and drives the task through its lifecycle.
package runtime

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/overseer-dev/overseer/internal/cmn/logger"
	"github.com/overseer-dev/overseer/internal/cmn/logger/tag"
	"github.com/overseer-dev/overseer/internal/cmn/stringutil"
	"github.com/overseer-dev/overseer/internal/core"
	"github.com/overseer-dev/overseer/internal/device"
	"github.com/overseer-dev/overseer/internal/events"
	"github.com/overseer-dev/overseer/internal/knowledge"
	"github.com/overseer-dev/overseer/internal/persistence/filetask"
	"github.com/overseer-dev/overseer/internal/roles"
)

// DefaultTaskTimeout bounds a single task's wall-clock run.
const DefaultTaskTimeout = 30 * time.Minute

// Config carries the runner's tunables.
type Config struct {
	// ProjectsRoot is the directory under which project working trees
	// live; a task runs in ProjectsRoot/<project> when set.
	ProjectsRoot string
	// TaskTimeout is the wall-clock budget per task (0 = default).
	TaskTimeout time.Duration
	// DeviceWaitTimeout bounds remote dispatch waits (0 = queue default).
	DeviceWaitTimeout time.Duration
}

// Runner executes tasks against local subprocesses and remote devices.
type Runner struct {
	tasks       *filetask.Store
	queue       *device.Queue
	roles       *roles.Registry
	knowledge   knowledge.Adapter
	broadcaster *events.Broadcaster
	cfg         Config

	mu      sync.Mutex
	running map[string]*handle
}

// handle tracks one in-flight task so cancellation and timeout can reach
// it. reason, when set before the process dies, wins over the exit code.
type handle struct {
	mu     sync.Mutex
	reason string
	kill   func()
}

func (h *handle) abort(reason string) {
	h.mu.Lock()
	if h.reason == "" {
		h.reason = reason
	}
	kill := h.kill
	h.mu.Unlock()
	if kill != nil {
		kill()
	}
}

func (h *handle) takeReason() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reason
}

// New creates a runner. The knowledge adapter may be knowledge.Empty{}.
func New(tasks *filetask.Store, queue *device.Queue, reg *roles.Registry, adapter knowledge.Adapter, broadcaster *events.Broadcaster, cfg Config) *Runner {
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = DefaultTaskTimeout
	}
	return &Runner{
		tasks:       tasks,
		queue:       queue,
		roles:       reg,
		knowledge:   adapter,
		broadcaster: broadcaster,
		cfg:         cfg,
		running:     make(map[string]*handle),
	}
}

// Start launches the task in the background and returns immediately.
// Terminal outcomes surface as task:completed / task:failed events.
func (r *Runner) Start(ctx context.Context, task *core.Task) {
	h := &handle{}
	r.mu.Lock()
	r.running[task.ID] = h
	r.mu.Unlock()

	go func() {
		runCtx := context.WithoutCancel(ctx)
		defer func() {
			r.mu.Lock()
			delete(r.running, task.ID)
			r.mu.Unlock()
		}()
		r.run(runCtx, task, h)
	}()
}

// Cancel kills the task's subprocess (or abandons its device task) and
// fails it with reason "cancelled by user".
func (r *Runner) Cancel(ctx context.Context, taskID string) error {
	r.mu.Lock()
	h, ok := r.running[taskID]
	r.mu.Unlock()
	if !ok {
		return core.NotFound("running task", taskID)
	}
	logger.Info(ctx, "Cancelling task", tag.TaskID(taskID))
	h.abort("cancelled by user")
	return nil
}

// Running reports whether the task is currently executing.
func (r *Runner) Running(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[taskID]
	return ok
}

func (r *Runner) run(ctx context.Context, task *core.Task, h *handle) {
	now := time.Now().UTC()
	updated, err := r.tasks.Update(ctx, task.ID, func(t *core.Task) {
		t.Status = core.TaskRunning
		t.StartedAt = &now
	})
	if err != nil {
		logger.Error(ctx, "Failed to mark task running", tag.TaskID(task.ID), tag.Error(err))
		return
	}
	task = updated
	r.emit(core.EventTaskStarted, task, nil)
	r.emitStatus(task)

	prompt := buildPrompt(ctx, task, r.roles, r.knowledge)

	if task.Agent == core.AgentRemoteDevice {
		r.runRemote(ctx, task, h, prompt)
		return
	}
	r.runLocal(ctx, task, h, prompt)
}

func (r *Runner) runRemote(ctx context.Context, task *core.Task, h *handle, prompt string) {
	dt, err := r.queue.Enqueue(ctx, task.ID, task.DeviceID, task.Model, prompt)
	if err != nil {
		r.finishFailed(ctx, task.ID, fmt.Sprintf("failed to dispatch to device: %v", err))
		return
	}
	h.mu.Lock()
	h.kill = func() {
		_, _ = r.queue.Fail(context.WithoutCancel(ctx), dt.ID, "abandoned by orchestrator")
	}
	h.mu.Unlock()

	done, err := r.queue.WaitForCompletion(ctx, dt.ID, r.cfg.DeviceWaitTimeout)
	if reason := h.takeReason(); reason != "" {
		r.finishFailed(ctx, task.ID, reason)
		return
	}
	if err != nil {
		r.finishFailed(ctx, task.ID, err.Error())
		return
	}
	if done.Output != "" {
		r.appendOutput(ctx, task.ID, "stdout", done.Output)
	}
	if done.Status == core.DeviceTaskFailed {
		r.finishFailed(ctx, task.ID, done.Error)
		return
	}
	r.finishSucceeded(ctx, task)
}

func (r *Runner) runLocal(ctx context.Context, task *core.Task, h *handle, prompt string) {
	cmd := r.buildCommand(task, prompt)
	if task.Project != "" && r.cfg.ProjectsRoot != "" {
		cmd.Dir = filepath.Join(r.cfg.ProjectsRoot, task.Project)
	}

	proc, err := startAgentProcess(cmd, task.Agent)
	if err != nil {
		r.finishFailed(ctx, task.ID, fmt.Sprintf("failed to spawn agent: %v", err))
		return
	}
	h.mu.Lock()
	h.kill = proc.Kill
	h.mu.Unlock()

	timer := time.AfterFunc(r.cfg.TaskTimeout, func() {
		logger.Warn(ctx, "Task timed out", tag.TaskID(task.ID), tag.Elapsed(r.cfg.TaskTimeout))
		h.abort("timeout")
	})
	defer timer.Stop()

	if task.Agent == core.AgentLocalClaude {
		r.consumeClaude(ctx, task, proc)
	} else {
		r.consumePlain(ctx, task.ID, proc)
	}

	waitErr := proc.Wait()
	if reason := h.takeReason(); reason != "" {
		r.finishFailed(ctx, task.ID, reason)
		return
	}
	if waitErr != nil {
		r.finishFailed(ctx, task.ID, fmt.Sprintf("agent exited: %v", waitErr))
		return
	}
	r.finishSucceeded(ctx, task)
}

func (r *Runner) buildCommand(task *core.Task, prompt string) *exec.Cmd {
	switch task.Agent {
	case core.AgentLocalClaude:
		args := []string{"-p", prompt, "--output-format", "stream-json", "--verbose"}
		if task.Model != "" {
			args = append(args, "--model", task.Model)
		}
		return exec.Command("claude", args...)
	case core.AgentLocalAugment:
		return exec.Command("augment", "--print", prompt)
	default:
		return exec.Command("echo", task.Briefing)
	}
}

// consumeClaude drives the stream-JSON parser over stdout and surfaces
// stderr lines raw.
func (r *Runner) consumeClaude(ctx context.Context, task *core.Task, proc *agentProcess) {
	var wg sync.WaitGroup
	parser := &claudeStreamParser{}
	modelSeen := false

	emitParsed := func(lines []streamLine) {
		for _, line := range lines {
			r.appendOutput(ctx, task.ID, line.stream, line.text)
		}
		if !modelSeen && parser.Model() != "" {
			modelSeen = true
			r.resolveModel(ctx, task.ID, parser.Model())
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		buf := make([]byte, 32*1024)
		for {
			n, err := proc.Stdout.Read(buf)
			if n > 0 {
				emitParsed(parser.Feed(buf[:n]))
			}
			if err != nil {
				emitParsed(parser.Flush())
				return
			}
		}
	}()

	if proc.Stderr != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sc := bufio.NewScanner(proc.Stderr)
			sc.Buffer(make([]byte, 64*1024), 1024*1024)
			for sc.Scan() {
				line := stringutil.StripANSI(sc.Text())
				if strings.TrimSpace(line) == "" {
					continue
				}
				r.appendOutput(ctx, task.ID, "stderr", line)
			}
		}()
	}
	wg.Wait()
}

// consumePlain strips terminal escapes line by line and emits each
// non-empty line.
func (r *Runner) consumePlain(ctx context.Context, taskID string, proc *agentProcess) {
	sc := bufio.NewScanner(proc.Stdout)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := stringutil.StripANSI(sc.Text())
		if strings.TrimSpace(line) == "" {
			continue
		}
		r.appendOutput(ctx, taskID, "stdout", line)
	}
}

func (r *Runner) appendOutput(ctx context.Context, taskID, stream, text string) {
	line := core.OutputLine{Stream: stream, Text: text, Time: time.Now().UTC()}
	if err := r.tasks.AppendOutput(ctx, taskID, line); err != nil {
		logger.Error(ctx, "Failed to record task output", tag.TaskID(taskID), tag.Error(err))
	}
	r.broadcaster.Broadcast(core.NewEvent(core.EventTaskOutput, map[string]any{
		"taskId": taskID,
		"stream": stream,
		"text":   text,
	}))
}

func (r *Runner) resolveModel(ctx context.Context, taskID, model string) {
	t, err := r.tasks.Update(ctx, taskID, func(t *core.Task) {
		t.Model = model
	})
	if err != nil {
		logger.Error(ctx, "Failed to record resolved model", tag.TaskID(taskID), tag.Error(err))
		return
	}
	logger.Info(ctx, "Agent model resolved", tag.TaskID(taskID), tag.Model(model))
	r.broadcaster.Broadcast(core.NewEvent(core.EventTaskModelResolved, map[string]any{
		"taskId": t.ID,
		"model":  model,
	}))
}

// finishSucceeded routes a clean exit. DAG-dispatched tasks complete
// outright since the executor consumes their terminal events; tasks
// created by a person park in reviewing until approved or rejected.
func (r *Runner) finishSucceeded(ctx context.Context, task *core.Task) {
	if task.DAGOwned() {
		r.finishCompleted(ctx, task.ID)
		return
	}
	t, err := r.tasks.Update(ctx, task.ID, func(t *core.Task) {
		t.Status = core.TaskReviewing
	})
	if err != nil {
		logger.Error(ctx, "Failed to park task for review", tag.TaskID(task.ID), tag.Error(err))
		return
	}
	logger.Info(ctx, "Task awaiting review", tag.TaskID(task.ID))
	r.emitStatus(t)
}

func (r *Runner) finishCompleted(ctx context.Context, taskID string) {
	now := time.Now().UTC()
	t, err := r.tasks.Update(ctx, taskID, func(t *core.Task) {
		t.Status = core.TaskCompleted
		t.CompletedAt = &now
	})
	if err != nil {
		logger.Error(ctx, "Failed to complete task", tag.TaskID(taskID), tag.Error(err))
		return
	}
	logger.Info(ctx, "Task completed", tag.TaskID(taskID))
	r.emitStatus(t)
	r.emit(core.EventTaskCompleted, t, nil)
}

func (r *Runner) finishFailed(ctx context.Context, taskID, reason string) {
	now := time.Now().UTC()
	t, err := r.tasks.Update(ctx, taskID, func(t *core.Task) {
		t.Status = core.TaskFailed
		t.Reason = reason
		t.CompletedAt = &now
	})
	if err != nil {
		logger.Error(ctx, "Failed to fail task", tag.TaskID(taskID), tag.Error(err))
		return
	}
	logger.Warn(ctx, "Task failed", tag.TaskID(taskID), tag.Reason(reason))
	r.emitStatus(t)
	r.emit(core.EventTaskFailed, t, map[string]any{"reason": reason})
}

func (r *Runner) emitStatus(t *core.Task) {
	r.emit(core.EventTaskUpdated, t, nil)
}

func (r *Runner) emit(kind core.EventKind, t *core.Task, extra map[string]any) {
	payload := map[string]any{
		"taskId": t.ID,
		"status": string(t.Status),
	}
	for k, v := range extra {
		payload[k] = v
	}
	r.broadcaster.Broadcast(core.NewEvent(kind, payload))
}
