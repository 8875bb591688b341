// Package agentpool invokes external code-generation agents as subprocesses,
// bounding how many run concurrently and publishing their lifecycle as
// events on a shared bus.
package agentpool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/sync/semaphore"

	"github.com/aren13/momentum/internal/task"
)

// AgentCommand is the external agent binary and its invocation arguments.
// The path of a context file (.momentum-context in the agent's directory)
// holding the task's prompt is appended as the final argument, and the
// prompt is also piped to stdin, so both file-reading and stdin-reading
// agents work.
type AgentCommand struct {
	Command string
	Args    []string
}

// Agent is a single subprocess run for one task.
type Agent struct {
	Task task.Task
	Dir  string
}

// EventKind names a point in an agent's lifecycle.
type EventKind string

const (
	EventSpawn              EventKind = "agent:spawn"
	EventOutput             EventKind = "agent:output"
	EventError              EventKind = "agent:error"
	EventComplete           EventKind = "agent:complete"
	EventQAFailed           EventKind = "agent:qa_failed"
	EventStageStart         EventKind = "stage:start"
	EventStageComplete      EventKind = "stage:complete"
	EventDependencyResolved EventKind = "dependency:resolved"
	EventMessage            EventKind = "agent:message"
)

// Event is published to the Bus at each lifecycle point.
type Event struct {
	Kind   EventKind
	TaskID string
	Data   string
	Err    error
}

// Bus fans out Events to every registered subscriber. Subscribers never
// block publishing: a slow or absent reader just misses events, delivered
// on a best-effort buffered channel.
type Bus struct {
	mu   sync.Mutex
	subs []chan Event
}

// NewBus creates an empty Bus.
func NewBus() *Bus { return &Bus{} }

// Subscribe returns a channel that receives every future Event. Call
// Unsubscribe when done to release it.
func (b *Bus) Subscribe() <-chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a channel previously returned by Subscribe.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == ch {
			close(s)
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

func (b *Bus) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		select {
		case s <- ev:
		default:
		}
	}
}

// Publish emits ev to every subscriber. Exported so collaborators outside
// the Pool (the Orchestrator, tracking lifecycle transitions Pool itself
// doesn't see, such as QA outcome or staging) can publish on the same bus.
func (b *Bus) Publish(ev Event) {
	b.publish(ev)
}

// Pool runs agents with bounded concurrency, one subprocess per task.
type Pool struct {
	sem *semaphore.Weighted
	cmd AgentCommand
	bus *Bus
}

// NewPool creates a Pool that runs at most maxConcurrent agents at once.
func NewPool(maxConcurrent int64, cmd AgentCommand, bus *Bus) *Pool {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if bus == nil {
		bus = NewBus()
	}
	return &Pool{sem: semaphore.NewWeighted(maxConcurrent), cmd: cmd, bus: bus}
}

// Bus returns the pool's event bus.
func (p *Pool) Bus() *Bus { return p.bus }

// Run invokes the agent for a single task in dir, writing its merged
// stdout/stderr to output as it arrives and blocking until it exits.
func (p *Pool) Run(ctx context.Context, agent Agent, output io.Writer) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquiring agent pool slot: %w", err)
	}
	defer p.sem.Release(1)

	p.bus.publish(Event{Kind: EventSpawn, TaskID: agent.Task.ID})

	err := p.invoke(ctx, agent, output)
	if err != nil {
		p.bus.publish(Event{Kind: EventError, TaskID: agent.Task.ID, Err: err})
		return err
	}
	p.bus.publish(Event{Kind: EventComplete, TaskID: agent.Task.ID})
	return nil
}

// invoke writes the task prompt to a context file in the agent's working
// directory, runs the configured command with that file as its final
// argument and the prompt piped to stdin, and streams its PTY output to
// output so a caller can tail it in real time.
func (p *Pool) invoke(ctx context.Context, agent Agent, output io.Writer) error {
	contextFile := filepath.Join(agent.Dir, ".momentum-context")
	if err := os.WriteFile(contextFile, []byte(agent.Task.Prompt), 0644); err != nil {
		return fmt.Errorf("writing task context: %w", err)
	}
	defer os.Remove(contextFile)

	args := append(append([]string{}, p.cmd.Args...), contextFile)
	cmd := exec.CommandContext(ctx, p.cmd.Command, args...)
	cmd.Dir = agent.Dir

	// A PTY gives the agent a terminal so it line-buffers its output,
	// enabling real-time tailing. Stdin stays a regular pipe so the agent
	// gets a proper EOF.
	ptmx, pts, err := pty.Open()
	if err != nil {
		return fmt.Errorf("opening pty: %w", err)
	}
	defer ptmx.Close()

	cmd.Stdin = strings.NewReader(agent.Task.Prompt)
	cmd.Stdout = pts
	cmd.Stderr = pts

	if err := cmd.Start(); err != nil {
		pts.Close()
		return fmt.Errorf("starting agent for task %s: %w", agent.Task.ID, err)
	}
	pts.Close()

	lineOutput := &lineBroadcaster{pool: p, taskID: agent.Task.ID, w: output}
	if _, err := io.Copy(lineOutput, ptmx); err != nil {
		var pathErr *os.PathError
		if !(errors.As(err, &pathErr) && pathErr.Err == syscall.EIO) {
			return fmt.Errorf("reading agent output for task %s: %w", agent.Task.ID, err)
		}
	}

	return cmd.Wait()
}

// lineBroadcaster writes every chunk of PTY output both to the underlying
// writer (the agent's captured output buffer) and as agent:output events
// on the bus.
type lineBroadcaster struct {
	pool   *Pool
	taskID string
	w      io.Writer
}

func (l *lineBroadcaster) Write(p []byte) (int, error) {
	l.pool.bus.publish(Event{Kind: EventOutput, TaskID: l.taskID, Data: string(p)})
	return l.w.Write(p)
}
