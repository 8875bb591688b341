package agentpool

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aren13/momentum/internal/cache"
	"github.com/aren13/momentum/internal/dag"
	"github.com/aren13/momentum/internal/memory"
	"github.com/aren13/momentum/internal/qa"
	"github.com/aren13/momentum/internal/task"
	"github.com/aren13/momentum/internal/worktree"
)

// AgentState names a point in an agent's lifecycle. States advance
// monotonically: starting -> running -> {completed|failed}, with an
// optional completed -> qa_failed transition when QA is enabled and fails.
type AgentState string

const (
	StateStarting AgentState = "starting"
	StateRunning  AgentState = "running"
	StateFailed   AgentState = "failed"
	StateQAFailed AgentState = "qa_failed"
	StateComplete AgentState = "completed"
)

// ResultRecord is the terminal outcome of running one task's agent.
type ResultRecord struct {
	TaskID       string
	State        AgentState
	Output       string
	Duration     time.Duration
	WorktreePath string
	QAReports    []qa.IterationReport
	Err          error
}

// QAConfig supplies the checks an Orchestrator runs after an agent exits
// successfully, shared across every task it schedules.
type QAConfig struct {
	Checks        []qa.Check
	FixStrategies map[qa.CheckKind]qa.FixStrategy
	AIFix         qa.AIFixFunc
	// DecisionCacheTTL, when non-zero, memoizes AI-fix escalations through
	// the orchestrator's Memory store so an identical failure signature
	// doesn't re-invoke AIFix within the TTL window.
	DecisionCacheTTL time.Duration
}

// Orchestrator drives a full run: it stages tasks via dag.Resolve, spawns
// an agent per task in a fresh worktree via Pool, runs the QA loop in each
// worktree that exits 0, and records every outcome.
type Orchestrator struct {
	Pool       *Pool
	Worktrees  *worktree.Manager
	QA         QAConfig
	Memory     *memory.Store
	BaseBranch string
	// Messages is the addressed agent-to-agent channel. Left nil, agents
	// simply have no message bus; NewOrchestrator always fills it in.
	Messages *AgentBus

	// StopOnFailure aborts remaining stages once any task in the current
	// stage does not reach StateComplete. Left false, every stage runs
	// regardless of earlier failures.
	StopOnFailure bool

	Now func() time.Time

	mu     sync.Mutex
	live   map[string]AgentState
	cancel map[string]context.CancelFunc
}

// NewOrchestrator builds an Orchestrator with the given collaborators.
func NewOrchestrator(pool *Pool, worktrees *worktree.Manager, qaConfig QAConfig, mem *memory.Store, baseBranch string) *Orchestrator {
	o := &Orchestrator{
		Pool:       pool,
		Worktrees:  worktrees,
		QA:         qaConfig,
		Memory:     mem,
		BaseBranch: baseBranch,
		Messages:   NewAgentBus(""),
		Now:        time.Now,
		live:       make(map[string]AgentState),
		cancel:     make(map[string]context.CancelFunc),
	}
	// Every addressed agent message also surfaces as an agent:message
	// lifecycle event, so a UI watching only Pool.Bus() sees them too.
	o.Messages.Subscribe(BroadcastRecipient, func(msg Message) {
		o.Pool.Bus().Publish(Event{Kind: EventMessage, TaskID: msg.From, Data: msg.Body})
	})
	return o
}

// StageResult is the outcome of running every task in one dag.Stage.
type StageResult struct {
	Stage   dag.Stage
	Results []ResultRecord
}

// Distribute runs every task with no regard to dependency ordering: all
// tasks are dispatched at once, bounded only by the pool's concurrency cap.
func (o *Orchestrator) Distribute(ctx context.Context, tasks []task.Task, output io.Writer) []ResultRecord {
	var eg errgroup.Group
	results := make([]ResultRecord, len(tasks))

	for i, t := range tasks {
		i, t := i, t
		eg.Go(func() error {
			results[i] = o.runOne(ctx, t, output)
			return nil
		})
	}
	_ = eg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].TaskID < results[j].TaskID })
	return results
}

// DistributeWithDependencies stages tasks via dag.Resolve and runs each
// stage to completion before starting the next. If StopOnFailure is set
// and any task in a stage does not reach StateComplete, remaining stages
// are not started.
func (o *Orchestrator) DistributeWithDependencies(ctx context.Context, tasks []task.Task, output io.Writer) ([]StageResult, error) {
	stages, err := dag.Resolve(tasks)
	if err != nil {
		return nil, fmt.Errorf("staging tasks: %w", err)
	}

	byID := task.ByID(tasks)
	var stageResults []StageResult

	for stageIdx, stage := range stages {
		stageID := fmt.Sprintf("stage-%d", stageIdx)
		stageTasks := make([]task.Task, len(stage.TaskIDs))
		for i, id := range stage.TaskIDs {
			stageTasks[i] = byID[id]
		}

		o.Pool.Bus().Publish(Event{Kind: EventStageStart, TaskID: stageID})

		results := o.Distribute(ctx, stageTasks, output)
		stageResults = append(stageResults, StageResult{Stage: stage, Results: results})

		o.Pool.Bus().Publish(Event{Kind: EventStageComplete, TaskID: stageID})
		for _, t := range stageTasks {
			for _, dep := range t.DependsOn {
				o.Pool.Bus().Publish(Event{Kind: EventDependencyResolved, TaskID: t.ID, Data: dep})
			}
		}

		if o.StopOnFailure && anyFailed(results) {
			break
		}
	}

	return stageResults, nil
}

func anyFailed(results []ResultRecord) bool {
	for _, r := range results {
		if r.State != StateComplete {
			return true
		}
	}
	return false
}

// KillAll cancels every currently running agent's context. In-flight
// subprocesses are signaled but not waited for beyond that best effort.
func (o *Orchestrator) KillAll() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, cancel := range o.cancel {
		cancel()
		o.live[id] = StateFailed
	}
	o.cancel = make(map[string]context.CancelFunc)
}

// LiveStates returns a snapshot of every task's last-known state.
func (o *Orchestrator) LiveStates() map[string]AgentState {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]AgentState, len(o.live))
	for k, v := range o.live {
		out[k] = v
	}
	return out
}

func (o *Orchestrator) setState(id string, state AgentState) {
	o.mu.Lock()
	o.live[id] = state
	o.mu.Unlock()
}

func (o *Orchestrator) runOne(ctx context.Context, t task.Task, output io.Writer) ResultRecord {
	start := o.Now()
	o.setState(t.ID, StateStarting)

	taskCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancel[t.ID] = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.cancel, t.ID)
		o.mu.Unlock()
		cancel()
	}()

	wt, err := o.Worktrees.Create(t.ID, o.BaseBranch)
	if err != nil {
		if _, ok := err.(*worktree.ErrExists); ok {
			wt, err = o.Worktrees.Get(t.ID)
		}
		if err != nil {
			o.setState(t.ID, StateFailed)
			return ResultRecord{TaskID: t.ID, State: StateFailed, Err: err, Duration: o.Now().Sub(start)}
		}
	}

	o.setState(t.ID, StateRunning)
	var buf bytesWriter
	runErr := o.Pool.Run(taskCtx, Agent{Task: t, Dir: wt.Path}, io.MultiWriter(output, &buf))

	record := ResultRecord{TaskID: t.ID, Output: buf.String(), WorktreePath: wt.Path}

	if runErr != nil {
		record.State = StateFailed
		record.Err = runErr
		o.setState(t.ID, StateFailed)
		o.recordExecution(t, record, start)
		return record
	}

	if t.QA.Enabled {
		runner := qa.NewRunner(wt.Path, o.QA.Checks, t.EffectiveMaxIterations())
		for _, fs := range o.QA.FixStrategies {
			runner.WithFixStrategy(fs)
		}
		runner.AIFix = o.QA.AIFix
		if o.Memory != nil && o.QA.DecisionCacheTTL > 0 {
			runner.Cache = cache.New(o.Memory, o.QA.DecisionCacheTTL)
		}

		reports, qaErr := runner.Run(taskCtx)
		record.QAReports = reports
		if qaErr != nil {
			record.State = StateQAFailed
			record.Err = qaErr
			o.setState(t.ID, StateQAFailed)
			o.Pool.Bus().Publish(Event{Kind: EventQAFailed, TaskID: t.ID, Err: qaErr})
			record.Duration = o.Now().Sub(start)
			o.recordExecution(t, record, start)
			return record
		}
	}

	record.State = StateComplete
	record.Duration = o.Now().Sub(start)
	o.setState(t.ID, StateComplete)
	_ = o.Messages.Broadcast(t.ID, fmt.Sprintf("task %s completed", t.ID))
	o.recordExecution(t, record, start)
	return record
}

func (o *Orchestrator) recordExecution(t task.Task, record ResultRecord, start time.Time) {
	if o.Memory == nil {
		return
	}
	outcome := string(record.State)
	_ = o.Memory.RecordExecution(t.ID, outcome, record.Duration.Milliseconds(), o.Now().Format(time.RFC3339))
}

// bytesWriter accumulates every byte written to it for inclusion in a
// ResultRecord's Output field.
type bytesWriter struct {
	data []byte
}

func (b *bytesWriter) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *bytesWriter) String() string { return string(b.data) }
