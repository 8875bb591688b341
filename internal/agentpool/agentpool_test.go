package agentpool

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aren13/momentum/internal/task"
)

func TestPoolRunInvokesCommandAndPublishesEvents(t *testing.T) {
	dir := t.TempDir()
	bus := NewBus()
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	pool := NewPool(2, AgentCommand{Command: "cat"}, bus)

	var out bytes.Buffer
	tk := task.Task{ID: "t1", Name: "greet", Prompt: "hello from the pool"}

	err := pool.Run(context.Background(), Agent{Task: tk, Dir: dir}, &out)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	var kinds []EventKind
	timeout := time.After(2 * time.Second)
drain:
	for {
		select {
		case ev := <-sub:
			kinds = append(kinds, ev.Kind)
			if ev.Kind == EventComplete {
				break drain
			}
		case <-timeout:
			break drain
		}
	}

	if len(kinds) == 0 || kinds[0] != EventSpawn {
		t.Errorf("want first event EventSpawn, got %v", kinds)
	}
	if kinds[len(kinds)-1] != EventComplete {
		t.Errorf("want last event EventComplete, got %v", kinds)
	}
}

func TestPoolCompletesRunsQueuedBeyondConcurrencyCap(t *testing.T) {
	dir := t.TempDir()
	pool := NewPool(1, AgentCommand{Command: "sleep", Args: []string{"0"}}, nil)

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tk := task.Task{ID: string(rune('a' + i)), Prompt: "x"}
			var out bytes.Buffer
			errs[i] = pool.Run(context.Background(), Agent{Task: tk, Dir: dir}, &out)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("run %d: %v", i, err)
		}
	}
}

func TestInvokeWritesAndRemovesContextFile(t *testing.T) {
	dir := t.TempDir()
	pool := NewPool(1, AgentCommand{Command: "cat"}, nil)

	tk := task.Task{ID: "ctx", Prompt: "the prompt body"}
	var out bytes.Buffer
	if err := pool.Run(context.Background(), Agent{Task: tk, Dir: dir}, &out); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, ".momentum-context")); !os.IsNotExist(err) {
		t.Errorf("want context file removed after run, stat err = %v", err)
	}
}
