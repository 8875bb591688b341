package agentpool

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// BroadcastRecipient is the sentinel "to" address Broadcast messages carry
// and GetMessages matches against in addition to an agent's own id.
const BroadcastRecipient = "all"

// Message is one addressed message sent between agents (or from an agent
// to BroadcastRecipient).
type Message struct {
	ID     string
	From   string
	To     string
	Body   string
	SentAt time.Time
}

// MessageCallback is invoked synchronously, in send order, for every
// message a Subscribe call's agent id is addressed by.
type MessageCallback func(Message)

// GetMessagesOptions filters a GetMessages call.
type GetMessagesOptions struct {
	// Since, if non-zero, excludes messages sent at or before this time.
	Since time.Time
	// Limit, if > 0, caps the number of messages returned, most recent last.
	Limit int
}

// AgentBus is an addressed, in-order publish/subscribe message channel
// between agents, distinct from Bus's unaddressed lifecycle-event fan-out.
// Messages are addressed by agent id or BroadcastRecipient; delivery to
// subscribers and storage in history both happen in send order. An
// optional persistence directory makes it durable across process restarts
// by appending every message as a JSON line.
type AgentBus struct {
	mu        sync.Mutex
	history   []Message
	subs      map[string][]MessageCallback
	persistTo string
	now       func() time.Time
}

// NewAgentBus creates an AgentBus. If persistDir is non-empty, every sent
// message is appended as a JSON line under persistDir/messages.jsonl.
func NewAgentBus(persistDir string) *AgentBus {
	return &AgentBus{
		subs:      make(map[string][]MessageCallback),
		persistTo: persistDir,
		now:       time.Now,
	}
}

// Subscribe registers callback to be invoked for every future message
// addressed to agentID or to BroadcastRecipient. Subscribing with
// BroadcastRecipient as agentID receives every message sent on the bus.
func (b *AgentBus) Subscribe(agentID string, callback MessageCallback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[agentID] = append(b.subs[agentID], callback)
}

// Send delivers a message from one agent to another (or to
// BroadcastRecipient), appending it to history and invoking every
// subscriber addressed by it, in order.
func (b *AgentBus) Send(from, to, body string) error {
	return b.deliver(Message{ID: uuid.NewString(), From: from, To: to, Body: body, SentAt: b.now()})
}

// Broadcast sends a message addressed to every agent via BroadcastRecipient.
func (b *AgentBus) Broadcast(from, body string) error {
	return b.Send(from, BroadcastRecipient, body)
}

func (b *AgentBus) deliver(msg Message) error {
	b.mu.Lock()
	b.history = append(b.history, msg)
	callbacks := append([]MessageCallback{}, b.subs[msg.To]...)
	if msg.To != BroadcastRecipient {
		callbacks = append(callbacks, b.subs[BroadcastRecipient]...)
	} else {
		// A broadcast also reaches every agent-specific subscriber, in
		// agent-id order.
		ids := make([]string, 0, len(b.subs))
		for id := range b.subs {
			if id != BroadcastRecipient {
				ids = append(ids, id)
			}
		}
		sort.Strings(ids)
		for _, id := range ids {
			callbacks = append(callbacks, b.subs[id]...)
		}
	}
	persistTo := b.persistTo
	b.mu.Unlock()

	for _, cb := range callbacks {
		cb(msg)
	}

	if persistTo == "" {
		return nil
	}
	return appendMessageLine(persistTo, msg)
}

func appendMessageLine(dir string, msg Message) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating message persistence directory: %w", err)
	}
	line, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, "messages.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening message log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("appending message: %w", err)
	}
	return nil
}

// GetMessages returns messages addressed to agentID (including broadcasts),
// in send order, filtered by opts.
func (b *AgentBus) GetMessages(agentID string, opts GetMessagesOptions) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Message
	for _, m := range b.history {
		if m.To != agentID && m.To != BroadcastRecipient {
			continue
		}
		if !opts.Since.IsZero() && !m.SentAt.After(opts.Since) {
			continue
		}
		out = append(out, m)
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[len(out)-opts.Limit:]
	}
	return out
}

// GetHistory returns the most recent limit messages sent on the bus,
// across all addresses. limit <= 0 returns the full history.
func (b *AgentBus) GetHistory(limit int) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	if limit <= 0 || limit >= len(b.history) {
		out := make([]Message, len(b.history))
		copy(out, b.history)
		return out
	}
	out := make([]Message, limit)
	copy(out, b.history[len(b.history)-limit:])
	return out
}
