// Package settlement publishes withdrawal settlement instructions for the
// downstream execution layer (chain signers, off-ramp adapters).
package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"

	id "redpocket/pkg/domain"
)

// Instruction is the message the execution layer consumes to move funds.
type Instruction struct {
	RequestID   id.WithdrawalID `json:"request_id"`
	Destination string          `json:"destination"`
	Amount      float64         `json:"amount"`
	Token       id.Token        `json:"token"`
	Chain       string          `json:"chain"`
}

// Emitter publishes one instruction per withdrawal entering processing and
// returns a settlement reference for the completed request.
type Emitter interface {
	Emit(ctx context.Context, instruction Instruction) (string, error)
}

const subjectPrefix = "redpocket.settlement.instructions"

// NATSEmitter publishes instructions to JetStream, one subject per chain, so
// executors can subscribe to only the chains they serve.
type NATSEmitter struct {
	js nats.JetStreamContext
}

func NewNATSEmitter(conn *nats.Conn) (*NATSEmitter, error) {
	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	return &NATSEmitter{js: js}, nil
}

func (e *NATSEmitter) Emit(ctx context.Context, instruction Instruction) (string, error) {
	payload, err := json.Marshal(instruction)
	if err != nil {
		return "", fmt.Errorf("marshal instruction: %w", err)
	}
	ack, err := e.js.Publish(subjectFor(instruction.Chain), payload, nats.Context(ctx))
	if err != nil {
		return "", fmt.Errorf("publish instruction: %w", err)
	}
	return fmt.Sprintf("%s:%d", ack.Stream, ack.Sequence), nil
}

func subjectFor(chain string) string {
	chain = strings.ToLower(strings.TrimSpace(chain))
	if chain == "" {
		chain = "internal"
	}
	return subjectPrefix + "." + chain
}

// MemoryEmitter records instructions for tests.
type MemoryEmitter struct {
	mu           sync.Mutex
	instructions []Instruction
	failWith     error
}

func NewMemoryEmitter() *MemoryEmitter {
	return &MemoryEmitter{}
}

func (e *MemoryEmitter) Emit(_ context.Context, instruction Instruction) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failWith != nil {
		return "", e.failWith
	}
	e.instructions = append(e.instructions, instruction)
	return fmt.Sprintf("memory:%d", len(e.instructions)), nil
}

// Instructions returns a copy of everything emitted so far.
func (e *MemoryEmitter) Instructions() []Instruction {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Instruction, len(e.instructions))
	copy(out, e.instructions)
	return out
}

// FailWith makes subsequent Emit calls return err; nil restores success.
func (e *MemoryEmitter) FailWith(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failWith = err
}
