package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/outpost-vpn/outpost/internal/cloud"
	"github.com/outpost-vpn/outpost/internal/logger"
)

// Prompt is a parked auth-ambiguous failure awaiting a user decision. The
// failure could mean a revoked credential or a blocked request; the two are
// indistinguishable, so the user picks between retrying and reauthenticating.
type Prompt struct {
	ID        string           `json:"id"`
	Provider  cloud.ProviderID `json:"provider"`
	Cause     string           `json:"cause"`
	CreatedAt time.Time        `json:"created_at"`

	answer chan cloud.Decision
}

// DecisionBroker implements cloud.DecisionHandler for a daemon: instead of a
// dialog it parks each prompt, exposes the pending set over the API, and
// blocks the failed operation until an answer arrives or the operation's
// context is cancelled.
type DecisionBroker struct {
	mu      sync.Mutex
	pending map[string]*Prompt
}

// NewDecisionBroker creates an empty broker.
func NewDecisionBroker() *DecisionBroker {
	return &DecisionBroker{pending: make(map[string]*Prompt)}
}

// Decide implements cloud.DecisionHandler.
func (b *DecisionBroker) Decide(ctx context.Context, provider cloud.ProviderID, cause error) (cloud.Decision, error) {
	prompt := &Prompt{
		ID:        uuid.NewString(),
		Provider:  provider,
		Cause:     cause.Error(),
		CreatedAt: time.Now().UTC(),
		answer:    make(chan cloud.Decision, 1),
	}

	b.mu.Lock()
	b.pending[prompt.ID] = prompt
	b.mu.Unlock()

	logger.WarnWithFields("auth-ambiguous failure, awaiting decision", map[string]interface{}{
		"provider":  provider,
		"prompt_id": prompt.ID,
		"cause":     cause.Error(),
	})

	defer func() {
		b.mu.Lock()
		delete(b.pending, prompt.ID)
		b.mu.Unlock()
	}()

	select {
	case decision := <-prompt.answer:
		return decision, nil
	case <-ctx.Done():
		return cloud.DecisionAbandon, ctx.Err()
	}
}

// List returns the pending prompts.
func (b *DecisionBroker) List() []Prompt {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Prompt, 0, len(b.pending))
	for _, p := range b.pending {
		out = append(out, *p)
	}
	return out
}

// Answer resolves a pending prompt. Answering an unknown or already-resolved
// prompt is an error so a stale client gets told instead of silently dropped.
func (b *DecisionBroker) Answer(id string, decision cloud.Decision) error {
	b.mu.Lock()
	prompt, ok := b.pending[id]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("no pending prompt %q", id)
	}
	select {
	case prompt.answer <- decision:
		return nil
	default:
		return fmt.Errorf("prompt %q already answered", id)
	}
}
