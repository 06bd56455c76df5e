package llm

import (
	"context"
	"fmt"

	"deepsearch/internal/config"
	"deepsearch/internal/logging"
	"deepsearch/internal/session"
)

const primaryAttempts = 2

// Fn is the caller-supplied work: given a bound handle, produce a result by
// running one or more completions. The invoker decides which model the
// handle is bound to.
type Fn func(ctx context.Context, h *Handle) error

// Invoker owns retry and failover. The primary endpoint gets two attempts;
// after both fail the session is marked degraded and every later call in
// that session goes straight to the secondary, which gets exactly one
// attempt per call.
type Invoker struct {
	cfg      config.LLMConfig
	sessions *session.Registry
	factory  ClientFactory
}

// NewInvoker builds an invoker over the session registry.
func NewInvoker(cfg config.LLMConfig, sessions *session.Registry) *Invoker {
	return &Invoker{cfg: cfg, sessions: sessions, factory: NewOpenAIClient}
}

// WithFactory overrides the client factory. Used by tests.
func (inv *Invoker) WithFactory(f ClientFactory) *Invoker {
	inv.factory = f
	return inv
}

// Invoke runs fn with failover. modelOverride, when non-empty, replaces the
// primary model name for this call only; the secondary is never overridden.
func (inv *Invoker) Invoke(ctx context.Context, sessionID, nodeName, modelOverride string, temperature float32, fn Fn) error {
	if err := inv.sessions.CheckCancelled(sessionID); err != nil {
		return err
	}
	if inv.sessions.IsDegraded(sessionID) {
		return inv.invokeSecondary(ctx, sessionID, nodeName, temperature, fn)
	}

	var lastErr error
	for attempt := 1; attempt <= primaryAttempts; attempt++ {
		if err := inv.sessions.CheckCancelled(sessionID); err != nil {
			return err
		}
		h, err := inv.handle(inv.cfg.Primary, modelOverride, temperature)
		if err != nil {
			return err
		}
		if err := fn(ctx, h); err != nil {
			lastErr = err
			logging.LLMWarn("node %s: primary attempt %d/%d failed (session %s): %v",
				nodeName, attempt, primaryAttempts, sessionID, err)
			continue
		}
		// Results that arrive after a disconnect are dropped.
		if err := inv.sessions.CheckCancelled(sessionID); err != nil {
			return err
		}
		return nil
	}

	inv.sessions.SetDegraded(sessionID)
	logging.LLMError("node %s: primary exhausted, session %s degraded to secondary: %v",
		nodeName, sessionID, lastErr)
	return inv.invokeSecondary(ctx, sessionID, nodeName, temperature, fn)
}

func (inv *Invoker) invokeSecondary(ctx context.Context, sessionID, nodeName string, temperature float32, fn Fn) error {
	if err := inv.sessions.CheckCancelled(sessionID); err != nil {
		return err
	}
	h, err := inv.handle(inv.cfg.Secondary, "", temperature)
	if err != nil {
		return err
	}
	if err := fn(ctx, h); err != nil {
		return fmt.Errorf("node %s: secondary model failed: %w", nodeName, err)
	}
	return inv.sessions.CheckCancelled(sessionID)
}

func (inv *Invoker) handle(ep config.LLMEndpoint, modelOverride string, temperature float32) (*Handle, error) {
	if ep.Model == "" {
		return nil, errNoEndpoint
	}
	model := ep.Model
	if modelOverride != "" {
		model = modelOverride
	}
	return &Handle{
		client:      inv.factory(ep),
		model:       model,
		temperature: temperature,
		timeout:     inv.cfg.Timeout,
	}, nil
}
