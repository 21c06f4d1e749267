package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"papers-gateway/internal/integrations/agentrun"
)

const msgNoAgentResponse = "No response from agent"

// AgentRuntime is the external agent collaborator. Send is responsible for
// creating the session when it does not exist yet.
type AgentRuntime interface {
	Send(ctx context.Context, userID, sessionID, message string) ([]json.RawMessage, error)
	DeleteSession(ctx context.Context, userID, sessionID string) error
}

// LatencyObserver receives the duration of each agent round trip.
type LatencyObserver interface {
	ObserveAgentLatency(outcome string, d time.Duration)
}

// Bridge relays one message to the agent and returns the reply text.
type Bridge struct {
	agent    AgentRuntime
	observer LatencyObserver
	now      func() time.Time
}

// NewBridge wraps agent. observer may be nil.
func NewBridge(agent AgentRuntime, observer LatencyObserver) (*Bridge, error) {
	if agent == nil {
		return nil, errors.New("usecase: agent runtime must not be nil")
	}
	return &Bridge{agent: agent, observer: observer, now: time.Now}, nil
}

// Send forwards the triple unchanged. Transport and shape failures come back
// as ErrorUpstream; a reply without text is ErrorEmptyResult.
func (b *Bridge) Send(ctx context.Context, userEmail, sessionID, message string) (string, error) {
	start := b.now()
	events, err := b.agent.Send(ctx, userEmail, sessionID, message)
	if err != nil {
		b.observe("error", start)
		slog.WarnContext(ctx, "agent call failed", "session_id", sessionID, "err", err)
		return "", upstream("Error communicating with agent", err)
	}

	reply := agentrun.ExtractReply(events)
	b.observe(reply.Kind.String(), start)
	switch reply.Kind {
	case agentrun.ReplyText:
		return reply.Text, nil
	case agentrun.ReplyMalformed:
		slog.WarnContext(ctx, "agent reply malformed", "session_id", sessionID, "events", len(events), "err", reply.Err)
		return "", upstream("Error communicating with agent", reply.Err)
	default:
		return "", newError(ErrorEmptyResult, msgNoAgentResponse, nil)
	}
}

// DeleteSession removes a conversation session at the runtime.
func (b *Bridge) DeleteSession(ctx context.Context, userEmail, sessionID string) error {
	if err := b.agent.DeleteSession(ctx, userEmail, sessionID); err != nil {
		return upstream("Failed to delete session", err)
	}
	return nil
}

func (b *Bridge) observe(outcome string, start time.Time) {
	if b.observer == nil {
		return
	}
	b.observer.ObserveAgentLatency(outcome, b.now().Sub(start))
}
