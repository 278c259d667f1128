package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/MimeLyc/web-research-agent/internal/llm"
)

var (
	// ErrMalformedResponse means the reasoning backend answered but the
	// answer could not be interpreted as a decision
	ErrMalformedResponse = errors.New("malformed planner response")

	// ErrBackendUnavailable means the reasoning backend could not be
	// reached or refused the request
	ErrBackendUnavailable = errors.New("planner backend unavailable")
)

// Planner turns the current context view into the next decision.
type Planner interface {
	Decide(ctx context.Context, view []Entry, tools []llm.ToolDefinition) (Decision, error)
}

// LLMPlanner asks an OpenAI-compatible chat backend for the next action. A
// response carrying a tool call becomes a tool decision; a plain text
// response becomes the finalize decision.
type LLMPlanner struct {
	client *llm.Client
}

func NewLLMPlanner(client *llm.Client) *LLMPlanner {
	return &LLMPlanner{client: client}
}

func (p *LLMPlanner) Decide(ctx context.Context, view []Entry, tools []llm.ToolDefinition) (Decision, error) {
	messages := toMessages(view)

	resp, err := p.client.ChatCompletionWithTools(ctx, messages, tools, nil)
	if err != nil {
		return Decision{}, classifyBackendError(err)
	}
	if len(resp.Choices) == 0 {
		return Decision{}, fmt.Errorf("%w: response carried no choices", ErrMalformedResponse)
	}

	msg := resp.Choices[0].Message
	if len(msg.ToolCalls) > 0 {
		call := msg.ToolCalls[0]
		if call.Function.Name == "" {
			return Decision{}, fmt.Errorf("%w: tool call without a function name", ErrMalformedResponse)
		}
		args := json.RawMessage(call.Function.Arguments)
		if len(args) > 0 && !json.Valid(args) {
			return Decision{}, fmt.Errorf("%w: tool %q arguments are not valid JSON", ErrMalformedResponse, call.Function.Name)
		}
		return Decision{
			Kind:      DecisionToolCall,
			ToolName:  call.Function.Name,
			Arguments: args,
		}, nil
	}

	text := strings.TrimSpace(msg.Content)
	if text == "" {
		return Decision{}, fmt.Errorf("%w: neither tool call nor content", ErrMalformedResponse)
	}
	return Decision{Kind: DecisionFinalize, FinalText: text}, nil
}

// classifyBackendError maps transport failures onto the planner error
// taxonomy. Rate limits, auth failures, and server errors are backend
// unavailability; a 4xx that blames the request payload means we produced
// something the backend could not parse.
func classifyBackendError(err error) error {
	var apiErr *llm.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: rate limited: %v", ErrBackendUnavailable, err)
		case apiErr.StatusCode >= 500:
			return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		default:
			return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
	}
	// Undecodable success bodies come back as plain errors.
	if strings.Contains(err.Error(), "failed to parse response") {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}

// toMessages maps context entries onto chat messages. Actions and
// observations travel as plain text rather than native tool-call messages,
// so evicting old steps can never orphan a tool_call_id pair.
func toMessages(view []Entry) []llm.Message {
	messages := make([]llm.Message, 0, len(view))
	for _, e := range view {
		switch e.Role {
		case RoleSystem:
			messages = append(messages, llm.Message{Role: "system", Content: e.Content})
		case RoleTask:
			messages = append(messages, llm.Message{Role: "user", Content: "Research task: " + e.Content})
		case RoleAction:
			messages = append(messages, llm.Message{Role: "assistant", Content: e.Content})
		case RoleObservation:
			messages = append(messages, llm.Message{Role: "user", Content: "Observation:\n" + e.Content})
		case RoleNote, RoleSummary:
			messages = append(messages, llm.Message{Role: "user", Content: e.Content})
		}
	}
	return messages
}
