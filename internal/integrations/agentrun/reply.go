package agentrun

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ReplyKind classifies the outcome of reading an agent reply.
type ReplyKind int

const (
	// ReplyNone means the runtime answered but produced no usable text.
	ReplyNone ReplyKind = iota
	// ReplyText means Text holds the agent's answer.
	ReplyText
	// ReplyMalformed means the final event did not have the expected shape.
	ReplyMalformed
)

func (k ReplyKind) String() string {
	switch k {
	case ReplyText:
		return "text"
	case ReplyMalformed:
		return "malformed"
	default:
		return "none"
	}
}

// Reply is the typed result of ExtractReply.
type Reply struct {
	Kind ReplyKind
	Text string
	Err  error
}

// event is the subset of a runtime event the gateway reads.
type event struct {
	Content *struct {
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	} `json:"content"`
}

// ExtractReply reads the answer out of the last runtime event: the first
// non-blank content.parts[].text. This is the only place that knows the event
// layout.
func ExtractReply(events []json.RawMessage) Reply {
	if len(events) == 0 {
		return Reply{Kind: ReplyNone}
	}
	var last event
	if err := json.Unmarshal(events[len(events)-1], &last); err != nil {
		return Reply{Kind: ReplyMalformed, Err: fmt.Errorf("agentrun: decode last event: %w", err)}
	}
	if last.Content == nil {
		return Reply{Kind: ReplyNone}
	}
	for _, p := range last.Content.Parts {
		if strings.TrimSpace(p.Text) != "" {
			return Reply{Kind: ReplyText, Text: p.Text}
		}
	}
	return Reply{Kind: ReplyNone}
}
