// Package protocol defines the typed messages exchanged with the agent
// process over the signaling channel. Outbound messages configure the agent
// session and drive turns; inbound events report turn lifecycle, transcripts,
// tool calls, and errors.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badFrame(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_frame", Message: message, Param: param}
}

// ToolDef describes one callable tool advertised to the agent.
type ToolDef struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// NewToolDef builds a function tool definition. Parameters is a JSON schema
// object; nil means a tool with no arguments.
func NewToolDef(name, description string, parameters json.RawMessage) ToolDef {
	return ToolDef{
		Type:        "function",
		Name:        name,
		Description: description,
		Parameters:  parameters,
	}
}

// ClientMessage is implemented by all outbound (controller -> agent) messages.
type ClientMessage interface {
	MessageKind() string
}

// SessionUpdate replaces the agent's active instructions and tool set.
type SessionUpdate struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

type SessionConfig struct {
	Instructions string    `json:"instructions"`
	Tools        []ToolDef `json:"tools"`
}

func (SessionUpdate) MessageKind() string { return "session.update" }

// ContentPart is one piece of a conversation item.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ConversationItem is an entry injected into the agent's conversation.
type ConversationItem struct {
	ID      string        `json:"id,omitempty"`
	Type    string        `json:"type"`
	Role    string        `json:"role,omitempty"`
	Content []ContentPart `json:"content,omitempty"`
}

// ItemCreate injects a conversation item (typically a system-role nudge).
type ItemCreate struct {
	Type string           `json:"type"`
	Item ConversationItem `json:"item"`
}

func (ItemCreate) MessageKind() string { return "conversation.item.create" }

// SystemItem builds an ItemCreate carrying a single system text message.
func SystemItem(text string) ItemCreate {
	return ItemCreate{
		Type: "conversation.item.create",
		Item: ConversationItem{
			Type:    "message",
			Role:    "system",
			Content: []ContentPart{{Type: "input_text", Text: text}},
		},
	}
}

// ResponseCreate asks the agent to produce its next turn.
type ResponseCreate struct {
	Type string `json:"type"`
}

func (ResponseCreate) MessageKind() string { return "response.create" }

// NewResponseCreate returns a response.create request.
func NewResponseCreate() ResponseCreate {
	return ResponseCreate{Type: "response.create"}
}

// ResponseCancel aborts the agent's in-flight turn.
type ResponseCancel struct {
	Type       string `json:"type"`
	ResponseID string `json:"response_id,omitempty"`
}

func (ResponseCancel) MessageKind() string { return "response.cancel" }

// ItemTruncate trims already-buffered but unplayed agent speech on an item.
type ItemTruncate struct {
	Type         string `json:"type"`
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMS   int    `json:"audio_end_ms"`
}

func (ItemTruncate) MessageKind() string { return "conversation.item.truncate" }

// FunctionCallOutput acknowledges a tool invocation back to the agent.
type FunctionCallOutput struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

func (FunctionCallOutput) MessageKind() string { return "function_call_output" }

// EncodeClientMessage serializes an outbound message, stamping its type field.
func EncodeClientMessage(msg ClientMessage) ([]byte, error) {
	switch m := msg.(type) {
	case SessionUpdate:
		m.Type = m.MessageKind()
		return json.Marshal(m)
	case ItemCreate:
		m.Type = m.MessageKind()
		return json.Marshal(m)
	case ResponseCreate:
		m.Type = m.MessageKind()
		return json.Marshal(m)
	case ResponseCancel:
		m.Type = m.MessageKind()
		return json.Marshal(m)
	case ItemTruncate:
		m.Type = m.MessageKind()
		return json.Marshal(m)
	case FunctionCallOutput:
		m.Type = m.MessageKind()
		return json.Marshal(m)
	default:
		return nil, fmt.Errorf("unsupported client message %T", msg)
	}
}

// ServerEvent is implemented by all inbound (agent -> controller) events.
type ServerEvent interface {
	EventKind() string
}

// ResponseCreated marks the start of an agent turn.
type ResponseCreated struct {
	ResponseID string `json:"response_id"`
}

func (ResponseCreated) EventKind() string { return "response.created" }

// ResponseDone marks the end of an agent turn. Status is "completed",
// "cancelled", or "failed".
type ResponseDone struct {
	ResponseID string `json:"response_id"`
	Status     string `json:"status,omitempty"`
}

func (ResponseDone) EventKind() string { return "response.done" }

// OutputAudioStarted reports that buffered agent audio began streaming.
type OutputAudioStarted struct {
	ResponseID string `json:"response_id,omitempty"`
	ItemID     string `json:"item_id,omitempty"`
}

func (OutputAudioStarted) EventKind() string { return "output_audio.started" }

// OutputAudioStopped reports that buffered agent audio drained.
type OutputAudioStopped struct {
	ResponseID string `json:"response_id,omitempty"`
}

func (OutputAudioStopped) EventKind() string { return "output_audio.stopped" }

// TranscriptDelta carries an incremental transcript fragment for an item.
type TranscriptDelta struct {
	ItemID     string `json:"item_id"`
	ResponseID string `json:"response_id,omitempty"`
	Role       string `json:"role,omitempty"`
	Delta      string `json:"delta"`
}

func (TranscriptDelta) EventKind() string { return "transcript.delta" }

// TranscriptDone carries the final transcript for an item.
type TranscriptDone struct {
	ItemID     string `json:"item_id"`
	Role       string `json:"role,omitempty"`
	Transcript string `json:"transcript"`
}

func (TranscriptDone) EventKind() string { return "transcript.done" }

// ToolCallDone reports a completed tool invocation request from the agent.
// Arguments is the raw JSON payload the agent supplied.
type ToolCallDone struct {
	CallID    string          `json:"call_id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (ToolCallDone) EventKind() string { return "tool_call.done" }

// ErrorEvent reports a session or protocol error. Code drives classification.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

func (ErrorEvent) EventKind() string { return "error" }

// DecodeServerEvent parses one inbound frame into its typed event.
func DecodeServerEvent(data []byte) (ServerEvent, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badFrame("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badFrame("missing type", "type")
	}

	switch typ {
	case "response.created":
		var ev ResponseCreated
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, badFrame("invalid response.created", "")
		}
		return ev, nil
	case "response.done":
		var ev ResponseDone
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, badFrame("invalid response.done", "")
		}
		return ev, nil
	case "output_audio.started":
		var ev OutputAudioStarted
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, badFrame("invalid output_audio.started", "")
		}
		return ev, nil
	case "output_audio.stopped":
		var ev OutputAudioStopped
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, badFrame("invalid output_audio.stopped", "")
		}
		return ev, nil
	case "transcript.delta":
		var ev TranscriptDelta
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, badFrame("invalid transcript.delta", "")
		}
		if strings.TrimSpace(ev.ItemID) == "" {
			return nil, badFrame("transcript.delta.item_id is required", "item_id")
		}
		return ev, nil
	case "transcript.done":
		var ev TranscriptDone
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, badFrame("invalid transcript.done", "")
		}
		if strings.TrimSpace(ev.ItemID) == "" {
			return nil, badFrame("transcript.done.item_id is required", "item_id")
		}
		return ev, nil
	case "tool_call.done":
		var ev ToolCallDone
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, badFrame("invalid tool_call.done", "")
		}
		if strings.TrimSpace(ev.CallID) == "" {
			return nil, badFrame("tool_call.done.call_id is required", "call_id")
		}
		if strings.TrimSpace(ev.Name) == "" {
			return nil, badFrame("tool_call.done.name is required", "name")
		}
		return ev, nil
	case "error":
		var ev ErrorEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, badFrame("invalid error event", "")
		}
		return ev, nil
	default:
		return nil, badFrame("unsupported event type", "type")
	}
}
