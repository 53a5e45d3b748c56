// Package protocol defines the A2A wire types shared by the orchestrator and agent nodes.
// All types use camelCase JSON tags.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ── Agent Card Types ──

// AgentCard is the self-description document an agent serves for discovery.
type AgentCard struct {
	Name               string             `json:"name"`
	Description        string             `json:"description"`
	Version            string             `json:"version"`
	URL                string             `json:"url"`
	Protocol           string             `json:"protocol"`
	ProtocolVersion    string             `json:"protocolVersion"`
	Provider           *AgentProvider     `json:"provider,omitempty"`
	DefaultInputModes  []string           `json:"defaultInputModes"`
	DefaultOutputModes []string           `json:"defaultOutputModes"`
	PrimaryKeywords    []string           `json:"primaryKeywords"`
	Skills             []AgentSkill       `json:"skills"`
	Capabilities       *AgentCapabilities `json:"capabilities"`
}

// AgentProvider identifies the organization providing the agent.
type AgentProvider struct {
	Organization string `json:"organization"`
	URL          string `json:"url,omitempty"`
}

// AgentCapabilities describes what features the agent supports.
type AgentCapabilities struct {
	Streaming              bool `json:"streaming"`
	PushNotifications      bool `json:"pushNotifications"`
	StateTransitionHistory bool `json:"stateTransitionHistory,omitempty"`
}

// AgentSkill represents a skill that an agent can perform.
type AgentSkill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Examples    []string `json:"examples,omitempty"`
}

// Validate reports every required card field that is missing.
// Array fields must be present but may be empty.
func (c *AgentCard) Validate() error {
	var missing []string
	check := func(field string, ok bool) {
		if !ok {
			missing = append(missing, field)
		}
	}
	check("name", c.Name != "")
	check("description", c.Description != "")
	check("version", c.Version != "")
	check("url", c.URL != "")
	check("protocol", c.Protocol != "")
	check("protocolVersion", c.ProtocolVersion != "")
	check("defaultInputModes", c.DefaultInputModes != nil)
	check("defaultOutputModes", c.DefaultOutputModes != nil)
	check("primaryKeywords", c.PrimaryKeywords != nil)
	check("skills", c.Skills != nil)
	check("capabilities", c.Capabilities != nil)
	for i, s := range c.Skills {
		check(fmt.Sprintf("skills[%d].id", i), s.ID != "")
		check(fmt.Sprintf("skills[%d].name", i), s.Name != "")
	}
	if len(missing) > 0 {
		return fmt.Errorf("agent card missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Keywords returns the card's primary keywords lowercased, trimmed and deduplicated,
// preserving declaration order.
func (c *AgentCard) Keywords() []string {
	seen := make(map[string]bool, len(c.PrimaryKeywords))
	out := make([]string, 0, len(c.PrimaryKeywords))
	for _, kw := range c.PrimaryKeywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" || seen[kw] {
			continue
		}
		seen[kw] = true
		out = append(out, kw)
	}
	return out
}

// ── Task Types ──

// TaskState represents the state of an A2A task.
type TaskState string

const (
	// TaskStateSubmitted indicates the task has been submitted but not yet started.
	TaskStateSubmitted TaskState = "submitted"
	// TaskStateWorking indicates the task is currently being processed.
	TaskStateWorking TaskState = "working"
	// TaskStateInputRequired indicates the task needs additional input.
	TaskStateInputRequired TaskState = "input-required"
	// TaskStateCompleted indicates the task has finished successfully.
	TaskStateCompleted TaskState = "completed"
	// TaskStateCanceled indicates the task was canceled.
	TaskStateCanceled TaskState = "canceled"
	// TaskStateFailed indicates the task failed.
	TaskStateFailed TaskState = "failed"
	// TaskStateUnknown indicates the task state is unknown.
	TaskStateUnknown TaskState = "unknown"
)

// Terminal reports whether no further transition may leave this state.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateCanceled, TaskStateFailed:
		return true
	}
	return false
}

// TaskStatus is the state carried by a status-update event.
type TaskStatus struct {
	State     TaskState `json:"state"`
	Message   *Message  `json:"message,omitempty"`
	Timestamp string    `json:"timestamp,omitempty"`
}

// ── Message Types ──

// Message roles.
const (
	RoleUser  = "user"
	RoleAgent = "agent"
)

// Message represents one exchange unit between a caller and an agent.
type Message struct {
	MessageID string         `json:"messageId"`
	Role      string         `json:"role"`
	Parts     []Part         `json:"parts"`
	TaskID    string         `json:"taskId,omitempty"`
	ContextID string         `json:"contextId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Text concatenates the message's text parts with newlines.
func (m *Message) Text() string {
	if m == nil {
		return ""
	}
	var texts []string
	for _, p := range m.Parts {
		if p.Kind == PartKindText && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// MetadataString returns a string metadata value, or "" when absent or not a string.
func (m *Message) MetadataString(key string) string {
	if m == nil || m.Metadata == nil {
		return ""
	}
	s, _ := m.Metadata[key].(string)
	return s
}

// Part kinds.
const (
	PartKindText = "text"
	PartKindFile = "file"
	PartKindData = "data"
)

// Part is a tagged variant keyed by Kind. Kinds other than text, file and
// data are carried through untouched in Raw.
type Part struct {
	Kind     string         `json:"kind"`
	Text     string         `json:"text,omitempty"`
	File     *FileContent   `json:"file,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// TextPart builds a text part.
func TextPart(text string) Part {
	return Part{Kind: PartKindText, Text: text}
}

type partAlias Part

// UnmarshalJSON keeps the original bytes of unrecognized part kinds.
func (p *Part) UnmarshalJSON(data []byte) error {
	var a partAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*p = Part(a)
	switch p.Kind {
	case PartKindText, PartKindFile, PartKindData:
	default:
		p.Raw = append(json.RawMessage(nil), data...)
	}
	return nil
}

// MarshalJSON writes unrecognized kinds back exactly as received.
func (p Part) MarshalJSON() ([]byte, error) {
	if len(p.Raw) > 0 {
		return p.Raw, nil
	}
	return json.Marshal(partAlias(p))
}

// FileContent represents file data in a file part.
type FileContent struct {
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Bytes    string `json:"bytes,omitempty"`
	URI      string `json:"uri,omitempty"`
}

// Artifact represents produced task output.
type Artifact struct {
	ArtifactID  string         `json:"artifactId"`
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	Parts       []Part         `json:"parts"`
	Append      *bool          `json:"append,omitempty"`
	LastChunk   *bool          `json:"lastChunk,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ── Request Types ──

// SendMessageParams is the params object of every streaming send method.
// ID carries the task id.
type SendMessageParams struct {
	ID        string         `json:"id,omitempty"`
	ContextID string         `json:"contextId,omitempty"`
	Message   *Message       `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// TaskIDParams is the params object of tasks/get and tasks/cancel.
type TaskIDParams struct {
	ID       string         `json:"id"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// TaskSnapshot is the result of tasks/get and tasks/cancel.
type TaskSnapshot struct {
	ID        string         `json:"id"`
	ContextID string         `json:"contextId"`
	Status    TaskStatus     `json:"status"`
	Kind      string         `json:"kind"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ── SSE Event Types ──

// Event kinds.
const (
	KindStatusUpdate   = "status-update"
	KindArtifactUpdate = "artifact-update"
)

// MetaReasonCode is the event metadata key carrying a failure reason code.
const MetaReasonCode = "reasonCode"

// Event is one unit of a task's SSE stream: a status-update carrying Status
// or an artifact-update carrying Artifact.
type Event struct {
	Kind      string         `json:"kind"`
	TaskID    string         `json:"taskId"`
	ContextID string         `json:"contextId"`
	Final     bool           `json:"final"`
	Status    *TaskStatus    `json:"status,omitempty"`
	Artifact  *Artifact      `json:"artifact,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Validate checks the event's kind and the payload that kind requires.
func (e *Event) Validate() error {
	switch e.Kind {
	case KindStatusUpdate:
		if e.Status == nil || e.Status.State == "" {
			return fmt.Errorf("status-update event without status.state")
		}
	case KindArtifactUpdate:
		if e.Artifact == nil {
			return fmt.Errorf("artifact-update event without artifact")
		}
		if e.Final {
			return fmt.Errorf("artifact-update event cannot be final")
		}
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	if e.TaskID == "" || e.ContextID == "" {
		return fmt.Errorf("%s event missing taskId or contextId", e.Kind)
	}
	return nil
}

// State returns the status state for status-update events, or "".
func (e *Event) State() TaskState {
	if e.Status == nil {
		return ""
	}
	return e.Status.State
}

// ReasonCode returns the failure reason code stored in metadata, or "".
func (e *Event) ReasonCode() string {
	if e.Metadata == nil {
		return ""
	}
	s, _ := e.Metadata[MetaReasonCode].(string)
	return s
}

// StatusEvent builds a status-update event. A non-empty text is attached as an
// agent message.
func StatusEvent(taskID, contextID string, state TaskState, text string, final bool) Event {
	ev := Event{
		Kind:      KindStatusUpdate,
		TaskID:    taskID,
		ContextID: contextID,
		Final:     final,
		Status:    &TaskStatus{State: state},
	}
	if text != "" {
		ev.Status.Message = &Message{
			MessageID: NewID(),
			Role:      RoleAgent,
			Parts:     []Part{TextPart(text)},
			TaskID:    taskID,
			ContextID: contextID,
		}
	}
	return ev
}

// FailedEvent builds a final failed status-update tagged with a reason code.
func FailedEvent(taskID, contextID, reason, text string) Event {
	ev := StatusEvent(taskID, contextID, TaskStateFailed, text, true)
	ev.Metadata = map[string]any{MetaReasonCode: reason}
	return ev
}

// ArtifactEvent builds a non-final artifact-update event.
func ArtifactEvent(taskID, contextID string, artifact Artifact) Event {
	return Event{
		Kind:      KindArtifactUpdate,
		TaskID:    taskID,
		ContextID: contextID,
		Artifact:  &artifact,
	}
}

// ── JSON-RPC Types ──

// JSONRPCVersion is the only protocol version accepted.
const JSONRPCVersion = "2.0"

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      any             `json:"id"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response or SSE frame.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *JSONRPCError) Error() string {
	return fmt.Sprintf("json-rpc error %d: %s", e.Code, e.Message)
}
