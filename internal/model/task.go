package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskState enumerates the lifecycle states of a task.
type TaskState string

const (
	TaskStateSubmitted     TaskState = "submitted"
	TaskStateWorking       TaskState = "working"
	TaskStateInputRequired TaskState = "input-required"
	TaskStateCompleted     TaskState = "completed"
	TaskStateFailed        TaskState = "failed"
	TaskStateCanceled      TaskState = "canceled"
)

// Terminal reports whether a task in this state can no longer change.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateFailed, TaskStateCanceled:
		return true
	default:
		return false
	}
}

const (
	PartKindText = "text"
	PartKindData = "data"
)

const (
	RoleUser  = "user"
	RoleAgent = "agent"
)

// Part is one element of a message or artifact payload.
type Part struct {
	Kind string         `json:"kind"`
	Text string         `json:"text,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

func TextPart(text string) Part {
	return Part{Kind: PartKindText, Text: text}
}

func DataPart(data map[string]any) Part {
	return Part{Kind: PartKindData, Data: data}
}

type Message struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

func AgentMessage(text string) *Message {
	return &Message{Role: RoleAgent, Parts: []Part{TextPart(text)}}
}

// Text concatenates the text parts of a message.
func (m *Message) Text() string {
	if m == nil {
		return ""
	}
	out := ""
	for _, p := range m.Parts {
		if p.Kind != PartKindText {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += p.Text
	}
	return out
}

type TaskStatus struct {
	State     TaskState `json:"state"`
	Message   *Message  `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Artifact is a named, typed payload attached to a task, e.g. the
// transaction plan and its human-readable preview.
type Artifact struct {
	ArtifactID string `json:"artifactId"`
	Name       string `json:"name"`
	Parts      []Part `json:"parts"`
}

const (
	ArtifactTxPlan    = "txPlan"
	ArtifactTxPreview = "txPreview"
)

// Task is one unit of user-instruction processing.
type Task struct {
	ID        string     `json:"id"`
	ContextID string     `json:"contextId"`
	Kind      string     `json:"kind"`
	Status    TaskStatus `json:"status"`
	Artifacts []Artifact `json:"artifacts,omitempty"`
}

func NewTask(contextID string) *Task {
	if contextID == "" {
		contextID = uuid.NewString()
	}
	return &Task{
		ID:        uuid.NewString(),
		ContextID: contextID,
		Kind:      "task",
		Status: TaskStatus{
			State:     TaskStateSubmitted,
			Timestamp: time.Now().UTC(),
		},
	}
}

// SetStatus transitions the task. A terminal task is never resurrected.
func (t *Task) SetStatus(state TaskState, message *Message) error {
	if t.Status.State.Terminal() {
		return fmt.Errorf("task %s is already %s", t.ID, t.Status.State)
	}
	t.Status = TaskStatus{
		State:     state,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
	return nil
}

func (t *Task) AddArtifact(name string, parts ...Part) {
	t.Artifacts = append(t.Artifacts, Artifact{
		ArtifactID: uuid.NewString(),
		Name:       name,
		Parts:      parts,
	})
}

// Artifact returns the first artifact with the given name.
func (t *Task) Artifact(name string) (Artifact, bool) {
	for _, a := range t.Artifacts {
		if a.Name == name {
			return a, true
		}
	}
	return Artifact{}, false
}
