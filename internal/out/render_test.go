package out

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/ggonzalez94/defi-agent/internal/model"
)

func TestRenderJSONEnvelope(t *testing.T) {
	task := model.NewTask("")
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: true,
		Data:    task,
		Meta:    model.EnvelopeMeta{Timestamp: time.Now(), Command: "chat"},
	}
	var buf bytes.Buffer
	if err := Render(&buf, env, "json"); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	data, ok := out["data"].(map[string]any)
	if !ok || data["id"] != task.ID {
		t.Fatalf("unexpected output: %s", buf.String())
	}
}

func TestRenderPlainTask(t *testing.T) {
	task := model.NewTask("")
	if err := task.SetStatus(model.TaskStateInputRequired, model.AgentMessage("Reply to confirm.")); err != nil {
		t.Fatalf("set status: %v", err)
	}
	env := model.Envelope{Version: model.EnvelopeVersion, Success: true, Data: task}
	var buf bytes.Buffer
	if err := Render(&buf, env, "plain"); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	got := buf.String()
	if !strings.Contains(got, task.ID) || !strings.Contains(got, "input-required") {
		t.Fatalf("unexpected plain output: %s", got)
	}
	if !strings.Contains(got, "Reply to confirm.") {
		t.Fatalf("message missing from plain output: %s", got)
	}
}

func TestRenderPlainTaskList(t *testing.T) {
	a := model.NewTask("")
	b := model.NewTask("")
	if err := b.SetStatus(model.TaskStateCompleted, model.AgentMessage("Swapped 25 USDC.\nDetails follow.")); err != nil {
		t.Fatalf("set status: %v", err)
	}
	env := model.Envelope{Version: model.EnvelopeVersion, Success: true, Data: []*model.Task{a, b}}
	var buf bytes.Buffer
	if err := Render(&buf, env, "plain"); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	got := buf.String()
	if !strings.Contains(got, a.ID) || !strings.Contains(got, b.ID) {
		t.Fatalf("unexpected list output: %s", got)
	}
	if strings.Contains(got, "Details follow.") {
		t.Fatalf("list must show only the first message line: %s", got)
	}
}

func TestRenderPlainError(t *testing.T) {
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Error:   &model.ErrorBody{Code: 10, Type: "token_not_found", Message: "token NOPE is not supported"},
	}
	var buf bytes.Buffer
	if err := Render(&buf, env, "plain"); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(buf.String(), "error: token NOPE is not supported") {
		t.Fatalf("unexpected error output: %s", buf.String())
	}
}
