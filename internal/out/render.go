package out

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/ggonzalez94/defi-agent/internal/model"
)

// Render writes an envelope in the configured output mode. Plain mode
// favors a human transcript; json mode emits the full envelope.
func Render(w io.Writer, env model.Envelope, mode string) error {
	if mode == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(env)
	}

	if env.Error != nil {
		_, err := fmt.Fprintf(w, "error: %s\n", env.Error.Message)
		return err
	}
	switch data := env.Data.(type) {
	case *model.Task:
		return renderTask(w, data)
	case []*model.Task:
		return renderTaskList(w, data)
	default:
		return renderPlain(w, data)
	}
}

func renderTask(w io.Writer, t *model.Task) error {
	if _, err := fmt.Fprintf(w, "task %s [%s]\n", t.ID, t.Status.State); err != nil {
		return err
	}
	if t.Status.Message != nil {
		if text := t.Status.Message.Text(); text != "" {
			if _, err := fmt.Fprintf(w, "\n%s\n", text); err != nil {
				return err
			}
		}
	}
	return nil
}

func renderTaskList(w io.Writer, list []*model.Task) error {
	if len(list) == 0 {
		_, err := fmt.Fprintln(w, "no tasks")
		return err
	}
	for _, t := range list {
		summary := ""
		if t.Status.Message != nil {
			summary = firstLine(t.Status.Message.Text())
		}
		if _, err := fmt.Fprintf(w, "%s  %-14s  %s\n", t.ID, t.Status.State, summary); err != nil {
			return err
		}
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	const max = 80
	if len(s) > max {
		return s[:max-3] + "..."
	}
	return s
}

func renderPlain(w io.Writer, data any) error {
	n := normalizeValue(data)
	switch t := n.(type) {
	case nil:
		_, err := fmt.Fprintln(w, "null")
		return err
	case []any:
		if len(t) == 0 {
			_, err := fmt.Fprintln(w, "[]")
			return err
		}
		for _, item := range t {
			line, err := toLine(item)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
		return nil
	default:
		line, err := toLine(n)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, line)
		return err
	}
}

func normalizeValue(v any) any {
	buf, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(buf, &out); err != nil {
		return v
	}
	return out
}

func toLine(v any) (string, error) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, t[k]))
		}
		return strings.Join(parts, " "), nil
	default:
		buf, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(buf), nil
	}
}
