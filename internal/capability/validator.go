package capability

import (
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ValidationError reports a malformed capability-server payload. The
// original payload is retained for diagnostics.
type ValidationError struct {
	Message string
	Payload json.RawMessage
	Cause   error
}

func (e *ValidationError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *ValidationError) Unwrap() error { return e.Cause }

// Validatable is implemented by every typed tool response.
type Validatable interface {
	Validate() error
}

// Unwrap extracts the JSON payload from a tool result. Some transports
// return structured content directly; others wrap a JSON-serialized string
// inside a text content envelope. Both shapes must decode identically, so
// the unwrapping lives here and nowhere else.
func Unwrap(res *mcp.CallToolResult) (json.RawMessage, error) {
	if res == nil {
		return nil, &ValidationError{Message: "empty tool result"}
	}
	if res.StructuredContent != nil {
		raw, err := json.Marshal(res.StructuredContent)
		if err != nil {
			return nil, &ValidationError{Message: "encode structured content", Cause: err}
		}
		return raw, nil
	}
	for _, content := range res.Content {
		text, ok := content.(*mcp.TextContent)
		if !ok {
			continue
		}
		raw := json.RawMessage(text.Text)
		if !json.Valid(raw) {
			return nil, &ValidationError{Message: "text content is not valid JSON", Payload: raw}
		}
		return raw, nil
	}
	return nil, &ValidationError{Message: "tool result carries no JSON payload"}
}

// Decode parses and validates a payload into a typed response. Missing
// fields fail loudly; nothing is coerced.
func Decode[T any, PT interface {
	*T
	Validatable
}](raw json.RawMessage) (*T, error) {
	out := PT(new(T))
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, &ValidationError{Message: "decode tool payload", Payload: raw, Cause: err}
	}
	if err := out.Validate(); err != nil {
		return nil, &ValidationError{Message: "invalid tool payload", Payload: raw, Cause: err}
	}
	return (*T)(out), nil
}

// UnwrapAndDecode combines Unwrap and Decode for the common call path.
func UnwrapAndDecode[T any, PT interface {
	*T
	Validatable
}](res *mcp.CallToolResult) (*T, error) {
	raw, err := Unwrap(res)
	if err != nil {
		return nil, err
	}
	return Decode[T, PT](raw)
}
