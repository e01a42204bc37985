package tools

import (
	"encoding/json"
	"fmt"
)

// Direction says who a tool result is for.
type Direction int

const (
	// ToServer results are context for the model only.
	ToServer Direction = iota
	// ToClient results are also handed back to the caller.
	ToClient
)

func (d Direction) String() string {
	switch d {
	case ToServer:
		return "to_server"
	case ToClient:
		return "to_client"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// Result is what a tool handler returns. Exactly one of Text or Value is used:
// Value is set for structured payloads, Text otherwise.
type Result struct {
	Text      string
	Value     any
	Direction Direction
}

// Text builds a plain text result.
func Text(s string, d Direction) Result {
	return Result{Text: s, Direction: d}
}

// Structured builds a result whose payload is a JSON-serializable value.
func Structured(v any, d Direction) Result {
	return Result{Value: v, Direction: d}
}

// IsStructured reports whether the payload is a value rather than text.
func (r Result) IsStructured() bool {
	return r.Value != nil
}

// String is the textual form fed back to the model.
func (r Result) String() string {
	if !r.IsStructured() {
		return r.Text
	}
	data, err := json.Marshal(r.Value)
	if err != nil {
		return fmt.Sprint(r.Value)
	}
	return string(data)
}

// ClientPayload is what the caller sees for this result. ToServer results
// surface as their text. ToClient results surface as the structured value, or
// the text decoded as JSON, or the text itself when it is not JSON.
func (r Result) ClientPayload() any {
	if r.Direction != ToClient {
		return r.String()
	}
	if r.IsStructured() {
		return r.Value
	}
	var decoded any
	if err := json.Unmarshal([]byte(r.Text), &decoded); err == nil {
		return decoded
	}
	return r.Text
}
