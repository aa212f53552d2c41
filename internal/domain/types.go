package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type ChatRequest struct {
	Message       string        `json:"message"`
	History       []ChatTurn    `json:"history,omitempty"`
	SystemContext SystemContext `json:"systemContext"`
	CorrelationID string        `json:"correlationId,omitempty"`
}

type ChatTurn struct {
	Content string `json:"content"`
	IsUser  bool   `json:"isUser"`
	IsError bool   `json:"isError,omitempty"`
}

type SystemContext struct {
	Language string `json:"language,omitempty"`
	Layers   Layers `json:"layers"`
}

// ChatResponse is the only shape the chat endpoint ever answers with.
// Text is set on success; Error (and sometimes Details) on failure.
type ChatResponse struct {
	Text          string `json:"text,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
	Error         string `json:"error,omitempty"`
	Details       string `json:"details,omitempty"`

	// Model is the identifier that produced Text. Not part of the JSON body.
	Model string `json:"-"`
}

func (r ChatResponse) Failed() bool {
	return r.Error != ""
}

// Layers is the map-layer toggle object sent by the client. Key order is
// kept as it appeared on the wire.
type Layers struct {
	names   []string
	enabled map[string]bool
}

func NewLayers(names ...string) Layers {
	l := Layers{enabled: make(map[string]bool, len(names))}
	for _, name := range names {
		l.Set(name, true)
	}
	return l
}

func (l *Layers) Set(name string, enabled bool) {
	if l.enabled == nil {
		l.enabled = make(map[string]bool)
	}
	if _, ok := l.enabled[name]; !ok {
		l.names = append(l.names, name)
	}
	l.enabled[name] = enabled
}

func (l Layers) Names() []string {
	out := make([]string, len(l.names))
	copy(out, l.names)
	return out
}

func (l Layers) Enabled(name string) bool {
	return l.enabled[name]
}

func (l Layers) Len() int {
	return len(l.names)
}

func (l *Layers) UnmarshalJSON(data []byte) error {
	*l = Layers{}

	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("decode layers: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		// Anything but an object carries no layer names.
		return nil
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("decode layers: %w", err)
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("decode layers: unexpected key %v", tok)
		}

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("decode layer %q: %w", name, err)
		}

		var enabled bool
		if err := json.Unmarshal(value, &enabled); err != nil {
			enabled = false
		}
		l.Set(name, enabled)
	}

	return nil
}

func (l Layers) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range l.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		if l.enabled[name] {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
