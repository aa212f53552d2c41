package domain

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestLayers_PreservesKeyOrder(t *testing.T) {
	var sc SystemContext
	err := json.Unmarshal([]byte(`{"language":"Hindi","layers":{"temples":true,"ghats":false,"hospitals":true}}`), &sc)
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	want := []string{"temples", "ghats", "hospitals"}
	if got := sc.Layers.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
	if !sc.Layers.Enabled("temples") || sc.Layers.Enabled("ghats") {
		t.Errorf("Enabled() mismatch: temples=%v ghats=%v", sc.Layers.Enabled("temples"), sc.Layers.Enabled("ghats"))
	}
	if sc.Language != "Hindi" {
		t.Errorf("Language = %q, want Hindi", sc.Language)
	}
}

func TestLayers_Unmarshal(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantNames []string
		wantErr   bool
	}{
		{"null", `null`, []string{}, false},
		{"empty object", `{}`, []string{}, false},
		{"array is ignored", `["ghats"]`, []string{}, false},
		{"string is ignored", `"ghats"`, []string{}, false},
		{"non-bool values listed", `{"wards":1,"hotels":"yes","ghats":true}`, []string{"wards", "hotels", "ghats"}, false},
		{"nested value listed", `{"restaurants":{"on":true}}`, []string{"restaurants"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var l Layers
			err := json.Unmarshal([]byte(tt.input), &l)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Unmarshal() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got := l.Names(); !reflect.DeepEqual(got, tt.wantNames) {
				t.Errorf("Names() = %v, want %v", got, tt.wantNames)
			}
			for _, name := range l.Names() {
				if name != "ghats" && l.Enabled(name) {
					t.Errorf("Enabled(%q) = true, want false for a non-bool value", name)
				}
			}
		})
	}
}

func TestLayers_MarshalRoundTrip(t *testing.T) {
	l := NewLayers("ghats", "temples")
	l.Set("wards", false)

	data, err := json.Marshal(l)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(data) != `{"ghats":true,"temples":true,"wards":false}` {
		t.Errorf("Marshal() = %s", data)
	}

	var empty Layers
	data, _ = json.Marshal(empty)
	if string(data) != `{}` {
		t.Errorf("Marshal(empty) = %s, want {}", data)
	}
}

func TestLayers_SetExisting(t *testing.T) {
	l := NewLayers("ghats")
	l.Set("ghats", false)

	if l.Len() != 1 {
		t.Errorf("Len() = %d, want 1", l.Len())
	}
	if l.Enabled("ghats") {
		t.Error("Enabled(ghats) = true after Set(false)")
	}
}

func TestDecodeChatRequest(t *testing.T) {
	tests := []struct {
		name              string
		body              string
		wantErr           bool
		wantMessage       string
		wantCorrelationID string
		wantHistory       int
	}{
		{
			name:              "valid",
			body:              `{"message":"Where is Ram Ghat?","history":[{"content":"hi","isUser":true}],"systemContext":{"language":"English","layers":{"ghats":true}},"correlationId":"abc123"}`,
			wantMessage:       "Where is Ram Ghat?",
			wantCorrelationID: "abc123",
			wantHistory:       1,
		},
		{
			name:              "message missing",
			body:              `{"correlationId":"abc123"}`,
			wantErr:           true,
			wantCorrelationID: "abc123",
		},
		{
			name:              "message not a string",
			body:              `{"message":42,"correlationId":"abc123"}`,
			wantErr:           true,
			wantCorrelationID: "abc123",
		},
		{
			name:              "message null",
			body:              `{"message":null,"correlationId":"abc123"}`,
			wantErr:           true,
			wantCorrelationID: "abc123",
		},
		{
			name:              "message empty",
			body:              `{"message":"","correlationId":"abc123"}`,
			wantErr:           true,
			wantCorrelationID: "abc123",
		},
		{
			name:        "whitespace message accepted",
			body:        `{"message":"  "}`,
			wantMessage: "  ",
		},
		{
			name:    "malformed json",
			body:    `{"message":`,
			wantErr: true,
		},
		{
			name:    "not an object",
			body:    `["hello"]`,
			wantErr: true,
		},
		{
			name:        "bad history dropped",
			body:        `{"message":"hi","history":"oops","systemContext":7}`,
			wantMessage: "hi",
		},
		{
			name:        "non-string correlation id dropped",
			body:        `{"message":"hi","correlationId":12}`,
			wantMessage: "hi",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := DecodeChatRequest([]byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeChatRequest() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidMessage) {
				t.Errorf("error %v does not wrap ErrInvalidMessage", err)
			}
			if req.Message != tt.wantMessage {
				t.Errorf("Message = %q, want %q", req.Message, tt.wantMessage)
			}
			if req.CorrelationID != tt.wantCorrelationID {
				t.Errorf("CorrelationID = %q, want %q", req.CorrelationID, tt.wantCorrelationID)
			}
			if len(req.History) != tt.wantHistory {
				t.Errorf("len(History) = %d, want %d", len(req.History), tt.wantHistory)
			}
		})
	}
}

func TestChatResponse_JSONShape(t *testing.T) {
	ok, _ := json.Marshal(ChatResponse{Text: "Namaste", CorrelationID: "abc123", Model: "models/x"})
	if string(ok) != `{"text":"Namaste","correlationId":"abc123"}` {
		t.Errorf("success shape = %s", ok)
	}

	failed := ChatResponse{Error: "Invalid message", CorrelationID: "abc123"}
	data, _ := json.Marshal(failed)
	if string(data) != `{"correlationId":"abc123","error":"Invalid message"}` {
		t.Errorf("error shape = %s", data)
	}
	if !failed.Failed() {
		t.Error("Failed() = false for an error response")
	}
}
