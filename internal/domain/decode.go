package domain

import (
	"encoding/json"
	"fmt"
)

// DecodeChatRequest reads a chat request body. It is lenient: a field of the
// wrong type is dropped rather than failing the whole body, so the
// correlation id survives a bad message. The returned error is non-nil when
// the message is unusable; the request is still returned alongside it.
func DecodeChatRequest(data []byte) (ChatRequest, error) {
	var raw struct {
		Message       json.RawMessage `json:"message"`
		History       json.RawMessage `json:"history"`
		SystemContext json.RawMessage `json:"systemContext"`
		CorrelationID json.RawMessage `json:"correlationId"`
	}

	var req ChatRequest
	if err := json.Unmarshal(data, &raw); err != nil {
		return req, fmt.Errorf("%w: decode body: %v", ErrInvalidMessage, err)
	}

	_ = json.Unmarshal(raw.CorrelationID, &req.CorrelationID)

	if len(raw.History) > 0 {
		var history []ChatTurn
		if err := json.Unmarshal(raw.History, &history); err == nil {
			req.History = history
		}
	}

	if len(raw.SystemContext) > 0 {
		var sc SystemContext
		if err := json.Unmarshal(raw.SystemContext, &sc); err == nil {
			req.SystemContext = sc
		}
	}

	if len(raw.Message) == 0 {
		return req, fmt.Errorf("%w: message missing", ErrInvalidMessage)
	}
	if err := json.Unmarshal(raw.Message, &req.Message); err != nil {
		req.Message = ""
		return req, fmt.Errorf("%w: message is not a string", ErrInvalidMessage)
	}
	if req.Message == "" {
		return req, fmt.Errorf("%w: message empty", ErrInvalidMessage)
	}

	return req, nil
}
