package gemini

// GenerateContentRequest is the body of a generateContent call.
type GenerateContentRequest struct {
	Contents         []Content        `json:"contents"`
	GenerationConfig GenerationConfig `json:"generationConfig"`
	SafetySettings   []SafetySetting  `json:"safetySettings"`
}

type Content struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

type Part struct {
	Text string `json:"text"`
}

type GenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopK            int     `json:"topK"`
	TopP            float64 `json:"topP"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type SafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

// GenerateContentResponse is the subset of the provider reply the gateway reads.
type GenerateContentResponse struct {
	Candidates []Candidate `json:"candidates"`
	Error      *ErrorBody  `json:"error,omitempty"`
}

type Candidate struct {
	Content      Content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

type ErrorBody struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

const (
	RoleUser  = "user"
	RoleModel = "model"

	FinishReasonStop = "STOP"
)

// FirstText returns the first part of the first candidate, or "".
func (r *GenerateContentResponse) FirstText() string {
	if r == nil || len(r.Candidates) == 0 || len(r.Candidates[0].Content.Parts) == 0 {
		return ""
	}
	return r.Candidates[0].Content.Parts[0].Text
}

// FinishReason returns the first candidate's finish reason. A missing
// reason reads as a normal stop.
func (r *GenerateContentResponse) FinishReason() string {
	if r == nil || len(r.Candidates) == 0 || r.Candidates[0].FinishReason == "" {
		return FinishReasonStop
	}
	return r.Candidates[0].FinishReason
}
