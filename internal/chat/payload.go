package chat

import (
	"strings"

	"github.com/simhastha/anubhav-gateway/internal/domain"
	"github.com/simhastha/anubhav-gateway/internal/provider/gemini"
)

const defaultLanguage = "English"

const blockMediumAndAbove = "BLOCK_MEDIUM_AND_ABOVE"

var generationConfig = gemini.GenerationConfig{
	Temperature:     0.7,
	TopK:            40,
	TopP:            0.95,
	MaxOutputTokens: 800,
}

var safetyCategories = []string{
	"HARM_CATEGORY_HARASSMENT",
	"HARM_CATEGORY_HATE_SPEECH",
	"HARM_CATEGORY_SEXUALLY_EXPLICIT",
	"HARM_CATEGORY_DANGEROUS_CONTENT",
}

// SystemInstruction renders the fixed assistant brief for a request's
// language and layer set.
func SystemInstruction(sc domain.SystemContext) string {
	language := sc.Language
	if language == "" {
		language = defaultLanguage
	}

	var b strings.Builder
	b.WriteString("You are Anubhav AI, an assistant for the Ujjain Mahakumbh (Simhastha) app.\n")
	b.WriteString("You help with: Ghats, Temples, Accommodation, Transport, Emergencies.\n")
	b.WriteString("You can include map control commands in your response when appropriate:\n")
	b.WriteString("[SHOW_LAYER:ghats|temples|wards|restaurants|hospitals|hotels]\n")
	b.WriteString("[FOCUS:location name]\n")
	b.WriteString("[ROUTE:origin->destination]\n")
	b.WriteString("Always be concise and helpful.\n")
	b.WriteString("Respond in " + language + ".\n")
	b.WriteString("Available layers: " + strings.Join(sc.Layers.Names(), ", "))
	return b.String()
}

// BuildPayload maps a chat request onto a generateContent body. Error turns
// are dropped; the last entry is always the user turn carrying the brief.
func BuildPayload(req domain.ChatRequest) gemini.GenerateContentRequest {
	contents := make([]gemini.Content, 0, len(req.History)+1)
	for _, turn := range req.History {
		if turn.IsError {
			continue
		}
		role := gemini.RoleModel
		if turn.IsUser {
			role = gemini.RoleUser
		}
		contents = append(contents, gemini.Content{
			Role:  role,
			Parts: []gemini.Part{{Text: turn.Content}},
		})
	}

	contents = append(contents, gemini.Content{
		Role:  gemini.RoleUser,
		Parts: []gemini.Part{{Text: SystemInstruction(req.SystemContext) + "\n\n" + req.Message}},
	})

	safety := make([]gemini.SafetySetting, len(safetyCategories))
	for i, category := range safetyCategories {
		safety[i] = gemini.SafetySetting{Category: category, Threshold: blockMediumAndAbove}
	}

	return gemini.GenerateContentRequest{
		Contents:         contents,
		GenerationConfig: generationConfig,
		SafetySettings:   safety,
	}
}
