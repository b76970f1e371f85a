package voice

import (
	"github.com/companionlab/companion-server/internal/config"
)

type Transcriber struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Language string `json:"language"`
}

type Voice struct {
	Provider        string  `json:"provider"`
	VoiceID         string  `json:"voiceId"`
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarityBoost"`
	Speed           float64 `json:"speed"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"useSpeakerBoost"`
}

type ModelMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Model struct {
	Provider string         `json:"provider"`
	Model    string         `json:"model"`
	Messages []ModelMessage `json:"messages"`
}

// Assistant is the provider-side assistant definition. Template placeholders such as
// {{topic}} are left in place and filled by the provider from Overrides.VariableValues.
type Assistant struct {
	Name           string      `json:"name"`
	FirstMessage   string      `json:"firstMessage"`
	Transcriber    Transcriber `json:"transcriber"`
	Voice          Voice       `json:"voice"`
	Model          Model       `json:"model"`
	ClientMessages []string    `json:"clientMessages"`
	ServerMessages []string    `json:"serverMessages"`
}

type Overrides struct {
	VariableValues map[string]string `json:"variableValues"`
	ClientMessages []string          `json:"clientMessages"`
	ServerMessages []string          `json:"serverMessages"`
}

// BuildAssistant selects the provider voice for voice and style and fills the rest from presets.
func BuildAssistant(presets *config.AssistantPresets, voice, style string) Assistant {
	return Assistant{
		Name:         presets.Name,
		FirstMessage: presets.FirstMessage,
		Transcriber: Transcriber{
			Provider: presets.Transcriber.Provider,
			Model:    presets.Transcriber.Model,
			Language: presets.Transcriber.Language,
		},
		Voice: Voice{
			Provider:        presets.Voice.Provider,
			VoiceID:         presets.VoiceID(voice, style),
			Stability:       presets.Voice.Stability,
			SimilarityBoost: presets.Voice.SimilarityBoost,
			Speed:           presets.Voice.Speed,
			Style:           presets.Voice.Style,
			UseSpeakerBoost: presets.Voice.UseSpeakerBoost,
		},
		Model: Model{
			Provider: presets.Model.Provider,
			Model:    presets.Model.Model,
			Messages: []ModelMessage{{Role: "system", Content: presets.Model.SystemPrompt}},
		},
		ClientMessages: []string{},
		ServerMessages: []string{},
	}
}

// SessionOverrides carries the per-call template variables. Only transcript
// messages are streamed to the client and none to the server.
func SessionOverrides(subject, topic, style string) Overrides {
	return Overrides{
		VariableValues: map[string]string{
			"subject": subject,
			"topic":   topic,
			"style":   style,
		},
		ClientMessages: []string{"transcript"},
		ServerMessages: []string{},
	}
}
