package config

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed assistants.yaml
var defaultAssistantsYAML []byte

type TranscriberPreset struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	Language string `yaml:"language"`
}

type VoicePreset struct {
	Provider        string  `yaml:"provider"`
	Stability       float64 `yaml:"stability"`
	SimilarityBoost float64 `yaml:"similarityBoost"`
	Speed           float64 `yaml:"speed"`
	Style           float64 `yaml:"style"`
	UseSpeakerBoost bool    `yaml:"useSpeakerBoost"`
}

type ModelPreset struct {
	Provider     string `yaml:"provider"`
	Model        string `yaml:"model"`
	SystemPrompt string `yaml:"systemPrompt"`
}

// AssistantPresets describes the voice assistant every companion call is started with.
// Voices maps voice (male, female) to conversation style (casual, formal) to a provider voice id.
type AssistantPresets struct {
	Name           string                       `yaml:"name"`
	FirstMessage   string                       `yaml:"firstMessage"`
	DefaultVoiceID string                       `yaml:"defaultVoiceId"`
	Transcriber    TranscriberPreset            `yaml:"transcriber"`
	Voice          VoicePreset                  `yaml:"voice"`
	Model          ModelPreset                  `yaml:"model"`
	Voices         map[string]map[string]string `yaml:"voices"`
}

// VoiceID returns the provider voice for the given voice and style, or the default voice.
func (p *AssistantPresets) VoiceID(voice, style string) string {
	if styles, ok := p.Voices[voice]; ok {
		if id, ok := styles[style]; ok && id != "" {
			return id
		}
	}
	return p.DefaultVoiceID
}

func LoadAssistantPresets() (*AssistantPresets, error) {
	return ParseAssistantPresets(defaultAssistantsYAML)
}

func ParseAssistantPresets(data []byte) (*AssistantPresets, error) {
	var presets AssistantPresets
	if err := yaml.Unmarshal(data, &presets); err != nil {
		return nil, fmt.Errorf("parse assistant presets: %w", err)
	}
	if presets.DefaultVoiceID == "" {
		return nil, fmt.Errorf("assistant presets: defaultVoiceId is required")
	}
	return &presets, nil
}
