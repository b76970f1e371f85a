package model

// TranscriptMessage lives only in memory for the lifetime of one call.
type TranscriptMessage struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}

// CallSnapshot is the observable state of one call session.
type CallSnapshot struct {
	SessionID   string              `json:"sessionId"`
	CompanionID string              `json:"companionId"`
	Status      CallStatus          `json:"status"`
	Speaking    bool                `json:"speaking"`
	Muted       bool                `json:"muted"`
	Messages    []TranscriptMessage `json:"messages"`
}

// Entitlement is derived per request from plan tier and feature flags.
type Entitlement struct {
	Limit     int  `json:"limit"`
	Unlimited bool `json:"unlimited"`
}
