package model

type CallStatus string

const (
	CallStatusInactive   CallStatus = "INACTIVE"
	CallStatusConnecting CallStatus = "CONNECTING"
	CallStatusActive     CallStatus = "ACTIVE"
	CallStatusFinished   CallStatus = "FINISHED"
)

type MessageRole string

const (
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleUser      MessageRole = "user"
)

type ConversationStyle string

const (
	StyleCasual ConversationStyle = "casual"
	StyleFormal ConversationStyle = "formal"
)

type VoiceType string

const (
	VoiceMale   VoiceType = "male"
	VoiceFemale VoiceType = "female"
)
