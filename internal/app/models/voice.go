package models

// VoiceState is the lifecycle state of a realtime voice session.
type VoiceState string

const (
	VoiceIdle       VoiceState = "idle"
	VoiceConnecting VoiceState = "connecting"
	VoiceConnected  VoiceState = "connected"
	VoiceRecording  VoiceState = "recording"
	VoiceProcessing VoiceState = "processing"
	VoiceError      VoiceState = "error"
)
