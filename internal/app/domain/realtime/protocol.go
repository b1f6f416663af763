package realtime

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/FACorreiaa/outdoor-explorer/internal/app/models"
	"github.com/FACorreiaa/outdoor-explorer/internal/pkg/debugger"
)

// Data channel message types.
const (
	TypeSessionUpdate          = "session.update"
	TypeAudioAppend            = "input_audio_buffer.append"
	TypeAudioCommit            = "input_audio_buffer.commit"
	TypeAudioClear             = "input_audio_buffer.clear"
	TypeConversationItemCreate = "conversation.item.create"
	TypeResponseCreate         = "response.create"
	TypeResponseCancel         = "response.cancel"

	TypeSessionCreated          = "session.created"
	TypeSessionUpdated          = "session.updated"
	TypeTranscriptDelta         = "response.audio_transcript.delta"
	TypeTranscriptDone          = "response.audio_transcript.done"
	TypeTextDelta               = "response.text.delta"
	TypeTextDone                = "response.text.done"
	TypeAudioDone               = "response.audio.done"
	TypeResponseDone            = "response.done"
	TypeSpeechStarted           = "input_audio_buffer.speech_started"
	TypeSpeechStopped           = "input_audio_buffer.speech_stopped"
	TypeFunctionCallArgsDone    = "response.function_call_arguments.done"
	TypeOutputItemDone          = "response.output_item.done"
	TypeConversationItemCreated = "conversation.item.created"
	TypeError                   = "error"
)

// ToolShowTrip is the function the assistant calls to hand over a trip document.
const ToolShowTrip = "show_trip"

// TurnDetection configures server-side voice activity detection.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
}

// Tool is a function exposed to the assistant.
type Tool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// TranscriptionConfig enables transcription of the user's audio.
type TranscriptionConfig struct {
	Model string `json:"model"`
}

// SessionConfig is the body of session.update.
type SessionConfig struct {
	Modalities              []string             `json:"modalities"`
	Instructions            string               `json:"instructions,omitempty"`
	Voice                   string               `json:"voice,omitempty"`
	InputAudioFormat        string               `json:"input_audio_format"`
	OutputAudioFormat       string               `json:"output_audio_format"`
	InputAudioTranscription *TranscriptionConfig `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection       `json:"turn_detection"`
	Tools                   []Tool               `json:"tools,omitempty"`
	ToolChoice              string               `json:"tool_choice,omitempty"`
}

// ShowTripTool describes the trip hand-over function.
func ShowTripTool() Tool {
	return Tool{
		Type:        "function",
		Name:        ToolShowTrip,
		Description: "Display a planned trip on the map. Pass the full trip document with journey, itinerary and markers.",
		Parameters: json.RawMessage(`{"type":"object","properties":{"trip":{"type":"object",` +
			`"description":"Trip document with title, description, mapCenter, markers, journey and itinerary"}},"required":["trip"]}`),
	}
}

type contentPart struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

type conversationItem struct {
	ID        string        `json:"id,omitempty"`
	Type      string        `json:"type"`
	Role      string        `json:"role,omitempty"`
	Content   []contentPart `json:"content,omitempty"`
	Name      string        `json:"name,omitempty"`
	CallID    string        `json:"call_id,omitempty"`
	Arguments string        `json:"arguments,omitempty"`
	Output    string        `json:"output,omitempty"`
}

// SessionUpdate builds the session.update message.
func SessionUpdate(cfg SessionConfig) ([]byte, error) {
	return json.Marshal(struct {
		Type    string        `json:"type"`
		Session SessionConfig `json:"session"`
	}{TypeSessionUpdate, cfg})
}

// AudioAppend builds input_audio_buffer.append from raw PCM16 LE bytes.
func AudioAppend(pcm []byte) ([]byte, error) {
	return AudioAppendBase64(base64.StdEncoding.EncodeToString(pcm))
}

// AudioAppendBase64 builds input_audio_buffer.append from an already encoded chunk.
func AudioAppendBase64(chunk string) ([]byte, error) {
	return json.Marshal(struct {
		Type  string `json:"type"`
		Audio string `json:"audio"`
	}{TypeAudioAppend, chunk})
}

// AudioCommit builds input_audio_buffer.commit.
func AudioCommit() []byte {
	return []byte(`{"type":"` + TypeAudioCommit + `"}`)
}

// UserText builds conversation.item.create with a user text turn.
func UserText(text string) ([]byte, error) {
	return json.Marshal(struct {
		Type string           `json:"type"`
		Item conversationItem `json:"item"`
	}{TypeConversationItemCreate, conversationItem{
		Type:    "message",
		Role:    "user",
		Content: []contentPart{{Type: "input_text", Text: text}},
	}})
}

// FunctionCallOutput builds conversation.item.create answering a function call.
func FunctionCallOutput(callID, output string) ([]byte, error) {
	return json.Marshal(struct {
		Type string           `json:"type"`
		Item conversationItem `json:"item"`
	}{TypeConversationItemCreate, conversationItem{
		Type:   "function_call_output",
		CallID: callID,
		Output: output,
	}})
}

// ResponseCreate builds response.create.
func ResponseCreate() []byte {
	return []byte(`{"type":"` + TypeResponseCreate + `"}`)
}

// Listener receives decoded inbound events. Calls arrive in channel delivery order.
type Listener interface {
	OnSessionCreated(sessionID string)
	OnTranscriptDelta(delta, partial string)
	OnTranscriptDone(text string)
	OnResponseDone()
	OnSpeechStarted()
	OnTripData(payload []byte, callID string)
	OnRemoteError(message string)
}

type inbound struct {
	Type       string `json:"type"`
	Delta      string `json:"delta"`
	Transcript string `json:"transcript"`
	Text       string `json:"text"`
	Name       string `json:"name"`
	CallID     string `json:"call_id"`
	Arguments  string `json:"arguments"`
	Session    *struct {
		ID string `json:"id"`
	} `json:"session"`
	Item  *conversationItem `json:"item"`
	Error *struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Handler decodes inbound data channel messages and drives a TranscriptBuffer.
type Handler struct {
	listener   Listener
	transcript *TranscriptBuffer
	logger     *zap.Logger
}

// NewHandler creates a protocol Handler.
func NewHandler(listener Listener, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		listener:   listener,
		transcript: &TranscriptBuffer{},
		logger:     logger,
	}
}

// Transcript exposes the live buffer.
func (h *Handler) Transcript() *TranscriptBuffer { return h.transcript }

// Handle processes one inbound message. A malformed message returns an ErrProtocol error;
// callers log it and keep the session going.
func (h *Handler) Handle(raw []byte) error {
	debugger.LogEvent(h.logger, "inbound", raw)

	var msg inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("%w: decoding message: %v", models.ErrProtocol, err)
	}
	if msg.Type == "" {
		return fmt.Errorf("%w: message without type", models.ErrProtocol)
	}

	switch msg.Type {
	case TypeSessionCreated:
		id := ""
		if msg.Session != nil {
			id = msg.Session.ID
		}
		h.logger.Info("Realtime session created", zap.String("session_id", id))
		h.listener.OnSessionCreated(id)

	case TypeSessionUpdated:
		h.logger.Debug("Realtime session updated")

	case TypeTranscriptDelta, TypeTextDelta:
		partial := h.transcript.Append(msg.Delta)
		h.listener.OnTranscriptDelta(msg.Delta, partial)

	case TypeTranscriptDone, TypeTextDone:
		full := h.transcript.Flush()
		if full == "" {
			full = firstNonEmpty(msg.Transcript, msg.Text)
		}
		h.listener.OnTranscriptDone(full)
		h.tryTrip(full, "")

	case TypeAudioDone:
		h.listener.OnResponseDone()

	case TypeResponseDone:
		// audio.done precedes the transcript's done event, so only response.done clears it.
		h.transcript.Reset()
		h.listener.OnResponseDone()

	case TypeSpeechStarted:
		h.transcript.Reset()
		h.listener.OnSpeechStarted()

	case TypeSpeechStopped:
		h.logger.Debug("Speech stopped")

	case TypeFunctionCallArgsDone:
		h.tryTrip(msg.Arguments, msg.CallID)

	case TypeOutputItemDone, TypeConversationItemCreated:
		if msg.Item == nil {
			return nil
		}
		if msg.Item.Type == "function_call" {
			// arguments are delivered by response.function_call_arguments.done
			return nil
		}
		for _, part := range msg.Item.Content {
			h.tryTrip(firstNonEmpty(part.Text, part.Transcript), "")
		}

	case TypeError:
		message := "unknown realtime error"
		if msg.Error != nil && msg.Error.Message != "" {
			message = msg.Error.Message
		}
		h.logger.Warn("Realtime error event", zap.String("message", message))
		h.listener.OnRemoteError(message)

	default:
		h.logger.Debug("Ignoring realtime event", zap.String("type", msg.Type))
	}
	return nil
}

func (h *Handler) tryTrip(text, callID string) {
	if !strings.Contains(text, "{") && !strings.Contains(text, "[") {
		return
	}
	payload, err := ExtractTripPayload(text)
	if err != nil {
		h.logger.Debug("No trip data in message", zap.Error(err))
		return
	}
	h.listener.OnTripData(payload, callID)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
