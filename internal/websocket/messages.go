package websocket

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType defines the type of WebSocket message
type MessageType string

// Client to server message types
const (
	MessageTypeNewText           MessageType = "new_text"
	MessageTypeListen            MessageType = "listen"
	MessageTypeStartReading      MessageType = "start_reading"
	MessageTypeStopReading       MessageType = "stop_reading"
	MessageTypeMicrophoneGranted MessageType = "microphone_granted"
	MessageTypeMicrophoneDenied  MessageType = "microphone_denied"
	MessageTypePing              MessageType = "ping"
)

// Server to client message types
const (
	MessageTypeState             MessageType = "state"
	MessageTypeReadingText       MessageType = "reading_text"
	MessageTypeTranscription     MessageType = "transcription"
	MessageTypeFeedback          MessageType = "feedback"
	MessageTypeReward            MessageType = "reward"
	MessageTypeSpeakingStart     MessageType = "speaking_start"
	MessageTypeSpeakingEnd       MessageType = "speaking_end"
	MessageTypeMicrophoneRequest MessageType = "microphone_request"
	MessageTypeMicrophoneRelease MessageType = "microphone_release"
	MessageTypeError             MessageType = "error"
	MessageTypePong              MessageType = "pong"
)

// Error codes sent in ErrorMessage
const (
	ErrorCodeInvalidMessage = "invalid_message"
	ErrorCodeBusy           = "busy"
	ErrorCodeNoText         = "no_text"
	ErrorCodeNotListening   = "not_listening"
	ErrorCodeInternal       = "internal_error"
)

// BaseMessage defines the common structure for all WebSocket messages
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp string      `json:"timestamp"`
	MessageID string      `json:"message_id,omitempty"`
}

func newBase(t MessageType) BaseMessage {
	return BaseMessage{Type: t, Timestamp: time.Now().Format(time.RFC3339)}
}

// ClientMessage is any control message sent by the reader's browser
type ClientMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

// StateMessage announces a practice state change
type StateMessage struct {
	BaseMessage
	State string `json:"state"`
}

// TextMessage carries the reading text, a transcription or feedback
type TextMessage struct {
	BaseMessage
	Text string `json:"text"`
}

// RewardMessage shows a sticker earned for reading
type RewardMessage struct {
	BaseMessage
	Sticker   string `json:"sticker"`
	Collected int    `json:"collected"`
}

// AudioFormatMessage precedes and follows binary audio, and asks for or
// releases the microphone
type AudioFormatMessage struct {
	BaseMessage
	SampleRate int    `json:"sample_rate,omitempty"`
	Encoding   string `json:"encoding,omitempty"`
	Bytes      int    `json:"bytes,omitempty"`
}

// PongMessage represents a pong response
type PongMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

// ErrorMessage represents an error response
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"error_code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// MessageValidator provides validation for WebSocket messages
type MessageValidator struct{}

// NewMessageValidator creates a new message validator
func NewMessageValidator() *MessageValidator {
	return &MessageValidator{}
}

// ValidateMessage parses an incoming control message
func (v *MessageValidator) ValidateMessage(messageBytes []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(messageBytes, &msg); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}

	// Add timestamp if missing
	if msg.Timestamp == "" {
		msg.Timestamp = time.Now().Format(time.RFC3339)
	}

	switch msg.Type {
	case MessageTypeNewText,
		MessageTypeListen,
		MessageTypeStartReading,
		MessageTypeStopReading,
		MessageTypeMicrophoneGranted,
		MessageTypeMicrophoneDenied,
		MessageTypePing:
		return &msg, nil
	case "":
		return nil, fmt.Errorf("message type is required")
	default:
		return nil, fmt.Errorf("unsupported message type: %s", msg.Type)
	}
}

// CreateStateMessage creates a state change message
func CreateStateMessage(state string) *StateMessage {
	return &StateMessage{BaseMessage: newBase(MessageTypeState), State: state}
}

// CreateTextMessage creates a reading_text, transcription or feedback message
func CreateTextMessage(t MessageType, text string) *TextMessage {
	return &TextMessage{BaseMessage: newBase(t), Text: text}
}

// CreateRewardMessage creates a sticker reward message
func CreateRewardMessage(sticker string, collected int) *RewardMessage {
	return &RewardMessage{BaseMessage: newBase(MessageTypeReward), Sticker: sticker, Collected: collected}
}

// CreateSpeakingStartMessage announces PCM16 audio at the given rate
func CreateSpeakingStartMessage(sampleRate int) *AudioFormatMessage {
	return &AudioFormatMessage{
		BaseMessage: newBase(MessageTypeSpeakingStart),
		SampleRate:  sampleRate,
		Encoding:    "pcm_s16le",
	}
}

// CreateSpeakingEndMessage marks the end of the audio stream
func CreateSpeakingEndMessage(totalBytes int) *AudioFormatMessage {
	return &AudioFormatMessage{BaseMessage: newBase(MessageTypeSpeakingEnd), Bytes: totalBytes}
}

// CreateMicrophoneRequestMessage asks the browser for float32 mono frames
func CreateMicrophoneRequestMessage(sampleRate int) *AudioFormatMessage {
	return &AudioFormatMessage{
		BaseMessage: newBase(MessageTypeMicrophoneRequest),
		SampleRate:  sampleRate,
		Encoding:    "float32le",
	}
}

// CreateMicrophoneReleaseMessage tells the browser to stop capturing
func CreateMicrophoneReleaseMessage() *AudioFormatMessage {
	return &AudioFormatMessage{BaseMessage: newBase(MessageTypeMicrophoneRelease)}
}

// CreateErrorMessage creates a standardized error message
func CreateErrorMessage(code, message, details string) *ErrorMessage {
	return &ErrorMessage{
		BaseMessage: newBase(MessageTypeError),
		Code:        code,
		Message:     message,
		Details:     details,
	}
}

// CreatePongMessage creates a pong response message
func CreatePongMessage(data string) *PongMessage {
	return &PongMessage{BaseMessage: newBase(MessageTypePong), Data: data}
}
