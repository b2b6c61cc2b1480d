// Package protocol defines the websocket message schemas exchanged between
// the voice client and the gateway. Every client frame is a JSON object
// tagged by "type" and is validated here, at the transport boundary, before
// it reaches the conversation controller.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

// Client → server frames.

type ClientStart struct {
	Type string `json:"type"`
}

// ClientAudio carries one complete recorded utterance. The payload is the
// base64 encoding of the recorded blob; Format is its mime type as reported
// by the recorder (for example "audio/webm;codecs=opus").
type ClientAudio struct {
	Type   string `json:"type"`
	Audio  string `json:"audio"`
	Format string `json:"format,omitempty"`
}

type ClientInterrupt struct {
	Type string `json:"type"`
}

// ClientPlaybackDone reports that the client finished rendering the last
// assistant reply, so the controller can resume listening.
type ClientPlaybackDone struct {
	Type string `json:"type"`
}

type ClientEnd struct {
	Type string `json:"type"`
}

// DecodeClientMessage parses and validates a raw client frame. It returns
// one of the Client* message types or a *DecodeError.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case "start":
		var msg ClientStart
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid start frame", "")
		}
		return msg, nil
	case "audio":
		var msg ClientAudio
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid audio frame", "")
		}
		if strings.TrimSpace(msg.Audio) == "" {
			return nil, badRequest("audio.audio is required", "audio")
		}
		if msg.Format == "" {
			msg.Format = DefaultAudioFormat
		}
		return msg, nil
	case "interrupt":
		var msg ClientInterrupt
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid interrupt frame", "")
		}
		return msg, nil
	case "playback_done":
		var msg ClientPlaybackDone
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid playback_done frame", "")
		}
		return msg, nil
	case "end":
		var msg ClientEnd
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid end frame", "")
		}
		return msg, nil
	default:
		return nil, badRequest("unsupported message type", "type")
	}
}

// DefaultAudioFormat is assumed when the recorder does not declare one.
const DefaultAudioFormat = "audio/webm"

// Server → client frames.

type ServerStarted struct {
	Type           string `json:"type"`
	Message        string `json:"message"`
	ConversationID string `json:"conversationId"`
}

type ServerListening struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
}

type ServerAIResponse struct {
	Type           string `json:"type"`
	Text           string `json:"text"`
	ConversationID string `json:"conversationId"`
}

type ServerInterrupted struct {
	Type           string `json:"type"`
	Message        string `json:"message"`
	ConversationID string `json:"conversationId"`
}

type ServerEnded struct {
	Type           string `json:"type"`
	Reason         string `json:"reason"`
	ConversationID string `json:"conversationId"`
}

type ServerWarning struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ServerError struct {
	Type           string `json:"type"`
	Message        string `json:"message"`
	ConversationID string `json:"conversationId,omitempty"`
	Details        string `json:"details,omitempty"`
}

// DecodeServerMessage parses a server frame. Clients use it to keep their
// mirror of the conversation state.
func DecodeServerMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}

	switch strings.TrimSpace(envelope.Type) {
	case "started":
		var msg ServerStarted
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid started frame", "")
		}
		return msg, nil
	case "listening":
		var msg ServerListening
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid listening frame", "")
		}
		return msg, nil
	case "ai_response":
		var msg ServerAIResponse
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid ai_response frame", "")
		}
		return msg, nil
	case "interrupted":
		var msg ServerInterrupted
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid interrupted frame", "")
		}
		return msg, nil
	case "ended":
		var msg ServerEnded
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid ended frame", "")
		}
		return msg, nil
	case "warning":
		var msg ServerWarning
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid warning frame", "")
		}
		return msg, nil
	case "error":
		var msg ServerError
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid error frame", "")
		}
		return msg, nil
	default:
		return nil, badRequest("unsupported message type", "type")
	}
}

// End reasons reported in ServerEnded.
const (
	EndReasonClient      = "client_request"
	EndReasonIdleTimeout = "idle_timeout"
	EndReasonSweep       = "session_expired"
	EndReasonShutdown    = "server_shutdown"
)
