package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

// Client engine host -> server.
const (
	TypeEngineHello   MessageType = "engine_hello"
	TypeTTSEvent      MessageType = "tts_event"
	TypeTTSState      MessageType = "tts_state"
	TypeVoicesChanged MessageType = "voices_changed"
	TypeSTTResult     MessageType = "stt_result"
	TypeSTTError      MessageType = "stt_error"
	TypeSTTEnd        MessageType = "stt_end"
	TypeClientControl MessageType = "client_control"
	TypeClientText    MessageType = "client_text"
)

// Server -> client engine host.
const (
	TypeTTSSpeak     MessageType = "tts_speak"
	TypeTTSControl   MessageType = "tts_control"
	TypeAudioUnlock  MessageType = "audio_unlock"
	TypeSTTControl   MessageType = "stt_control"
	TypeTutorMessage MessageType = "tutor_message"
	TypeTutorState   MessageType = "tutor_state"
	TypeSystemEvent  MessageType = "system_event"
	TypeErrorEvent   MessageType = "error_event"
)

// Client control actions.
const (
	ActionRecordStart  = "record_start"
	ActionRecordStop   = "record_stop"
	ActionCancelSpeech = "cancel_speech"
	ActionReset        = "reset"
	ActionSelectVoice  = "select_voice"
)

// Utterance event names carried by tts_event.
const (
	UtteranceStart = "start"
	UtteranceEnd   = "end"
	UtteranceError = "error"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type Voice struct {
	Name    string `json:"name"`
	Lang    string `json:"lang"`
	URI     string `json:"uri"`
	Default bool   `json:"default,omitempty"`
}

type RecognitionResult struct {
	Transcript string  `json:"transcript"`
	IsFinal    bool    `json:"is_final"`
	Confidence float64 `json:"confidence,omitempty"`
}

type EngineHello struct {
	Type         MessageType `json:"type"`
	SessionID    string      `json:"session_id"`
	UserAgent    string      `json:"user_agent"`
	TTSSupported bool        `json:"tts_supported"`
	STTSupported bool        `json:"stt_supported"`
	Voices       []Voice     `json:"voices,omitempty"`
}

type TTSEvent struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	UtteranceID string      `json:"utterance_id"`
	Event       string      `json:"event"`
	Code        string      `json:"code,omitempty"`
}

type TTSState struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Paused    bool        `json:"paused"`
	Speaking  bool        `json:"speaking"`
}

type VoicesChanged struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Voices    []Voice     `json:"voices"`
}

type STTResult struct {
	Type      MessageType         `json:"type"`
	SessionID string              `json:"session_id"`
	Results   []RecognitionResult `json:"results"`
}

type STTError struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
}

type STTEnd struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
	Reason    string      `json:"reason,omitempty"`
	TSMs      int64       `json:"ts_ms,omitempty"`
	VoiceURI  string      `json:"voice_uri,omitempty"`
	VoiceName string      `json:"voice_name,omitempty"`
}

type ClientText struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
}

type TTSSpeak struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	UtteranceID string      `json:"utterance_id"`
	Text        string      `json:"text"`
	Lang        string      `json:"lang,omitempty"`
	VoiceURI    string      `json:"voice_uri,omitempty"`
	VoiceName   string      `json:"voice_name,omitempty"`
	Rate        float64     `json:"rate"`
	Pitch       float64     `json:"pitch"`
}

type TTSControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
}

type AudioUnlock struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	WAVBase64 string      `json:"wav_base64"`
	Gain      float64     `json:"gain"`
}

type STTControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
	Lang      string      `json:"lang,omitempty"`
}

type TutorMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Role      string      `json:"role"`
	Text      string      `json:"text"`
}

type TutorState struct {
	Type         MessageType `json:"type"`
	SessionID    string      `json:"session_id"`
	State        string      `json:"state"`
	Capabilities string      `json:"capabilities,omitempty"`
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeEngineHello:
		var msg EngineHello
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, errors.New("invalid engine_hello")
		}
		return msg, nil
	case TypeTTSEvent:
		var msg TTSEvent
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.UtteranceID == "" {
			return nil, errors.New("invalid tts_event")
		}
		switch msg.Event {
		case UtteranceStart, UtteranceEnd, UtteranceError:
		default:
			return nil, fmt.Errorf("invalid tts_event: unknown event %q", msg.Event)
		}
		return msg, nil
	case TypeTTSState:
		var msg TTSState
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, errors.New("invalid tts_state")
		}
		return msg, nil
	case TypeVoicesChanged:
		var msg VoicesChanged
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, errors.New("invalid voices_changed")
		}
		return msg, nil
	case TypeSTTResult:
		var msg STTResult
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || len(msg.Results) == 0 {
			return nil, errors.New("invalid stt_result")
		}
		return msg, nil
	case TypeSTTError:
		var msg STTError
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Code == "" {
			return nil, errors.New("invalid stt_error")
		}
		return msg, nil
	case TypeSTTEnd:
		var msg STTEnd
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, errors.New("invalid stt_end")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		if msg.Action == ActionSelectVoice && msg.VoiceURI == "" && msg.VoiceName == "" {
			return nil, errors.New("invalid client_control: select_voice needs voice_uri or voice_name")
		}
		return msg, nil
	case TypeClientText:
		var msg ClientText
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || strings.TrimSpace(msg.Text) == "" {
			return nil, errors.New("invalid client_text")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// MessageMeta returns the wire type of an outbound message and whether it must
// not be dropped under backpressure.
func MessageMeta(msg any) (msgType string, critical bool) {
	switch m := msg.(type) {
	case TTSSpeak:
		return string(m.Type), true
	case TTSControl:
		return string(m.Type), true
	case AudioUnlock:
		return string(m.Type), true
	case STTControl:
		return string(m.Type), true
	case TutorMessage:
		return string(m.Type), true
	case ErrorEvent:
		return string(m.Type), true
	case SystemEvent:
		return string(m.Type), true
	case TutorState:
		return string(m.Type), false
	default:
		return "unknown", false
	}
}
