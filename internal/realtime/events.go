package realtime

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Inbound event types handled by Call. Anything else decodes to Unknown.
const (
	TypeSessionCreated  = "session.created"
	TypeSessionUpdated  = "session.updated"
	TypeResponseCreated = "response.created"
	TypeTextDelta       = "response.output_text.delta"
	TypeImageDelta      = "response.output_image.delta"
	TypeImageDone       = "response.output_image.done"
	TypeResponseDone    = "response.done"
	TypeError           = "error"

	// Earlier names of the delta events, still sent by some deployments.
	TypeTextDeltaLegacy  = "response.text.delta"
	TypeImageDeltaLegacy = "response.image.delta"

	unknownErrorMessage = "Unknown error"
)

// Event is one decoded server event. The concrete type is one of the structs
// below; callers switch on it.
type Event interface {
	EventType() string
}

type SessionCreated struct {
	SessionID string
}

type SessionUpdated struct {
	SessionID string
}

type ResponseCreated struct {
	ResponseID string
}

type TextDelta struct {
	ResponseID string
	Delta      string
}

// ImageDelta carries one base64-encoded JPEG frame.
type ImageDelta struct {
	ResponseID string
	Delta      string
}

// ImageDone ends an image stream. TotalFrames is -1 when the server did not
// report a count.
type ImageDone struct {
	ResponseID  string
	TotalFrames int
}

type ResponseDone struct {
	ResponseID string
	Status     string
}

type ErrorEvent struct {
	Message string
	Code    string
	ErrType string
	Raw     json.RawMessage
}

// Unknown is any well-formed event whose type is not handled above.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (SessionCreated) EventType() string  { return TypeSessionCreated }
func (SessionUpdated) EventType() string  { return TypeSessionUpdated }
func (ResponseCreated) EventType() string { return TypeResponseCreated }
func (TextDelta) EventType() string       { return TypeTextDelta }
func (ImageDelta) EventType() string      { return TypeImageDelta }
func (ImageDone) EventType() string       { return TypeImageDone }
func (ResponseDone) EventType() string    { return TypeResponseDone }
func (ErrorEvent) EventType() string      { return TypeError }
func (u Unknown) EventType() string       { return u.Type }

// Err converts the event into the error RunCall returns.
func (e ErrorEvent) Err() error {
	return &RemoteError{Message: e.Message, Code: e.Code, Type: e.ErrType, Raw: e.Raw}
}

type wireSession struct {
	ID string `json:"id"`
}

type wireResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type wireEvent struct {
	Type        string          `json:"type"`
	Session     *wireSession    `json:"session"`
	Response    *wireResponse   `json:"response"`
	ResponseID  string          `json:"response_id"`
	Delta       *string         `json:"delta"`
	TotalFrames *int            `json:"total_frames"`
	Error       json.RawMessage `json:"error"`
}

// ParseEvent decodes one data channel message. Failures wrap ErrDecode.
func ParseEvent(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if strings.TrimSpace(w.Type) == "" {
		return nil, fmt.Errorf("%w: missing event type", ErrDecode)
	}

	switch w.Type {
	case TypeSessionCreated:
		return SessionCreated{SessionID: w.sessionID()}, nil
	case TypeSessionUpdated:
		return SessionUpdated{SessionID: w.sessionID()}, nil
	case TypeResponseCreated:
		return ResponseCreated{ResponseID: w.responseID()}, nil
	case TypeTextDelta, TypeTextDeltaLegacy:
		if w.Delta == nil {
			return nil, fmt.Errorf("%w: %s without delta", ErrDecode, w.Type)
		}
		return TextDelta{ResponseID: w.ResponseID, Delta: *w.Delta}, nil
	case TypeImageDelta, TypeImageDeltaLegacy:
		if w.Delta == nil {
			return nil, fmt.Errorf("%w: %s without delta", ErrDecode, w.Type)
		}
		return ImageDelta{ResponseID: w.ResponseID, Delta: *w.Delta}, nil
	case TypeImageDone:
		total := -1
		if w.TotalFrames != nil {
			total = *w.TotalFrames
		}
		return ImageDone{ResponseID: w.ResponseID, TotalFrames: total}, nil
	case TypeResponseDone:
		ev := ResponseDone{ResponseID: w.responseID()}
		if w.Response != nil {
			ev.Status = w.Response.Status
		}
		return ev, nil
	case TypeError:
		return parseErrorEvent(w.Error, data), nil
	default:
		return Unknown{Type: w.Type, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}

func (w wireEvent) sessionID() string {
	if w.Session == nil {
		return ""
	}
	return w.Session.ID
}

func (w wireEvent) responseID() string {
	if w.Response != nil && w.Response.ID != "" {
		return w.Response.ID
	}
	return w.ResponseID
}

// parseErrorEvent extracts a message from the error payload: error.message
// when present, "Unknown error" for an object without one, and the raw JSON
// value when error is not an object. A missing error field reports the whole
// event.
func parseErrorEvent(payload json.RawMessage, whole []byte) ErrorEvent {
	if len(payload) == 0 || string(payload) == "null" {
		raw := append(json.RawMessage(nil), whole...)
		return ErrorEvent{Message: string(raw), Raw: raw}
	}
	raw := append(json.RawMessage(nil), payload...)

	var obj struct {
		Message *string `json:"message"`
		Code    any     `json:"code"`
		Type    string  `json:"type"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		ev := ErrorEvent{Message: unknownErrorMessage, ErrType: obj.Type, Code: codeString(obj.Code), Raw: raw}
		if obj.Message != nil && *obj.Message != "" {
			ev.Message = *obj.Message
		}
		return ev
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return ErrorEvent{Message: s, Raw: raw}
	}
	return ErrorEvent{Message: string(raw), Raw: raw}
}

func codeString(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	case float64:
		return fmt.Sprintf("%g", c)
	default:
		return fmt.Sprint(c)
	}
}
