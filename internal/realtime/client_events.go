package realtime

import (
	"github.com/google/uuid"
)

const (
	TypeSessionUpdate          = "session.update"
	TypeConversationItemCreate = "conversation.item.create"
	TypeResponseCreate         = "response.create"

	sessionTypeRealtime = "realtime"
)

// SessionConfig is the session object sent in the call-creation form and in
// session.update. Which fields are set depends on the vendor.
type SessionConfig struct {
	Type         string       `json:"type,omitempty"`
	Model        string       `json:"model,omitempty"`
	Instructions string       `json:"instructions,omitempty"`
	Voice        string       `json:"voice,omitempty"`
	Audio        *AudioConfig `json:"audio,omitempty"`
	Face         string       `json:"face,omitempty"`
	Driving      string       `json:"driving,omitempty"`
	Modalities   []string     `json:"modalities,omitempty"`
}

type AudioConfig struct {
	Output AudioOutputConfig `json:"output"`
}

type AudioOutputConfig struct {
	Voice string `json:"voice,omitempty"`
}

type SessionUpdateEvent struct {
	EventID string        `json:"event_id,omitempty"`
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

type ConversationItemCreateEvent struct {
	EventID string           `json:"event_id,omitempty"`
	Type    string           `json:"type"`
	Item    ConversationItem `json:"item"`
}

type ConversationItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type ResponseCreateEvent struct {
	EventID string `json:"event_id,omitempty"`
	Type    string `json:"type"`
}

func newEventID() string {
	return "evt_" + uuid.NewString()
}

func newSessionUpdate(session SessionConfig) SessionUpdateEvent {
	return SessionUpdateEvent{EventID: newEventID(), Type: TypeSessionUpdate, Session: session}
}

func newUserMessage(text string) ConversationItemCreateEvent {
	return ConversationItemCreateEvent{
		EventID: newEventID(),
		Type:    TypeConversationItemCreate,
		Item: ConversationItem{
			Type:    "message",
			Role:    "user",
			Content: []ContentPart{{Type: "input_text", Text: text}},
		},
	}
}

func newResponseCreate() ResponseCreateEvent {
	return ResponseCreateEvent{EventID: newEventID(), Type: TypeResponseCreate}
}
