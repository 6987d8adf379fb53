package server

import (
	"encoding/json"

	"github.com/reverie-rp/reverie/internal/round"
	"github.com/reverie-rp/reverie/internal/state"
)

// EventType tags a websocket frame in either direction.
type EventType string

// Client-to-server events.
const (
	// EventHello is the first frame a client sends: its persistent ID (empty
	// on first visit) and, optionally, the master password.
	EventHello EventType = "hello"

	EventSubmitInput   EventType = "submit_input"
	EventSkipTurn      EventType = "skip_turn"
	EventUpdateProfile EventType = "update_profile"
	EventTyping        EventType = "typing"

	// Master-only events.
	EventSaveSettings  EventType = "save_settings"
	EventUnlockProfile EventType = "unlock_profile"
	EventStartSession  EventType = "start_session"
	EventReset         EventType = "reset"
	EventUpsertLore    EventType = "upsert_lore"
	EventDeleteLore    EventType = "delete_lore"
	EventMoveLore      EventType = "move_lore"
	EventSaveExamples  EventType = "save_examples"
	EventEditHistory   EventType = "edit_history"
	EventClearBindings EventType = "clear_bindings"
)

// Server-to-client events.
const (
	EventWelcome   EventType = "welcome"
	EventState     EventType = "state"
	EventStatus    EventType = "status"
	EventNarration EventType = "narration"
	EventPresence  EventType = "presence"
	EventError     EventType = "error"
)

// Event is the frame envelope. Data holds the type-specific payload.
type Event struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// HelloData opens a connection.
type HelloData struct {
	ClientID      string `json:"client_id"`
	AdminPassword string `json:"admin_password,omitempty"`
}

// WelcomeData answers a hello.
type WelcomeData struct {
	// ClientID echoes the client's ID, or carries a freshly minted one.
	ClientID string `json:"client_id"`

	// Role is the assigned seat; empty for spectators.
	Role state.Role `json:"role"`

	Admin     bool `json:"admin"`
	Spectator bool `json:"spectator"`
}

// InputData carries a round submission.
type InputData struct {
	Text string `json:"text"`
}

// ProfileData carries a character sheet save.
type ProfileData struct {
	Name  string `json:"name"`
	Bio   string `json:"bio"`
	Canon string `json:"canon"`
}

// TypingData toggles the sender's typing indicator.
type TypingData struct {
	Active bool `json:"active"`
}

// RoleData addresses a master operation at a seat.
type RoleData struct {
	Role state.Role `json:"role"`
}

// LoreData upserts a lorebook entry; Index -1 appends.
type LoreData struct {
	Index int             `json:"index"`
	Entry state.LoreEntry `json:"entry"`
}

// IndexData addresses an entry by position.
type IndexData struct {
	Index int `json:"index"`
}

// MoveLoreData reorders the lorebook; order is match priority.
type MoveLoreData struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// ExamplesData replaces the few-shot slots.
type ExamplesData struct {
	Examples [state.ExampleSlots]state.Example `json:"examples"`
}

// HistoryEditData rewrites one history record.
type HistoryEditData struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// SettingsData wraps the master settings payload.
type SettingsData struct {
	Settings round.Settings `json:"settings"`
}

// StatusData carries a transient status line.
type StatusData struct {
	Message string `json:"message"`
}

// NarrationData delivers a committed AI record.
type NarrationData struct {
	Text string `json:"text"`
}

// PresenceData lists connected seats and who is typing.
type PresenceData struct {
	Connected  []state.Role `json:"connected"`
	Typing     []state.Role `json:"typing"`
	Spectators int          `json:"spectators"`
}

// ErrorData reports a rejected event.
type ErrorData struct {
	Message string `json:"message"`
}

// newEvent marshals payload into an envelope. Marshalling of our own payload
// types cannot fail; errors indicate a programming bug and are swallowed into
// an empty frame.
func newEvent(t EventType, payload any) Event {
	data, _ := json.Marshal(payload)
	return Event{Type: t, Data: data}
}
