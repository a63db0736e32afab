// Package events is the realtime fan-out layer: a hub of named channels,
// websocket peers subscribed to them, and an optional redis bridge that
// carries publishes across instances. Delivery is best-effort and
// at-most-once per connected peer; there is no backlog or replay, so
// clients reconcile by re-fetching chat state after a reconnect.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event types pushed to subscribers. Acknowledgments (subscribed,
// unsubscribed, subscribed_queue) are sent directly by the client handler
// and never fan out.
const (
	TypeNewChat     = "new_chat"
	TypeChatUpdated = "chat_updated"
	TypeNewMessage  = "new_message"
)

// ChatChannel is the per-chat channel: new messages and status changes.
func ChatChannel(chatID uuid.UUID) string {
	return "chat:" + chatID.String()
}

// DistrictQueueChannel carries queue-relevant changes for a district's
// workers: chats entering the queue and chats leaving it.
func DistrictQueueChannel(districtID uuid.UUID) string {
	return "district:" + districtID.String() + ":queue"
}

// Event is one outbound push. Payload fields are flattened into the frame
// next to type and timestamp, matching what chat clients consume:
// {"type":"new_message","id":...,"body":...,"timestamp":...}.
type Event struct {
	Type      string
	Payload   any
	Timestamp time.Time
}

func NewEvent(eventType string, payload any) Event {
	return Event{Type: eventType, Payload: payload, Timestamp: time.Now().UTC()}
}

func (e Event) MarshalJSON() ([]byte, error) {
	frame := map[string]json.RawMessage{}

	if e.Payload != nil {
		raw, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal event payload: %w", err)
		}
		// Struct payloads flatten; anything else would be a programming
		// error in the publisher.
		if err := json.Unmarshal(raw, &frame); err != nil {
			return nil, fmt.Errorf("flatten event payload: %w", err)
		}
	}

	typeRaw, _ := json.Marshal(e.Type)
	tsRaw, _ := json.Marshal(e.Timestamp.Format(time.RFC3339Nano))
	frame["type"] = typeRaw
	frame["timestamp"] = tsRaw

	return json.Marshal(frame)
}

// Publisher is what the triage service sees: fire an event at a channel
// after a committed mutation. Implemented by Hub and by the redis Bridge.
type Publisher interface {
	Publish(channel string, event Event)
}
