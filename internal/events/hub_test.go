package events

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// fakePeer records delivered frames; full simulates a slow consumer.
type fakePeer struct {
	frames [][]byte
	full   bool
}

func (p *fakePeer) Send(frame []byte) bool {
	if p.full {
		return false
	}
	p.frames = append(p.frames, frame)
	return true
}

type chatPayload struct {
	ChatID string `json:"chatId"`
	Body   string `json:"body"`
}

func TestHubPublishReachesSubscribersOnly(t *testing.T) {
	hub := NewHub(zap.NewNop())
	chatID := uuid.New()
	channel := ChatChannel(chatID)

	sub := &fakePeer{}
	other := &fakePeer{}
	hub.Subscribe(sub, channel)
	hub.Subscribe(other, ChatChannel(uuid.New()))

	hub.Publish(channel, NewEvent(TypeNewMessage, chatPayload{ChatID: chatID.String(), Body: "hello"}))

	if len(sub.frames) != 1 {
		t.Fatalf("subscriber got %d frames, want 1", len(sub.frames))
	}
	if len(other.frames) != 0 {
		t.Fatalf("non-subscriber got %d frames, want 0", len(other.frames))
	}

	var frame map[string]any
	if err := json.Unmarshal(sub.frames[0], &frame); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if frame["type"] != TypeNewMessage {
		t.Errorf("frame type = %v, want %q", frame["type"], TypeNewMessage)
	}
	if frame["body"] != "hello" {
		t.Errorf("payload not flattened into frame: %v", frame)
	}
	if _, ok := frame["timestamp"]; !ok {
		t.Error("frame missing timestamp")
	}
}

func TestHubMultipleSubscribers(t *testing.T) {
	hub := NewHub(zap.NewNop())
	channel := DistrictQueueChannel(uuid.New())

	peers := []*fakePeer{{}, {}, {}}
	for _, p := range peers {
		hub.Subscribe(p, channel)
	}

	hub.Publish(channel, NewEvent(TypeNewChat, chatPayload{ChatID: uuid.NewString()}))

	for i, p := range peers {
		if len(p.frames) != 1 {
			t.Errorf("peer %d got %d frames, want 1", i, len(p.frames))
		}
	}
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub(zap.NewNop())
	channel := ChatChannel(uuid.New())

	p := &fakePeer{}
	hub.Subscribe(p, channel)
	hub.Unsubscribe(p, channel)

	hub.Publish(channel, NewEvent(TypeChatUpdated, chatPayload{}))

	if len(p.frames) != 0 {
		t.Fatalf("unsubscribed peer got %d frames, want 0", len(p.frames))
	}
	if n := hub.SubscriberCount(channel); n != 0 {
		t.Errorf("SubscriberCount = %d, want 0", n)
	}
}

func TestHubDropTearsDownAllSubscriptions(t *testing.T) {
	hub := NewHub(zap.NewNop())
	chatChan := ChatChannel(uuid.New())
	queueChan := DistrictQueueChannel(uuid.New())

	p := &fakePeer{}
	hub.Subscribe(p, chatChan)
	hub.Subscribe(p, queueChan)

	hub.Drop(p)

	hub.Publish(chatChan, NewEvent(TypeNewMessage, chatPayload{}))
	hub.Publish(queueChan, NewEvent(TypeNewChat, chatPayload{}))

	if len(p.frames) != 0 {
		t.Fatalf("dropped peer got %d frames, want 0", len(p.frames))
	}
}

func TestHubSlowPeerLosesFrameOthersUnaffected(t *testing.T) {
	hub := NewHub(zap.NewNop())
	channel := ChatChannel(uuid.New())

	slow := &fakePeer{full: true}
	healthy := &fakePeer{}
	hub.Subscribe(slow, channel)
	hub.Subscribe(healthy, channel)

	hub.Publish(channel, NewEvent(TypeNewMessage, chatPayload{Body: "x"}))

	if len(healthy.frames) != 1 {
		t.Errorf("healthy peer got %d frames, want 1", len(healthy.frames))
	}
	if len(slow.frames) != 0 {
		t.Errorf("slow peer should have dropped the frame")
	}
}

func TestHubResubscribeIsIdempotent(t *testing.T) {
	hub := NewHub(zap.NewNop())
	channel := ChatChannel(uuid.New())

	p := &fakePeer{}
	hub.Subscribe(p, channel)
	hub.Subscribe(p, channel)

	hub.Publish(channel, NewEvent(TypeNewMessage, chatPayload{}))

	if len(p.frames) != 1 {
		t.Fatalf("double-subscribed peer got %d frames, want 1", len(p.frames))
	}
}

func TestEventMarshalFlattensStructPayload(t *testing.T) {
	chatID := uuid.New()
	event := NewEvent(TypeChatUpdated, struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}{ID: chatID.String(), Status: "active"})

	raw, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}

	var frame map[string]any
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if frame["id"] != chatID.String() || frame["status"] != "active" || frame["type"] != TypeChatUpdated {
		t.Errorf("unexpected frame: %v", frame)
	}
}
