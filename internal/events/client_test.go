package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/carelink-health/carelink/internal/apperr"
	"github.com/carelink-health/carelink/internal/models"
	"github.com/carelink-health/carelink/internal/policy"
)

// fakeAuthorizer answers subscribe checks per chat id; unknown ids are not
// found.
type fakeAuthorizer struct {
	allowed   map[uuid.UUID]bool
	forbidden map[uuid.UUID]bool
}

func (a *fakeAuthorizer) AuthorizeChatRead(_ context.Context, _ policy.Actor, chatID uuid.UUID) error {
	if a.allowed[chatID] {
		return nil
	}
	if a.forbidden[chatID] {
		return apperr.ErrForbidden
	}
	return apperr.ErrNotFound
}

// newTestClient builds a client without a live connection. handleCommand
// only touches the hub, the authorizer and the send channel, so none is
// needed.
func newTestClient(hub *Hub, auth *fakeAuthorizer, actor policy.Actor) *Client {
	eval := policy.NewEvaluator(policy.Config{ClosedChatSends: true})
	return NewClient(hub, eval, auth, nil, actor, zap.NewNop())
}

// nextFrame drains one queued outbound frame, failing the test when none
// was produced.
func nextFrame(t *testing.T, c *Client) map[string]any {
	t.Helper()
	select {
	case raw := <-c.send:
		var frame map[string]any
		if err := json.Unmarshal(raw, &frame); err != nil {
			t.Fatalf("unmarshal frame %s: %v", raw, err)
		}
		return frame
	default:
		t.Fatal("no frame queued")
		return nil
	}
}

func encodeCommand(t *testing.T, cmd map[string]any) []byte {
	t.Helper()
	raw, err := json.Marshal(cmd)
	if err != nil {
		t.Fatalf("marshal command: %v", err)
	}
	return raw
}

func TestClientBroadcastMessageRejected(t *testing.T) {
	hub := NewHub(zap.NewNop())
	chatID := uuid.New()
	auth := &fakeAuthorizer{allowed: map[uuid.UUID]bool{chatID: true}}
	c := newTestClient(hub, auth, policy.Actor{ID: uuid.New(), Role: models.RolePatient})

	// Even a peer that could read the chat may not publish through it.
	c.handleCommand(context.Background(), encodeCommand(t, map[string]any{
		"action": "broadcast_message",
		"chatId": chatID.String(),
	}))

	frame := nextFrame(t, c)
	if frame["error"] != "unsupported action" {
		t.Errorf("frame = %v, want unsupported action error", frame)
	}
	if n := hub.SubscriberCount(ChatChannel(chatID)); n != 0 {
		t.Errorf("SubscriberCount = %d, want 0", n)
	}
}

func TestClientSubscribeChat(t *testing.T) {
	allowedID := uuid.New()
	forbiddenID := uuid.New()
	missingID := uuid.New()

	tests := []struct {
		name    string
		chatID  string
		wantErr string
	}{
		{name: "allowed", chatID: allowedID.String()},
		{name: "forbidden chat answers error, no subscription", chatID: forbiddenID.String(), wantErr: "forbidden"},
		{name: "unknown chat", chatID: missingID.String(), wantErr: "chat not found"},
		{name: "malformed id", chatID: "not-a-uuid", wantErr: "invalid chat id"},
		{name: "missing id", chatID: "", wantErr: "chat id required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := NewHub(zap.NewNop())
			auth := &fakeAuthorizer{
				allowed:   map[uuid.UUID]bool{allowedID: true},
				forbidden: map[uuid.UUID]bool{forbiddenID: true},
			}
			c := newTestClient(hub, auth, policy.Actor{ID: uuid.New(), Role: models.RolePatient})

			c.handleCommand(context.Background(), encodeCommand(t, map[string]any{
				"action": "subscribe_chat",
				"chatId": tt.chatID,
			}))

			frame := nextFrame(t, c)
			if tt.wantErr != "" {
				if frame["error"] != tt.wantErr {
					t.Errorf("frame = %v, want error %q", frame, tt.wantErr)
				}
				if n := hub.SubscriberCount(ChatChannel(allowedID)) + hub.SubscriberCount(ChatChannel(forbiddenID)); n != 0 {
					t.Errorf("denied subscribe must not register the peer, got %d subscriptions", n)
				}
				return
			}
			if frame["type"] != "subscribed" || frame["chatId"] != tt.chatID {
				t.Errorf("frame = %v, want subscribed ack", frame)
			}
			if n := hub.SubscriberCount(ChatChannel(allowedID)); n != 1 {
				t.Errorf("SubscriberCount = %d, want 1", n)
			}
		})
	}
}

func TestClientUnsubscribeIsUnconditional(t *testing.T) {
	hub := NewHub(zap.NewNop())
	chatID := uuid.New()
	// Authorizer would deny everything; unsubscribing must not consult it.
	c := newTestClient(hub, &fakeAuthorizer{}, policy.Actor{ID: uuid.New(), Role: models.RolePatient})
	hub.Subscribe(c, ChatChannel(chatID))

	c.handleCommand(context.Background(), encodeCommand(t, map[string]any{
		"action": "unsubscribe_chat",
		"chatId": chatID.String(),
	}))

	frame := nextFrame(t, c)
	if frame["type"] != "unsubscribed" {
		t.Errorf("frame = %v, want unsubscribed ack", frame)
	}
	if n := hub.SubscriberCount(ChatChannel(chatID)); n != 0 {
		t.Errorf("SubscriberCount = %d, want 0", n)
	}
}

func TestClientSubscribeDistrictQueue(t *testing.T) {
	districtID := uuid.New()
	otherDistrict := uuid.New()

	tests := []struct {
		name    string
		actor   policy.Actor
		wantErr bool
	}{
		{
			name:  "worker subscribes to own district",
			actor: policy.Actor{ID: uuid.New(), Role: models.RoleHealthcareWorker, DistrictID: &districtID},
		},
		{
			name:    "worker without district denied",
			actor:   policy.Actor{ID: uuid.New(), Role: models.RoleHealthcareWorker},
			wantErr: true,
		},
		{
			name:    "patient denied",
			actor:   policy.Actor{ID: uuid.New(), Role: models.RolePatient, DistrictID: &districtID},
			wantErr: true,
		},
		{
			name:    "admin denied",
			actor:   policy.Actor{ID: uuid.New(), Role: models.RoleAdmin, DistrictID: &districtID},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := NewHub(zap.NewNop())
			c := newTestClient(hub, &fakeAuthorizer{}, tt.actor)

			// The command carries no district; it must bind to the session.
			c.handleCommand(context.Background(), encodeCommand(t, map[string]any{
				"action": "subscribe_district_queue",
			}))

			frame := nextFrame(t, c)
			if tt.wantErr {
				if frame["error"] == nil {
					t.Errorf("frame = %v, want error", frame)
				}
				if n := hub.SubscriberCount(DistrictQueueChannel(districtID)); n != 0 {
					t.Errorf("denied queue subscribe registered the peer")
				}
				return
			}
			if frame["type"] != "subscribed_queue" || frame["districtId"] != districtID.String() {
				t.Errorf("frame = %v, want subscribed_queue ack for session district", frame)
			}
			if n := hub.SubscriberCount(DistrictQueueChannel(districtID)); n != 1 {
				t.Errorf("SubscriberCount = %d, want 1", n)
			}
			if n := hub.SubscriberCount(DistrictQueueChannel(otherDistrict)); n != 0 {
				t.Errorf("peer subscribed to a district outside the session")
			}
		})
	}
}

func TestClientMalformedAndUnknownCommands(t *testing.T) {
	hub := NewHub(zap.NewNop())
	c := newTestClient(hub, &fakeAuthorizer{}, policy.Actor{ID: uuid.New(), Role: models.RolePatient})
	ctx := context.Background()

	c.handleCommand(ctx, []byte("{not json"))
	if frame := nextFrame(t, c); frame["error"] != "invalid message" {
		t.Errorf("frame = %v, want invalid message error", frame)
	}

	c.handleCommand(ctx, encodeCommand(t, map[string]any{"action": "shutdown"}))
	if frame := nextFrame(t, c); frame["error"] != "unknown action" {
		t.Errorf("frame = %v, want unknown action error", frame)
	}
}
