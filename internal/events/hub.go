package events

import (
	"sync"

	"go.uber.org/zap"
)

// Peer is a connected party able to receive raw event frames. Send must not
// block: it reports false when the frame was dropped (slow consumer or
// closed connection), which the hub treats as acceptable loss.
type Peer interface {
	Send(frame []byte) bool
}

// Hub tracks which peers are subscribed to which channels and fans events
// out to them. It holds no references to storage — subscription
// authorization happens in the websocket command handler before Subscribe
// is called, and publishes arrive only from the service layer after a
// committed mutation.
type Hub struct {
	logger *zap.Logger

	mu sync.RWMutex
	// channels maps channel name → subscriber set; peers is the reverse
	// index so a disconnect tears down every subscription in one call.
	channels map[string]map[Peer]struct{}
	peers    map[Peer]map[string]struct{}
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:   logger,
		channels: make(map[string]map[Peer]struct{}),
		peers:    make(map[Peer]map[string]struct{}),
	}
}

func (h *Hub) Subscribe(p Peer, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.channels[channel] == nil {
		h.channels[channel] = make(map[Peer]struct{})
	}
	h.channels[channel][p] = struct{}{}

	if h.peers[p] == nil {
		h.peers[p] = make(map[string]struct{})
	}
	h.peers[p][channel] = struct{}{}
}

func (h *Hub) Unsubscribe(p Peer, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(p, channel)
}

// Drop removes the peer from every channel. Called once on disconnect; no
// further delivery is attempted.
func (h *Hub) Drop(p Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for channel := range h.peers[p] {
		h.removeLocked(p, channel)
	}
}

func (h *Hub) removeLocked(p Peer, channel string) {
	if subs := h.channels[channel]; subs != nil {
		delete(subs, p)
		if len(subs) == 0 {
			delete(h.channels, channel)
		}
	}
	if chans := h.peers[p]; chans != nil {
		delete(chans, channel)
		if len(chans) == 0 {
			delete(h.peers, p)
		}
	}
}

// Publish delivers the event to every peer subscribed to the channel at
// call time. The subscriber set is snapshotted under the read lock and
// frames are sent outside it, so a peer subscribing concurrently may or may
// not see this particular event. Frames a peer cannot accept are dropped
// and counted, never retried.
func (h *Hub) Publish(channel string, event Event) {
	frame, err := event.MarshalJSON()
	if err != nil {
		h.logger.Error("drop unencodable event",
			zap.String("channel", channel),
			zap.String("type", event.Type),
			zap.Error(err),
		)
		return
	}

	h.publishFrame(channel, frame)
}

// publishFrame delivers an already-encoded frame; the redis bridge feeds
// remote publishes through here without re-marshaling.
func (h *Hub) publishFrame(channel string, frame []byte) {
	h.mu.RLock()
	targets := make([]Peer, 0, len(h.channels[channel]))
	for p := range h.channels[channel] {
		targets = append(targets, p)
	}
	h.mu.RUnlock()

	dropped := 0
	for _, p := range targets {
		if !p.Send(frame) {
			dropped++
		}
	}
	if dropped > 0 {
		h.logger.Warn("dropped event frames for slow peers",
			zap.String("channel", channel),
			zap.Int("dropped", dropped),
		)
	}
}

// SubscriberCount reports how many peers are on a channel.
func (h *Hub) SubscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}
