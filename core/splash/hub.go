package splash

import (
	"sync"

	"KaraFM/logger"
	"KaraFM/model"
)

// ClientEvent is a validated client report forwarded to the controller.
type ClientEvent struct {
	Type   MessageType
	Reason model.EndReason // set for end_song
}

// Hub fans the canonical now-playing state and control events out to every
// connected splash client. Broadcast is fire-and-forget per client: a slow
// or dead client is dropped rather than allowed to block the others.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{}

	events chan ClientEvent

	// snapshot supplies a fresh now-playing state for (re)connecting
	// clients, who must not rely on replaying missed pushes.
	snapshot func() model.NowPlayingState
}

// NewHub creates a hub. snapshot is invoked on every client (re)connect.
func NewHub(snapshot func() model.NowPlayingState) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
		events:     make(chan ClientEvent, 32),
		snapshot:   snapshot,
	}
}

// Events returns the channel of validated client reports.
func (h *Hub) Events() <-chan ClientEvent {
	return h.events
}

// Run drives the hub loop until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastAll(message)

		case <-h.done:
			h.cleanup()
			return
		}
	}
}

// Stop shuts the hub down and disconnects every client.
func (h *Hub) Stop() {
	close(h.done)
}

// Register adds a client to the fan-out set.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()

	// Reconnect reconciliation: push a fresh snapshot instead of expecting
	// the client to have seen earlier deltas.
	if h.snapshot != nil {
		if data, err := encode(MsgNowPlaying, h.snapshot()); err == nil {
			select {
			case client.send <- data:
			default:
			}
		}
	}

	logger.Info("splash client connected", logger.String("client", client.id))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()

	logger.Info("splash client disconnected", logger.String("client", client.id))
}

func (h *Hub) broadcastAll(message []byte) {
	h.mu.Lock()
	for client := range h.clients {
		select {
		case client.send <- message:
		default:
			// Send buffer full: drop the client inline. Routing the drop
			// through the unregister channel would block the Run goroutine
			// on itself. The read pump's later Unregister finds the client
			// already gone and does not close the channel twice.
			delete(h.clients, client)
			close(client.send)
			logger.Warn("dropping slow splash client", logger.String("client", client.id))
		}
	}
	h.mu.Unlock()
}

func (h *Hub) cleanup() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
	}
	h.clients = make(map[*Client]bool)
}

// ClientCount returns the number of connected splash clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// handleClientMessage validates a client report and forwards it to the
// controller. Unknown types are a protocol error: logged and dropped, the
// connection is kept.
func (h *Hub) handleClientMessage(client *Client, msg *WireMessage) {
	event := ClientEvent{Type: msg.Type}

	switch msg.Type {
	case MsgStartSong, MsgClearNotification:

	case MsgEndSong:
		var data EndSongData
		if err := decodeData(msg, &data); err != nil || data.Reason == "" {
			logger.Warn("malformed end_song report",
				logger.ErrorField(err),
				logger.String("client", client.id))
			return
		}
		event.Reason = data.Reason

	default:
		logger.Warn("unknown splash message type",
			logger.String("type", string(msg.Type)),
			logger.String("client", client.id))
		return
	}

	select {
	case h.events <- event:
	default:
		logger.Error("splash event dropped, controller not draining events")
	}
}

// push encodes and broadcasts one message to all clients.
func (h *Hub) push(msgType MessageType, data interface{}) {
	raw, err := encode(msgType, data)
	if err != nil {
		logger.Error("failed to encode splash push", logger.ErrorField(err))
		return
	}
	select {
	case h.broadcast <- raw:
	case <-h.done:
	}
}

// BroadcastState pushes a now-playing snapshot to every client.
func (h *Hub) BroadcastState(state model.NowPlayingState) {
	h.push(MsgNowPlaying, state)
}

// PushNotification shows a short message on every client.
func (h *Hub) PushNotification(n model.Notification) {
	h.push(MsgNotification, n)
}

// PushPlay implements player.Notifier.
func (h *Hub) PushPlay() {
	h.push(MsgPlay, nil)
}

// PushPause implements player.Notifier.
func (h *Hub) PushPause() {
	h.push(MsgPause, nil)
}

// PushSkip implements player.Notifier.
func (h *Hub) PushSkip(reason model.EndReason) {
	h.push(MsgSkip, SkipData{Reason: reason})
}

// PushRestart implements player.Notifier.
func (h *Hub) PushRestart() {
	h.push(MsgRestart, nil)
}

// PushVolume implements player.Notifier.
func (h *Hub) PushVolume(volume float64) {
	h.push(MsgVolume, VolumeData{Value: volume})
}
