package control

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/NodePath81/latprobe/internal/jitter"
	"github.com/NodePath81/latprobe/internal/wakeprobe"
)

type sessionEvent struct {
	ID          string  `json:"id"`
	Sink        string  `json:"sink,omitempty"`
	SampleRate  int     `json:"sample_rate,omitempty"`
	BufferSize  int     `json:"buffer_size,omitempty"`
	Length      int     `json:"length,omitempty"`
	CbDelay     int     `json:"cb_delay"`
	RenderDelay int     `json:"render_delay"`
	Pulse       bool    `json:"pulse"`
	JitterMs    float64 `json:"jitter_ms"`
	Underruns   int     `json:"underruns"`
	Text        string  `json:"text,omitempty"`
	Error       string  `json:"error,omitempty"`
}

type underrunEvent struct {
	ID    string `json:"id"`
	Count int    `json:"count"`
}

type wakeEvent struct {
	Completed       bool    `json:"completed"`
	MaxOvershootNs  int64   `json:"max_overshoot_ns"`
	MeanOvershootNs int64   `json:"mean_overshoot_ns"`
	MaxHandoffSec   float64 `json:"max_handoff_sec"`
	Text            string  `json:"text"`
}

type reportEvent struct {
	ID     string `json:"id"`
	Device string `json:"device"`
	Result string `json:"result,omitempty"`
}

// statusMessage is one frame on the /status feed. Exactly one payload field
// is set, matching Type.
type statusMessage struct {
	SchemaVersion int            `json:"schema_version"`
	Type          string         `json:"type"`
	Timestamp     int64          `json:"timestamp"`
	Session       *sessionEvent  `json:"session,omitempty"`
	Underrun      *underrunEvent `json:"underrun,omitempty"`
	Wake          *wakeEvent     `json:"wake,omitempty"`
	Report        *reportEvent   `json:"report,omitempty"`
	Metrics       map[string]any `json:"metrics,omitempty"`
	Error         *statusError   `json:"error,omitempty"`
}

type statusError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StatusHub fans status messages out to websocket clients. Broadcast never
// blocks; messages are dropped when the hub or a client falls behind.
type StatusHub struct {
	mu        sync.Mutex
	clients   map[*statusClient]struct{}
	broadcast chan statusMessage
	ctxDone   <-chan struct{}
}

type statusClient struct {
	send   chan []byte
	mu     sync.Mutex
	closed bool

	subscribed   bool
	intervalMs   int
	tickerCancel func()
}

func NewStatusHub(ctxDone <-chan struct{}) *StatusHub {
	h := &StatusHub{
		clients:   make(map[*statusClient]struct{}),
		broadcast: make(chan statusMessage, 128),
		ctxDone:   ctxDone,
	}
	go h.run()
	return h
}

func (h *StatusHub) run() {
	for {
		select {
		case <-h.ctxDone:
			h.mu.Lock()
			for client := range h.clients {
				client.close()
			}
			h.clients = make(map[*statusClient]struct{})
			h.mu.Unlock()
			return
		case msg := <-h.broadcast:
			h.mu.Lock()
			data, _ := json.Marshal(msg)
			for client := range h.clients {
				client.trySend(data)
			}
			h.mu.Unlock()
		}
	}
}

func (h *StatusHub) Register(client *statusClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
}

func (h *StatusHub) Unregister(client *statusClient) {
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()
	client.close()
}

func (h *StatusHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *StatusHub) Broadcast(msg statusMessage) {
	msg.SchemaVersion = 1
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	select {
	case h.broadcast <- msg:
	default:
	}
}

func (h *StatusHub) SessionStarted(id string, p jitter.Params) {
	h.Broadcast(statusMessage{Type: "session_started", Session: &sessionEvent{
		ID:          id,
		SampleRate:  p.SampleRate,
		BufferSize:  p.BufferSize,
		Length:      p.TrialLength,
		CbDelay:     p.CallbackDelay,
		RenderDelay: p.RenderDelay,
		Pulse:       p.Pulse,
	}})
}

// Underrun is called on the audio callback goroutine.
func (h *StatusHub) Underrun(id string, count int) {
	h.Broadcast(statusMessage{Type: "underrun", Underrun: &underrunEvent{ID: id, Count: count}})
}

func (h *StatusHub) SessionFinished(id string, res *jitter.Result, err error) {
	ev := &sessionEvent{ID: id}
	if err != nil {
		ev.Error = err.Error()
	} else if res != nil {
		ev.Sink = res.Sink
		ev.SampleRate = res.Params.SampleRate
		ev.BufferSize = res.Params.BufferSize
		ev.Length = res.Params.TrialLength
		ev.CbDelay = res.Params.CallbackDelay
		ev.RenderDelay = res.Params.RenderDelay
		ev.Pulse = res.Params.Pulse
		ev.JitterMs = res.JitterMs
		ev.Underruns = res.Underruns
		ev.Text = res.Text
	}
	h.Broadcast(statusMessage{Type: "session_finished", Session: ev})
}

func (h *StatusHub) WakeFinished(res wakeprobe.Result) {
	h.Broadcast(statusMessage{Type: "wake_finished", Wake: newWakeEvent(res)})
}

func newWakeEvent(res wakeprobe.Result) *wakeEvent {
	return &wakeEvent{
		Completed:       res.Completed,
		MaxOvershootNs:  res.MaxOvershootNs,
		MeanOvershootNs: res.MeanOvershootNs,
		MaxHandoffSec:   res.MaxHandoff,
		Text:            res.Text,
	}
}

func newStatusClient() *statusClient {
	return &statusClient{send: make(chan []byte, 32)}
}

// trySend queues data unless the client is closed or its buffer is full.
func (c *statusClient) trySend(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *statusClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
