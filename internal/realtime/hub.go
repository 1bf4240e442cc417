package realtime

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/labreport-backend/internal/domain/labs"
	"github.com/yungbote/labreport-backend/internal/pkg/logger"
)

type Client struct {
	ID       uuid.UUID
	Channels map[string]bool
	Outbound chan StatusEvent
	done     chan struct{}
	once     sync.Once
}

// Hub fans status events out to subscribed stream clients in this process.
type Hub struct {
	mu            sync.RWMutex
	log           *logger.Logger
	subscriptions map[string]map[*Client]bool
	heartbeat     time.Duration
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		log:           log.With("component", "StatusHub"),
		subscriptions: make(map[string]map[*Client]bool),
		heartbeat:     15 * time.Second,
	}
}

func (h *Hub) NewClient(channels ...string) *Client {
	c := &Client{
		ID:       uuid.New(),
		Channels: make(map[string]bool),
		Outbound: make(chan StatusEvent, 16),
		done:     make(chan struct{}),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range channels {
		ch = strings.TrimSpace(ch)
		if ch == "" {
			continue
		}
		c.Channels[ch] = true
		subs, ok := h.subscriptions[ch]
		if !ok {
			subs = make(map[*Client]bool)
			h.subscriptions[ch] = subs
		}
		subs[c] = true
	}
	return c
}

// Broadcast delivers ev to subscribers of its report and owner channels.
// A client with a full buffer misses the event.
func (h *Hub) Broadcast(ev StatusEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := map[*Client]bool{}
	for _, ch := range []string{ReportChannel(ev.ReportID), OwnerChannel(ev.OwnerID)} {
		for c := range h.subscriptions[ch] {
			if sent[c] {
				continue
			}
			sent[c] = true
			select {
			case c.Outbound <- ev:
			default:
				h.log.Warn("Dropping status event; outbound buffer full", "client_id", c.ID, "report_id", ev.ReportID)
			}
		}
	}
}

func (h *Hub) CloseClient(c *Client) {
	c.once.Do(func() {
		close(c.done)
		h.mu.Lock()
		for ch := range c.Channels {
			if subs, ok := h.subscriptions[ch]; ok {
				delete(subs, c)
				if len(subs) == 0 {
					delete(h.subscriptions, ch)
				}
			}
		}
		h.mu.Unlock()
	})
}

// Serve streams events to w as server-sent events until the request ends.
// When stopAtTerminal is set the stream closes after a terminal status.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, c *Client, stopAtTerminal bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-c.done:
			return
		case <-heartbeat.C:
			_, _ = fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case ev := <-c.Outbound:
			if err := WriteEvent(w, ev); err != nil {
				h.log.Warn("Failed to write status event", "error", err)
				continue
			}
			flusher.Flush()
			if stopAtTerminal && ev.Status.IsTerminal() {
				return
			}
		}
	}
}

func WriteEvent(w http.ResponseWriter, ev StatusEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", EventStatusChanged, raw)
	return err
}

// Current sends a snapshot ahead of live events so a client that connects
// late still sees where the run is.
func (c *Client) Current(r *labs.LabReport) {
	select {
	case c.Outbound <- EventFromReport(r):
	default:
	}
}
