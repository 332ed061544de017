// Package sse streams catalog and sync events to Server-Sent Events clients.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/starford/appcatalog/internal/models"
	"github.com/starford/appcatalog/internal/syncer"
)

// Event types.
const (
	TypeSyncStarted    = "sync.started"
	TypeSyncCompleted  = "sync.completed"
	TypeSyncFailed     = "sync.failed"
	TypeAppAdded       = "app.added"
	TypeAppUpdated     = "app.updated"
	TypeAppRemoved     = "app.removed"
	TypeCatalogUpdated = "catalog.updated"
)

// Event is one message broadcast to all clients.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type appEventReq struct {
	kind     models.Classification
	bundleID string
	runID    string
}

// message is either a plain event or an app change. Both share one
// channel so delivery order matches publish order.
type message struct {
	event Event
	app   *appEventReq
}

// Broker fans events out to SSE clients.
//
// A single loop goroutine owns the client set and the catalog.updated
// throttle timestamp; public methods talk to it over channels.
type Broker struct {
	catalogMin time.Duration
	heartbeat  time.Duration

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan message
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

var _ syncer.Notifier = (*Broker)(nil)

// NewBroker creates a broker. catalogThrottle is the minimum interval
// between catalog.updated events; heartbeat is the keep-alive comment
// interval for connected clients (zero disables it).
func NewBroker(catalogThrottle, heartbeat time.Duration) *Broker {
	if catalogThrottle <= 0 {
		catalogThrottle = 2 * time.Second
	}

	b := &Broker{
		catalogMin:    catalogThrottle,
		heartbeat:     heartbeat,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan message, 1024),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	var lastCatalog time.Time

	broadcast := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		raw := fmt.Appendf(nil, "event: %s\ndata: %s\n\n", event.Type, payload)
		for ch := range clients {
			select {
			case ch <- raw:
			default:
				// Slow client; drop rather than stall the loop.
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case msg := <-b.publishCh:
			if msg.app == nil {
				broadcast(msg.event)
				continue
			}
			req := msg.app
			data := map[string]string{"bundle_id": req.bundleID, "run_id": req.runID}
			switch req.kind {
			case models.Added:
				broadcast(Event{Type: TypeAppAdded, Data: data})
			case models.Updated:
				broadcast(Event{Type: TypeAppUpdated, Data: data})
			case models.Removed:
				broadcast(Event{Type: TypeAppRemoved, Data: data})
			default:
				continue
			}

			now := time.Now()
			if now.Sub(lastCatalog) >= b.catalogMin {
				lastCatalog = now
				broadcast(Event{Type: TypeCatalogUpdated, Data: map[string]string{}})
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close stops the loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a client and returns its channel.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- message{event: event}:
	case <-b.stopped:
	}
}

// PublishAppEvent publishes an app change followed, at most once per
// throttle interval, by catalog.updated. Unchanged apps publish nothing.
func (b *Broker) PublishAppEvent(kind models.Classification, bundleID, runID string) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- message{app: &appEventReq{kind: kind, bundleID: bundleID, runID: runID}}:
	case <-b.stopped:
	}
}

// SyncStarted implements syncer.Notifier.
func (b *Broker) SyncStarted(run *models.SyncRun) {
	b.Publish(Event{Type: TypeSyncStarted, Data: run})
}

// SyncFinished implements syncer.Notifier. App events are published for
// successfully applied records before the terminal sync event.
func (b *Broker) SyncFinished(run *models.SyncRun, results []syncer.Result) {
	for _, r := range results {
		if r.Err == nil {
			b.PublishAppEvent(r.Classification, r.Key, run.ID)
		}
	}
	typ := TypeSyncCompleted
	if run.Status == models.SyncFailed {
		typ = TypeSyncFailed
	}
	b.Publish(Event{Type: typ, Data: run})
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	var tick <-chan time.Time
	if b.heartbeat > 0 {
		t := time.NewTicker(b.heartbeat)
		defer t.Stop()
		tick = t.C
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
