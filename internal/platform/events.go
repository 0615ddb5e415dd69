// internal/platform/events.go
package platform

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a control message to the peer.
	writeWait = 5 * time.Second
	// Maximum event size accepted from the host.
	maxMessageSize = 1 << 20

	systemInfoEvent = "systemInfo"
)

// ErrEventsDisconnected means the event stream is not (or no longer) connected,
// so the overload flag may be stale.
var ErrEventsDisconnected = errors.New("platform event stream disconnected")

type event struct {
	Name string              `json:"name"`
	Data jsoniter.RawMessage `json:"data"`
}

type systemInfo struct {
	IsCPUOverloaded bool      `json:"isCpuOverloaded"`
	CreatedAt       time.Time `json:"createdAt"`
}

// EventsProbe tracks host load from the platform's websocket event stream.
// Each systemInfo event replaces the overload flag.
type EventsProbe struct {
	url    string
	dialer *websocket.Dialer
	logger *zap.Logger

	mu         sync.RWMutex
	conn       *websocket.Conn
	connected  bool
	overloaded bool
	lastEvent  time.Time

	done      chan struct{}
	closeOnce sync.Once
}

func NewEventsProbe(url string, logger *zap.Logger) *EventsProbe {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventsProbe{
		url:    url,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger: logger.Named("events_probe"),
		done:   make(chan struct{}),
	}
}

// Connect dials the stream and starts reading events in the background.
func (p *EventsProbe) Connect(ctx context.Context) error {
	conn, _, err := p.dialer.DialContext(ctx, p.url, nil)
	if err != nil {
		close(p.done)
		return fmt.Errorf("failed to connect to platform events: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)

	p.mu.Lock()
	p.conn = conn
	p.connected = true
	p.mu.Unlock()

	go p.readPump(conn)
	p.logger.Info("Connected to platform events.")
	return nil
}

// Overloaded returns the latest overload flag. When the stream is down it
// returns the last known flag together with ErrEventsDisconnected.
func (p *EventsProbe) Overloaded(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.connected {
		return p.overloaded, ErrEventsDisconnected
	}
	return p.overloaded, nil
}

// LastEvent returns when the last systemInfo event arrived.
func (p *EventsProbe) LastEvent() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastEvent
}

func (p *EventsProbe) readPump(conn *websocket.Conn) {
	defer func() {
		p.mu.Lock()
		p.connected = false
		p.mu.Unlock()
		conn.Close()
		close(p.done)
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				p.logger.Warn("Platform event stream read error.", zap.Error(err))
			}
			return
		}
		p.handle(message)
	}
}

func (p *EventsProbe) handle(message []byte) {
	var ev event
	if err := jsoniter.Unmarshal(message, &ev); err != nil {
		p.logger.Debug("Ignoring malformed platform event.", zap.Error(err))
		return
	}
	if ev.Name != systemInfoEvent {
		return
	}
	var info systemInfo
	if err := jsoniter.Unmarshal(ev.Data, &info); err != nil {
		p.logger.Debug("Ignoring malformed systemInfo event.", zap.Error(err))
		return
	}

	p.mu.Lock()
	changed := p.overloaded != info.IsCPUOverloaded
	p.overloaded = info.IsCPUOverloaded
	p.lastEvent = time.Now()
	p.mu.Unlock()

	if changed {
		p.logger.Info("Host load changed.", zap.Bool("cpu_overloaded", info.IsCPUOverloaded))
	}
}

// Close ends the stream and waits for the reader to exit. Safe to call more
// than once, and before Connect.
func (p *EventsProbe) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.RLock()
		conn := p.conn
		p.mu.RUnlock()
		if conn == nil {
			return
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		err = conn.Close()
		<-p.done
	})
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
