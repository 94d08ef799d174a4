package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/askwhyharsh/sonar/internal/location"
	"github.com/askwhyharsh/sonar/internal/radar"
	"github.com/askwhyharsh/sonar/internal/session"
	"github.com/askwhyharsh/sonar/pkg/logger"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 64
	commandTimeout = 30 * time.Second
)

// ErrClientGone is returned when the device can no longer be reached.
var ErrClientGone = errors.New("device connection closed")

// Client is one device connection. It feeds the device's fixes into its
// RemotePlatform and relays watch commands back as messages.
type Client struct {
	conn      *websocket.Conn
	send      chan *Message
	sessionID string
	platform  *location.RemotePlatform
	orch      *radar.Orchestrator
	logger    logger.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func NewClient(conn *websocket.Conn, sessionID string, secure bool, log logger.Logger) *Client {
	ctx, cancel := context.WithCancel(session.WithSessionID(context.Background(), sessionID))
	c := &Client{
		conn:      conn,
		send:      make(chan *Message, sendBuffer),
		sessionID: sessionID,
		logger:    log.With("session_id", sessionID),
		ctx:       ctx,
		cancel:    cancel,
	}
	c.platform = location.NewRemotePlatform(c, secure)
	return c
}

func (c *Client) SessionID() string {
	return c.sessionID
}

// Platform is the geolocation API backed by this device.
func (c *Client) Platform() location.Platform {
	return c.platform
}

func (c *Client) StartWatch(id location.WatchID) error {
	return c.enqueue(&Message{Type: MessageTypeWatchStart, WatchID: int64(id), Timestamp: time.Now().Unix()})
}

func (c *Client) StopWatch(id location.WatchID) error {
	return c.enqueue(&Message{Type: MessageTypeWatchStop, WatchID: int64(id), Timestamp: time.Now().Unix()})
}

func (c *Client) RequestPosition(requestID string) error {
	return c.enqueue(&Message{Type: MessageTypeRequestPosition, RequestID: requestID, Timestamp: time.Now().Unix()})
}

func (c *Client) enqueue(msg *Message) error {
	select {
	case <-c.ctx.Done():
		return ErrClientGone
	default:
	}
	select {
	case c.send <- msg:
		return nil
	default:
		c.logger.Warn("Device send buffer full, dropping message", "type", msg.Type)
		return ErrClientGone
	}
}

// Close drops the connection. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.conn.Close()
	})
}

func (c *Client) ReadPump() {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("Device connection dropped", "error", err)
			}
			return
		}

		var msg IncomingMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.SendError("Invalid message format", "INVALID_FORMAT")
			continue
		}
		c.handleIncoming(&msg)
	}
}

func (c *Client) handleIncoming(msg *IncomingMessage) {
	switch msg.Type {
	case MessageTypePosition:
		c.platform.Deliver(msg.reading())
	case MessageTypePositionError:
		c.platform.DeliverError(msg.positionError())
	case MessageTypeCapabilities:
		if msg.Supported != nil {
			c.platform.SetCapabilities(*msg.Supported)
		}
	case MessageTypePermission:
		c.platform.SetPermission(location.PermissionStatus(msg.Permission))
		c.command(func(ctx context.Context, o *radar.Orchestrator) error {
			_, err := o.CheckPermission(ctx)
			return err
		})
	case MessageTypeInitialize:
		c.command(func(ctx context.Context, o *radar.Orchestrator) error {
			return o.Initialize(ctx, c.sessionID)
		})
	case MessageTypeStartTracking:
		c.command(func(ctx context.Context, o *radar.Orchestrator) error {
			return o.StartTracking(ctx, c.sessionID)
		})
	case MessageTypeStopTracking:
		c.command(func(_ context.Context, o *radar.Orchestrator) error {
			return o.StopTracking()
		})
	case MessageTypeRefresh:
		c.command(func(ctx context.Context, o *radar.Orchestrator) error {
			return o.RefreshNow(ctx)
		})
	case MessageTypePing:
		_ = c.enqueue(&Message{Type: MessageTypePong, Timestamp: time.Now().Unix()})
	default:
		c.SendError("Unknown message type", "UNKNOWN_TYPE")
	}
}

// command runs fn off the read goroutine: radar calls may wait on a fix
// that only this goroutine can deliver.
func (c *Client) command(fn func(ctx context.Context, o *radar.Orchestrator) error) {
	if c.orch == nil {
		c.SendError("Radar not ready", "RADAR_NOT_READY")
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(c.ctx, commandTimeout)
		defer cancel()
		if err := fn(ctx, c.orch); err != nil {
			// location failures already reach the device as radar_error
			if _, ok := location.KindOf(err); ok {
				return
			}
			c.SendError(err.Error(), "RADAR_ERROR")
		}
	}()
}

// forward relays radar updates until the subscription closes.
func (c *Client) forward(updates <-chan radar.Update) {
	for u := range updates {
		if msg := FromUpdate(u); msg != nil {
			_ = c.enqueue(msg)
		}
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) SendError(errMsg string, code string) {
	_ = c.enqueue(NewErrorMessage(errMsg, code))
}
