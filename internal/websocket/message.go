package websocket

import (
	"errors"
	"time"

	"github.com/askwhyharsh/sonar/internal/geo"
	"github.com/askwhyharsh/sonar/internal/location"
	"github.com/askwhyharsh/sonar/internal/permission"
	"github.com/askwhyharsh/sonar/internal/proximity"
	"github.com/askwhyharsh/sonar/internal/radar"
	apperrors "github.com/askwhyharsh/sonar/pkg/errors"
)

// Device to server.
const (
	MessageTypePosition      = "position"
	MessageTypePositionError = "position_error"
	MessageTypePermission    = "permission"
	MessageTypeCapabilities  = "capabilities"
	MessageTypeInitialize    = "initialize"
	MessageTypeStartTracking = "start_tracking"
	MessageTypeStopTracking  = "stop_tracking"
	MessageTypeRefresh       = "refresh"
	MessageTypePing          = "ping"
)

// Server to device.
const (
	MessageTypeNearbyUsers     = "nearby_users"
	MessageTypeRadarError      = "radar_error"
	MessageTypePermissionState = "permission_state"
	MessageTypeTrackingState   = "tracking_state"
	MessageTypeWatchStart      = "watch_start"
	MessageTypeWatchStop       = "watch_stop"
	MessageTypeRequestPosition = "request_position"
	MessageTypePong            = "pong"
	MessageTypeError           = "error"
)

type Message struct {
	Type            string                  `json:"type"`
	Users           []proximity.TrackedUser `json:"users,omitempty"`
	HasRealLocation bool                    `json:"has_real_location,omitempty"`
	Coordinate      *Position               `json:"coordinate,omitempty"`
	Permission      *permission.State       `json:"permission,omitempty"`
	Tracking        *bool                   `json:"tracking,omitempty"`
	WatchID         int64                   `json:"watch_id,omitempty"`
	RequestID       string                  `json:"request_id,omitempty"`
	Content         string                  `json:"content,omitempty"`
	ErrorCode       string                  `json:"code,omitempty"`
	Timestamp       int64                   `json:"timestamp"`
}

// Position is the coordinate the list was matched against.
type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func positionOf(c *geo.Coordinate) *Position {
	if c == nil {
		return nil
	}
	return &Position{Latitude: c.Latitude, Longitude: c.Longitude}
}

// IncomingMessage is anything the device sends. Which fields are set
// depends on Type.
type IncomingMessage struct {
	Type       string   `json:"type"`
	Latitude   float64  `json:"latitude"`
	Longitude  float64  `json:"longitude"`
	Accuracy   *float64 `json:"accuracy,omitempty"`
	Code       int      `json:"code,omitempty"`
	Content    string   `json:"content,omitempty"`
	Permission string   `json:"permission,omitempty"`
	Supported  *bool    `json:"supported,omitempty"`
	Timestamp  int64    `json:"timestamp"`
}

func (m *IncomingMessage) reading() location.Reading {
	r := location.Reading{
		Latitude:  m.Latitude,
		Longitude: m.Longitude,
		Accuracy:  m.Accuracy,
	}
	if m.Timestamp > 0 {
		r.Timestamp = time.UnixMilli(m.Timestamp)
	} else {
		r.Timestamp = time.Now()
	}
	return r
}

func (m *IncomingMessage) positionError() *location.PositionError {
	code := location.PositionErrorCode(m.Code)
	switch code {
	case location.CodePermissionDenied, location.CodePositionUnavailable, location.CodeTimeout:
	default:
		code = location.CodePositionUnavailable
	}
	return &location.PositionError{Code: code, Message: m.Content}
}

func NewErrorMessage(errMsg, code string) *Message {
	return &Message{
		Type:      MessageTypeError,
		Content:   errMsg,
		ErrorCode: code,
		Timestamp: time.Now().Unix(),
	}
}

// FromUpdate converts a radar update into what the device receives.
func FromUpdate(u radar.Update) *Message {
	msg := &Message{Timestamp: time.Now().Unix()}

	switch u.Kind {
	case radar.UpdateNearby:
		msg.Type = MessageTypeNearbyUsers
		msg.Users = u.Users
		if msg.Users == nil {
			msg.Users = []proximity.TrackedUser{}
		}
		msg.HasRealLocation = u.HasRealLocation
		msg.Coordinate = positionOf(u.Coordinate)
	case radar.UpdateLocationError:
		msg.Type = MessageTypeRadarError
		msg.ErrorCode = "LOCATION_" + locationCode(u.Err)
		msg.Content = errText(u.Err)
	case radar.UpdatePersistError:
		msg.Type = MessageTypeRadarError
		msg.ErrorCode = "PERSIST_FAILED"
		msg.Content = errText(u.Err)
	case radar.UpdatePermission:
		msg.Type = MessageTypePermissionState
		state := u.Permission
		msg.Permission = &state
	case radar.UpdateTracking:
		msg.Type = MessageTypeTrackingState
		tracking := u.Tracking
		msg.Tracking = &tracking
	default:
		return nil
	}
	return msg
}

func locationCode(err error) string {
	kind, _ := location.KindOf(err)
	switch kind {
	case location.KindUnsupported:
		return "UNSUPPORTED"
	case location.KindInsecureContext:
		return "INSECURE_CONTEXT"
	case location.KindPermissionDenied:
		return "PERMISSION_DENIED"
	case location.KindUnavailable:
		return "UNAVAILABLE"
	case location.KindTimeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, apperrors.ErrWriteFailed) {
		return apperrors.ErrWriteFailed.Error()
	}
	return err.Error()
}
