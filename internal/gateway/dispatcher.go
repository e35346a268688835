package gateway

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/touchlink/gateway/internal/logger"
	"github.com/touchlink/gateway/internal/metrics"
	"go.uber.org/zap"
)

const (
	defaultSampleRate = 16000
	defaultChannels   = 1
)

// Dispatcher routes inbound envelopes to their handlers. Validation
// failures are reported to the sender only and never affect other
// connections or groups.
type Dispatcher struct {
	hub *Hub
	log *zap.Logger
}

// NewDispatcher builds a dispatcher bound to the hub.
func NewDispatcher(hub *Hub) *Dispatcher {
	return &Dispatcher{
		hub: hub,
		log: logger.New("dispatcher"),
	}
}

// Dispatch handles one envelope from an authenticated connection.
func (d *Dispatcher) Dispatch(c *WsConnection, env Envelope) {
	switch env.Event {
	case EventDeviceCommand:
		d.handleDeviceCommand(c, env.Data)
	case EventDeviceStatus:
		d.handleDeviceStatus(c, env.Data)
	case EventPresenceUpdate:
		d.handlePresenceUpdate(c, env.Data)
	case EventAudioStreamStart:
		d.handleAudioStreamStart(c, env.Data)
	case EventAudioStreamData:
		d.handleAudioStreamData(c, env.Data)
	case EventAudioStreamStop:
		d.handleAudioStreamStop(c, env.Data)
	case EventStoryProgress:
		d.handleStoryProgress(c, env.Data)
	default:
		c.sendError("UNKNOWN_EVENT", "invalid: unknown event '"+env.Event+"'")
	}
}

// handleDeviceCommand validates, stamps issuedAt server-side, fans the
// command out to the device topic and acks the issuer synchronously.
// Delivery is at-most-once: the ack means handed to the topic, nothing
// more. Commands are never queued for offline devices.
func (d *Dispatcher) handleDeviceCommand(c *WsConnection, data json.RawMessage) {
	var payload CommandPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		c.sendError("INVALID_COMMAND", "malformed command payload")
		return
	}
	if strings.TrimSpace(payload.TargetDeviceID) == "" {
		c.sendError("INVALID_COMMAND", "targetDeviceId is required")
		return
	}

	cmd := CommandEvent{
		DeviceID: payload.TargetDeviceID,
		Command:  payload.Command,
		Params:   payload.Params,
		FromUser: c.UserID(),
		IssuedAt: time.Now().UTC(),
	}

	// Routing goes through topic membership, not the single-slot device
	// index, so every connection in the device topic receives it.
	delivered := d.hub.Publish(DeviceTopic(payload.TargetDeviceID), EventDeviceCommand, cmd)
	metrics.CommandsDispatched.Inc()

	d.log.Debug("Command dispatched",
		zap.String("device_id", payload.TargetDeviceID),
		zap.String("command", payload.Command),
		zap.String("from_user", c.UserID()),
		zap.Int("delivered", delivered))

	_ = c.SendEvent(EventDeviceCommandAck, CommandAck{
		DeviceID: payload.TargetDeviceID,
		Command:  payload.Command,
		Status:   "sent",
	})
}

// handleDeviceStatus rebroadcasts a device's status report to the owning
// user's other sessions.
func (d *Dispatcher) handleDeviceStatus(c *WsConnection, data json.RawMessage) {
	var payload StatusPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		c.sendError("MALFORMED_MESSAGE", "malformed status payload")
		return
	}
	if payload.DeviceID == "" {
		payload.DeviceID = c.DeviceID()
	}
	if payload.DeviceID == "" {
		c.sendError("MALFORMED_MESSAGE", "deviceId is required for status updates")
		return
	}

	d.hub.PublishExcept(UserTopic(c.UserID()), c.ID(), EventDeviceStatusUpdate, StatusUpdate{
		DeviceID:  payload.DeviceID,
		Status:    payload.Status,
		Timestamp: time.Now().UTC(),
	})
}

// handlePresenceUpdate broadcasts the sender's presence to everyone,
// including the sender's own other sessions.
func (d *Dispatcher) handlePresenceUpdate(c *WsConnection, data json.RawMessage) {
	var payload PresencePayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.Status == "" {
		c.sendError("MALFORMED_MESSAGE", "malformed presence payload")
		return
	}

	d.hub.Broadcast("", EventPresenceChanged, PresenceChanged{
		UserID:    c.UserID(),
		Status:    payload.Status,
		Timestamp: time.Now().UTC(),
	})
}

// handleAudioStreamStart opens an audio session toward a device: the
// sender joins the device's audio topic and gets a stream id back.
func (d *Dispatcher) handleAudioStreamStart(c *WsConnection, data json.RawMessage) {
	var payload AudioStreamStartPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		c.sendError("MALFORMED_MESSAGE", "malformed audio stream payload")
		return
	}
	if strings.TrimSpace(payload.DeviceID) == "" {
		c.sendError("MALFORMED_MESSAGE", "deviceId is required to start an audio stream")
		return
	}
	if payload.SampleRate <= 0 {
		payload.SampleRate = defaultSampleRate
	}
	if payload.Channels <= 0 {
		payload.Channels = defaultChannels
	}

	if err := d.hub.Join(c.ID(), AudioTopic(payload.DeviceID)); err != nil {
		c.sendError("NOT_REGISTERED", "connection is not registered")
		return
	}

	c.audioStreamID = uuid.New().String()
	c.audioStreamDevice = payload.DeviceID

	d.log.Debug("Audio stream started",
		zap.String("device_id", payload.DeviceID),
		zap.String("stream_id", c.audioStreamID),
		zap.String("user_id", c.UserID()))

	_ = c.SendEvent(EventAudioStreamReady, AudioStreamReady{
		DeviceID:   payload.DeviceID,
		StreamID:   c.audioStreamID,
		SampleRate: payload.SampleRate,
		Channels:   payload.Channels,
	})
}

// handleAudioStreamData maps the audio level of a chunk to a vibration
// command on the target device. The chunk payload is opaque; only the
// level and deviceId fields are inspected.
func (d *Dispatcher) handleAudioStreamData(c *WsConnection, data json.RawMessage) {
	deviceID := gjson.GetBytes(data, "deviceId").String()
	if deviceID == "" {
		deviceID = c.audioStreamDevice
	}
	if deviceID == "" {
		c.sendError("MALFORMED_MESSAGE", "no active audio stream and no deviceId given")
		return
	}

	level := gjson.GetBytes(data, "level").Float()
	intensity := int(level * 100)
	if intensity < 0 {
		intensity = 0
	}
	if intensity > 100 {
		intensity = 100
	}

	d.hub.Publish(DeviceTopic(deviceID), EventDeviceVibration, VibrationCommand{
		Command:   "vibrate",
		Intensity: intensity,
		Timestamp: time.Now().UTC(),
	})
}

// handleAudioStreamStop closes the audio session and tells the device to
// stop vibrating.
func (d *Dispatcher) handleAudioStreamStop(c *WsConnection, data json.RawMessage) {
	var payload AudioStreamStopPayload
	if len(data) > 0 {
		_ = json.Unmarshal(data, &payload)
	}
	deviceID := payload.DeviceID
	if deviceID == "" {
		deviceID = c.audioStreamDevice
	}
	if deviceID == "" {
		return
	}

	d.hub.Leave(c.ID(), AudioTopic(deviceID))
	c.audioStreamID = ""
	c.audioStreamDevice = ""

	d.hub.Publish(DeviceTopic(deviceID), EventDeviceVibration, VibrationCommand{
		Command:   "stop",
		Timestamp: time.Now().UTC(),
	})
}

// handleStoryProgress rebroadcasts reading progress to the sender's other
// sessions so a second screen can follow along.
func (d *Dispatcher) handleStoryProgress(c *WsConnection, data json.RawMessage) {
	var payload StoryProgressPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.StoryID == "" {
		c.sendError("MALFORMED_MESSAGE", "malformed story progress payload")
		return
	}

	d.hub.PublishExcept(UserTopic(c.UserID()), c.ID(), EventStoryProgressUpdate, StoryProgressUpdate{
		StoryID:   payload.StoryID,
		Progress:  payload.Progress,
		SceneID:   payload.SceneID,
		UserID:    c.UserID(),
		Timestamp: time.Now().UTC(),
	})
}
