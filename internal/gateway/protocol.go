package gateway

import (
	"encoding/json"
	"time"
)

// Client -> server events.
const (
	EventDeviceCommand    = "device:command"
	EventDeviceStatus     = "device:status"
	EventPresenceUpdate   = "presence:update"
	EventAudioStreamStart = "audio:stream:start"
	EventAudioStreamData  = "audio:stream:data"
	EventAudioStreamStop  = "audio:stream:stop"
	EventStoryProgress    = "sync:story:progress"
)

// Server -> client events.
const (
	EventConnected           = "connected"
	EventError               = "error"
	EventDeviceCommandAck    = "device:command:ack"
	EventDeviceStatusUpdate  = "device:status:update"
	EventPresenceChanged     = "presence:changed"
	EventAudioStreamReady    = "audio:stream:ready"
	EventDeviceVibration     = "device:vibration"
	EventStoryProgressUpdate = "sync:story:progress:update"
)

// Envelope is the wire format for every message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Topic name constructors. Groups are created lazily on first join.
func UserTopic(userID string) string     { return "user:" + userID }
func DeviceTopic(deviceID string) string { return "device:" + deviceID }
func AudioTopic(deviceID string) string  { return "audio:" + deviceID }

// ConnectedPayload greets a freshly registered connection.
type ConnectedPayload struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
	DeviceID     string `json:"deviceId,omitempty"`
	InstanceID   string `json:"instanceId,omitempty"`
}

// ErrorPayload is sent on the error event.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CommandPayload is what a controller sends on device:command.
type CommandPayload struct {
	TargetDeviceID string          `json:"targetDeviceId"`
	Command        string          `json:"command"`
	Params         json.RawMessage `json:"params,omitempty"`
}

// CommandEvent is the fan-out shape delivered to the device topic.
// IssuedAt is stamped server-side; any client-supplied value is ignored.
type CommandEvent struct {
	DeviceID string          `json:"deviceId"`
	Command  string          `json:"command"`
	Params   json.RawMessage `json:"params,omitempty"`
	FromUser string          `json:"fromUser"`
	IssuedAt time.Time       `json:"issuedAt"`
}

// CommandAck is returned synchronously to the issuer. Status "sent" means
// the command was handed to the device topic, not that a device ran it.
type CommandAck struct {
	DeviceID string `json:"deviceId"`
	Command  string `json:"command"`
	Status   string `json:"status"`
}

// StatusPayload is what a device reports on device:status.
type StatusPayload struct {
	DeviceID string          `json:"deviceId"`
	Status   json.RawMessage `json:"status"`
}

// StatusUpdate is the rebroadcast shape on device:status:update.
type StatusUpdate struct {
	DeviceID  string          `json:"deviceId"`
	Status    json.RawMessage `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
}

// PresencePayload carries a client's self-reported presence state.
type PresencePayload struct {
	Status string `json:"status"`
}

// PresenceChanged is broadcast to every connection.
type PresenceChanged struct {
	UserID    string    `json:"userId"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// AudioStreamStartPayload opens an audio streaming session toward a device.
type AudioStreamStartPayload struct {
	DeviceID   string `json:"deviceId"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// AudioStreamReady confirms the session and echoes the negotiated config.
type AudioStreamReady struct {
	DeviceID   string `json:"deviceId"`
	StreamID   string `json:"streamId"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// AudioStreamStopPayload closes an audio streaming session.
type AudioStreamStopPayload struct {
	DeviceID string `json:"deviceId"`
}

// VibrationCommand is the device-side command derived from audio levels.
type VibrationCommand struct {
	Command   string    `json:"command"`
	Intensity int       `json:"intensity,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StoryProgressPayload is what a client reports on sync:story:progress.
type StoryProgressPayload struct {
	StoryID  string  `json:"storyId"`
	Progress float64 `json:"progress"`
	SceneID  string  `json:"sceneId,omitempty"`
}

// StoryProgressUpdate is rebroadcast to the sender's other sessions.
type StoryProgressUpdate struct {
	StoryID   string    `json:"storyId"`
	Progress  float64   `json:"progress"`
	SceneID   string    `json:"sceneId,omitempty"`
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}
