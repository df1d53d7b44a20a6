package types

import (
	"encoding/json"
	"time"
)

// Inbound frame types (server -> client). Every frame is a flat JSON object
// discriminated by its "type" field; the remaining fields are the payload.
const (
	FrameConnectionEstablished   = "connection.established"
	FrameTeamMessage             = "team.message"
	FrameTeamTyping              = "team.typing"
	FramePresenceUpdate          = "presence.update"
	FrameNotificationsUnread     = "notifications.unread"
	FrameNotification            = "notification"
	FrameNotificationsMarkedRead = "notifications.marked_read"
	FrameHackathonTimer          = "hackathon.timer"
	FrameHackathonSubscribed     = "hackathon.subscribed"
	FrameHackathonStarted        = "hackathon.started"
	FrameHackathonEnded          = "hackathon.ended"
	FrameTeamCreated             = "team.created"
	FrameTeamUpdated             = "team.updated"
	FrameAdminHackathonEvent     = "ADMIN.hackathon.EVENT"
	FrameError                   = "error"
)

// Envelope is the first-pass decode of an inbound frame: just enough to
// route it. Raw keeps the full frame for the second, typed decode.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// WireMessage is a chat message as the server sends it.
type WireMessage struct {
	ID          string    `json:"_id"`
	SenderID    string    `json:"senderId"`
	Text        string    `json:"text"`
	MessageType string    `json:"messageType,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type TeamMessageFrame struct {
	TeamID  string      `json:"teamId"`
	Message WireMessage `json:"message"`
}

type TeamTypingFrame struct {
	TeamID    string    `json:"teamId"`
	UserID    string    `json:"userId"`
	IsTyping  bool      `json:"isTyping"`
	Timestamp time.Time `json:"timestamp"`
}

type PresenceUpdateFrame struct {
	TeamID       string    `json:"teamId"`
	UserID       string    `json:"userId"`
	LastSeen     time.Time `json:"lastSeen"`
	Disconnected bool      `json:"disconnected,omitempty"`
}

type Notification struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	Read      bool            `json:"read"`
}

type NotificationsUnreadFrame struct {
	Notifications []Notification `json:"notifications"`
}

type NotificationFrame struct {
	Notification Notification `json:"notification"`
}

type NotificationsMarkedReadFrame struct {
	NotificationIDs []string `json:"notificationIds"`
}

// HackathonTimerFrame carries the periodic countdown broadcast. All
// timestamps are unix milliseconds, matching the server.
type HackathonTimerFrame struct {
	HackathonID string `json:"hackathonId"`
	Now         int64  `json:"now"`
	StartAt     int64  `json:"startAt"`
	EndAt       int64  `json:"endAt"`
	RemainingMs int64  `json:"remainingMs"`
	HasStarted  bool   `json:"hasStarted"`
	Status      string `json:"status"`
}

type HackathonSubscribedFrame struct {
	HackathonID string `json:"hackathonId"`
}

type HackathonLifecycleFrame struct {
	HackathonID string    `json:"hackathonId"`
	Timestamp   time.Time `json:"timestamp"`
}

type TeamMember struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
}

type TeamLifecycleFrame struct {
	TeamID  string       `json:"teamId"`
	Name    string       `json:"name,omitempty"`
	Members []TeamMember `json:"members,omitempty"`
}

type AdminHackathonEventFrame struct {
	HackathonID  string          `json:"hackathonId"`
	EventDetails json.RawMessage `json:"eventDetails"`
}

type ErrorFrame struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// DecodeEnvelope peels the type discriminator off a raw frame.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	env.Raw = json.RawMessage(data)
	return env, nil
}
