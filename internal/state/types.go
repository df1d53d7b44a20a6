package state

import (
	"encoding/json"
	"time"

	"github.com/hackmate/realtime/internal/presence"
	"github.com/hackmate/realtime/pkg/types"
)

type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusSeen      MessageStatus = "seen"
)

// Message is the canonical chat message. A client-originated message starts
// life with a generated TempID and IsOptimistic set; reconciliation swaps it
// for the server-confirmed form in place.
type Message struct {
	ID           string
	TempID       string
	TeamID       string
	SenderID     string
	Text         string
	MessageType  string
	Status       MessageStatus
	CreatedAt    time.Time
	IsOptimistic bool
}

type ConnStatus string

const (
	ConnDisconnected ConnStatus = "disconnected"
	ConnConnecting   ConnStatus = "connecting"
	ConnConnected    ConnStatus = "connected"
)

// Hackathon is the client's view of one hackathon's lifecycle.
type Hackathon struct {
	ID          string
	Status      string
	StartAt     int64
	EndAt       int64
	RemainingMs int64
	HasStarted  bool
	Subscribed  bool
	AdminEvent  json.RawMessage
}

// Team is the roster metadata kept alongside messages.
type Team struct {
	ID      string
	Name    string
	Members []types.TeamMember
}

// Snapshot is the versioned, copied view broadcast to subscribers after
// every mutation. Subscribers must never mutate it back.
type Snapshot struct {
	Version       int
	Conn          ConnStatus
	FatalErr      string
	Notice        string
	Messages      map[string][]Message
	Presence      map[string]presence.Status
	Typing        map[string][]string
	Notifications []types.Notification
	Hackathons    map[string]Hackathon
	Teams         map[string]Team
}

// View is the test-only reflection of internal counters.
type View struct {
	Version        int
	NumSubscribers int
	Snapshot       Snapshot
}
