package types

import (
	"encoding/json"
	"time"
)

// Outbound command types (client -> server).
const (
	CmdSendTeamMessage = "team.sendMessage"
	CmdSetTyping       = "team.typing"
	CmdMarkRead        = "notifications.markRead"
	CmdSubscribeHack   = "hackathon.subscribe"
	CmdPresencePing    = "presence.ping"
)

// Command is one client-to-server unit, pre-encoded at construction so the
// queued form is immutable. EnqueuedAt is stamped when the command is built;
// a command is transmitted exactly once, in build order.
type Command struct {
	Type       string
	Data       []byte
	EnqueuedAt time.Time
}

type sendTeamMessageCmd struct {
	Type        string `json:"type"`
	TeamID      string `json:"teamId"`
	Text        string `json:"text"`
	MessageType string `json:"messageType,omitempty"`
}

type setTypingCmd struct {
	Type     string `json:"type"`
	TeamID   string `json:"teamId"`
	IsTyping bool   `json:"isTyping"`
}

type markReadCmd struct {
	Type            string   `json:"type"`
	NotificationIDs []string `json:"notificationIds"`
}

type subscribeHackCmd struct {
	Type        string `json:"type"`
	HackathonID string `json:"hackathonId"`
}

type presencePingCmd struct {
	Type string `json:"type"`
}

func newCommand(typ string, v any) Command {
	data, _ := json.Marshal(v)
	return Command{Type: typ, Data: data, EnqueuedAt: time.Now()}
}

func NewSendTeamMessage(teamID, text, messageType string) Command {
	return newCommand(CmdSendTeamMessage, sendTeamMessageCmd{
		Type: CmdSendTeamMessage, TeamID: teamID, Text: text, MessageType: messageType,
	})
}

func NewSetTyping(teamID string, isTyping bool) Command {
	return newCommand(CmdSetTyping, setTypingCmd{Type: CmdSetTyping, TeamID: teamID, IsTyping: isTyping})
}

func NewMarkNotificationsRead(ids []string) Command {
	return newCommand(CmdMarkRead, markReadCmd{Type: CmdMarkRead, NotificationIDs: ids})
}

func NewSubscribeToHackathon(hackathonID string) Command {
	return newCommand(CmdSubscribeHack, subscribeHackCmd{Type: CmdSubscribeHack, HackathonID: hackathonID})
}

func NewPresencePing() Command {
	return newCommand(CmdPresencePing, presencePingCmd{Type: CmdPresencePing})
}
