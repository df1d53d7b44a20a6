// Package client assembles the session layer: one Client owns the state
// store, the frame dispatcher and the connection manager. Construct it once
// at application start and hand the instance to whatever needs to dispatch
// commands or read state; there is no ambient singleton.
package client

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hackmate/realtime/internal/backoff"
	"github.com/hackmate/realtime/internal/dispatch"
	"github.com/hackmate/realtime/internal/httpapi"
	"github.com/hackmate/realtime/internal/queue"
	"github.com/hackmate/realtime/internal/session"
	"github.com/hackmate/realtime/internal/state"
	"github.com/hackmate/realtime/pkg/types"
)

type Config struct {
	// SocketURL is the gateway websocket endpoint.
	SocketURL string

	// UserID is the authenticated user; it becomes the sender of optimistic
	// messages.
	UserID string

	Heartbeat time.Duration
	Backoff   backoff.Policy

	// Dialer overrides the websocket dial in tests.
	Dialer session.Dialer
}

type Client struct {
	cfg     Config
	store   *state.Store
	session *session.Manager
	log     *zap.Logger
	ctx     context.Context
}

// connBridge mirrors session state transitions into the store.
type connBridge struct{ store *state.Store }

func (b connBridge) ConnChanged(s session.Status, fatal string) {
	var cs state.ConnStatus
	switch s {
	case session.StatusConnected:
		cs = state.ConnConnected
	case session.StatusConnecting:
		cs = state.ConnConnecting
	default:
		cs = state.ConnDisconnected
	}
	b.store.Inbox() <- state.ConnChanged{Status: cs, FatalErr: fatal}
}

func New(parent context.Context, cfg Config, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	store := state.NewStore(parent, log.Named("state"), nil)
	disp := dispatch.New(store, log.Named("dispatch"))
	mgr := session.NewManager(parent, session.Config{
		URL:       cfg.SocketURL,
		Heartbeat: cfg.Heartbeat,
		Backoff:   cfg.Backoff,
		Dialer:    cfg.Dialer,
	}, queue.New(0, log.Named("queue")), disp, connBridge{store: store}, log.Named("session"))

	return &Client{cfg: cfg, store: store, session: mgr, log: log, ctx: parent}
}

// Connect opens the session with an externally supplied, already-validated
// token.
func (c *Client) Connect(token string) { c.session.Connect(token) }

// Logout tears the session down and discards all session-scoped state. The
// Client is finished afterwards; the next login constructs a fresh one so no
// stale token or queued command can leak across the boundary.
func (c *Client) Logout() {
	c.session.Destroy()
	c.store.Inbox() <- state.Reset{}
}

// SendTeamMessage shows the message optimistically and transmits it.
// Returns state.ErrDuplicateSend when an identical message is still
// awaiting confirmation; nothing is queued or transmitted in that case.
func (c *Client) SendTeamMessage(teamID, text, messageType string) error {
	reply := make(chan state.AddResult, 1)
	c.store.Inbox() <- state.AddOptimistic{
		TeamID:      teamID,
		SenderID:    c.cfg.UserID,
		Text:        text,
		MessageType: messageType,
		Reply:       reply,
	}
	var res state.AddResult
	select {
	case res = <-reply:
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
	if res.Err != nil {
		return res.Err
	}

	// Sending a message ends the sender's own typing indicator.
	c.store.Inbox() <- state.ClearOwnTyping{TeamID: teamID, UserID: c.cfg.UserID}
	c.session.Send(types.NewSendTeamMessage(teamID, text, messageType))
	return nil
}

func (c *Client) SetTyping(teamID string, isTyping bool) {
	if !isTyping {
		c.store.Inbox() <- state.ClearOwnTyping{TeamID: teamID, UserID: c.cfg.UserID}
	}
	c.session.Send(types.NewSetTyping(teamID, isTyping))
}

func (c *Client) MarkNotificationsRead(ids []string) {
	c.session.Send(types.NewMarkNotificationsRead(ids))
}

func (c *Client) SubscribeToHackathon(hackathonID string) {
	c.session.Send(types.NewSubscribeToHackathon(hackathonID))
}

// Subscribe registers a state consumer. The returned channel receives the
// current snapshot immediately and a fresh one after every change; a
// consumer that stops draining it is dropped and its channel closed.
func (c *Client) Subscribe(id string) <-chan state.Snapshot {
	out := make(chan state.Snapshot, 8)
	c.store.Inbox() <- state.Subscribe{ID: id, Outbox: out}
	return out
}

func (c *Client) Unsubscribe(id string) {
	c.store.Inbox() <- state.Unsubscribe{ID: id}
}

// Preseed loads the team roster and message history over REST and pushes
// them into the store, so the socket only has to deliver increments.
func (c *Client) Preseed(ctx context.Context, api *httpapi.Client, hackathonID string) error {
	team, err := api.UserTeam(ctx, c.cfg.UserID, hackathonID)
	if err != nil {
		return fmt.Errorf("preseed team: %w", err)
	}
	c.store.Inbox() <- state.TeamUpserted{Frame: types.TeamLifecycleFrame{
		TeamID:  team.ID,
		Name:    team.Name,
		Members: team.Members,
	}}

	history, err := api.TeamMessages(ctx, team.ID, 1)
	if err != nil {
		return fmt.Errorf("preseed messages: %w", err)
	}
	msgs := make([]state.Message, 0, len(history.Messages))
	for _, m := range history.Messages {
		msgs = append(msgs, state.Message{
			ID:          m.ID,
			TeamID:      team.ID,
			SenderID:    m.SenderID,
			Text:        m.Text,
			MessageType: m.MessageType,
			Status:      state.StatusDelivered,
			CreatedAt:   m.CreatedAt,
		})
	}
	c.store.Inbox() <- state.SeedMessages{TeamID: team.ID, Messages: msgs}
	return nil
}

// Store exposes the underlying state actor for advanced consumers.
func (c *Client) Store() *state.Store { return c.store }

// Session exposes the connection manager; tests use it to observe status.
func (c *Client) Session() *session.Manager { return c.session }
