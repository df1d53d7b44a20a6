package state

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackmate/realtime/internal/presence"
	"github.com/hackmate/realtime/internal/typing"
	"github.com/hackmate/realtime/pkg/types"
)

// ErrDuplicateSend is returned when an identical message from the same
// sender is still awaiting confirmation. Surfaced to the user as a warning,
// never transmitted.
var ErrDuplicateSend = errors.New("identical message already pending confirmation")

const (
	maxMessagesPerTeam = 100
	maxNotifications   = 50
)

type Msg interface{ isStoreMsg() }

// Subscribe registers a consumer outbox; the current snapshot is delivered
// immediately on registration.
type Subscribe struct {
	ID     string
	Outbox chan Snapshot
}

type Unsubscribe struct{ ID string }

// AddOptimistic creates the local placeholder for a client-originated
// message. Reply carries the generated temp id, or ErrDuplicateSend.
type AddOptimistic struct {
	TeamID      string
	SenderID    string
	Text        string
	MessageType string
	Reply       chan AddResult
}

type AddResult struct {
	TempID string
	Err    error
}

// ConfirmMessage applies a server-confirmed team.message frame.
type ConfirmMessage struct{ Frame types.TeamMessageFrame }

// SeedMessages replaces a team's history from the REST pre-seed.
type SeedMessages struct {
	TeamID   string
	Messages []Message
}

type TypingChanged struct{ Frame types.TeamTypingFrame }

// ClearOwnTyping drops the local user's indicator the moment they send.
type ClearOwnTyping struct {
	TeamID string
	UserID string
}

type PresenceChanged struct{ Frame types.PresenceUpdateFrame }

type NotificationsReplaced struct{ Notifications []types.Notification }

type NotificationArrived struct{ Notification types.Notification }

type NotificationsRead struct{ IDs []string }

type HackathonTimer struct{ Frame types.HackathonTimerFrame }

type HackathonSubscribed struct{ HackathonID string }

type HackathonStarted struct{ HackathonID string }

type HackathonEnded struct{ HackathonID string }

type AdminEvent struct{ Frame types.AdminHackathonEventFrame }

type TeamUpserted struct{ Frame types.TeamLifecycleFrame }

// ConnChanged mirrors the session's connection state for consumers.
type ConnChanged struct {
	Status   ConnStatus
	FatalErr string
}

// ServerNotice surfaces an application-level error frame.
type ServerNotice struct{ Message string }

type GetView struct{ Reply chan View }

// Reset reinitializes every slice; used across login/logout boundaries.
type Reset struct{}

type Shutdown struct{}

func (Subscribe) isStoreMsg()             {}
func (Unsubscribe) isStoreMsg()           {}
func (AddOptimistic) isStoreMsg()         {}
func (ConfirmMessage) isStoreMsg()        {}
func (SeedMessages) isStoreMsg()          {}
func (TypingChanged) isStoreMsg()         {}
func (ClearOwnTyping) isStoreMsg()        {}
func (PresenceChanged) isStoreMsg()       {}
func (NotificationsReplaced) isStoreMsg() {}
func (NotificationArrived) isStoreMsg()   {}
func (NotificationsRead) isStoreMsg()     {}
func (HackathonTimer) isStoreMsg()        {}
func (HackathonSubscribed) isStoreMsg()   {}
func (HackathonStarted) isStoreMsg()      {}
func (HackathonEnded) isStoreMsg()        {}
func (AdminEvent) isStoreMsg()            {}
func (TeamUpserted) isStoreMsg()          {}
func (ConnChanged) isStoreMsg()           {}
func (ServerNotice) isStoreMsg()          {}
func (GetView) isStoreMsg()               {}
func (Reset) isStoreMsg()                 {}
func (Shutdown) isStoreMsg()              {}

// Store is the canonical session state, run as a single goroutine draining
// its inbox. All mutation happens inside the loop, so none of the inner
// structures need locks.
type Store struct {
	inbox   chan Msg
	version int

	conn          ConnStatus
	fatalErr      string
	notice        string
	messages      map[string][]Message
	presence      *presence.Tracker
	typing        *typing.Store
	notifications []types.Notification
	hackathons    map[string]Hackathon
	teams         map[string]Team

	subscribers map[string]chan Snapshot

	now    func() time.Time
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func NewStore(parent context.Context, log *zap.Logger, now func() time.Time) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	ctx, cancel := context.WithCancel(parent)
	s := &Store{
		inbox:       make(chan Msg, 64),
		conn:        ConnDisconnected,
		messages:    make(map[string][]Message),
		presence:    presence.NewTracker(now),
		typing:      typing.NewStore(now),
		hackathons:  make(map[string]Hackathon),
		teams:       make(map[string]Team),
		subscribers: make(map[string]chan Snapshot),
		now:         now,
		log:         log,
		ctx:         ctx,
		cancel:      cancel,
	}
	go s.loop()
	return s
}

func (s *Store) Inbox() chan<- Msg { return s.inbox }

func (s *Store) loop() {
	for {
		select {
		case <-s.ctx.Done():
			s.shutdown()
			return

		case m := <-s.inbox:
			switch msg := m.(type) {
			case Subscribe:
				select {
				case msg.Outbox <- s.snapshot():
					s.subscribers[msg.ID] = msg.Outbox
				default:
					// Outbox can't even take the initial snapshot;
					// refuse the registration rather than stall the loop.
					close(msg.Outbox)
					s.log.Warn("rejecting unbuffered state subscriber", zap.String("id", msg.ID))
				}

			case Unsubscribe:
				delete(s.subscribers, msg.ID)

			case AddOptimistic:
				res := s.addOptimistic(msg)
				msg.Reply <- res
				if res.Err == nil {
					s.bump()
				}

			case ConfirmMessage:
				s.reconcile(msg.Frame)
				s.bump()

			case SeedMessages:
				s.messages[msg.TeamID] = capTail(msg.Messages, maxMessagesPerTeam)
				s.bump()

			case TypingChanged:
				if msg.Frame.IsTyping {
					s.typing.Set(msg.Frame.TeamID, msg.Frame.UserID, typing.DefaultTTL)
				} else {
					s.typing.Clear(msg.Frame.TeamID, msg.Frame.UserID)
				}
				s.bump()

			case ClearOwnTyping:
				s.typing.Clear(msg.TeamID, msg.UserID)
				s.bump()

			case PresenceChanged:
				if msg.Frame.Disconnected {
					s.presence.MarkDisconnected(msg.Frame.UserID)
				} else {
					s.presence.RecordSeen(msg.Frame.UserID, msg.Frame.LastSeen)
				}
				s.bump()

			case NotificationsReplaced:
				s.notifications = msg.Notifications
				if len(s.notifications) > maxNotifications {
					s.notifications = s.notifications[:maxNotifications]
				}
				s.bump()

			case NotificationArrived:
				s.notifications = append([]types.Notification{msg.Notification}, s.notifications...)
				if len(s.notifications) > maxNotifications {
					s.notifications = s.notifications[:maxNotifications]
				}
				s.bump()

			case NotificationsRead:
				s.markRead(msg.IDs)
				s.bump()

			case HackathonTimer:
				h := s.hackathons[msg.Frame.HackathonID]
				h.ID = msg.Frame.HackathonID
				h.Status = msg.Frame.Status
				h.StartAt = msg.Frame.StartAt
				h.EndAt = msg.Frame.EndAt
				h.RemainingMs = msg.Frame.RemainingMs
				h.HasStarted = msg.Frame.HasStarted
				s.hackathons[h.ID] = h
				s.bump()

			case HackathonSubscribed:
				h := s.hackathons[msg.HackathonID]
				h.ID = msg.HackathonID
				h.Subscribed = true
				s.hackathons[h.ID] = h
				s.bump()

			case HackathonStarted:
				h := s.hackathons[msg.HackathonID]
				h.ID = msg.HackathonID
				h.Status = "running"
				h.HasStarted = true
				s.hackathons[h.ID] = h
				s.bump()

			case HackathonEnded:
				h := s.hackathons[msg.HackathonID]
				h.ID = msg.HackathonID
				h.Status = "ended"
				h.RemainingMs = 0
				s.hackathons[h.ID] = h
				s.bump()

			case AdminEvent:
				h := s.hackathons[msg.Frame.HackathonID]
				h.ID = msg.Frame.HackathonID
				h.AdminEvent = msg.Frame.EventDetails
				s.hackathons[h.ID] = h
				s.bump()

			case TeamUpserted:
				t := s.teams[msg.Frame.TeamID]
				t.ID = msg.Frame.TeamID
				if msg.Frame.Name != "" {
					t.Name = msg.Frame.Name
				}
				if msg.Frame.Members != nil {
					t.Members = msg.Frame.Members
				}
				s.teams[t.ID] = t
				s.bump()

			case ConnChanged:
				s.conn = msg.Status
				s.fatalErr = msg.FatalErr
				if msg.Status == ConnConnected {
					s.notice = ""
				}
				s.bump()

			case ServerNotice:
				s.notice = msg.Message
				s.bump()

			case GetView:
				msg.Reply <- View{
					Version:        s.version,
					NumSubscribers: len(s.subscribers),
					Snapshot:       s.snapshot(),
				}

			case Reset:
				s.messages = make(map[string][]Message)
				s.presence.Reset()
				s.typing.Reset()
				s.notifications = nil
				s.hackathons = make(map[string]Hackathon)
				s.teams = make(map[string]Team)
				s.notice = ""
				s.fatalErr = ""
				s.bump()

			case Shutdown:
				s.shutdown()
				return
			}
		}
	}
}

func (s *Store) addOptimistic(msg AddOptimistic) AddResult {
	for _, m := range s.messages[msg.TeamID] {
		if m.IsOptimistic && m.SenderID == msg.SenderID && m.Text == msg.Text {
			return AddResult{Err: ErrDuplicateSend}
		}
	}
	tempID := "temp-" + uuid.NewString()
	s.appendMessage(Message{
		ID:           tempID,
		TempID:       tempID,
		TeamID:       msg.TeamID,
		SenderID:     msg.SenderID,
		Text:         msg.Text,
		MessageType:  msg.MessageType,
		Status:       StatusSent,
		CreatedAt:    s.now(),
		IsOptimistic: true,
	})
	return AddResult{TempID: tempID}
}

// reconcile merges a confirmed frame: overwrite an already-confirmed copy in
// place (retransmits are no-ops), replace the matching optimistic
// placeholder, or append for messages that originated elsewhere.
func (s *Store) reconcile(f types.TeamMessageFrame) {
	confirmed := Message{
		ID:          f.Message.ID,
		TeamID:      f.TeamID,
		SenderID:    f.Message.SenderID,
		Text:        f.Message.Text,
		MessageType: f.Message.MessageType,
		Status:      StatusDelivered,
		CreatedAt:   f.Message.CreatedAt,
	}

	msgs := s.messages[f.TeamID]
	for i, m := range msgs {
		if m.ID == confirmed.ID {
			msgs[i] = confirmed
			return
		}
	}
	for i, m := range msgs {
		if m.IsOptimistic && m.SenderID == confirmed.SenderID && m.Text == confirmed.Text {
			msgs[i] = confirmed
			return
		}
	}
	s.appendMessage(confirmed)
}

func (s *Store) appendMessage(m Message) {
	msgs := append(s.messages[m.TeamID], m)
	s.messages[m.TeamID] = capTail(msgs, maxMessagesPerTeam)
}

func (s *Store) markRead(ids []string) {
	read := make(map[string]bool, len(ids))
	for _, id := range ids {
		read[id] = true
	}
	for i := range s.notifications {
		if read[s.notifications[i].ID] {
			s.notifications[i].Read = true
		}
	}
}

// bump increments the version and broadcasts a fresh snapshot.
func (s *Store) bump() {
	s.version++
	snap := s.snapshot()
	for id, ch := range s.subscribers {
		select {
		case ch <- snap:
		default:
			// Subscriber is slow/full - drop them.
			close(ch)
			delete(s.subscribers, id)
			s.log.Warn("dropping slow state subscriber", zap.String("id", id))
		}
	}
}

func (s *Store) snapshot() Snapshot {
	msgs := make(map[string][]Message, len(s.messages))
	for teamID, list := range s.messages {
		msgs[teamID] = append([]Message(nil), list...)
	}
	teams := make(map[string]Team, len(s.teams))
	for id, t := range s.teams {
		teams[id] = t
	}
	hacks := make(map[string]Hackathon, len(s.hackathons))
	for id, h := range s.hackathons {
		hacks[id] = h
	}
	return Snapshot{
		Version:       s.version,
		Conn:          s.conn,
		FatalErr:      s.fatalErr,
		Notice:        s.notice,
		Messages:      msgs,
		Presence:      s.presence.Statuses(),
		Typing:        s.typing.All(),
		Notifications: append([]types.Notification(nil), s.notifications...),
		Hackathons:    hacks,
		Teams:         teams,
	}
}

func (s *Store) shutdown() {
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.cancel()
}

func capTail(list []Message, max int) []Message {
	if len(list) > max {
		return list[len(list)-max:]
	}
	return list
}
