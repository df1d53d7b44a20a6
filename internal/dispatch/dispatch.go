// Package dispatch routes inbound frames to store operations. Routing is
// pure: decode, look up the handler for the declared type, forward. Unknown
// or malformed frames are logged and dropped so new server-defined types
// can never crash the client.
package dispatch

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/hackmate/realtime/internal/state"
	"github.com/hackmate/realtime/pkg/types"
)

type handler func(raw json.RawMessage) (state.Msg, error)

type Dispatcher struct {
	handlers map[string]handler
	store    *state.Store
	log      *zap.Logger
}

func New(store *state.Store, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	d := &Dispatcher{store: store, log: log}
	d.handlers = map[string]handler{
		types.FrameConnectionEstablished: func(json.RawMessage) (state.Msg, error) {
			return nil, nil // the session layer already tracks open
		},
		types.FrameTeamMessage: decode(func(f types.TeamMessageFrame) state.Msg {
			return state.ConfirmMessage{Frame: f}
		}),
		types.FrameTeamTyping: decode(func(f types.TeamTypingFrame) state.Msg {
			return state.TypingChanged{Frame: f}
		}),
		types.FramePresenceUpdate: decode(func(f types.PresenceUpdateFrame) state.Msg {
			return state.PresenceChanged{Frame: f}
		}),
		types.FrameNotificationsUnread: decode(func(f types.NotificationsUnreadFrame) state.Msg {
			return state.NotificationsReplaced{Notifications: f.Notifications}
		}),
		types.FrameNotification: decode(func(f types.NotificationFrame) state.Msg {
			return state.NotificationArrived{Notification: f.Notification}
		}),
		types.FrameNotificationsMarkedRead: decode(func(f types.NotificationsMarkedReadFrame) state.Msg {
			return state.NotificationsRead{IDs: f.NotificationIDs}
		}),
		types.FrameHackathonTimer: decode(func(f types.HackathonTimerFrame) state.Msg {
			return state.HackathonTimer{Frame: f}
		}),
		types.FrameHackathonSubscribed: decode(func(f types.HackathonSubscribedFrame) state.Msg {
			return state.HackathonSubscribed{HackathonID: f.HackathonID}
		}),
		types.FrameHackathonStarted: decode(func(f types.HackathonLifecycleFrame) state.Msg {
			return state.HackathonStarted{HackathonID: f.HackathonID}
		}),
		types.FrameHackathonEnded: decode(func(f types.HackathonLifecycleFrame) state.Msg {
			return state.HackathonEnded{HackathonID: f.HackathonID}
		}),
		types.FrameTeamCreated: decode(func(f types.TeamLifecycleFrame) state.Msg {
			return state.TeamUpserted{Frame: f}
		}),
		types.FrameTeamUpdated: decode(func(f types.TeamLifecycleFrame) state.Msg {
			return state.TeamUpserted{Frame: f}
		}),
		types.FrameAdminHackathonEvent: decode(func(f types.AdminHackathonEventFrame) state.Msg {
			return state.AdminEvent{Frame: f}
		}),
		types.FrameError: decode(func(f types.ErrorFrame) state.Msg {
			return state.ServerNotice{Message: f.Message}
		}),
	}
	return d
}

func decode[T any](wrap func(T) state.Msg) handler {
	return func(raw json.RawMessage) (state.Msg, error) {
		var f T
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, err
		}
		return wrap(f), nil
	}
}

// Dispatch routes one raw frame. Never returns an error: every failure mode
// here is a drop, not a fault.
func (d *Dispatcher) Dispatch(data []byte) {
	env, err := types.DecodeEnvelope(data)
	if err != nil {
		d.log.Warn("dropping malformed frame", zap.Error(err))
		return
	}
	h, ok := d.handlers[env.Type]
	if !ok {
		d.log.Warn("dropping frame of unknown type", zap.String("type", env.Type))
		return
	}
	msg, err := h(env.Raw)
	if err != nil {
		d.log.Warn("dropping undecodable frame",
			zap.String("type", env.Type), zap.Error(err))
		return
	}
	if msg != nil {
		d.store.Inbox() <- msg
	}
}
