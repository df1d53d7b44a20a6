package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/hackmate/realtime/internal/state"
)

func view(t *testing.T, s *state.Store) state.View {
	t.Helper()
	reply := make(chan state.View, 1)
	s.Inbox() <- state.GetView{Reply: reply}
	select {
	case v := <-reply:
		return v
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for view")
		return state.View{} // unreachable
	}
}

func newFixture(t *testing.T) (*Dispatcher, *state.Store) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	s := state.NewStore(ctx, nil, nil)
	return New(s, nil), s
}

func TestRoutesTeamMessage(t *testing.T) {
	d, s := newFixture(t)

	d.Dispatch([]byte(`{"type":"team.message","teamId":"t1",
		"message":{"_id":"m1","senderId":"u2","text":"hello","createdAt":"2025-03-01T12:00:00Z"}}`))

	v := view(t, s)
	msgs := v.Snapshot.Messages["t1"]
	if len(msgs) != 1 || msgs[0].ID != "m1" || msgs[0].Text != "hello" {
		t.Fatalf("team.message not routed: %+v", msgs)
	}
}

func TestRoutesTypingAndError(t *testing.T) {
	d, s := newFixture(t)

	d.Dispatch([]byte(`{"type":"team.typing","teamId":"t1","userId":"u2","isTyping":true}`))
	d.Dispatch([]byte(`{"type":"error","message":"rate limited"}`))

	v := view(t, s)
	if got := v.Snapshot.Typing["t1"]; len(got) != 1 {
		t.Fatalf("typing not routed: %+v", v.Snapshot.Typing)
	}
	if v.Snapshot.Notice != "rate limited" {
		t.Fatalf("error frame not surfaced: %q", v.Snapshot.Notice)
	}
}

func TestRoutesHackathonFrames(t *testing.T) {
	d, s := newFixture(t)

	d.Dispatch([]byte(`{"type":"hackathon.subscribed","hackathonId":"h1"}`))
	d.Dispatch([]byte(`{"type":"hackathon.timer","hackathonId":"h1","remainingMs":5000,"hasStarted":true,"status":"running"}`))
	d.Dispatch([]byte(`{"type":"ADMIN.hackathon.EVENT","hackathonId":"h1","eventDetails":{"note":"lunch"}}`))

	v := view(t, s)
	h := v.Snapshot.Hackathons["h1"]
	if !h.Subscribed || h.RemainingMs != 5000 || len(h.AdminEvent) == 0 {
		t.Fatalf("hackathon frames not routed: %+v", h)
	}
}

func TestMalformedAndUnknownFramesAreDropped(t *testing.T) {
	d, s := newFixture(t)

	d.Dispatch([]byte(`{not json`))
	d.Dispatch([]byte(`{"type":"server.future_thing","x":1}`))

	v := view(t, s)
	if v.Version != 0 {
		t.Fatalf("dropped frames must not mutate state; version=%d", v.Version)
	}
}
