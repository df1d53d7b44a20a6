package queue

import (
	"go.uber.org/zap"

	"github.com/hackmate/realtime/pkg/types"
)

// DefaultCapacity bounds the buffer so a long outage cannot grow it without
// limit. When full, the oldest command is dropped: the most recent user
// intent is the one worth keeping.
const DefaultCapacity = 256

// Queue is a FIFO buffer of outbound commands issued while the connection
// is down. It is not safe for concurrent use; the session actor is its only
// caller.
type Queue struct {
	cmds []types.Command
	cap  int
	log  *zap.Logger
}

func New(capacity int, log *zap.Logger) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Queue{cap: capacity, log: log}
}

// Enqueue appends cmd, evicting the oldest entry if the queue is full.
func (q *Queue) Enqueue(cmd types.Command) {
	if len(q.cmds) >= q.cap {
		dropped := q.cmds[0]
		q.cmds = q.cmds[1:]
		q.log.Warn("outbound queue full, dropping oldest command",
			zap.String("type", dropped.Type))
	}
	q.cmds = append(q.cmds, cmd)
}

// Drain removes and returns all buffered commands in enqueue order.
func (q *Queue) Drain() []types.Command {
	out := q.cmds
	q.cmds = nil
	return out
}

// Requeue puts back commands that a flush could not transmit, ahead of
// anything enqueued since, preserving the original order.
func (q *Queue) Requeue(cmds []types.Command) {
	if len(cmds) == 0 {
		return
	}
	q.cmds = append(append([]types.Command{}, cmds...), q.cmds...)
	for len(q.cmds) > q.cap {
		q.cmds = q.cmds[1:]
	}
}

func (q *Queue) Len() int { return len(q.cmds) }

// Reset discards everything; used across login boundaries.
func (q *Queue) Reset() { q.cmds = nil }
