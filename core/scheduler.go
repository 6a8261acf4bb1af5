package core

import (
	"net/netip"
	"slices"

	"github.com/encodeous/routesim/state"
	"github.com/google/btree"
)

type queued struct {
	seq uint64
	ev  state.Event
}

func lessQueued(a, b *queued) bool {
	if a.ev.Time != b.ev.Time {
		return a.ev.Time < b.ev.Time
	}
	return a.seq < b.seq
}

// flow identifies the updates one session carries for one prefix.
type flow struct {
	to, from state.NodeId
	prefix   netip.Prefix
}

func flowOf(ev state.Event) flow {
	return flow{to: ev.To, from: ev.From, prefix: ev.Prefix}
}

// Scheduler is a virtual-time event queue. Events are ordered by tick, then by insertion.
type Scheduler struct {
	queue   *btree.BTreeG[*queued]
	pending map[flow][]*queued
	now     state.Tick
	seq     uint64

	Processed  int
	Superseded int
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		queue:   btree.NewG[*queued](8, lessQueued),
		pending: make(map[flow][]*queued),
	}
}

func (s *Scheduler) Now() state.Tick {
	return s.now
}

// Len is the number of events waiting for delivery.
func (s *Scheduler) Len() int {
	return s.queue.Len()
}

// Push schedules ev for tick at. Ticks in the past are clamped to the current tick. A withdraw
// cancels the pending announces for the same session and prefix due no later than itself.
func (s *Scheduler) Push(ev state.Event, at state.Tick) {
	ev.Time = max(at, s.now)
	ev.Prefix = ev.Prefix.Masked()
	key := flowOf(ev)
	if ev.Kind == state.Withdraw {
		rest := slices.DeleteFunc(s.pending[key], func(q *queued) bool {
			if q.ev.Time > ev.Time {
				return false
			}
			s.queue.Delete(q)
			s.Superseded++
			return true
		})
		if len(rest) == 0 {
			delete(s.pending, key)
		} else {
			s.pending[key] = rest
		}
	}
	q := &queued{seq: s.seq, ev: ev}
	s.seq++
	s.queue.ReplaceOrInsert(q)
	if ev.Kind == state.Announce {
		s.pending[key] = append(s.pending[key], q)
	}
}

// Peek returns the next event without removing it.
func (s *Scheduler) Peek() (state.Event, bool) {
	q, ok := s.queue.Min()
	if !ok {
		return state.Event{}, false
	}
	return q.ev, true
}

// Pop removes the next event and advances the clock to its tick.
func (s *Scheduler) Pop() (state.Event, bool) {
	q, ok := s.queue.DeleteMin()
	if !ok {
		return state.Event{}, false
	}
	if q.ev.Kind == state.Announce {
		key := flowOf(q.ev)
		rest := slices.DeleteFunc(s.pending[key], func(o *queued) bool { return o == q })
		if len(rest) == 0 {
			delete(s.pending, key)
		} else {
			s.pending[key] = rest
		}
	}
	s.now = q.ev.Time
	s.Processed++
	return q.ev, true
}

// AdvanceTo moves the clock forward. It never moves backwards.
func (s *Scheduler) AdvanceTo(t state.Tick) {
	s.now = max(s.now, t)
}

// Events lists the queued events in delivery order.
func (s *Scheduler) Events() []state.Event {
	out := make([]state.Event, 0, s.queue.Len())
	s.queue.Ascend(func(q *queued) bool {
		out = append(out, q.ev)
		return true
	})
	return out
}
