package core

import (
	"bufio"
	"context"
	"io"
	"strings"
	"time"

	"github.com/encodeous/routesim/protocol"
	"github.com/encodeous/routesim/state"
	"github.com/jellydator/ttlcache/v3"
)

// FeedItem is a command to inject Delay ticks after the previous one.
type FeedItem struct {
	Delay   state.Tick
	Command protocol.Command
}

// Feed is the source of external announcements and withdrawals.
type Feed interface {
	// Next returns the next command. io.EOF ends the feed, a *state.ParseError skips one line.
	Next(ctx context.Context) (FeedItem, error)
	// Live feeds are read only once the simulation is idle, so their commands apply at the
	// tick the simulation has reached.
	Live() bool
}

// ScriptedFeed replays pre-parsed entries, optionally several times.
type ScriptedFeed struct {
	entries []protocol.ScriptEntry
	repeat  int
	pos     int
	round   int
}

// NewScriptedFeed plays entries repeat times. A repeat below 1 plays them once.
func NewScriptedFeed(entries []protocol.ScriptEntry, repeat int) *ScriptedFeed {
	return &ScriptedFeed{
		entries: entries,
		repeat:  max(repeat, 1),
	}
}

func (f *ScriptedFeed) Next(ctx context.Context) (FeedItem, error) {
	if err := ctx.Err(); err != nil {
		return FeedItem{}, err
	}
	if len(f.entries) == 0 {
		return FeedItem{}, io.EOF
	}
	if f.pos == len(f.entries) {
		f.round++
		f.pos = 0
	}
	if f.round >= f.repeat {
		return FeedItem{}, io.EOF
	}
	e := f.entries[f.pos]
	f.pos++
	return FeedItem{Delay: e.Delay, Command: e.Command}, nil
}

func (f *ScriptedFeed) Live() bool {
	return false
}

type liveLine struct {
	no   int
	text string
	err  error
}

// LiveFeed reads protocol lines from a stream. A reader goroutine hands lines to the simulation
// over a channel and exits on EOF, a read error or cancellation of its context.
type LiveFeed struct {
	name  string
	lines chan liveLine
	// dedup maps a session and prefix to the last command seen for it
	dedup      *ttlcache.Cache[string, string]
	pending    state.Tick
	Suppressed int
}

func NewLiveFeed(ctx context.Context, name string, r io.Reader, window time.Duration) *LiveFeed {
	f := &LiveFeed{
		name:  name,
		lines: make(chan liveLine, state.LiveLineBuffer),
		dedup: ttlcache.New[string, string](
			ttlcache.WithTTL[string, string](window),
			ttlcache.WithDisableTouchOnHit[string, string](),
		),
	}
	go f.read(ctx, r)
	return f
}

func (f *LiveFeed) read(ctx context.Context, r io.Reader) {
	defer close(f.lines)
	sc := bufio.NewScanner(r)
	no := 0
	for sc.Scan() {
		no++
		select {
		case f.lines <- liveLine{no: no, text: sc.Text()}:
		case <-ctx.Done():
			return
		}
	}
	if err := sc.Err(); err != nil {
		select {
		case f.lines <- liveLine{no: no, err: err}:
		case <-ctx.Done():
		}
	}
}

func dedupKey(cmd protocol.Command) string {
	return cmd.Neighbor + "|" + cmd.Prefix.String()
}

func (f *LiveFeed) Next(ctx context.Context) (FeedItem, error) {
	for {
		var line liveLine
		var ok bool
		select {
		case line, ok = <-f.lines:
		case <-ctx.Done():
			return FeedItem{}, ctx.Err()
		}
		if !ok {
			return FeedItem{}, io.EOF
		}
		if line.err != nil {
			return FeedItem{}, line.err
		}
		sleep, cmd, isSleep, ok, err := protocol.ParseLine(line.text)
		if err != nil {
			return FeedItem{}, &state.ParseError{
				Source: f.name,
				Line:   line.no,
				Text:   strings.TrimSpace(line.text),
				Reason: err.Error(),
			}
		}
		if !ok {
			continue
		}
		if isSleep {
			f.pending += sleep
			continue
		}

		f.dedup.DeleteExpired()
		key, canon := dedupKey(cmd), cmd.String()
		if prev := f.dedup.Get(key); prev != nil && prev.Value() == canon {
			f.Suppressed++
			continue
		}
		f.dedup.Set(key, canon, ttlcache.DefaultTTL)

		item := FeedItem{Delay: f.pending, Command: cmd}
		f.pending = 0
		return item, nil
	}
}

func (f *LiveFeed) Live() bool {
	return true
}
