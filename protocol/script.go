package protocol

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/encodeous/routesim/state"
)

// ScriptEntry is a command issued Delay ticks after the previous entry.
type ScriptEntry struct {
	Delay   state.Tick
	Line    int
	Command Command
}

// ParseLine classifies a script line. Blank lines and comments yield ok=false.
func ParseLine(line string) (sleep state.Tick, cmd Command, isSleep bool, ok bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return 0, cmd, false, false, nil
	}
	if fields := strings.Fields(line); fields[0] == "sleep" {
		if len(fields) != 2 {
			return 0, cmd, true, false, fmt.Errorf("sleep takes exactly one argument")
		}
		n, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0, cmd, true, false, fmt.Errorf("invalid sleep duration %q", fields[1])
		}
		return state.Tick(n), cmd, true, true, nil
	}
	cmd, err = ParseCommand(line)
	if err != nil {
		return 0, cmd, false, false, err
	}
	return 0, cmd, false, true, nil
}

/*
ParseScript reads a mock peer script:

	# comment
	neighbor 10.0.0.1 announce route 128.0.0.0/16 next-hop self as-path [100, 60]
	sleep 5
	neighbor 10.0.0.1 withdraw route 128.0.0.0/16

Sleeps accumulate into the delay of the next command. Malformed lines are returned as
*state.ParseError and skipped.
*/
func ParseScript(name string, r io.Reader) ([]ScriptEntry, []error, error) {
	entries := make([]ScriptEntry, 0)
	errs := make([]error, 0)
	sc := bufio.NewScanner(r)
	var pending state.Tick
	lineNo := 0
	for sc.Scan() {
		lineNo++
		text := sc.Text()
		sleep, cmd, isSleep, ok, err := ParseLine(text)
		if err != nil {
			errs = append(errs, &state.ParseError{
				Source: name,
				Line:   lineNo,
				Text:   strings.TrimSpace(text),
				Reason: err.Error(),
			})
			continue
		}
		if !ok {
			continue
		}
		if isSleep {
			pending += sleep
			continue
		}
		entries = append(entries, ScriptEntry{
			Delay:   pending,
			Line:    lineNo,
			Command: cmd,
		})
		pending = 0
	}
	if err := sc.Err(); err != nil {
		return nil, errs, fmt.Errorf("read script %s: %w", name, err)
	}
	return entries, errs, nil
}

// FromFeed converts the scenario's feed entries.
func FromFeed(feed []state.FeedEntryCfg) ([]ScriptEntry, []error) {
	entries := make([]ScriptEntry, 0, len(feed))
	errs := make([]error, 0)
	for i, f := range feed {
		cmd, err := ParseCommand(f.Command)
		if err != nil {
			errs = append(errs, &state.ParseError{
				Source: "feed",
				Line:   i + 1,
				Text:   f.Command,
				Reason: err.Error(),
			})
			continue
		}
		entries = append(entries, ScriptEntry{
			Delay:   f.Delay,
			Line:    i + 1,
			Command: cmd,
		})
	}
	return entries, errs
}
