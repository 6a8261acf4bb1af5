package protocol

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"
)

// Replay writes the script's commands to w in real time, waiting Delay*tick before each one, and
// plays the script repeat times. It returns ctx.Err() when cancelled.
func Replay(ctx context.Context, w io.Writer, entries []ScriptEntry, tick time.Duration, repeat int) error {
	out := bufio.NewWriter(w)
	for range max(repeat, 1) {
		for _, e := range entries {
			if e.Delay > 0 {
				t := time.NewTimer(time.Duration(e.Delay) * tick)
				select {
				case <-ctx.Done():
					t.Stop()
					return ctx.Err()
				case <-t.C:
				}
			} else if err := ctx.Err(); err != nil {
				return err
			}
			if _, err := fmt.Fprintln(out, e.Command.String()); err != nil {
				return err
			}
			if err := out.Flush(); err != nil {
				return err
			}
		}
	}
	return nil
}
