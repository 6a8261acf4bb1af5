package protocol

import (
	"bytes"
	"context"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/encodeous/routesim/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestReplay(t *testing.T) {
	defer goleak.VerifyNone(t)
	entries, errs, err := ParseScript("peer", strings.NewReader(`neighbor 10.0.0.1 announce route 10.0.0.0/8 next-hop self as-path [1, 2]
sleep 2
neighbor 10.0.0.1 withdraw route 10.0.0.0/8
`))
	require.NoError(t, err)
	require.Empty(t, errs)

	buf := &bytes.Buffer{}
	start := time.Now()
	require.NoError(t, Replay(context.Background(), buf, entries, time.Millisecond, 2))
	assert.GreaterOrEqual(t, time.Since(start), 4*time.Millisecond)
	assert.Equal(t, `neighbor 10.0.0.1 announce route 10.0.0.0/8 next-hop self as-path [1, 2]
neighbor 10.0.0.1 withdraw route 10.0.0.0/8
neighbor 10.0.0.1 announce route 10.0.0.0/8 next-hop self as-path [1, 2]
neighbor 10.0.0.1 withdraw route 10.0.0.0/8
`, buf.String())
}

func TestReplayCancelled(t *testing.T) {
	defer goleak.VerifyNone(t)
	entries := []ScriptEntry{
		{Command: Command{Kind: state.Withdraw, Prefix: netip.MustParsePrefix("10.0.0.0/8")}},
		{Delay: 1000, Command: Command{Kind: state.Withdraw, Prefix: netip.MustParsePrefix("10.0.0.0/8")}},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	buf := &bytes.Buffer{}
	err := Replay(ctx, buf, entries, time.Second, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "withdraw route 10.0.0.0/8\n", buf.String())
}
