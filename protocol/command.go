package protocol

import (
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/encodeous/routesim/state"
)

// Command is a single line of the exabgp style feed protocol:
//
//	[neighbor <addr>] announce route <cidr> next-hop <self|addr> as-path [<asn>, ...] [metric <n>] [extended-community [<c>, ...]]
//	[neighbor <addr>] withdraw route <cidr>
type Command struct {
	Neighbor    string
	Kind        state.EventKind
	Prefix      netip.Prefix
	NextHop     string
	ASPath      []state.ASN
	Origin      state.Origin
	Med         *uint32
	Communities []string
}

type token struct {
	text string
	list bool
}

func lex(line string) ([]token, error) {
	toks := make([]token, 0)
	i := 0
	for i < len(line) {
		switch c := line[i]; {
		case c == ' ' || c == '\t' || c == '\r':
			i++
		case c == '[':
			end := strings.IndexByte(line[i:], ']')
			if end == -1 {
				return nil, errors.New("unterminated list")
			}
			toks = append(toks, token{text: line[i+1 : i+end], list: true})
			i += end + 1
		case c == ']':
			return nil, errors.New("unexpected ']'")
		default:
			j := i
			for j < len(line) && !strings.ContainsRune(" \t\r[]", rune(line[j])) {
				j++
			}
			toks = append(toks, token{text: line[i:j]})
			i = j
		}
	}
	return toks, nil
}

func splitList(s string) []string {
	out := make([]string, 0)
	for _, f := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' }) {
		out = append(out, f)
	}
	return out
}

func parseASPath(t token) ([]state.ASN, error) {
	items := []string{t.text}
	if t.list {
		items = splitList(t.text)
	}
	if len(items) == 0 {
		return nil, errors.New("as-path must not be empty")
	}
	path := make([]state.ASN, 0, len(items))
	for _, item := range items {
		v, err := strconv.ParseUint(item, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid asn %q", item)
		}
		if v == 0 {
			return nil, errors.New("asn 0 is reserved")
		}
		path = append(path, state.ASN(v))
	}
	return path, nil
}

func parseOrigin(s string) (state.Origin, error) {
	switch s {
	case "igp":
		return state.OriginIGP, nil
	case "egp":
		return state.OriginEGP, nil
	case "incomplete":
		return state.OriginIncomplete, nil
	}
	return 0, fmt.Errorf("invalid origin %q", s)
}

// ParseCommand parses one protocol line. The returned error only carries the reason;
// callers attach the position.
func ParseCommand(line string) (Command, error) {
	var cmd Command
	toks, err := lex(strings.TrimSpace(line))
	if err != nil {
		return cmd, err
	}
	next := func() (token, bool) {
		if len(toks) == 0 {
			return token{}, false
		}
		t := toks[0]
		toks = toks[1:]
		return t, true
	}
	word := func(what string) (string, error) {
		t, ok := next()
		if !ok {
			return "", fmt.Errorf("missing %s", what)
		}
		if t.list {
			return "", fmt.Errorf("expected %s, got list", what)
		}
		return t.text, nil
	}

	verb, err := word("command")
	if err != nil {
		return cmd, err
	}
	if verb == "neighbor" {
		if cmd.Neighbor, err = word("neighbor address"); err != nil {
			return cmd, err
		}
		if verb, err = word("command"); err != nil {
			return cmd, err
		}
	}
	switch verb {
	case "announce":
		cmd.Kind = state.Announce
	case "withdraw":
		cmd.Kind = state.Withdraw
	default:
		return cmd, fmt.Errorf("unknown command %q", verb)
	}
	if kw, err := word("'route'"); err != nil {
		return cmd, err
	} else if kw != "route" {
		return cmd, fmt.Errorf("expected 'route', got %q", kw)
	}
	ps, err := word("prefix")
	if err != nil {
		return cmd, err
	}
	prefix, err := netip.ParsePrefix(ps)
	if err != nil {
		return cmd, fmt.Errorf("invalid prefix %q", ps)
	}
	cmd.Prefix = prefix.Masked()

	if cmd.Kind == state.Withdraw {
		if len(toks) != 0 {
			return cmd, fmt.Errorf("unexpected %q after withdraw", toks[0].text)
		}
		return cmd, nil
	}

	seen := make(map[string]bool)
	for len(toks) > 0 {
		key, err := word("attribute")
		if err != nil {
			return cmd, err
		}
		if seen[key] {
			return cmd, fmt.Errorf("duplicate attribute %q", key)
		}
		seen[key] = true
		val, ok := next()
		if !ok {
			return cmd, fmt.Errorf("missing value for %s", key)
		}
		switch key {
		case "next-hop":
			if val.list {
				return cmd, errors.New("next-hop must not be a list")
			}
			if val.text != state.SelfNextHop {
				if _, err := netip.ParseAddr(val.text); err != nil {
					return cmd, fmt.Errorf("invalid next-hop %q", val.text)
				}
			}
			cmd.NextHop = val.text
		case "as-path":
			if cmd.ASPath, err = parseASPath(val); err != nil {
				return cmd, err
			}
		case "origin":
			if cmd.Origin, err = parseOrigin(val.text); err != nil {
				return cmd, err
			}
		case "metric":
			med, err := strconv.ParseUint(val.text, 10, 32)
			if err != nil || val.list {
				return cmd, fmt.Errorf("invalid metric %q", val.text)
			}
			m := uint32(med)
			cmd.Med = &m
		case "extended-community":
			if val.list {
				cmd.Communities = splitList(val.text)
			} else {
				cmd.Communities = []string{val.text}
			}
		default:
			return cmd, fmt.Errorf("unknown attribute %q", key)
		}
	}
	if cmd.NextHop == "" {
		return cmd, errors.New("announce requires next-hop")
	}
	if len(cmd.ASPath) == 0 {
		return cmd, errors.New("announce requires as-path")
	}
	return cmd, nil
}

func (c Command) String() string {
	sb := strings.Builder{}
	if c.Neighbor != "" {
		sb.WriteString("neighbor " + c.Neighbor + " ")
	}
	if c.Kind == state.Withdraw {
		sb.WriteString("withdraw route " + c.Prefix.String())
		return sb.String()
	}
	path := make([]string, 0, len(c.ASPath))
	for _, asn := range c.ASPath {
		path = append(path, strconv.FormatUint(uint64(asn), 10))
	}
	sb.WriteString(fmt.Sprintf("announce route %s next-hop %s as-path [%s]", c.Prefix, c.NextHop, strings.Join(path, ", ")))
	if c.Origin != state.OriginIGP {
		sb.WriteString(" origin " + c.Origin.String())
	}
	if c.Med != nil {
		sb.WriteString(fmt.Sprintf(" metric %d", *c.Med))
	}
	if len(c.Communities) > 0 {
		sb.WriteString(" extended-community [" + strings.Join(c.Communities, ", ") + "]")
	}
	return sb.String()
}

// Route builds the route carried by an announce command, with nextHop substituted for "self".
func (c Command) Route(self state.NodeId) state.Route {
	nh := state.NodeId(c.NextHop)
	if c.NextHop == state.SelfNextHop || c.NextHop == "" {
		nh = self
	}
	return state.Route{
		Prefix:      c.Prefix,
		NextHop:     nh,
		ASPath:      append([]state.ASN(nil), c.ASPath...),
		Origin:      c.Origin,
		Med:         c.Med,
		Communities: append([]string(nil), c.Communities...),
	}
}
