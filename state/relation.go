package state

import "fmt"

// Relation is the business relationship of a remote session endpoint, seen from the local node.
// RelProvider means the remote node is our provider.
type Relation uint8

const (
	RelSelf Relation = iota
	RelCustomer
	RelPeer
	RelProvider
)

func (r Relation) String() string {
	switch r {
	case RelSelf:
		return "self"
	case RelCustomer:
		return "customer"
	case RelPeer:
		return "peer"
	case RelProvider:
		return "provider"
	}
	return fmt.Sprintf("relation(%d)", uint8(r))
}

// Reverse gives the relation the remote node has towards us.
func (r Relation) Reverse() Relation {
	switch r {
	case RelCustomer:
		return RelProvider
	case RelProvider:
		return RelCustomer
	}
	return r
}

func ParseRelation(s string) (Relation, error) {
	switch s {
	case "customer":
		return RelCustomer, nil
	case "peer":
		return RelPeer, nil
	case "provider":
		return RelProvider, nil
	}
	return 0, fmt.Errorf("invalid relation %q, must be one of customer, peer, provider", s)
}

func (r Relation) MarshalText() ([]byte, error) {
	if r == RelSelf || r > RelProvider {
		return nil, fmt.Errorf("relation %s cannot be serialized", r)
	}
	return []byte(r.String()), nil
}

func (r *Relation) UnmarshalText(text []byte) error {
	rel, err := ParseRelation(string(text))
	if err != nil {
		return err
	}
	*r = rel
	return nil
}

type ExportPolicy uint8

const (
	// PolicyValleyFree never exports routes learned from peers or providers to peers.
	PolicyValleyFree ExportPolicy = iota
	// PolicyGaoRexford exports routes learned from peers or providers to customers only.
	PolicyGaoRexford
)

func (p ExportPolicy) String() string {
	switch p {
	case PolicyValleyFree:
		return "valley_free"
	case PolicyGaoRexford:
		return "gao_rexford"
	}
	return fmt.Sprintf("policy(%d)", uint8(p))
}

func (p ExportPolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *ExportPolicy) UnmarshalText(text []byte) error {
	switch string(text) {
	case "valley_free", "":
		*p = PolicyValleyFree
	case "gao_rexford":
		*p = PolicyGaoRexford
	default:
		return fmt.Errorf("invalid export policy %q", string(text))
	}
	return nil
}

// Exportable reports whether a route learned over a session with relation learned may be
// announced over a session with relation to.
func (p ExportPolicy) Exportable(learned, to Relation) bool {
	if learned == RelSelf || learned == RelCustomer {
		return true
	}
	switch p {
	case PolicyGaoRexford:
		return to == RelCustomer
	default:
		return to != RelPeer
	}
}
