package state

import (
	"errors"
	"fmt"
)

// ParseError is a malformed feed line or scenario unit. The offending unit is skipped.
type ParseError struct {
	Source string
	Line   int
	Text   string
	Reason string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse error in %s line %d (%q): %s", e.Source, e.Line, e.Text, e.Reason)
	}
	return fmt.Sprintf("parse error in %s: %s", e.Source, e.Reason)
}

// TopologyError aborts a simulation before it starts.
type TopologyError struct {
	Node   NodeId
	Reason string
}

func (e *TopologyError) Error() string {
	if e.Node == "" {
		return "invalid topology: " + e.Reason
	}
	return fmt.Sprintf("invalid topology at node %s: %s", e.Node, e.Reason)
}

func topologyErr(node NodeId, format string, args ...any) error {
	return &TopologyError{
		Node:   node,
		Reason: fmt.Sprintf(format, args...),
	}
}

// ConvergenceTimeout describes a run that hit its tick bound with events still pending.
type ConvergenceTimeout struct {
	MaxTicks Tick
	Pending  int
}

func (e *ConvergenceTimeout) Error() string {
	return fmt.Sprintf("simulation did not converge within %d ticks, %d events pending", e.MaxTicks, e.Pending)
}

func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

func IsTopologyError(err error) bool {
	var te *TopologyError
	return errors.As(err, &te)
}
