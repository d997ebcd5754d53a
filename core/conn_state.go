package core

import "net"

// ConnState is a stage in the life of a connection. Every connection moves
// forward through Accepted, Reading, Parsed, Dispatching and Responding and
// ends in exactly one of Closed or Errored.
type ConnState uint8

// Connection states
const (
	StateAccepted ConnState = iota
	StateReading
	StateParsed
	StateDispatching
	StateResponding
	StateClosed
	StateErrored
)

var stateNames = [...]string{
	StateAccepted:    "accepted",
	StateReading:     "reading",
	StateParsed:      "parsed",
	StateDispatching: "dispatching",
	StateResponding:  "responding",
	StateClosed:      "closed",
	StateErrored:     "errored",
}

func (s ConnState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether no further transition follows s.
func (s ConnState) Terminal() bool {
	return s == StateClosed || s == StateErrored
}

// ConnStateHook observes connection state transitions. It runs on the
// connection's goroutine and must not block.
type ConnStateHook func(net.Conn, ConnState)
