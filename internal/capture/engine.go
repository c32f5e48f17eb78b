// Package capture runs one recording session: it drives a transport engine over
// a UDP socket and feeds the media it produces to a demuxer.
package capture

import (
	"net"
	"time"

	"github.com/getrec/recorder/internal/demux"
)

// Engine is a poll-driven WebRTC endpoint. It never touches the network itself:
// the session moves datagrams between the engine and its socket.
type Engine interface {
	// AddLocalCandidate registers an address the remote peer may reach us on.
	// All candidates are added before AcceptOffer.
	AddLocalCandidate(c Candidate) error
	// AcceptOffer applies the remote SDP offer and returns the SDP answer.
	AcceptOffer(offer string) (string, error)
	// PollOutput returns the next thing the engine wants done.
	PollOutput() (Output, error)
	// HandleInput hands a received datagram or a timeout to the engine.
	HandleInput(in Input) error
	Close() error
}

// CandidateType distinguishes local candidate kinds.
type CandidateType int

const (
	CandidateHost CandidateType = iota
	CandidateServerReflexive
)

func (t CandidateType) String() string {
	if t == CandidateServerReflexive {
		return "srflx"
	}
	return "host"
}

// Candidate is one local ICE candidate.
type Candidate struct {
	Type CandidateType
	Addr *net.UDPAddr
	// Base is the local socket address a server-reflexive candidate maps to.
	Base *net.UDPAddr
}

// ConnectivityState is the ICE connection state reported by the engine.
type ConnectivityState int

const (
	ConnectivityNew ConnectivityState = iota
	ConnectivityChecking
	ConnectivityConnected
	ConnectivityCompleted
	ConnectivityDisconnected
)

func (s ConnectivityState) String() string {
	switch s {
	case ConnectivityNew:
		return "new"
	case ConnectivityChecking:
		return "checking"
	case ConnectivityConnected:
		return "connected"
	case ConnectivityCompleted:
		return "completed"
	case ConnectivityDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Output is one of Timeout, Transmit, ConnectivityChange, MediaAdded or MediaData.
type Output interface {
	output()
}

// Timeout asks to be called back with a TimeoutInput once Deadline passes,
// or earlier if a datagram arrives.
type Timeout struct {
	Deadline time.Time
}

// Transmit is a datagram to send.
type Transmit struct {
	Destination net.Addr
	Contents    []byte
}

// ConnectivityChange reports a new connection state.
type ConnectivityChange struct {
	State ConnectivityState
}

// MediaAdded reports a new inbound track.
type MediaAdded struct {
	Kind demux.Kind
}

// MediaData carries one depacketized sample.
type MediaData struct {
	Sample demux.Sample
}

func (Timeout) output()            {}
func (Transmit) output()           {}
func (ConnectivityChange) output() {}
func (MediaAdded) output()         {}
func (MediaData) output()          {}

// Input is either TimeoutInput or Receive.
type Input interface {
	input()
}

// TimeoutInput tells the engine that time has advanced to At.
type TimeoutInput struct {
	At time.Time
}

// Receive is a datagram read from the session socket.
type Receive struct {
	At          time.Time
	Source      net.Addr
	Destination net.Addr
	Contents    []byte
}

func (TimeoutInput) input() {}
func (Receive) input()      {}
