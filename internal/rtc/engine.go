// Package rtc adapts pion/webrtc to the poll-driven capture.Engine interface.
package rtc

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/ice/v2"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/getrec/recorder/internal/capture"
)

const (
	// DefaultVideoReorder is how many packets the video sample builder holds back
	// waiting for late packets.
	DefaultVideoReorder uint16 = 240
	// DefaultAudioReorder is the same bound for Opus, which has one packet per sample.
	DefaultAudioReorder uint16 = 16
	// DefaultPollInterval is the longest the session blocks on its socket
	// before polling the engine again.
	DefaultPollInterval = 10 * time.Millisecond

	eventQueueSize  = 1024
	gatheringBudget = 5 * time.Second
)

var (
	// ErrClosed is returned once the engine is closed.
	ErrClosed = errors.New("rtc: engine closed")
	// ErrNoHostCandidate is returned when an offer arrives before a host candidate.
	ErrNoHostCandidate = errors.New("rtc: no host candidate")
)

// Config tunes the adapter.
type Config struct {
	VideoReorder uint16
	AudioReorder uint16
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.VideoReorder == 0 {
		c.VideoReorder = DefaultVideoReorder
	}
	if c.AudioReorder == 0 {
		c.AudioReorder = DefaultAudioReorder
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c
}

// Engine runs one receive-only PeerConnection. pion drives ICE, DTLS and SRTP on
// its own goroutines; the engine funnels their network I/O through a virtual
// socket and their callbacks through an event queue.
type Engine struct {
	cfg    Config
	logger *zap.Logger

	conn  *packetConn
	mux   ice.UDPMux
	pc    *webrtc.PeerConnection
	srflx []capture.Candidate

	events    chan capture.Output
	done      chan struct{}
	closeOnce sync.Once

	// readers guards wg.Add against Close.
	readers sync.Mutex
	closed  bool
	wg      sync.WaitGroup
}

// NewEngine returns an engine with no candidates.
func NewEngine(cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:    cfg.withDefaults(),
		logger: logger,
		conn:   newPacketConn(),
		events: make(chan capture.Output, eventQueueSize),
		done:   make(chan struct{}),
	}
}

// NewFactory returns a constructor for per-session engines.
func NewFactory(cfg Config, logger *zap.Logger) func() capture.Engine {
	return func() capture.Engine { return NewEngine(cfg, logger) }
}

// AddLocalCandidate implements capture.Engine. The host candidate becomes the
// address of the virtual socket; server-reflexive candidates are advertised in
// the answer.
func (e *Engine) AddLocalCandidate(c capture.Candidate) error {
	if e.pc != nil {
		return errors.New("rtc: candidates must be added before the offer")
	}
	if c.Addr == nil {
		return errors.New("rtc: candidate without address")
	}
	switch c.Type {
	case capture.CandidateHost:
		e.conn.setLocalAddr(c.Addr)
	case capture.CandidateServerReflexive:
		e.srflx = append(e.srflx, c)
	default:
		return fmt.Errorf("rtc: unsupported candidate type %s", c.Type)
	}
	return nil
}

// AcceptOffer implements capture.Engine.
func (e *Engine) AcceptOffer(offer string) (string, error) {
	if !e.conn.hasLocalAddr() {
		return "", ErrNoHostCandidate
	}
	api, err := e.newAPI()
	if err != nil {
		return "", err
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return "", fmt.Errorf("new peer connection: %w", err)
	}
	e.pc = pc

	pc.OnICEConnectionStateChange(e.onICEConnectionStateChange)
	pc.OnTrack(e.onTrack)

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer}); err != nil {
		return "", fmt.Errorf("set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gathered:
	case <-time.After(gatheringBudget):
		return "", errors.New("rtc: candidate gathering timed out")
	}

	sdp, err := appendCandidates(pc.LocalDescription().SDP, e.srflx)
	if err != nil {
		return "", fmt.Errorf("advertise server reflexive candidates: %w", err)
	}
	return sdp, nil
}

func (e *Engine) newAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := registerCodecs(m); err != nil {
		return nil, err
	}
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	factory := loggerFactory{logger: e.logger.Named("pion")}
	e.mux = webrtc.NewICEUDPMux(factory.NewLogger("ice-mux"), e.conn)

	s := webrtc.SettingEngine{LoggerFactory: factory}
	s.SetICEUDPMux(e.mux)
	s.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})
	s.SetICEMulticastDNSMode(ice.MulticastDNSModeDisabled)

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(s),
	), nil
}

// PollOutput implements capture.Engine. Pending datagrams go first, then
// callbacks, then a short timeout so the session keeps reading its socket.
func (e *Engine) PollOutput() (capture.Output, error) {
	select {
	case <-e.done:
		return nil, ErrClosed
	default:
	}
	if p, ok := e.conn.next(); ok {
		return capture.Transmit{Destination: p.addr, Contents: p.data}, nil
	}
	select {
	case out := <-e.events:
		return out, nil
	default:
	}
	return capture.Timeout{Deadline: time.Now().Add(e.cfg.PollInterval)}, nil
}

// HandleInput implements capture.Engine. Timeouts need no work: pion keeps its
// own timers.
func (e *Engine) HandleInput(in capture.Input) error {
	switch v := in.(type) {
	case capture.Receive:
		if err := e.conn.deliver(v.Source, v.Contents); err != nil {
			return ErrClosed
		}
	case capture.TimeoutInput:
	}
	return nil
}

// Close implements capture.Engine.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.done)
		if e.pc != nil {
			err = e.pc.Close()
		}
		if e.mux != nil {
			_ = e.mux.Close()
		}
		_ = e.conn.Close()

		e.readers.Lock()
		e.closed = true
		e.readers.Unlock()
		e.wg.Wait()
	})
	return err
}

// startReader runs read on its own goroutine unless the engine is closed.
// Close waits for every started reader.
func (e *Engine) startReader(read func()) bool {
	e.readers.Lock()
	defer e.readers.Unlock()
	if e.closed {
		return false
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		read()
	}()
	return true
}

func (e *Engine) emit(out capture.Output) bool {
	select {
	case <-e.done:
		return false
	default:
	}
	select {
	case e.events <- out:
		return true
	case <-e.done:
		return false
	}
}

func (e *Engine) onICEConnectionStateChange(state webrtc.ICEConnectionState) {
	e.logger.Debug("ice connection state", zap.Stringer("state", state))
	e.emit(capture.ConnectivityChange{State: connectivity(state)})
}

// connectivity maps pion's states onto the session state machine. Failed and
// closed both end the session the way a disconnect does.
func connectivity(state webrtc.ICEConnectionState) capture.ConnectivityState {
	switch state {
	case webrtc.ICEConnectionStateChecking:
		return capture.ConnectivityChecking
	case webrtc.ICEConnectionStateConnected:
		return capture.ConnectivityConnected
	case webrtc.ICEConnectionStateCompleted:
		return capture.ConnectivityCompleted
	case webrtc.ICEConnectionStateDisconnected,
		webrtc.ICEConnectionStateFailed,
		webrtc.ICEConnectionStateClosed:
		return capture.ConnectivityDisconnected
	default:
		return capture.ConnectivityNew
	}
}
