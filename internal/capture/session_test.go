package capture

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/getrec/recorder/internal/demux"
	"github.com/getrec/recorder/internal/lifecycle"
	"github.com/getrec/recorder/internal/recordings"
)

type step struct {
	out Output
	err error
	at  time.Time
}

type fakeEngine struct {
	mu         sync.Mutex
	clock      *fakeClock
	steps      []step
	inputs     []Input
	candidates []Candidate
	offer      string
	acceptErr  error
	closed     bool
}

func (e *fakeEngine) AddLocalCandidate(c Candidate) error {
	e.candidates = append(e.candidates, c)
	return nil
}

func (e *fakeEngine) AcceptOffer(offer string) (string, error) {
	e.offer = offer
	if e.acceptErr != nil {
		return "", e.acceptErr
	}
	return "v=0 answer", nil
}

func (e *fakeEngine) PollOutput() (Output, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.steps) == 0 {
		return ConnectivityChange{State: ConnectivityDisconnected}, nil
	}
	s := e.steps[0]
	e.steps = e.steps[1:]
	if !s.at.IsZero() && e.clock != nil {
		e.clock.set(s.at)
	}
	return s.out, s.err
}

func (e *fakeEngine) HandleInput(in Input) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inputs = append(e.inputs, in)
	return nil
}

func (e *fakeEngine) Close() error {
	e.closed = true
	return nil
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func listen(t *testing.T) net.PacketConn {
	t.Helper()
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	return conn
}

func drain(bus *lifecycle.Bus) []lifecycle.Event {
	var events []lifecycle.Event
	for bus.Len() > 0 {
		events = append(events, <-bus.Events())
	}
	return events
}

func newTestSession(t *testing.T, engine *fakeEngine, conn net.PacketConn, bus *lifecycle.Bus) (*Session, Identity, string) {
	t.Helper()
	dir := t.TempDir()
	id := Identity{RecordingID: uuid.New(), PlayerID: "player-1", AccountID: "acct-1"}
	s := NewSession(id, Config{TmpDir: dir, Demux: demux.DefaultConfig()}, engine, conn, bus, zap.NewNop())
	if engine.clock != nil {
		s.SetClock(engine.clock.now)
	}
	return s, id, dir
}

func TestSessionLifecycle(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	clock := &fakeClock{t: base}
	keyframe := []byte{0, 0, 0, 1, 0x67, 0x42, 0xc0, 0x1f}
	slice := []byte{0, 0, 0, 1, 0x41, 0x9a, 0x00, 0x01}

	engine := &fakeEngine{clock: clock, steps: []step{
		{out: ConnectivityChange{State: ConnectivityChecking}},
		{out: ConnectivityChange{State: ConnectivityConnected}, at: base.Add(1 * time.Second)},
		{out: MediaAdded{Kind: demux.KindAudio}, at: base.Add(2 * time.Second)},
		{out: MediaAdded{Kind: demux.KindVideo}, at: base.Add(3 * time.Second)},
		{out: MediaData{Sample: demux.Sample{PayloadType: 111, Timestamp: 960, Data: []byte{0xfc}, Contiguous: true}}},
		{out: MediaData{Sample: demux.Sample{PayloadType: 102, Data: slice, Contiguous: true}}},
		{out: MediaData{Sample: demux.Sample{PayloadType: 102, Data: keyframe, Contiguous: true}}, at: base.Add(5 * time.Second)},
		{out: MediaData{Sample: demux.Sample{PayloadType: 102, Data: slice, Contiguous: true}}, at: base.Add(6 * time.Second)},
		{out: MediaData{Sample: demux.Sample{PayloadType: 102, Data: keyframe, Contiguous: true}}, at: base.Add(7 * time.Second)},
		{out: ConnectivityChange{State: ConnectivityDisconnected}, at: base.Add(9 * time.Second)},
	}}
	bus := lifecycle.NewBus(10)
	s, id, dir := newTestSession(t, engine, listen(t), bus)

	require.NoError(t, s.Run(context.Background()))
	assert.True(t, engine.closed)

	events := drain(bus)
	require.Len(t, events, 3)

	assert.Equal(t, lifecycle.Created, events[0].Kind)
	assert.Equal(t, base.Add(1*time.Second), events[0].Timestamp)

	assert.Equal(t, lifecycle.Recording, events[1].Kind)
	assert.Equal(t, base.Add(5*time.Second), events[1].Timestamp)

	assert.Equal(t, lifecycle.Completed, events[2].Kind)
	assert.Equal(t, base.Add(5*time.Second), events[2].Timestamp)
	assert.Equal(t, 3*time.Second, events[2].AudioOffset)

	for _, e := range events {
		assert.Equal(t, id.RecordingID, e.RecordingID)
		assert.Equal(t, "player-1", e.PlayerID)
		assert.Equal(t, "acct-1", e.AccountID)
	}

	paths := recordings.PathsFor(dir, id.RecordingID)
	h264, err := os.ReadFile(paths.H264)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(h264, keyframe))
	assert.Equal(t, len(keyframe)*2+len(slice), len(h264))

	opus, err := os.ReadFile(paths.Opus)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(opus, []byte("OggS")))
}

type sizeRecorder struct {
	paths recordings.Paths
	opus  int64
	h264  int64
	kinds []lifecycle.Kind
}

func (r *sizeRecorder) Publish(_ context.Context, e lifecycle.Event) error {
	r.kinds = append(r.kinds, e.Kind)
	if e.Kind != lifecycle.Completed {
		return nil
	}
	for path, size := range map[string]*int64{r.paths.Opus: &r.opus, r.paths.H264: &r.h264} {
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		*size = info.Size()
	}
	return nil
}

func TestSessionFlushesFilesBeforeCompleted(t *testing.T) {
	keyframe := []byte{0, 0, 0, 1, 0x67, 0x42, 0xc0, 0x1f}
	engine := &fakeEngine{steps: []step{
		{out: ConnectivityChange{State: ConnectivityConnected}},
		{out: MediaAdded{Kind: demux.KindVideo}},
		{out: MediaData{Sample: demux.Sample{PayloadType: 102, Data: keyframe, Contiguous: true}}},
		{out: MediaData{Sample: demux.Sample{PayloadType: 111, Timestamp: 960, Data: []byte{0xfc}, Contiguous: true}}},
		{out: ConnectivityChange{State: ConnectivityDisconnected}},
	}}
	dir := t.TempDir()
	id := Identity{RecordingID: uuid.New(), PlayerID: "player-1", AccountID: "acct-1"}
	paths := recordings.PathsFor(dir, id.RecordingID)
	rec := &sizeRecorder{paths: paths}
	s := NewSession(id, Config{TmpDir: dir, Demux: demux.DefaultConfig()}, engine, listen(t), rec, zap.NewNop())

	require.NoError(t, s.Run(context.Background()))
	require.Contains(t, rec.kinds, lifecycle.Completed)

	opus, err := os.Stat(paths.Opus)
	require.NoError(t, err)
	h264, err := os.Stat(paths.H264)
	require.NoError(t, err)

	assert.Equal(t, int64(len(keyframe)), h264.Size())
	assert.Equal(t, h264.Size(), rec.h264)
	assert.Positive(t, rec.opus)
	assert.Equal(t, opus.Size(), rec.opus)
}

func TestSessionWithoutConnectionPublishesNothing(t *testing.T) {
	engine := &fakeEngine{steps: []step{
		{out: ConnectivityChange{State: ConnectivityChecking}},
		{out: ConnectivityChange{State: ConnectivityDisconnected}},
	}}
	bus := lifecycle.NewBus(10)
	s, id, dir := newTestSession(t, engine, listen(t), bus)

	require.NoError(t, s.Run(context.Background()))
	assert.True(t, engine.closed)
	assert.Empty(t, drain(bus))

	_, err := os.Stat(recordings.PathsFor(dir, id.RecordingID).H264)
	assert.NoError(t, err)
}

func TestSessionWithoutKeyframeUsesStartTime(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	clock := &fakeClock{t: base}
	engine := &fakeEngine{clock: clock, steps: []step{
		{out: ConnectivityChange{State: ConnectivityConnected}, at: base.Add(time.Second)},
		{out: ConnectivityChange{State: ConnectivityDisconnected}, at: base.Add(2 * time.Second)},
	}}
	bus := lifecycle.NewBus(10)
	s, _, _ := newTestSession(t, engine, listen(t), bus)

	require.NoError(t, s.Run(context.Background()))

	events := drain(bus)
	require.Len(t, events, 2)
	assert.Equal(t, lifecycle.Completed, events[1].Kind)
	assert.Equal(t, base, events[1].Timestamp)
	assert.Zero(t, events[1].AudioOffset)
}

func TestSessionDeliversDatagramsAndTimeouts(t *testing.T) {
	conn := listen(t)
	peer := listen(t)
	defer peer.Close()

	_, err := peer.WriteTo([]byte("stun binding"), conn.LocalAddr())
	require.NoError(t, err)

	engine := &fakeEngine{steps: []step{
		{out: Timeout{Deadline: time.Now().Add(2 * time.Second)}},
		{out: Timeout{Deadline: time.Now().Add(-time.Second)}},
		{out: Transmit{Destination: peer.LocalAddr(), Contents: []byte("stun response")}},
	}}
	s, _, _ := newTestSession(t, engine, conn, lifecycle.NewBus(10))

	require.NoError(t, s.Run(context.Background()))

	require.Len(t, engine.inputs, 2)
	recv, ok := engine.inputs[0].(Receive)
	require.True(t, ok)
	assert.Equal(t, []byte("stun binding"), recv.Contents)
	assert.Equal(t, peer.LocalAddr().String(), recv.Source.String())
	assert.Equal(t, conn.LocalAddr().String(), recv.Destination.String())
	_, ok = engine.inputs[1].(TimeoutInput)
	assert.True(t, ok)

	buf := make([]byte, 64)
	require.NoError(t, peer.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := peer.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, "stun response", string(buf[:n]))
}

func TestSessionSocketTimeoutBecomesTimeoutInput(t *testing.T) {
	engine := &fakeEngine{steps: []step{
		{out: Timeout{Deadline: time.Now().Add(10 * time.Millisecond)}},
	}}
	s, _, _ := newTestSession(t, engine, listen(t), lifecycle.NewBus(10))

	require.NoError(t, s.Run(context.Background()))
	require.Len(t, engine.inputs, 1)
	_, ok := engine.inputs[0].(TimeoutInput)
	assert.True(t, ok)
}

func TestSessionPollErrorIsFatal(t *testing.T) {
	engine := &fakeEngine{steps: []step{
		{out: ConnectivityChange{State: ConnectivityConnected}},
		{err: errors.New("dtls alert")},
	}}
	bus := lifecycle.NewBus(10)
	s, id, dir := newTestSession(t, engine, listen(t), bus)

	err := s.Run(context.Background())
	assert.ErrorIs(t, err, ErrTransport)
	assert.True(t, engine.closed)

	events := drain(bus)
	require.Len(t, events, 1)
	assert.Equal(t, lifecycle.Created, events[0].Kind)

	_, statErr := os.Stat(recordings.PathsFor(dir, id.RecordingID).Opus)
	assert.NoError(t, statErr)
}

type brokenConn struct {
	net.PacketConn
}

func (c brokenConn) ReadFrom([]byte) (int, net.Addr, error) {
	return 0, nil, errors.New("connection reset")
}

func TestSessionReceiveErrorIsFatal(t *testing.T) {
	engine := &fakeEngine{steps: []step{
		{out: Timeout{Deadline: time.Now().Add(time.Minute)}},
	}}
	s, _, _ := newTestSession(t, engine, brokenConn{PacketConn: listen(t)}, lifecycle.NewBus(10))

	err := s.Run(context.Background())
	assert.ErrorIs(t, err, ErrTransport)
	assert.Empty(t, engine.inputs)
	assert.True(t, engine.closed)
}

func TestSessionSendErrorIsFatal(t *testing.T) {
	conn := listen(t)
	engine := &fakeEngine{steps: []step{
		{out: Transmit{Destination: &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9}, Contents: []byte("x")}},
	}}
	s, _, _ := newTestSession(t, engine, conn, lifecycle.NewBus(10))
	require.NoError(t, conn.Close())

	assert.ErrorIs(t, s.Run(context.Background()), ErrTransport)
}

func TestSessionStopsOnCancel(t *testing.T) {
	engine := &fakeEngine{steps: []step{
		{out: ConnectivityChange{State: ConnectivityConnected}},
	}}
	s, _, _ := newTestSession(t, engine, listen(t), lifecycle.NewBus(10))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Run(ctx), context.Canceled)
	assert.True(t, engine.closed)
}

func TestNegotiate(t *testing.T) {
	engine := &fakeEngine{}
	s, _, _ := newTestSession(t, engine, listen(t), lifecycle.NewBus(1))

	host := Candidate{Type: CandidateHost, Addr: &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 5000}}
	answer, err := s.Negotiate("v=0 offer", []Candidate{host})
	require.NoError(t, err)
	assert.Equal(t, "v=0 answer", answer)
	assert.Equal(t, "v=0 offer", engine.offer)
	assert.Equal(t, []Candidate{host}, engine.candidates)

	engine.acceptErr = errors.New("no media")
	_, err = s.Negotiate("v=0 offer", nil)
	assert.ErrorIs(t, err, ErrNegotiation)
}
