package capture

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/getrec/recorder/internal/demux"
	"github.com/getrec/recorder/internal/lifecycle"
	"github.com/getrec/recorder/internal/recordings"
)

// receiveBufferSize fits any datagram on a standard MTU path.
const receiveBufferSize = 2000

// EventPublisher accepts lifecycle events. *lifecycle.Bus implements it.
type EventPublisher interface {
	Publish(ctx context.Context, e lifecycle.Event) error
}

// Identity names the recording a session produces.
type Identity struct {
	RecordingID uuid.UUID
	PlayerID    string
	AccountID   string
}

// Config holds per-session settings.
type Config struct {
	TmpDir string
	Demux  demux.Config
}

// Session owns one engine and one socket for the lifetime of a recording.
type Session struct {
	id     Identity
	cfg    Config
	engine Engine
	conn   net.PacketConn
	events EventPublisher
	now    func() time.Time
	logger *zap.Logger
}

// NewSession creates a session. The session takes ownership of engine and conn
// and closes both when Run returns.
func NewSession(id Identity, cfg Config, engine Engine, conn net.PacketConn, events EventPublisher, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		id:     id,
		cfg:    cfg,
		engine: engine,
		conn:   conn,
		events: events,
		now:    time.Now,
		logger: logger.With(
			zap.String("recording_id", id.RecordingID.String()),
			zap.String("player_id", id.PlayerID),
			zap.String("account_id", id.AccountID),
		),
	}
}

// SetClock replaces the time source used for lifecycle timestamps.
func (s *Session) SetClock(now func() time.Time) {
	s.now = now
}

// Negotiate registers the local candidates and answers the offer.
func (s *Session) Negotiate(offer string, candidates []Candidate) (string, error) {
	for _, c := range candidates {
		if err := s.engine.AddLocalCandidate(c); err != nil {
			return "", fmt.Errorf("%w: add %s candidate %s: %w", ErrNegotiation, c.Type, c.Addr, err)
		}
		s.logger.Debug("local candidate added", zap.Stringer("type", c.Type), zap.Stringer("addr", c.Addr))
	}
	answer, err := s.engine.AcceptOffer(offer)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNegotiation, err)
	}
	return answer, nil
}

// Abort releases the engine and socket of a session that will never run.
func (s *Session) Abort() {
	if err := s.engine.Close(); err != nil {
		s.logger.Warn("close engine", zap.Error(err))
	}
	_ = s.conn.Close()
}

// Run drives the session until the transport disconnects, a transport error
// occurs or ctx is cancelled.
func (s *Session) Run(ctx context.Context) (err error) {
	defer s.Abort()

	paths := recordings.PathsFor(s.cfg.TmpDir, s.id.RecordingID)
	audio, err := createSink(paths.Opus)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, audio.Close()) }()
	video, err := createSink(paths.H264)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, video.Close()) }()

	started := s.now()
	var addedAt time.Time
	hasTrack := false
	connected := false

	d := demux.New(s.cfg.Demux, audio, video, func(at time.Time) {
		s.publish(ctx, lifecycle.Event{Kind: lifecycle.Recording, Timestamp: at})
	})
	d.SetClock(s.now)
	if err := d.WriteHeaders(); err != nil {
		return err
	}

	buf := make([]byte, receiveBufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		out, err := s.engine.PollOutput()
		if err != nil {
			return fmt.Errorf("%w: poll: %w", ErrTransport, err)
		}

		switch o := out.(type) {
		case Timeout:
			if err := s.wait(o.Deadline, buf); err != nil {
				return err
			}
		case Transmit:
			if _, err := s.conn.WriteTo(o.Contents, o.Destination); err != nil {
				return fmt.Errorf("%w: send to %s: %w", ErrTransport, o.Destination, err)
			}
		case ConnectivityChange:
			s.logger.Info("connectivity changed", zap.Stringer("state", o.State))
			switch o.State {
			case ConnectivityConnected:
				if !connected {
					connected = true
					s.publish(ctx, lifecycle.Event{Kind: lifecycle.Created, Timestamp: s.now()})
				}
			case ConnectivityDisconnected:
				if err := errors.Join(audio.Close(), video.Close()); err != nil {
					return err
				}
				if !connected {
					s.logger.Info("session ended before connecting")
					return nil
				}
				keyframeAt := started
				if at, ok := d.KeyframeAt(); ok {
					keyframeAt = at
				}
				if !hasTrack {
					addedAt = started
				}
				s.publish(ctx, lifecycle.Event{
					Kind:        lifecycle.Completed,
					Timestamp:   keyframeAt,
					AudioOffset: keyframeAt.Sub(addedAt),
				})
				return nil
			}
		case MediaAdded:
			if !hasTrack {
				hasTrack = true
				addedAt = s.now()
			}
			s.logger.Info("media added", zap.Stringer("kind", o.Kind))
		case MediaData:
			if err := d.Push(o.Sample); err != nil {
				return fmt.Errorf("demux: %w", err)
			}
		default:
			s.logger.Debug("ignoring engine output", zap.String("type", fmt.Sprintf("%T", out)))
		}
	}
}

// wait blocks on the socket until deadline and hands the result to the engine.
func (s *Session) wait(deadline time.Time, buf []byte) error {
	timeout := time.Until(deadline)
	if timeout <= 0 {
		return s.handle(TimeoutInput{At: time.Now()})
	}
	if err := s.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("%w: set read deadline: %w", ErrTransport, err)
	}
	n, src, err := s.conn.ReadFrom(buf)
	if err != nil {
		if isTimeout(err) {
			return s.handle(TimeoutInput{At: time.Now()})
		}
		return fmt.Errorf("%w: receive: %w", ErrTransport, err)
	}
	contents := make([]byte, n)
	copy(contents, buf[:n])
	return s.handle(Receive{
		At:          time.Now(),
		Source:      src,
		Destination: s.conn.LocalAddr(),
		Contents:    contents,
	})
}

func (s *Session) handle(in Input) error {
	if err := s.engine.HandleInput(in); err != nil {
		return fmt.Errorf("%w: handle input: %w", ErrTransport, err)
	}
	return nil
}

func (s *Session) publish(ctx context.Context, e lifecycle.Event) {
	e.RecordingID = s.id.RecordingID
	e.PlayerID = s.id.PlayerID
	e.AccountID = s.id.AccountID
	s.logger.Info(e.Kind.String(), zap.Time("ts", e.Timestamp))
	if err := s.events.Publish(ctx, e); err != nil {
		s.logger.Error("publish lifecycle event", zap.Stringer("kind", e.Kind), zap.Error(err))
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK)
}
