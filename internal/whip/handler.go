// Package whip accepts WebRTC offers over HTTP and starts a capture session for each.
package whip

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/getrec/recorder/internal/capture"
	"github.com/getrec/recorder/internal/middleware"
	"github.com/getrec/recorder/internal/netaddr"
	"github.com/getrec/recorder/pkg/response"
)

// ErrInvalidOffer is returned for a request body that is not an SDP offer.
var ErrInvalidOffer = errors.New("invalid SDP offer")

const (
	// ContentTypeSDP is the media type of offers and answers.
	ContentTypeSDP = "application/sdp"
	maxOfferSize   = 64 << 10
)

// Config holds the addressing and per-session settings of new sessions.
// HostIP overrides host address discovery when set. STUNServer is queried for
// a server-reflexive candidate; empty disables the query.
type Config struct {
	HostIP      string
	ExcludedIPs []string
	STUNServer  string
	STUNTimeout time.Duration
	Session     capture.Config
}

// ListenFunc binds the UDP socket of a session.
type ListenFunc func(network, address string) (net.PacketConn, error)

// Handler serves WHIP offers.
type Handler struct {
	cfg       Config
	newEngine func() capture.Engine
	events    capture.EventPublisher
	listen    ListenFunc
	baseCtx   context.Context
	sessions  sync.WaitGroup
	logger    *zap.Logger
}

// NewHandler creates a WHIP handler. Sessions run until they disconnect or
// ctx is cancelled.
func NewHandler(ctx context.Context, cfg Config, newEngine func() capture.Engine, events capture.EventPublisher, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		cfg:       cfg,
		newEngine: newEngine,
		events:    events,
		listen:    net.ListenPacket,
		baseCtx:   ctx,
		logger:    logger,
	}
}

// SetListen replaces the socket constructor.
func (h *Handler) SetListen(fn ListenFunc) { h.listen = fn }

// Wait blocks until every running session has returned.
func (h *Handler) Wait() { h.sessions.Wait() }

// ParseOffer checks that body looks like an SDP session description.
func ParseOffer(body []byte) (string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return "", fmt.Errorf("%w: empty body", ErrInvalidOffer)
	}
	if !bytes.HasPrefix(trimmed, []byte("v=")) {
		return "", fmt.Errorf("%w: missing version line", ErrInvalidOffer)
	}
	return string(body), nil
}

// Offer handles POST /v1/:account_id. The body is the SDP offer and the
// response body is the SDP answer.
func (h *Handler) Offer(c *gin.Context) {
	accountID := c.Param("account_id")
	playerID := c.GetString(middleware.ContextPlayerID)

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxOfferSize))
	if err != nil {
		response.BadRequest(c, "failed to read offer")
		return
	}
	offer, err := ParseOffer(body)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	id := capture.Identity{RecordingID: uuid.New(), PlayerID: playerID, AccountID: accountID}
	log := h.logger.With(
		zap.String("recording_id", id.RecordingID.String()),
		zap.String("player_id", playerID),
		zap.String("account_id", accountID),
	)

	conn, candidates, err := h.bind(log)
	if err != nil {
		log.Error("bind session socket", zap.Error(err))
		response.Internal(c, "failed to allocate media socket")
		return
	}

	session := capture.NewSession(id, h.cfg.Session, h.newEngine(), conn, h.events, h.logger)
	answer, err := session.Negotiate(offer, candidates)
	if err != nil {
		session.Abort()
		log.Warn("negotiation failed", zap.Error(err))
		response.BadRequest(c, "failed to negotiate session")
		return
	}

	h.sessions.Add(1)
	go func() {
		defer h.sessions.Done()
		if err := session.Run(h.baseCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("session ended with error", zap.Error(err))
			return
		}
		log.Info("session ended")
	}()

	log.Info("session started", zap.Int("candidates", len(candidates)))
	c.Header("Location", "/")
	c.Data(http.StatusCreated, ContentTypeSDP, []byte(answer))
}

// bind opens the session socket on the host address and collects its candidates.
func (h *Handler) bind(log *zap.Logger) (net.PacketConn, []capture.Candidate, error) {
	host, err := netaddr.ResolveHostAddress(h.cfg.HostIP, h.cfg.ExcludedIPs)
	if err != nil {
		return nil, nil, err
	}
	conn, err := h.listen("udp4", net.JoinHostPort(host.String(), "0"))
	if err != nil {
		return nil, nil, fmt.Errorf("listen on %s: %w", host, err)
	}
	local, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("unexpected local address %s", conn.LocalAddr())
	}
	candidates := []capture.Candidate{{Type: capture.CandidateHost, Addr: local}}

	if h.cfg.STUNServer == "" {
		return conn, candidates, nil
	}
	external, err := netaddr.QueryExternalAddress(conn, h.cfg.STUNServer, h.cfg.STUNTimeout)
	if err != nil {
		log.Warn("stun query failed, using host candidate only", zap.String("server", h.cfg.STUNServer), zap.Error(err))
		return conn, candidates, nil
	}
	if external.IP.Equal(local.IP) && external.Port == local.Port {
		return conn, candidates, nil
	}
	log.Debug("server reflexive address", zap.Stringer("addr", external))
	candidates = append(candidates, capture.Candidate{Type: capture.CandidateServerReflexive, Addr: external, Base: local})
	return conn, candidates, nil
}
