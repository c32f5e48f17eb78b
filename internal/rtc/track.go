package rtc

import (
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media/samplebuilder"
	"go.uber.org/zap"

	"github.com/getrec/recorder/internal/capture"
	"github.com/getrec/recorder/internal/demux"
)

func (e *Engine) onTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	kind := demux.KindVideo
	if track.Kind() == webrtc.RTPCodecTypeAudio {
		kind = demux.KindAudio
	}
	e.logger.Info("track added",
		zap.Stringer("kind", kind),
		zap.String("codec", track.Codec().MimeType),
		zap.Uint8("payload_type", uint8(track.PayloadType())),
	)
	if !e.emit(capture.MediaAdded{Kind: kind}) {
		return
	}
	if !e.startReader(func() { e.readTrack(track, kind) }) {
		e.logger.Debug("engine closed, track not read", zap.Stringer("kind", kind))
	}
}

// readTrack depacketizes one track into samples until the track ends.
func (e *Engine) readTrack(track *webrtc.TrackRemote, kind demux.Kind) {
	var (
		depacketizer rtp.Depacketizer
		maxLate      uint16
	)
	if kind == demux.KindAudio {
		depacketizer, maxLate = &codecs.OpusPacket{}, e.cfg.AudioReorder
	} else {
		depacketizer, maxLate = &codecs.H264Packet{}, e.cfg.VideoReorder
		e.requestKeyframe(track)
	}
	clockRate := track.Codec().ClockRate
	payloadType := uint8(track.PayloadType())
	builder := samplebuilder.New(maxLate, depacketizer, clockRate)
	var ts timestampUnwrapper

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			e.logger.Debug("track ended", zap.Stringer("kind", kind), zap.Error(err))
			return
		}
		builder.Push(pkt)
		for s := builder.Pop(); s != nil; s = builder.Pop() {
			contiguous := s.PrevDroppedPackets == 0
			if !contiguous && kind == demux.KindVideo {
				e.requestKeyframe(track)
			}
			ok := e.emit(capture.MediaData{Sample: demux.Sample{
				PayloadType: payloadType,
				Timestamp:   ts.unwrap(s.PacketTimestamp),
				ClockRate:   clockRate,
				Data:        s.Data,
				Contiguous:  contiguous,
			}})
			if !ok {
				return
			}
		}
	}
}

// requestKeyframe asks the sender for a fresh keyframe.
func (e *Engine) requestKeyframe(track *webrtc.TrackRemote) {
	if e.pc == nil {
		return
	}
	err := e.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}})
	if err != nil {
		e.logger.Debug("send picture loss indication", zap.Error(err))
	}
}
