package rtc

import (
	"fmt"

	"github.com/pion/webrtc/v3"
)

// Only H264 and Opus are negotiated: the recording is packaged with codec copy.
var (
	opusCodec = webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}

	videoFeedback = []webrtc.RTCPFeedback{
		{Type: "goog-remb"},
		{Type: "ccm", Parameter: "fir"},
		{Type: "nack"},
		{Type: "nack", Parameter: "pli"},
	}

	h264Codecs = []webrtc.RTPCodecParameters{
		h264(102, "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42001f"),
		h264(125, "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f"),
		h264(123, "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=640032"),
	}
)

func h264(pt webrtc.PayloadType, fmtp string) webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:     webrtc.MimeTypeH264,
			ClockRate:    90000,
			SDPFmtpLine:  fmtp,
			RTCPFeedback: videoFeedback,
		},
		PayloadType: pt,
	}
}

func registerCodecs(m *webrtc.MediaEngine) error {
	if err := m.RegisterCodec(opusCodec, webrtc.RTPCodecTypeAudio); err != nil {
		return fmt.Errorf("register opus: %w", err)
	}
	for _, c := range h264Codecs {
		if err := m.RegisterCodec(c, webrtc.RTPCodecTypeVideo); err != nil {
			return fmt.Errorf("register h264 %d: %w", c.PayloadType, err)
		}
	}
	return nil
}
