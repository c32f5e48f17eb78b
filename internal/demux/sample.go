// Package demux splits a session's media samples into an Ogg/Opus stream and a
// raw Annex-B H264 stream.
package demux

// Kind is the media kind of a sample.
type Kind int

const (
	KindAudio Kind = iota
	KindVideo
)

func (k Kind) String() string {
	if k == KindAudio {
		return "audio"
	}
	return "video"
}

// Sample is one depacketized media frame.
type Sample struct {
	PayloadType uint8
	// Timestamp is in codec clock units, unwrapped and non-decreasing per track.
	Timestamp int64
	ClockRate uint32
	Data      []byte
	// Contiguous is false when packets were lost between this sample and the previous one.
	Contiguous bool
}

const (
	// DefaultAudioPayloadType is the Opus payload type browsers negotiate.
	DefaultAudioPayloadType uint8 = 111

	// OffsetAnnexB is where the first NAL header word starts when the sample
	// begins with a 4-byte start code (whip-go, browsers).
	OffsetAnnexB = 4
	// OffsetAccessUnitDelimiter is where it starts when an AUD NAL comes first (OBS).
	OffsetAccessUnitDelimiter = 10
)

// Config controls sample classification and keyframe detection.
type Config struct {
	AudioPayloadType uint8
	KeyframeOffsets  []int
}

// DefaultConfig returns the classification used by browser and OBS publishers.
func DefaultConfig() Config {
	return Config{
		AudioPayloadType: DefaultAudioPayloadType,
		KeyframeOffsets:  []int{OffsetAnnexB, OffsetAccessUnitDelimiter},
	}
}

// Classify maps a payload type to a media kind. Only the configured audio
// payload type is audio.
func (c Config) Classify(payloadType uint8) Kind {
	if payloadType == c.AudioPayloadType {
		return KindAudio
	}
	return KindVideo
}
