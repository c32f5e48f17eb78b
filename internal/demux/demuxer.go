package demux

import (
	"fmt"
	"io"
	"time"

	"github.com/getrec/recorder/internal/ogg"
)

// granuleBaseline is the granule position of the first audio data page.
const granuleBaseline = 1

type audioTrack struct {
	prevTimestamp int64
	hasPrev       bool
	granule       uint64
	sequence      uint32
}

type videoTrack struct {
	hasKeyframe bool
	keyframe    []byte
	keyframeAt  time.Time
}

// Demuxer writes audio samples as Ogg pages and video samples as an Annex-B
// byte stream. It is not safe for concurrent use; each session owns one.
type Demuxer struct {
	cfg   Config
	audio io.Writer
	video io.Writer
	now   func() time.Time

	onFirstKeyframe func(at time.Time)

	audioState audioTrack
	videoState videoTrack
}

// New returns a demuxer writing to the given streams. onFirstKeyframe is called
// once, with the moment the first keyframe arrived.
func New(cfg Config, audio, video io.Writer, onFirstKeyframe func(at time.Time)) *Demuxer {
	if len(cfg.KeyframeOffsets) == 0 {
		cfg.KeyframeOffsets = DefaultConfig().KeyframeOffsets
	}
	return &Demuxer{
		cfg:             cfg,
		audio:           audio,
		video:           video,
		now:             time.Now,
		onFirstKeyframe: onFirstKeyframe,
		audioState:      audioTrack{granule: granuleBaseline},
	}
}

// SetClock replaces the time source used to stamp the first keyframe.
func (d *Demuxer) SetClock(now func() time.Time) {
	d.now = now
}

// WriteHeaders writes the Opus identification and comment pages. It must be
// called once before the first Push.
func (d *Demuxer) WriteHeaders() error {
	id, err := ogg.IdentificationPage(d.audioState.sequence)
	if err != nil {
		return fmt.Errorf("encode identification page: %w", err)
	}
	if _, err := d.audio.Write(id); err != nil {
		return fmt.Errorf("write identification page: %w", err)
	}
	d.audioState.sequence++

	comment, err := ogg.CommentPage(d.audioState.sequence)
	if err != nil {
		return fmt.Errorf("encode comment page: %w", err)
	}
	if _, err := d.audio.Write(comment); err != nil {
		return fmt.Errorf("write comment page: %w", err)
	}
	d.audioState.sequence++
	return nil
}

// Push routes one sample to its stream.
func (d *Demuxer) Push(s Sample) error {
	if d.cfg.Classify(s.PayloadType) == KindAudio {
		return d.pushAudio(s)
	}
	return d.pushVideo(s)
}

// KeyframeAt returns when the first keyframe arrived.
func (d *Demuxer) KeyframeAt() (time.Time, bool) {
	return d.videoState.keyframeAt, d.videoState.hasKeyframe
}

func (d *Demuxer) pushAudio(s Sample) error {
	a := &d.audioState
	if a.hasPrev && s.Timestamp > a.prevTimestamp {
		a.granule += uint64(s.Timestamp - a.prevTimestamp)
	}
	a.prevTimestamp = s.Timestamp
	a.hasPrev = true

	page, err := ogg.DataPage(s.Data, a.granule, a.sequence)
	if err != nil {
		return fmt.Errorf("encode audio page %d: %w", a.sequence, err)
	}
	a.sequence++
	if _, err := d.audio.Write(page); err != nil {
		return fmt.Errorf("write audio page: %w", err)
	}
	return nil
}

func (d *Demuxer) pushVideo(s Sample) error {
	v := &d.videoState
	keyframe := d.cfg.IsKeyframe(s.Data)
	if keyframe {
		v.keyframe = append(v.keyframe[:0], s.Data...)
		if !v.hasKeyframe {
			v.hasKeyframe = true
			v.keyframeAt = d.now()
			if d.onFirstKeyframe != nil {
				d.onFirstKeyframe(v.keyframeAt)
			}
		}
	}
	if !v.hasKeyframe {
		return nil
	}

	// A gap leaves the decoder without a reference, so repeat the last keyframe.
	if !s.Contiguous && !keyframe {
		if _, err := d.video.Write(v.keyframe); err != nil {
			return fmt.Errorf("write cached keyframe: %w", err)
		}
	}
	if _, err := d.video.Write(s.Data); err != nil {
		return fmt.Errorf("write video sample: %w", err)
	}
	return nil
}
