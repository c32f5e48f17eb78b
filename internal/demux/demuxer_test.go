package demux

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getrec/recorder/internal/ogg"
)

var (
	keyframeA = []byte{0, 0, 0, 1, 0x67, 0x42, 0xc0, 0x1f, 0xaa}
	keyframeB = []byte{0, 0, 0, 1, 0x67, 0x42, 0xc0, 0x1f, 0xbb}
	sliceP1   = []byte{0, 0, 0, 1, 0x41, 0x9a, 0x00, 0x01}
	sliceP2   = []byte{0, 0, 0, 1, 0x41, 0x9a, 0x00, 0x02}
)

func splitPages(t *testing.T, stream []byte) []ogg.Page {
	t.Helper()
	var pages []ogg.Page
	for len(stream) > 0 {
		require.GreaterOrEqual(t, len(stream), 27)
		n := 27 + int(stream[26])
		for _, l := range stream[27:n] {
			n += int(l)
		}
		page := stream[:n]
		require.True(t, ogg.Verify(page), "page %d checksum", len(pages))
		hdr, _, err := ogg.Decode(page)
		require.NoError(t, err)
		pages = append(pages, hdr)
		stream = stream[n:]
	}
	return pages
}

func audio(ts int64) Sample {
	return Sample{PayloadType: DefaultAudioPayloadType, Timestamp: ts, ClockRate: 48000, Data: []byte{0xfc, 0xff, 0xfe}, Contiguous: true}
}

func video(data []byte, contiguous bool) Sample {
	return Sample{PayloadType: 102, ClockRate: 90000, Data: data, Contiguous: contiguous}
}

func TestAudioGranulesAndSequence(t *testing.T) {
	var audioOut, videoOut bytes.Buffer
	d := New(DefaultConfig(), &audioOut, &videoOut, nil)
	require.NoError(t, d.WriteHeaders())

	for _, ts := range []int64{960, 1920, 2880} {
		require.NoError(t, d.Push(audio(ts)))
	}

	pages := splitPages(t, audioOut.Bytes())
	require.Len(t, pages, 5)

	assert.Equal(t, ogg.HeaderTypeBeginningOfStream, pages[0].HeaderType)
	assert.Equal(t, ogg.HeaderTypeContinuationOfStream, pages[1].HeaderType)
	for i, p := range pages {
		assert.Equal(t, uint32(i), p.Sequence)
		if i >= 2 {
			assert.Equal(t, ogg.HeaderTypeContinuationOfStream, p.HeaderType)
		}
	}
	assert.Equal(t, uint64(1), pages[2].Granule)
	assert.Equal(t, uint64(961), pages[3].Granule)
	assert.Equal(t, uint64(1921), pages[4].Granule)
	assert.Zero(t, videoOut.Len())
}

func TestAudioGranuleNeverDecreases(t *testing.T) {
	var audioOut bytes.Buffer
	d := New(DefaultConfig(), &audioOut, &bytes.Buffer{}, nil)
	require.NoError(t, d.WriteHeaders())

	for _, ts := range []int64{960, 1920, 1920, 1000, 2000} {
		require.NoError(t, d.Push(audio(ts)))
	}

	pages := splitPages(t, audioOut.Bytes())
	var last uint64
	for _, p := range pages[2:] {
		assert.GreaterOrEqual(t, p.Granule, last)
		last = p.Granule
	}
	assert.Equal(t, uint64(1+960+1000), last)
}

func TestVideoDropsUntilKeyframe(t *testing.T) {
	var videoOut bytes.Buffer
	var calls int
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	d := New(DefaultConfig(), &bytes.Buffer{}, &videoOut, func(got time.Time) {
		calls++
		assert.Equal(t, at, got)
	})
	d.SetClock(func() time.Time { return at })

	require.NoError(t, d.Push(video(sliceP1, true)))
	require.NoError(t, d.Push(video(sliceP2, true)))
	_, ok := d.KeyframeAt()
	assert.False(t, ok)
	assert.Zero(t, videoOut.Len())

	require.NoError(t, d.Push(video(keyframeA, true)))
	require.NoError(t, d.Push(video(sliceP1, true)))
	require.NoError(t, d.Push(video(keyframeB, true)))

	assert.Equal(t, 1, calls)
	got, ok := d.KeyframeAt()
	assert.True(t, ok)
	assert.Equal(t, at, got)

	want := append(append(append([]byte{}, keyframeA...), sliceP1...), keyframeB...)
	assert.Equal(t, want, videoOut.Bytes())
}

func TestVideoReinsertsKeyframeAfterGap(t *testing.T) {
	var videoOut bytes.Buffer
	d := New(DefaultConfig(), &bytes.Buffer{}, &videoOut, nil)

	require.NoError(t, d.Push(video(keyframeA, true)))
	require.NoError(t, d.Push(video(sliceP1, true)))
	require.NoError(t, d.Push(video(keyframeB, true)))
	require.NoError(t, d.Push(video(sliceP2, false)))

	var want []byte
	for _, b := range [][]byte{keyframeA, sliceP1, keyframeB, keyframeB, sliceP2} {
		want = append(want, b...)
	}
	assert.Equal(t, want, videoOut.Bytes())
}

func TestVideoNonContiguousKeyframeWrittenOnce(t *testing.T) {
	var videoOut bytes.Buffer
	d := New(DefaultConfig(), &bytes.Buffer{}, &videoOut, nil)

	require.NoError(t, d.Push(video(keyframeA, false)))
	assert.Equal(t, keyframeA, videoOut.Bytes())
}

func TestCustomAudioPayloadType(t *testing.T) {
	var audioOut, videoOut bytes.Buffer
	cfg := DefaultConfig()
	cfg.AudioPayloadType = 109
	d := New(cfg, &audioOut, &videoOut, nil)

	require.NoError(t, d.Push(Sample{PayloadType: 109, Timestamp: 960, Data: []byte{1}}))
	require.NoError(t, d.Push(Sample{PayloadType: 111, Data: keyframeA, Contiguous: true}))

	assert.NotZero(t, audioOut.Len())
	assert.Equal(t, keyframeA, videoOut.Bytes())
}
