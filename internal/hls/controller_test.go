package hls

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestController(t *testing.T, useFMP4 bool) *Controller {
	t.Helper()
	dir := t.TempDir()

	cfg := Config{
		Enabled:          true,
		FragmentDuration: 2 * time.Second,
		WindowDuration:   20 * time.Second,
		TDRatio:          1.5,
		AOFRatio:         3.0,
		Path:             dir,
		TSFile:           "seg-[seq].ts",
		FMP4File:         "seg-[seq].m4s",
		InitFile:         "init.mp4",
		UseFMP4:          useFMP4,
		WaitKeyframe:     true,
		OnError:          ErrorPolicyContinue,
	}

	window := NewWindow(nil)
	cache := NewMessageCache()
	policy, err := NewMuxerPolicy(int64(cfg.FragmentDuration/ticksUnit), cfg.TDRatio, cfg.AOFRatio, false, 0, window, 8, nil)
	require.NoError(t, err)

	return NewController(cfg, "", "live", "cam1", window, cache, policy, nil, nil)
}

func TestControllerWaitsForKeyframeBeforeOpeningSegment(t *testing.T) {
	c := newTestController(t, false)
	c.videoCodec = VideoCodecAVC
	c.audioCodec = AudioCodecAAC

	err := c.WriteVideo(&Packet{Kind: PacketVideo, DTS: 0, PTS: 0, FrameType: FrameTypeInter, Data: []byte{0, 0, 0, 1, 0x41}})
	require.NoError(t, err)
	assert.Nil(t, c.cur, "non-keyframe must not open a segment while wait_keyframe is set")

	err = c.WriteVideo(&Packet{Kind: PacketVideo, DTS: 90000, PTS: 90000, FrameType: FrameTypeKey, Data: []byte{0, 0, 0, 1, 0x65}})
	require.NoError(t, err)
	assert.NotNil(t, c.cur)
}

func TestControllerReapsAndWritesTSFile(t *testing.T) {
	c := newTestController(t, false)
	c.videoCodec = VideoCodecAVC
	c.audioCodec = AudioCodecAAC

	require.NoError(t, c.WriteVideo(&Packet{Kind: PacketVideo, DTS: 0, PTS: 0, FrameType: FrameTypeKey, Data: []byte{0, 0, 0, 1, 0x65, 1, 2, 3}}))
	require.NoError(t, c.WriteVideo(&Packet{Kind: PacketVideo, DTS: int64(7 * 90000), PTS: int64(7 * 90000), FrameType: FrameTypeKey, Data: []byte{0, 0, 0, 1, 0x65, 1, 2, 3}}))

	assert.True(t, c.ShouldReap(), "7s duration against a 2s fragment should overflow")

	seg, err := c.Reap()
	require.NoError(t, err)
	require.NotNil(t, seg)
	assert.True(t, seg.Closed)
	assert.FileExists(t, seg.Path)

	data, err := os.ReadFile(seg.Path)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
	assert.Equal(t, 1, c.window.Size())
}

func TestControllerKeyRotationWritesTSKey(t *testing.T) {
	c := newTestController(t, false)
	c.cfg.KeysEnabled = true
	c.cfg.KeyFile = "[seq].key"
	c.keys = NewKeyRotator(0, filepath.Join(c.cfg.Path, "keys"), "[seq].key", 16)
	c.videoCodec = VideoCodecAVC

	require.NoError(t, c.WriteVideo(&Packet{Kind: PacketVideo, DTS: 0, PTS: 0, FrameType: FrameTypeKey, Data: []byte{0, 0, 0, 1, 0x65}}))
	require.NotNil(t, c.cur.TS)
}
