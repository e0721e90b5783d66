package hls

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mogiioin/hls-m3u8/m3u8"
)

// MuxerPolicy is the segment-boundary and playlist-refresh policy shared by
// both container profiles (C5). A concrete writer (TSWriter/fmp4 builder)
// handles the bytes; MuxerPolicy decides when a segment ends and keeps the
// rolling .m3u8 in sync with the fragment window.
type MuxerPolicy struct {
	Fragment        int64 // target fragment duration, 90kHz ticks
	TDRatio         float64
	AOFRatio        float64
	TSFloorEnabled  bool
	FloorReapPct    float64
	DeviationTicks  int64
	WaitKeyframe    bool

	Window *Window
	log    *slog.Logger

	playlist *m3u8.MediaPlaylist
}

// NewMuxerPolicy builds a policy bound to window, with a live sliding
// playlist sized to windowCapacity entries.
func NewMuxerPolicy(fragment int64, tdRatio, aofRatio float64, tsFloor bool, floorReapPct float64, window *Window, windowCapacity uint, log *slog.Logger) (*MuxerPolicy, error) {
	pl, err := m3u8.NewMediaPlaylist(windowCapacity, windowCapacity)
	if err != nil {
		return nil, fmt.Errorf("%w: new playlist: %v", ErrConfigInvalid, err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &MuxerPolicy{
		Fragment:       fragment,
		TDRatio:        tdRatio,
		AOFRatio:       aofRatio,
		TSFloorEnabled: tsFloor,
		FloorReapPct:   floorReapPct,
		Window:         window,
		log:            log,
		playlist:       pl,
	}, nil
}

// maxTargetDuration returns fragment * td_ratio.
func (m *MuxerPolicy) maxTargetDuration() int64 {
	return int64(float64(m.Fragment) * m.TDRatio)
}

// deviation returns the TS-floor smoothing term, zero when floor
// timestamping is disabled.
func (m *MuxerPolicy) deviation() int64 {
	if !m.TSFloorEnabled {
		return 0
	}
	return int64(m.FloorReapPct * float64(m.DeviationTicks) * float64(m.Fragment))
}

// IsSegmentOverflow implements: duration > 2*min_segment_duration AND
// duration >= max_td + deviation, where min_segment_duration is Fragment.
func (m *MuxerPolicy) IsSegmentOverflow(duration int64) bool {
	return duration > 2*m.Fragment && duration >= m.maxTargetDuration()+m.deviation()
}

// IsSegmentAbsolutelyOverflow implements the hard ceiling: duration >=
// aof_ratio * fragment, independent of the 2x-minimum guard.
func (m *MuxerPolicy) IsSegmentAbsolutelyOverflow(duration int64) bool {
	return duration >= int64(m.AOFRatio*float64(m.Fragment))
}

// AppendSegment enumerates seg in the live playlist, setting
// EXT-X-DISCONTINUITY and the per-segment EXT-X-KEY as needed.
func (m *MuxerPolicy) AppendSegment(seg *Segment) error {
	if err := m.playlist.AppendSegment(&m3u8.MediaSegment{
		SeqId:    seg.SequenceNo,
		URI:      seg.URI,
		Duration: seg.DurationSeconds(),
	}); err != nil {
		return fmt.Errorf("%w: append segment to playlist: %v", ErrPlaylistWrite, err)
	}

	// SetDiscontinuity and SetKey apply to the most recently appended segment.
	if seg.Discontinuity {
		if err := m.playlist.SetDiscontinuity(); err != nil {
			m.log.Warn("failed to set discontinuity tag", slog.String("error", err.Error()))
		}
	}

	if err := m.setSegmentKey(seg); err != nil {
		m.log.Warn("failed to set segment key tag", slog.String("error", err.Error()))
	}
	return nil
}

func (m *MuxerPolicy) setSegmentKey(seg *Segment) error {
	switch {
	case seg.TS != nil:
		return m.playlist.SetKey("AES-128", seg.KeyURI, ivHex(seg.TS.IV16[:]), "", "")
	case seg.FMP4 != nil:
		return m.playlist.SetKey("SAMPLE-AES", seg.KeyURI, ivHex(seg.FMP4.IV16[:]), "com.apple.streamingkeydelivery", "1")
	default:
		return nil
	}
}

// ivHex renders a key IV as the hex string EXT-X-KEY:IV expects, e.g.
// "0x9f086b..." for a 16-byte IV (32 hex characters).
func ivHex(iv []byte) string {
	return "0x" + hex.EncodeToString(iv)
}

// SetInitMap records the EXT-X-MAP for fMP4 playlists; call once after the
// init segment is written.
func (m *MuxerPolicy) SetInitMap(uri string) {
	m.playlist.SetDefaultMap(uri, 0, 0)
}

// Evict mirrors the fragment window's head-eviction into the playlist's own
// FIFO so EXT-X-MEDIA-SEQUENCE advances in lockstep.
func (m *MuxerPolicy) Evict() {
	if err := m.playlist.Remove(); err != nil {
		m.log.Debug("playlist remove: nothing to evict", slog.String("error", err.Error()))
	}
}

// RefreshM3U8 encodes the current playlist and atomically publishes it to
// path via write-temp-then-rename (C5: do_refresh_m3u8).
func (m *MuxerPolicy) RefreshM3U8(path string) error {
	buf := m.playlist.Encode()
	tmp := path + ".temp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("%w: write playlist temp: %v", ErrPlaylistWrite, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("%w: rename playlist: %v", ErrPlaylistWrite, err)
	}
	return nil
}

// Recover loads an existing .m3u8 from disk and replays its segments into a
// fresh MediaPlaylist, recovering EXT-X-MEDIA-SEQUENCE and discontinuity
// state across a process restart.
func Recover(path string, windowCapacity uint) (*m3u8.MediaPlaylist, uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("%w: read existing playlist: %v", ErrIoTransient, err)
	}

	parsed, listType, err := m3u8.Decode(*bytes.NewBuffer(data), false)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: decode existing playlist: %v", ErrPlaylistWrite, err)
	}
	if listType != m3u8.MEDIA {
		return nil, 0, fmt.Errorf("%w: %s is not a media playlist", ErrConfigInvalid, filepath.Base(path))
	}

	old := parsed.(*m3u8.MediaPlaylist)
	fresh, err := m3u8.NewMediaPlaylist(windowCapacity, windowCapacity)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}

	var lastSeq uint64
	for _, seg := range old.GetAllSegments() {
		if seg == nil {
			continue
		}
		if err := fresh.AppendSegment(seg); err != nil {
			continue
		}
		lastSeq = seg.SeqId
	}
	return fresh, lastSeq, nil
}
