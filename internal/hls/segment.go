package hls

import "time"

// Container identifies which profile a segment was written in.
type Container string

const (
	ContainerTS   Container = "ts"
	ContainerFMP4 Container = "fmp4"
)

// TSKey is the AES-128-CBC full-segment encryption state for a TS segment.
type TSKey struct {
	Key16 [16]byte
	IV16  [16]byte
}

// FMP4Key is the SAMPLE-AES (CBCS) encryption state for an fMP4 segment.
type FMP4Key struct {
	Kid16      [16]byte
	ConstantIV []byte // 8 or 16 bytes
	IV16       [16]byte
}

// Segment is both the unit of output and the unit of playlist enumeration.
// Its lifecycle is: created on segment_open, appended to during
// write_audio/write_video (the writer buffers the bytes in memory), and
// reaped (bytes written to TmpPath, renamed to Path, appended to window).
type Segment struct {
	SequenceNo uint64

	// Path is the final on-disk path; TmpPath is where the bytes are
	// written at reap before being atomically renamed to Path.
	Path    string
	TmpPath string

	// URI is playlist-relative: operator prefix (EntryPrefix) + the base
	// file name of Path; directory components are not included.
	URI string

	// Duration accumulates in 90 kHz ticks from per-sample DTS.
	Duration int64

	// StartDTS is the DTS (90 kHz) of the first sample in this segment.
	StartDTS int64

	Discontinuity bool

	Container Container
	TS        *TSKey
	FMP4      *FMP4Key

	// KeyURI is the EXT-X-KEY URI advertised for this segment, rendered
	// from hls_key_url (or derived from hls_key_file/hls_entry_prefix when
	// hls_key_url is unset). Empty when the segment is not encrypted.
	KeyURI string

	Closed bool

	CreatedAt time.Time
}

// DurationSeconds converts the 90 kHz tick duration to seconds.
func (s *Segment) DurationSeconds() float64 {
	return float64(s.Duration) / 90000.0
}

// UpdateDuration implements the muxer's update_duration operation:
// duration = max(duration, dts - start_dts).
func (s *Segment) UpdateDuration(dts int64) {
	if d := dts - s.StartDTS; d > s.Duration {
		s.Duration = d
	}
}
