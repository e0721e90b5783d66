package hls

import "errors"

// Error kinds, matching the five failure categories the segmenter
// distinguishes when deciding policy (see ErrorPolicy in config.go).
var (
	// ErrConfigInvalid means a required directive is missing, unparseable,
	// or contradictory (e.g. fMP4 requested with no supported audio codec).
	// Fatal for the publish.
	ErrConfigInvalid = errors.New("hls: invalid configuration")

	// ErrIoTransient means open/write/rename/unlink of a segment or key
	// file failed. Handling is keyed off the configured error policy.
	ErrIoTransient = errors.New("hls: transient I/O failure")

	// ErrPlaylistWrite means the temp playlist rewrite or rename failed.
	// Always logged; never fatal, the previous playlist is retained.
	ErrPlaylistWrite = errors.New("hls: playlist write failed")

	// ErrCryptoRng means key material generation failed. Fatal for the
	// current segment; subsequent segment opens retry.
	ErrCryptoRng = errors.New("hls: key material generation failed")

	// ErrProtocolViolation means a caller violated the monotonic-DTS
	// invariant, or otherwise misused the component API.
	ErrProtocolViolation = errors.New("hls: protocol violation")

	// ErrFault means the stream has entered fault state and will not
	// accept further packets until an unpublish/publish cycle.
	ErrFault = errors.New("hls: stream is in fault state")
)
