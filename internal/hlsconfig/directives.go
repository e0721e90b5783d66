// Package hlsconfig defines the external directive-tree interface the HLS
// segmenter reads its configuration from, and a viper-backed implementation
// of it (C9).
package hlsconfig

import (
	"time"

	"github.com/riverstream/hlsd/internal/hls"
)

// Directives exposes one getter per hls.* directive named in the
// segmenter's configuration surface. Implementations may back onto a
// global config tree (vhost.conf-style) or a per-stream override layer;
// either way, values are re-read on every call so edits take effect
// without a restart.
type Directives interface {
	Enabled(vhost string) bool

	HLSFragment(vhost string) time.Duration
	HLSWindow(vhost string) time.Duration
	HLSTDRatio(vhost string) float64
	HLSAOFRatio(vhost string) float64

	HLSPath(vhost string) string
	HLSM3U8File(vhost string) string
	HLSTSFile(vhost string) string
	HLSFMP4File(vhost string) string
	HLSInitFile(vhost string) string
	HLSEntryPrefix(vhost string) string

	HLSUseFMP4(vhost string) bool
	HLSDTSDirectly(vhost string) bool
	HLSTSFloor(vhost string) bool
	HLSWaitKeyframe(vhost string) bool
	HLSCleanup(vhost string) bool
	HLSRecover(vhost string) bool
	HLSDispose(vhost string) time.Duration
	HLSNbNotify(vhost string) int

	HLSOnError(vhost string) hls.ErrorPolicy

	HLSKeys(vhost string) bool
	HLSFragmentsPerKey(vhost string) int
	HLSKeyFile(vhost string) string
	HLSKeyFilePath(vhost string) string
	HLSKeyURL(vhost string) string

	HLSCtx(vhost string) string
	HLSTSCtx(vhost string) string
}

// Resolve builds an hls.Config snapshot for vhost from d. The serve command
// calls it once at startup. A Stream re-reads its Config through its
// ConfigFunc at every Cycle, so a ConfigFunc that calls Resolve picks up
// directive edits at the next cycle.
func Resolve(d Directives, vhost string) hls.Config {
	return hls.Config{
		Enabled: d.Enabled(vhost),

		FragmentDuration: d.HLSFragment(vhost),
		WindowDuration:   d.HLSWindow(vhost),
		TDRatio:          d.HLSTDRatio(vhost),
		AOFRatio:         d.HLSAOFRatio(vhost),

		Path:        d.HLSPath(vhost),
		M3U8File:    d.HLSM3U8File(vhost),
		TSFile:      d.HLSTSFile(vhost),
		FMP4File:    d.HLSFMP4File(vhost),
		InitFile:    d.HLSInitFile(vhost),
		EntryPrefix: d.HLSEntryPrefix(vhost),

		UseFMP4:      d.HLSUseFMP4(vhost),
		DTSDirectly:  d.HLSDTSDirectly(vhost),
		TSFloor:      d.HLSTSFloor(vhost),
		WaitKeyframe: d.HLSWaitKeyframe(vhost),
		Cleanup:      d.HLSCleanup(vhost),
		Recover:      d.HLSRecover(vhost),

		DisposeTimeout: d.HLSDispose(vhost),
		NotifyQueueLen: d.HLSNbNotify(vhost),

		OnError: d.HLSOnError(vhost),

		KeysEnabled:     d.HLSKeys(vhost),
		FragmentsPerKey: d.HLSFragmentsPerKey(vhost),
		KeyFile:         d.HLSKeyFile(vhost),
		KeyFilePath:     d.HLSKeyFilePath(vhost),
		KeyURL:          d.HLSKeyURL(vhost),

		Ctx:   d.HLSCtx(vhost),
		TSCtx: d.HLSTSCtx(vhost),
	}
}
