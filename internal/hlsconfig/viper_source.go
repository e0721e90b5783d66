package hlsconfig

import (
	"time"

	"github.com/spf13/viper"

	"github.com/riverstream/hlsd/internal/hls"
)

// Directive keys, namespaced the way the teacher's own viper config keys
// are namespaced (dot-separated, lower-case).
const (
	keyEnabled = "hls.enabled"

	keyFragment = "hls.hls_fragment"
	keyWindow   = "hls.hls_window"
	keyTDRatio  = "hls.hls_td_ratio"
	keyAOFRatio = "hls.hls_aof_ratio"

	keyPath        = "hls.hls_path"
	keyM3U8File    = "hls.hls_m3u8_file"
	keyTSFile      = "hls.hls_ts_file"
	keyFMP4File    = "hls.hls_fmp4_file"
	keyInitFile    = "hls.hls_init_file"
	keyEntryPrefix = "hls.hls_entry_prefix"

	keyUseFMP4      = "hls.hls_use_fmp4"
	keyDTSDirectly  = "hls.hls_dts_directly"
	keyTSFloor      = "hls.hls_ts_floor"
	keyWaitKeyframe = "hls.hls_wait_keyframe"
	keyCleanup      = "hls.hls_cleanup"
	keyRecover      = "hls.hls_recover"
	keyDispose      = "hls.hls_dispose"
	keyNbNotify     = "hls.hls_nb_notify"

	keyOnError = "hls.hls_on_error"

	keyKeysEnabled     = "hls.hls_keys"
	keyFragmentsPerKey = "hls.hls_fragments_per_key"
	keyKeyFile         = "hls.hls_key_file"
	keyKeyFilePath     = "hls.hls_key_file_path"
	keyKeyURL          = "hls.hls_key_url"

	keyCtx   = "hls.hls_ctx"
	keyTSCtx = "hls.hls_ts_ctx"
)

// ViperDirectives reads the directive tree from a *viper.Viper, the way
// the rest of this module's CLI reads its own configuration. Every getter
// re-reads viper directly (rather than caching), so an external
// viper.WatchConfig reload is visible on the very next call.
type ViperDirectives struct {
	v *viper.Viper
}

// NewViperDirectives wraps v, applying the segmenter's documented defaults
// for any key not already set.
func NewViperDirectives(v *viper.Viper) *ViperDirectives {
	SetDefaults(v)
	return &ViperDirectives{v: v}
}

// SetDefaults installs the segmenter's directive defaults into v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(keyEnabled, true)
	v.SetDefault(keyFragment, 10*time.Second)
	v.SetDefault(keyWindow, 60*time.Second)
	v.SetDefault(keyTDRatio, 1.5)
	v.SetDefault(keyAOFRatio, 3.0)

	v.SetDefault(keyPath, "./hls")
	v.SetDefault(keyM3U8File, "[stream].m3u8")
	v.SetDefault(keyTSFile, "[stream]-[seq].ts")
	v.SetDefault(keyFMP4File, "[stream]-[seq].m4s")
	v.SetDefault(keyInitFile, "init.mp4")
	v.SetDefault(keyEntryPrefix, "")

	v.SetDefault(keyUseFMP4, false)
	v.SetDefault(keyDTSDirectly, false)
	v.SetDefault(keyTSFloor, false)
	v.SetDefault(keyWaitKeyframe, true)
	v.SetDefault(keyCleanup, true)
	v.SetDefault(keyRecover, false)
	v.SetDefault(keyDispose, 0)
	v.SetDefault(keyNbNotify, 64)

	v.SetDefault(keyOnError, string(hls.ErrorPolicyContinue))

	v.SetDefault(keyKeysEnabled, false)
	v.SetDefault(keyFragmentsPerKey, 0)
	v.SetDefault(keyKeyFile, "[seq].key")
	v.SetDefault(keyKeyFilePath, "./hls/keys")
	v.SetDefault(keyKeyURL, "")

	v.SetDefault(keyCtx, "")
	v.SetDefault(keyTSCtx, "")
}

func (d *ViperDirectives) Enabled(string) bool { return d.v.GetBool(keyEnabled) }

func (d *ViperDirectives) HLSFragment(string) time.Duration { return d.v.GetDuration(keyFragment) }
func (d *ViperDirectives) HLSWindow(string) time.Duration   { return d.v.GetDuration(keyWindow) }
func (d *ViperDirectives) HLSTDRatio(string) float64        { return d.v.GetFloat64(keyTDRatio) }
func (d *ViperDirectives) HLSAOFRatio(string) float64       { return d.v.GetFloat64(keyAOFRatio) }

func (d *ViperDirectives) HLSPath(string) string        { return d.v.GetString(keyPath) }
func (d *ViperDirectives) HLSM3U8File(string) string    { return d.v.GetString(keyM3U8File) }
func (d *ViperDirectives) HLSTSFile(string) string      { return d.v.GetString(keyTSFile) }
func (d *ViperDirectives) HLSFMP4File(string) string    { return d.v.GetString(keyFMP4File) }
func (d *ViperDirectives) HLSInitFile(string) string    { return d.v.GetString(keyInitFile) }
func (d *ViperDirectives) HLSEntryPrefix(string) string { return d.v.GetString(keyEntryPrefix) }

func (d *ViperDirectives) HLSUseFMP4(string) bool      { return d.v.GetBool(keyUseFMP4) }
func (d *ViperDirectives) HLSDTSDirectly(string) bool  { return d.v.GetBool(keyDTSDirectly) }
func (d *ViperDirectives) HLSTSFloor(string) bool      { return d.v.GetBool(keyTSFloor) }
func (d *ViperDirectives) HLSWaitKeyframe(string) bool { return d.v.GetBool(keyWaitKeyframe) }
func (d *ViperDirectives) HLSCleanup(string) bool      { return d.v.GetBool(keyCleanup) }
func (d *ViperDirectives) HLSRecover(string) bool      { return d.v.GetBool(keyRecover) }
func (d *ViperDirectives) HLSDispose(string) time.Duration { return d.v.GetDuration(keyDispose) }
func (d *ViperDirectives) HLSNbNotify(string) int      { return d.v.GetInt(keyNbNotify) }

func (d *ViperDirectives) HLSOnError(string) hls.ErrorPolicy {
	switch hls.ErrorPolicy(d.v.GetString(keyOnError)) {
	case hls.ErrorPolicyIgnore:
		return hls.ErrorPolicyIgnore
	case hls.ErrorPolicyDisconnect:
		return hls.ErrorPolicyDisconnect
	default:
		return hls.ErrorPolicyContinue
	}
}

func (d *ViperDirectives) HLSKeys(string) bool             { return d.v.GetBool(keyKeysEnabled) }
func (d *ViperDirectives) HLSFragmentsPerKey(string) int   { return d.v.GetInt(keyFragmentsPerKey) }
func (d *ViperDirectives) HLSKeyFile(string) string        { return d.v.GetString(keyKeyFile) }
func (d *ViperDirectives) HLSKeyFilePath(string) string    { return d.v.GetString(keyKeyFilePath) }
func (d *ViperDirectives) HLSKeyURL(string) string         { return d.v.GetString(keyKeyURL) }

func (d *ViperDirectives) HLSCtx(string) string   { return d.v.GetString(keyCtx) }
func (d *ViperDirectives) HLSTSCtx(string) string { return d.v.GetString(keyTSCtx) }
