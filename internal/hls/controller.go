package hls

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/google/uuid"
)

// aacFrameSizes are the bucket sizes the DTS-recovery estimator snaps to,
// matching the fixed AAC frame sizes a decoder will actually emit.
var aacFrameSizes = []int64{960, 1024, 2048, 4096}

// Controller owns one publish's worth of segmenting state: the current
// in-progress segment, the codec-change/DTS-recovery bookkeeping, and the
// decision of when to reap (C6).
type Controller struct {
	cfg    Config
	log    *slog.Logger
	vhost  string
	app    string
	stream string

	window *Window
	cache  *MessageCache
	policy *MuxerPolicy
	keys   *KeyRotator

	nextSeq uint64

	cur        *Segment
	ts         *TSWriter
	fmp4Video  []FMP4Sample
	fmp4Audio  []FMP4Sample
	fmp4Seq    uint32

	videoCodec VideoCodec
	audioCodec AudioCodec
	aacConfig  *mpeg4audio.Config

	lastAudioDTS  int64
	audioDTSValid bool
	sampleRate    int

	haveKeyframe bool
	initWritten  bool
}

// NewController builds a controller for one publish. vhost/app/stream feed
// filename templating.
func NewController(cfg Config, vhost, app, stream string, window *Window, cache *MessageCache, policy *MuxerPolicy, keys *KeyRotator, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		cfg: cfg, vhost: vhost, app: app, stream: stream,
		window: window, cache: cache, policy: policy, keys: keys, log: log,
	}
}

// OnSequenceHeader caches an AudioSpecificConfig / SPS+PPS+VPS packet and
// detects codec changes, which force a discontinuity on the next segment.
func (c *Controller) OnSequenceHeader(p *Packet) {
	switch p.Kind {
	case PacketAudio:
		c.cache.CacheAudio(p)
		if c.audioCodec != "" && c.audioCodec != p.Audio {
			c.forceDiscontinuity()
		}
		c.audioCodec = p.Audio
		c.sampleRate = p.SampleRate
	case PacketVideo:
		c.cache.CacheVideo(p)
		if c.videoCodec != "" && c.videoCodec != p.Video {
			c.forceDiscontinuity()
		}
		c.videoCodec = p.Video
	}
}

func (c *Controller) forceDiscontinuity() {
	if c.cur != nil {
		c.cur.Discontinuity = true
	}
	c.initWritten = false
}

// recoverAudioDTS buckets an audio packet's DTS onto the nearest AAC frame
// boundary when the source clock jitters (spec's DTS-recovery estimator).
func (c *Controller) recoverAudioDTS(dts int64) int64 {
	if !c.audioDTSValid {
		c.lastAudioDTS = dts
		c.audioDTSValid = true
		return dts
	}
	delta := dts - c.lastAudioDTS
	best := aacFrameSizes[0]
	bestDiff := abs64(delta - best)
	for _, sz := range aacFrameSizes[1:] {
		if d := abs64(delta - sz); d < bestDiff {
			best, bestDiff = sz, d
		}
	}
	recovered := c.lastAudioDTS + best
	c.lastAudioDTS = recovered
	return recovered
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// EnsureSegment opens a new segment if none is active, choosing the
// container profile per cfg.UseFMP4 and rotating key material as needed.
func (c *Controller) EnsureSegment(startDTS int64) error {
	if c.cur != nil {
		return nil
	}
	if c.cfg.WaitKeyframe && !c.haveKeyframe {
		return nil
	}

	c.nextSeq++
	seg := &Segment{
		SequenceNo: c.nextSeq,
		StartDTS:   startDTS,
		CreatedAt:  time.Now(),
	}

	if c.cfg.UseFMP4 {
		seg.Container = ContainerFMP4
		seg.Path = c.segmentPath(c.cfg.FMP4File, seg)
	} else {
		seg.Container = ContainerTS
		seg.Path = c.segmentPath(c.cfg.TSFile, seg)
	}
	seg.TmpPath = seg.Path + ".tmp"
	seg.URI = c.cfg.EntryPrefix + filepath.Base(seg.Path)

	if c.cfg.KeysEnabled && c.keys != nil && c.keys.ShouldRotate() {
		if err := c.rotateKey(seg); err != nil {
			return err
		}
	} else if c.cfg.KeysEnabled {
		c.carryForwardKey(seg)
	}

	if c.cfg.UseFMP4 {
		c.fmp4Video = c.fmp4Video[:0]
		c.fmp4Audio = c.fmp4Audio[:0]
	} else {
		c.ts = NewTSWriter(c.videoCodec, c.audioCodec, c.aacConfig, seg.TS, c.log)
	}

	c.cur = seg
	return nil
}

func (c *Controller) rotateKey(seg *Segment) error {
	vars := TemplateVars{
		Vhost: c.vhost, App: c.app, Stream: c.stream,
		Seq: seg.SequenceNo, Timestamp: seg.CreatedAt,
	}
	keyName := FormatTemplate(c.cfg.KeyFile, vars)
	seg.KeyURI = c.keyURI(keyName, vars)

	if seg.Container == ContainerTS {
		k, err := NewTSKey()
		if err != nil {
			return err
		}
		if _, err := c.keys.WriteKeyFile(keyName, k.Key16[:]); err != nil {
			return err
		}
		seg.TS = k
	} else {
		k, err := NewFMP4Key(16)
		if err != nil {
			return err
		}
		if _, err := c.keys.WriteKeyFile(keyName, k.Kid16[:]); err != nil {
			return err
		}
		seg.FMP4 = k
	}
	return nil
}

// keyURI renders the EXT-X-KEY URI for a freshly rotated key: hls_key_url
// when configured (the operator's own key-delivery endpoint), otherwise
// hls_entry_prefix joined with the rendered key file name so the key is
// served from the same tree as the playlist and segments.
func (c *Controller) keyURI(keyName string, vars TemplateVars) string {
	if c.cfg.KeyURL != "" {
		return FormatTemplate(c.cfg.KeyURL, vars)
	}
	return c.cfg.EntryPrefix + keyName
}

func (c *Controller) carryForwardKey(seg *Segment) {
	if prev := c.window.First(); prev != nil {
		seg.TS = prev.TS
		seg.FMP4 = prev.FMP4
		seg.KeyURI = prev.KeyURI
	}
}

func (c *Controller) segmentPath(template string, seg *Segment) string {
	name := FormatTemplate(template, TemplateVars{
		Vhost: c.vhost, App: c.app, Stream: c.stream,
		Seq: seg.SequenceNo, Timestamp: seg.CreatedAt,
	})
	return filepath.Join(c.cfg.Path, name)
}

// WriteVideo appends a video access unit to the active segment, opening one
// first if necessary, and tracks the keyframe gate.
func (c *Controller) WriteVideo(p *Packet) error {
	if p.IsKeyframe() {
		c.haveKeyframe = true
	}
	if err := c.EnsureSegment(p.DTS); err != nil {
		return err
	}
	if c.cur == nil {
		return nil // still waiting for keyframe
	}
	c.cur.UpdateDuration(p.DTS)

	if c.cfg.UseFMP4 {
		c.fmp4Video = append(c.fmp4Video, FMP4Sample{
			Duration:        uint32(3000),
			PTSOffset:       int32(p.PTS - p.DTS),
			IsNonSyncSample: !p.IsKeyframe(),
			Payload:         p.Data,
		})
		return nil
	}
	return c.ts.WriteVideo(p)
}

// WriteAudio appends an audio frame to the active segment, recovering its
// DTS first when configured to smooth source jitter.
func (c *Controller) WriteAudio(p *Packet) error {
	dts := p.DTS
	if !c.cfg.DTSDirectly {
		dts = c.recoverAudioDTS(p.DTS)
	}

	if err := c.EnsureSegment(dts); err != nil {
		return err
	}
	if c.cur == nil {
		return nil
	}
	c.cur.UpdateDuration(dts)

	if c.cfg.UseFMP4 {
		c.fmp4Audio = append(c.fmp4Audio, FMP4Sample{Duration: 1024, Payload: p.Data})
		return nil
	}
	return c.ts.WriteAudio(dts, p)
}

// ShouldReap reports whether the active segment has crossed either overflow
// threshold and should be closed on the next opportunity.
func (c *Controller) ShouldReap() bool {
	if c.cur == nil {
		return false
	}
	return c.policy.IsSegmentOverflow(c.cur.Duration) || c.policy.IsSegmentAbsolutelyOverflow(c.cur.Duration)
}

// Reap closes the active segment, writes it to disk, appends it to the
// window and playlist, and advances key rotation bookkeeping.
func (c *Controller) Reap() (*Segment, error) {
	if c.cur == nil {
		return nil, nil
	}
	seg := c.cur
	c.cur = nil

	if seg.Container == ContainerTS {
		if err := c.ts.Close(seg.TmpPath, seg.Path); err != nil {
			return nil, err
		}
		c.ts = nil
	} else {
		if err := c.reapFMP4(seg); err != nil {
			return nil, err
		}
	}

	seg.Closed = true
	c.window.Append(seg)
	if err := c.policy.AppendSegment(seg); err != nil {
		return seg, err
	}
	if c.keys != nil {
		c.keys.Advance()
	}
	c.haveKeyframe = false
	return seg, nil
}

func (c *Controller) reapFMP4(seg *Segment) error {
	if !c.initWritten {
		params := FMP4InitParams{
			HasVideo:  len(c.fmp4Video) > 0 || c.videoCodec != "",
			HasAudio:  len(c.fmp4Audio) > 0 || c.audioCodec != "",
			IsHEVC:    c.videoCodec == VideoCodecHEVC,
			AACConfig: c.aacConfig,
		}
		initData, err := BuildInitSegment(params, seg.FMP4)
		if err != nil {
			return err
		}
		initPath := filepath.Join(c.cfg.Path, c.cfg.InitFile)
		if err := WriteSegmentFile(initPath+".tmp", initPath, initData); err != nil {
			return err
		}
		c.policy.SetInitMap(c.cfg.EntryPrefix + filepath.Base(initPath))
		c.initWritten = true
	}

	c.fmp4Seq++
	var startDTS uint64
	if len(c.fmp4Video) > 0 {
		startDTS = uint64(seg.StartDTS)
	}
	data, err := BuildPart(c.fmp4Seq, c.fmp4Video, c.fmp4Audio, startDTS, startDTS, seg.FMP4)
	if err != nil {
		return err
	}
	return WriteSegmentFile(seg.TmpPath, seg.Path, data)
}

// RefreshPlaylist shrinks the window, evicts stale playlist entries, and
// republishes the .m3u8.
func (c *Controller) RefreshPlaylist() error {
	before := c.window.Size()
	c.window.Shrink(c.cfg.WindowDuration)
	for n := c.window.Size(); n < before; n++ {
		c.policy.Evict()
	}
	c.window.ClearExpired(c.cfg.Cleanup)
	return c.policy.RefreshM3U8(filepath.Join(c.cfg.Path, c.cfg.M3U8File))
}

// NewSessionID returns an opaque per-publish identifier for hls_ctx/hls_ts_ctx.
func NewSessionID() string {
	return uuid.NewString()
}

// validateCodecSupport rejects directive combinations that only make sense
// once the first packet reveals the live codec (e.g. fMP4 with an audio
// codec mediacommon's fmp4 writer cannot represent).
func validateCodecSupport(cfg Config, audio AudioCodec) error {
	if cfg.UseFMP4 && audio != "" && audio != AudioCodecAAC {
		return fmt.Errorf("%w: fmp4 profile requires AAC audio, got %q", ErrConfigInvalid, audio)
	}
	return nil
}
