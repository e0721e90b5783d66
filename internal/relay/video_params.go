// Package relay provides low-level MPEG-TS muxing primitives used by the
// HLS segmenter.
package relay

import "sync"

// H.264 NAL unit types this package cares about.
const (
	h264NALTypeSPS = 7
	h264NALTypePPS = 8
	h264NALTypeIDR = 5
)

// H.265 NAL unit types this package cares about.
const (
	h265NALTypeBLAWLP   = 16 // first keyframe-class type (BLA_W_LP)
	h265NALTypeCRANUT   = 21 // last keyframe-class type (CRA_NUT)
	h265NALTypeVPS      = 32
	h265NALTypeSPS      = 33
	h265NALTypePPS      = 34
)

// VideoParamHelper remembers the most recent SPS/PPS (H.264) or VPS/SPS/PPS
// (H.265) parameter sets seen on a track and can prepend them to a keyframe's
// NAL units. A decoder that only ever saw the parameter sets once, on the
// very first keyframe, would fail to resync after that keyframe ages out of
// the fragment window; prepending keeps every keyframe self-describing.
type VideoParamHelper struct {
	mu sync.RWMutex

	h264SPS, h264PPS               []byte
	h265VPS, h265SPS, h265PPS      []byte
}

// NewVideoParamHelper creates an empty parameter-set tracker.
func NewVideoParamHelper() *VideoParamHelper {
	return &VideoParamHelper{}
}

// ExtractFromNALUs scans nalus for parameter sets and remembers any that
// differ from what's already stored. Returns true if anything changed.
func (h *VideoParamHelper) ExtractFromNALUs(nalus [][]byte, isH265 bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	changed := false
	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		if isH265 {
			switch (nalu[0] >> 1) & 0x3F {
			case h265NALTypeVPS:
				changed = h.set(&h.h265VPS, nalu) || changed
			case h265NALTypeSPS:
				changed = h.set(&h.h265SPS, nalu) || changed
			case h265NALTypePPS:
				changed = h.set(&h.h265PPS, nalu) || changed
			}
			continue
		}
		switch nalu[0] & 0x1F {
		case h264NALTypeSPS:
			changed = h.set(&h.h264SPS, nalu) || changed
		case h264NALTypePPS:
			changed = h.set(&h.h264PPS, nalu) || changed
		}
	}
	return changed
}

func (h *VideoParamHelper) set(dst *[]byte, nalu []byte) bool {
	if bytesEqual(*dst, nalu) {
		return false
	}
	*dst = copyBytes(nalu)
	return true
}

// PrependParamsToKeyframeNALUs prepends the stored parameter sets ahead of
// nalus when it detects a keyframe and the parameter sets aren't already
// present, leaving non-keyframe access units untouched.
func (h *VideoParamHelper) PrependParamsToKeyframeNALUs(nalus [][]byte, isH265 bool) [][]byte {
	if !containsKeyframe(nalus, isH265) {
		return nalus
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if isH265 {
		if h.h265VPS == nil || h.h265SPS == nil || h.h265PPS == nil || h.nalusHaveH265Params(nalus) {
			return nalus
		}
		return prepend(nalus, copyBytes(h.h265VPS), copyBytes(h.h265SPS), copyBytes(h.h265PPS))
	}

	if h.h264SPS == nil || h.h264PPS == nil || h.nalusHaveH264Params(nalus) {
		return nalus
	}
	return prepend(nalus, copyBytes(h.h264SPS), copyBytes(h.h264PPS))
}

func prepend(nalus [][]byte, params ...[]byte) [][]byte {
	result := make([][]byte, 0, len(nalus)+len(params))
	result = append(result, params...)
	return append(result, nalus...)
}

func containsKeyframe(nalus [][]byte, isH265 bool) bool {
	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		if isH265 {
			t := (nalu[0] >> 1) & 0x3F
			if t >= h265NALTypeBLAWLP && t <= h265NALTypeCRANUT {
				return true
			}
			continue
		}
		if nalu[0]&0x1F == h264NALTypeIDR {
			return true
		}
	}
	return false
}

func (h *VideoParamHelper) nalusHaveH265Params(nalus [][]byte) bool {
	var hasVPS, hasSPS, hasPPS bool
	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		switch (nalu[0] >> 1) & 0x3F {
		case h265NALTypeVPS:
			hasVPS = true
		case h265NALTypeSPS:
			hasSPS = true
		case h265NALTypePPS:
			hasPPS = true
		}
	}
	return hasVPS && hasSPS && hasPPS
}

func (h *VideoParamHelper) nalusHaveH264Params(nalus [][]byte) bool {
	var hasSPS, hasPPS bool
	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		switch nalu[0] & 0x1F {
		case h264NALTypeSPS:
			hasSPS = true
		case h264NALTypePPS:
			hasPPS = true
		}
	}
	return hasSPS && hasPPS
}

func copyBytes(data []byte) []byte {
	if data == nil {
		return nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
