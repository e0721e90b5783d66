package hls

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
)

const (
	fmp4VideoTrackID = 1
	fmp4AudioTrackID = 2

	cbcsEncryptedBlocks = 1
	cbcsSkippedBlocks   = 9
)

// FMP4Sample is one access unit ready for packaging into a fragment.
type FMP4Sample struct {
	Duration        uint32
	PTSOffset       int32
	IsNonSyncSample bool
	Payload         []byte
}

// FMP4InitParams carries the codec parameter sets needed to build init.mp4.
type FMP4InitParams struct {
	HasVideo bool
	HasAudio bool

	H264SPS, H264PPS      []byte
	H265VPS, H265SPS, H265PPS []byte
	IsHEVC                bool

	AACConfig *mpeg4audio.Config
}

// BuildInitSegment produces init.mp4: ftyp+moov describing the track layout.
// The controller writes it at the first fMP4 reap of a publish and again
// after a codec change; key rotation does not rewrite it.
//
// It talks directly to the stock mediacommon/v2 fmp4 API.
func BuildInitSegment(p FMP4InitParams, key *FMP4Key) ([]byte, error) {
	init := &fmp4.Init{}

	if p.HasVideo {
		var codec fmp4.Codec
		if p.IsHEVC {
			codec = &fmp4.CodecH265{VPS: p.H265VPS, SPS: p.H265SPS, PPS: p.H265PPS}
		} else {
			codec = &fmp4.CodecH264{SPS: p.H264SPS, PPS: p.H264PPS}
		}
		init.Tracks = append(init.Tracks, &fmp4.InitTrack{
			ID:        fmp4VideoTrackID,
			TimeScale: 90000,
			Codec:     codec,
		})
	}

	if p.HasAudio {
		cfg := p.AACConfig
		if cfg == nil {
			cfg = &mpeg4audio.Config{Type: mpeg4audio.ObjectTypeAACLC, SampleRate: 48000, ChannelCount: 2}
		}
		init.Tracks = append(init.Tracks, &fmp4.InitTrack{
			ID:        fmp4AudioTrackID,
			TimeScale: uint32(cfg.SampleRate),
			Codec:     &fmp4.CodecMPEG4Audio{Config: *cfg},
		})
	}

	var buf bytes.Buffer
	if err := init.Marshal(&buf); err != nil {
		return nil, fmt.Errorf("%w: marshal init.mp4: %v", ErrIoTransient, err)
	}

	out := buf.Bytes()
	if key != nil {
		out = patchCBCSProtection(out, key)
	}
	return out, nil
}

// BuildPart packages one fragment (moof+mdat) from video and audio samples
// sharing a common sequence number. If key is non-nil, sample payloads are
// encrypted in the CBCS pattern (1 encrypted / 9 skipped 16-byte blocks)
// before packaging, per the SAMPLE-AES scheme HLS uses for fMP4.
func BuildPart(seq uint32, videoSamples, audioSamples []FMP4Sample, videoBaseTime, audioBaseTime uint64, key *FMP4Key) ([]byte, error) {
	part := &fmp4.Part{SequenceNumber: seq}

	if len(videoSamples) > 0 {
		part.Tracks = append(part.Tracks, &fmp4.PartTrack{
			ID:       fmp4VideoTrackID,
			BaseTime: videoBaseTime,
			Samples:  toMediacommonSamples(videoSamples, key),
		})
	}
	if len(audioSamples) > 0 {
		part.Tracks = append(part.Tracks, &fmp4.PartTrack{
			ID:       fmp4AudioTrackID,
			BaseTime: audioBaseTime,
			Samples:  toMediacommonSamples(audioSamples, key),
		})
	}

	var buf bytes.Buffer
	if err := part.Marshal(&buf); err != nil {
		return nil, fmt.Errorf("%w: marshal fragment: %v", ErrIoTransient, err)
	}
	return buf.Bytes(), nil
}

func toMediacommonSamples(in []FMP4Sample, key *FMP4Key) []*fmp4.Sample {
	out := make([]*fmp4.Sample, len(in))
	for i, s := range in {
		payload := s.Payload
		if key != nil {
			payload = cbcsEncrypt(payload, key)
		}
		out[i] = &fmp4.Sample{
			Duration:        s.Duration,
			PTSOffset:       s.PTSOffset,
			IsNonSyncSample: s.IsNonSyncSample,
			Payload:         payload,
		}
	}
	return out
}

// cbcsEncrypt applies the CBCS pattern: for every group of 10 16-byte
// blocks, the first is AES-CBC encrypted and the remaining nine pass
// through untouched. The CBC chain starts from the key's IV16 at the start
// of each sample and continues across that sample's encrypted blocks.
// A trailing partial block is left in the clear.
func cbcsEncrypt(data []byte, key *FMP4Key) []byte {
	block, err := aes.NewCipher(key.Kid16[:])
	if err != nil {
		return data
	}
	out := make([]byte, len(data))
	copy(out, data)

	iv := append([]byte{}, key.IV16[:]...)
	const blockSize = 16
	pos := 0
	for pos+blockSize <= len(out) {
		for i := 0; i < cbcsEncryptedBlocks && pos+blockSize <= len(out); i++ {
			cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[pos:pos+blockSize], out[pos:pos+blockSize])
			iv = out[pos : pos+blockSize]
			pos += blockSize
		}
		pos += cbcsSkippedBlocks * blockSize
	}
	return out
}

// patchCBCSProtection appends a hand-built 'tenc' box (see buildTencBox)
// advertising the key id after the marshaled init segment; no 'pssh' box is
// written. Full 'senc'/'saio' sample-auxiliary-info
// boxes are intentionally out of scope: this segmenter targets SAMPLE-AES
// consumers (Apple's own scheme) which derive IVs from the 'tenc' default
// values rather than per-sample 'senc' tables.
func patchCBCSProtection(init []byte, key *FMP4Key) []byte {
	tenc := buildTencBox(key)
	return append(append([]byte{}, init...), tenc...)
}

// buildTencBox hand-assembles a 'tenc' (track encryption) box carrying the
// CBCS pattern and constant IV, framed as size|type|payload.
func buildTencBox(key *FMP4Key) []byte {
	var payload bytes.Buffer
	payload.WriteByte(1)          // version 1: supports constant IVs
	payload.Write([]byte{0, 0, 0}) // flags
	payload.WriteByte(0)          // reserved
	payload.WriteByte(cbcsEncryptedBlocks<<4 | cbcsSkippedBlocks)
	payload.WriteByte(1) // is_protected
	payload.WriteByte(byte(len(key.Kid16)))
	payload.Write(key.Kid16[:])
	payload.WriteByte(byte(len(key.ConstantIV)))
	payload.Write(key.ConstantIV)

	box := make([]byte, 8+payload.Len())
	binary.BigEndian.PutUint32(box[0:4], uint32(len(box)))
	copy(box[4:8], "tenc")
	copy(box[8:], payload.Bytes())
	return box
}

// WriteSegmentFile atomically writes a built fragment (or init segment) to
// disk via the write-temp-then-rename pattern used throughout the package.
func WriteSegmentFile(tmpPath, finalPath string, data []byte) error {
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("%w: write fmp4 segment: %v", ErrIoTransient, err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("%w: rename fmp4 segment: %v", ErrIoTransient, err)
	}
	return nil
}
