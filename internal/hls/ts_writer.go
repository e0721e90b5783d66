package hls

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"log/slog"
	"os"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/riverstream/hlsd/internal/relay"
)

// MPEG-TS PID assignment for the two tracks this segmenter ever produces:
// one video track, one audio track, single program.
const (
	tsVideoPID = 0x0100
	tsAudioPID = 0x0101
)

// TSWriter produces one MPEG-TS segment (C2): it muxes the packets handed
// to it by the controller into PAT/PMT/PES via mediacommon's mpegts.Writer,
// buffering the whole segment in memory so that, on Close, whole-segment
// AES-128-CBC encryption can apply PKCS7 padding once, at the very end.
type TSWriter struct {
	buf bytes.Buffer
	key *TSKey
	log *slog.Logger

	muxer  *mpegts.Writer
	tracks []*mpegts.Track

	videoTrack *mpegts.Track
	audioTrack *mpegts.Track
	videoCodec VideoCodec
	audioCodec AudioCodec
	aacConfig  *mpeg4audio.AudioSpecificConfig

	videoParams *relay.VideoParamHelper
	initialized bool
}

// NewTSWriter opens a new TS segment writer for one segment's worth of
// packets. key is nil when the segment is not encrypted.
func NewTSWriter(videoCodec VideoCodec, audioCodec AudioCodec, aacConfig *mpeg4audio.AudioSpecificConfig, key *TSKey, log *slog.Logger) *TSWriter {
	if log == nil {
		log = slog.Default()
	}
	return &TSWriter{
		key: key, log: log,
		videoCodec: videoCodec, audioCodec: audioCodec, aacConfig: aacConfig,
		videoParams: relay.NewVideoParamHelper(),
	}
}

func (w *TSWriter) initialize() error {
	if w.initialized {
		return nil
	}

	videoCodec := mpegts.Codec(&mpegts.CodecH264{})
	if w.videoCodec == VideoCodecHEVC {
		videoCodec = &mpegts.CodecH265{}
	}
	w.videoTrack = &mpegts.Track{PID: tsVideoPID, Codec: videoCodec}
	w.tracks = append(w.tracks, w.videoTrack)

	w.audioTrack = &mpegts.Track{PID: tsAudioPID, Codec: w.audioMediacommonCodec()}
	w.tracks = append(w.tracks, w.audioTrack)

	w.muxer = &mpegts.Writer{W: &w.buf, Tracks: w.tracks}
	if err := w.muxer.Initialize(); err != nil {
		return fmt.Errorf("%w: initialize ts muxer: %v", ErrIoTransient, err)
	}
	w.initialized = true
	return nil
}

func (w *TSWriter) audioMediacommonCodec() mpegts.Codec {
	if w.audioCodec == AudioCodecMP3 {
		return &mpegts.CodecMPEG1Audio{}
	}
	cfg := w.aacConfig
	if cfg == nil {
		cfg = &mpeg4audio.AudioSpecificConfig{Type: mpeg4audio.ObjectTypeAACLC, SampleRate: 48000, ChannelCount: 2}
	}
	return &mpegts.CodecMPEG4Audio{Config: *cfg}
}

// WriteVideo muxes one video access unit, prepending SPS/PPS (or VPS/SPS/PPS
// for HEVC) to keyframes. The parameter sets are remembered per TSWriter,
// that is per segment: a keyframe gets them only when they appeared earlier
// in the same segment or inline in that access unit.
func (w *TSWriter) WriteVideo(p *Packet) error {
	if err := w.initialize(); err != nil {
		return err
	}

	au := dataToAccessUnit(p.Data)
	if len(au) == 0 {
		return nil
	}

	isHEVC := w.videoCodec == VideoCodecHEVC
	w.videoParams.ExtractFromNALUs(au, isHEVC)
	if p.IsKeyframe() {
		au = w.videoParams.PrependParamsToKeyframeNALUs(au, isHEVC)
	}

	var err error
	if isHEVC {
		err = w.muxer.WriteH265(w.videoTrack, p.PTS, p.DTS, au)
	} else {
		err = w.muxer.WriteH264(w.videoTrack, p.PTS, p.DTS, au)
	}
	if err != nil {
		return fmt.Errorf("%w: ts write video: %v", ErrIoTransient, err)
	}
	return nil
}

// WriteAudio muxes one audio frame at dts, which is the recovered DTS from
// the controller's jitter-smoothing estimator and may differ from p.DTS.
func (w *TSWriter) WriteAudio(dts int64, p *Packet) error {
	if err := w.initialize(); err != nil {
		return err
	}
	if len(p.Data) == 0 {
		return nil
	}

	var err error
	if w.audioCodec == AudioCodecMP3 {
		err = w.muxer.WriteMPEG1Audio(w.audioTrack, dts, [][]byte{p.Data})
	} else {
		aus := extractAACFrames(p.Data)
		if len(aus) == 0 {
			return nil
		}
		err = w.muxer.WriteMPEG4Audio(w.audioTrack, dts, aus)
	}
	if err != nil {
		return fmt.Errorf("%w: ts write audio: %v", ErrIoTransient, err)
	}
	return nil
}

// Size returns the number of plaintext TS bytes buffered so far.
func (w *TSWriter) Size() int {
	return w.buf.Len()
}

// Close finalizes the segment: encrypts (if keyed) and atomically renames
// tmpPath to finalPath.
func (w *TSWriter) Close(tmpPath, finalPath string) error {
	payload := w.buf.Bytes()

	if w.key != nil {
		encrypted, err := encryptAESCBC(payload, w.key.Key16[:], w.key.IV16[:])
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCryptoRng, err)
		}
		payload = encrypted
	}

	if err := os.WriteFile(tmpPath, payload, 0o644); err != nil {
		return fmt.Errorf("%w: write ts segment: %v", ErrIoTransient, err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("%w: rename ts segment: %v", ErrIoTransient, err)
	}
	return nil
}

// encryptAESCBC applies PKCS7 padding then AES-128-CBC, matching the
// full-segment key rotation scheme HLS uses for MPEG-TS (EXT-X-KEY METHOD=AES-128).
func encryptAESCBC(plaintext, key, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	padded := pkcs7Pad(plaintext, block.BlockSize())
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(append([]byte{}, data...), padding...)
}

// dataToAccessUnit splits one video packet's payload into NAL units,
// accepting either Annex B (start-code delimited, the ingest collaborator's
// native format) or AVCC (length-prefixed, as produced by an fMP4 source
// feeding this TS writer after a profile switch).
func dataToAccessUnit(data []byte) [][]byte {
	if len(data) == 0 {
		return nil
	}

	if len(data) >= 4 && data[0] == 0x00 && data[1] == 0x00 {
		if data[2] == 0x01 || (data[2] == 0x00 && data[3] == 0x01) {
			var au h264.AnnexB
			if err := au.Unmarshal(data); err != nil {
				return [][]byte{data}
			}
			return au
		}
	}

	var au h264.AVCC
	if err := au.Unmarshal(data); err == nil && len(au) > 0 {
		return au
	}

	return [][]byte{data}
}

// extractAACFrames pulls raw AAC access units out of a packet payload that
// may arrive ADTS-framed; mediacommon's MPEG-4 audio writer wants raw AUs.
func extractAACFrames(data []byte) [][]byte {
	if len(data) == 0 {
		return nil
	}
	if len(data) >= 7 && data[0] == 0xFF && (data[1]&0xF0) == 0xF0 {
		return extractADTSFrames(data)
	}
	return [][]byte{data}
}

func extractADTSFrames(data []byte) [][]byte {
	var frames [][]byte
	offset := 0

	for offset+7 <= len(data) {
		if data[offset] != 0xFF || (data[offset+1]&0xF0) != 0xF0 {
			offset++
			continue
		}

		protectionAbsent := data[offset+1]&0x01 != 0
		headerSize := 7
		if !protectionAbsent {
			headerSize = 9
		}

		frameLen := int(data[offset+3]&0x03)<<11 | int(data[offset+4])<<3 | int(data[offset+5]>>5)
		if frameLen < headerSize || offset+frameLen > len(data) {
			break
		}

		if raw := data[offset+headerSize : offset+frameLen]; len(raw) > 0 {
			frames = append(frames, raw)
		}
		offset += frameLen
	}

	return frames
}
