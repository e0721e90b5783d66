package hls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// Stream orchestrates one publisher's lifecycle: initialize, accept
// packets, periodically cycle (reap + refresh playlist), and dispose on
// unpublish (C7).
//
// A Stream is single-writer: OnAudio/OnVideo/Cycle are expected to be
// called from one goroutine per publish, matching the cooperative
// concurrency model the rest of the segmenter assumes. ConfigFunc is
// consulted at the start of every Cycle so directive edits are picked up
// without restarting the publish.
type Stream struct {
	mu sync.Mutex

	Vhost, App, Name string

	ConfigFunc func() Config

	window     *Window
	cache      *MessageCache
	controller *Controller
	keys       *KeyRotator
	callbacks  *CallbackWorker

	log *slog.Logger

	sessionID string
	published bool
	faulted   bool
}

// NewStream constructs a Stream bound to configFunc, which the orchestrator
// calls at the top of each Cycle to resolve the live directive tree.
func NewStream(vhost, app, name string, configFunc func() Config, callbacks *CallbackWorker, log *slog.Logger) *Stream {
	if log == nil {
		log = slog.Default()
	}
	return &Stream{
		Vhost: vhost, App: app, Name: name,
		ConfigFunc: configFunc,
		callbacks:  callbacks,
		log:        log,
	}
}

// OnPublish initializes segmenting state for a new publish. Calling it
// while already published is a protocol violation.
func (s *Stream) OnPublish(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.published {
		return fmt.Errorf("%w: stream %s/%s already published", ErrProtocolViolation, s.App, s.Name)
	}

	cfg := s.ConfigFunc()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if !cfg.Enabled {
		return nil
	}

	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return fmt.Errorf("%w: mkdir hls path: %v", ErrIoTransient, err)
	}

	s.window = NewWindow(s.log)
	s.cache = NewMessageCache()
	s.sessionID = NewSessionID()

	var lastSeq uint64
	if cfg.Recover {
		if _, seq, err := Recover(joinPath(cfg.Path, cfg.M3U8File), windowCapacity(cfg)); err == nil {
			lastSeq = seq
		}
	}

	policy, err := NewMuxerPolicy(int64(cfg.FragmentDuration/ticksUnit), cfg.TDRatio, cfg.AOFRatio, cfg.TSFloor, 0.1, s.window, windowCapacity(cfg), s.log)
	if err != nil {
		return err
	}

	if cfg.KeysEnabled {
		s.keys = NewKeyRotator(cfg.FragmentsPerKey, cfg.KeyFilePath, cfg.KeyFile, 16)
	}

	s.controller = NewController(cfg, s.Vhost, s.App, s.Name, s.window, s.cache, policy, s.keys, s.log)
	s.controller.nextSeq = lastSeq
	s.published = true
	s.faulted = false

	s.notify(ctx, "on_hls_publish", nil)
	return nil
}

// OnUnpublish tears down segmenting state. When dispose is true, the
// window's files are unlinked immediately; otherwise they stay on disk and
// nothing in the Stream removes them later (Config.DisposeTimeout is not
// consulted).
func (s *Stream) OnUnpublish(ctx context.Context, dispose bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.published {
		return
	}
	if dispose && s.window != nil {
		s.window.Dispose()
	}
	s.notify(ctx, "on_hls_unpublish", nil)
	s.published = false
	s.controller = nil
	s.cache = nil
}

// OnVideo feeds a video access unit into the controller.
func (s *Stream) OnVideo(ctx context.Context, p *Packet) error {
	return s.onPacket(ctx, p, s.controller.WriteVideo)
}

// OnAudio feeds an audio frame into the controller.
func (s *Stream) OnAudio(ctx context.Context, p *Packet) error {
	return s.onPacket(ctx, p, s.controller.WriteAudio)
}

func (s *Stream) onPacket(ctx context.Context, p *Packet, write func(*Packet) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.published || s.faulted {
		return ErrFault
	}
	if err := p.Kind.validate(); err != nil {
		return err
	}

	if p.IsSequenceHeader {
		s.controller.OnSequenceHeader(p)
		return nil
	}

	if err := write(p); err != nil {
		return s.handleError(ctx, err)
	}
	return nil
}

// Cycle is the periodic tick the orchestrator drives (on a timer, or after
// every N packets): it reaps an overflowing segment and republishes the
// playlist. It re-resolves Config each call so directive hot-reload takes
// effect on the next tick rather than requiring a restart.
func (s *Stream) Cycle(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.published || s.faulted {
		return nil
	}

	s.controller.cfg = s.ConfigFunc()

	if s.controller.ShouldReap() {
		seg, err := s.controller.Reap()
		if err != nil {
			if !errors.Is(err, ErrPlaylistWrite) {
				return s.handleError(ctx, err)
			}
			s.log.Warn("playlist append failed", slog.String("error", err.Error()))
		}
		if seg != nil {
			s.notify(ctx, "on_hls", seg)
		}
	}

	if err := s.controller.RefreshPlaylist(); err != nil {
		s.log.Warn("playlist refresh failed", slog.String("error", err.Error()))
	}
	return nil
}

func (s *Stream) handleError(ctx context.Context, err error) error {
	switch s.controller.cfg.OnError {
	case ErrorPolicyIgnore:
		return nil
	case ErrorPolicyDisconnect:
		s.faulted = true
		s.notify(ctx, "on_hls_error", err)
		return err
	default: // continue
		s.log.Warn("hls write failed, continuing", slog.String("error", err.Error()))
		return nil
	}
}

func (s *Stream) notify(ctx context.Context, kind string, payload any) {
	if s.callbacks == nil {
		return
	}
	s.callbacks.Submit(ctx, Notification{
		Kind: kind, Vhost: s.Vhost, App: s.App, Stream: s.Name,
		SessionID: s.sessionID, Payload: payload,
	})
}

const ticksUnit = 1_000_000_000 / 90000 // nanoseconds per 90kHz tick, for Config.FragmentDuration conversion

func windowCapacity(cfg Config) uint {
	if cfg.FragmentDuration <= 0 {
		return 16
	}
	n := uint(cfg.WindowDuration/cfg.FragmentDuration) + 2
	if n < 4 {
		n = 4
	}
	return n
}

func joinPath(dir, file string) string {
	if dir == "" {
		return file
	}
	return dir + "/" + file
}
