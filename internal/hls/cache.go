package hls

import "sync"

// MessageCache holds the most recent sequence-header packet for each track
// (C4). The controller stores sequence headers here as they arrive; nothing
// in the package reads them back, and opening a segment does not consult
// the cache.
type MessageCache struct {
	mu    sync.Mutex
	audio *Packet
	video *Packet
}

// NewMessageCache returns an empty cache.
func NewMessageCache() *MessageCache {
	return &MessageCache{}
}

// CacheAudio stores p as the current audio sequence header.
func (c *MessageCache) CacheAudio(p *Packet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audio = p
}

// CacheVideo stores p as the current video sequence header.
func (c *MessageCache) CacheVideo(p *Packet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.video = p
}

// Audio returns the cached audio sequence header, or nil if none has arrived.
func (c *MessageCache) Audio() *Packet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.audio
}

// Video returns the cached video sequence header, or nil if none has arrived.
func (c *MessageCache) Video() *Packet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.video
}

// Clear drops both cached headers, for use on unpublish.
func (c *MessageCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audio = nil
	c.video = nil
}
