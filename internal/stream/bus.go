package stream

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Boundary is the multipart boundary token announced in the stream's
// Content-Type header.
const Boundary = "frame"

// Defaults match the production tuning; both are configurable.
const (
	DefaultQueueSize    = 10
	DefaultMinFrameSize = 1000
)

// viewer is one live video consumer. Its queue is written only under the
// bus lock, which makes close-vs-send races impossible.
type viewer struct {
	id    string
	queue chan []byte
}

// FrameBus fans binary video frames out to every registered viewer
// through private bounded queues. Producers never block: when a viewer's
// queue is full the oldest frames are evicted to make room, because a
// newer frame always supersedes older ones. The most recent frame is
// cached so a newly joined viewer sees a picture before the next device
// push.
type FrameBus struct {
	queueSize    int
	minFrameSize int

	mu            sync.Mutex
	viewers       map[string]*viewer
	latest        []byte
	latestWrapped []byte
	frameCount    uint64
	rejectedCount uint64
	lastFrameAt   time.Time
}

// NewFrameBus creates an empty bus. Non-positive tuning values fall back
// to the defaults.
func NewFrameBus(queueSize, minFrameSize int) *FrameBus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if minFrameSize <= 0 {
		minFrameSize = DefaultMinFrameSize
	}
	return &FrameBus{
		queueSize:    queueSize,
		minFrameSize: minFrameSize,
		viewers:      make(map[string]*viewer),
	}
}

// AddViewer registers a new viewer and returns its id and receive
// channel. If a frame has already been published, one wrapped copy is
// enqueued immediately.
func (b *FrameBus) AddViewer() (string, <-chan []byte) {
	v := &viewer{
		id:    uuid.New().String(),
		queue: make(chan []byte, b.queueSize),
	}

	b.mu.Lock()
	b.viewers[v.id] = v
	if b.latestWrapped != nil {
		v.queue <- b.latestWrapped
	}
	total := len(b.viewers)
	b.mu.Unlock()

	log.Info().Str("viewerID", v.id).Int("viewers", total).Msg("Stream viewer connected")
	return v.id, v.queue
}

// RemoveViewer drops a viewer and closes its queue. Calling it twice is a
// no-op.
func (b *FrameBus) RemoveViewer(id string) {
	b.mu.Lock()
	v, ok := b.viewers[id]
	if ok {
		delete(b.viewers, id)
		close(v.queue)
	}
	remaining := len(b.viewers)
	b.mu.Unlock()

	if ok {
		log.Info().Str("viewerID", id).Int("viewers", remaining).Msg("Stream viewer disconnected")
	}
}

// PublishFrame distributes a raw frame to every viewer. Frames below the
// minimum plausible size are treated as corrupt and dropped before
// touching any queue. The multipart wrapping is computed once per
// publish, not once per viewer.
func (b *FrameBus) PublishFrame(raw []byte) {
	if len(raw) < b.minFrameSize {
		b.mu.Lock()
		b.rejectedCount++
		b.mu.Unlock()
		log.Debug().Int("size", len(raw)).Int("min", b.minFrameSize).Msg("Frame below minimum size, dropped")
		return
	}

	wrapped := WrapFrame(raw)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.latest = append([]byte(nil), raw...)
	b.latestWrapped = wrapped
	b.frameCount++
	b.lastFrameAt = time.Now()

	var dead []string
	for _, v := range b.viewers {
		// Evict oldest entries until a push is guaranteed to fit. The
		// len(v.queue) > 0 guard keeps a queue of capacity 1 from
		// spinning here once it is already empty.
		for len(v.queue) > 0 && len(v.queue) >= b.queueSize-1 {
			select {
			case <-v.queue:
			default:
			}
		}
		select {
		case v.queue <- wrapped:
		default:
			// Still full after eviction: the queue is wedged, treat the
			// viewer as dead.
			dead = append(dead, v.id)
		}
	}

	for _, id := range dead {
		if v, ok := b.viewers[id]; ok {
			delete(b.viewers, id)
			close(v.queue)
			log.Warn().Str("viewerID", id).Msg("Viewer queue wedged, removed")
		}
	}
}

// LatestWrapped returns the cached latest frame in wire framing, for
// keep-alive sends.
func (b *FrameBus) LatestWrapped() ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.latestWrapped == nil {
		return nil, false
	}
	return b.latestWrapped, true
}

// Stats returns a read-only snapshot of the bus.
func (b *FrameBus) Stats() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := map[string]interface{}{
		"viewer_count":     len(b.viewers),
		"frame_count":      b.frameCount,
		"rejected_count":   b.rejectedCount,
		"has_latest_frame": b.latestWrapped != nil,
	}
	if !b.lastFrameAt.IsZero() {
		stats["last_frame_age_seconds"] = time.Since(b.lastFrameAt).Seconds()
	}
	return stats
}

// WrapFrame wraps a raw JPEG in the multipart/x-mixed-replace boundary
// framing. Viewer compatibility depends on this byte layout exactly.
func WrapFrame(raw []byte) []byte {
	header := fmt.Sprintf("--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", Boundary, len(raw))
	buf := make([]byte, 0, len(header)+len(raw)+2)
	buf = append(buf, header...)
	buf = append(buf, raw...)
	buf = append(buf, '\r', '\n')
	return buf
}
