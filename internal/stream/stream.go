// Package stream publishes encoded frames to any number of multipart
// consumers.
//
// A producer writes frames into a [Slot] at whatever rate it likes; each
// consumer samples the slot at the [Streamer]'s frame rate. Consumers see the
// latest frame at each tick, not every frame published.
package stream

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"iter"
	"sync/atomic"
	"time"

	"github.com/stolasapp/framecast/internal/observability"
)

// ContentType is the response content type of a multipart frame stream.
const ContentType = "multipart/x-mixed-replace; boundary=" + boundary

const boundary = "frame"

// MaxFrameRate is the highest supported frame rate.
const MaxFrameRate = 1000

var (
	partHeader  = []byte("--" + boundary + "\r\nContent-Type: image/jpeg\r\n\r\n")
	partTrailer = []byte("\r\n\r\n")
)

// Slot holds the most recently published frame. The zero value is empty and
// ready to use.
type Slot struct {
	frame   atomic.Pointer[[]byte]
	metrics *observability.Metrics
}

// NewSlot returns an empty slot that records publishes to metrics.
func NewSlot(metrics *observability.Metrics) *Slot {
	return &Slot{metrics: metrics}
}

// Publish replaces the current frame. The slot takes ownership of frame; the
// caller must not modify it afterwards.
func (s *Slot) Publish(frame []byte) {
	s.frame.Store(&frame)
	s.metrics.FramePublished()
}

// Load returns the current frame, or nil before the first publish.
func (s *Slot) Load() []byte {
	if frame := s.frame.Load(); frame != nil {
		return *frame
	}
	return nil
}

// Part frames an encoded JPEG as one multipart element.
func Part(frame []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(partHeader) + len(frame) + len(partTrailer))
	buf.Write(partHeader)
	buf.Write(frame)
	buf.Write(partTrailer)
	return buf.Bytes()
}

// Streamer paces consumers of a [Slot] and encodes raw frames into it.
type Streamer struct {
	slot     *Slot
	source   FrameSource
	interval time.Duration
	size     image.Point
	quality  int
	metrics  *observability.Metrics
}

// Config configures a [Streamer].
type Config struct {
	// FrameRate is the number of frames per second sent to each consumer.
	FrameRate int
	// Size is the resolution raw frames are scaled to before encoding.
	Size image.Point
	// Quality is the JPEG quality, 1-100.
	Quality int
	// Source encodes raw frames. Defaults to [JPEG].
	Source FrameSource
}

// NewStreamer creates a Streamer over slot.
func NewStreamer(slot *Slot, cfg Config, metrics *observability.Metrics) (*Streamer, error) {
	if cfg.FrameRate <= 0 || cfg.FrameRate > MaxFrameRate {
		return nil, fmt.Errorf("frame rate must be within 1-%d, got %d", MaxFrameRate, cfg.FrameRate)
	}
	if cfg.Source == nil {
		cfg.Source = JPEG{}
	}
	return &Streamer{
		slot:     slot,
		source:   cfg.Source,
		interval: time.Second / time.Duration(cfg.FrameRate),
		size:     cfg.Size,
		quality:  cfg.Quality,
		metrics:  metrics,
	}, nil
}

// Update encodes raw at the configured resolution and quality and publishes
// the result.
func (s *Streamer) Update(raw image.Image) error {
	frame, err := s.source.Encode(raw, s.size, s.quality)
	if err != nil {
		return err
	}
	s.slot.Publish(frame)
	return nil
}

// Subscribe returns an unbounded sequence of multipart elements. Each
// element is produced by waiting one frame interval and then reading the
// slot; ticks before the first publish produce nothing. The sequence ends
// when ctx is done or the consumer stops iterating. Every call returns an
// independent sequence.
func (s *Streamer) Subscribe(ctx context.Context) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		s.metrics.SubscriberAdded()
		defer s.metrics.SubscriberRemoved()

		timer := time.NewTimer(s.interval)
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
			timer.Reset(s.interval)

			frame := s.slot.Load()
			if frame == nil {
				continue
			}
			if !yield(Part(frame)) {
				return
			}
		}
	}
}
