package stream

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStreamer(t *testing.T, slot *Slot) *Streamer {
	t.Helper()
	streamer, err := NewStreamer(slot, Config{
		FrameRate: 1000,
		Size:      image.Pt(64, 36),
		Quality:   70,
	}, nil)
	require.NoError(t, err)
	return streamer
}

func TestPart(t *testing.T) {
	t.Parallel()

	part := Part([]byte("JPEG"))
	assert.Equal(t, "--frame\r\nContent-Type: image/jpeg\r\n\r\nJPEG\r\n\r\n", string(part))
	assert.Equal(t, "multipart/x-mixed-replace; boundary=frame", ContentType)
}

func TestSlot(t *testing.T) {
	t.Parallel()

	var slot Slot
	assert.Nil(t, slot.Load())

	slot.Publish([]byte("one"))
	slot.Publish([]byte("two"))
	assert.Equal(t, []byte("two"), slot.Load())
}

func TestSlot_ConcurrentPublish(t *testing.T) {
	t.Parallel()

	slot := NewSlot(nil)
	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			for range 100 {
				slot.Publish([]byte("frame"))
				_ = slot.Load()
			}
		})
	}
	wg.Wait()
	assert.Equal(t, []byte("frame"), slot.Load())
}

func TestNewStreamer_FrameRateBounds(t *testing.T) {
	t.Parallel()

	for _, rate := range []int{0, -1, MaxFrameRate + 1, 2_000_000_000} {
		_, err := NewStreamer(NewSlot(nil), Config{FrameRate: rate}, nil)
		require.Error(t, err, "rate %d", rate)
	}

	streamer, err := NewStreamer(NewSlot(nil), Config{FrameRate: MaxFrameRate}, nil)
	require.NoError(t, err)
	assert.Equal(t, time.Millisecond, streamer.interval)
}

func TestSubscribe_YieldsLatest(t *testing.T) {
	t.Parallel()

	slot := NewSlot(nil)
	streamer := newTestStreamer(t, slot)
	slot.Publish([]byte("first"))

	var parts [][]byte
	for part := range streamer.Subscribe(t.Context()) {
		parts = append(parts, part)
		if len(parts) == 2 {
			slot.Publish([]byte("second"))
		}
		if len(parts) == 4 {
			break
		}
	}

	assert.Equal(t, Part([]byte("first")), parts[0])
	assert.Equal(t, Part([]byte("first")), parts[1], "unchanged slot is re-sent")
	assert.Equal(t, Part([]byte("second")), parts[2])
	assert.Equal(t, Part([]byte("second")), parts[3])
}

func TestSubscribe_WaitsForFirstFrame(t *testing.T) {
	t.Parallel()

	slot := NewSlot(nil)
	streamer := newTestStreamer(t, slot)

	go func() {
		time.Sleep(20 * time.Millisecond)
		slot.Publish([]byte("late"))
	}()

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	for part := range streamer.Subscribe(ctx) {
		assert.Equal(t, Part([]byte("late")), part)
		return
	}
	t.Fatal("sequence ended without a frame")
}

func TestSubscribe_EndsWithContext(t *testing.T) {
	t.Parallel()

	slot := NewSlot(nil)
	slot.Publish([]byte("frame"))
	streamer := newTestStreamer(t, slot)

	ctx, cancel := context.WithTimeout(t.Context(), 30*time.Millisecond)
	defer cancel()

	count := 0
	for range streamer.Subscribe(ctx) {
		count++
	}
	assert.Positive(t, count)
	require.ErrorIs(t, ctx.Err(), context.DeadlineExceeded)
}

func TestSubscribe_Paced(t *testing.T) {
	t.Parallel()

	slot := NewSlot(nil)
	slot.Publish([]byte("frame"))
	streamer, err := NewStreamer(slot, Config{FrameRate: 50}, nil)
	require.NoError(t, err)

	start := time.Now()
	count := 0
	for range streamer.Subscribe(t.Context()) {
		count++
		if count == 5 {
			break
		}
	}
	assert.GreaterOrEqual(t, time.Since(start), 5*20*time.Millisecond)
}

func TestSubscribe_Independent(t *testing.T) {
	t.Parallel()

	slot := NewSlot(nil)
	slot.Publish([]byte("frame"))
	streamer := newTestStreamer(t, slot)

	seq := streamer.Subscribe(t.Context())
	for range 2 {
		n := 0
		for range seq {
			n++
			if n == 3 {
				break
			}
		}
		assert.Equal(t, 3, n, "sequence restarts on each range")
	}
}

func TestUpdate(t *testing.T) {
	t.Parallel()

	slot := NewSlot(nil)
	streamer := newTestStreamer(t, slot)

	raw := image.NewRGBA(image.Rect(0, 0, 320, 180))
	for x := range 320 {
		raw.Set(x, 90, color.RGBA{R: 255, A: 255})
	}
	require.NoError(t, streamer.Update(raw))

	frame := slot.Load()
	require.NotNil(t, frame)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(frame))
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Width)
	assert.Equal(t, 36, cfg.Height)
}

func TestJPEG_KeepsSizeWhenUnset(t *testing.T) {
	t.Parallel()

	frame, err := JPEG{}.Encode(image.NewGray(image.Rect(0, 0, 16, 8)), image.Point{}, 90)
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(frame))
	require.NoError(t, err)
	assert.Equal(t, image.Pt(16, 8), img.Bounds().Size())
}
