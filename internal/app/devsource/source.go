// Package devsource provides a synthetic frame producer for development and
// testing. It renders scrolling color bars from a seeded random palette.
package devsource

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math/rand/v2"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
)

// Pattern generation constants.
const (
	minBars      = 4
	maxExtraBars = 5 // 4-8 bars total
	frameWidth   = 640
	frameHeight  = 360
	markerHeight = 16
	scrollStep   = 4 // pixels per frame
	maxFrameRate = 1000
)

// Seed returns the dev source seed from the DEV_SOURCE_SEED environment
// variable, or a random value if not set.
func Seed() uint64 {
	if env := os.Getenv("DEV_SOURCE_SEED"); env != "" {
		if seed, err := strconv.ParseUint(env, 10, 64); err == nil {
			return seed
		}
	}
	return rand.Uint64() //nolint:gosec // intentionally weak random for test data
}

// Updater receives raw frames, typically a *stream.Streamer.
type Updater interface {
	Update(raw image.Image) error
}

// Source produces test-pattern frames.
type Source struct {
	palette []color.RGBA
	size    image.Point
}

// New creates a new dev source with a seeded random palette.
func New(seed uint64) *Source {
	faker := gofakeit.New(seed)
	numBars := minBars + faker.IntN(maxExtraBars)
	palette := make([]color.RGBA, numBars)
	for i := range palette {
		palette[i] = color.RGBA{
			R: uint8(faker.IntN(256)), //nolint:gosec,mnd // bounded by IntN
			G: uint8(faker.IntN(256)), //nolint:gosec,mnd // bounded by IntN
			B: uint8(faker.IntN(256)), //nolint:gosec,mnd // bounded by IntN
			A: 0xff,
		}
	}
	return &Source{
		palette: palette,
		size:    image.Pt(frameWidth, frameHeight),
	}
}

// Frame renders frame number n. Bars scroll left as n grows and a white
// marker sweeps along the bottom edge.
func (s *Source) Frame(n int) image.Image {
	img := image.NewRGBA(image.Rectangle{Max: s.size})
	barWidth := s.size.X / len(s.palette)
	shift := (n * scrollStep) % s.size.X

	for y := range s.size.Y {
		for x := range s.size.X {
			c := s.palette[((x+shift)%s.size.X/barWidth)%len(s.palette)]
			if y >= s.size.Y-markerHeight && x >= shift && x < shift+markerHeight {
				c = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

// Run publishes frames to dst at rate frames per second until ctx is done.
func (s *Source) Run(ctx context.Context, dst Updater, rate int) error {
	if rate <= 0 || rate > maxFrameRate {
		return fmt.Errorf("rate must be within 1-%d, got %d", maxFrameRate, rate)
	}
	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()

	for n := 0; ; n++ {
		if err := dst.Update(s.Frame(n)); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
