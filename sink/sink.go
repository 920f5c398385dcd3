// Package sink abstracts the destinations a screen's finished frames go
// to: on-screen surfaces, shared textures, and network streams. Network
// sinks capture through pipelined GPU readbacks and hand completed pixel
// buffers to a background sender.
package sink

import (
	"errors"

	"github.com/gogpu/wgpu/hal"
)

// Sink errors.
var (
	// ErrSinkClosed is returned when operating on a closed sink.
	ErrSinkClosed = errors.New("sink: closed")

	// ErrBindFailed is returned when a sink cannot allocate its
	// resources or open its transport.
	ErrBindFailed = errors.New("sink: bind failed")

	// ErrCaptureBusy is returned when every capture slot is in flight;
	// the frame is dropped.
	ErrCaptureBusy = errors.New("sink: all capture slots busy")
)

// Sink is the capability set the screen pipeline drives.
//
// Capture enqueues a GPU copy of the source texture into the sink's
// pipeline; it must not block. Process advances the async pipeline
// (polling readbacks, handing buffers to senders) and is called after the
// frame's GPU work completed. Captures may span multiple frames.
type Sink interface {
	// Bind allocates the sink's resources for the given output size and
	// rate.
	Bind(width, height uint32, targetFPS float64) error

	// Capture enqueues a copy of src for delivery. The frame carries the
	// screen's delayed content.
	Capture(encoder hal.CommandEncoder, src hal.Texture) error

	// Process polls outstanding readbacks and hands completed buffers
	// off. Called once per frame after GPU submission completes.
	Process() error

	// DimensionsMatch reports whether the sink was bound for w x h.
	DimensionsMatch(width, height uint32) bool

	// DroppedFrames is the rolling count of frames this sink dropped.
	DroppedFrames() uint64

	// Close stops the sink and releases its resources, draining the
	// sender.
	Close() error
}
