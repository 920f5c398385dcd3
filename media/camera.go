package media

import (
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
)

// cameraDefaults are used when the device does not report a mode.
const (
	cameraDefaultWidth  = 1280
	cameraDefaultHeight = 720
	cameraDefaultFPS    = 30
)

// cameraSource captures a device on its own goroutine and publishes into a
// latest-only slot: the render thread always sees the most recent frame and
// older frames are dropped, never queued.
type cameraSource struct {
	meta Metadata
	opts Options

	cmd    *exec.Cmd
	stdout io.ReadCloser

	slot Slot
	// lastSeq is the sequence of the last frame handed to NextFrame.
	lastSeq uint64

	stopFlag atomic.Bool
	done     chan struct{}

	mu     sync.Mutex
	closed bool
	runErr error
}

// cameraInputArgs returns the platform capture-device input arguments.
func cameraInputArgs(deviceIndex int) []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{"-f", "avfoundation", "-framerate", "30",
			"-i", strconv.Itoa(deviceIndex)}
	case "windows":
		return []string{"-f", "dshow",
			"-i", "video=" + strconv.Itoa(deviceIndex)}
	default:
		return []string{"-f", "v4l2",
			"-i", "/dev/video" + strconv.Itoa(deviceIndex)}
	}
}

// newCameraSource opens capture device deviceIndex.
func newCameraSource(deviceIndex int, opts Options) (*cameraSource, error) {
	s := &cameraSource{
		meta: Metadata{
			Width:     cameraDefaultWidth,
			Height:    cameraDefaultHeight,
			FrameRate: cameraDefaultFPS,
			Codec:     "camera",
		},
		opts: opts,
		done: make(chan struct{}),
	}

	args := []string{"-v", "error", "-nostdin"}
	args = append(args, cameraInputArgs(deviceIndex)...)
	args = append(args,
		"-vf", fmt.Sprintf("scale=%d:%d", s.meta.Width, s.meta.Height),
		"-f", "rawvideo",
		"-pix_fmt", opts.PixelFormat.String(),
		"-",
	)

	cmd := exec.Command("ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %v", ErrDecoderInit, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: camera %d: %v", ErrDecoderInit, deviceIndex, err)
	}
	s.cmd = cmd
	s.stdout = stdout

	go s.captureWorker(stdout)

	logi("camera capture started", "device", deviceIndex,
		"size", fmt.Sprintf("%dx%d", s.meta.Width, s.meta.Height))
	return s, nil
}

// captureWorker reads frames and publishes the latest into the slot. It
// observes the cooperative stop flag between frames.
func (s *cameraSource) captureWorker(stdout io.Reader) {
	defer close(s.done)
	defer func() { _ = s.cmd.Wait() }()

	frameSize := ExpectedPixelSize(s.meta.Width, s.meta.Height)
	n := uint64(0)

	for !s.stopFlag.Load() {
		buf := make([]byte, frameSize)
		if _, err := io.ReadFull(stdout, buf); err != nil {
			if !s.stopFlag.Load() {
				s.mu.Lock()
				s.runErr = fmt.Errorf("media: camera capture: %w", err)
				s.mu.Unlock()
			}
			return
		}

		pts := float64(n) / s.meta.FrameRate
		s.slot.Publish(&Frame{
			Data:   buf,
			Width:  s.meta.Width,
			Height: s.meta.Height,
			PTS:    pts,
			Index:  n,
			Pixels: s.opts.PixelFormat,
		})
		n++
	}
}

// NextFrame implements Source. It returns the latest captured frame once
// per capture; a repeat call before a new frame arrives returns
// ErrFrameNotReady so the caller keeps its previous texture.
func (s *cameraSource) NextFrame() (*Frame, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSourceClosed
	}
	err := s.runErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	frame, seq := s.slot.Latest()
	if frame == nil || seq == s.lastSeq {
		return nil, ErrFrameNotReady
	}
	s.lastSeq = seq
	return frame, nil
}

// Seek is a no-op on live sources.
func (s *cameraSource) Seek(float64) error { return nil }

// Reset is a no-op on live sources.
func (s *cameraSource) Reset() error { return nil }

// Metadata implements Source.
func (s *cameraSource) Metadata() Metadata { return s.meta }

// Close implements Source.
func (s *cameraSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.stopFlag.Store(true)
	if s.stdout != nil {
		_ = s.stdout.Close()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	<-s.done
	return nil
}
