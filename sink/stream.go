package sink

import (
	"encoding/binary"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/wgpu/hal"
	"github.com/gorilla/websocket"

	"github.com/luxcast/luxcast"
	igpu "github.com/luxcast/luxcast/internal/gpu"
)

// senderQueueDepth bounds the render-thread to sender hand-off. The
// render thread drops when the channel is full and records the drop.
const senderQueueDepth = 2

// StreamSink broadcasts a screen's delayed frames to network subscribers.
// It stands in for the NDI/OMT transport family: the wire protocol is a
// minimal frame header plus raw pixels over a websocket, and the capture,
// queueing, and threading discipline is exactly what a production
// transport needs — a bounded hand-off channel, a dedicated sender
// goroutine, pipelined readbacks, and drop accounting.
type StreamSink struct {
	ctx *igpu.Context

	// Name identifies the stream to subscribers.
	Name string

	// Addr is the listen address, e.g. ":7400".
	Addr string

	mu      sync.Mutex
	ring    *captureRing
	server  *http.Server
	clients map[*websocket.Conn]bool

	frames  chan *PixelBuffer
	stop    chan struct{}
	done    chan struct{}
	started bool
	closed  bool

	// captureFPS caps how often frames are captured; zero means every
	// frame.
	captureFPS  float64
	lastCapture time.Time

	targetFPS float64
	dropped   atomic.Uint64
	sent      atomic.Uint64
}

// NewStreamSink creates a broadcaster named name listening on addr.
func NewStreamSink(ctx *igpu.Context, name, addr string) *StreamSink {
	return &StreamSink{
		ctx:     ctx,
		Name:    name,
		Addr:    addr,
		clients: make(map[*websocket.Conn]bool),
		frames:  make(chan *PixelBuffer, senderQueueDepth),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// SetCaptureFPS caps the capture rate. Zero restores every-frame capture.
func (s *StreamSink) SetCaptureFPS(fps float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.captureFPS = fps
}

// Bind implements Sink.
func (s *StreamSink) Bind(width, height uint32, targetFPS float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}
	if s.ring != nil && s.ring.dimensionsMatch(width, height) {
		return nil
	}
	if s.ring != nil {
		s.ring.destroy()
	}

	ring, err := newCaptureRing(s.ctx, width, height)
	if err != nil {
		return err
	}
	s.ring = ring
	s.targetFPS = targetFPS

	if !s.started {
		upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		mux := http.NewServeMux()
		mux.HandleFunc("/stream", func(w http.ResponseWriter, r *http.Request) {
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			s.mu.Lock()
			s.clients[conn] = true
			s.mu.Unlock()
			luxcast.Logger().Info("stream subscriber connected",
				"sink", s.Name, "remote", r.RemoteAddr)
		})
		s.server = &http.Server{Addr: s.Addr, Handler: mux}

		ln := s.server
		go func() {
			if err := ln.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				luxcast.Logger().Error("stream listener failed",
					"sink", s.Name, "err", err)
			}
		}()
		go s.senderLoop()
		s.started = true
		luxcast.Logger().Info("network stream started",
			"sink", s.Name, "addr", s.Addr, "size", fmt.Sprintf("%dx%d", width, height))
	}
	return nil
}

// Capture implements Sink. Respects the capture FPS cap and the ring's
// slot budget; a full ring drops the frame and counts it.
func (s *StreamSink) Capture(encoder hal.CommandEncoder, src hal.Texture) error {
	s.mu.Lock()
	ring := s.ring
	fpsCap := s.captureFPS
	s.mu.Unlock()
	if ring == nil {
		return ErrSinkClosed
	}

	if fpsCap > 0 {
		now := time.Now()
		if now.Sub(s.lastCapture) < time.Duration(float64(time.Second)/fpsCap) {
			return nil
		}
		s.lastCapture = now
	}

	if err := ring.capture(encoder, src); err != nil {
		return err
	}
	return nil
}

// Process implements Sink: completes the oldest pending readback and
// hands it to the sender. A full sender channel drops the frame.
func (s *StreamSink) Process() error {
	s.mu.Lock()
	ring := s.ring
	s.mu.Unlock()
	if ring == nil {
		return nil
	}

	buf, err := ring.complete()
	if err != nil {
		return err
	}
	if buf == nil {
		return nil
	}

	select {
	case s.frames <- buf:
	default:
		// Sender is behind; drop and count rather than stall the render
		// thread.
		s.dropped.Add(1)
	}
	return nil
}

// senderLoop consumes pixel buffers and writes them to every subscriber.
// It observes the stop channel and drains the queue on exit.
func (s *StreamSink) senderLoop() {
	defer close(s.done)
	for {
		select {
		case buf := <-s.frames:
			s.broadcast(buf)
		case <-s.stop:
			// Drain remaining frames before exiting.
			for {
				select {
				case buf := <-s.frames:
					s.broadcast(buf)
				default:
					return
				}
			}
		}
	}
}

// frameHeader is the 16-byte wire prefix: magic, width, height, sequence.
func frameHeader(w, h uint32, seq uint64) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:], 0x4C584653) // "LXFS"
	binary.LittleEndian.PutUint32(buf[4:], w)
	binary.LittleEndian.PutUint32(buf[8:], h)
	binary.LittleEndian.PutUint32(buf[12:], uint32(seq))
	return buf
}

// broadcast writes one frame to all subscribers, evicting dead ones.
func (s *StreamSink) broadcast(buf *PixelBuffer) {
	seq := s.sent.Add(1)

	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for c := range s.clients {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	header := frameHeader(buf.Width, buf.Height, seq)
	for _, c := range conns {
		c.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if err := c.WriteMessage(websocket.BinaryMessage, append(header, buf.Data...)); err != nil {
			s.mu.Lock()
			delete(s.clients, c)
			s.mu.Unlock()
			_ = c.Close()
			luxcast.Logger().Info("stream subscriber dropped", "sink", s.Name, "err", err)
		}
	}
}

// DimensionsMatch implements Sink.
func (s *StreamSink) DimensionsMatch(width, height uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ring != nil && s.ring.dimensionsMatch(width, height)
}

// DroppedFrames implements Sink.
func (s *StreamSink) DroppedFrames() uint64 {
	var n uint64
	s.mu.Lock()
	if s.ring != nil {
		n = s.ring.dropped.Load()
	}
	s.mu.Unlock()
	return n + s.dropped.Load()
}

// SentFrames returns the number of frames delivered to the sender.
func (s *StreamSink) SentFrames() uint64 { return s.sent.Load() }

// Close implements Sink.
func (s *StreamSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	s.mu.Unlock()

	if started {
		close(s.stop)
		<-s.done
		_ = s.server.Close()
	}

	s.mu.Lock()
	for c := range s.clients {
		_ = c.Close()
	}
	s.clients = nil
	if s.ring != nil {
		s.ring.destroy()
		s.ring = nil
	}
	s.mu.Unlock()
	return nil
}
