package media

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os/exec"
	"strconv"
	"sync"
)

// hapSource is the GPU-native fast path for HAP-family clips. The demuxer
// child copies the video stream's packets verbatim (no decode), and the
// reader walks the HAP section headers to recover packet boundaries. Each
// frame's payload is the raw BC block stream, ready for direct upload into
// a BC texture.
type hapSource struct {
	mu sync.Mutex

	path string
	meta Metadata

	cmd    *exec.Cmd
	reader *bufio.Reader
	stdout io.ReadCloser

	// startPTS is the seek origin; packet timestamps are synthesized from
	// the frame counter at the container's rate.
	startPTS float64
	frameNum uint64
	eof      bool
	closed   bool
}

// newHapSource starts the packet-extraction chain for path.
func newHapSource(path string, meta Metadata) (*hapSource, error) {
	s := &hapSource{path: path, meta: meta}
	if err := s.start(0); err != nil {
		return nil, err
	}
	logi("GPU-native codec detected, extracting BC packets",
		"clip", sourceLabel(path), "codec", meta.Codec)
	return s, nil
}

// start launches the demuxer at startSeconds.
func (s *hapSource) start(startSeconds float64) error {
	args := []string{"-v", "error", "-nostdin"}
	if startSeconds > 0 {
		args = append(args, "-ss", strconv.FormatFloat(startSeconds, 'f', 3, 64))
	}
	// Stream copy into the rawvideo muxer concatenates the packets
	// unchanged; HAP section headers carry the lengths needed to split
	// them again.
	args = append(args,
		"-i", s.path,
		"-map", "0:v:0",
		"-c", "copy",
		"-f", "rawvideo",
		"-",
	)

	cmd := exec.Command("ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: stdout pipe: %v", ErrDecoderInit, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrDecoderInit, err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.stdout = stdout
	s.reader = bufio.NewReaderSize(stdout, 1<<20)
	s.startPTS = startSeconds
	s.frameNum = 0
	s.eof = false
	s.mu.Unlock()
	return nil
}

// readPacket reads one complete HAP packet (header + payload) from the
// stream.
func (s *hapSource) readPacket() ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(s.reader, header); err != nil {
		return nil, err
	}

	length24 := int(header[0]) | int(header[1])<<8 | int(header[2])<<16
	if length24 == 0 {
		ext := make([]byte, 4)
		if _, err := io.ReadFull(s.reader, ext); err != nil {
			return nil, err
		}
		length32 := int(ext[0]) | int(ext[1])<<8 | int(ext[2])<<16 | int(ext[3])<<24
		packet := make([]byte, 8+length32)
		copy(packet, header)
		copy(packet[4:], ext)
		if _, err := io.ReadFull(s.reader, packet[8:]); err != nil {
			return nil, err
		}
		return packet, nil
	}

	packet := make([]byte, 4+length24)
	copy(packet, header)
	if _, err := io.ReadFull(s.reader, packet[4:]); err != nil {
		return nil, err
	}
	return packet, nil
}

// NextFrame implements Source.
func (s *hapSource) NextFrame() (*Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSourceClosed
	}
	if s.eof {
		return nil, nil
	}

	packet, err := s.readPacket()
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			s.eof = true
			return nil, nil
		}
		return nil, fmt.Errorf("media: read HAP packet: %w", err)
	}

	blocks, format, err := ParseHapPacket(packet)
	if err != nil {
		// A packet that fails to parse is logged and skipped, and the
		// next packet's frame is returned instead; the skipped frame is
		// not decoded through the pixel path.
		logw("HAP packet parse failed, skipping frame",
			"clip", sourceLabel(s.path), "frame", s.frameNum, "err", err)
		s.frameNum++
		return s.nextLocked()
	}

	pts := s.startPTS + float64(s.frameNum)/s.meta.FrameRate
	frame := &Frame{
		Data:   blocks,
		Width:  s.meta.Width,
		Height: s.meta.Height,
		PTS:    pts,
		Index:  uint64(math.Round(pts * s.meta.FrameRate)),
		Block:  format,
	}
	s.frameNum++
	return frame, nil
}

// nextLocked re-enters NextFrame with the lock already held, used after a
// skipped packet.
func (s *hapSource) nextLocked() (*Frame, error) {
	s.mu.Unlock()
	defer s.mu.Lock()
	return s.NextFrame()
}

// Seek implements Source.
func (s *hapSource) Seek(tSeconds float64) error {
	if tSeconds < 0 {
		tSeconds = 0
	}
	s.stopProcess()
	return s.start(tSeconds)
}

// Reset implements Source.
func (s *hapSource) Reset() error { return s.Seek(0) }

// Metadata implements Source.
func (s *hapSource) Metadata() Metadata { return s.meta }

// Close implements Source.
func (s *hapSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.stopProcess()
	return nil
}

func (s *hapSource) stopProcess() {
	s.mu.Lock()
	cmd := s.cmd
	stdout := s.stdout
	s.mu.Unlock()

	if stdout != nil {
		_ = stdout.Close()
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}
}
