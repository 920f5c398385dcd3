package media

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// ffprobe JSON output, reduced to the fields the selector needs.
type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

type probeStream struct {
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	Width        uint32 `json:"width"`
	Height       uint32 `json:"height"`
	AvgFrameRate string `json:"avg_frame_rate"`
	Duration     string `json:"duration"`
}

type probeFormat struct {
	Duration string `json:"duration"`
}

// probeFile inspects a container with ffprobe and returns its metadata.
func probeFile(path string) (Metadata, error) {
	if _, err := os.Stat(path); err != nil {
		return Metadata{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	cmd := exec.Command("ffprobe",
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=codec_type,codec_name,width,height,avg_frame_rate,duration",
		"-show_entries", "format=duration",
		"-of", "json",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: ffprobe: %v", ErrUnsupportedFormat, err)
	}

	var probed probeOutput
	if err := json.Unmarshal(out, &probed); err != nil {
		return Metadata{}, fmt.Errorf("%w: ffprobe output: %v", ErrUnsupportedFormat, err)
	}

	var video *probeStream
	for i := range probed.Streams {
		if probed.Streams[i].CodecType == "video" {
			video = &probed.Streams[i]
			break
		}
	}
	if video == nil {
		return Metadata{}, fmt.Errorf("%w: %s", ErrNoVideoStream, sourceLabel(path))
	}
	if video.Width == 0 || video.Height == 0 {
		return Metadata{}, fmt.Errorf("%w: zero-sized stream", ErrUnsupportedFormat)
	}

	meta := Metadata{
		Width:     video.Width,
		Height:    video.Height,
		FrameRate: parseRational(video.AvgFrameRate),
		Codec:     video.CodecName,
	}
	if meta.FrameRate <= 0 {
		meta.FrameRate = 30
	}

	if d, err := strconv.ParseFloat(video.Duration, 64); err == nil && d > 0 {
		meta.Duration = d
	} else if d, err := strconv.ParseFloat(probed.Format.Duration, 64); err == nil && d > 0 {
		meta.Duration = d
	}

	return meta, nil
}

// parseRational parses ffprobe's "num/den" frame-rate notation. Plain
// numbers parse too. Returns 0 for malformed or zero-denominator input.
func parseRational(s string) float64 {
	if s == "" {
		return 0
	}
	if num, den, ok := strings.Cut(s, "/"); ok {
		n, err1 := strconv.ParseFloat(num, 64)
		d, err2 := strconv.ParseFloat(den, 64)
		if err1 != nil || err2 != nil || d == 0 {
			return 0
		}
		return n / d
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
