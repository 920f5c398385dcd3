package media

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/golang/snappy"
)

// goldenBC3Block is one BC3 block: two alpha endpoints, alpha indices,
// two RGB565 endpoints, color indices.
var goldenBC3Block = []byte{
	0xFF, 0x00, 0x49, 0x92, 0x24, 0x49, 0x92, 0x24,
	0x1F, 0xF8, 0x00, 0x00, 0x55, 0x55, 0x55, 0x55,
}

// goldenBC3Stream is a small frame's worth of identical blocks.
func goldenBC3Stream(blocks int) []byte {
	out := make([]byte, 0, blocks*len(goldenBC3Block))
	for i := 0; i < blocks; i++ {
		out = append(out, goldenBC3Block...)
	}
	return out
}

func TestParseHapPacketNone(t *testing.T) {
	blocks := goldenBC3Stream(16)
	packet := EncodeHapPacket(blocks, BlockBC3, false)

	got, format, err := ParseHapPacket(packet)
	if err != nil {
		t.Fatalf("ParseHapPacket failed: %v", err)
	}
	if format != BlockBC3 {
		t.Errorf("format = %v, want BC3", format)
	}
	if !bytes.Equal(got, blocks) {
		t.Error("round-trip mismatch for uncompressed payload")
	}
}

func TestParseHapPacketSnappy(t *testing.T) {
	blocks := goldenBC3Stream(64)
	packet := EncodeHapPacket(blocks, BlockBC3, true)

	got, format, err := ParseHapPacket(packet)
	if err != nil {
		t.Fatalf("ParseHapPacket failed: %v", err)
	}
	if format != BlockBC3 {
		t.Errorf("format = %v, want BC3", format)
	}
	if !bytes.Equal(got, blocks) {
		t.Error("snappy round-trip mismatch")
	}
}

func TestParseHapPacketEightByteHeader(t *testing.T) {
	// 8-byte header form: 24-bit length zero, type 0xBE (Snappy +
	// RGBA-BC3), explicit 32-bit length, snappy payload.
	blocks := goldenBC3Stream(32)
	payload := snappy.Encode(nil, blocks)

	packet := make([]byte, 8+len(payload))
	packet[0], packet[1], packet[2] = 0, 0, 0
	packet[3] = 0xBE
	binary.LittleEndian.PutUint32(packet[4:8], uint32(len(payload)))
	copy(packet[8:], payload)

	got, format, err := ParseHapPacket(packet)
	if err != nil {
		t.Fatalf("ParseHapPacket failed: %v", err)
	}
	if format != BlockBC3 {
		t.Errorf("format = %v, want BC3 for type 0xBE", format)
	}
	if !bytes.Equal(got, blocks) {
		t.Error("decoded blocks do not match golden BC3 fixture")
	}
}

func TestParseHapPacketBC1Format(t *testing.T) {
	blocks := make([]byte, 8*8) // 8 BC1 blocks
	for i := range blocks {
		blocks[i] = byte(i)
	}
	packet := EncodeHapPacket(blocks, BlockBC1, false)

	got, format, err := ParseHapPacket(packet)
	if err != nil {
		t.Fatalf("ParseHapPacket failed: %v", err)
	}
	if format != BlockBC1 {
		t.Errorf("format = %v, want BC1", format)
	}
	if !bytes.Equal(got, blocks) {
		t.Error("BC1 round-trip mismatch")
	}
}

func TestParseHapPacketComplex(t *testing.T) {
	// Complex frame: two sub-chunks, one uncompressed and one snappy,
	// whose payloads concatenate in declared order.
	chunkA := goldenBC3Stream(8)
	chunkB := goldenBC3Stream(12)

	subA := EncodeHapPacket(chunkA, BlockBC3, false)
	subB := EncodeHapPacket(chunkB, BlockBC3, true)

	inner := append(append([]byte{}, subA...), subB...)
	packet := make([]byte, 4+len(inner))
	packet[0] = byte(len(inner))
	packet[1] = byte(len(inner) >> 8)
	packet[2] = byte(len(inner) >> 16)
	packet[3] = hapCompressorComplex | hapFormatRGBABC3
	copy(packet[4:], inner)

	got, format, err := ParseHapPacket(packet)
	if err != nil {
		t.Fatalf("ParseHapPacket(complex) failed: %v", err)
	}
	if format != BlockBC3 {
		t.Errorf("format = %v, want BC3", format)
	}
	want := append(append([]byte{}, chunkA...), chunkB...)
	if !bytes.Equal(got, want) {
		t.Error("complex sub-chunk concatenation mismatch")
	}
}

func TestParseHapPacketErrors(t *testing.T) {
	tests := []struct {
		name   string
		packet []byte
		want   error
	}{
		{"empty", nil, ErrHapTruncated},
		{"short header", []byte{1, 0}, ErrHapTruncated},
		{"eight byte header truncated", []byte{0, 0, 0, 0xAE, 9}, ErrHapTruncated},
		{"payload beyond packet", []byte{0xFF, 0x00, 0x00, 0xAE, 1, 2}, ErrHapTruncated},
		{"unknown compressor", append([]byte{2, 0, 0, 0xDE}, 1, 2), ErrHapCompressor},
		{"bad snappy", append([]byte{3, 0, 0, 0xBE}, 0xFF, 0xFF, 0xFF), ErrHapSnappy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParseHapPacket(tt.packet)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestHapFormatNibbles(t *testing.T) {
	tests := []struct {
		nibble byte
		want   BlockFormat
	}{
		{hapFormatRGBABC3, BlockBC3},
		{hapFormatYCoCgBC3, BlockBC3},
		{hapFormatRGBBC1, BlockBC1},
		{0x01, BlockBC1},
	}
	for _, tt := range tests {
		if got := hapBlockFormat(tt.nibble); got != tt.want {
			t.Errorf("hapBlockFormat(0x%02X) = %v, want %v", tt.nibble, got, tt.want)
		}
	}
}

func TestBlockFormatBytesPerBlock(t *testing.T) {
	if BlockBC1.BytesPerBlock() != 8 || BlockBC3.BytesPerBlock() != 16 || BlockNone.BytesPerBlock() != 0 {
		t.Error("unexpected block sizes")
	}
}
