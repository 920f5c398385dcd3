package media

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/golang/snappy"
)

// HAP container parsing for raw BC block extraction.
// Format reference: https://github.com/Vidvox/hap/blob/master/documentation/HapVideoDRAFT.md
//
// Each packet begins with a section header. The 4-byte form encodes a
// 24-bit little-endian payload length in bytes 0-2 and the type in byte 3.
// When the 24-bit length is zero the header is the 8-byte form: byte 3 is
// still the type and bytes 4-7 carry a 32-bit little-endian length.
//
// The type byte splits into a compressor nibble (high) and a texture-format
// nibble (low).

// HAP compressor types (upper nibble of the type byte).
const (
	hapCompressorNone    = 0xA0
	hapCompressorSnappy  = 0xB0
	hapCompressorComplex = 0xC0
)

// HAP texture types (lower nibble of the type byte).
const (
	hapFormatRGBBC1    = 0x0B
	hapFormatRGBABC3   = 0x0E
	hapFormatYCoCgBC3  = 0x0F
)

// HAP parsing errors.
var (
	// ErrHapTruncated is returned when a packet is shorter than its header
	// or declared payload.
	ErrHapTruncated = errors.New("media: truncated HAP packet")

	// ErrHapCompressor is returned for an unknown compressor nibble.
	ErrHapCompressor = errors.New("media: unknown HAP compressor")

	// ErrHapSnappy is returned when snappy decompression fails.
	ErrHapSnappy = errors.New("media: HAP snappy decompression failed")
)

// hapSection is one decoded section header.
type hapSection struct {
	typeByte      byte
	payloadOffset int
	payloadLen    int
}

// parseHapSection decodes the section header at the start of data.
func parseHapSection(data []byte) (hapSection, error) {
	if len(data) < 4 {
		return hapSection{}, ErrHapTruncated
	}

	length24 := int(data[0]) | int(data[1])<<8 | int(data[2])<<16
	typeByte := data[3]

	if length24 == 0 {
		if len(data) < 8 {
			return hapSection{}, ErrHapTruncated
		}
		length32 := int(binary.LittleEndian.Uint32(data[4:8]))
		return hapSection{typeByte: typeByte, payloadOffset: 8, payloadLen: length32}, nil
	}
	return hapSection{typeByte: typeByte, payloadOffset: 4, payloadLen: length24}, nil
}

// ParseHapPacket extracts the raw BC block stream from one HAP container
// packet. The second return value is the block format implied by the
// texture-format nibble.
//
// Complex (multi-chunk) frames decode as the concatenation of their
// sub-chunks' payloads in declared order. A malformed sub-chunk fails the
// whole packet.
func ParseHapPacket(packet []byte) ([]byte, BlockFormat, error) {
	section, err := parseHapSection(packet)
	if err != nil {
		return nil, BlockNone, err
	}

	format := hapBlockFormat(section.typeByte & 0x0F)

	end := section.payloadOffset + section.payloadLen
	if end > len(packet) {
		return nil, BlockNone, fmt.Errorf("%w: payload %d bytes, packet %d",
			ErrHapTruncated, section.payloadLen, len(packet))
	}
	payload := packet[section.payloadOffset:end]

	blocks, err := decodeHapPayload(section.typeByte&0xF0, payload)
	if err != nil {
		return nil, BlockNone, err
	}
	return blocks, format, nil
}

// decodeHapPayload decompresses a section payload according to its
// compressor nibble.
func decodeHapPayload(compressor byte, payload []byte) ([]byte, error) {
	switch compressor {
	case hapCompressorNone:
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil

	case hapCompressorSnappy:
		out, err := snappy.Decode(nil, payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrHapSnappy, err)
		}
		return out, nil

	case hapCompressorComplex:
		return decodeHapComplex(payload)

	default:
		return nil, fmt.Errorf("%w: 0x%02X", ErrHapCompressor, compressor)
	}
}

// decodeHapComplex decodes a multi-chunk frame: a sequence of sub-sections
// with the same header shape, payloads concatenated in declared order.
func decodeHapComplex(payload []byte) ([]byte, error) {
	var out []byte
	rest := payload
	for len(rest) > 0 {
		section, err := parseHapSection(rest)
		if err != nil {
			return nil, err
		}
		end := section.payloadOffset + section.payloadLen
		if end > len(rest) {
			return nil, fmt.Errorf("%w: sub-chunk payload %d bytes, %d remain",
				ErrHapTruncated, section.payloadLen, len(rest)-section.payloadOffset)
		}
		chunk, err := decodeHapPayload(section.typeByte&0xF0, rest[section.payloadOffset:end])
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
		rest = rest[end:]
	}
	return out, nil
}

// hapBlockFormat maps the texture-format nibble to a BlockFormat. BC3
// covers both RGBA and YCoCg variants; everything else in the HAP family
// is BC1.
func hapBlockFormat(nibble byte) BlockFormat {
	if nibble == hapFormatRGBABC3 || nibble == hapFormatYCoCgBC3 {
		return BlockBC3
	}
	return BlockBC1
}

// EncodeHapPacket builds a single-section HAP packet around blocks, using
// the snappy compressor when compress is set. Used by transcoding tooling
// and tests.
func EncodeHapPacket(blocks []byte, format BlockFormat, compress bool) []byte {
	var formatNibble byte = hapFormatRGBBC1
	if format == BlockBC3 {
		formatNibble = hapFormatRGBABC3
	}

	payload := blocks
	var compressorNibble byte = hapCompressorNone
	if compress {
		payload = snappy.Encode(nil, blocks)
		compressorNibble = hapCompressorSnappy
	}

	typeByte := compressorNibble | formatNibble

	// Use the 4-byte header when the length fits in 24 bits, the 8-byte
	// form otherwise.
	if len(payload) < 1<<24 {
		packet := make([]byte, 4+len(payload))
		packet[0] = byte(len(payload))
		packet[1] = byte(len(payload) >> 8)
		packet[2] = byte(len(payload) >> 16)
		packet[3] = typeByte
		copy(packet[4:], payload)
		return packet
	}

	packet := make([]byte, 8+len(payload))
	packet[3] = typeByte
	binary.LittleEndian.PutUint32(packet[4:8], uint32(len(payload)))
	copy(packet[8:], payload)
	return packet
}
