// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies how a frame payload is compressed. The value
// is the first byte of every frame and is a protocol constant.
type Compression uint8

const (
	// CompressionNone carries the encoded value as is.
	CompressionNone Compression = 0

	// CompressionLZ4 is LZ4 block compression.
	CompressionLZ4 Compression = 1

	// CompressionZstd is zstd at the default level. Snapshots are
	// repetitive maps of short strings and compress well with it.
	CompressionZstd Compression = 2
)

// MaxFrameSize bounds the decoded size of a frame payload.
const MaxFrameSize = 16 << 20

// CompressionThreshold is the encoded size below which frames are sent
// uncompressed regardless of the requested algorithm.
const CompressionThreshold = 1024

var (
	// ErrUnknownCompression is returned for an unrecognized tag.
	ErrUnknownCompression = errors.New("codec: unknown compression")

	// ErrFrameTooLarge is returned when a frame declares a payload
	// larger than MaxFrameSize.
	ErrFrameTooLarge = errors.New("codec: frame exceeds maximum size")

	errEmptyFrame = errors.New("codec: empty frame")
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression maps a configuration name to a Compression.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	case "none":
		return CompressionNone, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownCompression, name)
	}
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("codec: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxFrameSize))
	if err != nil {
		panic("codec: zstd decoder initialization failed: " + err.Error())
	}
}

// EncodeFrame encodes v and wraps it in a frame. Payloads smaller than
// CompressionThreshold, or that do not shrink, go out uncompressed.
//
// Layout: tag byte, then for compressed frames the uncompressed length
// as a uvarint, then the payload.
func EncodeFrame(v any, compression Compression) ([]byte, error) {
	encoded, err := Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding frame: %w", err)
	}
	if len(encoded) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	if compression != CompressionNone && len(encoded) >= CompressionThreshold {
		compressed, ok, err := compress(encoded, compression)
		if err != nil {
			return nil, err
		}
		if ok {
			frame := make([]byte, 1, 1+binary.MaxVarintLen64+len(compressed))
			frame[0] = byte(compression)
			frame = binary.AppendUvarint(frame, uint64(len(encoded)))
			return append(frame, compressed...), nil
		}
	}

	frame := make([]byte, 0, 1+len(encoded))
	frame = append(frame, byte(CompressionNone))
	return append(frame, encoded...), nil
}

// DecodeFrame unwraps a frame produced by EncodeFrame and decodes the
// value into v.
func DecodeFrame(frame []byte, v any) error {
	payload, err := framePayload(frame)
	if err != nil {
		return err
	}
	if err := Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decoding frame: %w", err)
	}
	return nil
}

func framePayload(frame []byte) ([]byte, error) {
	if len(frame) == 0 {
		return nil, errEmptyFrame
	}
	tag := Compression(frame[0])
	if tag == CompressionNone {
		return frame[1:], nil
	}

	size, n := binary.Uvarint(frame[1:])
	if n <= 0 {
		return nil, fmt.Errorf("codec: malformed %s frame length", tag)
	}
	if size > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	body := frame[1+n:]

	switch tag {
	case CompressionLZ4:
		destination := make([]byte, size)
		read, err := lz4.UncompressBlock(body, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if uint64(read) != size {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, frame declares %d", read, size)
		}
		return destination, nil
	case CompressionZstd:
		destination, err := zstdDecoder.DecodeAll(body, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if uint64(len(destination)) != size {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, frame declares %d", len(destination), size)
		}
		return destination, nil
	default:
		return nil, fmt.Errorf("%w: tag %d", ErrUnknownCompression, uint8(tag))
	}
}

// compress reports ok=false when the data does not shrink.
func compress(data []byte, compression Compression) ([]byte, bool, error) {
	switch compression {
	case CompressionLZ4:
		destination := make([]byte, lz4.CompressBlockBound(len(data)))
		written, err := lz4.CompressBlock(data, destination, nil)
		if err != nil {
			return nil, false, fmt.Errorf("lz4 compress: %w", err)
		}
		if written == 0 || written >= len(data) {
			return nil, false, nil
		}
		return destination[:written], true, nil
	case CompressionZstd:
		compressed := zstdEncoder.EncodeAll(data, nil)
		if len(compressed) >= len(data) {
			return nil, false, nil
		}
		return compressed, true, nil
	default:
		return nil, false, fmt.Errorf("%w: tag %d", ErrUnknownCompression, uint8(compression))
	}
}
