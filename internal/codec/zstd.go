package codec

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Zstd compresses bodies with zstandard. EncodeAll/DecodeAll on a shared
// encoder/decoder are safe for concurrent use.
type Zstd struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewZstd creates a zstd compressor at the given level
func NewZstd(level zstd.EncoderLevel) (*Zstd, error) {
	if level == 0 {
		level = zstd.SpeedDefault
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return &Zstd{encoder: encoder, decoder: decoder}, nil
}

// Compress compresses src
func (z *Zstd) Compress(src []byte) ([]byte, error) {
	return z.encoder.EncodeAll(src, make([]byte, 0, len(src))), nil
}

// Decompress decompresses src
func (z *Zstd) Decompress(src []byte) ([]byte, error) {
	out, err := z.decoder.DecodeAll(src, nil)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close releases encoder and decoder goroutines
func (z *Zstd) Close() {
	_ = z.encoder.Close()
	z.decoder.Close()
}
