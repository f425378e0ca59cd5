package codec

import (
	"fmt"
)

const (
	flagCompressed byte = 1 << iota
	flagEncrypted

	knownFlags = flagCompressed | flagEncrypted
)

// DefaultMinCompressSize is the smallest body worth compressing.
// zstd frame overhead makes anything smaller grow.
const DefaultMinCompressSize = 64

// PipelineConfig configures a Pipeline.
type PipelineConfig struct {
	// Serializer defaults to JSON
	Serializer Codec

	// Compressor is optional; without it compression requests are ignored
	Compressor Compressor

	// Cipher is optional; when set every payload is encrypted
	Cipher Cipher

	// CompressByDefault applies compression when the caller does not say otherwise
	CompressByDefault bool

	// MinCompressSize defaults to DefaultMinCompressSize
	MinCompressSize int
}

// Pipeline is a Codec that frames serialized values with optional
// compression and encryption. It holds no mutable state and is safe for
// concurrent use.
type Pipeline struct {
	serializer        Codec
	compressor        Compressor
	cipher            Cipher
	compressByDefault bool
	minCompressSize   int
}

// NewPipeline creates a pipeline from cfg
func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Serializer == nil {
		cfg.Serializer = JSON{}
	}
	if cfg.MinCompressSize <= 0 {
		cfg.MinCompressSize = DefaultMinCompressSize
	}

	return &Pipeline{
		serializer:        cfg.Serializer,
		compressor:        cfg.Compressor,
		cipher:            cfg.Cipher,
		compressByDefault: cfg.CompressByDefault,
		minCompressSize:   cfg.MinCompressSize,
	}
}

// Encode encodes v using the pipeline's default compression setting
func (p *Pipeline) Encode(v any) ([]byte, error) {
	return p.EncodeWith(v, p.compressByDefault)
}

// EncodeWith encodes v, compressing the body when compress is true and a
// compressor is configured. Compressed output is kept only if it is smaller.
func (p *Pipeline) EncodeWith(v any, compress bool) ([]byte, error) {
	body, err := p.serializer.Encode(v)
	if err != nil {
		return nil, err
	}

	var flags byte
	if compress && p.compressor != nil && len(body) >= p.minCompressSize {
		packed, err := p.compressor.Compress(body)
		if err != nil {
			return nil, fmt.Errorf("compress: %w", err)
		}
		if len(packed) < len(body) {
			body = packed
			flags |= flagCompressed
		}
	}

	if p.cipher != nil {
		sealed, err := p.cipher.Seal(body)
		if err != nil {
			return nil, fmt.Errorf("encrypt: %w", err)
		}
		body = sealed
		flags |= flagEncrypted
	}

	frame := make([]byte, 1+len(body))
	frame[0] = flags
	copy(frame[1:], body)
	return frame, nil
}

// Decode reverses EncodeWith. data is never modified.
func (p *Pipeline) Decode(data []byte, dst any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty payload", ErrCorruptFrame)
	}

	flags := data[0]
	if flags&^knownFlags != 0 {
		return fmt.Errorf("%w: unknown header 0x%02x", ErrCorruptFrame, flags)
	}
	body := data[1:]

	if flags&flagEncrypted != 0 {
		if p.cipher == nil {
			return fmt.Errorf("%w: payload is encrypted", ErrMissingTransform)
		}
		plain, err := p.cipher.Open(body)
		if err != nil {
			return fmt.Errorf("decrypt: %w", err)
		}
		body = plain
	}

	if flags&flagCompressed != 0 {
		if p.compressor == nil {
			return fmt.Errorf("%w: payload is compressed", ErrMissingTransform)
		}
		raw, err := p.compressor.Decompress(body)
		if err != nil {
			return fmt.Errorf("decompress: %w", err)
		}
		body = raw
	}

	return p.serializer.Decode(body, dst)
}

// Encrypted reports whether the pipeline encrypts payloads
func (p *Pipeline) Encrypted() bool {
	return p.cipher != nil
}

// Compressed reports whether the pipeline compresses payloads by default
func (p *Pipeline) Compressed() bool {
	return p.compressByDefault && p.compressor != nil
}

// Close releases resources held by the compressor, if it holds any
func (p *Pipeline) Close() {
	if c, ok := p.compressor.(interface{ Close() }); ok {
		c.Close()
	}
}
