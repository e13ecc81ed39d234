package gguf

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/sirupsen/logrus"
)

// Parser decodes one GGUF file. A Parser is not safe for concurrent use
// while parsing; after a successful parse its accessors may be called from
// multiple goroutines.
type Parser struct {
	log     *logrus.Entry
	useMmap bool

	mapped []byte
	unmap  func() error

	parsed     bool
	header     Header
	keys       []string
	metadata   map[string]Value
	tensors    []TensorInfo
	tensorIdx  map[string]int
	alignment  uint64
	dataOffset uint64
	arch       Architecture
}

// Option configures a Parser.
type Option func(*Parser)

// WithLogger sets the logger used for diagnostics.
func WithLogger(log *logrus.Entry) Option {
	return func(p *Parser) {
		if log != nil {
			p.log = log
		}
	}
}

// WithMmap selects the memory-mapped reader for ParseFile. When mapping is
// unavailable the parser falls back to the stream reader.
func WithMmap(enabled bool) Option {
	return func(p *Parser) {
		p.useMmap = enabled
	}
}

// New returns an unparsed Parser.
func New(opts ...Option) *Parser {
	p := &Parser{
		log:     logrus.NewEntry(logrus.StandardLogger()).WithField("component", "gguf"),
		useMmap: runtime.GOOS != "windows",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ParseFile parses the file at path. On failure the parser is left
// unparsed and the error wraps one of the package's sentinel errors.
func (p *Parser) ParseFile(path string) error {
	p.reset()

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	var src source
	if p.useMmap {
		data, unmap, err := mapFile(f, fi.Size())
		if err != nil {
			p.log.WithError(err).Debugf("Falling back to stream reader for %s", path)
		} else {
			p.mapped, p.unmap = data, unmap
			src = &mappedSource{data: data}
		}
	}
	if src == nil {
		src = newStreamSource(f, fi.Size())
	}

	if err := p.decode(src); err != nil {
		p.log.WithError(err).Warnf("Failed to parse GGUF file %s", path)
		p.reset()
		return fmt.Errorf("parse %s: %w", path, err)
	}
	p.log.Debugf("Parsed GGUF file %s: version %d, %d tensors, %d metadata keys",
		path, p.header.Version, len(p.tensors), len(p.keys))
	return nil
}

// Parse decodes a GGUF stream. size is the stream length, or -1 if unknown;
// a known size lets oversized length fields fail before any allocation.
func (p *Parser) Parse(r io.Reader, size int64) error {
	p.reset()
	if err := p.decode(newStreamSource(r, size)); err != nil {
		p.reset()
		return err
	}
	return nil
}

// ParseBytes decodes an in-memory GGUF image using the bounds-checked
// cursor reader.
func (p *Parser) ParseBytes(data []byte) error {
	p.reset()
	if err := p.decode(&mappedSource{data: data}); err != nil {
		p.reset()
		return err
	}
	p.mapped = data
	return nil
}

func (p *Parser) decode(src source) error {
	d := decoder{src: src}

	h, err := d.header()
	if err != nil {
		return err
	}

	metadata := make(map[string]Value, preallocHint(h.MetadataKVCount))
	keys := make([]string, 0, preallocHint(h.MetadataKVCount))
	for i := uint64(0); i < h.MetadataKVCount; i++ {
		key, dropped, err := d.str()
		if err != nil {
			return fmt.Errorf("metadata key %d: %w", i, err)
		}
		if dropped {
			return fmt.Errorf("%w: metadata key %d", ErrTooLarge, i)
		}
		typ, err := d.u32()
		if err != nil {
			return fmt.Errorf("metadata %q: %w", key, err)
		}
		val, err := d.value(ValueType(typ), 0)
		if err != nil {
			return fmt.Errorf("metadata %q: %w", key, err)
		}
		if val.Dropped {
			p.log.Warnf("Metadata %q exceeds decoding limits, using empty value", key)
		}
		if _, seen := metadata[key]; !seen {
			keys = append(keys, key)
		}
		metadata[key] = val
	}

	alignment := DefaultAlignment
	if v, ok := metadata[KeyAlignment]; ok {
		if a, ok := v.AsUint64(); ok && a > 0 {
			alignment = a
		}
	}

	tensors := make([]TensorInfo, 0, preallocHint(h.TensorCount))
	index := make(map[string]int, preallocHint(h.TensorCount))
	for i := uint64(0); i < h.TensorCount; i++ {
		t, err := d.tensorInfo()
		if err != nil {
			return fmt.Errorf("tensor %d: %w", i, err)
		}
		index[t.Name] = len(tensors)
		tensors = append(tensors, t)
	}

	p.header = h
	p.metadata = metadata
	p.keys = keys
	p.tensors = tensors
	p.tensorIdx = index
	p.alignment = alignment
	p.dataOffset = alignOffset(src.offset(), alignment)

	if err := p.validate(); err != nil {
		return err
	}
	p.arch = p.deriveArchitecture()
	p.parsed = true
	return nil
}

// validate checks the metadata required by every consumer.
func (p *Parser) validate() error {
	v, ok := p.metadata[KeyArchitecture]
	if !ok {
		return ErrMissingArchitecture
	}
	if s, ok := v.AsString(); !ok || s == "" {
		return ErrMissingArchitecture
	}
	return nil
}

func (p *Parser) reset() {
	if p.unmap != nil {
		if err := p.unmap(); err != nil {
			p.log.WithError(err).Warn("Failed to unmap GGUF file")
		}
	}
	*p = Parser{log: p.log, useMmap: p.useMmap}
}

// Close releases the file mapping, if any, and resets the parser.
func (p *Parser) Close() error {
	p.reset()
	return nil
}

// Parsed reports whether the last parse succeeded.
func (p *Parser) Parsed() bool {
	return p.parsed
}

func (p *Parser) Header() Header {
	return p.header
}

// Metadata returns the value stored under key.
func (p *Parser) Metadata(key string) (Value, bool) {
	v, ok := p.metadata[key]
	return v, ok
}

// MetadataKeys returns metadata keys in file order.
func (p *Parser) MetadataKeys() []string {
	return append([]string(nil), p.keys...)
}

// TensorInfo returns the directory entry for the named tensor.
func (p *Parser) TensorInfo(name string) (TensorInfo, bool) {
	i, ok := p.tensorIdx[name]
	if !ok {
		return TensorInfo{}, false
	}
	return p.tensors[i], true
}

// Tensors returns the tensor directory in file order.
func (p *Parser) Tensors() []TensorInfo {
	return append([]TensorInfo(nil), p.tensors...)
}

// Architecture returns the parameters derived from the metadata.
func (p *Parser) Architecture() Architecture {
	return p.arch
}

// Alignment returns the tensor data alignment in bytes.
func (p *Parser) Alignment() uint64 {
	return p.alignment
}

// TensorDataOffset returns the absolute file offset of the tensor data
// region.
func (p *Parser) TensorDataOffset() uint64 {
	return p.dataOffset
}

// TensorData returns the mapped bytes of the named tensor. It is only
// available while a file parsed with the memory-mapped reader is open, and
// the slice is invalid after Close.
func (p *Parser) TensorData(name string) ([]byte, error) {
	if !p.parsed {
		return nil, ErrNotParsed
	}
	t, ok := p.TensorInfo(name)
	if !ok {
		return nil, fmt.Errorf("tensor %q not found", name)
	}
	if p.mapped == nil {
		return nil, fmt.Errorf("tensor %q: file is not memory mapped", name)
	}
	start := p.dataOffset + t.Offset
	if start < p.dataOffset || start > uint64(len(p.mapped)) || t.Size > uint64(len(p.mapped))-start {
		return nil, fmt.Errorf("%w: tensor %q lies outside the file", ErrTruncated, name)
	}
	return p.mapped[start : start+t.Size], nil
}

const maxMetadataArrayLen = 50

// MetadataStrings renders metadata as strings for display. Arrays longer
// than 50 elements are omitted.
func (p *Parser) MetadataStrings() map[string]string {
	out := make(map[string]string, len(p.metadata))
	for key, v := range p.metadata {
		if v.Type == ValueTypeArray && v.Len() > maxMetadataArrayLen {
			continue
		}
		out[key] = v.String()
	}
	return out
}
