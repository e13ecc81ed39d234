package gguf

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// fileBuilder assembles GGUF images for tests.
type fileBuilder struct {
	version uint32
	kv      bytes.Buffer
	kvCount uint64
	tensors bytes.Buffer
	nTensor uint64
	data    []byte
}

func newFileBuilder() *fileBuilder {
	return &fileBuilder{version: 3}
}

func putU32(w *bytes.Buffer, v uint32) { _ = binary.Write(w, binary.LittleEndian, v) }
func putU64(w *bytes.Buffer, v uint64) { _ = binary.Write(w, binary.LittleEndian, v) }

func putStr(w *bytes.Buffer, s string) {
	putU64(w, uint64(len(s)))
	w.WriteString(s)
}

func (b *fileBuilder) key(k string, t ValueType) {
	putStr(&b.kv, k)
	putU32(&b.kv, uint32(t))
	b.kvCount++
}

func (b *fileBuilder) str(k, v string) *fileBuilder {
	b.key(k, ValueTypeString)
	putStr(&b.kv, v)
	return b
}

func (b *fileBuilder) u32(k string, v uint32) *fileBuilder {
	b.key(k, ValueTypeUint32)
	putU32(&b.kv, v)
	return b
}

func (b *fileBuilder) u64(k string, v uint64) *fileBuilder {
	b.key(k, ValueTypeUint64)
	putU64(&b.kv, v)
	return b
}

func (b *fileBuilder) f32(k string, v float32) *fileBuilder {
	b.key(k, ValueTypeFloat32)
	putU32(&b.kv, math.Float32bits(v))
	return b
}

func (b *fileBuilder) boolean(k string, v bool) *fileBuilder {
	b.key(k, ValueTypeBool)
	if v {
		b.kv.WriteByte(1)
	} else {
		b.kv.WriteByte(0)
	}
	return b
}

func (b *fileBuilder) i32s(k string, vals ...int32) *fileBuilder {
	b.key(k, ValueTypeArray)
	putU32(&b.kv, uint32(ValueTypeInt32))
	putU64(&b.kv, uint64(len(vals)))
	for _, v := range vals {
		putU32(&b.kv, uint32(v))
	}
	return b
}

func (b *fileBuilder) strs(k string, vals ...string) *fileBuilder {
	b.key(k, ValueTypeArray)
	putU32(&b.kv, uint32(ValueTypeString))
	putU64(&b.kv, uint64(len(vals)))
	for _, v := range vals {
		putStr(&b.kv, v)
	}
	return b
}

// arrayHeader writes only the array element type and count; the caller
// supplies the payload.
func (b *fileBuilder) arrayHeader(k string, elem ValueType, count uint64) *fileBuilder {
	b.key(k, ValueTypeArray)
	putU32(&b.kv, uint32(elem))
	putU64(&b.kv, count)
	return b
}

func (b *fileBuilder) raw(p []byte) *fileBuilder {
	b.kv.Write(p)
	return b
}

func (b *fileBuilder) tensor(name string, typ GGMLType, offset uint64, dims ...uint64) *fileBuilder {
	putStr(&b.tensors, name)
	putU32(&b.tensors, uint32(len(dims)))
	for _, d := range dims {
		putU64(&b.tensors, d)
	}
	putU32(&b.tensors, uint32(typ))
	putU64(&b.tensors, offset)
	b.nTensor++
	return b
}

// withData appends tensor data after the directory, padded to the default
// alignment.
func (b *fileBuilder) withData(data []byte) *fileBuilder {
	b.data = data
	return b
}

func (b *fileBuilder) bytes() []byte {
	var out bytes.Buffer
	putU32(&out, Magic)
	putU32(&out, b.version)
	putU64(&out, b.nTensor)
	putU64(&out, b.kvCount)
	out.Write(b.kv.Bytes())
	out.Write(b.tensors.Bytes())
	if b.data != nil {
		pad := alignOffset(uint64(out.Len()), DefaultAlignment) - uint64(out.Len())
		out.Write(make([]byte, pad))
		out.Write(b.data)
	}
	return out.Bytes()
}

func (b *fileBuilder) write(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.gguf")
	require.NoError(t, os.WriteFile(path, b.bytes(), 0o644))
	return path
}

// llamaFile returns a small but complete llama-style model image.
func llamaFile() *fileBuilder {
	return newFileBuilder().
		str(KeyArchitecture, "llama").
		str(KeyName, "tiny").
		u32("llama.context_length", 4096).
		u32("llama.embedding_length", 2048).
		u32("llama.block_count", 16).
		u32("llama.feed_forward_length", 8192).
		u32("llama.attention.head_count", 32).
		u32("llama.attention.head_count_kv", 8).
		f32("llama.attention.layer_norm_rms_epsilon", 1e-5).
		u32("llama.rope.dimension_count", 64).
		f32("llama.rope.freq_base", 500000).
		strs("tokenizer.ggml.tokens", "<s>", "</s>", "hello").
		boolean("tokenizer.ggml.add_bos_token", true).
		tensor("token_embd.weight", GGMLTypeF32, 0, 4, 3).
		tensor("output.weight", GGMLTypeF16, 64, 4, 2).
		withData(make([]byte, 96))
}
