package gguf

import (
	"strings"
)

// Architecture holds model hyperparameters read from the
// "<arch>.*" metadata keys. Fields absent from the file keep their zero
// value.
type Architecture struct {
	Name   string // general.architecture as written in the file
	Prefix string // metadata key prefix after alias resolution

	ContextLength       uint64
	EmbeddingLength     uint64
	BlockCount          uint64
	FeedForwardLength   uint64
	HeadCount           uint64
	HeadCountKV         uint64
	LayerNormRMSEpsilon float64

	RopeDimensionCount    uint64
	RopeFreqBase          float64
	RopeDimensionSections []uint64

	HasVision                 bool
	VisionPatchSize           uint64
	VisionSpatialPatchSize    uint64
	VisionFullAttBlockIndexes []uint64
}

// architectureAliases maps spellings found in the wild to the key prefix
// used by the file's metadata.
var architectureAliases = map[string]string{
	"qwen2.5vl":  "qwen25vl",
	"qwen-2.5vl": "qwen25vl",
}

var knownArchitectures = map[string]struct{}{
	"qwen25vl": {},
	"qwen2vl":  {},
	"qwen2":    {},
	"qwen3":    {},
	"llama":    {},
	"mistral":  {},
	"gemma":    {},
	"gemma2":   {},
	"gemma3":   {},
	"phi3":     {},
}

// ArchitecturePrefix resolves an architecture name to its metadata key
// prefix.
func ArchitecturePrefix(name string) string {
	if prefix, ok := architectureAliases[strings.ToLower(name)]; ok {
		return prefix
	}
	return name
}

func (p *Parser) deriveArchitecture() Architecture {
	name, _ := p.metadata[KeyArchitecture].AsString()
	arch := Architecture{Name: name, Prefix: ArchitecturePrefix(name)}
	if _, ok := knownArchitectures[arch.Prefix]; !ok {
		p.log.Warnf("Architecture %q is not in the list of tested architectures", name)
	}

	key := func(suffix string) string { return arch.Prefix + "." + suffix }

	arch.ContextLength = p.uintKey(key("context_length"))
	arch.EmbeddingLength = p.uintKey(key("embedding_length"))
	arch.BlockCount = p.uintKey(key("block_count"))
	arch.FeedForwardLength = p.uintKey(key("feed_forward_length"))
	arch.HeadCount = p.uintKey(key("attention.head_count"))
	arch.HeadCountKV = p.uintKey(key("attention.head_count_kv"))
	arch.LayerNormRMSEpsilon = p.floatKey(key("attention.layer_norm_rms_epsilon"))
	arch.RopeDimensionCount = p.uintKey(key("rope.dimension_count"))
	arch.RopeFreqBase = p.floatKey(key("rope.freq_base"))

	arch.RopeDimensionSections = p.uintsKey(key("rope.mrope_section"))
	if arch.RopeDimensionSections == nil {
		arch.RopeDimensionSections = p.uintsKey(key("rope.dimension_sections"))
	}

	if _, ok := p.metadata[key("vision.patch_size")]; ok {
		arch.HasVision = true
		arch.VisionPatchSize = p.uintKey(key("vision.patch_size"))
	}
	arch.VisionSpatialPatchSize = p.uintKey(key("vision.spatial_patch_size"))
	arch.VisionFullAttBlockIndexes = p.uintsKey(key("vision.fullatt_block_indexes"))

	return arch
}

func (p *Parser) uintKey(key string) uint64 {
	v, ok := p.metadata[key]
	if !ok {
		return 0
	}
	if u, ok := v.AsUint64(); ok {
		return u
	}
	p.log.Debugf("Ignoring %s: unexpected type %s", key, v.Type)
	return 0
}

func (p *Parser) floatKey(key string) float64 {
	v, ok := p.metadata[key]
	if !ok {
		return 0
	}
	if f, ok := v.AsFloat64(); ok {
		return f
	}
	p.log.Debugf("Ignoring %s: unexpected type %s", key, v.Type)
	return 0
}

func (p *Parser) uintsKey(key string) []uint64 {
	v, ok := p.metadata[key]
	if !ok {
		return nil
	}
	return v.AsUint64s()
}
