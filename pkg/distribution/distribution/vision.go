package distribution

import (
	"strings"

	"github.com/docker/model-distribution/pkg/distribution/types"
	"github.com/docker/model-distribution/pkg/gguf"
	"github.com/sirupsen/logrus"
)

// VisionClassifier decides whether a model is a vision or multimodal model.
type VisionClassifier interface {
	IsVision(mp types.ModelPath) bool
}

// DefaultVisionKeywords are repository name fragments of common vision
// model families.
var DefaultVisionKeywords = []string{
	"-vl", "vl", "vision", "multimodal",
	"llava", "bakllava", "glm-4v", "4v", "phi-3-vision",
	"moondream", "minicpm", "cogvlm",
}

// KeywordClassifier matches repository names against keywords,
// case-insensitively. An empty Keywords uses DefaultVisionKeywords.
type KeywordClassifier struct {
	Keywords []string
}

func (k KeywordClassifier) IsVision(mp types.ModelPath) bool {
	keywords := k.Keywords
	if len(keywords) == 0 {
		keywords = DefaultVisionKeywords
	}
	repo := strings.ToLower(mp.Repository)
	for _, kw := range keywords {
		if strings.Contains(repo, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// ModelPathResolver returns the weights file of a stored model.
type ModelPathResolver interface {
	GetModelPath(name string) (string, error)
}

// ArchitectureClassifier reads the GGUF architecture of a model's weights
// and reports its vision flag. Models whose weights cannot be read are
// classified by the fallback.
type ArchitectureClassifier struct {
	models   ModelPathResolver
	fallback VisionClassifier
	log      *logrus.Entry
}

// NewArchitectureClassifier returns a classifier over models. A nil fallback
// uses KeywordClassifier.
func NewArchitectureClassifier(models ModelPathResolver, fallback VisionClassifier) *ArchitectureClassifier {
	if fallback == nil {
		fallback = KeywordClassifier{}
	}
	return &ArchitectureClassifier{
		models:   models,
		fallback: fallback,
		log:      logrus.WithField("component", "vision"),
	}
}

func (a *ArchitectureClassifier) IsVision(mp types.ModelPath) bool {
	path, err := a.models.GetModelPath(mp.String())
	if err != nil {
		return a.fallback.IsVision(mp)
	}
	p := gguf.New(gguf.WithLogger(a.log))
	if err := p.ParseFile(path); err != nil {
		a.log.Debugf("Falling back to name match for %s: %v", mp, err)
		return a.fallback.IsVision(mp)
	}
	defer p.Close()
	return p.Architecture().HasVision
}
