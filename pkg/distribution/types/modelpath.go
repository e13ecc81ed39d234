package types

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/distribution/reference"
)

const (
	DefaultScheme    = "registry"
	DefaultRegistry  = "registry.ollama.ai"
	DefaultNamespace = "library"
	DefaultTag       = "latest"
	DefaultBaseURL   = "https://" + DefaultRegistry

	schemeSeparator = "://"
)

// ErrInvalidModelName is returned when a model name has an invalid component.
var ErrInvalidModelName = fmt.Errorf("invalid model name: %w", errdefs.ErrInvalidArgument)

var (
	anchoredDomain = regexp.MustCompile(`^` + reference.DomainRegexp.String() + `$`)
	anchoredName   = regexp.MustCompile(`^` + reference.NameRegexp.String() + `$`)
	anchoredTag    = regexp.MustCompile(`^` + reference.TagRegexp.String() + `$`)
)

// ModelPath is a fully qualified model name. Parsing fills every component
// that the user omitted with its default.
type ModelPath struct {
	Scheme     string
	Registry   string
	Namespace  string
	Repository string
	Tag        string
}

// ParseModelPath normalizes a model name such as "llama3.2",
// "user/model:tag" or "registry://host/ns/model:tag". It never fails;
// use Validate to check the result.
func ParseModelPath(name string) ModelPath {
	mp := ModelPath{
		Scheme:    DefaultScheme,
		Registry:  DefaultRegistry,
		Namespace: DefaultNamespace,
		Tag:       DefaultTag,
	}

	if scheme, rest, ok := strings.Cut(name, schemeSeparator); ok {
		if scheme != "" {
			mp.Scheme = scheme
		}
		name = rest
	}

	parts := strings.Split(name, "/")
	switch len(parts) {
	case 1:
		mp.Repository = parts[0]
	case 2:
		mp.Namespace, mp.Repository = parts[0], parts[1]
	default:
		mp.Registry = parts[0]
		mp.Namespace = strings.Join(parts[1:len(parts)-1], "/")
		mp.Repository = parts[len(parts)-1]
	}

	if repo, tag, ok := strings.Cut(mp.Repository, ":"); ok {
		mp.Repository = repo
		if tag != "" {
			mp.Tag = tag
		}
	}
	return mp
}

// NamespaceRepository returns "namespace/repository".
func (mp ModelPath) NamespaceRepository() string {
	return mp.Namespace + "/" + mp.Repository
}

// String returns the canonical form. The scheme is only included when it
// differs from the default.
func (mp ModelPath) String() string {
	s := mp.Registry + "/" + mp.NamespaceRepository() + ":" + mp.Tag
	if mp.Scheme != DefaultScheme {
		s = mp.Scheme + schemeSeparator + s
	}
	return s
}

// DisplayName returns the shortest name that parses back to mp.
func (mp ModelPath) DisplayName() string {
	var s string
	switch {
	case mp.Registry != DefaultRegistry:
		s = mp.Registry + "/" + mp.NamespaceRepository()
	case mp.Namespace != DefaultNamespace:
		s = mp.NamespaceRepository()
	default:
		s = mp.Repository
	}
	if mp.Tag != DefaultTag {
		s += ":" + mp.Tag
	}
	if mp.Scheme != DefaultScheme {
		s = mp.Scheme + schemeSeparator + s
	}
	return s
}

// BaseURL returns the registry endpoint for this path. The "http" scheme
// selects plain HTTP; any other scheme uses HTTPS.
func (mp ModelPath) BaseURL() string {
	scheme := "https"
	if mp.Scheme == "http" {
		scheme = "http"
	}
	return scheme + schemeSeparator + mp.Registry
}

// Validate checks every component against the distribution reference
// grammar. Names are compared case-insensitively.
func (mp ModelPath) Validate() error {
	switch {
	case mp.Repository == "":
		return fmt.Errorf("%w: empty repository", ErrInvalidModelName)
	case !anchoredDomain.MatchString(strings.ToLower(mp.Registry)):
		return fmt.Errorf("%w: registry %q", ErrInvalidModelName, mp.Registry)
	case !anchoredName.MatchString(strings.ToLower(mp.NamespaceRepository())):
		return fmt.Errorf("%w: repository %q", ErrInvalidModelName, mp.NamespaceRepository())
	case !anchoredTag.MatchString(mp.Tag):
		return fmt.Errorf("%w: tag %q", ErrInvalidModelName, mp.Tag)
	}
	return nil
}
