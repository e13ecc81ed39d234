// Package testregistry provides a simple in-memory model registry for testing.
package testregistry

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/docker/model-distribution/pkg/distribution/types"
	"github.com/opencontainers/go-digest"
)

// registryError represents a registry error.
type registryError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorResponse represents a registry error response.
type errorResponse struct {
	Errors []registryError `json:"errors"`
}

// Blob is a layer to publish.
type Blob struct {
	MediaType string
	Content   []byte
}

// Registry is an in-memory registry serving manifests and blobs under the
// /v2/<namespace>/<repository>/ layout.
type Registry struct {
	mu        sync.RWMutex
	blobs     map[string][]byte            // digest -> content
	manifests map[string]map[string][]byte // repo -> tag -> manifest
	failures  map[string]int               // digest -> status code

	manifestRequests atomic.Int64
	blobRequests     atomic.Int64
}

// New creates a new test registry handler.
func New() *Registry {
	return &Registry{
		blobs:     make(map[string][]byte),
		manifests: make(map[string]map[string][]byte),
		failures:  make(map[string]int),
	}
}

// AddModel publishes config and layers under name and returns the manifest
// that was stored.
func (r *Registry) AddModel(name string, config []byte, layers ...Blob) *types.Manifest {
	var ls []types.Layer
	for _, l := range layers {
		ls = append(ls, r.AddBlob(l.MediaType, l.Content))
	}
	var cfg types.Layer
	if config != nil {
		cfg = r.AddBlob(types.MediaTypeConfig, config)
	}
	m := types.NewManifest(cfg, ls...)
	raw, err := json.Marshal(m)
	if err != nil {
		panic(err)
	}
	r.SetManifest(name, raw)
	return m
}

// AddBlob stores content and returns a layer describing it.
func (r *Registry) AddBlob(mediaType string, content []byte) types.Layer {
	dgst := digest.FromBytes(content).String()
	r.mu.Lock()
	r.blobs[dgst] = content
	r.mu.Unlock()
	return types.Layer{MediaType: mediaType, Digest: dgst, Size: int64(len(content))}
}

// SetManifest stores a raw manifest document for name.
func (r *Registry) SetManifest(name string, raw []byte) {
	mp := types.ParseModelPath(name)
	repo := mp.NamespaceRepository()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.manifests[repo] == nil {
		r.manifests[repo] = make(map[string][]byte)
	}
	r.manifests[repo][mp.Tag] = raw
}

// FailBlob makes requests for dgst respond with status.
func (r *Registry) FailBlob(dgst string, status int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[dgst] = status
}

// CorruptBlob replaces the content served for dgst without changing the
// digest.
func (r *Registry) CorruptBlob(dgst string, content []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blobs[dgst] = content
}

// ManifestRequests returns the number of manifest requests served.
func (r *Registry) ManifestRequests() int64 {
	return r.manifestRequests.Load()
}

// BlobRequests returns the number of blob requests served.
func (r *Registry) BlobRequests() int64 {
	return r.blobRequests.Load()
}

func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	path := strings.TrimPrefix(req.URL.Path, "/v2/")

	// Handle /v2/ base endpoint
	if path == "" || path == "/" {
		w.WriteHeader(http.StatusOK)
		return
	}
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	switch {
	case strings.Contains(path, "/blobs/"):
		r.handleBlob(w, req, path)
	case strings.Contains(path, "/manifests/"):
		r.handleManifest(w, req, path)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (r *Registry) handleBlob(w http.ResponseWriter, req *http.Request, path string) {
	r.blobRequests.Add(1)
	parts := strings.SplitN(path, "/blobs/", 2)
	dgst := parts[1]

	r.mu.RLock()
	content, ok := r.blobs[dgst]
	status, failing := r.failures[dgst]
	r.mu.RUnlock()

	if failing {
		writeError(w, status, "UNAVAILABLE", "injected failure")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "BLOB_UNKNOWN", "blob unknown to registry")
		return
	}

	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(content)))
	w.Header().Set("Docker-Content-Digest", dgst)
	w.WriteHeader(http.StatusOK)
	if req.Method == http.MethodGet {
		w.Write(content)
	}
}

func (r *Registry) handleManifest(w http.ResponseWriter, req *http.Request, path string) {
	r.manifestRequests.Add(1)
	parts := strings.SplitN(path, "/manifests/", 2)
	repo, ref := parts[0], parts[1]

	r.mu.RLock()
	repoManifests, ok := r.manifests[repo]
	manifest, found := repoManifests[ref]
	r.mu.RUnlock()

	if !ok {
		writeError(w, http.StatusNotFound, "NAME_UNKNOWN", "Repository not found")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "MANIFEST_UNKNOWN", "Manifest not found")
		return
	}

	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(manifest)))
	w.Header().Set("Docker-Content-Digest", digest.FromBytes(manifest).String())
	w.Header().Set("Content-Type", types.MediaTypeManifestV2)
	w.WriteHeader(http.StatusOK)
	if req.Method == http.MethodGet {
		w.Write(manifest)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errchkjson // test registry, ignore write errors
	_ = json.NewEncoder(w).Encode(errorResponse{
		Errors: []registryError{{Code: code, Message: message}},
	})
}
