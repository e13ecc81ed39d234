package distribution

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/docker/go-units"
	"github.com/docker/model-distribution/pkg/distribution/internal/progress"
	"github.com/docker/model-distribution/pkg/distribution/internal/store"
	"github.com/docker/model-distribution/pkg/distribution/modelfile"
	"github.com/docker/model-distribution/pkg/distribution/registry"
	"github.com/docker/model-distribution/pkg/distribution/types"
	"github.com/docker/model-distribution/pkg/internal/utils"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// DefaultMaxCacheSize is the cache limit used when none is configured.
const DefaultMaxCacheSize int64 = 10 << 30

// Client provides model distribution functionality
type Client struct {
	store     *store.LocalStore
	log       *logrus.Entry
	registry  *registry.Client
	resolver  *modelfile.Resolver
	vision    VisionClassifier
	progress  progress.Func
	downloads singleflight.Group
	flightsMu sync.Mutex
	flights   map[string]*blobFlight

	mu           sync.RWMutex
	maxCacheSize int64
}

// PullResult describes a completed pull.
type PullResult struct {
	// LocalPath is the path of the stored manifest.
	LocalPath       string
	DownloadedBytes int64
	Duration        time.Duration
}

// Option represents an option for creating a new Client
type Option func(*options)

// options holds the configuration for a new Client
type options struct {
	storeRootPath    string
	logger           *logrus.Entry
	transport        http.RoundTripper
	userAgent        string
	username         string
	password         string
	plainHTTP        bool
	baseURL          string
	registryClient   *registry.Client
	maxCacheSize     int64
	vision           VisionClassifier
	archVision       bool
	progress         progress.Func
	validateAdapters bool
}

// WithStoreRootPath sets the store root path
func WithStoreRootPath(path string) Option {
	return func(o *options) {
		if path != "" {
			o.storeRootPath = path
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *logrus.Entry) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithTransport sets the HTTP transport to use when pulling models.
func WithTransport(transport http.RoundTripper) Option {
	return func(o *options) {
		if transport != nil {
			o.transport = transport
		}
	}
}

// WithUserAgent sets the User-Agent header to use when pulling models.
func WithUserAgent(ua string) Option {
	return func(o *options) {
		if ua != "" {
			o.userAgent = ua
		}
	}
}

// WithRegistryAuth sets the registry authentication credentials
func WithRegistryAuth(username, password string) Option {
	return func(o *options) {
		if username != "" && password != "" {
			o.username = username
			o.password = password
		}
	}
}

// WithPlainHTTP allows connecting to registries using plain HTTP instead of HTTPS.
func WithPlainHTTP(plain bool) Option {
	return func(o *options) {
		o.plainHTTP = plain
	}
}

// WithBaseURL sets the registry used for models on the default registry.
func WithBaseURL(baseURL string) Option {
	return func(o *options) {
		o.baseURL = baseURL
	}
}

// WithRegistryClient uses a preconfigured registry client. Transport, user
// agent, auth and base URL options are ignored when it is set.
func WithRegistryClient(client *registry.Client) Option {
	return func(o *options) {
		if client != nil {
			o.registryClient = client
		}
	}
}

// WithMaxCacheSize sets the cache limit in bytes. Zero or less disables it.
func WithMaxCacheSize(size int64) Option {
	return func(o *options) {
		o.maxCacheSize = size
	}
}

// WithVisionClassifier sets how vision models are recognized when listing.
func WithVisionClassifier(vc VisionClassifier) Option {
	return func(o *options) {
		if vc != nil {
			o.vision = vc
		}
	}
}

// WithArchitectureVisionDetection recognizes vision models from the GGUF
// metadata of their base model, falling back to name keywords.
func WithArchitectureVisionDetection(enabled bool) Option {
	return func(o *options) {
		o.archVision = enabled
	}
}

// WithProgressCallback registers fn to receive overall pull progress. It is
// called from the goroutine performing the download.
func WithProgressCallback(fn progress.Func) Option {
	return func(o *options) {
		o.progress = fn
	}
}

// WithAdapterValidation drops LoRA adapters that fail validation when
// resolving Modelfile configuration.
func WithAdapterValidation(enabled bool) Option {
	return func(o *options) {
		o.validateAdapters = enabled
	}
}

// DefaultStorePath returns MODELS_PATH if set and ~/.ollama/models otherwise.
func DefaultStorePath() string {
	if path := os.Getenv("MODELS_PATH"); path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".ollama", "models")
	}
	return filepath.Join(home, ".ollama", "models")
}

func defaultOptions() *options {
	return &options{
		storeRootPath: DefaultStorePath(),
		logger:        logrus.NewEntry(logrus.StandardLogger()),
		transport:     registry.DefaultTransport,
		userAgent:     registry.DefaultUserAgent,
		maxCacheSize:  -1,
	}
}

// maxCacheSizeFromEnv reads MODEL_CACHE_MAX_SIZE, accepting human sizes
// such as "20GB".
func maxCacheSizeFromEnv(log *logrus.Entry) int64 {
	v := os.Getenv("MODEL_CACHE_MAX_SIZE")
	if v == "" {
		return DefaultMaxCacheSize
	}
	size, err := units.RAMInBytes(v)
	if err != nil {
		log.Warnf("Ignoring invalid MODEL_CACHE_MAX_SIZE %q: %v", utils.SanitizeForLog(v), err)
		return DefaultMaxCacheSize
	}
	return size
}

// NewClient creates a new distribution client
func NewClient(opts ...Option) (*Client, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	if options.storeRootPath == "" {
		return nil, fmt.Errorf("store root path is required")
	}
	log := options.logger.WithField("component", "distribution")

	s, err := store.New(store.Options{
		RootPath: options.storeRootPath,
		Logger:   options.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	if err := s.Initialize(); err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	registryClient := options.registryClient
	if registryClient == nil {
		registryOpts := []registry.ClientOption{
			registry.WithTransport(options.transport),
			registry.WithUserAgent(options.userAgent),
			registry.WithBaseURL(options.baseURL),
		}
		if options.plainHTTP {
			registryOpts = append(registryOpts, registry.WithPlainHTTP(true))
		}
		if options.username != "" && options.password != "" {
			registryOpts = append(registryOpts, registry.WithAuthConfig(options.username, options.password))
		}
		registryClient = registry.NewClient(registryOpts...)
	}

	maxCacheSize := options.maxCacheSize
	if maxCacheSize < 0 {
		maxCacheSize = maxCacheSizeFromEnv(log)
	}

	c := &Client{
		store:    s,
		log:      log,
		registry: registryClient,
		resolver: modelfile.NewResolver(s,
			modelfile.WithLogger(options.logger),
			modelfile.WithAdapterValidation(options.validateAdapters),
		),
		vision:       options.vision,
		progress:     options.progress,
		maxCacheSize: maxCacheSize,
	}
	if c.vision == nil {
		c.vision = KeywordClassifier{}
	}
	if options.archVision {
		c.vision = NewArchitectureClassifier(c, c.vision)
	}

	log.Infoln("Successfully initialized store:", s.RootPath())
	return c, nil
}

// GetStorePath returns the root path where models are stored
func (c *Client) GetStorePath() string {
	return c.store.RootPath()
}

// SetModelDirectory moves the store to path, creating its layout.
func (c *Client) SetModelDirectory(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty model directory", ErrInvalidConfig)
	}
	c.store.SetRootPath(path)
	if err := c.store.Initialize(); err != nil {
		return fmt.Errorf("initializing store: %w", err)
	}
	c.log.Infoln("Model directory set to:", utils.SanitizeForLog(path, 0))
	return nil
}

// ParseModelName normalizes a user supplied model name.
func (c *Client) ParseModelName(name string) types.ModelPath {
	return types.ParseModelPath(name)
}

// PullModel downloads the manifest and every blob of a model, skipping blobs
// that are already present. Progress messages are written to
// progressWriter as JSON lines when it is non-nil.
func (c *Client) PullModel(ctx context.Context, name string, progressWriter io.Writer) (*PullResult, error) {
	start := time.Now()
	mp := c.ParseModelName(name)
	if err := mp.Validate(); err != nil {
		return nil, err
	}
	c.log.Infoln("Starting model pull:", utils.SanitizeForLog(mp.String()))

	if err := c.store.Initialize(); err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	manifest, err := c.registry.FetchManifest(ctx, mp)
	if err != nil {
		c.writeError(progressWriter, err)
		return nil, fmt.Errorf("reading model from registry: %w", err)
	}
	c.log.Infof("Manifest for %s lists %d layers, %s", utils.SanitizeForLog(mp.String()), len(manifest.Layers), units.HumanSize(float64(manifest.TotalSize())))

	_, readErr := c.store.ReadManifest(mp)
	hadManifest := readErr == nil
	if err := c.store.WriteManifest(mp, manifest); err != nil {
		c.writeError(progressWriter, err)
		return nil, fmt.Errorf("writing manifest: %w", err)
	}

	downloaded, err := c.downloadBlobs(ctx, mp, manifest, progressWriter)
	if err != nil {
		if !hadManifest {
			if delErr := c.store.DeleteManifest(mp); delErr != nil {
				c.log.Warnf("Failed to remove manifest of incomplete pull: %v", delErr)
			}
		}
		c.writeError(progressWriter, err)
		return nil, err
	}

	for _, l := range manifest.Blobs() {
		if !c.store.HasBlob(l.Digest) {
			err := fmt.Errorf("%w: %s", ErrIncompleteModel, l.Digest)
			c.writeError(progressWriter, err)
			return nil, err
		}
	}

	msg := "Model pulled successfully"
	if downloaded == 0 {
		msg = fmt.Sprintf("Using cached model: %s", units.HumanSize(float64(manifest.TotalSize())))
	}
	if err := progress.WriteSuccess(progressWriter, msg); err != nil {
		c.log.Warnf("Failed to write success message: %v", err)
	}

	result := &PullResult{
		LocalPath:       c.store.ManifestPath(mp),
		DownloadedBytes: downloaded,
		Duration:        time.Since(start),
	}
	c.log.Infof("Pulled %s: %s downloaded in %s", utils.SanitizeForLog(mp.String()),
		units.HumanSize(float64(result.DownloadedBytes)), result.Duration.Round(time.Millisecond))
	return result, nil
}

// downloadBlobs fetches the config and layers in manifest order and returns
// the number of bytes transferred.
func (c *Client) downloadBlobs(ctx context.Context, mp types.ModelPath, manifest *types.Manifest, w io.Writer) (int64, error) {
	total := manifest.TotalSize()
	var (
		downloaded int64
		meter      *progress.Meter
	)
	if c.progress != nil {
		meter = progress.NewMeter(progress.DefaultSpeedWindow)
		meter.Observe(time.Now(), 0)
	}
	for _, layer := range manifest.Blobs() {
		if err := ctx.Err(); err != nil {
			return downloaded, err
		}
		if c.store.HasBlob(layer.Digest) {
			c.log.Debugf("Blob %s already present", layer.Digest)
			continue
		}

		var cb progress.Func
		if meter != nil {
			base := downloaded
			cb = func(n, _ int64, _ float64) {
				overall := base + n
				c.progress(overall, total, meter.Observe(time.Now(), overall))
			}
		}

		n, err := c.fetchBlob(ctx, mp, layer, w, total, cb)
		if err != nil {
			return downloaded, fmt.Errorf("downloading blob %s: %w", layer.Digest, err)
		}
		downloaded += n
	}
	return downloaded, nil
}

// DownloadBlob stores one blob of mp's repository. It is a no-op when the
// blob is present; concurrent calls for the same digest share one download.
func (c *Client) DownloadBlob(ctx context.Context, mp types.ModelPath, layer types.Layer) (int64, error) {
	return c.fetchBlob(ctx, mp, layer, nil, layer.Size, nil)
}

func (c *Client) fetchBlob(ctx context.Context, mp types.ModelPath, layer types.Layer, w io.Writer, imageSize int64, cb progress.Func) (int64, error) {
	if c.store.BlobPath(layer.Digest) == "" {
		return 0, fmt.Errorf("%w: %q", store.ErrInvalidDigest, layer.Digest)
	}
	for {
		out := &callerOutput{w: w, cb: cb}
		dctx, leave := c.joinDownload(ctx, layer.Digest)
		ch := c.downloads.DoChan(layer.Digest, func() (interface{}, error) {
			return c.transferBlob(dctx, mp, layer, out, imageSize)
		})
		select {
		case <-ctx.Done():
			out.detach()
			leave()
			return 0, ctx.Err()
		case res := <-ch:
			out.detach()
			leave()
			if res.Err != nil && errors.Is(res.Err, context.Canceled) && ctx.Err() == nil {
				// joined a download that every earlier waiter had abandoned
				c.log.Debugf("Restarting abandoned download of %s", layer.Digest)
				continue
			}
			n, _ := res.Val.(int64)
			return n, res.Err
		}
	}
}

// transferBlob streams one blob from the registry into the store. Progress
// goes to out.
func (c *Client) transferBlob(ctx context.Context, mp types.ModelPath, layer types.Layer, out *callerOutput, imageSize int64) (int64, error) {
	if c.store.HasBlob(layer.Digest) {
		return 0, nil
	}
	body, size, err := c.registry.OpenBlob(ctx, mp, layer.Digest)
	if err != nil {
		return 0, err
	}
	defer body.Close()
	if size < 0 {
		size = layer.Size
	}

	hasWriter, hasCallback := out.targets()
	var readerOpts []progress.ReaderOption
	if hasCallback {
		readerOpts = append(readerOpts, progress.WithCallback(out.report))
	}
	if hasWriter {
		reporter := progress.NewProgressReporter(out, progress.PullMsg, imageSize, layer.Digest, size, progress.ModePull)
		updates := reporter.Updates()
		defer func() {
			close(updates)
			if err := reporter.Wait(); err != nil {
				c.log.Warnf("Writing progress: %v", err)
			}
		}()
		readerOpts = append(readerOpts, progress.WithUpdates(updates))
	}

	pr := progress.NewReader(ctx, body, size, readerOpts...)
	return c.store.WriteBlob(layer.Digest, pr)
}

func (c *Client) writeError(w io.Writer, err error) {
	if writeErr := progress.WriteError(w, fmt.Sprintf("Error: %s", err.Error())); writeErr != nil {
		c.log.Warnf("Failed to write error message: %v", writeErr)
	}
}

// IsModelDownloaded reports whether the manifest and every blob it
// references are stored.
func (c *Client) IsModelDownloaded(name string) bool {
	manifest, err := c.store.ReadManifest(c.ParseModelName(name))
	if err != nil {
		return false
	}
	for _, l := range manifest.Blobs() {
		if !c.store.HasBlob(l.Digest) {
			return false
		}
	}
	return true
}

// GetModelPath returns the path of the base model weights.
func (c *Client) GetModelPath(name string) (string, error) {
	mp := c.ParseModelName(name)
	manifest, err := c.store.ReadManifest(mp)
	if err != nil {
		return "", err
	}
	for _, l := range manifest.Layers {
		if !types.IsModelLayer(l.MediaType) {
			continue
		}
		if !c.store.HasBlob(l.Digest) {
			return "", fmt.Errorf("%w: %s", ErrIncompleteModel, l.Digest)
		}
		return c.store.BlobPath(l.Digest), nil
	}
	return "", fmt.Errorf("%w: %s has no model layer", ErrModelNotFound, mp)
}

// ListModels returns the stored models, excluding vision models.
func (c *Client) ListModels() ([]string, error) {
	return c.listModels(c.vision)
}

// ListAllModels returns every stored model.
func (c *Client) ListAllModels() ([]string, error) {
	return c.listModels(nil)
}

func (c *Client) listModels(exclude VisionClassifier) ([]string, error) {
	manifests, err := c.store.Manifests()
	if err != nil {
		c.log.Errorln("Failed to list models:", err)
		return nil, fmt.Errorf("listing models: %w", err)
	}
	names := make([]string, 0, len(manifests))
	for mp := range manifests {
		if exclude != nil && exclude.IsVision(mp) {
			continue
		}
		names = append(names, mp.DisplayName())
	}
	slices.Sort(names)
	return slices.Compact(names), nil
}

// DeleteModel removes a model's manifest and any blobs no other model uses.
func (c *Client) DeleteModel(name string) error {
	mp := c.ParseModelName(name)
	if err := c.store.DeleteManifest(mp); err != nil {
		if errors.Is(err, store.ErrManifestNotFound) {
			return fmt.Errorf("%w: %s", ErrModelNotFound, utils.SanitizeForLog(name))
		}
		return fmt.Errorf("deleting model: %w", err)
	}
	used, err := c.store.UsedDigests()
	if err != nil {
		return fmt.Errorf("collecting referenced blobs: %w", err)
	}
	removed, err := c.store.DeleteUnusedLayers(used)
	if err != nil {
		return fmt.Errorf("removing unused blobs: %w", err)
	}
	c.log.Infof("Deleted model %s, removed %d unused blobs", utils.SanitizeForLog(mp.String()), removed)
	return nil
}

// ResolveModelfile returns the runtime configuration of a stored model.
func (c *Client) ResolveModelfile(name string) (*types.ModelfileConfig, error) {
	manifest, err := c.store.ReadManifest(c.ParseModelName(name))
	if err != nil {
		return nil, err
	}
	return c.resolver.ParseFromManifest(manifest)
}
