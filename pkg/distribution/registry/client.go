package registry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/containerd/log"
	"github.com/docker/model-distribution/pkg/distribution/types"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

const (
	DefaultUserAgent       = "model-distribution"
	DefaultRequestTimeout  = 30 * time.Second
	DefaultDownloadTimeout = time.Hour
)

var (
	defaultBaseURL   string
	defaultPlainHTTP bool
	once             sync.Once
	DefaultTransport = NewDefaultTransport()
)

// GetDefaultBaseURL returns the registry base URL and whether plain HTTP is
// allowed, honouring the environment:
//   - DEFAULT_REGISTRY: override the default registry (registry.ollama.ai)
//   - INSECURE_REGISTRY: set to "true" to allow HTTP connections
//
// Environment variables are read once at first call and cached for consistency.
func GetDefaultBaseURL() (string, bool) {
	once.Do(func() {
		defaultPlainHTTP = os.Getenv("INSECURE_REGISTRY") == "true"
		defaultBaseURL = types.DefaultBaseURL
		if reg := os.Getenv("DEFAULT_REGISTRY"); reg != "" {
			defaultBaseURL = normalizeBaseURL(reg, defaultPlainHTTP)
		}
	})
	return defaultBaseURL, defaultPlainHTTP
}

func normalizeBaseURL(u string, plainHTTP bool) string {
	u = strings.TrimSuffix(u, "/")
	if strings.Contains(u, "://") {
		return u
	}
	if plainHTTP {
		return "http://" + u
	}
	return "https://" + u
}

type Client struct {
	baseURL         string
	transport       http.RoundTripper
	userAgent       string
	auth            authn.Authenticator
	plainHTTP       bool
	requestTimeout  time.Duration
	downloadTimeout time.Duration
}

type ClientOption func(*Client)

// WithBaseURL sets the registry used for model paths on the default registry.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimSuffix(baseURL, "/")
		}
	}
}

func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *Client) {
		if transport != nil {
			c.transport = transport
		}
	}
}

func WithUserAgent(userAgent string) ClientOption {
	return func(c *Client) {
		if userAgent != "" {
			c.userAgent = userAgent
		}
	}
}

func WithAuthConfig(username, password string) ClientOption {
	return func(c *Client) {
		if username != "" && password != "" {
			c.auth = &authn.Basic{
				Username: username,
				Password: password,
			}
		}
	}
}

// WithAuth sets a custom authenticator.
func WithAuth(auth authn.Authenticator) ClientOption {
	return func(c *Client) {
		if auth != nil {
			c.auth = auth
		}
	}
}

// WithPlainHTTP enables or disables plain HTTP connections to registries.
func WithPlainHTTP(plain bool) ClientOption {
	return func(c *Client) {
		c.plainHTTP = plain
	}
}

// WithRequestTimeout bounds manifest requests.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

// WithDownloadTimeout bounds a single blob download, including reading the body.
func WithDownloadTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.downloadTimeout = d
		}
	}
}

func NewClient(opts ...ClientOption) *Client {
	baseURL, plainHTTP := GetDefaultBaseURL()
	client := &Client{
		baseURL:         baseURL,
		transport:       DefaultTransport,
		userAgent:       DefaultUserAgent,
		plainHTTP:       plainHTTP,
		requestTimeout:  DefaultRequestTimeout,
		downloadTimeout: DefaultDownloadTimeout,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// FromClient creates a new Client by copying an existing client's configuration
// and applying optional modifications via ClientOption functions.
func FromClient(base *Client, opts ...ClientOption) *Client {
	client := *base
	for _, opt := range opts {
		opt(&client)
	}
	return &client
}

// BaseURL returns the registry endpoint used for mp. Paths naming the
// default registry go to the client's base URL; any other registry is
// contacted directly.
func (c *Client) BaseURL(mp types.ModelPath) string {
	if mp.Registry == types.DefaultRegistry && mp.Scheme == types.DefaultScheme {
		return c.baseURL
	}
	if c.plainHTTP && mp.Scheme == types.DefaultScheme {
		return "http://" + mp.Registry
	}
	return mp.BaseURL()
}

// ManifestURL returns the URL of the manifest for mp.
func (c *Client) ManifestURL(mp types.ModelPath) string {
	return fmt.Sprintf("%s/v2/%s/manifests/%s", c.BaseURL(mp), mp.NamespaceRepository(), mp.Tag)
}

// BlobURL returns the URL of a blob in mp's repository.
func (c *Client) BlobURL(mp types.ModelPath, digest string) string {
	return fmt.Sprintf("%s/v2/%s/blobs/%s", c.BaseURL(mp), mp.NamespaceRepository(), digest)
}

// FetchManifest retrieves and decodes the manifest for mp.
func (c *Client) FetchManifest(ctx context.Context, mp types.ModelPath) (*types.Manifest, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	manifestURL := c.ManifestURL(mp)
	log.G(ctx).WithField("url", manifestURL).Debug("Fetching manifest")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating manifest request: %w", err)
	}
	req.Header.Set("Accept", strings.Join([]string{types.MediaTypeManifestV2, ocispec.MediaTypeImageManifest}, ", "))

	resp, err := c.do(ctx, mp, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, newResponseError(mp.String(), resp)
	}
	m, err := types.ParseManifest(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("manifest for %s: %w", mp, err)
	}
	return m, nil
}

// OpenBlob starts downloading a blob and returns its body and the size
// reported by the registry (-1 when unknown). The caller must close the
// body.
func (c *Client) OpenBlob(ctx context.Context, mp types.ModelPath, digest string) (io.ReadCloser, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.downloadTimeout)

	blobURL := c.BlobURL(mp, digest)
	log.G(ctx).WithField("url", blobURL).Debug("Downloading blob")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, blobURL, nil)
	if err != nil {
		cancel()
		return nil, 0, fmt.Errorf("creating blob request: %w", err)
	}
	resp, err := c.do(ctx, mp, req)
	if err != nil {
		cancel()
		return nil, 0, err
	}
	if resp.StatusCode != http.StatusOK {
		defer cancel()
		defer resp.Body.Close()
		return nil, 0, newResponseError(mp.String()+"@"+digest, resp)
	}
	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, resp.ContentLength, nil
}

func (c *Client) do(ctx context.Context, mp types.ModelPath, req *http.Request) (*http.Response, error) {
	rt, err := c.roundTripper(ctx, mp)
	if err != nil {
		return nil, newTransportError(mp.String(), err)
	}
	resp, err := (&http.Client{Transport: rt}).Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("request to %s: %w", mp, ctxErr)
		}
		return nil, newTransportError(mp.String(), err)
	}
	return resp, nil
}

// roundTripper returns the transport for a request. With credentials
// configured, go-containerregistry negotiates basic or bearer auth scoped to
// pulling mp's repository.
func (c *Client) roundTripper(ctx context.Context, mp types.ModelPath) (http.RoundTripper, error) {
	rt := transport.NewUserAgent(c.transport, c.userAgent)
	if c.auth == nil {
		return rt, nil
	}

	base, err := url.Parse(c.BaseURL(mp))
	if err != nil {
		return nil, fmt.Errorf("invalid registry URL: %w", err)
	}
	var opts []name.Option
	if base.Scheme == "http" {
		opts = append(opts, name.Insecure)
	}
	repo, err := name.NewRepository(base.Host+"/"+mp.NamespaceRepository(), opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid repository %s: %w", mp, err)
	}
	return transport.NewWithContext(ctx, repo.Registry, c.auth, rt, []string{repo.Scope(transport.PullScope)})
}

// cancelOnClose releases the download context once the body is closed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	defer c.cancel()
	return c.ReadCloser.Close()
}
