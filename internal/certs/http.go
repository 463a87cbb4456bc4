package certs

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mrz1836/brcwallet/internal/chain"
	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

// DefaultDiscoveryConcurrency bounds concurrent resolver lookups.
const DefaultDiscoveryConcurrency = 4

// HTTPCertifier requests certificates from certifier services. Each
// certifier host gets its own client, so a failing certifier trips only its
// own breaker.
type HTTPCertifier struct {
	opts chain.ClientOptions

	mu      sync.Mutex
	clients map[string]*chain.JSONClient
}

// NewHTTPCertifier creates an HTTPCertifier.
func NewHTTPCertifier(opts chain.ClientOptions) *HTTPCertifier {
	if opts.Limiter == nil {
		opts.Limiter = chain.DefaultRateLimiter()
	}
	return &HTTPCertifier{opts: opts, clients: make(map[string]*chain.JSONClient)}
}

func (h *HTTPCertifier) client(certifierURL string) *chain.JSONClient {
	host := certifierURL
	if u, err := url.Parse(certifierURL); err == nil {
		host = u.Host
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[host]
	if !ok {
		opts := h.opts
		c = chain.NewJSONClient("certifier "+host, &opts)
		h.clients[host] = c
	}
	return c
}

// Issue implements Certifier. Every failure is CERTIFIER_UNAVAILABLE.
func (h *HTTPCertifier) Issue(ctx context.Context, certifierURL string, req *IssuanceRequest) (*Certificate, error) {
	var c Certificate
	if err := h.client(certifierURL).Do(ctx, http.MethodPost, certifierURL, req, &c); err != nil {
		return nil, walleterr.WithContext(walleterr.WithCause(walleterr.ErrCertifierUnavailable, err),
			map[string]string{"url": certifierURL})
	}
	return &c, nil
}

type discoveryQuery struct {
	IdentityKey string            `json:"identityKey,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

type discoveryResponse struct {
	Certificates []DiscoveredCertificate `json:"certificates"`
}

type resolver struct {
	url    string
	client *chain.JSONClient
}

// HTTPDiscoverer queries every configured resolver concurrently and merges
// the answers. A lookup fails only when every resolver fails.
type HTTPDiscoverer struct {
	resolvers   []resolver
	concurrency int
	logger      chain.LogWriter
}

// NewHTTPDiscoverer creates a discoverer over resolver URLs.
func NewHTTPDiscoverer(urls []string, opts chain.ClientOptions, logger chain.LogWriter) *HTTPDiscoverer {
	if logger == nil {
		logger = nopLogger{}
	}
	if opts.Limiter == nil {
		opts.Limiter = chain.DefaultRateLimiter()
	}
	d := &HTTPDiscoverer{concurrency: DefaultDiscoveryConcurrency, logger: logger}
	for _, u := range urls {
		o := opts
		d.resolvers = append(d.resolvers, resolver{url: u, client: chain.NewJSONClient("discovery "+u, &o)})
	}
	return d
}

// ByIdentity implements Discoverer.
func (d *HTTPDiscoverer) ByIdentity(ctx context.Context, identityKey string) ([]DiscoveredCertificate, error) {
	return d.lookup(ctx, &discoveryQuery{IdentityKey: identityKey})
}

// ByAttributes implements Discoverer.
func (d *HTTPDiscoverer) ByAttributes(ctx context.Context, attributes map[string]string) ([]DiscoveredCertificate, error) {
	return d.lookup(ctx, &discoveryQuery{Attributes: attributes})
}

func (d *HTTPDiscoverer) lookup(ctx context.Context, q *discoveryQuery) ([]DiscoveredCertificate, error) {
	if len(d.resolvers) == 0 {
		return nil, walleterr.ErrDiscoveryUnavailable
	}

	results := make([][]DiscoveredCertificate, len(d.resolvers))
	errs := make([]error, len(d.resolvers))

	var eg errgroup.Group
	eg.SetLimit(d.concurrency)
	for i, res := range d.resolvers {
		eg.Go(func() error {
			var resp discoveryResponse
			if err := res.client.Do(ctx, http.MethodPost, res.url, q, &resp); err != nil {
				d.logger.Error("certs: resolver %s failed: %v", res.url, err)
				errs[i] = err
				return nil
			}
			results[i] = resp.Certificates
			return nil
		})
	}
	_ = eg.Wait()

	var merged []DiscoveredCertificate
	failed := 0
	for i := range d.resolvers {
		if errs[i] != nil {
			failed++
			continue
		}
		merged = append(merged, results[i]...)
	}
	if failed == len(d.resolvers) {
		return nil, walleterr.WithCause(walleterr.ErrNetworkError, errors.Join(errs...))
	}
	return merged, nil
}
