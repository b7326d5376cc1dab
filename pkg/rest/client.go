// Package rest is a client of the models web app backend.
package rest

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/opst/modelsync/pkg/api/types/backend"
	"github.com/opst/modelsync/pkg/api/types/resources"
	"github.com/opst/modelsync/pkg/auth"
	"github.com/opst/modelsync/pkg/configs/profiles"
	xe "github.com/opst/modelsync/pkg/errors"
	"github.com/opst/modelsync/pkg/logger"
	"github.com/opst/modelsync/pkg/sse"
)

type Client interface {
	// Config returns the configuration of the backend (GET /api/config).
	Config(ctx context.Context) (backend.AppConfig, error)

	// Namespaces returns namespaces which the user can access (GET /api/config/namespaces).
	Namespaces(ctx context.Context) ([]string, error)

	InferenceServices() ResourceClient
	InferenceGraphs() ResourceClient

	// Resources returns ResourceClient for kind.
	Resources(kind resources.Kind) (ResourceClient, error)
}

type client struct {
	httpclient *http.Client
	api        string
	checker    *auth.Checker
	prepare    func(*http.Request) error
	logger     *log.Logger
	sseOptions []sse.Option
}

type Option func(*client) *client

// WithHTTPClient replaces the http client. CA certificates in profile are not applied to it.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) *client {
		c.httpclient = hc
		return c
	}
}

func WithLogger(l *log.Logger) Option {
	return func(c *client) *client {
		c.logger = l
		return c
	}
}

// WithChecker sets how credentials are checked before sending.
func WithChecker(checker *auth.Checker) Option {
	return func(c *client) *client {
		c.checker = checker
		return c
	}
}

// WithStreamOptions are passed to sse.Subscribe for each event stream.
func WithStreamOptions(opts ...sse.Option) Option {
	return func(c *client) *client {
		c.sseOptions = append(c.sseOptions, opts...)
		return c
	}
}

// create new client for Profile
//
// # Args
//
// - *profiles.Profile
//
// # Return
//
// - Client: created client
//
// - error: If given profile is invalid, ErrProfileInvalid is returned.
func NewClient(prof *profiles.Profile, opts ...Option) (Client, error) {
	if err := prof.Verify(); err != nil {
		return nil, err
	}

	c := &client{
		httpclient: new(http.Client),
		api:        strings.TrimSuffix(prof.ApiRoot, "/"),
		logger:     logger.Null(),
	}
	customHttpClient := false
	for _, o := range opts {
		before := c.httpclient
		c = o(c)
		if c.httpclient != before {
			customHttpClient = true
		}
	}

	if prof.Cert.CA != "" && !customHttpClient {
		hc, err := trustCa(c.httpclient, []string{prof.Cert.CA})
		if err != nil {
			return nil, err
		}
		c.httpclient = hc
	}

	checker := c.checker
	if checker == nil {
		checker = auth.NewChecker(auth.WithLogger(c.logger))
	}
	c.prepare = checker.Prepare(auth.Credential{
		Token:        prof.Auth.Token,
		UserIDHeader: prof.Auth.Header(),
		UserID:       prof.Auth.UserID,
	})

	return c, nil
}

// build URL with path. Each segment is escaped.
func (c *client) apipath(path ...string) string {
	segments := make([]string, 0, len(path)+1)
	segments = append(segments, c.api)
	for _, p := range path {
		p = strings.Trim(p, "/")
		for _, s := range strings.Split(p, "/") {
			segments = append(segments, url.PathEscape(s))
		}
	}
	return strings.Join(segments, "/")
}

func (c *client) newRequest(ctx context.Context, method string, endpoint string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := c.prepare(req); err != nil {
		return nil, err
	}
	return req, nil
}

func (c *client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpclient.Do(req)
	if err != nil {
		return nil, xe.Transport(
			fmt.Sprintf("cannot reach the backend: %s %s", req.Method, req.URL.Path), err,
		)
	}
	return resp, nil
}

func (c *client) dialer() sse.Dialer {
	return sse.HTTPDialer{Client: c.httpclient, Prepare: c.prepare}
}

func (c *client) Config(ctx context.Context) (backend.AppConfig, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.apipath("api", "config"), nil)
	if err != nil {
		return backend.AppConfig{}, err
	}
	resp, err := c.do(req)
	if err != nil {
		return backend.AppConfig{}, err
	}
	defer resp.Body.Close()

	conf := backend.AppConfig{}
	if err := unmarshalJsonResponse(resp, &conf, MessageFor{
		Status4xx: "cannot get configuration (client error)",
		Status5xx: "cannot get configuration (server error)",
	}); err != nil {
		return backend.AppConfig{}, err
	}
	return conf, nil
}

func (c *client) Namespaces(ctx context.Context) ([]string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.apipath("api", "config", "namespaces"), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	env := backend.Envelope{}
	if err := unmarshalJsonResponse(resp, &env, MessageFor{
		Status4xx: "cannot get namespaces (client error)",
		Status5xx: "cannot get namespaces (server error)",
	}); err != nil {
		return nil, err
	}
	if env.Namespaces == nil {
		return []string{}, nil
	}
	return env.Namespaces, nil
}

func (c *client) InferenceServices() ResourceClient {
	return &resourceClient{client: c, kind: resources.KindInferenceService, streamable: true}
}

func (c *client) InferenceGraphs() ResourceClient {
	return &resourceClient{client: c, kind: resources.KindInferenceGraph, streamable: false}
}

func (c *client) Resources(kind resources.Kind) (ResourceClient, error) {
	switch kind {
	case resources.KindInferenceService:
		return c.InferenceServices(), nil
	case resources.KindInferenceGraph:
		return c.InferenceGraphs(), nil
	default:
		return nil, fmt.Errorf("unknown kind: %q", kind)
	}
}

func trustCa(hc *http.Client, cacerts []string) (*http.Client, error) {
	if len(cacerts) <= 0 {
		return hc, nil
	}

	if hc.Transport == nil {
		hc.Transport = http.DefaultTransport
	}

	tran, ok := hc.Transport.(*http.Transport)
	if !ok {
		return nil, fmt.Errorf("failed to add ca cert")
	}
	tran = tran.Clone()

	tcc := tran.TLSClientConfig.Clone()
	if tcc == nil {
		tcc = &tls.Config{}
	}

	rootcas := tcc.RootCAs
	if rootcas == nil {
		rootcas = x509.NewCertPool()
		tcc.RootCAs = rootcas
	}
	for _, ca := range cacerts {
		bin, err := base64.StdEncoding.DecodeString(ca)
		if err != nil {
			return nil, err
		}

		if !rootcas.AppendCertsFromPEM(bin) {
			return nil, fmt.Errorf("failed to add cert")
		}
	}

	tran.TLSClientConfig = tcc
	hc.Transport = tran
	return hc, nil
}
