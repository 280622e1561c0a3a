package transport

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/crypto/pkcs12"
)

// Transport performs a single HTTP exchange. A returned error means no
// response was received at all; HTTP error statuses come back as a Response.
type Transport interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req *Request) (*Response, error)

func (f TransportFunc) Do(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// HTTPTransportConfig configures NewHTTPTransport.
type HTTPTransportConfig struct {
	// ClientCertPath optionally points to a PKCS#12 (.pfx/.p12) bundle used as
	// TLS client certificate.
	ClientCertPath     string
	ClientCertPassword string
	InsecureSkipVerify bool
	// Compression advertises br and gzip and decodes compressed bodies.
	Compression bool
}

// HTTPTransport executes requests with net/http. Per-attempt timeouts are
// enforced by the caller through the context, not by the http.Client.
type HTTPTransport struct {
	client      *http.Client
	compression bool
}

func NewHTTPTransport(cfg HTTPTransportConfig) (*HTTPTransport, error) {
	base := http.DefaultTransport.(*http.Transport).Clone()

	if cfg.ClientCertPath != "" || cfg.InsecureSkipVerify {
		tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
		if cfg.InsecureSkipVerify {
			tlsConfig.InsecureSkipVerify = true //nolint:gosec // opt-in for local backends
		}
		if cfg.ClientCertPath != "" {
			cert, err := LoadPKCS12Certificate(cfg.ClientCertPath, cfg.ClientCertPassword)
			if err != nil {
				return nil, err
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
		base.TLSClientConfig = tlsConfig
	}

	return &HTTPTransport{client: &http.Client{Transport: base}, compression: cfg.Compression}, nil
}

// NewHTTPTransportWithClient wraps an existing client, e.g. one built by
// golang.org/x/oauth2 or httptest.
func NewHTTPTransportWithClient(client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPTransport{client: client}
}

func (t *HTTPTransport) Do(ctx context.Context, req *Request) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, err
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if len(req.Body) > 0 && httpReq.Header.Get(HeaderContentType) == "" {
		httpReq.Header.Set(HeaderContentType, MediaTypeJSON)
	}
	if t.compression && httpReq.Header.Get("Accept-Encoding") == "" {
		httpReq.Header.Set("Accept-Encoding", "br, gzip")
	}

	sentAt := time.Now()
	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := readBody(resp)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	headers := make(map[string]string, len(resp.Header))
	for k, vals := range resp.Header {
		if len(vals) > 0 {
			headers[strings.ToLower(k)] = vals[0]
		}
	}

	return &Response{
		URL:        req.URL,
		StatusCode: resp.StatusCode,
		Headers:    headers,
		Body:       data,
		SentAt:     sentAt,
		ReceivedAt: time.Now(),
	}, nil
}

// readBody reads resp.Body, decoding br and gzip content encodings that the
// http.Client left in place.
func readBody(resp *http.Response) ([]byte, error) {
	var body io.Reader = resp.Body
	decoded := true

	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "br":
		body = brotli.NewReader(resp.Body)
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		body = gz
	default:
		decoded = false
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if decoded {
		resp.Header.Del("Content-Encoding")
		resp.Header.Del("Content-Length")
	}
	return data, nil
}

// LoadPKCS12Certificate reads a PKCS#12 bundle into a tls.Certificate.
func LoadPKCS12Certificate(path, password string) (tls.Certificate, error) {
	pfxData, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to read client certificate: %w", err)
	}

	privateKey, cert, err := pkcs12.Decode(pfxData, password)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to decode pkcs12: %w", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  privateKey,
		Leaf:        cert,
	}, nil
}
