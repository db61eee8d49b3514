// browser/network/httpclient.go
package network

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"time"

	"go.uber.org/zap"
)

// Constants tuned for interactive page loading.
const (
	DefaultDialTimeout           = 15 * time.Second
	DefaultKeepAliveInterval     = 30 * time.Second
	DefaultTLSHandshakeTimeout   = 10 * time.Second
	DefaultResponseHeaderTimeout = 30 * time.Second
	DefaultRequestTimeout        = 30 * time.Second

	DefaultMaxIdleConns        = 32
	DefaultMaxIdleConnsPerHost = 4
	DefaultIdleConnTimeout     = 90 * time.Second

	// DefaultMaxRedirects matches the limit browsers commonly apply.
	DefaultMaxRedirects = 10
)

// SecureMinTLSVersion defines the lowest TLS version considered secure by default.
const SecureMinTLSVersion = tls.VersionTLS12

// ErrTooManyRedirects is returned when a page redirects more than MaxRedirects times.
var ErrTooManyRedirects = errors.New("too many redirects")

// ClientConfig holds the configuration for the page-loading HTTP client.
type ClientConfig struct {
	InsecureSkipVerify bool
	TLSConfig          *tls.Config

	RequestTimeout time.Duration
	DialTimeout    time.Duration
	KeepAlive      time.Duration

	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration

	// MaxRedirects caps redirect chains. Zero hands redirects back to the caller.
	MaxRedirects int

	CookieJar http.CookieJar
	Logger    *zap.Logger
}

// NewClientConfig creates a configuration with browser-like defaults.
func NewClientConfig() *ClientConfig {
	// cookiejar.New only fails on invalid options.
	jar, _ := cookiejar.New(nil)

	return &ClientConfig{
		RequestTimeout:      DefaultRequestTimeout,
		DialTimeout:         DefaultDialTimeout,
		KeepAlive:           DefaultKeepAliveInterval,
		MaxIdleConns:        DefaultMaxIdleConns,
		MaxIdleConnsPerHost: DefaultMaxIdleConnsPerHost,
		IdleConnTimeout:     DefaultIdleConnTimeout,
		MaxRedirects:        DefaultMaxRedirects,
		CookieJar:           jar,
		Logger:              zap.NewNop(),
	}
}

// NewHTTPTransport creates the base transport. Compression is left to
// CompressionMiddleware so brotli is handled alongside gzip and deflate.
func NewHTTPTransport(config *ClientConfig) *http.Transport {
	if config == nil {
		config = NewClientConfig()
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	dialer := &net.Dialer{
		Timeout:   config.DialTimeout,
		KeepAlive: config.KeepAlive,
	}

	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSClientConfig:       configureTLS(config),
		TLSHandshakeTimeout:   DefaultTLSHandshakeTimeout,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		ResponseHeaderTimeout: DefaultResponseHeaderTimeout,
		DisableCompression:    true,
		ForceAttemptHTTP2:     true,
	}
}

// NewClient creates the configured http.Client.
func NewClient(config *ClientConfig) *http.Client {
	if config == nil {
		config = NewClientConfig()
	}
	transport := NewHTTPTransport(config)
	logger := config.Logger

	return &http.Client{
		Transport: NewCompressionMiddleware(transport),
		Timeout:   config.RequestTimeout,
		Jar:       config.CookieJar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if config.MaxRedirects == 0 {
				return http.ErrUseLastResponse
			}
			if len(via) > config.MaxRedirects {
				return fmt.Errorf("%w: stopped after %d", ErrTooManyRedirects, config.MaxRedirects)
			}
			logger.Debug("Following redirect", zap.String("to", req.URL.String()), zap.Int("hop", len(via)))
			return nil
		},
	}
}

func defaultTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion: SecureMinTLSVersion,
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		},
		ClientSessionCache: tls.NewLRUClientSessionCache(64),
	}
}

// configureTLS clones the caller's TLS config, fills in secure defaults for
// anything unset and applies InsecureSkipVerify last.
func configureTLS(config *ClientConfig) *tls.Config {
	defaults := defaultTLSConfig()

	var tlsConfig *tls.Config
	if config.TLSConfig != nil {
		tlsConfig = config.TLSConfig.Clone()
	} else {
		tlsConfig = defaults.Clone()
	}

	if len(tlsConfig.CipherSuites) == 0 {
		tlsConfig.CipherSuites = defaults.CipherSuites
	}
	if len(tlsConfig.CurvePreferences) == 0 {
		tlsConfig.CurvePreferences = defaults.CurvePreferences
	}
	if tlsConfig.ClientSessionCache == nil {
		tlsConfig.ClientSessionCache = defaults.ClientSessionCache
	}
	if len(tlsConfig.NextProtos) == 0 {
		// "h2" first to prefer HTTP/2.
		tlsConfig.NextProtos = []string{"h2", "http/1.1"}
	}
	if tlsConfig.MinVersion == 0 {
		tlsConfig.MinVersion = SecureMinTLSVersion
	}
	if tlsConfig.MinVersion < SecureMinTLSVersion {
		config.Logger.Warn("Minimum TLS version is below TLS 1.2",
			zap.Uint16("configured_version", tlsConfig.MinVersion))
	}

	tlsConfig.InsecureSkipVerify = config.InsecureSkipVerify
	if config.InsecureSkipVerify {
		config.Logger.Warn("TLS certificate verification is disabled")
	}
	return tlsConfig
}
