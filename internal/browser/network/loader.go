// browser/network/loader.go
package network

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"

	"github.com/xkilldash9x/retumi/internal/config"
)

// LoadError reports a page that could not be loaded.
type LoadError struct {
	Target string
	// StatusCode is set when the server answered with an error status.
	StatusCode int
	Err        error
}

func (e *LoadError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("failed to load %s: server responded %d %s", e.Target, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("failed to load %s: %v", e.Target, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// ErrBodyTooLarge is the cause of a LoadError for responses over the body limit.
var ErrBodyTooLarge = errors.New("response body exceeds the configured limit")

// Resource is a loaded page before parsing.
type Resource struct {
	// URL is the final location after redirects; file:// for local pages.
	URL         *url.URL
	StatusCode  int
	ContentType string
	Body        []byte
}

// Reader decodes the body to UTF-8 using the declared or sniffed charset.
func (r *Resource) Reader() (io.Reader, error) {
	return charset.NewReader(bytes.NewReader(r.Body), r.ContentType)
}

// IsHTML reports whether the resource should be parsed as markup.
func (r *Resource) IsHTML() bool {
	if r.ContentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(r.ContentType)
	if err != nil {
		return true
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

// Loader fetches pages over HTTP(S) or from the local file system.
type Loader struct {
	client  *resty.Client
	maxBody int64
	logger  *zap.Logger
}

// NewLoader builds a loader from the network settings.
func NewLoader(cfg config.NetworkConfig, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("network")

	clientCfg := NewClientConfig()
	if cfg.Timeout > 0 {
		clientCfg.RequestTimeout = cfg.Timeout
	}
	clientCfg.InsecureSkipVerify = cfg.IgnoreTLSErrors
	clientCfg.Logger = logger

	client := resty.NewWithClient(NewClient(clientCfg)).
		SetLogger(logger.Sugar()).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Accept", "text/html,application/xhtml+xml;q=0.9,text/plain;q=0.8,*/*;q=0.5")
	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}
	if len(cfg.Headers) > 0 {
		client.SetHeaders(cfg.Headers)
	}

	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 10 << 20
	}
	return &Loader{client: client, maxBody: maxBody, logger: logger}
}

// Load resolves target and returns its content. Targets may be http(s) URLs,
// file:// URLs, local paths (with ~ expanded) or a bare host, which is
// fetched over https.
func (l *Loader) Load(ctx context.Context, target string) (*Resource, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, &LoadError{Target: target, Err: errors.New("empty target")}
	}

	if u, err := url.Parse(target); err == nil {
		switch strings.ToLower(u.Scheme) {
		case "http", "https":
			return l.fetch(ctx, target, u)
		case "file":
			return l.readFile(target, u.Path)
		}
	}

	path, err := homedir.Expand(target)
	if err == nil {
		if info, statErr := os.Stat(path); statErr == nil && !info.IsDir() {
			return l.readFile(target, path)
		} else if looksLikePath(target) {
			if statErr == nil {
				statErr = fmt.Errorf("%s is a directory", path)
			}
			return nil, &LoadError{Target: target, Err: statErr}
		}
	}

	u, err := url.Parse("https://" + target)
	if err != nil || u.Host == "" {
		return nil, &LoadError{Target: target, Err: errors.New("not a file or URL")}
	}
	return l.fetch(ctx, target, u)
}

func looksLikePath(target string) bool {
	return strings.HasPrefix(target, "/") ||
		strings.HasPrefix(target, "./") ||
		strings.HasPrefix(target, "../") ||
		strings.HasPrefix(target, "~")
}

func (l *Loader) fetch(ctx context.Context, target string, u *url.URL) (*Resource, error) {
	start := time.Now()
	resp, err := l.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(u.String())
	if err != nil {
		return nil, &LoadError{Target: target, Err: err}
	}
	raw := resp.RawBody()
	defer raw.Close()

	finalURL := u
	if resp.RawResponse != nil && resp.RawResponse.Request != nil {
		finalURL = resp.RawResponse.Request.URL
	}

	status := resp.StatusCode()
	if status < 200 || status >= 400 {
		return nil, &LoadError{Target: target, StatusCode: status}
	}

	body, err := io.ReadAll(io.LimitReader(raw, l.maxBody+1))
	if err != nil {
		return nil, &LoadError{Target: target, Err: fmt.Errorf("failed to read response body: %w", err)}
	}
	if int64(len(body)) > l.maxBody {
		return nil, &LoadError{Target: target, Err: fmt.Errorf("%w (%d bytes)", ErrBodyTooLarge, l.maxBody)}
	}

	l.logger.Debug("Fetched page",
		zap.String("url", finalURL.String()),
		zap.Int("status", status),
		zap.Int("bytes", len(body)),
		zap.Duration("elapsed", time.Since(start)))

	return &Resource{
		URL:         finalURL,
		StatusCode:  status,
		ContentType: resp.Header().Get("Content-Type"),
		Body:        body,
	}, nil
}

func (l *Loader) readFile(target, path string) (*Resource, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &LoadError{Target: target, Err: err}
	}
	f, err := os.Open(abs)
	if err != nil {
		return nil, &LoadError{Target: target, Err: err}
	}
	defer f.Close()

	body, err := io.ReadAll(io.LimitReader(f, l.maxBody+1))
	if err != nil {
		return nil, &LoadError{Target: target, Err: err}
	}
	if int64(len(body)) > l.maxBody {
		return nil, &LoadError{Target: target, Err: fmt.Errorf("%w (%d bytes)", ErrBodyTooLarge, l.maxBody)}
	}

	contentType := mime.TypeByExtension(filepath.Ext(abs))
	if contentType == "" {
		contentType = http.DetectContentType(body)
	}
	l.logger.Debug("Read local page", zap.String("path", abs), zap.Int("bytes", len(body)))

	return &Resource{
		URL:         &url.URL{Scheme: "file", Path: filepath.ToSlash(abs)},
		ContentType: contentType,
		Body:        body,
	}, nil
}
