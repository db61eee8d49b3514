// browser/network/compression.go
package network

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

// AcceptEncoding is advertised on every request that does not set its own.
const AcceptEncoding = "br, gzip, deflate"

var (
	gzipReaderPool = sync.Pool{
		New: func() interface{} { return new(gzip.Reader) },
	}
	brotliReaderPool = sync.Pool{
		New: func() interface{} { return brotli.NewReader(nil) },
	}
)

// Pooled readers are reset onto this before going back to the pool.
var emptyReader = strings.NewReader("")

func getGzipReader(r io.Reader) (*gzip.Reader, error) {
	zr := gzipReaderPool.Get().(*gzip.Reader)
	if err := zr.Reset(r); err != nil {
		gzipReaderPool.Put(zr)
		return nil, err
	}
	return zr, nil
}

func putGzipReader(zr *gzip.Reader) {
	// Reset on an empty reader returns io.EOF, which is expected.
	_ = zr.Reset(emptyReader)
	gzipReaderPool.Put(zr)
}

func getBrotliReader(r io.Reader) (*brotli.Reader, error) {
	br := brotliReaderPool.Get().(*brotli.Reader)
	if err := br.Reset(r); err != nil {
		brotliReaderPool.Put(br)
		return nil, err
	}
	return br, nil
}

func putBrotliReader(br *brotli.Reader) {
	_ = br.Reset(emptyReader)
	brotliReaderPool.Put(br)
}

// CompressionMiddleware is an http.RoundTripper that negotiates compression
// and transparently decodes gzip, deflate and brotli response bodies.
type CompressionMiddleware struct {
	// Transport performs the request. Nil means http.DefaultTransport.
	Transport http.RoundTripper
}

// NewCompressionMiddleware wraps transport.
func NewCompressionMiddleware(transport http.RoundTripper) *CompressionMiddleware {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &CompressionMiddleware{Transport: transport}
}

// RoundTrip implements http.RoundTripper.
func (cm *CompressionMiddleware) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("Accept-Encoding", AcceptEncoding)
	}

	resp, err := cm.Transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if err := DecompressResponse(resp); err != nil {
		// The body may be partly consumed; it cannot be handed on.
		_ = resp.Body.Close()
		return nil, fmt.Errorf("failed to initialize response decompression: %w", err)
	}
	return resp, nil
}

// decodedBody closes the decoder, returns pooled readers and closes the
// wrapped body.
type decodedBody struct {
	io.ReadCloser
	underlying io.ReadCloser
	release    func()
}

func (b *decodedBody) Close() error {
	if b.release != nil {
		b.release()
		b.release = nil
	}
	return errors.Join(b.ReadCloser.Close(), b.underlying.Close())
}

// DecompressResponse replaces resp.Body with a decoding reader according to
// Content-Encoding. Layered encodings are undone in reverse order. On success
// the encoding and length headers are removed and resp.Uncompressed is set.
//
// On error the body may have been partly read and must be discarded.
func DecompressResponse(resp *http.Response) error {
	if resp == nil || resp.Body == nil {
		return nil
	}
	encodings := resp.Header.Values("Content-Encoding")
	if len(encodings) == 0 {
		return nil
	}

	for i := len(encodings) - 1; i >= 0; i-- {
		var (
			reader  io.ReadCloser
			release func()
		)

		switch encoding := strings.ToLower(strings.TrimSpace(encodings[i])); encoding {
		case "gzip", "x-gzip":
			zr, err := getGzipReader(resp.Body)
			if err != nil {
				return fmt.Errorf("gzip initialization error: %w", err)
			}
			reader = zr
			release = func() { putGzipReader(zr) }

		case "deflate":
			reader = openDeflate(resp.Body)

		case "br":
			br, err := getBrotliReader(resp.Body)
			if err != nil {
				return fmt.Errorf("brotli initialization error: %w", err)
			}
			reader = io.NopCloser(br)
			release = func() { putBrotliReader(br) }

		case "identity", "":
			continue

		default:
			return fmt.Errorf("unsupported Content-Encoding layer: %s", encoding)
		}

		resp.Body = &decodedBody{ReadCloser: reader, underlying: resp.Body, release: release}
	}

	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return nil
}

// replayReader records what it reads so the stream can be restarted from
// the beginning once.
type replayReader struct {
	r      io.Reader
	buf    *bytes.Buffer
	source io.Reader
}

func newReplayReader(r io.Reader) *replayReader {
	buf := bytes.NewBuffer(make([]byte, 0, 128))
	return &replayReader{r: io.TeeReader(r, buf), buf: buf, source: r}
}

func (rr *replayReader) Read(p []byte) (int, error) { return rr.r.Read(p) }

func (rr *replayReader) replay() {
	rr.r = io.MultiReader(bytes.NewReader(rr.buf.Bytes()), rr.source)
}

// openDeflate decodes "deflate" bodies, which servers send either zlib-wrapped
// (RFC 1950) or raw (RFC 1951).
func openDeflate(r io.Reader) io.ReadCloser {
	rr := newReplayReader(r)
	if zr, err := zlib.NewReader(rr); err == nil {
		return zr
	}
	rr.replay()
	return flate.NewReader(rr)
}
