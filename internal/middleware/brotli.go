package middleware

import (
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
)

// BrotliMinLength is the smallest body worth compressing. Participant lists
// for large courses are the main beneficiary.
const BrotliMinLength = 1024

var brotliPool = sync.Pool{
	New: func() any { return brotli.NewWriterLevel(io.Discard, brotli.DefaultCompression) },
}

type brotliWriter struct {
	gin.ResponseWriter
	enc     *brotli.Writer
	buf     []byte
	started bool
}

func (bw *brotliWriter) Write(data []byte) (int, error) {
	if bw.started {
		return bw.enc.Write(data)
	}
	bw.buf = append(bw.buf, data...)
	if len(bw.buf) < BrotliMinLength {
		return len(data), nil
	}
	bw.start()
	if _, err := bw.enc.Write(bw.buf); err != nil {
		return 0, err
	}
	bw.buf = nil
	return len(data), nil
}

func (bw *brotliWriter) WriteString(s string) (int, error) {
	return bw.Write([]byte(s))
}

func (bw *brotliWriter) start() {
	bw.started = true
	h := bw.ResponseWriter.Header()
	h.Set("Content-Encoding", "br")
	h.Del("Content-Length")
	bw.enc.Reset(bw.ResponseWriter)
}

// finish writes a short body as-is or closes the encoder.
func (bw *brotliWriter) finish() error {
	if bw.started {
		return bw.enc.Close()
	}
	if len(bw.buf) == 0 {
		return nil
	}
	_, err := bw.ResponseWriter.Write(bw.buf)
	return err
}

// Brotli compresses JSON responses for clients that accept br.
func Brotli() gin.HandlerFunc {
	return func(c *gin.Context) {
		if isUpgrade(c.Request) || !acceptsBrotli(c.Request) {
			c.Next()
			return
		}

		c.Header("Vary", "Accept-Encoding")
		enc := brotliPool.Get().(*brotli.Writer)
		bw := &brotliWriter{ResponseWriter: c.Writer, enc: enc}
		c.Writer = bw

		defer func() {
			if err := bw.finish(); err != nil {
				_ = c.Error(err)
			}
			enc.Reset(io.Discard)
			brotliPool.Put(enc)
		}()
		c.Next()
	}
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func acceptsBrotli(r *http.Request) bool {
	for _, enc := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		name, _, _ := strings.Cut(strings.TrimSpace(enc), ";")
		if strings.EqualFold(name, "br") {
			return true
		}
	}
	return false
}
