// Package codec decodes and re-encodes HTTP response bodies across the
// content encodings the intercepted app is known to negotiate.
package codec

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
)

// ErrDecode marks a body that declared an encoding but could not be decoded.
// Callers are expected to fail open and relay the raw bytes.
var ErrDecode = errors.New("body decode failed")

// ErrUnsupported marks an encoding this codec does not understand.
var ErrUnsupported = errors.New("unsupported content encoding")

const (
	EncodingIdentity = ""
	EncodingGzip     = "gzip"
	EncodingDeflate  = "deflate"
	EncodingBrotli   = "br"
)

// Decode returns the plaintext for raw given the declared Content-Encoding.
// An empty or "identity" encoding passes the bytes through untouched.
func Decode(raw []byte, encoding string) ([]byte, error) {
	switch normalize(encoding) {
	case EncodingIdentity:
		return raw, nil
	case EncodingGzip:
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: gzip: %v", ErrDecode, err)
		}
		defer zr.Close()
		return readAll(zr, EncodingGzip)
	case EncodingDeflate:
		// RFC 9110 deflate is zlib-wrapped, but some origins send a bare
		// DEFLATE stream. Try the wrapped form first.
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err == nil {
			defer zr.Close()
			if out, err := io.ReadAll(zr); err == nil {
				return out, nil
			}
		}
		fr := flate.NewReader(bytes.NewReader(raw))
		defer fr.Close()
		return readAll(fr, EncodingDeflate)
	case EncodingBrotli:
		return readAll(brotli.NewReader(bytes.NewReader(raw)), EncodingBrotli)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, encoding)
	}
}

// Encode compresses data with the given encoding. Used by tests and by the
// passthrough path when a caller needs to restore the original representation.
func Encode(data []byte, encoding string) ([]byte, error) {
	switch normalize(encoding) {
	case EncodingIdentity:
		return data, nil
	case EncodingGzip:
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case EncodingDeflate:
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case EncodingBrotli:
		var buf bytes.Buffer
		bw := brotli.NewWriter(&buf)
		if _, err := bw.Write(data); err != nil {
			return nil, err
		}
		if err := bw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, encoding)
	}
}

func readAll(r io.Reader, encoding string) ([]byte, error) {
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, encoding, err)
	}
	return out, nil
}

func normalize(encoding string) string {
	enc := strings.ToLower(strings.TrimSpace(encoding))
	if enc == "identity" {
		return EncodingIdentity
	}
	return enc
}
