package flow

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

var textContentTypes = []string{
	"text/",
	"application/json",
	"application/javascript",
	"application/xml",
	"application/x-www-form-urlencoded",
}

// IsTextContentType reports whether a Content-Type value carries text.
func IsTextContentType(contentType string) bool {
	for _, t := range textContentTypes {
		if strings.HasPrefix(contentType, t) {
			return true
		}
	}
	return false
}

// DecodeContentEncoding undoes a Content-Encoding. Supported: identity,
// gzip, deflate, br, zstd.
func DecodeContentEncoding(body []byte, encoding string) ([]byte, error) {
	switch encoding {
	case "", "identity":
		return body, nil
	case "gzip":
		r, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case "deflate":
		r := flate.NewReader(bytes.NewReader(body))
		defer r.Close()
		return io.ReadAll(r)
	case "br":
		return io.ReadAll(brotli.NewReader(bytes.NewReader(body)))
	case "zstd":
		r, err := zstd.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	default:
		return nil, fmt.Errorf("unsupported content encoding: %s", encoding)
	}
}

// DecodedRequestBody returns the request body with its Content-Encoding
// undone.
func (f *Flow) DecodedRequestBody() ([]byte, error) {
	return DecodeContentEncoding(f.RequestBody, f.RequestHeaders.Get("Content-Encoding"))
}

// DecodedResponseBody returns the response body with its Content-Encoding
// undone.
func (f *Flow) DecodedResponseBody() ([]byte, error) {
	return DecodeContentEncoding(f.ResponseBody, f.ResponseHeaders.Get("Content-Encoding"))
}

// ReplaceToDecodedResponseBody swaps the response body for its decoded form
// and fixes up the framing headers. A decode failure leaves the flow
// untouched.
func (f *Flow) ReplaceToDecodedResponseBody() {
	decoded, err := f.DecodedResponseBody()
	if err != nil {
		return
	}
	f.ResponseBody = decoded
	f.ResponseHeaders.Del("Content-Encoding")
	f.ResponseHeaders.Del("Transfer-Encoding")
	f.ResponseHeaders.Set("Content-Length", strconv.Itoa(len(decoded)))
}
