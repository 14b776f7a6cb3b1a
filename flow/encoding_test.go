package flow_test

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"testing"

	"github.com/andybalholm/brotli"
	qt "github.com/frankban/quicktest"
	"github.com/klauspost/compress/zstd"

	"github.com/vsthakur101/webapi-moderator/flow"
)

func TestDecodeContentEncodingIdentity(t *testing.T) {
	c := qt.New(t)

	plain := []byte("hello world")
	decoded, err := flow.DecodeContentEncoding(plain, "identity")

	c.Assert(err, qt.IsNil)
	c.Assert(decoded, qt.DeepEquals, plain)
}

func TestDecodeContentEncodingGzip(t *testing.T) {
	c := qt.New(t)

	plain := []byte("hello world")
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, _ = w.Write(plain)
	_ = w.Close()

	decoded, err := flow.DecodeContentEncoding(buf.Bytes(), "gzip")

	c.Assert(err, qt.IsNil)
	c.Assert(decoded, qt.DeepEquals, plain)
}

func TestDecodeContentEncodingDeflate(t *testing.T) {
	c := qt.New(t)

	plain := []byte("hello world")
	var buf bytes.Buffer
	w, _ := flate.NewWriter(&buf, flate.DefaultCompression)
	_, _ = w.Write(plain)
	_ = w.Close()

	decoded, err := flow.DecodeContentEncoding(buf.Bytes(), "deflate")

	c.Assert(err, qt.IsNil)
	c.Assert(decoded, qt.DeepEquals, plain)
}

func TestDecodeContentEncodingBrotli(t *testing.T) {
	c := qt.New(t)

	plain := []byte("hello world")
	var buf bytes.Buffer
	w := brotli.NewWriter(&buf)
	_, _ = w.Write(plain)
	_ = w.Close()

	decoded, err := flow.DecodeContentEncoding(buf.Bytes(), "br")

	c.Assert(err, qt.IsNil)
	c.Assert(decoded, qt.DeepEquals, plain)
}

func TestDecodeContentEncodingZstd(t *testing.T) {
	c := qt.New(t)

	plain := []byte("hello world")
	var buf bytes.Buffer
	w, _ := zstd.NewWriter(&buf)
	_, _ = w.Write(plain)
	w.Close()

	decoded, err := flow.DecodeContentEncoding(buf.Bytes(), "zstd")

	c.Assert(err, qt.IsNil)
	c.Assert(decoded, qt.DeepEquals, plain)
}

func TestDecodeContentEncodingUnsupported(t *testing.T) {
	c := qt.New(t)

	_, err := flow.DecodeContentEncoding([]byte("x"), "unknown")
	c.Assert(err, qt.IsNotNil)
}

func TestReplaceToDecodedResponseBody(t *testing.T) {
	c := qt.New(t)

	plain := []byte("payload")
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, _ = w.Write(plain)
	_ = w.Close()

	f := flow.New()
	f.ResponseBody = buf.Bytes()
	f.ResponseHeaders = flow.Header{
		{Name: "Content-Encoding", Value: "gzip"},
		{Name: "Transfer-Encoding", Value: "chunked"},
	}

	f.ReplaceToDecodedResponseBody()

	c.Assert(f.ResponseBody, qt.DeepEquals, plain)
	c.Assert(f.ResponseHeaders.Get("Content-Encoding"), qt.Equals, "")
	c.Assert(f.ResponseHeaders.Get("Content-Length"), qt.Equals, "7")
}

func TestReplaceToDecodedResponseBodyOnError(t *testing.T) {
	c := qt.New(t)

	broken := []byte("not gzip data")
	f := flow.New()
	f.ResponseBody = append([]byte(nil), broken...)
	f.ResponseHeaders = flow.Header{{Name: "Content-Encoding", Value: "gzip"}}

	f.ReplaceToDecodedResponseBody()

	c.Assert(f.ResponseBody, qt.DeepEquals, broken)
	c.Assert(f.ResponseHeaders.Get("Content-Encoding"), qt.Equals, "gzip")
}

func TestFlowURL(t *testing.T) {
	c := qt.New(t)

	f := flow.New()
	f.Scheme = "https"
	f.Host = "example.test"
	f.Port = 443
	f.Path = "/a/b"
	f.Query = "x=1"

	c.Assert(f.URL(), qt.Equals, "https://example.test/a/b?x=1")

	f.Port = 8443
	c.Assert(f.URL(), qt.Equals, "https://example.test:8443/a/b?x=1")
}
