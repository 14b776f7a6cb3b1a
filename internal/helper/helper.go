package helper

import (
	"bytes"
	"io"
	"net"
	"net/url"
	"strings"
)

// Try to read Reader into buffer
// If the limit is not reached, successfully read into buffer
// Otherwise buffer returns nil, and a new Reader is returned with state before reading.
func ReaderToBuffer(r io.Reader, limit int64) ([]byte, io.Reader, error) {
	buf := bytes.NewBuffer(make([]byte, 0))
	lr := io.LimitReader(r, limit)

	_, err := io.Copy(buf, lr)
	if err != nil {
		return nil, nil, err
	}

	// Reached the limit
	if int64(buf.Len()) == limit {
		// Return a new Reader
		return nil, io.MultiReader(bytes.NewBuffer(buf.Bytes()), r), nil
	}

	// Return buffer
	return buf.Bytes(), nil, nil
}

// CapBody reads r up to cap bytes. The remainder, if any, is drained and
// counted so callers can record how much was cut off.
func CapBody(r io.Reader, capBytes int64) (body []byte, truncated int64, err error) {
	buf := bytes.NewBuffer(make([]byte, 0))
	_, err = io.Copy(buf, io.LimitReader(r, capBytes))
	if err != nil {
		return nil, 0, err
	}
	if int64(buf.Len()) == capBytes {
		truncated, err = io.Copy(io.Discard, r)
		if err != nil {
			return buf.Bytes(), truncated, err
		}
	}
	return buf.Bytes(), truncated, nil
}

var portMap = map[string]string{
	"http":  "80",
	"https": "443",
	"ws":    "80",
	"wss":   "443",
}

// CanonicalAddr returns url.Host but always with a ":port" suffix.
func CanonicalAddr(u *url.URL) string {
	port := u.Port()
	if port == "" {
		port = portMap[u.Scheme]
	}
	return net.JoinHostPort(u.Hostname(), port)
}

// SplitHostPort splits "host:port", defaulting the port when absent.
func SplitHostPort(hostport string, defaultPort int) (string, int) {
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport, defaultPort
	}
	p := 0
	for _, c := range port {
		if c < '0' || c > '9' {
			return host, defaultPort
		}
		p = p*10 + int(c-'0')
	}
	if p == 0 {
		p = defaultPort
	}
	return host, p
}

// https://github.com/mitmproxy/mitmproxy/blob/main/mitmproxy/net/tls.py is_tls_record_magic
func IsTLS(buf []byte) bool {
	if len(buf) < 3 {
		return false
	}
	if buf[0] == 0x16 && buf[1] == 0x03 && buf[2] <= 0x03 {
		return true
	}
	return false
}

var httpMethods = []string{
	"GET ", "POST ", "PUT ", "DELETE ", "HEAD ", "OPTIONS ", "PATCH ", "TRACE ", "CONNECT ",
}

// LooksLikeHTTP reports whether buf starts with an HTTP/1.x request line.
func LooksLikeHTTP(buf []byte) bool {
	s := string(buf)
	for _, m := range httpMethods {
		if strings.HasPrefix(m, s) || strings.HasPrefix(s, m) {
			return true
		}
	}
	return false
}

var hopByHopHeaders = []string{
	"Proxy-Connection",
	"Connection",
	"Keep-Alive",
	"Te",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Proxy-Authenticate",
	"Proxy-Authorization",
}

// IsHopByHop reports whether a header must not be forwarded end to end.
func IsHopByHop(name string) bool {
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(h, name) {
			return true
		}
	}
	return false
}
