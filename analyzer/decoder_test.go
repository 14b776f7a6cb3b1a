package analyzer_test

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/vsthakur101/webapi-moderator/analyzer"
)

func TestEncodeDecodeRoundTrips(t *testing.T) {
	c := qt.New(t)

	inputs := []string{
		"hello world",
		`<a href="/x?a=1&b=2">link</a>`,
		"unicode: héllo wörld ✓",
		"astral: 😀 🚀 𝕏",
		"",
	}

	for _, encoding := range analyzer.Encodings() {
		for _, input := range inputs {
			if input == "" && encoding == analyzer.EncodingGzip {
				continue
			}
			encoded, err := analyzer.Encode(input, encoding)
			c.Assert(err, qt.IsNil, qt.Commentf("encode %s", encoding))

			decoded, err := analyzer.Decode(encoded, encoding)
			c.Assert(err, qt.IsNil, qt.Commentf("decode %s", encoding))
			c.Assert(decoded, qt.Equals, input, qt.Commentf("round trip %s", encoding))
		}
	}
}

func TestUnicodeEncodesNonBMPAsSurrogatePair(t *testing.T) {
	c := qt.New(t)

	encoded, err := analyzer.Encode("😀", analyzer.EncodingUnicode)
	c.Assert(err, qt.IsNil)
	c.Assert(encoded, qt.Equals, `\ud83d\ude00`)

	decoded, err := analyzer.Decode(encoded, analyzer.EncodingUnicode)
	c.Assert(err, qt.IsNil)
	c.Assert(decoded, qt.Equals, "😀")
}

func TestEncodeUnsupported(t *testing.T) {
	c := qt.New(t)

	_, err := analyzer.Encode("x", "rot13")
	c.Assert(err, qt.IsNotNil)
}

func TestDecodeInvalidBase64(t *testing.T) {
	c := qt.New(t)

	_, err := analyzer.Decode("not base64!!!", analyzer.EncodingBase64)
	c.Assert(err, qt.IsNotNil)
}

func TestHashKnownVectors(t *testing.T) {
	c := qt.New(t)

	md5sum, err := analyzer.Hash("abc", analyzer.HashMD5)
	c.Assert(err, qt.IsNil)
	c.Assert(md5sum, qt.Equals, "900150983cd24fb0d6963f7d28e17f72")

	sha256sum, err := analyzer.Hash("abc", analyzer.HashSHA256)
	c.Assert(err, qt.IsNil)
	c.Assert(sha256sum, qt.Equals, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad")
}

func TestSmartDecodePeelsLayers(t *testing.T) {
	c := qt.New(t)

	// url(base64("hello world")) with a url-encoded char to trigger the first layer
	steps := analyzer.SmartDecode("aGVsbG8gd29ybGQ%3D")

	c.Assert(len(steps) >= 2, qt.IsTrue)
	c.Assert(steps[0].Encoding, qt.Equals, analyzer.EncodingURL)
	c.Assert(steps[len(steps)-1].Output, qt.Equals, "hello world")
}

func TestSmartDecodePlainTextNoSteps(t *testing.T) {
	c := qt.New(t)

	steps := analyzer.SmartDecode("just plain text with spaces")
	c.Assert(steps, qt.HasLen, 0)
}
