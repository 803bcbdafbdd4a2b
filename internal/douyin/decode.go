package douyin

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/net/html/charset"
)

// decoder recovers the page bytes from a raw body. A strategy returns an
// error to hand the body to the next one.
type decoder struct {
	name   string
	decode func(raw []byte, resp *http.Response) ([]byte, error)
}

// decodeChain is tried in order; the first success wins. Its output always
// goes through toText.
var decodeChain = []decoder{
	{name: "gzip", decode: gunzipBody},
	{name: "transport", decode: transportBody},
}

var errNotGzip = errors.New("response is not gzip encoded")

// gunzipBody decompresses explicitly when the origin declared gzip and the
// transport has not already done so.
func gunzipBody(raw []byte, resp *http.Response) ([]byte, error) {
	if resp.Uncompressed || !strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		return nil, errNotGzip
	}

	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	return io.ReadAll(zr)
}

// transportBody takes the body as the transport delivered it.
func transportBody(raw []byte, _ *http.Response) ([]byte, error) {
	return raw, nil
}

// toText turns page bytes into a string. Valid UTF-8 is used as is. Anything
// else is converted only when the header, a BOM or a <meta> tag declares the
// charset; an undeclared charset is never guessed.
func toText(body []byte, contentType string) (string, error) {
	if utf8.Valid(body) {
		return string(body), nil
	}

	enc, name, certain := charset.DetermineEncoding(body, contentType)
	if !certain || name == "utf-8" {
		return string(body), nil
	}

	text, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return "", fmt.Errorf("converting from %s: %w", name, err)
	}
	return string(text), nil
}

func decodeBody(raw []byte, resp *http.Response) (string, error) {
	var errs []error
	for _, d := range decodeChain {
		body, err := d.decode(raw, resp)
		if err == nil {
			var text string
			if text, err = toText(body, resp.Header.Get("Content-Type")); err == nil {
				return text, nil
			}
		}
		errs = append(errs, fmt.Errorf("%s: %w", d.name, err))
	}
	return "", errors.Join(errs...)
}
