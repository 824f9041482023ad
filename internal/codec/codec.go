// Package codec names the stream compressors replay bundles may use.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// ErrUnknownCodec is returned when a bundle references a codec that is not registered.
var ErrUnknownCodec = errors.New("unknown codec")

// Codec applies symmetric stream compression.
type Codec interface {
	//1.- Name is the identifier persisted in bundle manifests.
	Name() string
	//2.- Extension is appended to file names written with this codec.
	Extension() string
	//3.- NewWriter wraps w; closing the result flushes but does not close w.
	NewWriter(w io.Writer) (io.WriteCloser, error)
	//4.- NewReader wraps r; closing the result releases decoder resources only.
	NewReader(r io.Reader) (io.ReadCloser, error)
}

const (
	// None stores data uncompressed.
	None = "none"
	// Gzip selects the gzip container format.
	Gzip = "gzip"
	// Snappy selects the framed snappy stream format.
	Snappy = "snappy"
	// Zstd selects zstandard.
	Zstd = "zstd"
)

var registry = map[string]Codec{
	None:   noneCodec{},
	Gzip:   gzipCodec{},
	Snappy: snappyCodec{},
	Zstd:   zstdCodec{},
}

// Lookup resolves a codec by name. The empty name selects None.
func Lookup(name string) (Codec, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		key = None
	}
	c, ok := registry[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
	return c, nil
}

// Names lists the registered codec names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Encode compresses a whole payload in memory.
func Encode(c Codec, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := c.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("%s writer: %w", c.Name(), err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("%s write: %w", c.Name(), err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%s close: %w", c.Name(), err)
	}
	return buf.Bytes(), nil
}

// Decode restores a payload produced by Encode.
func Decode(c Codec, data []byte) ([]byte, error) {
	r, err := c.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s reader: %w", c.Name(), err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%s read: %w", c.Name(), err)
	}
	return out, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

type noneCodec struct{}

func (noneCodec) Name() string      { return None }
func (noneCodec) Extension() string { return "" }

func (noneCodec) NewWriter(w io.Writer) (io.WriteCloser, error) { return nopWriteCloser{w}, nil }

func (noneCodec) NewReader(r io.Reader) (io.ReadCloser, error) { return io.NopCloser(r), nil }

type gzipCodec struct{}

func (gzipCodec) Name() string      { return Gzip }
func (gzipCodec) Extension() string { return ".gz" }

func (gzipCodec) NewWriter(w io.Writer) (io.WriteCloser, error) { return gzip.NewWriter(w), nil }

func (gzipCodec) NewReader(r io.Reader) (io.ReadCloser, error) { return gzip.NewReader(r) }

type snappyCodec struct{}

func (snappyCodec) Name() string      { return Snappy }
func (snappyCodec) Extension() string { return ".sz" }

func (snappyCodec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return snappy.NewBufferedWriter(w), nil
}

func (snappyCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(snappy.NewReader(r)), nil
}

type zstdCodec struct{}

func (zstdCodec) Name() string      { return Zstd }
func (zstdCodec) Extension() string { return ".zst" }

func (zstdCodec) NewWriter(w io.Writer) (io.WriteCloser, error) { return zstd.NewWriter(w) }

func (zstdCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return dec.IOReadCloser(), nil
}
