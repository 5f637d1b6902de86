package raster

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pdok/utmtiler/crs"
)

// Source is either a path or URL to open, or a dataset handle owned by the caller.
type Source struct {
	location string
	opener   *Opener
	ds       Dataset
}

// FromPath refers to a TIFF on disk or behind an http(s) URL.
func FromPath(location string, opener *Opener) Source {
	return Source{location: location, opener: opener}
}

// FromDataset borrows an open dataset; Open never releases it.
func FromDataset(ds Dataset) Source {
	return Source{ds: ds}
}

// Open returns the dataset and a release func the caller must call when done.
func (s Source) Open(ctx context.Context) (Dataset, func(), error) {
	if s.ds != nil {
		return s.ds, func() {}, nil
	}
	if s.location == "" {
		return nil, nil, errors.New("empty raster source")
	}
	opener := s.opener
	if opener == nil {
		opener = &Opener{HTTPClient: http.DefaultClient}
	}
	ds, err := opener.Open(ctx, s.location)
	if err != nil {
		return nil, nil, err
	}
	return ds, func() {}, nil
}

func (s Source) String() string {
	if s.ds != nil {
		return fmt.Sprintf("dataset(%dx%dx%d %s)", s.ds.Count(), s.ds.Height(), s.ds.Width(), s.ds.CRS())
	}
	return s.location
}

// Opener reads TIFF rasters with world file georeferencing. The CRS comes from a .prj sidecar
// when present and DefaultCRS otherwise.
type Opener struct {
	HTTPClient *http.Client
	DefaultCRS crs.CRS
}

// NewOpener builds an Opener whose http client trusts the certificates in caBundle on top of the
// system pool. An empty caBundle keeps the system pool, a zero timeout means no timeout.
func NewOpener(caBundle string, timeout time.Duration, defaultCRS crs.CRS) (*Opener, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if caBundle != "" {
		pem, err := os.ReadFile(caBundle)
		if err != nil {
			return nil, fmt.Errorf("reading ca bundle: %w", err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil || pool == nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in ca bundle %s", caBundle)
		}
		transport.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	}
	return &Opener{
		HTTPClient: &http.Client{Transport: transport, Timeout: timeout},
		DefaultCRS: defaultCRS,
	}, nil
}

func (o *Opener) Open(ctx context.Context, location string) (*MemDataset, error) {
	data, err := o.fetch(ctx, location)
	if err != nil {
		return nil, err
	}
	arr, mask, err := DecodeTIFF(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", location, err)
	}

	var transform Affine
	worldFile, err := o.fetchFirst(ctx, WorldFilePath(location), strings.TrimSuffix(location, ext(location))+".wld")
	if err != nil {
		return nil, fmt.Errorf("%w: %s has no world file: %v", ErrUnsupportedImage, location, err)
	}
	if transform, err = DecodeWorldFile(bytes.NewReader(worldFile)); err != nil {
		return nil, fmt.Errorf("%s: %w", location, err)
	}

	c := o.DefaultCRS
	if prj, err := o.fetch(ctx, PrjPath(location)); err == nil {
		if c, err = crs.Parse(string(prj)); err != nil {
			return nil, fmt.Errorf("%s: %w", PrjPath(location), err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	if c.IsZero() {
		return nil, fmt.Errorf("%w: %s has no crs", ErrUnsupportedImage, location)
	}

	ds := NewMemDataset(c, transform, arr)
	if mask != nil {
		ds.SetMask(mask)
	}
	return ds, nil
}

func ext(location string) string {
	if i := strings.LastIndexByte(location, '.'); i > strings.LastIndexByte(location, '/') {
		return location[i:]
	}
	return ""
}

func (o *Opener) fetchFirst(ctx context.Context, locations ...string) ([]byte, error) {
	var err error
	for _, l := range locations {
		var data []byte
		if data, err = o.fetch(ctx, l); err == nil {
			return data, nil
		}
	}
	return nil, err
}

// fetch reads a local file or an http(s) URL. Missing resources wrap fs.ErrNotExist.
func (o *Opener) fetch(ctx context.Context, location string) ([]byte, error) {
	if !strings.HasPrefix(location, "http://") && !strings.HasPrefix(location, "https://") {
		return os.ReadFile(location)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, err
	}
	client := o.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", location, fs.ErrNotExist)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%s: unexpected status %s", location, resp.Status)
	}
	return io.ReadAll(resp.Body)
}
