// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package logsource opens histogram logs from local files, standard input or
// S3, decompressing gzip and zstd streams on the way.
package logsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"

	"github.com/cardinalhq/hdrlog/internal/histlog"
)

// StdinURI selects standard input.
const StdinURI = "-"

// S3Options configures access to s3:// inputs.
type S3Options struct {
	Region       string
	Endpoint     string
	UsePathStyle bool
}

// objectGetter is the part of the S3 client used here.
type objectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Opener opens log URIs. The S3 client is created on first use.
type Opener struct {
	s3opts S3Options
	stdin  io.Reader

	mu       sync.Mutex
	s3client objectGetter
}

// Option configures an Opener.
type Option func(*Opener)

func WithS3(opts S3Options) Option {
	return func(o *Opener) {
		o.s3opts = opts
	}
}

// WithStdin replaces os.Stdin as the source for "-".
func WithStdin(r io.Reader) Option {
	return func(o *Opener) {
		o.stdin = r
	}
}

func withObjectGetter(g objectGetter) Option {
	return func(o *Opener) {
		o.s3client = g
	}
}

func NewOpener(opts ...Option) *Opener {
	o := &Opener{stdin: os.Stdin}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

var defaultOpener = NewOpener()

// Open opens uri with default settings.
func Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	return defaultOpener.Open(ctx, uri)
}

// Open returns the decompressed contents of uri. Missing files and objects
// are reported as *histlog.ConfigError.
func (o *Opener) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	var rc io.ReadCloser
	var err error

	switch {
	case uri == StdinURI:
		return io.NopCloser(o.stdin), nil
	case strings.HasPrefix(uri, "s3://"):
		rc, err = o.openS3(ctx, uri)
	default:
		rc, err = openFile(uri)
	}
	if err != nil {
		return nil, err
	}
	return decompress(uri, rc)
}

func openFile(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &histlog.ConfigError{Field: "input", Err: err}
		}
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return f, nil
}

// ParseS3URI splits s3://bucket/key.
func ParseS3URI(uri string) (bucket, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", &histlog.ConfigError{Field: "input", Err: err}
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if u.Scheme != "s3" || bucket == "" || key == "" {
		return "", "", &histlog.ConfigError{Field: "input", Err: fmt.Errorf("%q is not an s3://bucket/key URI", uri)}
	}
	return bucket, key, nil
}

func (o *Opener) openS3(ctx context.Context, uri string) (io.ReadCloser, error) {
	bucket, key, err := ParseS3URI(uri)
	if err != nil {
		return nil, err
	}
	client, err := o.client(ctx)
	if err != nil {
		return nil, err
	}

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, &histlog.ConfigError{Field: "input", Err: fmt.Errorf("%s: %w", uri, err)}
		}
		return nil, fmt.Errorf("getting %s: %w", uri, err)
	}
	return out.Body, nil
}

func (o *Opener) client(ctx context.Context) (objectGetter, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.s3client != nil {
		return o.s3client, nil
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if o.s3opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(o.s3opts.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	otelaws.AppendMiddlewares(&cfg.APIOptions)

	o.s3client = s3.NewFromConfig(cfg, func(so *s3.Options) {
		if o.s3opts.Endpoint != "" {
			so.BaseEndpoint = aws.String(o.s3opts.Endpoint)
		}
		so.UsePathStyle = o.s3opts.UsePathStyle
	})
	return o.s3client, nil
}

// stackedReadCloser reads from the outermost decoder and closes every layer.
type stackedReadCloser struct {
	io.Reader
	closers []io.Closer
}

func (s *stackedReadCloser) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func decompress(uri string, rc io.ReadCloser) (io.ReadCloser, error) {
	switch {
	case strings.HasSuffix(uri, ".gz"):
		gz, err := gzip.NewReader(rc)
		if err != nil {
			_ = rc.Close()
			return nil, fmt.Errorf("opening gzip stream %s: %w", uri, err)
		}
		return &stackedReadCloser{Reader: gz, closers: []io.Closer{gz, rc}}, nil
	case strings.HasSuffix(uri, ".zst"), strings.HasSuffix(uri, ".zstd"):
		dec, err := zstd.NewReader(rc)
		if err != nil {
			_ = rc.Close()
			return nil, fmt.Errorf("opening zstd stream %s: %w", uri, err)
		}
		zr := dec.IOReadCloser()
		return &stackedReadCloser{Reader: zr, closers: []io.Closer{zr, rc}}, nil
	default:
		return rc, nil
	}
}
