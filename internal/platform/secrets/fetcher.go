package secrets

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const meterName = "github.com/shopeasy/storefront/internal/platform/secrets"

// ErrNotFound is returned when neither Secret Manager nor the local file holds the secret.
var ErrNotFound = errors.New("secrets: secret not found")

type accessClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Config configures a Fetcher.
type Config struct {
	ProjectID     string
	LocalFile     string
	Logger        *zap.Logger
	Meter         metric.Meter
	Client        accessClient
	ClientOptions []option.ClientOption
}

// Fetcher resolves secret://name[?version=N&project=P] references from Secret Manager,
// falling back to a local KEY=VALUE file when Secret Manager is unreachable.
type Fetcher struct {
	client    accessClient
	ownClient bool
	project   string
	localFile string
	logger    *zap.Logger

	localOnce sync.Once
	local     map[string]string

	mu    sync.RWMutex
	cache map[string]string

	latency   metric.Float64Histogram
	cacheHits metric.Int64Counter
}

// NewFetcher builds a Fetcher. A Secret Manager client is created unless one is supplied; failing
// to create it leaves the fetcher in local-only mode.
func NewFetcher(ctx context.Context, cfg Config) (*Fetcher, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	meter := cfg.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}
	latency, err := meter.Float64Histogram("secrets.fetch.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency of secret resolution"))
	if err != nil {
		return nil, fmt.Errorf("secrets: register latency metric: %w", err)
	}
	hits, err := meter.Int64Counter("secrets.fetch.cache_hits",
		metric.WithDescription("Secret resolutions served from cache"))
	if err != nil {
		return nil, fmt.Errorf("secrets: register cache metric: %w", err)
	}

	f := &Fetcher{
		client:    cfg.Client,
		project:   strings.TrimSpace(cfg.ProjectID),
		localFile: strings.TrimSpace(cfg.LocalFile),
		logger:    logger,
		cache:     make(map[string]string),
		latency:   latency,
		cacheHits: hits,
	}
	if f.client == nil && f.project != "" {
		client, err := secretmanager.NewClient(ctx, cfg.ClientOptions...)
		if err != nil {
			logger.Warn("secret manager unavailable, using local secrets only", zap.Error(err))
		} else {
			f.client = client
			f.ownClient = true
		}
	}
	return f, nil
}

// Close releases the Secret Manager client if the fetcher created it.
func (f *Fetcher) Close() error {
	if f.ownClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// ResolveSecret implements config.SecretResolver.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	start := time.Now()
	parsed, err := parseRef(ref)
	if err != nil {
		return "", err
	}
	key := parsed.name + "#" + parsed.version

	f.mu.RLock()
	value, ok := f.cache[key]
	f.mu.RUnlock()
	if ok {
		f.cacheHits.Add(ctx, 1)
		f.record(ctx, start, "cache")
		return value, nil
	}

	project := parsed.project
	if project == "" {
		project = f.project
	}
	source := "local"
	if f.client != nil && project != "" {
		value, err = f.access(ctx, project, parsed)
		switch {
		case err == nil:
			source = "remote"
		case fallbackCode(err):
			f.logger.Debug("secret manager unreachable, trying local secrets", zap.String("secret", parsed.name), zap.Error(err))
		default:
			f.record(ctx, start, "error")
			return "", fmt.Errorf("secrets: access %s: %w", parsed.name, err)
		}
	}
	if source == "local" {
		value, ok = f.lookupLocal(parsed.name)
		if !ok {
			f.record(ctx, start, "error")
			return "", fmt.Errorf("%w: %s", ErrNotFound, parsed.name)
		}
	}

	f.mu.Lock()
	f.cache[key] = value
	f.mu.Unlock()
	f.record(ctx, start, source)
	return value, nil
}

// Invalidate drops cached values for ref so the next resolution refetches.
func (f *Fetcher) Invalidate(ref string) {
	parsed, err := parseRef(ref)
	if err != nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for key := range f.cache {
		if strings.HasPrefix(key, parsed.name+"#") {
			delete(f.cache, key)
		}
	}
}

func (f *Fetcher) access(ctx context.Context, project string, ref secretRef) (string, error) {
	name := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, ref.name, ref.version)
	retry := gax.WithRetry(func() gax.Retryer {
		return gax.OnCodes([]codes.Code{codes.Unavailable, codes.ResourceExhausted}, gax.Backoff{
			Initial:    100 * time.Millisecond,
			Max:        2 * time.Second,
			Multiplier: 2,
		})
	})
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name}, retry)
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", fmt.Errorf("empty payload for %s", name)
	}
	return string(resp.GetPayload().GetData()), nil
}

func (f *Fetcher) lookupLocal(name string) (string, bool) {
	f.localOnce.Do(func() {
		f.local = map[string]string{}
		if f.localFile == "" {
			return
		}
		file, err := os.Open(f.localFile)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				f.logger.Warn("open local secrets", zap.String("path", f.localFile), zap.Error(err))
			}
			return
		}
		defer file.Close()
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			key, value, ok := strings.Cut(line, "=")
			if !ok {
				continue
			}
			key = strings.TrimSpace(key)
			if parsed, err := parseRef(key); err == nil {
				key = parsed.name
			}
			f.local[key] = strings.TrimSpace(value)
		}
	})
	value, ok := f.local[name]
	return value, ok
}

func (f *Fetcher) record(ctx context.Context, start time.Time, source string) {
	f.latency.Record(ctx, float64(time.Since(start))/float64(time.Millisecond),
		metric.WithAttributes(attribute.String("source", source)))
}

type secretRef struct {
	name    string
	version string
	project string
}

func parseRef(ref string) (secretRef, error) {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "sm://") {
		ref = "secret://" + strings.TrimPrefix(ref, "sm://")
	}
	u, err := url.Parse(ref)
	if err != nil {
		return secretRef{}, fmt.Errorf("secrets: invalid reference %q: %w", ref, err)
	}
	if u.Scheme != "secret" {
		return secretRef{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return secretRef{}, fmt.Errorf("secrets: missing secret name in %q", ref)
	}
	// Secret Manager ids cannot contain slashes.
	name = strings.ReplaceAll(name, "/", "-")
	version := strings.TrimSpace(u.Query().Get("version"))
	if version == "" {
		version = "latest"
	}
	return secretRef{name: name, version: version, project: strings.TrimSpace(u.Query().Get("project"))}, nil
}

func fallbackCode(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}
