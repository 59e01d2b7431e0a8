// Package audit asynchronously archives security-relevant verdicts as
// newline-delimited JSON to an S3-compatible bucket, giving the reflex
// layer's blocked requests a durable, queryable trail.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/reflexlayer/reflex/internal/resilience"
	"github.com/reflexlayer/reflex/pkg/reflex"
)

// Config contains configuration for the S3 archive destination.
type Config struct {
	BucketName    string        // S3 bucket name
	Region        string        // AWS region
	AccessKeyID   string        // AWS access key (optional, uses default credentials if empty)
	SecretKey     string        // AWS secret key (optional)
	Endpoint      string        // Custom S3 endpoint (for MinIO, etc.)
	PathPrefix    string        // Prefix for S3 keys (e.g., "reflex/verdicts")
	FlushInterval time.Duration // Flush interval for batching
	BatchSize     int           // Max batch size before flush
	ArchiveDebug  bool          // Also archive Success verdicts that carry matches

	// MaxConcurrentFlushes bounds the number of PutObject uploads in flight
	// at once. A burst of full batches otherwise spawns one goroutine per
	// flush with no cap, each racing an independent S3 upload.
	MaxConcurrentFlushes int
}

// DefaultConfig returns default configuration sourced from the environment.
func DefaultConfig() Config {
	return Config{
		BucketName:    os.Getenv("AUDIT_S3_BUCKET_NAME"),
		Region:        os.Getenv("AWS_REGION"),
		AccessKeyID:   os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretKey:     os.Getenv("AWS_SECRET_ACCESS_KEY"),
		Endpoint:      os.Getenv("AUDIT_S3_ENDPOINT"),
		PathPrefix:    os.Getenv("AUDIT_S3_PATH_PREFIX"),
		FlushInterval:        10 * time.Second,
		BatchSize:            100,
		MaxConcurrentFlushes: 4,
	}
}

// Entry is a single archived record.
type Entry struct {
	Timestamp        time.Time             `json:"timestamp"`
	RequestID        string                `json:"request_id"`
	Status           reflex.Status         `json:"status"`
	UserID           string                `json:"user_id,omitempty"`
	ClientIP         string                `json:"client_ip,omitempty"`
	PIIMatches       []reflex.PIIMatch     `json:"pii_matches,omitempty"`
	InjectionMatches []reflex.InjectionMatch `json:"injection_matches,omitempty"`
	CacheHit         bool                  `json:"cache_hit"`
	ProcessingTimeMs float64               `json:"processing_time_ms"`
}

// flushResilienceKey is the resilience.Manager key used for the archiver's
// S3 uploads: a single logical destination, so one circuit breaker, rate
// limiter, and concurrency semaphore governs every flush.
const flushResilienceKey = "s3-flush"

// Archiver batches verdict entries and flushes them to S3 as NDJSON objects.
type Archiver struct {
	config    Config
	client    *s3.Client
	queue     []Entry
	mu        sync.Mutex
	stopCh    chan struct{}
	wg        sync.WaitGroup
	resilient *resilience.Manager
}

// New creates an Archiver. A non-nil error means the bucket name was empty
// or the AWS config failed to load; no background flush loop is started in
// that case.
func New(cfg Config) (*Archiver, error) {
	if cfg.BucketName == "" {
		return nil, fmt.Errorf("audit: bucket_name is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 10 * time.Second
	}
	if cfg.MaxConcurrentFlushes <= 0 {
		cfg.MaxConcurrentFlushes = 4
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)

	a := &Archiver{
		config:    cfg,
		client:    client,
		queue:     make([]Entry, 0, cfg.BatchSize),
		stopCh:    make(chan struct{}),
		resilient: resilience.NewManager(resilience.DefaultManagerConfig()),
	}

	a.wg.Add(1)
	go a.flushLoop()

	return a, nil
}

// ShouldArchive reports whether verdict is archive-worthy: always for
// Blocked, and for Success verdicts carrying matches when ArchiveDebug is set.
func (a *Archiver) ShouldArchive(verdict reflex.Verdict) bool {
	if verdict.Status == reflex.StatusBlocked {
		return true
	}
	if a.config.ArchiveDebug && verdict.Status == reflex.StatusSuccess && verdict.AnyDetection() {
		return true
	}
	return false
}

// Record enqueues a verdict for archiving. Non-blocking; triggers an
// async flush if the batch is full.
func (a *Archiver) Record(requestID, userID, clientIP string, verdict reflex.Verdict) {
	entry := Entry{
		Timestamp:        time.Now().UTC(),
		RequestID:        requestID,
		Status:           verdict.Status,
		UserID:           userID,
		ClientIP:         clientIP,
		PIIMatches:       verdict.PIIMatches,
		InjectionMatches: verdict.InjectionMatches,
		CacheHit:         verdict.CacheHit,
		ProcessingTimeMs: verdict.ProcessingTimeMs,
	}

	a.mu.Lock()
	a.queue = append(a.queue, entry)
	full := len(a.queue) >= a.config.BatchSize
	a.mu.Unlock()

	if full {
		go a.flush(context.Background())
	}
}

// Shutdown flushes remaining entries and stops the background flush loop.
func (a *Archiver) Shutdown(ctx context.Context) error {
	close(a.stopCh)
	a.wg.Wait()
	return a.flush(ctx)
}

func (a *Archiver) flushLoop() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = a.flush(context.Background())
		case <-a.stopCh:
			return
		}
	}
}

func (a *Archiver) flush(ctx context.Context) error {
	a.mu.Lock()
	if len(a.queue) == 0 {
		a.mu.Unlock()
		return nil
	}
	entries := a.queue
	a.queue = make([]Entry, 0, a.config.BatchSize)
	a.mu.Unlock()

	if err := a.resilient.CheckAndAcquire(ctx, flushResilienceKey, a.config.MaxConcurrentFlushes); err != nil {
		return fmt.Errorf("audit: flush rejected by resilience manager: %w", err)
	}
	defer a.resilient.Release(flushResilienceKey, a.config.MaxConcurrentFlushes)

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	for i := range entries {
		if err := encoder.Encode(&entries[i]); err != nil {
			continue
		}
	}

	key := a.generateKey(time.Now().UTC())

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.config.BucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		a.resilient.RecordFailure(flushResilienceKey)
		return fmt.Errorf("audit: failed to upload verdicts: %w", err)
	}
	a.resilient.RecordSuccess(flushResilienceKey)
	return nil
}

// generateKey produces a date-partitioned S3 key:
// prefix/year=YYYY/month=MM/day=DD/hour=HH/verdicts_<nanos>.jsonl
func (a *Archiver) generateKey(t time.Time) string {
	datePrefix := fmt.Sprintf("year=%d/month=%02d/day=%02d/hour=%02d",
		t.Year(), t.Month(), t.Day(), t.Hour())
	filename := fmt.Sprintf("verdicts_%d.jsonl", t.UnixNano())

	if a.config.PathPrefix != "" {
		return path.Join(a.config.PathPrefix, datePrefix, filename)
	}
	return path.Join(datePrefix, filename)
}
