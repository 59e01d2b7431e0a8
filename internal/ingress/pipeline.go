// Package ingress implements the reflex layer's entry point: request
// validation, the fixed-order pipeline (rate limit, cache, PII scan,
// injection scan, verdict decision, cache write), and the HTTP surface
// that exposes it.
package ingress

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/reflexlayer/reflex/internal/audit"
	"github.com/reflexlayer/reflex/internal/cache"
	"github.com/reflexlayer/reflex/internal/eventsink"
	"github.com/reflexlayer/reflex/internal/injection"
	"github.com/reflexlayer/reflex/internal/metrics"
	"github.com/reflexlayer/reflex/internal/pii"
	"github.com/reflexlayer/reflex/internal/ratelimit"
	"github.com/reflexlayer/reflex/pkg/reflex"
	"github.com/reflexlayer/reflex/pkg/reflexerr"
)

// Tiers selects which tier applies to each rate-limit dimension.
type Tiers struct {
	IP   reflex.Tier
	User reflex.Tier
}

// Pipeline wires the rate limiter, cache, and detection engines into the
// fixed-order sequence described for POST /process. It holds no per-request
// state; every method is safe for concurrent use.
type Pipeline struct {
	RateLimiter *ratelimit.Limiter
	Cache       *cache.Handler
	PII         pii.Config
	Injection   injection.Config
	Tiers       Tiers
	Archiver    *audit.Archiver   // optional
	Sink        *eventsink.Sink   // optional
}

// Outcome is the result of running a Request through the pipeline, plus the
// rate-limit detail needed to set response headers on rejection.
type Outcome struct {
	Verdict   reflex.Verdict
	RateLimit *ratelimit.Result // non-nil only when Verdict.Status == StatusRateLimited
	Dimension ratelimit.Namespace
	Limit     float64 // tier burst capacity for the dimension that rejected, for X-RateLimit-Limit
}

// Process runs req through admission control, cache lookup, and the
// detection engines in the strict order the pipeline requires. requestID
// must already be resolved (client-provided or generated) by the caller.
func (p *Pipeline) Process(ctx context.Context, requestID string, req reflex.Request) (Outcome, error) {
	start := time.Now()

	if out, err := p.checkRateLimits(ctx, req); err != nil || out != nil {
		if err != nil {
			return Outcome{}, err
		}
		out.Verdict.RequestID = requestID
		out.Verdict.ProcessingTimeMs = msSince(start)
		p.notifyAndArchive(requestID, req, out.Verdict)
		return *out, nil
	}

	var verdict reflex.Verdict
	var cacheHit bool

	if req.UseCache {
		cached, err := p.Cache.Lookup(ctx, req.Text)
		if err != nil {
			metrics.CacheMissesTotal.Inc()
		} else if cached != nil {
			metrics.CacheHitsTotal.Inc()
			cached.RequestID = requestID
			cached.ProcessingTimeMs = msSince(start)
			p.notifyAndArchive(requestID, req, *cached)
			return Outcome{Verdict: *cached}, nil
		} else {
			metrics.CacheMissesTotal.Inc()
		}
	}

	verdict.RequestID = requestID
	verdict.CacheHit = cacheHit

	if req.CheckPII {
		piiStart := time.Now()
		matches := pii.Scan(req.Text, p.PII)
		metrics.PIIDetectionDuration.WithLabelValues(string(p.PII.PatternSet)).Observe(time.Since(piiStart).Seconds())
		for _, m := range matches {
			metrics.PIIDetectionsTotal.WithLabelValues(string(m.Kind)).Inc()
		}
		verdict.PIIMatches = matches
	}

	if req.CheckInjection {
		injStart := time.Now()
		matches := injection.Scan(req.Text, p.Injection)
		metrics.InjectionDetectionDuration.WithLabelValues(string(p.Injection.Mode)).Observe(time.Since(injStart).Seconds())
		for _, m := range matches {
			metrics.InjectionDetectionsTotal.WithLabelValues(string(m.Severity)).Inc()
		}
		verdict.InjectionMatches = matches
	}

	if verdict.HasCritical() {
		verdict.Status = reflex.StatusBlocked
		metrics.RequestsBlockedTotal.Inc()
	} else {
		verdict.Status = reflex.StatusSuccess
	}

	if req.UseCache {
		class := reflex.TTLMedium
		if verdict.AnyDetection() {
			class = reflex.TTLShort
		}
		_ = p.Cache.Store(ctx, req.Text, verdict, class, 0)
	}

	verdict.ProcessingTimeMs = msSince(start)
	p.notifyAndArchive(requestID, req, verdict)

	return Outcome{Verdict: verdict}, nil
}

// checkRateLimits runs the IP dimension and, if user_id is present, the User
// dimension. A deny on either dimension short-circuits the rest of the
// pipeline with a RateLimited verdict; no further stages run.
func (p *Pipeline) checkRateLimits(ctx context.Context, req reflex.Request) (*Outcome, error) {
	if p.RateLimiter == nil {
		return nil, nil
	}

	if out, err := p.checkDimension(ctx, ratelimit.NamespaceIP, req.ClientIP, p.Tiers.IP); err != nil || out != nil {
		return out, err
	}

	if req.UserID != "" {
		if out, err := p.checkDimension(ctx, ratelimit.NamespaceUser, req.UserID, p.Tiers.User); err != nil || out != nil {
			return out, err
		}
	}

	return nil, nil
}

func (p *Pipeline) checkDimension(ctx context.Context, ns ratelimit.Namespace, key string, tier reflex.Tier) (*Outcome, error) {
	rlStart := time.Now()
	result, err := p.RateLimiter.Check(ctx, ns, key, tier)
	metrics.RateLimitDuration.WithLabelValues(string(ns)).Observe(time.Since(rlStart).Seconds())
	if err != nil {
		return nil, reflexerr.NewRateLimitStoreError("rate limit check failed: %s", err).WithDetail(err.Error())
	}

	if !result.Allowed {
		metrics.RateLimitRejectedTotal.WithLabelValues(string(ns)).Inc()
		return &Outcome{
			Verdict:   reflex.Verdict{Status: reflex.StatusRateLimited},
			RateLimit: &result,
			Dimension: ns,
			Limit:     tier.Burst,
		}, nil
	}

	metrics.RateLimitAllowedTotal.Inc()
	return nil, nil
}

// notifyAndArchive fans a Blocked verdict out to alerting channels and
// records archive-worthy verdicts; both are best-effort and never block or
// fail the response already computed.
func (p *Pipeline) notifyAndArchive(requestID string, req reflex.Request, verdict reflex.Verdict) {
	if p.Sink != nil && verdict.Status == reflex.StatusBlocked {
		p.Sink.Notify(eventsink.Event{
			RequestID: requestID,
			UserID:    req.UserID,
			ClientIP:  req.ClientIP,
			Verdict:   verdict,
		})
	}
	if p.Archiver != nil && p.Archiver.ShouldArchive(verdict) {
		p.Archiver.Record(requestID, req.UserID, req.ClientIP, verdict)
	}
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}

// ValidateText enforces the bounded-length invariant on the request text.
func ValidateText(text string) error {
	if text == "" {
		return reflexerr.NewValidationError("text must not be empty")
	}
	if utf8.RuneCountInString(text) > reflex.MaxTextLength {
		return reflexerr.NewValidationError("text exceeds maximum length of %d code units", reflex.MaxTextLength)
	}
	return nil
}
