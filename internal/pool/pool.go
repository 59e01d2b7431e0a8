// Package pool provides object pooling for verdict and match types to
// reduce per-request allocations on the hot path.
package pool

import (
	"sync"

	"github.com/reflexlayer/reflex/pkg/reflex"
)

var (
	verdictPool = sync.Pool{
		New: func() any {
			return new(reflex.Verdict)
		},
	}

	piiMatchesPool = sync.Pool{
		New: func() any {
			s := make([]reflex.PIIMatch, 0, 8)
			return &s
		},
	}

	injectionMatchesPool = sync.Pool{
		New: func() any {
			s := make([]reflex.InjectionMatch, 0, 8)
			return &s
		},
	}
)

// GetVerdict gets a zeroed Verdict from the pool.
func GetVerdict() *reflex.Verdict {
	v := verdictPool.Get()
	if verdict, ok := v.(*reflex.Verdict); ok {
		return verdict
	}
	return new(reflex.Verdict)
}

// PutVerdict resets and returns a Verdict to the pool.
func PutVerdict(v *reflex.Verdict) {
	*v = reflex.Verdict{}
	verdictPool.Put(v)
}

// GetPIIMatches gets a zero-length PIIMatch slice from the pool.
func GetPIIMatches() *[]reflex.PIIMatch {
	v := piiMatchesPool.Get()
	if s, ok := v.(*[]reflex.PIIMatch); ok {
		*s = (*s)[:0]
		return s
	}
	s := make([]reflex.PIIMatch, 0, 8)
	return &s
}

// PutPIIMatches returns a PIIMatch slice to the pool.
func PutPIIMatches(s *[]reflex.PIIMatch) {
	*s = (*s)[:0]
	piiMatchesPool.Put(s)
}

// GetInjectionMatches gets a zero-length InjectionMatch slice from the pool.
func GetInjectionMatches() *[]reflex.InjectionMatch {
	v := injectionMatchesPool.Get()
	if s, ok := v.(*[]reflex.InjectionMatch); ok {
		*s = (*s)[:0]
		return s
	}
	s := make([]reflex.InjectionMatch, 0, 8)
	return &s
}

// PutInjectionMatches returns an InjectionMatch slice to the pool.
func PutInjectionMatches(s *[]reflex.InjectionMatch) {
	*s = (*s)[:0]
	injectionMatchesPool.Put(s)
}
