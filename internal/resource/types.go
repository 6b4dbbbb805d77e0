// Package resource fetches typed external data (SEO, client and
// competitive datasets) through a primary remote source with caching,
// retries, health reporting and graceful fallback to a local
// substitute.
package resource

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/seopilot/seopilot/internal/fault"
)

// Type identifies a category of external data.
type Type string

const (
	TypeSEOData         Type = "seo_data"
	TypeClientData      Type = "client_data"
	TypeCompetitiveData Type = "competitive_data"
	TypeBacklinkData    Type = "backlink_data"
	TypeKeywordData     Type = "keyword_data"
)

var knownTypes = map[Type]bool{
	TypeSEOData:         true,
	TypeClientData:      true,
	TypeCompetitiveData: true,
	TypeBacklinkData:    true,
	TypeKeywordData:     true,
}

// ParseType validates a resource type string.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !knownTypes[t] {
		return "", fault.Newf(fault.KindValidation, "resource", "unknown resource type %q", s)
	}
	return t, nil
}

// Request identifies one typed resource lookup.
type Request struct {
	Type       Type              `json:"resource_type"`
	Key        string            `json:"key"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// CacheKey derives a stable cache key from the request. Parameters are
// sorted so equivalent requests coalesce.
func (r Request) CacheKey() string {
	var b strings.Builder
	b.WriteString(string(r.Type))
	b.WriteByte('|')
	b.WriteString(r.Key)
	keys := make([]string, 0, len(r.Parameters))
	for k := range r.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(r.Parameters[k])
	}
	sum := sha256.Sum256([]byte(b.String()))
	return string(r.Type) + ":" + hex.EncodeToString(sum[:16])
}

// ResponseSource records which path served a response.
type ResponseSource string

const (
	SourcePrimary  ResponseSource = "primary"
	SourceFallback ResponseSource = "fallback"
	SourceCache    ResponseSource = "cache"
)

// Response is the result of a resource fetch.
type Response struct {
	Payload   map[string]any `json:"payload"`
	Source    ResponseSource `json:"source"`
	FetchedAt time.Time      `json:"fetched_at"`
}

// Status is a component health level.
type Status string

const (
	StatusHealthy     Status = "healthy"
	StatusDegraded    Status = "degraded"
	StatusUnavailable Status = "unavailable"
)

// HealthRecord is the rolling health state of one component.
type HealthRecord struct {
	ComponentID         string    `json:"component_id"`
	Status              Status    `json:"status"`
	LastSuccessAt       time.Time `json:"last_success_at,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}
