// Package guard evaluates requests against registered hazards and decides
// whether a client is allowed, throttled or blocked.
package guard

import (
	"net/http"
	"strings"
	"time"
)

// HazardType classifies how a fired hazard is handled.
type HazardType string

// Hazard types. MethodNotAllowed is a deflect-only type and cannot be registered.
const (
	HazardWhitelist        HazardType = "whitelist"
	HazardBlacklist        HazardType = "blacklist"
	HazardAttack           HazardType = "attack"
	HazardThrottle         HazardType = "throttle"
	HazardMethodNotAllowed HazardType = "method_not_allowed"
)

// registrableTypes lists the types accepted by Registry.Register.
var registrableTypes = map[HazardType]struct{}{
	HazardWhitelist: {},
	HazardBlacklist: {},
	HazardAttack:    {},
	HazardThrottle:  {},
}

// ParseHazardType normalizes a configured type name.
func ParseHazardType(raw string) (HazardType, bool) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.ReplaceAll(normalized, " ", "_")
	t := HazardType(normalized)
	if _, ok := registrableTypes[t]; ok {
		return t, true
	}
	return t, false
}

// Rule reports whether a hazard fires for the request.
type Rule func(r *http.Request) bool

// Options carries the optional leaky-bucket and blocking parameters.
// Zero values mean unset.
type Options struct {
	BucketSize int           // Bucket capacity in hits.
	BucketLeak float64       // Leak rate in hits per second.
	Timeout    time.Duration // Blockage duration; required for attack hazards.
}

// Hazard is a named, typed detection rule.
type Hazard struct {
	Name string
	Type HazardType
	Rule Rule
	Options
}

// HasBucket reports whether the hazard counts hits in a leaky bucket.
func (h Hazard) HasBucket() bool {
	return h.BucketSize > 0 && h.BucketLeak > 0
}

// CanBlock reports whether a saturated bucket produces a persistent blockage.
func (h Hazard) CanBlock() bool {
	return h.Timeout > 0
}

// BucketTTL is the store lifetime of a bucket record: twice the time needed
// to leak a full bucket.
func (h Hazard) BucketTTL() time.Duration {
	if !h.HasBucket() {
		return 0
	}
	seconds := float64(h.BucketSize) / h.BucketLeak * 2
	return time.Duration(seconds * float64(time.Second))
}

// BlockageTTL is the store lifetime of a blockage record.
func (h Hazard) BlockageTTL() time.Duration {
	if h.Timeout <= 0 {
		return 0
	}
	return 2 * h.Timeout
}

func (h Hazard) validate() error {
	if strings.TrimSpace(h.Name) == "" {
		return &InvalidHazardError{Name: h.Name, Reason: "name is required"}
	}
	if _, ok := registrableTypes[h.Type]; !ok {
		return &InvalidHazardError{Name: h.Name, Reason: "type \"" + string(h.Type) + "\" is not a valid hazard type"}
	}
	if h.Rule == nil {
		return &InvalidHazardError{Name: h.Name, Reason: "rule is required"}
	}
	if h.BucketSize < 0 {
		return &InvalidHazardError{Name: h.Name, Reason: "bucket size must be positive"}
	}
	if h.BucketLeak < 0 {
		return &InvalidHazardError{Name: h.Name, Reason: "bucket leak must be positive"}
	}
	if h.Timeout < 0 {
		return &InvalidHazardError{Name: h.Name, Reason: "timeout must be positive"}
	}
	if h.Type == HazardAttack && h.Timeout <= 0 {
		return &InvalidHazardError{Name: h.Name, Reason: "attack hazards require a timeout"}
	}
	return nil
}
