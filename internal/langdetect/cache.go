package langdetect

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/skypol2113/magic-worker/internal/language"
)

const (
	DefaultCacheTTL     = 30 * time.Minute
	defaultCacheCleanup = 10 * time.Minute
)

// CachedDetector memoizes detections by text fingerprint. Failed detections
// are not cached so a recovering provider gets another chance.
type CachedDetector struct {
	next  Detector
	cache *gocache.Cache
}

func NewCachedDetector(next Detector, ttl time.Duration) *CachedDetector {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedDetector{
		next:  next,
		cache: gocache.New(ttl, defaultCacheCleanup),
	}
}

func (d *CachedDetector) Name() string {
	if d == nil || d.next == nil {
		return "cached"
	}
	return d.next.Name()
}

func (d *CachedDetector) DetectLanguage(ctx context.Context, text string) (string, error) {
	key := fingerprint(text)
	if cached, ok := d.cache.Get(key); ok {
		return cached.(string), nil
	}

	code, err := d.next.DetectLanguage(ctx, text)
	if err != nil {
		return language.Undetermined, err
	}
	if !language.IsUndetermined(code) {
		d.cache.Set(key, code, gocache.DefaultExpiration)
	}
	return code, nil
}

// Len reports the number of memoized detections.
func (d *CachedDetector) Len() int {
	return d.cache.ItemCount()
}

func fingerprint(text string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(text)))
	return hex.EncodeToString(sum[:])
}
