package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
	"time"
)

var ErrCacheMiss = errors.New("cache: key not found")

// Service is a remote key/value cache with score-ordered indexes.
type Service interface {
	Get(ctx context.Context, key string, dest interface{}) error
	// SetIndexed stores value under key and ranks member in index by score.
	SetIndexed(ctx context.Context, key string, value interface{}, ttl time.Duration, index, member string, score float64) error
	TopOfIndex(ctx context.Context, index string, n int64) ([]string, error)
	Close() error
}

// Key joins parts with ':'.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// SortedKey is Key(prefix, ids joined by sep) with ids sorted first.
func SortedKey(prefix, sep string, ids ...string) string {
	s := append([]string(nil), ids...)
	sort.Strings(s)
	return Key(prefix, strings.Join(s, sep))
}

// HashKey returns the hex md5 of key.
func HashKey(key string) string {
	sum := md5.Sum([]byte(key))
	return hex.EncodeToString(sum[:])
}
