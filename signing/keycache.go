package signing

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

const maxKeySetBody = 1 << 20

// keyCache resolves and caches public keys by (jku, kid). Entries are
// immutable once fetched: a kid never changes its key, so eviction is a
// size/TTL concern, not a correctness one. Concurrent fetches for the
// same uncached key may overlap; the duplicate fetch is harmless.
type keyCache struct {
	cache  *lru.LRU[string, *rsa.PublicKey]
	client *http.Client
}

func newKeyCache(size int, ttl time.Duration, client *http.Client) *keyCache {
	if size <= 0 {
		size = 128
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &keyCache{
		cache:  lru.NewLRU[string, *rsa.PublicKey](size, nil, ttl),
		client: client,
	}
}

func cacheKey(jku, kid string) string {
	return jku + "|" + kid
}

// get returns the public key for (jku, kid), fetching the key set if it
// is not cached.
func (c *keyCache) get(ctx context.Context, jku, kid string) (*rsa.PublicKey, error) {
	if key, ok := c.cache.Get(cacheKey(jku, kid)); ok {
		return key, nil
	}

	set, err := c.fetch(ctx, jku)
	if err != nil {
		return nil, err
	}

	var found *rsa.PublicKey
	for _, k := range set.Keys {
		key, err := parseRSAKey(k)
		if err != nil {
			continue
		}
		c.cache.Add(cacheKey(jku, k.Kid), key)
		if k.Kid == kid {
			found = key
		}
	}
	if found == nil {
		return nil, fmt.Errorf("key id %q not found in key set %s", kid, jku)
	}
	return found, nil
}

func (c *keyCache) fetch(ctx context.Context, jku string) (*jwkSet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jku, nil)
	if err != nil {
		return nil, fmt.Errorf("building key set request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching key set %s: %w", jku, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching key set %s: status %d", jku, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxKeySetBody))
	if err != nil {
		return nil, fmt.Errorf("reading key set %s: %w", jku, err)
	}
	var set jwkSet
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("parsing key set %s: %w", jku, err)
	}
	return &set, nil
}
