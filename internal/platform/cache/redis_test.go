package cache

import (
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestRedisCache_WithPrefixIsolatesNamespaces(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	root := NewRedisCacheFromClient(client, "answers:", time.Minute)
	gen := root.WithPrefix("generate:")
	search := root.WithPrefix("search:")

	if gen.client != root.client || search.client != root.client {
		t.Error("namespaced caches must share the root connection")
	}
	if gen.ttl != root.ttl {
		t.Errorf("expected inherited ttl %v, got %v", root.ttl, gen.ttl)
	}

	genKey, searchKey := gen.key("fp"), search.key("fp")
	if genKey != "answers:generate:fp" || searchKey != "answers:search:fp" {
		t.Errorf("unexpected keys %q %q", genKey, searchKey)
	}
	// Clear scans prefix+"*"; neither namespace may match the other's keys.
	if strings.HasPrefix(searchKey, gen.prefix) || strings.HasPrefix(genKey, search.prefix) {
		t.Errorf("namespaces overlap: %q / %q", gen.prefix, search.prefix)
	}

	t.Log("✓ Per-operation prefixes keep cache purges independent")
}
