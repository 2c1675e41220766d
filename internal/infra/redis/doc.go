// Package redis is the Redis integration shared by every API replica: the
// connection Client, the generic JSON Cache backing the shared tier of the
// entitlement snapshot cache, and the distributed RateLimiter used by the
// HTTP API. Operations report Prometheus metrics under "entitlements_redis".
package redis
