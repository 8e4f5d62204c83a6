// Package redis offers the Redis-backed helpers used by the agent: a shared
// client constructor and a read-through cache for price lookups.
package redis
