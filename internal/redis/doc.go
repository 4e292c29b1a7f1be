// Package redis wraps the go-redis client for the distribution core.
//
// Provides the cross-instance Bus on top of Redis Pub/Sub plus the
// client hooks that give every Redis operation metrics and circuit
// breaker protection.
package redis
