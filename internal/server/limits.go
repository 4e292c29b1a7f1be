package server

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/48Nauts-Operator/lineary-realtime/internal/metrics"
)

// LimitReason describes why a connection attempt was rejected.
type LimitReason string

const (
	LimitReasonRate   LimitReason = "rate_limit"
	LimitReasonPerIP  LimitReason = "ip_limit"
	LimitReasonGlobal LimitReason = "global_limit"
)

const bucketCleanupInterval = 5 * time.Minute

// ConnectionLimits guards the accept path with three checks: a per-IP
// token bucket on connect attempts, a global concurrent cap, and a
// per-IP concurrent cap. All three run before the WebSocket upgrade,
// so rejected attempts never cost a connection.
type ConnectionLimits struct {
	maxGlobal int64
	current   atomic.Int64

	perIPMax int
	ipMu     sync.Mutex
	perIP    map[string]int

	connectRate  rate.Limit
	connectBurst int
	rlMu         sync.Mutex
	buckets      map[string]*bucketEntry
	cleanupAt    time.Time
}

type bucketEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewConnectionLimits builds the accept-path guard.
// perSecond and burst shape the per-IP token bucket for new attempts.
func NewConnectionLimits(maxGlobal int64, perIPMax int, perSecond float64, burst int) *ConnectionLimits {
	return &ConnectionLimits{
		maxGlobal:    maxGlobal,
		perIPMax:     perIPMax,
		perIP:        make(map[string]int),
		connectRate:  rate.Limit(perSecond),
		connectBurst: burst,
		buckets:      make(map[string]*bucketEntry),
		cleanupAt:    time.Now().Add(bucketCleanupInterval),
	}
}

// Acquire claims one connection slot for ip. On rejection it reports
// the limit that fired and leaves no partial claim behind.
func (l *ConnectionLimits) Acquire(ip string) (bool, LimitReason) {
	if !l.allowAttempt(ip) {
		return false, LimitReasonRate
	}
	if !l.acquireGlobal() {
		return false, LimitReasonGlobal
	}
	if !l.acquirePerIP(ip) {
		l.current.Add(-1)
		return false, LimitReasonPerIP
	}
	l.publishGauges()
	return true, ""
}

// Release returns the slot claimed by a successful Acquire.
func (l *ConnectionLimits) Release(ip string) {
	l.releasePerIP(ip)
	l.current.Add(-1)
	l.publishGauges()
}

// Current returns the number of held connection slots.
func (l *ConnectionLimits) Current() int64 {
	return l.current.Load()
}

// CapacityPct returns global slot utilisation as a percentage.
func (l *ConnectionLimits) CapacityPct() float64 {
	if l.maxGlobal == 0 {
		return 0
	}
	return float64(l.current.Load()) / float64(l.maxGlobal) * 100
}

// CountForIP returns the slots currently held by one IP.
func (l *ConnectionLimits) CountForIP(ip string) int {
	l.ipMu.Lock()
	defer l.ipMu.Unlock()
	return l.perIP[ip]
}

// UniqueIPs returns the number of IPs holding at least one slot.
func (l *ConnectionLimits) UniqueIPs() int {
	l.ipMu.Lock()
	defer l.ipMu.Unlock()
	return len(l.perIP)
}

func (l *ConnectionLimits) allowAttempt(ip string) bool {
	l.rlMu.Lock()
	defer l.rlMu.Unlock()

	if now := time.Now(); now.After(l.cleanupAt) {
		l.dropStaleBuckets(now)
		l.cleanupAt = now.Add(bucketCleanupInterval)
	}

	entry, ok := l.buckets[ip]
	if !ok {
		entry = &bucketEntry{limiter: rate.NewLimiter(l.connectRate, l.connectBurst)}
		l.buckets[ip] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter.Allow()
}

// dropStaleBuckets removes token buckets idle for two cleanup
// intervals. Must be called with rlMu held.
func (l *ConnectionLimits) dropStaleBuckets(now time.Time) {
	cutoff := now.Add(-2 * bucketCleanupInterval)
	for ip, entry := range l.buckets {
		if entry.lastSeen.Before(cutoff) {
			delete(l.buckets, ip)
		}
	}
}

func (l *ConnectionLimits) acquireGlobal() bool {
	for {
		current := l.current.Load()
		if current >= l.maxGlobal {
			return false
		}
		if l.current.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

func (l *ConnectionLimits) acquirePerIP(ip string) bool {
	l.ipMu.Lock()
	defer l.ipMu.Unlock()
	if l.perIP[ip] >= l.perIPMax {
		return false
	}
	l.perIP[ip]++
	return true
}

func (l *ConnectionLimits) releasePerIP(ip string) {
	l.ipMu.Lock()
	defer l.ipMu.Unlock()
	if count := l.perIP[ip]; count > 0 {
		if count == 1 {
			delete(l.perIP, ip)
			return
		}
		l.perIP[ip] = count - 1
	}
}

func (l *ConnectionLimits) publishGauges() {
	metrics.ConnectionCapacity.Set(l.CapacityPct())
	metrics.UniqueIPs.Set(float64(l.UniqueIPs()))
}
