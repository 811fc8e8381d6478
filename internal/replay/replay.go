// Package replay implements the replay-safe dispatch layer for
// lifecycle RPCs (spec §6, §7 Conflict/Expired): each inbound request
// carries a caller-chosen request id and a domain-separated hash of
// its payload. A slot cache keyed by request id remembers the payload
// hash and the recorded result for up to ttl, capped at maxSlots
// entries; a second call with the same id and the same payload hash
// replays the recorded result instead of re-executing, while a second
// call with the same id and a different payload is a Conflict.
package replay

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/dreamware/canic/internal/canicerr"
)

// DefaultTTL is the maximum age of a replay slot (spec §7: TTL ≤300s).
const DefaultTTL = 300 * time.Second

// MaxSlots bounds the cache so an unbounded stream of distinct request
// ids cannot exhaust memory (spec §7: 10,000-entry cap).
const MaxSlots = 10_000

// domainSeparator prevents a payload hash collision across unrelated
// call sites that happen to hash the same bytes for a different
// purpose (spec §7).
const domainSeparator = "root-replay-payload-hash:v1"

// Slot is the recorded outcome of one request id's first execution.
type Slot struct {
	PayloadHash string
	Result      any
	Err         error
}

// Cache is the process-wide replay slot cache for one node.
type Cache struct {
	slots *lru.LRU[string, Slot]
}

// New constructs a Cache with the spec's default TTL and capacity.
func New() *Cache {
	return NewWithLimits(MaxSlots, DefaultTTL)
}

// NewWithLimits constructs a Cache with an explicit capacity and TTL,
// for tests that want a short TTL instead of waiting out the default.
func NewWithLimits(maxSlots int, ttl time.Duration) *Cache {
	return &Cache{slots: lru.NewLRU[string, Slot](maxSlots, nil, ttl)}
}

// HashPayload derives the domain-separated hash recorded against a
// request id's slot, so two requests sharing an id but disagreeing on
// payload are detected as a Conflict rather than silently replayed.
func HashPayload(payload []byte) string {
	h := sha256.New()
	writeLenPrefixed(h, []byte(domainSeparator))
	writeLenPrefixed(h, payload)
	return hex.EncodeToString(h.Sum(nil))
}

// writeLenPrefixed writes b's length as a big-endian uint64 followed by
// b itself, so the hash over domain||payload can't be confused with the
// hash over a differently-split concatenation of the same bytes.
func writeLenPrefixed(h hash.Hash, b []byte) {
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(b)))
	h.Write(lenBuf[:])
	h.Write(b)
}

// Execute runs fn exactly once per (requestID, payloadHash) pair
// within the cache's TTL. A repeat call with the same requestID and
// the same payload replays the recorded (result, err) without calling
// fn again. A repeat call with the same requestID but a different
// payload returns a Conflict error and does not call fn.
func (c *Cache) Execute(requestID string, payload []byte, fn func() (any, error)) (any, error) {
	hash := HashPayload(payload)

	if existing, ok := c.slots.Get(requestID); ok {
		if existing.PayloadHash != hash {
			return nil, canicerr.New(canicerr.Conflict,
				"replay request id reused with a different payload",
				canicerr.F("request_id", requestID),
			)
		}
		return existing.Result, existing.Err
	}

	result, err := fn()
	c.slots.Add(requestID, Slot{PayloadHash: hash, Result: result, Err: err})
	return result, err
}

// Len reports the number of live (unexpired, unevicted) slots, for
// tests asserting the cap is enforced.
func (c *Cache) Len() int {
	return c.slots.Len()
}

// Peek returns the recorded slot for requestID without affecting LRU
// recency, for tests that want to inspect a slot without the
// side-effects Execute has.
func (c *Cache) Peek(requestID string) (Slot, bool) {
	return c.slots.Peek(requestID)
}
