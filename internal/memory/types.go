// Package memory implements the multi-tier memory of the bot: a per-channel
// short-term ring, a durable searchable log, an append-only similarity index,
// and a typed relationship graph, unified behind a consistency engine that
// owns every cross-store invariant.
package memory

import (
	"errors"
	"time"
)

// Common errors returned by the stores.
var (
	ErrNotFound      = errors.New("memory: not found")
	ErrEmptyText     = errors.New("memory: entry text is empty")
	ErrLowConfidence = errors.New("memory: confidence below write floor")
	ErrStoreClosed   = errors.New("memory: store is closed")
	ErrBadVector     = errors.New("memory: invalid vector")
)

// Message is a chat message as seen by the consistency engine. Confidence 0
// means "not scored"; the engine substitutes its default.
type Message struct {
	ID         string
	ChannelID  string
	AuthorID   string
	Text       string
	At         time.Time
	Confidence float64
}

// STMEntry is one message in the per-channel short-term ring.
type STMEntry struct {
	ChannelID string
	AuthorID  string
	Text      string
	At        time.Time
}

// Record is a durable log entry. Immutable once written.
type Record struct {
	ID         string
	ChannelID  string
	AuthorID   string
	Text       string
	At         time.Time
	Confidence float64
}

// Vector is a fixed-dimension embedding.
type Vector []float32

// VectorKind partitions the similarity index by what the id refers to.
type VectorKind string

const (
	VectorRecord VectorKind = "record"
	VectorTopic  VectorKind = "topic"
)

// VectorMatch is one similarity search hit.
type VectorMatch struct {
	ID         string
	Kind       VectorKind
	Similarity float64
}

// NodeKind enumerates graph node variants.
type NodeKind string

const (
	NodeUser  NodeKind = "user"
	NodeLuna  NodeKind = "luna"
	NodeTopic NodeKind = "topic"
	NodeTrait NodeKind = "trait"
)

// LunaKey is the identity of the singleton bot node.
const LunaKey = "luna"

// Node is a graph vertex.
type Node struct {
	Kind  NodeKind
	Key   string
	Label string
}

// EdgeKind enumerates graph edge variants.
type EdgeKind string

const (
	EdgeRelationship EdgeKind = "RELATIONSHIP"     // User -> Luna, affinity [-100,100]
	EdgeInteracted   EdgeKind = "INTERACTED_WITH"  // User <-> User, sentiment [-1,1]
	EdgeInterested   EdgeKind = "INTERESTED_IN"    // User -> Topic, intensity [0,1]
	EdgeHasTrait     EdgeKind = "HAS_TRAIT"        // User -> Trait, confidence [0,1]
	EdgeChaosLink    EdgeKind = "CHAOS_LINK"       // Topic <-> Topic, similarity [0,1]
)

// EdgeKey identifies an edge. At most one live edge exists per key.
type EdgeKey struct {
	Source string
	Target string
	Kind   EdgeKind
}

// Edge is a typed graph edge with one scalar attribute.
type Edge struct {
	EdgeKey
	Value     float64
	UpdatedAt time.Time
}

// edgeRange returns the declared value range for an edge kind.
func edgeRange(kind EdgeKind) (lo, hi float64) {
	switch kind {
	case EdgeRelationship:
		return -100, 100
	case EdgeInteracted:
		return -1, 1
	default:
		return 0, 1
	}
}

// undirected reports whether the edge kind has no direction; keys for these
// kinds are canonicalized so (a,b) and (b,a) address the same edge.
func undirected(kind EdgeKind) bool {
	return kind == EdgeInteracted || kind == EdgeChaosLink
}

// Profile is the per-user summary maintained by the analyst.
type Profile struct {
	UserID    string
	Summary   string
	Mood      string
	Topics    []string
	Traits    []string
	UpdatedAt time.Time
}

// ContextBundle is the read-only result of a recall fan-out.
type ContextBundle struct {
	Recent   []STMEntry // short-term context for the channel
	Records  []Record   // durable log hits, deduplicated by id
	Social   []Edge     // relationship context, may be empty
	Grounded bool       // true when at least one non-LTM source contributed
}
