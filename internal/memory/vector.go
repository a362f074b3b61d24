package memory

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"
)

// AddVector appends an embedding to the similarity index. Writes are
// append-only: an existing (id, kind) pair is left untouched.
func (s *Store) AddVector(ctx context.Context, id string, kind VectorKind, vec Vector) error {
	blob, err := encodeVector(vec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO vectors (id, kind, embedding, created_at) VALUES (?, ?, ?, ?)`,
		id, string(kind), blob, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("add vector: %w", err)
	}
	return nil
}

// HasVector reports whether an embedding exists for (id, kind).
func (s *Store) HasVector(ctx context.Context, id string, kind VectorKind) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM vectors WHERE id = ? AND kind = ?", id, string(kind)).Scan(&n)
	return n > 0, err
}

// SearchVectors returns up to k entries of the given kind with cosine
// similarity to query of at least minSim, best first. A full scan is fine at
// this store's scale; revisit with an ANN index if the topic count grows past
// a few thousand.
func (s *Store) SearchVectors(ctx context.Context, query Vector, kind VectorKind, minSim float64, k int) ([]VectorMatch, error) {
	if len(query) == 0 {
		return nil, ErrBadVector
	}
	if k <= 0 {
		k = 5
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, embedding FROM vectors WHERE kind = ?", string(kind))
	if err != nil {
		return nil, fmt.Errorf("search vectors: %w", err)
	}

	var matches []VectorMatch
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			_ = rows.Close()
			return nil, err
		}
		existing, err := decodeVector(blob)
		if err != nil {
			continue
		}
		sim, err := Cosine(query, existing)
		if err != nil {
			continue
		}
		if sim >= minSim {
			matches = append(matches, VectorMatch{ID: id, Kind: kind, Similarity: sim})
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	sort.Slice(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// VectorByID loads one embedding.
func (s *Store) VectorByID(ctx context.Context, id string, kind VectorKind) (Vector, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT embedding FROM vectors WHERE id = ? AND kind = ?", id, string(kind)).Scan(&blob)
	if err != nil {
		return nil, ErrNotFound
	}
	return decodeVector(blob)
}

const (
	vectorHeaderSize = 4
	vectorValueSize  = 4
)

// encodeVector packs a float32 vector into a blob:
// [4-byte LE dimension][N x 4-byte LE float32].
func encodeVector(vec Vector) ([]byte, error) {
	if len(vec) == 0 {
		return nil, ErrBadVector
	}
	blob := make([]byte, vectorHeaderSize+len(vec)*vectorValueSize)
	binary.LittleEndian.PutUint32(blob[:vectorHeaderSize], uint32(len(vec)))
	off := vectorHeaderSize
	for i, v := range vec {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, fmt.Errorf("%w: bad value at index %d", ErrBadVector, i)
		}
		binary.LittleEndian.PutUint32(blob[off:off+vectorValueSize], math.Float32bits(v))
		off += vectorValueSize
	}
	return blob, nil
}

func decodeVector(blob []byte) (Vector, error) {
	if len(blob) < vectorHeaderSize {
		return nil, ErrBadVector
	}
	dim := int(binary.LittleEndian.Uint32(blob[:vectorHeaderSize]))
	if dim <= 0 || len(blob) != vectorHeaderSize+dim*vectorValueSize {
		return nil, ErrBadVector
	}
	vec := make(Vector, dim)
	off := vectorHeaderSize
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[off : off+vectorValueSize]))
		off += vectorValueSize
	}
	return vec, nil
}

// Cosine computes cosine similarity for two equal-dimension vectors,
// clamped to [-1, 1].
func Cosine(a, b Vector) (float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, ErrBadVector
	}
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: dimension mismatch %d vs %d", ErrBadVector, len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		ai, bi := float64(a[i]), float64(b[i])
		dot += ai * bi
		na += ai * ai
		nb += bi * bi
	}
	if na == 0 || nb == 0 {
		return 0, fmt.Errorf("%w: zero norm", ErrBadVector)
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if sim > 1 {
		sim = 1
	} else if sim < -1 {
		sim = -1
	}
	return sim, nil
}
