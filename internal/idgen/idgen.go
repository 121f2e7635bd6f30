// Package idgen supplies unique identifiers. It is injected wherever ids are
// minted so tests can make them deterministic.
package idgen

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

type Generator interface {
	NewID() string
}

// UUID issues random version 4 UUIDs.
type UUID struct{}

func (UUID) NewID() string {
	return uuid.NewString()
}

// Sequence issues prefix-1, prefix-2, ... and is safe for concurrent use.
type Sequence struct {
	Prefix string
	n      atomic.Uint64
}

func (s *Sequence) NewID() string {
	return s.Prefix + "-" + strconv.FormatUint(s.n.Add(1), 10)
}
