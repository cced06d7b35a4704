// Package id provides centralized ID generation for the catalog.
//
// Persisted software entries carry prefixed ULIDs (sw_*): lexicographically
// sortable, debuggable in logs, and unique without coordination. Throwaway
// names (staging directories) use plain UUIDs.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// SoftwareID identifies a persisted catalog entry
type SoftwareID string

// BatchID identifies one batch-archive run
type BatchID string

const (
	SoftwarePrefix = "sw"
	BatchPrefix    = "batch"
)

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // Protects entropy reader
}

var (
	// Default generator with cryptographically secure entropy
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a new ULID generator
func NewGenerator() *Generator {
	return &Generator{
		entropy: rand.Reader,
	}
}

// NewGeneratorWithEntropy creates a generator with custom entropy source
// Useful for testing with deterministic entropy
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{
		entropy: entropy,
	}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// NewSoftwareID generates a new catalog entry ID
func NewSoftwareID() SoftwareID {
	return SoftwareID(Default().GenerateWithPrefix(SoftwarePrefix))
}

// NewBatchID generates a new batch run ID
func NewBatchID() BatchID {
	return BatchID(Default().GenerateWithPrefix(BatchPrefix))
}

// NewStagingName returns a unique single-use directory name. UUIDs are
// fine here: staging names are never persisted or sorted.
func NewStagingName() string {
	return "staging-" + uuid.NewString()
}

func (id SoftwareID) String() string { return string(id) }
func (id BatchID) String() string    { return string(id) }

// IsValid checks if an ID string is a valid ULID
func IsValid(id string) bool {
	_, err := ulid.Parse(id)
	return err == nil
}
