// Package catalog persists program registrations so the gateway can rebuild its
// registry after a restart. The registry stays the source of truth for dispatch; the
// catalog only records what was registered.
package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/R3E-Network/zkgate/internal/zkvm"
)

// ErrNotFound is returned by Get for an unknown id.
var ErrNotFound = errors.New("catalog: record not found")

// Record describes one registered program.
type Record struct {
	ID              string      `db:"id" json:"id"`
	Name            string      `db:"name" json:"name"`
	Vendor          zkvm.Vendor `db:"vendor" json:"vendor"`
	Digest          string      `db:"digest" json:"digest"`
	CompilerVersion string      `db:"compiler_version" json:"compiler_version"`
	ArtifactPath    string      `db:"artifact_path" json:"artifact_path"`
	CreatedAt       time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time   `db:"updated_at" json:"updated_at"`
}

// Catalog stores Records. Put is an upsert: the last registration for an id wins.
type Catalog interface {
	Put(ctx context.Context, rec Record) error
	Get(ctx context.Context, id string) (Record, error)
	List(ctx context.Context) ([]Record, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// Driver names accepted by configuration.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)
