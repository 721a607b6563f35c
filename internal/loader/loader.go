// Package loader turns uploaded or configured program binaries into registry entries.
// It owns the write path: artifact storage, engine construction, the catalog record and
// finally the registry publish, in that order.
package loader

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/R3E-Network/zkgate/internal/artifacts"
	"github.com/R3E-Network/zkgate/internal/catalog"
	"github.com/R3E-Network/zkgate/internal/errors"
	"github.com/R3E-Network/zkgate/internal/events"
	"github.com/R3E-Network/zkgate/internal/logging"
	"github.com/R3E-Network/zkgate/internal/metrics"
	"github.com/R3E-Network/zkgate/internal/registry"
	"github.com/R3E-Network/zkgate/internal/zkvm"
)

// Factory builds an engine for the program stored at elfPath.
type Factory func(elfPath string) (zkvm.Engine, error)

// Upload is a registration request as received over the wire.
type Upload struct {
	ProgramID       string `json:"program_id,omitempty"`
	ProgramName     string `json:"program_name"`
	ZkVM            string `json:"zkvm"`
	ELFFile         string `json:"elf_file"`
	CompilerVersion string `json:"compiler_version"`
}

// Registration is the outcome of a successful Register.
type Registration struct {
	ProgramID string `json:"program_id"`
	Digest    string `json:"digest"`
	Status    string `json:"status"`
	Replaced  bool   `json:"replaced"`
}

// Builtin is a program shipped with the gateway and registered at start.
type Builtin struct {
	ID              string
	Vendor          zkvm.Vendor
	Name            string
	ELFPath         string
	CompilerVersion string
}

// Loader is safe for concurrent use. Writes are serialized; registry reads are not
// affected.
type Loader struct {
	registry  *registry.Registry
	store     *artifacts.Store
	catalog   catalog.Catalog
	factories map[zkvm.Vendor]Factory
	events    events.Sink
	logger    *logging.Logger
	newID     func() string

	mu sync.Mutex
}

// Option customizes a Loader.
type Option func(*Loader)

func WithEvents(sink events.Sink) Option {
	return func(l *Loader) { l.events = sink }
}

func WithLogger(logger *logging.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

// New wires a loader. factories maps each enabled vendor to its engine builder; a vendor
// without a factory cannot register programs.
func New(reg *registry.Registry, store *artifacts.Store, cat catalog.Catalog, factories map[zkvm.Vendor]Factory, opts ...Option) *Loader {
	l := &Loader{
		registry:  reg,
		store:     store,
		catalog:   cat,
		factories: make(map[zkvm.Vendor]Factory, len(factories)),
		events:    events.Discard{},
		logger:    logging.NewDiscard(),
		newID:     uuid.NewString,
	}
	for vendor, f := range factories {
		l.factories[vendor] = f
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Digest returns the hex BLAKE2b-256 digest of a program binary.
func Digest(elf []byte) string {
	sum := blake2b.Sum256(elf)
	return hex.EncodeToString(sum[:])
}

// Register decodes, stores and publishes an uploaded program. Any failure leaves the
// registry as it was.
func (l *Loader) Register(ctx context.Context, up Upload) (*Registration, error) {
	vendor, err := zkvm.ParseVendor(up.ZkVM)
	if err != nil {
		return nil, errors.MalformedInput(err.Error(), err)
	}
	factory, ok := l.factories[vendor]
	if !ok {
		return nil, errors.Unimplemented("register", vendor.String())
	}

	elf, err := base64.StdEncoding.DecodeString(strings.TrimSpace(up.ELFFile))
	if err != nil {
		return nil, errors.MalformedInput(fmt.Sprintf("invalid base64 encoding: %v", err), err)
	}
	if len(elf) == 0 {
		return nil, errors.MalformedInput("elf_file is empty", nil)
	}

	id := strings.TrimSpace(up.ProgramID)
	if id == "" {
		id = l.newID()
	}
	if err := artifacts.ValidateID(id); err != nil {
		return nil, errors.MalformedInput(err.Error(), err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	previous, _ := l.store.ReadELF(id)
	previousArt, _ := l.store.Load(id)
	rollback := func() {
		if previous != nil && previousArt != nil {
			_, _ = l.store.Save(id, previous, previousArt.CompilerVersion)
			return
		}
		_ = l.store.Delete(id)
	}

	art, err := l.store.Save(id, elf, up.CompilerVersion)
	if err != nil {
		rollback()
		return nil, errors.Internal("failed to store program", err)
	}

	engine, err := factory(art.Path)
	if err != nil {
		rollback()
		return nil, errors.EngineFailure(fmt.Sprintf("failed to load program: %v", err), err)
	}

	digest := Digest(elf)
	rec := catalog.Record{
		ID:              id,
		Name:            up.ProgramName,
		Vendor:          vendor,
		Digest:          digest,
		CompilerVersion: up.CompilerVersion,
		ArtifactPath:    art.Path,
	}
	if err := l.catalog.Put(ctx, rec); err != nil {
		rollback()
		return nil, errors.Internal("failed to record program", err)
	}

	replaced, err := l.publish(ctx, registry.ProgramID(id), vendor, engine, registry.Metadata{
		Name:            up.ProgramName,
		Digest:          digest,
		CompilerVersion: up.CompilerVersion,
	})
	if err != nil {
		return nil, err
	}

	return &Registration{
		ProgramID: id,
		Digest:    digest,
		Status:    fmt.Sprintf("registered with %s (compiler version: %s)", vendor, up.CompilerVersion),
		Replaced:  replaced,
	}, nil
}

// LoadBuiltins registers configured programs straight from their paths. They are not
// copied into the artifact store or the catalog. A builtin whose binary is missing is
// skipped with a warning.
func (l *Loader) LoadBuiltins(ctx context.Context, builtins []Builtin) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	loaded := 0
	for _, b := range builtins {
		log := l.logger.WithContext(ctx).WithFields(map[string]interface{}{
			"program_id": b.ID,
			"vendor":     b.Vendor,
			"elf":        b.ELFPath,
		})

		factory, ok := l.factories[b.Vendor]
		if !ok {
			log.Warn("Skipping builtin program: vendor has no backend")
			continue
		}
		elf, err := os.ReadFile(b.ELFPath)
		if err != nil {
			log.WithError(err).Warn("Skipping builtin program: binary not readable")
			continue
		}
		engine, err := factory(b.ELFPath)
		if err != nil {
			log.WithError(err).Warn("Skipping builtin program: engine failed to load")
			continue
		}
		if _, err := l.publish(ctx, registry.ProgramID(b.ID), b.Vendor, engine, registry.Metadata{
			Name:            b.Name,
			Digest:          Digest(elf),
			CompilerVersion: b.CompilerVersion,
		}); err != nil {
			log.WithError(err).Warn("Skipping builtin program")
			continue
		}
		loaded++
	}
	return loaded
}

// Rebuild re-registers every catalog record whose artifact is still on disk. Records
// that cannot be loaded are skipped and logged.
func (l *Loader) Rebuild(ctx context.Context) (int, error) {
	recs, err := l.catalog.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("rebuild: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	loaded := 0
	for _, rec := range recs {
		log := l.logger.WithContext(ctx).WithField("program_id", rec.ID)

		art, err := l.store.Load(rec.ID)
		if err != nil {
			log.WithError(err).Warn("Skipping catalog record: artifact missing")
			continue
		}
		factory, ok := l.factories[rec.Vendor]
		if !ok {
			log.WithField("vendor", rec.Vendor).Warn("Skipping catalog record: vendor has no backend")
			continue
		}
		engine, err := factory(art.Path)
		if err != nil {
			log.WithError(err).Warn("Skipping catalog record: engine failed to load")
			continue
		}
		if _, err := l.publish(ctx, registry.ProgramID(rec.ID), rec.Vendor, engine, registry.Metadata{
			Name:            rec.Name,
			Digest:          rec.Digest,
			CompilerVersion: rec.CompilerVersion,
		}); err != nil {
			log.WithError(err).Warn("Skipping catalog record")
			continue
		}
		loaded++
	}
	return loaded, nil
}

// Remove deletes the catalog record and stored artifact of id, then de-registers it.
// A failed delete leaves the program registered. Builtins have no catalog record, so
// their binaries are never touched.
func (l *Loader) Remove(ctx context.Context, id string) error {
	if err := artifacts.ValidateID(id); err != nil {
		return errors.NotFound("program", id)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	_, registered := l.registry.Lookup(registry.ProgramID(id))
	_, catErr := l.catalog.Get(ctx, id)
	if catErr != nil && !stderrors.Is(catErr, catalog.ErrNotFound) {
		return errors.Internal("failed to read catalog record", catErr)
	}
	persisted := catErr == nil
	if !registered && !persisted {
		return errors.NotFound("program", id)
	}

	if persisted {
		if err := l.catalog.Delete(ctx, id); err != nil {
			return errors.Internal("failed to delete catalog record", err)
		}
		if err := l.store.Delete(id); err != nil {
			return errors.Internal("failed to delete program artifact", err)
		}
	}
	l.registry.Remove(registry.ProgramID(id))

	l.publishCounts()
	l.events.LogWithContext(ctx, events.Event{
		Type:      events.EventProgramRemoved,
		ProgramID: id,
		Message:   "program removed",
	})
	l.logger.WithContext(ctx).WithField("program_id", id).Info("Program removed")
	return nil
}

func (l *Loader) publish(ctx context.Context, id registry.ProgramID, vendor zkvm.Vendor, engine zkvm.Engine, meta registry.Metadata) (bool, error) {
	replaced, err := l.registry.Register(id, vendor, engine, meta)
	if err != nil {
		return false, errors.MalformedInput(err.Error(), err)
	}
	l.publishCounts()

	eventType := events.EventProgramRegistered
	if replaced {
		eventType = events.EventProgramReplaced
	}
	l.events.LogWithContext(ctx, events.Event{
		Type:      eventType,
		ProgramID: id.String(),
		Vendor:    vendor.String(),
		Message:   meta.Name,
		Metadata:  map[string]string{"digest": meta.Digest},
	})
	l.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"program_id": id,
		"vendor":     vendor,
		"replaced":   replaced,
	}).Info("Program registered")
	return replaced, nil
}

func (l *Loader) publishCounts() {
	counts := make(map[string]int)
	for vendor, n := range l.registry.CountByVendor() {
		counts[vendor.String()] = n
	}
	metrics.SetRegisteredPrograms(counts)
}
