// Package sheets is the append-only tabular store accepted submissions are
// written to. A Provisioner resolves one Table per form kind, creating the
// backing spreadsheet on first use and remembering its identifier.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrStoreNotFound is returned by Backend.Open for an unknown identifier.
	ErrStoreNotFound = errors.New("sheets: store not found")
	// ErrStoreGone is returned by Table.AppendRow when the store was removed
	// after it had been opened.
	ErrStoreGone = errors.New("sheets: store no longer exists")
)

// Table is one opened store. Rows are only ever appended.
type Table interface {
	ID() string
	HasHeader(ctx context.Context) (bool, error)
	WriteHeader(ctx context.Context, header []string) error
	AppendRow(ctx context.Context, row []interface{}) error
}

// Backend opens or creates tables.
type Backend interface {
	Open(ctx context.Context, id string) (Table, error)
	Create(ctx context.Context, title string) (Table, error)
}

// IDStore remembers the identifier of a created store across restarts.
// Get returns "" and no error when nothing was stored under key.
type IDStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, id string) error
}

// Provisioner hands out the single Table for one form kind.
type Provisioner struct {
	backend      Backend
	ids          IDStore
	idKey        string
	configuredID string
	title        string
	header       []string
	log          *zap.Logger

	mu    sync.Mutex
	table Table
}

// ProvisionerConfig describes the store for one form kind.
type ProvisionerConfig struct {
	// IDKey is the key the store identifier is remembered under.
	IDKey string
	// ConfiguredID is the operator-provided identifier; may be empty.
	ConfiguredID string
	Title        string
	Header       []string
}

func NewProvisioner(backend Backend, ids IDStore, cfg ProvisionerConfig, log *zap.Logger) *Provisioner {
	return &Provisioner{
		backend:      backend,
		ids:          ids,
		idKey:        cfg.IDKey,
		configuredID: cfg.ConfiguredID,
		title:        cfg.Title,
		header:       cfg.Header,
		log:          log.With(zap.String("store", cfg.IDKey)),
	}
}

// EnsureStore returns the cached table, or resolves it: the configured
// identifier first, then the remembered one, then a freshly created store.
// Open failures are logged and recovered by creating a new store. The header
// row is written if the table is empty.
func (p *Provisioner) EnsureStore(ctx context.Context) (Table, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.table != nil {
		return p.table, nil
	}

	remembered, err := p.ids.Get(ctx, p.idKey)
	if err != nil {
		p.log.Warn("could not read remembered store id", zap.Error(err))
	}

	var table Table
	for _, id := range candidates(p.configuredID, remembered) {
		t, err := p.backend.Open(ctx, id)
		if err != nil {
			p.log.Warn("failed to open store, trying next option", zap.String("id", id), zap.Error(err))
			continue
		}
		table = t
		break
	}

	if table == nil {
		p.log.Info("creating new store", zap.String("title", p.title))
		table, err = p.backend.Create(ctx, p.title)
		if err != nil {
			return nil, fmt.Errorf("create store: %w", err)
		}
		p.log.Info("created new store", zap.String("id", table.ID()))
	}

	if table.ID() != remembered {
		if err := p.ids.Set(ctx, p.idKey, table.ID()); err != nil {
			p.log.Warn("could not remember store id", zap.String("id", table.ID()), zap.Error(err))
		}
	}

	hasHeader, err := table.HasHeader(ctx)
	if err != nil {
		return nil, fmt.Errorf("check header: %w", err)
	}
	if !hasHeader {
		if err := table.WriteHeader(ctx, p.header); err != nil {
			return nil, fmt.Errorf("write header: %w", err)
		}
		p.log.Info("header row added", zap.String("id", table.ID()))
	}

	p.table = table
	return table, nil
}

// Append ensures the store and appends row. If the store disappeared since
// it was opened, the cache is dropped and the append is retried once against
// a newly resolved store.
func (p *Provisioner) Append(ctx context.Context, row []interface{}) error {
	t, err := p.EnsureStore(ctx)
	if err != nil {
		return err
	}
	err = t.AppendRow(ctx, row)
	if !errors.Is(err, ErrStoreGone) {
		return err
	}

	p.log.Warn("store disappeared, resolving again", zap.String("id", t.ID()))
	p.invalidate(t)
	t, err = p.EnsureStore(ctx)
	if err != nil {
		return err
	}
	return t.AppendRow(ctx, row)
}

func (p *Provisioner) invalidate(t Table) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.table == t {
		p.table = nil
	}
	if p.configuredID == t.ID() {
		p.configuredID = ""
	}
}

func candidates(ids ...string) []string {
	var out []string
	seen := map[string]bool{}
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
