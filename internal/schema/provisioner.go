package schema

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rpattn/apietl/internal/domain"

	"go.uber.org/zap"
)

// Catalog is the storage side of provisioning.
type Catalog interface {
	// TableColumns reports whether table exists and, if so, its column names.
	TableColumns(ctx context.Context, table string) ([]string, bool, error)
	// ApplyDDL runs statements in one transaction serialized per table.
	ApplyDDL(ctx context.Context, table string, statements []string) error
}

// Provisioner creates raw, detail and bronze tables on demand.
type Provisioner struct {
	catalog Catalog
	logger  *zap.Logger

	mu    sync.Mutex
	ready map[string]struct{}
}

// NewProvisioner wires a provisioner over the given catalog.
func NewProvisioner(catalog Catalog, logger *zap.Logger) *Provisioner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provisioner{
		catalog: catalog,
		logger:  logger.Named("schema"),
		ready:   make(map[string]struct{}),
	}
}

// EnsureRawTable provisions the raw table of a tenant route and returns its name.
func (p *Provisioner) EnsureRawTable(ctx context.Context, tenantID int64, routeName string) (string, error) {
	table, err := RawTableName(tenantID, routeName)
	if err != nil {
		return "", &domain.ProvisioningError{Table: routeName, Reason: "invalid table name", Err: err}
	}
	if err := p.ensure(ctx, rawTableSpec(table)); err != nil {
		return "", err
	}
	return table, nil
}

// EnsureDetailTable provisions the detail table of a tenant and returns its name.
func (p *Provisioner) EnsureDetailTable(ctx context.Context, tenantID int64) (string, error) {
	table, err := DetailTableName(tenantID)
	if err != nil {
		return "", &domain.ProvisioningError{Table: fmt.Sprintf("tenant %d", tenantID), Reason: "invalid table name", Err: err}
	}
	if err := p.ensure(ctx, detailTableSpec(table)); err != nil {
		return "", err
	}
	return table, nil
}

// EnsureBronzeTable provisions the bronze table paired with rawTable and returns its name.
func (p *Provisioner) EnsureBronzeTable(ctx context.Context, rawTable string) (string, error) {
	table, err := BronzeTableName(rawTable)
	if err != nil {
		return "", &domain.ProvisioningError{Table: rawTable, Reason: "invalid table name", Err: err}
	}
	if err := p.ensure(ctx, bronzeTableSpec(table)); err != nil {
		return "", err
	}
	return table, nil
}

func (p *Provisioner) ensure(ctx context.Context, spec tableSpec) error {
	if !ValidIdentifier(spec.name) {
		return &domain.ProvisioningError{Table: spec.name, Reason: "invalid identifier"}
	}

	p.mu.Lock()
	_, known := p.ready[spec.name]
	p.mu.Unlock()
	if known {
		return nil
	}

	columns, exists, err := p.catalog.TableColumns(ctx, spec.name)
	if err != nil {
		return &domain.ProvisioningError{Table: spec.name, Reason: "existence check failed", Err: err}
	}

	if exists {
		if missing := missingColumns(spec.columnNames(), columns); len(missing) > 0 {
			return &domain.ProvisioningError{
				Table:  spec.name,
				Reason: "incompatible schema, missing columns " + strings.Join(missing, ", "),
			}
		}
	} else {
		p.logger.Info("creating table", zap.String("table", spec.name))
		if err := p.catalog.ApplyDDL(ctx, spec.name, spec.statements()); err != nil {
			return &domain.ProvisioningError{Table: spec.name, Reason: "DDL failed", Err: err}
		}
	}

	p.mu.Lock()
	p.ready[spec.name] = struct{}{}
	p.mu.Unlock()
	return nil
}

func missingColumns(required, actual []string) []string {
	present := make(map[string]struct{}, len(actual))
	for _, name := range actual {
		present[strings.ToLower(name)] = struct{}{}
	}
	var missing []string
	for _, name := range required {
		if _, ok := present[name]; !ok {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}
