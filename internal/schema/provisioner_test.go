package schema

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rpattn/apietl/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCatalog struct {
	mu       sync.Mutex
	tables   map[string][]string
	applied  map[string]int
	ddl      map[string][]string
	applyErr error
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		tables:  make(map[string][]string),
		applied: make(map[string]int),
		ddl:     make(map[string][]string),
	}
}

func (c *fakeCatalog) TableColumns(_ context.Context, table string) ([]string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cols, ok := c.tables[table]
	return cols, ok, nil
}

func (c *fakeCatalog) ApplyDDL(_ context.Context, table string, statements []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.applyErr != nil {
		return c.applyErr
	}
	c.applied[table]++
	c.ddl[table] = statements
	create := statements[0]
	var cols []string
	for _, line := range strings.Split(create, "\n")[1:] {
		fields := strings.Fields(line)
		if len(fields) > 1 {
			cols = append(cols, fields[0])
		}
	}
	c.tables[table] = cols
	return nil
}

func TestEnsureRawTableIsIdempotent(t *testing.T) {
	catalog := newFakeCatalog()

	first, err := NewProvisioner(catalog, nil).EnsureRawTable(context.Background(), 3, "Pedidos")
	require.NoError(t, err)
	second, err := NewProvisioner(catalog, nil).EnsureRawTable(context.Background(), 3, "Pedidos")
	require.NoError(t, err)

	assert.Equal(t, "raw_3_pedidos", first)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, catalog.applied[first])
	assert.Len(t, catalog.tables, 1)
}

func TestEnsureRawTableCreatesIndexesAndTrigger(t *testing.T) {
	catalog := newFakeCatalog()
	table, err := NewProvisioner(catalog, nil).EnsureRawTable(context.Background(), 3, "Pedidos")
	require.NoError(t, err)

	joined := strings.Join(catalog.ddl[table], ";\n")
	assert.Contains(t, joined, `CREATE TABLE IF NOT EXISTS "raw_3_pedidos"`)
	assert.Contains(t, joined, "content_hash TEXT UNIQUE")
	assert.Contains(t, joined, "(collected_at DESC)")
	assert.Contains(t, joined, "USING GIN (payload jsonb_path_ops)")
	assert.Contains(t, joined, "WHERE content_hash IS NOT NULL")
	assert.Contains(t, joined, "EXECUTE FUNCTION touch_updated_at()")
}

func TestEnsureTableRejectsIncompatibleSchema(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.tables["raw_3_pedidos"] = []string{"id", "payload"}

	_, err := NewProvisioner(catalog, nil).EnsureRawTable(context.Background(), 3, "Pedidos")

	var provErr *domain.ProvisioningError
	require.True(t, errors.As(err, &provErr))
	assert.Contains(t, provErr.Reason, "content_hash")
	assert.Zero(t, catalog.applied["raw_3_pedidos"])
}

func TestEnsureTableWrapsDDLFailure(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.applyErr = errors.New("permission denied")

	_, err := NewProvisioner(catalog, nil).EnsureDetailTable(context.Background(), 3)

	var provErr *domain.ProvisioningError
	require.True(t, errors.As(err, &provErr))
	assert.Equal(t, "details_raw_3", provErr.Table)
	assert.ErrorContains(t, err, "permission denied")
}

func TestEnsureBronzeTable(t *testing.T) {
	catalog := newFakeCatalog()
	table, err := NewProvisioner(catalog, nil).EnsureBronzeTable(context.Background(), "raw_3_pedidos")
	require.NoError(t, err)
	assert.Equal(t, "bronze_3_pedidos", table)
	assert.Contains(t, catalog.tables[table], "raw_id")
	assert.Contains(t, catalog.tables[table], "metadata")

	_, err = NewProvisioner(catalog, nil).EnsureBronzeTable(context.Background(), "pedidos")
	var provErr *domain.ProvisioningError
	assert.True(t, errors.As(err, &provErr))
}
