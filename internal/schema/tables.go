package schema

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

type column struct {
	name string
	ddl  string
}

// tableSpec is the DDL blueprint of a provisioned table.
type tableSpec struct {
	name    string
	columns []column
	indexes []string
}

func (s tableSpec) columnNames() []string {
	names := make([]string, len(s.columns))
	for i, c := range s.columns {
		names[i] = c.name
	}
	return names
}

func (s tableSpec) statements() []string {
	ident := pgx.Identifier{s.name}.Sanitize()

	defs := make([]string, len(s.columns))
	for i, c := range s.columns {
		defs[i] = "    " + c.name + " " + c.ddl
	}

	stmts := []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n%s\n)", ident, strings.Join(defs, ",\n")),
	}
	stmts = append(stmts, s.indexes...)
	stmts = append(stmts, fmt.Sprintf(
		"CREATE OR REPLACE TRIGGER %s BEFORE UPDATE ON %s FOR EACH ROW EXECUTE FUNCTION touch_updated_at()",
		pgx.Identifier{"trg_" + s.name + "_touch"}.Sanitize(), ident,
	))
	return stmts
}

func createIndex(table, suffix, definition string) string {
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s %s",
		pgx.Identifier{indexName(table, suffix)}.Sanitize(),
		pgx.Identifier{table}.Sanitize(),
		definition,
	)
}

var timestampColumns = []column{
	{"created_at", "TIMESTAMPTZ NOT NULL DEFAULT NOW()"},
	{"updated_at", "TIMESTAMPTZ NOT NULL DEFAULT NOW()"},
}

func rawTableSpec(table string) tableSpec {
	cols := []column{
		{"id", "BIGSERIAL PRIMARY KEY"},
		{"collected_at", "TIMESTAMPTZ NOT NULL DEFAULT NOW()"},
		{"payload", "JSONB NOT NULL"},
		{"content_hash", "TEXT UNIQUE"},
	}
	return tableSpec{
		name:    table,
		columns: append(cols, timestampColumns...),
		indexes: payloadIndexes(table),
	}
}

func detailTableSpec(table string) tableSpec {
	cols := []column{
		{"id", "BIGSERIAL PRIMARY KEY"},
		{"parent_id", "BIGINT NOT NULL"},
		{"collected_at", "TIMESTAMPTZ NOT NULL DEFAULT NOW()"},
		{"payload", "JSONB NOT NULL"},
		{"content_hash", "TEXT UNIQUE"},
	}
	indexes := append(payloadIndexes(table), createIndex(table, "parent", "(parent_id)"))
	return tableSpec{
		name:    table,
		columns: append(cols, timestampColumns...),
		indexes: indexes,
	}
}

func bronzeTableSpec(table string) tableSpec {
	cols := []column{
		{"id", "BIGSERIAL PRIMARY KEY"},
		{"raw_id", "BIGINT NOT NULL UNIQUE"},
		{"tenant_id", "BIGINT NOT NULL"},
		{"pedido_id", "BIGINT"},
		{"pedido_status", "TEXT"},
		{"vendedor_nome", "TEXT"},
		{"comprador_id", "BIGINT"},
		{"comprador_nome", "TEXT"},
		{"comprador_email", "TEXT"},
		{"comprador_documento", "TEXT"},
		{"data_baixa", "TIMESTAMPTZ"},
		{"data_pedido", "TIMESTAMPTZ"},
		{"observacao", "TEXT"},
		{"integracao", "TEXT"},
		{"valor_total", "NUMERIC(15,2)"},
		{"valor_desconto", "NUMERIC(15,2)"},
		{"valor_liquido", "NUMERIC(15,2)"},
		{"endereco_entrega", "JSONB"},
		{"itens_pedido", "JSONB"},
		{"metadata", "JSONB"},
		{"usuario_id", "BIGINT REFERENCES users(id) ON DELETE SET NULL"},
		{"divisao_id", "BIGINT REFERENCES divisions(id) ON DELETE SET NULL"},
		{"processed_at", "TIMESTAMPTZ NOT NULL DEFAULT NOW()"},
	}
	return tableSpec{
		name:    table,
		columns: append(cols, timestampColumns...),
		indexes: []string{
			createIndex(table, "tenant", "(tenant_id)"),
			createIndex(table, "pedido", "(pedido_id)"),
			createIndex(table, "usuario", "(usuario_id)"),
			createIndex(table, "documento", "(comprador_documento)"),
			createIndex(table, "processed", "(processed_at DESC)"),
		},
	}
}

func payloadIndexes(table string) []string {
	return []string{
		createIndex(table, "collected", "(collected_at DESC)"),
		createIndex(table, "payload", "USING GIN (payload jsonb_path_ops)"),
		createIndex(table, "hash", "(content_hash) WHERE content_hash IS NOT NULL"),
	}
}
