package repository

import (
	"context"
	"fmt"

	"github.com/rpattn/apietl/internal/domain"

	"github.com/jackc/pgx/v5/pgxpool"
)

type bronzeRepository struct {
	pool *pgxpool.Pool
}

// NewBronzeRepository wires a repository over the bronze tables.
func NewBronzeRepository(pool *pgxpool.Pool) BronzeRepository {
	return &bronzeRepository{pool: pool}
}

// Upsert inserts row or refreshes the existing row for the same raw record.
func (r *bronzeRepository) Upsert(ctx context.Context, table string, row domain.BronzeRow) error {
	ident, err := quoteTable(table)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO `+ident+` (
			raw_id, tenant_id, pedido_id, pedido_status, vendedor_nome,
			comprador_id, comprador_nome, comprador_email, comprador_documento,
			data_baixa, data_pedido, observacao, integracao,
			valor_total, valor_desconto, valor_liquido,
			endereco_entrega, itens_pedido, metadata,
			usuario_id, divisao_id, processed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17::jsonb, $18::jsonb, $19::jsonb, $20, $21, NOW()
		)
		ON CONFLICT (raw_id) DO UPDATE SET
			tenant_id = EXCLUDED.tenant_id,
			pedido_id = EXCLUDED.pedido_id,
			pedido_status = EXCLUDED.pedido_status,
			vendedor_nome = EXCLUDED.vendedor_nome,
			comprador_id = EXCLUDED.comprador_id,
			comprador_nome = EXCLUDED.comprador_nome,
			comprador_email = EXCLUDED.comprador_email,
			comprador_documento = EXCLUDED.comprador_documento,
			data_baixa = EXCLUDED.data_baixa,
			data_pedido = EXCLUDED.data_pedido,
			observacao = EXCLUDED.observacao,
			integracao = EXCLUDED.integracao,
			valor_total = EXCLUDED.valor_total,
			valor_desconto = EXCLUDED.valor_desconto,
			valor_liquido = EXCLUDED.valor_liquido,
			endereco_entrega = EXCLUDED.endereco_entrega,
			itens_pedido = EXCLUDED.itens_pedido,
			metadata = EXCLUDED.metadata,
			usuario_id = EXCLUDED.usuario_id,
			divisao_id = EXCLUDED.divisao_id,
			processed_at = NOW()`,
		row.RawID, row.TenantID, row.PedidoID, row.PedidoStatus, row.VendedorNome,
		row.CompradorID, row.CompradorNome, row.CompradorEmail, row.CompradorDocumento,
		row.DataBaixa, row.DataPedido, row.Observacao, row.Integracao,
		row.ValorTotal, row.ValorDesconto, row.ValorLiquido,
		nullableJSON(row.EnderecoEntrega), nullableJSON(row.ItensPedido), nullableJSON(row.Metadata),
		row.UsuarioID, row.DivisaoID,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert bronze row for raw %d: %w", row.RawID, err)
	}
	return nil
}

func (r *bronzeRepository) Count(ctx context.Context, table string) (int64, error) {
	return countRows(ctx, r.pool, table)
}
