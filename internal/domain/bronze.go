package domain

import (
	"encoding/json"
	"time"
)

// BronzeRow is the normalized projection of one raw order payload.
type BronzeRow struct {
	RawID              int64           `json:"raw_id"`
	TenantID           int64           `json:"tenant_id"`
	PedidoID           *int64          `json:"pedido_id,omitempty"`
	PedidoStatus       *string         `json:"pedido_status,omitempty"`
	VendedorNome       *string         `json:"vendedor_nome,omitempty"`
	CompradorID        *int64          `json:"comprador_id,omitempty"`
	CompradorNome      *string         `json:"comprador_nome,omitempty"`
	CompradorEmail     *string         `json:"comprador_email,omitempty"`
	CompradorDocumento *string         `json:"comprador_documento,omitempty"`
	DataBaixa          *time.Time      `json:"data_baixa,omitempty"`
	DataPedido         *time.Time      `json:"data_pedido,omitempty"`
	Observacao         *string         `json:"observacao,omitempty"`
	Integracao         *string         `json:"integracao,omitempty"`
	ValorTotal         *float64        `json:"valor_total,omitempty"`
	ValorDesconto      *float64        `json:"valor_desconto,omitempty"`
	ValorLiquido       *float64        `json:"valor_liquido,omitempty"`
	EnderecoEntrega    json.RawMessage `json:"endereco_entrega,omitempty"`
	ItensPedido        json.RawMessage `json:"itens_pedido,omitempty"`
	Metadata           json.RawMessage `json:"metadata,omitempty"`
	UsuarioID          *int64          `json:"usuario_id,omitempty"`
	DivisaoID          *int64          `json:"divisao_id,omitempty"`
}

// BuyerLink is the result of matching a buyer against the user directory.
type BuyerLink struct {
	UserID     *int64
	DivisionID *int64
}

// Resolved reports whether a user was matched.
func (l BuyerLink) Resolved() bool {
	return l.UserID != nil
}
