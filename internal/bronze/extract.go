package bronze

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rpattn/apietl/internal/domain"
)

// knownKeys are projected into columns; everything else lands in metadata.
var knownKeys = map[string]struct{}{
	"id": {}, "status": {}, "vendedor": {}, "comprador": {}, "data_baixa": {},
	"data_pedido": {}, "observacao": {}, "integracao": {}, "financeiro": {},
	"endereco_entrega": {}, "endereco": {}, "itens": {}, "items": {}, "produtos": {},
	"valor_total": {}, "total": {}, "desconto": {}, "valor_liquido": {}, "liquido": {},
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ExtractOrder projects a decoded order payload onto a bronze row. Missing,
// null or mistyped fields become nulls; only a non-object payload is an error.
// RawID, TenantID and the buyer links are left for the caller.
func ExtractOrder(payload any) (domain.BronzeRow, error) {
	obj, ok := payload.(map[string]any)
	if !ok {
		return domain.BronzeRow{}, fmt.Errorf("payload is %s, not an object", kindOf(payload))
	}

	row := domain.BronzeRow{
		PedidoID:     toInt(obj["id"]),
		PedidoStatus: toString(obj["status"]),
		VendedorNome: sellerName(obj["vendedor"]),
		Observacao:   toString(obj["observacao"]),
		Integracao:   toString(obj["integracao"]),
		DataBaixa:    toTime(obj["data_baixa"]),
		DataPedido:   toTime(obj["data_pedido"]),
	}

	if buyer, ok := obj["comprador"].(map[string]any); ok {
		row.CompradorID = toInt(buyer["id"])
		row.CompradorNome = trimmed(buyer["nome"])
		row.CompradorEmail = toString(buyer["email"])
		row.CompradorDocumento = trimmed(buyer["documento"])
	}

	if finance, ok := obj["financeiro"].(map[string]any); ok {
		row.ValorTotal = toMoney(finance["total"])
		row.ValorDesconto = toMoney(finance["desconto"])
		row.ValorLiquido = toMoney(finance["liquido"])
	} else {
		row.ValorTotal = toMoney(firstPresent(obj, "valor_total", "total"))
		row.ValorDesconto = toMoney(obj["desconto"])
		row.ValorLiquido = toMoney(firstPresent(obj, "valor_liquido", "liquido"))
	}

	var err error
	if row.EnderecoEntrega, err = toJSON(firstPresent(obj, "endereco_entrega", "endereco")); err != nil {
		return domain.BronzeRow{}, fmt.Errorf("endereco_entrega: %w", err)
	}
	if row.ItensPedido, err = toJSON(firstPresent(obj, "itens", "items", "produtos")); err != nil {
		return domain.BronzeRow{}, fmt.Errorf("itens_pedido: %w", err)
	}

	residual := make(map[string]any)
	for key, value := range obj {
		if _, known := knownKeys[key]; !known {
			residual[key] = value
		}
	}
	if row.Metadata, err = toJSON(residual); err != nil {
		return domain.BronzeRow{}, fmt.Errorf("metadata: %w", err)
	}
	return row, nil
}

// firstPresent returns the first value under keys that is neither null nor empty.
func firstPresent(obj map[string]any, keys ...string) any {
	for _, key := range keys {
		if v := obj[key]; !empty(v) {
			return v
		}
	}
	return nil
}

func empty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	}
	return false
}

func toJSON(v any) (json.RawMessage, error) {
	if empty(v) {
		return nil, nil
	}
	return domain.CanonicalJSON(v)
}

func toString(v any) *string {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case json.Number:
		s = t.String()
	case bool:
		s = strconv.FormatBool(t)
	default:
		return nil
	}
	return &s
}

func trimmed(v any) *string {
	s := toString(v)
	if s == nil {
		return nil
	}
	out := strings.TrimSpace(*s)
	if out == "" {
		return nil
	}
	return &out
}

// sellerName accepts either a plain name or an object carrying one.
func sellerName(v any) *string {
	if obj, ok := v.(map[string]any); ok {
		return trimmed(obj["nome"])
	}
	return trimmed(v)
}

func toInt(v any) *int64 {
	var (
		n   int64
		err error
	)
	switch t := v.(type) {
	case json.Number:
		n, err = t.Int64()
		if err != nil {
			f, ferr := t.Float64()
			if ferr != nil || f != float64(int64(f)) {
				return nil
			}
			n, err = int64(f), nil
		}
	case float64:
		if t != float64(int64(t)) {
			return nil
		}
		n = int64(t)
	case string:
		n, err = strconv.ParseInt(strings.TrimSpace(t), 10, 64)
	default:
		return nil
	}
	if err != nil {
		return nil
	}
	return &n
}

// maxMoney is the first magnitude that no longer fits NUMERIC(15,2) once
// rounded to cents.
const maxMoney = 1e13 - 0.005

func toMoney(v any) *float64 {
	var (
		f   float64
		err error
	)
	switch t := v.(type) {
	case json.Number:
		f, err = t.Float64()
	case float64:
		f = t
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(t), 64)
	default:
		return nil
	}
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) >= maxMoney {
		return nil
	}
	return &f
}

func toTime(v any) *time.Time {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "an array"
	case string:
		return "a string"
	case json.Number, float64:
		return "a number"
	case bool:
		return "a boolean"
	}
	return fmt.Sprintf("%T", v)
}
