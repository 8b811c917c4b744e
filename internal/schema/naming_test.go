package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeName(t *testing.T) {
	cases := map[string]string{
		"Pedidos":                "pedidos",
		"Pedidos Ávulsos – 2024!": "pedidos_avulsos_2024",
		"  __Ação/Não  ":         "acao_nao",
		"já-está":                "ja_esta",
		"!!!":                    "",
	}
	for input, expected := range cases {
		assert.Equal(t, expected, NormalizeName(input), "input %q", input)
	}
}

func TestRawTableName(t *testing.T) {
	name, err := RawTableName(42, "Pedidos de Venda")
	require.NoError(t, err)
	assert.Equal(t, "raw_42_pedidos_de_venda", name)

	_, err = RawTableName(42, "***")
	assert.Error(t, err)

	_, err = RawTableName(0, "pedidos")
	assert.Error(t, err)
}

func TestRawTableNameShortensLongNames(t *testing.T) {
	long := strings.Repeat("relatorio de vendas consolidado ", 4)
	first, err := RawTableName(7, long)
	require.NoError(t, err)
	second, err := RawTableName(7, long+" extra")
	require.NoError(t, err)

	assert.LessOrEqual(t, len(first), MaxRawTableNameLength)
	assert.True(t, ValidIdentifier(first))
	assert.True(t, strings.HasPrefix(first, "raw_7_relatorio"))
	assert.NotEqual(t, first, second)

	again, err := RawTableName(7, long)
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestBronzeTableName(t *testing.T) {
	name, err := BronzeTableName("raw_42_pedidos")
	require.NoError(t, err)
	assert.Equal(t, "bronze_42_pedidos", name)

	_, err = BronzeTableName("bronze_42_pedidos")
	assert.Error(t, err)
	_, err = BronzeTableName("raw_x_pedidos")
	assert.Error(t, err)
}

func TestParseRawTableName(t *testing.T) {
	tenantID, err := ParseRawTableName("raw_1234_pedidos_venda")
	require.NoError(t, err)
	assert.Equal(t, int64(1234), tenantID)

	_, err = ParseRawTableName("raw_1234")
	assert.Error(t, err)
	_, err = ParseRawTableName(`raw_1"; DROP TABLE users; --`)
	assert.Error(t, err)
}

func TestDetailTableName(t *testing.T) {
	name, err := DetailTableName(9)
	require.NoError(t, err)
	assert.Equal(t, "details_raw_9", name)
}
