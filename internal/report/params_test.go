// internal/report/params_test.go
package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRange(t *testing.T) {
	rng, err := ParseRange("01/03/2024 - 31/03/2024")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01T00:00:00.000Z", rng.StartISO)
	assert.Equal(t, "2024-03-31T23:59:59.000Z", rng.EndISO)
}

func TestParseRangeSingleDay(t *testing.T) {
	rng, err := ParseRange("15/06/2025 - 15/06/2025")
	require.NoError(t, err)
	assert.Equal(t, "2025-06-15T00:00:00.000Z", rng.StartISO)
	assert.Equal(t, "2025-06-15T23:59:59.000Z", rng.EndISO)
}

func TestParseRangeInvalid(t *testing.T) {
	cases := map[string]string{
		"missing separator": "01/03/2024 31/03/2024",
		"bad start":         "2024-03-01 - 31/03/2024",
		"bad end":           "01/03/2024 - marco",
		"reversed":          "31/03/2024 - 01/03/2024",
		"empty":             "",
	}
	for name, period := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRange(period)
			assert.Error(t, err)
		})
	}
}

func TestCurrentMonthRange(t *testing.T) {
	now := time.Date(2024, time.February, 10, 12, 0, 0, 0, time.UTC)
	rng := CurrentMonthRange(now)
	assert.Equal(t, "2024-02-01T00:00:00.000Z", rng.StartISO)
	assert.Equal(t, "2024-02-29T23:59:59.000Z", rng.EndISO)
}

func TestQueryIncludesEveryFilterField(t *testing.T) {
	rng := DateRange{StartISO: "2024-03-01T00:00:00.000Z", EndISO: "2024-03-31T23:59:59.000Z"}
	q := Query(rng, 3, 500)

	assert.Equal(t, "3", q["page"])
	assert.Equal(t, "500", q["size"])
	assert.Equal(t, rng.StartISO, q["dataInicialEnvio"])
	assert.Equal(t, rng.EndISO, q["dataFinalEnvio"])

	for _, key := range []string{
		"campanha", "produto", "mensagem", "smsClienteId", "via", "cliente",
		"centroCusto", "usuario", "higienizacao", "status", "tarifado", "contato",
		"dataInicialAgendamento", "dataFinalAgendamento",
		"dataInicialStatus", "dataFinalStatus",
	} {
		value, ok := q[key]
		require.True(t, ok, key)
		assert.Empty(t, value, key)
	}
}
