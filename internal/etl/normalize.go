// internal/etl/normalize.go
package etl

import (
	"strings"
	"time"
)

// Kind classifies a tabular dataset by what its headers describe.
type Kind string

const (
	KindSales   Kind = "vendas"
	KindClients Kind = "clientes"
)

// Table is an in-memory tabular dataset: a header row plus data rows.
type Table struct {
	Headers []string
	Rows    [][]string
}

const processedAtColumn = "data_processamento"

var (
	salesIndicators  = []string{"venda", "produto", "quantidade", "valor", "preço", "total"}
	clientIndicators = []string{"cliente", "email", "cidade", "estado", "cadastro", "endereço"}
)

// headerMapping rewrites any header containing From to the canonical To.
// Order matters: the first match wins, so specific entries come first.
type headerMapping struct {
	From string
	To   string
}

var columnMappings = map[Kind][]headerMapping{
	KindSales: {
		{"venda_id", "id"}, {"id_venda", "id"}, {"codigo", "id"},
		{"data_venda", "data_venda"}, {"dt_venda", "data_venda"}, {"data", "data_venda"},
		{"nome_cliente", "nome_cliente"}, {"comprador", "nome_cliente"}, {"cliente", "nome_cliente"},
		{"produto_nome", "produto_nome"}, {"item", "produto_nome"}, {"produto", "produto_nome"},
		{"quantidade", "quantidade"}, {"qtd", "quantidade"}, {"qnt", "quantidade"},
		{"valor_unitario", "valor_unitario"}, {"vl_unitario", "valor_unitario"}, {"preco", "valor_unitario"},
		{"valor_total", "valor_total"}, {"vl_total", "valor_total"}, {"total", "valor_total"},
		{"regiao", "regiao_venda"}, {"regional", "regiao_venda"}, {"uf", "regiao_venda"},
	},
	KindClients: {
		{"cliente_id", "id"}, {"id_cliente", "id"}, {"codigo", "id"}, {"id", "id"},
		{"nome_completo", "nome_completo"}, {"cliente", "nome_completo"}, {"nome", "nome_completo"},
		{"e-mail", "email"}, {"email_cliente", "email"}, {"email", "email"},
		{"municipio", "cidade"}, {"cidade", "cidade"}, {"cid", "cidade"},
		{"estado", "estado"}, {"uf", "estado"}, {"est", "estado"},
		{"data_cadastro", "data_cadastro"}, {"dt_cadastro", "data_cadastro"}, {"cadastro", "data_cadastro"},
	},
}

// DetectKind guesses whether a dataset holds sales or client rows by scoring
// indicator words against the headers. Ties fall back to a few decisive
// headers, and ultimately to sales.
func DetectKind(headers []string) Kind {
	lowered := make([]string, len(headers))
	for i, h := range headers {
		lowered[i] = strings.ToLower(h)
	}

	salesScore := scoreIndicators(lowered, salesIndicators)
	clientScore := scoreIndicators(lowered, clientIndicators)

	switch {
	case salesScore > clientScore:
		return KindSales
	case clientScore > salesScore:
		return KindClients
	}

	if anyContains(lowered, "venda") || anyContains(lowered, "produto") {
		return KindSales
	}
	if anyContains(lowered, "cliente") || anyContains(lowered, "email") {
		return KindClients
	}
	return KindSales
}

func scoreIndicators(headers, indicators []string) int {
	score := 0
	for _, indicator := range indicators {
		if anyContains(headers, indicator) {
			score++
		}
	}
	return score
}

func anyContains(headers []string, needle string) bool {
	for _, h := range headers {
		if strings.Contains(h, needle) {
			return true
		}
	}
	return false
}

// Normalize canonicalizes the table's headers for the given kind and stamps
// every row with a processing timestamp column. Headers with no mapping are
// kept as-is, lowercased.
func Normalize(t Table, kind Kind, now time.Time) Table {
	mapping := columnMappings[kind]

	headers := make([]string, 0, len(t.Headers)+1)
	for _, h := range t.Headers {
		header := strings.ToLower(strings.TrimSpace(h))
		for _, m := range mapping {
			if strings.Contains(header, m.From) {
				header = m.To
				break
			}
		}
		headers = append(headers, header)
	}
	headers = append(headers, processedAtColumn)

	stamp := now.Format("2006-01-02 15:04:05")
	rows := make([][]string, len(t.Rows))
	for i, row := range t.Rows {
		stamped := make([]string, 0, len(row)+1)
		stamped = append(stamped, row...)
		stamped = append(stamped, stamp)
		rows[i] = stamped
	}

	return Table{Headers: headers, Rows: rows}
}
