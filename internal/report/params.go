// internal/report/params.go
package report

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	dateLayout    = "02/01/2006"
	startOfDayISO = "T00:00:00.000Z"
	endOfDayISO   = "T23:59:59.000Z"
)

// DateRange is an inclusive report window already rendered as the API's
// timestamp format.
type DateRange struct {
	StartISO string
	EndISO   string
}

// ParseRange converts a "DD/MM/YYYY - DD/MM/YYYY" period into a DateRange.
// The start expands to midnight and the end to the last millisecond of its
// day, so both boundary days are fully included.
func ParseRange(period string) (DateRange, error) {
	parts := strings.SplitN(period, "-", 2)
	if len(parts) != 2 {
		return DateRange{}, fmt.Errorf("invalid period %q: expected \"DD/MM/YYYY - DD/MM/YYYY\"", period)
	}

	start, err := time.Parse(dateLayout, strings.TrimSpace(parts[0]))
	if err != nil {
		return DateRange{}, fmt.Errorf("invalid start date: %w", err)
	}
	end, err := time.Parse(dateLayout, strings.TrimSpace(parts[1]))
	if err != nil {
		return DateRange{}, fmt.Errorf("invalid end date: %w", err)
	}
	if end.Before(start) {
		return DateRange{}, fmt.Errorf("invalid period %q: end precedes start", period)
	}

	return DateRange{
		StartISO: start.Format("2006-01-02") + startOfDayISO,
		EndISO:   end.Format("2006-01-02") + endOfDayISO,
	}, nil
}

// CurrentMonthRange covers the first through the last day of now's month.
func CurrentMonthRange(now time.Time) DateRange {
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)
	return DateRange{
		StartISO: first.Format("2006-01-02") + startOfDayISO,
		EndISO:   last.Format("2006-01-02") + endOfDayISO,
	}
}

// Query builds the full parameter set for one page request. The API expects
// every filter field to be present even when unused, so all of them are sent
// as empty strings.
func Query(rng DateRange, page, size int) map[string]string {
	return map[string]string{
		"page":                   strconv.Itoa(page),
		"size":                   strconv.Itoa(size),
		"campanha":               "",
		"produto":                "",
		"mensagem":               "",
		"smsClienteId":           "",
		"via":                    "",
		"cliente":                "",
		"centroCusto":            "",
		"usuario":                "",
		"higienizacao":           "",
		"status":                 "",
		"tarifado":               "",
		"contato":                "",
		"dataInicialEnvio":       rng.StartISO,
		"dataFinalEnvio":         rng.EndISO,
		"dataInicialAgendamento": "",
		"dataFinalAgendamento":   "",
		"dataInicialStatus":      "",
		"dataFinalStatus":        "",
	}
}
