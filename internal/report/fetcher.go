// internal/report/fetcher.go
package report

import (
	"context"
	"crypto/tls"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/aviatools/unipix-etl/internal/auth"
	"github.com/aviatools/unipix-etl/internal/config"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Record is one report row as returned by the API. Field names vary between
// deployments, so rows stay schemaless until normalization.
type Record = map[string]any

// TerminationReason explains why the pagination loop stopped.
type TerminationReason int

const (
	ReasonLastPage TerminationReason = iota
	ReasonTotalPages
	ReasonShortPage
	ReasonCSV
	ReasonUnauthorized
	ReasonAPIError
	ReasonTransport
	ReasonPageCap
)

func (r TerminationReason) String() string {
	switch r {
	case ReasonLastPage:
		return "last_page_flag"
	case ReasonTotalPages:
		return "total_pages_reached"
	case ReasonShortPage:
		return "short_page"
	case ReasonCSV:
		return "csv_response"
	case ReasonUnauthorized:
		return "unauthorized"
	case ReasonAPIError:
		return "api_error"
	case ReasonTransport:
		return "transport_error"
	case ReasonPageCap:
		return "page_cap"
	default:
		return "unknown"
	}
}

// Result is the outcome of draining the report API. Records accumulated
// before a failure are always preserved.
type Result struct {
	Records []Record
	Pages   int
	Reason  TerminationReason
}

// Fetcher drains the analytic report API page by page. One fetcher serves
// one session; the session credentials are bound to the underlying client.
type Fetcher struct {
	client  *resty.Client
	limiter *rate.Limiter
	cfg     config.ReportConfig
	log     *zap.Logger
}

func NewFetcher(cfg config.ReportConfig, logger *zap.Logger) *Fetcher {
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeaders(map[string]string{
			"User-Agent": userAgent,
			"Accept":     "application/json, text/plain, */*",
			"Origin":     cfg.Origin,
			"Referer":    cfg.Origin + "/",
		})
	if cfg.InsecureSkipVerify {
		// The API host presents a certificate chain the portal's own frontend
		// does not validate either.
		client.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}

	return &Fetcher{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		cfg:     cfg,
		log:     logger.Named("report"),
	}
}

// Fetch retrieves all report rows for the window. On failure it returns the
// rows gathered so far together with the error that stopped the loop.
func (f *Fetcher) Fetch(ctx context.Context, session *auth.Session, rng DateRange) (*Result, error) {
	if !session.Usable() {
		return nil, ErrNoCredentials
	}
	f.bindCredentials(session)

	result := &Result{Reason: ReasonPageCap}
	for page := 0; page < f.cfg.MaxPages; page++ {
		if err := f.limiter.Wait(ctx); err != nil {
			result.Reason = ReasonTransport
			return result, err
		}

		f.log.Info("Fetching report page", zap.Int("page", page+1))
		resp, err := f.client.R().
			SetContext(ctx).
			SetQueryParams(Query(rng, page, f.cfg.PageSize)).
			Get(f.cfg.URL)
		if err != nil {
			result.Reason = ReasonTransport
			return result, fmt.Errorf("page %d request failed: %w", page, err)
		}
		result.Pages++

		if resp.StatusCode() == http.StatusUnauthorized {
			result.Reason = ReasonUnauthorized
			return result, ErrUnauthorized
		}
		if resp.StatusCode() >= 400 {
			result.Reason = ReasonAPIError
			return result, &APIError{Status: resp.StatusCode(), Body: bodySnippet(resp.String())}
		}

		done, err := f.consumePage(result, resp)
		if err != nil {
			return result, err
		}
		if done {
			f.log.Info("Report drained",
				zap.Int("pages", result.Pages),
				zap.Int("records", len(result.Records)),
				zap.Stringer("reason", result.Reason))
			return result, nil
		}
	}

	f.log.Warn("Page cap reached before the API signalled completion",
		zap.Int("max_pages", f.cfg.MaxPages),
		zap.Int("records", len(result.Records)))
	return result, nil
}

// bindCredentials attaches the session's token or rewritten cookies to the
// client. The token wins when both are present; cookies are still sent since
// some deployments check them alongside the bearer.
func (f *Fetcher) bindCredentials(session *auth.Session) {
	if session.Token != "" {
		f.client.SetHeader("Authorization", "Bearer "+session.Token)
		f.log.Info("Authenticating with bearer token")
	} else {
		f.log.Info("Authenticating with session cookies only")
	}
	if len(session.Cookies) > 0 {
		f.client.SetCookies(rewriteCookies(session.Cookies, f.cfg.CookieDomain))
	}
}

// rewriteCookies re-homes portal cookies onto the shared parent domain so the
// API host, a sibling of the portal, accepts them.
func rewriteCookies(cookies []auth.Cookie, parentDomain string) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		domain := c.Domain
		if domain == "" || strings.HasPrefix(domain, "avia.") || domain == strings.TrimPrefix(parentDomain, ".") {
			domain = parentDomain
		}
		path := c.Path
		if path == "" {
			path = "/"
		}
		out = append(out, &http.Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: domain,
			Path:   path,
		})
	}
	return out
}

// consumePage folds one successful response into the result and reports
// whether the loop is finished.
func (f *Fetcher) consumePage(result *Result, resp *resty.Response) (bool, error) {
	ctype := resp.Header().Get("Content-Type")
	if !strings.Contains(ctype, "application/json") {
		// A tabular body is the complete report in one shot.
		records, err := parseCSV(resp.String())
		if err != nil {
			return false, fmt.Errorf("tabular response not parseable: %w", err)
		}
		result.Records = append(result.Records, records...)
		result.Reason = ReasonCSV
		return true, nil
	}

	var envelope map[string]any
	if err := json.Unmarshal(resp.Body(), &envelope); err != nil {
		return false, fmt.Errorf("malformed JSON page: %w", err)
	}

	if raw, ok := envelope["content"]; ok {
		rows := toRecords(raw)
		result.Records = append(result.Records, rows...)
		f.log.Info("Page received", zap.Int("records", len(rows)))

		if total, ok := envelope["totalElements"].(float64); ok {
			f.log.Debug("Reported total", zap.Int("total_elements", int(total)))
		}
		if last, ok := envelope["last"].(bool); ok && last {
			result.Reason = ReasonLastPage
			return true, nil
		}
		if totalPages, ok := envelope["totalPages"].(float64); ok && result.Pages >= int(totalPages) {
			result.Reason = ReasonTotalPages
			return true, nil
		}
		if len(rows) < f.cfg.PageSize {
			result.Reason = ReasonShortPage
			return true, nil
		}
		return false, nil
	}

	// Alternate envelope: rows live under items or rows. These envelopes
	// carry no paging metadata at all, so a short page is the only usable
	// end signal; a full page keeps the loop going rather than assuming the
	// envelope is single-shot.
	rows := toRecords(envelope["items"])
	if len(rows) == 0 {
		rows = toRecords(envelope["rows"])
	}
	result.Records = append(result.Records, rows...)
	f.log.Info("Alternate envelope received", zap.Int("records", len(rows)))
	if len(rows) < f.cfg.PageSize {
		result.Reason = ReasonShortPage
		return true, nil
	}
	return false, nil
}

func toRecords(raw any) []Record {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	records := make([]Record, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			records = append(records, m)
		}
	}
	return records
}

// parseCSV converts a tabular body into schemaless records keyed by the
// header row.
func parseCSV(body string) ([]Record, error) {
	reader := csv.NewReader(strings.NewReader(strings.TrimPrefix(body, "\uFEFF")))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var records []Record
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		record := make(Record, len(header))
		for i, name := range header {
			if i < len(row) {
				record[strings.TrimSpace(name)] = row[i]
			}
		}
		records = append(records, record)
	}
	return records, nil
}
