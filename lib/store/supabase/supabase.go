// Package supabase implements the history store interface on a hosted Supabase project through its PostgREST API.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/twputra/sentrysol-beta-v2/lib/metrics"
	"github.com/twputra/sentrysol-beta-v2/lib/store"
	"github.com/twputra/sentrysol-beta-v2/lib/util"
)

const (
	maxResponseBytes = 8 << 20
	maxErrorBytes    = 32 << 10
)

// Supabase is a client of the PostgREST API of a Supabase project.
type Supabase struct {
	url string // project url, ie. https://xyz.supabase.co
	key string
	c   *http.Client
}

// row is the table representation of store.Analysis.
type row struct {
	ID            string          `json:"id,omitempty"`
	WalletAddress string          `json:"wallet_address"`
	AnalysisData  json.RawMessage `json:"analysis_data"`
	RiskScore     float64         `json:"risk_score"`
	RiskLevel     string          `json:"risk_level"`
	CreatedAt     time.Time       `json:"created_at"`
}

// New returns a client of the project at projectURL authenticated with key.
func New(projectURL, key string) (*Supabase, error) {
	u, err := url.Parse(projectURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid supabase url %q", projectURL)
	}
	return &Supabase{
		url: strings.TrimSuffix(projectURL, "/"),
		key: key,
		c:   &http.Client{Timeout: 30 * time.Second}, //nolint:gomnd // 30 seconds timeout
	}, nil
}

// request makes an HTTP request to the REST API of table.
func (s *Supabase) request(ctx context.Context, method, table string, body interface{}, query url.Values,
	prefer string) (b []byte, h http.Header, err error) {
	defer func() { metrics.Upstream("supabase", err) }()

	u := fmt.Sprintf("%s/rest/v1/%s", s.url, table)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		jb, err := json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jb)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", s.key)
	req.Header.Set("Authorization", "Bearer "+s.key)
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := s.c.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		eb, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
		return nil, nil, fmt.Errorf("supabase API error %d: %s", resp.StatusCode,
			util.Truncate(strings.TrimSpace(string(eb)), 500))
	}

	b, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}

	return b, resp.Header, nil
}

// Close implements store.DB. There is no connection to release.
func (s *Supabase) Close() error { return nil }

// Ping reads one row of the history table.
func (s *Supabase) Ping(ctx context.Context) error {
	_, _, err := s.request(ctx, http.MethodGet, store.Table, nil, url.Values{"select": {"id"}, "limit": {"1"}}, "")
	return err
}

// SaveAnalysis inserts an analysis.
func (s *Supabase) SaveAnalysis(ctx context.Context, a store.Analysis) (string, error) {
	if err := store.Check(&a, uuid.NewString, time.Now); err != nil {
		return "", err
	}

	_, _, err := s.request(ctx, http.MethodPost, store.Table, []row{{
		ID:            a.ID,
		WalletAddress: a.WalletAddress,
		AnalysisData:  a.AnalysisData,
		RiskScore:     a.RiskScore,
		RiskLevel:     a.RiskLevel,
		CreatedAt:     a.CreatedAt,
	}}, nil, "return=minimal")
	if err != nil {
		return "", fmt.Errorf("could not insert analysis: %w", err)
	}

	return a.ID, nil
}

// GetHistory returns the latest analyses of address.
func (s *Supabase) GetHistory(ctx context.Context, address string, limit int) ([]store.Analysis, error) {
	q := url.Values{
		"select":         {"*"},
		"wallet_address": {"eq." + address},
		"order":          {"created_at.desc"},
		"limit":          {strconv.Itoa(store.Limit(limit))},
	}
	b, _, err := s.request(ctx, http.MethodGet, store.Table, nil, q, "")
	if err != nil {
		return nil, fmt.Errorf("error reading history: %w", err)
	}

	var rows []row
	if err = json.Unmarshal(b, &rows); err != nil {
		return nil, fmt.Errorf("error decoding history: %w", err)
	}

	res := make([]store.Analysis, 0, len(rows))
	for _, r := range rows {
		res = append(res, store.Analysis{
			ID:            r.ID,
			WalletAddress: r.WalletAddress,
			AnalysisData:  r.AnalysisData,
			RiskScore:     r.RiskScore,
			RiskLevel:     r.RiskLevel,
			CreatedAt:     r.CreatedAt.UTC(),
		})
	}

	return res, nil
}

// DeleteHistory deletes every analysis of address. The number of deleted rows is read from the Content-Range header.
func (s *Supabase) DeleteHistory(ctx context.Context, address string) (int64, error) {
	_, h, err := s.request(ctx, http.MethodDelete, store.Table, nil,
		url.Values{"wallet_address": {"eq." + address}}, "return=minimal,count=exact")
	if err != nil {
		return 0, err
	}

	n := count(h.Get("Content-Range"))
	if n == 0 {
		return 0, store.ErrNotFound
	}
	return n, nil
}

// count parses the total of a Content-Range header such as "*/3" or "0-2/3".
func count(cr string) int64 {
	i := strings.LastIndexByte(cr, '/')
	if i < 0 {
		return 0
	}
	n, err := strconv.ParseInt(cr[i+1:], 10, 64)
	if err != nil {
		return 0
	}
	return n
}
