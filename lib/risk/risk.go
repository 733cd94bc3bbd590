// Package risk fetches address risk scores from the BlockSec AML (MetaSleuth) API.
package risk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/twputra/sentrysol-beta-v2/lib/address"
	"github.com/twputra/sentrysol-beta-v2/lib/cache"
	"github.com/twputra/sentrysol-beta-v2/lib/metrics"
	"github.com/twputra/sentrysol-beta-v2/lib/util"
)

// Timeout applies to every risk score request.
const Timeout = 15 * time.Second

// Errors returned.
var (
	ErrStatus = errors.New("risk score request failed")
	ErrNoKey  = errors.New("no risk score API key configured")
)

// Scorer returns the raw risk assessment of an address.
type Scorer interface {
	Score(ctx context.Context, addr string) (json.RawMessage, error)
}

// BlockSec is a Scorer calling the BlockSec address compliance API.
type BlockSec struct {
	url string
	key string
	c   *http.Client
}

// New returns a BlockSec client posting to url with key.
func New(url, key string) *BlockSec {
	return &BlockSec{url: url, key: key, c: &http.Client{Timeout: Timeout}}
}

type scoreRequest struct {
	ChainID         int    `json:"chain_id"`
	Address         string `json:"address"`
	InteractionRisk bool   `json:"interaction_risk"`
}

// Score implements Scorer. The chain id is derived from the address format: addresses BlockSec cannot score return
// address.ErrUnsupported without calling the API.
func (b *BlockSec) Score(ctx context.Context, addr string) (raw json.RawMessage, err error) {
	if b.key == "" {
		return nil, ErrNoKey
	}
	id, err := address.ChainID(addr)
	if err != nil {
		return nil, err
	}

	defer func() { metrics.Upstream("blocksec", err) }()

	body, _ := json.Marshal(scoreRequest{ChainID: id, Address: addr, InteractionRisk: true})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("API-KEY", b.key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err = io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrStatus, resp.StatusCode, util.Truncate(string(raw), 200))
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: invalid JSON reply", ErrStatus)
	}

	return raw, nil
}

// Value extracts the numeric score from a raw assessment, looking at data.risk_score then risk_score.
func Value(raw json.RawMessage) (float64, bool) {
	for _, path := range []string{"data.risk_score", "risk_score"} {
		if v := gjson.GetBytes(raw, path); v.Exists() && v.Type == gjson.Number {
			return v.Float(), true
		}
	}
	return 0, false
}

// Cached is a Scorer remembering the replies of another Scorer. Cache failures are logged and bypassed.
type Cached struct {
	s   Scorer
	c   cache.Cache
	ttl time.Duration
	log logrus.FieldLogger
}

// NewCached wraps s with c, keeping scores for ttl.
func NewCached(s Scorer, c cache.Cache, ttl time.Duration, log logrus.FieldLogger) *Cached {
	return &Cached{s: s, c: c, ttl: ttl, log: log}
}

func key(addr string) string { return "risk:" + addr }

// Score implements Scorer.
func (c *Cached) Score(ctx context.Context, addr string) (json.RawMessage, error) {
	b, err := c.c.Get(ctx, key(addr))
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		c.log.WithError(err).WithField("address", addr).Warn("risk cache read failed")
	}

	raw, err := c.s.Score(ctx, addr)
	if err != nil {
		return nil, err
	}
	if err = c.c.Set(ctx, key(addr), raw, c.ttl); err != nil {
		c.log.WithError(err).WithField("address", addr).Warn("risk cache write failed")
	}

	return raw, nil
}
