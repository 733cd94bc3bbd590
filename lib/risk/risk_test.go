package risk

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twputra/sentrysol-beta-v2/lib/address"
	"github.com/twputra/sentrysol-beta-v2/lib/cache"
	"github.com/twputra/sentrysol-beta-v2/lib/logging"
)

const (
	solAddr = "86xCnPeV69n6t3DnyGvkKobf9FdN2H9oiVDdaMpo2MMY"
	ethAddr = "0x357dd3856d856197c1a000bbAb4aBCB97Dfc92c4"
)

func blocksec(t *testing.T, calls *int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		if r.Header.Get("API-KEY") != "key" {
			w.WriteHeader(http.StatusForbidden)
			io.WriteString(w, `{"code":403,"msg":"forbidden"}`)
			return
		}
		var req scoreRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.InteractionRisk {
			t.Errorf("bad request %+v err:%v", req, err)
		}
		switch req.ChainID {
		case address.ChainIDSolana:
			io.WriteString(w, `{"code":200,"data":{"address":"`+req.Address+`","risk_score":42}}`)
		case address.ChainIDEthereum:
			io.WriteString(w, `{"risk_score":7.5}`)
		default:
			t.Errorf("unexpected chain id %d", req.ChainID)
		}
	}))
}

func TestBlockSec(t *testing.T) {
	var calls int32
	srv := blocksec(t, &calls)
	defer srv.Close()

	cases := []struct {
		name  string
		key   string
		addr  string
		score float64
		err   error
	}{
		{"solana", "key", solAddr, 42, nil},
		{"ethereum", "key", ethAddr, 7.5, nil},
		{"unsupported", "key", "11111111111111111111111111111111", 0, address.ErrUnsupported},
		{"forbidden", "bad", solAddr, 0, ErrStatus},
		{"nokey", "", solAddr, 0, ErrNoKey},
	}
	for _, c := range cases {
		raw, err := New(srv.URL, c.key).Score(context.Background(), c.addr)
		if c.err != nil {
			assert.ErrorIs(t, err, c.err, c.name)
			continue
		}
		require.NoError(t, err, c.name)
		v, ok := Value(raw)
		assert.True(t, ok, c.name)
		assert.Equal(t, c.score, v, c.name)
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

type failing struct{}

func (failing) Score(context.Context, string) (json.RawMessage, error) { return nil, errors.New("down") }

func TestCached(t *testing.T) {
	var calls int32
	srv := blocksec(t, &calls)
	defer srv.Close()

	c := NewCached(New(srv.URL, "key"), cache.NewMemory(), time.Minute, logging.Discard())
	for i := 0; i < 3; i++ {
		raw, err := c.Score(context.Background(), solAddr)
		require.NoError(t, err)
		v, _ := Value(raw)
		assert.Equal(t, 42.0, v)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "cached replies should not hit the API")

	_, err := NewCached(failing{}, cache.NewMemory(), time.Minute, logging.Discard()).Score(context.Background(), solAddr)
	assert.Error(t, err)
}

func TestValue(t *testing.T) {
	_, ok := Value(json.RawMessage(`{"data":{"risk_score":"high"}}`))
	assert.False(t, ok)
}
