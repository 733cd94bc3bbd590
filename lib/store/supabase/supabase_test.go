package supabase

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twputra/sentrysol-beta-v2/lib/store"
)

const addr = "86xCnPeV69n6t3DnyGvkKobf9FdN2H9oiVDdaMpo2MMY"

// project mocks the PostgREST endpoint of the wallet_analyses table with an in-memory slice.
func project(t *testing.T) *httptest.Server {
	var rows []row
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") != "anon" || r.Header.Get("Authorization") != "Bearer anon" {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"message":"Invalid API key"}`)
			return
		}
		if r.URL.Path != "/rest/v1/"+store.Table {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		q := r.URL.Query()

		switch r.Method {
		case http.MethodPost:
			var in []row
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
			rows = append(rows, in...)
			w.WriteHeader(http.StatusCreated)
		case http.MethodGet:
			assert.Equal(t, "created_at.desc", q.Get("order"))
			out := []row{}
			for i := len(rows) - 1; i >= 0; i-- { // inserted in time order
				if "eq."+rows[i].WalletAddress == q.Get("wallet_address") && len(out) < 2 {
					out = append(out, rows[i])
				}
			}
			json.NewEncoder(w).Encode(out)
		case http.MethodDelete:
			n := 0
			kept := rows[:0]
			for _, r := range rows {
				if "eq."+r.WalletAddress == q.Get("wallet_address") {
					n++
					continue
				}
				kept = append(kept, r)
			}
			rows = kept
			w.Header().Set("Content-Range", "*/"+strconv.Itoa(n))
			w.WriteHeader(http.StatusNoContent)
		}
	}))
}

func TestSupabase(t *testing.T) {
	srv := project(t)
	defer srv.Close()
	ctx := context.Background()

	s, err := New(srv.URL+"/", "anon")
	require.NoError(t, err)
	require.NoError(t, s.Ping(ctx))

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		data, _ := json.Marshal(map[string]int{"run": i})
		id, err := s.SaveAnalysis(ctx, store.Analysis{WalletAddress: addr, AnalysisData: data,
			CreatedAt: base.Add(time.Duration(i) * time.Minute)})
		require.NoError(t, err)
		assert.NotEmpty(t, id)
	}

	h, err := s.GetHistory(ctx, addr, 2)
	require.NoError(t, err)
	require.Len(t, h, 2)
	assert.JSONEq(t, `{"run":2}`, string(h[0].AnalysisData))
	assert.True(t, h[0].CreatedAt.After(h[1].CreatedAt))

	n, err := s.DeleteHistory(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	_, err = s.DeleteHistory(ctx, addr)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSupabaseErrors(t *testing.T) {
	srv := project(t)
	defer srv.Close()

	s, err := New(srv.URL, "wrong")
	require.NoError(t, err)
	err = s.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")

	_, err = New("not a url", "anon")
	assert.Error(t, err)
}

func TestCount(t *testing.T) {
	cases := map[string]int64{"*/3": 3, "0-9/25": 25, "": 0, "*/*": 0}
	for in, exp := range cases {
		if got := count(in); got != exp {
			t.Errorf("count(%q)=%d expected %d", in, got, exp)
		}
	}
}
