package beaconclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nodesentinel/beacon-indexer/internal/config"
)

type fixedClock struct{ epoch uint64 }

func (c fixedClock) EpochFromTimestamp(ms int64) (uint64, error) { return c.epoch, nil }

func newTestClient(t *testing.T, fullURL, archiveURL string) *Client {
	t.Helper()
	cfg := &config.Config{
		Full:      config.BeaconEndpoint{BaseURL: fullURL, Concurrency: 4, Retries: 2},
		Archive:   config.BeaconEndpoint{BaseURL: archiveURL, Concurrency: 4, Retries: 2},
		BaseDelay: time.Millisecond,
	}
	return NewClient(cfg, fixedClock{epoch: 100})
}

func TestGetValidatorBalancesSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"index":"1","balance":"32000000000"}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, srv.URL)
	balances, err := c.GetValidatorBalances(context.Background(), "head")
	require.NoError(t, err)
	require.Len(t, balances, 1)
	require.Equal(t, uint64(1), balances[0].Index)
}

func TestRetriesOn5xxThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, srv.URL)
	_, err := c.GetValidatorBalances(context.Background(), "head")
	require.NoError(t, err)
	require.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestExhaustsRetriesReturnsBeaconUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, srv.URL)
	_, err := c.GetValidatorBalances(context.Background(), "head")
	require.Error(t, err)
	require.ErrorIs(t, err, BeaconUnavailable)
}

func TestFatalOn4xxNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("not found"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, srv.URL)
	_, err := c.GetValidatorBalances(context.Background(), "head")
	require.Error(t, err)
	require.ErrorIs(t, err, BadRequest)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCommitteesConvertsValidatorIndices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"slot":"10","index":"0","validators":["3","7","9"]}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, srv.URL)
	committees, err := c.GetCommittees(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, committees, 1)
	require.Equal(t, []uint64{3, 7, 9}, committees[0].Validators)
}

func TestRouteForEpochPicksArchiveWhenOld(t *testing.T) {
	var gotArchive, gotFull bool
	archive := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotArchive = true
		w.Write([]byte(`{"data":[]}`))
	}))
	defer archive.Close()
	full := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotFull = true
		w.Write([]byte(`{"data":[]}`))
	}))
	defer full.Close()

	cfg := &config.Config{
		Full:      config.BeaconEndpoint{BaseURL: full.URL, Concurrency: 2, Retries: 1},
		Archive:   config.BeaconEndpoint{BaseURL: archive.URL, Concurrency: 2, Retries: 1},
		BaseDelay: time.Millisecond,
	}
	c := NewClient(cfg, fixedClock{epoch: 1000})

	_, err := c.GetValidatorProposerDuties(context.Background(), 0)
	require.NoError(t, err)
	require.True(t, gotArchive)
	require.False(t, gotFull)
}
