// Package beaconclient implements a rate-limited, retrying HTTP client
// against a beacon node's REST API, routed across two named endpoints
// ("full" for recent state, "archive" for anything older). It is modeled
// on the teacher's beacon-chain/sync/initial-sync/blocks_fetcher.go: a
// leaky-bucket limiter paired with a bounded concurrent-request gate,
// generalized from libp2p peers to plain HTTP routes.
package beaconclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kevinms/leakybucket-go"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/nodesentinel/beacon-indexer/internal/config"
)

var log = logrus.WithField("prefix", "beaconclient")

// maxIDsInQuery is the point past which the client switches from a GET
// with a query-string id list to a POST with a JSON body, to stay under
// typical reverse-proxy URL length limits.
const maxIDsInQuery = 40

// recentEpochsWindow is how many epochs behind the current wall-clock
// epoch still count as "recent" and therefore route to the full
// endpoint; anything older routes to archive. This threshold is an
// implementation choice (spec.md §4.2 leaves it open) but is applied
// consistently at every call site via routeForEpoch.
const recentEpochsWindow = 4

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beaconclient_requests_total",
		Help: "Total beacon node HTTP requests by route and outcome.",
	}, []string{"route", "outcome"})
	retriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beaconclient_retries_total",
		Help: "Total beacon node HTTP retries by route and reason.",
	}, []string{"route", "reason"})
)

func init() {
	prometheus.MustRegister(requestsTotal, retriesTotal)
}

// endpoint is one rate-limited, concurrency-gated route.
type endpoint struct {
	name    string
	baseURL string
	retries int
	http    *http.Client
	limiter *leakybucket.Collector
	gate    chan struct{}
}

func newEndpoint(name string, cfg config.BeaconEndpoint) *endpoint {
	transport := &http.Transport{
		MaxConnsPerHost:     cfg.Concurrency,
		MaxIdleConnsPerHost: cfg.Concurrency,
	}
	return &endpoint{
		name:    name,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		retries: cfg.Retries,
		http:    &http.Client{Transport: transport, Timeout: 30 * time.Second},
		limiter: leakybucket.NewCollector(float64(cfg.Concurrency), int64(cfg.Concurrency), false),
		gate:    make(chan struct{}, cfg.Concurrency),
	}
}

// EpochClock is the minimal view of chaintime.Oracle the client needs to
// decide full-vs-archive routing, kept as an interface so callers can
// mock it in tests without importing chaintime.
type EpochClock interface {
	EpochFromTimestamp(ms int64) (uint64, error)
}

// Client is the Beacon Client described in spec.md §4.2.
type Client struct {
	full      *endpoint
	archive   *endpoint
	baseDelay time.Duration
	clock     EpochClock
	now       func() time.Time
}

// NewClient constructs a Client from cfg. clock is used only to decide
// full-vs-archive routing for epoch-addressed requests.
func NewClient(cfg *config.Config, clock EpochClock) *Client {
	return &Client{
		full:      newEndpoint("full", cfg.Full),
		archive:   newEndpoint("archive", cfg.Archive),
		baseDelay: cfg.BaseDelay,
		clock:     clock,
		now:       time.Now,
	}
}

func (c *Client) routeForEpoch(epoch uint64) *endpoint {
	currentEpoch, err := c.clock.EpochFromTimestamp(c.now().UnixMilli())
	if err != nil || currentEpoch < epoch || currentEpoch-epoch <= recentEpochsWindow {
		return c.full
	}
	return c.archive
}

// GetValidators fetches validators at stateId, optionally filtered by
// ids and statuses (either may be nil). stateId == "head" always routes
// to full.
func (c *Client) GetValidators(ctx context.Context, stateID string, ids []uint64, statuses []string) ([]ValidatorView, error) {
	ep := c.routeForState(stateID)
	path := fmt.Sprintf("/eth/v1/beacon/states/%s/validators", stateID)

	var body struct {
		Data []ValidatorView `json:"data"`
	}
	if len(ids) > maxIDsInQuery {
		payload := map[string]interface{}{}
		if len(ids) > 0 {
			payload["ids"] = uint64sToStrings(ids)
		}
		if len(statuses) > 0 {
			payload["statuses"] = statuses
		}
		if err := c.doJSON(ctx, ep, http.MethodPost, path, nil, payload, &body); err != nil {
			return nil, err
		}
		return body.Data, nil
	}

	q := url.Values{}
	for _, id := range ids {
		q.Add("id", strconv.FormatUint(id, 10))
	}
	for _, s := range statuses {
		q.Add("status", s)
	}
	if err := c.doJSON(ctx, ep, http.MethodGet, path, q, nil, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// GetValidatorBalances fetches the (index, balance) pairs at stateId.
func (c *Client) GetValidatorBalances(ctx context.Context, stateID string) ([]ValidatorBalance, error) {
	ep := c.routeForState(stateID)
	path := fmt.Sprintf("/eth/v1/beacon/states/%s/validator_balances", stateID)
	var body struct {
		Data []ValidatorBalance `json:"data"`
	}
	if err := c.doJSON(ctx, ep, http.MethodGet, path, nil, nil, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// GetAttestationRewards fetches ideal and actual attestation rewards for
// epoch, restricted to the given validator ids.
func (c *Client) GetAttestationRewards(ctx context.Context, epoch uint64, ids []uint64) (*AttestationRewards, error) {
	ep := c.routeForEpoch(epoch)
	path := fmt.Sprintf("/eth/v1/beacon/rewards/attestations/%d", epoch)
	var body struct {
		Data AttestationRewards `json:"data"`
	}
	if err := c.doJSON(ctx, ep, http.MethodPost, path, nil, uint64sToStrings(ids), &body); err != nil {
		return nil, err
	}
	return &body.Data, nil
}

// GetCommittees fetches the committee assignments for epoch.
func (c *Client) GetCommittees(ctx context.Context, epoch uint64) ([]CommitteeEntry, error) {
	ep := c.routeForEpoch(epoch)
	path := "/eth/v1/beacon/states/head/committees"
	if ep == c.archive {
		path = fmt.Sprintf("/eth/v1/beacon/states/%d/committees", epoch*32)
	}
	q := url.Values{"epoch": []string{strconv.FormatUint(epoch, 10)}}
	var body struct {
		Data []CommitteeEntry `json:"data"`
	}
	if err := c.doJSON(ctx, ep, http.MethodGet, path, q, nil, &body); err != nil {
		return nil, err
	}
	for i := range body.Data {
		ids, err := stringsToUint64s(body.Data[i].ValidatorsRaw)
		if err != nil {
			return nil, errors.Wrap(err, "decoding committee validators")
		}
		body.Data[i].Validators = ids
	}
	return body.Data, nil
}

// GetValidatorProposerDuties fetches the proposer schedule for epoch.
func (c *Client) GetValidatorProposerDuties(ctx context.Context, epoch uint64) ([]ProposerDutyEntry, error) {
	ep := c.routeForEpoch(epoch)
	path := fmt.Sprintf("/eth/v1/validator/duties/proposer/%d", epoch)
	var body struct {
		Data []ProposerDutyEntry `json:"data"`
	}
	if err := c.doJSON(ctx, ep, http.MethodGet, path, nil, nil, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// GetSyncCommittees fetches the 256-epoch sync committee view starting
// at periodStartEpoch.
func (c *Client) GetSyncCommittees(ctx context.Context, periodStartEpoch uint64) (*SyncCommitteeView, error) {
	ep := c.routeForEpoch(periodStartEpoch)
	path := fmt.Sprintf("/eth/v1/beacon/states/%d/sync_committees", periodStartEpoch*32)
	var body struct {
		Data SyncCommitteeView `json:"data"`
	}
	if err := c.doJSON(ctx, ep, http.MethodGet, path, nil, nil, &body); err != nil {
		return nil, err
	}
	ids, err := stringsToUint64s(body.Data.ValidatorsRaw)
	if err != nil {
		return nil, errors.Wrap(err, "decoding sync committee validators")
	}
	body.Data.Validators = ids
	return &body.Data, nil
}

func (c *Client) routeForState(stateID string) *endpoint {
	if stateID == "head" {
		return c.full
	}
	// A numeric state id is a slot (callers pass epoch*32), so route by
	// the epoch that contains it.
	slot, err := strconv.ParseUint(stateID, 10, 64)
	if err != nil {
		return c.full
	}
	return c.routeForEpoch(slot / 32)
}

// doJSON performs one logical request (with retry/backoff) and decodes
// the JSON response body into out.
func (c *Client) doJSON(ctx context.Context, ep *endpoint, method, path string, query url.Values, payload interface{}, out interface{}) error {
	var reqBody []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return errors.Wrap(err, "encoding request body")
		}
		reqBody = b
	}

	fullURL := ep.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	respBody, err := c.doWithRetry(ctx, ep, method, fullURL, reqBody)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return errors.Wrap(err, "decoding response body")
	}
	return nil
}

// doWithRetry gates on concurrency and rate limit, issues the request,
// and retries per the policy in spec.md §4.2 / §7.
func (c *Client) doWithRetry(ctx context.Context, ep *endpoint, method, url string, body []byte) ([]byte, error) {
	select {
	case ep.gate <- struct{}{}:
		defer func() { <-ep.gate }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if ep.limiter.Remaining(ep.name) < 1 {
		wait := ep.limiter.TillEmpty(ep.name)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	ep.limiter.Add(ep.name, 1)

	// backoff is the delay used for the *next* sleep; it starts at
	// baseDelay and is only doubled once it has actually been slept on, so
	// the first retry waits baseDelay, the second 2×baseDelay, and so on.
	backoff := c.baseDelay
	var lastErr error
	for attempt := 0; attempt <= ep.retries; attempt++ {
		if attempt > 0 {
			sleep := jitter(backoff)
			select {
			case <-time.After(sleep):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}

		respBody, status, err := c.doOnce(ctx, ep, method, url, body)
		if err == nil && status < 400 {
			requestsTotal.WithLabelValues(ep.name, "success").Inc()
			return respBody, nil
		}

		if err != nil {
			lastErr = err
			retriesTotal.WithLabelValues(ep.name, "network").Inc()
			continue
		}

		if status == http.StatusTooManyRequests {
			lastErr = BeaconUnavailable
			retriesTotal.WithLabelValues(ep.name, "rate_limited").Inc()
			backoff *= 4 // extra widening on top of the normal doubling above
			continue
		}

		if status >= 500 {
			lastErr = BeaconUnavailable
			retriesTotal.WithLabelValues(ep.name, "server_error").Inc()
			continue
		}

		// 4xx other than 429: fatal, not retried.
		requestsTotal.WithLabelValues(ep.name, "fatal").Inc()
		return nil, &FatalHTTPError{StatusCode: status, Body: string(respBody)}
	}

	requestsTotal.WithLabelValues(ep.name, "exhausted").Inc()
	log.WithFields(logrus.Fields{"route": ep.name, "url": url}).WithError(lastErr).
		Warn("beacon request exhausted retries")
	return nil, errors.Wrap(BeaconUnavailable, lastErr.Error())
}

func (c *Client) doOnce(ctx context.Context, ep *endpoint, method, url string, body []byte) ([]byte, int, error) {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := ep.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	respBody, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return respBody, resp.StatusCode, nil
}

// jitter applies ±20% jitter to d, per spec.md §4.2.
func jitter(d time.Duration) time.Duration {
	delta := float64(d) * 0.2
	offset := (rand.Float64()*2 - 1) * delta
	return d + time.Duration(offset)
}

func uint64sToStrings(ids []uint64) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = strconv.FormatUint(id, 10)
	}
	return out
}

func stringsToUint64s(in []string) ([]uint64, error) {
	out := make([]uint64, len(in))
	for i, s := range in {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
