// Package promsource wraps prometheus/client_golang's api/v1 client for the
// eight PromQL queries the harvest procedure runs per env, replacing the
// original's bare requests.get calls (original_source/src/kubedoor-master/utils.py)
// with the ecosystem's own Prometheus HTTP API client, already a dependency
// of three repos in the retrieval pack. A sony/gobreaker circuit breaker
// wraps the query path so a flapping metrics source degrades fast to the
// documented "-1 filled columns" path instead of every query timing out
// independently (spec.md §4.3 point 3 / §7).
package promsource

import (
	"context"
	"fmt"
	"time"

	promapi "github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"github.com/sony/gobreaker"
)

type Client struct {
	api     promv1.API
	breaker *gobreaker.CircuitBreaker
}

func New(url string) (*Client, error) {
	rt, err := promapi.NewClient(promapi.Config{Address: url})
	if err != nil {
		return nil, fmt.Errorf("build prometheus client: %w", err)
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "promsource",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	return &Client{api: promv1.NewAPI(rt), breaker: cb}, nil
}

// QueryInstant runs an instant PromQL query through the circuit breaker.
// Callers that get ErrCircuitOpen should fill the metric with the
// documented -1 sentinel rather than retry in a hot loop.
func (c *Client) QueryInstant(ctx context.Context, query string, at time.Time) (model.Vector, error) {
	res, err := c.breaker.Execute(func() (interface{}, error) {
		val, warnings, err := c.api.Query(ctx, query, at)
		if err != nil {
			return nil, err
		}
		_ = warnings
		return val, nil
	})
	if err != nil {
		return nil, err
	}
	vec, ok := res.(model.Value)
	if !ok {
		return nil, fmt.Errorf("unexpected prometheus result type %T", res)
	}
	v, ok := vec.(model.Vector)
	if !ok {
		return nil, fmt.Errorf("expected instant vector, got %s", vec.Type())
	}
	return v, nil
}

// ErrCircuitOpen is returned by callers inspecting gobreaker.ErrOpenState
// directly; exposed here so promsource consumers don't need to import
// gobreaker themselves.
var ErrCircuitOpen = gobreaker.ErrOpenState
