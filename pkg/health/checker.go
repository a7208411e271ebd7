package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/tokenbridge/relayer/internal/metrics"
)

const probeTimeout = 5 * time.Second

// Endpoint is one probed RPC endpoint.
type Endpoint struct {
	Name string
	URL  string
}

// Checker probes chain RPC endpoints with a raw eth_blockNumber call, the
// cheapest request every execution-layer node answers.
type Checker struct {
	endpoints []Endpoint
	logger    *zap.Logger

	mu      sync.RWMutex
	healthy map[string]bool
}

// NewChecker creates a prober over the given endpoints.
func NewChecker(endpoints []Endpoint, logger *zap.Logger) *Checker {
	return &Checker{
		endpoints: endpoints,
		logger:    logger,
		healthy:   make(map[string]bool),
	}
}

// CheckAll probes every endpoint and returns the first failure. All statuses
// are recorded before returning so /ready and the health gauge stay accurate
// even when one endpoint is down.
func (c *Checker) CheckAll(ctx context.Context) error {
	var firstErr error
	for _, ep := range c.endpoints {
		err := c.check(ctx, ep)
		c.setHealthy(ep.Name, err == nil)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("endpoint %s unhealthy: %w", ep.Name, err)
		}
	}
	return firstErr
}

// Healthy reports the last probe result for the named endpoint.
func (c *Checker) Healthy(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.healthy[name]
}

func (c *Checker) check(ctx context.Context, ep Endpoint) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	client, err := rpc.DialContext(ctx, ep.URL)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer client.Close()

	var blockNumber string
	if err := client.CallContext(ctx, &blockNumber, "eth_blockNumber"); err != nil {
		return fmt.Errorf("eth_blockNumber: %w", err)
	}
	if blockNumber == "" {
		return fmt.Errorf("eth_blockNumber returned empty result")
	}
	return nil
}

func (c *Checker) setHealthy(name string, ok bool) {
	c.mu.Lock()
	was, known := c.healthy[name]
	c.healthy[name] = ok
	c.mu.Unlock()

	if ok {
		metrics.EndpointHealthy.WithLabelValues(name).Set(1)
	} else {
		metrics.EndpointHealthy.WithLabelValues(name).Set(0)
	}

	if known && was != ok {
		if ok {
			c.logger.Info("Endpoint recovered", zap.String("endpoint", name))
		} else {
			c.logger.Warn("Endpoint went unhealthy", zap.String("endpoint", name))
		}
	}
}
