// Package cluster abstracts where tile work runs: a distributed worker
// gateway when one is reachable, or a local bounded pool otherwise. The
// distributed scheduler itself is an external collaborator; only the
// acquire/fallback policy and the local pool live here.
package cluster

import (
	"context"
	"errors"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/pacific-data/tilepress/internal/monitoring"
)

// ErrNoGateway is returned by a Gateway when no distributed cluster can be
// provisioned. It is the only error that downgrades a run to the local pool;
// anything else aborts the run.
var ErrNoGateway = errors.New("cluster: no gateway available")

// Pool schedules independent tasks and waits for them. Implementations bound
// concurrency; Wait returns the first task error.
type Pool interface {
	Go(task func() error)
	Wait() error
}

// Cluster is an acquired execution environment. NewPool may be called
// multiple times over a cluster's lifetime (scene processing, then mosaic).
type Cluster interface {
	NewPool() Pool
	// DashboardURL returns a monitoring link, or "" when none exists.
	DashboardURL() string
	Close() error
}

// Gateway provisions distributed clusters. Implementations wrap whatever
// scheduler the deployment uses.
type Gateway interface {
	Acquire(ctx context.Context, workers int) (Cluster, error)
}

// Connect acquires a cluster from the gateway, falling back to a local pool
// only when the gateway reports ErrNoGateway. A nil gateway goes straight to
// the local cluster.
func Connect(ctx context.Context, gw Gateway, workers int) (Cluster, error) {
	if gw == nil {
		return NewLocal(workers), nil
	}
	c, err := gw.Acquire(ctx, workers)
	if err == nil {
		return c, nil
	}
	if errors.Is(err, ErrNoGateway) {
		monitoring.Logf("[cluster] no gateway available, using local pool with %d workers", workers)
		return NewLocal(workers), nil
	}
	return nil, err
}

// Local is the single-machine fallback cluster.
type Local struct {
	workers int
}

// NewLocal returns a local cluster with the given worker bound; non-positive
// means GOMAXPROCS.
func NewLocal(workers int) *Local {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Local{workers: workers}
}

// NewPool implements Cluster.
func (l *Local) NewPool() Pool {
	g := &errgroup.Group{}
	g.SetLimit(l.workers)
	return &localPool{g: g}
}

// DashboardURL implements Cluster.
func (l *Local) DashboardURL() string { return "" }

// Close implements Cluster.
func (l *Local) Close() error { return nil }

// Workers returns the pool bound.
func (l *Local) Workers() int { return l.workers }

type localPool struct {
	g *errgroup.Group
}

func (p *localPool) Go(task func() error) { p.g.Go(task) }

func (p *localPool) Wait() error { return p.g.Wait() }
