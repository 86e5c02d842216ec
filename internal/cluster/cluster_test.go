package cluster

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

type fakeGateway struct {
	err     error
	cluster Cluster
}

func (g *fakeGateway) Acquire(ctx context.Context, workers int) (Cluster, error) {
	if g.err != nil {
		return nil, g.err
	}
	return g.cluster, nil
}

func TestConnectNilGatewayIsLocal(t *testing.T) {
	c, err := Connect(context.Background(), nil, 4)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if _, ok := c.(*Local); !ok {
		t.Errorf("got %T, want *Local", c)
	}
}

func TestConnectFallsBackOnNoGateway(t *testing.T) {
	c, err := Connect(context.Background(), &fakeGateway{err: ErrNoGateway}, 2)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	l, ok := c.(*Local)
	if !ok {
		t.Fatalf("got %T, want *Local", c)
	}
	if l.Workers() != 2 {
		t.Errorf("workers = %d, want 2", l.Workers())
	}
}

func TestConnectDoesNotSwallowOtherErrors(t *testing.T) {
	wantErr := errors.New("credentials rejected")
	_, err := Connect(context.Background(), &fakeGateway{err: wantErr}, 2)
	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
}

func TestLocalPoolRunsAllTasks(t *testing.T) {
	pool := NewLocal(3).NewPool()
	var n atomic.Int64
	for i := 0; i < 50; i++ {
		pool.Go(func() error {
			n.Add(1)
			return nil
		})
	}
	if err := pool.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if n.Load() != 50 {
		t.Errorf("ran %d tasks, want 50", n.Load())
	}
}

func TestLocalPoolSurfacesTaskError(t *testing.T) {
	pool := NewLocal(1).NewPool()
	boom := errors.New("boom")
	pool.Go(func() error { return boom })
	pool.Go(func() error { return nil })
	if err := pool.Wait(); !errors.Is(err, boom) {
		t.Errorf("Wait = %v, want %v", err, boom)
	}
}
