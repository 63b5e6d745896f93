package ioruntime

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/distquery/coordinator/endpoint"
)

// Pool holds one lazily-dialed *redis.Client per shard node, keyed by the
// node's dial address. Shard fanout reuses these across requests instead
// of dialing per search, matching the persistent connection the original
// coordinator keeps to every shard.
type Pool struct {
	mu       sync.RWMutex
	clients  map[string]*redis.Client
	connsPer int
}

// NewPool returns an empty pool that dials connsPerShard connections per
// shard client.
func NewPool(connsPerShard int) *Pool {
	if connsPerShard <= 0 {
		connsPerShard = 1
	}
	return &Pool{clients: map[string]*redis.Client{}, connsPer: connsPerShard}
}

// Get returns the client for ep, dialing it on first use.
func (p *Pool) Get(ep endpoint.Endpoint) *redis.Client {
	addr := ep.String()

	p.mu.RLock()
	c, ok := p.clients[addr]
	p.mu.RUnlock()
	if ok {
		return c
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[addr]; ok {
		return c
	}

	opts := &redis.Options{
		Password: ep.Password,
		PoolSize: p.connsPer,
	}
	if ep.UnixSocket != "" {
		opts.Network = "unix"
		opts.Addr = ep.UnixSocket
	} else {
		opts.Network = "tcp"
		host := ep.Host
		if strings.Contains(host, ":") {
			host = "[" + host + "]"
		}
		opts.Addr = fmt.Sprintf("%s:%d", host, ep.Port)
	}
	c = redis.NewClient(opts)
	p.clients[addr] = c
	return c
}

// Evict closes and removes the client for ep, forcing a fresh dial next
// time it's requested. Called when a shard node is dropped from the
// topology or a connection is found to be wedged.
func (p *Pool) Evict(ep endpoint.Endpoint) error {
	addr := ep.String()
	p.mu.Lock()
	c, ok := p.clients[addr]
	delete(p.clients, addr)
	p.mu.Unlock()
	if !ok {
		return nil
	}
	if err := c.Close(); err != nil {
		return errors.Wrap(err, "ioruntime: closing evicted shard connection")
	}
	return nil
}

// CloseAll closes every client in the pool.
func (p *Pool) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for addr, c := range p.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "ioruntime: closing shard connection %s", addr)
		}
		delete(p.clients, addr)
	}
	return firstErr
}

// Ping verifies connectivity to ep, returning a wrapped error describing
// which shard address failed.
func (p *Pool) Ping(ctx context.Context, ep endpoint.Endpoint) error {
	c := p.Get(ep)
	if err := c.Ping(ctx).Err(); err != nil {
		return errors.Wrapf(err, "ioruntime: ping %s", ep.String())
	}
	return nil
}

// Size reports the number of dialed shard clients.
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.clients)
}
