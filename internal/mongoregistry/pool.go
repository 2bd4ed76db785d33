// Package mongoregistry implements C4 ConnectionRegistry: saved MongoDB
// connection descriptors scoped to an organization, resolved into a live,
// pooled *mongo.Client after an access check. This is the only package
// that dials the MongoDB deployments being backed up — it is entirely
// separate from internal/db, which manages vaultkeep's own application
// state store.
package mongoregistry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/vaultkeep-io/vaultkeep/internal/apperr"
)

// serverSelectionTimeout and socketTimeout are spec.md §5's fixed MongoDB
// client timeouts.
const (
	serverSelectionTimeout = 5 * time.Second
	socketTimeout          = 45 * time.Second
)

// clientPool is a process-wide cache of *mongo.Client keyed by connection
// URI, per spec.md §5's "MongoDB client pool keyed by URI". Entries are
// probed on lookup and evicted on ping failure; a short mutex protects the
// map itself, never the network calls made while holding it.
type clientPool struct {
	mu          sync.Mutex
	clients     map[string]*mongo.Client
	maxPoolSize uint64
	logger      *zap.Logger
}

func newClientPool(maxPoolSize uint64, logger *zap.Logger) *clientPool {
	return &clientPool{
		clients:     make(map[string]*mongo.Client),
		maxPoolSize: maxPoolSize,
		logger:      logger.Named("mongo_pool"),
	}
}

// get returns a live, ping-probed client for uri, dialing and caching one if
// absent, and evicting+reconnecting once if the cached entry fails its
// liveness probe.
func (p *clientPool) get(ctx context.Context, uri string) (*mongo.Client, error) {
	p.mu.Lock()
	client, ok := p.clients[uri]
	p.mu.Unlock()

	if ok {
		if err := p.ping(ctx, client); err == nil {
			return client, nil
		}
		p.evict(uri)
	}

	client, err := p.dial(ctx, uri)
	if err != nil {
		return nil, err
	}

	if err := p.ping(ctx, client); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("%w: %v", apperr.Unreachable, err)
	}

	p.mu.Lock()
	p.clients[uri] = client
	p.mu.Unlock()
	return client, nil
}

func (p *clientPool) dial(ctx context.Context, uri string) (*mongo.Client, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(serverSelectionTimeout).
		SetSocketTimeout(socketTimeout).
		SetMaxPoolSize(p.maxPoolSize)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing mongodb: %v", apperr.Unreachable, err)
	}
	return client, nil
}

func (p *clientPool) ping(ctx context.Context, client *mongo.Client) error {
	ctx, cancel := context.WithTimeout(ctx, serverSelectionTimeout)
	defer cancel()
	return client.Ping(ctx, readpref.Primary())
}

func (p *clientPool) evict(uri string) {
	p.mu.Lock()
	client, ok := p.clients[uri]
	delete(p.clients, uri)
	p.mu.Unlock()

	if ok {
		p.logger.Warn("evicting stale mongo client after failed ping")
		_ = client.Disconnect(context.Background())
	}
}

// Close disconnects every pooled client. Called during runtime shutdown.
func (p *clientPool) Close(ctx context.Context) {
	p.mu.Lock()
	clients := p.clients
	p.clients = make(map[string]*mongo.Client)
	p.mu.Unlock()

	for uri, client := range clients {
		if err := client.Disconnect(ctx); err != nil {
			p.logger.Warn("error disconnecting mongo client", zap.String("uri_hash", hashURI(uri)), zap.Error(err))
		}
	}
}

// hashURI avoids ever logging a raw connection string, which may embed
// credentials.
func hashURI(uri string) string {
	if len(uri) <= 12 {
		return "***"
	}
	return uri[:8] + "..." + uri[len(uri)-4:]
}
