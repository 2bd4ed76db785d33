package mongoregistry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/vaultkeep-io/vaultkeep/internal/apperr"
	"github.com/vaultkeep-io/vaultkeep/internal/db"
	"github.com/vaultkeep-io/vaultkeep/internal/repository"
	"github.com/vaultkeep-io/vaultkeep/internal/tenancy"
	"github.com/vaultkeep-io/vaultkeep/internal/vault"
)

// Registry is C4 ConnectionRegistry.
type Registry struct {
	connections repository.ConnectionRepository
	pred        *tenancy.Predicates
	pool        *clientPool
	logger      *zap.Logger
}

// New constructs a Registry. mongoPoolSize is spec.md §6.5's
// mongoPoolSize config key (default 10).
func New(connections repository.ConnectionRepository, pred *tenancy.Predicates, mongoPoolSize uint64, logger *zap.Logger) *Registry {
	return &Registry{
		connections: connections,
		pred:        pred,
		pool:        newClientPool(mongoPoolSize, logger),
		logger:      logger.Named("mongoregistry"),
	}
}

// Close releases every pooled MongoDB client.
func (r *Registry) Close(ctx context.Context) { r.pool.Close(ctx) }

// Create registers a new Connection, encrypting the supplied URI at rest.
// Only an organization admin may create connections.
func (r *Registry) Create(ctx context.Context, userID, orgID uuid.UUID, displayName, connectionString string) (*db.Connection, error) {
	ok, err := r.pred.CanManageConnections(ctx, userID, orgID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.PermissionDenied
	}
	if strings.TrimSpace(displayName) == "" || strings.TrimSpace(connectionString) == "" {
		return nil, fmt.Errorf("%w: displayName and connectionString are required", apperr.ValidationError)
	}

	conn := &db.Connection{
		OrganizationID: orgID,
		DisplayName:    displayName,
		EncryptedURI:   vault.EncryptedString(connectionString),
		CreatedBy:      userID,
	}
	if err := r.connections.Create(ctx, conn); err != nil {
		return nil, fmt.Errorf("mongoregistry: creating connection: %w", err)
	}
	return conn, nil
}

// Update changes a Connection's display name and/or URI. Only an
// organization admin may update.
func (r *Registry) Update(ctx context.Context, userID, orgID, connectionID uuid.UUID, displayName, connectionString string) (*db.Connection, error) {
	ok, err := r.pred.CanManageConnections(ctx, userID, orgID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.PermissionDenied
	}
	conn, err := r.connections.GetByID(ctx, connectionID)
	if err != nil {
		return nil, notFoundOrWrap(err, "connection")
	}
	if conn.OrganizationID != orgID {
		return nil, apperr.NotFound
	}
	if displayName != "" {
		conn.DisplayName = displayName
	}
	if connectionString != "" {
		conn.EncryptedURI = vault.EncryptedString(connectionString)
	}
	if err := r.connections.Update(ctx, conn); err != nil {
		return nil, fmt.Errorf("mongoregistry: updating connection: %w", err)
	}
	return conn, nil
}

// Delete removes a Connection. Only an organization admin may delete.
func (r *Registry) Delete(ctx context.Context, userID, orgID, connectionID uuid.UUID) error {
	ok, err := r.pred.CanManageConnections(ctx, userID, orgID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.PermissionDenied
	}
	conn, err := r.connections.GetByID(ctx, connectionID)
	if err != nil {
		return notFoundOrWrap(err, "connection")
	}
	if conn.OrganizationID != orgID {
		return apperr.NotFound
	}
	if err := r.connections.Delete(ctx, connectionID); err != nil {
		return fmt.Errorf("mongoregistry: deleting connection: %w", err)
	}
	return nil
}

// List returns every Connection in orgID visible to userID: all of them
// for an admin, only ACL-granted ones for a member.
func (r *Registry) List(ctx context.Context, userID, orgID uuid.UUID) ([]db.Connection, error) {
	admin, err := r.pred.IsAdmin(ctx, userID, orgID)
	if err != nil {
		return nil, err
	}
	if !admin {
		member, err := r.pred.IsMember(ctx, userID, orgID)
		if err != nil {
			return nil, err
		}
		if !member {
			return nil, apperr.PermissionDenied
		}
	}

	all, err := r.connections.ListByOrganization(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("mongoregistry: listing connections: %w", err)
	}
	if admin {
		return all, nil
	}

	visible := make([]db.Connection, 0, len(all))
	for _, c := range all {
		ok, err := r.pred.CanAccessConnection(ctx, userID, c.ID, orgID)
		if err != nil {
			return nil, err
		}
		if ok {
			visible = append(visible, c)
		}
	}
	return visible, nil
}

// Resolve is C4's central operation: it access-checks userID against
// connectionID within orgID, decrypts the stored URI, and returns a live,
// pooled *mongo.Client. Every higher-level helper in this file goes through
// Resolve.
func (r *Registry) Resolve(ctx context.Context, userID, orgID, connectionID uuid.UUID) (*mongo.Client, *db.Connection, error) {
	ok, err := r.pred.CanAccessConnection(ctx, userID, connectionID, orgID)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, apperr.PermissionDenied
	}

	conn, err := r.connections.GetByID(ctx, connectionID)
	if err != nil {
		return nil, nil, notFoundOrWrap(err, "connection")
	}
	if conn.OrganizationID != orgID {
		return nil, nil, apperr.NotFound
	}

	uri := string(conn.EncryptedURI)
	if uri == "" {
		return nil, nil, apperr.DecryptionFailed
	}

	client, err := r.pool.get(ctx, uri)
	if err != nil {
		return nil, nil, err
	}
	return client, conn, nil
}

// resolveURI is used by the executor, which already holds an
// access-checked Connection and only needs the decrypted URI's client —
// avoiding a second permission check.
func (r *Registry) resolveURI(ctx context.Context, conn *db.Connection) (*mongo.Client, error) {
	uri := string(conn.EncryptedURI)
	if uri == "" {
		return nil, apperr.DecryptionFailed
	}
	return r.pool.get(ctx, uri)
}

// ClientFor is the executor-facing counterpart of Resolve: given a
// Connection already loaded and access-checked by the caller, return its
// live pooled client.
func (r *Registry) ClientFor(ctx context.Context, conn *db.Connection) (*mongo.Client, error) {
	return r.resolveURI(ctx, conn)
}

// GetConnection loads a Connection by id without a permission check —
// callers that already hold their own authorization (e.g. the executor
// acting on behalf of a schedule's creator) use this directly.
func (r *Registry) GetConnection(ctx context.Context, connectionID uuid.UUID) (*db.Connection, error) {
	conn, err := r.connections.GetByID(ctx, connectionID)
	if err != nil {
		return nil, notFoundOrWrap(err, "connection")
	}
	return conn, nil
}

// ListDatabases returns the names of every database visible on the
// resolved connection.
func (r *Registry) ListDatabases(ctx context.Context, userID, orgID, connectionID uuid.UUID) ([]string, error) {
	client, _, err := r.Resolve(ctx, userID, orgID, connectionID)
	if err != nil {
		return nil, err
	}
	names, err := client.ListDatabaseNames(ctx, bson.D{})
	if err != nil {
		return nil, timeoutOrUnreachable(err)
	}
	return names, nil
}

// CollectionInfo describes one collection, optionally with its exact
// document count.
type CollectionInfo struct {
	Name  string
	Count *int64
}

// ListCollections returns every collection in database, excluding
// "system."-prefixed ones per spec.md §4.7 step 4. includeCounts controls
// whether an exact CountDocuments call is made per collection — callers
// that want a fast path pass false and receive nil Count fields.
func (r *Registry) ListCollections(ctx context.Context, userID, orgID, connectionID uuid.UUID, database string, includeCounts bool) ([]CollectionInfo, error) {
	client, _, err := r.Resolve(ctx, userID, orgID, connectionID)
	if err != nil {
		return nil, err
	}
	names, err := client.Database(database).ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, timeoutOrUnreachable(err)
	}

	out := make([]CollectionInfo, 0, len(names))
	for _, name := range names {
		if strings.HasPrefix(name, "system.") {
			continue
		}
		info := CollectionInfo{Name: name}
		if includeCounts {
			n, err := client.Database(database).Collection(name).CountDocuments(ctx, bson.D{})
			if err != nil {
				return nil, timeoutOrUnreachable(err)
			}
			info.Count = &n
		}
		out = append(out, info)
	}
	return out, nil
}

// NonSystemCollections is the unauthenticated counterpart used by
// internal/executor, which has already resolved its client via ClientFor
// and does not need a second permission check.
func NonSystemCollections(ctx context.Context, client *mongo.Client, database string) ([]string, error) {
	names, err := client.Database(database).ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, timeoutOrUnreachable(err)
	}
	out := make([]string, 0, len(names))
	for _, name := range names {
		if !strings.HasPrefix(name, "system.") {
			out = append(out, name)
		}
	}
	return out, nil
}

// GetDocuments streams a page of documents from one collection, sorted and
// filtered per the caller's query.
func (r *Registry) GetDocuments(ctx context.Context, userID, orgID, connectionID uuid.UUID, database, collection string, query bson.M, limit, skip int64, sort bson.D) ([]bson.M, error) {
	client, _, err := r.Resolve(ctx, userID, orgID, connectionID)
	if err != nil {
		return nil, err
	}
	opts := options.Find().SetLimit(limit).SetSkip(skip)
	if len(sort) > 0 {
		opts.SetSort(sort)
	}
	cur, err := client.Database(database).Collection(collection).Find(ctx, query, opts)
	if err != nil {
		return nil, timeoutOrUnreachable(err)
	}
	defer cur.Close(ctx)

	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, timeoutOrUnreachable(err)
	}
	return docs, nil
}

// RunAggregate runs an aggregation pipeline against one collection.
func (r *Registry) RunAggregate(ctx context.Context, userID, orgID, connectionID uuid.UUID, database, collection string, pipeline mongo.Pipeline) ([]bson.M, error) {
	client, _, err := r.Resolve(ctx, userID, orgID, connectionID)
	if err != nil {
		return nil, err
	}
	cur, err := client.Database(database).Collection(collection).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, timeoutOrUnreachable(err)
	}
	defer cur.Close(ctx)

	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, timeoutOrUnreachable(err)
	}
	return docs, nil
}

// TestConnection probes liveness for connectionID without otherwise using
// it — the supplemented "/connections/:id/test" endpoint's backing call.
func (r *Registry) TestConnection(ctx context.Context, userID, orgID, connectionID uuid.UUID) error {
	client, _, err := r.Resolve(ctx, userID, orgID, connectionID)
	if err != nil {
		return err
	}
	pingCtx, cancel := context.WithTimeout(ctx, serverSelectionTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return timeoutOrUnreachable(err)
	}
	return nil
}

func notFoundOrWrap(err error, what string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s", apperr.NotFound, what)
	}
	return fmt.Errorf("mongoregistry: %s: %w", what, err)
}

func timeoutOrUnreachable(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", apperr.Timeout, err)
	}
	return fmt.Errorf("%w: %v", apperr.Unreachable, err)
}
