package api

import (
	"net/http"
	"strconv"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/vaultkeep-io/vaultkeep/internal/mongoregistry"
)

// DocumentHandler exposes read-only browsing of a connection's target
// MongoDB deployment: databases, collections and documents. There is no
// query editor or SQL translator here (excluded per spec.md §1) — filters
// and pipelines are passed straight through as Mongo query documents.
type DocumentHandler struct {
	registry *mongoregistry.Registry
	logger   *zap.Logger
}

// NewDocumentHandler constructs a DocumentHandler.
func NewDocumentHandler(registry *mongoregistry.Registry, logger *zap.Logger) *DocumentHandler {
	return &DocumentHandler{registry: registry, logger: logger.Named("api.documents")}
}

// ListDatabases handles GET .../connections/:id/databases.
func (h *DocumentHandler) ListDatabases(w http.ResponseWriter, r *http.Request) {
	orgID, okOrg := pathUUID(w, r, "orgId")
	if !okOrg {
		return
	}
	connID, okConn := pathUUID(w, r, "id")
	if !okConn {
		return
	}
	user := currentUser(r)
	names, err := h.registry.ListDatabases(r.Context(), user.ID, orgID, connID)
	if err != nil {
		writeError(w, err)
		return
	}
	ok(w, envelope{"databases": names})
}

// ListCollections handles GET .../databases/:database/collections.
func (h *DocumentHandler) ListCollections(w http.ResponseWriter, r *http.Request) {
	orgID, okOrg := pathUUID(w, r, "orgId")
	if !okOrg {
		return
	}
	connID, okConn := pathUUID(w, r, "id")
	if !okConn {
		return
	}
	user := currentUser(r)
	database := chiURLParam(r, "database")
	includeCounts := r.URL.Query().Get("includeCounts") == "true"
	collections, err := h.registry.ListCollections(r.Context(), user.ID, orgID, connID, database, includeCounts)
	if err != nil {
		writeError(w, err)
		return
	}
	ok(w, envelope{"collections": collections})
}

// GetDocuments handles GET .../collections/:collection/documents. An
// optional "filter" query parameter carries a JSON-encoded Mongo query
// document; absent or empty means match everything.
func (h *DocumentHandler) GetDocuments(w http.ResponseWriter, r *http.Request) {
	orgID, okOrg := pathUUID(w, r, "orgId")
	if !okOrg {
		return
	}
	connID, okConn := pathUUID(w, r, "id")
	if !okConn {
		return
	}
	user := currentUser(r)
	database := chiURLParam(r, "database")
	collection := chiURLParam(r, "collection")

	filter := bson.M{}
	if raw := r.URL.Query().Get("filter"); raw != "" {
		if err := bson.UnmarshalExtJSON([]byte(raw), false, &filter); err != nil {
			badRequest(w, "invalid filter document")
			return
		}
	}
	limit := queryInt64(r, "limit", 50)
	skip := queryInt64(r, "skip", 0)

	docs, err := h.registry.GetDocuments(r.Context(), user.ID, orgID, connID, database, collection, filter, limit, skip, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	ok(w, envelope{"documents": docs})
}

type aggregateRequest struct {
	Pipeline []bson.M `json:"pipeline"`
}

// RunAggregate handles POST .../collections/:collection/aggregate.
func (h *DocumentHandler) RunAggregate(w http.ResponseWriter, r *http.Request) {
	orgID, okOrg := pathUUID(w, r, "orgId")
	if !okOrg {
		return
	}
	connID, okConn := pathUUID(w, r, "id")
	if !okConn {
		return
	}
	user := currentUser(r)
	database := chiURLParam(r, "database")
	collection := chiURLParam(r, "collection")

	var req aggregateRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	pipeline := make(mongo.Pipeline, 0, len(req.Pipeline))
	for _, stage := range req.Pipeline {
		raw, err := bson.Marshal(stage)
		if err != nil {
			badRequest(w, "invalid pipeline stage")
			return
		}
		var d bson.D
		if err := bson.Unmarshal(raw, &d); err != nil {
			badRequest(w, "invalid pipeline stage")
			return
		}
		pipeline = append(pipeline, d)
	}

	results, err := h.registry.RunAggregate(r.Context(), user.ID, orgID, connID, database, collection, pipeline)
	if err != nil {
		writeError(w, err)
		return
	}
	ok(w, envelope{"results": results})
}

func queryInt64(r *http.Request, key string, def int64) int64 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return v
}
