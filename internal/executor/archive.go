package executor

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// buildArchive produces a ZIP (DEFLATE) archive with one "<collection>.json"
// entry per collection, in the order given. Per spec.md §4.7 step 6, a
// per-collection failure substitutes a `{"error": "..."}` entry rather than
// aborting the run; the run as a whole succeeds iff at least one collection
// archived cleanly. Returns the archive bytes, the list of collections that
// archived without error, and whether any collection succeeded.
func buildArchive(ctx context.Context, database *mongo.Database, collections []string, logger *zap.Logger) ([]byte, []string, bool, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	var succeeded []string
	for _, name := range collections {
		docs, err := fetchCollection(ctx, database, name)
		var payload []byte
		if err != nil {
			logger.Warn("collection archive failed, substituting error entry",
				zap.String("collection", name), zap.Error(err))
			payload, _ = json.Marshal(map[string]string{"error": err.Error()})
		} else {
			payload, err = bson.MarshalExtJSON(docs, true, false)
			if err != nil {
				logger.Warn("extended-JSON marshal failed, substituting error entry",
					zap.String("collection", name), zap.Error(err))
				payload, _ = json.Marshal(map[string]string{"error": err.Error()})
			} else {
				succeeded = append(succeeded, name)
			}
		}

		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:   name + ".json",
			Method: zip.Deflate,
		})
		if err != nil {
			_ = zw.Close()
			return nil, nil, false, fmt.Errorf("creating archive entry for %q: %w", name, err)
		}
		if _, err := w.Write(payload); err != nil {
			_ = zw.Close()
			return nil, nil, false, fmt.Errorf("writing archive entry for %q: %w", name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, nil, false, fmt.Errorf("finalizing archive: %w", err)
	}
	return buf.Bytes(), succeeded, len(succeeded) > 0, nil
}

// fetchCollection streams every document in name (filter {}, sort {_id: 1},
// batch size 1000) into memory as []bson.M, honoring ctx cancellation on
// every Next() call.
func fetchCollection(ctx context.Context, database *mongo.Database, name string) ([]bson.M, error) {
	cur, err := database.Collection(name).Find(ctx, bson.M{}, cursorOpts())
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	docs := make([]bson.M, 0)
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}

// archiveObjectName and archiveFolderPath together build the destination
// path from spec.md §4.7 step 8:
//
//	backup/<sanitized-connection-name>/<database>/backup_<connection>_<database>_<ISO8601>.zip
func archiveObjectName(connectionName, database string, at time.Time) string {
	conn := sanitizePathSegment(connectionName)
	db := sanitizePathSegment(database)
	stamp := at.UTC().Format("20060102T150405Z")
	return fmt.Sprintf("backup_%s_%s_%s.zip", conn, db, stamp)
}

func archiveFolderPath(connectionName, database string) string {
	return fmt.Sprintf("backup/%s/%s", sanitizePathSegment(connectionName), sanitizePathSegment(database))
}

func sanitizePathSegment(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func decodeJSONList(raw string, out *[]string) error {
	if raw == "" {
		*out = nil
		return nil
	}
	return json.Unmarshal([]byte(raw), out)
}

func encodeJSONList(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}
	b, err := json.Marshal(list)
	return string(b), err
}
