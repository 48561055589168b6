package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/sunswitch/sunswitch/pkg/log"
	"github.com/sunswitch/sunswitch/pkg/types"
)

// docIDFormat is a fixed width UTC timestamp so document ids sort in time
// order.
const docIDFormat = "2006-01-02T15:04:05.000000000Z07:00"

const (
	configCollection  = "config"
	readingCollection = "readings"
	actionCollection  = "actions"
)

// FirestoreProvider implements the Database interface using Google Cloud Firestore.
// It persists settings, readings, and actions to Firestore collections. Every
// write runs in a transaction.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
	prefix    string
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")
	prefix := lflag.String("firestore-collection-prefix", "", "Prefix for collection names, to share a database between installations")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database
		f.prefix = *prefix

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// Project ID may be empty, it's detected from the environment.
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) collection(name string) *firestore.CollectionRef {
	return f.client.Collection(f.prefix + name)
}

func timeDocID(t time.Time) string {
	return t.UTC().Format(docIDFormat)
}

// GetSettings retrieves the dynamic configuration from the "config/settings" document.
// Missing settings are returned as the zero value with version 0.
func (f *FirestoreProvider) GetSettings(ctx context.Context) (types.Settings, int, error) {
	doc, err := f.collection(configCollection).Doc("settings").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.Settings{}, 0, nil
		}
		return types.Settings{}, 0, fmt.Errorf("failed to fetch settings doc: %w", err)
	}

	var s types.Settings
	if err := decodeJSONDoc(ctx, doc, &s); err != nil {
		return types.Settings{}, 0, fmt.Errorf("failed to decode settings: %w", err)
	}
	return s, docVersion(doc), nil
}

// SetSettings saves the dynamic configuration to the "config/settings" document.
// It refuses to overwrite settings stored with a newer version.
func (f *FirestoreProvider) SetSettings(ctx context.Context, settings types.Settings, version int) error {
	jsonBytes, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	ref := f.collection(configCollection).Doc("settings")
	err = f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil {
			if stored := docVersion(doc); stored > version {
				return fmt.Errorf("%w (stored=%d, new=%d)", ErrStaleSettings, stored, version)
			}
		}
		return tx.Set(ref, map[string]interface{}{
			"json":    string(jsonBytes),
			"version": version,
		})
	})
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// InsertReading adds a reading to the "readings" collection. The document ID
// is the reading's timestamp.
func (f *FirestoreProvider) InsertReading(ctx context.Context, reading types.Reading) error {
	if reading.Timestamp.IsZero() {
		return fmt.Errorf("reading missing timestamp")
	}
	if err := f.insertJSON(ctx, readingCollection, reading.Timestamp, reading); err != nil {
		return fmt.Errorf("failed to insert reading: %w", err)
	}
	return nil
}

// InsertAction adds a new action record to the "actions" collection as a JSON blob.
// The document ID is the action's timestamp for efficient range queries.
func (f *FirestoreProvider) InsertAction(ctx context.Context, action types.Action) error {
	if action.Timestamp.IsZero() {
		return fmt.Errorf("action missing timestamp")
	}
	if err := f.insertJSON(ctx, actionCollection, action.Timestamp, action); err != nil {
		return fmt.Errorf("failed to insert action: %w", err)
	}
	return nil
}

func (f *FirestoreProvider) insertJSON(ctx context.Context, collection string, ts time.Time, v any) error {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ref := f.collection(collection).Doc(timeDocID(ts))
	return f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return tx.Set(ref, map[string]interface{}{
			"json":      string(jsonBytes),
			"timestamp": ts,
		})
	})
}

// GetReadingHistory retrieves readings within [start, end).
func (f *FirestoreProvider) GetReadingHistory(ctx context.Context, start, end time.Time) ([]types.Reading, error) {
	return queryRange[types.Reading](ctx, f.collection(readingCollection), start, end)
}

// GetActionHistory retrieves action records within [start, end).
func (f *FirestoreProvider) GetActionHistory(ctx context.Context, start, end time.Time) ([]types.Action, error) {
	return queryRange[types.Action](ctx, f.collection(actionCollection), start, end)
}

// GetLatestAction returns the most recent action, or nil if there is none.
func (f *FirestoreProvider) GetLatestAction(ctx context.Context) (*types.Action, error) {
	iter := f.collection(actionCollection).
		OrderBy(firestore.DocumentID, firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest action doc: %w", err)
	}

	var a types.Action
	if err := decodeJSONDoc(ctx, doc, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// queryRange uses document ID range queries for efficient filtering without
// reading all documents.
func queryRange[T any](ctx context.Context, coll *firestore.CollectionRef, start, end time.Time) ([]T, error) {
	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(timeDocID(start))).
		Where(firestore.DocumentID, "<", coll.Doc(timeDocID(end))).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var res []T
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating %s: %w", coll.ID, err)
		}

		var v T
		if err := decodeJSONDoc(ctx, doc, &v); err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, nil
}

func decodeJSONDoc(ctx context.Context, doc *firestore.DocumentSnapshot, dest any) error {
	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "doc missing json", slog.String("docID", doc.Ref.ID), slog.Any("err", err))
		return fmt.Errorf("document %s missing 'json' field: %w", doc.Ref.ID, err)
	}

	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "doc json not string", slog.String("docID", doc.Ref.ID))
		return fmt.Errorf("document %s 'json' field is not string", doc.Ref.ID)
	}

	if err := json.Unmarshal([]byte(jsonStr), dest); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal doc", slog.String("docID", doc.Ref.ID), slog.Any("err", err))
		return fmt.Errorf("failed to unmarshal document %s: %w", doc.Ref.ID, err)
	}
	return nil
}

// docVersion reads the version field, defaulting to 0.
func docVersion(doc *firestore.DocumentSnapshot) int {
	if v, err := doc.DataAt("version"); err == nil {
		if vInt, ok := v.(int64); ok {
			return int(vInt)
		}
	}
	return 0
}
