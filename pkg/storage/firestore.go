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
	"github.com/loadcurve/loadcurve/pkg/log"
	"github.com/loadcurve/loadcurve/pkg/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreProvider implements the Database interface using Google Cloud
// Firestore. Users live in a top-level "users" collection; each usage point
// has a "usagePoints/{pdl}" document with "config" and "payloads"
// sub-collections.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// Project ID verification could be here, but we allow empty if inferred.
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

func (f *FirestoreProvider) getCollection(usagePointID, name string) (*firestore.CollectionRef, error) {
	if usagePointID == "" {
		return nil, fmt.Errorf("usagePointID cannot be empty")
	}
	return f.client.Collection("usagePoints").Doc(usagePointID).Collection(name), nil
}

// payloadDocID builds the document ID for a payload. Kind first so that the
// two kinds for the same week sort apart, range start RFC3339 so that
// document ID range scans stay chronological within a kind.
func payloadDocID(kind string, rangeStart time.Time) string {
	return kind + "_" + rangeStart.UTC().Format(time.RFC3339)
}

// GetSettings retrieves the per-usage-point configuration from the
// "config/settings" document.
func (f *FirestoreProvider) GetSettings(ctx context.Context, usagePointID string) (types.Settings, int, error) {
	coll, err := f.getCollection(usagePointID, "config")
	if err != nil {
		return types.Settings{}, 0, err
	}
	doc, err := coll.Doc("settings").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.Settings{}, 0, fmt.Errorf("%w: %s", ErrSettingsNotFound, usagePointID)
		}
		return types.Settings{}, 0, fmt.Errorf("failed to fetch settings doc: %w", err)
	}

	// Read version if available (default 0)
	var version int
	if v, err := doc.DataAt("version"); err == nil {
		if vInt, ok := v.(int64); ok {
			version = int(vInt)
		}
	}

	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "settings doc missing json", slog.String("usagePointID", usagePointID))
		return types.Settings{}, 0, fmt.Errorf("settings document missing 'json' field: %w", err)
	}

	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "settings doc json not string", slog.String("usagePointID", usagePointID))
		return types.Settings{}, 0, fmt.Errorf("settings 'json' field is not a string")
	}

	var s types.Settings
	if err := json.Unmarshal([]byte(jsonStr), &s); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal settings json", slog.String("usagePointID", usagePointID), slog.Any("err", err))
		return types.Settings{}, 0, fmt.Errorf("failed to unmarshal settings json: %w", err)
	}
	return s, version, nil
}

// SetSettings saves the per-usage-point configuration to the
// "config/settings" document. It stores the settings as a JSON string for
// portability.
func (f *FirestoreProvider) SetSettings(ctx context.Context, usagePointID string, settings types.Settings, version int) error {
	jsonBytes, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	coll, err := f.getCollection(usagePointID, "config")
	if err != nil {
		return err
	}
	_, err = coll.Doc("settings").Set(ctx, map[string]interface{}{
		"json":    string(jsonBytes),
		"version": version,
	})
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// SetReadingPayload stores one fetch result in the "payloads" collection as a
// JSON blob. The document ID carries the kind and range start so the same
// window is overwritten on re-fetch rather than duplicated.
func (f *FirestoreProvider) SetReadingPayload(ctx context.Context, payload types.ReadingPayload) error {
	jsonBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	coll, err := f.getCollection(payload.UsagePointID, "payloads")
	if err != nil {
		return err
	}
	_, err = coll.Doc(payloadDocID(payload.Kind, payload.RangeStart)).Set(ctx, map[string]interface{}{
		"json":       string(jsonBytes),
		"kind":       payload.Kind,
		"rangeStart": payload.RangeStart,
		"rangeEnd":   payload.RangeEnd,
	})
	if err != nil {
		return fmt.Errorf("failed to save payload: %w", err)
	}
	return nil
}

// GetReadingPayload retrieves one fetch result by its key. The range end is
// not part of the document ID; a stored payload for the same kind and start
// with a different end is still returned.
func (f *FirestoreProvider) GetReadingPayload(ctx context.Context, key types.PayloadKey) (*types.ReadingPayload, error) {
	coll, err := f.getCollection(key.UsagePointID, "payloads")
	if err != nil {
		return nil, err
	}
	doc, err := coll.Doc(payloadDocID(key.Kind, key.RangeStart)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("%w: %s %s", ErrPayloadNotFound, key.Kind, key.RangeStart.Format(time.RFC3339))
		}
		return nil, fmt.Errorf("failed to fetch payload doc: %w", err)
	}
	p, err := unmarshalPayloadDoc(ctx, doc.Ref.ID, doc)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func unmarshalPayloadDoc(ctx context.Context, docID string, doc *firestore.DocumentSnapshot) (types.ReadingPayload, error) {
	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "payload doc missing json", slog.String("docID", docID), slog.Any("err", err))
		return types.ReadingPayload{}, fmt.Errorf("payload document %s missing 'json' field: %w", docID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "payload doc json not string", slog.String("docID", docID))
		return types.ReadingPayload{}, fmt.Errorf("payload document %s 'json' field is not string", docID)
	}
	var p types.ReadingPayload
	if err := json.Unmarshal([]byte(jsonStr), &p); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal payload", slog.String("docID", docID), slog.Any("err", err))
		return types.ReadingPayload{}, fmt.Errorf("failed to unmarshal payload (id=%s): %w", docID, err)
	}
	return p, nil
}

// GetReadingPayloads retrieves every stored payload for a usage point,
// ordered by document ID (kind, then range start).
func (f *FirestoreProvider) GetReadingPayloads(ctx context.Context, usagePointID string) ([]types.ReadingPayload, error) {
	coll, err := f.getCollection(usagePointID, "payloads")
	if err != nil {
		return nil, err
	}
	iter := coll.OrderBy(firestore.DocumentID, firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var payloads []types.ReadingPayload
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating payloads: %w", err)
		}
		p, err := unmarshalPayloadDoc(ctx, doc.Ref.ID, doc)
		if err != nil {
			return nil, err
		}
		payloads = append(payloads, p)
	}
	return payloads, nil
}

// GetLatestReadingTime retrieves the end of the most recent stored payload
// range, or the zero time when nothing is stored yet.
func (f *FirestoreProvider) GetLatestReadingTime(ctx context.Context, usagePointID string) (time.Time, error) {
	coll, err := f.getCollection(usagePointID, "payloads")
	if err != nil {
		return time.Time{}, err
	}
	// firestore automatically creates indexes for top-level fields
	iter := coll.
		OrderBy("rangeEnd", firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get latest payload doc: %w", err)
	}

	val, err := doc.DataAt("rangeEnd")
	if err != nil {
		return time.Time{}, fmt.Errorf("payload doc %s missing rangeEnd: %w", doc.Ref.ID, err)
	}
	ts, ok := val.(time.Time)
	if !ok {
		return time.Time{}, fmt.Errorf("payload doc %s rangeEnd is not a timestamp", doc.Ref.ID)
	}
	return ts, nil
}

// PruneReadingPayloads deletes payloads whose range ends before the given
// time. The upstream retains nothing past 1095 days, so neither do we.
func (f *FirestoreProvider) PruneReadingPayloads(ctx context.Context, usagePointID string, before time.Time) (int, error) {
	coll, err := f.getCollection(usagePointID, "payloads")
	if err != nil {
		return 0, err
	}
	iter := coll.Where("rangeEnd", "<", before).Documents(ctx)
	defer iter.Stop()

	pruned := 0
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return pruned, fmt.Errorf("error iterating payloads to prune: %w", err)
		}
		if _, err := doc.Ref.Delete(ctx); err != nil {
			return pruned, fmt.Errorf("failed to delete payload %s: %w", doc.Ref.ID, err)
		}
		pruned++
	}
	return pruned, nil
}

// GetUser retrieves a user from the "users" collection.
func (f *FirestoreProvider) GetUser(ctx context.Context, userID string) (types.User, error) {
	doc, err := f.client.Collection("users").Doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.User{}, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
		}
		return types.User{}, fmt.Errorf("failed to get user %s: %w", userID, err)
	}

	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "user doc missing json", slog.String("userID", userID))
		return types.User{}, fmt.Errorf("user %s missing json: %w", userID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "user doc json not string", slog.String("userID", userID))
		return types.User{}, fmt.Errorf("user %s json not string", userID)
	}

	var user types.User
	if err := json.Unmarshal([]byte(jsonStr), &user); err != nil {
		return types.User{}, fmt.Errorf("failed to unmarshal user %s: %w", userID, err)
	}
	return user, nil
}

// CreateUser creates a new user document in the "users" collection.
func (f *FirestoreProvider) CreateUser(ctx context.Context, user types.User) error {
	userJSON, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user %s: %w", user.ID, err)
	}
	_, err = f.client.Collection("users").Doc(user.ID).Create(ctx, map[string]interface{}{
		"json": string(userJSON),
	})
	if err != nil {
		return fmt.Errorf("failed to create user %s: %w", user.ID, err)
	}
	return nil
}

// UpdateUser updates an existing user document in the "users" collection.
func (f *FirestoreProvider) UpdateUser(ctx context.Context, user types.User) error {
	userJSON, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user %s: %w", user.ID, err)
	}
	_, err = f.client.Collection("users").Doc(user.ID).Set(ctx, map[string]interface{}{
		"json": string(userJSON),
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("failed to update user %s: %w", user.ID, err)
	}
	return nil
}

// ListUsers retrieves all users from the "users" collection.
func (f *FirestoreProvider) ListUsers(ctx context.Context) ([]types.User, error) {
	iter := f.client.Collection("users").Documents(ctx)
	defer iter.Stop()

	var users []types.User
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating users: %w", err)
		}

		val, err := doc.DataAt("json")
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "user doc missing json", slog.String("userID", doc.Ref.ID))
			// Skip malformed documents
			continue
		}
		jsonStr, ok := val.(string)
		if !ok {
			log.Ctx(ctx).WarnContext(ctx, "user doc json not string", slog.String("userID", doc.Ref.ID))
			continue
		}

		var user types.User
		if err := json.Unmarshal([]byte(jsonStr), &user); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal user", slog.String("userID", doc.Ref.ID), slog.Any("err", err))
			// Skip malformed JSON
			continue
		}
		users = append(users, user)
	}
	return users, nil
}

// InsertFeedback stores a feedback message in the "feedback" collection.
// The document ID is the submission timestamp for chronological listing.
func (f *FirestoreProvider) InsertFeedback(ctx context.Context, feedback types.Feedback) error {
	jsonBytes, err := json.Marshal(feedback)
	if err != nil {
		return fmt.Errorf("failed to marshal feedback: %w", err)
	}
	docID := feedback.Time.UTC().Format(time.RFC3339Nano)
	_, err = f.client.Collection("feedback").Doc(docID).Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"timestamp": feedback.Time,
	})
	if err != nil {
		return fmt.Errorf("failed to insert feedback: %w", err)
	}
	return nil
}

// ListFeedback retrieves all feedback messages, oldest first.
func (f *FirestoreProvider) ListFeedback(ctx context.Context) ([]types.Feedback, error) {
	iter := f.client.Collection("feedback").OrderBy(firestore.DocumentID, firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var feedbacks []types.Feedback
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating feedback: %w", err)
		}

		val, err := doc.DataAt("json")
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "feedback doc missing json", slog.String("docID", doc.Ref.ID))
			continue
		}
		jsonStr, ok := val.(string)
		if !ok {
			log.Ctx(ctx).WarnContext(ctx, "feedback doc json not string", slog.String("docID", doc.Ref.ID))
			continue
		}

		var fb types.Feedback
		if err := json.Unmarshal([]byte(jsonStr), &fb); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal feedback", slog.String("docID", doc.Ref.ID), slog.Any("err", err))
			continue
		}
		feedbacks = append(feedbacks, fb)
	}
	return feedbacks, nil
}
