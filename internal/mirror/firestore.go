package mirror

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"campusattend/internal/config"
)

// FromConfig resolves credentials and returns a lazily connected Firestore client,
// or a disabled client when none are configured.
func FromConfig(cfg config.Mirror, log *zap.Logger) *Client {
	creds, err := config.ResolveMirrorCredentials(cfg)
	if err != nil {
		log.Warn("document mirror disabled", zap.Error(err))
		return Disabled(err)
	}
	return New(FirestoreDialer(creds, cfg.ProjectID, cfg.DatabaseURL),
		WithTimeout(cfg.Timeout),
		WithLogger(log),
		WithSource(creds.Source))
}

// FirestoreDialer opens a Firestore backend from resolved service account JSON.
func FirestoreDialer(creds config.MirrorCredentials, projectID, databaseURL string) Dialer {
	return func(ctx context.Context) (Backend, error) {
		if len(creds.JSON) == 0 {
			return nil, config.ErrNoCredentials
		}
		var conf *firebase.Config
		if projectID != "" || databaseURL != "" {
			conf = &firebase.Config{ProjectID: projectID, DatabaseURL: databaseURL}
		}
		app, err := firebase.NewApp(ctx, conf, option.WithCredentialsJSON(creds.JSON))
		if err != nil {
			return nil, fmt.Errorf("init firebase app: %w", err)
		}
		client, err := app.Firestore(ctx)
		if err != nil {
			return nil, fmt.Errorf("init firestore: %w", err)
		}
		return &firestoreBackend{client: client}, nil
	}
}

type firestoreBackend struct {
	client *firestore.Client
}

func (f *firestoreBackend) doc(path []string) (*firestore.DocumentRef, error) {
	if len(path) == 0 || len(path)%2 != 0 {
		return nil, fmt.Errorf("invalid document path %v", path)
	}
	ref := f.client.Collection(path[0]).Doc(path[1])
	for i := 2; i < len(path); i += 2 {
		ref = ref.Collection(path[i]).Doc(path[i+1])
	}
	return ref, nil
}

func (f *firestoreBackend) Merge(ctx context.Context, path []string, fields map[string]any) error {
	ref, err := f.doc(path)
	if err != nil {
		return err
	}
	_, err = ref.Set(ctx, fields, firestore.MergeAll)
	return err
}

func (f *firestoreBackend) Get(ctx context.Context, path []string) (map[string]any, error) {
	ref, err := f.doc(path)
	if err != nil {
		return nil, err
	}
	snap, err := ref.Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrDocNotFound
	}
	if err != nil {
		return nil, err
	}
	return snap.Data(), nil
}

func (f *firestoreBackend) Increment(ctx context.Context, path []string, field string, n int64) error {
	ref, err := f.doc(path)
	if err != nil {
		return err
	}
	_, err = ref.Set(ctx, map[string]any{field: firestore.Increment(n)}, firestore.MergeAll)
	return err
}

func (f *firestoreBackend) Delete(ctx context.Context, path []string) error {
	ref, err := f.doc(path)
	if err != nil {
		return err
	}
	_, err = ref.Delete(ctx)
	return err
}

// SessionDocs queries every lecturer's sessions subcollection for one session id.
func (f *firestoreBackend) SessionDocs(ctx context.Context, sessionID string, limit int) ([]map[string]any, error) {
	iter := f.client.CollectionGroup(sessionCollection).
		Where("session_id", "==", sessionID).
		Limit(limit).
		Documents(ctx)
	defer iter.Stop()

	var docs []map[string]any
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		data := snap.Data()
		data["id"] = snap.Ref.ID
		docs = append(docs, data)
	}
	return docs, nil
}

func (f *firestoreBackend) Close() error {
	return f.client.Close()
}
