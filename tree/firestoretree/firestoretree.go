// Package firestoretree maps the carpool tree onto Cloud Firestore: the first path segment is a
// top level collection, the second a document, and anything deeper a field path inside that
// document. Live observation uses Firestore snapshot listeners.
package firestoretree

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	log "carpool/cloudlog"
	"carpool/tree"
)

// Firestore caps a batch at 500 writes.
const maxBatchSize = 500

var errCollectionWrite = errors.New("set and update are not supported on a whole collection")

// Store implements tree.Store on top of a Firestore client.
type Store struct {
	client *firestore.Client
}

var _ tree.Store = (*Store)(nil)

// New wraps an existing client.
func New(client *firestore.Client) *Store {
	return &Store{client: client}
}

// Open creates a Firestore client for projectID.
func Open(ctx context.Context, projectID string) (*Store, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("initiate Firestore client failed: %w", err)
	}
	return New(client), nil
}

// Close performs cleanup for closing storage connections.
func (s *Store) Close() error {
	return s.client.Close()
}

// location splits a tree path into its collection, document and field path.
type location struct {
	coll  *firestore.CollectionRef
	doc   *firestore.DocumentRef
	field firestore.FieldPath
}

func (s *Store) locate(path tree.Path) (location, error) {
	if len(path) == 0 {
		return location{}, errors.New("the root cannot be addressed in Firestore")
	}
	if err := path.Valid(); err != nil {
		return location{}, err
	}
	loc := location{coll: s.client.Collection(path[0])}
	if len(path) > 1 {
		loc.doc = loc.coll.Doc(path[1])
		loc.field = firestore.FieldPath(path[2:])
	}
	return loc, nil
}

// Get implements tree.Store.
func (s *Store) Get(ctx context.Context, path tree.Path) (tree.Node, error) {
	loc, err := s.locate(path)
	if err != nil {
		return tree.Node{}, err
	}
	if loc.doc == nil {
		docs, err := s.allDocs(ctx, loc.coll)
		if err != nil {
			return tree.Node{}, err
		}
		return tree.Node{Key: path.Key(), Value: collectionValue(docs)}, nil
	}
	exists, snapshot, err := s.DocExists(ctx, loc.doc)
	if err != nil {
		return tree.Node{}, err
	}
	if !exists {
		return tree.Node{Key: path.Key()}, nil
	}
	return tree.Node{Key: path.Key(), Value: fieldValue(snapshot.Data(), loc.field)}, nil
}

// DocExists checks for the existence of the document. It checks the error returned from
// docRef.Get and silences a codes.NotFound error because that info is reflected in the bool
// return.
func (s *Store) DocExists(ctx context.Context, docRef *firestore.DocumentRef) (bool, *firestore.DocumentSnapshot, error) {
	snapshot, err := docRef.Get(ctx)
	if err != nil && status.Code(err) == codes.NotFound {
		err = nil
	}
	exists := snapshot != nil && snapshot.Exists()
	return exists, snapshot, err
}

func (s *Store) allDocs(ctx context.Context, collection *firestore.CollectionRef) ([]*firestore.DocumentSnapshot, error) {
	docs, err := collection.Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// Set implements tree.Store.
func (s *Store) Set(ctx context.Context, path tree.Path, value interface{}) error {
	if value == nil {
		return s.Remove(ctx, path)
	}
	loc, err := s.locate(path)
	if err != nil {
		return err
	}
	if loc.doc == nil {
		return errCollectionWrite
	}
	if len(loc.field) == 0 {
		data, ok := value.(map[string]interface{})
		if !ok {
			return fmt.Errorf("document %s must be an object, got %T", path, value)
		}
		_, err = loc.doc.Set(ctx, data)
		return err
	}
	_, err = loc.doc.Set(ctx, nest(loc.field, value), firestore.Merge(loc.field))
	return err
}

// Update implements tree.Store. Each field replaces one child; nil removes it.
func (s *Store) Update(ctx context.Context, path tree.Path, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return fmt.Errorf("update of %s with no fields", path)
	}
	loc, err := s.locate(path)
	if err != nil {
		return err
	}
	if loc.doc == nil {
		return errCollectionWrite
	}
	data := map[string]interface{}{}
	paths := make([]firestore.FieldPath, 0, len(fields))
	for k, v := range fields {
		fp := append(append(firestore.FieldPath{}, loc.field...), k)
		if v == nil {
			v = firestore.Delete
		}
		merge(data, fp, v)
		paths = append(paths, fp)
	}
	_, err = loc.doc.Set(ctx, data, firestore.Merge(paths...))
	return err
}

// Remove implements tree.Store.
func (s *Store) Remove(ctx context.Context, path tree.Path) error {
	loc, err := s.locate(path)
	if err != nil {
		return err
	}
	switch {
	case loc.doc == nil:
		return s.removeCollection(ctx, loc.coll)
	case len(loc.field) == 0:
		_, err = loc.doc.Delete(ctx)
		return err
	default:
		_, err = loc.doc.Update(ctx, []firestore.Update{{FieldPath: loc.field, Value: firestore.Delete}})
		if status.Code(err) == codes.NotFound {
			return nil
		}
		return err
	}
}

func (s *Store) removeCollection(ctx context.Context, coll *firestore.CollectionRef) error {
	iter := coll.Documents(ctx)
	defer iter.Stop()
	batch := s.client.Batch()
	pending := 0
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return err
		}
		batch.Delete(doc.Ref)
		pending++
		if pending == maxBatchSize {
			if _, err := batch.Commit(ctx); err != nil {
				return err
			}
			batch = s.client.Batch()
			pending = 0
		}
	}
	if pending == 0 {
		return nil
	}
	_, err := batch.Commit(ctx)
	return err
}

// Observe implements tree.Store.
func (s *Store) Observe(ctx context.Context, path tree.Path) (*tree.Subscription, error) {
	loc, err := s.locate(path)
	if err != nil {
		return nil, err
	}
	sub := tree.NewSubscription(ctx, path)
	if loc.doc == nil {
		go s.observeCollection(sub, loc.coll)
	} else {
		go s.observeDoc(sub, loc)
	}
	return sub, nil
}

func (s *Store) observeCollection(sub *tree.Subscription, coll *firestore.CollectionRef) {
	iter := coll.Snapshots(sub.Context())
	defer iter.Stop()
	for {
		qs, err := iter.Next()
		if err == nil {
			var docs []*firestore.DocumentSnapshot
			docs, err = qs.Documents.GetAll()
			if err == nil {
				if !sub.Emit(tree.Node{Key: sub.Path().Key(), Value: collectionValue(docs)}) {
					sub.Finish(nil)
					return
				}
				continue
			}
		}
		s.finish(sub, err)
		return
	}
}

func (s *Store) observeDoc(sub *tree.Subscription, loc location) {
	iter := loc.doc.Snapshots(sub.Context())
	defer iter.Stop()
	for {
		snapshot, err := iter.Next()
		if err != nil {
			s.finish(sub, err)
			return
		}
		var value interface{}
		if snapshot.Exists() {
			value = fieldValue(snapshot.Data(), loc.field)
		}
		if !sub.Emit(tree.Node{Key: sub.Path().Key(), Value: value}) {
			sub.Finish(nil)
			return
		}
	}
}

// finish ends sub, treating the Canceled status Firestore reports after Close as a clean stop.
func (s *Store) finish(sub *tree.Subscription, err error) {
	if sub.Context().Err() != nil {
		err = nil
	} else {
		log.Printf("observe %s ended: %v", sub.Path(), err)
	}
	sub.Finish(err)
}

func collectionValue(docs []*firestore.DocumentSnapshot) interface{} {
	out := map[string]interface{}{}
	for _, doc := range docs {
		if !doc.Exists() {
			continue
		}
		if data := prune(doc.Data()); data != nil {
			out[doc.Ref.ID] = data
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func fieldValue(data map[string]interface{}, field firestore.FieldPath) interface{} {
	var cur interface{} = data
	for _, key := range field {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur = m[key]
	}
	return prune(cur)
}

// prune drops empty objects, which do not exist in the tree model.
func prune(v interface{}) interface{} {
	m, ok := v.(map[string]interface{})
	if !ok {
		return v
	}
	out := make(map[string]interface{}, len(m))
	for k, child := range m {
		if p := prune(child); p != nil {
			out[k] = p
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// nest builds {f0: {f1: ... value}} for a Set with Merge on field.
func nest(field firestore.FieldPath, value interface{}) map[string]interface{} {
	data := map[string]interface{}{}
	merge(data, field, value)
	return data
}

func merge(data map[string]interface{}, field firestore.FieldPath, value interface{}) {
	cur := data
	for _, key := range field[:len(field)-1] {
		next, ok := cur[key].(map[string]interface{})
		if !ok {
			next = map[string]interface{}{}
			cur[key] = next
		}
		cur = next
	}
	cur[field[len(field)-1]] = value
}
