package badger

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/poiesic/gleaner/core"
	"github.com/poiesic/gleaner/storage"
)

// DocumentRepository implements storage.DocumentRepository for BadgerDB.
type DocumentRepository struct {
	backend *Backend
}

var _ storage.DocumentRepository = (*DocumentRepository)(nil)

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository(backend *Backend) (*DocumentRepository, error) {
	return &DocumentRepository{
		backend: backend,
	}, nil
}

// Close releases resources. DocumentRepository has no resources to release.
func (r *DocumentRepository) Close() error {
	return nil
}

// UpsertDocument inserts or updates the document identified by (TenantID, URLHash).
func (r *DocumentRepository) UpsertDocument(ctx context.Context, doc *core.Document) (*core.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := core.ValidateTenant(doc.TenantID); err != nil {
		return nil, err
	}

	var stored *core.Document

	err := r.backend.WithRetryTx(func(tx *badger.Txn) error {
		upserted := *doc
		now := time.Now().UTC()

		urlKey := makeDocumentURLKey(doc.TenantID, doc.URLHash)
		existingID, err := readIndexValue(tx, urlKey)
		if err != nil {
			return err
		}

		var existing *core.Document
		if existingID != "" {
			existing, err = readDocument(tx, makeDocumentKey(doc.TenantID, existingID))
			if err != nil {
				return err
			}
		}

		if existing != nil {
			upserted.ID = existing.ID
			upserted.CreatedAt = existing.CreatedAt
		} else {
			if upserted.ID == "" {
				upserted.ID = uuid.NewString()
			}
			upserted.CreatedAt = now
		}
		upserted.UpdatedAt = now
		if upserted.FetchedAt.IsZero() {
			upserted.FetchedAt = now
		}

		value, err := storage.MarshalDocument(&upserted)
		if err != nil {
			return err
		}
		if err := tx.Set(makeDocumentKey(upserted.TenantID, upserted.ID), value); err != nil {
			return err
		}
		if err := tx.Set(urlKey, []byte(upserted.ID)); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		stored = &upserted
		return nil
	})

	return stored, err
}

// GetDocument retrieves a document by tenant and ID.
func (r *DocumentRepository) GetDocument(ctx context.Context, tenantID, documentID string) (*core.Document, error) {
	var result *core.Document
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = readDocument(tx, makeDocumentKey(tenantID, documentID))
		if err != nil {
			return err
		}
		if result == nil {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return result, err
}

// FindDocumentByURLHash retrieves a document by its identity key.
func (r *DocumentRepository) FindDocumentByURLHash(ctx context.Context, tenantID, urlHash string) (*core.Document, error) {
	var result *core.Document
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		documentID, err := readIndexValue(tx, makeDocumentURLKey(tenantID, urlHash))
		if err != nil {
			return err
		}
		if documentID == "" {
			return storage.ErrNotFound
		}
		result, err = readDocument(tx, makeDocumentKey(tenantID, documentID))
		if err != nil {
			return err
		}
		if result == nil {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return result, err
}

// ListDocuments returns all documents for a tenant in key order.
func (r *DocumentRepository) ListDocuments(ctx context.Context, tenantID string) ([]*core.Document, error) {
	var results []*core.Document
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makePartialTenantKey(documentPrefix, tenantID)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			var doc *core.Document
			err := iter.Item().Value(func(val []byte) error {
				var err error
				doc, err = storage.UnmarshalDocument(val)
				return err
			})
			if err != nil {
				return err
			}
			results = append(results, doc)
		}
		return nil
	}, false)
	return results, err
}

// readDocument reads a document record, returning nil if it does not exist.
func readDocument(tx *badger.Txn, key []byte) (*core.Document, error) {
	item, err := tx.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var doc *core.Document
	err = item.Value(func(val []byte) error {
		var err error
		doc, err = storage.UnmarshalDocument(val)
		return err
	})
	return doc, err
}
