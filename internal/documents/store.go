package documents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opStoreNew     = "documents.store.new"
	opCreate       = "documents.create"
	opUpdate       = "documents.update"
	opDelete       = "documents.delete"
	opList         = "documents.list"
	opListWhere    = "documents.list_where"
	opSubscribe    = "documents.subscribe"
	queryDocument  = "collection = ? AND document_id = ?"
	queryByCollect = "collection = ?"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// StoreConfig describes the dependencies of a Store.
type StoreConfig struct {
	Database   *gorm.DB
	Feed       ChangeFeed
	IDProvider IDProvider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Store persists documents for every collection in a single table.
type Store struct {
	db         *gorm.DB
	feed       ChangeFeed
	idProvider IDProvider
	clock      func() time.Time
	logger     *zap.Logger
}

// NewStore validates the configuration and constructs a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newStoreError(opStoreNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newStoreError(opStoreNew, "missing_id_provider", errMissingIDProvider)
	}
	feed := cfg.Feed
	if feed == nil {
		feed = NewDispatcher()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{
		db:         cfg.Database,
		feed:       feed,
		idProvider: cfg.IDProvider,
		clock:      clock,
		logger:     logger,
	}, nil
}

// Collection returns a handle scoped to the named collection.
func (s *Store) Collection(name string) *Collection {
	return &Collection{store: s, name: name}
}

// Feed returns the change feed the store publishes to.
func (s *Store) Feed() ChangeFeed {
	return s.feed
}

// Collection performs CRUD and subscriptions against one named collection.
type Collection struct {
	store *Store
	name  string
}

// Create writes a document, replacing any existing document with the same id.
// An empty id asks the store to assign one; the id used is returned.
func (c *Collection) Create(ctx context.Context, id string, fields Fields) (string, error) {
	documentID := id
	if documentID == "" {
		generated, err := c.store.idProvider.NewID()
		if err != nil {
			c.logError(opCreate, "id_generation_failed", err)
			return "", newStoreError(opCreate, "id_generation_failed", err)
		}
		documentID = generated
	}
	documentID, err := validateDocumentID(documentID)
	if err != nil {
		return "", newStoreError(opCreate, "invalid_id", err)
	}

	payload, err := json.Marshal(fields)
	if err != nil {
		return "", newStoreError(opCreate, "encode_failed", err)
	}

	nowMillis := c.store.clock().UnixMilli()
	record := Record{
		Collection:      c.name,
		DocumentID:      documentID,
		PayloadJSON:     string(payload),
		CreatedAtMillis: nowMillis,
		UpdatedAtMillis: nowMillis,
	}
	err = c.store.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "collection"}, {Name: "document_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload_json", "updated_at_ms"}),
	}).Create(&record).Error
	if err != nil {
		c.logError(opCreate, "insert_failed", err, zap.String("document_id", documentID))
		return "", newStoreError(opCreate, "insert_failed", err)
	}

	c.publish(OperationCreate, documentID)
	return documentID, nil
}

// Update merges the top-level fields into an existing document.
func (c *Collection) Update(ctx context.Context, id string, fields Fields) error {
	documentID, err := validateDocumentID(id)
	if err != nil {
		return newStoreError(opUpdate, "invalid_id", err)
	}

	txErr := c.store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Record
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where(queryDocument, c.name, documentID).
			Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newStoreError(opUpdate, "not_found", ErrDocumentNotFound)
		}
		if err != nil {
			return newStoreError(opUpdate, "select_failed", err)
		}

		merged := Fields{}
		if err := json.Unmarshal([]byte(existing.PayloadJSON), &merged); err != nil {
			return newStoreError(opUpdate, "decode_failed", err)
		}
		for key, value := range fields {
			merged[key] = value
		}
		payload, err := json.Marshal(merged)
		if err != nil {
			return newStoreError(opUpdate, "encode_failed", err)
		}

		existing.PayloadJSON = string(payload)
		existing.UpdatedAtMillis = c.store.clock().UnixMilli()
		if err := tx.Save(&existing).Error; err != nil {
			return newStoreError(opUpdate, "save_failed", err)
		}
		return nil
	})
	if txErr != nil {
		c.logError(opUpdate, "transaction_failed", txErr, zap.String("document_id", documentID))
		return txErr
	}

	c.publish(OperationUpdate, documentID)
	return nil
}

// Delete removes a document and reports success. Store failures are logged and
// reported as false rather than returned.
func (c *Collection) Delete(ctx context.Context, id string) bool {
	documentID, err := validateDocumentID(id)
	if err != nil {
		c.logError(opDelete, "invalid_id", err)
		return false
	}
	if err := c.store.db.WithContext(ctx).
		Where(queryDocument, c.name, documentID).
		Delete(&Record{}).Error; err != nil {
		c.logError(opDelete, "delete_failed", err, zap.String("document_id", documentID))
		return false
	}
	c.publish(OperationDelete, documentID)
	return true
}

// List returns every document of the collection.
func (c *Collection) List(ctx context.Context) ([]Document, error) {
	return c.find(ctx, opList, c.store.db.WithContext(ctx).Where(queryByCollect, c.name).Order("document_id ASC"))
}

// ListWhere returns documents whose field at the dotted path equals value.
func (c *Collection) ListWhere(ctx context.Context, field string, value any) ([]Document, error) {
	path, err := jsonPath(field)
	if err != nil {
		return nil, newStoreError(opListWhere, "invalid_field", err)
	}
	query := c.store.db.WithContext(ctx).
		Where(queryByCollect, c.name).
		Where("json_extract(payload_json, ?) = ?", path, value).
		Order("document_id ASC")
	return c.find(ctx, opListWhere, query)
}

func (c *Collection) query(ctx context.Context, query Query) ([]Document, error) {
	statement := c.store.db.WithContext(ctx).Where(queryByCollect, c.name)
	if query.OrderBy != "" {
		path, err := jsonPath(query.OrderBy)
		if err != nil {
			return nil, newStoreError(opSubscribe, "invalid_order", err)
		}
		direction := "ASC"
		if query.Descending {
			direction = "DESC"
		}
		statement = statement.Order(fmt.Sprintf("json_extract(payload_json, '%s') %s", path, direction))
	}
	return c.find(ctx, opSubscribe, statement.Order("document_id ASC"))
}

func (c *Collection) find(_ context.Context, operation string, statement *gorm.DB) ([]Document, error) {
	var records []Record
	if err := statement.Find(&records).Error; err != nil {
		c.logError(operation, "query_failed", err)
		return nil, newStoreError(operation, "query_failed", err)
	}
	result := make([]Document, 0, len(records))
	for _, record := range records {
		document, err := record.document()
		if err != nil {
			c.logError(operation, "decode_failed", err, zap.String("document_id", record.DocumentID))
			continue
		}
		result = append(result, document)
	}
	return result, nil
}

// Subscribe delivers the full ordered result set on registration and after
// every change to the collection. Deliveries are serialized per subscription
// and stop once the returned Unsubscribe runs or ctx ends.
func (c *Collection) Subscribe(ctx context.Context, query Query, callback func([]Document)) (Unsubscribe, error) {
	if callback == nil {
		return nil, newStoreError(opSubscribe, "missing_callback", ErrMissingCallback)
	}
	if query.OrderBy != "" {
		if _, err := jsonPath(query.OrderBy); err != nil {
			return nil, newStoreError(opSubscribe, "invalid_order", err)
		}
	}

	subscriptionCtx, cancel := context.WithCancel(ctx)
	events, release := c.store.feed.Subscribe(subscriptionCtx, c.name)

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			cancel()
			release()
		})
	}

	go c.deliver(subscriptionCtx, query, events, callback)
	return unsubscribe, nil
}

func (c *Collection) deliver(ctx context.Context, query Query, events <-chan ChangeEvent, callback func([]Document)) {
	c.emitSnapshot(ctx, query, callback)
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-events:
			if !ok {
				return
			}
			c.emitSnapshot(ctx, query, callback)
		}
	}
}

func (c *Collection) emitSnapshot(ctx context.Context, query Query, callback func([]Document)) {
	if ctx.Err() != nil {
		return
	}
	documents, err := c.query(ctx, query)
	if err != nil {
		return
	}
	if ctx.Err() != nil {
		return
	}
	callback(documents)
}

func (c *Collection) publish(operation, documentID string) {
	c.store.feed.Publish(ChangeEvent{
		Collection:  c.name,
		Operation:   operation,
		DocumentIDs: []string{documentID},
		Timestamp:   c.store.clock().UTC(),
	})
}

func (c *Collection) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.String("collection", c.name),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	c.store.logger.Error("document store error", attrs...)
}
