package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultIndexField is the single document field with a secondary index.
const DefaultIndexField = "ownerID"

var (
	errMissingDatabase = errors.New("store: database handle is required")
	errEmptyPath       = errors.New("store: path is required")
)

// Store is the hierarchical key-value capability consumed by the domain services.
// Every single-path write is atomic; Atomic groups several writes into one transaction.
type Store interface {
	Get(ctx context.Context, path string, dest any) (bool, error)
	Set(ctx context.Context, path string, value any) error
	Update(ctx context.Context, path string, fields map[string]any) error
	Remove(ctx context.Context, path string) error
	Children(ctx context.Context, path string) ([]Record, error)
	QueryChildrenByField(ctx context.Context, collection, field, value string) ([]Record, error)
	Atomic(ctx context.Context, fn func(Store) error) error
}

// Config describes the dependencies of a GormStore.
type Config struct {
	Database   *gorm.DB
	IndexField string
	Clock      func() time.Time
	Logger     *zap.Logger
}

// GormStore implements Store on a single gorm table.
type GormStore struct {
	db         *gorm.DB
	indexField string
	clock      func() time.Time
	logger     *zap.Logger
}

// New constructs a GormStore.
func New(cfg Config) (*GormStore, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	indexField := cfg.IndexField
	if indexField == "" {
		indexField = DefaultIndexField
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormStore{
		db:         cfg.Database,
		indexField: indexField,
		clock:      clock,
		logger:     logger,
	}, nil
}

// Get loads the document at path into dest. It reports false when the path is absent.
func (s *GormStore) Get(ctx context.Context, path string, dest any) (bool, error) {
	path = normalizePath(path)
	if path == "" {
		return false, errEmptyPath
	}
	node, found, err := s.load(s.db.WithContext(ctx), path, false)
	if err != nil || !found {
		return false, err
	}
	if dest == nil {
		return true, nil
	}
	if err := json.Unmarshal([]byte(node.ValueJSON), dest); err != nil {
		return true, fmt.Errorf("store: decode %s: %w", path, err)
	}
	return true, nil
}

// Set replaces the document at path. Children of path are not affected.
func (s *GormStore) Set(ctx context.Context, path string, value any) error {
	path = normalizePath(path)
	if path == "" {
		return errEmptyPath
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", path, err)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.write(tx, path, payload)
	})
}

// Update merges fields into the document at path, creating it when absent.
// A nil field value deletes that field.
func (s *GormStore) Update(ctx context.Context, path string, fields map[string]any) error {
	path = normalizePath(path)
	if path == "" {
		return errEmptyPath
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		document := map[string]any{}
		node, found, err := s.load(tx, path, true)
		if err != nil {
			return err
		}
		if found {
			if err := json.Unmarshal([]byte(node.ValueJSON), &document); err != nil {
				return fmt.Errorf("store: %s is not an object: %w", path, err)
			}
		}
		for field, value := range fields {
			if value == nil {
				delete(document, field)
				continue
			}
			document[field] = value
		}
		payload, err := json.Marshal(document)
		if err != nil {
			return fmt.Errorf("store: encode %s: %w", path, err)
		}
		return s.write(tx, path, payload)
	})
}

// Remove deletes the document at path and all of its descendants. Absent paths are ignored.
func (s *GormStore) Remove(ctx context.Context, path string) error {
	path = normalizePath(path)
	if path == "" {
		return errEmptyPath
	}
	prefix := path + separator
	return s.db.WithContext(ctx).
		Where("path = ? OR SUBSTR(path, 1, ?) = ?", path, len(prefix), prefix).
		Delete(&Node{}).Error
}

// Children lists the direct children of path in insertion order.
func (s *GormStore) Children(ctx context.Context, path string) ([]Record, error) {
	path = normalizePath(path)
	var nodes []Node
	if err := s.db.WithContext(ctx).
		Where("parent = ?", path).
		Order("insert_seq ASC").
		Order("path ASC").
		Find(&nodes).Error; err != nil {
		return nil, err
	}
	return recordsFromNodes(nodes), nil
}

// QueryChildrenByField lists children of collection whose field equals value, in insertion order.
// The configured index field is served by an indexed column; other fields are filtered in memory.
func (s *GormStore) QueryChildrenByField(ctx context.Context, collection, field, value string) ([]Record, error) {
	collection = normalizePath(collection)
	if field == s.indexField {
		var nodes []Node
		if err := s.db.WithContext(ctx).
			Where("parent = ? AND index_value = ?", collection, value).
			Order("insert_seq ASC").
			Order("path ASC").
			Find(&nodes).Error; err != nil {
			return nil, err
		}
		return recordsFromNodes(nodes), nil
	}

	children, err := s.Children(ctx, collection)
	if err != nil {
		return nil, err
	}
	matches := make([]Record, 0, len(children))
	for _, child := range children {
		if fieldValue(child.Value, field) == value {
			matches = append(matches, child)
		}
	}
	return matches, nil
}

// Atomic runs fn inside one database transaction; fn must only use the Store it is given.
func (s *GormStore) Atomic(ctx context.Context, fn func(Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{
			db:         tx,
			indexField: s.indexField,
			clock:      s.clock,
			logger:     s.logger,
		})
	})
}

// Reindex recomputes the secondary index column for every node and returns the number of rows changed.
func (s *GormStore) Reindex(ctx context.Context) (int, error) {
	var nodes []Node
	if err := s.db.WithContext(ctx).Find(&nodes).Error; err != nil {
		return 0, err
	}
	changed := 0
	for _, node := range nodes {
		indexValue := fieldValue(json.RawMessage(node.ValueJSON), s.indexField)
		if indexValue == node.IndexValue {
			continue
		}
		if err := s.db.WithContext(ctx).
			Model(&Node{}).
			Where("path = ?", node.Path).
			Update("index_value", indexValue).Error; err != nil {
			return changed, err
		}
		changed++
	}
	if changed > 0 {
		s.logger.Info("store index rebuilt", zap.Int("rows", changed), zap.String("field", s.indexField))
	}
	return changed, nil
}

func (s *GormStore) load(tx *gorm.DB, path string, forUpdate bool) (Node, bool, error) {
	var node Node
	query := tx
	if forUpdate && tx.Dialector.Name() != "sqlite" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err := query.Where("path = ?", path).Take(&node).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Node{}, false, nil
	}
	if err != nil {
		return Node{}, false, err
	}
	return node, true, nil
}

func (s *GormStore) write(tx *gorm.DB, path string, payload []byte) error {
	now := s.clock().UTC().UnixNano()
	existing, found, err := s.load(tx, path, true)
	if err != nil {
		return err
	}
	indexValue := fieldValue(payload, s.indexField)
	if found {
		return tx.Model(&Node{}).
			Where("path = ?", existing.Path).
			Updates(map[string]any{
				"value_json":    string(payload),
				"index_value":   indexValue,
				"updated_at_ns": now,
			}).Error
	}

	var maxSeq int64
	if err := tx.Model(&Node{}).Select("COALESCE(MAX(insert_seq), 0)").Scan(&maxSeq).Error; err != nil {
		return err
	}
	return tx.Create(&Node{
		Path:           path,
		Parent:         parentOf(path),
		IndexValue:     indexValue,
		InsertSeq:      maxSeq + 1,
		ValueJSON:      string(payload),
		UpdatedAtNanos: now,
	}).Error
}

func recordsFromNodes(nodes []Node) []Record {
	records := make([]Record, 0, len(nodes))
	for _, node := range nodes {
		records = append(records, recordFromNode(node))
	}
	return records
}

func fieldValue(payload json.RawMessage, field string) string {
	var document map[string]json.RawMessage
	if err := json.Unmarshal(payload, &document); err != nil {
		return ""
	}
	raw, ok := document[field]
	if !ok {
		return ""
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return ""
	}
	return value
}
