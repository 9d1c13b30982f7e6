package store

import "encoding/json"

// Node is one persisted document in the hierarchical store.
type Node struct {
	Path           string `gorm:"column:path;primaryKey;size:512;not null"`
	Parent         string `gorm:"column:parent;size:512;not null;index:idx_store_nodes_parent_index,priority:1"`
	IndexValue     string `gorm:"column:index_value;size:190;not null;default:'';index:idx_store_nodes_parent_index,priority:2"`
	InsertSeq      int64  `gorm:"column:insert_seq;not null;default:0"`
	ValueJSON      string `gorm:"column:value_json;type:text;not null"`
	UpdatedAtNanos int64  `gorm:"column:updated_at_ns;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (Node) TableName() string {
	return "store_nodes"
}

// Record is a child document returned by enumeration queries.
type Record struct {
	Path  string
	Key   string
	Value json.RawMessage
}

// Decode unmarshals the record value into dest.
func (r Record) Decode(dest any) error {
	return json.Unmarshal(r.Value, dest)
}

func recordFromNode(node Node) Record {
	return Record{
		Path:  node.Path,
		Key:   Key(node.Path),
		Value: json.RawMessage(node.ValueJSON),
	}
}
