// Package catalog tracks table and index metadata, the schema layer sitting
// above recordstore and indextree. Persisted as JSON, so it stays
// human-readable and diffable.
package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/natefinch/atomic"
)

var (
	// ErrTableExists is returned by CreateTable for a name already in use.
	ErrTableExists = errors.New("catalog: table already exists")
	// ErrNoSuchTable is returned when a name doesn't resolve to a table.
	ErrNoSuchTable = errors.New("catalog: no such table")
	// ErrNoSuchIndex is returned when a name doesn't resolve to an index.
	ErrNoSuchIndex = errors.New("catalog: no such index")
	// ErrIndexExists is returned by CreateIndex for a name already in use
	// on that table.
	ErrIndexExists = errors.New("catalog: index already exists")
	// ErrNoPrimaryKey is returned by CreateTable when no column is marked
	// primary key; every table needs one so it has a PRIMARY index.
	ErrNoPrimaryKey = errors.New("catalog: table needs exactly one primary key column")
)

// ColumnKind is the JSON-stable wire type of a column, independent of the
// recordstore/indextree packages' own copies so catalog metadata can be
// decoded without importing storage internals.
type ColumnKind string

const (
	KindInt    ColumnKind = "int"
	KindFloat  ColumnKind = "float"
	KindString ColumnKind = "string"
)

// ColumnDef describes one column as persisted in the catalog.
type ColumnDef struct {
	Name       string     `json:"name"`
	Kind       ColumnKind `json:"kind"`
	Width      int        `json:"width,omitempty"`
	PrimaryKey bool       `json:"primary_key,omitempty"`
	Unique     bool       `json:"unique,omitempty"`
}

// IndexDef names an index and the table columns (by position) it covers.
type IndexDef struct {
	Name    string `json:"name"`
	Columns []int  `json:"columns"`
	Unique  bool   `json:"unique"`
}

// TableDef is one table's full schema: its ordered column list plus every
// index defined on it, always including "PRIMARY".
type TableDef struct {
	Name    string              `json:"name"`
	Columns []ColumnDef         `json:"columns"`
	Indexes map[string]IndexDef `json:"indexes"`
}

// ColumnIndex returns the position of the named column, or -1.
func (t *TableDef) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Catalog is the full set of table definitions for one database directory.
type Catalog struct {
	Tables map[string]*TableDef `json:"tables"`
}

// New returns an empty catalog, as used the first time a data directory is
// opened.
func New() *Catalog {
	return &Catalog{Tables: map[string]*TableDef{}}
}

// Load reads the catalog from path, returning a fresh empty Catalog if the
// file does not yet exist.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: load %s: %w", path, err)
	}
	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("catalog: decode %s: %w", path, err)
	}
	if c.Tables == nil {
		c.Tables = map[string]*TableDef{}
	}
	return &c, nil
}

// Dump atomically rewrites the catalog file at path, so a crash mid-write
// never leaves a half-written, unparseable catalog on disk.
func (c *Catalog) Dump(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("catalog: encode: %w", err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("catalog: dump %s: %w", path, err)
	}
	return nil
}

// CreateTable registers a new table with the given columns, automatically
// building its PRIMARY index from whichever single column is marked as the
// primary key.
func (c *Catalog) CreateTable(name string, columns []ColumnDef) (*TableDef, error) {
	if _, ok := c.Tables[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrTableExists, name)
	}

	pk := -1
	for i, col := range columns {
		if col.PrimaryKey {
			if pk != -1 {
				return nil, fmt.Errorf("%w: %s has more than one", ErrNoPrimaryKey, name)
			}
			pk = i
		}
	}
	if pk == -1 {
		return nil, fmt.Errorf("%w: %s", ErrNoPrimaryKey, name)
	}

	t := &TableDef{
		Name:    name,
		Columns: append([]ColumnDef(nil), columns...),
		Indexes: map[string]IndexDef{
			"PRIMARY": {Name: "PRIMARY", Columns: []int{pk}, Unique: true},
		},
	}
	c.Tables[name] = t
	return t, nil
}

// DropTable removes a table and all its index definitions from the catalog.
// Deleting the underlying files is the caller's responsibility.
func (c *Catalog) DropTable(name string) error {
	if _, ok := c.Tables[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchTable, name)
	}
	delete(c.Tables, name)
	return nil
}

// CreateIndex adds a secondary index over columns (by name) to an existing
// table.
func (c *Catalog) CreateIndex(tableName, indexName string, columnNames []string, unique bool) (*TableDef, error) {
	t, ok := c.Tables[tableName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchTable, tableName)
	}
	if _, ok := t.Indexes[indexName]; ok {
		return nil, fmt.Errorf("%w: %s on %s", ErrIndexExists, indexName, tableName)
	}
	if len(columnNames) == 0 {
		return nil, fmt.Errorf("catalog: index %s on %s names no columns", indexName, tableName)
	}

	cols := make([]int, len(columnNames))
	for i, name := range columnNames {
		idx := t.ColumnIndex(name)
		if idx < 0 {
			return nil, fmt.Errorf("catalog: %s has no column %s", tableName, name)
		}
		cols[i] = idx
	}

	t.Indexes[indexName] = IndexDef{Name: indexName, Columns: cols, Unique: unique}
	return t, nil
}

// DropIndex removes a secondary index. Dropping "PRIMARY" is refused; a
// table without its primary index can't be searched or deleted from.
func (c *Catalog) DropIndex(tableName, indexName string) error {
	t, ok := c.Tables[tableName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchTable, tableName)
	}
	if indexName == "PRIMARY" {
		return fmt.Errorf("catalog: cannot drop PRIMARY index on %s", tableName)
	}
	if _, ok := t.Indexes[indexName]; !ok {
		return fmt.Errorf("%w: %s on %s", ErrNoSuchIndex, indexName, tableName)
	}
	delete(t.Indexes, indexName)
	return nil
}

// Table looks up a table definition by name.
func (c *Catalog) Table(name string) (*TableDef, error) {
	t, ok := c.Tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchTable, name)
	}
	return t, nil
}
