// Package engine is the facade binding catalog metadata, record storage,
// and index trees into the table-level operations a caller actually wants:
// create/drop table and index, insert, delete, and select.
package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/flashql/storage/bufferpool"
	"github.com/flashql/storage/catalog"
	"github.com/flashql/storage/indextree"
	"github.com/flashql/storage/recordstore"
)

// table bundles one table's open record store with every index tree
// defined on it, keyed by index name ("PRIMARY" always present).
type table struct {
	def     *catalog.TableDef
	schema  recordstore.Schema
	store   *recordstore.Store
	indexes map[string]*indextree.Tree
}

// Engine is one open database directory.
type Engine struct {
	dir  string
	pool *bufferpool.Pool
	cat  *catalog.Catalog

	tables map[string]*table
}

const catalogFileName = "catalog.json"

// Open attaches to dataDir, creating it if necessary, and reattaches every
// table and index the catalog already knows about.
func Open(dataDir string, blockSize, poolCapacity int) (*Engine, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("engine: open %s: %w", dataDir, err)
	}
	cat, err := catalog.Load(filepath.Join(dataDir, catalogFileName))
	if err != nil {
		return nil, err
	}

	e := &Engine{
		dir:    dataDir,
		pool:   bufferpool.Open(poolCapacity, blockSize),
		cat:    cat,
		tables: map[string]*table{},
	}
	for name, def := range cat.Tables {
		if err := e.reattach(name, def); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *Engine) recordPath(name string) string {
	return filepath.Join(e.dir, name+".rec")
}

func (e *Engine) indexPath(tableName, indexName string) string {
	return filepath.Join(e.dir, tableName+"."+indexName+".idx")
}

func toRecordSchema(cols []catalog.ColumnDef) recordstore.Schema {
	out := make([]recordstore.ColumnDef, len(cols))
	for i, c := range cols {
		out[i] = recordstore.ColumnDef{Name: c.Name, Kind: recordstore.ColumnKind(kindIndex(c.Kind)), Width: c.Width}
	}
	return recordstore.Schema{Columns: out}
}

func kindIndex(k catalog.ColumnKind) int {
	switch k {
	case catalog.KindInt:
		return int(recordstore.KindInt)
	case catalog.KindFloat:
		return int(recordstore.KindFloat)
	case catalog.KindString:
		return int(recordstore.KindString)
	default:
		return int(recordstore.KindInt)
	}
}

// keyCodecFor builds the KeyCodec for one index: the index's own columns,
// plus, for non-unique indexes, a trailing synthetic int32 column carrying
// the record offset, so distinct rows with equal index columns still pack
// to distinct tree keys.
func keyCodecFor(t *catalog.TableDef, idx catalog.IndexDef) indextree.KeyCodec {
	cols := make([]indextree.ColumnDef, 0, len(idx.Columns)+1)
	for _, ci := range idx.Columns {
		c := t.Columns[ci]
		cols = append(cols, indextree.ColumnDef{Kind: indextree.ColumnKind(kindIndex(c.Kind)), Width: c.Width})
	}
	if !idx.Unique {
		cols = append(cols, indextree.ColumnDef{Kind: indextree.KindInt})
	}
	return indextree.KeyCodec{Columns: cols}
}

func keyFor(idx catalog.IndexDef, t recordstore.Tuple, offset int32) indextree.Key {
	k := make(indextree.Key, 0, len(idx.Columns)+1)
	for _, ci := range idx.Columns {
		k = append(k, t[ci])
	}
	if !idx.Unique {
		k = append(k, offset)
	}
	return k
}

func (e *Engine) reattach(name string, def *catalog.TableDef) error {
	schema := toRecordSchema(def.Columns)
	store, err := recordstore.Open(e.pool, e.recordPath(name), schema)
	if err != nil {
		return err
	}
	tbl := &table{def: def, schema: schema, store: store, indexes: map[string]*indextree.Tree{}}
	for idxName, idx := range def.Indexes {
		tree, err := indextree.Open(e.pool, e.indexPath(name, idxName), keyCodecFor(def, idx))
		if err != nil {
			return err
		}
		tbl.indexes[idxName] = tree
	}
	e.tables[name] = tbl
	return nil
}

// CreateTable defines a new table and its PRIMARY index, then persists the
// catalog immediately.
func (e *Engine) CreateTable(name string, columns []catalog.ColumnDef) error {
	def, err := e.cat.CreateTable(name, columns)
	if err != nil {
		return err
	}
	schema := toRecordSchema(columns)
	store, err := recordstore.Init(e.pool, e.recordPath(name), schema)
	if err != nil {
		return err
	}
	tbl := &table{def: def, schema: schema, store: store, indexes: map[string]*indextree.Tree{}}
	for idxName, idx := range def.Indexes {
		tree, err := indextree.Create(e.pool, e.indexPath(name, idxName), keyCodecFor(def, idx))
		if err != nil {
			return err
		}
		tbl.indexes[idxName] = tree
	}
	e.tables[name] = tbl
	return e.cat.Dump(filepath.Join(e.dir, catalogFileName))
}

// DropTable detaches and removes a table and every one of its index files.
func (e *Engine) DropTable(name string) error {
	tbl, ok := e.tables[name]
	if !ok {
		return fmt.Errorf("%w: table %q", ErrSchemaError, name)
	}
	for idxName, tree := range tbl.indexes {
		if err := tree.Close(); err != nil {
			return err
		}
		_ = os.Remove(e.indexPath(name, idxName))
	}
	if err := tbl.store.Close(); err != nil {
		return err
	}
	_ = os.Remove(e.recordPath(name))

	if err := e.cat.DropTable(name); err != nil {
		return err
	}
	delete(e.tables, name)
	return e.cat.Dump(filepath.Join(e.dir, catalogFileName))
}

// CreateIndex adds and backfills a secondary index over existing rows.
func (e *Engine) CreateIndex(tableName, indexName string, columnNames []string, unique bool) error {
	tbl, ok := e.tables[tableName]
	if !ok {
		return fmt.Errorf("%w: table %q", ErrSchemaError, tableName)
	}
	def, err := e.cat.CreateIndex(tableName, indexName, columnNames, unique)
	if err != nil {
		return err
	}
	idx := def.Indexes[indexName]

	tree, err := indextree.Create(e.pool, e.indexPath(tableName, indexName), keyCodecFor(def, idx))
	if err != nil {
		return err
	}
	entries, err := tbl.store.Scan(nil)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := tree.Insert(keyFor(idx, entry.Tuple, entry.Offset), entry.Offset); err != nil {
			return fmt.Errorf("engine: backfilling index %s: %w", indexName, err)
		}
	}
	tbl.indexes[indexName] = tree
	return e.cat.Dump(filepath.Join(e.dir, catalogFileName))
}

// DropIndex removes a secondary index. Dropping "PRIMARY" is refused by the
// catalog layer.
func (e *Engine) DropIndex(tableName, indexName string) error {
	tbl, ok := e.tables[tableName]
	if !ok {
		return fmt.Errorf("%w: table %q", ErrSchemaError, tableName)
	}
	if err := e.cat.DropIndex(tableName, indexName); err != nil {
		return err
	}
	tree := tbl.indexes[indexName]
	if err := tree.Close(); err != nil {
		return err
	}
	_ = os.Remove(e.indexPath(tableName, indexName))
	delete(tbl.indexes, indexName)
	return e.cat.Dump(filepath.Join(e.dir, catalogFileName))
}

// Insert adds one row, maintaining every index. If any unique index
// already holds the row's key, the row (and any index entries already
// written for it) are deleted before ErrDuplicateKey is returned, so a
// failed insert never leaves a half-indexed row behind.
func (e *Engine) Insert(tableName string, t recordstore.Tuple) (int32, error) {
	tbl, ok := e.tables[tableName]
	if !ok {
		return 0, fmt.Errorf("%w: table %q", ErrSchemaError, tableName)
	}

	offset, err := tbl.store.Insert(t)
	if err != nil {
		return 0, err
	}

	var written []string
	for name, idx := range tbl.def.Indexes {
		tree := tbl.indexes[name]
		if err := tree.Insert(keyFor(idx, t, offset), offset); err != nil {
			e.compensate(tbl, t, offset, written)
			if isDuplicateErr(err) {
				return 0, fmt.Errorf("%w: index %s on %s", ErrDuplicateKey, name, tableName)
			}
			return 0, err
		}
		written = append(written, name)
	}
	return offset, nil
}

func isDuplicateErr(err error) bool {
	return errors.Is(err, indextree.ErrDuplicate)
}

// compensate undoes a partially-indexed insert: it deletes the row from
// every index that did accept it, then deletes the row itself.
func (e *Engine) compensate(tbl *table, t recordstore.Tuple, offset int32, writtenIndexes []string) {
	for _, name := range writtenIndexes {
		idx := tbl.def.Indexes[name]
		_ = tbl.indexes[name].Delete(keyFor(idx, t, offset))
	}
	_ = tbl.store.Delete(offset)
}

// DeleteAll removes every row of a table and every index entry for them.
func (e *Engine) DeleteAll(tableName string) (int, error) {
	return e.DeleteWhere(tableName, Expr{})
}

// DeleteWhere removes every row matching expr and its index entries.
func (e *Engine) DeleteWhere(tableName string, expr Expr) (int, error) {
	tbl, ok := e.tables[tableName]
	if !ok {
		return 0, fmt.Errorf("%w: table %q", ErrSchemaError, tableName)
	}
	matches, err := e.matchingEntries(tbl, expr)
	if err != nil {
		return 0, err
	}
	for _, entry := range matches {
		for name, idx := range tbl.def.Indexes {
			if err := tbl.indexes[name].Delete(keyFor(idx, entry.Tuple, entry.Offset)); err != nil {
				return 0, err
			}
		}
		if err := tbl.store.Delete(entry.Offset); err != nil {
			return 0, err
		}
	}
	return len(matches), nil
}

// SelectAll returns every row of a table.
func (e *Engine) SelectAll(tableName string) ([]recordstore.Tuple, error) {
	return e.SelectWhere(tableName, Expr{})
}

// SelectWhere returns every row matching expr.
func (e *Engine) SelectWhere(tableName string, expr Expr) ([]recordstore.Tuple, error) {
	tbl, ok := e.tables[tableName]
	if !ok {
		return nil, fmt.Errorf("%w: table %q", ErrSchemaError, tableName)
	}
	entries, err := e.matchingEntries(tbl, expr)
	if err != nil {
		return nil, err
	}
	out := make([]recordstore.Tuple, len(entries))
	for i, e := range entries {
		out[i] = e.Tuple
	}
	return out, nil
}

func (e *Engine) matchingEntries(tbl *table, expr Expr) ([]recordstore.ScanEntry, error) {
	entries, err := tbl.store.Scan(nil)
	if err != nil {
		return nil, err
	}
	if expr.Leaf == nil && len(expr.And) == 0 && len(expr.Or) == 0 {
		return entries, nil
	}
	filter, err := compile(expr, func(name string) (int, bool) {
		idx := tbl.def.ColumnIndex(name)
		return idx, idx >= 0
	})
	if err != nil {
		return nil, err
	}
	var out []recordstore.ScanEntry
	for _, e := range entries {
		if filter(e.Tuple) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Close flushes and detaches every open table and index, then dumps the
// catalog one last time, so a caller never needs to remember to do it
// themselves.
func (e *Engine) Close() error {
	for _, tbl := range e.tables {
		for _, tree := range tbl.indexes {
			if err := tree.Close(); err != nil {
				return err
			}
		}
		if err := tbl.store.Close(); err != nil {
			return err
		}
	}
	if err := e.cat.Dump(filepath.Join(e.dir, catalogFileName)); err != nil {
		return err
	}
	return e.pool.Shutdown()
}
