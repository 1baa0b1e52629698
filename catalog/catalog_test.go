package catalog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateTableBuildsPrimaryIndex(t *testing.T) {
	c := New()
	tbl, err := c.CreateTable("users", []ColumnDef{
		{Name: "id", Kind: KindInt, PrimaryKey: true},
		{Name: "name", Kind: KindString, Width: 32},
	})
	require.NoError(t, err)
	require.Contains(t, tbl.Indexes, "PRIMARY")
	require.Equal(t, []int{0}, tbl.Indexes["PRIMARY"].Columns)
}

func TestCreateTableNoPrimaryKeyFails(t *testing.T) {
	c := New()
	_, err := c.CreateTable("users", []ColumnDef{{Name: "id", Kind: KindInt}})
	require.ErrorIs(t, err, ErrNoPrimaryKey)
}

func TestCreateTableDuplicateFails(t *testing.T) {
	c := New()
	cols := []ColumnDef{{Name: "id", Kind: KindInt, PrimaryKey: true}}
	_, err := c.CreateTable("users", cols)
	require.NoError(t, err)

	_, err = c.CreateTable("users", cols)
	require.ErrorIs(t, err, ErrTableExists)
}

func TestCreateAndDropIndex(t *testing.T) {
	c := New()
	_, err := c.CreateTable("users", []ColumnDef{
		{Name: "id", Kind: KindInt, PrimaryKey: true},
		{Name: "email", Kind: KindString, Width: 64},
	})
	require.NoError(t, err)

	tbl, err := c.CreateIndex("users", "by_email", []string{"email"}, true)
	require.NoError(t, err)
	require.Contains(t, tbl.Indexes, "by_email")

	require.NoError(t, c.DropIndex("users", "by_email"))
	require.NotContains(t, tbl.Indexes, "by_email")

	err = c.DropIndex("users", "PRIMARY")
	require.Error(t, err)
}

func TestDropTable(t *testing.T) {
	c := New()
	_, err := c.CreateTable("users", []ColumnDef{{Name: "id", Kind: KindInt, PrimaryKey: true}})
	require.NoError(t, err)

	require.NoError(t, c.DropTable("users"))
	_, err = c.Table("users")
	require.ErrorIs(t, err, ErrNoSuchTable)
}

func TestDumpLoadRoundTrip(t *testing.T) {
	c := New()
	_, err := c.CreateTable("users", []ColumnDef{
		{Name: "id", Kind: KindInt, PrimaryKey: true},
		{Name: "score", Kind: KindFloat},
	})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, c.Dump(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	tbl, err := loaded.Table("users")
	require.NoError(t, err)
	require.Len(t, tbl.Columns, 2)
	require.Equal(t, KindFloat, tbl.Columns[1].Kind)
}

func TestLoadMissingFileReturnsEmptyCatalog(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	require.NoError(t, err)
	require.Empty(t, c.Tables)
}
