package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flashql/storage/catalog"
	"github.com/flashql/storage/recordstore"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := Open(t.TempDir(), 4096, 64)
	require.NoError(t, err)
	return e
}

func usersTable() []catalog.ColumnDef {
	return []catalog.ColumnDef{
		{Name: "id", Kind: catalog.KindInt, PrimaryKey: true},
		{Name: "name", Kind: catalog.KindString, Width: 16},
		{Name: "score", Kind: catalog.KindFloat},
	}
}

func TestCreateTableInsertSelect(t *testing.T) {
	e := newEngine(t)
	require.NoError(t, e.CreateTable("users", usersTable()))

	_, err := e.Insert("users", recordstore.Tuple{int32(1), "alice", 9.5})
	require.NoError(t, err)
	_, err = e.Insert("users", recordstore.Tuple{int32(2), "bob", 7.0})
	require.NoError(t, err)

	rows, err := e.SelectAll("users")
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestInsertDuplicatePrimaryKeyCompensates(t *testing.T) {
	e := newEngine(t)
	require.NoError(t, e.CreateTable("users", usersTable()))

	_, err := e.Insert("users", recordstore.Tuple{int32(1), "alice", 9.5})
	require.NoError(t, err)

	_, err = e.Insert("users", recordstore.Tuple{int32(1), "mallory", 0.0})
	require.ErrorIs(t, err, ErrDuplicateKey)

	rows, err := e.SelectAll("users")
	require.NoError(t, err)
	require.Len(t, rows, 1, "the compensating delete must have removed the half-indexed row")
	require.Equal(t, "alice", rows[0][1])
}

func TestSelectWhereAndOr(t *testing.T) {
	e := newEngine(t)
	require.NoError(t, e.CreateTable("users", usersTable()))
	for i, name := range []string{"alice", "bob", "carol", "dave"} {
		_, err := e.Insert("users", recordstore.Tuple{int32(i), name, float64(i) * 2})
		require.NoError(t, err)
	}

	rows, err := e.SelectWhere("users", Or(
		Lit("name", recordstore.Eq, "alice"),
		Lit("name", recordstore.Eq, "dave"),
	))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	rows, err = e.SelectWhere("users", And(
		Lit("id", recordstore.Gt, int32(0)),
		Lit("score", recordstore.Lt, float64(6)),
	))
	require.NoError(t, err)
	require.Len(t, rows, 2) // bob(2), carol(4)
}

func TestDeleteWhere(t *testing.T) {
	e := newEngine(t)
	require.NoError(t, e.CreateTable("users", usersTable()))
	for i := int32(0); i < 5; i++ {
		_, err := e.Insert("users", recordstore.Tuple{i, "u", float64(i)})
		require.NoError(t, err)
	}

	n, err := e.DeleteWhere("users", Lit("id", recordstore.Lt, int32(2)))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	rows, err := e.SelectAll("users")
	require.NoError(t, err)
	require.Len(t, rows, 3)
}

func TestCreateIndexBackfillsAndEnforcesUniqueness(t *testing.T) {
	e := newEngine(t)
	require.NoError(t, e.CreateTable("users", usersTable()))
	_, err := e.Insert("users", recordstore.Tuple{int32(1), "alice", 1.0})
	require.NoError(t, err)
	_, err = e.Insert("users", recordstore.Tuple{int32(2), "bob", 2.0})
	require.NoError(t, err)

	require.NoError(t, e.CreateIndex("users", "by_name", []string{"name"}, true))

	_, err = e.Insert("users", recordstore.Tuple{int32(3), "alice", 3.0})
	require.ErrorIs(t, err, ErrDuplicateKey)

	rows, err := e.SelectAll("users")
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestCloseAndReopenPersists(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, 4096, 64)
	require.NoError(t, err)
	require.NoError(t, e.CreateTable("users", usersTable()))
	_, err = e.Insert("users", recordstore.Tuple{int32(1), "alice", 9.5})
	require.NoError(t, err)
	require.NoError(t, e.Close())

	reopened, err := Open(dir, 4096, 64)
	require.NoError(t, err)
	rows, err := reopened.SelectAll("users")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "alice", rows[0][1])
}

func TestDropTableRemovesFiles(t *testing.T) {
	e := newEngine(t)
	require.NoError(t, e.CreateTable("users", usersTable()))
	require.NoError(t, e.DropTable("users"))

	_, err := e.SelectAll("users")
	require.ErrorIs(t, err, ErrSchemaError)
}
