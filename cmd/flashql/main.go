// flashql is a REPL for the storage engine: a fixed, small verb set over
// tables, rows, and indexes. It is not a SQL shell; there is no lexer or
// parser behind it, just whitespace-split commands.
//
// Usage:
//
//	flashql [--data-dir DIR] [--config FILE] [--block-size N] [--pool-capacity N]
//
// Commands (in REPL):
//
//	createtable <name> <col:kind[:width][:pk]>...   Define a table
//	droptable <name>                                Drop a table
//	createindex <table> <index> <col> [unique]      Add a secondary index
//	dropindex <table> <index>                       Drop a secondary index
//	insert <table> <v1> <v2> ...                    Insert one row
//	select <table> [col op value]                   Show matching rows
//	delete <table> [col op value]                   Delete matching rows
//	help                                             Show this help
//	exit / quit / q                                  Exit
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"github.com/flashql/storage/catalog"
	"github.com/flashql/storage/config"
	"github.com/flashql/storage/engine"
	"github.com/flashql/storage/recordstore"
)

func main() {
	dataDir := flag.String("data-dir", "", "database directory (overrides config)")
	configPath := flag.String("config", "", "explicit config file path")
	blockSize := flag.Int("block-size", 0, "block size in bytes (overrides config)")
	poolCapacity := flag.Int("pool-capacity", 0, "buffer pool frame capacity (overrides config)")
	flag.Parse()

	workDir, err := os.Getwd()
	if err != nil {
		fmt.Fprintln(os.Stderr, "flashql:", err)
		os.Exit(1)
	}

	cfg, _, err := config.Load(workDir, *configPath, config.Config{
		DataDir:      *dataDir,
		BlockSize:    *blockSize,
		PoolCapacity: *poolCapacity,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "flashql:", err)
		os.Exit(1)
	}

	e, err := engine.Open(cfg.DataDir, cfg.BlockSize, cfg.PoolCapacity)
	if err != nil {
		fmt.Fprintln(os.Stderr, "flashql:", err)
		os.Exit(1)
	}
	defer e.Close()

	r := &repl{engine: e}
	if err := r.run(); err != nil {
		fmt.Fprintln(os.Stderr, "flashql:", err)
		os.Exit(1)
	}
}

type repl struct {
	engine *engine.Engine
	liner  *liner.State
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".flashql_history")
}

func (r *repl) run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()
	r.liner.SetCtrlCAborts(true)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Println("flashql - type 'help' for available commands")

	for {
		line, err := r.liner.Prompt("flashql> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println("\nbye")
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r.liner.AppendHistory(line)

		if f, err := os.Create(historyFile()); err == nil {
			r.liner.WriteHistory(f)
			f.Close()
		}

		fields := strings.Fields(line)
		cmd := strings.ToLower(fields[0])
		args := fields[1:]

		if cmd == "exit" || cmd == "quit" || cmd == "q" {
			fmt.Println("bye")
			return nil
		}
		if err := r.dispatch(cmd, args); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
	}
}

func (r *repl) dispatch(cmd string, args []string) error {
	switch cmd {
	case "help":
		printHelp()
		return nil
	case "createtable":
		return r.createTable(args)
	case "droptable":
		return r.dropTable(args)
	case "createindex":
		return r.createIndex(args)
	case "dropindex":
		return r.dropIndex(args)
	case "insert":
		return r.insert(args)
	case "select":
		return r.selectRows(args)
	case "delete":
		return r.delete(args)
	default:
		return fmt.Errorf("unknown command %q (try 'help')", cmd)
	}
}

func printHelp() {
	fmt.Println(`createtable <name> <col:kind[:width][:pk]>...
droptable <name>
createindex <table> <index> <col> [unique]
dropindex <table> <index>
insert <table> <v1> <v2> ...
select <table> [col op value]
delete <table> [col op value]
exit / quit / q`)
}

func (r *repl) createTable(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: createtable <name> <col:kind[:width][:pk]>...")
	}
	name := args[0]
	cols := make([]catalog.ColumnDef, 0, len(args)-1)
	for _, spec := range args[1:] {
		parts := strings.Split(spec, ":")
		col := catalog.ColumnDef{Name: parts[0]}
		if len(parts) < 2 {
			return fmt.Errorf("column %q needs a kind", spec)
		}
		switch strings.ToLower(parts[1]) {
		case "int":
			col.Kind = catalog.KindInt
		case "float":
			col.Kind = catalog.KindFloat
		case "string":
			col.Kind = catalog.KindString
		default:
			return fmt.Errorf("column %q: unknown kind %q", spec, parts[1])
		}
		for _, tag := range parts[2:] {
			switch {
			case tag == "pk":
				col.PrimaryKey = true
			case tag == "unique":
				col.Unique = true
			default:
				if w, err := strconv.Atoi(tag); err == nil {
					col.Width = w
				}
			}
		}
		cols = append(cols, col)
	}
	return r.engine.CreateTable(name, cols)
}

func (r *repl) dropTable(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: droptable <name>")
	}
	return r.engine.DropTable(args[0])
}

func (r *repl) createIndex(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: createindex <table> <index> <col> [unique]")
	}
	unique := len(args) > 3 && args[3] == "unique"
	return r.engine.CreateIndex(args[0], args[1], []string{args[2]}, unique)
}

func (r *repl) dropIndex(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: dropindex <table> <index>")
	}
	return r.engine.DropIndex(args[0], args[1])
}

func (r *repl) insert(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: insert <table> <v1> <v2> ...")
	}
	tuple := make(recordstore.Tuple, len(args)-1)
	for i, raw := range args[1:] {
		tuple[i] = parseLiteral(raw)
	}
	offset, err := r.engine.Insert(args[0], tuple)
	if err != nil {
		return err
	}
	fmt.Printf("inserted at offset %d\n", offset)
	return nil
}

func (r *repl) selectRows(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: select <table> [col op value]")
	}
	table := args[0]
	var rows []recordstore.Tuple
	var err error
	if len(args) == 1 {
		rows, err = r.engine.SelectAll(table)
	} else if len(args) == 4 {
		rows, err = r.engine.SelectWhere(table, engine.Lit(args[1], parseComparator(args[2]), parseLiteral(args[3])))
	} else {
		return fmt.Errorf("usage: select <table> [col op value]")
	}
	if err != nil {
		return err
	}
	for _, row := range rows {
		fmt.Println(formatRow(row))
	}
	fmt.Printf("(%d rows)\n", len(rows))
	return nil
}

func (r *repl) delete(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: delete <table> [col op value]")
	}
	table := args[0]
	var n int
	var err error
	if len(args) == 1 {
		n, err = r.engine.DeleteAll(table)
	} else if len(args) == 4 {
		n, err = r.engine.DeleteWhere(table, engine.Lit(args[1], parseComparator(args[2]), parseLiteral(args[3])))
	} else {
		return fmt.Errorf("usage: delete <table> [col op value]")
	}
	if err != nil {
		return err
	}
	fmt.Printf("deleted %d rows\n", n)
	return nil
}

func parseComparator(s string) recordstore.Comparator {
	switch s {
	case "<":
		return recordstore.Lt
	case ">":
		return recordstore.Gt
	default:
		return recordstore.Eq
	}
}

func parseLiteral(raw string) any {
	if i, err := strconv.ParseInt(raw, 10, 32); err == nil {
		return int32(i)
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

func formatRow(row recordstore.Tuple) string {
	parts := make([]string, len(row))
	for i, v := range row {
		parts[i] = fmt.Sprintf("%v", v)
	}
	return strings.Join(parts, "\t")
}
