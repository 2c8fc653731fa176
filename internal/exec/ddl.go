package exec

import (
	"github.com/kvsql/kvsql/internal/catalog"
	"github.com/kvsql/kvsql/internal/codec"
	"github.com/kvsql/kvsql/internal/errs"
	"github.com/kvsql/kvsql/internal/parser"
	"github.com/kvsql/kvsql/internal/value"
)

// refreshLocal rebuilds the shared catalog snapshot from ec.Txn's own
// view, immediately after a DDL write, so later statements in the same
// transaction (and same session) see the new definition without waiting
// for commit. Because every session reads the catalog's KV namespace
// through its own isolated txn, a concurrent session's Refresh never
// observes this transaction's uncommitted rows; the only accepted gap is
// that if this DDL transaction later rolls back, the shared cache holds a
// stale entry until the next successful Refresh corrects it (documented
// in DESIGN.md).
func (e *Executor) refreshLocal(ec *ExecContext) error {
	return e.Catalog.Refresh(ec.Ctx, ec.Txn)
}

func (e *Executor) execCreateTable(ec *ExecContext, s *parser.CreateTableStmt) (*Result, error) {
	schema := s.Schema
	if schema == "" {
		schema = searchPathDefault(ec)
	}
	if _, exists := e.Catalog.LookupTable(schema, s.Table); exists {
		if s.IfNotExists {
			return &Result{Tag: "CREATE TABLE"}, nil
		}
		return nil, errs.New(errs.KvBackendError, "relation %q already exists", s.Table)
	}

	t := &catalog.Table{Schema: schema, Name: s.Table}
	for i, c := range s.Columns {
		t.Columns = append(t.Columns, catalog.Column{
			Name:       c.Name,
			Ordinal:    uint16(i),
			Type:       c.Type,
			NotNull:    c.NotNull || c.PrimaryKey,
			HasDefault: c.HasDefault,
			DefaultSQL: defaultSQLOf(c),
		})
		if c.PrimaryKey {
			t.PK = append(t.PK, c.Name)
		}
	}
	if len(s.PrimaryKey) > 0 {
		t.PK = s.PrimaryKey
	}
	if len(t.PK) == 0 {
		t.Columns = append(t.Columns, catalog.Column{
			Name:    implicitRowidColumn,
			Ordinal: uint16(len(t.Columns)),
			Type:    value.TypeInt8,
			NotNull: true,
		})
		t.PK = []string{implicitRowidColumn}
	}
	t.Indexes = append(t.Indexes, catalog.Index{
		Name:    s.Table + "_pkey",
		ID:      0,
		Unique:  true,
		Primary: true,
		Columns: indexColumnsOf(t.PK),
	})
	for _, fk := range s.ForeignKeys {
		t.FKs = append(t.FKs, catalog.ForeignKey{
			Name:       s.Table + "_" + fk.Columns[0] + "_fkey",
			Columns:    fk.Columns,
			RefSchema:  fk.RefSchema,
			RefTable:   fk.RefTable,
			RefColumns: fk.RefColumns,
			OnDelete:   fk.OnDelete,
			OnUpdate:   fk.OnUpdate,
		})
	}
	for _, chk := range s.Checks {
		t.Checks = append(t.Checks, catalog.CheckConstraint{
			Name: chk.Name,
			Expr: parser.DeparseExpr(chk.Expr),
		})
	}

	if err := e.Catalog.CreateTable(ec.Ctx, ec.Txn, t); err != nil {
		return nil, err
	}
	if err := e.refreshLocal(ec); err != nil {
		return nil, err
	}
	return &Result{Tag: "CREATE TABLE"}, nil
}

func (e *Executor) execDropTable(ec *ExecContext, s *parser.DropTableStmt) (*Result, error) {
	t, err := e.resolveTable(ec, s.Schema, s.Table)
	if err != nil {
		if s.IfExists {
			if kind, ok := errs.KindOf(err); ok && kind == errs.UndefinedTable {
				return &Result{Tag: "DROP TABLE"}, nil
			}
		}
		return nil, err
	}
	if err := e.deleteTableData(ec, t); err != nil {
		return nil, err
	}
	if err := e.Catalog.DropTable(ec.Ctx, ec.Txn, t.Schema, t.Name, s.Cascade); err != nil {
		return nil, err
	}
	if err := e.refreshLocal(ec); err != nil {
		return nil, err
	}
	return &Result{Tag: "DROP TABLE"}, nil
}

// deleteTableData scans and removes every row and secondary-index entry
// under t's key prefixes, since catalog.DropTable only removes the
// catalog record itself (spec §3's catalog is metadata-only; the rows
// live under a separate KV prefix that nothing else will reclaim).
func (e *Executor) deleteTableData(ec *ExecContext, t *catalog.Table) error {
	start := codec.RowKey(t.ID, nil)
	end := codec.RowKey(t.ID+1, nil)
	it, err := ec.Txn.Scan(ec.Ctx, start, end, 0, false)
	if err != nil {
		return errs.Wrap(errs.KvBackendError, err, "scan rows for drop table %s", t.Qualified())
	}
	var keys [][]byte
	for it.Next() {
		keys = append(keys, append([]byte{}, it.Entry().Key...))
	}
	if err := it.Err(); err != nil {
		it.Close()
		return err
	}
	it.Close()
	for _, k := range keys {
		if err := ec.Txn.Delete(ec.Ctx, k); err != nil {
			return errs.Wrap(errs.KvBackendError, err, "delete row during drop table %s", t.Qualified())
		}
	}
	for _, idx := range t.Indexes {
		if idx.Primary {
			continue
		}
		if err := e.deleteIndexRange(ec, t.ID, idx.ID); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) deleteIndexRange(ec *ExecContext, tableID uint32, indexID uint32) error {
	prefix := codec.IndexKeyPrefix(tableID, indexID)
	end := codec.IndexKeyPrefix(tableID, indexID+1)
	it, err := ec.Txn.Scan(ec.Ctx, prefix, end, 0, false)
	if err != nil {
		return errs.Wrap(errs.KvBackendError, err, "scan index %d.%d", tableID, indexID)
	}
	var keys [][]byte
	for it.Next() {
		keys = append(keys, append([]byte{}, it.Entry().Key...))
	}
	if err := it.Err(); err != nil {
		it.Close()
		return err
	}
	it.Close()
	for _, k := range keys {
		if err := ec.Txn.Delete(ec.Ctx, k); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) execCreateIndex(ec *ExecContext, s *parser.CreateIndexStmt) (*Result, error) {
	t, err := e.resolveTable(ec, s.Schema, s.Table)
	if err != nil {
		return nil, err
	}
	id, err := ec.Txn.Increment(ec.Ctx, codec.SequenceKey("__table_"+t.Qualified()+"_index_id"), 1)
	if err != nil {
		return nil, errs.Wrap(errs.KvBackendError, err, "allocate index id")
	}
	cols := make([]catalog.IndexColumn, len(s.Columns))
	for i, c := range s.Columns {
		cols[i] = catalog.IndexColumn{Name: c.Name, Desc: c.Desc}
	}
	idx := catalog.Index{Name: s.Name, ID: uint32(id), Unique: s.Unique, Columns: cols}
	t2 := *t
	t2.Indexes = append(append([]catalog.Index{}, t.Indexes...), idx)
	if err := e.Catalog.AlterTable(ec.Ctx, ec.Txn, &t2); err != nil {
		return nil, err
	}
	if err := e.refreshLocal(ec); err != nil {
		return nil, err
	}
	if err := e.backfillIndex(ec, &t2, idx); err != nil {
		return nil, err
	}
	return &Result{Tag: "CREATE INDEX"}, nil
}

// backfillIndex writes an index entry for every row already present in
// t, for an index created after the table already has data.
func (e *Executor) backfillIndex(ec *ExecContext, t *catalog.Table, idx catalog.Index) error {
	return e.scanTable(ec, t, t.Name, func(_ []byte, row map[string]value.Value) (bool, error) {
		key, err := indexKeyFor(t, idx, row)
		if err != nil {
			return false, err
		}
		if err := ec.Txn.Put(ec.Ctx, key, nil); err != nil {
			return false, errs.Wrap(errs.KvBackendError, err, "backfill index %s", idx.Name)
		}
		return true, nil
	})
}

func (e *Executor) execCreateView(ec *ExecContext, s *parser.CreateViewStmt) (*Result, error) {
	schema := s.Schema
	if schema == "" {
		schema = searchPathDefault(ec)
	}
	v := &catalog.View{Schema: schema, Name: s.Name, Query: parser.Deparse(s.Query)}
	if err := e.Catalog.PutView(ec.Ctx, ec.Txn, v); err != nil {
		return nil, err
	}
	if err := e.refreshLocal(ec); err != nil {
		return nil, err
	}
	return &Result{Tag: "CREATE VIEW"}, nil
}

func (e *Executor) execDropView(ec *ExecContext, s *parser.DropViewStmt) (*Result, error) {
	schema := s.Schema
	if schema == "" {
		schema = searchPathDefault(ec)
	}
	if err := e.Catalog.DropView(ec.Ctx, ec.Txn, schema, s.Name); err != nil {
		if s.IfExists {
			if kind, ok := errs.KindOf(err); ok && kind == errs.UndefinedTable {
				return &Result{Tag: "DROP VIEW"}, nil
			}
		}
		return nil, err
	}
	if err := e.refreshLocal(ec); err != nil {
		return nil, err
	}
	return &Result{Tag: "DROP VIEW"}, nil
}

func searchPathDefault(ec *ExecContext) string {
	if len(ec.SearchPath) > 0 {
		return ec.SearchPath[0]
	}
	return "public"
}

func indexColumnsOf(names []string) []catalog.IndexColumn {
	cols := make([]catalog.IndexColumn, len(names))
	for i, n := range names {
		cols[i] = catalog.IndexColumn{Name: n}
	}
	return cols
}

func defaultSQLOf(c parser.ColumnDef) string {
	if !c.HasDefault || c.Default == nil {
		return ""
	}
	return parser.DeparseExpr(c.Default)
}
