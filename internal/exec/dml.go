package exec

import (
	"github.com/kvsql/kvsql/internal/catalog"
	"github.com/kvsql/kvsql/internal/codec"
	"github.com/kvsql/kvsql/internal/errs"
	"github.com/kvsql/kvsql/internal/eval"
	"github.com/kvsql/kvsql/internal/parser"
	"github.com/kvsql/kvsql/internal/value"
)

func (e *Executor) execInsert(ec *ExecContext, s *parser.InsertStmt) (*Result, error) {
	t, err := e.resolveTable(ec, s.Schema, s.Table)
	if err != nil {
		return nil, err
	}

	var srcRows [][]value.Value
	cols := s.Columns
	if s.Select != nil {
		res, err := e.execSelect(ec, s.Select)
		if err != nil {
			return nil, err
		}
		if len(cols) == 0 {
			cols = res.Columns
		}
		srcRows = res.Rows
	} else {
		if len(cols) == 0 {
			for _, c := range t.Columns {
				if c.Name == implicitRowidColumn {
					continue
				}
				cols = append(cols, c.Name)
			}
		}
		for _, exprRow := range s.Values {
			vctx := &eval.Context{StatementTime: ec.StatementTime, Params: ec.Params}
			row := make([]value.Value, len(exprRow))
			for i, expr := range exprRow {
				v, err := eval.Eval(vctx, expr)
				if err != nil {
					return nil, err
				}
				row[i] = v
			}
			srcRows = append(srcRows, row)
		}
	}

	result := &Result{Tag: "INSERT"}
	var returning [][]value.Value
	for _, src := range srcRows {
		rowMap, err := e.buildInsertRow(t, cols, src)
		if err != nil {
			return nil, err
		}
		created, ret, err := e.insertOrUpsert(ec, t, rowMap, s.OnConflict, s.ReturningList)
		if err != nil {
			return nil, err
		}
		if created {
			result.RowsCreated++
		} else if s.OnConflict != nil && s.OnConflict.DoUpdate {
			result.RowsUpdated++
		}
		if ret != nil {
			returning = append(returning, ret)
		}
	}
	if len(s.ReturningList) > 0 {
		result.Columns = returningColumnNames(s.ReturningList)
		result.Rows = returning
	}
	return result, nil
}

// buildInsertRow assigns defaults, coerces values to their column types,
// and enforces NOT NULL, producing a complete name-keyed row.
func (e *Executor) buildInsertRow(t *catalog.Table, cols []string, src []value.Value) (map[string]value.Value, error) {
	if len(cols) != len(src) {
		return nil, errs.New(errs.TypeMismatch, "INSERT column count mismatch for %s", t.Qualified())
	}
	row := make(map[string]value.Value, len(t.Columns))
	for i, name := range cols {
		row[name] = src[i]
	}
	for _, c := range t.Columns {
		v, given := row[c.Name]
		if !given {
			if c.Name == implicitRowidColumn {
				continue // allocated from the table's rowid sequence later, by insertOrUpsert
			}
			if c.HasDefault {
				dv, err := e.evalDefault(c)
				if err != nil {
					return nil, err
				}
				row[c.Name] = dv
				v = dv
				given = true
			} else {
				row[c.Name] = value.Null(c.Type)
				v = row[c.Name]
			}
		}
		if given && !v.IsNull() {
			if !value.AssignmentCompatible(v.Typ, c.Type) {
				return nil, errs.New(errs.TypeMismatch, "column %q is of type %s but expression is of type %s", c.Name, c.Type, v.Typ)
			}
			cv, err := eval.Cast(v, c.Type)
			if err != nil {
				return nil, err
			}
			row[c.Name] = cv
		}
		if c.NotNull && row[c.Name].IsNull() {
			return nil, errs.New(errs.NotNullViolation, "null value in column %q violates not-null constraint", c.Name)
		}
	}
	return row, nil
}

func (e *Executor) evalDefault(c catalog.Column) (value.Value, error) {
	if c.DefaultSQL == "" {
		return value.Null(c.Type), nil
	}
	expr, err := parser.ParseExpr(c.DefaultSQL)
	if err != nil {
		return value.Value{}, err
	}
	return eval.Eval(&eval.Context{}, expr)
}

// insertOrUpsert writes rowMap's row, allocating an implicit rowid if the
// table has no declared PK, honoring ON CONFLICT, and returning whether a
// fresh row was created (vs. updated by DO UPDATE) plus the RETURNING
// projection if requested.
func (e *Executor) insertOrUpsert(ec *ExecContext, t *catalog.Table, rowMap map[string]value.Value, oc *parser.OnConflict, returning []parser.SelectItem) (bool, []value.Value, error) {
	if len(t.PK) == 1 && t.PK[0] == implicitRowidColumn {
		if _, ok := rowMap[implicitRowidColumn]; !ok {
			id, err := ec.Txn.Increment(ec.Ctx, rowidSequenceKey(t), 1)
			if err != nil {
				return false, nil, errs.Wrap(errs.KvBackendError, err, "allocate rowid for %s", t.Qualified())
			}
			rowMap[implicitRowidColumn] = value.Int8(id)
		}
	}

	if err := e.checkConstraints(t, rowMap); err != nil {
		return false, nil, err
	}
	if err := e.checkForeignKeys(ec, t, rowMap); err != nil {
		return false, nil, err
	}

	pk, err := pkBytes(t, rowMap)
	if err != nil {
		return false, nil, err
	}
	rowKey := rowKeyFor(t, pk)
	_, exists, err := ec.Txn.Get(ec.Ctx, rowKey)
	if err != nil {
		return false, nil, errs.Wrap(errs.KvBackendError, err, "get row for conflict check")
	}

	conflicting := exists
	if !conflicting {
		for _, idx := range t.Indexes {
			if !idx.Unique || idx.Primary {
				continue
			}
			key, err := indexKeyFor(t, idx, rowMap)
			if err != nil {
				return false, nil, err
			}
			if _, found, err := ec.Txn.Get(ec.Ctx, key); err != nil {
				return false, nil, errs.Wrap(errs.KvBackendError, err, "unique index lookup")
			} else if found {
				conflicting = true
				break
			}
		}
	}

	if conflicting {
		if oc == nil {
			return false, nil, errs.New(errs.UniqueViolation, "duplicate key value violates unique constraint on %s", t.Qualified())
		}
		if !oc.DoUpdate {
			return false, nil, nil // DO NOTHING: no row produced, nothing RETURNING-able
		}
		existing, err := e.fetchRowByKey(t, ec, rowKey)
		if err != nil {
			return false, nil, err
		}
		merged, err := e.applyOnConflictUpdate(ec, t, existing, rowMap, oc)
		if err != nil {
			return false, nil, err
		}
		if err := e.writeRow(ec, t, existing, merged); err != nil {
			return false, nil, err
		}
		ret := projectReturning(t, merged, returning)
		return false, ret, nil
	}

	if err := e.writeRow(ec, t, nil, rowMap); err != nil {
		return false, nil, err
	}
	ret := projectReturning(t, rowMap, returning)
	return true, ret, nil
}

func (e *Executor) applyOnConflictUpdate(ec *ExecContext, t *catalog.Table, existing, excluded map[string]value.Value, oc *parser.OnConflict) (map[string]value.Value, error) {
	merged := make(map[string]value.Value, len(existing))
	for k, v := range existing {
		merged[k] = v
	}
	vctx := &eval.Context{
		StatementTime: ec.StatementTime,
		Params:        ec.Params,
		Row:           &eval.Row{Columns: qualifiedAndExcludedColumns(t, "excluded"), Values: mergedExcludedValues(existing, excluded, t)},
	}
	for _, set := range oc.Sets {
		v, err := eval.Eval(vctx, set.Value)
		if err != nil {
			return nil, err
		}
		c, ok := t.Column(set.Column)
		if !ok {
			return nil, errs.New(errs.UndefinedColumn, "column %q does not exist", set.Column)
		}
		if !v.IsNull() {
			cv, err := eval.Cast(v, c.Type)
			if err != nil {
				return nil, err
			}
			v = cv
		}
		if c.NotNull && v.IsNull() {
			return nil, errs.New(errs.NotNullViolation, "null value in column %q violates not-null constraint", c.Name)
		}
		merged[set.Column] = v
	}
	if oc.Where != nil {
		wctx := &eval.Context{StatementTime: ec.StatementTime, Params: ec.Params, Row: &eval.Row{Columns: qualifiedColumns(t, t.Name), Values: rowValues(t, merged)}}
		v, err := eval.Eval(wctx, oc.Where)
		if err != nil {
			return nil, err
		}
		if ok, isNull := v.Truthy(); isNull || !ok {
			return existing, nil
		}
	}
	return merged, nil
}

func (e *Executor) execUpdate(ec *ExecContext, s *parser.UpdateStmt) (*Result, error) {
	t, err := e.resolveTable(ec, s.Schema, s.Table)
	if err != nil {
		return nil, err
	}
	alias := s.Alias
	if alias == "" {
		alias = t.Name
	}

	result := &Result{Tag: "UPDATE"}
	var returning [][]value.Value
	var keys [][]byte
	err = e.scanTable(ec, t, alias, func(rowKey []byte, row map[string]value.Value) (bool, error) {
		keep := true
		if s.Where != nil {
			wctx := &eval.Context{StatementTime: ec.StatementTime, Params: ec.Params, Row: &eval.Row{Columns: qualifiedColumns(t, alias), Values: rowValues(t, row)}}
			v, err := eval.Eval(wctx, s.Where)
			if err != nil {
				return false, err
			}
			ok, isNull := v.Truthy()
			keep = !isNull && ok
		}
		if keep {
			keys = append(keys, append([]byte{}, rowKey...))
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	for _, rowKey := range keys {
		existing, err := e.fetchRowByKey(t, ec, rowKey)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			continue // concurrently deleted within this statement's own scan window
		}
		merged := make(map[string]value.Value, len(existing))
		for k, v := range existing {
			merged[k] = v
		}
		sctx := &eval.Context{StatementTime: ec.StatementTime, Params: ec.Params, Row: &eval.Row{Columns: qualifiedColumns(t, alias), Values: rowValues(t, existing)}}
		for _, set := range s.Sets {
			v, err := eval.Eval(sctx, set.Value)
			if err != nil {
				return nil, err
			}
			c, ok := t.Column(set.Column)
			if !ok {
				return nil, errs.New(errs.UndefinedColumn, "column %q does not exist", set.Column)
			}
			if !v.IsNull() {
				cv, err := eval.Cast(v, c.Type)
				if err != nil {
					return nil, err
				}
				v = cv
			}
			if c.NotNull && v.IsNull() {
				return nil, errs.New(errs.NotNullViolation, "null value in column %q violates not-null constraint", c.Name)
			}
			merged[set.Column] = v
		}
		if err := e.checkConstraints(t, merged); err != nil {
			return nil, err
		}
		if err := e.checkForeignKeys(ec, t, merged); err != nil {
			return nil, err
		}
		if err := e.writeRow(ec, t, existing, merged); err != nil {
			return nil, err
		}
		result.RowsUpdated++
		if ret := projectReturning(t, merged, s.ReturningList); ret != nil {
			returning = append(returning, ret)
		}
	}
	if len(s.ReturningList) > 0 {
		result.Columns = returningColumnNames(s.ReturningList)
		result.Rows = returning
	}
	return result, nil
}

func (e *Executor) execDelete(ec *ExecContext, s *parser.DeleteStmt) (*Result, error) {
	t, err := e.resolveTable(ec, s.Schema, s.Table)
	if err != nil {
		return nil, err
	}
	alias := s.Alias
	if alias == "" {
		alias = t.Name
	}

	result := &Result{Tag: "DELETE"}
	var returning [][]value.Value
	var toDelete []map[string]value.Value
	err = e.scanTable(ec, t, alias, func(_ []byte, row map[string]value.Value) (bool, error) {
		keep := true
		if s.Where != nil {
			wctx := &eval.Context{StatementTime: ec.StatementTime, Params: ec.Params, Row: &eval.Row{Columns: qualifiedColumns(t, alias), Values: rowValues(t, row)}}
			v, err := eval.Eval(wctx, s.Where)
			if err != nil {
				return false, err
			}
			ok, isNull := v.Truthy()
			keep = !isNull && ok
		}
		if keep {
			cp := make(map[string]value.Value, len(row))
			for k, v := range row {
				cp[k] = v
			}
			toDelete = append(toDelete, cp)
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	for _, row := range toDelete {
		if err := e.checkDeleteFKActions(ec, t, row); err != nil {
			return nil, err
		}
		if err := e.deleteRow(ec, t, row); err != nil {
			return nil, err
		}
		result.RowsDeleted++
		if ret := projectReturning(t, row, s.ReturningList); ret != nil {
			returning = append(returning, ret)
		}
	}
	if len(s.ReturningList) > 0 {
		result.Columns = returningColumnNames(s.ReturningList)
		result.Rows = returning
	}
	return result, nil
}

func rowKeyFor(t *catalog.Table, pk []byte) []byte { return codec.RowKey(t.ID, pk) }

func (e *Executor) fetchRowByKey(t *catalog.Table, ec *ExecContext, rowKey []byte) (map[string]value.Value, error) {
	raw, ok, err := ec.Txn.Get(ec.Ctx, rowKey)
	if err != nil {
		return nil, errs.Wrap(errs.KvBackendError, err, "get row")
	}
	if !ok {
		return nil, nil
	}
	return decodeRowValues(t, raw)
}

// writeRow rewrites the primary row and maintains every secondary index:
// old is nil for a fresh insert (no stale index entries to remove).
func (e *Executor) writeRow(ec *ExecContext, t *catalog.Table, old, row map[string]value.Value) error {
	pk, err := pkBytes(t, row)
	if err != nil {
		return err
	}
	raw, err := encodeRowValues(t, row)
	if err != nil {
		return err
	}
	if err := ec.Txn.Put(ec.Ctx, rowKeyFor(t, pk), raw); err != nil {
		return errs.Wrap(errs.KvBackendError, err, "write row")
	}
	for _, idx := range t.Indexes {
		if idx.Primary {
			continue
		}
		if old != nil {
			oldKey, err := indexKeyFor(t, idx, old)
			if err != nil {
				return err
			}
			newKey, err := indexKeyFor(t, idx, row)
			if err != nil {
				return err
			}
			if string(oldKey) == string(newKey) {
				continue
			}
			if err := ec.Txn.Delete(ec.Ctx, oldKey); err != nil {
				return errs.Wrap(errs.KvBackendError, err, "delete stale index entry")
			}
		}
		newKey, err := indexKeyFor(t, idx, row)
		if err != nil {
			return err
		}
		if err := ec.Txn.Put(ec.Ctx, newKey, nil); err != nil {
			return errs.Wrap(errs.KvBackendError, err, "write index entry")
		}
	}
	return nil
}

func (e *Executor) deleteRow(ec *ExecContext, t *catalog.Table, row map[string]value.Value) error {
	pk, err := pkBytes(t, row)
	if err != nil {
		return err
	}
	if err := ec.Txn.Delete(ec.Ctx, rowKeyFor(t, pk)); err != nil {
		return errs.Wrap(errs.KvBackendError, err, "delete row")
	}
	for _, idx := range t.Indexes {
		if idx.Primary {
			continue
		}
		key, err := indexKeyFor(t, idx, row)
		if err != nil {
			return err
		}
		if err := ec.Txn.Delete(ec.Ctx, key); err != nil {
			return errs.Wrap(errs.KvBackendError, err, "delete index entry")
		}
	}
	return nil
}

// checkConstraints evaluates every CHECK expression against row, bound
// unqualified so `price > 0` resolves regardless of the table's alias.
func (e *Executor) checkConstraints(t *catalog.Table, row map[string]value.Value) error {
	for _, chk := range t.Checks {
		expr, err := parser.ParseExpr(chk.Expr)
		if err != nil {
			return err
		}
		ctx := &eval.Context{Row: &eval.Row{Columns: qualifiedColumns(t, ""), Values: rowValues(t, row)}}
		v, err := eval.Eval(ctx, expr)
		if err != nil {
			return err
		}
		ok, isNull := v.Truthy()
		if !isNull && !ok {
			return errs.New(errs.CheckViolation, "check constraint %q violated on %s", chk.Name, t.Qualified())
		}
	}
	return nil
}

func (e *Executor) checkForeignKeys(ec *ExecContext, t *catalog.Table, row map[string]value.Value) error {
	for _, fk := range t.FKs {
		anyNull := false
		for _, c := range fk.Columns {
			if row[c].IsNull() {
				anyNull = true
				break
			}
		}
		if anyNull {
			continue // MATCH SIMPLE: any-null composite FK is not enforced
		}
		refT, ok := e.Catalog.LookupTable(fk.RefSchema, fk.RefTable)
		if !ok {
			return errs.New(errs.UndefinedTable, "referenced table %s.%s does not exist", fk.RefSchema, fk.RefTable)
		}
		refVals := make(map[string]value.Value, len(fk.RefColumns))
		for i, rc := range fk.RefColumns {
			refVals[rc] = row[fk.Columns[i]]
		}
		pk, err := pkBytes(refT, refVals)
		if err != nil {
			return err
		}
		_, found, err := ec.Txn.Get(ec.Ctx, codec.RowKey(refT.ID, pk))
		if err != nil {
			return errs.Wrap(errs.KvBackendError, err, "foreign key lookup")
		}
		if !found {
			return errs.New(errs.ForeignKeyViolation, "insert or update on table %q violates foreign key constraint %q", t.Name, fk.Name)
		}
	}
	return nil
}

// checkDeleteFKActions enforces ON DELETE RESTRICT/CASCADE/SET NULL for
// every other table's FK referencing the row about to be deleted from t.
func (e *Executor) checkDeleteFKActions(ec *ExecContext, t *catalog.Table, row map[string]value.Value) error {
	for _, other := range e.Catalog.ListTables("") {
		other := other
		for _, fk := range other.FKs {
			if fk.RefSchema != t.Schema || fk.RefTable != t.Name {
				continue
			}
			var matched []map[string]value.Value
			err := e.scanTable(ec, &other, other.Name, func(_ []byte, r map[string]value.Value) (bool, error) {
				for i, c := range fk.Columns {
					if value.Compare(r[c], row[fk.RefColumns[i]]) != 0 {
						return true, nil
					}
				}
				matched = append(matched, r)
				return true, nil
			})
			if err != nil {
				return err
			}
			if len(matched) == 0 {
				continue
			}
			switch fk.OnDelete {
			case "CASCADE":
				for _, r := range matched {
					if err := e.checkDeleteFKActions(ec, &other, r); err != nil {
						return err
					}
					if err := e.deleteRow(ec, &other, r); err != nil {
						return err
					}
				}
			case "SET NULL":
				for _, r := range matched {
					r2 := make(map[string]value.Value, len(r))
					for k, v := range r {
						r2[k] = v
					}
					for _, c := range fk.Columns {
						r2[c] = value.Null(r2[c].Typ)
					}
					if err := e.writeRow(ec, &other, r, r2); err != nil {
						return err
					}
				}
			default: // RESTRICT / NO ACTION
				return errs.New(errs.ForeignKeyViolation, "update or delete on table %q violates foreign key constraint %q on table %q", t.Name, fk.Name, other.Name)
			}
		}
	}
	return nil
}

func rowidSequenceKey(t *catalog.Table) []byte {
	return codec.SequenceKey("__table_" + t.Qualified() + "_rowid")
}

func qualifiedColumns(t *catalog.Table, alias string) []eval.ColumnName {
	cols := make([]eval.ColumnName, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = eval.ColumnName{Table: alias, Name: c.Name}
	}
	return cols
}

func qualifiedAndExcludedColumns(t *catalog.Table, excludedAlias string) []eval.ColumnName {
	base := qualifiedColumns(t, t.Name)
	exc := qualifiedColumns(t, excludedAlias)
	return append(append([]eval.ColumnName{}, base...), exc...)
}

func mergedExcludedValues(existing, excluded map[string]value.Value, t *catalog.Table) []value.Value {
	base := rowValues(t, existing)
	exc := rowValues(t, excluded)
	return append(append([]value.Value{}, base...), exc...)
}

func rowValues(t *catalog.Table, row map[string]value.Value) []value.Value {
	out := make([]value.Value, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = row[c.Name]
	}
	return out
}

func returningColumnNames(items []parser.SelectItem) []string {
	names := make([]string, len(items))
	for i, it := range items {
		if it.Alias != "" {
			names[i] = it.Alias
		} else if cr, ok := it.Expr.(*parser.ColumnRef); ok {
			names[i] = cr.Column
		} else {
			names[i] = "?column?"
		}
	}
	return names
}

func projectReturning(t *catalog.Table, row map[string]value.Value, items []parser.SelectItem) []value.Value {
	if len(items) == 0 {
		return nil
	}
	ctx := &eval.Context{Row: &eval.Row{Columns: qualifiedColumns(t, t.Name), Values: rowValues(t, row)}}
	out := make([]value.Value, 0, len(items))
	for _, it := range items {
		if it.Star {
			for _, c := range t.Columns {
				if c.Name != implicitRowidColumn {
					out = append(out, row[c.Name])
				}
			}
			continue
		}
		v, err := eval.Eval(ctx, it.Expr)
		if err != nil {
			v = value.Null(value.TypeNull)
		}
		out = append(out, v)
	}
	return out
}
