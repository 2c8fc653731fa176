// Package wire defines the narrow Go types an external PostgreSQL wire
// protocol front consumes (spec §6 "Wire protocol interface (exposed)").
// This module implements Parse/Bind/Execute/SimpleQuery as methods on
// internal/session.Session returning these types, but does not itself
// speak the wire byte protocol.
package wire

import (
	"github.com/kvsql/kvsql/internal/parser"
	"github.com/kvsql/kvsql/internal/value"
)

// ColumnDescription is one entry of a result's row description.
type ColumnDescription struct {
	Name string
	Type value.Type
}

// PreparedStatement is the result of Session.Parse: sql parsed into
// exactly one statement, ready to be bound to parameter values.
type PreparedStatement struct {
	Name       string
	SQL        string
	Stmt       parser.Statement
	ParamTypes []value.Type
}

// Portal is a PreparedStatement bound to concrete parameter values via
// Session.Bind, ready for Session.Execute.
type Portal struct {
	Name   string
	Stmt   *PreparedStatement
	Params []value.Value
}

// RowStream is a materialized result set; internal/exec always fully
// materializes before returning (spec.md's documented correctness-first
// simplification), so there is no streaming cursor behind this today.
type RowStream struct {
	Columns []ColumnDescription
	Rows    [][]value.Value
}

// CompletionTag mirrors PostgreSQL's command completion tag, e.g.
// "INSERT 0 3" or "SELECT 5".
type CompletionTag struct {
	Tag      string
	RowCount int64
}
