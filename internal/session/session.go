// Package session implements the connection-level state machine (C7,
// spec §4.6): transaction control, isolation-level-aware kv.Txn
// lifetime, savepoints, and SET handling, sitting in front of
// internal/exec so that statement execution never has to know about
// BEGIN/COMMIT/ROLLBACK itself.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/kvsql/kvsql/internal/errs"
	"github.com/kvsql/kvsql/internal/exec"
	"github.com/kvsql/kvsql/internal/kv"
	"github.com/kvsql/kvsql/internal/parser"
	"github.com/kvsql/kvsql/internal/value"
	"github.com/kvsql/kvsql/internal/wire"
)

// State is one of the three states spec §4.6 names for a session.
type State int

const (
	StateIdle State = iota
	StateInTxn
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInTxn:
		return "in_txn"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Info is a read-only snapshot of a session's state, safe to hand to the
// admin surface (spec §7 "/debug/sessions").
type Info struct {
	ID          string
	CurrentUser string
	Database    string
	State       string
	Isolation   string
	SearchPath  []string
	InTxnSince  bool
	Savepoints  []string
}

// Session is one client connection's state: the authenticated role, the
// session-local GUCs a wire front would expose via SET, the transaction
// state machine, and the prepared statement / portal cache a wire front
// fills via Parse/Bind.
type Session struct {
	mu sync.Mutex

	id          string
	currentUser string
	database    string
	searchPath  []string
	timezone    string

	backend  kv.Backend
	executor *exec.Executor

	state      State
	txn        kv.Txn
	isolation  kv.Isolation
	explicit   bool // true once an explicit BEGIN opened the current transaction
	savepoints []string

	prepared map[string]*wire.PreparedStatement
	portals  map[string]*wire.Portal
}

func newSession(id, currentUser, database string, backend kv.Backend, executor *exec.Executor) *Session {
	return &Session{
		id:          id,
		currentUser: currentUser,
		database:    database,
		searchPath:  []string{"public"},
		timezone:    "UTC",
		state:       StateIdle,
		backend:     backend,
		executor:    executor,
		prepared:    make(map[string]*wire.PreparedStatement),
		portals:     make(map[string]*wire.Portal),
	}
}

// ID returns the session's identifier, as registered with its Manager.
func (sess *Session) ID() string { return sess.id }

// Info snapshots the session's current state for display.
func (sess *Session) Info() Info {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return Info{
		ID:          sess.id,
		CurrentUser: sess.currentUser,
		Database:    sess.database,
		State:       sess.state.String(),
		Isolation:   isolationName(sess.isolation),
		SearchPath:  append([]string(nil), sess.searchPath...),
		InTxnSince:  sess.state != StateIdle,
		Savepoints:  append([]string(nil), sess.savepoints...),
	}
}

// Cancel aborts the session's active transaction, if any (spec §5
// "query cancellation rolls back the session's kv.Txn").
func (sess *Session) Cancel(ctx context.Context) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.txn != nil {
		sess.txn.Rollback(ctx)
		sess.resetTxnState()
	}
}

// Exec runs a single already-parsed statement with no bind parameters:
// the path a program driving the engine directly (or a simple-query
// batch member) uses.
func (sess *Session) Exec(ctx context.Context, stmt parser.Statement) (*exec.Result, error) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.execLocked(ctx, stmt, nil)
}

// SimpleQuery parses sql as a (possibly multi-statement) batch and
// executes each statement in turn, stopping at the first error -
// matching the simple query protocol's all-or-nothing-from-here
// behavior. A BEGIN/COMMIT pair inside the batch is handled exactly like
// one issued over separate Exec calls, since both funnel through the
// same execLocked transaction bookkeeping.
func (sess *Session) SimpleQuery(ctx context.Context, sql string) ([]*wire.RowStream, []*wire.CompletionTag, error) {
	stmts, err := parser.Parse(sql)
	if err != nil {
		return nil, nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	var streams []*wire.RowStream
	var tags []*wire.CompletionTag
	for _, stmt := range stmts {
		res, err := sess.execLocked(ctx, stmt, nil)
		if err != nil {
			return streams, tags, err
		}
		streams = append(streams, &wire.RowStream{Columns: columnDescs(res.Columns), Rows: res.Rows})
		tags = append(tags, &wire.CompletionTag{Tag: completionTag(stmt, res), RowCount: rowCountOf(stmt, res)})
	}
	return streams, tags, nil
}

// Parse implements the extended query protocol's Parse step: sql must be
// exactly one statement, stored under name for later Bind (name == ""
// is the unnamed prepared statement, which a later Parse silently
// replaces).
func (sess *Session) Parse(name, sql string) (*wire.PreparedStatement, error) {
	stmts, err := parser.Parse(sql)
	if err != nil {
		return nil, err
	}
	if len(stmts) != 1 {
		return nil, errs.New(errs.SyntaxError, "cannot insert multiple commands into a prepared statement")
	}
	ps := &wire.PreparedStatement{Name: name, SQL: sql, Stmt: stmts[0]}
	sess.mu.Lock()
	sess.prepared[name] = ps
	sess.mu.Unlock()
	return ps, nil
}

// Bind implements the extended query protocol's Bind step: attaches
// param values to the named prepared statement, producing a portal
// addressable by portalName (also "" for the unnamed portal).
func (sess *Session) Bind(portalName, stmtName string, params []value.Value) (*wire.Portal, error) {
	sess.mu.Lock()
	ps, ok := sess.prepared[stmtName]
	sess.mu.Unlock()
	if !ok {
		return nil, errs.New(errs.UndefinedFunction, "prepared statement %q does not exist", stmtName)
	}
	portal := &wire.Portal{Name: portalName, Stmt: ps, Params: params}
	sess.mu.Lock()
	sess.portals[portalName] = portal
	sess.mu.Unlock()
	return portal, nil
}

// Execute implements the extended query protocol's Execute step.
// maxRows <= 0 means return every row.
func (sess *Session) Execute(ctx context.Context, portal *wire.Portal, maxRows int) (*wire.RowStream, *wire.CompletionTag, error) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	res, err := sess.execLocked(ctx, portal.Stmt.Stmt, portal.Params)
	if err != nil {
		return nil, nil, err
	}
	rows := res.Rows
	if maxRows > 0 && len(rows) > maxRows {
		rows = rows[:maxRows]
	}
	stream := &wire.RowStream{Columns: columnDescs(res.Columns), Rows: rows}
	tag := &wire.CompletionTag{Tag: completionTag(portal.Stmt.Stmt, res), RowCount: rowCountOf(portal.Stmt.Stmt, res)}
	return stream, tag, nil
}

// execLocked is the one path every statement runs through: it intercepts
// transaction control and SET before exec.Executor ever sees them,
// enforces the ABORTED state's commands-ignored rule, and wraps a
// standalone statement in an implicit autocommit transaction.
func (sess *Session) execLocked(ctx context.Context, stmt parser.Statement, params []value.Value) (*exec.Result, error) {
	if tc, ok := stmt.(*parser.TxnControlStmt); ok {
		return sess.handleTxnControl(ctx, tc)
	}
	if ss, ok := stmt.(*parser.SetStmt); ok {
		return sess.handleSet(ss)
	}

	if sess.state == StateAborted {
		return nil, errs.New(errs.TransactionState, "current transaction is aborted, commands ignored until end of transaction block")
	}

	autocommit := sess.state == StateIdle
	if autocommit {
		if err := sess.beginTxn(ctx, kv.ReadCommitted); err != nil {
			return nil, err
		}
	}

	ec := &exec.ExecContext{
		Ctx:         ctx,
		Txn:         sess.txn,
		SearchPath:  sess.searchPath,
		CurrentUser: sess.currentUser,
		Params:      params,
	}

	res, err := sess.executor.Exec(ec, stmt)
	if err != nil {
		if autocommit {
			sess.txn.Rollback(ctx)
			sess.resetTxnState()
		} else {
			sess.state = StateAborted
		}
		return nil, err
	}

	if autocommit {
		if cerr := sess.txn.Commit(ctx); cerr != nil {
			sess.resetTxnState()
			return nil, mapCommitErr(cerr)
		}
		sess.resetTxnState()
	}

	return res, nil
}

func (sess *Session) beginTxn(ctx context.Context, iso kv.Isolation) error {
	txn, err := sess.backend.Begin(ctx, iso)
	if err != nil {
		return errs.Wrap(errs.KvBackendError, err, "begin transaction")
	}
	sess.txn = txn
	sess.isolation = iso
	sess.state = StateInTxn
	sess.savepoints = nil
	return nil
}

func (sess *Session) resetTxnState() {
	sess.txn = nil
	sess.state = StateIdle
	sess.explicit = false
	sess.savepoints = nil
}

// handleTxnControl implements spec §4.6's state machine for
// BEGIN/COMMIT/ROLLBACK/SAVEPOINT/RELEASE/ROLLBACK TO.
func (sess *Session) handleTxnControl(ctx context.Context, s *parser.TxnControlStmt) (*exec.Result, error) {
	switch s.Kind {
	case parser.TxnBegin:
		if sess.state != StateIdle {
			// Postgres warns and keeps the current transaction going; here
			// the transaction continues with no warning and no error, even
			// if BEGIN was issued from IN_TXN or ABORTED.
			return &exec.Result{Tag: "BEGIN"}, nil
		}
		if err := sess.beginTxn(ctx, isolationOf(s.Isolation)); err != nil {
			return nil, err
		}
		sess.explicit = true
		return &exec.Result{Tag: "BEGIN"}, nil

	case parser.TxnCommit:
		switch sess.state {
		case StateIdle:
			return &exec.Result{Tag: "COMMIT"}, nil
		case StateAborted:
			sess.txn.Rollback(ctx)
			sess.resetTxnState()
			return &exec.Result{Tag: "ROLLBACK"}, nil
		default:
			if err := sess.txn.Commit(ctx); err != nil {
				sess.resetTxnState()
				return nil, mapCommitErr(err)
			}
			sess.resetTxnState()
			return &exec.Result{Tag: "COMMIT"}, nil
		}

	case parser.TxnRollback:
		if sess.state == StateIdle {
			return &exec.Result{Tag: "ROLLBACK"}, nil
		}
		sess.txn.Rollback(ctx)
		sess.resetTxnState()
		return &exec.Result{Tag: "ROLLBACK"}, nil

	case parser.TxnSavepoint:
		if sess.state != StateInTxn {
			return nil, errs.New(errs.TransactionState, "SAVEPOINT can only be used in transaction blocks")
		}
		if err := sess.txn.Savepoint(ctx, s.Name); err != nil {
			return nil, errs.Wrap(errs.KvBackendError, err, "savepoint %s", s.Name)
		}
		sess.savepoints = append(sess.savepoints, s.Name)
		return &exec.Result{Tag: "SAVEPOINT"}, nil

	case parser.TxnRelease:
		if sess.state != StateInTxn {
			return nil, errs.New(errs.TransactionState, "RELEASE SAVEPOINT can only be used in transaction blocks")
		}
		idx, ok := sess.savepointIndex(s.Name)
		if !ok {
			return nil, errs.New(errs.TransactionState, "savepoint %q does not exist", s.Name)
		}
		if err := sess.txn.Release(ctx, s.Name); err != nil {
			return nil, errs.Wrap(errs.KvBackendError, err, "release savepoint %s", s.Name)
		}
		sess.savepoints = sess.savepoints[:idx]
		return &exec.Result{Tag: "RELEASE"}, nil

	case parser.TxnRollbackTo:
		if sess.state != StateInTxn && sess.state != StateAborted {
			return nil, errs.New(errs.TransactionState, "ROLLBACK TO SAVEPOINT can only be used in transaction blocks")
		}
		idx, ok := sess.savepointIndex(s.Name)
		if !ok {
			return nil, errs.New(errs.TransactionState, "savepoint %q does not exist", s.Name)
		}
		if err := sess.txn.RollbackTo(ctx, s.Name); err != nil {
			return nil, errs.Wrap(errs.KvBackendError, err, "rollback to savepoint %s", s.Name)
		}
		sess.savepoints = sess.savepoints[:idx+1]
		sess.state = StateInTxn // ROLLBACK TO is the ABORTED state's one way back
		return &exec.Result{Tag: "ROLLBACK"}, nil

	default:
		return nil, errs.New(errs.FeatureNotSupported, "unsupported transaction control statement")
	}
}

func (sess *Session) savepointIndex(name string) (int, bool) {
	for i, n := range sess.savepoints {
		if n == name {
			return i, true
		}
	}
	return 0, false
}

// handleSet applies a session-local GUC. Unrecognized settings are
// accepted and ignored rather than rejected, since client drivers
// routinely SET options (client_min_messages, statement_timeout, ...)
// this engine has no use for.
func (sess *Session) handleSet(s *parser.SetStmt) (*exec.Result, error) {
	switch strings.ToLower(s.Name) {
	case "search_path":
		sess.searchPath = parseSearchPath(s.Value)
	case "timezone", "time zone":
		sess.timezone = s.Value
	}
	return &exec.Result{Tag: "SET"}, nil
}

func parseSearchPath(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(strings.Trim(strings.TrimSpace(p), `"`))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isolationOf(s string) kv.Isolation {
	switch s {
	case "repeatable read":
		return kv.RepeatableRead
	case "serializable":
		return kv.Serializable
	default:
		return kv.ReadCommitted
	}
}

func isolationName(iso kv.Isolation) string {
	switch iso {
	case kv.RepeatableRead:
		return "repeatable read"
	case kv.Serializable:
		return "serializable"
	default:
		return "read committed"
	}
}

func mapCommitErr(err error) error {
	var ce *kv.ConflictError
	if errors.As(err, &ce) {
		return errs.Wrap(errs.SerializationFailure, err, "could not serialize access due to concurrent update: %s", ce.Reason)
	}
	return errs.Wrap(errs.KvBackendError, err, "commit failed")
}

func completionTag(stmt parser.Statement, res *exec.Result) string {
	switch stmt.(type) {
	case *parser.SelectStmt:
		return fmt.Sprintf("SELECT %d", len(res.Rows))
	case *parser.InsertStmt:
		return fmt.Sprintf("INSERT 0 %d", res.RowsCreated+res.RowsUpdated)
	case *parser.UpdateStmt:
		return fmt.Sprintf("UPDATE %d", res.RowsUpdated)
	case *parser.DeleteStmt:
		return fmt.Sprintf("DELETE %d", res.RowsDeleted)
	case *parser.CreateTableStmt:
		return "CREATE TABLE"
	case *parser.DropTableStmt:
		return "DROP TABLE"
	case *parser.CreateIndexStmt:
		return "CREATE INDEX"
	case *parser.CreateViewStmt:
		return "CREATE VIEW"
	case *parser.DropViewStmt:
		return "DROP VIEW"
	default:
		return res.Tag
	}
}

func rowCountOf(stmt parser.Statement, res *exec.Result) int64 {
	switch stmt.(type) {
	case *parser.SelectStmt:
		return int64(len(res.Rows))
	case *parser.InsertStmt:
		return res.RowsCreated + res.RowsUpdated
	case *parser.UpdateStmt:
		return res.RowsUpdated
	case *parser.DeleteStmt:
		return res.RowsDeleted
	default:
		return 0
	}
}

func columnDescs(names []string) []wire.ColumnDescription {
	out := make([]wire.ColumnDescription, len(names))
	for i, n := range names {
		out[i] = wire.ColumnDescription{Name: n}
	}
	return out
}
