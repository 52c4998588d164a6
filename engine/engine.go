// Package engine is the storage facade: it owns the table catalog, the
// shared write-ahead log, the background flush/compaction loop, and
// execute(cql_text) as spec 2's top-level entry point. It is grounded on
// the teacher's K4 — directory layout, Open/Close lifecycle, and
// background-goroutine model — generalized from K4's single flat
// keyspace to this spec's multi-table catalog.
package engine

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/cqlite-db/cqlite/cqlerr"
	"github.com/cqlite-db/cqlite/memtable"
	"github.com/cqlite-db/cqlite/query"
	"github.com/cqlite-db/cqlite/schema"
	"github.com/cqlite-db/cqlite/sstable"
	"github.com/cqlite-db/cqlite/types"
	"github.com/cqlite-db/cqlite/vint"
	"github.com/cqlite-db/cqlite/wal"
)

const walFileName = "wal.log"
const tablesDirName = "tables"
const schemaFileName = "schema.cql"

// Engine is one open instance: a directory on disk, its catalog of
// tables, and the background maintenance loop.
type Engine struct {
	opts Options
	dir  string
	wal  *wal.WAL
	udts *schema.UDTRegistry

	catalogMu sync.RWMutex
	catalog   map[string]*tableState

	exit chan struct{}
	wg   sync.WaitGroup
}

// Open opens (creating if necessary) the engine directory at
// opts.Directory, discovers every already-created table and its
// generations, replays the shared WAL to recover any writes that had not
// yet been flushed, and starts the background maintenance loop.
func Open(opts Options) (*Engine, error) {
	opts = withDefaults(opts)
	if opts.Directory == "" {
		return nil, cqlerr.New(cqlerr.InvalidQuery, "engine.Open", fmt.Errorf("Directory is required"))
	}

	tablesDir := filepath.Join(opts.Directory, tablesDirName)
	if err := os.MkdirAll(tablesDir, 0755); err != nil {
		return nil, cqlerr.New(cqlerr.Io, "engine.Open", err)
	}

	e := &Engine{
		opts:    opts,
		dir:     opts.Directory,
		udts:    schema.NewUDTRegistry(),
		catalog: map[string]*tableState{},
		exit:    make(chan struct{}),
	}

	if err := e.discoverTables(tablesDir); err != nil {
		return nil, err
	}

	w, err := wal.Open(filepath.Join(opts.Directory, walFileName))
	if err != nil {
		return nil, err
	}
	e.wal = w

	if err := e.replayWAL(); err != nil {
		e.wal.Close()
		return nil, err
	}

	e.wg.Add(1)
	go e.runMaintenance()

	return e, nil
}

// discoverTables loads every table directory's persisted schema and open
// generations (but does not start accepting writes yet — Open does that
// only after WAL replay finishes, per wal.WAL.Replay's doc comment).
func (e *Engine) discoverTables(tablesDir string) error {
	entries, err := os.ReadDir(tablesDir)
	if err != nil {
		return cqlerr.New(cqlerr.Io, "engine.discoverTables", err)
	}

	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		tableDir := filepath.Join(tablesDir, ent.Name())
		ddlPath := filepath.Join(tableDir, schemaFileName)
		ddl, err := os.ReadFile(ddlPath)
		if err != nil {
			if os.IsNotExist(err) {
				continue // a directory without a schema file is not a table
			}
			return cqlerr.New(cqlerr.Io, "engine.discoverTables", err)
		}

		s, err := schema.Parse(string(ddl), e.udts)
		if err != nil {
			return err
		}

		ts := &tableState{
			schema:  s,
			rowType: rowType(s),
			dir:     tableDir,
		}
		ts.tableUUID = deriveTableUUID(s)

		gens, err := discoverGenerations(tableDir, e.opts.MmapThreshold)
		if err != nil {
			return err
		}
		ts.generations = gens
		for _, g := range gens {
			if g.number >= ts.nextGen {
				ts.nextGen = g.number + 1
			}
		}
		ts.memtable = memtable.New(e.opts.MemtableFlushThreshold)

		e.catalog[s.Table] = ts
	}
	return nil
}

func discoverGenerations(tableDir string, mmapThreshold int64) ([]*generationHandle, error) {
	matches, err := filepath.Glob(filepath.Join(tableDir, "generation-*.db"))
	if err != nil {
		return nil, cqlerr.New(cqlerr.Io, "engine.discoverGenerations", err)
	}

	handles := make([]*generationHandle, 0, len(matches))
	for _, path := range matches {
		n, err := generationNumberFromPath(path)
		if err != nil {
			continue
		}
		reader, err := sstable.Open(path, sstable.ReaderConfig{MmapThreshold: mmapThreshold})
		if err != nil {
			return nil, err
		}
		handles = append(handles, &generationHandle{reader: reader, path: path, number: n})
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i].number < handles[j].number })
	return handles, nil
}

// deriveTableUUID stamps a stable identity into every generation a table
// writes, derived from the table's qualified name rather than randomly
// generated, so a reopened engine rediscovering a table from its
// persisted schema.cql reproduces the same UUID a freshly created table
// would have gotten — there is nowhere else to persist a random one
// across restarts short of a second catalog file, which nothing else in
// this engine needs yet.
func deriveTableUUID(s *schema.TableSchema) [16]byte {
	sum := sha256.Sum256([]byte(s.QualifiedName()))
	var out [16]byte
	copy(out[:], sum[:16])
	return out
}

func generationNumberFromPath(path string) (uint32, error) {
	base := filepath.Base(path)
	base = strings.TrimPrefix(base, "generation-")
	base = strings.TrimSuffix(base, ".db")
	n, err := strconv.ParseUint(base, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(n), nil
}

// replayWAL routes every recovered record to its table's memtable.
// Records for a table that no longer exists (dropped since the crash)
// are skipped.
func (e *Engine) replayWAL() error {
	return e.wal.Replay(func(rec wal.Record) error {
		ts, ok := e.catalog[rec.Table]
		if !ok {
			return nil
		}
		switch rec.Op {
		case wal.OpMutate:
			ts.memtable.Put(rec.PartitionKey, rec.ClusteringKey, rec.Cell, rec.WriteTimeMicro)
		case wal.OpDropTable:
			ts.memtable = memtable.New(e.opts.MemtableFlushThreshold)
		}
		return nil
	})
}

// Close stops the maintenance loop, flushes every table's remaining
// memtable contents, and closes every open file.
func (e *Engine) Close() error {
	close(e.exit)
	e.wg.Wait()

	e.catalogMu.RLock()
	tables := make([]*tableState, 0, len(e.catalog))
	for _, ts := range e.catalog {
		tables = append(tables, ts)
	}
	e.catalogMu.RUnlock()

	for _, ts := range tables {
		if err := e.flushTable(ts); err != nil {
			e.opts.Logger.Printf("engine: final flush of %s failed: %v", ts.schema.Table, err)
		}
		for _, h := range ts.snapshotGenerations() {
			h.reader.Close()
		}
	}
	return e.wal.Close()
}

// CreateTable parses ddl (a CREATE TABLE statement) and registers the
// table, persisting the DDL so a later Open can rediscover it.
func (e *Engine) CreateTable(ddl string) error {
	s, err := schema.Parse(ddl, e.udts)
	if err != nil {
		return err
	}

	e.catalogMu.Lock()
	defer e.catalogMu.Unlock()
	if _, exists := e.catalog[s.Table]; exists {
		if s.IfNotExists {
			return nil
		}
		return cqlerr.New(cqlerr.InvalidQuery, "engine.CreateTable", fmt.Errorf("table %q already exists", s.Table))
	}

	tableDir := filepath.Join(e.dir, tablesDirName, s.Table)
	if err := os.MkdirAll(tableDir, 0755); err != nil {
		return cqlerr.New(cqlerr.Io, "engine.CreateTable", err)
	}
	if err := os.WriteFile(filepath.Join(tableDir, schemaFileName), []byte(ddl), 0644); err != nil {
		return cqlerr.New(cqlerr.Io, "engine.CreateTable", err)
	}

	ts := &tableState{
		schema:   s,
		rowType:  rowType(s),
		dir:      tableDir,
		memtable: memtable.New(e.opts.MemtableFlushThreshold),
	}
	ts.tableUUID = deriveTableUUID(s)
	e.catalog[s.Table] = ts
	return nil
}

func (e *Engine) lookupTable(name string) (*tableState, error) {
	e.catalogMu.RLock()
	defer e.catalogMu.RUnlock()
	ts, ok := e.catalog[name]
	if !ok {
		return nil, cqlerr.New(cqlerr.SchemaMismatch, "engine.lookupTable", fmt.Errorf("no such table %q", name))
	}
	return ts, nil
}

// ExecResult is what Execute returns: Rows for a SELECT, RowsAffected for
// an INSERT/DELETE (always 0 or 1 — this CQL subset has no batch DML).
type ExecResult struct {
	Columns      []string
	Rows         []map[string]types.Value
	RowsAffected int
}

// Execute parses and runs a single CQL statement (spec 2's
// execute(cql_text) entry point): CREATE TABLE, INSERT, SELECT, or
// DELETE.
func (e *Engine) Execute(cql string) (*ExecResult, error) {
	stmt, err := parseStatement(cql)
	if err != nil {
		return nil, err
	}

	switch s := stmt.(type) {
	case createTableStmt:
		if err := e.CreateTable(s.DDL); err != nil {
			return nil, err
		}
		return &ExecResult{}, nil
	case insertStmt:
		if err := e.execInsert(s); err != nil {
			return nil, err
		}
		return &ExecResult{RowsAffected: 1}, nil
	case selectStmt:
		return e.execSelect(s)
	case deleteStmt:
		if err := e.execDelete(s); err != nil {
			return nil, err
		}
		return &ExecResult{RowsAffected: 1}, nil
	default:
		return nil, cqlerr.New(cqlerr.InvalidQuery, "engine.Execute", fmt.Errorf("unsupported statement"))
	}
}

func (e *Engine) execInsert(s insertStmt) error {
	ts, err := e.lookupTable(s.Table)
	if err != nil {
		return err
	}

	values := make(map[string]types.Value, len(s.Columns))
	for i, colName := range s.Columns {
		col, ok := ts.schema.ColumnByName(colName)
		if !ok {
			return cqlerr.New(cqlerr.SchemaMismatch, "engine.execInsert", fmt.Errorf("no such column %q", colName))
		}
		v, err := literalToValue(s.Values[i], col.Type)
		if err != nil {
			return err
		}
		values[colName] = v
	}

	pk, err := encodeCompositeKey(partitionKeyColumns(ts.schema), values)
	if err != nil {
		return err
	}
	ck, err := encodeCompositeKey(clusteringKeyColumns(ts.schema), values)
	if err != nil {
		return err
	}

	cell, err := encodeRowCell(ts.schema, values)
	if err != nil {
		return err
	}

	writeTime := nowMicros()
	if err := e.wal.Append(wal.Record{
		Op:             wal.OpMutate,
		Table:          s.Table,
		PartitionKey:   pk,
		ClusteringKey:  ck,
		Cell:           cell,
		WriteTimeMicro: writeTime,
	}); err != nil {
		return err
	}

	ts.mu.Lock()
	ts.memtable.Put(pk, ck, cell, writeTime)
	ts.mu.Unlock()
	return nil
}

func (e *Engine) execDelete(s deleteStmt) error {
	ts, err := e.lookupTable(s.Table)
	if err != nil {
		return err
	}

	values, err := whereEqualityValues(ts.schema, s.Where)
	if err != nil {
		return err
	}
	pk, err := encodeCompositeKey(partitionKeyColumns(ts.schema), values)
	if err != nil {
		return err
	}
	ck, err := encodeCompositeKey(clusteringKeyColumns(ts.schema), values)
	if err != nil {
		return err
	}

	now := nowMicros()
	tomb := types.TombstoneValue{Kind: types.TombstoneRow, DeletionTime: now}
	cell, err := types.EncodeCell(nil, tomb, ts.rowType)
	if err != nil {
		return err
	}

	if err := e.wal.Append(wal.Record{
		Op:             wal.OpMutate,
		Table:          s.Table,
		PartitionKey:   pk,
		ClusteringKey:  ck,
		Cell:           cell,
		WriteTimeMicro: now,
	}); err != nil {
		return err
	}

	ts.mu.Lock()
	ts.memtable.Put(pk, ck, cell, now)
	ts.mu.Unlock()
	return nil
}

func (e *Engine) execSelect(s selectStmt) (*ExecResult, error) {
	ts, err := e.lookupTable(s.Table)
	if err != nil {
		return nil, err
	}

	req, err := buildSelectRequest(ts.schema, s)
	if err != nil {
		return nil, err
	}

	rows, err := e.queryTable(ts, req)
	if err != nil {
		return nil, err
	}

	cols := nonKeyColumns(ts.schema)
	result := &ExecResult{Rows: make([]map[string]types.Value, 0, len(rows))}
	for _, r := range rows {
		rec := map[string]types.Value{}
		if err := decodeKeyInto(rec, partitionKeyColumns(ts.schema), r.PartitionKey); err != nil {
			return nil, err
		}
		if err := decodeKeyInto(rec, clusteringKeyColumns(ts.schema), r.ClusteringKey); err != nil {
			return nil, err
		}
		if tup, ok := r.Value.(types.TupleValue); ok {
			for i, c := range cols {
				if i < len(tup.Items) {
					rec[c.Name] = tup.Items[i]
				}
			}
		}
		result.Rows = append(result.Rows, rec)
	}
	return result, nil
}

// decodeKeyInto splits a composite key's encoded bytes back into its
// named column values, the inverse of encodeCompositeKey.
func decodeKeyInto(into map[string]types.Value, cols []schema.Column, key []byte) error {
	rest := key
	for _, c := range cols {
		n, after, err := vint.DecodeLength(rest)
		if err != nil {
			return err
		}
		if int64(len(after)) < n {
			return cqlerr.New(cqlerr.Truncated, "engine.decodeKeyInto", fmt.Errorf("truncated key component for %q", c.Name))
		}
		v, _, err := types.Parse(after[:n], c.Type)
		if err != nil {
			return err
		}
		into[c.Name] = v
		rest = after[n:]
	}
	return nil
}

// whereEqualityValues resolves a WHERE clause's key-column equality
// predicates into a column-name -> value map, for DELETE's key encoding.
func whereEqualityValues(s *schema.TableSchema, where []whereClause) (map[string]types.Value, error) {
	out := map[string]types.Value{}
	for _, w := range where {
		if w.Op != query.OpEq {
			continue
		}
		col, ok := s.ColumnByName(w.Column)
		if !ok {
			return nil, cqlerr.New(cqlerr.SchemaMismatch, "engine.whereEqualityValues", fmt.Errorf("no such column %q", w.Column))
		}
		v, err := literalToValue(w.Value, col.Type)
		if err != nil {
			return nil, err
		}
		out[w.Column] = v
	}
	return out, nil
}

// buildSelectRequest analyzes a parsed SELECT against s, resolving
// column names and pre-encoding the partition/clustering byte ranges
// query.SelectPlan needs — the "CQL frontend" responsibility query.
// Request's doc comment assigns to whichever package owns parsing.
func buildSelectRequest(s *schema.TableSchema, sel selectStmt) (*query.Request, error) {
	req := &query.Request{Schema: s, SortAscending: true, Projection: sel.Projection}
	if sel.HasLimit {
		req.Limit = sel.Limit
	}

	pkCols := make(map[string]bool, len(s.PartitionKey))
	for _, n := range s.PartitionKey {
		pkCols[n] = true
	}

	pkValues := map[string]types.Value{}

	var lowerParts, upperParts []byte
	clusterCols := clusteringKeyColumns(s)
	boundCols := map[string]bool{}

	for _, w := range sel.Where {
		col, ok := s.ColumnByName(w.Column)
		if !ok {
			return nil, cqlerr.New(cqlerr.SchemaMismatch, "engine.buildSelectRequest", fmt.Errorf("no such column %q", w.Column))
		}
		v, err := literalToValue(w.Value, col.Type)
		if err != nil {
			return nil, err
		}

		idx, _ := columnIndex(s, w.Column)
		pred := query.Predicate{Column: w.Column, Index: idx, Op: w.Op, Value: v}
		req.Predicates = append(req.Predicates, pred)

		if pkCols[w.Column] {
			pkValues[w.Column] = v
			boundCols[w.Column] = true
		}
	}

	allPKBound := true
	for _, n := range s.PartitionKey {
		if !boundCols[n] {
			allPKBound = false
			break
		}
	}
	if allPKBound && len(s.PartitionKey) > 0 {
		pk, err := encodeCompositeKey(partitionKeyColumns(s), pkValues)
		if err != nil {
			return nil, err
		}
		req.PartitionKey = pk
	}

	prefixOK := true
	for _, c := range clusterCols {
		var eqVal types.Value
		hasEq := false
		for _, w := range sel.Where {
			if w.Column == c.Name && w.Op == query.OpEq {
				v, err := literalToValue(w.Value, c.Type)
				if err != nil {
					return nil, err
				}
				eqVal = v
				hasEq = true
			}
		}
		if !hasEq || !prefixOK {
			prefixOK = false
			continue
		}
		b, err := encodeKeyComponent(nil, eqVal, c.Type)
		if err != nil {
			return nil, err
		}
		lowerParts = append(lowerParts, b...)
		upperParts = append(upperParts, b...)
	}

	lowerInclusive, upperInclusive := true, true
	haveLower, haveUpper := len(lowerParts) > 0, len(upperParts) > 0
	for _, w := range sel.Where {
		col, ok := s.ColumnByName(w.Column)
		if !ok || !isClusteringColumn(s, w.Column) {
			continue
		}
		switch w.Op {
		case query.OpGt, query.OpGte:
			v, err := literalToValue(w.Value, col.Type)
			if err != nil {
				return nil, err
			}
			b, err := encodeKeyComponent(nil, v, col.Type)
			if err != nil {
				return nil, err
			}
			lowerParts = append(append([]byte(nil), lowerParts...), b...)
			lowerInclusive = w.Op == query.OpGte
			haveLower = true
		case query.OpLt, query.OpLte:
			v, err := literalToValue(w.Value, col.Type)
			if err != nil {
				return nil, err
			}
			b, err := encodeKeyComponent(nil, v, col.Type)
			if err != nil {
				return nil, err
			}
			upperParts = append(append([]byte(nil), upperParts...), b...)
			upperInclusive = w.Op == query.OpLte
			haveUpper = true
		}
	}

	if haveLower {
		req.ClusterLower = lowerParts
		req.ClusterLowerInclusive = lowerInclusive
	}
	if haveUpper {
		req.ClusterUpper = upperParts
		req.ClusterUpperInclusive = upperInclusive
	}
	if req.ClusterLower != nil && req.ClusterUpper != nil && bytes.Equal(req.ClusterLower, req.ClusterUpper) {
		req.ClusterLowerInclusive = true
		req.ClusterUpperInclusive = true
	}

	return req, nil
}

func isClusteringColumn(s *schema.TableSchema, name string) bool {
	for _, c := range s.ClusteringKey {
		if c.Name == name {
			return true
		}
	}
	return false
}

// encodeRowCell builds the Cell blob for an INSERT: a Tuple of every
// non-key column's value, in rowType's order, defaulting any column the
// statement didn't mention to Null.
func encodeRowCell(s *schema.TableSchema, values map[string]types.Value) ([]byte, error) {
	cols := nonKeyColumns(s)
	items := make([]types.Value, len(cols))
	types_ := make([]*types.TypeDescriptor, len(cols))
	for i, c := range cols {
		types_[i] = c.Type
		if v, ok := values[c.Name]; ok {
			items[i] = v
		} else {
			items[i] = types.Null{}
		}
	}
	tup := types.TupleValue{Types: types_, Items: items}
	return types.EncodeCell(nil, tup, rowType(s))
}
