/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

type columnSpec struct {
	Name          string
	Type          string
	NotNull       bool
	Default       string
	PrimaryKey    bool
	AutoIncrement bool
}

type indexSpec struct {
	Name    string
	Columns []string
	Unique  bool
}

func (s indexSpec) signature() string {
	cols := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		cols[i] = strings.ToLower(strings.TrimSpace(c))
	}
	return fmt.Sprintf("%t|%s", s.Unique, strings.Join(cols, ","))
}

// tableSchema is the schema a model asks for, read from its bun tags.
type tableSchema struct {
	Table   string
	Columns []columnSpec
	Uniques []indexSpec
}

// schemaSyncer brings existing tables up to their models by adding what is
// missing. Every applied plan is recorded in the migration log under a hash of
// its statements.
type schemaSyncer struct {
	db      *bun.DB
	dialect string
	config  DataMigrateConfig
	logger  Logger
}

func newSchemaSyncer(db *bun.DB, config DataMigrateConfig, logger Logger) *schemaSyncer {
	if logger == nil {
		logger = nopLogger{}
	}
	return &schemaSyncer{
		db:      db,
		dialect: dialectName(db),
		config:  config,
		logger:  logger,
	}
}

func dialectName(db bun.IDB) string {
	switch name := strings.ToLower(db.Dialect().Name().String()); name {
	case "pg", "postgres", "postgresql":
		return "postgres"
	case "mysql":
		return "mysql"
	default:
		return "sqlite"
	}
}

// Sync applies the additive plan for every model.
func (s *schemaSyncer) Sync(ctx context.Context, models []interface{}) error {
	for _, model := range models {
		desired, err := describeModel(s.dialect, model)
		if err != nil {
			return fmt.Errorf("failed to describe model %T: %w", model, err)
		}
		if err := s.syncTable(ctx, model, desired); err != nil {
			return err
		}
	}
	return nil
}

func (s *schemaSyncer) syncTable(ctx context.Context, model interface{}, desired *tableSchema) error {
	existingCols, err := s.listColumns(ctx, desired.Table)
	if err != nil {
		return fmt.Errorf("failed to query existing columns %s: %w", desired.Table, err)
	}
	if len(existingCols) == 0 {
		if _, err := s.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table %s: %w", desired.Table, err)
		}
		s.logger.Info("Schema sync created missing table", "table", desired.Table)
		return nil
	}
	existingIdx, err := s.listIndexes(ctx, desired.Table)
	if err != nil {
		return fmt.Errorf("failed to query existing indexes %s: %w", desired.Table, err)
	}

	plan := s.plan(desired, existingCols, existingIdx)
	if len(plan) == 0 {
		s.logger.Debug("Skip schema sync, table is up to date", "table", desired.Table)
		return nil
	}

	for _, stmt := range plan {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply %q: %w", stmt, err)
		}
	}

	planText := strings.Join(plan, ";\n")
	sum := sha256.Sum256([]byte(desired.Table + "\n" + planText))
	hash := hex.EncodeToString(sum[:])
	if err := s.record(ctx, desired.Table, hash); err != nil {
		return fmt.Errorf("failed to record schema_sync plan %s: %w", desired.Table, err)
	}
	s.logger.Info("Schema sync applied", "table", desired.Table, "statements", len(plan), "hash", hash[:12])
	return nil
}

// plan lists the statements that add missing columns and unique indexes.
func (s *schemaSyncer) plan(desired *tableSchema, existingCols map[string]columnSpec, existingIdx []indexSpec) []string {
	var stmts []string

	if s.config.AllowColumnAdd {
		for _, col := range desired.Columns {
			if _, ok := existingCols[strings.ToLower(col.Name)]; ok {
				continue
			}
			if col.PrimaryKey {
				s.logger.Warn("Primary key column cannot be added to an existing table", "table", desired.Table, "column", col.Name)
				continue
			}
			stmts = append(stmts, s.addColumnSQL(desired.Table, col)...)
		}
	}

	if s.config.AllowIndexAdd {
		have := make(map[string]struct{}, len(existingIdx)*2)
		for _, idx := range existingIdx {
			have[strings.ToLower(idx.Name)] = struct{}{}
			have[idx.signature()] = struct{}{}
		}
		for _, idx := range desired.Uniques {
			if _, ok := have[strings.ToLower(idx.Name)]; ok {
				continue
			}
			if _, ok := have[idx.signature()]; ok {
				continue
			}
			stmts = append(stmts, s.createIndexSQL(desired.Table, idx))
		}
	}

	return stmts
}

func (s *schemaSyncer) record(ctx context.Context, table, hash string) error {
	rec := &Migration{
		Version:     fmt.Sprintf("schema_sync:%s:%s", table, hash),
		Name:        "schema_sync",
		AppliedAt:   time.Now().UTC(),
		Description: fmt.Sprintf("table %s schema sync, plan hash=%s", table, hash),
	}
	ins := s.db.NewInsert().Model(rec)
	if s.dialect == "mysql" {
		ins = ins.Ignore()
	} else {
		ins = ins.On("CONFLICT DO NOTHING")
	}
	_, err := ins.Exec(ctx)
	return err
}

func (s *schemaSyncer) quote(ident string) string {
	if s.dialect == "mysql" {
		return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// addColumnSQL builds ADD COLUMN. A NOT NULL column without a default cannot
// be added to a populated table, so it is added as nullable. SQLite refuses
// non-constant defaults in ADD COLUMN; such columns are added nullable without
// a default and existing rows are backfilled with the default expression.
func (s *schemaSyncer) addColumnSQL(table string, c columnSpec) []string {
	if s.dialect == "sqlite" && c.Default != "" && !isConstantDefault(c.Default) {
		s.logger.Warn("Column added as nullable, sqlite cannot add a non-constant default",
			"table", table, "column", c.Name, "default", c.Default)
		return []string{
			fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", s.quote(table), s.quote(c.Name), c.Type),
			fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s IS NULL", s.quote(table), s.quote(c.Name), c.Default, s.quote(c.Name)),
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "ALTER TABLE %s ADD COLUMN %s %s", s.quote(table), s.quote(c.Name), c.Type)
	if c.NotNull && c.Default != "" {
		b.WriteString(" NOT NULL")
	}
	if c.Default != "" {
		b.WriteString(" DEFAULT " + c.Default)
	}
	return []string{b.String()}
}

// isConstantDefault reports whether def is a literal: a number, a quoted
// string, NULL, TRUE or FALSE.
func isConstantDefault(def string) bool {
	def = strings.TrimSpace(def)
	if def == "" || strings.Contains(def, "(") {
		return false
	}
	switch strings.ToLower(def) {
	case "null", "true", "false":
		return true
	case "current_timestamp", "current_date", "current_time", "localtimestamp":
		return false
	}
	if strings.HasPrefix(def, "'") && strings.HasSuffix(def, "'") && len(def) >= 2 {
		return true
	}
	_, err := strconv.ParseFloat(strings.TrimPrefix(def, "-"), 64)
	return err == nil
}

func (s *schemaSyncer) createIndexSQL(table string, idx indexSpec) string {
	cols := make([]string, len(idx.Columns))
	for i, c := range idx.Columns {
		cols[i] = s.quote(c)
	}
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	ifNotExists := "IF NOT EXISTS "
	if s.dialect == "mysql" {
		ifNotExists = ""
	}
	return fmt.Sprintf("CREATE %sINDEX %s%s ON %s (%s)", unique, ifNotExists, s.quote(idx.Name), s.quote(table), strings.Join(cols, ", "))
}

// describeModel reads the table name, columns and unique groups of a bun model.
func describeModel(dialect string, model interface{}) (*tableSchema, error) {
	t := reflect.TypeOf(model)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("model must be a struct pointer, got %T", model)
	}

	schema := &tableSchema{}
	uniques := map[string][]string{}
	var uniqueOrder []string
	collectColumns(dialect, t, schema, uniques, &uniqueOrder)
	if schema.Table == "" {
		return nil, fmt.Errorf("missing table tag on bun.BaseModel in %s", t.Name())
	}
	for _, name := range uniqueOrder {
		schema.Uniques = append(schema.Uniques, indexSpec{Name: name, Columns: uniques[name], Unique: true})
	}
	return schema, nil
}

var baseModelType = reflect.TypeOf(bun.BaseModel{})

func collectColumns(dialect string, t reflect.Type, schema *tableSchema, uniques map[string][]string, order *[]string) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("bun")

		if f.Type == baseModelType {
			for _, part := range strings.Split(tag, ",") {
				part = strings.TrimSpace(part)
				if strings.HasPrefix(part, "table:") {
					schema.Table = strings.TrimPrefix(part, "table:")
				}
			}
			continue
		}
		if tag == "-" || strings.Contains(tag, "rel:") || strings.Contains(tag, "m2m:") {
			continue
		}
		if f.Anonymous && tag == "" {
			ft := f.Type
			if ft.Kind() == reflect.Ptr {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				collectColumns(dialect, ft, schema, uniques, order)
			}
			continue
		}
		if !f.IsExported() {
			continue
		}

		parts := strings.Split(tag, ",")
		name := strings.TrimSpace(parts[0])
		if name == "" {
			name = toSnakeCase(f.Name)
		}

		col := columnSpec{Name: name}
		for _, p := range parts[1:] {
			p = strings.TrimSpace(p)
			switch {
			case strings.HasPrefix(p, "type:"):
				col.Type = strings.TrimPrefix(p, "type:")
			case p == "notnull":
				col.NotNull = true
			case strings.HasPrefix(p, "default:"):
				col.Default = strings.TrimPrefix(p, "default:")
			case p == "pk":
				col.PrimaryKey = true
			case p == "autoincrement" || p == "identity":
				col.AutoIncrement = true
			case p == "unique" || strings.HasPrefix(p, "unique:"):
				group := strings.TrimPrefix(strings.TrimPrefix(p, "unique"), ":")
				if group == "" {
					group = fmt.Sprintf("uk_%s_%s", schema.Table, name)
				}
				if _, seen := uniques[group]; !seen {
					*order = append(*order, group)
				}
				uniques[group] = append(uniques[group], name)
			}
		}
		if col.PrimaryKey || col.AutoIncrement {
			col.NotNull = true
		}
		if col.Type == "" {
			col.Type = inferSQLType(dialect, f.Type)
		}
		schema.Columns = append(schema.Columns, col)
	}
}

var timeType = reflect.TypeOf(time.Time{})

func inferSQLType(dialect string, rt reflect.Type) string {
	if rt.Kind() == reflect.Ptr {
		rt = rt.Elem()
	}
	if rt == timeType {
		switch dialect {
		case "mysql":
			return "DATETIME"
		case "postgres":
			return "TIMESTAMPTZ"
		default:
			return "TIMESTAMP"
		}
	}
	switch rt.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if dialect == "sqlite" {
			return "INTEGER"
		}
		return "BIGINT"
	case reflect.Float32, reflect.Float64:
		if dialect == "postgres" {
			return "DOUBLE PRECISION"
		}
		return "REAL"
	case reflect.Bool:
		if dialect == "mysql" {
			return "TINYINT(1)"
		}
		return "BOOLEAN"
	case reflect.String:
		if dialect == "mysql" {
			return "VARCHAR(255)"
		}
		return "VARCHAR"
	default:
		return "TEXT"
	}
}

func toSnakeCase(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && (runes[i-1] < 'A' || runes[i-1] > 'Z' || (i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z')) {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// listColumns returns the existing columns of table keyed by lowercase name.
// An empty map means the table does not exist.
func (s *schemaSyncer) listColumns(ctx context.Context, table string) (map[string]columnSpec, error) {
	var (
		rows *sql.Rows
		err  error
	)
	switch s.dialect {
	case "postgres":
		rows, err = s.db.QueryContext(ctx, `SELECT column_name, data_type, is_nullable FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = ?`, table)
	case "mysql":
		rows, err = s.db.QueryContext(ctx, `SELECT COLUMN_NAME, COLUMN_TYPE, IS_NULLABLE FROM INFORMATION_SCHEMA.COLUMNS WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?`, table)
	default:
		rows, err = s.db.QueryContext(ctx, `SELECT name, type, "notnull" FROM pragma_table_info(?)`, table)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	cols := map[string]columnSpec{}
	for rows.Next() {
		var name, typ, nullable string
		if err := rows.Scan(&name, &typ, &nullable); err != nil {
			return nil, err
		}
		notNull := strings.EqualFold(nullable, "NO") || nullable == "1"
		cols[strings.ToLower(name)] = columnSpec{Name: name, Type: typ, NotNull: notNull}
	}
	return cols, rows.Err()
}

// listIndexes returns the existing indexes of table with their columns.
func (s *schemaSyncer) listIndexes(ctx context.Context, table string) ([]indexSpec, error) {
	switch s.dialect {
	case "postgres":
		return s.listPostgresIndexes(ctx, table)
	case "mysql":
		return s.listMySQLIndexes(ctx, table)
	default:
		return s.listSQLiteIndexes(ctx, table)
	}
}

func (s *schemaSyncer) listPostgresIndexes(ctx context.Context, table string) ([]indexSpec, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT indexname, indexdef FROM pg_indexes WHERE schemaname = current_schema() AND tablename = ?`, table)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var idx []indexSpec
	for rows.Next() {
		var name, def string
		if err := rows.Scan(&name, &def); err != nil {
			return nil, err
		}
		spec := indexSpec{Name: name, Unique: strings.Contains(strings.ToUpper(def), "UNIQUE")}
		open, end := strings.Index(def, "("), strings.LastIndex(def, ")")
		if open > 0 && end > open {
			for _, c := range strings.Split(def[open+1:end], ",") {
				spec.Columns = append(spec.Columns, strings.Trim(strings.TrimSpace(c), `"`))
			}
		}
		idx = append(idx, spec)
	}
	return idx, rows.Err()
}

func (s *schemaSyncer) listMySQLIndexes(ctx context.Context, table string) ([]indexSpec, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT INDEX_NAME, COLUMN_NAME, NON_UNIQUE FROM INFORMATION_SCHEMA.STATISTICS WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? ORDER BY INDEX_NAME, SEQ_IN_INDEX`, table)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	byName := map[string]*indexSpec{}
	var names []string
	for rows.Next() {
		var name, col string
		var nonUnique int
		if err := rows.Scan(&name, &col, &nonUnique); err != nil {
			return nil, err
		}
		spec, ok := byName[name]
		if !ok {
			spec = &indexSpec{Name: name, Unique: nonUnique == 0}
			byName[name] = spec
			names = append(names, name)
		}
		spec.Columns = append(spec.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Strings(names)
	idx := make([]indexSpec, 0, len(names))
	for _, n := range names {
		idx = append(idx, *byName[n])
	}
	return idx, nil
}

// listSQLiteIndexes reads index_list fully before querying index_info so a
// single-connection pool is never asked for a second connection.
func (s *schemaSyncer) listSQLiteIndexes(ctx context.Context, table string) ([]indexSpec, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, "unique" FROM pragma_index_list(?)`, table)
	if err != nil {
		return nil, err
	}
	var idx []indexSpec
	for rows.Next() {
		var spec indexSpec
		var unique int
		if err := rows.Scan(&spec.Name, &unique); err != nil {
			_ = rows.Close()
			return nil, err
		}
		spec.Unique = unique == 1
		idx = append(idx, spec)
	}
	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		return nil, err
	}

	for i := range idx {
		cols, err := s.sqliteIndexColumns(ctx, idx[i].Name)
		if err != nil {
			return nil, err
		}
		idx[i].Columns = cols
	}
	return idx, nil
}

func (s *schemaSyncer) sqliteIndexColumns(ctx context.Context, index string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM pragma_index_info(?) ORDER BY seqno`, index)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var cols []string
	for rows.Next() {
		var col sql.NullString
		if err := rows.Scan(&col); err != nil {
			return nil, err
		}
		if col.Valid {
			cols = append(cols, col.String)
		}
	}
	return cols, rows.Err()
}
