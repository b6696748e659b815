package db

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// RecordStore is the data-access layer behind the records engine and fixture
// loading. A group is a named collection of records, typically a table.
type RecordStore interface {
	Groups(ctx context.Context, alias string) ([]string, error)
	// Export writes every record of group to w as a JSON array of Records.
	Export(ctx context.Context, alias, group string, w io.Writer) error
	// Load inserts the records of a fixture file. name selects the format by
	// its extension. It returns the number of records loaded.
	Load(ctx context.Context, alias, name string, r io.Reader) (int, error)
}

// Record is one entry of a fixture file.
type Record struct {
	Model  string         `json:"model" yaml:"model"`
	PK     any            `json:"pk,omitempty" yaml:"pk,omitempty"`
	Fields map[string]any `json:"fields" yaml:"fields"`
}

const pkColumn = "id"

// bytesKey marks a binary column value in exported records.
const bytesKey = "__bytes__"

// SQLStore implements RecordStore over database/sql connections from a Pool.
type SQLStore struct {
	pool *Pool
}

func NewSQLStore(pool *Pool) *SQLStore { return &SQLStore{pool: pool} }

func (s *SQLStore) Groups(ctx context.Context, alias string) ([]string, error) {
	h, err := s.pool.handle(alias)
	if err != nil {
		return nil, err
	}
	rows, err := h.db.QueryContext(ctx, h.dialect.listTables)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()
	var groups []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		groups = append(groups, name)
	}
	return groups, rows.Err()
}

func (s *SQLStore) Export(ctx context.Context, alias, group string, w io.Writer) error {
	h, err := s.pool.handle(alias)
	if err != nil {
		return err
	}
	rows, err := h.db.QueryContext(ctx, "SELECT * FROM "+h.dialect.quote(group))
	if err != nil {
		return fmt.Errorf("query %s: %w", group, err)
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return err
	}

	if _, err := io.WriteString(w, "["); err != nil {
		return err
	}
	n := 0
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("scan %s: %w", group, err)
		}
		rec := Record{Model: group, Fields: make(map[string]any, len(cols))}
		for i, c := range cols {
			v := exportValue(values[i])
			if c == pkColumn {
				rec.PK = v
				continue
			}
			rec.Fields[c] = v
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		sep := "\n"
		if n > 0 {
			sep = ",\n"
		}
		if _, err := io.WriteString(w, sep); err != nil {
			return err
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return err
	}
	_, err = io.WriteString(w, "\n]\n")
	return err
}

func exportValue(v any) any {
	switch t := v.(type) {
	case []byte:
		if utf8.Valid(t) {
			return string(t)
		}
		return map[string]any{bytesKey: base64.StdEncoding.EncodeToString(t)}
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}

// DecodeRecords parses a fixture file in JSON, YAML or XML form.
func DecodeRecords(name string, r io.Reader) ([]Record, error) {
	var recs []Record
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		dec := json.NewDecoder(r)
		dec.UseNumber()
		if err := dec.Decode(&recs); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
	case ".yaml", ".yml":
		if err := yaml.NewDecoder(r).Decode(&recs); err != nil && err != io.EOF {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
	case ".xml":
		return decodeXMLRecords(name, r)
	default:
		return nil, fmt.Errorf("unsupported fixture format %q", filepath.Ext(name))
	}
	return recs, nil
}

type xmlFixture struct {
	XMLName xml.Name    `xml:"django-objects"`
	Objects []xmlObject `xml:"object"`
}

type xmlObject struct {
	Model  string     `xml:"model,attr"`
	PK     string     `xml:"pk,attr"`
	Fields []xmlField `xml:"field"`
}

type xmlField struct {
	Name  string    `xml:"name,attr"`
	Type  string    `xml:"type,attr"`
	None  *struct{} `xml:"None"`
	Value string    `xml:",chardata"`
}

func decodeXMLRecords(name string, r io.Reader) ([]Record, error) {
	var doc xmlFixture
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	recs := make([]Record, 0, len(doc.Objects))
	for _, obj := range doc.Objects {
		rec := Record{Model: obj.Model, Fields: make(map[string]any, len(obj.Fields))}
		if obj.PK != "" {
			rec.PK = xmlScalar(obj.PK)
		}
		for _, f := range obj.Fields {
			rec.Fields[f.Name] = xmlValue(f)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func xmlValue(f xmlField) any {
	if f.None != nil {
		return nil
	}
	switch f.Type {
	case "BooleanField", "NullBooleanField":
		return strings.EqualFold(strings.TrimSpace(f.Value), "true")
	case "CharField", "TextField", "SlugField", "EmailField", "URLField", "FileField", "ImageField":
		return f.Value
	}
	return xmlScalar(f.Value)
}

// xmlScalar keeps integers numeric and everything else as text.
func xmlScalar(v string) any {
	if i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
		return i
	}
	return v
}

// TableName maps a fixture model ("app.model") to its table ("app_model").
func TableName(model string) string {
	return strings.ReplaceAll(strings.ToLower(model), ".", "_")
}

func (s *SQLStore) Load(ctx context.Context, alias, name string, r io.Reader) (int, error) {
	recs, err := DecodeRecords(name, r)
	if err != nil {
		return 0, err
	}
	if len(recs) == 0 {
		return 0, nil
	}
	h, err := s.pool.handle(alias)
	if err != nil {
		return 0, err
	}
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	for i, rec := range recs {
		if rec.Model == "" {
			_ = tx.Rollback()
			return 0, fmt.Errorf("record %d of %s has no model", i, name)
		}
		query, args := h.dialect.upsert(TableName(rec.Model), rec)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("insert %s record %d: %w", rec.Model, i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(recs), nil
}

// columns returns the sorted column names and matching values of rec,
// primary key first when present.
func columns(rec Record) ([]string, []any) {
	names := make([]string, 0, len(rec.Fields))
	for k := range rec.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	values := make([]any, 0, len(names)+1)
	if rec.PK != nil {
		values = append(values, importValue(rec.PK))
	}
	for _, n := range names {
		values = append(values, importValue(rec.Fields[n]))
	}
	if rec.PK != nil {
		names = append([]string{pkColumn}, names...)
	}
	return names, values
}

func importValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		if b, ok := decodeBytes(t); ok {
			return b
		}
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	case []any:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	default:
		return v
	}
}

func decodeBytes(m map[string]any) ([]byte, bool) {
	if len(m) != 1 {
		return nil, false
	}
	enc, ok := m[bytesKey].(string)
	if !ok {
		return nil, false
	}
	b, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return nil, false
	}
	return b, true
}

var _ RecordStore = (*SQLStore)(nil)

// dialect holds the SQL differences between the supported drivers.
type dialect struct {
	name        string
	listTables  string
	placeholder func(i int) string
	quote       func(ident string) string
	upsertVerb  string
	conflict    func(d dialect, cols []string) string
}

func (d dialect) upsert(table string, rec Record) (string, []any) {
	cols, args := columns(rec)
	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = d.quote(c)
		marks[i] = d.placeholder(i + 1)
	}
	verb := "INSERT INTO"
	suffix := ""
	if rec.PK != nil {
		verb = d.upsertVerb
		if d.conflict != nil {
			suffix = d.conflict(d, cols)
		}
	}
	query := fmt.Sprintf("%s %s (%s) VALUES (%s)%s", verb, d.quote(table),
		strings.Join(quoted, ", "), strings.Join(marks, ", "), suffix)
	return query, args
}

func questionMark(int) string { return "?" }

func doubleQuote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func backtick(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

var (
	sqliteDialect = dialect{
		name:        "sqlite3",
		listTables:  "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name",
		placeholder: questionMark,
		quote:       doubleQuote,
		upsertVerb:  "INSERT OR REPLACE INTO",
	}
	postgresDialect = dialect{
		name:        "pgx",
		listTables:  "SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema() AND table_type = 'BASE TABLE' ORDER BY table_name",
		placeholder: func(i int) string { return fmt.Sprintf("$%d", i) },
		quote:       doubleQuote,
		upsertVerb:  "INSERT INTO",
		conflict: func(d dialect, cols []string) string {
			sets := make([]string, 0, len(cols))
			for _, c := range cols {
				if c == pkColumn {
					continue
				}
				sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", d.quote(c), d.quote(c)))
			}
			if len(sets) == 0 {
				return fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", d.quote(pkColumn))
			}
			return fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", d.quote(pkColumn), strings.Join(sets, ", "))
		},
	}
	mysqlDialect = dialect{
		name:        "mysql",
		listTables:  "SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE' ORDER BY table_name",
		placeholder: questionMark,
		quote:       backtick,
		upsertVerb:  "REPLACE INTO",
	}
)

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case "sqlite3", "sqlite":
		return sqliteDialect, nil
	case "pgx", "postgres", "postgresql":
		return postgresDialect, nil
	case "mysql":
		return mysqlDialect, nil
	default:
		return dialect{}, fmt.Errorf("unsupported database driver %q", driver)
	}
}
