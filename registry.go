package dbpatch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// PatchRecord is one row of the patch table.
type PatchRecord struct {
	ID           int64
	UniqueName   string
	Status       Status
	ExecDate     time.Time
	ErrorMessage string
}

// Registry owns the patch table, which maps each unique name to its last
// status, execution date and error message. Writes are read-then-upsert
// without locking.
type Registry struct {
	client Client
	table  string
	now    func() time.Time
	log    logrus.FieldLogger
}

// NewRegistry returns a Registry using cfg.PatchTable.
func NewRegistry(client Client, cfg Config) *Registry {
	cfg = cfg.withDefaults()
	return &Registry{
		client: client,
		table:  cfg.PatchTable,
		now:    cfg.Now,
		log:    cfg.Logger.WithField("table", cfg.PatchTable),
	}
}

// Table returns the model of the patch table.
func (r *Registry) Table() *Table {
	t := &Table{Name: r.table}
	t.AddColumn("id", TypeInteger, AutoIncrement())
	t.AddColumn("unique_name", TypeString, Length(255))
	t.AddColumn("status", TypeString, Length(10))
	t.AddColumn("exec_date", TypeDateTime)
	t.AddColumn("error_message", TypeText, Nullable())
	t.SetPrimaryKey("id")
	t.AddUniqueIndex("", "unique_name")
	return t
}

// EnsureTable creates the patch table if it does not exist yet.
func (r *Registry) EnsureTable(ctx context.Context) error {
	if r.client == nil {
		return ErrConnectionNotConfigured
	}
	exists, err := r.client.HasTable(ctx, r.table)
	if err != nil {
		return fmt.Errorf("check patch table: %w", err)
	}
	if exists {
		return nil
	}
	t := r.Table()
	queries := []string{r.client.CreateTableSQL(t)}
	for _, ix := range t.Indexes {
		queries = append(queries, r.client.CreateIndexSQL(t.Name, ix))
	}
	for _, q := range queries {
		if _, err := r.client.Exec(ctx, q); err != nil {
			return fmt.Errorf("create patch table: %w", err)
		}
	}
	r.log.Info("created patch table")
	return nil
}

// Status returns the stored status, or StatusAwaiting when the patch has no row.
func (r *Registry) Status(ctx context.Context, uniqueName string) (Status, error) {
	rec, err := r.Record(ctx, uniqueName)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return StatusAwaiting, nil
	}
	return rec.Status, nil
}

// LastErrorMessage returns the stored error message, or "" if there is none.
func (r *Registry) LastErrorMessage(ctx context.Context, uniqueName string) (string, error) {
	rec, err := r.Record(ctx, uniqueName)
	if err != nil || rec == nil {
		return "", err
	}
	return rec.ErrorMessage, nil
}

// Record returns the row for uniqueName, or nil if there is none.
func (r *Registry) Record(ctx context.Context, uniqueName string) (*PatchRecord, error) {
	if r.client == nil {
		return nil, ErrConnectionNotConfigured
	}
	row, err := r.client.QueryRow(ctx, fmt.Sprintf(
		"SELECT id, unique_name, status, exec_date, error_message FROM %s WHERE unique_name = %s",
		r.client.QuoteTable(r.table), r.client.Placeholder(1)), uniqueName)
	if err != nil {
		return nil, err
	}
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read status of %s: %w", uniqueName, err)
	}
	return rec, nil
}

// Records returns every row ordered by id.
func (r *Registry) Records(ctx context.Context) ([]PatchRecord, error) {
	if r.client == nil {
		return nil, ErrConnectionNotConfigured
	}
	rows, err := r.client.Query(ctx, fmt.Sprintf(
		"SELECT id, unique_name, status, exec_date, error_message FROM %s ORDER BY id",
		r.client.QuoteTable(r.table)))
	if err != nil {
		return nil, fmt.Errorf("list patch records: %w", err)
	}
	defer rows.Close()

	var records []PatchRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// Save upserts the row for uniqueName and stamps it with the current time.
// The error message is only kept for StatusError.
func (r *Registry) Save(ctx context.Context, uniqueName string, status Status, errorMessage string) error {
	if r.client == nil {
		return ErrConnectionNotConfigured
	}
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}
	var msg any
	if status == StatusError {
		msg = errorMessage
	}
	execDate := r.now().UTC().Truncate(time.Second)
	table := r.client.QuoteTable(r.table)
	ph := r.client.Placeholder

	row, err := r.client.QueryRow(ctx, fmt.Sprintf("SELECT id FROM %s WHERE unique_name = %s", table, ph(1)), uniqueName)
	if err != nil {
		return err
	}
	var id int64
	err = row.Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = r.client.Exec(ctx, fmt.Sprintf(
			"INSERT INTO %s (unique_name, status, exec_date, error_message) VALUES (%s, %s, %s, %s)",
			table, ph(1), ph(2), ph(3), ph(4)), uniqueName, string(status), execDate, msg)
	case err == nil:
		_, err = r.client.Exec(ctx, fmt.Sprintf(
			"UPDATE %s SET status = %s, exec_date = %s, error_message = %s WHERE id = %s",
			table, ph(1), ph(2), ph(3), ph(4)), string(status), execDate, msg, id)
	}
	if err != nil {
		return fmt.Errorf("save status of %s: %w", uniqueName, err)
	}
	r.log.WithFields(logrus.Fields{"patch": uniqueName, "status": status}).Debug("saved patch status")
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*PatchRecord, error) {
	var (
		rec    PatchRecord
		status string
		date   dbTime
		msg    sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.UniqueName, &status, &date, &msg); err != nil {
		return nil, err
	}
	rec.Status = Status(status)
	rec.ExecDate = date.Time
	rec.ErrorMessage = msg.String
	return &rec, nil
}

// dbTime scans a timestamp from drivers that return time.Time as well as
// from SQLite drivers that hand back text.
type dbTime struct {
	Time time.Time
}

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time = time.Time{}
		return nil
	case time.Time:
		t.Time = v
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	}
	return fmt.Errorf("cannot scan %T into timestamp", src)
}

func (t *dbTime) parse(s string) error {
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("cannot parse timestamp %q", s)
}
