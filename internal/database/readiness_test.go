package database

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
)

// fakeRow отдаёт заранее заданные значения в Scan.
type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *int64:
			*p = r.values[i].(int64)
		case *bool:
			*p = r.values[i].(bool)
		}
	}
	return nil
}

// fakeDB отвечает на запрос версии схемы и на проверку таблицы.
type fakeDB struct {
	version fakeRow
	table   fakeRow
}

func (db fakeDB) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	if strings.Contains(sql, migrationsTable) {
		return db.version
	}
	return db.table
}

func TestReadinessChecker(t *testing.T) {
	tests := []struct {
		name     string
		db       fakeDB
		want     string
		contains string
	}{
		{
			name: "актуальная схема",
			db:   fakeDB{version: fakeRow{values: []any{int64(1), false}}, table: fakeRow{values: []any{true}}},
			want: "ok",
		},
		{
			name:     "dirty",
			db:       fakeDB{version: fakeRow{values: []any{int64(1), true}}, table: fakeRow{values: []any{true}}},
			want:     "fail",
			contains: "dirty",
		},
		{
			name:     "схема отстаёт",
			db:       fakeDB{version: fakeRow{values: []any{int64(0), false}}, table: fakeRow{values: []any{true}}},
			want:     "fail",
			contains: "ожидается 1",
		},
		{
			name:     "миграции не применялись",
			db:       fakeDB{version: fakeRow{err: pgx.ErrNoRows}},
			want:     "fail",
			contains: "не применялись",
		},
		{
			name:     "таблица удалена",
			db:       fakeDB{version: fakeRow{values: []any{int64(1), false}}, table: fakeRow{values: []any{false}}},
			want:     "fail",
			contains: "stored_files",
		},
		{
			name:     "база недоступна",
			db:       fakeDB{version: fakeRow{err: errors.New("connection refused")}},
			want:     "fail",
			contains: "недоступен",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, msg := NewReadinessChecker(tt.db, 1).CheckReady()
			if status != tt.want {
				t.Errorf("status: хотели %s, получили %s (%s)", tt.want, status, msg)
			}
			if !strings.Contains(msg, tt.contains) {
				t.Errorf("сообщение %q должно содержать %q", msg, tt.contains)
			}
		})
	}
}

func TestLatestVersion(t *testing.T) {
	v, err := LatestVersion()
	if err != nil {
		t.Fatalf("LatestVersion: %v", err)
	}
	if v != 1 {
		t.Errorf("хотели 1, получили %d", v)
	}
}
