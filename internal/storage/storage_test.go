package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestParseDialect(t *testing.T) {
	tests := map[string]Dialect{
		"sqlite":      DialectSQLite,
		"SQLite3":     DialectSQLite,
		"postgres":    DialectPostgres,
		"postgresql":  DialectPostgres,
		"cockroachdb": DialectPostgres,
	}
	for in, want := range tests {
		got, err := ParseDialect(in)
		if err != nil || got != want {
			t.Errorf("ParseDialect(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseDialect("mysql"); err == nil {
		t.Error("ParseDialect(mysql) should fail")
	}
}

func TestRebind(t *testing.T) {
	q := "SELECT a FROM t WHERE x = ? AND y = ? LIMIT ?"
	if got := DialectSQLite.Rebind(q); got != q {
		t.Fatalf("sqlite Rebind changed query: %q", got)
	}
	want := "SELECT a FROM t WHERE x = $1 AND y = $2 LIMIT $3"
	if got := DialectPostgres.Rebind(q); got != want {
		t.Fatalf("postgres Rebind = %q, want %q", got, want)
	}
}

func TestOpenValidation(t *testing.T) {
	if _, _, err := Open(context.Background(), Config{Driver: "oracle", DSN: "x"}); err == nil {
		t.Fatal("Open() should reject unknown drivers")
	}
	if _, _, err := Open(context.Background(), Config{Driver: "sqlite"}); err == nil {
		t.Fatal("Open() should require a dsn")
	}
}

func TestOpenSQLite(t *testing.T) {
	db, dialect, err := Open(context.Background(), Config{Driver: "sqlite", DSN: "file:" + t.TempDir() + "/t.db"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()
	if dialect != DialectSQLite {
		t.Fatalf("dialect = %q", dialect)
	}
	if err := Migrate(context.Background(), db, "test", `CREATE TABLE IF NOT EXISTS t (id TEXT)`); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
}

func TestMigrateStopsOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	mock.ExpectExec("CREATE TABLE a").WillReturnError(errors.New("syntax"))

	err = Migrate(context.Background(), db, "things", "CREATE TABLE a (x INT)", "CREATE TABLE b (y INT)")
	if err == nil {
		t.Fatal("Migrate() should fail")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
