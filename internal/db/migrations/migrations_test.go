package migrations

import (
	"database/sql"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

var testMigrations = []*Migration{
	{ID: "001_test", Name: "001_test", UpSQL: "CREATE TABLE test1 (id INTEGER);", DownSQL: "DROP TABLE test1;"},
	{ID: "002_test", Name: "002_test", UpSQL: "CREATE TABLE test2 (id INTEGER);", DownSQL: "DROP TABLE test2;"},
}

func runWithMock(t *testing.T, setup func(sqlmock.Sqlmock), run func(*Migrator) error, expectError bool) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock DB: %v", err)
	}
	defer db.Close()

	setup(mock)
	err = run(New(db))

	if expectError && err == nil {
		t.Error("Expected error, got none")
	}
	if !expectError && err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func expectApply(mock sqlmock.Sqlmock, stmt, name string) {
	mock.ExpectBegin()
	mock.ExpectExec(stmt).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO migrations`).WithArgs(name).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
}

func TestMigratorInitialize(t *testing.T) {
	runWithMock(t, func(mock sqlmock.Sqlmock) {
		mock.ExpectExec(`CREATE TABLE IF NOT EXISTS migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	}, (*Migrator).Initialize, false)

	runWithMock(t, func(mock sqlmock.Sqlmock) {
		mock.ExpectExec(`CREATE TABLE IF NOT EXISTS migrations`).WillReturnError(sql.ErrConnDone)
	}, (*Migrator).Initialize, true)
}

func TestMigratorPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock DB: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT name FROM migrations ORDER BY id`).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("001_test"))

	pending, err := New(db).Pending(testMigrations)
	if err != nil {
		t.Fatalf("Pending() failed: %v", err)
	}
	if len(pending) != 1 || pending[0].Name != "002_test" {
		t.Errorf("Expected only 002_test pending, got %v", pending)
	}
}

func TestMigratorApplyMigration(t *testing.T) {
	migration := testMigrations[0]

	tests := []struct {
		name        string
		setupMock   func(sqlmock.Sqlmock)
		expectError bool
	}{
		{
			name: "applied and recorded",
			setupMock: func(mock sqlmock.Sqlmock) {
				expectApply(mock, `CREATE TABLE test1`, "001_test")
			},
		},
		{
			name: "begin error",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin().WillReturnError(sql.ErrConnDone)
			},
			expectError: true,
		},
		{
			name: "statement error rolls back",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(`CREATE TABLE test1`).WillReturnError(sql.ErrConnDone)
				mock.ExpectRollback()
			},
			expectError: true,
		},
		{
			name: "record error rolls back",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(`CREATE TABLE test1`).WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec(`INSERT INTO migrations`).WithArgs("001_test").WillReturnError(sql.ErrConnDone)
				mock.ExpectRollback()
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runWithMock(t, tt.setupMock, func(m *Migrator) error { return m.ApplyMigration(migration) }, tt.expectError)
		})
	}
}

func TestMigratorMigrate(t *testing.T) {
	tests := []struct {
		name        string
		setupMock   func(sqlmock.Sqlmock)
		expectError bool
	}{
		{
			name: "applies all pending",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`CREATE TABLE IF NOT EXISTS migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery(`SELECT name FROM migrations ORDER BY id`).WillReturnRows(sqlmock.NewRows([]string{"name"}))
				expectApply(mock, `CREATE TABLE test1`, "001_test")
				expectApply(mock, `CREATE TABLE test2`, "002_test")
			},
		},
		{
			name: "skips applied",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`CREATE TABLE IF NOT EXISTS migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery(`SELECT name FROM migrations ORDER BY id`).
					WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("001_test"))
				expectApply(mock, `CREATE TABLE test2`, "002_test")
			},
		},
		{
			name: "initialization error",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`CREATE TABLE IF NOT EXISTS migrations`).WillReturnError(sql.ErrConnDone)
			},
			expectError: true,
		},
		{
			name: "query error",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`CREATE TABLE IF NOT EXISTS migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery(`SELECT name FROM migrations ORDER BY id`).WillReturnError(sql.ErrConnDone)
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runWithMock(t, tt.setupMock, func(m *Migrator) error { return m.Migrate(testMigrations) }, tt.expectError)
		})
	}
}

func TestMigratorRollback(t *testing.T) {
	tests := []struct {
		name        string
		setupMock   func(sqlmock.Sqlmock)
		expectError bool
	}{
		{
			name: "reverts the last applied",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT name FROM migrations ORDER BY id`).
					WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("001_test").AddRow("002_test"))
				mock.ExpectBegin()
				mock.ExpectExec(`DROP TABLE test2`).WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec(`DELETE FROM migrations WHERE name`).WithArgs("002_test").WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
		},
		{
			name: "nothing applied",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT name FROM migrations ORDER BY id`).WillReturnRows(sqlmock.NewRows([]string{"name"}))
			},
			expectError: true,
		},
		{
			name: "down statement error",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT name FROM migrations ORDER BY id`).
					WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("001_test"))
				mock.ExpectBegin()
				mock.ExpectExec(`DROP TABLE test1`).WillReturnError(sql.ErrConnDone)
				mock.ExpectRollback()
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runWithMock(t, tt.setupMock, func(m *Migrator) error { return m.Rollback(testMigrations) }, tt.expectError)
		})
	}
}

func TestAllMigrations(t *testing.T) {
	seen := map[string]bool{}
	for i, migration := range All {
		if migration.Name == "" || migration.UpSQL == "" || migration.DownSQL == "" {
			t.Errorf("migration %d is incomplete", i)
		}
		if seen[migration.Name] {
			t.Errorf("duplicate migration %s", migration.Name)
		}
		seen[migration.Name] = true
		if i > 0 && All[i-1].Name >= migration.Name {
			t.Errorf("migrations out of order: %s before %s", All[i-1].Name, migration.Name)
		}
	}

	if !strings.Contains(InitialSchema.UpSQL, "CREATE TABLE IF NOT EXISTS flights") {
		t.Error("initial schema should create the flights table")
	}
	if !strings.Contains(InitialSchema.UpSQL, "dropped_samples") {
		t.Error("system_stats should carry every counter")
	}
}
