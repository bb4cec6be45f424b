package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func setupMockSQLStore(t *testing.T, signer *Signer) (*sql.DB, sqlmock.Sqlmock, *SQLStore) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	return db, mock, newSQLStoreFromDB(db, signer)
}

func TestSQLStore_Save(t *testing.T) {
	db, mock, store := setupMockSQLStore(t, nil)
	defer db.Close()

	blob := FromExecution(sampleExecution(), NodeAwaitingApproval, 2)

	mock.ExpectExec("INSERT INTO checkpoints").
		WithArgs("exec-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Save(context.Background(), "exec-1", blob); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestSQLStore_Save_DatabaseError(t *testing.T) {
	db, mock, store := setupMockSQLStore(t, nil)
	defer db.Close()

	mock.ExpectExec("INSERT INTO checkpoints").
		WillReturnError(errors.New("connection refused"))

	err := store.Save(context.Background(), "exec-1", FromExecution(sampleExecution(), NodeAgent, 0))
	if err == nil {
		t.Fatal("Save: want error, got nil")
	}
}

func TestSQLStore_Load_Found(t *testing.T) {
	db, mock, store := setupMockSQLStore(t, nil)
	defer db.Close()

	blob := FromExecution(sampleExecution(), NodeTools, 4)
	data, err := Marshal(blob)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	rows := sqlmock.NewRows([]string{"blob"}).AddRow(string(data))
	mock.ExpectQuery("SELECT blob FROM checkpoints WHERE execution_id = ?").
		WithArgs("exec-1").
		WillReturnRows(rows)

	got, ok, err := store.Load(context.Background(), "exec-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !ok {
		t.Fatal("Load: want found=true")
	}
	if got.ExecutionID != blob.ExecutionID || got.NodePointer != blob.NodePointer {
		t.Errorf("Load mismatch: got %+v", got)
	}
}

func TestSQLStore_Load_NotFound(t *testing.T) {
	db, mock, store := setupMockSQLStore(t, nil)
	defer db.Close()

	mock.ExpectQuery("SELECT blob FROM checkpoints WHERE execution_id = ?").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, ok, err := store.Load(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Load: unexpected error %v", err)
	}
	if ok {
		t.Error("Load: want found=false for a missing checkpoint, not an error")
	}
}

func TestSQLStore_Load_WithSigner(t *testing.T) {
	signer := NewSigner([]byte("secret"), 0)
	db, mock, store := setupMockSQLStore(t, signer)
	defer db.Close()

	blob := FromExecution(sampleExecution(), NodeAwaitingApproval, 1)
	token, err := signer.Sign(blob)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	rows := sqlmock.NewRows([]string{"blob"}).AddRow(token)
	mock.ExpectQuery("SELECT blob FROM checkpoints WHERE execution_id = ?").
		WithArgs("exec-1").
		WillReturnRows(rows)

	got, ok, err := store.Load(context.Background(), "exec-1")
	if err != nil || !ok {
		t.Fatalf("Load = (_, %v, %v)", ok, err)
	}
	if got.ExecutionID != blob.ExecutionID {
		t.Errorf("ExecutionID = %q, want %q", got.ExecutionID, blob.ExecutionID)
	}
}

func TestSQLStore_Delete(t *testing.T) {
	db, mock, store := setupMockSQLStore(t, nil)
	defer db.Close()

	mock.ExpectExec("DELETE FROM checkpoints WHERE execution_id = ?").
		WithArgs("exec-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Delete(context.Background(), "exec-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
}
