package stats

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/park285/tictactoe-live/internal/domain"
)

func newMock(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgres(db), mock
}

func finished(winner string) Result {
	at := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	return Result{SessionID: "s1", First: "A", Second: "B", Winner: winner, StartedAt: at, FinishedAt: at.Add(time.Minute)}
}

func TestRecordWin(t *testing.T) {
	p, mock := newMock(t)
	r := finished("A")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO game_results")).
		WithArgs("s1", "A", "B", "A", sqlmock.AnyArg(), r.StartedAt, r.FinishedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO user_statistics")).
		WithArgs("A", 1, 0, 0, r.FinishedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO user_statistics")).
		WithArgs("B", 0, 1, 0, r.FinishedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := p.RecordResult(context.Background(), r); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecordDraw(t *testing.T) {
	p, mock := newMock(t)
	r := finished("")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO game_results")).
		WithArgs("s1", "A", "B", nil, sqlmock.AnyArg(), r.StartedAt, r.FinishedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	for _, uid := range []string{"A", "B"} {
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO user_statistics")).
			WithArgs(uid, 0, 0, 1, r.FinishedAt).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	if err := p.RecordResult(context.Background(), r); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecordDuplicateCountsOnce(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO game_results")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	if err := p.RecordResult(context.Background(), finished("B")); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecordRollsBackOnError(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO game_results")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO user_statistics")).WillReturnError(errors.New("deadlock"))
	mock.ExpectRollback()

	if err := p.RecordResult(context.Background(), finished("A")); err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGet(t *testing.T) {
	p, mock := newMock(t)
	at := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT games_total")).WithArgs("A").
		WillReturnRows(sqlmock.NewRows([]string{"games_total", "games_win", "games_loose", "games_draw", "updated_at"}).AddRow(5, 3, 1, 1, at))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT games_total")).WithArgs("nobody").
		WillReturnRows(sqlmock.NewRows([]string{"games_total", "games_win", "games_loose", "games_draw", "updated_at"}))

	st, err := p.Get(context.Background(), "A")
	if err != nil || st.GamesTotal != 5 || st.GamesWin != 3 {
		t.Fatalf("get A = %+v, %v", st, err)
	}
	st, err = p.Get(context.Background(), "nobody")
	if err != nil || st.GamesTotal != 0 || st.UserID != "nobody" {
		t.Fatalf("missing row should read as zero: %+v, %v", st, err)
	}
}

func TestResultOf(t *testing.T) {
	s := domain.NewSession("s1", "g", domain.Principal{ID: "A"}, domain.MarkerX, time.Unix(0, 0))
	s.SecondPlayer = &domain.Participant{ID: "B", Marker: domain.MarkerO}
	s.Status, s.Winner = domain.StatusFinished, "B"
	r := ResultOf(s)
	if r.First != "A" || r.Second != "B" || r.Winner != "B" {
		t.Fatalf("ResultOf = %+v", r)
	}
}

func TestNop(t *testing.T) {
	var rec Recorder = Nop{}
	if err := rec.RecordResult(context.Background(), finished("A")); err != nil {
		t.Fatalf("nop record: %v", err)
	}
}
