package repository_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"abandonment-service/models"
	"abandonment-service/repository"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{})
	assert.NoError(t, err)
	return gormDB, mock
}

var logColumns = []string{
	"id", "user_id", "cart_fingerprint", "cart_total", "discount_offered",
	"email_sent", "email_opened", "link_clicked", "purchase_completed",
	"sent_at", "opened_at", "clicked_at", "completed_at", "click_count", "created_at",
}

func logRow(rows *sqlmock.Rows, id int64, userID uuid.UUID, sent bool, createdAt time.Time) *sqlmock.Rows {
	return rows.AddRow(id, userID.String(), "fp", 110.0, 10.0, sent, false, false, false, nil, nil, nil, nil, 0, createdAt)
}

func TestCreate_Success(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewAbandonmentRepository(gormDB)

	entry := &models.AbandonmentLog{
		UserID:          uuid.New(),
		CartFingerprint: "abc",
		CartTotal:       110,
		DiscountOffered: 10,
		CreatedAt:       time.Now(),
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "cart_abandonment_log"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))
	mock.ExpectCommit()

	err := repo.Create(context.Background(), entry)
	assert.NoError(t, err)
	assert.Equal(t, int64(42), entry.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindLatest_Found(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewAbandonmentRepository(gormDB)

	userID := uuid.New()
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "cart_abandonment_log" WHERE user_id = $1 AND cart_fingerprint = $2 AND created_at > $3 ORDER BY created_at DESC`)).
		WillReturnRows(logRow(sqlmock.NewRows(logColumns), 7, userID, true, now))

	entry, err := repo.FindLatest(context.Background(), userID, "fp", now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, int64(7), entry.ID)
	assert.True(t, entry.EmailSent)
	assert.Equal(t, userID, entry.UserID)
}

func TestFindLatest_NotFound(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewAbandonmentRepository(gormDB)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "cart_abandonment_log"`)).
		WillReturnRows(sqlmock.NewRows(logColumns))

	entry, err := repo.FindLatest(context.Background(), uuid.New(), "fp", time.Now())
	assert.NoError(t, err)
	assert.Nil(t, entry)
}

func TestFindLatest_Error(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewAbandonmentRepository(gormDB)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "cart_abandonment_log"`)).
		WillReturnError(errors.New("connection reset"))

	entry, err := repo.FindLatest(context.Background(), uuid.New(), "fp", time.Now())
	assert.Error(t, err)
	assert.Nil(t, entry)
}

func TestMarkSent(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewAbandonmentRepository(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "cart_abandonment_log" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	assert.NoError(t, repo.MarkSent(context.Background(), 7, time.Now()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkOpened_OnlyFirstOpen(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewAbandonmentRepository(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "cart_abandonment_log" SET "email_opened"=$1,"opened_at"=COALESCE(opened_at, $2) WHERE id = $3 AND email_opened = $4`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "cart_abandonment_log" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	opened, err := repo.MarkOpened(context.Background(), 7, time.Now())
	require.NoError(t, err)
	assert.True(t, opened)

	opened, err = repo.MarkOpened(context.Background(), 7, time.Now())
	require.NoError(t, err)
	assert.False(t, opened)
}

func TestMarkClicked_WrongOwner(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewAbandonmentRepository(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "cart_abandonment_log" SET "click_count"=click_count + 1`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	clicked, err := repo.MarkClicked(context.Background(), 7, uuid.New(), time.Now())
	require.NoError(t, err)
	assert.False(t, clicked)
}

func TestMarkConverted(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewAbandonmentRepository(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "cart_abandonment_log" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ok, err := repo.MarkConverted(context.Background(), 7, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFindLatestUnconverted(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewAbandonmentRepository(gormDB)

	userID := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "cart_abandonment_log" WHERE user_id = $1 AND email_sent = $2 AND purchase_completed = $3 AND created_at > $4`)).
		WillReturnRows(logRow(sqlmock.NewRows(logColumns), 3, userID, true, time.Now()))

	entry, err := repo.FindLatestUnconverted(context.Background(), userID, time.Now().Add(-7*24*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, int64(3), entry.ID)
}

func TestList_Pagination(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewAbandonmentRepository(gormDB)

	userID := uuid.New()
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "cart_abandonment_log" WHERE user_id = $1 AND email_sent = $2`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(2)))
	rows := sqlmock.NewRows(logColumns)
	logRow(rows, 2, userID, true, now)
	logRow(rows, 1, userID, true, now.Add(-time.Hour))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "cart_abandonment_log" WHERE user_id = $1 AND email_sent = $2 ORDER BY created_at DESC LIMIT`)).
		WillReturnRows(rows)

	entries, total, err := repo.List(context.Background(), models.AbandonmentFilter{UserID: userID, SentOnly: true, PageSize: 1000})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, entries, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}
