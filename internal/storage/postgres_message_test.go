package storage

import (
	"context"
	"database/sql/driver"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"

	"gitlab.com/arveo/api/crm-conversation-service/internal/apperrors"
	"gitlab.com/arveo/api/crm-conversation-service/internal/model"
)

// jsonArg matches a JSON column argument regardless of whether the driver
// encodes it as string or []byte.
type jsonArg string

func (j jsonArg) Match(v driver.Value) bool {
	switch val := v.(type) {
	case string:
		return val == string(j)
	case []byte:
		return string(val) == string(j)
	default:
		return false
	}
}

// --- Message Repository Tests ---

// TestPostgresRepo_InsertMessage tests storing a new client-facing message
func TestPostgresRepo_InsertMessage(t *testing.T) {
	repo, mock := newTestRepo(t)
	ctx := context.Background()

	message := model.Message{
		CorrelationID:    testCorrelationID,
		Content:          "hello there",
		AuthorKind:       model.AuthorClient,
		Kind:             model.KindText,
		ChannelMessageID: 4242,
	}

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "messages"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(100))

	err := repo.InsertMessage(ctx, &message)

	assert.NoError(t, err)
	assert.False(t, message.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestPostgresRepo_UpdateMessage_Success tests the locked in-place patch of a
// deduped message
func TestPostgresRepo_UpdateMessage_Success(t *testing.T) {
	repo, mock := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()
	createdAt := now.Add(-time.Hour)

	message := model.Message{
		ID:             100,
		CorrelationID:  testCorrelationID,
		Content:        "edited content",
		Kind:           model.KindText,
		DeliveryStatus: model.DeliveryDelivered,
	}

	cols := []string{"id", "correlation_id", "content", "author_kind", "kind", "created_at", "updated_at"}
	existingRows := sqlmock.NewRows(cols).
		AddRow(100, testCorrelationID, "original content", model.AuthorClient, model.KindText, createdAt, now.Add(-time.Minute))

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "messages" WHERE id = $1`)).
		WillReturnRows(existingRows)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "messages" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.UpdateMessage(ctx, &message)

	assert.NoError(t, err)
	// The original insert time must survive the patch.
	assert.Equal(t, createdAt, message.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestPostgresRepo_UpdateMessage_NotFound tests patching a row that vanished
func TestPostgresRepo_UpdateMessage_NotFound(t *testing.T) {
	repo, mock := newTestRepo(t)
	ctx := context.Background()

	message := model.Message{ID: 999, Content: "nothing to patch"}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "messages" WHERE id = $1`)).
		WillReturnError(gorm.ErrRecordNotFound)
	mock.ExpectRollback()

	err := repo.UpdateMessage(ctx, &message)

	assert.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestPostgresRepo_AppendReaction_Merge tests that a new reaction merges into
// the existing author map instead of replacing it
func TestPostgresRepo_AppendReaction_Merge(t *testing.T) {
	repo, mock := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	cols := []string{"id", "correlation_id", "content", "reactions", "created_at", "updated_at"}
	existingRows := sqlmock.NewRows(cols).
		AddRow(100, testCorrelationID, "hello", []byte(`{"alice":"👍"}`), now.Add(-time.Hour), now.Add(-time.Minute))

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "messages" WHERE id = $1`)).
		WillReturnRows(existingRows)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "messages" SET`)).
		WithArgs(jsonArg(`{"alice":"👍","bob":"🔥"}`), AnyTime{}, int64(100)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.AppendReaction(ctx, 100, "bob", "🔥")

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestPostgresRepo_AppendReaction_MessageGone tests reacting to a message that
// does not exist
func TestPostgresRepo_AppendReaction_MessageGone(t *testing.T) {
	repo, mock := newTestRepo(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "messages" WHERE id = $1`)).
		WillReturnError(gorm.ErrRecordNotFound)
	mock.ExpectRollback()

	err := repo.AppendReaction(ctx, 999, "bob", "🔥")

	assert.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestPostgresRepo_FindMessageByPartnerID_Found tests the partner external id
// lookup
func TestPostgresRepo_FindMessageByPartnerID_Found(t *testing.T) {
	repo, mock := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	cols := []string{"id", "correlation_id", "content", "partner_message_id", "created_at", "updated_at"}
	rows := sqlmock.NewRows(cols).
		AddRow(100, testCorrelationID, "hello", "pmsg-1", now.Add(-time.Hour), now)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "messages" WHERE partner_message_id = $1`)).
		WithArgs("pmsg-1", 1).
		WillReturnRows(rows)

	found, err := repo.FindMessageByPartnerID(ctx, "pmsg-1")

	assert.NoError(t, err)
	assert.NotNil(t, found)
	if found != nil {
		assert.Equal(t, int64(100), found.ID)
		assert.Equal(t, "pmsg-1", found.PartnerMessageID)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestPostgresRepo_FindMessageByPartnerID_Sentinels tests that the "null"
// placeholder and empty ids never reach the database
func TestPostgresRepo_FindMessageByPartnerID_Sentinels(t *testing.T) {
	repo, mock := newTestRepo(t)
	ctx := context.Background()

	found, err := repo.FindMessageByPartnerID(ctx, model.PartnerMessageIDNull)
	assert.NoError(t, err)
	assert.Nil(t, found)

	found, err = repo.FindMessageByPartnerID(ctx, "")
	assert.NoError(t, err)
	assert.Nil(t, found)

	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestPostgresRepo_FindMessageByChannelID_Sentinel tests that the zero channel
// id never reaches the database
func TestPostgresRepo_FindMessageByChannelID_Sentinel(t *testing.T) {
	repo, mock := newTestRepo(t)
	ctx := context.Background()

	found, err := repo.FindMessageByChannelID(ctx, 0)

	assert.NoError(t, err)
	assert.Nil(t, found)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestPostgresRepo_LinkMessageToOrder tests recording the order-message
// association
func TestPostgresRepo_LinkMessageToOrder(t *testing.T) {
	repo, mock := newTestRepo(t)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "order_messages"`)).
		WithArgs(int64(22), int64(100)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.LinkMessageToOrder(ctx, 22, 100)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestPostgresRepo_FindMessagePage_WithCursor tests fetching a page strictly
// older than the cursor
func TestPostgresRepo_FindMessagePage_WithCursor(t *testing.T) {
	repo, mock := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()
	before := now.Add(-time.Minute)

	cols := []string{"id", "correlation_id", "content", "created_at", "updated_at"}
	rows := sqlmock.NewRows(cols).
		AddRow(99, testCorrelationID, "older one", now.Add(-2*time.Minute), now).
		AddRow(98, testCorrelationID, "older two", now.Add(-3*time.Minute), now)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "messages" WHERE correlation_id IN`)).
		WillReturnRows(rows)

	messages, err := repo.FindMessagePage(ctx, []int64{testCorrelationID}, 2, &before)

	assert.NoError(t, err)
	assert.Len(t, messages, 2)
	assert.Equal(t, int64(99), messages[0].ID)
	assert.Equal(t, int64(98), messages[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestPostgresRepo_FindMessagePage_EmptySet tests that an empty correlation id
// set never reaches the database
func TestPostgresRepo_FindMessagePage_EmptySet(t *testing.T) {
	repo, mock := newTestRepo(t)
	ctx := context.Background()

	messages, err := repo.FindMessagePage(ctx, nil, 10, nil)

	assert.NoError(t, err)
	assert.Nil(t, messages)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestPostgresRepo_LatestMessagePerCorrelationID tests the latest-per-thread
// aggregate
func TestPostgresRepo_LatestMessagePerCorrelationID(t *testing.T) {
	repo, mock := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()
	otherCorrelation := int64(1690000000000456)

	cols := []string{"id", "correlation_id", "content", "created_at", "updated_at"}
	rows := sqlmock.NewRows(cols).
		AddRow(100, testCorrelationID, "latest here", now.Add(-time.Minute), now).
		AddRow(80, otherCorrelation, "latest there", now.Add(-time.Hour), now)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT DISTINCT ON (correlation_id) *`)).
		WillReturnRows(rows)

	latest, err := repo.LatestMessagePerCorrelationID(ctx, []int64{testCorrelationID, otherCorrelation})

	assert.NoError(t, err)
	assert.Len(t, latest, 2)
	assert.Equal(t, "latest here", latest[testCorrelationID].Content)
	assert.Equal(t, "latest there", latest[otherCorrelation].Content)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestPostgresRepo_UnreadCountPerCorrelationID tests the unread-count
// aggregate, including threads with no unread rows
func TestPostgresRepo_UnreadCountPerCorrelationID(t *testing.T) {
	repo, mock := newTestRepo(t)
	ctx := context.Background()
	otherCorrelation := int64(1690000000000456)

	rows := sqlmock.NewRows([]string{"correlation_id", "count"}).
		AddRow(testCorrelationID, 3)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT correlation_id, COUNT(*) AS count`)).
		WillReturnRows(rows)

	counts, err := repo.UnreadCountPerCorrelationID(ctx, []int64{testCorrelationID, otherCorrelation})

	assert.NoError(t, err)
	assert.Equal(t, int64(3), counts[testCorrelationID])
	// A thread with no unread rows is simply absent.
	_, present := counts[otherCorrelation]
	assert.False(t, present)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestPostgresRepo_UnreadCountPerCorrelationID_EmptySet tests the empty-set
// short circuit
func TestPostgresRepo_UnreadCountPerCorrelationID_EmptySet(t *testing.T) {
	repo, mock := newTestRepo(t)
	ctx := context.Background()

	counts, err := repo.UnreadCountPerCorrelationID(ctx, nil)

	assert.NoError(t, err)
	assert.Empty(t, counts)
	assert.NoError(t, mock.ExpectationsWereMet())
}
