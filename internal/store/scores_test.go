package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logwarden/logwarden/internal/model"
)

func TestSystemScores(t *testing.T) {
	s, mock := newMockStore(t)
	sysA := uuid.New()
	from := time.Now().Add(-7 * 24 * time.Hour)
	to := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT es.system_id, es.criterion_id, MAX(es.effective_value) AS value FROM effective_scores es JOIN windows w ON w.id = es.window_id WHERE w.to_ts > $1 AND w.from_ts < $2`)).
		WithArgs(from, to).
		WillReturnRows(sqlmock.NewRows([]string{"system_id", "criterion_id", "value"}).
			AddRow(sysA, 1, 0.8).
			AddRow(sysA, 4, 0.3))

	scores, err := s.SystemScores(context.Background(), from, to)
	require.NoError(t, err)
	require.Len(t, scores, 2)
	assert.Equal(t, model.SystemScore{SystemID: sysA, CriterionID: 1, Value: 0.8}, scores[0])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestZeroEventScores(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(
		`UPDATE event_scores SET score = 0 WHERE event_id IN ($1, $2, $3) AND score <> 0`)).
		WithArgs(int64(1), int64(2), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 18))

	n, err := s.ZeroEventScores(context.Background(), []int64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, int64(18), n)

	n, err = s.ZeroEventScores(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMaxEventScoresFillsMissingCriteria(t *testing.T) {
	s, mock := newMockStore(t)
	systemID := uuid.New()
	from := time.Now().Add(-5 * time.Minute)
	to := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT s.criterion_id, MAX(s.score) AS score`)).
		WithArgs(systemID, from, to).
		WillReturnRows(sqlmock.NewRows([]string{"criterion_id", "score"}).
			AddRow(1, 0.9).
			AddRow(4, 0.5))

	scores, err := s.MaxEventScores(context.Background(), systemID, from, to, nil)
	require.NoError(t, err)
	require.Len(t, scores, len(model.Criteria))
	assert.InDelta(t, 0.9, scores[1], 1e-9)
	assert.InDelta(t, 0.5, scores[4], 1e-9)
	assert.Zero(t, scores[2], "unscored criteria map to zero")
}

func TestMaxEventScoresExcludesSuppressed(t *testing.T) {
	s, mock := newMockStore(t)
	systemID := uuid.New()
	from := time.Now().Add(-5 * time.Minute)
	to := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`AND s.event_id NOT IN ($4, $5) GROUP BY s.criterion_id`)).
		WithArgs(systemID, from, to, int64(10), int64(11)).
		WillReturnRows(sqlmock.NewRows([]string{"criterion_id", "score"}))

	_, err := s.MaxEventScores(context.Background(), systemID, from, to, []int64{10, 11})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertEventScores(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta(`INSERT INTO event_scores`))
	prep.ExpectExec().
		WithArgs(int64(1), 1, 0.7, "event", "high", []byte(`["auth_failure"]`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.InsertEventScores(context.Background(), []model.EventScore{{
		EventID:       1,
		CriterionID:   1,
		Score:         0.7,
		ScoreType:     model.ScoreTypeEvent,
		SeverityLabel: "high",
		ReasonCodes:   model.StringList{"auth_failure"},
	}})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
