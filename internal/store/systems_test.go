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

	"github.com/logwarden/logwarden/internal/apperr"
	"github.com/logwarden/logwarden/internal/model"
)

func systemRows(id uuid.UUID, name string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "name", "event_source", "retention_days", "active",
		"search_url", "search_index", "search_token", "created_at",
	}).AddRow(id, name, "primary", nil, true, "", "", "", time.Now())
}

func TestGetSystem(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM monitored_systems WHERE id = $1`)).
		WithArgs(id).
		WillReturnRows(systemRows(id, "edge-router"))

	sys, err := s.GetSystem(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, sys.ID)
	assert.Equal(t, "edge-router", sys.Name)
	assert.Equal(t, "primary", sys.EventSource)
	assert.Nil(t, sys.RetentionDays)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSystemNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM monitored_systems WHERE id = $1`)).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.GetSystem(context.Background(), id)
	assert.True(t, apperr.IsNotFound(err))
}

func TestListSystemsActiveOnly(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM monitored_systems WHERE active ORDER BY name`)).
		WillReturnRows(systemRows(id, "edge-router"))

	systems, err := s.ListSystems(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, systems, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSystem(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO monitored_systems`)).
		WithArgs("edge-router", "primary", nil, true, "", "", "").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(id, now))

	sys := &model.MonitoredSystem{Name: "edge-router", EventSource: "primary", Active: true}
	require.NoError(t, s.CreateSystem(context.Background(), sys))
	assert.Equal(t, id, sys.ID)
	assert.Equal(t, now, sys.CreatedAt)
}

func TestUpdateSystemNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE monitored_systems`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdateSystem(context.Background(), &model.MonitoredSystem{ID: id, Name: "x", EventSource: "primary"})
	assert.True(t, apperr.IsNotFound(err))
}

func TestDeleteSystem(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM monitored_systems WHERE id = $1`)).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.DeleteSystem(context.Background(), id))

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM monitored_systems WHERE id = $1`)).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.True(t, apperr.IsNotFound(s.DeleteSystem(context.Background(), id)))
}
