package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/tshla/previsit-platform/internal/observability/metrics"
)

func countRow(n int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"count"}).AddRow(n)
}

func TestDashboardOverviewDerivesStates(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	h := NewPrevisitDashboardHandler(db, nil)

	// Queries run in a fixed order; match each by a distinctive fragment.
	mock.ExpectQuery(`FROM appointments\s+WHERE status = 'scheduled'`).WillReturnRows(countRow(12))
	mock.ExpectQuery(`JOIN previsit_responses pr ON pr\.appointment_id = a\.id\s+WHERE a\.status = 'scheduled'`).WillReturnRows(countRow(5))
	mock.ExpectQuery(`pr\.needs_manual_review`).WillReturnRows(countRow(2))
	mock.ExpectQuery(`>= 3`).WillReturnRows(countRow(1))
	mock.ExpectQuery(`FROM call_attempts WHERE initiated_at >= \$1$`).WillReturnRows(countRow(9))
	mock.ExpectQuery(`'answered_human','completed'`).WillReturnRows(countRow(4))
	mock.ExpectQuery(`state = 'voicemail_left'`).WillReturnRows(countRow(2))
	mock.ExpectQuery(`'no_answer','busy'`).WillReturnRows(countRow(2))
	mock.ExpectQuery(`state = 'provider_failure'`).WillReturnRows(countRow(1))
	mock.ExpectQuery(`requires_urgent_callback AND reviewed_at IS NULL`).WillReturnRows(countRow(3))

	req := httptest.NewRequest(http.MethodGet, "/admin/dashboard/previsit", nil)
	rec := httptest.NewRecorder()
	h.GetOverview(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp DashboardResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	require.Equal(t, 12, resp.Appointments.Upcoming)
	require.Equal(t, 5, resp.Appointments.Completed)
	require.Equal(t, 1, resp.Appointments.NoResponse)
	// Pending is derived, never stored.
	require.Equal(t, 6, resp.Appointments.Pending)
	require.Equal(t, 3, resp.UrgentCallbacks)

	require.Len(t, resp.PendingActions, 3)
	require.Equal(t, "urgent_callback", resp.PendingActions[0].Type)
	require.Equal(t, "high", resp.PendingActions[0].Priority)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDashboardOverviewQuietDay(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	h := NewPrevisitDashboardHandler(db, nil)
	for i := 0; i < 10; i++ {
		mock.ExpectQuery(`SELECT COUNT`).WillReturnRows(countRow(0))
	}

	rec := httptest.NewRecorder()
	h.GetOverview(rec, httptest.NewRequest(http.MethodGet, "/admin/dashboard/previsit", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp DashboardResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Zero(t, resp.Appointments.Pending)
	require.Empty(t, resp.PendingActions)
}

func TestDashboardWebhookLatencySnapshot(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	registry := prometheus.NewRegistry()
	callMetrics := metrics.NewCallMetrics(registry)
	for i := 0; i < 80; i++ {
		callMetrics.ObserveWebhookLatency("call.answered", 0.02)
	}
	for i := 0; i < 20; i++ {
		callMetrics.ObserveWebhookLatency("call.hangup", 3.0)
	}

	h := NewPrevisitDashboardHandler(db, nil).WithGatherer(registry)
	for i := 0; i < 10; i++ {
		mock.ExpectQuery(`SELECT COUNT`).WillReturnRows(countRow(0))
	}

	rec := httptest.NewRecorder()
	h.GetOverview(rec, httptest.NewRequest(http.MethodGet, "/admin/dashboard/previsit", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp DashboardResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.WebhookLatency)
	require.EqualValues(t, 100, resp.WebhookLatency.Total)
	// 80% of samples land in the 25ms bucket, the slow tail pushes p95 out.
	require.Less(t, resp.WebhookLatency.P90Ms, resp.WebhookLatency.P95Ms)
	require.Greater(t, resp.WebhookLatency.P95Ms, 1000.0)
}
