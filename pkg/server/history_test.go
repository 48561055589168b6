package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sunswitch/sunswitch/pkg/storage/storagemock"
	"github.com/sunswitch/sunswitch/pkg/types"
)

func TestParseTimeRange(t *testing.T) {
	t.Run("Default", func(t *testing.T) {
		start, end, err := parseTimeRange(httptest.NewRequest("GET", "/api/history/actions", nil))
		require.NoError(t, err)
		assert.Equal(t, 24*time.Hour, end.Sub(start))
	})

	t.Run("Valid", func(t *testing.T) {
		start, end, err := parseTimeRange(httptest.NewRequest("GET", "/api/history/actions?start=2025-06-01T00:00:00Z&end=2025-06-02T00:00:00Z", nil))
		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), start)
		assert.Equal(t, time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC), end)
	})

	for name, query := range map[string]string{
		"Bad Start": "start=yesterday&end=2025-06-02T00:00:00Z",
		"Bad End":   "start=2025-06-01T00:00:00Z&end=tomorrow",
		"Reversed":  "start=2025-06-02T00:00:00Z&end=2025-06-01T00:00:00Z",
		"Empty":     "start=2025-06-01T00:00:00Z&end=2025-06-01T00:00:00Z",
		"Too Long":  "start=2025-06-01T00:00:00Z&end=2025-06-09T00:00:00Z",
	} {
		t.Run(name, func(t *testing.T) {
			_, _, err := parseTimeRange(httptest.NewRequest("GET", "/api/history/actions?"+query, nil))
			assert.Error(t, err)
		})
	}
}

func TestHistory(t *testing.T) {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	query := "?start=2025-06-01T00:00:00Z&end=2025-06-02T00:00:00Z"

	t.Run("Readings", func(t *testing.T) {
		mockS := &storagemock.MockDatabase{}
		srv := &Server{storage: mockS}
		mockS.On("GetReadingHistory", mock.Anything, start, end).Return([]types.Reading{
			{Timestamp: start.Add(time.Hour), DeviceID: "inv", ActivePowerKW: 2.5},
		}, nil)

		w := httptest.NewRecorder()
		srv.handleHistoryReadings(w, httptest.NewRequest("GET", "/api/history/readings"+query, nil))

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"activePowerKW":2.5`)
		// the range is in the past
		assert.Equal(t, "private, max-age=86400", w.Header().Get("Cache-Control"))
		mockS.AssertExpectations(t)
	})

	t.Run("Actions", func(t *testing.T) {
		mockS := &storagemock.MockDatabase{}
		srv := &Server{storage: mockS}
		mockS.On("GetActionHistory", mock.Anything, start, end).Return([]types.Action{
			{Timestamp: start.Add(time.Hour), Reason: types.ActionReasonBelowTrigger},
		}, nil)

		w := httptest.NewRecorder()
		srv.handleHistoryActions(w, httptest.NewRequest("GET", "/api/history/actions"+query, nil))

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"reason":"belowTrigger"`)
		mockS.AssertExpectations(t)
	})

	t.Run("Recent Range Short Cache", func(t *testing.T) {
		mockS := &storagemock.MockDatabase{}
		srv := &Server{storage: mockS}
		mockS.On("GetActionHistory", mock.Anything, mock.Anything, mock.Anything).Return([]types.Action{}, nil)

		w := httptest.NewRecorder()
		srv.handleHistoryActions(w, httptest.NewRequest("GET", "/api/history/actions", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "private, max-age=60", w.Header().Get("Cache-Control"))
	})

	t.Run("Invalid Range", func(t *testing.T) {
		mockS := &storagemock.MockDatabase{}
		srv := &Server{storage: mockS}

		w := httptest.NewRecorder()
		srv.handleHistoryReadings(w, httptest.NewRequest("GET", "/api/history/readings?start=x&end=y", nil))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		mockS.AssertNotCalled(t, "GetReadingHistory", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Storage Error", func(t *testing.T) {
		mockS := &storagemock.MockDatabase{}
		srv := &Server{storage: mockS}
		mockS.On("GetReadingHistory", mock.Anything, start, end).Return([]types.Reading(nil), errors.New("unavailable"))

		w := httptest.NewRecorder()
		srv.handleHistoryReadings(w, httptest.NewRequest("GET", "/api/history/readings"+query, nil))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}
