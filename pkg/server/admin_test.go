package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/loadcurve/loadcurve/pkg/storage/storagemock"
	"github.com/loadcurve/loadcurve/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestListUsers(t *testing.T) {
	t.Run("NotAdmin", func(t *testing.T) {
		s := &Server{}
		req := httptest.NewRequest(http.MethodGet, "/api/admin/users", nil)
		req = authedRequest(req, types.User{ID: "u1", Email: "user@example.com"}, "")
		w := httptest.NewRecorder()
		s.handleListUsers(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("AdminEmail", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("ListUsers", mock.Anything).Return([]types.User{
			{ID: "u1", Email: "user@example.com"},
		}, nil)

		s := &Server{storage: db, adminEmails: []string{"admin@example.com"}}
		req := httptest.NewRequest(http.MethodGet, "/api/admin/users", nil)
		req = authedRequest(req, types.User{ID: "a1", Email: "admin@example.com"}, "")
		w := httptest.NewRecorder()
		s.handleListUsers(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var users []types.User
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &users))
		require.Len(t, users, 1)
		assert.Equal(t, "user@example.com", users[0].Email)
	})

	t.Run("EmptyIsArray", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("ListUsers", mock.Anything).Return([]types.User(nil), nil)

		s := &Server{storage: db, bypassAuth: true}
		req := httptest.NewRequest(http.MethodGet, "/api/admin/users", nil)
		req = authedRequest(req, types.User{}, "")
		w := httptest.NewRecorder()
		s.handleListUsers(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `[]`, w.Body.String())
	})
}

func TestListFeedback(t *testing.T) {
	t.Run("NotAdmin", func(t *testing.T) {
		s := &Server{}
		req := httptest.NewRequest(http.MethodGet, "/api/admin/feedback", nil)
		req = authedRequest(req, types.User{ID: "u1", Email: "user@example.com"}, "")
		w := httptest.NewRecorder()
		s.handleListFeedback(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("OK", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("ListFeedback", mock.Anything).Return([]types.Feedback{
			{UserID: "u1", Message: "more charts please"},
		}, nil)

		s := &Server{storage: db, adminEmails: []string{"admin@example.com"}}
		req := httptest.NewRequest(http.MethodGet, "/api/admin/feedback", nil)
		req = authedRequest(req, types.User{ID: "a1", Email: "admin@example.com"}, "")
		w := httptest.NewRecorder()
		s.handleListFeedback(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var feedbacks []types.Feedback
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &feedbacks))
		require.Len(t, feedbacks, 1)
		assert.Equal(t, "more charts please", feedbacks[0].Message)
	})
}
