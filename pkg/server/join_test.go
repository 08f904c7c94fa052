package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/loadcurve/loadcurve/pkg/storage"
	"github.com/loadcurve/loadcurve/pkg/storage/storagemock"
	"github.com/loadcurve/loadcurve/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func joinRequest(body string) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/api/join", strings.NewReader(body))
}

func TestJoin(t *testing.T) {
	t.Run("InvalidUsagePointID", func(t *testing.T) {
		s := &Server{}
		for _, id := range []string{"", "1234", "1234567890123a", "123456789012345"} {
			req := joinRequest(`{"usagePointID":"` + id + `"}`)
			req = authedRequest(req, types.User{ID: "u1"}, "")
			w := httptest.NewRecorder()
			s.handleJoin(w, req)
			assert.Equal(t, http.StatusBadRequest, w.Code, "id %q", id)
		}
	})

	t.Run("ForbiddenInSingleUserMode", func(t *testing.T) {
		s := &Server{singleUsagePoint: testUsagePointID}
		req := joinRequest(`{"usagePointID":"` + testUsagePointID + `"}`)
		req = authedRequest(req, types.User{ID: "u1"}, "")
		w := httptest.NewRecorder()
		s.handleJoin(w, req)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("RegistersNewUser", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("CreateUser", mock.Anything, mock.MatchedBy(func(u types.User) bool {
			return u.ID == "sub1" && u.Email == "new@example.com" &&
				len(u.UsagePoints) == 1 && u.UsagePoints[0].ID == testUsagePointID &&
				u.UsagePoints[0].Name == "Home"
		})).Return(nil)
		db.On("GetSettings", mock.Anything, testUsagePointID).Return(types.Settings{}, 0, storage.ErrSettingsNotFound)
		db.On("SetSettings", mock.Anything, testUsagePointID, mock.MatchedBy(func(st types.Settings) bool {
			return st.Name == "Home" && st.Provider == "enedis"
		}), types.CurrentSettingsVersion).Return(nil)

		s := &Server{storage: db}
		req := joinRequest(`{"usagePointID":"` + testUsagePointID + `","name":"Home"}`)
		ctx := context.WithValue(req.Context(), userToRegisterContextKey, types.User{ID: "sub1", Email: "new@example.com"})
		req = req.WithContext(ctx)
		w := httptest.NewRecorder()
		s.handleJoin(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		db.AssertExpectations(t)
	})

	t.Run("AttachesPointToExistingUser", func(t *testing.T) {
		existing := types.User{
			ID:          "u1",
			Email:       "user@example.com",
			UsagePoints: []types.UserUsagePoint{{ID: "99999999999999", Name: "Old"}},
		}
		db := &storagemock.MockDatabase{}
		db.On("GetUser", mock.Anything, "u1").Return(existing, nil)
		db.On("UpdateUser", mock.Anything, mock.MatchedBy(func(u types.User) bool {
			return len(u.UsagePoints) == 2 && u.UsagePoints[1].ID == testUsagePointID
		})).Return(nil)
		db.On("GetSettings", mock.Anything, testUsagePointID).Return(types.Settings{}, 0, storage.ErrSettingsNotFound)
		db.On("SetSettings", mock.Anything, testUsagePointID, mock.Anything, types.CurrentSettingsVersion).Return(nil)

		s := &Server{storage: db}
		req := joinRequest(`{"usagePointID":"` + testUsagePointID + `"}`)
		req = authedRequest(req, existing, "")
		w := httptest.NewRecorder()
		s.handleJoin(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		db.AssertExpectations(t)
	})

	t.Run("RenamesExistingPoint", func(t *testing.T) {
		existing := types.User{
			ID:          "u1",
			UsagePoints: []types.UserUsagePoint{{ID: testUsagePointID, Name: "Old"}},
		}
		db := &storagemock.MockDatabase{}
		db.On("GetUser", mock.Anything, "u1").Return(existing, nil)
		db.On("UpdateUser", mock.Anything, mock.MatchedBy(func(u types.User) bool {
			return len(u.UsagePoints) == 1 && u.UsagePoints[0].Name == "Chalet"
		})).Return(nil)

		s := &Server{storage: db}
		req := joinRequest(`{"usagePointID":"` + testUsagePointID + `","name":"Chalet"}`)
		req = authedRequest(req, existing, "")
		w := httptest.NewRecorder()
		s.handleJoin(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		// no new point, settings stay untouched
		db.AssertNotCalled(t, "SetSettings", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("CapsUsagePoints", func(t *testing.T) {
		existing := types.User{ID: "u1"}
		for i := 0; i < maxUsagePointsPerUser; i++ {
			existing.UsagePoints = append(existing.UsagePoints, types.UserUsagePoint{
				ID: "1000000000000" + string(rune('0'+i)),
			})
		}
		db := &storagemock.MockDatabase{}
		db.On("GetUser", mock.Anything, "u1").Return(existing, nil)

		s := &Server{storage: db}
		req := joinRequest(`{"usagePointID":"` + testUsagePointID + `"}`)
		req = authedRequest(req, existing, "")
		w := httptest.NewRecorder()
		s.handleJoin(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
		db.AssertNotCalled(t, "UpdateUser", mock.Anything, mock.Anything)
	})
}
