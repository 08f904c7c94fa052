package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/loadcurve/loadcurve/pkg/log"
	"github.com/loadcurve/loadcurve/pkg/types"
)

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := s.getUser(r)

	// Admin-only. Listing other accounts isn't meaningful in single-user
	// mode but the admin check covers that too.
	if !s.isAdmin(user) && !s.bypassAuth {
		log.Ctx(ctx).WarnContext(ctx, "unauthorized access to list users", slog.String("email", user.Email))
		writeJSONError(w, "forbidden", http.StatusForbidden)
		return
	}

	users, err := s.storage.ListUsers(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to list users", slog.Any("error", err))
		writeJSONError(w, "failed to list users", http.StatusInternalServerError)
		return
	}

	// Always return an array, even if empty
	if users == nil {
		users = []types.User{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(users); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleListFeedback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := s.getUser(r)

	if !s.isAdmin(user) && !s.bypassAuth {
		log.Ctx(ctx).WarnContext(ctx, "unauthorized access to list feedback", slog.String("email", user.Email))
		writeJSONError(w, "forbidden", http.StatusForbidden)
		return
	}

	feedbacks, err := s.storage.ListFeedback(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to list feedback", slog.Any("error", err))
		writeJSONError(w, "failed to list feedback", http.StatusInternalServerError)
		return
	}

	// Always return an array, even if empty
	if feedbacks == nil {
		feedbacks = []types.Feedback{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(feedbacks); err != nil {
		panic(http.ErrAbortHandler)
	}
}
