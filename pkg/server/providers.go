package server

import (
	"encoding/json"
	"net/http"

	"github.com/loadcurve/loadcurve/pkg/types"
)

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	providers := s.meters.List()

	if s.showHidden {
		for i := range providers {
			providers[i].Hidden = false
		}
	} else {
		visible := providers[:0]
		for _, p := range providers {
			if !p.Hidden {
				visible = append(visible, p)
			}
		}
		providers = visible
	}

	if providers == nil {
		providers = []types.MeterProviderInfo{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(providers); err != nil {
		writeJSONError(w, "internal server error", http.StatusInternalServerError)
		return
	}
}
