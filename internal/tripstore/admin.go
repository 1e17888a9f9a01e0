package tripstore

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"
)

// AttachAdminRoutes mounts the trip log's debug pages under /debug/: a
// tailsql console over the database and a JSON list of recent trips.
func (s *Store) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://trips.db", s.db, &tailsql.DBOptions{
		Label: "Trip DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("trips", "Recent trips as JSON (?limit=N)", http.HandlerFunc(s.handleTrips))
	return nil
}

func (s *Store) handleTrips(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, fmt.Sprintf("invalid limit %q", v), http.StatusBadRequest)
			return
		}
		limit = n
	}

	trips, err := s.ListTrips(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if trips == nil {
		trips = []*Trip{}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(trips); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
