package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/austindbirch/logreplay/internal/replay"
)

// Pinger is satisfied by the result stores and *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ProgressFunc reports how far the replay has come.
type ProgressFunc func() replay.Progress

type Status struct {
	OK       bool             `json:"ok"`
	Message  string           `json:"message,omitempty"`
	Store    *bool            `json:"store,omitempty"`
	RunID    string           `json:"run_id,omitempty"`
	Progress *replay.Progress `json:"progress,omitempty"`
}

// HTTPHandler returns an HTTP handler that reports replay progress and, when
// store is non-nil, whether the result store answers a ping.
func HTTPHandler(runID string, progress ProgressFunc, store Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := Status{OK: true, Message: "ok", RunID: runID}
		if progress != nil {
			p := progress()
			st.Progress = &p
		}

		code := http.StatusOK
		if store != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 1*time.Second)
			defer cancel()
			reachable := store.Ping(ctx) == nil
			st.Store = &reachable
			if !reachable {
				st.OK = false
				st.Message = "store ping failed"
				code = http.StatusServiceUnavailable
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(st)
	}
}
