package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/strikerdlm/meteor/internal/predict"
)

func (a *App) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"name":           "meteord",
		"state":          a.state.Load().(string),
		"uptime_seconds": int64(time.Since(a.startedAt).Seconds()),
		"dry_run":        a.dryRun,
		"outputs_dir":    a.cfg.Paths.Outputs,
		"station": map[string]any{
			"lat": a.cfg.Station.Latitude,
			"lon": a.cfg.Station.Longitude,
			"alt": a.cfg.Station.Altitude,
		},
	}
	if holder := a.lock.Holder(); holder != nil {
		resp["device_lock"] = map[string]any{
			"holder_id":   holder.HolderID,
			"acquired_at": holder.AcquiredAt.Format(time.RFC3339),
			"stale":       holder.Stale(time.Now().UTC()),
		}
	}
	writeJSON(w, resp)
}

// handlePasses is the read-only "list eligible passes" query. It never
// touches the device lock or the ledger beyond dedup checks.
func (a *App) handlePasses(w http.ResponseWriter, r *http.Request) {
	hours := a.cfg.Predict.LookaheadHours
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "invalid hours parameter", http.StatusBadRequest)
			return
		}
		hours = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	now := time.Now().UTC()
	passes, err := a.predictor.Predict(ctx, now, now.Add(time.Duration(hours)*time.Hour))
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, predict.ErrDataUnavailable) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), status)
		return
	}

	type passJSON struct {
		Target    string  `json:"target"`
		NoradID   int     `json:"norad_id"`
		AOS       string  `json:"aos"`
		TCA       string  `json:"tca"`
		LOS       string  `json:"los"`
		MaxElev   float64 `json:"max_elev"`
		DurationS int     `json:"duration_s"`
		Attempted bool    `json:"attempted"`
	}

	out := make([]passJSON, 0, len(passes))
	for _, p := range passes {
		out = append(out, passJSON{
			Target:    p.Target.Name,
			NoradID:   p.Target.NoradID,
			AOS:       p.AOS.Format(time.RFC3339),
			TCA:       p.TCA.Format(time.RFC3339),
			LOS:       p.LOS.Format(time.RFC3339),
			MaxElev:   p.MaxElev,
			DurationS: int(p.Duration.Seconds()),
			Attempted: a.store.HasAttempt(p.Target.Name, p.AOS),
		})
	}

	writeJSON(w, map[string]any{
		"passes": out,
		"station": map[string]any{
			"lat": a.cfg.Station.Latitude,
			"lon": a.cfg.Station.Longitude,
			"alt": a.cfg.Station.Altitude,
		},
	})
}

func (a *App) handleAttempts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"attempts": a.store.All()})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
