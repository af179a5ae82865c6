// Package network - replay_handler.go
// History endpoints: the live event log, filtered, and per-unit recaps.
package network

import (
	"net/http"
	"strconv"
	"time"

	"github.com/coasim/coasim/internal/events"
	"github.com/coasim/coasim/internal/infra/storage"
	"github.com/coasim/coasim/internal/platform/logger"
)

// ReplayHandler serves the run history.
type ReplayHandler struct {
	eventLog      *events.EventLog
	reconstructor *storage.Reconstructor // Optional; enables /api/recap
	runID         string
	logger        *logger.Logger
}

// NewReplayHandler creates a new replay handler over the in-memory log.
func NewReplayHandler(el *events.EventLog, log *logger.Logger) *ReplayHandler {
	return &ReplayHandler{
		eventLog: el,
		logger:   log,
	}
}

// WithRecap serves recaps for runID from durable storage.
func (rh *ReplayHandler) WithRecap(rec *storage.Reconstructor, runID string) *ReplayHandler {
	rh.reconstructor = rec
	rh.runID = runID
	return rh
}

// ReplayEvent is an event with a readable summary.
type ReplayEvent struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Tick      int64  `json:"tick"`
	Type      string `json:"type"`
	ActorID   string `json:"actor_id"`
	TargetID  string `json:"target_id,omitempty"`
	Summary   string `json:"summary"`
	Impact    string `json:"impact"`
	Payload   any    `json:"payload,omitempty"`
}

// ReplayResponse is the API response for a replay query.
type ReplayResponse struct {
	TotalEvents int           `json:"total_events"`
	FilteredBy  string        `json:"filtered_by,omitempty"`
	GeneratedAt string        `json:"generated_at"`
	Events      []ReplayEvent `json:"events"`
}

// HandleReplay returns the filtered event history.
// GET /api/replay?unit=B1&type=UNIT_MOVED&since_tick=N
func (rh *ReplayHandler) HandleReplay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	unitID := q.Get("unit")
	eventType := q.Get("type")
	sinceTick, ok := parseTick(q.Get("since_tick"))
	if !ok {
		jsonError(w, "since_tick must be a non-negative integer", http.StatusBadRequest)
		return
	}

	filterDesc := ""
	if unitID != "" {
		filterDesc += " unit=" + unitID
	}
	if eventType != "" {
		filterDesc += " type=" + eventType
	}
	if sinceTick > 0 {
		filterDesc += " since_tick=" + strconv.FormatInt(sinceTick, 10)
	}

	replayEvents := []ReplayEvent{}
	for _, e := range rh.eventLog.Replay() {
		if e.Tick < sinceTick {
			continue
		}
		if eventType != "" && string(e.Type) != eventType {
			continue
		}
		if unitID != "" && e.ActorID != unitID && e.TargetID != unitID {
			continue
		}
		replayEvents = append(replayEvents, convertToReplayEvent(e))
	}

	response := ReplayResponse{
		TotalEvents: len(replayEvents),
		GeneratedAt: time.Now().Format(time.RFC3339),
		Events:      replayEvents,
	}
	if filterDesc != "" {
		response.FilteredBy = filterDesc[1:]
	}

	rh.logger.Event("REPLAY_QUERY", events.ActorOperator, "Events:"+strconv.Itoa(len(replayEvents)))
	jsonSuccess(w, response)
}

// HandleRecap returns what happened to one unit, from durable storage.
// GET /api/recap?unit=B1&since_tick=N
func (rh *ReplayHandler) HandleRecap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if rh.reconstructor == nil {
		jsonError(w, "recap requires storage", http.StatusNotImplemented)
		return
	}

	unitID := r.URL.Query().Get("unit")
	if unitID == "" {
		jsonError(w, "Missing unit", http.StatusBadRequest)
		return
	}
	sinceTick, ok := parseTick(r.URL.Query().Get("since_tick"))
	if !ok {
		jsonError(w, "since_tick must be a non-negative integer", http.StatusBadRequest)
		return
	}

	recap, err := rh.reconstructor.GenerateRecap(r.Context(), rh.runID, unitID, sinceTick)
	if err != nil {
		rh.logger.Errorf("recap for %s: %v", unitID, err)
		jsonError(w, "recap unavailable", http.StatusInternalServerError)
		return
	}
	if recap == nil {
		recap = []storage.RecapEvent{}
	}
	jsonSuccess(w, map[string]any{
		"run_id": rh.runID,
		"unit":   unitID,
		"recap":  recap,
	})
}

// RegisterRoutes sets up the replay API routes.
func (rh *ReplayHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/replay", rh.HandleReplay)
	mux.HandleFunc("/api/recap", rh.HandleRecap)
}

func parseTick(s string) (int64, bool) {
	if s == "" {
		return 0, true
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// convertToReplayEvent transforms an internal event to the public format.
func convertToReplayEvent(e events.SimEvent) ReplayEvent {
	summary, impact := storage.Describe(e)
	return ReplayEvent{
		ID:        e.ID,
		Timestamp: e.Timestamp.Format("15:04:05.000"),
		Tick:      e.Tick,
		Type:      string(e.Type),
		ActorID:   e.ActorID,
		TargetID:  e.TargetID,
		Summary:   summary,
		Impact:    impact,
		Payload:   e.Payload,
	}
}
