package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"KaraFM/config"
	"KaraFM/core/controller"
	"KaraFM/core/download"
	"KaraFM/core/library"
	"KaraFM/core/queue"
	"KaraFM/logger"
	"KaraFM/model"
	"KaraFM/repository"

	"github.com/gorilla/mux"
)

// APIHandler bundles the dependencies of the HTTP endpoints.
type APIHandler struct {
	cfg     *config.Config
	ctrl    *controller.Controller
	queue   *queue.Manager
	lib     *library.Index
	coord   *download.Coordinator
	history repository.HistoryRepository // nil when no database is configured
}

// NewAPIHandler creates the handler set.
func NewAPIHandler(cfg *config.Config, ctrl *controller.Controller, q *queue.Manager, lib *library.Index, coord *download.Coordinator, history repository.HistoryRepository) *APIHandler {
	return &APIHandler{
		cfg:     cfg,
		ctrl:    ctrl,
		queue:   q,
		lib:     lib,
		coord:   coord,
		history: history,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("failed to encode response", logger.ErrorField(err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// AdminMiddleware gates privileged routes behind the shared admin secret.
// An empty configured secret disables the gate.
func (h *APIHandler) AdminMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.cfg.AdminSecret != "" {
			given := r.Header.Get("X-Admin-Secret")
			if subtle.ConstantTimeCompare([]byte(given), []byte(h.cfg.AdminSecret)) != 1 {
				writeError(w, http.StatusForbidden, "admin secret required")
				return
			}
		}
		next(w, r)
	}
}

// NowPlayingHandler returns the current revisioned playback state.
func (h *APIHandler) NowPlayingHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Snapshot())
}

// GetQueueHandler lists the queue in play order.
func (h *APIHandler) GetQueueHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"revision": h.queue.Revision(),
		"entries":  h.queue.Entries(),
	})
}

type enqueueRequest struct {
	FilePath string `json:"filePath"`
	Singer   string `json:"singer"`
	Top      bool   `json:"top"`
}

// EnqueueHandler adds a library song to the queue.
func (h *APIHandler) EnqueueHandler(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Singer == "" {
		writeError(w, http.StatusBadRequest, "singer is required")
		return
	}

	ent, ok := h.lib.Get(req.FilePath)
	if !ok {
		writeError(w, http.StatusNotFound, "song not in library")
		return
	}

	title := ent.Title
	if ent.Artist != "" {
		title = ent.Artist + " - " + ent.Title
	}
	entry := queue.NewEntry(ent.FilePath, title, req.Singer)

	pos := queue.Bottom
	if req.Top {
		pos = queue.Top
	}
	if err := h.queue.Enqueue(entry, pos); err != nil {
		if errors.Is(err, queue.ErrQuotaExceeded) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// RemoveFromQueueHandler deletes one entry. Removing an entry that was
// already popped is not an error; the song simply plays.
func (h *APIHandler) RemoveFromQueueHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.queue.Remove(id); err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "already gone"})
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// MoveQueueEntryHandler shifts an entry one position up or down.
func (h *APIHandler) MoveQueueEntryHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	var err error
	switch vars["direction"] {
	case "up":
		err = h.queue.MoveUp(id)
	case "down":
		err = h.queue.MoveDown(id)
	default:
		writeError(w, http.StatusBadRequest, "direction must be up or down")
		return
	}
	if err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			writeError(w, http.StatusNotFound, "entry not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "moved"})
}

// ClearQueueHandler empties the queue.
func (h *APIHandler) ClearQueueHandler(w http.ResponseWriter, r *http.Request) {
	h.queue.Clear()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

type randomRequest struct {
	Count int `json:"count"`
}

// AddRandomHandler queues random library songs under the system identity.
func (h *APIHandler) AddRandomHandler(w http.ResponseWriter, r *http.Request) {
	var req randomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Count < 1 {
		req.Count = 1
	}

	added, exhausted := h.queue.AddRandom(req.Count)
	if exhausted {
		h.ctrl.Notify(model.Notification{
			Message:  "Ran out of unqueued songs in the library",
			Severity: model.SeverityWarning,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"added":     added,
		"exhausted": exhausted,
	})
}

type controlRequest struct {
	Action string  `json:"action"`
	Value  float64 `json:"value"`
}

// ControlHandler applies a playback command (pause, resume, skip, restart,
// volume, transpose).
func (h *APIHandler) ControlHandler(w http.ResponseWriter, r *http.Request) {
	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cmd, err := model.ParseControl(req.Action, req.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.ctrl.Apply(cmd); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetLibraryHandler lists library songs, optionally filtered by substring.
func (h *APIHandler) GetLibraryHandler(w http.ResponseWriter, r *http.Request) {
	q := strings.ToLower(r.URL.Query().Get("q"))
	all := h.lib.All()
	if q == "" {
		writeJSON(w, http.StatusOK, all)
		return
	}

	filtered := make([]model.LibraryEntry, 0, len(all))
	for _, e := range all {
		if strings.Contains(strings.ToLower(e.Title), q) ||
			strings.Contains(strings.ToLower(e.Artist), q) {
			filtered = append(filtered, e)
		}
	}
	writeJSON(w, http.StatusOK, filtered)
}

// RescanLibraryHandler rebuilds the index from disk.
func (h *APIHandler) RescanLibraryHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.lib.Scan(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"songs": h.lib.Len()})
}

type downloadRequest struct {
	Query   string `json:"query"`
	Singer  string `json:"singer"`
	Enqueue bool   `json:"enqueue"`
	Top     bool   `json:"top"`
}

// RequestDownloadHandler starts a background download job.
func (h *APIHandler) RequestDownloadHandler(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.Enqueue && req.Singer == "" {
		writeError(w, http.StatusBadRequest, "singer is required when queueing")
		return
	}

	id := h.coord.Request(req.Query, req.Singer, req.Enqueue, req.Top)
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": id})
}

// ListDownloadsHandler lists in-flight download jobs.
func (h *APIHandler) ListDownloadsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.coord.Jobs())
}

// CancelDownloadHandler cancels a running download job.
func (h *APIHandler) CancelDownloadHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.coord.Cancel(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

type messageRequest struct {
	Message string `json:"message"`
}

// ShowMessageHandler displays a free-form message on the splash screen.
func (h *APIHandler) ShowMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.ctrl.ShowMessage(req.Message)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HistoryHandler lists recently completed songs, optionally per singer.
func (h *APIHandler) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotImplemented, "play history requires a database")
		return
	}

	limit := 50
	singer := r.URL.Query().Get("singer")

	var (
		rows []model.PlayHistory
		err  error
	)
	if singer != "" {
		rows, err = h.history.RecentBySinger(singer, limit)
	} else {
		rows, err = h.history.Recent(limit)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rows)
}
