package worker

import (
	"context"
	"net/http"
	"strconv"

	"dataproc/internal/app/ingest"
	"dataproc/internal/http/responses"
	"dataproc/internal/logging"
)

const (
	defaultLetterLimit = 20
	maxLetterLimit     = 500
)

type StatsSource interface {
	Snapshot() ingest.Snapshot
}

// LetterSource lists recently dead-lettered messages.
type LetterSource interface {
	Recent(ctx context.Context, n int64) ([]ingest.Letter, error)
}

type Handler struct {
	stats   StatsSource
	letters LetterSource
	logger  logging.Logger
}

// NewHandler serves worker stats. letters may be nil when dead letters are
// not kept somewhere listable.
func NewHandler(stats StatsSource, letters LetterSource, logger logging.Logger) *Handler {
	return &Handler{
		stats:   stats,
		letters: letters,
		logger:  logger.With("component", "worker_handler"),
	}
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	responses.WriteJSON(w, http.StatusOK, h.stats.Snapshot())
}

func (h *Handler) DeadLetters(w http.ResponseWriter, r *http.Request) {
	if h.letters == nil {
		responses.WriteNotFound(w, r)
		return
	}

	limit := int64(defaultLetterLimit)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 1 || n > maxLetterLimit {
			responses.WriteBadRequest(w, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	letters, err := h.letters.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list dead letters", "error", err)
		responses.WriteError(w, http.StatusInternalServerError, "failed to list dead letters")
		return
	}
	responses.WriteJSON(w, http.StatusOK, map[string]any{"data": letters})
}
