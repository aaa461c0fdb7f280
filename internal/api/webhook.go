package api

import (
	"io"
	"net/http"
)

// maxWebhookBody bounds webhook payload size
const maxWebhookBody = 1 << 20

// handleWebhook handles POST /webhook/ses
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "Failed to read body")
		return
	}

	if err := s.processor.Process(r.Context(), body); err != nil {
		s.logger.Warn("rejected webhook payload", "error", err)
		s.sendError(w, http.StatusBadRequest, "Invalid payload")
		return
	}

	w.WriteHeader(http.StatusOK)
}
