package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/halcyonmail/campaignd/internal/models"
	"github.com/halcyonmail/campaignd/internal/repository"
	"github.com/halcyonmail/campaignd/internal/tracking"
)

// handleOpenPixel handles GET /track/open/{logID}/pixel.gif. The pixel
// is served unconditionally: a broken or unknown log id must not leak
// as a broken image in the recipient's mail client.
func (s *Server) handleOpenPixel(w http.ResponseWriter, r *http.Request) {
	if logID, err := strconv.ParseInt(chi.URLParam(r, "logID"), 10, 64); err == nil {
		s.recordOpen(logID)
	}

	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.WriteHeader(http.StatusOK)
	w.Write(tracking.Pixel)
}

func (s *Server) recordOpen(logID int64) {
	log, err := s.logs.GetByID(logID)
	if errors.Is(err, repository.ErrNotFound) {
		return
	}
	if err != nil {
		s.logger.Error("failed to load delivery log", "log_id", logID, "error", err)
		return
	}

	if !log.MarkOpened() {
		return
	}
	if err := s.logs.Save(log); err != nil {
		s.logger.Error("failed to save delivery log", "log_id", logID, "error", err)
		return
	}
	if err := s.campaigns.IncrementMetric(log.CampaignID, models.MetricOpened); err != nil {
		s.logger.Error("failed to increment opened counter", "campaign_id", log.CampaignID, "error", err)
	}
	s.metrics.EventsTotal.WithLabelValues("open").Inc()
}

// handleClick handles GET /track/click/{logID}. Signature or payload
// problems never error to the recipient; they fall back to a redirect
// to the public base URL.
func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	payload := r.URL.Query().Get("p")
	sig := r.URL.Query().Get("sig")

	result, err := s.signer.ValidateClick(payload, sig)
	if err != nil {
		s.logger.Warn("rejected tracking click", "error", err, "remote_addr", r.RemoteAddr)
		http.Redirect(w, r, s.signer.BaseURL(), http.StatusFound)
		return
	}

	if result.Record {
		if logID, perr := strconv.ParseInt(chi.URLParam(r, "logID"), 10, 64); perr == nil {
			s.recordClick(logID)
		}
	}

	http.Redirect(w, r, result.RedirectURL, http.StatusFound)
}

func (s *Server) recordClick(logID int64) {
	log, err := s.logs.GetByID(logID)
	if errors.Is(err, repository.ErrNotFound) {
		return
	}
	if err != nil {
		s.logger.Error("failed to load delivery log", "log_id", logID, "error", err)
		return
	}

	if !log.MarkClicked() {
		return
	}
	if err := s.logs.Save(log); err != nil {
		s.logger.Error("failed to save delivery log", "log_id", logID, "error", err)
		return
	}
	if err := s.campaigns.IncrementMetric(log.CampaignID, models.MetricClicked); err != nil {
		s.logger.Error("failed to increment clicked counter", "campaign_id", log.CampaignID, "error", err)
	}
	s.metrics.EventsTotal.WithLabelValues("click").Inc()
}

// handlePreferencesPage handles GET /preferences?token=
func (s *Server) handlePreferencesPage(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	rec, err := s.recipients.GetByToken(token)
	if err != nil {
		http.Error(w, "Unknown subscription", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if rec.MarketingStatus == models.MarketingUnsubscribed {
		fmt.Fprint(w, `<html><body><p>You are unsubscribed from marketing emails.</p></body></html>`)
		return
	}
	fmt.Fprintf(w, `<html><body>
<p>Unsubscribe %s from marketing emails?</p>
<form method="POST" action="/preferences?token=%s"><button type="submit">Unsubscribe</button></form>
</body></html>`, rec.Email, token)
}

// handleUnsubscribe handles POST /preferences?token=. It flips the
// recipient's marketing status and attributes the unsubscribe to the
// campaign that most recently emailed them.
func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.PostFormValue("token")
	}

	rec, err := s.recipients.GetByToken(token)
	if err != nil {
		http.Error(w, "Unknown subscription", http.StatusNotFound)
		return
	}

	if rec.MarketingStatus != models.MarketingUnsubscribed {
		if err := s.recipients.SetMarketingStatus(rec.ID, models.MarketingUnsubscribed); err != nil {
			s.logger.Error("failed to unsubscribe recipient", "recipient_id", rec.ID, "error", err)
			http.Error(w, "Something went wrong", http.StatusInternalServerError)
			return
		}
		s.recordUnsubscribe(rec.ID)
		s.logger.Info("recipient unsubscribed", "recipient_id", rec.ID)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, `<html><body><p>You have been unsubscribed from marketing emails.</p></body></html>`)
}

func (s *Server) recordUnsubscribe(recipientID int64) {
	log, err := s.logs.LatestByRecipient(recipientID)
	if errors.Is(err, repository.ErrNotFound) {
		// Unsubscribed without ever receiving a campaign email.
		return
	}
	if err != nil {
		s.logger.Error("failed to load delivery log", "recipient_id", recipientID, "error", err)
		return
	}

	if !log.MarkUnsubscribed() {
		return
	}
	if err := s.logs.Save(log); err != nil {
		s.logger.Error("failed to save delivery log", "log_id", log.ID, "error", err)
		return
	}
	if err := s.campaigns.IncrementMetric(log.CampaignID, models.MetricUnsubscribed); err != nil {
		s.logger.Error("failed to increment unsubscribed counter", "campaign_id", log.CampaignID, "error", err)
	}
	s.metrics.EventsTotal.WithLabelValues("unsubscribe").Inc()
}
