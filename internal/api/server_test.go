package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/halcyonmail/campaignd/internal/config"
	"github.com/halcyonmail/campaignd/internal/content"
	"github.com/halcyonmail/campaignd/internal/dispatch"
	"github.com/halcyonmail/campaignd/internal/events"
	"github.com/halcyonmail/campaignd/internal/metrics"
	"github.com/halcyonmail/campaignd/internal/models"
	"github.com/halcyonmail/campaignd/internal/repository"
	"github.com/halcyonmail/campaignd/internal/tracking"
	"github.com/halcyonmail/campaignd/internal/webhook"
)

const testToken = "test-admin-token"

// captureMailer records sends instead of talking SMTP
type captureMailer struct {
	mu   sync.Mutex
	sent []*models.EmailMessage
	next int
}

func (m *captureMailer) Send(ctx context.Context, msg *models.EmailMessage) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	m.sent = append(m.sent, msg)
	return fmt.Sprintf("test-msg-%d", m.next), nil
}

func (m *captureMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type testEnv struct {
	server     *Server
	store      *repository.Store
	campaigns  *repository.CampaignRepository
	templates  *repository.TemplateRepository
	recipients *repository.RecipientRepository
	logs       *repository.DeliveryLogRepository
	signer     *tracking.Signer
	mailer     *captureMailer
	tenant     uuid.UUID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	store, err := repository.Open(filepath.Join(dir, "campaignd.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	eventStore, err := events.NewStore(filepath.Join(dir, "events.db"))
	if err != nil {
		t.Fatalf("events.NewStore() error = %v", err)
	}
	t.Cleanup(func() { eventStore.Close() })

	cfg := &config.Config{}
	cfg.Server.AdminToken = testToken
	cfg.Tracking.PublicBaseURL = "https://mail.example.com"
	cfg.Tracking.HMACSecret = "super-secret-hmac-key"
	cfg.Tracking.LinkExpiration = time.Hour
	cfg.Metrics.Enabled = true
	cfg.Metrics.Path = "/metrics"

	logger := slog.New(slog.DiscardHandler)
	met := metrics.New()

	campaigns := repository.NewCampaignRepository(store)
	templates := repository.NewTemplateRepository(store)
	recipients := repository.NewRecipientRepository(store)
	audience := repository.NewAudienceRepository(store)
	logs := repository.NewDeliveryLogRepository(store)

	signer := tracking.NewSigner(tracking.Config{
		PublicBaseURL:  cfg.Tracking.PublicBaseURL,
		Secret:         cfg.Tracking.HMACSecret,
		LinkExpiration: cfg.Tracking.LinkExpiration,
	})
	builder := content.NewBuilder(content.SimpleEngine{}, signer)
	mail := &captureMailer{}

	sender := dispatch.NewSender(campaigns, templates, audience, logs, builder, mail, met,
		dispatch.SenderConfig{BatchSize: 50}, logger)
	launcher := dispatch.NewLauncher(sender, dispatch.LauncherConfig{Workers: 1, QueueSize: 8}, logger)
	launcher.Start(context.Background())
	t.Cleanup(func() { launcher.Stop(time.Second) })

	processor := webhook.NewProcessor(logs, campaigns, recipients, eventStore, met, logger)

	server := NewServer(cfg, campaigns, templates, recipients, audience, logs,
		launcher, sender, processor, signer, met, logger)

	return &testEnv{
		server:     server,
		store:      store,
		campaigns:  campaigns,
		templates:  templates,
		recipients: recipients,
		logs:       logs,
		signer:     signer,
		mailer:     mail,
		tenant:     uuid.New(),
	}
}

func (e *testEnv) request(t *testing.T, method, path string, body any, auth bool) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if auth {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) seedTemplate(t *testing.T) *models.Template {
	t.Helper()
	tpl := &models.Template{
		TenantID: e.tenant,
		Name:     "welcome",
		Subject:  "Hello {{name}}",
		BodyHTML: `<p>Hi {{name}}, see <a href="https://shop.example.com/sale">our sale</a></p>`,
		Active:   true,
	}
	if err := e.templates.Create(tpl); err != nil {
		t.Fatal(err)
	}
	return tpl
}

func (e *testEnv) seedRecipient(t *testing.T, email string) *models.Recipient {
	t.Helper()
	rec := &models.Recipient{
		TenantID:         e.tenant,
		Email:            email,
		Name:             "Ada",
		MarketingStatus:  models.MarketingSubscribed,
		MarketingConsent: true,
	}
	if err := e.recipients.Create(rec); err != nil {
		t.Fatal(err)
	}
	return rec
}

func (e *testEnv) seedSentLog(t *testing.T, campaignID, recipientID int64, messageID string) *models.DeliveryLog {
	t.Helper()
	l := models.NewPendingLog(campaignID, e.tenant, recipientID, 1)
	if err := e.logs.Create(l); err != nil {
		t.Fatal(err)
	}
	l.MarkSent(messageID)
	if err := e.logs.Save(l); err != nil {
		t.Fatal(err)
	}
	return l
}

func (e *testEnv) waitForStatus(t *testing.T, campaignID int64, want models.CampaignStatus) *models.Campaign {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		c, err := e.campaigns.GetByID(campaignID)
		if err != nil {
			t.Fatal(err)
		}
		if c.Status == want {
			return c
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("campaign %d never reached %q", campaignID, want)
	return nil
}

func TestAuthRequired(t *testing.T) {
	e := newTestEnv(t)

	rec := e.request(t, http.MethodGet, "/api/v1/campaigns?tenant_id="+e.tenant.String(), nil, false)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/campaigns?tenant_id="+e.tenant.String(), nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	w := httptest.NewRecorder()
	e.server.Router().ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token status = %d, want 401", w.Code)
	}

	// Public endpoints need no auth.
	if rec := e.request(t, http.MethodGet, "/health", nil, false); rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", rec.Code)
	}
}

func TestCampaignLifecycleViaAPI(t *testing.T) {
	e := newTestEnv(t)
	tpl := e.seedTemplate(t)
	e.seedRecipient(t, "ada@example.com")
	e.seedRecipient(t, "bob@example.com")

	// Create draft.
	rec := e.request(t, http.MethodPost, "/api/v1/campaigns", CampaignRequest{
		TenantID:   e.tenant.String(),
		Name:       "spring sale",
		TemplateID: tpl.ID,
	}, true)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body)
	}
	var created models.Campaign
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created.Status != models.CampaignDraft {
		t.Errorf("status = %q, want draft", created.Status)
	}

	// Launch and wait for the async run.
	rec = e.request(t, http.MethodPost, fmt.Sprintf("/api/v1/campaigns/%d/launch", created.ID), nil, true)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("launch status = %d: %s", rec.Code, rec.Body)
	}

	done := e.waitForStatus(t, created.ID, models.CampaignCompleted)
	if done.Sent != 2 {
		t.Errorf("sent = %d, want 2", done.Sent)
	}
	if done.TotalRecipients != 2 {
		t.Errorf("total recipients = %d, want 2", done.TotalRecipients)
	}
	if e.mailer.count() != 2 {
		t.Errorf("mailer sent %d, want 2", e.mailer.count())
	}

	// The rendered body carries tracking rewrites.
	e.mailer.mu.Lock()
	body := e.mailer.sent[0].BodyHTML
	e.mailer.mu.Unlock()
	if !strings.Contains(body, "/track/click/") || !strings.Contains(body, "/track/open/") {
		t.Errorf("body missing tracking URLs: %s", body)
	}
	if !strings.Contains(body, "Hi Ada") && !strings.Contains(body, "Hi Bob") {
		t.Errorf("body missing variable substitution: %s", body)
	}

	// Delivery logs are queryable.
	rec = e.request(t, http.MethodGet, fmt.Sprintf("/api/v1/campaigns/%d/logs", created.ID), nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("logs status = %d", rec.Code)
	}
	var logsResp struct {
		Total int `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &logsResp)
	if logsResp.Total != 2 {
		t.Errorf("log total = %d, want 2", logsResp.Total)
	}

	// A completed campaign cannot be cancelled.
	rec = e.request(t, http.MethodPost, fmt.Sprintf("/api/v1/campaigns/%d/cancel", created.ID), nil, true)
	if rec.Code != http.StatusConflict {
		t.Errorf("cancel status = %d, want 409", rec.Code)
	}
}

func TestScheduleValidation(t *testing.T) {
	e := newTestEnv(t)
	tpl := e.seedTemplate(t)

	c := models.NewDraftCampaign(e.tenant, "later", tpl.ID, models.AudienceFilter{})
	if err := e.campaigns.Create(c); err != nil {
		t.Fatal(err)
	}

	rec := e.request(t, http.MethodPost, fmt.Sprintf("/api/v1/campaigns/%d/schedule", c.ID),
		ScheduleRequest{ScheduledAt: time.Now().Add(-time.Hour)}, true)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("past schedule status = %d, want 400", rec.Code)
	}

	rec = e.request(t, http.MethodPost, fmt.Sprintf("/api/v1/campaigns/%d/schedule", c.ID),
		ScheduleRequest{ScheduledAt: time.Now().Add(time.Hour)}, true)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("schedule status = %d: %s", rec.Code, rec.Body)
	}

	got, _ := e.campaigns.GetByID(c.ID)
	if got.Status != models.CampaignScheduled {
		t.Errorf("status = %q, want scheduled", got.Status)
	}

	// Scheduled campaigns can still be cancelled.
	rec = e.request(t, http.MethodPost, fmt.Sprintf("/api/v1/campaigns/%d/cancel", c.ID), nil, true)
	if rec.Code != http.StatusNoContent {
		t.Errorf("cancel status = %d, want 204", rec.Code)
	}
}

func TestOpenPixel(t *testing.T) {
	e := newTestEnv(t)
	tpl := e.seedTemplate(t)
	r := e.seedRecipient(t, "pix@example.com")
	c := models.NewDraftCampaign(e.tenant, "c", tpl.ID, models.AudienceFilter{})
	e.campaigns.Create(c)
	l := e.seedSentLog(t, c.ID, r.ID, "m-pix")

	rec := e.request(t, http.MethodGet, fmt.Sprintf("/track/open/%d/pixel.gif", l.ID), nil, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("pixel status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/gif" {
		t.Errorf("content type = %q", ct)
	}
	if cc := rec.Header().Get("Cache-Control"); !strings.Contains(cc, "no-cache") {
		t.Errorf("cache control = %q", cc)
	}

	got, _ := e.logs.GetByID(l.ID)
	if got.Status != models.DeliveryOpened {
		t.Errorf("status = %q, want opened", got.Status)
	}
	campaign, _ := e.campaigns.GetByID(c.ID)
	if campaign.Opened != 1 {
		t.Errorf("opened counter = %d, want 1", campaign.Opened)
	}

	// Repeat open does not double count; unknown log still serves the
	// pixel.
	e.request(t, http.MethodGet, fmt.Sprintf("/track/open/%d/pixel.gif", l.ID), nil, false)
	campaign, _ = e.campaigns.GetByID(c.ID)
	if campaign.Opened != 1 {
		t.Errorf("opened counter = %d after replay, want 1", campaign.Opened)
	}
	if rec := e.request(t, http.MethodGet, "/track/open/99999/pixel.gif", nil, false); rec.Code != http.StatusOK {
		t.Errorf("unknown log pixel status = %d, want 200", rec.Code)
	}
}

func TestClickRedirect(t *testing.T) {
	e := newTestEnv(t)
	tpl := e.seedTemplate(t)
	r := e.seedRecipient(t, "click@example.com")
	c := models.NewDraftCampaign(e.tenant, "c", tpl.ID, models.AudienceFilter{})
	e.campaigns.Create(c)
	l := e.seedSentLog(t, c.ID, r.ID, "m-click")

	clickURL := e.signer.ClickURL(l.ID, "https://shop.example.com/sale")
	path := strings.TrimPrefix(clickURL, "https://mail.example.com")

	rec := e.request(t, http.MethodGet, path, nil, false)
	if rec.Code != http.StatusFound {
		t.Fatalf("click status = %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "https://shop.example.com/sale" {
		t.Errorf("redirect = %q", loc)
	}

	got, _ := e.logs.GetByID(l.ID)
	if got.Status != models.DeliveryClicked {
		t.Errorf("status = %q, want clicked", got.Status)
	}
	if got.OpenedAt == nil {
		t.Error("click should backfill opened_at")
	}
	campaign, _ := e.campaigns.GetByID(c.ID)
	if campaign.Clicked != 1 {
		t.Errorf("clicked counter = %d, want 1", campaign.Clicked)
	}

	// A second click still redirects but does not count again.
	rec = e.request(t, http.MethodGet, path, nil, false)
	if rec.Code != http.StatusFound {
		t.Fatalf("second click status = %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "https://shop.example.com/sale" {
		t.Errorf("second click redirect = %q", loc)
	}
	campaign, _ = e.campaigns.GetByID(c.ID)
	if campaign.Clicked != 1 {
		t.Errorf("clicked counter = %d after second click, want 1", campaign.Clicked)
	}
}

func TestClickBadSignature(t *testing.T) {
	e := newTestEnv(t)

	rec := e.request(t, http.MethodGet, "/track/click/1?p=evil&sig=forged", nil, false)
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "https://mail.example.com" {
		t.Errorf("forged click redirected to %q, want base URL", loc)
	}
}

func TestWebhookDelivery(t *testing.T) {
	e := newTestEnv(t)
	tpl := e.seedTemplate(t)
	r := e.seedRecipient(t, "hook@example.com")
	c := models.NewDraftCampaign(e.tenant, "c", tpl.ID, models.AudienceFilter{})
	e.campaigns.Create(c)
	l := e.seedSentLog(t, c.ID, r.ID, "m-hook")

	body := map[string]any{
		"notificationType": "Bounce",
		"mail":             map[string]any{"messageId": "m-hook"},
		"bounce":           map[string]any{"bounceType": "Permanent"},
	}
	rec := e.request(t, http.MethodPost, "/webhook/ses", body, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("webhook status = %d: %s", rec.Code, rec.Body)
	}

	got, _ := e.logs.GetByID(l.ID)
	if got.Status != models.DeliveryBounced {
		t.Errorf("status = %q, want bounced", got.Status)
	}
	recipient, _ := e.recipients.GetByID(r.ID)
	if recipient.MarketingStatus != models.MarketingBounced {
		t.Errorf("recipient status = %q, want bounced", recipient.MarketingStatus)
	}

	if rec := e.request(t, http.MethodPost, "/webhook/ses", nil, false); rec.Code != http.StatusBadRequest {
		t.Errorf("empty webhook status = %d, want 400", rec.Code)
	}
}

func TestUnsubscribeFlow(t *testing.T) {
	e := newTestEnv(t)
	tpl := e.seedTemplate(t)
	r := e.seedRecipient(t, "bye@example.com")
	c := models.NewDraftCampaign(e.tenant, "c", tpl.ID, models.AudienceFilter{})
	e.campaigns.Create(c)
	e.seedSentLog(t, c.ID, r.ID, "m-bye")

	rec := e.request(t, http.MethodGet, "/preferences?token="+r.UnsubscribeToken, nil, false)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Unsubscribe") {
		t.Fatalf("preferences page status = %d body = %s", rec.Code, rec.Body)
	}

	rec = e.request(t, http.MethodPost, "/preferences?token="+r.UnsubscribeToken, nil, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("unsubscribe status = %d", rec.Code)
	}

	got, _ := e.recipients.GetByID(r.ID)
	if got.MarketingStatus != models.MarketingUnsubscribed {
		t.Errorf("status = %q, want unsubscribed", got.MarketingStatus)
	}
	campaign, _ := e.campaigns.GetByID(c.ID)
	if campaign.Unsubscribed != 1 {
		t.Errorf("unsubscribed counter = %d, want 1", campaign.Unsubscribed)
	}

	// Replay does not double count.
	e.request(t, http.MethodPost, "/preferences?token="+r.UnsubscribeToken, nil, false)
	campaign, _ = e.campaigns.GetByID(c.ID)
	if campaign.Unsubscribed != 1 {
		t.Errorf("unsubscribed counter = %d after replay, want 1", campaign.Unsubscribed)
	}

	if rec := e.request(t, http.MethodGet, "/preferences?token=unknown", nil, false); rec.Code != http.StatusNotFound {
		t.Errorf("unknown token status = %d, want 404", rec.Code)
	}
}

func TestTemplateCRUD(t *testing.T) {
	e := newTestEnv(t)

	rec := e.request(t, http.MethodPost, "/api/v1/templates", TemplateRequest{
		TenantID: e.tenant.String(),
		Name:     "promo",
		Subject:  "Deals for {{name}}",
		BodyHTML: "<p>{{name}}</p>",
	}, true)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body)
	}
	var tpl models.Template
	json.Unmarshal(rec.Body.Bytes(), &tpl)

	if rec := e.request(t, http.MethodGet, fmt.Sprintf("/api/v1/templates/%d", tpl.ID), nil, true); rec.Code != http.StatusOK {
		t.Errorf("get status = %d", rec.Code)
	}

	rec = e.request(t, http.MethodPost, fmt.Sprintf("/api/v1/templates/%d/test", tpl.ID),
		TestSendRequest{To: "qa@example.com"}, true)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("test send status = %d: %s", rec.Code, rec.Body)
	}
	if e.mailer.count() != 1 {
		t.Fatalf("mailer sent %d, want 1", e.mailer.count())
	}
	e.mailer.mu.Lock()
	msg := e.mailer.sent[0]
	e.mailer.mu.Unlock()
	if !strings.HasPrefix(msg.Subject, "[TEST] ") {
		t.Errorf("test subject = %q", msg.Subject)
	}

	if rec := e.request(t, http.MethodDelete, fmt.Sprintf("/api/v1/templates/%d", tpl.ID), nil, true); rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", rec.Code)
	}
	if rec := e.request(t, http.MethodGet, fmt.Sprintf("/api/v1/templates/%d", tpl.ID), nil, true); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", rec.Code)
	}
}

func TestAudiencePreview(t *testing.T) {
	e := newTestEnv(t)
	tpl := e.seedTemplate(t)
	e.seedRecipient(t, "one@example.com")
	unsub := e.seedRecipient(t, "two@example.com")
	e.recipients.SetMarketingStatus(unsub.ID, models.MarketingUnsubscribed)

	c := models.NewDraftCampaign(e.tenant, "c", tpl.ID, models.AudienceFilter{})
	e.campaigns.Create(c)

	rec := e.request(t, http.MethodGet, fmt.Sprintf("/api/v1/campaigns/%d/audience", c.ID), nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("audience status = %d", rec.Code)
	}
	var resp struct {
		Members  []models.AudienceMember `json:"members"`
		Eligible int64                   `json:"eligible"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Members) != 2 {
		t.Errorf("members = %d, want 2 (preview shows ineligible too)", len(resp.Members))
	}
	if resp.Eligible != 1 {
		t.Errorf("eligible = %d, want 1", resp.Eligible)
	}
}
