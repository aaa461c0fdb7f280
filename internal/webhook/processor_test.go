package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/halcyonmail/campaignd/internal/metrics"
	"github.com/halcyonmail/campaignd/internal/models"
	"github.com/halcyonmail/campaignd/internal/repository"
)

type mockLogs struct {
	logs  map[string]*models.DeliveryLog
	saved int
}

func (m *mockLogs) GetByMessageID(messageID string) (*models.DeliveryLog, error) {
	l, ok := m.logs[messageID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return l, nil
}

func (m *mockLogs) Save(l *models.DeliveryLog) error {
	m.saved++
	return nil
}

type mockCampaigns struct {
	increments map[models.CampaignMetric]int
}

func (m *mockCampaigns) IncrementMetric(id int64, metric models.CampaignMetric) error {
	if m.increments == nil {
		m.increments = make(map[models.CampaignMetric]int)
	}
	m.increments[metric]++
	return nil
}

type mockRecipients struct {
	statuses map[int64]models.MarketingStatus
}

func (m *mockRecipients) SetMarketingStatus(id int64, status models.MarketingStatus) error {
	if m.statuses == nil {
		m.statuses = make(map[int64]models.MarketingStatus)
	}
	m.statuses[id] = status
	return nil
}

type mockEvents struct {
	events []*models.DeliveryEvent
}

func (m *mockEvents) Append(event *models.DeliveryEvent) error {
	m.events = append(m.events, event)
	return nil
}

type fixture struct {
	processor  *Processor
	logs       *mockLogs
	campaigns  *mockCampaigns
	recipients *mockRecipients
	events     *mockEvents
}

func newFixture(logs map[string]*models.DeliveryLog) *fixture {
	f := &fixture{
		logs:       &mockLogs{logs: logs},
		campaigns:  &mockCampaigns{},
		recipients: &mockRecipients{},
		events:     &mockEvents{},
	}
	f.processor = NewProcessor(f.logs, f.campaigns, f.recipients, f.events, metrics.New(),
		slog.New(slog.DiscardHandler))
	return f
}

func sentLog(messageID string) *models.DeliveryLog {
	l := models.NewPendingLog(10, uuid.New(), 20, 30)
	l.MarkSent(messageID)
	return l
}

func notification(eventType, messageID string) []byte {
	msg, _ := json.Marshal(map[string]any{
		"notificationType": eventType,
		"mail": map[string]any{
			"messageId":   messageID,
			"destination": []string{"user@example.com"},
		},
	})
	return msg
}

func snsWrapped(message []byte) []byte {
	body, _ := json.Marshal(map[string]string{
		"Type":    "Notification",
		"Message": string(message),
	})
	return body
}

func TestProcessDelivery(t *testing.T) {
	log := sentLog("msg-1")
	f := newFixture(map[string]*models.DeliveryLog{"msg-1": log})

	if err := f.processor.Process(context.Background(), notification("Delivery", "msg-1")); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if log.Status != models.DeliveryDelivered {
		t.Errorf("status = %q, want delivered", log.Status)
	}
	if f.campaigns.increments[models.MetricDelivered] != 1 {
		t.Error("delivered metric not incremented")
	}
	if len(f.events.events) != 1 || f.events.events[0].EventType != "delivery" {
		t.Errorf("audit events = %+v", f.events.events)
	}
	if f.events.events[0].Email != "user@example.com" {
		t.Errorf("event email = %q", f.events.events[0].Email)
	}
}

func TestProcessSNSEnvelope(t *testing.T) {
	log := sentLog("msg-2")
	f := newFixture(map[string]*models.DeliveryLog{"msg-2": log})

	body := snsWrapped(notification("Delivery", "msg-2"))
	if err := f.processor.Process(context.Background(), body); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if log.Status != models.DeliveryDelivered {
		t.Errorf("status = %q, want delivered through the envelope", log.Status)
	}
}

func TestProcessBounce(t *testing.T) {
	log := sentLog("msg-3")
	f := newFixture(map[string]*models.DeliveryLog{"msg-3": log})

	msg, _ := json.Marshal(map[string]any{
		"notificationType": "Bounce",
		"mail":             map[string]any{"messageId": "msg-3"},
		"bounce": map[string]any{
			"bounceType":    "Permanent",
			"bounceSubType": "General",
		},
	})
	if err := f.processor.Process(context.Background(), msg); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if log.Status != models.DeliveryBounced {
		t.Errorf("status = %q, want bounced", log.Status)
	}
	if f.campaigns.increments[models.MetricBounced] != 1 {
		t.Error("bounced metric not incremented")
	}
	if f.recipients.statuses[20] != models.MarketingBounced {
		t.Errorf("recipient status = %q, want bounced", f.recipients.statuses[20])
	}
	if f.events.events[0].BounceType != "Permanent" {
		t.Errorf("bounce type = %q", f.events.events[0].BounceType)
	}
}

func TestProcessComplaint(t *testing.T) {
	log := sentLog("msg-4")
	f := newFixture(map[string]*models.DeliveryLog{"msg-4": log})

	if err := f.processor.Process(context.Background(), notification("Complaint", "msg-4")); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if log.Status != models.DeliveryComplained {
		t.Errorf("status = %q, want complained", log.Status)
	}
	if f.campaigns.increments[models.MetricComplained] != 1 {
		t.Error("complained metric not incremented")
	}
	if f.recipients.statuses[20] != models.MarketingComplained {
		t.Errorf("recipient status = %q, want complained", f.recipients.statuses[20])
	}
}

func TestProcessReplayIsIdempotent(t *testing.T) {
	log := sentLog("msg-5")
	f := newFixture(map[string]*models.DeliveryLog{"msg-5": log})

	body := notification("Bounce", "msg-5")
	for i := 0; i < 3; i++ {
		if err := f.processor.Process(context.Background(), body); err != nil {
			t.Fatalf("Process() error = %v", err)
		}
	}

	if f.campaigns.increments[models.MetricBounced] != 1 {
		t.Errorf("bounced metric = %d, want 1 despite replays", f.campaigns.increments[models.MetricBounced])
	}
	if f.logs.saved != 1 {
		t.Errorf("log saved %d times, want 1", f.logs.saved)
	}
	// Every replay is still audited.
	if len(f.events.events) != 3 {
		t.Errorf("audit events = %d, want 3", len(f.events.events))
	}
}

func TestProcessUnknownMessageIgnored(t *testing.T) {
	f := newFixture(nil)

	if err := f.processor.Process(context.Background(), notification("Delivery", "mystery")); err != nil {
		t.Fatalf("Process() error = %v, unknown messages must not error", err)
	}
	if len(f.events.events) != 1 {
		t.Error("unknown message event should still be audited")
	}
	if f.logs.saved != 0 {
		t.Error("nothing should be saved for unknown messages")
	}
}

func TestProcessEventPublishingFormat(t *testing.T) {
	log := sentLog("msg-6")
	f := newFixture(map[string]*models.DeliveryLog{"msg-6": log})

	// Event publishing uses eventType and a top-level messageId.
	msg, _ := json.Marshal(map[string]any{
		"eventType": "Delivery",
		"messageId": "msg-6",
	})
	if err := f.processor.Process(context.Background(), msg); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if log.Status != models.DeliveryDelivered {
		t.Errorf("status = %q, want delivered", log.Status)
	}
}

func TestProcessSubscriptionConfirmation(t *testing.T) {
	var confirmed bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		confirmed = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newFixture(nil)
	body, _ := json.Marshal(map[string]string{
		"Type":         "SubscriptionConfirmation",
		"SubscribeURL": srv.URL + "/confirm",
	})
	if err := f.processor.Process(context.Background(), body); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if !confirmed {
		t.Error("SubscribeURL was not fetched")
	}
	if len(f.events.events) != 0 {
		t.Error("confirmations are not delivery events")
	}
}

func TestProcessMalformedPayload(t *testing.T) {
	f := newFixture(nil)
	if err := f.processor.Process(context.Background(), []byte("not json")); err == nil {
		t.Error("malformed payload should error")
	}
}

func TestProcessOutOfOrderDeliveryAfterBounce(t *testing.T) {
	log := sentLog("msg-7")
	f := newFixture(map[string]*models.DeliveryLog{"msg-7": log})

	if err := f.processor.Process(context.Background(), notification("Bounce", "msg-7")); err != nil {
		t.Fatal(err)
	}
	if err := f.processor.Process(context.Background(), notification("Delivery", "msg-7")); err != nil {
		t.Fatal(err)
	}

	if log.Status != models.DeliveryBounced {
		t.Errorf("status = %q, bounce is terminal", log.Status)
	}
	if f.campaigns.increments[models.MetricDelivered] != 0 {
		t.Error("delivery after bounce must not count")
	}
}
