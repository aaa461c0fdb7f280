package models

import (
	"testing"

	"github.com/google/uuid"
)

func TestNewDraftCampaign(t *testing.T) {
	tenant := uuid.New()
	c := NewDraftCampaign(tenant, "spring sale", 3, AudienceFilter{Tags: []string{"vip"}})

	if c.Status != CampaignDraft {
		t.Errorf("status = %s, want draft", c.Status)
	}
	if c.TenantID != tenant {
		t.Error("tenant id not set")
	}
	if c.Sent != 0 || c.TotalRecipients != 0 {
		t.Error("counters must start at zero")
	}
}

func TestCampaignTransitionGuards(t *testing.T) {
	tests := []struct {
		status    CampaignStatus
		update    bool
		schedule  bool
		cancel    bool
	}{
		{CampaignDraft, true, true, true},
		{CampaignScheduled, false, true, true},
		{CampaignSending, false, false, false},
		{CampaignCompleted, false, false, false},
		{CampaignCancelled, false, false, false},
	}

	for _, tt := range tests {
		c := &Campaign{Status: tt.status}
		if got := c.CanUpdateDraft(); got != tt.update {
			t.Errorf("%s: CanUpdateDraft = %v, want %v", tt.status, got, tt.update)
		}
		if got := c.CanSchedule(); got != tt.schedule {
			t.Errorf("%s: CanSchedule = %v, want %v", tt.status, got, tt.schedule)
		}
		if got := c.CanCancel(); got != tt.cancel {
			t.Errorf("%s: CanCancel = %v, want %v", tt.status, got, tt.cancel)
		}
	}
}

func TestStartStatuses(t *testing.T) {
	first := StartStatuses(false)
	if len(first) != 2 || first[0] != CampaignDraft || first[1] != CampaignScheduled {
		t.Errorf("first launch statuses = %v", first)
	}
	relaunch := StartStatuses(true)
	if len(relaunch) != 2 || relaunch[0] != CampaignCompleted || relaunch[1] != CampaignSending {
		t.Errorf("relaunch statuses = %v", relaunch)
	}
}
