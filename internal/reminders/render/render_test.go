package render

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reminder-engine/internal/models"
)

func leaseTemplate() *models.NotificationTemplate {
	return &models.NotificationTemplate{
		ID:           "tpl-lease-end",
		TemplateType: "LEASE_END_REMINDER",
		Channel:      models.ChannelEmail,
		SubjectByLang: map[string]string{
			"en": "Your lease ends {{lease_end_date}}",
			"sw": "Mkataba wako unaisha {{lease_end_date}}",
		},
		BodyByLang: map[string]string{
			"en": "Hi {{tenant_name}}, lease ends {{lease_end_date}}",
			"sw": "Habari {{tenant_name}}, mkataba unaisha {{lease_end_date}}",
		},
		RequiredPlaceholders: []string{"tenant_name", "lease_end_date"},
		IsActive:             true,
	}
}

func TestRender(t *testing.T) {
	r := New("en")

	out, err := r.Render(leaseTemplate(), map[string]interface{}{
		"tenant_name":    "Asha",
		"lease_end_date": "2024-03-01",
	}, "en")
	require.NoError(t, err)
	assert.Equal(t, "Hi Asha, lease ends 2024-03-01", out.Body)
	assert.Equal(t, "Your lease ends 2024-03-01", out.Subject)
	assert.Equal(t, "en", out.Language)
}

func TestRender_MissingKeyLeftLiteral(t *testing.T) {
	out, err := New("en").Render(leaseTemplate(), map[string]interface{}{
		"lease_end_date": "2024-03-01",
	}, "en")
	require.NoError(t, err)
	assert.Equal(t, "Hi {{tenant_name}}, lease ends 2024-03-01", out.Body)
}

func TestRender_LanguageSelectionAndFallback(t *testing.T) {
	data := map[string]interface{}{"tenant_name": "Juma", "lease_end_date": "2024-07-01"}

	out, err := New("en").Render(leaseTemplate(), data, "sw")
	require.NoError(t, err)
	assert.Equal(t, "Habari Juma, mkataba unaisha 2024-07-01", out.Body)
	assert.Equal(t, "sw", out.Language)

	out, err = New("en").Render(leaseTemplate(), data, "fr")
	require.NoError(t, err)
	assert.Equal(t, "Hi Juma, lease ends 2024-07-01", out.Body)
	assert.Equal(t, "en", out.Language)
}

func TestRender_EmptyBodyFails(t *testing.T) {
	tpl := leaseTemplate()
	tpl.BodyByLang = map[string]string{"sw": "Habari"}

	_, err := New("en").Render(tpl, nil, "fr")
	assert.ErrorIs(t, err, ErrEmptyBody)

	tpl.BodyByLang = map[string]string{"en": "   "}
	_, err = New("en").Render(tpl, nil, "en")
	assert.ErrorIs(t, err, ErrEmptyBody)
}

func TestSubstitute_NonStringValues(t *testing.T) {
	got := Substitute("{{days_remaining}} days, unit {{property_unit}}, {{days_remaining}} again", map[string]interface{}{
		"days_remaining": 30,
		"property_unit":  "B4",
	})
	assert.Equal(t, "30 days, unit B4, 30 again", got)
}

func TestCheckRequired(t *testing.T) {
	tpl := leaseTemplate()

	assert.NoError(t, CheckRequired(tpl, map[string]interface{}{
		"tenant_name": "Asha", "lease_end_date": "2024-03-01", "extra": 1,
	}))

	err := CheckRequired(tpl, map[string]interface{}{"lease_end_date": "2024-03-01"})
	assert.ErrorIs(t, err, ErrPlaceholderMissing)
	assert.Contains(t, err.Error(), "tenant_name")

	tpl.RequiredPlaceholders = nil
	assert.NoError(t, CheckRequired(tpl, map[string]interface{}{}))
}

func TestBuildContext_LeaseEnd(t *testing.T) {
	today := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	entity := models.Entity{
		ID:              "lease-1",
		Kind:            models.EventLeaseEndDate,
		EventDate:       time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC),
		PropertyAddress: "12 Ngong Rd, Nairobi",
		PropertyUnit:    "B4",
		Links:           models.Links{LeaseID: "lease-1"},
	}
	rule := models.ReminderRule{ID: "rule-1", Name: "30 days before lease end"}
	recipient := models.Recipient{UserID: "tenant-juma", FullName: "Juma"}

	ctx := BuildContext(rule, entity, recipient, Parties{TenantName: "Juma", LandlordName: "Wanjiru"}, today, "")

	assert.Equal(t, "Juma", ctx["tenant_name"])
	assert.Equal(t, "Wanjiru", ctx["landlord_name"])
	assert.Equal(t, "July 01, 2024", ctx["lease_end_date"])
	assert.Equal(t, "July 01, 2024", ctx["event_date"])
	assert.Equal(t, 30, ctx["days_remaining"])
	assert.Equal(t, "12 Ngong Rd, Nairobi", ctx["property_address"])
	assert.Equal(t, "B4", ctx["property_unit"])
	assert.Equal(t, "lease-1", ctx["lease_id"])
	assert.NotContains(t, ctx, "payment_id")
}

func TestBuildContext_EventAfterToday(t *testing.T) {
	today := time.Date(2024, 6, 4, 0, 0, 0, 0, time.UTC)
	entity := models.Entity{
		Kind:      models.EventRentDueDate,
		EventDate: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	}

	ctx := BuildContext(models.ReminderRule{}, entity, models.Recipient{}, Parties{}, today, "2006-01-02")
	assert.Equal(t, 3, ctx["days_remaining"])
	assert.Equal(t, "2024-06-01", ctx["rent_due_date"])
}
