package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/helpdesk/internal/domain"
	apperrors "github.com/spec-kit/helpdesk/pkg/util/errorutil"
)

type slaFixture struct {
	env      *testEnv
	pm       *domain.User
	engineer *domain.User
	reporter *domain.User
}

func newSLAFixture() *slaFixture {
	env := newTestEnv()
	f := &slaFixture{
		env:      env,
		pm:       env.users.add("paula", domain.RoleProjectManager),
		engineer: env.users.add("sam", domain.RoleSupportEngineer),
		reporter: env.users.add("rita", domain.RoleIssueReporter),
	}
	f.add("OVERDUE1", "Printer jam", domain.TicketStatusInProgress, monday.Add(-25*time.Hour), nil)
	f.add("TODAY001", "Mail bounce", domain.TicketStatusNew, monday.Add(5*time.Hour+30*time.Minute), f.engineer)
	f.add("TOMORROW", "Laptop slow", domain.TicketStatusNew, monday.Add(22*time.Hour), nil)
	f.add("NOSLA001", "Badge reader", domain.TicketStatusNew, time.Time{}, nil)
	f.add("CLOSED01", "Old issue", domain.TicketStatusClosed, monday.Add(-72*time.Hour), f.engineer)
	return f
}

func (f *slaFixture) add(key, title string, status domain.TicketStatus, due time.Time, assignee *domain.User) {
	ticket := domain.Ticket{
		Key:       key,
		Title:     title,
		Category:  "GENERAL",
		Priority:  domain.TicketPriorityMedium,
		Status:    status,
		CreatedBy: f.reporter.ID,
		CreatedAt: monday.Add(-96 * time.Hour),
	}
	if !due.IsZero() {
		ticket.SLADueAt = &due
	}
	if assignee != nil {
		ticket.AssignedTo = &assignee.ID
	}
	f.env.tickets.seed(ticket)
}

func TestAlerts_ProjectManagerSeesEveryBucket(t *testing.T) {
	f := newSLAFixture()

	alerts, err := f.env.slaSvc.Alerts(context.Background(), actorOf(f.pm, domain.RoleProjectManager))
	require.NoError(t, err)

	titles := make([]string, 0, len(alerts))
	for _, a := range alerts {
		titles = append(titles, a.Title)
	}
	assert.Equal(t, []string{
		"Due Today - #TODAY001",
		"Overdue SLA - #OVERDUE1",
		"Due in 24h - #TODAY001",
		"Due in 24h - #TOMORROW",
		"Missing SLA - #NOSLA001",
	}, titles)

	assert.True(t, alerts[0].Critical)
	assert.Equal(t, "Mail bounce due today in 5 hours.", alerts[0].Description)
	assert.Equal(t, "Printer jam overdue by 1 day, 1 hour.", alerts[1].Description)
	assert.Equal(t, AlertOverdue, alerts[1].Kind)
	assert.False(t, alerts[3].Critical)
	assert.Equal(t, "Laptop slow expiring in 22 hours.", alerts[3].Description)
	assert.Equal(t, "Badge reader has no SLA date set.", alerts[4].Description)
	assert.Nil(t, alerts[4].DueAt)
}

func TestAlerts_EngineerSeesOnlyAssignedTickets(t *testing.T) {
	f := newSLAFixture()

	alerts, err := f.env.slaSvc.Alerts(context.Background(), actorOf(f.engineer, domain.RoleSupportEngineer))
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	for _, a := range alerts {
		assert.Equal(t, "TODAY001", a.TicketKey)
	}
}

func TestAlerts_ForbiddenForReporters(t *testing.T) {
	f := newSLAFixture()

	_, err := f.env.slaSvc.Alerts(context.Background(), actorOf(f.reporter, domain.RoleIssueReporter))
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	_, err = f.env.slaSvc.Alerts(context.Background(), Actor{ID: f.reporter.ID})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))
}

func TestAlerts_DueTodayUsesBusinessTimezone(t *testing.T) {
	f := newSLAFixture()
	// Tuesday 04:00 UTC is still Monday evening five hours west of UTC.
	f.add("LATENITE", "Late deploy", domain.TicketStatusInProgress, monday.Add(18*time.Hour), f.engineer)
	west := time.FixedZone("UTC-5", -5*60*60)
	svc := NewSLAService(f.env.tickets, west, Clock(f.env.clock.Now), nil)
	engineer := actorOf(f.engineer, domain.RoleSupportEngineer)

	kinds := func(alerts []SLAAlert) []string {
		var out []string
		for _, a := range alerts {
			if a.TicketKey == "LATENITE" {
				out = append(out, a.Kind)
			}
		}
		return out
	}

	utcAlerts, err := f.env.slaSvc.Alerts(context.Background(), engineer)
	require.NoError(t, err)
	assert.Equal(t, []string{AlertDueIn24h}, kinds(utcAlerts))

	westAlerts, err := svc.Alerts(context.Background(), engineer)
	require.NoError(t, err)
	assert.Equal(t, []string{AlertDueToday, AlertDueIn24h}, kinds(westAlerts))
}

func TestAutofill_FillsOpenTicketsOnly(t *testing.T) {
	f := newSLAFixture()
	f.add("NOSLA002", "Closed without SLA", domain.TicketStatusClosed, time.Time{}, nil)

	count, err := f.env.slaSvc.Autofill(context.Background(), actorOf(f.pm, domain.RoleProjectManager))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	filled, err := f.env.tickets.GetByKey(context.Background(), "NOSLA001")
	require.NoError(t, err)
	require.NotNil(t, filled.SLADueAt)
	// Created Thursday 10:00, five business days later is the next Thursday.
	assert.Equal(t, monday.Add(-96*time.Hour).AddDate(0, 0, 7), *filled.SLADueAt)

	closed, err := f.env.tickets.GetByKey(context.Background(), "NOSLA002")
	require.NoError(t, err)
	assert.Nil(t, closed.SLADueAt)
}

func TestAutofill_WeekdaysFollowBusinessZoneNotTimestampZone(t *testing.T) {
	f := newSLAFixture()
	fridayLate := time.Date(2024, 3, 8, 23, 30, 0, 0, time.UTC)
	// Drivers may hand back timestamps in the host zone, where this is already Saturday.
	f.env.tickets.seed(domain.Ticket{
		Key:       "ZONE0001",
		Category:  "HARDWARE",
		Priority:  domain.TicketPriorityLow,
		Status:    domain.TicketStatusNew,
		CreatedBy: f.reporter.ID,
		CreatedAt: fridayLate.In(time.FixedZone("UTC+9", 9*3600)),
	})

	count, err := f.env.slaSvc.AutofillAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	filled, err := f.env.tickets.GetByKey(context.Background(), "ZONE0001")
	require.NoError(t, err)
	require.NotNil(t, filled.SLADueAt)
	assert.Equal(t, time.Date(2024, 3, 13, 23, 30, 0, 0, time.UTC), *filled.SLADueAt)
}

func TestAutofill_RequiresProjectManager(t *testing.T) {
	f := newSLAFixture()

	_, err := f.env.slaSvc.Autofill(context.Background(), actorOf(f.engineer, domain.RoleSupportEngineer))
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	untouched, err := f.env.tickets.GetByKey(context.Background(), "NOSLA001")
	require.NoError(t, err)
	assert.Nil(t, untouched.SLADueAt)
}
