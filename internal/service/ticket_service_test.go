package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/ticketkey"
	apperrors "github.com/spec-kit/helpdesk/pkg/util/errorutil"
)

func strPtr(s string) *string { return &s }

func TestCreate_HardwareTicketDueInThreeBusinessDays(t *testing.T) {
	env := newTestEnv()
	reporter := env.users.add("rita", domain.RoleIssueReporter)

	ticket, err := env.ticketSvc.Create(context.Background(), actorOf(reporter, domain.RoleIssueReporter), TicketCreateInput{
		Title:       "Laptop will not boot",
		Description: "Black screen after the logo",
		Category:    "hardware",
		Priority:    "MEDIUM",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.TicketStatusNew, ticket.Status)
	assert.Equal(t, reporter.ID, ticket.CreatedBy)
	assert.True(t, ticketkey.Valid(ticket.Key))
	require.NotNil(t, ticket.SLADueAt)
	assert.Equal(t, time.Date(2024, 3, 7, 10, 0, 0, 0, time.UTC), *ticket.SLADueAt)

	require.Len(t, env.audit.entries, 1)
	assert.Equal(t, ActionTicketCreated, env.audit.entries[0].Action)
	assert.Equal(t, reporter.ID, env.audit.entries[0].PerformedBy)
	assert.Equal(t, []events.EventType{events.EventTicketCreated}, env.dispatcher.types())
}

func TestCreate_DeadlineIgnoresZoneOfClock(t *testing.T) {
	env := newTestEnv()
	reporter := env.users.add("rita", domain.RoleIssueReporter)
	// Friday 23:30 UTC read from a clock in UTC+9, where it is Saturday.
	env.clock.t = time.Date(2024, 3, 8, 23, 30, 0, 0, time.UTC).In(time.FixedZone("UTC+9", 9*3600))

	ticket, err := env.ticketSvc.Create(context.Background(), actorOf(reporter, domain.RoleIssueReporter), TicketCreateInput{
		Title: "Dock broken", Description: "No display", Category: "HARDWARE",
	})
	require.NoError(t, err)
	require.NotNil(t, ticket.SLADueAt)
	assert.Equal(t, time.Date(2024, 3, 13, 23, 30, 0, 0, time.UTC), *ticket.SLADueAt)
}

func TestCreate_UrgentPriorityOverridesCategory(t *testing.T) {
	env := newTestEnv()
	reporter := env.users.add("rita", domain.RoleIssueReporter)

	ticket, err := env.ticketSvc.Create(context.Background(), actorOf(reporter, domain.RoleIssueReporter), TicketCreateInput{
		Title:       "Payroll crashes",
		Description: "Crash on export",
		Category:    "SOFTWARE",
		Priority:    "urgent",
	})
	require.NoError(t, err)
	assert.Equal(t, monday.Add(4*time.Hour), *ticket.SLADueAt)
}

func TestCreate_DefaultsToMediumPriority(t *testing.T) {
	env := newTestEnv()
	reporter := env.users.add("rita", domain.RoleIssueReporter)

	ticket, err := env.ticketSvc.Create(context.Background(), actorOf(reporter, domain.RoleIssueReporter), TicketCreateInput{
		Title: "Printer", Description: "Jammed", Category: "Facilities",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TicketPriorityMedium, ticket.Priority)
	assert.Equal(t, time.Date(2024, 3, 11, 10, 0, 0, 0, time.UTC), *ticket.SLADueAt)
}

func TestCreate_RejectedForOtherRolesWithoutSideEffects(t *testing.T) {
	env := newTestEnv()
	pm := env.users.add("paula", domain.RoleProjectManager)
	se := env.users.add("sam", domain.RoleSupportEngineer)
	input := TicketCreateInput{Title: "x", Description: "y", Category: "z"}

	for _, actor := range []Actor{actorOf(pm, domain.RoleProjectManager), actorOf(se, domain.RoleSupportEngineer), {ID: "anon"}} {
		_, err := env.ticketSvc.Create(context.Background(), actor, input)
		assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden), "role %q", actor.Role)
	}
	assert.Empty(t, env.tickets.byID)
	assert.Empty(t, env.audit.entries)
}

func TestCreate_ValidatesFields(t *testing.T) {
	env := newTestEnv()
	reporter := actorOf(env.users.add("rita", domain.RoleIssueReporter), domain.RoleIssueReporter)

	cases := map[string]TicketCreateInput{
		"title":       {Description: "d", Category: "c"},
		"description": {Title: "t", Category: "c"},
		"category":    {Title: "t", Description: "d"},
		"priority":    {Title: "t", Description: "d", Category: "c", Priority: "SOON"},
	}
	for field, input := range cases {
		_, err := env.ticketSvc.Create(context.Background(), reporter, input)
		require.Error(t, err, field)
		domainErr := apperrors.ToDomainError(err)
		assert.Equal(t, apperrors.CodeValidation, domainErr.Code, field)
		assert.Equal(t, field, domainErr.Details["field"])
	}
	assert.Empty(t, env.audit.entries)
}

func TestCreate_RegeneratesKeyOnCollision(t *testing.T) {
	env := newTestEnv()
	env.tickets.seed(domain.Ticket{Key: "AAAAAAAA", Status: domain.TicketStatusNew})
	env.build(sequence("AAAAAAAA", "AAAAAAAA", "BBBBBBBB"))
	reporter := env.users.add("rita", domain.RoleIssueReporter)

	ticket, err := env.ticketSvc.Create(context.Background(), actorOf(reporter, domain.RoleIssueReporter), TicketCreateInput{
		Title: "t", Description: "d", Category: "c",
	})
	require.NoError(t, err)
	assert.Equal(t, "BBBBBBBB", ticket.Key)
	assert.Len(t, env.tickets.byID, 2)
}

func TestCreate_FailsLoudlyWhenKeysExhausted(t *testing.T) {
	env := newTestEnv()
	env.tickets.seed(domain.Ticket{Key: "AAAAAAAA", Status: domain.TicketStatusNew})
	env.build(func() (string, error) { return "AAAAAAAA", nil })
	reporter := env.users.add("rita", domain.RoleIssueReporter)

	_, err := env.ticketSvc.Create(context.Background(), actorOf(reporter, domain.RoleIssueReporter), TicketCreateInput{
		Title: "t", Description: "d", Category: "c",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ticketkey.ErrExhausted)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInternal))
	assert.Empty(t, env.audit.entries)
}

func TestCreateEmergency(t *testing.T) {
	env := newTestEnv()
	pm := env.users.add("paula", domain.RoleProjectManager)
	reporter := env.users.add("rita", domain.RoleIssueReporter)
	input := EmergencyTicketInput{
		TicketCreateInput: TicketCreateInput{Title: "Core switch down", Description: "Floor 3 offline", Category: "NETWORK", Priority: "HIGH"},
		ReporterName:      "Front desk",
	}

	_, err := env.ticketSvc.CreateEmergency(context.Background(), actorOf(reporter, domain.RoleIssueReporter), input)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	_, err = env.ticketSvc.CreateEmergency(context.Background(), actorOf(pm, domain.RoleProjectManager), EmergencyTicketInput{TicketCreateInput: input.TicketCreateInput})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
	assert.Empty(t, env.audit.entries)

	ticket, err := env.ticketSvc.CreateEmergency(context.Background(), actorOf(pm, domain.RoleProjectManager), input)
	require.NoError(t, err)
	assert.Equal(t, pm.ID, ticket.CreatedBy)
	require.NotNil(t, ticket.ReporterName)
	assert.Equal(t, "Front desk", *ticket.ReporterName)
	assert.Equal(t, monday.Add(4*time.Hour), *ticket.SLADueAt)

	require.Len(t, env.audit.entries, 1)
	assert.Equal(t, ActionEmergencyCreated, env.audit.entries[0].Action)
	assert.Equal(t, "Front desk", env.audit.entries[0].Meta["reporter_name"])
}

func seedAssigned(env *testEnv, creator, engineer *domain.User, status domain.TicketStatus) *domain.Ticket {
	assignedAt := monday
	return env.tickets.seed(domain.Ticket{
		Key:         "TCKT0001",
		Title:       "VPN drops",
		Description: "Every hour",
		Category:    "NETWORK",
		Priority:    domain.TicketPriorityMedium,
		Status:      status,
		CreatedBy:   creator.ID,
		AssignedTo:  &engineer.ID,
		AssignedAt:  &assignedAt,
		CreatedAt:   monday,
	})
}

func TestUpdate_EngineerCannotCloseTicket(t *testing.T) {
	env := newTestEnv()
	reporter := env.users.add("rita", domain.RoleIssueReporter)
	engineer := env.users.add("sam", domain.RoleSupportEngineer)
	ticket := seedAssigned(env, reporter, engineer, domain.TicketStatusInProgress)

	_, err := env.ticketSvc.Update(context.Background(), actorOf(engineer, domain.RoleSupportEngineer), ticket.ID, TicketPatch{
		Title:  strPtr("Renamed"),
		Status: strPtr("CLOSED"),
	})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	stored, _ := env.tickets.GetByID(context.Background(), ticket.ID)
	assert.Equal(t, domain.TicketStatusInProgress, stored.Status)
	assert.Equal(t, "VPN drops", stored.Title)
	assert.Empty(t, env.audit.entries)
	assert.Empty(t, env.dispatcher.events)
}

func TestUpdate_EngineerResolvesAssignedTicket(t *testing.T) {
	env := newTestEnv()
	reporter := env.users.add("rita", domain.RoleIssueReporter)
	engineer := env.users.add("sam", domain.RoleSupportEngineer)
	ticket := seedAssigned(env, reporter, engineer, domain.TicketStatusInProgress)

	updated, err := env.ticketSvc.Update(context.Background(), actorOf(engineer, domain.RoleSupportEngineer), ticket.Key, TicketPatch{
		Status: strPtr("resolved"),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusResolved, updated.Status)

	require.Len(t, env.audit.entries, 1)
	entry := env.audit.entries[0]
	assert.Equal(t, ActionTicketUpdated, entry.Action)
	assert.Equal(t, map[string]any{
		"status": map[string]any{"from": "IN_PROGRESS", "to": "RESOLVED"},
	}, entry.Meta["changes"])
	assert.Equal(t, []events.EventType{events.EventTicketUpdated, events.EventTicketStatusChanged}, env.dispatcher.types())
}

func TestUpdate_RecomputesSLAFromEditTime(t *testing.T) {
	env := newTestEnv()
	reporter := env.users.add("rita", domain.RoleIssueReporter)
	actor := actorOf(reporter, domain.RoleIssueReporter)

	ticket, err := env.ticketSvc.Create(context.Background(), actor, TicketCreateInput{
		Title: "Need access", Description: "To the wiki", Category: "ACCESS",
	})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC), *ticket.SLADueAt)

	env.clock.t = time.Date(2024, 3, 8, 15, 30, 0, 0, time.UTC)
	updated, err := env.ticketSvc.Update(context.Background(), actor, ticket.ID, TicketPatch{Category: strPtr("HARDWARE")})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 13, 15, 30, 0, 0, time.UTC), *updated.SLADueAt)

	env.clock.t = time.Date(2024, 3, 9, 8, 0, 0, 0, time.UTC)
	updated, err = env.ticketSvc.Update(context.Background(), actor, ticket.ID, TicketPatch{Title: strPtr("Need wiki access")})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 13, 15, 30, 0, 0, time.UTC), *updated.SLADueAt, "title edits keep the deadline")
}

func TestUpdate_ReporterLosesEditRightsOnceAssigned(t *testing.T) {
	env := newTestEnv()
	reporter := env.users.add("rita", domain.RoleIssueReporter)
	engineer := env.users.add("sam", domain.RoleSupportEngineer)
	ticket := seedAssigned(env, reporter, engineer, domain.TicketStatusInProgress)

	_, err := env.ticketSvc.Update(context.Background(), actorOf(reporter, domain.RoleIssueReporter), ticket.ID, TicketPatch{
		Title: strPtr("Please hurry"),
	})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))
	assert.Empty(t, env.audit.entries)
}

func TestUpdate_ReporterClosesResolvedTicket(t *testing.T) {
	env := newTestEnv()
	reporter := env.users.add("rita", domain.RoleIssueReporter)
	pm := env.users.add("paula", domain.RoleProjectManager)
	ticket := env.tickets.seed(domain.Ticket{
		Key: "TCKT0002", Title: "t", Description: "d", Category: "c",
		Priority: domain.TicketPriorityLow, Status: domain.TicketStatusResolved, CreatedBy: reporter.ID,
	})

	updated, err := env.ticketSvc.Update(context.Background(), actorOf(reporter, domain.RoleIssueReporter), ticket.ID, TicketPatch{Status: strPtr("CLOSED")})
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusClosed, updated.Status)

	reopened, err := env.ticketSvc.Update(context.Background(), actorOf(pm, domain.RoleProjectManager), ticket.ID, TicketPatch{Status: strPtr("NEW")})
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusNew, reopened.Status)
	assert.Len(t, env.audit.entries, 2)
}

func TestMutationsReadTheTicketUnderRowLock(t *testing.T) {
	env := newTestEnv()
	reporter := env.users.add("rita", domain.RoleIssueReporter)
	pm := env.users.add("paula", domain.RoleProjectManager)
	engineer := env.users.add("sam", domain.RoleSupportEngineer)
	ticket := seedNew(env, reporter, "LOCK0001")
	pmActor := actorOf(pm, domain.RoleProjectManager)

	_, err := env.ticketSvc.Get(context.Background(), pmActor, ticket.ID)
	require.NoError(t, err)
	assert.Empty(t, env.tickets.locked, "reads do not lock")

	_, err = env.ticketSvc.Update(context.Background(), actorOf(reporter, domain.RoleIssueReporter), ticket.ID, TicketPatch{Title: strPtr("Monitor still flickers")})
	require.NoError(t, err)
	_, err = env.assignmentSvc.Assign(context.Background(), pmActor, "lock0001", engineer.ID, "")
	require.NoError(t, err)
	assert.Equal(t, []string{ticket.ID, "LOCK0001"}, env.tickets.locked)
}

func TestUpdate_NoChangesWritesNothing(t *testing.T) {
	env := newTestEnv()
	pm := env.users.add("paula", domain.RoleProjectManager)
	ticket := env.tickets.seed(domain.Ticket{Key: "TCKT0003", Title: "t", Description: "d", Category: "c", Status: domain.TicketStatusNew})

	_, err := env.ticketSvc.Update(context.Background(), actorOf(pm, domain.RoleProjectManager), ticket.ID, TicketPatch{Title: strPtr(" t ")})
	require.NoError(t, err)
	assert.Empty(t, env.audit.entries)
	assert.Empty(t, env.dispatcher.events)
}

func TestGet_ReporterCannotViewOthersTickets(t *testing.T) {
	env := newTestEnv()
	owner := env.users.add("rita", domain.RoleIssueReporter)
	other := env.users.add("otto", domain.RoleIssueReporter)
	ticket := env.tickets.seed(domain.Ticket{Key: "TCKT0004", Title: "t", CreatedBy: owner.ID, Status: domain.TicketStatusNew})

	_, err := env.ticketSvc.Get(context.Background(), actorOf(other, domain.RoleIssueReporter), ticket.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	detail, err := env.ticketSvc.Get(context.Background(), actorOf(owner, domain.RoleIssueReporter), "tckt0004")
	require.NoError(t, err)
	assert.Equal(t, ticket.ID, detail.Ticket.ID)
	assert.Empty(t, detail.Comments)
}

func TestGet_UnknownTicketIsNotFound(t *testing.T) {
	env := newTestEnv()
	pm := env.users.add("paula", domain.RoleProjectManager)

	for _, ref := range []string{"ZZZZZZZZ", "not-a-ticket", "7d3c9f4e-4c1b-4d7e-9a57-5b0f5b1c2d3e"} {
		_, err := env.ticketSvc.Get(context.Background(), actorOf(pm, domain.RoleProjectManager), ref)
		assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound), ref)
	}
}

func TestList_IsScopedByRole(t *testing.T) {
	env := newTestEnv()
	rita := env.users.add("rita", domain.RoleIssueReporter)
	otto := env.users.add("otto", domain.RoleIssueReporter)
	sam := env.users.add("sam", domain.RoleSupportEngineer)
	pm := env.users.add("paula", domain.RoleProjectManager)

	env.tickets.seed(domain.Ticket{Key: "K0000001", CreatedBy: rita.ID, Status: domain.TicketStatusNew})
	env.tickets.seed(domain.Ticket{Key: "K0000002", CreatedBy: otto.ID, Status: domain.TicketStatusNew})
	env.tickets.seed(domain.Ticket{Key: "K0000003", CreatedBy: otto.ID, AssignedTo: &sam.ID, Status: domain.TicketStatusInProgress})

	count := func(actor Actor, input TicketListInput) int {
		list, err := env.ticketSvc.List(context.Background(), actor, input)
		require.NoError(t, err)
		return len(list)
	}
	assert.Equal(t, 1, count(actorOf(rita, domain.RoleIssueReporter), TicketListInput{}))
	assert.Equal(t, 2, count(actorOf(otto, domain.RoleIssueReporter), TicketListInput{}))
	assert.Equal(t, 1, count(actorOf(sam, domain.RoleSupportEngineer), TicketListInput{}))
	assert.Equal(t, 3, count(actorOf(pm, domain.RoleProjectManager), TicketListInput{}))
	assert.Equal(t, 2, count(actorOf(pm, domain.RoleProjectManager), TicketListInput{Statuses: []domain.TicketStatus{domain.TicketStatusNew}}))
	assert.Equal(t, 0, count(Actor{ID: rita.ID}, TicketListInput{}))
}

func TestBackfillKeys(t *testing.T) {
	env := newTestEnv()
	env.tickets.seed(domain.Ticket{Key: "", Status: domain.TicketStatusNew})
	short := env.tickets.seed(domain.Ticket{Key: "AB1", Status: domain.TicketStatusNew})
	env.tickets.seed(domain.Ticket{Key: "GOODKEY1", Status: domain.TicketStatusNew})
	env.build(sequence("GOODKEY1", "NEWKEY01", "NEWKEY02"))

	updated, err := env.ticketSvc.BackfillKeys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, updated)

	for _, ticket := range env.tickets.byID {
		assert.GreaterOrEqual(t, len(ticket.Key), ticketkey.MinValidLength)
	}
	_, err = env.tickets.GetByKey(context.Background(), "AB1")
	assert.Error(t, err)
	rekeyed, err := env.tickets.GetByID(context.Background(), short.ID)
	require.NoError(t, err)
	assert.Contains(t, []string{"NEWKEY01", "NEWKEY02"}, rekeyed.Key)
}
