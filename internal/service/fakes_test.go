package service

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/notify"
	"github.com/spec-kit/helpdesk/internal/policy"
	"github.com/spec-kit/helpdesk/internal/repository"
	"github.com/spec-kit/helpdesk/internal/storage"
)

// monday is 2024-03-04 10:00 UTC.
var monday = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

type passthroughTx struct {
	calls int
}

func (p *passthroughTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	p.calls++
	return fn(ctx)
}

type memTickets struct {
	mu   sync.Mutex
	byID map[string]*domain.Ticket
	keys map[string]string
	// locked records the refs read through the ForUpdate variants.
	locked []string
}

func newMemTickets() *memTickets {
	return &memTickets{byID: map[string]*domain.Ticket{}, keys: map[string]string{}}
}

func (m *memTickets) Insert(_ context.Context, ticket *domain.Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.keys[ticket.Key]; taken {
		return repository.ErrTicketKeyTaken
	}
	ticket.ID = uuid.NewString()
	ticket.UpdatedAt = ticket.CreatedAt
	stored := *ticket
	m.byID[ticket.ID] = &stored
	if ticket.Key != "" {
		m.keys[ticket.Key] = ticket.ID
	}
	return nil
}

// seed stores a ticket as-is, bypassing key allocation.
func (m *memTickets) seed(ticket domain.Ticket) *domain.Ticket {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ticket.ID == "" {
		ticket.ID = uuid.NewString()
	}
	m.byID[ticket.ID] = &ticket
	if ticket.Key != "" {
		m.keys[ticket.Key] = ticket.ID
	}
	out := ticket
	return &out
}

func (m *memTickets) Update(_ context.Context, ticket *domain.Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.byID[ticket.ID]
	if !ok {
		return pgx.ErrNoRows
	}
	stored := *ticket
	stored.AssignedTo = current.AssignedTo
	stored.AssignedAt = current.AssignedAt
	m.byID[ticket.ID] = &stored
	return nil
}

func (m *memTickets) Assign(_ context.Context, ticket *domain.Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.byID[ticket.ID]
	if !ok {
		return pgx.ErrNoRows
	}
	current.AssignedTo = ticket.AssignedTo
	current.AssignedAt = ticket.AssignedAt
	current.Status = ticket.Status
	return nil
}

func (m *memTickets) GetByIDForUpdate(ctx context.Context, id string) (*domain.Ticket, error) {
	m.mu.Lock()
	m.locked = append(m.locked, id)
	m.mu.Unlock()
	return m.GetByID(ctx, id)
}

func (m *memTickets) GetByKeyForUpdate(ctx context.Context, key string) (*domain.Ticket, error) {
	m.mu.Lock()
	m.locked = append(m.locked, key)
	m.mu.Unlock()
	return m.GetByKey(ctx, key)
}

func (m *memTickets) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byID[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	out := *t
	return &out, nil
}

func (m *memTickets) GetByKey(ctx context.Context, key string) (*domain.Ticket, error) {
	m.mu.Lock()
	id, ok := m.keys[key]
	m.mu.Unlock()
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return m.GetByID(ctx, id)
}

func inScope(scope policy.Scope, t *domain.Ticket) bool {
	switch scope.Kind {
	case policy.ScopeAll:
		return true
	case policy.ScopeCreatedBy:
		return t.CreatedBy == scope.UserID
	case policy.ScopeAssignedTo:
		return t.AssignedToUser(scope.UserID)
	}
	return false
}

func (m *memTickets) ListWithFilter(_ context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := []domain.Ticket{}
	for _, t := range m.byID {
		if !inScope(filter.Scope, t) {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, t.Status) {
			continue
		}
		if len(filter.Priorities) > 0 && !containsPriority(filter.Priorities, t.Priority) {
			continue
		}
		if filter.SLAMissing && t.SLADueAt != nil {
			continue
		}
		if filter.SLADueBefore != nil && (t.SLADueAt == nil || !t.SLADueAt.Before(*filter.SLADueBefore)) {
			continue
		}
		if filter.SLADueAfter != nil && (t.SLADueAt == nil || t.SLADueAt.Before(*filter.SLADueAfter)) {
			continue
		}
		if filter.SearchTerm != nil && !strings.Contains(strings.ToLower(t.Title), strings.ToLower(*filter.SearchTerm)) {
			continue
		}
		result = append(result, *t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func containsStatus(list []domain.TicketStatus, s domain.TicketStatus) bool {
	for _, candidate := range list {
		if candidate == s {
			return true
		}
	}
	return false
}

func containsPriority(list []domain.TicketPriority, p domain.TicketPriority) bool {
	for _, candidate := range list {
		if candidate == p {
			return true
		}
	}
	return false
}

func (m *memTickets) CountByStatus(_ context.Context, scope policy.Scope) (map[domain.TicketStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[domain.TicketStatus]int{}
	for _, s := range domain.TicketStatuses {
		counts[s] = 0
	}
	for _, t := range m.byID {
		if inScope(scope, t) {
			counts[t.Status]++
		}
	}
	return counts, nil
}

func (m *memTickets) CountUnassigned(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.byID {
		if !t.IsAssigned() {
			n++
		}
	}
	return n, nil
}

func (m *memTickets) WorkloadByAssignee(context.Context) (map[string]repository.Workload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]repository.Workload{}
	for _, t := range m.byID {
		if !t.IsAssigned() {
			continue
		}
		load := out[*t.AssignedTo]
		load.AssignedCount++
		if t.Status == domain.TicketStatusInProgress {
			load.InProgressCount++
		}
		out[*t.AssignedTo] = load
	}
	return out, nil
}

func (m *memTickets) ListWithShortKeys(_ context.Context, minLength int) ([]domain.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Ticket
	for _, t := range m.byID {
		if len(t.Key) < minLength {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *memTickets) UpdateKey(_ context.Context, id, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.keys[key]; taken {
		return repository.ErrTicketKeyTaken
	}
	t, ok := m.byID[id]
	if !ok {
		return pgx.ErrNoRows
	}
	delete(m.keys, t.Key)
	t.Key = key
	m.keys[key] = id
	return nil
}

func (m *memTickets) SetSLADue(_ context.Context, id string, due time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byID[id]
	if !ok {
		return pgx.ErrNoRows
	}
	t.SLADueAt = &due
	return nil
}

type memProfiles struct {
	mu    sync.Mutex
	roles map[string]domain.Role
}

func newMemProfiles() *memProfiles {
	return &memProfiles{roles: map[string]domain.Role{}}
}

func (m *memProfiles) GetByUserID(_ context.Context, userID string) (*domain.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	role, ok := m.roles[userID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &domain.Profile{UserID: userID, Role: role}, nil
}

func (m *memProfiles) CreateIfAbsent(ctx context.Context, userID string, role domain.Role) (*domain.Profile, error) {
	m.mu.Lock()
	if _, ok := m.roles[userID]; !ok {
		m.roles[userID] = role
	}
	m.mu.Unlock()
	return m.GetByUserID(ctx, userID)
}

func (m *memProfiles) SetRole(_ context.Context, userID string, role domain.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[userID] = role
	return nil
}

type memUsers struct {
	mu       sync.Mutex
	byID     map[string]*domain.User
	profiles *memProfiles
	logins   int
}

func newMemUsers(profiles *memProfiles) *memUsers {
	return &memUsers{byID: map[string]*domain.User{}, profiles: profiles}
}

func (m *memUsers) Create(_ context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		if existing.Username == user.Username {
			return repository.ErrUsernameTaken
		}
	}
	user.ID = uuid.NewString()
	stored := *user
	m.byID[user.ID] = &stored
	return nil
}

// add stores a user and, when role is set, its profile.
func (m *memUsers) add(username string, role domain.Role) *domain.User {
	now := monday
	user := &domain.User{
		Username:    username,
		Email:       username + "@example.com",
		LastLoginAt: &now,
	}
	if err := m.Create(context.Background(), user); err != nil {
		panic(err)
	}
	if role != domain.RoleNone {
		_ = m.profiles.SetRole(context.Background(), user.ID, role)
	}
	return user
}

func (m *memUsers) TouchLastLogin(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return pgx.ErrNoRows
	}
	now := monday
	u.LastLoginAt = &now
	m.logins++
	return nil
}

func (m *memUsers) GetByID(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	out := *u
	return &out, nil
}

func (m *memUsers) GetByUsername(_ context.Context, username string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Username == username {
			out := *u
			return &out, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *memUsers) ListByRole(_ context.Context, role domain.Role) ([]domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.User
	for _, u := range m.byID {
		if m.profiles.roles[u.ID] == role {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

type memComments struct {
	items []domain.Comment
}

func (m *memComments) Create(_ context.Context, c *domain.Comment) error {
	c.ID = uuid.NewString()
	c.CreatedAt = monday
	m.items = append(m.items, *c)
	return nil
}

func (m *memComments) ListByTicket(_ context.Context, ticketID string) ([]domain.Comment, error) {
	out := []domain.Comment{}
	for i := len(m.items) - 1; i >= 0; i-- {
		if m.items[i].TicketID == ticketID {
			out = append(out, m.items[i])
		}
	}
	return out, nil
}

type memAttachments struct {
	items []domain.Attachment
}

func (m *memAttachments) Create(_ context.Context, a *domain.Attachment) error {
	a.ID = uuid.NewString()
	a.UploadedAt = monday
	m.items = append(m.items, *a)
	return nil
}

func (m *memAttachments) ListByTicket(_ context.Context, ticketID string) ([]domain.Attachment, error) {
	out := []domain.Attachment{}
	for i := len(m.items) - 1; i >= 0; i-- {
		if m.items[i].TicketID == ticketID {
			out = append(out, m.items[i])
		}
	}
	return out, nil
}

func (m *memAttachments) GetByID(_ context.Context, id string) (*domain.Attachment, error) {
	for i := range m.items {
		if m.items[i].ID == id {
			out := m.items[i]
			return &out, nil
		}
	}
	return nil, pgx.ErrNoRows
}

type memAudit struct {
	entries []domain.AuditLog
}

func (m *memAudit) Create(_ context.Context, e *domain.AuditLog) error {
	e.ID = uuid.NewString()
	e.Timestamp = monday
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memAudit) ListByTicket(_ context.Context, ticketID string) ([]domain.AuditLog, error) {
	out := []domain.AuditLog{}
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].TicketID == ticketID {
			out = append(out, m.entries[i])
		}
	}
	return out, nil
}

type memFiles struct {
	blobs map[string]string
}

func (m *memFiles) Save(_ context.Context, ticketKey, fileName string, content io.Reader) (string, int64, error) {
	if fileName == ".." {
		return "", 0, storage.ErrInvalidName
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return "", 0, err
	}
	key := storage.Namespace(ticketKey) + "/" + fileName
	m.blobs[key] = string(data)
	return key, int64(len(data)), nil
}

func (m *memFiles) Open(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.blobs[key]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return io.NopCloser(strings.NewReader(data)), nil
}

func (m *memFiles) Delete(_ context.Context, key string) error {
	delete(m.blobs, key)
	return nil
}

type recordingDispatcher struct {
	events []events.Event
	inner  events.Dispatcher
}

func (d *recordingDispatcher) Publish(ctx context.Context, event events.Event) {
	d.events = append(d.events, event)
	if d.inner != nil {
		d.inner.Publish(ctx, event)
	}
}

func (d *recordingDispatcher) Subscribe(eventType events.EventType, handler events.EventHandler) {
	if d.inner != nil {
		d.inner.Subscribe(eventType, handler)
	}
}

func (d *recordingDispatcher) types() []events.EventType {
	out := make([]events.EventType, 0, len(d.events))
	for _, e := range d.events {
		out = append(out, e.Type)
	}
	return out
}

type fakeSender struct {
	mu   sync.Mutex
	sent []notify.Message
	err  error
	// release, when set, holds every Send until it is closed.
	release chan struct{}
}

func (s *fakeSender) Send(ctx context.Context, msg notify.Message) error {
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

// bySubject returns the sent messages keyed by subject.
func (s *fakeSender) bySubject() map[string]notify.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]notify.Message, len(s.sent))
	for _, msg := range s.sent {
		out[msg.Subject] = msg
	}
	return out
}

// sequence returns a key generator yielding keys in order, then fails.
func sequence(keys ...string) func() (string, error) {
	i := 0
	return func() (string, error) {
		if i >= len(keys) {
			return "", fmt.Errorf("sequence exhausted after %d keys", len(keys))
		}
		k := keys[i]
		i++
		return k, nil
	}
}

// testEnv wires every service over in-memory collaborators.
type testEnv struct {
	clock       *fakeClock
	tx          *passthroughTx
	tickets     *memTickets
	profiles    *memProfiles
	users       *memUsers
	comments    *memComments
	attachments *memAttachments
	audit       *memAudit
	files       *memFiles
	dispatcher  *recordingDispatcher

	ticketSvc     *TicketService
	assignmentSvc *AssignmentService
	activitySvc   *ActivityService
	slaSvc        *SLAService
	dashboardSvc  *DashboardService
}

func newTestEnv() *testEnv {
	env := &testEnv{
		clock:       &fakeClock{t: monday},
		tx:          &passthroughTx{},
		tickets:     newMemTickets(),
		profiles:    newMemProfiles(),
		comments:    &memComments{},
		attachments: &memAttachments{},
		audit:       &memAudit{},
		files:       &memFiles{blobs: map[string]string{}},
		dispatcher:  &recordingDispatcher{},
	}
	env.users = newMemUsers(env.profiles)
	env.build(nil)
	return env
}

func (e *testEnv) build(keyGen func() (string, error)) {
	clock := Clock(e.clock.Now)
	e.ticketSvc = NewTicketService(TicketDependencies{
		TxManager:      e.tx,
		TicketRepo:     e.tickets,
		CommentRepo:    e.comments,
		AttachmentRepo: e.attachments,
		AuditRepo:      e.audit,
		Dispatcher:     e.dispatcher,
		Clock:          clock,
		KeyGenerator:   keyGen,
	})
	e.assignmentSvc = NewAssignmentService(AssignmentDependencies{
		TxManager:   e.tx,
		TicketRepo:  e.tickets,
		UserRepo:    e.users,
		ProfileRepo: e.profiles,
		AuditRepo:   e.audit,
		Dispatcher:  e.dispatcher,
		Clock:       clock,
	})
	e.activitySvc = NewActivityService(ActivityDependencies{
		TxManager:      e.tx,
		TicketRepo:     e.tickets,
		CommentRepo:    e.comments,
		AttachmentRepo: e.attachments,
		AuditRepo:      e.audit,
		FileStore:      e.files,
		Dispatcher:     e.dispatcher,
		Clock:          clock,
	})
	e.slaSvc = NewSLAService(e.tickets, time.UTC, clock, nil)
	e.dashboardSvc = NewDashboardService(e.tickets, e.users)
}

func actorOf(user *domain.User, role domain.Role) Actor {
	return Actor{ID: user.ID, Username: user.Username, Role: role}
}
