package ticket

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"ticket-bot/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memStore struct {
	mu      sync.Mutex
	tickets map[string]*storage.Ticket
	guilds  map[string]*storage.GuildConfig
}

func newMemStore() *memStore {
	return &memStore{
		tickets: make(map[string]*storage.Ticket),
		guilds:  make(map[string]*storage.GuildConfig),
	}
}

func (m *memStore) Init() error  { return nil }
func (m *memStore) Close() error { return nil }

func (m *memStore) InsertTicket(ctx context.Context, t *storage.Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.tickets[t.ChannelID] = &cp
	return nil
}

func (m *memStore) TicketByChannel(ctx context.Context, channelID string) (*storage.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[channelID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memStore) OpenTicketsByCreator(ctx context.Context, guildID, creatorID string) ([]storage.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.Ticket
	for _, t := range m.tickets {
		if t.GuildID == guildID && t.CreatorID == creatorID && t.Status == storage.StatusOpen {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *memStore) OpenTickets(ctx context.Context, guildID string) ([]storage.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.Ticket
	for _, t := range m.tickets {
		if t.GuildID == guildID && t.Status == storage.StatusOpen {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *memStore) StaleOpenTickets(ctx context.Context, guildID string, cutoff time.Time) ([]storage.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.Ticket
	for _, t := range m.tickets {
		if t.GuildID == guildID && t.Status == storage.StatusOpen && t.LastActivity.Before(cutoff) {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *memStore) ClaimTicket(ctx context.Context, channelID, actorID string, at time.Time) (*storage.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[channelID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if t.Status != storage.StatusOpen || t.ClaimedBy != "" {
		cp := *t
		return &cp, storage.ErrConflict
	}
	t.ClaimedBy = actorID
	t.ClaimedAt = &at
	cp := *t
	return &cp, nil
}

func (m *memStore) CloseTicket(ctx context.Context, channelID, closedBy, reason, transcript string, at time.Time) (*storage.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[channelID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if t.Status != storage.StatusOpen {
		cp := *t
		return &cp, storage.ErrConflict
	}
	t.Status = storage.StatusClosed
	t.ClosedBy = closedBy
	t.CloseReason = reason
	t.Transcript = transcript
	t.ClosedAt = &at
	cp := *t
	return &cp, nil
}

func (m *memStore) ReopenTicket(ctx context.Context, channelID string, at time.Time) (*storage.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[channelID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if t.Status != storage.StatusClosed {
		cp := *t
		return &cp, storage.ErrConflict
	}
	t.Status = storage.StatusOpen
	t.ClosedBy = ""
	t.CloseReason = ""
	t.ClosedAt = nil
	t.ClaimedBy = ""
	t.ClaimedAt = nil
	t.LastActivity = at
	t.ReopenCount++
	cp := *t
	return &cp, nil
}

func (m *memStore) MarkDeleted(ctx context.Context, channelID string) (*storage.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[channelID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if t.Status == storage.StatusDeleted {
		cp := *t
		return &cp, storage.ErrConflict
	}
	t.Status = storage.StatusDeleted
	cp := *t
	return &cp, nil
}

func (m *memStore) TransferTicket(ctx context.Context, channelID, newCreatorID string) (*storage.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[channelID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if t.Status == storage.StatusDeleted {
		cp := *t
		return &cp, storage.ErrConflict
	}
	t.CreatorID = newCreatorID
	cp := *t
	return &cp, nil
}

func (m *memStore) TouchActivity(ctx context.Context, channelID string, msg storage.TicketMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[channelID]
	if !ok || t.Status != storage.StatusOpen {
		return nil
	}
	if msg.Timestamp.After(t.LastActivity) {
		t.LastActivity = msg.Timestamp
	}
	seen := false
	for _, p := range t.Participants {
		if p == msg.AuthorID {
			seen = true
		}
	}
	if !seen {
		t.Participants = append(t.Participants, msg.AuthorID)
	}
	t.Messages = append(t.Messages, msg)
	if len(t.Messages) > storage.MessageHistoryCap {
		t.Messages = t.Messages[len(t.Messages)-storage.MessageHistoryCap:]
	}
	return nil
}

func (m *memStore) CountTickets(ctx context.Context, since time.Time) (storage.TicketCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var c storage.TicketCounts
	for _, t := range m.tickets {
		if t.Status != storage.StatusDeleted {
			c.Total++
		}
		if t.Status == storage.StatusOpen {
			c.Open++
		}
		if t.Status == storage.StatusClosed && t.ClosedAt != nil && !t.ClosedAt.Before(since) {
			c.ClosedSince++
		}
	}
	return c, nil
}

func (m *memStore) PurgeDeleted(ctx context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, t := range m.tickets {
		if t.Status == storage.StatusDeleted && t.LastActivity.Before(olderThan) {
			delete(m.tickets, id)
			n++
		}
	}
	return n, nil
}

func (m *memStore) GetGuildConfig(ctx context.Context, guildID string) (*storage.GuildConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	gc, ok := m.guilds[guildID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *gc
	return &cp, nil
}

func (m *memStore) SaveGuildConfig(ctx context.Context, gc *storage.GuildConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *gc
	m.guilds[gc.GuildID] = &cp
	return nil
}

func (m *memStore) NextTicketNumber(ctx context.Context, guildID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	gc, ok := m.guilds[guildID]
	if !ok {
		return 0, storage.ErrNotFound
	}
	gc.TicketCounter++
	return gc.TicketCounter, nil
}

func (m *memStore) AutoCloseGuilds(ctx context.Context) ([]storage.GuildConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.GuildConfig
	for _, gc := range m.guilds {
		if gc.AutoClose.Enabled {
			out = append(out, *gc)
		}
	}
	return out, nil
}

type createdChannel struct {
	name         string
	creatorID    string
	supportRoles []string
}

type fakeGateway struct {
	mu          sync.Mutex
	nextChannel int
	created     map[string]createdChannel
	granted     map[string]string // channelID -> last granted user
	revoked     map[string]string
	deleted     []string
	transcripts map[string]string // destChannel -> transcript
	messages    []Message
	welcomes    int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		created:     make(map[string]createdChannel),
		granted:     make(map[string]string),
		revoked:     make(map[string]string),
		transcripts: make(map[string]string),
	}
}

func (g *fakeGateway) CreateTicketChannel(ctx context.Context, guildID, name, parentCategory, creatorID string, supportRoles []string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextChannel++
	id := fmt.Sprintf("chan-%d", g.nextChannel)
	g.created[id] = createdChannel{name: name, creatorID: creatorID, supportRoles: supportRoles}
	return id, nil
}

func (g *fakeGateway) GrantAccess(ctx context.Context, channelID, userID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.granted[channelID] = userID
	return nil
}

func (g *fakeGateway) GrantStaffAccess(ctx context.Context, channelID, userID string) error {
	return g.GrantAccess(ctx, channelID, userID)
}

func (g *fakeGateway) RevokeAccess(ctx context.Context, channelID, userID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.revoked[channelID] = userID
	return nil
}

func (g *fakeGateway) SendWelcome(ctx context.Context, t *storage.Ticket) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.welcomes++
	return nil
}

func (g *fakeGateway) AnnounceClaim(ctx context.Context, t *storage.Ticket) error    { return nil }
func (g *fakeGateway) AnnounceClosed(ctx context.Context, t *storage.Ticket) error   { return nil }
func (g *fakeGateway) AnnounceReopened(ctx context.Context, t *storage.Ticket) error { return nil }

func (g *fakeGateway) DeliverTranscript(ctx context.Context, destChannelID string, t *storage.Ticket, transcript string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.transcripts[destChannelID] = transcript
	return nil
}

func (g *fakeGateway) FetchRecentMessages(ctx context.Context, channelID string, limit int) ([]Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.messages, nil
}

func (g *fakeGateway) ChannelExists(ctx context.Context, channelID string) (bool, error) {
	return true, nil
}

func (g *fakeGateway) DeleteChannel(ctx context.Context, channelID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleted = append(g.deleted, channelID)
	return nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	notes map[string][]string
}

func (n *fakeNotifier) NotifyUser(ctx context.Context, userID, content string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.notes == nil {
		n.notes = make(map[string][]string)
	}
	n.notes[userID] = append(n.notes[userID], content)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) Publish(ctx context.Context, eventType string, t *storage.Ticket, actorID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
}

const (
	testGuild   = "guild-1"
	supportRole = "role-support"
)

func testSetup(t *testing.T) (*Engine, *memStore, *fakeGateway, *fakeNotifier, *recordingPublisher) {
	t.Helper()
	store := newMemStore()
	gw := newFakeGateway()
	notifier := &fakeNotifier{}
	pub := &recordingPublisher{}
	engine := NewEngine(store, gw, notifier, pub, time.Millisecond, zap.NewNop())

	require.NoError(t, store.SaveGuildConfig(context.Background(), &storage.GuildConfig{
		GuildID:           testGuild,
		TicketCategory:    "cat-1",
		TranscriptChannel: "log-chan",
		SupportRoles:      []string{supportRole},
		MaxOpenTickets:    1,
		AllowReopen:       true,
		NamingTemplate:    "ticket-%04d",
	}))
	return engine, store, gw, notifier, pub
}

var (
	creator = Actor{ID: "user-creator"}
	staff   = Actor{ID: "user-staff", Roles: []string{supportRole}}
	staff2  = Actor{ID: "user-staff2", Roles: []string{supportRole}}
	admin   = Actor{ID: "user-admin", IsAdmin: true, CanManage: true}
	rando   = Actor{ID: "user-rando"}
)

func TestOpenCreatesTicket(t *testing.T) {
	engine, store, gw, _, pub := testSetup(t)
	ctx := context.Background()

	tk, err := engine.Open(ctx, testGuild, creator, "login issue", "account")
	require.NoError(t, err)

	assert.Equal(t, storage.StatusOpen, tk.Status)
	assert.Equal(t, "0001", tk.TicketID)
	assert.Equal(t, creator.ID, tk.CreatorID)
	assert.Equal(t, []string{creator.ID}, tk.Participants)

	ch := gw.created[tk.ChannelID]
	assert.Equal(t, "ticket-0001", ch.name)
	assert.Equal(t, creator.ID, ch.creatorID)
	assert.Equal(t, []string{supportRole}, ch.supportRoles)
	assert.Equal(t, 1, gw.welcomes)

	gc, err := store.GetGuildConfig(ctx, testGuild)
	require.NoError(t, err)
	assert.Equal(t, 1, gc.TicketCounter)
	assert.Equal(t, []string{EventCreated}, pub.events)
}

func TestOpenQuota(t *testing.T) {
	engine, store, _, _, _ := testSetup(t)
	ctx := context.Background()

	_, err := engine.Open(ctx, testGuild, creator, "first", "")
	require.NoError(t, err)

	_, err = engine.Open(ctx, testGuild, creator, "second", "")
	assert.Equal(t, KindAlreadyOpen, KindOf(err))

	gc, _ := store.GetGuildConfig(ctx, testGuild)
	gc.MaxOpenTickets = 3
	require.NoError(t, store.SaveGuildConfig(ctx, gc))

	_, err = engine.Open(ctx, testGuild, creator, "second", "")
	require.NoError(t, err)
	_, err = engine.Open(ctx, testGuild, creator, "third", "")
	require.NoError(t, err)
	_, err = engine.Open(ctx, testGuild, creator, "fourth", "")
	assert.Equal(t, KindQuotaExceeded, KindOf(err))
}

func TestOpenNotConfigured(t *testing.T) {
	engine, _, _, _, _ := testSetup(t)

	_, err := engine.Open(context.Background(), "unknown-guild", creator, "x", "")
	assert.Equal(t, KindNotConfigured, KindOf(err))
}

func TestClaim(t *testing.T) {
	engine, _, _, _, _ := testSetup(t)
	ctx := context.Background()

	tk, err := engine.Open(ctx, testGuild, creator, "x", "")
	require.NoError(t, err)

	_, err = engine.Claim(ctx, rando, tk.ChannelID)
	assert.Equal(t, KindForbidden, KindOf(err))

	claimed, err := engine.Claim(ctx, staff, tk.ChannelID)
	require.NoError(t, err)
	assert.Equal(t, staff.ID, claimed.ClaimedBy)
	require.NotNil(t, claimed.ClaimedAt)

	// A second claim never overwrites and names the current claimant.
	_, err = engine.Claim(ctx, staff2, tk.ChannelID)
	assert.Equal(t, KindAlreadyClaimed, KindOf(err))
	assert.Equal(t, staff.ID, ClaimantOf(err))

	current, err := engine.TicketByChannel(ctx, tk.ChannelID)
	require.NoError(t, err)
	assert.Equal(t, staff.ID, current.ClaimedBy)
}

func TestClaimClosedTicket(t *testing.T) {
	engine, _, _, _, _ := testSetup(t)
	ctx := context.Background()

	tk, err := engine.Open(ctx, testGuild, creator, "x", "")
	require.NoError(t, err)
	_, err = engine.ConfirmClose(ctx, creator, tk.ChannelID, "")
	require.NoError(t, err)

	_, err = engine.Claim(ctx, staff, tk.ChannelID)
	assert.Equal(t, KindNotOpen, KindOf(err))
}

func TestCloseDeliversTranscriptAndRevokesCreator(t *testing.T) {
	engine, _, gw, _, pub := testSetup(t)
	ctx := context.Background()

	tk, err := engine.Open(ctx, testGuild, creator, "x", "")
	require.NoError(t, err)

	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	gw.messages = []Message{
		{AuthorID: creator.ID, AuthorName: "creator", Content: "second", Timestamp: base.Add(time.Minute)},
		{AuthorID: creator.ID, AuthorName: "creator", Content: "first", Timestamp: base},
	}

	closed, err := engine.ConfirmClose(ctx, staff, tk.ChannelID, "")
	require.NoError(t, err)

	assert.Equal(t, storage.StatusClosed, closed.Status)
	assert.Equal(t, staff.ID, closed.ClosedBy)
	assert.Equal(t, storage.CloseReasonResolved, closed.CloseReason)
	require.NotNil(t, closed.ClosedAt)

	// Transcript is chronological, oldest first.
	transcript := gw.transcripts["log-chan"]
	require.NotEmpty(t, transcript)
	assert.Less(t, strings.Index(transcript, "first"), strings.Index(transcript, "second"))
	assert.Equal(t, transcript, closed.Transcript)

	assert.Equal(t, creator.ID, gw.revoked[tk.ChannelID])
	assert.Contains(t, pub.events, EventClosed)
}

func TestCloseReopenRoundTrip(t *testing.T) {
	engine, _, gw, notifier, _ := testSetup(t)
	ctx := context.Background()

	tk, err := engine.Open(ctx, testGuild, creator, "x", "")
	require.NoError(t, err)
	_, err = engine.Claim(ctx, staff, tk.ChannelID)
	require.NoError(t, err)

	for round := 0; round < 2; round++ {
		closed, err := engine.ConfirmClose(ctx, staff, tk.ChannelID, "")
		require.NoError(t, err)
		assert.Equal(t, storage.StatusClosed, closed.Status)
		assert.NotNil(t, closed.ClosedAt)
		assert.NotEmpty(t, closed.ClosedBy)

		// Closing an already-closed ticket is rejected.
		_, err = engine.ConfirmClose(ctx, staff, tk.ChannelID, "")
		assert.Equal(t, KindAlreadyClosed, KindOf(err))

		reopened, err := engine.Reopen(ctx, staff, tk.ChannelID)
		require.NoError(t, err)
		assert.Equal(t, storage.StatusOpen, reopened.Status)
		assert.Nil(t, reopened.ClosedAt)
		assert.Empty(t, reopened.ClosedBy)
		assert.Empty(t, reopened.ClaimedBy)
		assert.Equal(t, round+1, reopened.ReopenCount)
		assert.Equal(t, creator.ID, gw.granted[tk.ChannelID])
	}

	assert.NotEmpty(t, notifier.notes[creator.ID])
}

func TestReopenDisabled(t *testing.T) {
	engine, store, _, _, _ := testSetup(t)
	ctx := context.Background()

	tk, err := engine.Open(ctx, testGuild, creator, "x", "")
	require.NoError(t, err)
	_, err = engine.ConfirmClose(ctx, creator, tk.ChannelID, "")
	require.NoError(t, err)

	gc, _ := store.GetGuildConfig(ctx, testGuild)
	gc.AllowReopen = false
	require.NoError(t, store.SaveGuildConfig(ctx, gc))

	_, err = engine.Reopen(ctx, creator, tk.ChannelID)
	assert.Equal(t, KindReopenDisabled, KindOf(err))
}

func TestCloseGates(t *testing.T) {
	engine, _, _, _, _ := testSetup(t)
	ctx := context.Background()

	tk, err := engine.Open(ctx, testGuild, creator, "x", "")
	require.NoError(t, err)

	_, err = engine.RequestClose(ctx, rando, tk.ChannelID)
	assert.Equal(t, KindForbidden, KindOf(err))

	for _, actor := range []Actor{creator, staff, admin} {
		_, err := engine.RequestClose(ctx, actor, tk.ChannelID)
		assert.NoError(t, err)
	}
}

func TestForceClose(t *testing.T) {
	engine, _, _, _, _ := testSetup(t)
	ctx := context.Background()

	tk, err := engine.Open(ctx, testGuild, creator, "x", "")
	require.NoError(t, err)

	_, err = engine.ForceClose(ctx, staff, tk.ChannelID, "")
	assert.Equal(t, KindForbidden, KindOf(err))

	closed, err := engine.ForceClose(ctx, admin, tk.ChannelID, "spam")
	require.NoError(t, err)
	assert.Equal(t, admin.ID, closed.ClosedBy)
	assert.Equal(t, "spam", closed.CloseReason)
}

func TestDeleteIsTerminal(t *testing.T) {
	engine, _, _, _, _ := testSetup(t)
	ctx := context.Background()

	tk, err := engine.Open(ctx, testGuild, creator, "x", "")
	require.NoError(t, err)

	_, err = engine.RequestDelete(ctx, rando, tk.ChannelID)
	assert.Equal(t, KindForbidden, KindOf(err))

	deleted, err := engine.ConfirmDelete(ctx, admin, tk.ChannelID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusDeleted, deleted.Status)

	// No transition leaves DELETED.
	_, err = engine.ConfirmDelete(ctx, admin, tk.ChannelID)
	assert.Equal(t, KindAlreadyDeleted, KindOf(err))
	_, err = engine.ConfirmClose(ctx, admin, tk.ChannelID, "")
	assert.Equal(t, KindAlreadyDeleted, KindOf(err))
	_, err = engine.Reopen(ctx, admin, tk.ChannelID)
	assert.Equal(t, KindAlreadyDeleted, KindOf(err))
	_, err = engine.Transfer(ctx, admin, tk.ChannelID, "someone")
	assert.Equal(t, KindAlreadyDeleted, KindOf(err))
}

func TestDeleteRemovesChannelAfterGrace(t *testing.T) {
	engine, _, gw, _, _ := testSetup(t)
	ctx := context.Background()

	tk, err := engine.Open(ctx, testGuild, creator, "x", "")
	require.NoError(t, err)

	_, err = engine.ConfirmDelete(ctx, admin, tk.ChannelID)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		gw.mu.Lock()
		defer gw.mu.Unlock()
		return len(gw.deleted) == 1 && gw.deleted[0] == tk.ChannelID
	}, time.Second, 5*time.Millisecond)
}

func TestTransfer(t *testing.T) {
	engine, _, gw, notifier, _ := testSetup(t)
	ctx := context.Background()

	tk, err := engine.Open(ctx, testGuild, creator, "x", "")
	require.NoError(t, err)

	moved, err := engine.Transfer(ctx, admin, tk.ChannelID, "user-new")
	require.NoError(t, err)
	assert.Equal(t, "user-new", moved.CreatorID)
	assert.Equal(t, creator.ID, gw.revoked[tk.ChannelID])
	assert.Equal(t, "user-new", gw.granted[tk.ChannelID])
	assert.NotEmpty(t, notifier.notes["user-new"])
}

func TestTrackActivityMonotonicAndBounded(t *testing.T) {
	engine, _, _, _, _ := testSetup(t)
	ctx := context.Background()

	tk, err := engine.Open(ctx, testGuild, creator, "x", "")
	require.NoError(t, err)

	base := time.Now().Add(time.Hour)
	require.NoError(t, engine.TrackActivity(ctx, tk.ChannelID, storage.TicketMessage{
		AuthorID: "user-a", Content: "hi", Timestamp: base,
	}))
	// An older message must not move lastActivity backwards.
	require.NoError(t, engine.TrackActivity(ctx, tk.ChannelID, storage.TicketMessage{
		AuthorID: "user-b", Content: "old", Timestamp: base.Add(-time.Minute),
	}))

	current, err := engine.TicketByChannel(ctx, tk.ChannelID)
	require.NoError(t, err)
	assert.Equal(t, base, current.LastActivity)
	assert.ElementsMatch(t, []string{creator.ID, "user-a", "user-b"}, current.Participants)

	for n := 0; n < storage.MessageHistoryCap+20; n++ {
		require.NoError(t, engine.TrackActivity(ctx, tk.ChannelID, storage.TicketMessage{
			AuthorID: "user-a", Content: fmt.Sprintf("m%d", n), Timestamp: base.Add(time.Duration(n) * time.Second),
		}))
	}
	current, err = engine.TicketByChannel(ctx, tk.ChannelID)
	require.NoError(t, err)
	assert.Len(t, current.Messages, storage.MessageHistoryCap)
	// Oldest entries were evicted, newest retained.
	assert.Equal(t, fmt.Sprintf("m%d", storage.MessageHistoryCap+19), current.Messages[len(current.Messages)-1].Content)
}

func TestAutoCloseUsesSystemSentinel(t *testing.T) {
	engine, _, _, _, _ := testSetup(t)
	ctx := context.Background()

	tk, err := engine.Open(ctx, testGuild, creator, "x", "")
	require.NoError(t, err)

	closed, err := engine.AutoClose(ctx, tk)
	require.NoError(t, err)
	assert.Equal(t, storage.AutoCloseActor, closed.ClosedBy)
	assert.Equal(t, storage.CloseReasonAutoClose, closed.CloseReason)
}

func TestConcurrentClaimsSingleWinner(t *testing.T) {
	engine, _, _, _, _ := testSetup(t)
	ctx := context.Background()

	tk, err := engine.Open(ctx, testGuild, creator, "x", "")
	require.NoError(t, err)

	actors := make([]Actor, 8)
	for n := range actors {
		actors[n] = Actor{ID: fmt.Sprintf("staff-%d", n), Roles: []string{supportRole}}
	}

	var wg sync.WaitGroup
	wins := make(chan string, len(actors))
	for _, a := range actors {
		wg.Add(1)
		go func(a Actor) {
			defer wg.Done()
			if claimed, err := engine.Claim(ctx, a, tk.ChannelID); err == nil {
				wins <- claimed.ClaimedBy
			}
		}(a)
	}
	wg.Wait()
	close(wins)

	var winners []string
	for w := range wins {
		winners = append(winners, w)
	}
	require.Len(t, winners, 1)

	current, err := engine.TicketByChannel(ctx, tk.ChannelID)
	require.NoError(t, err)
	assert.Equal(t, winners[0], current.ClaimedBy)
}
