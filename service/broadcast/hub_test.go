package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"PBoard/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeVerifier maps tokens to users; unknown tokens fail with err.
type fakeVerifier struct {
	users map[string]int64
	fails map[string]error
}

func (v fakeVerifier) VerifyToken(token string) (int64, error) {
	if err, ok := v.fails[token]; ok {
		return 0, err
	}
	if uid, ok := v.users[token]; ok {
		return uid, nil
	}
	return 0, errs.ErrTokenSignatureInvalid.WrapMsg("unknown token")
}

type fakeAuthz struct {
	mu      sync.Mutex
	members map[[2]int64]bool
	err     error
}

func (a *fakeAuthz) IsProjectCollaborator(_ context.Context, uid, pid int64) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.members[[2]int64{uid, pid}], a.err
}

const (
	alice = int64(1)
	bob   = int64(2)
)

func newTestHub(t *testing.T) (*Hub, *fakeAuthz) {
	t.Helper()
	authz := &fakeAuthz{members: map[[2]int64]bool{{alice, 7}: true}}
	v := fakeVerifier{
		users: map[string]int64{"alice-token": alice, "bob-token": bob},
		fails: map[string]error{
			"expired":   errs.ErrTokenExpired.WrapMsg("token is expired"),
			"malformed": errs.ErrTokenMalformed.WrapMsg("bad"),
		},
	}
	return NewHub(v, authz, Options{}), authz
}

// drain returns every queued frame without blocking.
func drain(w *WsConn) [][]byte {
	var out [][]byte
	for {
		select {
		case f := <-w.send:
			out = append(out, f)
		default:
			return out
		}
	}
}

type frame struct {
	Kind    string         `json:"kind"`
	Payload map[string]any `json:"payload"`
}

func decodeFrames(t *testing.T, raw [][]byte) []frame {
	t.Helper()
	out := make([]frame, 0, len(raw))
	for _, r := range raw {
		var f frame
		require.NoError(t, json.Unmarshal(r, &f))
		out = append(out, f)
	}
	return out
}

func TestBindExpiredCreatesNoMembership(t *testing.T) {
	h, _ := newTestHub(t)
	w := h.OnConnect(nil)

	_, err := h.Identify(w.SnowID, "expired")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrTokenExpired))
	assert.True(t, errors.Is(err, errs.ErrAuth))
	assert.Empty(t, h.Registry().TopicsOf(w.SnowID))
	_, bound := h.Binder().Identity(w.SnowID)
	assert.False(t, bound)
}

func TestBindEmptyTokenIsMalformed(t *testing.T) {
	h, _ := newTestHub(t)
	w := h.OnConnect(nil)

	_, err := h.Identify(w.SnowID, "")
	assert.True(t, errors.Is(err, errs.ErrTokenMalformed))
}

func TestBindPlainVerifierErrorBecomesMalformed(t *testing.T) {
	v := fakeVerifier{fails: map[string]error{"x": errors.New("boom")}}
	b := NewBinder(v, NewRegistry())
	_, err := b.Bind("c1", "x")
	assert.True(t, errors.Is(err, errs.ErrTokenMalformed))
}

func TestBindSubscribesUserTopic(t *testing.T) {
	h, _ := newTestHub(t)
	w := h.OnConnect(nil)

	uid, err := h.Identify(w.SnowID, "alice-token")
	require.NoError(t, err)
	assert.Equal(t, alice, uid)
	assert.True(t, h.Registry().IsSubscribed(w.SnowID, UserTopic(alice)))
}

func TestFailedRebindKeepsBinding(t *testing.T) {
	h, _ := newTestHub(t)
	w := h.OnConnect(nil)
	_, err := h.Identify(w.SnowID, "alice-token")
	require.NoError(t, err)
	require.NoError(t, h.JoinProject(context.Background(), w.SnowID, 7))

	_, err = h.Identify(w.SnowID, "expired")
	require.Error(t, err)

	uid, ok := h.Binder().Identity(w.SnowID)
	assert.True(t, ok)
	assert.Equal(t, alice, uid)
	assert.True(t, h.Registry().IsSubscribed(w.SnowID, ProjectTopic(7)))
}

func TestRebindToOtherUserDropsOldMemberships(t *testing.T) {
	h, _ := newTestHub(t)
	w := h.OnConnect(nil)
	_, _ = h.Identify(w.SnowID, "alice-token")
	require.NoError(t, h.JoinProject(context.Background(), w.SnowID, 7))

	uid, err := h.Identify(w.SnowID, "bob-token")
	require.NoError(t, err)
	assert.Equal(t, bob, uid)
	assert.ElementsMatch(t, []Topic{UserTopic(bob)}, h.Registry().TopicsOf(w.SnowID))
}

func TestRebindSameUserKeepsProjects(t *testing.T) {
	h, _ := newTestHub(t)
	w := h.OnConnect(nil)
	_, _ = h.Identify(w.SnowID, "alice-token")
	require.NoError(t, h.JoinProject(context.Background(), w.SnowID, 7))

	_, err := h.Identify(w.SnowID, "alice-token")
	require.NoError(t, err)
	assert.True(t, h.Registry().IsSubscribed(w.SnowID, ProjectTopic(7)))
}

func TestJoinWithoutBindIsForbidden(t *testing.T) {
	h, _ := newTestHub(t)
	w := h.OnConnect(nil)

	err := h.JoinProject(context.Background(), w.SnowID, 7)
	assert.True(t, errors.Is(err, errs.ErrForbidden))
	assert.Empty(t, h.Registry().SubscribersOf(ProjectTopic(7)))
}

func TestJoinNonCollaboratorIsForbidden(t *testing.T) {
	h, _ := newTestHub(t)
	w := h.OnConnect(nil)
	_, _ = h.Identify(w.SnowID, "bob-token")

	err := h.JoinProject(context.Background(), w.SnowID, 7)
	assert.True(t, errors.Is(err, errs.ErrForbidden))
	assert.False(t, h.Registry().IsSubscribed(w.SnowID, ProjectTopic(7)))
}

func TestJoinAuthorizerFailure(t *testing.T) {
	h, authz := newTestHub(t)
	authz.err = errors.New("db down")
	w := h.OnConnect(nil)
	_, _ = h.Identify(w.SnowID, "alice-token")

	err := h.JoinProject(context.Background(), w.SnowID, 7)
	assert.True(t, errors.Is(err, errs.ErrInternalServer))
	assert.False(t, h.Registry().IsSubscribed(w.SnowID, ProjectTopic(7)))
}

func TestJoinLeaveRejectBadProjectID(t *testing.T) {
	h, _ := newTestHub(t)
	w := h.OnConnect(nil)
	_, _ = h.Identify(w.SnowID, "alice-token")

	assert.True(t, errors.Is(h.JoinProject(context.Background(), w.SnowID, 0), errs.ErrArgs))
	assert.True(t, errors.Is(h.LeaveProject(w.SnowID, -1), errs.ErrArgs))
}

func TestLeaveStopsDelivery(t *testing.T) {
	h, _ := newTestHub(t)
	w := h.OnConnect(nil)
	_, _ = h.Identify(w.SnowID, "alice-token")
	require.NoError(t, h.JoinProject(context.Background(), w.SnowID, 7))
	require.NoError(t, h.LeaveProject(w.SnowID, 7))

	h.PublishProject(7, "task:created", map[string]any{"id": 1})
	assert.Empty(t, drain(w))
}

func TestLeaveWithoutIdentity(t *testing.T) {
	h, _ := newTestHub(t)
	w := h.OnConnect(nil)
	assert.NoError(t, h.LeaveProject(w.SnowID, 7))
}

func TestDisconnectDropsEverything(t *testing.T) {
	h, _ := newTestHub(t)
	w := h.OnConnect(nil)
	_, _ = h.Identify(w.SnowID, "alice-token")
	require.NoError(t, h.JoinProject(context.Background(), w.SnowID, 7))

	h.OnDisconnect(w.SnowID)

	assert.Empty(t, h.Registry().TopicsOf(w.SnowID))
	assert.Zero(t, h.PublishProject(7, "task:created", nil))
	assert.Zero(t, h.PublishUser(alice, "notification", nil))
	_, ok := h.Conns().Get(w.SnowID)
	assert.False(t, ok)
	assert.True(t, w.Closed())
}

func TestOnClientMessageAcksAndRejects(t *testing.T) {
	h, _ := newTestHub(t)
	w := h.OnConnect(nil)
	ctx := context.Background()

	h.OnClientMessage(ctx, w.SnowID, []byte(`{"type":"joinProject","projectId":7}`))
	h.OnClientMessage(ctx, w.SnowID, []byte(`{"type":"identify","token":"alice-token"}`))
	h.OnClientMessage(ctx, w.SnowID, []byte(`{"type":"joinProject","projectId":"7"}`))
	h.OnClientMessage(ctx, w.SnowID, []byte(`{"type":"leaveProject","projectId":7}`))
	h.OnClientMessage(ctx, w.SnowID, []byte(`{"type":"dance"}`))
	h.OnClientMessage(ctx, w.SnowID, []byte(`not json`))

	got := decodeFrames(t, drain(w))
	require.Len(t, got, 6)

	assert.Equal(t, KindError, got[0].Kind)
	assert.EqualValues(t, errs.ForbiddenError, got[0].Payload["code"])
	assert.Equal(t, MsgJoinProject, got[0].Payload["type"])

	assert.Equal(t, "identify:ok", got[1].Kind)
	assert.EqualValues(t, alice, got[1].Payload["user_id"])

	assert.Equal(t, "joinProject:ok", got[2].Kind)
	assert.EqualValues(t, 7, got[2].Payload["project_id"])

	assert.Equal(t, "leaveProject:ok", got[3].Kind)

	assert.Equal(t, KindError, got[4].Kind)
	assert.EqualValues(t, errs.UnknownMessageError, got[4].Payload["code"])

	assert.Equal(t, KindError, got[5].Kind)
	assert.EqualValues(t, errs.ArgsError, got[5].Payload["code"])

	_, bound := h.Binder().Identity(w.SnowID)
	assert.True(t, bound, "rejections never unbind or close")
	assert.False(t, w.Closed())
}

func TestEvictUser(t *testing.T) {
	h, authz := newTestHub(t)
	authz.members[[2]int64{bob, 7}] = true

	a := h.OnConnect(nil)
	b1 := h.OnConnect(nil)
	b2 := h.OnConnect(nil)
	_, _ = h.Identify(a.SnowID, "alice-token")
	_, _ = h.Identify(b1.SnowID, "bob-token")
	_, _ = h.Identify(b2.SnowID, "bob-token")
	ctx := context.Background()
	require.NoError(t, h.JoinProject(ctx, a.SnowID, 7))
	require.NoError(t, h.JoinProject(ctx, b1.SnowID, 7))

	assert.Equal(t, 1, h.EvictUser(bob, 7))
	assert.Equal(t, []string{a.SnowID}, h.Registry().SubscribersOf(ProjectTopic(7)))
	assert.True(t, h.Registry().IsSubscribed(b1.SnowID, UserTopic(bob)), "user topic survives eviction")
}

// gatedAuthz answers from members, then holds its first answer until
// release is closed.
type gatedAuthz struct {
	*fakeAuthz
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedAuthz) IsProjectCollaborator(ctx context.Context, uid, pid int64) (bool, error) {
	ok, err := g.fakeAuthz.IsProjectCollaborator(ctx, uid, pid)
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return ok, err
}

func TestEvictDuringJoinAuthorizationWins(t *testing.T) {
	authz := &gatedAuthz{
		fakeAuthz: &fakeAuthz{members: map[[2]int64]bool{{bob, 7}: true}},
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}
	h := NewHub(fakeVerifier{users: map[string]int64{"bob-token": bob}}, authz, Options{})
	b := h.OnConnect(nil)
	_, err := h.Identify(b.SnowID, "bob-token")
	require.NoError(t, err)

	joined := make(chan error, 1)
	go func() { joined <- h.JoinProject(context.Background(), b.SnowID, 7) }()
	<-authz.entered

	// removal commits, then the adapter evicts
	authz.mu.Lock()
	delete(authz.members, [2]int64{bob, 7})
	authz.mu.Unlock()
	assert.Zero(t, h.EvictUser(bob, 7))
	close(authz.release)

	err = <-joined
	assert.ErrorIs(t, err, errs.ErrForbidden)
	assert.False(t, h.Registry().IsSubscribed(b.SnowID, ProjectTopic(7)))
	drain(b)
	assert.Zero(t, h.PublishProject(7, "task:created", map[string]any{"id": 1}))
	assert.Empty(t, drain(b))
}

func TestJoinAfterUnrelatedEvictionStillSucceeds(t *testing.T) {
	h, _ := newTestHub(t)
	a := h.OnConnect(nil)
	_, _ = h.Identify(a.SnowID, "alice-token")

	h.EvictUser(bob, 9)
	require.NoError(t, h.JoinProject(context.Background(), a.SnowID, 7))
	assert.True(t, h.Registry().IsSubscribed(a.SnowID, ProjectTopic(7)))
}

type recordingPresence struct {
	mu      sync.Mutex
	changes []string
	done    chan struct{}
	want    int
}

func (p *recordingPresence) record(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, s)
	if len(p.changes) == p.want {
		close(p.done)
	}
}

func (p *recordingPresence) Online(_ context.Context, uid int64, _ string) error {
	p.record("on:" + strconv.FormatInt(uid, 10))
	return nil
}

func (p *recordingPresence) Offline(_ context.Context, uid int64, _ string) error {
	p.record("off:" + strconv.FormatInt(uid, 10))
	return nil
}

func TestPresenceLoop(t *testing.T) {
	p := &recordingPresence{done: make(chan struct{}), want: 4}
	v := fakeVerifier{users: map[string]int64{"alice-token": alice, "bob-token": bob}}
	h := NewHub(v, &fakeAuthz{}, Options{Presence: p})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	w := h.OnConnect(nil)
	_, _ = h.Identify(w.SnowID, "alice-token")
	_, _ = h.Identify(w.SnowID, "bob-token")
	h.OnDisconnect(w.SnowID)

	select {
	case <-p.done:
	case <-time.After(2 * time.Second):
		t.Fatal("presence updates not applied")
	}
	p.mu.Lock()
	assert.Equal(t, []string{"on:1", "off:1", "on:2", "off:2"}, p.changes)
	p.mu.Unlock()

	online, _ := h.IsOnline(ctx, bob)
	assert.False(t, online)
}

func TestPresenceRefreshReannouncesBindings(t *testing.T) {
	p := &recordingPresence{done: make(chan struct{}), want: 3}
	v := fakeVerifier{users: map[string]int64{"alice-token": alice}}
	h := NewHub(v, &fakeAuthz{}, Options{Presence: p, PresenceRefresh: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := h.OnConnect(nil)
	_, err := h.Identify(w.SnowID, "alice-token")
	require.NoError(t, err)
	go h.Run(ctx)

	select {
	case <-p.done:
	case <-time.After(2 * time.Second):
		t.Fatal("bindings were not re-announced")
	}
	p.mu.Lock()
	assert.Equal(t, []string{"on:1", "on:1", "on:1"}, p.changes[:3])
	p.mu.Unlock()
}
