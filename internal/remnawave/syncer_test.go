package remnawave

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vpn-billing/internal/database/dbtest"
	ierr "vpn-billing/internal/errors"
	"vpn-billing/internal/logger"
	"vpn-billing/internal/models"
	"vpn-billing/internal/repository"
)

type panel struct {
	mu       sync.Mutex
	requests []string
	bodies   []map[string]interface{}
	status   int
}

func (p *panel) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()

		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		p.requests = append(p.requests, r.Method+" "+r.URL.Path)

		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		p.bodies = append(p.bodies, body)

		if p.status != 0 {
			w.WriteHeader(p.status)
			_, _ = w.Write([]byte(`{"message":"boom"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(APIResponse{Response: UserResponse{
			UUID:            "remote-uuid",
			SubscriptionURL: "https://panel/sub/abc",
		}})
	}
}

func newSyncer(t *testing.T, p *panel) (*Syncer, *repository.Store) {
	srv := httptest.NewServer(p.handler(t))
	t.Cleanup(srv.Close)

	store := repository.New(dbtest.New(t))
	client := NewClient(srv.URL, "secret", time.Second)
	return NewSyncer(client, store, logger.NewNop(), time.Second, "default-squad"), store
}

func seed(t *testing.T, store *repository.Store, remoteUUID string) (*models.User, *models.Subscription) {
	tg := int64(777)
	user := &models.User{TelegramID: &tg, Username: "bob", RemnawaveUUID: remoteUUID}
	require.NoError(t, store.DB().Create(user).Error)
	sub := &models.Subscription{
		UserID:         user.ID,
		Status:         models.SubscriptionStatusActive,
		TrafficLimitGB: 100,
		DeviceLimit:    3,
		EndDate:        time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.CreateSubscription(context.Background(), sub))
	return user, sub
}

func TestPushSubscription_CreatesAndPersistsUUID(t *testing.T) {
	p := &panel{}
	syncer, store := newSyncer(t, p)
	user, sub := seed(t, store, "")

	res := syncer.PushSubscription(context.Background(), user, sub)
	require.True(t, res.OK)
	assert.Equal(t, "remote-uuid", res.UUID)
	assert.Equal(t, []string{"POST /api/users"}, p.requests)

	body := p.bodies[0]
	assert.Equal(t, "tg_777", body["username"])
	assert.Equal(t, StatusActive, body["status"])
	assert.Equal(t, float64(100*bytesPerGB), body["trafficLimitBytes"])
	assert.Equal(t, "2025-04-01T00:00:00Z", body["expireAt"])
	assert.Equal(t, []interface{}{"default-squad"}, body["activeInternalSquads"])

	stored, err := store.GetUser(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, "remote-uuid", stored.RemnawaveUUID)

	storedSub, err := store.GetSubscription(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://panel/sub/abc", storedSub.SubscriptionURL)
}

func TestPushSubscription_UpdatesExistingUser(t *testing.T) {
	p := &panel{}
	syncer, store := newSyncer(t, p)
	user, sub := seed(t, store, "known")
	sub.Status = models.SubscriptionStatusDisabled

	res := syncer.PushSubscription(context.Background(), user, sub)
	require.True(t, res.OK)
	assert.Equal(t, []string{"PATCH /api/users"}, p.requests)
	assert.Equal(t, "known", p.bodies[0]["uuid"])
	assert.Equal(t, StatusDisabled, p.bodies[0]["status"])
}

func TestActions(t *testing.T) {
	p := &panel{}
	syncer, store := newSyncer(t, p)
	user, _ := seed(t, store, "known")
	ctx := context.Background()

	assert.True(t, syncer.Enable(ctx, user).OK)
	assert.True(t, syncer.Disable(ctx, user).OK)
	assert.True(t, syncer.ResetTraffic(ctx, user).OK)
	assert.Equal(t, []string{
		"POST /api/users/known/actions/enable",
		"POST /api/users/known/actions/disable",
		"POST /api/users/known/actions/reset-traffic",
	}, p.requests)
}

func TestFailuresAreReturnedNotPanicked(t *testing.T) {
	p := &panel{status: http.StatusInternalServerError}
	syncer, store := newSyncer(t, p)
	user, sub := seed(t, store, "known")

	res := syncer.PushSubscription(context.Background(), user, sub)
	assert.False(t, res.OK)
	assert.True(t, ierr.Is(res.Err, ierr.ErrRemoteSync))

	user.RemnawaveUUID = ""
	res = syncer.Disable(context.Background(), user)
	assert.False(t, res.OK)
	assert.Len(t, p.requests, 1)
}
