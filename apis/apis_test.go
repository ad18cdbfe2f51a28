package apis

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"invite_tracker/models"
	"invite_tracker/tracker"
	"invite_tracker/utils"
)

type staticFetcher struct {
	mu      sync.Mutex
	invites []models.InviteRecord
}

func (f *staticFetcher) FetchInvites(context.Context, string) ([]models.InviteRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.InviteRecord(nil), f.invites...), nil
}

func (f *staticFetcher) setUses(uses int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invites[0].Uses = uses
}

func newTestApp(t *testing.T) (*fiber.App, *staticFetcher) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))

	inviterID := "7"
	fetcher := &staticFetcher{invites: []models.InviteRecord{{Code: "a", Uses: 0, InviterID: &inviterID}}}
	store := models.NewAttributionStore(db, models.DuplicateJoinAppend, time.Minute)
	tr, err := tracker.New(fetcher, store, tracker.Options{FetchBackoff: time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(tr.Close)

	app := fiber.New(fiber.Config{ErrorHandler: utils.MyErrorHandler})
	RegisterRoutes(app, tr)
	return app, fetcher
}

func testAPI(t *testing.T, app *fiber.App, method, route string, statusCode int, result any) {
	t.Helper()
	req := httptest.NewRequest(method, route, nil)
	res, err := app.Test(req, -1)
	require.NoError(t, err)
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.Equal(t, statusCode, res.StatusCode, string(body))
	if result != nil {
		require.NoError(t, json.Unmarshal(body, result))
	}
}

func TestGuildRoutes(t *testing.T) {
	app, fetcher := newTestApp(t)
	ctx := context.Background()

	var httpError utils.HttpError
	testAPI(t, app, http.MethodGet, "/api/guilds/100/status", http.StatusNotFound, &httpError)
	assert.Equal(t, "guild not tracked", httpError.Message)
	testAPI(t, app, http.MethodGet, "/api/guilds/not-a-guild/status", http.StatusBadRequest, nil)
	testAPI(t, app, http.MethodPost, "/api/guilds/100/refresh", http.StatusNotFound, nil)

	require.NoError(t, Tracker.SyncGuild(ctx, "100"))

	var index IndexResponse
	testAPI(t, app, http.MethodGet, "/api/", http.StatusOK, &index)
	assert.Equal(t, []string{"100"}, index.Guilds)

	var status tracker.GuildStatus
	testAPI(t, app, http.MethodGet, "/api/guilds/100/status", http.StatusOK, &status)
	assert.Equal(t, "synced", status.State)
	assert.Equal(t, 1, status.Invites)
	assert.Equal(t, 1, status.ActiveInvites)

	fetcher.setUses(1)
	testAPI(t, app, http.MethodPost, "/api/guilds/100/refresh", http.StatusOK, &status)
	assert.Equal(t, 1, status.PendingCredits)

	var invites InvitesResponse
	testAPI(t, app, http.MethodGet, "/api/guilds/100/invites", http.StatusOK, &invites)
	require.Len(t, invites.Invites, 1)
	assert.Equal(t, 1, invites.Invites[0].Uses)

	var report tracker.ReconcileReport
	testAPI(t, app, http.MethodPost, "/api/guilds/100/reconcile", http.StatusOK, &report)
	assert.Equal(t, 1, report.Untracked)
}

func TestAttributionRoutes(t *testing.T) {
	app, fetcher := newTestApp(t)
	ctx := context.Background()
	require.NoError(t, Tracker.SyncGuild(ctx, "100"))

	joinedAt := time.Now().Add(-time.Hour)
	for i, memberID := range []string{"200", "201", "202"} {
		fetcher.setUses(i + 1)
		outcome := Tracker.MemberJoin(ctx, tracker.MemberJoin{
			GuildID:  "100",
			MemberID: memberID,
			JoinedAt: joinedAt.Add(time.Duration(i) * time.Minute),
		})
		require.Equal(t, tracker.OutcomeAttributed, outcome.Kind)
	}

	var attribution models.MembershipAttribution
	testAPI(t, app, http.MethodGet, "/api/guilds/100/members/201/inviter", http.StatusOK, &attribution)
	assert.Equal(t, "a", attribution.Code)
	require.NotNil(t, attribution.InviterID)
	assert.Equal(t, "7", *attribution.InviterID)
	testAPI(t, app, http.MethodGet, "/api/guilds/100/members/999/inviter", http.StatusNotFound, nil)

	var members InvitedMembersResponse
	testAPI(t, app, http.MethodGet, "/api/guilds/100/inviters/7/members?limit=2&offset=1", http.StatusOK, &members)
	require.Len(t, members.Members, 2)
	assert.Equal(t, "201", members.Members[0].InviteeID)

	testAPI(t, app, http.MethodGet, "/api/guilds/100/inviters/7/members", http.StatusOK, &members)
	assert.Len(t, members.Members, 3)

	testAPI(t, app, http.MethodGet, "/api/guilds/100/inviters/7/members?limit=1000", http.StatusBadRequest, nil)
}
