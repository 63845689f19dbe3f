package quest

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmin_Create(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	assert.Equal(t, OutcomeSuccess, h.admin.Create(ctx, "Q"))
	assert.Equal(t, OutcomeQuestExist, h.admin.Create(ctx, "Q"))
	assert.Equal(t, OutcomeQuestNameTooLong, h.admin.Create(ctx, strings.Repeat("x", 41)))
	assert.Equal(t, OutcomeSuccess, h.admin.Create(ctx, strings.Repeat("y", 40)))
	assert.Equal(t, OutcomeInvalidInput, h.admin.Create(ctx, "  "))

	q, out := h.admin.Describe(ctx, "Q")
	require.Equal(t, OutcomeSuccess, out)
	assert.Equal(t, "Q", q.DisplayName)
	assert.False(t, q.IsConfigured())
}

func TestAdmin_UpdatesAreVisibleImmediately(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.Equal(t, OutcomeSuccess, h.admin.Create(ctx, "Q"))

	// Warm the cache so a stale entry would be observable.
	_, _ = h.admin.Describe(ctx, "Q")

	require.Equal(t, OutcomeSuccess, h.admin.SetDisplayName(ctx, "Q", "Stone Collector"))
	require.Equal(t, OutcomeSuccess, h.admin.SetDescription(ctx, "Q", "Bring me stone"))
	require.Equal(t, OutcomeSuccess, h.admin.SetDuration(ctx, "Q", "1h30m"))
	require.Equal(t, OutcomeSuccess, h.admin.SetPermission(ctx, "Q", "quest.stone"))

	q, out := h.admin.Describe(ctx, "Q")
	require.Equal(t, OutcomeSuccess, out)
	assert.Equal(t, "Stone Collector", q.DisplayName)
	require.NotNil(t, q.Description)
	assert.Equal(t, "Bring me stone", *q.Description)
	assert.Equal(t, int64(5400), q.Duration)
	require.NotNil(t, q.Permission)
	assert.Equal(t, "quest.stone", *q.Permission)

	stored, err := h.gw.FindQuest(ctx, "Q")
	require.NoError(t, err)
	assert.Equal(t, q.DisplayName, stored.DisplayName)
	assert.Equal(t, q.Duration, stored.Duration)

	require.Equal(t, OutcomeSuccess, h.admin.SetPermission(ctx, "Q", ""))
	q, _ = h.admin.Describe(ctx, "Q")
	assert.Nil(t, q.Permission)
}

func TestAdmin_UpdateGuards(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	assert.Equal(t, OutcomeQuestNotExist, h.admin.SetDisplayName(ctx, "ghost", "x"))
	assert.Equal(t, OutcomeQuestNotExist, h.admin.SetDuration(ctx, "ghost", "1h"))
	require.Equal(t, OutcomeSuccess, h.admin.Create(ctx, "Q"))
	assert.Equal(t, OutcomeInvalidDuration, h.admin.SetDuration(ctx, "Q", "soon"))
	assert.Equal(t, OutcomeInvalidDuration, h.admin.SetDuration(ctx, "Q", "0s"))
	assert.Equal(t, OutcomeInvalidInput, h.admin.SetDisplayName(ctx, "Q", ""))
}

func TestAdmin_Requirements(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.Equal(t, OutcomeSuccess, h.admin.Create(ctx, "Q"))

	_, out := h.admin.AddRequirement(ctx, "Q", "TALK", 1, "npc")
	assert.Equal(t, OutcomeInvalidRequirementType, out)
	_, out = h.admin.AddRequirement(ctx, "Q", "KILL", 0, "ZOMBIE")
	assert.Equal(t, OutcomeInvalidInput, out)
	_, out = h.admin.AddRequirement(ctx, "ghost", "KILL", 1, "ZOMBIE")
	assert.Equal(t, OutcomeQuestNotExist, out)

	kill, out := h.admin.AddRequirement(ctx, "Q", "kill", 3, "zombie")
	require.Equal(t, OutcomeSuccess, out)
	assert.Equal(t, "ZOMBIE", kill.EntityType)
	assert.Equal(t, 1, h.router.Routes(GameEventEntityDeath))

	info, out := h.admin.RequirementInfo(ctx, kill.ID)
	require.Equal(t, OutcomeSuccess, out)
	assert.Equal(t, 3, info.RequiredAmount)
	_, out = h.admin.RequirementInfo(ctx, kill.ID+100)
	assert.Equal(t, OutcomeRequirementNotExist, out)

	q, _ := h.admin.Describe(ctx, "Q")
	require.Len(t, q.Requirements, 1)

	assert.Equal(t, OutcomeRequirementNotExist, h.admin.RemoveRequirement(ctx, "Q", kill.ID+100))
	assert.Equal(t, OutcomeSuccess, h.admin.RemoveRequirement(ctx, "Q", kill.ID))
	assert.Equal(t, 0, h.router.Routes(GameEventEntityDeath))
	q, _ = h.admin.Describe(ctx, "Q")
	assert.Empty(t, q.Requirements)
}

func TestAdmin_RemoveRequirementCascadesProgress(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	reqs := h.configured(t, "Q", "1h", 2, 3)
	require.Equal(t, OutcomeSuccess, h.life.Accept(ctx, testPlayer{id: "p"}, "Q"))

	require.Equal(t, OutcomeSuccess, h.admin.RemoveRequirement(ctx, "Q", reqs[1].ID))
	rows := h.allProgress(t, "p")
	require.Len(t, rows, 1)
	assert.Equal(t, reqs[0].ID, rows[0].RequirementID)

	open, err := h.progress.Get(ctx, "p")
	require.NoError(t, err)
	assert.Len(t, open, 1)

	assert.Equal(t, OutcomeSuccess, h.life.RecordProgress(ctx, "p", reqs[0].ID, 2))
	assert.Empty(t, h.assignments(t), "the remaining requirement completes the quest")
}

func TestAdmin_AddRequirementOpensProgressForActivePlayers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	reqs := h.configured(t, "Q", "1h", 1)
	require.Equal(t, OutcomeSuccess, h.life.Accept(ctx, testPlayer{id: "p"}, "Q"))

	extra, out := h.admin.AddRequirement(ctx, "Q", "COLLECT", 2, "Y")
	require.Equal(t, OutcomeSuccess, out)

	assert.Equal(t, OutcomeSuccess, h.life.RecordProgress(ctx, "p", reqs[0].ID, 1))
	assert.Len(t, h.assignments(t), 1, "the added requirement is still open")
	assert.Equal(t, OutcomeSuccess, h.life.RecordProgress(ctx, "p", extra.ID, 2))
	assert.Empty(t, h.assignments(t))
}

func TestAdmin_Rewards(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.Equal(t, OutcomeSuccess, h.admin.Create(ctx, "Q"))

	_, out := h.admin.CreateReward(ctx, "GEMS", "1")
	assert.Equal(t, OutcomeInvalidInput, out)
	r, out := h.admin.CreateReward(ctx, "items", `[{"material":"STONE","amount":1}]`)
	require.Equal(t, OutcomeSuccess, out)

	assert.Equal(t, OutcomeQuestNotExist, h.admin.AddReward(ctx, "ghost", r.ID))
	assert.Equal(t, OutcomeRewardNotExist, h.admin.AddReward(ctx, "Q", r.ID+100))
	assert.Equal(t, OutcomeRewardNotAdded, h.admin.RemoveReward(ctx, "Q", r.ID))
	assert.Equal(t, OutcomeSuccess, h.admin.AddReward(ctx, "Q", r.ID))
	assert.Equal(t, OutcomeRewardAlreadyAdded, h.admin.AddReward(ctx, "Q", r.ID))

	q, _ := h.admin.Describe(ctx, "Q")
	assert.True(t, q.HasReward(r.ID))

	assert.Equal(t, OutcomeSuccess, h.admin.RemoveReward(ctx, "Q", r.ID))
	q, _ = h.admin.Describe(ctx, "Q")
	assert.False(t, q.HasReward(r.ID))
}

func TestAdmin_DeleteCascades(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.configured(t, "Q", "1h", 1)
	require.Equal(t, OutcomeSuccess, h.life.Accept(ctx, testPlayer{id: "p"}, "Q"))

	assert.Equal(t, OutcomeSuccess, h.admin.Delete(ctx, "Q"))
	assert.Equal(t, OutcomeQuestNotExist, h.admin.Delete(ctx, "Q"))

	_, out := h.admin.Describe(ctx, "Q")
	assert.Equal(t, OutcomeQuestNotExist, out)
	assert.Empty(t, h.assignments(t))
	active, _ := h.progress.HasActiveQuest(ctx, "p")
	assert.False(t, active)
	a, _ := h.registry.ByPlayer(ctx, "p")
	assert.Nil(t, a)
	assert.Equal(t, 0, h.router.Routes(GameEventItemPickup))
}

func TestAdmin_Info(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	reqs := h.configured(t, "Q", "1h", 4)

	_, out := h.admin.Info(ctx, "p")
	assert.Equal(t, OutcomeQuestNoActive, out)

	require.Equal(t, OutcomeSuccess, h.life.Accept(ctx, testPlayer{id: "p"}, "Q"))
	require.Equal(t, OutcomeSuccess, h.life.RecordProgress(ctx, "p", reqs[0].ID, 1))

	info, out := h.admin.Info(ctx, "p")
	require.Equal(t, OutcomeSuccess, out)
	assert.Equal(t, "Q", info.Quest.Name)
	require.Len(t, info.Progress, 1)
	assert.Equal(t, 1, info.Progress[0].Progress)
	assert.True(t, info.Expiration.Equal(h.clock.Now().Add(time.Hour)))
}

func TestParseID(t *testing.T) {
	id, ok := ParseID(" 42 ")
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)
	_, ok = ParseID("0")
	assert.False(t, ok)
	_, ok = ParseID("x")
	assert.False(t, ok)
}

func TestAdmin_RemoveRequirementCompletesFinishedPlayers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	reqs := h.configured(t, "Q", "1h", 1, 5)
	h.withReward(t, "Q")
	h.configured(t, "Next", "1h", 1)
	require.Equal(t, OutcomeSuccess, h.life.Accept(ctx, testPlayer{id: "p"}, "Q"))
	require.Equal(t, OutcomeSuccess, h.life.RecordProgress(ctx, "p", reqs[0].ID, 1))

	require.Equal(t, OutcomeSuccess, h.admin.RemoveRequirement(ctx, "Q", reqs[1].ID))

	assert.Empty(t, h.assignments(t))
	assert.Equal(t, 1, h.rewards.count())
	assert.Equal(t, 1, h.events.count(EventCompleted))
	assert.Equal(t, OutcomeSuccess, h.life.Accept(ctx, testPlayer{id: "p"}, "Next"))
}

func TestAdmin_RemoveRequirementKeepsPlayersWithOpenWork(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	reqs := h.configured(t, "Q", "1h", 1, 5)
	require.Equal(t, OutcomeSuccess, h.life.Accept(ctx, testPlayer{id: "p"}, "Q"))

	require.Equal(t, OutcomeSuccess, h.admin.RemoveRequirement(ctx, "Q", reqs[0].ID))
	assert.Len(t, h.assignments(t), 1)
	assert.Zero(t, h.events.count(EventCompleted))
}

func TestAdmin_RemoveLastRequirementWithdrawsAssignment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	reqs := h.configured(t, "Q", "1h", 3)
	h.withReward(t, "Q")
	require.Equal(t, OutcomeSuccess, h.life.Accept(ctx, testPlayer{id: "p"}, "Q"))

	require.Equal(t, OutcomeSuccess, h.admin.RemoveRequirement(ctx, "Q", reqs[0].ID))

	assert.Empty(t, h.assignments(t))
	assert.Zero(t, h.rewards.count(), "an emptied quest pays nothing")
	assert.Equal(t, 1, h.events.count(EventCanceled))
	done, err := h.progress.IsQuestCompleted(ctx, "p", "Q")
	require.NoError(t, err)
	assert.False(t, done)
}

func TestAdmin_CreateRewardValidatesPayload(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, tc := range []struct{ kind, payload string }{
		{"COINS", "lots"},
		{"COINS", ""},
		{"EXPERIENCE", "-3"},
		{"ITEMS", "stone"},
		{"ITEMS", `[{"material":"stone","amount":0}]`},
	} {
		_, out := h.admin.CreateReward(ctx, tc.kind, tc.payload)
		assert.Equal(t, OutcomeInvalidInput, out, "%s %q", tc.kind, tc.payload)
	}

	_, out := h.admin.CreateReward(ctx, "coins", "25")
	assert.Equal(t, OutcomeSuccess, out)
	_, out = h.admin.CreateReward(ctx, "EXPERIENCE", "2.5")
	assert.Equal(t, OutcomeSuccess, out)
}
