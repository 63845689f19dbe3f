package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/kasuganosora/questkeeper/game/quest"
	"github.com/kasuganosora/questkeeper/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createQuest authors a quest with one requirement and a coin reward and
// returns the requirement id.
func createQuest(t *testing.T, ts *TestServer, name, duration, kind, target string, amount int, coins string) int64 {
	t.Helper()
	status, _ := ts.Admin(t, http.MethodPost, "/api/admin/quests/"+name, nil)
	require.Equal(t, http.StatusCreated, status)
	status, _ = ts.Admin(t, http.MethodPut, "/api/admin/quests/"+name+"/duration", map[string]string{"value": duration})
	require.Equal(t, http.StatusOK, status)

	status, body := ts.Admin(t, http.MethodPost, "/api/admin/quests/"+name+"/requirements", map[string]interface{}{
		"kind": kind, "amount": amount, "target": target,
	})
	require.Equal(t, http.StatusOK, status, body)
	reqID := int64(body["requirement"].(map[string]interface{})["id"].(float64))

	status, body = ts.Admin(t, http.MethodPost, "/api/admin/rewards", map[string]string{"kind": "COINS", "payload": coins})
	require.Equal(t, http.StatusCreated, status, body)
	rewardID := int64(body["reward"].(map[string]interface{})["id"].(float64))
	status, _ = ts.Admin(t, http.MethodPost, fmt.Sprintf("/api/admin/quests/%s/rewards/%d", name, rewardID), nil)
	require.Equal(t, http.StatusOK, status)
	return reqID
}

func TestQuestFlow_CompleteOverEventStream(t *testing.T) {
	ts := NewTestServer(t)
	reqID := createQuest(t, ts, "Miner", "1h", "COLLECT", "stone", 5, "50")

	token := ts.Token(t, "p1")
	events := ts.OpenSSE(t, token)
	stream := ts.OpenEventStream(t)

	status, body := ts.Player(t, http.MethodPost, "/api/quests/Miner/accept", token)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "Miner", events.Expect(t, quest.EventAccepted).QuestName)

	advanced := stream.Send(t, quest.GameEvent{Kind: quest.GameEventItemPickup, PlayerID: "p1", Target: "Stone", Amount: 2})
	assert.Equal(t, "success", advanced[fmt.Sprint(reqID)])
	ev := events.Expect(t, quest.EventProgress)
	assert.Equal(t, 2, ev.Progress)
	assert.Equal(t, 5, ev.Required)

	stream.Send(t, quest.GameEvent{Kind: quest.GameEventItemPickup, PlayerID: "p1", Target: "STONE", Amount: 9})
	events.Expect(t, quest.EventRequirementCompleted)
	events.Expect(t, quest.EventCompleted)

	var stats model.PlayerStatistics
	require.NoError(t, ts.DB.Where("uuid = ?", "p1").Take(&stats).Error)
	assert.Equal(t, int64(50), stats.Coins)

	status, body = ts.Player(t, http.MethodPost, "/api/quests/Miner/accept", token)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "quest_already_completed", body["result"])

	assert.Empty(t, stream.Send(t, quest.GameEvent{Kind: quest.GameEventItemPickup, PlayerID: "p1", Target: "STONE", Amount: 1}))
}

func TestQuestFlow_Expiration(t *testing.T) {
	ts := NewTestServer(t)
	createQuest(t, ts, "Sprint", "1s", "KILL", "zombie", 3, "10")

	token := ts.Token(t, "p2")
	events := ts.OpenSSE(t, token)

	status, _ := ts.Player(t, http.MethodPost, "/api/quests/Sprint/accept", token)
	require.Equal(t, http.StatusOK, status)

	ev := events.Expect(t, quest.EventExpired)
	assert.Equal(t, "Sprint", ev.QuestName)

	status, body := ts.Player(t, http.MethodGet, "/api/me/quest", token)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "quest_no_active", body["result"])

	var n int64
	ts.DB.Model(&model.PlayerStatistics{}).Count(&n)
	assert.Zero(t, n, "expired quests pay nothing")

	// Expired, not completed: the quest can be taken again.
	status, _ = ts.Player(t, http.MethodPost, "/api/quests/Sprint/accept", token)
	assert.Equal(t, http.StatusOK, status)
}

func TestQuestFlow_CancelAndDelete(t *testing.T) {
	ts := NewTestServer(t)
	createQuest(t, ts, "Hunt", "1h", "KILL", "skeleton", 2, "5")
	a, b := ts.Token(t, "a"), ts.Token(t, "b")

	for _, tok := range []string{a, b} {
		status, _ := ts.Player(t, http.MethodPost, "/api/quests/Hunt/accept", tok)
		require.Equal(t, http.StatusOK, status)
	}

	status, _ := ts.Player(t, http.MethodPost, "/api/quests/Hunt/cancel", a)
	assert.Equal(t, http.StatusOK, status)

	status, _ = ts.Admin(t, http.MethodDelete, "/api/admin/quests/Hunt", nil)
	require.Equal(t, http.StatusOK, status)

	status, body := ts.Player(t, http.MethodGet, "/api/me/quest", b)
	assert.Equal(t, http.StatusNotFound, status, body)

	var assignments []model.QuestUser
	require.NoError(t, ts.DB.Find(&assignments).Error)
	assert.Empty(t, assignments)
}

func TestQuestFlow_ConcurrentEventsPayOnce(t *testing.T) {
	ts := NewTestServer(t)
	createQuest(t, ts, "Rush", "1h", "COLLECT", "gold", 1, "25")
	token := ts.Token(t, "p3")
	status, _ := ts.Player(t, http.MethodPost, "/api/quests/Rush/accept", token)
	require.Equal(t, http.StatusOK, status)

	body, err := json.Marshal(quest.GameEvent{Kind: quest.GameEventItemPickup, PlayerID: "p3", Target: "GOLD", Amount: 1})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/admin/events", bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-Admin-Key", adminKey)
			if resp, err := http.DefaultClient.Do(req); err == nil {
				resp.Body.Close()
			}
		}()
	}
	wg.Wait()

	var stats model.PlayerStatistics
	require.NoError(t, ts.DB.WithContext(context.Background()).Where("uuid = ?", "p3").Take(&stats).Error)
	assert.Equal(t, int64(25), stats.Coins)

	require.Eventually(t, func() bool {
		status, body := ts.Admin(t, http.MethodGet, "/api/admin/players/p3/history", nil)
		if status != http.StatusOK {
			return false
		}
		completed := 0
		for _, row := range body["history"].([]interface{}) {
			if row.(map[string]interface{})["action"] == "completed" {
				completed++
			}
		}
		return completed == 1
	}, 5*time.Second, 200*time.Millisecond)
}
