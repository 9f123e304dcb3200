/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialGame(t *testing.T, a *testApp, gameID string) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(a.router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/memory/" + gameID + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

// readUntil skips messages until one of type typ arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) map[string]any {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	for {
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg), "waiting for %q", typ)
		if msg["type"] == typ {
			return msg
		}
	}
}

func cardStates(msg map[string]any) []string {
	var states []string
	for _, c := range msg["cards"].([]any) {
		states = append(states, c.(map[string]any)["state"].(string))
	}

	return states
}

func TestMemoryRedirect(t *testing.T) {
	a := newTestApp(t)

	rec := a.get(t, "/memory")
	require.Equal(t, http.StatusTemporaryRedirect, rec.Code)

	loc := rec.Header().Get("Location")
	require.True(t, strings.HasPrefix(loc, "/memory/"))
	assert.Len(t, strings.TrimPrefix(loc, "/memory/"), 8)

	rec = a.get(t, loc)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Set-Cookie"), playerCookieName+"=")
}

func TestMemoryQR(t *testing.T) {
	a := newTestApp(t)

	rec := a.get(t, "/memory/AbCdEfGh/qr")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))
}

func TestMemoryGame(t *testing.T) {
	a := newTestApp(t)
	conn := dialGame(t, a, "table1")

	info := readUntil(t, conn, "session_info")
	assert.Equal(t, "table1", info["game_id"])
	assert.Equal(t, false, info["started"])
	assert.Equal(t, []any{"ice_deliverer", "colne_icol", "mixed"}, info["sources"])

	require.NoError(t, conn.WriteJSON(MemoryClientMessage{
		Type:        "start_game",
		PairCount:   8,
		Mode:        "versus",
		ImageSource: "ice_deliverer",
	}))

	board := readUntil(t, conn, "board")
	assert.Equal(t, "grid-4x4", board["grid"])
	states := cardStates(board)
	require.Len(t, states, 16)
	for _, s := range states {
		assert.Equal(t, "hidden", s)
	}

	stats := readUntil(t, conn, "stats")
	assert.EqualValues(t, 8, stats["remaining_pairs"])
	assert.EqualValues(t, 1, stats["current_player"])

	flip := func(pos int) {
		require.NoError(t, conn.WriteJSON(MemoryClientMessage{Type: "flip", Position: &pos}))
	}

	flip(0)
	board = readUntil(t, conn, "board")
	assert.Equal(t, "revealed", cardStates(board)[0])

	// The same card again is refused.
	flip(0)
	skip := readUntil(t, conn, "turn_result")
	assert.Equal(t, "skip", skip["result"])

	flip(1)
	result := readUntil(t, conn, "turn_result")
	assert.Contains(t, []any{"match", "mismatch"}, result["result"])
	assert.Equal(t, []any{0.0, 1.0}, result["positions"])

	stats = readUntil(t, conn, "stats")
	assert.EqualValues(t, 2, stats["flip_count"])

	rec := a.get(t, "/metrics")
	assert.Contains(t, rec.Body.String(), `gamebox_games_started_total{kind="memory"} 1`)
	assert.Contains(t, rec.Body.String(), "gamebox_memory_flips_total 2")
	assert.Contains(t, rec.Body.String(), "gamebox_memory_hubs_active 1")

	require.NoError(t, conn.WriteJSON(MemoryClientMessage{Type: "new_game"}))
	info = readUntil(t, conn, "session_info")
	assert.Equal(t, false, info["started"])
}

func TestMemoryGame_LateJoinerSeesBoard(t *testing.T) {
	a := newTestApp(t)
	first := dialGame(t, a, "shared")
	readUntil(t, first, "session_info")

	require.NoError(t, first.WriteJSON(MemoryClientMessage{Type: "start_game", PairCount: 8}))
	readUntil(t, first, "board")

	second := dialGame(t, a, "shared")
	info := readUntil(t, second, "session_info")
	assert.Equal(t, true, info["started"])

	board := readUntil(t, second, "board")
	assert.Len(t, cardStates(board), 16)
}

func TestMemoryGame_InsufficientImages(t *testing.T) {
	a := newTestApp(t)
	conn := dialGame(t, a, "tiny")
	readUntil(t, conn, "session_info")

	require.NoError(t, conn.WriteJSON(MemoryClientMessage{
		Type:        "start_game",
		PairCount:   8,
		ImageSource: "colne_icol",
	}))

	msg := readUntil(t, conn, "error")
	assert.Equal(t, "insufficient_images", msg["code"])
}

func TestMemoryGame_BadRequests(t *testing.T) {
	a := newTestApp(t)
	conn := dialGame(t, a, "bad")
	readUntil(t, conn, "session_info")

	require.NoError(t, conn.WriteJSON(MemoryClientMessage{Type: "start_game", PairCount: 7}))
	msg := readUntil(t, conn, "error")
	assert.Equal(t, "invalid_pair_count", msg["code"])

	require.NoError(t, conn.WriteJSON(MemoryClientMessage{Type: "start_game", Mode: "teams"}))
	msg = readUntil(t, conn, "error")
	assert.Equal(t, "invalid_mode", msg["code"])

	require.NoError(t, conn.WriteJSON(MemoryClientMessage{Type: "start_game", ImageSource: "nowhere"}))
	msg = readUntil(t, conn, "error")
	assert.Equal(t, "image_source", msg["code"])
}

func TestGameManager_Reap(t *testing.T) {
	a := newTestApp(t)
	gm := a.server.games

	hub := gm.getHub("idle")
	assert.Same(t, hub, gm.getHub("idle"))

	assert.Equal(t, 0, gm.reap(time.Now().Add(-time.Minute)))
	assert.Equal(t, 1, gm.reap(time.Now().Add(time.Minute)))

	select {
	case <-hub.done:
	case <-time.After(5 * time.Second):
		t.Fatal("hub did not stop")
	}

	assert.NotSame(t, hub, gm.getHub("idle"))
}

func TestHub_ScheduleCancel(t *testing.T) {
	a := newTestApp(t)
	hub := a.server.games.getHub("sched")

	ran := make(chan struct{}, 1)
	cancel := hub.Schedule(10*time.Millisecond, func() { ran <- struct{}{} })
	cancel()

	hub.Schedule(10*time.Millisecond, func() { ran <- struct{}{} })

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled task did not run")
	}

	select {
	case <-ran:
		t.Fatal("cancelled task ran")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_IgnoresDroppedClient(t *testing.T) {
	a := newTestApp(t)
	hub := a.server.games.getHub("slow")

	// No buffer and no reader, so the first send drops the client.
	slow := &Client{send: make(chan any)}
	hub.register <- slow

	select {
	case _, ok := <-slow.send:
		require.False(t, ok, "send channel should be closed")
	case <-time.After(5 * time.Second):
		t.Fatal("client was not dropped")
	}

	pos := 0
	for _, msg := range []MemoryClientMessage{
		{Type: "start_game", PairCount: 7},
		{Type: "flip", Position: &pos},
		{Type: "new_game"},
	} {
		select {
		case hub.events <- clientEvent{client: slow, msg: msg}:
		case <-time.After(5 * time.Second):
			t.Fatalf("hub stopped taking events at %q", msg.Type)
		}
	}

	ran := make(chan struct{})
	hub.post(func() { close(ran) })

	select {
	case <-ran:
	case <-hub.done:
		t.Fatal("hub stopped")
	case <-time.After(5 * time.Second):
		t.Fatal("hub is not serving")
	}
}
