/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package memory

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Seednode/gamebox/images"
)

type task struct {
	delay     time.Duration
	fn        func()
	cancelled bool
}

// manualScheduler holds tasks until the test runs them.
type manualScheduler struct {
	tasks []*task
}

func (m *manualScheduler) Schedule(d time.Duration, fn func()) func() {
	t := &task{delay: d, fn: fn}
	m.tasks = append(m.tasks, t)

	return func() { t.cancelled = true }
}

func (m *manualScheduler) runPending() int {
	pending := m.tasks
	m.tasks = nil

	ran := 0
	for _, t := range pending {
		if t.cancelled {
			continue
		}
		t.fn()
		ran++
	}

	return ran
}

func pool(n int) []images.Descriptor {
	out := make([]images.Descriptor, n)
	for i := range out {
		out[i] = images.Descriptor{
			URL:      fmt.Sprintf("https://example.com/%d.jpg", i),
			Filename: fmt.Sprintf("%d.jpg", i),
		}
	}

	return out
}

func seeded(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type harness struct {
	session *Session
	sched   *manualScheduler
	clock   *fakeClock
	msgs    []any
}

func newHarness(t *testing.T, pairCount int, mode Mode) *harness {
	t.Helper()

	board, err := BuildDeck(pool(pairCount+4), pairCount, seeded(42))
	require.NoError(t, err)

	h := &harness{
		sched: &manualScheduler{},
		clock: &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)},
	}

	h.session, err = NewSession(board, Options{
		Mode:      mode,
		Scheduler: h.sched,
		Notify:    func(msg any) { h.msgs = append(h.msgs, msg) },
		Now:       h.clock.now,
	})
	require.NoError(t, err)

	return h
}

// pairPositions returns two positions holding the same pair and one
// position holding a different pair.
func (h *harness) pairPositions() (a, b, other int) {
	s := h.session
	a, b, other = -1, -1, -1

	for i := 0; i < s.Len(); i++ {
		if h.card(i).Matched {
			continue
		}
		if a == -1 {
			a = i
			continue
		}
		if b == -1 && h.card(i).PairID == h.card(a).PairID {
			b = i
			continue
		}
		if other == -1 && h.card(i).PairID != h.card(a).PairID {
			other = i
		}
	}

	return a, b, other
}

func (h *harness) card(pos int) Card {
	c, ok := h.session.Card(pos)
	if !ok {
		panic("card position off the board")
	}

	return c
}

func (h *harness) matchNext(t *testing.T) {
	t.Helper()

	a, b, _ := h.pairPositions()
	require.True(t, h.session.Flip(a))
	require.True(t, h.session.Flip(b))
	require.Equal(t, 1, h.sched.runPending())
}

func (h *harness) lastTurnResult(t *testing.T) TurnResultMessage {
	t.Helper()

	for i := len(h.msgs) - 1; i >= 0; i-- {
		if m, ok := h.msgs[i].(TurnResultMessage); ok {
			return m
		}
	}
	t.Fatal("no turn_result message")

	return TurnResultMessage{}
}

func TestBuildDeck_PairsAppearTwice(t *testing.T) {
	for _, pairCount := range []int{1, 8, 12, 18, 24} {
		board, err := BuildDeck(pool(30), pairCount, seeded(uint64(pairCount)))
		require.NoError(t, err)
		require.Len(t, board, 2*pairCount)

		counts := make(map[int]int)
		urls := make(map[int]string)
		for _, c := range board {
			counts[c.PairID]++
			assert.False(t, c.Matched)
			if u, ok := urls[c.PairID]; ok {
				assert.Equal(t, u, c.Image.URL)
			}
			urls[c.PairID] = c.Image.URL
		}

		assert.Len(t, counts, pairCount)
		for id, n := range counts {
			assert.Equal(t, 2, n, "pair %d", id)
		}

		distinct := make(map[string]bool)
		for _, u := range urls {
			distinct[u] = true
		}
		assert.Len(t, distinct, pairCount)
	}
}

func TestBuildDeck_Reproducible(t *testing.T) {
	a, err := BuildDeck(pool(20), 8, seeded(7))
	require.NoError(t, err)
	b, err := BuildDeck(pool(20), 8, seeded(7))
	require.NoError(t, err)
	c, err := BuildDeck(pool(20), 8, seeded(8))
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestBuildDeck_DoesNotModifyPool(t *testing.T) {
	p := pool(10)
	orig := append([]images.Descriptor(nil), p...)

	_, err := BuildDeck(p, 5, seeded(1))
	require.NoError(t, err)
	assert.Equal(t, orig, p)
}

func TestBuildDeck_InsufficientImages(t *testing.T) {
	_, err := BuildDeck(pool(6), 10, seeded(1))
	assert.ErrorIs(t, err, ErrInsufficientImages)
}

func TestBuildDeck_InvalidPairCount(t *testing.T) {
	_, err := BuildDeck(pool(6), 0, nil)
	assert.ErrorIs(t, err, ErrInvalidPairCount)
}

func TestGridClass(t *testing.T) {
	assert.Equal(t, "grid-4x4", GridClass(16))
	assert.Equal(t, "grid-4x6", GridClass(24))
	assert.Equal(t, "grid-6x6", GridClass(36))
	assert.Equal(t, "grid-6x8", GridClass(48))
}

func TestNewSession_Validation(t *testing.T) {
	sched := &manualScheduler{}

	_, err := NewSession(nil, Options{Scheduler: sched})
	assert.ErrorIs(t, err, ErrInvalidBoard)

	_, err = NewSession(Board{{PairID: 0}, {PairID: 1}}, Options{Scheduler: sched})
	assert.ErrorIs(t, err, ErrInvalidBoard)

	_, err = NewSession(Board{{PairID: 0}, {PairID: 0}}, Options{Mode: "coop", Scheduler: sched})
	assert.ErrorIs(t, err, ErrInvalidMode)

	_, err = NewSession(Board{{PairID: 0}, {PairID: 0}}, Options{})
	assert.ErrorIs(t, err, ErrNoScheduler)
}

func TestFlip_PhaseTransitions(t *testing.T) {
	h := newHarness(t, 8, ModeSingle)
	s := h.session
	a, _, other := h.pairPositions()

	assert.Equal(t, PhaseIdle, s.Phase())
	require.True(t, s.Flip(a))
	assert.Equal(t, PhaseOneFlipped, s.Phase())
	require.True(t, s.Flip(other))
	assert.Equal(t, PhaseResolving, s.Phase())
	require.Len(t, h.sched.tasks, 1)
	assert.Equal(t, DefaultResolveDelay, h.sched.tasks[0].delay)

	h.sched.runPending()
	assert.Equal(t, PhaseIdle, s.Phase())
	assert.Empty(t, s.Flipped())
}

func TestFlip_MatchSinglePlayer(t *testing.T) {
	h := newHarness(t, 8, ModeSingle)
	s := h.session
	a, b, _ := h.pairPositions()

	require.True(t, s.Flip(a))
	require.True(t, s.Flip(b))
	h.sched.runPending()

	assert.Equal(t, 1, s.MatchedPairs())
	p, _ := s.Player(1)
	assert.Equal(t, 10, p.Score)
	assert.Equal(t, 1, p.PairsFound)
	assert.Equal(t, 1, s.CurrentPlayer())
	assert.True(t, h.card(a).Matched)
	assert.True(t, h.card(b).Matched)

	res := h.lastTurnResult(t)
	assert.Equal(t, ResultMatch, res.Result)
	assert.Equal(t, []int{a, b}, res.Positions)
}

func TestFlip_MatchKeepsTurnInVersus(t *testing.T) {
	h := newHarness(t, 8, ModeVersus)

	h.matchNext(t)

	assert.Equal(t, 1, h.session.CurrentPlayer())
	p1, _ := h.session.Player(1)
	p2, _ := h.session.Player(2)
	assert.Equal(t, 10, p1.Score)
	assert.Equal(t, 0, p2.Score)
}

func TestFlip_MismatchVersusSwitchesPlayer(t *testing.T) {
	h := newHarness(t, 8, ModeVersus)
	s := h.session
	a, _, other := h.pairPositions()

	require.True(t, s.Flip(a))
	require.True(t, s.Flip(other))
	h.sched.runPending()

	assert.False(t, s.FaceUp(a))
	assert.False(t, s.FaceUp(other))
	assert.Equal(t, 2, s.CurrentPlayer())
	p1, _ := s.Player(1)
	p2, _ := s.Player(2)
	assert.Zero(t, p1.Score)
	assert.Zero(t, p2.Score)
	assert.Equal(t, ResultMismatch, h.lastTurnResult(t).Result)

	// And back again.
	require.True(t, s.Flip(a))
	require.True(t, s.Flip(other))
	h.sched.runPending()
	assert.Equal(t, 1, s.CurrentPlayer())
}

func TestFlip_MismatchSingleKeepsPlayer(t *testing.T) {
	h := newHarness(t, 8, ModeSingle)
	a, _, other := h.pairPositions()

	require.True(t, h.session.Flip(a))
	require.True(t, h.session.Flip(other))
	h.sched.runPending()

	assert.Equal(t, 1, h.session.CurrentPlayer())
	_, ok := h.session.Player(2)
	assert.False(t, ok)
}

func TestFlip_GuardsAreNoOps(t *testing.T) {
	h := newHarness(t, 8, ModeSingle)
	s := h.session
	a, b, other := h.pairPositions()

	assert.False(t, s.Flip(-1))
	assert.False(t, s.Flip(s.Len()))

	require.True(t, s.Flip(a))
	assert.False(t, s.Flip(a), "already flipped")
	assert.Equal(t, 1, s.FlipCount())

	require.True(t, s.Flip(b))
	assert.False(t, s.Flip(other), "resolving")
	assert.Equal(t, 2, s.FlipCount())
	assert.Equal(t, PhaseResolving, s.Phase())

	h.sched.runPending()

	before := s.Stats()
	assert.False(t, s.Flip(a), "already matched")
	assert.False(t, s.Flip(b), "already matched")
	assert.Equal(t, before, s.Stats())
	assert.Equal(t, PhaseIdle, s.Phase())
}

func TestFlip_CountEqualsAcceptedFlips(t *testing.T) {
	h := newHarness(t, 8, ModeVersus)
	s := h.session
	rng := seeded(99)

	accepted := 0
	for range 500 {
		if s.Flip(rng.IntN(s.Len()+2) - 1) {
			accepted++
		}
		if rng.IntN(3) == 0 {
			h.sched.runPending()
		}
		assert.Equal(t, accepted, s.FlipCount())
		assert.LessOrEqual(t, len(s.Flipped()), 2)
		assert.Equal(t, s.MatchedPairs() == s.PairCount(), s.Phase() == PhaseCompleted)
	}
}

func TestCompletion(t *testing.T) {
	h := newHarness(t, 8, ModeSingle)
	s := h.session

	for i := 0; i < 8; i++ {
		assert.False(t, s.Completed())
		h.matchNext(t)
	}

	assert.True(t, s.Completed())
	assert.Equal(t, PhaseCompleted, s.Phase())
	assert.Equal(t, 8, s.MatchedPairs())

	flips := s.FlipCount()
	for i := 0; i < s.Len(); i++ {
		assert.False(t, s.Flip(i))
	}
	assert.Equal(t, flips, s.FlipCount())

	over, ok := h.msgs[len(h.msgs)-1].(GameOverMessage)
	require.True(t, ok)
	assert.Equal(t, 8, over.Summary.PairCount)
	assert.Equal(t, 16, over.Summary.FlipCount)
	assert.Equal(t, 80, over.Summary.Players[1].Score)
	assert.Zero(t, over.Summary.Winner)

	_, _, err := s.Outcome()
	assert.ErrorIs(t, err, ErrNoWinnerInSolo)
}

func TestOutcome_Versus(t *testing.T) {
	t.Run("not completed", func(t *testing.T) {
		h := newHarness(t, 2, ModeVersus)
		_, _, err := h.session.Outcome()
		assert.ErrorIs(t, err, ErrNotCompleted)
	})

	t.Run("player two wins", func(t *testing.T) {
		h := newHarness(t, 3, ModeVersus)
		s := h.session

		a, _, other := h.pairPositions()
		require.True(t, s.Flip(a))
		require.True(t, s.Flip(other))
		h.sched.runPending()
		require.Equal(t, 2, s.CurrentPlayer())

		for !s.Completed() {
			h.matchNext(t)
		}

		winner, draw, err := s.Outcome()
		require.NoError(t, err)
		assert.Equal(t, 2, winner)
		assert.False(t, draw)
		assert.Equal(t, 2, s.Summary().Winner)
	})
}

func TestOutcome_Draw(t *testing.T) {
	board := Board{
		{PairID: 0}, {PairID: 1}, {PairID: 0}, {PairID: 1},
		{PairID: 2}, {PairID: 3}, {PairID: 2}, {PairID: 3},
	}
	sched := &manualScheduler{}
	s, err := NewSession(board, Options{Mode: ModeVersus, Scheduler: sched})
	require.NoError(t, err)

	flipPair := func(a, b int) {
		t.Helper()
		require.True(t, s.Flip(a))
		require.True(t, s.Flip(b))
		require.Equal(t, 1, sched.runPending())
	}

	flipPair(0, 2) // player 1 matches
	flipPair(1, 3) // player 1 matches
	flipPair(4, 5) // player 1 misses
	require.Equal(t, 2, s.CurrentPlayer())
	flipPair(4, 6) // player 2 matches
	flipPair(5, 7) // player 2 matches

	require.True(t, s.Completed())

	winner, draw, err := s.Outcome()
	require.NoError(t, err)
	assert.Zero(t, winner)
	assert.True(t, draw)

	sum := s.Summary()
	assert.True(t, sum.Draw)
	assert.Equal(t, 20, sum.Players[1].Score)
	assert.Equal(t, 20, sum.Players[2].Score)
}

func TestPause(t *testing.T) {
	h := newHarness(t, 8, ModeSingle)
	s := h.session
	a, _, other := h.pairPositions()

	h.clock.advance(10 * time.Second)
	require.True(t, s.Pause())
	assert.False(t, s.Pause())
	assert.True(t, s.Paused())

	assert.False(t, s.Flip(a))
	assert.Zero(t, s.FlipCount())

	h.clock.advance(time.Minute)
	assert.Equal(t, 10*time.Second, s.Elapsed())
	assert.Equal(t, "00:10", s.Stats().Elapsed)

	require.True(t, s.Resume())
	assert.False(t, s.Resume())
	h.clock.advance(5 * time.Second)
	assert.Equal(t, 15*time.Second, s.Elapsed())

	require.True(t, s.Flip(a))
	require.True(t, s.TogglePause())
	assert.True(t, s.Paused())
	require.True(t, s.TogglePause())
	assert.False(t, s.Paused())

	require.True(t, s.Flip(other))
	assert.Equal(t, PhaseResolving, s.Phase())
}

func TestPause_DoesNotCancelResolution(t *testing.T) {
	h := newHarness(t, 8, ModeSingle)
	s := h.session
	a, b, _ := h.pairPositions()

	require.True(t, s.Flip(a))
	require.True(t, s.Flip(b))
	require.True(t, s.Pause())

	assert.Equal(t, 1, h.sched.runPending())
	assert.Equal(t, 1, s.MatchedPairs())
	assert.True(t, s.Paused())
	assert.Equal(t, PhaseIdle, s.Phase())
}

func TestPause_CompletionWhilePausedFreezesClock(t *testing.T) {
	h := newHarness(t, 1, ModeSingle)
	s := h.session

	require.True(t, s.Flip(0))
	require.True(t, s.Flip(1))
	h.clock.advance(3 * time.Second)
	require.True(t, s.Pause())
	h.clock.advance(time.Hour)
	h.sched.runPending()

	require.True(t, s.Completed())
	assert.False(t, s.Paused())
	assert.Equal(t, 3*time.Second, s.Elapsed())

	h.clock.advance(time.Hour)
	assert.Equal(t, 3*time.Second, s.Elapsed())
	assert.False(t, s.Pause())
}

func TestClose_CancelsPendingResolution(t *testing.T) {
	h := newHarness(t, 8, ModeSingle)
	s := h.session
	a, b, _ := h.pairPositions()

	require.True(t, s.Flip(a))
	require.True(t, s.Flip(b))
	s.Close()

	assert.Zero(t, h.sched.runPending())
	assert.Zero(t, s.MatchedPairs())
	assert.False(t, s.Flip(0))
}

func TestClose_StaleTaskIsIgnored(t *testing.T) {
	h := newHarness(t, 8, ModeSingle)
	s := h.session
	a, b, _ := h.pairPositions()

	require.True(t, s.Flip(a))
	require.True(t, s.Flip(b))

	// The timer already fired and queued its callback before Close ran.
	fn := h.sched.tasks[0].fn
	s.Close()
	fn()

	assert.Zero(t, s.MatchedPairs())
}

func TestTick(t *testing.T) {
	h := newHarness(t, 8, ModeSingle)
	s := h.session

	s.Tick()
	require.Len(t, h.msgs, 1)
	stats, ok := h.msgs[0].(StatsMessage)
	require.True(t, ok)
	assert.Equal(t, "stats", stats.Type)
	assert.Equal(t, 8, stats.RemainingPairs)

	s.Pause()
	n := len(h.msgs)
	s.Tick()
	assert.Len(t, h.msgs, n)
}

func TestBoardMessage_HidesUnrevealedCards(t *testing.T) {
	h := newHarness(t, 8, ModeSingle)
	s := h.session
	a, _, _ := h.pairPositions()

	require.True(t, s.Flip(a))

	var board BoardMessage
	for _, m := range h.msgs {
		if bm, ok := m.(BoardMessage); ok {
			board = bm
		}
	}
	require.Len(t, board.Cards, 16)
	assert.Equal(t, "grid-4x4", board.Grid)

	for i, c := range board.Cards {
		if i == a {
			assert.Equal(t, CardRevealed, c.State)
			require.NotNil(t, c.PairID)
			assert.Equal(t, h.card(a).PairID, *c.PairID)
			assert.Equal(t, h.card(a).Image.URL, c.Image)
			continue
		}
		assert.Equal(t, CardHidden, c.State)
		assert.Nil(t, c.PairID)
		assert.Empty(t, c.Image)
	}
}

func TestCard_OffBoard(t *testing.T) {
	h := newHarness(t, 8, ModeSingle)
	s := h.session

	for _, pos := range []int{-1, s.Len(), s.Len() + 10} {
		_, ok := s.Card(pos)
		assert.False(t, ok, "position %d", pos)
		assert.False(t, s.FaceUp(pos), "position %d", pos)
		assert.False(t, s.Flip(pos), "position %d", pos)
	}

	c, ok := s.Card(0)
	require.True(t, ok)
	assert.False(t, c.Matched)
}

func TestSkipMessage(t *testing.T) {
	m := SkipMessage(3, 2)
	assert.Equal(t, ResultSkip, m.Result)
	assert.Equal(t, []int{3}, m.Positions)
	assert.Equal(t, 2, m.Player)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeSingle, m)

	m, err = ParseMode("versus")
	require.NoError(t, err)
	assert.Equal(t, ModeVersus, m)

	_, err = ParseMode("coop")
	assert.ErrorIs(t, err, ErrInvalidMode)
}
