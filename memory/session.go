/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package memory

import (
	"errors"
	"fmt"
	"time"
)

const (
	// MatchPoints is awarded to the current player for each pair found.
	MatchPoints = 10

	// DefaultResolveDelay is how long two flipped cards stay face up
	// before they are compared.
	DefaultResolveDelay = time.Second
)

var (
	ErrInvalidMode    = errors.New("invalid game mode")
	ErrInvalidBoard   = errors.New("invalid board")
	ErrNoScheduler    = errors.New("no scheduler")
	ErrNotCompleted   = errors.New("game not completed")
	ErrNoWinnerInSolo = errors.New("single-player games have no winner")
)

type Mode string

const (
	ModeSingle Mode = "single"
	ModeVersus Mode = "versus"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeSingle:
		return ModeSingle, nil
	case ModeVersus:
		return ModeVersus, nil
	}

	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseOneFlipped
	PhaseResolving
	PhaseCompleted
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseOneFlipped:
		return "one_flipped"
	case PhaseResolving:
		return "resolving"
	case PhaseCompleted:
		return "completed"
	}

	return fmt.Sprintf("phase(%d)", int(p))
}

type Player struct {
	Score      int `json:"score"`
	PairsFound int `json:"pairs_found"`
}

// Scheduler runs deferred work on the same event loop that calls into
// the Session. The returned func cancels fn if it has not started.
type Scheduler interface {
	Schedule(d time.Duration, fn func()) (cancel func())
}

type Options struct {
	Mode         Mode
	ResolveDelay time.Duration
	Scheduler    Scheduler

	// Notify receives BoardMessage, TurnResultMessage, StatsMessage and
	// GameOverMessage values as the game changes. May be nil.
	Notify func(msg any)

	// Now defaults to time.Now.
	Now func() time.Time
}

// Session is a single memory-flip game. It is not safe for concurrent
// use: every method, and every task handed to the Scheduler, must run on
// one event loop.
type Session struct {
	board     Board
	faceUp    []bool
	flipped   []int
	resolving bool
	completed bool
	closed    bool

	mode      Mode
	players   map[int]*Player
	current   int
	flipCount int
	matched   int
	pairCount int

	paused     bool
	startedAt  time.Time
	pausedAt   time.Time
	pausedFor  time.Duration
	finishedAt time.Time

	delay         time.Duration
	sched         Scheduler
	notify        func(msg any)
	now           func() time.Time
	cancelResolve func()
}

func NewSession(board Board, opts Options) (*Session, error) {
	if len(board) == 0 || len(board)%2 != 0 {
		return nil, fmt.Errorf("%w: %d cards", ErrInvalidBoard, len(board))
	}

	counts := make(map[int]int, len(board)/2)
	for _, c := range board {
		counts[c.PairID]++
	}
	for id, n := range counts {
		if n != 2 {
			return nil, fmt.Errorf("%w: pair %d appears %d times", ErrInvalidBoard, id, n)
		}
	}

	mode, err := ParseMode(string(opts.Mode))
	if err != nil {
		return nil, err
	}

	if opts.Scheduler == nil {
		return nil, ErrNoScheduler
	}

	s := &Session{
		board:     make(Board, len(board)),
		faceUp:    make([]bool, len(board)),
		flipped:   make([]int, 0, 2),
		mode:      mode,
		players:   map[int]*Player{1: {}},
		current:   1,
		pairCount: len(board) / 2,
		delay:     opts.ResolveDelay,
		sched:     opts.Scheduler,
		notify:    opts.Notify,
		now:       opts.Now,
	}
	copy(s.board, board)

	if mode == ModeVersus {
		s.players[2] = &Player{}
	}
	if s.delay <= 0 {
		s.delay = DefaultResolveDelay
	}
	if s.notify == nil {
		s.notify = func(any) {}
	}
	if s.now == nil {
		s.now = time.Now
	}

	s.startedAt = s.now()

	return s, nil
}

func (s *Session) Phase() Phase {
	switch {
	case s.completed:
		return PhaseCompleted
	case s.resolving:
		return PhaseResolving
	case len(s.flipped) == 1:
		return PhaseOneFlipped
	default:
		return PhaseIdle
	}
}

func (s *Session) Mode() Mode         { return s.mode }
func (s *Session) PairCount() int     { return s.pairCount }
func (s *Session) FlipCount() int     { return s.flipCount }
func (s *Session) MatchedPairs() int  { return s.matched }
func (s *Session) CurrentPlayer() int { return s.current }
func (s *Session) Paused() bool       { return s.paused }
func (s *Session) Completed() bool    { return s.completed }
func (s *Session) Flipped() []int     { return append([]int(nil), s.flipped...) }
func (s *Session) Len() int           { return len(s.board) }

// Card returns the card at pos, or false when pos is off the board.
func (s *Session) Card(pos int) (Card, bool) {
	if pos < 0 || pos >= len(s.board) {
		return Card{}, false
	}

	return s.board[pos], true
}

// FaceUp reports whether the card at pos is showing. Positions off the
// board are never face up.
func (s *Session) FaceUp(pos int) bool {
	if pos < 0 || pos >= len(s.faceUp) {
		return false
	}

	return s.faceUp[pos]
}

// Player returns a copy of the player's state.
func (s *Session) Player(id int) (Player, bool) {
	p, ok := s.players[id]
	if !ok {
		return Player{}, false
	}

	return *p, true
}

// Flip turns the card at pos face up. Flips that are not allowed right
// now are ignored and report false: while resolving, paused, completed
// or closed, and for out-of-range, matched or already flipped cards.
func (s *Session) Flip(pos int) bool {
	if s.closed || s.completed || s.paused || s.resolving {
		return false
	}
	if pos < 0 || pos >= len(s.board) || s.board[pos].Matched || s.faceUp[pos] {
		return false
	}
	if len(s.flipped) >= 2 {
		return false
	}

	s.faceUp[pos] = true
	s.flipped = append(s.flipped, pos)
	s.flipCount++

	if len(s.flipped) == 2 {
		s.resolving = true
		s.cancelResolve = s.sched.Schedule(s.delay, s.resolve)
	}

	s.notify(s.boardMessage())
	s.notify(s.statsMessage())

	return true
}

func (s *Session) resolve() {
	if s.closed || !s.resolving || len(s.flipped) != 2 {
		return
	}
	s.cancelResolve = nil

	a, b := s.flipped[0], s.flipped[1]
	player := s.current
	result := ResultMismatch

	if s.board[a].PairID == s.board[b].PairID {
		s.board[a].Matched = true
		s.board[b].Matched = true

		p := s.players[s.current]
		p.PairsFound++
		p.Score += MatchPoints
		s.matched++

		result = ResultMatch
	} else if s.mode == ModeVersus {
		s.current = 3 - s.current
	}

	s.faceUp[a] = false
	s.faceUp[b] = false
	s.flipped = s.flipped[:0]
	s.resolving = false

	if s.matched == s.pairCount {
		s.complete()
	}

	s.notify(TurnResultMessage{
		Type:      "turn_result",
		Result:    result,
		Positions: []int{a, b},
		Player:    player,
	})
	s.notify(s.boardMessage())
	s.notify(s.statsMessage())

	if s.completed {
		s.notify(GameOverMessage{
			Type:    "game_over",
			Summary: s.Summary(),
		})
	}
}

func (s *Session) complete() {
	s.completed = true
	s.finishedAt = s.now()

	// A resolution may fire while paused; settle the pause so the final
	// time stays fixed.
	if s.paused {
		s.pausedFor += s.finishedAt.Sub(s.pausedAt)
		s.paused = false
	}
}

// Pause freezes the game clock and rejects flips until Resume. It does
// not cancel a resolution that is already scheduled.
func (s *Session) Pause() bool {
	if s.closed || s.completed || s.paused {
		return false
	}

	s.paused = true
	s.pausedAt = s.now()
	s.notify(s.statsMessage())

	return true
}

func (s *Session) Resume() bool {
	if s.closed || !s.paused {
		return false
	}

	s.pausedFor += s.now().Sub(s.pausedAt)
	s.paused = false
	s.notify(s.statsMessage())

	return true
}

func (s *Session) TogglePause() bool {
	if s.paused {
		return s.Resume()
	}

	return s.Pause()
}

// Elapsed is the play time so far, excluding time spent paused.
func (s *Session) Elapsed() time.Duration {
	end := s.now()
	if s.completed {
		end = s.finishedAt
	}
	if s.paused {
		end = s.pausedAt
	}

	return end.Sub(s.startedAt) - s.pausedFor
}

// Tick publishes the current stats; the display stays frozen while the
// game is paused or over.
func (s *Session) Tick() {
	if s.closed || s.paused || s.completed {
		return
	}

	s.notify(s.statsMessage())
}

// Render publishes the full board and stats, for new viewers.
func (s *Session) Render() {
	s.notify(s.boardMessage())
	s.notify(s.statsMessage())

	if s.completed {
		s.notify(GameOverMessage{
			Type:    "game_over",
			Summary: s.Summary(),
		})
	}
}

// Close cancels any pending resolution. The session ignores all further
// input.
func (s *Session) Close() {
	if s.closed {
		return
	}

	s.closed = true
	if s.cancelResolve != nil {
		s.cancelResolve()
		s.cancelResolve = nil
	}
}

// Outcome reports the winner of a finished versus game; draw is true on
// equal scores.
func (s *Session) Outcome() (winner int, draw bool, err error) {
	if !s.completed {
		return 0, false, ErrNotCompleted
	}
	if s.mode != ModeVersus {
		return 0, false, ErrNoWinnerInSolo
	}

	one, two := s.players[1].Score, s.players[2].Score
	switch {
	case one > two:
		return 1, false, nil
	case two > one:
		return 2, false, nil
	}

	return 0, true, nil
}

func (s *Session) Summary() Summary {
	sum := Summary{
		Mode:      s.mode,
		PairCount: s.pairCount,
		FlipCount: s.flipCount,
		Elapsed:   formatElapsed(s.Elapsed()),
		Players:   make(map[int]Player, len(s.players)),
	}
	for id, p := range s.players {
		sum.Players[id] = *p
	}

	if winner, draw, err := s.Outcome(); err == nil {
		sum.Winner = winner
		sum.Draw = draw
	}

	return sum
}

func (s *Session) Stats() Stats {
	return Stats{
		Score:          s.players[s.current].Score,
		FlipCount:      s.flipCount,
		RemainingPairs: s.pairCount - s.matched,
		CurrentPlayer:  s.current,
		Elapsed:        formatElapsed(s.Elapsed()),
		Paused:         s.paused,
		Players:        s.playersCopy(),
	}
}

func (s *Session) playersCopy() map[int]Player {
	out := make(map[int]Player, len(s.players))
	for id, p := range s.players {
		out[id] = *p
	}

	return out
}

func (s *Session) boardMessage() BoardMessage {
	cards := make([]CardView, len(s.board))
	for i, c := range s.board {
		cv := CardView{
			Index: i,
			State: CardHidden,
		}
		switch {
		case c.Matched:
			cv.State = CardMatched
		case s.faceUp[i]:
			cv.State = CardRevealed
		}
		if cv.State != CardHidden {
			id := c.PairID
			cv.PairID = &id
			cv.Image = c.Image.URL
			cv.Filename = c.Image.Filename
		}
		cards[i] = cv
	}

	return BoardMessage{
		Type:  "board",
		Cards: cards,
		Grid:  GridClass(len(s.board)),
	}
}

func (s *Session) statsMessage() StatsMessage {
	return StatsMessage{
		Type:  "stats",
		Stats: s.Stats(),
	}
}

// formatElapsed renders d as MM:SS.
func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int(d / time.Second)

	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}
