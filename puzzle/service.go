/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package puzzle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/Seednode/gamebox/storage"
)

var (
	ErrGameNotFound = errors.New("puzzle game not found")
	ErrSolved       = errors.New("puzzle already solved")
)

// View is a snapshot of a game for clients.
type View struct {
	ID         string     `json:"id"`
	Image      string     `json:"image"`
	Difficulty Difficulty `json:"difficulty"`
	GridSize   int        `json:"grid_size"`
	Layout     []int      `json:"layout"`
	Selected   int        `json:"selected"`
	Progress   int        `json:"progress"`
	Solved     bool       `json:"solved"`
	Elapsed    string     `json:"elapsed"`
}

type activeGame struct {
	game       *Game
	owner      string
	lastActive time.Time
}

// Service holds the games in progress and the per-player save lists.
// It is safe for concurrent use.
type Service struct {
	mu     sync.Mutex
	games  map[string]*activeGame
	store  storage.Store
	rng    *rand.Rand
	now    func() time.Time
	log    *slog.Logger
	solved func(g *Game)
}

type ServiceOptions struct {
	Rand *rand.Rand
	Now  func() time.Time
	Log  *slog.Logger

	// OnSolved is called, with the service lock held, when a game is
	// completed.
	OnSolved func(g *Game)
}

func NewService(store storage.Store, opts ServiceOptions) *Service {
	s := &Service{
		games:  make(map[string]*activeGame),
		store:  store,
		rng:    opts.Rand,
		now:    opts.Now,
		log:    opts.Log,
		solved: opts.OnSolved,
	}

	if s.rng == nil {
		s.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.log == nil {
		s.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if s.solved == nil {
		s.solved = func(*Game) {}
	}

	return s
}

// Saves returns the save list belonging to player.
func (s *Service) Saves(player string) *Saves {
	return NewSaves(storage.WithPrefix(s.store, player), s.now, s.log.With("player", player))
}

func (s *Service) view(g *Game) View {
	return View{
		ID:         g.ID,
		Image:      g.Image,
		Difficulty: g.Difficulty,
		GridSize:   g.GridSize,
		Layout:     g.Layout(),
		Selected:   g.Selected(),
		Progress:   g.Progress(),
		Solved:     g.Solved(),
		Elapsed:    formatElapsed(g.Elapsed(s.now())),
	}
}

// get must be called with s.mu held.
func (s *Service) get(player, id string) (*activeGame, error) {
	a, ok := s.games[id]
	if !ok || a.owner != player {
		return nil, fmt.Errorf("%w: %s", ErrGameNotFound, id)
	}
	a.lastActive = s.now()

	return a, nil
}

func (s *Service) New(player, image string, d Difficulty) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, err := NewGame(image, d, s.rng, s.now())
	if err != nil {
		return View{}, err
	}

	s.games[g.ID] = &activeGame{game: g, owner: player, lastActive: s.now()}
	s.log.Debug("started puzzle", "id", g.ID, "player", player, "difficulty", d)

	return s.view(g), nil
}

func (s *Service) Get(player, id string) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.get(player, id)
	if err != nil {
		return View{}, err
	}

	return s.view(a.game), nil
}

// Select applies a click. Solving the puzzle removes its save.
func (s *Service) Select(ctx context.Context, player, id string, position int) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.get(player, id)
	if err != nil {
		return View{}, err
	}

	if a.game.Solved() {
		return s.view(a.game), nil
	}

	swapped, err := a.game.Select(position)
	if err != nil {
		return View{}, err
	}

	if swapped && a.game.Solved() {
		s.solved(a.game)
		if err := s.Saves(player).Clear(ctx, id); err != nil {
			s.log.Warn("failed to clear saved puzzle", "id", id, "err", err)
		}
		s.log.Debug("solved puzzle", "id", id, "player", player)
	}

	return s.view(a.game), nil
}

// Save stores the game under the player. Solved games are not saved.
func (s *Service) Save(ctx context.Context, player, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.get(player, id)
	if err != nil {
		return "", err
	}
	if a.game.Solved() {
		return "", fmt.Errorf("%w: %s", ErrSolved, id)
	}

	return s.Saves(player).Save(ctx, a.game)
}

// Resume restores a saved game and makes it active again.
func (s *Service) Resume(ctx context.Context, player, id string) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.Saves(player).Load(ctx, id)
	if err != nil {
		return View{}, err
	}

	g, err := Restore(state)
	if err != nil {
		return View{}, err
	}

	s.games[g.ID] = &activeGame{game: g, owner: player, lastActive: s.now()}

	return s.view(g), nil
}

// Reap drops games idle since before cutoff and returns how many.
func (s *Service) Reap(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, a := range s.games {
		if a.lastActive.Before(cutoff) {
			delete(s.games, id)
			n++
		}
	}

	return n
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int(d / time.Second)

	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}
