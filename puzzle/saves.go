/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package puzzle

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/Seednode/gamebox/storage"
)

const (
	// StorageKey holds the JSON array of saved games.
	StorageKey = "puzzleGames"

	// MaxSaved is how many saved games are kept; the oldest go first.
	MaxSaved = 5
)

var (
	ErrNotFound    = errors.New("saved game not found")
	ErrCorruptSave = errors.New("corrupt saved game")
)

// SavedState is the stored form of a game. Times are unix milliseconds.
type SavedState struct {
	ID         string     `json:"id"`
	Image      string     `json:"image"`
	Difficulty Difficulty `json:"difficulty"`
	GridSize   int        `json:"gridSize"`
	Pieces     []Piece    `json:"pieces"`
	StartTime  int64      `json:"startTime"`
	SavedAt    int64      `json:"savedAt"`
}

// Saves is the capped list of saved games in one store.
type Saves struct {
	store storage.Store
	now   func() time.Time
	log   *slog.Logger
}

func NewSaves(store storage.Store, now func() time.Time, log *slog.Logger) *Saves {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Saves{
		store: store,
		now:   now,
		log:   log,
	}
}

// read treats a missing or unreadable list as empty.
func (s *Saves) read(ctx context.Context) ([]SavedState, error) {
	data, err := s.store.Get(ctx, StorageKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, err
	}

	var saved []SavedState
	if err := json.Unmarshal(data, &saved); err != nil {
		s.log.Warn("discarding malformed saved games", "err", err)
		return nil, nil
	}

	return saved, nil
}

func (s *Saves) write(ctx context.Context, saved []SavedState) error {
	if saved == nil {
		saved = []SavedState{}
	}

	data, err := json.Marshal(saved)
	if err != nil {
		return err
	}

	return s.store.Set(ctx, StorageKey, data)
}

func sortNewestFirst(saved []SavedState) {
	slices.SortStableFunc(saved, func(a, b SavedState) int {
		return cmp.Compare(b.SavedAt, a.SavedAt)
	})
}

// Save stores g, replacing any earlier save with the same ID, then
// evicts the oldest saves beyond MaxSaved.
func (s *Saves) Save(ctx context.Context, g *Game) (string, error) {
	saved, err := s.read(ctx)
	if err != nil {
		return "", err
	}

	state := SavedState{
		ID:         g.ID,
		Image:      g.Image,
		Difficulty: g.Difficulty,
		GridSize:   g.GridSize,
		Pieces:     slices.Clone(g.Pieces),
		StartTime:  g.StartTime.UnixMilli(),
		SavedAt:    s.now().UnixMilli(),
	}

	i := slices.IndexFunc(saved, func(e SavedState) bool { return e.ID == g.ID })
	if i >= 0 {
		saved[i] = state
	} else {
		saved = append(saved, state)
	}

	if len(saved) > MaxSaved {
		sortNewestFirst(saved)
		for _, evicted := range saved[MaxSaved:] {
			s.log.Debug("evicting saved game", "id", evicted.ID, "saved_at", evicted.SavedAt)
		}
		saved = saved[:MaxSaved]
	}

	if err := s.write(ctx, saved); err != nil {
		return "", err
	}

	return g.ID, nil
}

// List returns saved games, newest first.
func (s *Saves) List(ctx context.Context) ([]SavedState, error) {
	saved, err := s.read(ctx)
	if err != nil {
		return nil, err
	}

	sortNewestFirst(saved)

	return saved, nil
}

func (s *Saves) Load(ctx context.Context, id string) (SavedState, error) {
	saved, err := s.read(ctx)
	if err != nil {
		return SavedState{}, err
	}

	for _, e := range saved {
		if e.ID == id {
			return e, nil
		}
	}

	return SavedState{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Clear removes the save with id, if any.
func (s *Saves) Clear(ctx context.Context, id string) error {
	saved, err := s.read(ctx)
	if err != nil {
		return err
	}

	kept := slices.DeleteFunc(saved, func(e SavedState) bool { return e.ID == id })

	return s.write(ctx, kept)
}

// Restore rebuilds a game from a save. The piece arrangement must be a
// complete permutation of the grid.
func Restore(state SavedState) (*Game, error) {
	size, err := state.Difficulty.GridSize()
	if err != nil {
		// Older saves may only carry gridSize.
		size = state.GridSize
	}
	if size != state.GridSize || size < 1 {
		return nil, fmt.Errorf("%w: grid size %d", ErrCorruptSave, state.GridSize)
	}

	n := size * size
	if len(state.Pieces) != n {
		return nil, fmt.Errorf("%w: %d pieces for a %dx%d grid", ErrCorruptSave, len(state.Pieces), size, size)
	}

	pieces := make([]Piece, n)
	seenCorrect := make([]bool, n)
	seenCurrent := make([]bool, n)

	for _, p := range state.Pieces {
		if p.CorrectIndex < 0 || p.CorrectIndex >= n || p.CurrentIndex < 0 || p.CurrentIndex >= n {
			return nil, fmt.Errorf("%w: piece out of range", ErrCorruptSave)
		}
		if seenCorrect[p.CorrectIndex] || seenCurrent[p.CurrentIndex] {
			return nil, fmt.Errorf("%w: duplicate piece", ErrCorruptSave)
		}
		seenCorrect[p.CorrectIndex] = true
		seenCurrent[p.CurrentIndex] = true
		pieces[p.CorrectIndex] = p
	}

	if state.Image == "" {
		return nil, fmt.Errorf("%w: %w", ErrCorruptSave, ErrNoImage)
	}

	return &Game{
		ID:         state.ID,
		Image:      state.Image,
		Difficulty: state.Difficulty,
		GridSize:   size,
		StartTime:  time.UnixMilli(state.StartTime),
		Pieces:     pieces,
		selected:   -1,
	}, nil
}
