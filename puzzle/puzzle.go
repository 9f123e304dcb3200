/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package puzzle implements the picture puzzle: an image cut into a
// square grid of pieces which the player swaps back into place, with a
// small capped list of saved games per player.
package puzzle

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidDifficulty = errors.New("invalid difficulty")
	ErrInvalidPosition   = errors.New("invalid position")
	ErrNoImage           = errors.New("no image selected")
)

type Difficulty string

const (
	Easy   Difficulty = "easy"
	Medium Difficulty = "medium"
	Hard   Difficulty = "hard"
	Expert Difficulty = "expert"
)

// GridSize is the number of pieces along each side.
func (d Difficulty) GridSize() (int, error) {
	switch d {
	case Easy:
		return 3, nil
	case Medium:
		return 4, nil
	case Hard:
		return 5, nil
	case Expert:
		return 6, nil
	}

	return 0, fmt.Errorf("%w: %q", ErrInvalidDifficulty, string(d))
}

// Piece records where a piece belongs and where it currently sits.
type Piece struct {
	CorrectIndex int `json:"correctIndex"`
	CurrentIndex int `json:"currentIndex"`
}

type Game struct {
	ID         string
	Image      string
	Difficulty Difficulty
	GridSize   int
	StartTime  time.Time

	// Pieces is indexed by CorrectIndex.
	Pieces []Piece

	selected int
}

// NewGame cuts image into a grid for d and shuffles the pieces.
func NewGame(image string, d Difficulty, rng *rand.Rand, now time.Time) (*Game, error) {
	if image == "" {
		return nil, ErrNoImage
	}

	size, err := d.GridSize()
	if err != nil {
		return nil, err
	}

	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	g := &Game{
		ID:         uuid.NewString(),
		Image:      image,
		Difficulty: d,
		GridSize:   size,
		StartTime:  now,
		Pieces:     make([]Piece, size*size),
		selected:   -1,
	}

	for {
		perm := rng.Perm(len(g.Pieces))
		for i := range g.Pieces {
			g.Pieces[i] = Piece{CorrectIndex: i, CurrentIndex: perm[i]}
		}
		if !g.Solved() {
			break
		}
	}

	return g, nil
}

func (g *Game) pieceAt(position int) int {
	for i, p := range g.Pieces {
		if p.CurrentIndex == position {
			return i
		}
	}

	return -1
}

// Select handles a click on a board position. The first click selects a
// piece, a second click on the same position clears the selection, and
// a click elsewhere swaps the two pieces.
func (g *Game) Select(position int) (swapped bool, err error) {
	if position < 0 || position >= len(g.Pieces) {
		return false, fmt.Errorf("%w: %d", ErrInvalidPosition, position)
	}

	switch g.selected {
	case -1:
		g.selected = position
		return false, nil
	case position:
		g.selected = -1
		return false, nil
	}

	if err := g.Swap(g.selected, position); err != nil {
		return false, err
	}
	g.selected = -1

	return true, nil
}

// Selected returns the selected board position, or -1.
func (g *Game) Selected() int {
	return g.selected
}

// Swap exchanges the pieces at two board positions.
func (g *Game) Swap(a, b int) error {
	i, j := g.pieceAt(a), g.pieceAt(b)
	if i == -1 || j == -1 {
		return fmt.Errorf("%w: %d, %d", ErrInvalidPosition, a, b)
	}

	g.Pieces[i].CurrentIndex, g.Pieces[j].CurrentIndex = g.Pieces[j].CurrentIndex, g.Pieces[i].CurrentIndex

	return nil
}

// Layout lists, for each board position, the correct index of the piece
// shown there.
func (g *Game) Layout() []int {
	layout := make([]int, len(g.Pieces))
	for _, p := range g.Pieces {
		layout[p.CurrentIndex] = p.CorrectIndex
	}

	return layout
}

// Progress is the rounded percentage of pieces in place.
func (g *Game) Progress() int {
	if len(g.Pieces) == 0 {
		return 0
	}

	correct := 0
	for _, p := range g.Pieces {
		if p.CurrentIndex == p.CorrectIndex {
			correct++
		}
	}

	return (correct*200 + len(g.Pieces)) / (2 * len(g.Pieces))
}

func (g *Game) Solved() bool {
	for _, p := range g.Pieces {
		if p.CurrentIndex != p.CorrectIndex {
			return false
		}
	}

	return true
}

// Elapsed counts from StartTime. Restored games keep their original
// StartTime, so time spent saved counts too.
func (g *Game) Elapsed(now time.Time) time.Duration {
	return now.Sub(g.StartTime)
}
