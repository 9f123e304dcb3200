/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package memory

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/Seednode/gamebox/images"
)

var (
	ErrInsufficientImages = errors.New("insufficient images")
	ErrInvalidPairCount   = errors.New("invalid pair count")
)

// PairCounts are the board sizes offered to players.
var PairCounts = []int{8, 12, 18, 24}

// Card is one tile on the board. Two cards share each PairID.
type Card struct {
	PairID  int
	Image   images.Descriptor
	Matched bool
}

// Board is the post-shuffle presentation order of the cards.
type Board []Card

// BuildDeck picks pairCount distinct images from pool, makes two cards of
// each and shuffles the result. A nil rng uses a randomly seeded source;
// pass a seeded one for reproducible boards.
func BuildDeck(pool []images.Descriptor, pairCount int, rng *rand.Rand) (Board, error) {
	if pairCount < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPairCount, pairCount)
	}
	if len(pool) < pairCount {
		return nil, fmt.Errorf("%w: need %d, found %d", ErrInsufficientImages, pairCount, len(pool))
	}

	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	selected := slices.Clone(pool)
	rng.Shuffle(len(selected), func(i, j int) {
		selected[i], selected[j] = selected[j], selected[i]
	})

	board := make(Board, 0, 2*pairCount)
	for id, img := range selected[:pairCount] {
		board = append(board,
			Card{PairID: id, Image: img},
			Card{PairID: id, Image: img},
		)
	}

	rng.Shuffle(len(board), func(i, j int) {
		board[i], board[j] = board[j], board[i]
	})

	return board, nil
}

// GridClass names the layout the client should use for n cards.
func GridClass(n int) string {
	switch {
	case n <= 16:
		return "grid-4x4"
	case n <= 24:
		return "grid-4x6"
	case n <= 36:
		return "grid-6x6"
	default:
		return "grid-6x8"
	}
}
