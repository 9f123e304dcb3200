/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Gamebox Picture Puzzle
//
// A picture is cut into a square grid and shuffled; clicking two pieces
// swaps them. Games belong to the player cookie and can be saved,
// listed, resumed and deleted. Only the five most recent saves are kept.

package main

import (
	_ "embed"
	"encoding/json"
	"errors"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/Seednode/gamebox/images"
	"github.com/Seednode/gamebox/puzzle"
)

const maxRequestBody = 64 << 10

type newPuzzleRequest struct {
	Image       string `json:"image,omitempty"`
	ImageSource string `json:"image_source,omitempty"`
	Difficulty  string `json:"difficulty"`
}

type selectRequest struct {
	Position *int `json:"position"`
}

type saveResponse struct {
	ID string `json:"id"`
}

type puzzleServer struct {
	cfg     *Config
	service *puzzle.Service
	images  *images.Provider
	errs    chan<- error
	started func()
}

func (ps *puzzleServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	securityHeaders(ps.cfg, w)
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		ps.errs <- err
	}
}

// writeError maps puzzle errors onto status codes.
func (ps *puzzleServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, puzzle.ErrInvalidDifficulty),
		errors.Is(err, puzzle.ErrInvalidPosition),
		errors.Is(err, puzzle.ErrNoImage),
		errors.Is(err, images.ErrUnknownSource):
		status = http.StatusBadRequest
	case errors.Is(err, puzzle.ErrGameNotFound),
		errors.Is(err, puzzle.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, puzzle.ErrSolved):
		status = http.StatusConflict
	case errors.Is(err, puzzle.ErrCorruptSave):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, images.ErrNoImages):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		logf(ps.cfg, "ERROR: %s %s from %s: %v", r.Method, r.URL.Path, realIP(r), err)
	}

	http.Error(w, err.Error(), status)
}

func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}

	return err
}

func (ps *puzzleServer) player(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := getOrSetPlayerID(w, r)
	if id == "" {
		http.Error(w, "unable to assign player id", http.StatusInternalServerError)
		return "", false
	}

	return id, true
}

func (ps *puzzleServer) newGame() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		player, ok := ps.player(w, r)
		if !ok {
			return
		}

		var req newPuzzleRequest
		if err := decodeBody(r, &req); err != nil {
			http.Error(w, "malformed request", http.StatusBadRequest)
			return
		}

		difficulty := puzzle.Difficulty(req.Difficulty)
		if difficulty == "" {
			difficulty = puzzle.Easy
		}

		image := ps.images.ResolveImage(req.Image)
		if image == "" {
			var (
				d   images.Descriptor
				err error
			)
			if req.ImageSource == "" || req.ImageSource == images.Mixed {
				d, err = ps.images.Random(r.Context(), nil)
			} else {
				d, err = ps.randomFrom(r, req.ImageSource)
			}
			if err != nil {
				ps.writeError(w, r, err)
				return
			}
			image = d.URL
		}

		view, err := ps.service.New(player, image, difficulty)
		if err != nil {
			ps.writeError(w, r, err)
			return
		}

		if ps.started != nil {
			ps.started()
		}
		logf(ps.cfg, "GAMES: Puzzle %s started by %s (%s)", view.ID, realIP(r), difficulty)

		ps.writeJSON(w, http.StatusCreated, view)
	}
}

func (ps *puzzleServer) randomFrom(r *http.Request, source string) (images.Descriptor, error) {
	pool, err := ps.images.Fetch(r.Context(), source)
	if err != nil {
		return images.Descriptor{}, err
	}
	if len(pool.Images) == 0 {
		return images.Descriptor{}, errors.Join(append([]error{images.ErrNoImages}, pool.Warnings...)...)
	}

	return pool.Images[rand.IntN(len(pool.Images))], nil
}

func (ps *puzzleServer) getGame() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		player, ok := ps.player(w, r)
		if !ok {
			return
		}

		view, err := ps.service.Get(player, p.ByName("id"))
		if err != nil {
			ps.writeError(w, r, err)
			return
		}

		ps.writeJSON(w, http.StatusOK, view)
	}
}

func (ps *puzzleServer) selectPiece() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		player, ok := ps.player(w, r)
		if !ok {
			return
		}

		var req selectRequest
		if err := decodeBody(r, &req); err != nil || req.Position == nil {
			http.Error(w, "malformed request", http.StatusBadRequest)
			return
		}

		view, err := ps.service.Select(r.Context(), player, p.ByName("id"), *req.Position)
		if err != nil {
			ps.writeError(w, r, err)
			return
		}

		ps.writeJSON(w, http.StatusOK, view)
	}
}

func (ps *puzzleServer) saveGame() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		player, ok := ps.player(w, r)
		if !ok {
			return
		}

		id, err := ps.service.Save(r.Context(), player, p.ByName("id"))
		if err != nil {
			ps.writeError(w, r, err)
			return
		}

		ps.writeJSON(w, http.StatusOK, saveResponse{ID: id})
	}
}

func (ps *puzzleServer) listSaves() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		player, ok := ps.player(w, r)
		if !ok {
			return
		}

		saved, err := ps.service.Saves(player).List(r.Context())
		if err != nil {
			ps.writeError(w, r, err)
			return
		}
		if saved == nil {
			saved = []puzzle.SavedState{}
		}

		ps.writeJSON(w, http.StatusOK, saved)
	}
}

func (ps *puzzleServer) loadSave() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		player, ok := ps.player(w, r)
		if !ok {
			return
		}

		view, err := ps.service.Resume(r.Context(), player, p.ByName("id"))
		if err != nil {
			ps.writeError(w, r, err)
			return
		}

		ps.writeJSON(w, http.StatusOK, view)
	}
}

func (ps *puzzleServer) deleteSave() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		player, ok := ps.player(w, r)
		if !ok {
			return
		}

		if err := ps.service.Saves(player).Clear(r.Context(), p.ByName("id")); err != nil {
			ps.writeError(w, r, err)
			return
		}

		securityHeaders(ps.cfg, w)
		w.WriteHeader(http.StatusNoContent)
	}
}

//go:embed assets/puzzle/index.html
var puzzleHTML []byte

func (ps *puzzleServer) page() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(ps.cfg, w)
		gameCSP(w)

		_ = getOrSetPlayerID(w, r)

		written, err := w.Write(puzzleHTML)
		if err != nil {
			ps.errs <- err

			return
		}

		logServed(ps.cfg, r, "Puzzle page", written, startTime)
	}
}

// registerPuzzleGame sets up routes so that:
//   - $path                      → HTML client
//   - $path/games                → start a game (POST)
//   - $path/games/:id            → game state
//   - $path/games/:id/select     → click a board position (POST)
//   - $path/games/:id/save       → save the game (POST)
//   - $path/saves                → saved games, newest first
//   - $path/saves/:id/load       → resume a saved game (POST)
//   - $path/saves/:id            → delete a saved game (DELETE)
func registerPuzzleGame(cfg *Config, path string, mux *httprouter.Router, ps *puzzleServer) {
	mux.GET(cfg.prefix+path, ps.page())
	mux.POST(cfg.prefix+path+"/games", ps.newGame())
	mux.GET(cfg.prefix+path+"/games/:id", ps.getGame())
	mux.POST(cfg.prefix+path+"/games/:id/select", ps.selectPiece())
	mux.POST(cfg.prefix+path+"/games/:id/save", ps.saveGame())
	mux.GET(cfg.prefix+path+"/saves", ps.listSaves())
	mux.POST(cfg.prefix+path+"/saves/:id/load", ps.loadSave())
	mux.DELETE(cfg.prefix+path+"/saves/:id", ps.deleteSave())
}
