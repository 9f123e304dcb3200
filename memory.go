/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Gamebox Memory Game
//
// A board of face-down picture cards, two of each image. Players turn
// over two cards at a time; a pair stays face up and scores, anything
// else is turned back over after a short delay.
//
// Features:
// - WebSockets per game ID: /memory/:gameid and /memory/:gameid/ws
// - Everyone connected to a game ID shares one board
// - Single player, or two players taking turns on a miss
// - Board sizes of 8, 12, 18 or 24 pairs, drawn from a chosen image source
// - Pause freezes the clock and the board
// - Games auto-reaped after configurable idle timeout
// - In-browser QR button to share the current session, backed by go-qrcode

package main

import (
	"context"
	"crypto/rand"
	_ "embed"
	"encoding/hex"
	"errors"
	"log/slog"
	mrand "math/rand/v2"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"

	"github.com/Seednode/gamebox/images"
	"github.com/Seednode/gamebox/memory"
)

// Messages coming from clients
type MemoryClientMessage struct {
	Type        string `json:"type"`                   // "start_game", "flip", "pause", "new_game"
	PairCount   int    `json:"pair_count,omitempty"`   // start_game
	Mode        string `json:"mode,omitempty"`         // start_game
	ImageSource string `json:"image_source,omitempty"` // start_game
	Position    *int   `json:"position,omitempty"`     // flip
}

// SessionInfoMessage is sent on connect and whenever the board is
// cleared, so the client knows which options it can offer.
type SessionInfoMessage struct {
	Type       string   `json:"type"`    // "session_info"
	GameID     string   `json:"game_id"` // current game ID
	Started    bool     `json:"started"` // a board is in play
	Loading    bool     `json:"loading"` // images are being fetched
	PairCounts []int    `json:"pair_counts"`
	Sources    []string `json:"sources"` // image source names, plus "mixed"
}

// ErrorMessage reports a request that could not be carried out.
type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Client struct {
	conn     *websocket.Conn
	send     chan any
	playerID string
}

type clientEvent struct {
	client *Client
	msg    MemoryClientMessage
}

// memoryDeps are shared by every hub of a GameManager.
type memoryDeps struct {
	cfg     *Config
	images  *images.Provider
	metrics *metrics
	log     *slog.Logger
	delay   time.Duration
}

// Hub owns one game ID. All client events, timers and image fetch
// results are handled by run, which is the only goroutine that touches
// the session.
type Hub struct {
	id   string
	deps *memoryDeps
	rng  *mrand.Rand

	clients map[*Client]bool

	register chan *Client
	unreg    chan *Client
	events   chan clientEvent
	tasks    chan func()
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc

	mu sync.RWMutex

	createdAt  time.Time
	lastActive time.Time

	session    *memory.Session
	generation int
	loading    bool
	renderTo   *Client
}

func newHub(gameID string, deps *memoryDeps) *Hub {
	now := time.Now()
	ctx, cancel := context.WithCancel(context.Background())

	return &Hub{
		id:         gameID,
		deps:       deps,
		rng:        mrand.New(mrand.NewPCG(mrand.Uint64(), mrand.Uint64())),
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unreg:      make(chan *Client),
		events:     make(chan clientEvent),
		tasks:      make(chan func(), 16),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
		createdAt:  now,
		lastActive: now,
	}
}

// Schedule runs fn on the hub's event loop after d.
func (h *Hub) Schedule(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, func() { h.post(fn) })

	return func() { t.Stop() }
}

// post queues fn for the event loop; it is dropped once the hub stops.
func (h *Hub) post(fn func()) {
	select {
	case h.tasks <- fn:
	case <-h.done:
	}
}

func (h *Hub) touch() {
	h.mu.Lock()
	h.lastActive = time.Now()
	h.mu.Unlock()
}

func (h *Hub) idleSince() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.lastActive
}

// stop ends the event loop, the current game and every connection.
func (h *Hub) stop() {
	h.stopOnce.Do(func() {
		close(h.quit)
	})
}

func (h *Hub) run() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	defer func() {
		h.cancel()
		h.endSession()
		for c := range h.clients {
			h.drop(c)
		}
		close(h.done)
	}()

	for {
		select {
		case c := <-h.register:
			h.touch()
			h.clients[c] = true

			h.sendTo(c, h.sessionInfo())
			if h.session != nil {
				h.renderTo = c
				h.session.Render()
				h.renderTo = nil
			}

		case c := <-h.unreg:
			h.touch()
			if _, ok := h.clients[c]; ok {
				h.drop(c)
			}

		case ev := <-h.events:
			h.touch()
			h.handle(ev)

		case fn := <-h.tasks:
			fn()

		case <-ticker.C:
			if h.session != nil {
				h.session.Tick()
			}

		case <-h.quit:
			return
		}
	}
}

func (h *Hub) drop(c *Client) {
	delete(h.clients, c)
	close(c.send)
}

// sendTo is a no-op for clients already dropped, whose send channel is
// closed.
func (h *Hub) sendTo(c *Client, msg any) {
	if !h.clients[c] {
		return
	}

	select {
	case c.send <- msg:
	default:
		h.drop(c)
	}
}

func (h *Hub) broadcast(msg any) {
	for client := range h.clients {
		h.sendTo(client, msg)
	}
}

// notify receives everything the session publishes. While a new client
// is being caught up, output goes to that client only.
func (h *Hub) notify(msg any) {
	if h.renderTo != nil {
		h.sendTo(h.renderTo, msg)
		return
	}

	if over, ok := msg.(memory.GameOverMessage); ok {
		h.deps.metrics.gamesCompleted.WithLabelValues(kindMemory).Inc()
		logf(h.deps.cfg, "GAMES: Memory game %s finished after %d flips in %s", h.id, over.Summary.FlipCount, over.Summary.Elapsed)
	}

	h.broadcast(msg)
}

func (h *Hub) sessionInfo() SessionInfoMessage {
	return SessionInfoMessage{
		Type:       "session_info",
		GameID:     h.id,
		Started:    h.session != nil,
		Loading:    h.loading,
		PairCounts: memory.PairCounts,
		Sources:    append(h.deps.images.Names(), images.Mixed),
	}
}

func (h *Hub) fail(c *Client, code, message string) {
	msg := ErrorMessage{
		Type:    "error",
		Code:    code,
		Message: message,
	}

	if c == nil {
		h.broadcast(msg)
		return
	}
	h.sendTo(c, msg)
}

// endSession closes the current session, cancelling any pending
// resolution, and invalidates image fetches still in flight.
func (h *Hub) endSession() {
	if h.session != nil {
		h.session.Close()
		h.session = nil
	}
	h.generation++
	h.loading = false
}

func (h *Hub) handle(ev clientEvent) {
	c, msg := ev.client, ev.msg
	if !h.clients[c] {
		return
	}

	switch msg.Type {
	case "start_game":
		h.startGame(c, msg)

	case "flip":
		if h.session == nil || msg.Position == nil {
			return
		}
		pos := *msg.Position
		if h.session.Flip(pos) {
			h.deps.metrics.flips.Inc()
			return
		}
		h.sendTo(c, memory.SkipMessage(pos, h.session.CurrentPlayer()))

	case "pause":
		if h.session != nil {
			h.session.TogglePause()
		}

	case "new_game":
		h.endSession()
		h.broadcast(h.sessionInfo())
	}
}

func (h *Hub) startGame(c *Client, msg MemoryClientMessage) {
	mode, err := memory.ParseMode(msg.Mode)
	if err != nil {
		h.fail(c, "invalid_mode", err.Error())
		return
	}

	pairCount := msg.PairCount
	if pairCount == 0 {
		pairCount = memory.PairCounts[0]
	}
	if !slices.Contains(memory.PairCounts, pairCount) {
		h.fail(c, "invalid_pair_count", "Choose one of the offered board sizes.")
		return
	}

	source := msg.ImageSource
	if source == "" {
		source = images.Mixed
	}

	h.endSession()
	h.loading = true
	h.broadcast(h.sessionInfo())

	gen := h.generation
	go func() {
		pool, err := h.deps.images.Fetch(h.ctx, source)
		h.post(func() {
			h.poolLoaded(gen, mode, pairCount, source, pool, err)
		})
	}()
}

func (h *Hub) poolLoaded(gen int, mode memory.Mode, pairCount int, source string, pool images.Pool, err error) {
	if gen != h.generation {
		return
	}
	h.loading = false

	if err != nil {
		h.broadcast(h.sessionInfo())
		h.fail(nil, "image_source", err.Error())
		return
	}

	for _, w := range pool.Warnings {
		h.deps.log.Warn("partial image pool", "game", h.id, "source", source, "err", w)
	}

	board, err := memory.BuildDeck(pool.Images, pairCount, h.rng)
	if err != nil {
		h.broadcast(h.sessionInfo())
		if errors.Is(err, memory.ErrInsufficientImages) {
			h.fail(nil, "insufficient_images", "Not enough pictures are available for a board this size. Try a smaller board or another image source.")
			return
		}
		h.fail(nil, "board", err.Error())
		return
	}

	session, err := memory.NewSession(board, memory.Options{
		Mode:         mode,
		ResolveDelay: h.deps.delay,
		Scheduler:    h,
		Notify:       h.notify,
	})
	if err != nil {
		h.fail(nil, "board", err.Error())
		return
	}

	h.session = session
	h.deps.metrics.gamesStarted.WithLabelValues(kindMemory).Inc()
	logf(h.deps.cfg, "GAMES: Memory game %s started (%s, %d pairs, %s)", h.id, mode, pairCount, source)

	h.broadcast(h.sessionInfo())
	h.session.Render()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const playerCookieName = "gamebox_id"

func getOrSetPlayerID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(playerCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	id := hex.EncodeToString(buf)

	http.SetCookie(w, &http.Cookie{
		Name:     playerCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

// GameManager holds a set of hubs keyed by game ID, so each
// /memory/:gameid is its own isolated session.
type GameManager struct {
	mu          sync.Mutex
	hubs        map[string]*Hub
	idleTimeout time.Duration
	deps        *memoryDeps
}

func newGameManager(ctx context.Context, deps *memoryDeps, idleTimeout time.Duration) *GameManager {
	gm := &GameManager{
		hubs:        make(map[string]*Hub),
		idleTimeout: idleTimeout,
		deps:        deps,
	}
	if idleTimeout > 0 {
		go gm.reaperLoop(ctx)
	}
	return gm
}

func (gm *GameManager) getHub(gameID string) *Hub {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	if hub, ok := gm.hubs[gameID]; ok {
		return hub
	}

	hub := newHub(gameID, gm.deps)
	gm.hubs[gameID] = hub
	gm.deps.metrics.activeHubs.Inc()
	go hub.run()
	return hub
}

// newGameID generates a crypto-random game ID and ensures it doesn't
// collide with existing games.
func (gm *GameManager) newGameID() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	for {
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, 8)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		id := string(out)

		gm.mu.Lock()
		_, exists := gm.hubs[id]
		gm.mu.Unlock()

		if !exists {
			return id
		}
	}
}

// reap removes hubs idle since before cutoff and returns how many.
func (gm *GameManager) reap(cutoff time.Time) int {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	n := 0
	for id, hub := range gm.hubs {
		if hub.idleSince().Before(cutoff) {
			delete(gm.hubs, id)
			gm.deps.metrics.activeHubs.Dec()
			hub.stop()
			n++
		}
	}
	return n
}

// closeAll stops every hub; used on shutdown.
func (gm *GameManager) closeAll() {
	gm.reap(time.Now().Add(time.Hour))
}

// reaperLoop periodically removes hubs that have been idle longer than idleTimeout.
func (gm *GameManager) reaperLoop(ctx context.Context) {
	ticker := time.NewTicker(gm.idleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := gm.reap(time.Now().Add(-gm.idleTimeout)); n > 0 {
				logf(gm.deps.cfg, "GAMES: Reaped %d idle memory game(s)", n)
			}
		}
	}
}

// WebSocket handler that picks the hub based on :gameid
func serveWSForManager(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		gameID := ps.ByName("gameid")
		if gameID == "" {
			http.Error(w, "missing game id", http.StatusBadRequest)
			return
		}

		playerID := getOrSetPlayerID(w, r)
		if playerID == "" {
			http.Error(w, "unable to assign player id", http.StatusInternalServerError)
			return
		}

		hub := gm.getHub(gameID)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "ERROR: Websocket upgrade for %s failed: %v", realIP(r), err)
			return
		}

		client := &Client{
			conn:     conn,
			send:     make(chan any, 32),
			playerID: playerID,
		}

		select {
		case hub.register <- client:
		case <-hub.done:
			_ = conn.Close()
			return
		}

		go client.writePump()
		client.readPump(hub)
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unreg <- c:
		case <-h.done:
		}
		_ = c.conn.Close()
	}()

	for {
		var msg MemoryClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "start_game", "flip", "pause", "new_game":
			select {
			case h.events <- clientEvent{
				client: c,
				msg:    msg,
			}:
			case <-h.done:
				return
			}
		default:
			// ignore unknown types
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// QR handler: generates a PNG QR code for the current game URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	gameID := ps.ByName("gameid")
	if gameID == "" {
		http.Error(w, "missing game id", http.StatusBadRequest)
		return
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /.../:gameid/qr; strip trailing "/qr" to get the game URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

//go:embed assets/memory/index.html
var memoryHTML []byte

func serveMemoryPage(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)
		gameCSP(w)

		_ = getOrSetPlayerID(w, r)

		written, err := w.Write(memoryHTML)
		if err != nil {
			return
		}

		logServed(cfg, r, "Memory page", written, startTime)
	}
}

// redirectNewGame handles GET /memory by generating a new random game ID
// (with server-side collision detection) and redirecting to /memory/:gameid.
func redirectNewGame(cfg *Config, path string, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		gameID := gm.newGameID()
		logf(cfg, "GAMES: Created game %s/%s", path, gameID)
		http.Redirect(w, r, path+"/"+gameID, http.StatusTemporaryRedirect)
	}
}

// registerMemoryGame sets up routes so that:
//   - $path                  → redirects to new random game (8-char ID)
//   - $path/:gameid          → HTML client
//   - $path/:gameid/ws       → WebSocket for that game
//   - $path/:gameid/qr       → PNG QR code for that game URL
func registerMemoryGame(cfg *Config, path string, mux *httprouter.Router, gm *GameManager) {
	mux.GET(cfg.prefix+path, redirectNewGame(cfg, cfg.prefix+path, gm))
	mux.GET(cfg.prefix+path+"/:gameid", serveMemoryPage(cfg))
	mux.GET(cfg.prefix+path+"/:gameid/ws", serveWSForManager(cfg, gm))
	mux.GET(cfg.prefix+path+"/:gameid/qr", qrHandler)
}
