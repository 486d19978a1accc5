package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"sort"
	"strconv"

	"github.com/classnet/classchat/config"
	"github.com/classnet/classchat/internal/auth"
	"github.com/classnet/classchat/internal/store"
	"github.com/gorilla/websocket"
)

const maxHistoryLimit = 100

// Authenticator resolves the principal of an incoming request.
type Authenticator interface {
	Authenticate(r *http.Request) (auth.Principal, error)
}

type Server struct {
	cfg      config.Config
	store    store.Store
	auth     Authenticator
	registry *Registry
	hub      *Hub
	upgrader websocket.Upgrader
	http     *http.Server
}

// RoomSummary is one entry of GET /api/rooms.
type RoomSummary struct {
	Name    string `json:"name"`
	Members int    `json:"members"`
}

func NewServer(cfg *config.Config, st store.Store, authn Authenticator) *Server {
	if cfg == nil {
		cfg = config.Default()
	}

	registry := NewRegistry()
	s := &Server{
		cfg:      *cfg,
		store:    st,
		auth:     authn,
		registry: registry,
		hub: NewHub(registry, st, HubOptions{
			HistoryLimit: cfg.Chat.HistoryLimit,
			StoreTimeout: cfg.Store.Timeout,
			Debug:        cfg.Logging.Debug(),
		}),
	}

	origins := newOriginPolicy(cfg.Server.AllowedOrigins)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     origins.check,
	}

	s.http = &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: s.Handler(),
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/chat/{room}", s.serveChat)
	mux.HandleFunc("GET /ws/chat/{room}/{$}", s.serveChat)
	mux.HandleFunc("GET /api/rooms", s.getRooms)
	mux.HandleFunc("GET /api/rooms/{room}/messages", s.getRoomMessages)
	mux.HandleFunc("POST /api/rooms/{room}/messages", s.postRoomMessage)
	mux.HandleFunc("GET /healthz", s.healthz)
	return mux
}

func (s *Server) Hub() *Hub { return s.hub }

// Serve listens on the configured address until Shutdown.
func (s *Server) Serve() error {
	log.Printf("[Server] Chat server on %s", s.cfg.Server.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, then closes every chat socket and waits
// for their handlers.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Printf("[Server] Shutting down")
	httpErr := s.http.Shutdown(ctx)
	hubErr := s.hub.Shutdown(ctx)
	return errors.Join(httpErr, hubErr)
}

func (s *Server) serveChat(w http.ResponseWriter, r *http.Request) {
	room := r.PathValue("room")
	if room == "" {
		http.NotFound(w, r)
		return
	}

	principal, err := s.auth.Authenticate(r)
	if err != nil {
		log.Printf("[Server] Rejected connection to room %q from %s: %v", room, r.RemoteAddr, err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Server] WebSocket upgrade failed: %v", err)
		return
	}

	c := NewConnection(conn, room, principal, s.cfg.WebSocket)
	if err := s.hub.Serve(c); err != nil {
		log.Printf("[Server] Connection %s to room %q ended: %v", c.ID(), room, err)
	}
}

func (s *Server) getRooms(w http.ResponseWriter, r *http.Request) {
	if _, err := s.auth.Authenticate(r); err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Store.Timeout)
	defer cancel()

	names, err := s.store.Rooms(ctx)
	if err != nil {
		log.Printf("[Server] Error listing rooms: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	counts := make(map[string]int, len(names))
	for _, name := range names {
		counts[name] = 0
	}
	for _, info := range s.registry.Rooms() {
		counts[info.Name] = info.Members
	}

	rooms := make([]RoomSummary, 0, len(counts))
	for name, members := range counts {
		rooms = append(rooms, RoomSummary{Name: name, Members: members})
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Name < rooms[j].Name })

	writeJSON(w, rooms)
}

func (s *Server) getRoomMessages(w http.ResponseWriter, r *http.Request) {
	if _, err := s.auth.Authenticate(r); err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	limit := s.cfg.Chat.HistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	limit = min(limit, maxHistoryLimit)

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Store.Timeout)
	defer cancel()

	records, err := s.store.RecentHistory(ctx, r.PathValue("room"), limit)
	if err != nil {
		log.Printf("[Server] Error reading history: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	data, err := EncodeHistory(records)
	if err != nil {
		log.Printf("[Server] Error encoding history: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

// postRoomMessage accepts the same {"message": ...} body as the socket and
// delivers it to the room's live members.
func (s *Server) postRoomMessage(w http.ResponseWriter, r *http.Request) {
	principal, err := s.auth.Authenticate(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if s.cfg.WebSocket.MaxMessageSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.WebSocket.MaxMessageSize)
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "message too large", http.StatusRequestEntityTooLarge)
		return
	}

	body, err := DecodeSendMessage(data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	out, err := s.hub.Publish(r.Context(), r.PathValue("room"), principal, body)
	if err != nil {
		log.Printf("[Server] Error posting message: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(out)
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[Server] Error encoding response: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
