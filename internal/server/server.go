// Package server exposes a BLE module over HTTP: a web console, a JSON
// request endpoint and a websocket that broadcasts every exchange.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shaunagostinho/bleat/internal/at"
	"github.com/shaunagostinho/bleat/internal/config"
	"github.com/shaunagostinho/bleat/internal/module"
	"github.com/sirupsen/logrus"
)

// ErrNotConnected is reported while no module is attached.
var ErrNotConnected = errors.New("module not connected")

const maxCommandLen = 512

// Server serializes requests from all clients onto one module and
// broadcasts results to WebSocket clients.
type Server struct {
	cfg   *config.Config
	webFS fs.FS
	log   logrus.FieldLogger

	// reqMu is held for the whole exchange; the engine is not reentrant.
	reqMu sync.Mutex
	radio *module.Radio

	transcript Transcript

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader
}

// Transcript is the runtime switch of the exchange recorder.
type Transcript interface {
	SetEnabled(on bool)
	IsEnabled() bool
	CurrentFile() string
}

// TranscriptState is returned by /api/transcript.
type TranscriptState struct {
	Enabled bool   `json:"enabled"`
	File    string `json:"file,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Result is one exchange as seen by clients.
type Result struct {
	Command    string `json:"command"`
	Payload    string `json:"payload,omitempty"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"durationMs"`
}

// Probe is the outcome of the periodic liveness check.
type Probe struct {
	Alive bool   `json:"alive"`
	Error string `json:"error,omitempty"`
}

// Frame is the JSON structure sent to all WebSocket clients.
type Frame struct {
	Result *Result         `json:"result,omitempty"`
	Probe  *Probe          `json:"probe,omitempty"`
	Config json.RawMessage `json:"config,omitempty"`
	Stamp  int64           `json:"stamp"` // Unix ms
}

type requestBody struct {
	Command string `json:"command"`
}

// New creates a server. The module may be attached later with Attach.
func New(cfg *config.Config, webFS fs.FS, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		cfg:     cfg,
		webFS:   webFS,
		log:     log.WithField("component", "server"),
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Attach sets the module requests are sent to. Passing nil detaches it.
func (s *Server) Attach(r module.Requester) {
	s.reqMu.Lock()
	defer s.reqMu.Unlock()
	if r == nil {
		s.radio = nil
		return
	}
	s.radio = module.New(r)
}

// SetTranscript lets config updates switch recording on and off.
func (s *Server) SetTranscript(t Transcript) {
	s.transcript = t
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	if s.webFS != nil {
		mux.Handle("/", http.FileServer(http.FS(s.webFS)))
	}
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/request", s.handleRequest)
	mux.HandleFunc("/api/info", s.handleInfo)
	mux.HandleFunc("/api/transcript", s.handleTranscript)
	return mux
}

// Run starts the HTTP server and the probe loop, and blocks until ctx is
// cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Server.ListenAddr,
		Handler: s.Handler(),
	}

	if s.cfg.Server.ProbeSeconds > 0 {
		go s.probeLoop(ctx, time.Duration(s.cfg.Server.ProbeSeconds)*time.Second)
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	s.log.WithField("addr", s.cfg.Server.ListenAddr).Info("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Execute runs one command and broadcasts the result.
func (s *Server) Execute(command string) Result {
	started := time.Now()
	payload, err := s.request(command)
	res := Result{
		Command:    command,
		Payload:    payload,
		Status:     at.StatusOf(err).String(),
		DurationMs: time.Since(started).Milliseconds(),
	}
	if err != nil {
		res.Error = err.Error()
	}
	s.broadcast(Frame{Result: &res, Stamp: time.Now().UnixMilli()})
	return res
}

func (s *Server) request(command string) (string, error) {
	s.reqMu.Lock()
	defer s.reqMu.Unlock()
	if s.radio == nil {
		return "", ErrNotConnected
	}
	return s.radio.Raw(command)
}

func (s *Server) probe() Probe {
	s.reqMu.Lock()
	defer s.reqMu.Unlock()
	if s.radio == nil {
		return Probe{Error: ErrNotConnected.Error()}
	}
	if err := s.radio.Test(); err != nil {
		return Probe{Error: err.Error()}
	}
	return Probe{Alive: true}
}

func (s *Server) probeLoop(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p := s.probe()
			if !p.Alive {
				s.log.WithField("error", p.Error).Debug("probe failed")
			}
			s.broadcast(Frame{Probe: &p, Stamp: time.Now().UnixMilli()})
		}
	}
}

func validCommand(cmd string) bool {
	return cmd != "" && len(cmd) <= maxCommandLen && !strings.ContainsAny(cmd, "\r\n")
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("ws upgrade failed")
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	n := len(s.clients)
	s.clientsMu.Unlock()
	s.log.WithField("clients", n).Info("ws client connected")

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine: every text message is a command line
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			n := len(s.clients)
			close(client.send)
			s.clientsMu.Unlock()
			s.log.WithField("clients", n).Info("ws client disconnected")
		}()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			cmd := strings.TrimSpace(string(msg))
			if !validCommand(cmd) {
				continue
			}
			s.Execute(cmd)
		}
	}()
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body requestBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	body.Command = strings.TrimSpace(body.Command)
	if !validCommand(body.Command) {
		http.Error(w, "invalid command", http.StatusBadRequest)
		return
	}

	res := s.Execute(body.Command)
	status := http.StatusOK
	switch {
	case res.Error == ErrNotConnected.Error():
		status = http.StatusServiceUnavailable
	case res.Status == at.StatusUnterminated.String():
		status = http.StatusGatewayTimeout
	case res.Status == at.StatusError.String():
		status = http.StatusBadGateway
	}
	writeJSON(w, status, res)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.reqMu.Lock()
	var (
		info *module.Info
		err  = ErrNotConnected
	)
	if s.radio != nil {
		info, err = s.radio.Info()
	}
	s.reqMu.Unlock()

	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		data, err := s.cfg.ToJSON()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)

	case http.MethodPost:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 64<<10))
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if err := s.cfg.UpdateFromJSON(body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.cfg.Save(); err != nil {
			s.log.WithError(err).WithField("path", s.cfg.Path()).Warn("config save failed")
		}
		if s.transcript != nil {
			s.transcript.SetEnabled(s.cfg.TranscriptEnabled())
		}
		if data, err := s.cfg.ToJSON(); err == nil {
			s.broadcast(Frame{Config: data, Stamp: time.Now().UnixMilli()})
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var state TranscriptState
	if s.transcript != nil {
		state = TranscriptState{Enabled: s.transcript.IsEnabled(), File: s.transcript.CurrentFile()}
	}
	writeJSON(w, http.StatusOK, state)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) broadcast(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}
