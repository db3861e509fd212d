package service

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/mosaicnetworks/chirp/src/event"
	"github.com/mosaicnetworks/chirp/src/node"
	"github.com/sirupsen/logrus"
)

// Inspector is the read-only view of a node the Service exposes.
// *node.Node implements it.
type Inspector interface {
	GetSnapshot() *node.Snapshot
	GetStats() map[string]string
}

// Service serves JSON views of the last published node Snapshot.
type Service struct {
	sync.Mutex

	bindAddress string
	node        Inspector
	mux         *http.ServeMux
	server      *http.Server
	logger      *logrus.Entry
}

// NewService ...
func NewService(bindAddress string, n Inspector, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		node:        n,
		mux:         http.NewServeMux(),
		logger:      logger,
	}

	service.registerHandlers()

	service.server = &http.Server{
		Addr:              bindAddress,
		Handler:           service.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return &service
}

// registerHandlers registers the API handlers on the service's own mux, so
// that several nodes can run in one process without colliding on the
// DefaultServeMux.
func (s *Service) registerHandlers() {
	s.logger.Debug("Registering chirp API handlers")
	s.mux.HandleFunc("/stats", s.makeHandler(s.GetStats))
	s.mux.HandleFunc("/matrix", s.makeHandler(s.GetMatrix))
	s.mux.HandleFunc("/log", s.makeHandler(s.GetLog))
	s.mux.HandleFunc("/feed", s.makeHandler(s.GetFeed))
	s.mux.HandleFunc("/peers", s.makeHandler(s.GetPeers))
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		s.Lock()
		defer s.Unlock()

		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// Handler returns the http.Handler carrying the API routes.
func (s *Service) Handler() http.Handler {
	return s.mux
}

// Serve calls ListenAndServe. This is a blocking call which returns nil
// once Shutdown has been called.
func (s *Service) Serve() error {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving chirp API")

	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	if err != nil {
		s.logger.WithError(err).Error("Serving chirp API")
	}
	return err
}

// Shutdown stops the HTTP server.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// GetStats ...
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.node.GetStats())
}

// MatrixView pairs the clock rows with the directory names indexing them.
type MatrixView struct {
	Names  []string `json:"names"`
	Matrix [][]int  `json:"matrix"`
}

// GetMatrix ...
func (s *Service) GetMatrix(w http.ResponseWriter, r *http.Request) {
	snapshot, ok := s.snapshot(w)
	if !ok {
		return
	}

	names := make([]string, len(snapshot.Peers))
	for i, p := range snapshot.Peers {
		names[i] = p.Name
	}

	writeJSON(w, MatrixView{Names: names, Matrix: snapshot.Matrix})
}

// GetLog ...
func (s *Service) GetLog(w http.ResponseWriter, r *http.Request) {
	snapshot, ok := s.snapshot(w)
	if !ok {
		return
	}
	writeJSON(w, newEventViews(snapshot.Log))
}

// GetFeed ...
func (s *Service) GetFeed(w http.ResponseWriter, r *http.Request) {
	snapshot, ok := s.snapshot(w)
	if !ok {
		return
	}
	writeJSON(w, newEventViews(snapshot.Feed))
}

// GetPeers ...
func (s *Service) GetPeers(w http.ResponseWriter, r *http.Request) {
	snapshot, ok := s.snapshot(w)
	if !ok {
		return
	}
	writeJSON(w, snapshot.Peers)
}

func (s *Service) snapshot(w http.ResponseWriter) (*node.Snapshot, bool) {
	snapshot := s.node.GetSnapshot()
	if snapshot == nil {
		s.logger.Debug("No snapshot published yet")
		http.Error(w, "node not initialized", http.StatusServiceUnavailable)
		return nil, false
	}
	return snapshot, true
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// EventView is the JSON form of an Event, with the type spelled out.
type EventView struct {
	Type      string    `json:"type"`
	Origin    string    `json:"origin"`
	Seq       int       `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Payload   string    `json:"payload"`
}

func newEventViews(events []event.Event) []EventView {
	res := make([]EventView, len(events))
	for i, e := range events {
		res[i] = EventView{
			Type:      e.Type.String(),
			Origin:    e.Origin,
			Seq:       e.Seq,
			Timestamp: e.Timestamp,
			Payload:   e.Payload,
		}
	}
	return res
}
