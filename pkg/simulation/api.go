package simulation

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/gorilla/websocket"

	"github.com/skycoin/skydrone/internal/metrics"
	"github.com/skycoin/skydrone/pkg/channel"
	"github.com/skycoin/skydrone/pkg/control"
	"github.com/skycoin/skydrone/pkg/eventlog"
	"github.com/skycoin/skydrone/pkg/httputil"
	"github.com/skycoin/skydrone/pkg/routing"
)

const defaultEventsLimit = 100

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// NewAPI serves the supervisor HTTP API of s. When m is a *metrics.Prometheus
// its metrics are exposed on /metrics.
func NewAPI(s *Simulation, m metrics.Recorder) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Route("/api", func(r chi.Router) {
		r.Get("/events/stream", s.streamEvents())
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(time.Second * 30))
			r.Get("/run", s.getRun())
			r.Get("/topology", s.getTopology())
			r.Get("/events", s.getEvents())
			r.Post("/drones/{id}/crash", s.postCrash())
			r.Put("/drones/{id}/pdr", s.putDropRate())
			r.Post("/edges", s.postEdge())
			r.Delete("/edges", s.deleteEdge())
		})
	})
	if p, ok := m.(*metrics.Prometheus); ok {
		r.Handle("/metrics", p.MetricsHandler())
	}
	return metrics.Handler(m, r)
}

func (s *Simulation) getRun() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, r, http.StatusOK, map[string]interface{}{
			"run_id": s.RunID(),
			"events": s.store.Count(),
		})
	}
}

func (s *Simulation) getTopology() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, r, http.StatusOK, s.Topology())
	}
}

// provides recorded events, from the 'from' sequence number on.
func (s *Simulation) getEvents() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from, err := httputil.Uint64FromQuery(r, "from", 1)
		if err != nil {
			httputil.WriteJSON(w, r, http.StatusBadRequest, err)
			return
		}
		limit, err := httputil.Uint64FromQuery(r, "limit", defaultEventsLimit)
		if err != nil {
			httputil.WriteJSON(w, r, http.StatusBadRequest, err)
			return
		}

		records := make([]eventlog.Record, 0)
		err = s.store.Range(from, func(rec eventlog.Record) bool {
			if uint64(len(records)) >= limit {
				return false
			}
			records = append(records, rec)
			return true
		})
		if err != nil {
			httputil.WriteJSON(w, r, http.StatusInternalServerError, err)
			return
		}
		httputil.WriteJSON(w, r, http.StatusOK, records)
	}
}

func (s *Simulation) postCrash() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := nodeIDFromParam(r, "id")
		if err != nil {
			httputil.WriteJSON(w, r, http.StatusBadRequest, err)
			return
		}
		if err := s.Crash(id); err != nil {
			httputil.WriteJSON(w, r, errorStatus(err), err)
			return
		}
		httputil.WriteJSON(w, r, http.StatusOK, true)
	}
}

func (s *Simulation) putDropRate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := nodeIDFromParam(r, "id")
		if err != nil {
			httputil.WriteJSON(w, r, http.StatusBadRequest, err)
			return
		}
		var reqBody struct {
			PDR *float64 `json:"pdr"`
		}
		if err := httputil.ReadJSON(r, &reqBody); err != nil {
			httputil.WriteJSON(w, r, http.StatusBadRequest, err)
			return
		}
		if reqBody.PDR == nil {
			httputil.WriteJSON(w, r, http.StatusBadRequest, fmt.Errorf("missing 'pdr' field"))
			return
		}
		if err := s.SetDropRate(id, *reqBody.PDR); err != nil {
			httputil.WriteJSON(w, r, errorStatus(err), err)
			return
		}
		httputil.WriteJSON(w, r, http.StatusOK, true)
	}
}

func (s *Simulation) postEdge() http.HandlerFunc {
	return s.withEdge(s.AddEdge)
}

func (s *Simulation) deleteEdge() http.HandlerFunc {
	return s.withEdge(s.RemoveEdge)
}

func (s *Simulation) withEdge(op func(a, b routing.NodeID) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var e Edge
		if err := httputil.ReadJSON(r, &e); err != nil {
			httputil.WriteJSON(w, r, http.StatusBadRequest, err)
			return
		}
		if err := op(e.A, e.B); err != nil {
			httputil.WriteJSON(w, r, errorStatus(err), err)
			return
		}
		httputil.WriteJSON(w, r, http.StatusOK, NewEdge(e.A, e.B))
	}
}

// streams live events as JSON text messages until the client goes away or
// the simulation closes.
func (s *Simulation) streamEvents() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		feed, cancel := s.Subscribe()
		defer cancel()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.WithError(err).Warn("Failed to upgrade event stream")
			return
		}
		defer func() {
			if err := conn.Close(); err != nil {
				s.log.WithError(err).Debug("Failed to close event stream")
			}
		}()

		// The reader only serves to notice the client going away.
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.NextReader(); err != nil {
					return
				}
			}
		}()

		for {
			ev, err := feed.TryRecv()
			switch err {
			case nil:
				if err := conn.WriteJSON(ev); err != nil {
					s.log.WithError(err).Debug("Event stream write failed")
					return
				}
				continue
			case channel.ErrClosed:
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "simulation closed"))
				return
			}

			select {
			case <-feed.Ready():
			case <-gone:
				return
			}
		}
	}
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, ErrUnknownNode):
		return http.StatusNotFound
	case errors.Is(err, control.ErrInvalidDropRate):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotDrone), errors.Is(err, ErrNodeCrashed), errors.Is(err, ErrEdgeExists),
		errors.Is(err, ErrNoEdge), errors.Is(err, ErrInvalidEdge):
		return http.StatusConflict
	case errors.Is(err, ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func nodeIDFromParam(r *http.Request, key string) (routing.NodeID, error) {
	v, err := strconv.ParseUint(chi.URLParam(r, key), 10, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid node id '%s'", chi.URLParam(r, key))
	}
	return routing.NodeID(v), nil
}
