// Package api exposes zone management, region events and the local
// notification feed over HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/signalsfoundry/safespaces/core"
	"github.com/signalsfoundry/safespaces/internal/logging"
	"github.com/signalsfoundry/safespaces/internal/notify"
	"github.com/signalsfoundry/safespaces/internal/observability"
	"github.com/signalsfoundry/safespaces/model"
)

const maxBodyBytes = 1 << 20

// ZoneState is the zone and profile coordinator behind the API.
type ZoneState interface {
	PutZone(ctx context.Context, z model.Zone) error
	DeleteZone(ctx context.Context, name string) error
	Zone(name string) (core.TrackedZone, error)
	Zones() []core.TrackedZone
	Profile() model.MonitoredPerson
	SetProfile(ctx context.Context, p model.MonitoredPerson) error
}

// RegionEvents receives externally detected region transitions.
type RegionEvents interface {
	OnRegionEntered(ctx context.Context, name string)
	OnRegionExited(ctx context.Context, name string)
	PollDistance(ctx context.Context, name string, distance float64)
}

// Locator accepts device fixes.
type Locator interface {
	UpdateLocation(ctx context.Context, c model.Coordinate, at time.Time) error
}

// NotificationFeed lists recent local notifications, newest first.
type NotificationFeed interface {
	Entries(limit int) []notify.Message
}

// Server holds the handler dependencies.
type Server struct {
	state   ZoneState
	events  RegionEvents
	locator Locator
	feed    NotificationFeed

	log         logging.Logger
	httpMetrics *observability.HTTPCollector
	metrics     http.Handler
}

// Option customises a Server.
type Option func(*Server)

// WithLogger sets the base logger for request-scoped loggers.
func WithLogger(l logging.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithHTTPMetrics records per-route request metrics.
func WithHTTPMetrics(c *observability.HTTPCollector) Option {
	return func(s *Server) { s.httpMetrics = c }
}

// WithMetricsHandler serves h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// NewServer builds a Server. locator and feed may be nil, in which case
// their routes answer 404.
func NewServer(st ZoneState, events RegionEvents, locator Locator, feed NotificationFeed, opts ...Option) *Server {
	s := &Server{
		state:   st,
		events:  events,
		locator: locator,
		feed:    feed,
		log:     logging.Noop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.log))
	if s.httpMetrics != nil {
		r.Use(s.httpMetrics.Middleware)
	}
	r.Use(tracing)

	r.Get("/healthz", s.healthz)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/zones", s.listZones)
		r.Put("/zones/{name}", s.putZone)
		r.Get("/zones/{name}", s.getZone)
		r.Delete("/zones/{name}", s.deleteZone)
		r.Post("/zones/{name}/enter", s.enterZone)
		r.Post("/zones/{name}/exit", s.exitZone)
		r.Post("/zones/{name}/distance", s.pollDistance)
		if s.locator != nil {
			r.Post("/location", s.updateLocation)
		}
		if s.feed != nil {
			r.Get("/notifications", s.listNotifications)
		}
		r.Get("/profile", s.getProfile)
		r.Put("/profile", s.putProfile)
	})
	return r
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listZones(w http.ResponseWriter, _ *http.Request) {
	tracked := s.state.Zones()
	out := zoneListResponse{Zones: make([]zoneResponse, 0, len(tracked))}
	for _, tz := range tracked {
		out.Zones = append(out.Zones, zoneFromTracked(tz))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) putZone(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req zoneRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Name != "" && req.Name != name {
		s.writeError(w, r, fmt.Errorf("%w: body name %q does not match path %q", ErrBadRequest, req.Name, name))
		return
	}

	if err := s.state.PutZone(r.Context(), req.toModel(name)); err != nil {
		s.writeError(w, r, err)
		return
	}
	tz, err := s.state.Zone(name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger(r).Info(r.Context(), "zone saved", logging.String("zone", name))
	writeJSON(w, http.StatusOK, zoneFromTracked(tz))
}

func (s *Server) getZone(w http.ResponseWriter, r *http.Request) {
	tz, err := s.state.Zone(chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, zoneFromTracked(tz))
}

func (s *Server) deleteZone(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.state.DeleteZone(r.Context(), name); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger(r).Info(r.Context(), "zone deleted", logging.String("zone", name))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) enterZone(w http.ResponseWriter, r *http.Request) {
	s.regionEvent(w, r, s.events.OnRegionEntered)
}

func (s *Server) exitZone(w http.ResponseWriter, r *http.Request) {
	s.regionEvent(w, r, s.events.OnRegionExited)
}

// regionEvent applies fn to a tracked zone and answers with its new state.
func (s *Server) regionEvent(w http.ResponseWriter, r *http.Request, fn func(context.Context, string)) {
	name := chi.URLParam(r, "name")
	if _, err := s.state.Zone(name); err != nil {
		s.writeError(w, r, err)
		return
	}
	fn(r.Context(), name)
	s.getZone(w, r)
}

func (s *Server) pollDistance(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req distanceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.DistanceM == nil || *req.DistanceM < 0 {
		s.writeError(w, r, fmt.Errorf("%w: distance_m must be a non-negative number", ErrBadRequest))
		return
	}
	if _, err := s.state.Zone(name); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.events.PollDistance(r.Context(), name, *req.DistanceM)
	s.getZone(w, r)
}

func (s *Server) updateLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		s.writeError(w, r, fmt.Errorf("%w: latitude and longitude are required", ErrBadRequest))
		return
	}
	var at time.Time
	if req.At != nil {
		at = *req.At
	}
	c := model.Coordinate{Latitude: *req.Latitude, Longitude: *req.Longitude}
	if err := s.locator.UpdateLocation(r.Context(), c, at); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, r, fmt.Errorf("%w: limit must be a non-negative integer", ErrBadRequest))
			return
		}
		limit = n
	}
	msgs := s.feed.Entries(limit)
	out := notificationListResponse{Notifications: make([]notificationDTO, 0, len(msgs))}
	for _, m := range msgs {
		out.Notifications = append(out.Notifications, notificationFromMessage(m))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getProfile(w http.ResponseWriter, _ *http.Request) {
	p := s.state.Profile()
	writeJSON(w, http.StatusOK, profileDTO{Name: p.Name, Phone: p.Phone})
}

func (s *Server) putProfile(w http.ResponseWriter, r *http.Request) {
	var req profileDTO
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.state.SetProfile(r.Context(), model.MonitoredPerson{Name: req.Name, Phone: req.Phone}); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.getProfile(w, r)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return nil
}
