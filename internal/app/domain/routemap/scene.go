package routemap

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/FACorreiaa/outdoor-explorer/internal/app/models"
)

// EventType is a pointer event a layer can be bound to.
type EventType string

const (
	EventMouseEnter EventType = "mouseenter"
	EventMouseLeave EventType = "mouseleave"
	EventClick      EventType = "click"
)

// MapEvent is delivered to layer handlers.
type MapEvent struct {
	Type    EventType
	LayerID string
	LngLat  models.LngLat
}

// EventHandler reacts to a layer event.
type EventHandler func(MapEvent)

// Paint is the line paint of a layer, keyed the way map engines expect it on the wire.
type Paint struct {
	LineColor     string    `json:"line-color"`
	LineWidth     float64   `json:"line-width"`
	LineOpacity   float64   `json:"line-opacity"`
	LineDasharray []float64 `json:"line-dasharray,omitempty"`
	LineBlur      float64   `json:"line-blur,omitempty"`
}

// Layer is a line layer drawn from a source.
type Layer struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Source string `json:"source"`
	Paint  Paint  `json:"paint"`
}

// MarkerKind distinguishes marker roles.
type MarkerKind string

const (
	MarkerStart    MarkerKind = "start"
	MarkerEnd      MarkerKind = "end"
	MarkerWaypoint MarkerKind = "waypoint"
	MarkerPOI      MarkerKind = "poi"
)

// Marker is a point marker.
type Marker struct {
	ID          string        `json:"id"`
	Kind        MarkerKind    `json:"kind"`
	LngLat      models.LngLat `json:"lngLat"`
	Color       string        `json:"color"`
	Scale       float64       `json:"scale"`
	Label       string        `json:"label,omitempty"`
	Description string        `json:"description,omitempty"`
}

// MarkerHandle is the owner's handle to an installed marker.
type MarkerHandle interface {
	ID() string
	Remove() error
}

// Popup is a closable info bubble.
type Popup struct {
	ID       string        `json:"id"`
	LayerID  string        `json:"layerId,omitempty"`
	LngLat   models.LngLat `json:"lngLat"`
	Title    string        `json:"title"`
	Lines    []string      `json:"lines"`
	Closable bool          `json:"closable"`
}

// PopupHandle is the owner's handle to an open popup.
type PopupHandle interface {
	ID() string
	Close()
}

// FitOptions control viewport fitting.
type FitOptions struct {
	Padding  float64
	MaxZoom  float64
	Duration time.Duration
}

// Map is the subset of a map engine the renderer and interaction layer drive.
type Map interface {
	AddSource(id string, data *geojson.FeatureCollection) error
	RemoveSource(id string) error
	AddLayer(layer Layer) error
	RemoveLayer(id string) error
	SetLineWidth(layerID string, width float64) error
	AddMarker(m Marker) (MarkerHandle, error)
	OpenPopup(p Popup) (PopupHandle, error)
	On(event EventType, layerID string, h EventHandler) error
	Off(event EventType, layerID string)
	SetCursor(cursor string)
	FitBounds(bounds orb.Bound, opts FitOptions) error
}

// Viewport is the fitted camera of a scene.
type Viewport struct {
	Bounds     [2][2]float64 `json:"bounds"`
	Padding    float64       `json:"padding"`
	MaxZoom    float64       `json:"maxZoom"`
	DurationMs int64         `json:"durationMs"`
}

// SceneDocument is the serializable state of a Scene, applied verbatim by the browser map.
type SceneDocument struct {
	Sources  map[string]json.RawMessage `json:"sources"`
	Layers   []Layer                    `json:"layers"`
	Markers  []Marker                   `json:"markers"`
	Popups   []Popup                    `json:"popups"`
	Bindings map[string][]EventType     `json:"bindings"`
	Cursor   string                     `json:"cursor,omitempty"`
	Viewport *Viewport                  `json:"viewport,omitempty"`
}

var _ Map = (*Scene)(nil)

// Scene is an in-memory map engine. It is as strict as a browser map engine: duplicate IDs,
// unknown IDs and removing a source still referenced by a layer all fail.
type Scene struct {
	mu          sync.Mutex
	sources     map[string]*geojson.FeatureCollection
	layers      []Layer
	markers     map[string]Marker
	markerOrder []string
	popups      map[string]Popup
	popupOrder  []string
	handlers    map[string]map[EventType]EventHandler
	cursor      string
	viewport    *Viewport
	seq         int
}

// NewScene creates an empty scene.
func NewScene() *Scene {
	return &Scene{
		sources:  make(map[string]*geojson.FeatureCollection),
		markers:  make(map[string]Marker),
		popups:   make(map[string]Popup),
		handlers: make(map[string]map[EventType]EventHandler),
	}
}

func (s *Scene) AddSource(id string, data *geojson.FeatureCollection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sources[id]; ok {
		return fmt.Errorf("%w: source %q already exists", models.ErrRender, id)
	}
	if data == nil {
		data = geojson.NewFeatureCollection()
	}
	s.sources[id] = data
	return nil
}

func (s *Scene) RemoveSource(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sources[id]; !ok {
		return fmt.Errorf("%w: source %q does not exist", models.ErrRender, id)
	}
	for _, l := range s.layers {
		if l.Source == id {
			return fmt.Errorf("%w: source %q is still used by layer %q", models.ErrRender, id, l.ID)
		}
	}
	delete(s.sources, id)
	return nil
}

func (s *Scene) AddLayer(layer Layer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.layerIndex(layer.ID) >= 0 {
		return fmt.Errorf("%w: layer %q already exists", models.ErrRender, layer.ID)
	}
	if _, ok := s.sources[layer.Source]; !ok {
		return fmt.Errorf("%w: layer %q references missing source %q", models.ErrRender, layer.ID, layer.Source)
	}
	layer.Paint.LineDasharray = append([]float64(nil), layer.Paint.LineDasharray...)
	s.layers = append(s.layers, layer)
	return nil
}

func (s *Scene) RemoveLayer(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.layerIndex(id)
	if i < 0 {
		return fmt.Errorf("%w: layer %q does not exist", models.ErrRender, id)
	}
	s.layers = append(s.layers[:i], s.layers[i+1:]...)
	delete(s.handlers, id)
	return nil
}

func (s *Scene) SetLineWidth(layerID string, width float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.layerIndex(layerID)
	if i < 0 {
		return fmt.Errorf("%w: layer %q does not exist", models.ErrRender, layerID)
	}
	s.layers[i].Paint.LineWidth = width
	return nil
}

func (s *Scene) AddMarker(m Marker) (MarkerHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	m.ID = fmt.Sprintf("marker-%d", s.seq)
	s.markers[m.ID] = m
	s.markerOrder = append(s.markerOrder, m.ID)
	return &sceneMarker{scene: s, id: m.ID}, nil
}

func (s *Scene) OpenPopup(p Popup) (PopupHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	p.ID = fmt.Sprintf("popup-%d", s.seq)
	p.Lines = append([]string(nil), p.Lines...)
	s.popups[p.ID] = p
	s.popupOrder = append(s.popupOrder, p.ID)
	return &scenePopup{scene: s, id: p.ID}, nil
}

func (s *Scene) On(event EventType, layerID string, h EventHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.layerIndex(layerID) < 0 {
		return fmt.Errorf("%w: cannot bind %s to missing layer %q", models.ErrRender, event, layerID)
	}
	if s.handlers[layerID] == nil {
		s.handlers[layerID] = make(map[EventType]EventHandler)
	}
	s.handlers[layerID][event] = h
	return nil
}

func (s *Scene) Off(event EventType, layerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if hs, ok := s.handlers[layerID]; ok {
		delete(hs, event)
		if len(hs) == 0 {
			delete(s.handlers, layerID)
		}
	}
}

func (s *Scene) SetCursor(cursor string) {
	s.mu.Lock()
	s.cursor = cursor
	s.mu.Unlock()
}

func (s *Scene) FitBounds(bounds orb.Bound, opts FitOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewport = &Viewport{
		Bounds:     [2][2]float64{{bounds.Min[0], bounds.Min[1]}, {bounds.Max[0], bounds.Max[1]}},
		Padding:    opts.Padding,
		MaxZoom:    opts.MaxZoom,
		DurationMs: opts.Duration.Milliseconds(),
	}
	return nil
}

// Fire dispatches a pointer event to the handler bound on layerID, if any.
// It reports whether a handler ran.
func (s *Scene) Fire(event EventType, layerID string, at models.LngLat) bool {
	s.mu.Lock()
	h := s.handlers[layerID][event]
	s.mu.Unlock()
	if h == nil {
		return false
	}
	h(MapEvent{Type: event, LayerID: layerID, LngLat: at})
	return true
}

// Layer returns a copy of the named layer.
func (s *Scene) Layer(id string) (Layer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.layerIndex(id)
	if i < 0 {
		return Layer{}, false
	}
	return s.layers[i], true
}

// LayerIDs lists layers in draw order.
func (s *Scene) LayerIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, len(s.layers))
	for i, l := range s.layers {
		ids[i] = l.ID
	}
	return ids
}

// SourceIDs lists sources sorted by ID.
func (s *Scene) SourceIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sources))
	for id := range s.sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Markers lists markers in insertion order.
func (s *Scene) Markers() []Marker {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Marker, 0, len(s.markerOrder))
	for _, id := range s.markerOrder {
		out = append(out, s.markers[id])
	}
	return out
}

// Popups lists open popups in insertion order.
func (s *Scene) Popups() []Popup {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Popup, 0, len(s.popupOrder))
	for _, id := range s.popupOrder {
		out = append(out, s.popups[id])
	}
	return out
}

// Cursor returns the current pointer cursor.
func (s *Scene) Cursor() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Viewport returns the last fitted viewport, or nil when never fitted.
func (s *Scene) Viewport() *Viewport {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.viewport == nil {
		return nil
	}
	v := *s.viewport
	return &v
}

// Document snapshots the scene.
func (s *Scene) Document() (SceneDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := SceneDocument{
		Sources:  make(map[string]json.RawMessage, len(s.sources)),
		Layers:   append([]Layer{}, s.layers...),
		Markers:  make([]Marker, 0, len(s.markerOrder)),
		Popups:   make([]Popup, 0, len(s.popupOrder)),
		Bindings: make(map[string][]EventType, len(s.handlers)),
		Cursor:   s.cursor,
	}
	for id, fc := range s.sources {
		raw, err := fc.MarshalJSON()
		if err != nil {
			return SceneDocument{}, fmt.Errorf("%w: encoding source %q: %v", models.ErrRender, id, err)
		}
		doc.Sources[id] = raw
	}
	for _, id := range s.markerOrder {
		doc.Markers = append(doc.Markers, s.markers[id])
	}
	for _, id := range s.popupOrder {
		doc.Popups = append(doc.Popups, s.popups[id])
	}
	for layerID, hs := range s.handlers {
		events := make([]EventType, 0, len(hs))
		for ev := range hs {
			events = append(events, ev)
		}
		sort.Slice(events, func(i, j int) bool { return events[i] < events[j] })
		doc.Bindings[layerID] = events
	}
	if s.viewport != nil {
		v := *s.viewport
		doc.Viewport = &v
	}
	return doc, nil
}

func (s *Scene) layerIndex(id string) int {
	for i, l := range s.layers {
		if l.ID == id {
			return i
		}
	}
	return -1
}

func (s *Scene) removeMarker(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markers[id]; !ok {
		return fmt.Errorf("%w: marker %q does not exist", models.ErrRender, id)
	}
	delete(s.markers, id)
	s.markerOrder = removeID(s.markerOrder, id)
	return nil
}

func (s *Scene) closePopup(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.popups[id]; !ok {
		return
	}
	delete(s.popups, id)
	s.popupOrder = removeID(s.popupOrder, id)
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

type sceneMarker struct {
	scene *Scene
	id    string
}

func (m *sceneMarker) ID() string { return m.id }
func (m *sceneMarker) Remove() error { return m.scene.removeMarker(m.id) }

type scenePopup struct {
	scene *Scene
	id    string
}

func (p *scenePopup) ID() string { return p.id }
func (p *scenePopup) Close() { p.scene.closePopup(p.id) }
