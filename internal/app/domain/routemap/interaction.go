package routemap

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/FACorreiaa/outdoor-explorer/internal/app/models"
)

const (
	hoverWidthFactor = 1.5
	cursorPointer    = "pointer"
)

type bindingKey struct {
	m       Map
	layerID string
}

type binding struct {
	baseWidth float64
	popups    []PopupHandle
}

// Interaction binds hover and click behaviour to route layers. Bindings are per layer ID and
// must be re-created after every render pass because teardown drops them.
type Interaction struct {
	logger   *zap.Logger
	mu       sync.Mutex
	bindings map[bindingKey]*binding
}

// NewInteraction creates an Interaction.
func NewInteraction(logger *zap.Logger) *Interaction {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Interaction{
		logger:   logger,
		bindings: make(map[bindingKey]*binding),
	}
}

// Bind registers hover-in, hover-out and click handlers for seg on layerID.
func (i *Interaction) Bind(m Map, seg models.Segment, layerID string) error {
	i.Unbind(m, layerID)

	key := bindingKey{m: m, layerID: layerID}
	b := &binding{baseWidth: StyleFor(seg.Mode).Width}
	i.mu.Lock()
	i.bindings[key] = b
	i.mu.Unlock()

	handlers := []struct {
		event EventType
		fn    EventHandler
	}{
		{EventMouseEnter, func(MapEvent) {
			m.SetCursor(cursorPointer)
			if err := m.SetLineWidth(layerID, b.baseWidth*hoverWidthFactor); err != nil {
				i.logger.Debug("Hover highlight failed", zap.String("layer", layerID), zap.Error(err))
			}
		}},
		{EventMouseLeave, func(MapEvent) {
			m.SetCursor("")
			if err := m.SetLineWidth(layerID, b.baseWidth); err != nil {
				i.logger.Debug("Hover reset failed", zap.String("layer", layerID), zap.Error(err))
			}
		}},
		{EventClick, func(ev MapEvent) {
			i.openPopup(m, key, seg, ev.LngLat)
		}},
	}
	for _, h := range handlers {
		if err := m.On(h.event, layerID, h.fn); err != nil {
			i.Unbind(m, layerID)
			return err
		}
	}
	return nil
}

// Unbind removes the handlers of layerID and closes every popup it opened.
func (i *Interaction) Unbind(m Map, layerID string) {
	key := bindingKey{m: m, layerID: layerID}
	i.mu.Lock()
	b, ok := i.bindings[key]
	delete(i.bindings, key)
	i.mu.Unlock()
	if !ok {
		return
	}
	for _, ev := range []EventType{EventMouseEnter, EventMouseLeave, EventClick} {
		m.Off(ev, layerID)
	}
	for _, p := range b.popups {
		p.Close()
	}
}

// Bound reports whether layerID currently has handlers from this Interaction.
func (i *Interaction) Bound(m Map, layerID string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.bindings[bindingKey{m: m, layerID: layerID}]
	return ok
}

func (i *Interaction) openPopup(m Map, key bindingKey, seg models.Segment, at models.LngLat) {
	p, err := m.OpenPopup(Popup{
		LayerID:  key.layerID,
		LngLat:   at,
		Title:    modeTitle(seg.Mode),
		Lines:    PopupLines(seg),
		Closable: true,
	})
	if err != nil {
		i.logger.Warn("Could not open route popup", zap.String("layer", key.layerID), zap.Error(err))
		return
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	b, ok := i.bindings[key]
	if !ok {
		// unbound while the click was in flight
		p.Close()
		return
	}
	b.popups = append(b.popups, p)
}

// PopupLines builds the detail lines shown for a segment.
func PopupLines(seg models.Segment) []string {
	lines := []string{
		"From: " + orPlaceholder(seg.From, "Unknown"),
		"To: " + orPlaceholder(seg.To, "Unknown"),
		"Distance: " + FormatDistance(seg.Distance),
		"Duration: " + FormatDuration(seg.Duration),
	}
	if seg.ElevationGain != nil {
		lines = append(lines, "Elevation gain: "+FormatElevation(*seg.ElevationGain))
	}
	if t := strings.TrimSpace(seg.Terrain); t != "" {
		lines = append(lines, "Terrain: "+t)
	}
	if d := strings.TrimSpace(seg.Description); d != "" {
		lines = append(lines, d)
	}
	return lines
}

func modeTitle(mode models.TravelMode) string {
	if mode == "" {
		return "Route"
	}
	return cases.Title(language.English).String(string(mode))
}

func orPlaceholder(s, placeholder string) string {
	if strings.TrimSpace(s) == "" {
		return placeholder
	}
	return s
}
