package routemap

import "fmt"

// LayerSet is the bookkeeping of everything one render pass installed on a map.
// Teardown disposes exactly these handles and never queries the map for leftovers.
type LayerSet struct {
	Sources []string
	Layers  []string
	Markers []MarkerHandle
}

// Empty reports whether nothing is installed.
func (s LayerSet) Empty() bool {
	return len(s.Sources) == 0 && len(s.Layers) == 0 && len(s.Markers) == 0
}

func (s *LayerSet) clone() LayerSet {
	if s == nil {
		return LayerSet{}
	}
	return LayerSet{
		Sources: append([]string(nil), s.Sources...),
		Layers:  append([]string(nil), s.Layers...),
		Markers: append([]MarkerHandle(nil), s.Markers...),
	}
}

// SourceID is the deterministic source ID of segment i.
func SourceID(i int) string { return fmt.Sprintf("route-source-%d", i) }

// LayerID is the deterministic primary layer ID of segment i.
func LayerID(i int) string { return fmt.Sprintf("route-layer-%d", i) }

// GlowLayerID derives the glow layer ID from a primary layer ID.
func GlowLayerID(layerID string) string { return layerID + "-glow" }
