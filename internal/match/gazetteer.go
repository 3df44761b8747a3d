package match

import (
	"github.com/twpayne/go-geom"

	"github.com/capwatch/capwatch/internal/geodesy"
)

// Entry maps an approximate bounding box to the names a prose area
// description might use for places inside it: a locality anchor, the
// administrative region with its abbreviations, and nearby or synonymous
// region names. Entries are hand-authored; precision is deliberately coarse
// since they back only the name-fallback matching tier.
type Entry struct {
	Locality string
	Region   string
	Abbr     []string
	Nearby   []string
	Box      geodesy.BBox
}

// Gazetteer resolves a coordinate to the set of place names that could
// plausibly appear in an alert's free-text area description.
type Gazetteer struct {
	entries []Entry
}

// NewGazetteer builds a gazetteer from the given entries.
func NewGazetteer(entries []Entry) *Gazetteer {
	return &Gazetteer{entries: entries}
}

// Resolve returns the deduplicated name candidates for every entry whose box
// contains the point. An empty result means the name-fallback tier cannot
// match, never that it always matches.
func (g *Gazetteer) Resolve(p geom.Coord) []string {
	seen := make(map[string]struct{})
	var names []string
	add := func(n string) {
		if n == "" {
			return
		}
		if _, ok := seen[n]; ok {
			return
		}
		seen[n] = struct{}{}
		names = append(names, n)
	}

	for _, e := range g.entries {
		if !e.Box.Contains(p) {
			continue
		}
		add(e.Locality)
		add(e.Region)
		for _, a := range e.Abbr {
			add(a)
		}
		for _, n := range e.Nearby {
			add(n)
		}
	}
	return names
}

// DefaultGazetteer covers the Canadian provinces and territories plus the
// metropolitan areas that dominate alert traffic. City boxes sit inside
// their province box; Resolve merges both.
func DefaultGazetteer() *Gazetteer {
	return NewGazetteer([]Entry{
		// Provinces and territories.
		{Region: "Ontario", Abbr: []string{"ON", "Ont."},
			Box: geodesy.BBox{MinLon: -95.2, MinLat: 41.7, MaxLon: -74.3, MaxLat: 56.9}},
		{Region: "Quebec", Abbr: []string{"QC", "Que."}, Nearby: []string{"Québec"},
			Box: geodesy.BBox{MinLon: -79.8, MinLat: 45.0, MaxLon: -57.1, MaxLat: 62.6}},
		{Region: "British Columbia", Abbr: []string{"BC", "B.C."},
			Box: geodesy.BBox{MinLon: -139.1, MinLat: 48.3, MaxLon: -114.0, MaxLat: 60.0}},
		{Region: "Alberta", Abbr: []string{"AB", "Alta."},
			Box: geodesy.BBox{MinLon: -120.0, MinLat: 49.0, MaxLon: -110.0, MaxLat: 60.0}},
		{Region: "Saskatchewan", Abbr: []string{"SK", "Sask."},
			Box: geodesy.BBox{MinLon: -110.0, MinLat: 49.0, MaxLon: -101.4, MaxLat: 60.0}},
		{Region: "Manitoba", Abbr: []string{"MB", "Man."},
			Box: geodesy.BBox{MinLon: -102.0, MinLat: 49.0, MaxLon: -89.0, MaxLat: 60.0}},
		{Region: "Nova Scotia", Abbr: []string{"NS", "N.S."},
			Box: geodesy.BBox{MinLon: -66.4, MinLat: 43.4, MaxLon: -59.7, MaxLat: 47.1}},
		{Region: "New Brunswick", Abbr: []string{"NB", "N.B."},
			Box: geodesy.BBox{MinLon: -69.1, MinLat: 44.6, MaxLon: -63.7, MaxLat: 48.1}},
		{Region: "Prince Edward Island", Abbr: []string{"PE", "PEI", "P.E.I."},
			Box: geodesy.BBox{MinLon: -64.5, MinLat: 45.9, MaxLon: -61.9, MaxLat: 47.1}},
		{Region: "Newfoundland and Labrador", Abbr: []string{"NL", "N.L."}, Nearby: []string{"Newfoundland", "Labrador"},
			Box: geodesy.BBox{MinLon: -67.8, MinLat: 46.6, MaxLon: -52.6, MaxLat: 60.4}},
		{Region: "Yukon", Abbr: []string{"YT"},
			Box: geodesy.BBox{MinLon: -141.0, MinLat: 60.0, MaxLon: -123.8, MaxLat: 69.7}},
		{Region: "Northwest Territories", Abbr: []string{"NT", "N.W.T."},
			Box: geodesy.BBox{MinLon: -136.5, MinLat: 60.0, MaxLon: -102.0, MaxLat: 78.8}},
		{Region: "Nunavut", Abbr: []string{"NU"},
			Box: geodesy.BBox{MinLon: -120.7, MinLat: 51.7, MaxLon: -61.1, MaxLat: 83.1}},

		// Metropolitan localities.
		{Locality: "Ottawa", Region: "Ontario",
			Nearby: []string{"Gatineau", "Prescott and Russell", "National Capital Region"},
			Box:    geodesy.BBox{MinLon: -76.4, MinLat: 45.0, MaxLon: -75.2, MaxLat: 45.6}},
		{Locality: "Toronto", Region: "Ontario",
			Nearby: []string{"Greater Toronto Area", "GTA", "Peel Region", "York Region", "Durham Region"},
			Box:    geodesy.BBox{MinLon: -79.8, MinLat: 43.4, MaxLon: -78.9, MaxLat: 44.0}},
		{Locality: "Montreal", Region: "Quebec",
			Nearby: []string{"Montréal", "Laval", "Longueuil", "Montérégie"},
			Box:    geodesy.BBox{MinLon: -74.1, MinLat: 45.3, MaxLon: -73.3, MaxLat: 45.8}},
		{Locality: "Vancouver", Region: "British Columbia",
			Nearby: []string{"Metro Vancouver", "Lower Mainland", "Fraser Valley"},
			Box:    geodesy.BBox{MinLon: -123.4, MinLat: 49.0, MaxLon: -122.4, MaxLat: 49.5}},
		{Locality: "Calgary", Region: "Alberta",
			Nearby: []string{"Rocky View County", "Foothills County"},
			Box:    geodesy.BBox{MinLon: -114.4, MinLat: 50.8, MaxLon: -113.8, MaxLat: 51.3}},
		{Locality: "Edmonton", Region: "Alberta",
			Nearby: []string{"St. Albert", "Strathcona County", "Sherwood Park"},
			Box:    geodesy.BBox{MinLon: -113.8, MinLat: 53.3, MaxLon: -113.2, MaxLat: 53.8}},
		{Locality: "Winnipeg", Region: "Manitoba",
			Nearby: []string{"Red River Valley", "Interlake"},
			Box:    geodesy.BBox{MinLon: -97.4, MinLat: 49.7, MaxLon: -96.9, MaxLat: 50.0}},
		{Locality: "Halifax", Region: "Nova Scotia",
			Nearby: []string{"Halifax Regional Municipality", "HRM"},
			Box:    geodesy.BBox{MinLon: -63.9, MinLat: 44.5, MaxLon: -63.3, MaxLat: 44.9}},
		{Locality: "Saskatoon", Region: "Saskatchewan",
			Nearby: []string{"Corman Park"},
			Box:    geodesy.BBox{MinLon: -106.9, MinLat: 52.0, MaxLon: -106.4, MaxLat: 52.3}},
		{Locality: "St. John's", Region: "Newfoundland and Labrador",
			Nearby: []string{"Avalon Peninsula", "Mount Pearl"},
			Box:    geodesy.BBox{MinLon: -53.0, MinLat: 47.4, MaxLon: -52.6, MaxLat: 47.7}},
	})
}
