package cap

import (
	"bytes"
	"encoding/xml"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"golang.org/x/text/encoding/htmlindex"
)

// DefaultHeadline is substituted when a document carries no headline.
const DefaultHeadline = "Weather Alert"

// capDocument mirrors the subset of the CAP schema we consume.
type capDocument struct {
	XMLName    xml.Name  `xml:"alert"`
	Identifier string    `xml:"identifier"`
	Sent       string    `xml:"sent"`
	Infos      []capInfo `xml:"info"`
}

type capInfo struct {
	Language    string    `xml:"language"`
	Event       string    `xml:"event"`
	Urgency     string    `xml:"urgency"`
	Severity    string    `xml:"severity"`
	Certainty   string    `xml:"certainty"`
	Effective   string    `xml:"effective"`
	Expires     string    `xml:"expires"`
	Headline    string    `xml:"headline"`
	Description string    `xml:"description"`
	Instruction string    `xml:"instruction"`
	Web         string    `xml:"web"`
	Areas       []capArea `xml:"area"`
}

type capArea struct {
	AreaDesc string   `xml:"areaDesc"`
	Polygons []string `xml:"polygon"`
	Circles  []string `xml:"circle"`
}

// Parse converts one raw CAP document into an Alert. A document that fails
// XML decoding yields an error the caller treats as skip-and-continue;
// everything below the document level defaults instead of failing.
func Parse(raw []byte, sourcePath string) (*Alert, error) {
	decoder := xml.NewDecoder(bytes.NewReader(raw))
	decoder.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return nil, eris.Wrapf(err, "cap: unsupported charset %q", charset)
		}
		return enc.NewDecoder().Reader(input), nil
	}

	var doc capDocument
	if err := decoder.Decode(&doc); err != nil {
		return nil, eris.Wrapf(err, "cap: decode document %s", sourcePath)
	}

	info := pickInfo(doc.Infos)

	alert := &Alert{
		ID:          doc.Identifier,
		Title:       strings.TrimSpace(info.Headline),
		Description: strings.TrimSpace(info.Description),
		Instruction: strings.TrimSpace(info.Instruction),
		Severity:    ParseSeverity(info.Severity),
		Urgency:     ParseUrgency(info.Urgency),
		Certainty:   ParseCertainty(info.Certainty),
		Effective:   parseTime(info.Effective),
		Expires:     parseTime(info.Expires),
		Sent:        parseTime(doc.Sent),
		SourcePath:  sourcePath,
		Link:        strings.TrimSpace(info.Web),
	}

	if alert.Title == "" {
		alert.Title = DefaultHeadline
	}
	if alert.ID == "" {
		alert.ID = fallbackID(sourcePath)
	}

	for _, a := range info.Areas {
		desc := strings.TrimSpace(a.AreaDesc)
		if desc == "" && len(a.Polygons) == 0 && len(a.Circles) == 0 {
			continue
		}
		area := Area{Description: desc}
		for _, text := range a.Polygons {
			poly, err := ParsePolygonText(text)
			if err != nil {
				continue // malformed geometry degrades to name matching
			}
			area.Polygon = poly
			break
		}
		for _, text := range a.Circles {
			circle, err := ParseCircleText(text)
			if err != nil {
				continue
			}
			area.Circle = circle
			break
		}
		alert.Areas = append(alert.Areas, area)
	}

	return alert, nil
}

// pickInfo prefers the first English info block; documents are commonly
// bilingual with English and French blocks side by side.
func pickInfo(infos []capInfo) capInfo {
	for _, info := range infos {
		if strings.HasPrefix(strings.ToLower(info.Language), "en") {
			return info
		}
	}
	if len(infos) > 0 {
		return infos[0]
	}
	return capInfo{}
}

// fallbackID derives a stable identifier from the source path so repeated
// parses of the same document conflate rather than multiply.
func fallbackID(sourcePath string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(sourcePath)).String()
}

// capTimeLayouts covers the timestamp shapes observed in the wild.
var capTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05",
}

// parseTime parses defensively: any unparsable or empty value is nil.
func parseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range capTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// ParsePolygonText parses CAP polygon text ("lat1,lon1 lat2,lon2 ...") into
// a polygon whose coordinates are reordered to (longitude, latitude). The
// axis swap is load-bearing: the source writes lat,lon while every geometry
// consumer here expects lon,lat. The ring is closed if the source left it
// open.
func ParsePolygonText(text string) (*geom.Polygon, error) {
	pairs := strings.Fields(text)
	if len(pairs) < 3 {
		return nil, eris.Errorf("cap: polygon needs at least 3 vertices, got %d", len(pairs))
	}

	flat := make([]float64, 0, (len(pairs)+1)*2)
	for _, pair := range pairs {
		lon, lat, err := parseLatLonPair(pair)
		if err != nil {
			return nil, err
		}
		flat = append(flat, lon, lat)
	}

	// Close the ring when the source omitted the final vertex.
	if flat[0] != flat[len(flat)-2] || flat[1] != flat[len(flat)-1] {
		flat = append(flat, flat[0], flat[1])
	}

	poly := geom.NewPolygon(geom.XY)
	if err := poly.Push(geom.NewLinearRingFlat(geom.XY, flat)); err != nil {
		return nil, eris.Wrap(err, "cap: build polygon ring")
	}
	return poly, nil
}

// ParseCircleText parses CAP circle text ("lat,lon radiusKm") into a Circle
// with a (lon, lat) centre.
func ParseCircleText(text string) (*Circle, error) {
	parts := strings.Fields(text)
	if len(parts) != 2 {
		return nil, eris.Errorf("cap: circle wants %q form, got %q", "lat,lon radius", text)
	}
	lon, lat, err := parseLatLonPair(parts[0])
	if err != nil {
		return nil, err
	}
	radius, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return nil, eris.Wrapf(err, "cap: circle radius %q", parts[1])
	}
	return &Circle{Center: geom.Coord{lon, lat}, RadiusKM: radius}, nil
}

// parseLatLonPair splits "lat,lon" and returns (lon, lat).
func parseLatLonPair(pair string) (lon, lat float64, err error) {
	parts := strings.Split(pair, ",")
	if len(parts) != 2 {
		return 0, 0, eris.Errorf("cap: coordinate pair %q", pair)
	}
	lat, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, eris.Wrapf(err, "cap: latitude %q", parts[0])
	}
	lon, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, eris.Wrapf(err, "cap: longitude %q", parts[1])
	}
	return lon, lat, nil
}

// FormatPolygonText serializes a polygon back to CAP polygon text,
// re-applying the lat,lon order the source format uses.
func FormatPolygonText(poly *geom.Polygon) string {
	if poly == nil || poly.NumLinearRings() == 0 {
		return ""
	}
	coords := poly.LinearRing(0).Coords()
	pairs := make([]string, 0, len(coords))
	for _, c := range coords {
		pairs = append(pairs, strconv.FormatFloat(c[1], 'f', -1, 64)+","+strconv.FormatFloat(c[0], 'f', -1, 64))
	}
	return strings.Join(pairs, " ")
}
