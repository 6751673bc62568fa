package device

import (
	"fmt"
	"net"

	"github.com/mileusna/useragent"
	"github.com/oschwald/maxminddb-golang"

	"github.com/your-org/faceguard/internal/models"
)

// IPLocation is a coarse geolocation for an address.
type IPLocation struct {
	Country string
	City    string
	Lat     float64
	Lon     float64
}

// GeoResolver maps an IP to a coarse location.
type GeoResolver interface {
	Lookup(ip string) (*IPLocation, error)
}

// ParseInfo builds the device-info blob stored with each attempt. geo may be
// nil; lookup failures leave the location fields empty.
func ParseInfo(a Attributes, geo GeoResolver) models.DeviceInfo {
	ua := useragent.Parse(a.UserAgent)

	info := models.DeviceInfo{
		Fingerprint:    Fingerprint(a),
		Browser:        ua.Name,
		BrowserVersion: ua.Version,
		OS:             ua.OS,
		OSVersion:      ua.OSVersion,
		Device:         ua.Device,
		DeviceType:     deviceType(ua),
		IP:             a.IP,
		UserAgent:      a.UserAgent,
	}
	if info.Browser == "" {
		info.Browser = a.Hints.Browser
	}
	if info.DeviceType == "unknown" && a.Hints.DeviceType != "" {
		info.DeviceType = a.Hints.DeviceType
	}

	if geo != nil && a.IP != "" {
		if loc, err := geo.Lookup(a.IP); err == nil && loc != nil {
			info.Country = loc.Country
			info.City = loc.City
		}
	}
	return info
}

func deviceType(ua useragent.UserAgent) string {
	switch {
	case ua.Bot:
		return "bot"
	case ua.Tablet:
		return "tablet"
	case ua.Mobile:
		return "mobile"
	case ua.Desktop:
		return "desktop"
	default:
		return "unknown"
	}
}

type maxmindRecord struct {
	City struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"city"`
	Location struct {
		Latitude  float64 `maxminddb:"latitude"`
		Longitude float64 `maxminddb:"longitude"`
	} `maxminddb:"location"`
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
}

// MaxMindResolver reads a GeoLite2/GeoIP2 City database.
type MaxMindResolver struct {
	db *maxminddb.Reader
}

func OpenMaxMind(path string) (*MaxMindResolver, error) {
	db, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open maxmind db: %w", err)
	}
	return &MaxMindResolver{db: db}, nil
}

func (m *MaxMindResolver) Lookup(ip string) (*IPLocation, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil, fmt.Errorf("invalid ip %q", ip)
	}
	var rec maxmindRecord
	if err := m.db.Lookup(parsed, &rec); err != nil {
		return nil, fmt.Errorf("lookup %s: %w", ip, err)
	}
	return &IPLocation{
		Country: rec.Country.ISOCode,
		City:    rec.City.Names["en"],
		Lat:     rec.Location.Latitude,
		Lon:     rec.Location.Longitude,
	}, nil
}

func (m *MaxMindResolver) Close() error {
	return m.db.Close()
}
