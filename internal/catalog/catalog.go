// Package catalog holds the static provider reference data: tourism content
// types with their target tables, administrative area codes, and the weather
// grid coordinates the forecast endpoints address.
package catalog

import "sort"

// ContentType is the tourism provider's numeric tag for an entity class.
type ContentType int

const (
	ContentTouristSpot      ContentType = 12
	ContentCulturalFacility ContentType = 14
	ContentFestival         ContentType = 15
	ContentTravelCourse     ContentType = 25
	ContentLeisureSports    ContentType = 28
	ContentAccommodation    ContentType = 32
	ContentShopping         ContentType = 38
	ContentRestaurant       ContentType = 39
)

// contentTables maps each content type to its landed table.
var contentTables = map[ContentType]string{
	ContentTouristSpot:      "tourist_attractions",
	ContentCulturalFacility: "cultural_facilities",
	ContentFestival:         "festivals_events",
	ContentTravelCourse:     "travel_courses",
	ContentLeisureSports:    "leisure_sports",
	ContentAccommodation:    "accommodations",
	ContentShopping:         "shopping",
	ContentRestaurant:       "restaurants",
}

// Table returns the landed table for a content type and whether it is known.
func (c ContentType) Table() (string, bool) {
	t, ok := contentTables[c]
	return t, ok
}

// ContentTypes returns every catalogued content type in ascending order.
func ContentTypes() []ContentType {
	out := make([]ContentType, 0, len(contentTables))
	for c := range contentTables {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// AreaCodes maps region names to the tourism provider's area codes.
var AreaCodes = map[string]int{
	"서울": 1,
	"인천": 2,
	"대전": 3,
	"대구": 4,
	"광주": 5,
	"부산": 6,
	"울산": 7,
	"세종": 8,
	"경기": 31,
	"강원": 32,
	"충북": 33,
	"충남": 34,
	"경북": 35,
	"경남": 36,
	"전북": 37,
	"전남": 38,
	"제주": 39,
}

// AllAreaCodes returns the catalogued area codes in ascending order.
func AllAreaCodes() []int {
	out := make([]int, 0, len(AreaCodes))
	for _, code := range AreaCodes {
		out = append(out, code)
	}
	sort.Ints(out)
	return out
}

// GridPoint is one weather-grid cell with its representative coordinates.
type GridPoint struct {
	Region string
	NX     int
	NY     int
	Lat    float64
	Lon    float64
}

// WeatherGrid maps region names to their forecast grid cells.
var WeatherGrid = map[string]GridPoint{
	"서울": {Region: "서울", NX: 60, NY: 127, Lat: 37.5665, Lon: 126.9780},
	"부산": {Region: "부산", NX: 98, NY: 76, Lat: 35.1796, Lon: 129.0756},
	"대구": {Region: "대구", NX: 89, NY: 90, Lat: 35.8714, Lon: 128.6014},
	"인천": {Region: "인천", NX: 55, NY: 124, Lat: 37.4563, Lon: 126.7052},
	"광주": {Region: "광주", NX: 58, NY: 74, Lat: 35.1595, Lon: 126.8526},
	"대전": {Region: "대전", NX: 67, NY: 100, Lat: 36.3504, Lon: 127.3845},
	"울산": {Region: "울산", NX: 102, NY: 84, Lat: 35.5384, Lon: 129.3114},
	"세종": {Region: "세종", NX: 66, NY: 103, Lat: 36.4800, Lon: 127.2890},
	"제주": {Region: "제주", NX: 52, NY: 38, Lat: 33.4996, Lon: 126.5312},
}

// GridPoints returns the catalogued grid cells sorted by region name so a
// harvest visits them in a stable order.
func GridPoints(regions ...string) []GridPoint {
	if len(regions) == 0 {
		out := make([]GridPoint, 0, len(WeatherGrid))
		for _, p := range WeatherGrid {
			out = append(out, p)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Region < out[j].Region })
		return out
	}
	out := make([]GridPoint, 0, len(regions))
	for _, r := range regions {
		if p, ok := WeatherGrid[r]; ok {
			out = append(out, p)
		}
	}
	return out
}

// RegionCode returns the area code used as region_code in the weather tables.
// Weather regions reuse the tourism area code of the same region.
func RegionCode(region string) (int, bool) {
	code, ok := AreaCodes[region]
	return code, ok
}
