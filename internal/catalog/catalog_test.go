package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentTypeTables(t *testing.T) {
	tests := []struct {
		ct    ContentType
		table string
	}{
		{ContentTouristSpot, "tourist_attractions"},
		{ContentCulturalFacility, "cultural_facilities"},
		{ContentFestival, "festivals_events"},
		{ContentTravelCourse, "travel_courses"},
		{ContentLeisureSports, "leisure_sports"},
		{ContentAccommodation, "accommodations"},
		{ContentShopping, "shopping"},
		{ContentRestaurant, "restaurants"},
	}

	for _, tt := range tests {
		table, ok := tt.ct.Table()
		require.True(t, ok, "content type %d", tt.ct)
		assert.Equal(t, tt.table, table)
	}

	_, ok := ContentType(99).Table()
	assert.False(t, ok)
}

func TestContentTypesOrdered(t *testing.T) {
	cts := ContentTypes()
	require.Len(t, cts, 8)
	assert.Equal(t, ContentTouristSpot, cts[0])
	assert.Equal(t, ContentRestaurant, cts[7])
	for i := 1; i < len(cts); i++ {
		assert.Less(t, cts[i-1], cts[i])
	}
}

func TestAreaCodes(t *testing.T) {
	assert.Equal(t, 1, AreaCodes["서울"])
	assert.Equal(t, 6, AreaCodes["부산"])
	assert.Equal(t, 39, AreaCodes["제주"])

	all := AllAreaCodes()
	require.Len(t, all, 17)
	assert.Equal(t, 1, all[0])
	assert.Equal(t, 39, all[len(all)-1])
}

func TestWeatherGrid(t *testing.T) {
	seoul, ok := WeatherGrid["서울"]
	require.True(t, ok)
	assert.Equal(t, 60, seoul.NX)
	assert.Equal(t, 127, seoul.NY)
	assert.InDelta(t, 37.5665, seoul.Lat, 0.0001)

	all := GridPoints()
	require.Len(t, all, 9)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].Region, all[i].Region)
	}

	some := GridPoints("부산", "없는지역", "제주")
	require.Len(t, some, 2)
	assert.Equal(t, "부산", some[0].Region)
}

func TestRegionCode(t *testing.T) {
	code, ok := RegionCode("세종")
	require.True(t, ok)
	assert.Equal(t, 8, code)

	_, ok = RegionCode("평양")
	assert.False(t, ok)
}
