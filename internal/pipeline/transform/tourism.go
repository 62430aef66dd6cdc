package transform

import (
	"fmt"

	"github.com/weatherflick/weather-flick-batch/internal/catalog"
	"github.com/weatherflick/weather-flick-batch/internal/domain"
)

// tourismNameColumns maps each content type to its table's name column.
var tourismNameColumns = map[catalog.ContentType]string{
	catalog.ContentTouristSpot:      "attraction_name",
	catalog.ContentCulturalFacility: "facility_name",
	catalog.ContentFestival:         "event_name",
	catalog.ContentTravelCourse:     "course_name",
	catalog.ContentLeisureSports:    "facility_name",
	catalog.ContentAccommodation:    "accommodation_name",
	catalog.ContentShopping:         "shop_name",
	catalog.ContentRestaurant:       "restaurant_name",
}

// importantTourismFields feed the per-row quality score: listing fields that
// are optional upstream but carry most of the downstream value.
var importantTourismFields = []string{
	"addr1", "zipcode", "tel", "firstimage", "cat1", "cat3",
}

// Tourism maps one tourism listing page onto its landed table. Rows missing
// an id, a title or plausible coordinates are discarded with a reason.
func Tourism(page domain.RawPage) Report {
	ct := catalog.ContentType(page.ContentTypeID)
	table, ok := ct.Table()
	if !ok {
		discards := make([]Discard, len(page.Items))
		for i := range page.Items {
			discards[i] = Discard{Index: i, Field: "contenttypeid",
				Reason: fmt.Sprintf("unknown content type %d", page.ContentTypeID)}
		}
		return Report{Discards: discards}
	}

	festival := ct == catalog.ContentFestival
	columns := []string{
		"content_id", "region_code", "sigungu_code", tourismNameColumns[ct],
		"category_code", "sub_category_code", "address", "detail_address",
		"zipcode", "latitude", "longitude", "map_level", "tel", "homepage",
		"overview", "first_image", "first_image_small", "book_tour",
		"created_time", "modified_time",
	}
	if festival {
		columns = append(columns, "event_start_date", "event_end_date", "event_place")
	}
	columns = append(columns, "raw_data_id", "last_sync_at", "data_quality_score")

	rep := Report{
		Table:        table,
		Columns:      columns,
		ConflictKeys: []string{"content_id"},
	}

	for i, item := range page.Items {
		id := str(item, "contentid")
		if id == "" {
			rep.Discards = append(rep.Discards, Discard{Index: i, Field: "contentid", Reason: "missing"})
			continue
		}
		title := line(item, "title")
		if title == "" {
			rep.Discards = append(rep.Discards, Discard{Index: i, Field: "title", Reason: "missing"})
			continue
		}
		lon, okLon := coord(item, "mapx")
		lat, okLat := coord(item, "mapy")
		if !okLon || !okLat {
			rep.Discards = append(rep.Discards, Discard{Index: i, Field: "mapx/mapy", Reason: "coordinates missing or not numeric"})
			continue
		}
		if lat < minLatitude || lat > maxLatitude || lon < minLongitude || lon > maxLongitude {
			rep.Discards = append(rep.Discards, Discard{Index: i, Field: "mapx/mapy",
				Reason: fmt.Sprintf("coordinates (%.4f, %.4f) outside Korea", lat, lon)})
			continue
		}

		regionCode := intOf(item, "areacode")
		if regionCode == 0 {
			regionCode = page.AreaCode
		}

		row := []any{
			id,
			regionCode,
			intOf(item, "sigungucode"),
			title,
			str(item, "cat1"),
			str(item, "cat3"),
			line(item, "addr1"),
			line(item, "addr2"),
			str(item, "zipcode"),
			lat,
			lon,
			intOrNil(item, "mlevel"),
			str(item, "tel"),
			str(item, "homepage"),
			str(item, "overview"),
			str(item, "firstimage"),
			str(item, "firstimage2"),
			str(item, "booktour"),
			normTimestamp(str(item, "createdtime")),
			normTimestamp(str(item, "modifiedtime")),
		}
		if festival {
			row = append(row,
				dateOrNil(str(item, "eventstartdate")),
				dateOrNil(str(item, "eventenddate")),
				line(item, "eventplace"))
		}
		row = append(row,
			rawIDOrNil(page.RawID),
			timeOrNil(page.FetchedAt),
			tourismQuality(item))

		rep.Rows = append(rep.Rows, row)
	}
	return rep
}

// tourismQuality scores one listing row by how many of the important
// optional fields it fills.
func tourismQuality(item map[string]any) float64 {
	filled := 0
	for _, f := range importantTourismFields {
		if str(item, f) != "" {
			filled++
		}
	}
	return float64(filled) / float64(len(importantTourismFields))
}
