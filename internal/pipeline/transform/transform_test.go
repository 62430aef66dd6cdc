package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunks(t *testing.T) {
	rows := make([][]any, 2500)
	for i := range rows {
		rows[i] = []any{i}
	}

	chunks := Chunks(rows, 1000)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 1000)
	assert.Len(t, chunks[1], 1000)
	assert.Len(t, chunks[2], 500)
	assert.Equal(t, []any{0}, chunks[0][0])
	assert.Equal(t, []any{2499}, chunks[2][499])
}

func TestChunks_DefaultSize(t *testing.T) {
	rows := make([][]any, 1500)
	chunks := Chunks(rows, 0)
	require.Len(t, chunks, 2)
	assert.Len(t, chunks[0], DefaultChunkSize)
	assert.Len(t, chunks[1], 500)
}

func TestChunks_Empty(t *testing.T) {
	assert.Nil(t, Chunks(nil, 100))
}

func TestNormTimestamp(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"20240105123456", "20240105123456"},
		{"2024-01-05 12:34:56", "20240105123456"},
		{"202401051234", "20240105123400"},
		{"20240105", "20240105000000"},
		{"20240105123456789", "20240105123456"},
		{"", ""},
		{"n/a", ""},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, normTimestamp(c.in), "input %q", c.in)
	}
}

func TestPrecipAmount(t *testing.T) {
	cases := []struct {
		in   string
		want any
	}{
		{"강수없음", 0.0},
		{"1mm 미만", 0.5},
		{"6.5mm", 6.5},
		{"30.0~50.0mm", 30.0},
		{"50.0mm 이상", 50.0},
		{"0", 0.0},
		{"", nil},
		{"측정불가", nil},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, precipAmount(c.in), "input %q", c.in)
	}
}

func TestStr_NumericValues(t *testing.T) {
	item := map[string]any{"zipcode": 12345.0, "title": "  제주 올레길  ", "mlevel": nil}
	assert.Equal(t, "12345", str(item, "zipcode"))
	assert.Equal(t, "제주 올레길", str(item, "title"))
	assert.Equal(t, "", str(item, "mlevel"))
}

func TestStr_StripsControlCharacters(t *testing.T) {
	item := map[string]any{"overview": "한라산\x00 국립공원\x1f"}
	assert.Equal(t, "한라산 국립공원", str(item, "overview"))
}

func TestLine_CollapsesWhitespace(t *testing.T) {
	item := map[string]any{"addr1": "제주특별자치도\n서귀포시  성산읍"}
	assert.Equal(t, "제주특별자치도 서귀포시 성산읍", line(item, "addr1"))
}
