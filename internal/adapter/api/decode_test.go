package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weatherflick/weather-flick-batch/internal/domain"
)

func TestDecodeBody_ArrayItems(t *testing.T) {
	body := []byte(`{"response":{"header":{"resultCode":"0000","resultMsg":"OK"},` +
		`"body":{"items":{"item":[{"contentid":"1"},{"contentid":"2"}]},` +
		`"numOfRows":10,"pageNo":"2","totalCount":"137"}}}`)

	env, err := decodeBody(body)
	require.NoError(t, err)
	assert.Equal(t, "0000", env.Response.Header.ResultCode)
	assert.Equal(t, 2, env.Response.Body.Items.Item.Len())
	assert.EqualValues(t, 2, env.Response.Body.PageNo)
	assert.EqualValues(t, 137, env.Response.Body.TotalCount)
	assert.EqualValues(t, 10, env.Response.Body.NumOfRows)
}

func TestDecodeBody_SingleObjectItem(t *testing.T) {
	body := []byte(`{"response":{"header":{"resultCode":"00","resultMsg":"NORMAL_SERVICE"},` +
		`"body":{"items":{"item":{"category":"T1H","obsrValue":"23.1"}},"totalCount":1}}}`)

	env, err := decodeBody(body)
	require.NoError(t, err)
	records := env.Response.Body.Items.Item.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "T1H", records[0]["category"])
}

func TestDecodeBody_EmptyShapes(t *testing.T) {
	cases := map[string]string{
		"empty string items": `{"response":{"header":{"resultCode":"0000","resultMsg":"OK"},"body":{"items":"","totalCount":0}}}`,
		"null items":         `{"response":{"header":{"resultCode":"0000","resultMsg":"OK"},"body":{"items":null,"totalCount":0}}}`,
		"empty item node":    `{"response":{"header":{"resultCode":"0000","resultMsg":"OK"},"body":{"items":{"item":""},"totalCount":0}}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			env, err := decodeBody([]byte(body))
			require.NoError(t, err)
			assert.Zero(t, env.Response.Body.Items.Item.Len())
		})
	}
}

func TestDecodeBody_XMLFault(t *testing.T) {
	body := []byte(`<?xml version="1.0" encoding="UTF-8"?>
<OpenAPI_ServiceResponse>
  <cmmMsgHeader>
    <errMsg>SERVICE ERROR</errMsg>
    <returnAuthMsg>SERVICE_KEY_IS_NOT_REGISTERED_ERROR</returnAuthMsg>
    <returnReasonCode>30</returnReasonCode>
  </cmmMsgHeader>
</OpenAPI_ServiceResponse>`)

	_, err := decodeBody(body)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAuth)
	assert.Contains(t, err.Error(), "SERVICE_KEY_IS_NOT_REGISTERED")
}

func TestDecodeBody_GarbageIsTransient(t *testing.T) {
	for _, body := range [][]byte{nil, {}, []byte("<html>502 Bad Gateway</html>"), []byte("not json at all")} {
		_, err := decodeBody(body)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrTransient)
	}
}

func TestFlexInt_StringAndNumber(t *testing.T) {
	env, err := decodeBody([]byte(`{"response":{"header":{"resultCode":"0000","resultMsg":"OK"},` +
		`"body":{"items":"","numOfRows":"","pageNo":null,"totalCount":"0"}}}`))
	require.NoError(t, err)
	assert.Zero(t, env.Response.Body.NumOfRows)
	assert.Zero(t, env.Response.Body.PageNo)
	assert.Zero(t, env.Response.Body.TotalCount)
}

func TestSuccessCode(t *testing.T) {
	assert.True(t, successCode("00"))
	assert.True(t, successCode("0000"))
	assert.False(t, successCode("03"))
	assert.False(t, successCode("22"))
	assert.False(t, successCode(""))
}
