package api

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/weatherflick/weather-flick-batch/internal/domain"
)

// Result codes both providers use for a successful call.
func successCode(code string) bool {
	return code == "00" || code == "0000"
}

// flexInt tolerates the providers' habit of serializing counts as either
// numbers or strings.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	t := bytes.TrimSpace(b)
	if len(t) == 0 || bytes.Equal(t, []byte("null")) {
		*f = 0
		return nil
	}
	s := strings.Trim(string(t), `"`)
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("op=api.decode: count %q: %w", s, domain.ErrValidation)
	}
	*f = flexInt(n)
	return nil
}

// itemsNode is the `body.items` node: an object holding `item`, or an empty
// string when the page has no records.
type itemsNode struct {
	Item domain.Items
}

func (n *itemsNode) UnmarshalJSON(b []byte) error {
	t := bytes.TrimSpace(b)
	if len(t) == 0 || bytes.Equal(t, []byte("null")) || bytes.Equal(t, []byte(`""`)) {
		return nil
	}
	if t[0] == '{' {
		var aux struct {
			Item domain.Items `json:"item"`
		}
		if err := json.Unmarshal(t, &aux); err != nil {
			return err
		}
		n.Item = aux.Item
		return nil
	}
	return fmt.Errorf("op=api.decode: unexpected items node: %w", domain.ErrValidation)
}

// envelope is the shared response document shape of both providers.
type envelope struct {
	Response struct {
		Header struct {
			ResultCode string `json:"resultCode"`
			ResultMsg  string `json:"resultMsg"`
		} `json:"header"`
		Body struct {
			Items      itemsNode `json:"items"`
			NumOfRows  flexInt   `json:"numOfRows"`
			PageNo     flexInt   `json:"pageNo"`
			TotalCount flexInt   `json:"totalCount"`
		} `json:"body"`
	} `json:"response"`
}

// xmlFault is the error document data.go.kr answers with on gateway-level
// failures, regardless of the requested _type.
type xmlFault struct {
	XMLName xml.Name `xml:"OpenAPI_ServiceResponse"`
	Header  struct {
		ErrMsg     string `xml:"errMsg"`
		AuthMsg    string `xml:"returnAuthMsg"`
		ReasonCode string `xml:"returnReasonCode"`
	} `xml:"cmmMsgHeader"`
}

// decodeBody parses a provider response. The gateway sometimes answers XML
// fault documents even when JSON was requested, so the content type is
// sniffed before decoding.
func decodeBody(body []byte) (*envelope, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("op=api.decode: empty body: %w", domain.ErrTransient)
	}
	mt := mimetype.Detect(body)
	if mt.Is("text/xml") || mt.Is("application/xml") {
		var fault xmlFault
		if err := xml.Unmarshal(body, &fault); err != nil {
			return nil, fmt.Errorf("op=api.decode: xml fault: %w", domain.ErrTransient)
		}
		msg := fault.Header.AuthMsg
		if msg == "" {
			msg = fault.Header.ErrMsg
		}
		return nil, fmt.Errorf("op=api.decode: provider fault %s (code %s): %w",
			msg, fault.Header.ReasonCode, classifyMessage(msg))
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("op=api.decode: %v: %w", err, domain.ErrTransient)
	}
	return &env, nil
}
