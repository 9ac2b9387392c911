package click

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
)

type field struct {
	name string
	dst  func(*Request) *string
}

var fields = []field{
	{"click_trans_id", func(r *Request) *string { return &r.ClickTransID }},
	{"service_id", func(r *Request) *string { return &r.ServiceID }},
	{"click_paydoc_id", func(r *Request) *string { return &r.ClickPaydocID }},
	{"merchant_trans_id", func(r *Request) *string { return &r.MerchantTransID }},
	{"merchant_prepare_id", func(r *Request) *string { return &r.MerchantPrepareID }},
	{"amount", func(r *Request) *string { return &r.Amount }},
	{"action", func(r *Request) *string { return &r.Action }},
	{"error", func(r *Request) *string { return &r.Error }},
	{"error_note", func(r *Request) *string { return &r.ErrorNote }},
	{"sign_time", func(r *Request) *string { return &r.SignTime }},
	{"sign_string", func(r *Request) *string { return &r.SignString }},
}

// ParseForm reads a request from form values.
func ParseForm(v url.Values) Request {
	var r Request
	for _, f := range fields {
		*f.dst(&r) = v.Get(f.name)
	}
	return r
}

// ParseJSON reads a request from a JSON object.  Numeric fields keep
// their literal text so signatures are computed over what was sent.
func ParseJSON(body []byte) (Request, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return Request{}, err
	}
	var r Request
	for _, f := range fields {
		switch v := raw[f.name].(type) {
		case nil:
		case string:
			*f.dst(&r) = v
		case json.Number:
			*f.dst(&r) = v.String()
		default:
			return Request{}, fmt.Errorf("field %s: unexpected %T", f.name, v)
		}
	}
	return r, nil
}
