package pagination

import (
	"errors"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestParseDefaults(t *testing.T) {
	params, err := Parse(url.Values{}, Options{})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != DefaultPageSize {
		t.Fatalf("expected default page size %d got %d", DefaultPageSize, params.PageSize)
	}
	if params.PageToken != "" || params.Cursor != (Cursor{}) || params.Filters != nil {
		t.Fatalf("expected empty params, got %#v", params)
	}
}

func TestParsePageSize(t *testing.T) {
	opts := Options{DefaultPageSize: 25, MaxPageSize: 40}
	values := url.Values{}
	values.Set("pageSize", "30")

	params, err := Parse(values, opts)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != 30 {
		t.Fatalf("expected page size 30 got %d", params.PageSize)
	}

	values.Set("pageSize", "400")
	params, err = Parse(values, opts)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != opts.MaxPageSize {
		t.Fatalf("expected page size clamped to %d got %d", opts.MaxPageSize, params.PageSize)
	}

	for _, raw := range []string{"abc", "0", "-3"} {
		values.Set("pageSize", raw)
		if _, err := Parse(values, opts); !errors.Is(err, ErrInvalidPageSize) {
			t.Fatalf("expected ErrInvalidPageSize for %q got %v", raw, err)
		}
	}
}

func TestParsePageToken(t *testing.T) {
	token := EncodeToken(Cursor{AfterID: 42})
	if token == "" {
		t.Fatalf("expected token")
	}

	values := url.Values{}
	values.Set("pageToken", token)
	params, err := Parse(values, Options{})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.Cursor.AfterID != 42 || params.PageToken != token {
		t.Fatalf("unexpected params %#v", params)
	}

	values.Set("pageToken", "!!!")
	if _, err := Parse(values, Options{}); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken got %v", err)
	}
	if EncodeToken(Cursor{}) != "" {
		t.Fatalf("expected zero cursor to encode to empty token")
	}
}

func TestParseFilters(t *testing.T) {
	values := url.Values{}
	values.Set("action", " 'sale' ")
	values.Set("ignored", "x")

	params, err := Parse(values, Options{AllowedFilters: []string{"action", "variantId"}})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if len(params.Filters) != 1 || params.Filters["action"] != "sale" {
		t.Fatalf("unexpected filters %#v", params.Filters)
	}

	values.Set("action", "  ")
	if _, err := Parse(values, Options{AllowedFilters: []string{"action"}}); !errors.Is(err, ErrInvalidFilter) {
		t.Fatalf("expected ErrInvalidFilter got %v", err)
	}
}

func TestFromRequestReadsQuery(t *testing.T) {
	req := httptest.NewRequest("GET", "/inventory/products/1/logs?pageSize=5&action=sale", nil)
	params, err := FromRequest(req, Options{AllowedFilters: []string{"action"}})
	if err != nil {
		t.Fatalf("FromRequest returned error: %v", err)
	}
	if params.PageSize != 5 || params.Filters["action"] != "sale" {
		t.Fatalf("unexpected params %+v", params)
	}
	if _, err := FromRequest(nil, Options{}); err == nil {
		t.Fatal("expected nil request to be rejected")
	}
}
