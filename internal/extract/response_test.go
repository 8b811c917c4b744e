package extract

import "testing"

func TestParsePageEnvelopeWithPagination(t *testing.T) {
	pg, err := parsePage([]byte(`{"data":[{"id":1},{},null,{"id":2}],"current_page":1,"last_page":3}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pg.Items) != 2 {
		t.Fatalf("expected blank items to be skipped, got %d items", len(pg.Items))
	}
	if !pg.HasMore {
		t.Fatalf("expected continuation when current_page < last_page")
	}
}

func TestParsePageContinuationSignals(t *testing.T) {
	cases := []struct {
		name string
		body string
		more bool
	}{
		{"next url", `{"data":[{"id":1}],"next_page_url":"https://x/?page=2","current_page":5,"last_page":5}`, true},
		{"null next url on last page", `{"data":[{"id":1}],"next_page_url":null,"current_page":5,"last_page":5}`, false},
		{"total pages", `{"data":[{"id":1}],"current_page":2,"last_page":2,"total_pages":4}`, true},
		{"string counters", `{"data":[{"id":1}],"current_page":"3","last_page":"3"}`, false},
		{"no pagination fields", `{"data":[{"id":1}]}`, true},
	}
	for _, tc := range cases {
		pg, err := parsePage([]byte(tc.body))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if pg.HasMore != tc.more {
			t.Errorf("%s: expected HasMore=%v", tc.name, tc.more)
		}
	}
}

func TestParsePageOtherShapes(t *testing.T) {
	list, err := parsePage([]byte(`[{"id":1},{"id":2}]`))
	if err != nil || len(list.Items) != 2 || list.HasMore {
		t.Fatalf("expected bare list to be a single terminal page, got %+v (%v)", list, err)
	}

	single, err := parsePage([]byte(`{"id":9,"status":"ok"}`))
	if err != nil || len(single.Items) != 1 || single.HasMore {
		t.Fatalf("expected bare object to be one item, got %+v (%v)", single, err)
	}

	scalar, err := parsePage([]byte(`"nothing"`))
	if err != nil || len(scalar.Items) != 0 {
		t.Fatalf("expected scalar to be empty, got %+v (%v)", scalar, err)
	}

	if _, err := parsePage([]byte(`{"data":[`)); err == nil {
		t.Fatalf("expected malformed body to fail")
	}
}
