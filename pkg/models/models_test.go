package models

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

func TestParseTypedParams(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"empty", ``, false},
		{"flat", `{"city":"Oslo","count":3,"flag":true}`, false},
		{"nested", `{"filter":{"tags":["a","b"]},"note":null}`, false},
		{"not an object", `[1,2,3]`, true},
		{"invalid json", `{`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseTypedParams(json.RawMessage(tc.raw))
			if (err != nil) != tc.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestTypedParamsStringsWalksNestedValues(t *testing.T) {
	p := TypedParams{
		"query": "drop table",
		"opts": map[string]any{
			"tags":  []any{"alpha", "beta"},
			"limit": float64(5),
		},
	}
	got := p.Strings()
	want := []string{"alpha", "beta", "drop table"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Strings() = %v, want %v", got, want)
	}
}

func TestTypedParamsJSONNilIsEmptyObject(t *testing.T) {
	var p TypedParams
	if got := string(p.JSON()); got != "{}" {
		t.Errorf("JSON() = %q", got)
	}
}

func TestCleanText(t *testing.T) {
	raw := "  title\r\n\r\n\r\nbody\rline  "
	if got := CleanText(raw); got != "title\n\nbody\nline" {
		t.Errorf("CleanText = %q", got)
	}
}

func TestHashContentStable(t *testing.T) {
	a := HashContent("same text")
	b := HashContent("same text")
	if a != b || len(a) != 64 {
		t.Errorf("hashes %q vs %q", a, b)
	}
	if HashContent("other text") == a {
		t.Error("distinct content collided")
	}
}

func TestUsageDayTruncatesToUTCDate(t *testing.T) {
	loc := time.FixedZone("plus5", 5*3600)
	at := time.Date(2026, 3, 1, 2, 30, 0, 0, loc)
	day := UsageDay(at)
	if day.Location() != time.UTC {
		t.Errorf("location = %v", day.Location())
	}
	if day.Hour() != 0 || day.Minute() != 0 {
		t.Errorf("not truncated: %v", day)
	}
	if !day.Equal(time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("day = %v", day)
	}
}

func TestConfidenceBuckets(t *testing.T) {
	cases := []struct {
		score float64
		want  Confidence
	}{
		{0.92, ConfidenceHigh},
		{0.85, ConfidenceHigh},
		{0.80, ConfidenceMedium},
		{0.70, ConfidenceMedium},
		{0.40, ConfidenceLow},
	}
	for _, tc := range cases {
		if got := ConfidenceFor(tc.score); got != tc.want {
			t.Errorf("ConfidenceFor(%v) = %v, want %v", tc.score, got, tc.want)
		}
	}
}
