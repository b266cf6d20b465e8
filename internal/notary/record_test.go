package notary_test

import (
	"errors"
	"testing"
	"time"

	"github.com/jmerrifield20/auditnotary/internal/audit/model"
	"github.com/jmerrifield20/auditnotary/internal/notary"
)

func TestBuildMemo(t *testing.T) {
	got := notary.BuildMemo("https://gateway.example/abc123", "deadbeef")
	want := "Verifiable Audit Record\nURL:https://gateway.example/abc123\nHASH:deadbeef\n"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if got := notary.BuildMemo("", "deadbeef"); got != "Verifiable Audit Record\nURL:N/A\nHASH:deadbeef\n" {
		t.Errorf("empty locator: got %q", got)
	}
}

func TestParseMemo_roundTrip(t *testing.T) {
	for _, url := range []string{"https://gateway.example/abc123", ""} {
		u, h, err := notary.ParseMemo(notary.BuildMemo(url, "cafe"))
		if err != nil {
			t.Fatalf("ParseMemo(%q): %v", url, err)
		}
		if u != url || h != "cafe" {
			t.Errorf("got (%q, %q), want (%q, cafe)", u, h, url)
		}
	}
}

func TestParseMemo_malformed(t *testing.T) {
	cases := []string{
		"",
		"Verifiable Audit Record\nURL:x\nHASH:y",
		"Other header\nURL:x\nHASH:y\n",
		"Verifiable Audit Record\nLINK:x\nHASH:y\n",
		"Verifiable Audit Record\nURL:x\nHASH:\n",
		"Verifiable Audit Record\nURL:x\nHASH:y\nextra\n",
	}
	for _, m := range cases {
		if _, _, err := notary.ParseMemo(m); !errors.Is(err, notary.ErrMalformedMemo) {
			t.Errorf("ParseMemo(%q): want ErrMalformedMemo, got %v", m, err)
		}
	}
}

func TestFormatTimestamp(t *testing.T) {
	loc := time.FixedZone("BRT", -3*3600)
	ts := time.Date(2024, 1, 2, 3, 4, 5, 6_789_000, loc)
	if got := notary.FormatTimestamp(ts); got != "2024-01-02T06:04:05.006Z" {
		t.Errorf("got %q", got)
	}
	if got := notary.FormatTimestamp(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)); got != "2024-01-02T03:04:05.000Z" {
		t.Errorf("zero millis: got %q", got)
	}
}

func TestExtractVerifiableContent(t *testing.T) {
	items := []any{"a", "b"}
	if got := notary.ExtractVerifiableContent(model.State{"checklist": items, "other": 1}); len(got) != 2 {
		t.Errorf("got %v", got)
	}
	for _, s := range []model.State{nil, {}, {"checklist": "x"}, {"checklist": map[string]any{}}} {
		got := notary.ExtractVerifiableContent(s)
		if got == nil || len(got) != 0 {
			t.Errorf("ExtractVerifiableContent(%v): want empty non-nil slice, got %#v", s, got)
		}
	}
}

func TestCompositeRecord_hashDependsOnEveryField(t *testing.T) {
	loc := "abc"
	base := notary.CompositeRecord{Title: "t", TypeKey: "k", Content: []any{"x"}, Timestamp: "ts", ContentLocator: &loc}
	h0, err := base.Hash()
	if err != nil {
		t.Fatal(err)
	}
	other := "abd"
	variants := []notary.CompositeRecord{
		{Title: "T", TypeKey: "k", Content: []any{"x"}, Timestamp: "ts", ContentLocator: &loc},
		{Title: "t", TypeKey: "K", Content: []any{"x"}, Timestamp: "ts", ContentLocator: &loc},
		{Title: "t", TypeKey: "k", Content: []any{"y"}, Timestamp: "ts", ContentLocator: &loc},
		{Title: "t", TypeKey: "k", Content: []any{"x"}, Timestamp: "ts2", ContentLocator: &loc},
		{Title: "t", TypeKey: "k", Content: []any{"x"}, Timestamp: "ts", ContentLocator: &other},
		{Title: "t", TypeKey: "k", Content: []any{"x"}, Timestamp: "ts"},
	}
	for i, v := range variants {
		h, err := v.Hash()
		if err != nil {
			t.Fatal(err)
		}
		if h == h0 {
			t.Errorf("variant %d hashed the same as the base record", i)
		}
	}
}
