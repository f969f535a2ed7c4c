package main

import (
	"strings"
	"testing"

	"golang.org/x/net/html"
)

func mustParse(t *testing.T, body string) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		t.Fatalf("parsing test fixture: %v", err)
	}
	return doc
}

func TestFirstInt(t *testing.T) {
	cases := map[string]uint64{
		"3 card drops remaining": 3,
		"no digits here":         0,
		"12.5 hrs on record":     12,
		"":                       0,
	}
	for input, want := range cases {
		got, ok := firstInt(input)
		if input == "no digits here" || input == "" {
			if ok {
				t.Errorf("firstInt(%q): expected ok=false, got %d", input, got)
			}
			continue
		}
		if !ok || got != want {
			t.Errorf("firstInt(%q) = (%d, %v), want (%d, true)", input, got, ok, want)
		}
	}
}

func TestFirstFloat(t *testing.T) {
	got, ok := firstFloat("12,5 hrs on record")
	if !ok || got != 12.5 {
		t.Fatalf("firstFloat with comma separator = (%v, %v), want (12.5, true)", got, ok)
	}

	got, ok = firstFloat("0.3 hrs on record")
	if !ok || got != 0.3 {
		t.Fatalf("firstFloat with dot separator = (%v, %v), want (0.3, true)", got, ok)
	}
}

func TestFindAllByClassWalksWholeTree(t *testing.T) {
	doc := mustParse(t, `<html><body>
		<div class="badge_title_stats_content">
			<div class="nested"><span class="progress_info_bold">5 card drops remaining</span></div>
		</div>
		<div class="badge_title_stats_content">second</div>
	</body></html>`)

	rows := findAllByClass(doc, "badge_title_stats_content")
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}

	badges := findAllByClass(doc, "progress_info_bold")
	if len(badges) != 1 {
		t.Fatalf("expected 1 progress_info_bold node, got %d", len(badges))
	}
	if text := nodeText(badges[0]); !strings.Contains(text, "5 card drops remaining") {
		t.Fatalf("unexpected node text: %q", text)
	}
}

func TestLastPageFromPaginationDefaultsToOne(t *testing.T) {
	doc := mustParse(t, `<html><body>no pagination here</body></html>`)
	if got := lastPageFromPagination(doc); got != 1 {
		t.Fatalf("expected default last page 1, got %d", got)
	}
}

func TestLastPageFromPaginationFindsHighestPageParam(t *testing.T) {
	doc := mustParse(t, `<html><body>
		<a class="pagelink" href="/profiles/1/badges/?p=2">2</a>
		<a class="pagelink" href="/profiles/1/badges/?p=5">5</a>
		<a class="pagelink" href="/profiles/1/badges/?p=3">3</a>
	</body></html>`)
	if got := lastPageFromPagination(doc); got != 5 {
		t.Fatalf("expected last page 5, got %d", got)
	}
}

func TestFindAttrByName(t *testing.T) {
	doc := mustParse(t, `<html><body><div><span id="target-id">x</span></div></body></html>`)
	val, ok := findAttrByName(doc, "id")
	if !ok || val != "target-id" {
		t.Fatalf("findAttrByName = (%q, %v), want (target-id, true)", val, ok)
	}
}
