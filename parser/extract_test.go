package parser

import (
	"errors"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-price-graph/config"
)

const listingPage = `<html><body>
<div id="search_result_container">
  <a class="search_result_row" href="http://store.steampowered.com/app/10/">
    <h4>Counter-Strike</h4>
    <div class="search_price">Free</div>
  </a>
  <a class="search_result_row" href="http://store.steampowered.com/app/20/">
    <h4>Team <b>Fortress</b> <i>Classic</i></h4>
    <div class="search_price">
      <span style="color: #888888;"><strike>$19.99</strike></span><br>$ 9.99
    </div>
    <div class="search_metascore">87</div>
  </a>
  <a class="search_result_row" href="http://store.steampowered.com/app/30/">
    <h4>Day of Defeat</h4>
    <div class="search_metascore"></div>
  </a>
  <a class="search_result_row" href="http://store.steampowered.com/sub/40/">
    <h4>Bundle without app id</h4>
    <div class="search_price">$4.99</div>
  </a>
  <a class="search_result_row" href="http://store.steampowered.com/app/50/">
    <h4>Broken Price</h4>
    <div class="search_price">call us</div>
  </a>
  <a class="search_result_row" href="http://store.steampowered.com/app/60/">
    <h4>Deathmatch Classic</h4>
    <div class="search_price">$4.99</div>
  </a>
</div>
<div class="search_pagination_right">
  <a href="?page=1">1</a> <a href="?page=2">2</a> <a href="?page=3">3</a>
  ... <a href="?page=1,204">1,204</a> <a href="?page=2">&gt;</a>
</div>
</body></html>`

func newTestExtractor(t *testing.T) *Extractor {
	t.Helper()
	x, err := NewExtractor(config.DefaultSelectors())
	if err != nil {
		t.Fatalf("new extractor: %v", err)
	}
	return x
}

func parseDoc(t *testing.T, html string) *goquery.Selection {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}
	return doc.Selection
}

func TestExtractListing(t *testing.T) {
	x := newTestExtractor(t)
	records, errs := x.Extract(parseDoc(t, listingPage))

	if len(records) != 4 {
		t.Fatalf("records = %d, want 4 (%+v)", len(records), records)
	}
	if len(errs) != 2 {
		t.Fatalf("errors = %d, want 2 (%v)", len(errs), errs)
	}

	wantIDs := []string{"10", "20", "30", "60"}
	for i, id := range wantIDs {
		if records[i].ID != id {
			t.Fatalf("records[%d].ID = %q, want %q (document order)", i, records[i].ID, id)
		}
	}

	free := records[0]
	if !free.Price.IsFree() {
		t.Fatalf("free price = %v, want 0", free.Price)
	}
	if free.QualityScore != nil {
		t.Fatalf("free game should have no score, got %d", *free.QualityScore)
	}

	sale := records[1]
	if sale.Name != "Team Fortress Classic" {
		t.Fatalf("name = %q, want nested markup flattened", sale.Name)
	}
	if got := sale.Price.String(); got != "9.99" {
		t.Fatalf("sale price = %s, want 9.99", got)
	}
	if sale.QualityScore == nil || *sale.QualityScore != 87 {
		t.Fatalf("quality score = %v, want 87", sale.QualityScore)
	}

	missing := records[2]
	if missing.Price.Known() {
		t.Fatalf("row without price node should be unknown, got %v", missing.Price)
	}
	if missing.QualityScore != nil {
		t.Fatalf("empty badge should be absent, got %d", *missing.QualityScore)
	}

	if records[3].URL != "http://store.steampowered.com/app/60/" {
		t.Fatalf("url = %q", records[3].URL)
	}
}

func TestExtractErrorsAreTyped(t *testing.T) {
	x := newTestExtractor(t)
	_, errs := x.Extract(parseDoc(t, listingPage))

	fields := map[string]bool{}
	for _, err := range errs {
		var extractErr ExtractionError
		if !errors.As(err, &extractErr) {
			t.Fatalf("error %v is not an ExtractionError", err)
		}
		fields[extractErr.Field] = true
	}
	if !fields["id"] || !fields["price"] {
		t.Fatalf("expected id and price failures, got %v", fields)
	}
}

func TestExtractEmptyPriceNodeIsUnknown(t *testing.T) {
	x := newTestExtractor(t)
	html := `<a class="search_result_row" href="/app/7/"><h4>Empty</h4><div class="search_price"> </div></a>`
	records, errs := x.Extract(parseDoc(t, html))
	if len(errs) != 0 || len(records) != 1 {
		t.Fatalf("records=%d errs=%v", len(records), errs)
	}
	if records[0].Price.Known() {
		t.Fatalf("empty price node should be unknown")
	}
}

func TestPageCount(t *testing.T) {
	x := newTestExtractor(t)
	tests := []struct {
		name    string
		html    string
		want    int
		wantErr bool
	}{
		{name: "listing", html: listingPage, want: 1204},
		{name: "no pagination", html: `<html><body></body></html>`, want: 1},
		{name: "single link", html: `<div class="search_pagination_right"><a>1</a></div>`, want: 1},
		{name: "garbage", html: `<div class="search_pagination_right"><a>x</a><a>&gt;</a></div>`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := x.PageCount(parseDoc(t, tt.html))
			if (err != nil) != tt.wantErr {
				t.Fatalf("PageCount error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Fatalf("PageCount = %d, want %d", got, tt.want)
			}
		})
	}
}
