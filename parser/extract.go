// Package parser turns catalog listing pages into catalog records.
package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-price-graph/config"
	"github.com/aluiziolira/go-price-graph/models"
)

// Extractor reads catalog records out of a listing page.
type Extractor struct {
	sel       config.Selectors
	idPattern *regexp.Regexp
}

// NewExtractor compiles the selector set.
func NewExtractor(sel config.Selectors) (*Extractor, error) {
	if err := sel.Validate(); err != nil {
		return nil, err
	}
	return &Extractor{
		sel:       sel,
		idPattern: regexp.MustCompile(sel.IDPattern),
	}, nil
}

// Extract returns the records of every row in document order, plus one
// error per row that had to be skipped.
func (x *Extractor) Extract(doc *goquery.Selection) ([]models.CatalogRecord, []error) {
	var (
		records []models.CatalogRecord
		errs    []error
	)
	doc.Find(x.sel.Row).Each(func(i int, row *goquery.Selection) {
		record, err := x.ExtractRecord(row)
		if err != nil {
			errs = append(errs, fmt.Errorf("row %d: %w", i, err))
			return
		}
		records = append(records, record)
	})
	return records, errs
}

// ExtractRecord builds a record from a single catalog row.
func (x *Extractor) ExtractRecord(row *goquery.Selection) (models.CatalogRecord, error) {
	href := linkTarget(row)
	id, err := ItemIDFromHref(x.idPattern, href)
	if err != nil {
		return models.CatalogRecord{}, err
	}

	record := models.CatalogRecord{
		ID:   id,
		Name: strings.TrimSpace(row.Find(x.sel.Title).First().Text()),
		URL:  href,
	}

	record.Price, err = x.price(row.Find(x.sel.Price).First())
	if err != nil {
		return models.CatalogRecord{}, err
	}

	score := row.Find(x.sel.Score).First()
	if score.Length() > 0 {
		record.QualityScore, err = ParseQualityScore(score.Text())
		if err != nil {
			return models.CatalogRecord{}, err
		}
	}

	if err := ValidateRecord(&record); err != nil {
		return models.CatalogRecord{}, err
	}
	return record, nil
}

// price reads the final text-bearing child of the price node, which is the
// discounted amount when the original is struck through.
func (x *Extractor) price(node *goquery.Selection) (models.Price, error) {
	if node.Length() == 0 {
		return models.Unknown(), nil
	}
	contents := node.Contents()
	for i := contents.Length() - 1; i >= 0; i-- {
		text := strings.TrimSpace(contents.Eq(i).Text())
		if text == "" {
			continue
		}
		if IsFreeText(text) {
			return models.PriceFromFloat(0), nil
		}
		return ParsePrice(text)
	}
	return models.Unknown(), nil
}

// PageCount reads the last page number from the pagination control. The
// final link is "next", so the one before it carries the last page.
func (x *Extractor) PageCount(doc *goquery.Selection) (int, error) {
	links := doc.Find(x.sel.Pagination)
	if links.Length() < 2 {
		return 1, nil
	}
	text := strings.TrimSpace(links.Eq(links.Length() - 2).Text())
	n, err := strconv.Atoi(strings.ReplaceAll(text, ",", ""))
	if err != nil {
		return 0, ExtractionError{Field: "pagination", Value: text, Err: err}
	}
	if n < 1 {
		return 1, nil
	}
	return n, nil
}

func linkTarget(row *goquery.Selection) string {
	if href, ok := row.Attr("href"); ok {
		return strings.TrimSpace(href)
	}
	href, _ := row.Find("a[href]").First().Attr("href")
	return strings.TrimSpace(href)
}
