package export

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-price-graph/models"
)

// Sink receives exported items one at a time.
type Sink interface {
	WriteItem(it *models.Item) error
	Close() error
}

// Layout maps an item to CSV rows under a fixed header.
type Layout struct {
	Header []string
	Rows   func(it *models.Item) [][]string
}

// ItemLayout writes one row per item with its current price.
var ItemLayout = Layout{
	Header: []string{"id", "name", "url", "current_price", "created_at", "updated_at", "last_changed_at", "changes"},
	Rows: func(it *models.Item) [][]string {
		return [][]string{{
			it.ID,
			it.Name,
			it.URL,
			priceText(it.CurrentPrice()),
			strconv.FormatInt(it.CreatedAt, 10),
			strconv.FormatInt(it.UpdatedAt, 10),
			strconv.FormatInt(it.LastChangedAt(), 10),
			strconv.Itoa(it.History.Len()),
		}}
	},
}

// ChangeLayout writes one row per recorded price change, newest first.
var ChangeLayout = Layout{
	Header: []string{"id", "name", "observed_at", "price"},
	Rows: func(it *models.Item) [][]string {
		rows := make([][]string, 0, it.History.Len())
		for i := 0; i < it.History.Len(); i++ {
			e := it.History.At(i)
			rows = append(rows, []string{it.ID, it.Name, strconv.FormatInt(e.ObservedAt, 10), priceText(e.Price)})
		}
		return rows
	},
}

// priceText renders at least two decimal places and never rounds away
// precision. Unknown prices are written as -1.00.
func priceText(p models.Price) string {
	d := p.Sentinel()
	places := int32(2)
	if -d.Exponent() > places {
		places = -d.Exponent()
	}
	return d.StringFixed(places)
}

// CSVSink writes items through a Layout.
type CSVSink struct {
	file   *os.File
	w      *csv.Writer
	layout Layout
}

// NewCSVSink creates filename and writes the layout's header.
func NewCSVSink(filename string, layout Layout) (*CSVSink, error) {
	f, err := create(filename)
	if err != nil {
		return nil, err
	}
	w := csv.NewWriter(f)
	if err := w.Write(layout.Header); err != nil {
		f.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	return &CSVSink{file: f, w: w, layout: layout}, nil
}

func (s *CSVSink) WriteItem(it *models.Item) error {
	for _, row := range s.layout.Rows(it) {
		if err := s.w.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	return nil
}

// Close flushes buffered rows and closes the file.
func (s *CSVSink) Close() error {
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		s.file.Close()
		return fmt.Errorf("flush csv: %w", err)
	}
	return s.file.Close()
}

// JSONRecord is the JSONL export shape: the item plus its derived fields.
type JSONRecord struct {
	*models.Item
	CurrentPrice  models.Price `json:"current_price"`
	LastChangedAt int64        `json:"last_changed_at"`
}

// JSONLSink writes one JSONRecord per line.
type JSONLSink struct {
	file *os.File
	buf  *bufio.Writer
	enc  *json.Encoder
}

// NewJSONLSink creates filename for newline-delimited JSON.
func NewJSONLSink(filename string) (*JSONLSink, error) {
	f, err := create(filename)
	if err != nil {
		return nil, err
	}
	buf := bufio.NewWriter(f)
	return &JSONLSink{file: f, buf: buf, enc: json.NewEncoder(buf)}, nil
}

func (s *JSONLSink) WriteItem(it *models.Item) error {
	rec := JSONRecord{Item: it, CurrentPrice: it.CurrentPrice(), LastChangedAt: it.LastChangedAt()}
	if err := s.enc.Encode(rec); err != nil {
		return fmt.Errorf("encode json record: %w", err)
	}
	return nil
}

// Close flushes buffered lines and closes the file.
func (s *JSONLSink) Close() error {
	if err := s.buf.Flush(); err != nil {
		s.file.Close()
		return fmt.Errorf("flush json: %w", err)
	}
	return s.file.Close()
}

// multiSink fans every item out to several sinks.
type multiSink []Sink

func (m multiSink) WriteItem(it *models.Item) error {
	for _, s := range m {
		if err := s.WriteItem(it); err != nil {
			return err
		}
	}
	return nil
}

func (m multiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewSink returns the sink for format:
//   - csv: one row per item
//   - changes: one CSV row per price change
//   - json: JSONL, one record per item
//   - dual: csv at filename plus a sibling .jsonl file
func NewSink(format, filename string) (Sink, error) {
	switch strings.ToLower(format) {
	case "csv":
		return NewCSVSink(filename, ItemLayout)
	case "changes":
		return NewCSVSink(filename, ChangeLayout)
	case "json":
		return NewJSONLSink(filename)
	case "dual":
		csvSink, err := NewCSVSink(filename, ItemLayout)
		if err != nil {
			return nil, err
		}
		jsonSink, err := NewJSONLSink(strings.TrimSuffix(filename, filepath.Ext(filename)) + ".jsonl")
		if err != nil {
			csvSink.Close()
			return nil, err
		}
		return multiSink{csvSink, jsonSink}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func create(filename string) (*os.File, error) {
	if dir := filepath.Dir(filename); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", filename, err)
	}
	return f, nil
}
