package accesslog

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

const (
	httpdTime     = "02/Jan/2006:15:04:05"
	httpdTimeZone = "02/Jan/2006:15:04:05 -0700"
)

// Columns are zero-based field positions in an httpd access log row.
type Columns struct {
	ReceivedTime int
	Request      int
	Status       int
	ResponseTime int // microseconds, %D
}

// DefaultColumns match the combined log format with %D appended.
var DefaultColumns = Columns{ReceivedTime: 3, Request: 5, Status: 6, ResponseTime: 10}

func (c Columns) max() int {
	return max(c.ReceivedTime, c.Request, c.Status, c.ResponseTime)
}

func (c Columns) min() int {
	return min(c.ReceivedTime, c.Request, c.Status, c.ResponseTime)
}

// ConvertOptions controls the httpd log conversion.
type ConvertOptions struct {
	Delimiter rune
	Columns   Columns
	// UnixTime rewrites the received time as unix seconds.
	UnixTime bool
	// Millisec rewrites the response time from microseconds to milliseconds.
	Millisec bool
	// StatusCode fills the status column.
	StatusCode bool
	// OnSkip is called for every row that cannot be converted.
	OnSkip func(line int, err error)
	// Location interprets received times without a zone. Defaults to time.Local.
	Location *time.Location
}

// ConvertStats counts converted and skipped rows.
type ConvertStats struct {
	Converted int `json:"converted"`
	Skipped   int `json:"skipped"`
}

// Converter turns httpd access log rows into the tab separated
// time, path, latency, status lines that Reader consumes.
type Converter struct {
	opts ConvertOptions
}

// NewConverter validates opts and fills in defaults.
func NewConverter(opts ConvertOptions) (*Converter, error) {
	if opts.Delimiter == 0 {
		opts.Delimiter = ' '
	}
	if opts.Columns == (Columns{}) {
		opts.Columns = DefaultColumns
	}
	if opts.Columns.min() < 0 {
		return nil, fmt.Errorf("column indices must not be negative: %+v", opts.Columns)
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Converter{opts: opts}, nil
}

// Convert reads rows from in and writes converted lines to out until EOF.
func (c *Converter) Convert(ctx context.Context, in io.Reader, out io.Writer) (ConvertStats, error) {
	cr := csv.NewReader(in)
	cr.Comma = c.opts.Delimiter
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	w := bufio.NewWriter(out)
	var stats ConvertStats
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				c.skip(&stats, parseErr.Line, err)
				continue
			}
			return stats, fmt.Errorf("read access log: %w", err)
		}
		line, _ := cr.FieldPos(0)

		converted, err := c.convertRow(row)
		if err != nil {
			c.skip(&stats, line, err)
			continue
		}
		if _, err := w.WriteString(converted + "\n"); err != nil {
			return stats, fmt.Errorf("write converted row: %w", err)
		}
		stats.Converted++
	}
	if err := w.Flush(); err != nil {
		return stats, fmt.Errorf("flush output: %w", err)
	}
	return stats, nil
}

func (c *Converter) skip(stats *ConvertStats, line int, err error) {
	stats.Skipped++
	if c.opts.OnSkip != nil {
		c.opts.OnSkip(line, err)
	}
}

func (c *Converter) convertRow(row []string) (string, error) {
	cols := c.opts.Columns
	if len(row) <= cols.max() {
		return "", fmt.Errorf("row has %d fields, need %d", len(row), cols.max()+1)
	}

	received := strings.ReplaceAll(row[cols.ReceivedTime], "[", "")
	if c.opts.UnixTime {
		zone := ""
		if cols.ReceivedTime+1 < len(row) {
			zone = row[cols.ReceivedTime+1]
		}
		ts, err := c.parseReceived(received, zone)
		if err != nil {
			return "", err
		}
		received = strconv.FormatInt(ts.Unix(), 10)
	}

	parts := strings.Split(row[cols.Request], " ")
	if len(parts) < 2 || parts[1] == "" {
		return "", fmt.Errorf("request %q has no path", row[cols.Request])
	}
	path := parts[1]

	micros, err := strconv.ParseInt(strings.TrimSpace(row[cols.ResponseTime]), 10, 64)
	if err != nil {
		return "", fmt.Errorf("bad response time: %w", err)
	}
	latency := strconv.FormatInt(micros, 10)
	if c.opts.Millisec {
		latency = strconv.FormatFloat(float64(micros)/1000.0, 'f', -1, 64)
	}

	status := ""
	if c.opts.StatusCode {
		code, err := strconv.Atoi(strings.TrimSpace(row[cols.Status]))
		if err != nil {
			return "", fmt.Errorf("bad status code: %w", err)
		}
		status = strconv.Itoa(code)
	}

	return strings.Join([]string{received, path, latency, status}, "\t"), nil
}

// parseReceived accepts "10/Oct/2000:13:55:36", optionally followed by the
// zone column "-0700]" or with the zone inside the same field.
func (c *Converter) parseReceived(received, zone string) (time.Time, error) {
	received = strings.TrimSuffix(strings.TrimSpace(received), "]")
	if t, err := time.Parse(httpdTimeZone, received); err == nil {
		return t, nil
	}
	zone = strings.TrimSuffix(strings.TrimSpace(zone), "]")
	if zone != "" {
		if t, err := time.Parse(httpdTimeZone, received+" "+zone); err == nil {
			return t, nil
		}
	}
	t, err := time.ParseInLocation(httpdTime, received, c.opts.Location)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad received time %q: %w", received, err)
	}
	return t, nil
}
