package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/austindbirch/logreplay/internal/replay"
)

// PathStats aggregates the outcomes for one request path.
type PathStats struct {
	Path       string         `json:"path"`
	Count      int            `json:"count"`
	Successes  int            `json:"successes"`
	Failures   int            `json:"failures"`
	Codes      map[int]int    `json:"codes,omitempty"`
	Kinds      map[string]int `json:"failure_kinds,omitempty"`
	MinSeconds float64        `json:"min_seconds"`
	MaxSeconds float64        `json:"max_seconds"`
	AvgSeconds float64        `json:"avg_seconds"`
}

// Report is a finished summary.
type Report struct {
	Total PathStats   `json:"total"`
	Paths []PathStats `json:"paths"`
}

type accumulator struct {
	count, successes, failures int
	codes                      map[int]int
	kinds                      map[string]int
	min, max, sum              time.Duration
}

func (a *accumulator) add(o replay.Outcome) {
	if a.count == 0 || o.Elapsed < a.min {
		a.min = o.Elapsed
	}
	if o.Elapsed > a.max {
		a.max = o.Elapsed
	}
	a.count++
	a.sum += o.Elapsed

	if status := o.Status(); status != 0 {
		a.codes[status]++
	}
	if o.Failed() {
		a.failures++
		a.kinds[string(o.Failure.Kind)]++
		return
	}
	a.successes++
}

func (a *accumulator) stats(path string) PathStats {
	ps := PathStats{
		Path:       path,
		Count:      a.count,
		Successes:  a.successes,
		Failures:   a.failures,
		Codes:      a.codes,
		Kinds:      a.kinds,
		MinSeconds: a.min.Seconds(),
		MaxSeconds: a.max.Seconds(),
	}
	if a.count > 0 {
		ps.AvgSeconds = (a.sum / time.Duration(a.count)).Seconds()
	}
	return ps
}

func newAccumulator() *accumulator {
	return &accumulator{codes: make(map[int]int), kinds: make(map[string]int)}
}

// Summary collects per path statistics. It is a replay.Sink so it can sit
// next to the line writer in a Multi.
type Summary struct {
	mu    sync.Mutex
	total *accumulator
	paths map[string]*accumulator
}

var _ replay.Sink = (*Summary)(nil)

func NewSummary() *Summary {
	return &Summary{total: newAccumulator(), paths: make(map[string]*accumulator)}
}

func (s *Summary) Write(_ context.Context, o replay.Outcome) error {
	path := pathOf(o.Task.URL)

	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.paths[path]
	if !ok {
		acc = newAccumulator()
		s.paths[path] = acc
	}
	acc.add(o)
	s.total.add(o)
	return nil
}

// Report returns a copy of the statistics, busiest path first.
func (s *Summary) Report() Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := Report{Total: copyStats(s.total.stats("*"))}
	for path, acc := range s.paths {
		r.Paths = append(r.Paths, copyStats(acc.stats(path)))
	}
	sort.Slice(r.Paths, func(i, j int) bool {
		if r.Paths[i].Count != r.Paths[j].Count {
			return r.Paths[i].Count > r.Paths[j].Count
		}
		return r.Paths[i].Path < r.Paths[j].Path
	})
	return r
}

func copyStats(ps PathStats) PathStats {
	codes := make(map[int]int, len(ps.Codes))
	for k, v := range ps.Codes {
		codes[k] = v
	}
	kinds := make(map[string]int, len(ps.Kinds))
	for k, v := range ps.Kinds {
		kinds[k] = v
	}
	ps.Codes, ps.Kinds = codes, kinds
	return ps
}

// WriteJSON encodes the report as indented JSON.
func (r Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteText renders the report as an aligned table.
func (r Report) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tCOUNT\tOK\tFAILED\tMIN\tAVG\tMAX\tCODES")
	for _, ps := range append(r.Paths, r.Total) {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%.3fs\t%.3fs\t%.3fs\t%s\n",
			ps.Path, ps.Count, ps.Successes, ps.Failures,
			ps.MinSeconds, ps.AvgSeconds, ps.MaxSeconds, formatCodes(ps))
	}
	return tw.Flush()
}

func formatCodes(ps PathStats) string {
	parts := make([]string, 0, len(ps.Codes)+len(ps.Kinds))
	codes := make([]int, 0, len(ps.Codes))
	for c := range ps.Codes {
		codes = append(codes, c)
	}
	sort.Ints(codes)
	for _, c := range codes {
		parts = append(parts, fmt.Sprintf("%d=%d", c, ps.Codes[c]))
	}
	kinds := make([]string, 0, len(ps.Kinds))
	for k := range ps.Kinds {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		parts = append(parts, fmt.Sprintf("%s=%d", k, ps.Kinds[k]))
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, " ")
}

// pathOf drops scheme, host and query from a replayed URL.
func pathOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		if i := strings.IndexByte(raw, '?'); i >= 0 {
			return raw[:i]
		}
		return raw
	}
	return u.Path
}
