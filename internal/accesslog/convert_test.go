package accesslog

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
)

const combinedRow = `127.0.0.1 - frank [10/Oct/2000:13:55:36 -0700] "GET /apache_pb.gif?x=1 HTTP/1.0" 200 2326 "http://example.com/" "curl/8.0" 1534`

func TestConverter_Convert(t *testing.T) {
	tests := []struct {
		name string
		opts ConvertOptions
		want string
	}{
		{
			name: "defaults keep raw fields",
			opts: ConvertOptions{},
			want: "10/Oct/2000:13:55:36\t/apache_pb.gif?x=1\t1534\t\n",
		},
		{
			name: "unix time uses the zone column",
			opts: ConvertOptions{UnixTime: true},
			want: "971211336\t/apache_pb.gif?x=1\t1534\t\n",
		},
		{
			name: "millisec and status",
			opts: ConvertOptions{Millisec: true, StatusCode: true},
			want: "10/Oct/2000:13:55:36\t/apache_pb.gif?x=1\t1.534\t200\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conv, err := NewConverter(tt.opts)
			if err != nil {
				t.Fatalf("NewConverter() error = %v", err)
			}
			var out bytes.Buffer
			stats, err := conv.Convert(context.Background(), strings.NewReader(combinedRow+"\n"), &out)
			if err != nil {
				t.Fatalf("Convert() error = %v", err)
			}
			if stats.Converted != 1 || stats.Skipped != 0 {
				t.Errorf("Convert() stats = %+v, want 1 converted", stats)
			}
			if out.String() != tt.want {
				t.Errorf("Convert() output = %q, want %q", out.String(), tt.want)
			}
		})
	}
}

func TestConverter_SkipsBadRows(t *testing.T) {
	input := strings.Join([]string{
		combinedRow,
		`127.0.0.1 - - [10/Oct/2000:13:55:37 -0700] "GET /short HTTP/1.0" 200`,
		`127.0.0.1 - - [10/Oct/2000:13:55:38 -0700] "GARBAGE" 200 1 "-" "-" 10`,
		`127.0.0.1 - - [10/Oct/2000:13:55:39 -0700] "GET /slow HTTP/1.0" 200 1 "-" "-" fast`,
		combinedRow,
	}, "\n")

	var skippedLines []int
	conv, err := NewConverter(ConvertOptions{
		OnSkip: func(line int, err error) { skippedLines = append(skippedLines, line) },
	})
	if err != nil {
		t.Fatalf("NewConverter() error = %v", err)
	}

	var out bytes.Buffer
	stats, err := conv.Convert(context.Background(), strings.NewReader(input), &out)
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if stats.Converted != 2 || stats.Skipped != 3 {
		t.Errorf("Convert() stats = %+v, want 2 converted and 3 skipped", stats)
	}
	if len(skippedLines) != 3 || skippedLines[0] != 2 || skippedLines[2] != 4 {
		t.Errorf("OnSkip lines = %v, want [2 3 4]", skippedLines)
	}
	if got := strings.Count(out.String(), "\n"); got != 2 {
		t.Errorf("output has %d lines, want 2", got)
	}
}

func TestConverter_OutputFeedsReader(t *testing.T) {
	conv, err := NewConverter(ConvertOptions{UnixTime: true, StatusCode: true})
	if err != nil {
		t.Fatalf("NewConverter() error = %v", err)
	}
	var out bytes.Buffer
	if _, err := conv.Convert(context.Background(), strings.NewReader(combinedRow), &out); err != nil {
		t.Fatalf("Convert() error = %v", err)
	}

	rec, err := NewReader(&out, '\t').Next(context.Background())
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if rec.Path != "/apache_pb.gif?x=1" || rec.Timestamp.Unix() != 971211336 || rec.RecordedLatency != 1534*time.Microsecond {
		t.Errorf("round trip record = %+v", rec)
	}
}

func TestNewConverter_RejectsNegativeColumns(t *testing.T) {
	_, err := NewConverter(ConvertOptions{Columns: Columns{ReceivedTime: -1, Request: 5, Status: 6, ResponseTime: 10}})
	if err == nil {
		t.Error("NewConverter() error = nil for negative column")
	}
}

func TestConverter_ParseReceived(t *testing.T) {
	conv, _ := NewConverter(ConvertOptions{Location: time.UTC})

	tests := []struct {
		name     string
		received string
		zone     string
		want     int64
		wantErr  bool
	}{
		{name: "zone column", received: "10/Oct/2000:13:55:36", zone: "-0700]", want: 971211336},
		{name: "zone in field", received: "10/Oct/2000:13:55:36 -0700]", want: 971211336},
		{name: "no zone uses location", received: "10/Oct/2000:20:55:36", want: 971211336},
		{name: "garbage", received: "yesterday", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := conv.parseReceived(tt.received, tt.zone)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseReceived() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got.Unix() != tt.want {
				t.Errorf("parseReceived() = %d, want %d", got.Unix(), tt.want)
			}
		})
	}
}
