package cmd

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestUserAgent(t *testing.T) {
	old := Version
	t.Cleanup(func() { Version = old })
	Version = "1.4.0"

	if got := userAgent("logreplay"); got != "logreplay/1.4.0" {
		t.Errorf("userAgent() = %q", got)
	}
}

func TestVersionCmd(t *testing.T) {
	tests := []struct {
		name string
		json bool
	}{
		{name: "text"},
		{name: "json", json: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withOutputFlags(t, tt.json, false)
			var buf bytes.Buffer
			versionCmd.SetOut(&buf)
			t.Cleanup(func() { versionCmd.SetOut(nil) })

			versionCmd.Run(versionCmd, nil)

			if !tt.json {
				if !strings.Contains(buf.String(), "User-Agent: logreplay/"+Version) {
					t.Errorf("output = %q", buf.String())
				}
				return
			}
			var got versionInfo
			if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
				t.Fatalf("not JSON: %v\n%s", err, buf.String())
			}
			if got.Version != Version || got.UserAgent != "logreplay/"+Version {
				t.Errorf("decoded = %+v", got)
			}
		})
	}
}
