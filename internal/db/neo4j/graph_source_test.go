package neo4jdb

import (
	"slices"
	"testing"
)

func TestKeywords(t *testing.T) {
	tests := []struct {
		question string
		want     []string
	}{
		{"Who owns the billing-service?", []string{"billing-service"}},
		{"which services depend on Redis and redis", []string{"services", "redis"}},
		{"is it ok", nil},
		{"", nil},
	}
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			if got := Keywords(tt.question); !slices.Equal(got, tt.want) {
				t.Fatalf("Keywords(%q) = %q, want %q", tt.question, got, tt.want)
			}
		})
	}
}

func TestRelationPassage(t *testing.T) {
	p := relationPassage("alice", "OWNS", "billing-service")
	if p.Text != "alice OWNS billing-service" || p.Metadata["relation"] != "OWNS" {
		t.Fatalf("passage = %+v", p)
	}
}
