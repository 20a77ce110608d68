package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"testing"

	"go.uber.org/zap"

	"github.com/wagnerlima/memory-cloud/relgraph/internal/graph"
	"github.com/wagnerlima/memory-cloud/relgraph/internal/hooks"
	"github.com/wagnerlima/memory-cloud/relgraph/internal/models"
	"github.com/wagnerlima/memory-cloud/relgraph/internal/storage"
)

func TestParseRef(t *testing.T) {
	tests := []struct {
		in      string
		want    models.EntityRef
		wantErr bool
	}{
		{in: "lead:l1", want: models.EntityRef{Type: models.EntityLead, ID: "l1"}},
		{in: "DEAL:d-9", want: models.EntityRef{Type: models.EntityDeal, ID: "d-9"}},
		{in: "task:ns:42", want: models.EntityRef{Type: models.EntityTask, ID: "ns:42"}},
		{in: "lead", wantErr: true},
		{in: "lead:", wantErr: true},
		{in: "contact:c1", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseRef(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseRef(%q) should fail", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseRef(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseRef(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRelationshipsCommand(t *testing.T) {
	dir, err := os.MkdirTemp("", "relgraph-cli-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	store, err := storage.Open(dir, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	engine := graph.NewWithStore(store, graph.Options{})
	if _, err := hooks.New(engine, nil, nil).OnTaskCreated(context.Background(), "acme", "t1", "l1", ""); err != nil {
		t.Fatal(err)
	}
	store.Close()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"relationships", "lead:l1", "--tenant", "acme", "--store", "sqlite", "--data-dir", dir, "--log-level", "error"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	var rels models.EntityRelationships
	if err := json.Unmarshal(out.Bytes(), &rels); err != nil {
		t.Fatalf("parse output: %v\n%s", err, out.String())
	}
	if len(rels.Incoming) != 1 || rels.Incoming[0].SourceID != "t1" {
		t.Errorf("expected one incoming edge from t1, got %+v", rels.Incoming)
	}
}
