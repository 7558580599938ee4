package service

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"agpm/internal/services/history/domain"
	"agpm/internal/services/history/repo"
)

// awkward titles the exports must carry without loss
var awkward = []domain.Record{
	{Number: 1, Title: "plain title", Merged: true},
	{Number: 2, Title: `commas, everywhere, always`, Merged: false},
	{Number: 3, Title: `say "hello" twice`, Merged: true},
	{Number: 4, Title: "multi\nline\ntitle", Merged: false},
}

func seeded(t *testing.T) *Service {
	t.Helper()
	store, err := repo.Open(filepath.Join(t.TempDir(), "h.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	svc := New(store)
	for _, r := range awkward {
		if err := svc.Insert(context.Background(), r.Number, r.Title, r.Merged); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	return svc
}

func TestExportCSVRoundTrip(t *testing.T) {
	svc := seeded(t)
	path := filepath.Join(t.TempDir(), "out.csv")
	if err := svc.ExportCSV(context.Background(), path); err != nil {
		t.Fatalf("ExportCSV: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = f.Close() }()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("csv parse: %v", err)
	}
	if len(rows) != len(awkward) {
		t.Fatalf("rows = %d, want %d", len(rows), len(awkward))
	}
	for i, row := range rows {
		want := awkward[i]
		num, _ := strconv.Atoi(row[0])
		merged, _ := strconv.ParseBool(row[2])
		if num != want.Number || row[1] != want.Title || merged != want.Merged {
			t.Fatalf("row %d = %v, want %+v", i, row, want)
		}
	}
}

func TestExportJSONRoundTrip(t *testing.T) {
	svc := seeded(t)
	path := filepath.Join(t.TempDir(), "out.json")
	if err := svc.ExportJSON(context.Background(), path); err != nil {
		t.Fatalf("ExportJSON: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var got []domain.Record
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("json parse: %v", err)
	}
	if len(got) != len(awkward) {
		t.Fatalf("len = %d, want %d", len(got), len(awkward))
	}
	for i, g := range got {
		want := awkward[i]
		if g.Number != want.Number || g.Title != want.Title || g.Merged != want.Merged {
			t.Fatalf("record %d = %+v, want %+v", i, g, want)
		}
	}
}

func TestExportJSONEmptyIsAnArray(t *testing.T) {
	store, err := repo.Open(filepath.Join(t.TempDir(), "h.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = store.Close() }()
	svc := New(store)

	path := filepath.Join(t.TempDir(), "empty.json")
	if err := svc.ExportJSON(context.Background(), path); err != nil {
		t.Fatalf("ExportJSON: %v", err)
	}
	raw, _ := os.ReadFile(path)
	if string(raw) != "[]\n" {
		t.Fatalf("empty export = %q, want a bare array", raw)
	}
}
