package diff

import (
	"testing"
	"time"

	"github.com/teleregnet/syncbridge/record"
)

func localRecord(fields, baseline map[string]any) *record.SyncRecord {
	return &record.SyncRecord{
		ID:          "r1",
		AgencyID:    "agency-fr",
		ExternalKey: "project-42",
		Fields:      fields,
		Baseline:    baseline,
	}
}

func remoteRecord(fields map[string]any) record.RemoteRecord {
	return record.RemoteRecord{
		ExternalKey: "project-42",
		AgencyID:    "agency-fr",
		Fields:      fields,
		UpdatedAt:   time.Now(),
	}
}

func TestDiffMissingLocalIsCreate(t *testing.T) {
	res := Diff(nil, remoteRecord(map[string]any{"title": "Guide v1"}))
	if res.Action != ActionCreate {
		t.Errorf("Action = %q, want create", res.Action)
	}
}

func TestDiffUnchangedIsNoop(t *testing.T) {
	base := map[string]any{"title": "Guide v1", "status": "published"}
	local := localRecord(map[string]any{"title": "Guide v1", "status": "published"}, base)

	res := Diff(local, remoteRecord(map[string]any{"title": "Guide v1", "status": "published"}))

	if res.Action != ActionNone || res.HasWork() {
		t.Errorf("expected no-op result, got %+v", res)
	}
}

func TestDiffDirectedUpdate(t *testing.T) {
	base := map[string]any{"title": "Guide v1"}
	local := localRecord(map[string]any{"title": "Guide v1"}, base)

	res := Diff(local, remoteRecord(map[string]any{"title": "Guide v2"}))

	if len(res.Conflicts) != 0 {
		t.Fatalf("unexpected conflicts: %+v", res.Conflicts)
	}
	if len(res.Updates) != 1 || res.Updates[0].Field != "title" || res.Updates[0].RemoteValue != "Guide v2" {
		t.Fatalf("updates = %+v, want one remote-only title update", res.Updates)
	}
}

func TestDiffLocalOnlyChangeLeftAlone(t *testing.T) {
	base := map[string]any{"title": "Guide v1"}
	local := localRecord(map[string]any{"title": "Guide FR"}, base)

	res := Diff(local, remoteRecord(map[string]any{"title": "Guide v1"}))

	if res.HasWork() {
		t.Errorf("local-only change should produce no work, got %+v", res)
	}
}

func TestDiffConflict(t *testing.T) {
	base := map[string]any{"title": "Guide v1"}
	local := localRecord(map[string]any{"title": "Guide FR"}, base)

	res := Diff(local, remoteRecord(map[string]any{"title": "Guide EN"}))

	if len(res.Conflicts) != 1 {
		t.Fatalf("conflicts = %+v, want exactly one", res.Conflicts)
	}
	c := res.Conflicts[0]
	if c.Field != "title" || c.LocalValue != "Guide FR" || c.RemoteValue != "Guide EN" {
		t.Errorf("conflict = %+v", c)
	}
}

func TestDiffConverged(t *testing.T) {
	base := map[string]any{"title": "Guide v1"}
	local := localRecord(map[string]any{"title": "Guide v2"}, base)

	res := Diff(local, remoteRecord(map[string]any{"title": "Guide v2"}))

	if len(res.Conflicts) != 0 || len(res.Updates) != 0 {
		t.Fatalf("expected pure convergence, got %+v", res)
	}
	if len(res.Converged) != 1 || res.Converged[0] != "title" {
		t.Errorf("converged = %v, want [title]", res.Converged)
	}
}

func TestDiffFirstSyncSeedsOnlyEmptyFields(t *testing.T) {
	local := localRecord(map[string]any{"title": "Curated title", "summary": "  "}, nil)

	res := Diff(local, remoteRecord(map[string]any{
		"title":   "Harvested title",
		"summary": "Harvested summary",
		"url":     "https://example.org",
	}))

	if len(res.Conflicts) != 0 {
		t.Fatalf("first sync must not conflict, got %+v", res.Conflicts)
	}
	seeded := map[string]any{}
	for _, u := range res.Updates {
		seeded[u.Field] = u.RemoteValue
	}
	if _, ok := seeded["title"]; ok {
		t.Error("populated local field overwritten on first sync")
	}
	if seeded["summary"] != "Harvested summary" || seeded["url"] != "https://example.org" {
		t.Errorf("seeded = %v, want summary and url from remote", seeded)
	}
}

func TestDiffFirstSyncAllDivergentStillReportsWork(t *testing.T) {
	local := localRecord(map[string]any{"title": "Guide FR"}, nil)

	res := Diff(local, remoteRecord(map[string]any{"title": "Guide EN"}))

	if res.Action != ActionUpdate || !res.HasWork() {
		t.Fatalf("Action = %q, want update so the baseline gets recorded", res.Action)
	}
	if len(res.Updates) != 0 || len(res.Conflicts) != 0 || len(res.Converged) != 0 {
		t.Errorf("first sync with only divergent fields must not write or conflict, got %+v", res)
	}
}

func TestDiffRemoteAddsNewField(t *testing.T) {
	base := map[string]any{"title": "Guide v1"}
	local := localRecord(map[string]any{"title": "Guide v1"}, base)

	res := Diff(local, remoteRecord(map[string]any{"title": "Guide v1", "phone": "+33 1 23"}))

	if len(res.Updates) != 1 || res.Updates[0].Field != "phone" {
		t.Fatalf("updates = %+v, want remote-added phone", res.Updates)
	}
}

func TestEqualValues(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"trimmed strings", " Guide v1 ", "Guide v1", true},
		{"different strings", "Guide FR", "Guide EN", false},
		{"int vs float", int64(5), float64(5), true},
		{"different numbers", 5, 6, false},
		{"equal times", now, now.UTC(), true},
		{"different times", now, now.Add(time.Second), false},
		{"both nil", nil, nil, true},
		{"nil vs value", nil, "x", false},
		{"slices", []any{"a"}, []any{"a"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := equalValues(tt.a, tt.b); got != tt.want {
				t.Errorf("equalValues(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}
