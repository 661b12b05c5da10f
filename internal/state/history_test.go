package state

import (
	"context"
	"testing"
	"time"

	"github.com/colebrumley/areamgr/internal/registry"
)

func record(ruleID, outcome string, started time.Time) ExecutionRecord {
	return ExecutionRecord{
		RuleID:     ruleID,
		RuleName:   "rule " + ruleID,
		OwnerID:    "u1",
		Trigger:    "timer/every_hour",
		Reaction:   "discord/send_message",
		Outcome:    outcome,
		StartedAt:  started,
		FinishedAt: started.Add(150 * time.Millisecond),
		DurationMs: 150,
	}
}

func TestHistory_RecordAndQuery(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	failed := record("r1", "execution_error", now.Add(-time.Minute))
	failed.Error = "discord returned 502"
	for _, rec := range []ExecutionRecord{
		record("r1", "success", now.Add(-2*time.Minute)),
		failed,
		record("r2", "success", now),
	} {
		if _, err := db.RecordExecution(ctx, rec); err != nil {
			t.Fatalf("RecordExecution() error = %v", err)
		}
	}

	all, err := db.GetHistory(ctx, HistoryFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].RuleID != "r2" {
		t.Fatalf("GetHistory() = %+v, want 3 newest first", all)
	}

	r1, _ := db.GetHistory(ctx, HistoryFilter{RuleID: "r1"})
	if len(r1) != 2 {
		t.Errorf("GetHistory(r1) = %d records, want 2", len(r1))
	}
	if r1[0].Error != "discord returned 502" {
		t.Errorf("error = %q", r1[0].Error)
	}

	errs, _ := db.GetHistory(ctx, HistoryFilter{Outcome: "execution_error"})
	if len(errs) != 1 {
		t.Errorf("GetHistory(execution_error) = %d records, want 1", len(errs))
	}

	limited, _ := db.GetHistory(ctx, HistoryFilter{Limit: 1})
	if len(limited) != 1 {
		t.Errorf("GetHistory(limit 1) = %d records", len(limited))
	}

	last, err := db.LastOutcome(ctx, "r1")
	if err != nil || last != "execution_error" {
		t.Errorf("LastOutcome(r1) = %q, %v", last, err)
	}
	last, _ = db.LastOutcome(ctx, "never")
	if last != "" {
		t.Errorf("LastOutcome(never) = %q, want empty", last)
	}
}

func TestHistory_Cleanup(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	db.RecordExecution(ctx, record("old", "success", now.AddDate(0, 0, -100)))
	db.RecordExecution(ctx, record("new", "success", now.Add(-time.Hour)))

	deleted, err := db.Cleanup(ctx, 90)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if deleted != 1 {
		t.Errorf("Cleanup() deleted %d, want 1", deleted)
	}
	remaining, _ := db.GetHistory(ctx, HistoryFilter{})
	if len(remaining) != 1 || remaining[0].RuleID != "new" {
		t.Errorf("remaining = %+v", remaining)
	}
}

func TestCredentials(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	creds, err := db.Credentials(ctx, "u1", "gmail")
	if err != nil || creds != nil {
		t.Fatalf("Credentials(missing) = %v, %v; want nil, nil", creds, err)
	}

	if err := db.PutCredentials(ctx, "u1", "gmail", registry.Credentials{"access_token": "a", "refresh_token": "r"}); err != nil {
		t.Fatal(err)
	}
	if err := db.PutCredentials(ctx, "u1", "gmail", registry.Credentials{"access_token": "b", "refresh_token": "r"}); err != nil {
		t.Fatal(err)
	}

	creds, err = db.Credentials(ctx, "u1", "gmail")
	if err != nil {
		t.Fatal(err)
	}
	if creds["access_token"] != "b" {
		t.Errorf("access_token = %q, want b", creds["access_token"])
	}
	if other, _ := db.Credentials(ctx, "u2", "gmail"); other != nil {
		t.Error("credentials leaked across owners")
	}

	if err := db.DeleteCredentials(ctx, "u1", "gmail"); err != nil {
		t.Fatal(err)
	}
	if creds, _ := db.Credentials(ctx, "u1", "gmail"); creds != nil {
		t.Error("credentials not deleted")
	}
}
