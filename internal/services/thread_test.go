package services

import (
	"testing"
	"time"

	"hostline/pkg/models"

	"github.com/google/uuid"
)

func inboundRow(body string, at time.Time) models.InboundMessage {
	return models.InboundMessage{
		AppendOnlyModel: models.AppendOnlyModel{ID: uuid.New(), CreatedAt: at},
		Body:            body,
	}
}

func outboundRow(body, status string, errText *string, at time.Time) models.OutboundMessage {
	return models.OutboundMessage{
		BaseModel: models.BaseModel{ID: uuid.New(), CreatedAt: at},
		Body:      body,
		Status:    status,
		Error:     errText,
	}
}

func TestNormalizeBody(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello", "hello"},
		{"  hello  ", "hello"},
		{"hello   world", "hello world"},
		{"hello\n\tworld", "hello world"},
		{"", ""},
		{"   ", ""},
	}

	for _, test := range tests {
		if got := NormalizeBody(test.input); got != test.expected {
			t.Errorf("NormalizeBody(%q) = %q, want %q", test.input, got, test.expected)
		}
	}
}

func TestBuildTimelineOrdering(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	in1 := inboundRow("hi, is checkin at 3?", base)
	out1 := outboundRow("yes, 3pm works", models.OutboundDelivered, nil, base.Add(1*time.Minute))
	in2 := inboundRow("great, thanks", base.Add(2*time.Minute))

	entries := BuildTimeline(
		[]models.InboundMessage{in1, in2},
		[]models.OutboundMessage{out1},
	)

	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}

	wantKinds := []string{models.ThreadEntryInbound, models.ThreadEntryOutbound, models.ThreadEntryInbound}
	wantIDs := []uuid.UUID{in1.ID, out1.ID, in2.ID}
	for i, entry := range entries {
		if entry.Kind != wantKinds[i] {
			t.Errorf("entry %d kind = %q, want %q", i, entry.Kind, wantKinds[i])
		}
		if entry.ID != wantIDs[i] {
			t.Errorf("entry %d id = %s, want %s", i, entry.ID, wantIDs[i])
		}
	}
}

func TestBuildTimelineCollapsesRetries(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	errText := "30007 - Message filtered"

	first := outboundRow("your door code is 4321", models.OutboundFailed, &errText, base)
	second := outboundRow("  your door code   is 4321 ", models.OutboundFailed, &errText, base.Add(1*time.Minute))
	third := outboundRow("your door code is 4321", models.OutboundDelivered, nil, base.Add(2*time.Minute))

	entries := BuildTimeline(nil, []models.OutboundMessage{first, second, third})

	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1 collapsed entry", len(entries))
	}

	entry := entries[0]
	if entry.ID != third.ID {
		t.Errorf("visible entry should be the latest attempt, got %s", entry.ID)
	}
	if entry.Status != models.OutboundDelivered {
		t.Errorf("status = %q, want delivered", entry.Status)
	}
	if len(entry.OlderAttempts) != 2 {
		t.Fatalf("got %d older attempts, want 2", len(entry.OlderAttempts))
	}
	// superseded attempts are newest-first
	if entry.OlderAttempts[0].ID != second.ID || entry.OlderAttempts[1].ID != first.ID {
		t.Errorf("older attempts out of order: %v then %v", entry.OlderAttempts[0].ID, entry.OlderAttempts[1].ID)
	}
	if entry.OlderAttempts[1].Error == nil || *entry.OlderAttempts[1].Error != errText {
		t.Errorf("failed attempt should retain its error text")
	}
}

func TestBuildTimelineInboundNeverCollapses(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	in1 := inboundRow("ok", base)
	in2 := inboundRow("ok", base.Add(1*time.Minute))

	entries := BuildTimeline([]models.InboundMessage{in1, in2}, nil)

	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2; identical inbound bodies must stay separate", len(entries))
	}
}

func TestBuildTimelineDistinctBodiesStaySeparate(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	out1 := outboundRow("first reply", models.OutboundSent, nil, base)
	out2 := outboundRow("second reply", models.OutboundSent, nil, base.Add(1*time.Minute))

	entries := BuildTimeline(nil, []models.OutboundMessage{out1, out2})

	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
}

func TestBuildTimelineIdempotent(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	errText := "failed"

	inbound := []models.InboundMessage{
		inboundRow("question", base),
		inboundRow("another question", base.Add(3*time.Minute)),
	}
	outbound := []models.OutboundMessage{
		outboundRow("answer", models.OutboundFailed, &errText, base.Add(1*time.Minute)),
		outboundRow("answer", models.OutboundDelivered, nil, base.Add(2*time.Minute)),
	}

	first := BuildTimeline(inbound, outbound)
	second := BuildTimeline(inbound, outbound)

	if len(first) != len(second) {
		t.Fatalf("assembly is not stable: %d vs %d entries", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID || first[i].Kind != second[i].Kind {
			t.Errorf("entry %d differs between assemblies", i)
		}
		if len(first[i].OlderAttempts) != len(second[i].OlderAttempts) {
			t.Errorf("entry %d older attempts differ between assemblies", i)
		}
	}
}

func TestBuildTimelineTieBreakByID(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	a := inboundRow("one", at)
	b := inboundRow("two", at)

	first := BuildTimeline([]models.InboundMessage{a, b}, nil)
	second := BuildTimeline([]models.InboundMessage{b, a}, nil)

	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatalf("equal timestamps must order by id regardless of input order")
		}
	}
}
