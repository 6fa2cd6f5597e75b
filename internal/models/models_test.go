package models

import (
	"reflect"
	"strings"
	"testing"
)

// gormTag extracts the gorm tag from a struct field.
func gormTag(t *testing.T, typ reflect.Type, fieldName string) string {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	return f.Tag.Get("gorm")
}

// assertGormTag checks that a struct field's gorm tag contains the expected value.
func assertGormTag(t *testing.T, typ reflect.Type, fieldName, expected string) {
	t.Helper()
	tag := gormTag(t, typ, fieldName)
	if !strings.Contains(tag, expected) {
		t.Errorf("%s.%s gorm tag = %q, want to contain %q", typ.Name(), fieldName, tag, expected)
	}
}

// assertFieldType checks that a struct field has the expected Go type.
func assertFieldType(t *testing.T, typ reflect.Type, fieldName, expectedType string) {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	got := f.Type.String()
	if got != expectedType {
		t.Errorf("%s.%s type = %q, want %q", typ.Name(), fieldName, got, expectedType)
	}
}

func TestReviewRecord_Fields(t *testing.T) {
	typ := reflect.TypeOf(ReviewRecord{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "CallID", "uniqueIndex")
	assertGormTag(t, typ, "CallID", "not null")
	assertGormTag(t, typ, "AgentID", "index")
	assertGormTag(t, typ, "Status", "default:pending")
	assertGormTag(t, typ, "Status", "index")
	assertGormTag(t, typ, "UpdatedAt", "index")

	assertFieldType(t, typ, "Result", "*string")
	assertFieldType(t, typ, "ErrorMessage", "*string")
	assertFieldType(t, typ, "Attempts", "int")
	assertFieldType(t, typ, "ClaimedAt", "*time.Time")
	assertFieldType(t, typ, "ReviewedAt", "*time.Time")
}

func TestCallLog_Fields(t *testing.T) {
	typ := reflect.TypeOf(CallLog{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "AgentID", "index:idx_agent_created")
	assertGormTag(t, typ, "CreatedAt", "index:idx_agent_created")
	assertGormTag(t, typ, "Transcription", "type:mediumtext")

	assertFieldType(t, typ, "StartedAt", "*time.Time")
	assertFieldType(t, typ, "DurationSeconds", "int")
}

func TestWebhookSubscription_Fields(t *testing.T) {
	typ := reflect.TypeOf(WebhookSubscription{})

	assertGormTag(t, typ, "ID", "autoIncrement")
	assertGormTag(t, typ, "AgentID", "index")
	assertGormTag(t, typ, "Method", "default:POST")
	assertGormTag(t, typ, "Active", "default:true")
}

func TestHubEvent_Fields(t *testing.T) {
	typ := reflect.TypeOf(HubEvent{})

	assertGormTag(t, typ, "ID", "autoIncrement")
	assertGormTag(t, typ, "CreatedAt", "index")
	assertFieldType(t, typ, "CreatedAt", "time.Time")
}

func TestEncodeDecodeResult(t *testing.T) {
	encoded, err := EncodeResult(nil)
	if err != nil {
		t.Fatal(err)
	}
	if encoded != `{"errors":[]}` {
		t.Errorf("EncodeResult(nil) = %s", encoded)
	}

	encoded, err = EncodeResult(&ReviewResult{
		Errors:  []Finding{{Type: "tone", Description: "curt", Impact: "low"}},
		Summary: "ok",
	})
	if err != nil {
		t.Fatal(err)
	}
	rec := ReviewRecord{CallID: "c1", Result: &encoded}
	res, err := rec.DecodeResult()
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Errors) != 1 || res.Errors[0].Type != "tone" || res.Summary != "ok" {
		t.Errorf("DecodeResult = %+v", res)
	}
}

func TestDecodeResult_EmptyAndMalformed(t *testing.T) {
	var rec ReviewRecord
	res, err := rec.DecodeResult()
	if res != nil || err != nil {
		t.Errorf("no result: got %v, %v", res, err)
	}

	bad := "{not json"
	rec = ReviewRecord{CallID: "c9", Result: &bad}
	if _, err := rec.DecodeResult(); err == nil || !strings.Contains(err.Error(), "c9") {
		t.Errorf("expected decode error naming the call, got %v", err)
	}
}

func TestWebhookSubscription_Decoding(t *testing.T) {
	sub := WebhookSubscription{
		Headers: `{"X-Token":"abc"}`,
		Events:  `["review.completed","review.failed"]`,
	}
	if got := sub.HeaderMap()["X-Token"]; got != "abc" {
		t.Errorf("HeaderMap[X-Token] = %q", got)
	}
	if !sub.Triggers("review.failed") {
		t.Error("expected review.failed to trigger")
	}
	if sub.Triggers("call.completed") {
		t.Error("call.completed should not trigger")
	}

	wildcard := WebhookSubscription{Events: `["*"]`}
	if !wildcard.Triggers("call.completed") {
		t.Error("wildcard should trigger every event")
	}

	broken := WebhookSubscription{Headers: "nope", Events: "nope"}
	if len(broken.HeaderMap()) != 0 || broken.EventList() != nil || broken.Triggers("review.failed") {
		t.Error("malformed JSON should decode to nothing")
	}
}
