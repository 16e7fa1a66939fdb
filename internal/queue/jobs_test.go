package queue

import "testing"

func TestFinalizeTaskRoundTrip(t *testing.T) {
	task, err := NewFinalizeTask(FinalizePayload{Bucket: "uploads", Name: "uploads/abc/clip.mov"})
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	if task.Type() != FinalizeUploadTask {
		t.Fatalf("unexpected type %q", task.Type())
	}
	payload, err := DecodeFinalize(task)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.TaskID() != "uploads/uploads/abc/clip.mov" {
		t.Fatalf("unexpected task id %q", payload.TaskID())
	}
}

func TestDecodeFinalizeRejectsIncompletePayload(t *testing.T) {
	task, _ := NewFinalizeTask(FinalizePayload{Bucket: "uploads"})
	if _, err := DecodeFinalize(task); err == nil {
		t.Fatal("expected error for missing name")
	}
}
