package meli

import (
	"errors"
	"testing"
)

func TestResourcePath(t *testing.T) {
	static := Static("orders", "/orders/search")
	got, err := static.Path("")
	if err != nil {
		t.Fatalf("Path() error = %v", err)
	}
	if got != "/orders/search" {
		t.Fatalf("Path() = %q, want %q", got, "/orders/search")
	}

	templated := Templated("question", func(id string) string { return "/questions/" + id })
	got, err = templated.Path("12345")
	if err != nil {
		t.Fatalf("Path() error = %v", err)
	}
	if got != "/questions/12345" {
		t.Fatalf("Path() = %q, want %q", got, "/questions/12345")
	}
}

func TestResourcePathMissingData(t *testing.T) {
	templated := Templated("item", func(id string) string { return "/items/" + id })

	_, err := templated.Path("")
	if err == nil {
		t.Fatal("Path() error = nil, want non-nil")
	}
	var malformed *MalformedResourceError
	if !errors.As(err, &malformed) {
		t.Fatalf("error type = %T, want *MalformedResourceError", err)
	}
	if malformed.Resource != "item" {
		t.Fatalf("Resource = %q, want %q", malformed.Resource, "item")
	}
}

func TestPagingInfo(t *testing.T) {
	info, ok := pagingInfo(map[string]any{
		"paging": map[string]any{"total": float64(25), "limit": float64(10), "offset": float64(0)},
	})
	if !ok {
		t.Fatal("pagingInfo() ok = false, want true")
	}
	if info.Total != 25 || info.Limit != 10 {
		t.Fatalf("info = %+v", info)
	}

	if _, ok := pagingInfo(map[string]any{}); ok {
		t.Fatal("pagingInfo(no paging) ok = true, want false")
	}
	if _, ok := pagingInfo(map[string]any{"paging": map[string]any{"total": float64(5)}}); ok {
		t.Fatal("pagingInfo(missing limit) ok = true, want false")
	}
	if _, ok := pagingInfo(map[string]any{"paging": map[string]any{"total": float64(5), "limit": float64(0)}}); ok {
		t.Fatal("pagingInfo(zero limit) ok = true, want false")
	}
}

func TestQuestionsToResults(t *testing.T) {
	payload := questionsToResults(map[string]any{
		"questions": []any{map[string]any{"id": float64(1)}},
	})

	results, ok := payload["results"].([]any)
	if !ok {
		t.Fatalf("results type = %T, want []any", payload["results"])
	}
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
}

func TestErrorPayload(t *testing.T) {
	payload := ErrorPayload(&UpstreamRequestError{
		Method:     "GET",
		Resource:   "question",
		StatusCode: 404,
		Message:    "not found",
		Payload:    map[string]any{"message": "not found", "error": "not_found"},
	})

	if payload["status"] != 404 {
		t.Fatalf("status = %v, want 404", payload["status"])
	}
	if payload["message"] != "not found" {
		t.Fatalf("message = %v", payload["message"])
	}
	if payload["error"] != "not_found" {
		t.Fatalf("error = %v", payload["error"])
	}

	plain := ErrorPayload(errors.New("boom"))
	if plain["message"] != "boom" {
		t.Fatalf("message = %v, want boom", plain["message"])
	}
}
