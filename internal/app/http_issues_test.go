package app

import (
	"net/http"
	"strings"
	"testing"
)

// TestIssuesPublicReadPrivateWrite verifies the issue board is readable
// without a session while every mutation needs one.
func TestIssuesPublicReadPrivateWrite(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")
	author := registerUser(t, svc, "author")

	rr := doRequest(t, server, http.MethodPost, "/api/issues", "", `{"title":"缺少词条"}`)
	assertUnauthorizedCode(t, rr)

	rr = doRequest(t, server, http.MethodPost, "/api/issues", author.Token, `{"title":"缺少词条","body":"建议补充网管"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create issue: expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	issueID := decodePayload(t, rr)["id"].(string)

	// Anonymous visitors can browse the board and the detail view.
	rr = doRequest(t, server, http.MethodGet, "/api/issues", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("anonymous list: expected 200, got %d", rr.Code)
	}
	issues, _ := decodePayload(t, rr)["issues"].([]any)
	if len(issues) != 1 {
		t.Fatalf("expected one issue, got %d", len(issues))
	}

	rr = doRequest(t, server, http.MethodGet, "/api/issues/"+issueID, "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("anonymous detail: expected 200, got %d", rr.Code)
	}
	detail := decodePayload(t, rr)
	if detail["title"] != "缺少词条" {
		t.Errorf("unexpected issue %v", detail)
	}
	if comments, ok := detail["comments"].([]any); !ok || len(comments) != 0 {
		t.Errorf("expected an empty comments array, got %v", detail["comments"])
	}

	rr = doRequest(t, server, http.MethodPost, "/api/issues/"+issueID+"/comments", "", `{"body":"hi"}`)
	assertUnauthorizedCode(t, rr)
}

func TestIssueCommentAndCloseOverHTTP(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")
	author := registerUser(t, svc, "author")
	stranger := registerUser(t, svc, "stranger")

	rr := doRequest(t, server, http.MethodPost, "/api/issues", author.Token, `{"title":"first"}`)
	issueID := decodePayload(t, rr)["id"].(string)

	rr = doRequest(t, server, http.MethodPost, "/api/issues/"+issueID+"/comments", stranger.Token, `{"body":"  "}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("blank comment: expected 422, got %d body=%s", rr.Code, rr.Body.String())
	}
	rr = doRequest(t, server, http.MethodPost, "/api/issues/"+issueID+"/comments", stranger.Token, `{"body":"已有同音词"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("comment: expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}

	// Commenting does not grant closing.
	rr = doRequest(t, server, http.MethodPost, "/api/issues/"+issueID+"/close", stranger.Token, "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("stranger close: expected 403, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, server, http.MethodPost, "/api/issues/"+issueID+"/close", author.Token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("author close: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if payload := decodePayload(t, rr); payload["status"] != "closed" {
		t.Fatalf("expected closed, got %v", payload["status"])
	}

	rr = doRequest(t, server, http.MethodPost, "/api/issues/"+issueID+"/close", author.Token, "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("double close: expected 409, got %d body=%s", rr.Code, rr.Body.String())
	}
	if payload := decodePayload(t, rr); payload["code"] != "ALREADY_CLOSED" {
		t.Fatalf("expected ALREADY_CLOSED, got %v", payload["code"])
	}
}

// TestIssueTracksLinkedBatchOverHTTP pins the loop between the boards:
// a batch opened from an issue reports back as a comment once approved.
func TestIssueTracksLinkedBatchOverHTTP(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")
	author := registerUser(t, svc, "author")
	admin := adminSession(t, fs, svc)

	rr := doRequest(t, server, http.MethodPost, "/api/issues", author.Token, `{"title":"缺少网管"}`)
	issueID := decodePayload(t, rr)["id"].(string)

	// Linking to a dead issue is refused outright.
	rr = doRequest(t, server, http.MethodPost, "/api/batches", author.Token, `{"title":"fix","issueId":"issue_missing"}`)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown issue, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, server, http.MethodPost, "/api/batches", author.Token, `{"title":"fix","issueId":"`+issueID+`"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create linked batch: expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	created := decodePayload(t, rr)
	batchID := created["id"].(string)
	if created["issueId"] != issueID {
		t.Fatalf("expected the batch to carry the issue, got %v", created["issueId"])
	}

	doRequest(t, server, http.MethodPost, "/api/batches/"+batchID+"/edits", author.Token,
		`{"action":"create","word":"网管","code":"otgx","type":"phrase"}`)
	doRequest(t, server, http.MethodPost, "/api/batches/"+batchID+"/submit", author.Token, "")
	rr = doRequest(t, server, http.MethodPost, "/api/batches/"+batchID+"/approve", admin.Token, `{"note":"ok"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("approve: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, server, http.MethodGet, "/api/issues/"+issueID, "", "")
	comments, _ := decodePayload(t, rr)["comments"].([]any)
	if len(comments) != 1 {
		t.Fatalf("expected the approval comment on the issue, got %d", len(comments))
	}
	comment, _ := comments[0].(map[string]any)
	body, _ := comment["body"].(string)
	if !strings.Contains(body, "approved") {
		t.Errorf("expected the comment to mention the approval, got %q", body)
	}
}
