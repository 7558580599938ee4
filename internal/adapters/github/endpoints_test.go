package github

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"agpm/internal/core/rules"
)

func TestListPullRequestsPaginatesAndFilters(t *testing.T) {
	var pages int
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/repos/o/r/pulls", func(w http.ResponseWriter, r *http.Request) {
		pages++
		if r.URL.Query().Get("page") == "2" {
			_, _ = w.Write([]byte(`[
				{"number":2,"title":"merged one","state":"closed","merged_at":"2026-01-02T00:00:00Z"}
			]`))
			return
		}
		w.Header().Set("Link", `<`+srv.URL+`/repos/o/r/pulls?page=2>; rel="next"`)
		_, _ = w.Write([]byte(`[
			{"number":3,"title":"open one","state":"open"},
			{"number":1,"title":"closed one","state":"closed"}
		]`))
	})

	c, _ := testClient(t, srv, nil)
	repo := RepoRef{Owner: "o", Name: "r"}

	got, err := c.ListPullRequests(context.Background(), repo, false, 0, 0)
	if err != nil {
		t.Fatalf("ListPullRequests: %v", err)
	}
	if pages != 2 {
		t.Fatalf("pages fetched = %d, want 2", pages)
	}
	if len(got) != 2 || got[0].Number != 3 || got[1].Number != 1 {
		t.Fatalf("got = %+v, want open and closed but not merged", got)
	}
	if got[0].Owner != "o" || got[0].Name != "r" {
		t.Fatalf("repo identity not filled in: %+v", got[0])
	}

	pages = 0
	withMerged, err := c.ListPullRequests(context.Background(), repo, true, 0, 0)
	if err != nil {
		t.Fatalf("ListPullRequests(includeMerged): %v", err)
	}
	if len(withMerged) != 3 {
		t.Fatalf("includeMerged len = %d, want 3", len(withMerged))
	}
	if withMerged[2].State != "merged" {
		t.Fatalf("merged PR state = %q, want merged", withMerged[2].State)
	}
}

func TestListPullRequestsSinceCutoffStopsPaging(t *testing.T) {
	var pages int
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/repos/o/r/pulls", func(w http.ResponseWriter, _ *http.Request) {
		pages++
		w.Header().Set("Link", `<`+srv.URL+`/repos/o/r/pulls?page=2>; rel="next"`)
		_, _ = w.Write([]byte(`[
			{"number":9,"title":"fresh","state":"open","updated_at":"2026-08-25T00:00:00Z"},
			{"number":8,"title":"stale","state":"open","updated_at":"2020-01-01T00:00:00Z"}
		]`))
	})

	c, _ := testClient(t, srv, nil)
	c.now = func() time.Time { return time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC) }

	got, err := c.ListPullRequests(context.Background(), RepoRef{Owner: "o", Name: "r"}, false, 0, 48*time.Hour)
	if err != nil {
		t.Fatalf("ListPullRequests: %v", err)
	}
	if len(got) != 1 || got[0].Number != 9 {
		t.Fatalf("got = %+v, want only the fresh PR", got)
	}
	if pages != 1 {
		t.Fatalf("pages = %d, sorted-desc cutoff must stop pagination", pages)
	}
}

func TestListPullRequestsUnparseableIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<!doctype html>not json`))
	}))
	defer srv.Close()

	c, _ := testClient(t, srv, nil)
	got, err := c.ListPullRequests(context.Background(), RepoRef{Owner: "o", Name: "r"}, false, 0, 0)
	if err != nil || len(got) != 0 {
		t.Fatalf("got %v, %v; want empty, nil", got, err)
	}
}

func TestListPullRequestsNotFoundSoftens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c, _ := testClient(t, srv, nil)
	got, err := c.ListPullRequests(context.Background(), RepoRef{Owner: "o", Name: "gone"}, false, 0, 0)
	if err != nil || len(got) != 0 {
		t.Fatalf("got %v, %v; a missing repo must not fail the sweep", got, err)
	}
}

// metadataMux serves the detail, review, and status endpoints for PR 1
func metadataMux(t *testing.T, mergeable bool, checks string, reviews string) *http.ServeMux {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/o/r/pulls/1", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPatch {
			_, _ = w.Write([]byte(`{"number":1,"state":"closed"}`))
			return
		}
		m := "false"
		if mergeable {
			m = "true"
		}
		_, _ = w.Write([]byte(`{
			"number":1,"title":"t","state":"open","mergeable":` + m + `,
			"mergeable_state":"clean","head":{"ref":"feature","sha":"abc123"}
		}`))
	})
	mux.HandleFunc("/repos/o/r/pulls/1/reviews", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(reviews))
	})
	mux.HandleFunc("/repos/o/r/commits/abc123/status", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(checks))
	})
	return mux
}

func TestPullRequestMetadata(t *testing.T) {
	mux := metadataMux(t, true,
		`{"state":"success","total_count":2}`,
		`[
			{"state":"APPROVED","user":{"login":"alice"}},
			{"state":"APPROVED","user":{"login":"bob"}},
			{"state":"CHANGES_REQUESTED","user":{"login":"bob"}}
		]`)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, _ := testClient(t, srv, nil)
	meta, err := c.PullRequestMetadata(context.Background(), RepoRef{Owner: "o", Name: "r"}, 1)
	if err != nil {
		t.Fatalf("PullRequestMetadata: %v", err)
	}
	// bob's latest review retracts the approval
	if meta.Approvals != 1 {
		t.Fatalf("approvals = %d, want 1", meta.Approvals)
	}
	if !meta.Mergeable || !meta.MergeableKnown {
		t.Fatalf("mergeable = %+v", meta)
	}
	if meta.Checks != rules.CheckPassed {
		t.Fatalf("checks = %v, want passed", meta.Checks)
	}
}

func TestMergePullRequest(t *testing.T) {
	var mergeCalls int
	var mergeMethod, mergeBody string
	mux := metadataMux(t, true,
		`{"state":"success","total_count":1}`,
		`[{"state":"APPROVED","user":{"login":"alice"}}]`)
	mux.HandleFunc("/repos/o/r/pulls/1/merge", func(w http.ResponseWriter, r *http.Request) {
		mergeCalls++
		mergeMethod = r.Method
		b, _ := io.ReadAll(r.Body)
		mergeBody = string(b)
		_, _ = w.Write([]byte(`{"merged":true,"message":"Pull Request successfully merged"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, _ := testClient(t, srv, nil)
	gate := rules.MergeGate{RequiredApprovals: 1, RequireMergeable: true, RequireStatusSuccess: true}
	ok, err := c.MergePullRequest(context.Background(), RepoRef{Owner: "o", Name: "r"}, 1, gate)
	if err != nil || !ok {
		t.Fatalf("merge = %v, %v; want true, nil", ok, err)
	}
	if mergeCalls != 1 || mergeMethod != http.MethodPut || mergeBody != `{}` {
		t.Fatalf("merge request = %d %s %q, want one PUT with an empty object", mergeCalls, mergeMethod, mergeBody)
	}
}

func TestMergePullRequestGateBlocks(t *testing.T) {
	var mergeCalls int
	mux := metadataMux(t, true,
		`{"state":"success","total_count":1}`,
		`[]`)
	mux.HandleFunc("/repos/o/r/pulls/1/merge", func(w http.ResponseWriter, _ *http.Request) {
		mergeCalls++
		_, _ = w.Write([]byte(`{"merged":true}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, _ := testClient(t, srv, nil)
	gate := rules.MergeGate{RequiredApprovals: 2}
	ok, err := c.MergePullRequest(context.Background(), RepoRef{Owner: "o", Name: "r"}, 1, gate)
	if err != nil || ok {
		t.Fatalf("merge = %v, %v; want blocked", ok, err)
	}
	if mergeCalls != 0 {
		t.Fatalf("gate blocked but the merge request still went out")
	}
}

func TestClosePullRequest(t *testing.T) {
	var method, body string
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/o/r/pulls/1", func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		_, _ = w.Write([]byte(`{"number":1,"state":"closed"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, _ := testClient(t, srv, nil)
	ok, err := c.ClosePullRequest(context.Background(), RepoRef{Owner: "o", Name: "r"}, 1)
	if err != nil || !ok {
		t.Fatalf("close = %v, %v", ok, err)
	}
	if method != http.MethodPatch || body != `{"state":"closed"}` {
		t.Fatalf("close request = %s %q", method, body)
	}
}

func TestDeleteBranch(t *testing.T) {
	var gotPath, gotMethod string
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotMethod = r.Method
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, _ := testClient(t, srv, nil)
	ok, err := c.DeleteBranch(context.Background(), RepoRef{Owner: "o", Name: "r"}, "feat/x one", nil)
	if err != nil || !ok {
		t.Fatalf("delete = %v, %v", ok, err)
	}
	if gotMethod != http.MethodDelete {
		t.Fatalf("method = %s", gotMethod)
	}
	if gotPath != "/repos/o/r/git/refs/heads/feat%2Fx%20one" {
		t.Fatalf("path = %q, ref must be fully percent encoded", gotPath)
	}
}

func TestDeleteBranchProtected(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	prot, err := rules.CompileProtection([]string{"release/*", "main"}, nil)
	if err != nil {
		t.Fatalf("CompileProtection: %v", err)
	}
	c, _ := testClient(t, srv, nil)
	ok, err := c.DeleteBranch(context.Background(), RepoRef{Owner: "o", Name: "r"}, "release/v2", prot)
	if err != nil || ok {
		t.Fatalf("delete = %v, %v; protection must hold the ref", ok, err)
	}
	if calls != 0 {
		t.Fatalf("protected delete still reached the network")
	}
}

func TestCleanupBranches(t *testing.T) {
	var deleted []string
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/o/r/pulls", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[
			{"number":1,"state":"closed","head":{"ref":"agpm/one"}},
			{"number":2,"state":"closed","head":{"ref":"keepme"}},
			{"number":3,"state":"closed","head":{"ref":"agpm/two"}}
		]`))
	})
	mux.HandleFunc("/repos/o/r/git/refs/heads/", func(w http.ResponseWriter, r *http.Request) {
		deleted = append(deleted, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, _ := testClient(t, srv, nil)
	n, err := c.CleanupBranches(context.Background(), RepoRef{Owner: "o", Name: "r"}, "agpm/", nil)
	if err != nil {
		t.Fatalf("CleanupBranches: %v", err)
	}
	if n != 2 || len(deleted) != 2 {
		t.Fatalf("deleted = %d %v, want the two prefixed refs", n, deleted)
	}
}

func TestCloseDirtyBranches(t *testing.T) {
	var deleted []string
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/o/r", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"name":"r","owner":{"login":"o"},"default_branch":"main"}`))
	})
	mux.HandleFunc("/repos/o/r/branches", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[
			{"name":"main","commit":{"sha":"a"}},
			{"name":"ahead-one","commit":{"sha":"b"}},
			{"name":"merged-one","commit":{"sha":"c"}}
		]`))
	})
	mux.HandleFunc("/repos/o/r/compare/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/repos/o/r/compare/main...ahead-one" {
			_, _ = w.Write([]byte(`{"status":"ahead","ahead_by":3}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"identical","ahead_by":0}`))
	})
	mux.HandleFunc("/repos/o/r/git/refs/heads/", func(w http.ResponseWriter, r *http.Request) {
		deleted = append(deleted, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, _ := testClient(t, srv, nil)
	n, err := c.CloseDirtyBranches(context.Background(), RepoRef{Owner: "o", Name: "r"}, nil, false)
	if err != nil {
		t.Fatalf("CloseDirtyBranches: %v", err)
	}
	if n != 1 || len(deleted) != 1 || deleted[0] != "/repos/o/r/git/refs/heads/ahead-one" {
		t.Fatalf("deleted = %d %v, want only the ahead branch", n, deleted)
	}
}

func TestListRepositories(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[
			{"name":"r1","owner":{"login":"o"}},
			{"name":"r2","owner":{"login":"o"}},
			{"name":"skipped","owner":{"login":"other"}}
		]`))
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL, Exclude: []string{"other/skipped"}}, nil, nil)
	got, err := c.ListRepositories(context.Background())
	if err != nil {
		t.Fatalf("ListRepositories: %v", err)
	}
	if len(got) != 2 || got[0].Slug() != "o/r1" || got[1].Slug() != "o/r2" {
		t.Fatalf("got = %+v", got)
	}
}
