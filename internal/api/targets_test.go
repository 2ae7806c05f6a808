package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/seantiz/warden/internal/model"
)

func createTestTarget(t *testing.T, url, body string) *model.Target {
	t.Helper()
	resp := postJSON(t, url+"/v1/targets", body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create target status = %d, want 201", resp.StatusCode)
	}
	var tgt model.Target
	decodeInto(t, resp, &tgt)
	return &tgt
}

func TestCreateTargetValid(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	tgt := createTestTarget(t, ts.URL, `{"host":"10.0.1.5","port":443,"credential_ref":"vault:web","tags":["prod","web"]}`)

	if len(tgt.ID) != 26 {
		t.Errorf("ID length = %d, want 26", len(tgt.ID))
	}
	if tgt.Host != "10.0.1.5" {
		t.Errorf("Host = %q, want %q", tgt.Host, "10.0.1.5")
	}
	if tgt.Port != 443 {
		t.Errorf("Port = %d, want 443", tgt.Port)
	}
	if len(tgt.Tags) != 2 {
		t.Errorf("Tags = %v, want two entries", tgt.Tags)
	}
}

func TestCreateTargetMissingHost(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/v1/targets", `{"port":22}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCreateTargetBadPort(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/v1/targets", `{"host":"h","port":70000}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGetTargetNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/targets/01JUNKJUNKJUNKJUNKJUNKJUNK")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestListTargetsFilterByTag(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	createTestTarget(t, ts.URL, `{"host":"10.0.1.1","tags":["prod"]}`)
	createTestTarget(t, ts.URL, `{"host":"10.0.1.2","tags":["prod","db"]}`)
	createTestTarget(t, ts.URL, `{"host":"10.0.1.3","tags":["staging"]}`)

	resp, err := http.Get(ts.URL + "/v1/targets?tag=prod")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}

	var out listTargetsResponse
	decodeInto(t, resp, &out)
	if out.Total != 2 {
		t.Errorf("Total = %d, want 2", out.Total)
	}

	resp, err = http.Get(ts.URL + "/v1/targets?tag=prod&tag=db")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	decodeInto(t, resp, &out)
	if out.Total != 1 {
		t.Errorf("Total with both tags = %d, want 1", out.Total)
	}
}

func TestUpdateTargetTags(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	tgt := createTestTarget(t, ts.URL, `{"host":"10.0.1.1","tags":["prod"]}`)

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/v1/targets/"+tgt.ID+"/tags",
		bytes.NewBufferString(`{"tags":["prod","edge"]}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT tags: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	var updated model.Target
	decodeInto(t, resp, &updated)
	if !updated.HasTag("edge") {
		t.Errorf("Tags = %v, want edge present", updated.Tags)
	}
}

func TestDeleteTargetFreeAndInUse(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	tgt := createTestTarget(t, ts.URL, `{"host":"10.0.1.1"}`)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/targets/"+tgt.ID, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}

	getResp, _ := http.Get(ts.URL + "/v1/targets/" + tgt.ID)
	getResp.Body.Close()
	if getResp.StatusCode != http.StatusNotFound {
		t.Errorf("status after delete = %d, want 404", getResp.StatusCode)
	}
}
