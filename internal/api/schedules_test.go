package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/seantiz/warden/internal/model"
)

func TestCreateScheduleValid(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	tgt := createTestTarget(t, ts.URL, `{"host":"10.0.1.1"}`)
	def := createTestDefinition(t, ts.URL, "noop.pass")

	body := fmt.Sprintf(`{"definition_id":%q,"target_ids":[%q],"interval_s":3600}`, def.ID, tgt.ID)
	resp := postJSON(t, ts.URL+"/v1/schedules", body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	var rule model.ScheduleRule
	decodeInto(t, resp, &rule)
	if !rule.Enabled {
		t.Error("new schedule should be enabled")
	}
	if rule.LastFired != nil {
		t.Error("new schedule should not have fired")
	}
}

func TestCreateScheduleRejectsBadInterval(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	def := createTestDefinition(t, ts.URL, "noop.pass")
	body := fmt.Sprintf(`{"definition_id":%q,"tag_selector":["prod"],"interval_s":0}`, def.ID)
	resp := postJSON(t, ts.URL+"/v1/schedules", body)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCreateScheduleRejectsMissingSelector(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	def := createTestDefinition(t, ts.URL, "noop.pass")
	body := fmt.Sprintf(`{"definition_id":%q,"interval_s":60}`, def.ID)
	resp := postJSON(t, ts.URL+"/v1/schedules", body)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCreateScheduleUnknownDefinition(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body := `{"definition_id":"nope","tag_selector":["prod"],"interval_s":60}`
	resp := postJSON(t, ts.URL+"/v1/schedules", body)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestScheduleEnableDisable(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	def := createTestDefinition(t, ts.URL, "noop.pass")
	body := fmt.Sprintf(`{"definition_id":%q,"tag_selector":["prod"],"interval_s":60}`, def.ID)
	createResp := postJSON(t, ts.URL+"/v1/schedules", body)
	var rule model.ScheduleRule
	decodeInto(t, createResp, &rule)

	resp, err := http.Post(ts.URL+"/v1/schedules/"+rule.ID+"/disable", "application/json", nil)
	if err != nil {
		t.Fatalf("POST disable: %v", err)
	}
	var disabled model.ScheduleRule
	decodeInto(t, resp, &disabled)
	if disabled.Enabled {
		t.Error("schedule should be disabled")
	}

	resp, err = http.Post(ts.URL+"/v1/schedules/"+rule.ID+"/enable", "application/json", nil)
	if err != nil {
		t.Fatalf("POST enable: %v", err)
	}
	var enabled model.ScheduleRule
	decodeInto(t, resp, &enabled)
	if !enabled.Enabled {
		t.Error("schedule should be enabled again")
	}
}

func TestDeleteSchedule(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	def := createTestDefinition(t, ts.URL, "noop.pass")
	body := fmt.Sprintf(`{"definition_id":%q,"tag_selector":["prod"],"interval_s":60}`, def.ID)
	createResp := postJSON(t, ts.URL+"/v1/schedules", body)
	var rule model.ScheduleRule
	decodeInto(t, createResp, &rule)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/schedules/"+rule.ID, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}

	getResp, _ := http.Get(ts.URL + "/v1/schedules/" + rule.ID)
	getResp.Body.Close()
	if getResp.StatusCode != http.StatusNotFound {
		t.Errorf("status after delete = %d, want 404", getResp.StatusCode)
	}
}

func TestDefinitionVersioningThroughAPI(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	first := postJSON(t, ts.URL+"/v1/definitions", `{"id":"baseline","name":"Baseline","checks":["noop.pass"]}`)
	var v1 model.AuditDefinition
	decodeInto(t, first, &v1)
	if v1.Version != 1 {
		t.Fatalf("Version = %d, want 1", v1.Version)
	}

	second := postJSON(t, ts.URL+"/v1/definitions", `{"id":"baseline","name":"Baseline","checks":["noop.pass","noop.second"]}`)
	var v2 model.AuditDefinition
	decodeInto(t, second, &v2)
	if v2.Version != 2 {
		t.Fatalf("Version = %d, want 2", v2.Version)
	}

	// Latest wins by default; explicit version query pins the old one.
	resp, _ := http.Get(ts.URL + "/v1/definitions/baseline")
	var latest model.AuditDefinition
	decodeInto(t, resp, &latest)
	if latest.Version != 2 {
		t.Errorf("latest Version = %d, want 2", latest.Version)
	}

	resp, _ = http.Get(ts.URL + "/v1/definitions/baseline?version=1")
	var pinned model.AuditDefinition
	decodeInto(t, resp, &pinned)
	if pinned.Version != 1 || len(pinned.Checks) != 1 {
		t.Errorf("pinned = v%d with %d checks, want v1 with 1", pinned.Version, len(pinned.Checks))
	}
}

func TestCreateDefinitionUnknownCheck(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/v1/definitions", `{"name":"bad","checks":["no.such.check"]}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}
