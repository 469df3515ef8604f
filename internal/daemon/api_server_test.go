package daemon_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"assetlib/internal/api"
	"assetlib/internal/checkout"
	"assetlib/internal/config"
	"assetlib/internal/daemon"
	"assetlib/internal/deps"
	"assetlib/internal/launch"
	"assetlib/internal/logging"
	"assetlib/internal/registry"
	"assetlib/internal/registry/registrytest"
	"assetlib/internal/staging"
	"assetlib/internal/testsupport"
)

type stubExecutor struct{}

func (stubExecutor) Run(_ context.Context, cmd launch.Command) (launch.Result, error) {
	if cmd.OnStart != nil {
		cmd.OnStart(4242)
	}
	return launch.Result{}, nil
}

type fixture struct {
	cfg    *config.Config
	reg    *registrytest.Server
	daemon *daemon.Daemon
	srv    *httptest.Server
}

func newFixture(t *testing.T, mutate ...func(*config.Config)) fixture {
	t.Helper()
	reg := registrytest.New(t)
	cfg := testsupport.NewConfig(t, testsupport.WithRegistry(reg.URL()), testsupport.WithStubbedDCC())
	for _, fn := range mutate {
		fn(cfg)
	}
	client := reg.Client(t)
	store := testsupport.MustOpenJournal(t, cfg)
	coord := checkout.New(client, store)
	stager := staging.NewFromConfig(cfg, staging.WithDownloader(client))
	locator := deps.NewLocator(cfg.DCC)
	pipeline := launch.New(cfg, stager, coord, locator, launch.WithExecutor(stubExecutor{}))

	d, err := daemon.New(cfg, daemon.Services{
		Catalog:   client,
		Checkouts: coord,
		Launcher:  pipeline,
		Fetcher:   stager,
		Tools:     locator,
	}, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	srv := httptest.NewServer(d.Handler())
	t.Cleanup(srv.Close)
	return fixture{cfg: cfg, reg: reg, daemon: d, srv: srv}
}

func (f fixture) do(t *testing.T, method, path, contentType string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := f.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func checkinForm(t *testing.T, fields map[string]string) ([]byte, string) {
	t.Helper()
	return archiveForm(t, "chair.zip", fields)
}

func archiveForm(t *testing.T, filename string, fields map[string]string) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte("PK\x05\x06" + strings.Repeat("\x00", 18))); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	for key, value := range fields {
		if err := mw.WriteField(key, value); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return buf.Bytes(), mw.FormDataContentType()
}

func TestAPICheckoutConflict(t *testing.T) {
	f := newFixture(t)
	f.reg.AddAsset(registry.Asset{Name: "chair"})

	resp := f.do(t, http.MethodPost, "/api/assets/chair/checkout", "application/json", []byte(`{"holder":"alice"}`))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first checkout status = %d, want 200", resp.StatusCode)
	}
	granted := decode[api.AssetResponse](t, resp)
	if granted.Asset.Holder != "alice" {
		t.Fatalf("holder = %q, want alice", granted.Asset.Holder)
	}

	resp = f.do(t, http.MethodPost, "/api/assets/chair/checkout", "application/json", []byte(`{"holder":"bob"}`))
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second checkout status = %d, want 409", resp.StatusCode)
	}
	if body := decode[api.ErrorResponse](t, resp); body.Kind != "conflict" {
		t.Fatalf("kind = %q, want conflict", body.Kind)
	}
}

func TestAPICheckoutDefaultsToConfiguredHolder(t *testing.T) {
	f := newFixture(t)
	f.reg.AddAsset(registry.Asset{Name: "chair"})

	resp := f.do(t, http.MethodPost, "/api/assets/chair/checkout", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("checkout status = %d, want 200", resp.StatusCode)
	}
	if asset, _ := f.reg.Asset("chair"); asset.Holder != "tester" {
		t.Fatalf("holder = %q, want tester", asset.Holder)
	}
}

func TestAPIUnknownAssetIsNotFound(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/api/assets/ghost", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestAPIListAssets(t *testing.T) {
	f := newFixture(t)
	f.reg.AddAsset(registry.Asset{Name: "chair"})
	f.reg.AddAsset(registry.Asset{Name: "table", Holder: "alice"})

	resp := f.do(t, http.MethodGet, "/api/assets?checkedInOnly=true", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	list := decode[api.AssetListResponse](t, resp)
	if len(list.Assets) != 1 || list.Assets[0].Name != "chair" {
		t.Fatalf("unexpected assets: %+v", list.Assets)
	}
}

func TestAPIPartialCheckinReportsSagaAndResumes(t *testing.T) {
	f := newFixture(t)
	f.reg.AddAsset(registry.Asset{Name: "chair", Holder: "alice"})
	f.reg.FailMetadata(1)

	body, contentType := checkinForm(t, map[string]string{"holder": "alice", "note": "new legs", "bump": "minor"})
	resp := f.do(t, http.MethodPost, "/api/assets/chair/checkin", contentType, body)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("checkin status = %d, want 502", resp.StatusCode)
	}
	failure := decode[api.ErrorResponse](t, resp)
	if failure.SagaID == "" || failure.Kind != "partial_checkin" {
		t.Fatalf("unexpected error envelope: %+v", failure)
	}

	list := decode[api.CheckinListResponse](t, f.do(t, http.MethodGet, "/api/checkins", "", nil))
	if len(list.Checkins) != 1 || !list.Checkins[0].Resumable {
		t.Fatalf("expected one resumable check-in, got %+v", list.Checkins)
	}

	resp = f.do(t, http.MethodPost, "/api/checkins/"+failure.SagaID+"/resume", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resume status = %d, want 200", resp.StatusCode)
	}
	resumed := decode[api.CheckinResponse](t, resp)
	if resumed.Checkin.Version != "01.01.00" {
		t.Fatalf("version = %q, want 01.01.00", resumed.Checkin.Version)
	}
	if asset, _ := f.reg.Asset("chair"); asset.IsCheckedOut {
		t.Fatal("asset still checked out after resumed check-in")
	}
}

func TestAPICheckinRequiresFile(t *testing.T) {
	f := newFixture(t)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("holder", "alice")
	_ = mw.Close()

	resp := f.do(t, http.MethodPost, "/api/assets/chair/checkin", mw.FormDataContentType(), buf.Bytes())
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if f.reg.Requests("checkin") != 0 {
		t.Fatal("registry contacted for an invalid form")
	}
}

func TestAPIUploadCreatesAsset(t *testing.T) {
	f := newFixture(t)

	body, contentType := archiveForm(t, "stool.zip", map[string]string{"version": "02.00.00"})
	resp := f.do(t, http.MethodPost, "/api/assets/stool/upload", contentType, body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload status = %d, want 201", resp.StatusCode)
	}
	created := decode[api.AssetResponse](t, resp)
	if created.Asset.Name != "stool" || created.Asset.Version != "02.00.00" {
		t.Fatalf("unexpected asset: %+v", created.Asset)
	}
	if len(f.reg.Archive("stool")) == 0 {
		t.Fatal("archive not stored in registry")
	}
}

func TestAPIUploadRejectsNonZip(t *testing.T) {
	f := newFixture(t)

	body, contentType := archiveForm(t, "stool.blend", nil)
	resp := f.do(t, http.MethodPost, "/api/assets/stool/upload", contentType, body)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if body := decode[api.ErrorResponse](t, resp); body.Kind != "validation" {
		t.Fatalf("kind = %q, want validation", body.Kind)
	}
	if f.reg.Requests("upload") != 0 {
		t.Fatal("registry contacted for a non-zip upload")
	}
}

func TestAPILaunchMissingArchive(t *testing.T) {
	f := newFixture(t)
	f.reg.AddAsset(registry.Asset{Name: "chair"})

	resp := f.do(t, http.MethodPost, "/api/assets/chair/launch", "", nil)
	if resp.StatusCode != http.StatusPreconditionFailed {
		t.Fatalf("status = %d, want 412", resp.StatusCode)
	}
	if body := decode[api.ErrorResponse](t, resp); body.Kind != "missing_archive" {
		t.Fatalf("kind = %q, want missing_archive", body.Kind)
	}
}

func TestAPILaunchAcceptedAndObservable(t *testing.T) {
	f := newFixture(t)
	f.reg.AddAsset(registry.Asset{Name: "chair", Holder: "tester"})
	testsupport.AssetArchive(t, f.cfg.Paths.DownloadsDir, "chair")

	resp := f.do(t, http.MethodPost, "/api/assets/chair/launch", "", nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	accepted := decode[api.JobResponse](t, resp)
	if accepted.Job.ID == "" || !accepted.Job.CheckedOut {
		t.Fatalf("unexpected job: %+v", accepted.Job)
	}
	if got := resp.Header.Get("Location"); got != "/api/jobs/"+accepted.Job.ID {
		t.Fatalf("location = %q", got)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		job := decode[api.JobResponse](t, f.do(t, http.MethodGet, "/api/jobs/"+accepted.Job.ID, "", nil)).Job
		if job.Done {
			if job.State != string(launch.StateInteractiveLaunched) || len(job.Outcomes) != 2 {
				t.Fatalf("unexpected finished job: %+v", job)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("job did not finish")
		}
		time.Sleep(10 * time.Millisecond)
	}

	jobs := decode[api.JobListResponse](t, f.do(t, http.MethodGet, "/api/jobs", "", nil))
	if len(jobs.Jobs) != 1 {
		t.Fatalf("jobs = %d, want 1", len(jobs.Jobs))
	}
}

func TestAPIUnknownJob(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/api/jobs/nope", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestAPITools(t *testing.T) {
	f := newFixture(t)
	tools := decode[api.ToolsResponse](t, f.do(t, http.MethodGet, "/api/tools", "", nil))
	if len(tools.Tools) != 2 {
		t.Fatalf("tools = %d, want 2", len(tools.Tools))
	}
	for _, tool := range tools.Tools {
		if !tool.Available {
			t.Fatalf("stubbed tool %s reported unavailable: %s", tool.Name, tool.Detail)
		}
	}
}

func TestAPIRequiresBearerTokenWhenConfigured(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) { cfg.Paths.APIToken = "secret" })

	resp := f.do(t, http.MethodGet, "/api/tools", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, f.srv.URL+"/api/tools", nil)
	req.Header.Set("Authorization", "Bearer secret")
	authed, err := f.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("authorized request: %v", err)
	}
	defer authed.Body.Close()
	if authed.StatusCode != http.StatusOK {
		t.Fatalf("status with token = %d, want 200", authed.StatusCode)
	}
	if authed.Header.Get("X-Request-ID") == "" {
		t.Fatal("expected a request id header")
	}
}
