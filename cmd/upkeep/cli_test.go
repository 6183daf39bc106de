// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/invowk/upkeep/internal/clock"
	"github.com/invowk/upkeep/internal/store"
	"github.com/invowk/upkeep/internal/testutil"
	"github.com/invowk/upkeep/pkg/types"

	"gopkg.in/yaml.v3"
)

const testCredential = "ghp_0123456789abcdef"

type (
	// fakeGitHub serves one release of acme/widget and its archive.
	fakeGitHub struct {
		srv     *httptest.Server
		tag     string
		asset   string
		archive []byte
	}

	cliHarness struct {
		t      *testing.T
		dir    string
		config string
		kv     *store.Memory
		clock  *testutil.FakeClock
	}

	cliResult struct {
		stdout string
		stderr string
		err    error
	}
)

func newFakeGitHub(t *testing.T, tag, asset string) *fakeGitHub {
	t.Helper()

	gh := &fakeGitHub{tag: tag, asset: asset, archive: buildArchive(t, map[string]string{
		"plugin.txt":     "version " + tag,
		"lib/helper.txt": "helper",
	})}

	mux := http.NewServeMux()
	writeRelease := func(w http.ResponseWriter) {
		base := gh.srv.URL
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{
			"tag_name": %q,
			"html_url": "%s/acme/widget/releases/tag/%s",
			"published_at": "2026-01-02T03:04:05Z",
			"assets": [
				{"name": "widget-src.tar.gz", "content_type": "application/gzip",
				 "url": "%s/repos/acme/widget/releases/assets/6",
				 "browser_download_url": "%s/download/widget-src.tar.gz"},
				{"name": %q, "content_type": "application/zip", "size": %d,
				 "url": "%s/repos/acme/widget/releases/assets/7",
				 "browser_download_url": "%s/download/%s"}
			]
		}`, gh.tag, base, gh.tag, base, base, gh.asset, len(gh.archive), base, base, gh.asset)
	}
	mux.HandleFunc("/repos/acme/widget/releases/latest", func(w http.ResponseWriter, _ *http.Request) {
		writeRelease(w)
	})
	mux.HandleFunc("/repos/acme/widget/releases/tags/{tag}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("tag") != gh.tag {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"message": "Not Found"}`)
			return
		}
		writeRelease(w)
	})
	mux.HandleFunc("/repos/acme/widget/releases/assets/7", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+testCredential {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"message": "Not Found"}`)
			return
		}
		http.Redirect(w, r, gh.srv.URL+"/download/"+gh.asset+"?sig=s3cr3t", http.StatusFound)
	})
	mux.HandleFunc("/download/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Errorf("download request carried Authorization")
		}
		_, _ = w.Write(gh.archive)
	})

	gh.srv = httptest.NewServer(mux)
	t.Cleanup(gh.srv.Close)
	return gh
}

func buildArchive(t *testing.T, entries map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("creating zip entry: %v", err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("writing zip entry: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("closing zip: %v", err)
	}
	return buf.Bytes()
}

// newHarness writes a config pointing at gh. extra is appended verbatim.
func newHarness(t *testing.T, gh *fakeGitHub, extra string) *cliHarness {
	t.Helper()

	dir := t.TempDir()
	body := fmt.Sprintf(`repository:      "acme/widget"
asset_prefix:    "widget"
current_version: "1.0.0"
api_base_url:    %q
data_dir:        %q

log: level: "debug"
%s`, gh.srv.URL, filepath.Join(dir, "data"), extra)

	c := testutil.NewFakeClock(time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC))
	return &cliHarness{
		t:      t,
		dir:    dir,
		config: testutil.MustWriteFile(t, dir, "config.cue", []byte(body)),
		kv:     store.NewMemory(c),
		clock:  c,
	}
}

func (h *cliHarness) run(stdin string, args ...string) cliResult {
	h.t.Helper()

	var stdout, stderr bytes.Buffer
	app := NewApp(Dependencies{
		OpenStore: func(string, clock.Clock) (KVStore, error) { return h.kv, nil },
		Clock:     h.clock,
		Stdin:     strings.NewReader(stdin),
		Stdout:    &stdout,
		Stderr:    &stderr,
	})
	root := NewRootCommand(app)
	root.SetArgs(append([]string{"--config", h.config}, args...))
	err := root.ExecuteContext(context.Background())
	return cliResult{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

func (r cliResult) exitCode() types.ExitCode {
	return classifyExitCode(r.err)
}

func decodeJSON[T any](t *testing.T, raw string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		t.Fatalf("decoding %q: %v", raw, err)
	}
	return v
}

func TestCheck_ReportsUpdateAsJSON(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeGitHub(t, "v2.0.0", "widget.zip"), "")

	res := h.run("", "check", "-o", "json")
	if res.err != nil {
		t.Fatalf("check: %v\nstderr: %s", res.err, res.stderr)
	}

	got := decodeJSON[map[string]any](t, res.stdout)
	if got["instance"] != "default" || got["state"] != "update_available" {
		t.Errorf("unexpected report %v", got)
	}
	if got["latest_version"] != "2.0.0" || got["update_available"] != true {
		t.Errorf("unexpected versions %v", got)
	}
	if _, ok := got["resolved_download_url"]; ok {
		t.Error("a check must not resolve the download")
	}
}

func TestCheck_UpToDateText(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeGitHub(t, "v1.0.0", "widget.zip"), "")

	res := h.run("", "check")
	if res.err != nil {
		t.Fatalf("check: %v", res.err)
	}
	if !strings.Contains(res.stdout, "Up to date") {
		t.Errorf("expected up-to-date header, got:\n%s", res.stdout)
	}
}

func TestCheck_YAMLOutput(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeGitHub(t, "v2.0.0", "widget.zip"), "")

	res := h.run("", "check", "-o", "yaml")
	if res.err != nil {
		t.Fatalf("check: %v", res.err)
	}
	var got map[string]any
	if err := yaml.Unmarshal([]byte(res.stdout), &got); err != nil {
		t.Fatalf("decoding yaml: %v\n%s", err, res.stdout)
	}
	if got["state"] != "update_available" || got["instance"] != "default" {
		t.Errorf("unexpected report %v", got)
	}
}

func TestCheck_MissingSettingsIsConfigurationFailure(t *testing.T) {
	t.Parallel()

	gh := newFakeGitHub(t, "v2.0.0", "widget.zip")
	h := newHarness(t, gh, "")
	if err := os.WriteFile(h.config, []byte(`asset_prefix: "widget"
current_version: "1.0.0"
data_dir: "`+filepath.Join(h.dir, "data")+`"
`), 0o600); err != nil {
		t.Fatal(err)
	}

	res := h.run("", "check", "-o", "json")
	if res.exitCode() != types.ExitConfiguration {
		t.Fatalf("exit code = %d, want %d (err %v)", res.exitCode(), types.ExitConfiguration, res.err)
	}
	got := decodeJSON[map[string]any](t, res.stdout)
	if got["kind"] != "configuration" || got["success"] != false {
		t.Errorf("unexpected report %v", got)
	}
}

func TestCheck_UnknownInstance(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeGitHub(t, "v2.0.0", "widget.zip"), "")

	res := h.run("", "check", "--instance", "nope")
	if res.exitCode() != types.ExitConfiguration {
		t.Fatalf("exit code = %d, want %d (err %v)", res.exitCode(), types.ExitConfiguration, res.err)
	}
	if !strings.Contains(res.stderr, "nope") {
		t.Errorf("stderr should name the instance, got:\n%s", res.stderr)
	}
}

func TestCheck_NamedInstance(t *testing.T) {
	t.Parallel()

	gh := newFakeGitHub(t, "v2.0.0", "widget.zip")
	h := newHarness(t, gh, fmt.Sprintf(`
instances: {
	Staging: {
		repository:      "acme/widget"
		asset_prefix:    "widget"
		current_version: "2.0.0"
		api_base_url:    %q
	}
}
`, gh.srv.URL))

	res := h.run("", "check", "--instance", "staging", "-o", "json")
	if res.err != nil {
		t.Fatalf("check: %v\nstderr: %s", res.err, res.stderr)
	}
	got := decodeJSON[map[string]any](t, res.stdout)
	if got["instance"] != "staging" || got["state"] != "no_update" {
		t.Errorf("unexpected report %v", got)
	}
}

func TestRoot_InvalidOutputFormat(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeGitHub(t, "v2.0.0", "widget.zip"), "")

	res := h.run("", "check", "-o", "xml")
	if !errors.Is(res.err, errUnknownOutput) {
		t.Fatalf("expected errUnknownOutput, got %v", res.err)
	}
	if res.exitCode() != types.ExitConfiguration {
		t.Errorf("exit code = %d, want %d", res.exitCode(), types.ExitConfiguration)
	}
}

func TestValidate_AssetMissing(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeGitHub(t, "v2.0.0", "gadget.zip"), "")

	res := h.run("", "validate", "-o", "json")
	if res.exitCode() != types.ExitUpstream {
		t.Fatalf("exit code = %d, want %d (err %v)", res.exitCode(), types.ExitUpstream, res.err)
	}
	got := decodeJSON[map[string]any](t, res.stdout)
	if got["state"] != "asset_missing" || got["kind"] != "asset_selection" {
		t.Errorf("unexpected report %v", got)
	}
}

func TestValidate_CredentialOverrideResolvesRedirect(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeGitHub(t, "v2.0.0", "widget.zip"), "")

	res := h.run(testCredential+"\n", "validate", "--credential-stdin", "-o", "json")
	if res.err != nil {
		t.Fatalf("validate: %v\nstderr: %s", res.err, res.stderr)
	}
	got := decodeJSON[map[string]any](t, res.stdout)
	if got["state"] != "ready" {
		t.Fatalf("unexpected report %v", got)
	}
	if u, _ := got["resolved_download_url"].(string); !strings.Contains(u, "/download/widget.zip?sig=") {
		t.Errorf("resolved URL = %q, want the redirect target", u)
	}
	if strings.Contains(res.stdout+res.stderr, testCredential) {
		t.Error("credential leaked into output")
	}

	// An override run does not persist its snapshot.
	status := decodeJSON[statusReport](t, h.run("", "status", "-o", "json").stdout)
	if len(status.Instances) != 1 || status.Instances[0].SnapshotTaken != nil {
		t.Errorf("unexpected status %+v", status)
	}
}

func TestValidate_PinnedTag(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeGitHub(t, "v2.0.0", "widget.zip"), "")

	res := h.run("", "validate", "--tag", "v2.0.0", "-o", "json")
	if res.err != nil {
		t.Fatalf("validate: %v\nstderr: %s", res.err, res.stderr)
	}
	got := decodeJSON[map[string]any](t, res.stdout)
	if got["state"] != "ready" || got["tag_name"] != "v2.0.0" {
		t.Errorf("unexpected report %v", got)
	}

	res = h.run("", "validate", "--tag", "v0.0.9", "-o", "json")
	if res.exitCode() != types.ExitUpstream {
		t.Fatalf("exit code = %d, want %d (err %v)", res.exitCode(), types.ExitUpstream, res.err)
	}
	got = decodeJSON[map[string]any](t, res.stdout)
	if got["kind"] != "upstream" {
		t.Errorf("unexpected report %v", got)
	}
}

func TestValidate_TextHidesSignedQuery(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeGitHub(t, "v2.0.0", "widget.zip"), "")

	res := h.run(testCredential, "validate", "--credential-stdin")
	if res.err != nil {
		t.Fatalf("validate: %v\nstderr: %s", res.err, res.stderr)
	}
	if strings.Contains(res.stdout, "s3cr3t") {
		t.Errorf("signature leaked into text output:\n%s", res.stdout)
	}
	if !strings.Contains(res.stdout, "Update ready to install") {
		t.Errorf("expected ready header, got:\n%s", res.stdout)
	}
}

func TestUpdate_InstallsArchive(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeGitHub(t, "v2.0.0", "widget.zip"), "")
	target := filepath.Join(h.dir, "install")

	res := h.run("", "update", "--target", target, "-o", "json")
	if res.err != nil {
		t.Fatalf("update: %v\nstderr: %s", res.err, res.stderr)
	}

	got := decodeJSON[map[string]any](t, res.stdout)
	if got["version"] != "2.0.0" || got["target"] != target {
		t.Errorf("unexpected report %v", got)
	}
	data, err := os.ReadFile(filepath.Join(target, "plugin.txt"))
	if err != nil {
		t.Fatalf("reading installed file: %v", err)
	}
	if string(data) != "version v2.0.0" {
		t.Errorf("installed content = %q", data)
	}
	if _, err := os.Stat(filepath.Join(target, "lib", "helper.txt")); err != nil {
		t.Errorf("nested file missing: %v", err)
	}

	// The installed snapshot is consumed and the lock released.
	status := decodeJSON[statusReport](t, h.run("", "status", "-o", "json").stdout)
	st := status.Instances[0]
	if st.SnapshotTaken != nil || st.ReadyVersion != "" || st.UpdateRunning {
		t.Errorf("unexpected status after install %+v", st)
	}
}

func TestUpdate_UsesConfiguredTarget(t *testing.T) {
	t.Parallel()

	gh := newFakeGitHub(t, "v2.0.0", "widget.zip")
	target := filepath.Join(t.TempDir(), "plugin")
	h := newHarness(t, gh, fmt.Sprintf("install: target_dir: %q\n", target))

	res := h.run("", "update")
	if res.err != nil {
		t.Fatalf("update: %v\nstderr: %s", res.err, res.stderr)
	}
	if !strings.Contains(res.stdout, "Updated to 2.0.0") {
		t.Errorf("unexpected output:\n%s", res.stdout)
	}
	if _, err := os.Stat(filepath.Join(target, "plugin.txt")); err != nil {
		t.Errorf("archive not installed: %v", err)
	}
}

func TestUpdate_DryRunInstallsNothing(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeGitHub(t, "v2.0.0", "widget.zip"), "")
	target := filepath.Join(h.dir, "install")

	res := h.run("", "update", "--dry-run", "--target", target)
	if res.err != nil {
		t.Fatalf("update --dry-run: %v", res.err)
	}
	if _, err := os.Stat(target); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("dry run created the target: %v", err)
	}
}

func TestUpdate_NoTargetIsConfigurationFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeGitHub(t, "v2.0.0", "widget.zip"), "")

	res := h.run("", "update")
	if res.exitCode() != types.ExitConfiguration {
		t.Fatalf("exit code = %d, want %d (err %v)", res.exitCode(), types.ExitConfiguration, res.err)
	}
}

func TestUpdate_UpToDateInstallsNothing(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeGitHub(t, "v1.0.0", "widget.zip"), "")
	target := filepath.Join(h.dir, "install")

	res := h.run("", "update", "--target", target)
	if res.err != nil {
		t.Fatalf("update: %v", res.err)
	}
	if _, err := os.Stat(target); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("up-to-date run created the target: %v", err)
	}
}

func TestStatus_AfterCheck(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeGitHub(t, "v2.0.0", "widget.zip"), "")
	if res := h.run("", "check"); res.err != nil {
		t.Fatalf("check: %v", res.err)
	}

	res := h.run("", "status", "-o", "json")
	if res.err != nil {
		t.Fatalf("status: %v", res.err)
	}
	report := decodeJSON[statusReport](t, res.stdout)
	if report.CredentialStored || len(report.Instances) != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	st := report.Instances[0]
	if st.Repository != "acme/widget" || st.LatestVersion != "2.0.0" || !st.UpdateAvailable {
		t.Errorf("unexpected status %+v", st)
	}
	if st.LastChecked == nil || !st.LastChecked.Equal(h.clock.Now()) {
		t.Errorf("last checked = %v, want %v", st.LastChecked, h.clock.Now())
	}
}

func TestCredential_SetStatusClear(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeGitHub(t, "v2.0.0", "widget.zip"), `credential: secrets: ["host-secret"]`+"\n")

	res := h.run(testCredential+"\n", "credential", "set")
	if res.err != nil {
		t.Fatalf("credential set: %v\nstderr: %s", res.err, res.stderr)
	}

	res = h.run("", "credential", "status", "-o", "json")
	if res.err != nil {
		t.Fatalf("credential status: %v", res.err)
	}
	st := decodeJSON[credentialStatus](t, res.stdout)
	if !st.KeyMaterial || !st.Stored || !st.Readable {
		t.Errorf("unexpected status %+v", st)
	}

	// The stored credential is used for resolution.
	res = h.run("", "validate", "-o", "json")
	if res.err != nil {
		t.Fatalf("validate: %v\nstderr: %s", res.err, res.stderr)
	}
	if got := decodeJSON[map[string]any](t, res.stdout); !strings.Contains(fmt.Sprint(got["resolved_download_url"]), "sig=") {
		t.Errorf("expected redirect resolution, got %v", got)
	}

	if res = h.run("", "credential", "clear"); res.err != nil {
		t.Fatalf("credential clear: %v", res.err)
	}
	st = decodeJSON[credentialStatus](t, h.run("", "credential", "status", "-o", "json").stdout)
	if st.Stored {
		t.Errorf("credential still stored after clear: %+v", st)
	}

	raw, _, _ := h.kv.Get("credential")
	if strings.Contains(string(raw), testCredential) {
		t.Error("credential stored in plaintext")
	}
}

func TestCredential_StoredValueIsEncrypted(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeGitHub(t, "v2.0.0", "widget.zip"), `credential: salt: "host-salt"`+"\n")

	res := h.run(testCredential, "credential", "set")
	if res.err != nil {
		t.Fatalf("credential set: %v", res.err)
	}
	raw, ok, err := h.kv.Get("credential")
	if err != nil || !ok {
		t.Fatalf("expected stored envelope, ok=%v err=%v", ok, err)
	}
	if strings.Contains(string(raw), testCredential) {
		t.Error("credential stored in plaintext")
	}
	if strings.Contains(res.stdout+res.stderr, testCredential) {
		t.Error("credential leaked into output")
	}
}

func TestCredential_SetWithoutKeyMaterial(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeGitHub(t, "v2.0.0", "widget.zip"), "")

	res := h.run(testCredential, "credential", "set")
	if res.exitCode() != types.ExitConfiguration {
		t.Fatalf("exit code = %d, want %d (err %v)", res.exitCode(), types.ExitConfiguration, res.err)
	}
	if _, ok, _ := h.kv.Get("credential"); ok {
		t.Error("credential stored without key material")
	}
}

func TestConfigShow_RedactsSecrets(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeGitHub(t, "v2.0.0", "widget.zip"), `credential: secrets: ["host-secret"]`+"\n")

	for _, format := range []string{"cue", "toml", "json"} {
		res := h.run("", "config", "show", "--format", format)
		if res.err != nil {
			t.Fatalf("config show --format %s: %v", format, res.err)
		}
		if strings.Contains(res.stdout, "host-secret") {
			t.Errorf("%s output leaks the secret:\n%s", format, res.stdout)
		}
		if !strings.Contains(res.stdout, "acme/widget") {
			t.Errorf("%s output misses the repository:\n%s", format, res.stdout)
		}
	}

	if res := h.run("", "config", "show", "--format", "ini"); res.exitCode() != types.ExitConfiguration {
		t.Errorf("unknown format: exit code = %d, want %d", res.exitCode(), types.ExitConfiguration)
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeGitHub(t, "v2.0.0", "widget.zip"), "")
	path := filepath.Join(h.dir, "fresh", "config.cue")

	runAt := func(args ...string) cliResult {
		h.config = path
		return h.run("", args...)
	}

	if res := runAt("config", "init"); res.err != nil {
		t.Fatalf("config init: %v", res.err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config not written: %v", err)
	}

	res := runAt("config", "init")
	if res.err != nil || !strings.Contains(res.stdout, "already exists") {
		t.Errorf("second init: err=%v stdout=%q", res.err, res.stdout)
	}
	if res := runAt("config", "init", "--force"); res.err != nil || !strings.Contains(res.stdout, "Wrote") {
		t.Errorf("forced init: err=%v stdout=%q", res.err, res.stdout)
	}

	if res := runAt("config", "validate", path); res.err != nil {
		t.Errorf("validate generated config: %v", res.err)
	}

	bad := testutil.MustWriteFile(t, h.dir, "bad.cue", []byte(`log: level: "loud"`))
	if res := runAt("config", "validate", bad); res.exitCode() != types.ExitConfiguration {
		t.Errorf("invalid file: exit code = %d, want %d", res.exitCode(), types.ExitConfiguration)
	}
}

func TestConfigPath(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeGitHub(t, "v2.0.0", "widget.zip"), "")

	res := h.run("", "config", "path")
	if res.err != nil {
		t.Fatalf("config path: %v", res.err)
	}
	if !strings.Contains(res.stdout, h.config) || !strings.Contains(res.stdout, filepath.Join(h.dir, "data")) {
		t.Errorf("unexpected output:\n%s", res.stdout)
	}
}

func TestSession_StoreLockedIsConflict(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeGitHub(t, "v2.0.0", "widget.zip"), "")

	var stdout, stderr bytes.Buffer
	app := NewApp(Dependencies{
		OpenStore: func(dir string, _ clock.Clock) (KVStore, error) {
			return nil, fmt.Errorf("%w: %s", store.ErrLocked, dir)
		},
		Stdin:  strings.NewReader(""),
		Stdout: &stdout,
		Stderr: &stderr,
	})
	root := NewRootCommand(app)
	root.SetArgs([]string{"--config", h.config, "check"})
	err := root.ExecuteContext(context.Background())

	if got := classifyExitCode(err); got != types.ExitConflict {
		t.Errorf("exit code = %d, want %d (err %v)", got, types.ExitConflict, err)
	}
}
