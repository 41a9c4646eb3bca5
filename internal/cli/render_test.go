package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/matzehuels/vectorprint/pkg/raster"
)

const testDoc = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 200 100"><rect width="200" height="100"/></svg>`

// testEnv is a config file pointing at a temp catalog and sqlite ledger.
type testEnv struct {
	dir    string
	config string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	catalogDir := filepath.Join(dir, "catalog")
	if err := os.MkdirAll(catalogDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(catalogDir, "poster.svg"), []byte(testDoc), 0o644); err != nil {
		t.Fatal(err)
	}
	config := filepath.Join(dir, "config.toml")
	body := fmt.Sprintf(`
[ledger]
driver = "sqlite"
dsn = %q

[cache]
kind = "none"

[catalog]
dir = %q
`, filepath.Join(dir, "ledger.db"), catalogDir)
	if err := os.WriteFile(config, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return &testEnv{dir: dir, config: config}
}

func (e *testEnv) run(t *testing.T, args ...string) error {
	t.Helper()
	return e.runTo(t, io.Discard, args...)
}

// runTo runs a command with its stderr, where spinners draw, sent to w.
func (e *testEnv) runTo(t *testing.T, w io.Writer, args ...string) error {
	t.Helper()
	root := New(io.Discard, LogInfo).RootCommand()
	root.SetArgs(append([]string{"--config", e.config}, args...))
	root.SetOut(io.Discard)
	root.SetErr(w)
	return root.ExecuteContext(context.Background())
}

func TestRenderCommand(t *testing.T) {
	env := newTestEnv(t)
	input := filepath.Join(env.dir, "logo.svg")
	if err := os.WriteFile(input, []byte(testDoc), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := env.run(t, "render", input, "--width", "80", "--fill", "#ff0000"); err != nil {
		t.Fatalf("render: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(env.dir, "logo-80x40.png"))
	if err != nil {
		t.Fatalf("default output missing: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("\x89PNG")) {
		t.Error("output is not a PNG")
	}

	out := filepath.Join(env.dir, "nested", "logo.jpg")
	if err := env.run(t, "render", input, "-f", "jpg", "--height", "20", "-o", out); err != nil {
		t.Fatalf("render jpg: %v", err)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("explicit output missing: %v", err)
	}
}

func TestRenderCommandErrors(t *testing.T) {
	env := newTestEnv(t)
	input := filepath.Join(env.dir, "logo.svg")
	if err := os.WriteFile(input, []byte(testDoc), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := env.run(t, "render", filepath.Join(env.dir, "missing.svg")); err == nil {
		t.Error("missing input should fail")
	}
	if err := env.run(t, "render", input, "-f", "bmp"); err == nil {
		t.Error("unsupported format should fail")
	}
	if err := env.run(t, "render", input, "--width", "-5"); err == nil {
		t.Error("negative width should fail")
	}
}

func TestExportCommandMetersCredits(t *testing.T) {
	env := newTestEnv(t)
	out := filepath.Join(env.dir, "out.png")

	err := env.run(t, "export", "poster", "--user", "alice", "--key", "k1", "-o", out)
	if err == nil || !strings.Contains(err.Error(), "no_entitlement") {
		t.Fatalf("export without grant = %v, want no_entitlement", err)
	}

	if err := env.run(t, "grant", "issue", "poster", "--user", "alice", "--quota", "1"); err != nil {
		t.Fatalf("grant issue: %v", err)
	}
	if err := env.run(t, "export", "poster", "--user", "alice", "--key", "k1", "-o", out); err != nil {
		t.Fatalf("export: %v", err)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("output missing: %v", err)
	}

	// Same key replays without consuming; a new key is denied.
	if err := env.run(t, "export", "poster", "--user", "alice", "--key", "k1", "-o", out); err != nil {
		t.Errorf("replay: %v", err)
	}
	err = env.run(t, "export", "poster", "--user", "alice", "--key", "k2", "-o", out)
	if err == nil || !strings.Contains(err.Error(), "no_credits") {
		t.Errorf("second export = %v, want no_credits", err)
	}

	if err := env.run(t, "summary", "poster", "--user", "alice", "--json"); err != nil {
		t.Errorf("summary: %v", err)
	}
}

func TestExportCommandStatusLine(t *testing.T) {
	env := newTestEnv(t)
	out := filepath.Join(env.dir, "out.png")
	status := func(key string) string {
		t.Helper()
		var buf bytes.Buffer
		_ = env.runTo(t, &buf, "export", "poster", "--user", "alice", "--key", key, "-o", out)
		return buf.String()
	}

	if got := status("k1"); !strings.Contains(got, "Export denied") {
		t.Errorf("denied export status = %q", got)
	}
	if err := env.run(t, "grant", "issue", "poster", "--user", "alice", "--quota", "1"); err != nil {
		t.Fatalf("grant issue: %v", err)
	}
	if got := status("k1"); !strings.Contains(got, "Exported poster") {
		t.Errorf("export status = %q", got)
	}
	if got := status("k1"); !strings.Contains(got, "Replayed poster, no credit used") {
		t.Errorf("replay status = %q", got)
	}
}

func TestExportCommandRequiresIdentity(t *testing.T) {
	env := newTestEnv(t)
	if err := env.run(t, "export", "poster"); err == nil {
		t.Error("export without identity should fail")
	}
}

func TestSizeFlags(t *testing.T) {
	var f sizeFlags
	cmd := &cobra.Command{Use: "x"}
	f.register(cmd)
	if err := cmd.ParseFlags([]string{"--width", "120", "--print-width", "4"}); err != nil {
		t.Fatal(err)
	}

	req := f.request(cmd)
	if req.Width == nil || *req.Width != 120 {
		t.Errorf("width = %v", req.Width)
	}
	if req.Height != nil || req.Scale != nil {
		t.Error("unset flags should stay nil")
	}
	if req.Print == nil || req.Print.Width != 4 || req.Print.DPI != 300 {
		t.Errorf("print = %+v", req.Print)
	}
}

func TestStyleFlags(t *testing.T) {
	file := filepath.Join(t.TempDir(), "style.json")
	if err := os.WriteFile(file, []byte(`{"fill_color":"#000000","stroke_color":"#111111"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	f := styleFlags{file: file, fill: "#ffffff", noWatermark: true}
	p, err := f.payload()
	if err != nil {
		t.Fatal(err)
	}
	if p.FillColor != "#ffffff" {
		t.Errorf("fill = %q, flag should override file", p.FillColor)
	}
	if p.StrokeColor != "#111111" {
		t.Errorf("stroke = %q, want value from file", p.StrokeColor)
	}
	if p.IncludeWatermark == nil || *p.IncludeWatermark {
		t.Error("--no-watermark should disable the watermark")
	}

	if _, err := (&styleFlags{file: filepath.Join(t.TempDir(), "none.json")}).payload(); err == nil {
		t.Error("missing style file should fail")
	}
}

func TestFormatNames(t *testing.T) {
	names := formatNames()
	for f := range raster.ValidFormats {
		if !strings.Contains(names, string(f)) {
			t.Errorf("formatNames() = %q, missing %s", names, f)
		}
	}
}
