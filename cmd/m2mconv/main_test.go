package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
)

type cliTestEnv struct {
	baseDir    string
	configPath string
	outputDir  string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	base := t.TempDir()
	home := filepath.Join(base, "home")
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", home)
	t.Setenv("M2MCONV_DEVICE", "")

	env := &cliTestEnv{
		baseDir:    base,
		configPath: filepath.Join(base, "config.toml"),
		outputDir:  filepath.Join(base, "out"),
	}
	content := fmt.Sprintf(`[paths]
state_dir = %q
log_dir = %q
output_dir = %q

[converter]
backend = "soft"
device = "soft0"
completion_timeout_ms = 5000

[input]
pixel_format = "RGB3"
width = 16
height = 12
buffer_count = 2

[[outputs]]
pixel_format = "GREY"
width = 8
height = 6
buffer_count = 2

[logging]
level = "error"
`, filepath.Join(base, "state"), filepath.Join(base, "logs"), env.outputDir)
	if err := os.WriteFile(env.configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return env
}

func runCLI(t *testing.T, configPath string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	if configPath != "" {
		args = append([]string{"--config", configPath}, args...)
	}
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func writeImage(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	img := imaging.New(32, 24, color.NRGBA{R: 200, G: 40, B: 90, A: 255})
	if err := imaging.Save(img, path); err != nil {
		t.Fatalf("save image: %v", err)
	}
	return path
}

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env.configPath, "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, "Backend: soft (soft0)")

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err = runCLI(t, "", "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, "", "config", "init", "--path", target); err == nil {
		t.Fatal("expected init to refuse overwriting without --overwrite")
	}
}

func TestConfigValidateRejectsBadBackend(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, env.configPath, "--backend", "gpu", "config", "validate")
	if err == nil || !strings.Contains(err.Error(), "converter.backend") {
		t.Fatalf("expected backend validation error, got %v", err)
	}
}

func TestProbeCommands(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env.configPath, "probe")
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	requireContains(t, out, "m2mconv-soft")

	out, _, err = runCLI(t, env.configPath, "probe", "formats", "--input", "YUYV")
	if err != nil {
		t.Fatalf("probe formats: %v", err)
	}
	requireContains(t, out, "GREY")

	out, _, err = runCLI(t, env.configPath, "probe", "sizes", "--size", "64x48")
	if err != nil {
		t.Fatalf("probe sizes: %v", err)
	}
	requireContains(t, out, "2x2 to 8192x8192")

	out, _, err = runCLI(t, env.configPath, "probe", "stride", "--format", "RGB3", "--size", "10x4")
	if err != nil {
		t.Fatalf("probe stride: %v", err)
	}
	requireContains(t, out, "128")
}

func TestProbeMissingDevice(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, env.configPath, "--backend", "v4l2", "--device", filepath.Join(env.baseDir, "nope"), "probe"); err == nil {
		t.Fatal("expected probe of a missing node to fail")
	}
}

func TestConvertAndHistory(t *testing.T) {
	env := setupCLITestEnv(t)
	inputs := t.TempDir()
	writeImage(t, inputs, "a.png")
	writeImage(t, inputs, "b.png")
	if err := os.WriteFile(filepath.Join(inputs, "notes.txt"), []byte("skip"), 0o644); err != nil {
		t.Fatalf("write notes: %v", err)
	}

	out, _, err := runCLI(t, env.configPath, "convert", "--json", inputs)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	var summary summaryJSONView
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("decode summary: %v\n%s", err, out)
	}
	if summary.FramesCompleted != 2 || len(summary.Frames) != 2 || summary.Failed != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if _, err := os.Stat(filepath.Join(env.outputDir, "a-s0.png")); err != nil {
		t.Fatalf("expected converted image: %v", err)
	}

	out, _, err = runCLI(t, env.configPath, "history")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, summary.RunID)
	requireContains(t, out, "Completed")

	out, _, err = runCLI(t, env.configPath, "history", "show", summary.RunID)
	if err != nil {
		t.Fatalf("history show: %v", err)
	}
	requireContains(t, out, "a.png")
	requireContains(t, out, "m2mconv-soft")

	if _, _, err := runCLI(t, env.configPath, "history", "show", "missing"); err == nil {
		t.Fatal("expected unknown run to fail")
	}

	out, _, err = runCLI(t, env.configPath, "history", "prune", "--older-than", "1h")
	if err != nil {
		t.Fatalf("history prune: %v", err)
	}
	requireContains(t, out, "Removed 0 run(s)")
}

func TestConvertRequiresImages(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, env.configPath, "convert", t.TempDir()); err == nil {
		t.Fatal("expected empty directory to be rejected")
	}
	if _, _, err := runCLI(t, env.configPath, "convert"); err == nil {
		t.Fatal("expected missing arguments to be rejected")
	}
}

func TestHistoryEmpty(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, env.configPath, "history")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, "No runs recorded")
}

func TestTitleCase(t *testing.T) {
	tests := map[string]string{
		"completed":   "Completed",
		"run_summary": "Run Summary",
		" cancelled ": "Cancelled",
	}
	for in, want := range tests {
		if got := titleCase(in); got != want {
			t.Errorf("titleCase(%q) = %q, want %q", in, got, want)
		}
	}
}
