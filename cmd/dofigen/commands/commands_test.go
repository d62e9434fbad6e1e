package commands

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/opencontainers/go-digest"

	"github.com/dofigen/dofigen/pkg/lock"
)

var alpineDigest = digest.FromString("alpine").String()

// run executes the CLI in dir and returns stdout and stderr.
func run(t *testing.T, dir, stdin string, args ...string) (string, string, error) {
	t.Helper()
	color.NoColor = true
	t.Chdir(dir)

	a := &app{version: "1.2.3", commit: "abc", buildDate: "today"}
	cmd := newRootCommand(a)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))

	err := cmd.ExecuteContext(context.Background())
	if shutdownErr := a.shutdown(); shutdownErr != nil {
		t.Errorf("Expected no shutdown error, got: %v", shutdownErr)
	}
	return stdout.String(), stderr.String(), err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestGenerate(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "dofigen.yml"), fmt.Sprintf(`
fromImage: alpine@%s
workdir: /app
copy:
  - .
run:
  - make
ignore:
  - target
`, alpineDigest))

	_, stderr, err := run(t, dir, "", "generate", "--offline")
	if err != nil {
		t.Fatalf("Expected no error, got: %v\n%s", err, stderr)
	}

	dockerfile, err := os.ReadFile(filepath.Join(dir, "Dockerfile"))
	if err != nil {
		t.Fatalf("Expected a Dockerfile, got: %v", err)
	}
	if want := "FROM alpine@" + alpineDigest + " AS runtime"; !strings.Contains(string(dockerfile), want) {
		t.Errorf("Expected %q in:\n%s", want, dockerfile)
	}
	ignore, err := os.ReadFile(filepath.Join(dir, ".dockerignore"))
	if err != nil {
		t.Fatalf("Expected a .dockerignore, got: %v", err)
	}
	if !strings.Contains(string(ignore), "target") {
		t.Errorf("Expected the ignore pattern, got:\n%s", ignore)
	}

	f, err := lock.Load(filepath.Join(dir, lock.DefaultFileName))
	if err != nil {
		t.Fatalf("Expected a lock file, got: %v", err)
	}
	if !strings.Contains(f.Image, "workdir: /app") {
		t.Errorf("Expected the effective description in the lock, got:\n%s", f.Image)
	}
}

func TestGenerate_StdinToStdout(t *testing.T) {
	dir := t.TempDir()
	stdout, stderr, err := run(t, dir, "fromImage: alpine@"+alpineDigest+"\n", "gen", "--offline", "-f", "-", "-o", "-")
	if err != nil {
		t.Fatalf("Expected no error, got: %v\n%s", err, stderr)
	}
	if !strings.HasPrefix(stdout, "# syntax=") {
		t.Errorf("Expected a Dockerfile on stdout, got:\n%s", stdout)
	}
	if _, err := os.Stat(filepath.Join(dir, ".dockerignore")); !os.IsNotExist(err) {
		t.Errorf("Expected no .dockerignore, got: %v", err)
	}
}

func TestGenerate_Strict(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "dofigen.yml"), fmt.Sprintf("fromImage: alpine@%s\nuser: \"0\"\n", alpineDigest))

	_, stderr, err := run(t, dir, "", "generate", "--offline")
	if err != nil {
		t.Fatalf("Expected lint errors to be advisory, got: %v", err)
	}
	if !strings.Contains(stderr, "error[user]") {
		t.Errorf("Expected the lint error on stderr, got:\n%s", stderr)
	}

	if _, _, err := run(t, dir, "", "generate", "--offline", "--strict"); err == nil {
		t.Error("Expected strict generation to fail")
	}
}

func TestGenerate_LockedNeedsLock(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "dofigen.yml"), "fromImage: alpine:3.21\n")

	_, _, err := run(t, dir, "", "generate", "--locked")
	if err == nil || !strings.Contains(err.Error(), "cannot be resolved offline") {
		t.Errorf("Expected an offline resolution error, got: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "Dockerfile")); !os.IsNotExist(err) {
		t.Errorf("Expected no Dockerfile, got: %v", err)
	}
}

func TestEffective(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "base.yml"), "fromImage: alpine\nworkdir: /base\n")
	writeFile(t, filepath.Join(dir, "dofigen.yml"), "extend: base.yml\nworkdir: /app\n")

	stdout, stderr, err := run(t, dir, "", "effective", "--offline")
	if err != nil {
		t.Fatalf("Expected no error, got: %v\n%s", err, stderr)
	}
	for _, want := range []string{"fromImage: alpine", "workdir: /app"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("Expected %q in:\n%s", want, stdout)
		}
	}
	if strings.Contains(stdout, "extend") {
		t.Errorf("Expected extensions to be merged, got:\n%s", stdout)
	}
}

func TestLint(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "dofigen.yml"), `
builders:
  unused:
    fromImage: alpine:3.21
    run: [make]
fromImage: alpine:3.21
user: "0"
`)

	_, stderr, err := run(t, dir, "", "lint", "--offline")
	if err == nil {
		t.Fatal("Expected lint errors")
	}
	if !strings.Contains(stderr, "warning[builders.unused]") || !strings.Contains(stderr, "error[user]") {
		t.Errorf("Unexpected lint output:\n%s", stderr)
	}

	if _, _, err := run(t, dir, "", "lint", "--offline", "--disable", "no-root-runtime"); err != nil {
		t.Errorf("Expected no error once the policy is disabled, got: %v", err)
	}

	stdout, _, err := run(t, dir, "", "lint", "--offline", "--dot")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !strings.HasPrefix(stdout, "digraph") {
		t.Errorf("Expected a DOT graph, got:\n%s", stdout)
	}
}

func TestParse(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "Dockerfile"), `FROM golang:1.23 AS build
WORKDIR /src
COPY . .
RUN go build -o /app .

FROM alpine:3.21
COPY --from=build /app /app
LABEL team=a team=b
ENTRYPOINT ["/app"]
`)

	stdout, stderr, err := run(t, dir, "", "parse")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	for _, want := range []string{"builders:", "fromImage: alpine:3.21", "fromBuilder: build"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("Expected %q in:\n%s", want, stdout)
		}
	}
	if !strings.Contains(stderr, "warning") {
		t.Errorf("Expected a warning for the duplicate label, got:\n%s", stderr)
	}
}

func TestVersion(t *testing.T) {
	stdout, _, err := run(t, t.TempDir(), "", "version")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !strings.Contains(stdout, "dofigen 1.2.3") {
		t.Errorf("Unexpected version output: %q", stdout)
	}
}

func TestDescriptionFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if _, err := descriptionFile(""); err == nil {
		t.Error("Expected an error without a description file")
	}
	writeFile(t, filepath.Join(dir, "dofigen.json"), "{}")
	got, err := descriptionFile("")
	if err != nil || got != "dofigen.json" {
		t.Errorf("Expected dofigen.json, got %q (%v)", got, err)
	}
	if got, _ := descriptionFile("other.yml"); got != "other.yml" {
		t.Errorf("Expected the flag value, got %q", got)
	}
}
