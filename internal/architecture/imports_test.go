package architecture_test

import (
	"bufio"
	"fmt"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// Each layer lists the internal packages it must never import. Outer layers
// (app, cmd) are unrestricted.
var boundaries = []struct {
	layer string
	deny  []string
}{
	{"internal/pkg/", []string{"domain/", "data/", "ingestion/", "http/", "services", "events", "realtime", "temporalx", "jobs/", "platform/", "observability", "app"}},
	{"internal/domain/", []string{"data/", "ingestion/", "http/", "services", "events", "realtime", "temporalx", "jobs/", "platform/", "app"}},
	{"internal/platform/", []string{"domain/", "data/", "ingestion/", "http/", "services", "events", "realtime", "temporalx", "jobs/", "app"}},
	{"internal/data/", []string{"ingestion/", "http/", "services", "events", "realtime", "temporalx", "jobs/", "platform/", "app"}},
	{"internal/ingestion/", []string{"http/", "services", "events", "realtime", "temporalx", "jobs/", "app"}},
	{"internal/realtime/", []string{"data/repos", "ingestion/", "http/", "services", "events", "temporalx", "jobs/", "app"}},
	{"internal/jobs/", []string{"http/", "services", "events", "temporalx", "app"}},
	{"internal/temporalx/", []string{"http/", "services", "events", "jobs/", "app"}},
	{"internal/services/", []string{"http/", "events", "temporalx", "jobs/", "app"}},
	{"internal/events/", []string{"http/", "temporalx", "jobs/", "app"}},
	{"internal/http/", []string{"ingestion/extractor", "ingestion/persist", "ingestion/pipeline", "temporalx", "jobs/", "platform/", "events", "app"}},
}

func TestImportBoundaries(t *testing.T) {
	root, modulePath := moduleRoot(t)
	fset := token.NewFileSet()

	var violations []string
	walkErr := filepath.WalkDir(filepath.Join(root, "internal"), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		deny := deniedFor(modulePath, rel)
		if len(deny) == 0 {
			return nil
		}

		f, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
		if err != nil {
			return err
		}
		for _, spec := range f.Imports {
			imp, err := strconv.Unquote(spec.Path.Value)
			if err != nil {
				continue
			}
			for _, bad := range deny {
				if strings.HasPrefix(imp, bad) {
					violations = append(violations, fmt.Sprintf("- %s imports %q", rel, imp))
					break
				}
			}
		}
		return nil
	})
	if walkErr != nil {
		t.Fatalf("walk internal/: %v", walkErr)
	}
	if len(violations) > 0 {
		t.Fatalf("import boundary violations:\n%s", strings.Join(violations, "\n"))
	}
}

func TestDeniedForMatchesLayer(t *testing.T) {
	deny := deniedFor("example.com/m", "internal/domain/labs/status.go")
	if len(deny) == 0 || deny[0] != "example.com/m/internal/data/" {
		t.Fatalf("unexpected deny list: %v", deny)
	}
	if got := deniedFor("example.com/m", "internal/app/app.go"); got != nil {
		t.Fatalf("app should be unrestricted, got %v", got)
	}
}

func deniedFor(modulePath, rel string) []string {
	for _, b := range boundaries {
		if !strings.HasPrefix(rel, b.layer) {
			continue
		}
		out := make([]string, 0, len(b.deny))
		for _, d := range b.deny {
			out = append(out, modulePath+"/internal/"+d)
		}
		return out
	}
	return nil
}

func moduleRoot(t *testing.T) (string, string) {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("go.mod not found")
		}
		dir = parent
	}
	mp, err := readModulePath(filepath.Join(dir, "go.mod"))
	if err != nil {
		t.Fatalf("read module path: %v", err)
	}
	return dir, mp
}

func readModulePath(goModPath string) (string, error) {
	f, err := os.Open(goModPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if mp, ok := strings.CutPrefix(line, "module "); ok {
			return strings.TrimSpace(mp), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("module path not found in %s", goModPath)
}
