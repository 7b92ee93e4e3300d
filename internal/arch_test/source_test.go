// Package arch_test checks structural rules of the module by parsing its
// source: package layering, package-level state, GoDoc, interface placement
// and file size.
package arch_test

import (
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"testing"
)

const modulePath = "github.com/papapumpkin/assasdb"

// sourcePkg is one parsed package directory.
type sourcePkg struct {
	Name  string
	Dir   string
	Fset  *token.FileSet
	Files []sourceFile // non-test files, sorted by path
	Tests []string     // _test.go paths
}

type sourceFile struct {
	Path  string
	Lines int
	AST   *ast.File
}

// repoRoot walks up from this file to the directory holding go.mod.
func repoRoot(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	for dir := filepath.Dir(file); ; {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("go.mod not found above " + file)
		}
		dir = parent
	}
}

// internalPkgs parses every package under internal/ except this one.
func internalPkgs(t *testing.T) []sourcePkg {
	t.Helper()
	dir := filepath.Join(repoRoot(t), "internal")
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir %s: %v", dir, err)
	}
	var out []sourcePkg
	for _, e := range entries {
		if !e.IsDir() || e.Name() == "arch_test" {
			continue
		}
		if p := parsePkg(t, filepath.Join(dir, e.Name())); len(p.Files) > 0 {
			out = append(out, p)
		}
	}
	return out
}

// commandPkg parses the cmd package.
func commandPkg(t *testing.T) sourcePkg {
	t.Helper()
	return parsePkg(t, filepath.Join(repoRoot(t), "cmd"))
}

func parsePkg(t *testing.T, dir string) sourcePkg {
	t.Helper()
	p := sourcePkg{Name: filepath.Base(dir), Dir: dir, Fset: token.NewFileSet()}
	paths, err := filepath.Glob(filepath.Join(dir, "*.go"))
	if err != nil {
		t.Fatalf("Glob %s: %v", dir, err)
	}
	sort.Strings(paths)
	for _, path := range paths {
		if strings.HasSuffix(path, "_test.go") {
			p.Tests = append(p.Tests, path)
			continue
		}
		f, err := parser.ParseFile(p.Fset, path, nil, parser.ParseComments|parser.SkipObjectResolution)
		if err != nil {
			t.Fatalf("parse %s: %v", path, err)
		}
		p.Files = append(p.Files, sourceFile{Path: path, Lines: p.Fset.File(f.Pos()).LineCount(), AST: f})
	}
	return p
}

// internalImports returns the internal packages p imports, by name.
func (p sourcePkg) internalImports() []string {
	seen := make(map[string]bool)
	for _, f := range p.Files {
		for _, imp := range f.AST.Imports {
			path, _ := strconv.Unquote(imp.Path.Value)
			if name, ok := strings.CutPrefix(path, modulePath+"/internal/"); ok {
				seen[name] = true
			}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// rel returns path relative to the repository root, for messages.
func rel(t *testing.T, path string) string {
	t.Helper()
	r, err := filepath.Rel(repoRoot(t), path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(r)
}

// names collects the qualified names referenced by expr. Selectors on a
// package identifier yield "pkg.Name"; bare identifiers are qualified with
// self.
func names(expr ast.Expr, self string) map[string]bool {
	out := make(map[string]bool)
	if expr == nil {
		return out
	}
	ast.Inspect(expr, func(n ast.Node) bool {
		switch n := n.(type) {
		case *ast.SelectorExpr:
			if id, ok := n.X.(*ast.Ident); ok {
				out[id.Name+"."+n.Sel.Name] = true
				return false
			}
		case *ast.Ident:
			out[self+"."+n.Name] = true
		}
		return true
	})
	return out
}
