package main

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var (
	sqlKeywordPattern = regexp.MustCompile(`(?i)^\s*(--sql\b.*\n\s*)?(select|insert|update|delete|with|create|alter)\b`)
	markerPattern     = regexp.MustCompile(`^--sql ([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})$`)
)

type violation struct {
	file    string
	line    int
	name    string
	message string
}

func (v violation) String() string {
	return fmt.Sprintf("%s:%d %s (%s)", v.file, v.line, v.message, v.name)
}

type marker struct {
	name string
	pos  token.Position
}

type linter struct {
	fset  *token.FileSet
	seen  map[string]marker
	found []violation
}

func lintPaths(targets []string) ([]violation, error) {
	l := &linter{fset: token.NewFileSet(), seen: map[string]marker{}}
	for _, target := range targets {
		info, err := os.Stat(target)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			if filepath.Ext(target) == ".go" {
				if err := l.file(target); err != nil {
					return nil, err
				}
			}
			continue
		}
		err = filepath.WalkDir(target, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != target && (strings.HasPrefix(d.Name(), ".") || strings.HasPrefix(d.Name(), "_") || d.Name() == "vendor") {
					return filepath.SkipDir
				}
				return nil
			}
			if filepath.Ext(path) != ".go" || strings.HasSuffix(path, "_test.go") {
				return nil
			}
			return l.file(path)
		})
		if err != nil {
			return nil, err
		}
	}
	return l.found, nil
}

func (l *linter) file(path string) error {
	file, err := parser.ParseFile(l.fset, path, nil, parser.ParseComments)
	if err != nil {
		return err
	}
	ast.Inspect(file, func(n ast.Node) bool {
		vs, ok := n.(*ast.ValueSpec)
		if !ok {
			return true
		}
		for i, value := range vs.Values {
			bl, ok := value.(*ast.BasicLit)
			if !ok || bl.Kind != token.STRING {
				continue
			}
			raw, err := unquote(bl.Value)
			if err != nil || !sqlKeywordPattern.MatchString(raw) {
				continue
			}
			name := "_"
			if i < len(vs.Names) {
				name = vs.Names[i].Name
			}
			l.check(name, l.fset.Position(bl.Pos()), raw)
		}
		return true
	})
	return nil
}

func (l *linter) check(name string, pos token.Position, raw string) {
	report := func(msg string) {
		l.found = append(l.found, violation{file: pos.Filename, line: pos.Line, name: name, message: msg})
	}
	m := markerPattern.FindStringSubmatch(firstLine(raw))
	if m == nil {
		report("missing or invalid --sql <uuid> marker")
		return
	}
	if !strings.HasPrefix(name, "Q") {
		report("query constants must be named Q<Name>")
	}
	if prev, dup := l.seen[m[1]]; dup {
		report(fmt.Sprintf("marker %s already used by %s at %s:%d", m[1], prev.name, prev.pos.Filename, prev.pos.Line))
		return
	}
	l.seen[m[1]] = marker{name: name, pos: pos}
}

func firstLine(s string) string {
	s = strings.TrimLeft(s, "\n\r \t")
	if idx := strings.IndexAny(s, "\n\r"); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return strings.TrimSpace(s)
}

func unquote(v string) (string, error) {
	if len(v) == 0 {
		return v, nil
	}
	if v[0] == '`' {
		return v[1 : len(v)-1], nil
	}
	return strconv.Unquote(v)
}
