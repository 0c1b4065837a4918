package validate

import (
	"encoding/json"
	"go/parser"
	"go/token"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"
)

// FileCheck is the per-file outcome of a syntax check.
type FileCheck struct {
	Filename string `json:"filename"`
	Valid    bool   `json:"valid"`
	Error    string `json:"error,omitempty"`
}

// CheckSyntax parses every source-bearing block. Go files go through
// go/parser, JSON and YAML through their decoders; other extensions only
// need to be non-empty. Overall result is valid iff all files are valid.
func CheckSyntax(blocks []Block) (bool, []FileCheck) {
	allValid := true
	checks := make([]FileCheck, 0, len(blocks))
	for _, b := range blocks {
		c := checkOne(b)
		if !c.Valid {
			allValid = false
		}
		checks = append(checks, c)
	}
	return allValid, checks
}

func checkOne(b Block) FileCheck {
	c := FileCheck{Filename: b.Filename, Valid: true}
	if strings.TrimSpace(b.Source) == "" {
		c.Valid = false
		c.Error = "empty file"
		return c
	}

	switch strings.ToLower(filepath.Ext(b.Filename)) {
	case ".go":
		fset := token.NewFileSet()
		if _, err := parser.ParseFile(fset, b.Filename, b.Source, parser.AllErrors); err != nil {
			c.Valid = false
			c.Error = err.Error()
		}
	case ".json":
		if !json.Valid([]byte(b.Source)) {
			c.Valid = false
			c.Error = "invalid JSON"
		}
	case ".yaml", ".yml":
		var v interface{}
		if err := yaml.Unmarshal([]byte(b.Source), &v); err != nil {
			c.Valid = false
			c.Error = err.Error()
		}
	}
	return c
}

// goPackageName extracts the package clause from a Go source block; empty
// when the source does not parse that far.
func goPackageName(src string) string {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "", src, parser.PackageClauseOnly)
	if err != nil || f.Name == nil {
		return ""
	}
	return f.Name.Name
}
