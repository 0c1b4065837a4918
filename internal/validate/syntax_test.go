package validate

import "testing"

func TestCheckSyntaxValidGo(t *testing.T) {
	ok, checks := CheckSyntax([]Block{
		{Filename: "a.go", Source: "package a\n\nfunc A() int { return 1 }"},
	})
	if !ok {
		t.Fatalf("expected valid, got %+v", checks)
	}
}

func TestCheckSyntaxInvalidGo(t *testing.T) {
	ok, checks := CheckSyntax([]Block{
		{Filename: "a.go", Source: "package a\n\nfunc A() int { return"},
	})
	if ok {
		t.Fatal("expected invalid")
	}
	if len(checks) != 1 || checks[0].Valid || checks[0].Error == "" {
		t.Fatalf("expected a failing check with an error, got %+v", checks)
	}
}

func TestCheckSyntaxMixedFileTypes(t *testing.T) {
	ok, checks := CheckSyntax([]Block{
		{Filename: "config.json", Source: `{"key": "value"}`},
		{Filename: "deploy.yaml", Source: "name: app\nreplicas: 3"},
		{Filename: "notes.txt", Source: "free text is fine"},
	})
	if !ok {
		t.Fatalf("expected all valid, got %+v", checks)
	}

	ok, checks = CheckSyntax([]Block{
		{Filename: "config.json", Source: `{"key": }`},
	})
	if ok || checks[0].Valid {
		t.Fatalf("expected invalid JSON to fail, got %+v", checks)
	}
}

func TestCheckSyntaxEmptyFileFails(t *testing.T) {
	ok, checks := CheckSyntax([]Block{{Filename: "x.txt", Source: "  \n "}})
	if ok || checks[0].Error != "empty file" {
		t.Fatalf("expected empty file failure, got %+v", checks)
	}
}

func TestCheckSyntaxOneBadFileFailsOverall(t *testing.T) {
	ok, checks := CheckSyntax([]Block{
		{Filename: "good.go", Source: "package good"},
		{Filename: "bad.go", Source: "pack age bad"},
	})
	if ok {
		t.Fatal("expected overall failure when one file is invalid")
	}
	if !checks[0].Valid || checks[1].Valid {
		t.Fatalf("per-file validity wrong: %+v", checks)
	}
}

func TestGoPackageName(t *testing.T) {
	if got := goPackageName("package widget\n\nvar X = 1"); got != "widget" {
		t.Fatalf("expected widget, got %q", got)
	}
	if got := goPackageName("not go at all"); got != "" {
		t.Fatalf("expected empty for garbage, got %q", got)
	}
}
