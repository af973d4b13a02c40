package paths

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"samkit/internal/domain"
)

func TestResolveSubstitutesEveryPlaceholder(t *testing.T) {
	ctx := Context{
		Project: "P:/",
		Genus:   "asset",
		Tag:     "CH",
		Entity:  "Danny",
		Stage:   "mdl",
	}
	got, err := Resolve("{project}/{genus}/{tag}/{entity}/{entity}_{stage}.ma", ctx)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := "P:/asset/CH/Danny/Danny_mdl.ma"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}

	// same inputs, same output
	again, err := Resolve("{project}/{genus}/{tag}/{entity}/{entity}_{stage}.ma", ctx)
	if err != nil {
		t.Fatalf("resolve again: %v", err)
	}
	if again != got {
		t.Fatalf("resolution not deterministic: %q vs %q", again, got)
	}
}

func TestResolveTrimsProjectRoot(t *testing.T) {
	for _, root := range []string{"P:/", `P:\`, "P:"} {
		got, err := Resolve("{project}/asset", Context{Project: root})
		if err != nil {
			t.Fatalf("resolve root %q: %v", root, err)
		}
		if got != "P:/asset" {
			t.Fatalf("root %q: got %q want P:/asset", root, got)
		}
	}
}

func TestResolveMissingValue(t *testing.T) {
	_, err := Resolve("{project}/{tag}/{entity}", Context{Project: "P:/", Tag: "CH"})
	if err == nil {
		t.Fatal("expected error for unset {entity}")
	}
	var de *domain.Error
	if !errors.As(err, &de) || de.Kind != domain.KindConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestForUsesStageGenus(t *testing.T) {
	ctx := For(
		domain.Project{Root: "P:/"},
		domain.Tag{Name: "CH", Genus: "asset"},
		domain.Entity{Name: "Danny"},
		domain.Stage{Name: "mdl", Genus: "asset"},
	)
	if ctx.Genus != "asset" || ctx.Tag != "CH" || ctx.Entity != "Danny" || ctx.Stage != "mdl" {
		t.Fatalf("unexpected context %+v", ctx)
	}
	if ctx.Project != "P:/" {
		t.Fatalf("project should carry the raw root, got %q", ctx.Project)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		template string
		ok       bool
	}{
		{"{project}/{genus}/{tag}/{entity}/{stage}/", true},
		{"{project}/UE/", true},
		{"plain/path/no/placeholders", true},
		{"", false},
		{"   ", false},
		{"{project}/{nope}/", false},
		{"{project}/{entity", false},
		{"{project}/entity}", false},
	}
	for _, tc := range cases {
		err := Validate(tc.template)
		if tc.ok && err != nil {
			t.Errorf("Validate(%q) = %v, want nil", tc.template, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("Validate(%q) = nil, want error", tc.template)
		}
	}
}

func TestIsDirConvention(t *testing.T) {
	if !IsDir("P:/asset/CH/Danny/") || !IsDir(`P:\asset\CH\Danny\`) {
		t.Fatal("trailing separator should mean directory")
	}
	if IsDir("P:/asset/CH/Danny/Danny_mdl.ma") {
		t.Fatal("file path misread as directory")
	}
}

func TestExistsIgnoresTrailingSeparator(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "CH")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	if !Exists(sub + "/") {
		t.Fatal("directory with trailing separator should exist")
	}
	if Exists(filepath.Join(dir, "missing") + "/") {
		t.Fatal("missing path reported as existing")
	}
}
