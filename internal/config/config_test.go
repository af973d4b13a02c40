package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultCatalog(t *testing.T) {
	cfg := Default()
	if len(cfg.Tags) == 0 || len(cfg.Stages) == 0 {
		t.Fatal("default catalog is empty")
	}
	if len(cfg.Departments) == 0 || len(cfg.Roles) == 0 {
		t.Fatal("default reference lists are empty")
	}
	var mdl *StageSeed
	for i := range cfg.Stages {
		if cfg.Stages[i].Name == "mdl" {
			mdl = &cfg.Stages[i]
		}
	}
	if mdl == nil {
		t.Fatal("default catalog has no mdl stage")
	}
	if !strings.Contains(mdl.Source, "{entity}_{stage}") {
		t.Fatalf("mdl source template changed: %q", mdl.Source)
	}
	if !strings.HasSuffix(mdl.Data, "/") {
		t.Fatalf("mdl data template should be a directory: %q", mdl.Data)
	}
}

func TestLoadFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Template.Project == "" {
		t.Fatal("expected default template catalog")
	}
}

func TestLoadReadsWorkspaceFile(t *testing.T) {
	dir := t.TempDir()
	custom := `template:
  project: STUDIO
  root: "X:/"
tags:
  - {genus: asset, name: VEH, info: "vehicle"}
stages:
  - {genus: asset, name: mdl, info: "modeling", source: "{project}/{tag}/{entity}.ma", data: "{project}/out/"}
`
	if err := os.WriteFile(filepath.Join(dir, "samkit.yml"), []byte(custom), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Template.Project != "STUDIO" {
		t.Fatalf("got project %q", cfg.Template.Project)
	}
	if len(cfg.Tags) != 1 || cfg.Tags[0].Name != "VEH" {
		t.Fatalf("unexpected tags %+v", cfg.Tags)
	}
}

func TestFromYAMLRejectsBadCatalog(t *testing.T) {
	cases := map[string]string{
		"missing project": `template: {root: "P:/"}`,
		"unknown genus": `template: {project: T, root: "P:/"}
tags:
  - {genus: vehicle, name: VEH}`,
		"nameless tag": `template: {project: T, root: "P:/"}
tags:
  - {genus: asset, name: ""}`,
		"bad stage template": `template: {project: T, root: "P:/"}
stages:
  - {genus: asset, name: mdl, source: "{project}/{nope}/", data: "{project}/out/"}`,
		"not yaml": "\t{{{{",
	}
	for name, raw := range cases {
		if _, err := FromYAML([]byte(raw)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestGenerateDefaultRoundTrips(t *testing.T) {
	cfg, err := FromYAML([]byte(GenerateDefault()))
	if err != nil {
		t.Fatalf("generated default does not parse: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("generated default invalid: %v", err)
	}
}

func TestWebhookConfigParses(t *testing.T) {
	raw := `template: {project: T, root: "P:/"}
webhooks:
  - url: "https://hooks.internal/samkit"
    secret: "s3cr3t"
    events: ["task.checkin", "task.status"]
    timeout_seconds: 3
`
	cfg, err := FromYAML([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(cfg.Webhooks) != 1 {
		t.Fatalf("expected one webhook, got %d", len(cfg.Webhooks))
	}
	h := cfg.Webhooks[0]
	if h.URL != "https://hooks.internal/samkit" || len(h.Events) != 2 || h.TimeoutSeconds != 3 {
		t.Fatalf("unexpected webhook %+v", h)
	}
}
