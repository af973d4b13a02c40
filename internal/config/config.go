package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"samkit/internal/domain"
	"samkit/internal/paths"
)

// Config models samkit.yml: the template catalog that seeds new
// projects, plus the reference departments and roles.
type Config struct {
	Template struct {
		Project string `yaml:"project"`
		Root    string `yaml:"root"`
	} `yaml:"template"`
	Departments []RefEntry      `yaml:"departments"`
	Roles       []RefEntry      `yaml:"roles"`
	Tags        []TagSeed       `yaml:"tags"`
	Stages      []StageSeed     `yaml:"stages"`
	Webhooks    []WebhookConfig `yaml:"webhooks,omitempty"`
}

// WebhookConfig is one event delivery target. An empty Events list
// subscribes to everything.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret,omitempty"`
	Events         []string `yaml:"events,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
}

type RefEntry struct {
	Name string `yaml:"name"`
	Info string `yaml:"info"`
}

type TagSeed struct {
	Genus string `yaml:"genus"`
	Name  string `yaml:"name"`
	Info  string `yaml:"info"`
}

type StageSeed struct {
	Genus  string `yaml:"genus"`
	Name   string `yaml:"name"`
	Info   string `yaml:"info"`
	Source string `yaml:"source"`
	Data   string `yaml:"data"`
}

// Validate ensures the seed catalog is internally consistent and every
// stage template parses, so bad templates fail at config time rather
// than at resolve time.
func (c *Config) Validate() error {
	if c.Template.Project == "" {
		return fmt.Errorf("config.template.project is required")
	}
	if c.Template.Root == "" {
		return fmt.Errorf("config.template.root is required")
	}
	for _, t := range c.Tags {
		if !domain.ValidGenus(t.Genus) {
			return fmt.Errorf("tag %s has unknown genus %s", t.Name, t.Genus)
		}
		if t.Name == "" {
			return fmt.Errorf("config.tags contains an entry without a name")
		}
	}
	for _, s := range c.Stages {
		if !domain.ValidGenus(s.Genus) {
			return fmt.Errorf("stage %s has unknown genus %s", s.Name, s.Genus)
		}
		if s.Name == "" {
			return fmt.Errorf("config.stages contains an entry without a name")
		}
		if err := paths.Validate(s.Source); err != nil {
			return fmt.Errorf("stage %s source template: %w", s.Name, err)
		}
		if err := paths.Validate(s.Data); err != nil {
			return fmt.Errorf("stage %s data template: %w", s.Name, err)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "samkit.yml")
}

// Load reads and validates config from workspace, falling back to the
// built-in defaults when no file exists.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in template catalog.
func Default() *Config {
	cfg, err := FromYAML([]byte(defaultTemplate))
	if err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
}

// GenerateDefault returns the default config YAML for samkit.yml.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `template:
  project: TEMPLATE
  root: "P:/"

departments:
  - {name: global,    info: "production management"}
  - {name: design,    info: "concept design"}
  - {name: modeling,  info: "modeling"}
  - {name: rigging,   info: "rigging"}
  - {name: animation, info: "animation"}
  - {name: rendering, info: "rendering"}

roles:
  - {name: staff,         info: "artist"}
  - {name: supervisor,    info: "lead"}
  - {name: producer,      info: "producer"}
  - {name: director,      info: "director"}
  - {name: administrator, info: "administrator"}

tags:
  - {genus: batch, name: episode, info: "episode"}
  - {genus: batch, name: scene,   info: "scene"}
  - {genus: asset, name: CH,      info: "character"}
  - {genus: asset, name: PR,      info: "prop"}
  - {genus: asset, name: SC,      info: "set"}

stages:
  - {genus: batch, name: scp, info: "script",     source: "{project}/{stage}/{entity}/",                           data: "{project}/UE/"}
  - {genus: batch, name: stb, info: "storyboard", source: "{project}/{stage}/{entity}/",                           data: "{project}/UE/"}
  - {genus: batch, name: dub, info: "dubbing",    source: "{project}/{stage}/{entity}/",                           data: "{project}/UE/"}
  - {genus: asset, name: dsn, info: "design",     source: "{project}/{genus}/{tag}/{entity}/{stage}/",             data: "{project}/UE/{genus}/{tag}/{entity}/"}
  - {genus: asset, name: mdl, info: "modeling",   source: "{project}/{genus}/{tag}/{entity}/{entity}_{stage}.ma",  data: "{project}/UE/{genus}/{tag}/{entity}/"}
  - {genus: asset, name: txt, info: "texturing",  source: "{project}/{genus}/{tag}/{entity}/{stage}/",             data: "{project}/UE/{genus}/{tag}/{entity}/"}
  - {genus: asset, name: shd, info: "shading",    source: "{project}/{genus}/{tag}/{entity}/{stage}/",             data: "{project}/UE/{genus}/{tag}/{entity}/"}
  - {genus: asset, name: skn, info: "skinning",   source: "{project}/{genus}/{tag}/{entity}/{entity}_{stage}.ma",  data: "{project}/UE/{genus}/{tag}/{entity}/"}
  - {genus: asset, name: rig, info: "rigging",    source: "{project}/{genus}/{tag}/{entity}/{entity}_{stage}.ma",  data: "{project}/UE/{genus}/{tag}/{entity}/"}
  - {genus: asset, name: prv, info: "preview",    source: "{project}/{genus}/{tag}/{entity}/{stage}/",             data: "{project}/UE/{genus}/{tag}/{entity}/"}
  - {genus: shot,  name: lyt, info: "layout",     source: "{project}/{genus}/{stage}/{project}_{tag}_{entity}.ma", data: "{project}/UE/{genus}/{stage}/{entity}/"}
  - {genus: shot,  name: anm, info: "animation",  source: "{project}/{genus}/{stage}/{project}_{tag}_{entity}.ma", data: "{project}/UE/{genus}/{stage}/{entity}/"}
  - {genus: shot,  name: cfx, info: "simulation", source: "{project}/{genus}/{stage}/{project}_{tag}_{entity}.ma", data: "{project}/UE/{genus}/{stage}/{entity}/"}
  - {genus: shot,  name: lgt, info: "lighting",   source: "{project}/{genus}/{stage}/{project}_{tag}_{entity}/",   data: "{project}/UE/{genus}/{stage}/{entity}/"}
  - {genus: shot,  name: rnd, info: "rendering",  source: "{project}/{genus}/{stage}/{project}_{tag}_{entity}/",   data: "{project}/UE/{genus}/{stage}/{entity}/"}
  - {genus: shot,  name: vfx, info: "effects",    source: "{project}/{genus}/{stage}/{project}_{tag}_{entity}/",   data: "{project}/UE/{genus}/{stage}/{entity}/"}
  - {genus: shot,  name: cmp, info: "compositing", source: "{project}/{genus}/{stage}/{project}_{tag}_{entity}/",  data: "{project}/UE/{genus}/{stage}/{entity}/"}
`
