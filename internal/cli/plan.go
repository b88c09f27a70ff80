package cli

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sqlferry/sqlferry/internal/domain/migration"
)

// Plan is the YAML form of a migration request. Flags override plan
// values, so a plan can hold the stable parts of a migration while the
// operator varies the rest per run.
type Plan struct {
	Mode   string `yaml:"mode"`
	Source struct {
		Host     string `yaml:"host"`
		User     string `yaml:"user"`
		Database string `yaml:"database"`
	} `yaml:"source"`
	Target struct {
		Subscription  string `yaml:"subscription"`
		ResourceGroup string `yaml:"resourceGroup"`
		Instance      string `yaml:"instance"`
		Database      string `yaml:"database"`
	} `yaml:"target"`
	Storage struct {
		Account   string `yaml:"account"`
		Container string `yaml:"container"`
	} `yaml:"storage"`
	ServiceName    string `yaml:"serviceName"`
	LastBackupName string `yaml:"lastBackupName"`

	Backup struct {
		Auto              bool     `yaml:"auto"`
		LogBackupJob      bool     `yaml:"logBackupJob"`
		LogBackupInterval duration `yaml:"logBackupInterval"`
	} `yaml:"backup"`

	PollInterval    duration `yaml:"pollInterval"`
	MaxPollDuration duration `yaml:"maxPollDuration"`
}

// duration accepts Go duration strings ("5m", "1h30m") in plan files, where
// the yaml decoder would otherwise only take nanosecond integers.
type duration time.Duration

func (d *duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = duration(parsed)
		return nil
	}
	var n int64
	if err := node.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration value: %w", err)
	}
	*d = duration(n)
	return nil
}

// LoadPlan reads and parses a migration plan file.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}

	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("failed to parse plan file %s: %w", path, err)
	}
	return &plan, nil
}

// Descriptor converts the plan into a migration descriptor. Field-level
// validation happens later, after flag overrides are applied.
func (p *Plan) Descriptor() (migration.Descriptor, error) {
	mode, err := migration.ParseMode(p.Mode)
	if err != nil {
		return migration.Descriptor{}, err
	}
	d := migration.Descriptor{
		Mode: mode,
		Source: migration.Source{
			Host:     p.Source.Host,
			User:     p.Source.User,
			Database: p.Source.Database,
		},
		Target: migration.Target{
			SubscriptionID: p.Target.Subscription,
			ResourceGroup:  p.Target.ResourceGroup,
			Instance:       p.Target.Instance,
			Database:       p.Target.Database,
		},
		Storage: migration.Storage{
			Account:   p.Storage.Account,
			Container: p.Storage.Container,
		},
		ServiceName:    p.ServiceName,
		LastBackupName: p.LastBackupName,
	}
	return d, nil
}
