package escalate

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"aquawatch-backend/internal/storage"
)

type rulesFile struct {
	Rules []storage.EscalationRule `yaml:"rules"`
}

// LoadRules reads default escalation rules from a YAML file of the form:
//
//	rules:
//	  - severity: critical
//	    minutes_to_escalate: 5
//	    next_role: admin
func LoadRules(path string) ([]storage.EscalationRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg rulesFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Rules) == 0 {
		return nil, fmt.Errorf("no escalation rules in %s", path)
	}
	for _, rule := range cfg.Rules {
		if rule.Severity == "" || rule.MinutesToEscalate <= 0 {
			return nil, fmt.Errorf("invalid escalation rule for severity %q", rule.Severity)
		}
	}
	return cfg.Rules, nil
}
