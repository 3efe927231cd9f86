package proxy

import (
	"fmt"
	"strings"

	"github.com/volantir/volantir/internal/config"
)

type identityConfigEntry struct {
	Identity string `yaml:"identity"`
	Secret   string `yaml:"secret"`
	Note     string `yaml:"note"`
}

type identityRecord struct {
	Identity string
	// Secret is either a bcrypt hash (preferred) or a legacy plaintext value.
	Secret string
	Note   string
}

func loadIdentityConfig(path string) (map[string]*identityRecord, error) {
	var wrapper struct {
		Identities []identityConfigEntry `yaml:"identities"`
	}
	if err := config.LoadYAML(path, &wrapper); err != nil {
		return nil, err
	}

	entries := wrapper.Identities
	if len(entries) == 0 {
		// Also accept a bare list of entries.
		if err := config.LoadYAML(path, &entries); err != nil {
			return nil, err
		}
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("identity config %q must define at least one identity", path)
	}

	result := make(map[string]*identityRecord, len(entries))
	for idx, entry := range entries {
		identity := strings.TrimSpace(entry.Identity)
		if identity == "" {
			return nil, fmt.Errorf("identity entry %d missing identity", idx+1)
		}
		if entry.Secret == "" {
			return nil, fmt.Errorf("identity %q missing secret", identity)
		}
		if _, exists := result[identity]; exists {
			return nil, fmt.Errorf("duplicate identity %q", identity)
		}
		result[identity] = &identityRecord{
			Identity: identity,
			Secret:   entry.Secret,
			Note:     strings.TrimSpace(entry.Note),
		}
	}

	return result, nil
}
