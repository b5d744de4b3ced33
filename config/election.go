package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"voting-core/models"
)

// LoadElectionFile reads an election definition, for example:
//
//	id: general-2026
//	title: General election
//	start_time: 2026-11-03T07:00:00Z
//	end_time: 2026-11-03T19:00:00Z
//	active: true
//	candidates:
//	  - {id: A, name: Alice}
//	  - {id: B, name: Bob}
func LoadElectionFile(path string) (*models.Election, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	election := &models.Election{}
	if err := yaml.UnmarshalStrict(data, election); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := election.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return election, nil
}
