package config

import (
	"fmt"
)

// EdgeStoreConfig configures the DynamoDB edge store. An empty table name
// disables that entity type; with Enabled false the services run against a
// disabled store and every edge operation becomes a no-op.
type EdgeStoreConfig struct {
	Enabled bool   `envconfig:"ENABLED" default:"false"`
	Region  string `envconfig:"REGION" default:"us-east-1"`

	// Endpoint overrides the DynamoDB endpoint for local development
	// (dynamodb-local, localstack). Never set in production.
	Endpoint string `envconfig:"ENDPOINT"`

	// Static credentials for local endpoints; real deployments use the
	// default AWS credential chain and leave these empty.
	AccessKeyID     string `envconfig:"ACCESS_KEY_ID"`
	SecretAccessKey string `envconfig:"SECRET_ACCESS_KEY"`

	// Table names per entity type. Empty disables the entity.
	EnvironmentsTable string `envconfig:"ENVIRONMENTS_TABLE"`
	IdentitiesTable   string `envconfig:"IDENTITIES_TABLE"`
	OverridesTable    string `envconfig:"OVERRIDES_TABLE"`
	APIKeysTable      string `envconfig:"API_KEYS_TABLE"`

	// CapacityBudget caps the read capacity one scan may consume;
	// zero means unlimited.
	CapacityBudget float64 `envconfig:"CAPACITY_BUDGET" default:"0" validate:"min=0"`
}

// Validate performs validation on the EdgeStoreConfig.
func (c *EdgeStoreConfig) Validate(environment string) error {
	if !c.Enabled {
		return nil
	}

	if err := validateNoWhitespace(c.Region, "edge store region"); err != nil {
		return err
	}

	// At least one entity must be configured, otherwise Enabled is a lie
	if c.EnvironmentsTable == "" && c.IdentitiesTable == "" &&
		c.OverridesTable == "" && c.APIKeysTable == "" {
		return fmt.Errorf("edge store enabled but no table names configured")
	}

	for _, table := range []struct {
		name, value string
	}{
		{"environments table", c.EnvironmentsTable},
		{"identities table", c.IdentitiesTable},
		{"overrides table", c.OverridesTable},
		{"api keys table", c.APIKeysTable},
	} {
		if table.value == "" {
			continue
		}
		if err := validateNoWhitespace(table.value, "edge store "+table.name); err != nil {
			return err
		}
	}

	if c.Endpoint != "" {
		if environment == EnvironmentProduction {
			return fmt.Errorf("edge store endpoint override is not allowed in production environment")
		}
		if _, err := parseAndValidateURL(c.Endpoint, []string{"http", "https"}); err != nil {
			return fmt.Errorf("invalid edge store endpoint: %w", err)
		}
	}

	return nil
}
