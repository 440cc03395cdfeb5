package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEdgeStoreConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		want    func(t *testing.T, cfg *Config)
		wantErr bool
	}{
		{
			name:    "Should pass validation when edge store is disabled",
			envVars: mergeEnvVars(map[string]string{}),
			want: func(t *testing.T, cfg *Config) {
				assert.False(t, cfg.EdgeStore.Enabled)
			},
			wantErr: false,
		},
		{
			name: "Should pass validation with full table configuration",
			envVars: mergeEnvVars(map[string]string{
				"FLAGMESH_EDGE_ENABLED":            "true",
				"FLAGMESH_EDGE_REGION":             "eu-west-2",
				"FLAGMESH_EDGE_ENVIRONMENTS_TABLE": "flagmesh_environments",
				"FLAGMESH_EDGE_IDENTITIES_TABLE":   "flagmesh_identities",
				"FLAGMESH_EDGE_OVERRIDES_TABLE":    "flagmesh_identity_overrides",
				"FLAGMESH_EDGE_API_KEYS_TABLE":     "flagmesh_api_keys",
			}),
			want: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.EdgeStore.Enabled)
				assert.Equal(t, "eu-west-2", cfg.EdgeStore.Region)
				assert.Equal(t, "flagmesh_environments", cfg.EdgeStore.EnvironmentsTable)
				assert.Equal(t, "flagmesh_identity_overrides", cfg.EdgeStore.OverridesTable)
			},
			wantErr: false,
		},
		{
			name: "Should pass validation with a subset of tables configured",
			envVars: mergeEnvVars(map[string]string{
				"FLAGMESH_EDGE_ENABLED":            "true",
				"FLAGMESH_EDGE_ENVIRONMENTS_TABLE": "flagmesh_environments",
			}),
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "flagmesh_environments", cfg.EdgeStore.EnvironmentsTable)
				assert.Empty(t, cfg.EdgeStore.IdentitiesTable)
			},
			wantErr: false,
		},
		{
			name: "Should fail validation when enabled without any tables",
			envVars: mergeEnvVars(map[string]string{
				"FLAGMESH_EDGE_ENABLED": "true",
			}),
			wantErr: true,
		},
		{
			name: "Should fail validation with whitespace in table name",
			envVars: mergeEnvVars(map[string]string{
				"FLAGMESH_EDGE_ENABLED":            "true",
				"FLAGMESH_EDGE_ENVIRONMENTS_TABLE": "flagmesh environments",
			}),
			wantErr: true,
		},
		{
			name: "Should pass validation with local endpoint outside production",
			envVars: mergeEnvVars(map[string]string{
				"FLAGMESH_EDGE_ENABLED":            "true",
				"FLAGMESH_EDGE_ENDPOINT":           "http://localhost:8000",
				"FLAGMESH_EDGE_ENVIRONMENTS_TABLE": "flagmesh_environments",
			}),
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "http://localhost:8000", cfg.EdgeStore.Endpoint)
			},
			wantErr: false,
		},
		{
			name: "Should fail validation with endpoint override in production",
			envVars: func() map[string]string {
				cfg := validProductionConfig()
				cfg["FLAGMESH_EDGE_ENABLED"] = "true"
				cfg["FLAGMESH_EDGE_ENDPOINT"] = "http://localhost:8000"
				cfg["FLAGMESH_EDGE_ENVIRONMENTS_TABLE"] = "flagmesh_environments"
				return cfg
			}(),
			wantErr: true,
		},
		{
			name: "Should fail validation with malformed endpoint URL",
			envVars: mergeEnvVars(map[string]string{
				"FLAGMESH_EDGE_ENABLED":            "true",
				"FLAGMESH_EDGE_ENDPOINT":           "localhost:8000",
				"FLAGMESH_EDGE_ENVIRONMENTS_TABLE": "flagmesh_environments",
			}),
			wantErr: true,
		},
		{
			name: "Should fail validation with negative capacity budget",
			envVars: mergeEnvVars(map[string]string{
				"FLAGMESH_EDGE_CAPACITY_BUDGET": "-1",
			}),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			cfg, err := Load()

			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			if tt.want != nil {
				tt.want(t, cfg)
			}
		})
	}
}
