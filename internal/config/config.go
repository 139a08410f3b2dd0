package config

import (
	"github.com/kelseyhightower/envconfig"
)

var singleConfig *Config = nil

type Config struct {
	Database *dbConfig
	Service  *svcConfig
}

type dbConfig struct {
	Type     string `envconfig:"DB_TYPE" default:"pgsql"`
	Hostname string `envconfig:"DB_HOST" default:"localhost"`
	Port     string `envconfig:"DB_PORT" default:"5432"`
	Name     string `envconfig:"DB_NAME" default:"expenses"`
	User     string `envconfig:"DB_USER" default:"admin"`
	Password string `envconfig:"DB_PASS" default:"adminpass"`
}

type svcConfig struct {
	Address        string `envconfig:"EXPENSE_VALIDATOR_ADDRESS" default:":3443"`
	MetricsAddress string `envconfig:"EXPENSE_VALIDATOR_METRICS_ADDRESS" default:":8080"`
	BaseUrl        string `envconfig:"EXPENSE_VALIDATOR_BASE_URL" default:"https://localhost:3443"`
	LogLevel       string `envconfig:"EXPENSE_VALIDATOR_LOG_LEVEL" default:"info"`

	MigrationFolder string `envconfig:"EXPENSE_VALIDATOR_MIGRATIONS_FOLDER" default:""`
	EventsTopic     string `envconfig:"EXPENSE_VALIDATOR_EVENTS_TOPIC" default:"expense.validation.events"`

	Artifacts artifactConfig
}

// artifactConfig selects where output artifacts are stored. With no minio
// endpoint configured artifacts land on the local filesystem.
type artifactConfig struct {
	LocalDir       string `envconfig:"EXPENSE_VALIDATOR_ARTIFACT_DIR" default:"/tmp/expense-artifacts"`
	MinioEndpoint  string `envconfig:"EXPENSE_VALIDATOR_MINIO_ENDPOINT" default:""`
	MinioAccessKey string `envconfig:"EXPENSE_VALIDATOR_MINIO_ACCESS_KEY" default:""`
	MinioSecretKey string `envconfig:"EXPENSE_VALIDATOR_MINIO_SECRET_KEY" default:""`
	MinioBucket    string `envconfig:"EXPENSE_VALIDATOR_MINIO_BUCKET" default:"expense-artifacts"`
	MinioSecure    bool   `envconfig:"EXPENSE_VALIDATOR_MINIO_SECURE" default:"true"`
}

// NewDefault builds a config from the declared defaults and whatever the
// environment overrides, without touching the process-wide singleton. Used by
// tests that need to mutate the config.
func NewDefault() *Config {
	cfg := new(Config)
	if err := envconfig.Process("", cfg); err != nil {
		panic(err)
	}
	return cfg
}

func New() (*Config, error) {
	if singleConfig == nil {
		singleConfig = new(Config)
		if err := envconfig.Process("", singleConfig); err != nil {
			return nil, err
		}
	}
	return singleConfig, nil
}
