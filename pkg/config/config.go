// Package config holds the test-stand configuration: where the CCS
// interpreter listens, which subsystems a job talks to, and the site
// service endpoints. Configurations live in a YAML file or in MongoDB.
package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/lsst-camera-dh/jh-ccs-utils/internal/lg"
	"github.com/lsst-camera-dh/jh-ccs-utils/pkg/ccs"
	"github.com/lsst-camera-dh/jh-ccs-utils/pkg/config/configstore"
	"github.com/lsst-camera-dh/jh-ccs-utils/pkg/config/filestore"
	"github.com/lsst-camera-dh/jh-ccs-utils/pkg/config/mongostore"
)

// StoreType selects the configuration backend.
type StoreType int

const (
	FileStore StoreType = iota
	MongoStore
)

var ErrInvalidStoreType = errors.New("config: invalid store type")

// Store combines the storage contract with change watching for backends
// that support it.
type Store interface {
	configstore.Store
	Watch(onChange func()) error
}

// FileConfig locates the YAML backend.
type FileConfig struct {
	Path string `yaml:"path"`
}

// MongoConfig locates the MongoDB backend.
type MongoConfig struct {
	URI      string `yaml:"uri"`
	DBName   string `yaml:"dbName"`
	CollName string `yaml:"collName"`
	Stand    string `yaml:"stand"`
}

// NewStore builds the selected backend.
func NewStore(storeType StoreType, cfg any, logger lg.Logger) (Store, error) {
	switch storeType {
	case FileStore:
		fileCfg, ok := cfg.(*FileConfig)
		if !ok {
			return nil, fmt.Errorf("config: file store requires *FileConfig")
		}
		return filestore.New(fileCfg.Path, logger), nil
	case MongoStore:
		mongoCfg, ok := cfg.(*MongoConfig)
		if !ok {
			return nil, fmt.Errorf("config: mongo store requires *MongoConfig")
		}
		return mongostore.New(mongoCfg.URI, mongoCfg.DBName, mongoCfg.CollName, mongoCfg.Stand)
	default:
		return nil, ErrInvalidStoreType
	}
}

// ETravelerConfig is the eTraveler client endpoint.
type ETravelerConfig struct {
	URL  string `yaml:"url" validate:"omitempty,url"`
	User string `yaml:"user"`
}

// KafkaConfig is the summary publishing endpoint.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers" validate:"dive,hostname_port"`
	Topic   string   `yaml:"topic" validate:"required_with=Brokers"`
}

// StandConfig is the full configuration of one test stand.
type StandConfig struct {
	Stand      string            `yaml:"stand" validate:"required"`
	Host       string            `yaml:"host"`
	Port       int               `yaml:"port" validate:"gte=1,lte=65535"`
	Subsystems map[string]string `yaml:"subsystems"`
	ETraveler  ETravelerConfig   `yaml:"etraveler"`
	Kafka      KafkaConfig       `yaml:"kafka"`
}

var validate = validator.New()

// Validate checks the structural constraints.
func (c *StandConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// LoadStandConfig loads a stand configuration from a store, applies the
// defaults and validates it.
func LoadStandConfig(store configstore.Store) (*StandConfig, error) {
	var cfg StandConfig
	if err := store.Load(&cfg); err != nil {
		return nil, err
	}
	if cfg.Port == 0 {
		cfg.Port = ccs.DefaultPort
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
