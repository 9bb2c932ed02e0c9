package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	RedisHost string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort uint16 `env:"REDIS_PORT" envDefault:"6379"   validate:"min=1000,max=65535"`

	PostgresHost     string `env:"POSTGRES_HOST"     envDefault:"localhost"`
	PostgresPort     string `env:"POSTGRES_PORT"     envDefault:"5432"`
	PostgresUser     string `env:"POSTGRES_USER"     envDefault:"coderoom_user"`
	PostgresPassword string `env:"POSTGRES_PASSWORD" envDefault:"coderoom_password"`
	PostgresDb       string `env:"POSTGRES_DB"       envDefault:"coderoom_db"`

	// AES-256-CBC key (32 bytes) and IV (16 bytes), standard base64.
	IdentityKey string `env:"IDENTITY_KEY" validate:"required"`
	IdentityIV  string `env:"IDENTITY_IV"  validate:"required"`
	AllowGuests bool   `env:"ALLOW_GUESTS" envDefault:"true"`

	PersistDebounce       time.Duration `env:"PERSIST_DEBOUNCE"        envDefault:"1s"    validate:"gt=0"`
	SnapshotDeliveryDelay time.Duration `env:"SNAPSHOT_DELIVERY_DELAY" envDefault:"500ms" validate:"gte=0"`
	StateSyncInterval     time.Duration `env:"STATE_SYNC_INTERVAL"     envDefault:"10s"   validate:"gt=0"`

	EchoPresenceToSender     bool `env:"ECHO_PRESENCE_TO_SENDER"     envDefault:"false"`
	ReportEditRoomRejections bool `env:"REPORT_EDIT_ROOM_REJECTIONS" envDefault:"true"`
	MaxUpdateBytes           int  `env:"MAX_UPDATE_BYTES"            envDefault:"1048576" validate:"min=1"`

	HttpServerPort uint16 `env:"HTTP_SERVER_PORT" envDefault:"8085" validate:"min=1000,max=65535"`
}

func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	err := godotenv.Load(".env")
	if err != nil {
		zap.L().Debug(".env file not found", zap.Error(err))
	}

	cfg := &Config{}
	// Parse config from environment variables
	if err = env.Parse(cfg); err != nil {
		zap.L().Error("config_load_failed", zap.Error(err))
		return nil, err
	}

	// Validate the config
	validate := validator.New()
	err = validate.Struct(cfg)
	if err != nil {
		zap.L().Error("config_validation_failed", zap.Error(err))
		return nil, err
	}
	return cfg, nil
}
