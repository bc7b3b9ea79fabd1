package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	HTTPPort          string
	JWTSecret         string
	StorageDriver     string
	DataDir           string
	ReferenceCurrency string
	DBConfig          DBConfig
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

func (d DBConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		d.Host, d.Port, d.User, d.Password, d.DBName)
}

func LoadConfig(path string) (Config, error) {
	if err := godotenv.Load(path); err != nil {
		logrus.WithError(err).Warn("failed to load config file, using env vars")
	}

	cfg := Config{
		HTTPPort:          getEnv("HTTP_PORT", ":8080"),
		JWTSecret:         getEnv("JWT_SECRET", "your-secret-key"),
		StorageDriver:     getEnv("STORAGE_DRIVER", "json"),
		DataDir:           getEnv("DATA_DIR", "data"),
		ReferenceCurrency: getEnv("REFERENCE_CURRENCY", "USD"),
		DBConfig: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "password"),
			DBName:   getEnv("DB_NAME", "valutatrade"),
		},
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
