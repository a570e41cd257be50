package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds every configuration parameter, loaded from environment variables.
type Config struct {
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`

	HTTPPort     string `envconfig:"HTTP_PORT" default:"4280"`
	APISecretKey string `envconfig:"API_SECRET_KEY"`

	// Root directory for publication attachments (PDFs, award certificates).
	UploadDir string `envconfig:"UPLOAD_DIR" default:"/var/lib/lab-registry/uploads"`
	// Scratch space for archive imports; every run gets its own subdirectory.
	StagingDir string `envconfig:"STAGING_DIR" default:"/tmp/lab-registry"`

	// Schedule for the nightly snapshot backup to S3.
	BackupCronSchedule string `envconfig:"BACKUP_CRON_SCHEDULE" default:"0 3 * * *"`

	BackupS3Key    string `envconfig:"BACKUP_S3_KEY"`
	BackupS3Secret string `envconfig:"BACKUP_S3_SECRET"`
	BackupS3URL    string `envconfig:"BACKUP_S3_URL"`
	BackupS3Region string `envconfig:"BACKUP_S3_REGION"`
	BackupS3Bucket string `envconfig:"BACKUP_S3_BUCKET"`

	// Similarity thresholds for the person duplicate matcher.
	DuplicateConfidentThreshold float64 `envconfig:"DUPLICATE_CONFIDENT_THRESHOLD" default:"0.9"`
	DuplicatePossibleThreshold  float64 `envconfig:"DUPLICATE_POSSIBLE_THRESHOLD" default:"0.4"`
}

// DSN returns the data source name for the PostgreSQL connection.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// BackupEnabled reports whether the S3 backup settings are present.
func (c *Config) BackupEnabled() bool {
	return c.BackupS3Bucket != "" && c.BackupS3Key != "" && c.BackupS3Secret != ""
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	err := envconfig.Process("", &c)
	return &c, err
}
