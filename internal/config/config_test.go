package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "3005",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   "db/mail_logs.db",
		},
		LogSource: LogSourceConfig{
			BaseURL:  "https://mail.example.com/api/v1/get/logs/postfix",
			PageSize: 100,
		},
		Retention: RetentionConfig{
			Days: 7,
		},
	}
}

func TestConfigValidation(t *testing.T) {
	config := validConfig()
	assert.NoError(t, config.Validate())

	// mysql profile needs connection details
	config = validConfig()
	config.Database = DatabaseConfig{Driver: "mysql"}
	assert.Error(t, config.Validate())

	config = validConfig()
	config.Database = DatabaseConfig{
		Driver: "mysql",
		Host:   "localhost",
		User:   "tracker",
		DBName: "mail_logs",
	}
	assert.NoError(t, config.Validate())

	// unknown driver
	config = validConfig()
	config.Database.Driver = "mssql"
	assert.Error(t, config.Validate())

	config = validConfig()
	config.LogSource.BaseURL = ""
	assert.Error(t, config.Validate())

	config = validConfig()
	config.LogSource.PageSize = 0
	assert.Error(t, config.Validate())

	config = validConfig()
	config.Retention.Days = 0
	assert.Error(t, config.Validate())

	config = validConfig()
	config.SMTP.Accounts = "{not json"
	assert.Error(t, config.Validate())
}

func TestDatabaseDSN(t *testing.T) {
	config := DatabaseConfig{
		Driver:   "mysql",
		Host:     "localhost",
		Port:     3306,
		User:     "testuser",
		Password: "testpass",
		DBName:   "testdb",
	}

	dsn := config.GetDSN()
	expected := "testuser:testpass@tcp(localhost:3306)/testdb?charset=utf8mb4&parseTime=True&loc=Local"
	assert.Equal(t, expected, dsn)
}

func TestParseAccounts(t *testing.T) {
	cfg := SMTPConfig{Accounts: `{"noreply@example.com":"secret"}`}
	accounts, err := cfg.ParseAccounts()
	assert.NoError(t, err)
	assert.Equal(t, "secret", accounts["noreply@example.com"])

	cfg = SMTPConfig{}
	accounts, err = cfg.ParseAccounts()
	assert.NoError(t, err)
	assert.Empty(t, accounts)
}
