package storage

import (
	"testing"

	"github.com/caarlos0/env/v6"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	config := Config{
		User:     "a",
		Password: "b",
		Host:     "c",
		Port:     5432,
		DBName:   "d",
	}
	expected := "user=a password=b host=c port=5432 dbname=d sslmode=disable"
	actual := config.DSN()
	require.Equal(t, expected, actual)
}

func TestConfigDefaults(t *testing.T) {
	var config Config
	require.NoError(t, env.Parse(&config))
	require.Equal(t, "user=postgres password=postgres host=localhost port=5432 dbname=roomchat sslmode=disable", config.DSN())
}
