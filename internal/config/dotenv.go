package config

import "github.com/joho/godotenv"

// LoadDotEnv reads a .env file into the environment.
// Existing env vars take precedence over the file.
func LoadDotEnv(paths ...string) error {
	return godotenv.Load(paths...)
}
