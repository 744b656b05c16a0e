package app

import (
	cmnenv "telehealth_chat/common/env"
)

type Config struct {
	Env           string
	Port          string
	JWTSecret     string
	JWTTTLMinutes int
	StorePath     string
	UploadDir     string
	SeedDemoUsers bool
}

func LoadConfig() Config {
	return Config{
		Env:           cmnenv.String("APP_ENV", "dev"),
		Port:          cmnenv.String("PORT", "8080"),
		JWTSecret:     cmnenv.String("JWT_SECRET", "change-me-in-production"),
		JWTTTLMinutes: cmnenv.Int("JWT_TTL_MINUTES", 1440),
		StorePath:     cmnenv.String("CHAT_STORE_PATH", "./data/devserver.db"),
		UploadDir:     cmnenv.String("CHAT_UPLOAD_DIR", "./data/uploads"),
		SeedDemoUsers: cmnenv.Bool("CHAT_SEED_DEMO_USERS", true),
	}
}
