package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	DBUrl      string
	RedisAddr  string
	JWTSecret  string
	ListenAddr string
}

func LoadConfig() Config {
	err := godotenv.Load()

	if err != nil {
		log.Println("No .env file found. Using environment variables.")
	}

	listen := os.Getenv("LISTEN_ADDR")
	if listen == "" {
		listen = ":8080"
	}

	return Config{
		DBUrl:      os.Getenv("DB_URL"),
		RedisAddr:  os.Getenv("REDIS_ADDR"),
		JWTSecret:  os.Getenv("JWT_SECRET"),
		ListenAddr: listen,
	}
}
