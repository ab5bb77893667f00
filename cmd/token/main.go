package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/HMasataka/chathub/internal/config"
	"github.com/HMasataka/chathub/internal/server"
	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"
)

// token prints a session token for -user signed with auth.jwt_secret
func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML or JSON config file")
		username   = flag.String("user", "", "token subject")
		ttl        = flag.Duration("ttl", 24*time.Hour, "token lifetime")
	)
	flag.Parse()

	if *username == "" {
		log.Fatal("-user is required")
	}

	_ = godotenv.Load()

	cfg, err := config.Load(config.LoadOptions{Path: *configPath})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Auth.JWTSecret == "" {
		log.Fatal("auth.jwt_secret is not set")
	}

	now := time.Now()
	token, err := server.SignToken(cfg.Auth.JWTSecret, *username, jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(*ttl)),
	})
	if err != nil {
		log.Fatalf("sign token: %v", err)
	}

	fmt.Println(token)
}
