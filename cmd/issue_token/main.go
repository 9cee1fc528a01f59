package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"screen-server/internal/config"
	"screen-server/internal/service"
)

// issue_token emite un access token para la API administrativa usando el
// JWT_SECRET del entorno.
func main() {
	_ = godotenv.Load()

	subject := flag.String("sub", "admin", "subject del token (id de operador o admin)")
	role := flag.String("role", service.RoleAdmin, "rol: admin u operator")
	ttl := flag.Duration("ttl", 0, "duracion; por defecto JWT_ACCESS_TTL_MINUTES")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET is not set")
	}

	accessTTL := time.Duration(cfg.JWTAccessTTLMinutes) * time.Minute
	if *ttl > 0 {
		accessTTL = *ttl
	}
	jwtSvc := service.NewJWTService(cfg.JWTSecret, cfg.JWTIssuer, accessTTL)
	token, expiresAt, err := jwtSvc.GenerateAccessToken(*subject, *role)
	if err != nil {
		log.Fatalf("generate token: %v", err)
	}

	fmt.Fprintln(os.Stderr, "expires at", expiresAt.Format(time.RFC3339))
	fmt.Println(token)
}
