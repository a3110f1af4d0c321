package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"time"

	"payorder/internal/pkg/config"
	"payorder/pkg/utils"
)

// 使用 jwt.secret 签发访问 /admin/orders/* 的 Bearer token
func main() {
	subject := flag.String("subject", "operator", "token subject written to sub_name")
	ttl := flag.Duration("ttl", 8*time.Hour, "token lifetime")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	token, expireAt, err := issue(cfg.JWT.Secret, *subject, *ttl)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("admin token for %q expires at %s", *subject, expireAt.Format(time.RFC3339))
	fmt.Println(token)
}

func issue(secret, subject string, ttl time.Duration) (string, time.Time, error) {
	if secret == "" {
		return "", time.Time{}, errors.New("jwt.secret is empty, admin endpoints are disabled")
	}
	if ttl <= 0 {
		return "", time.Time{}, errors.New("ttl must be positive")
	}
	return utils.GenerateToken(secret, subject, utils.RoleAdmin, ttl)
}
