// gen-token mints a JWT for manual testing against a running service.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"bustrack/internal/shared/auth"
	"bustrack/internal/shared/config"
)

func main() {
	userID := flag.String("user", "1", "user id (driver id for DRIVER tokens)")
	role := flag.String("role", "DRIVER", "role (RIDER|DRIVER|ADMIN)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalln("failed to load configuration:", err)
	}

	token, err := auth.NewJWTService(cfg.JWT).GenerateToken(*userID, *role)
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate token: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("user: %s\nrole: %s\n\n%s\n", *userID, *role, token)
}
