// Command generate-jwt mints a development token for exercising the API.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"treasury-backend/internal/middleware"
)

func main() {
	userID := flag.String("user", "", "user id (uuid)")
	workspaceID := flag.String("workspace", "", "workspace id (uuid)")
	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "signing secret")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if *userID == "" || *workspaceID == "" || *secret == "" {
		fmt.Fprintln(os.Stderr, "usage: generate-jwt -user <uuid> -workspace <uuid> [-secret <secret>] [-ttl 24h]")
		os.Exit(1)
	}

	token, err := middleware.GenerateToken(*userID, *workspaceID, *secret, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
