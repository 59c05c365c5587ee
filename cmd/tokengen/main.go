package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/af-corp/hass-agent/internal/auth"
)

func main() {
	env := flag.String("env", "prod", "environment prefix")
	flag.Parse()

	token, err := auth.GenerateToken(*env)
	if err != nil {
		log.Fatalf("failed to generate token: %v", err)
	}

	fmt.Println("=== Access Token Generated ===")
	fmt.Println()
	fmt.Printf("  Prefix:  %s\n", auth.TokenPrefix(token))
	fmt.Printf("  SHA-256: %s\n", auth.HashToken(token))
	fmt.Println()
	fmt.Println("  Add the SHA-256 hash to auth.token_hashes in agent.yaml.")
	fmt.Println("  Token (save this, it will NOT be shown again):")
	fmt.Printf("  %s\n", token)
	fmt.Println()
	fmt.Println("==============================")
}
