package main

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	"github.com/railsim/railsim_core/internal/middleware"
)

func main() {
	env := flag.String("env", "test", "Environment: test or live")
	flag.Parse()

	if *env != "test" && *env != "live" {
		fmt.Println("Error: env must be 'test' or 'live'")
		os.Exit(1)
	}

	key, hash := generateAPIKey(*env)

	fmt.Println("═══════════════════════════════════════════════════")
	fmt.Println("🔑 API Key Generated")
	fmt.Println("═══════════════════════════════════════════════════")
	fmt.Printf("Environment:  %s\n", *env)
	fmt.Printf("\nAPI Key (show ONLY ONCE):\n%s\n", key)
	fmt.Printf("\nHash (configure on the server):\n%s\n", hash)
	fmt.Println("═══════════════════════════════════════════════════")
	fmt.Println("\n⚠️  Save the API key now! Only the hash is kept.")
	fmt.Println("\nAdd to the server environment (comma-separate several hashes):")
	fmt.Println("AUTH_ENABLED=true")
	fmt.Printf("API_KEY_HASH=%s\n", hash)
	fmt.Println("═══════════════════════════════════════════════════")
}

// generateAPIKey generates a new API key and the hash the server stores
func generateAPIKey(env string) (key, hash string) {
	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		panic(err)
	}
	randomStr := hex.EncodeToString(randomBytes)

	// Checksum is the first 2 bytes of the random part's hash
	checksumBytes := sha256.Sum256([]byte(randomStr))
	checksum := hex.EncodeToString(checksumBytes[:2])

	key = fmt.Sprintf("%s%s_%s_%s", middleware.KeyPrefix, env, randomStr, checksum)
	hash = middleware.HashKey(key)
	return
}
