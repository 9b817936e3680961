package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Asarafhack/taskflow-realtime/api"
	"github.com/Asarafhack/taskflow-realtime/domain"
)

// gen-token prints HS256 tokens for a server running with
// AUTH0_TEST_MODE=1 or LOCAL_AUTH_MODE=hs256.
func main() {
	var (
		count  = flag.Int("count", 1, "number of tokens to generate")
		prefix = flag.String("prefix", "user", "prefix for generated user IDs when count > 1")
		name   = flag.String("name", "", "display name claim")
		ttl    = flag.Duration("ttl", time.Hour, "token lifetime")
		output = flag.String("output", "", "file to write generated tokens as a JSON array")
	)
	flag.Parse()

	secret := os.Getenv("TEST_JWT_SECRET")
	if secret == "" {
		secret = os.Getenv("LOCAL_AUTH_SHARED_SECRET")
	}
	if secret == "" {
		log.Fatal("TEST_JWT_SECRET or LOCAL_AUTH_SHARED_SECRET must be set")
	}
	if *count < 1 {
		log.Fatal("count must be at least 1")
	}
	args := flag.Args()
	if len(args) > 0 && *count > 1 {
		log.Fatal("explicit user ID cannot be provided when generating multiple tokens")
	}

	tokens := make([]string, *count)
	for i := range tokens {
		userID := *prefix
		switch {
		case len(args) > 0:
			userID = args[0]
		case *count > 1:
			userID = fmt.Sprintf("%s-%d", *prefix, i+1)
		}
		tok, err := api.SignLocalToken([]byte(secret), domain.Identity{ID: userID, Name: *name}, os.Getenv("AUTH0_AUDIENCE"), *ttl)
		if err != nil {
			log.Fatalf("generate token: %v", err)
		}
		tokens[i] = tok
	}

	if *output != "" {
		if err := writeTokens(*output, tokens); err != nil {
			log.Fatalf("write tokens: %v", err)
		}
	}
	fmt.Print(tokens[0])
}

func writeTokens(path string, tokens []string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := json.Marshal(tokens)
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}
