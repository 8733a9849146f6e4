package main

import (
	"fmt"
	"os"

	"github.com/marcelsud/finsync/config"
)

/* validate-sources - Standalone CLI tool to validate sources.yaml
 * Usage: go run cmd/validate-sources/main.go [sources.yaml]
 * Exit codes: 0 = valid, 1 = invalid
 */

func main() {
	// Get sources file path from args or use default
	sourcesFile := "sources.yaml"
	if len(os.Args) > 1 {
		sourcesFile = os.Args[1]
	}

	fmt.Printf("Validating sources file: %s\n", sourcesFile)

	// Create loader and attempt to load sources
	loader := config.NewSourceLoader()
	if err := loader.Load(sourcesFile); err != nil {
		fmt.Fprintf(os.Stderr, "VALIDATION FAILED\n\n")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Success - print loaded sources
	loaded := loader.List()
	fmt.Printf("VALIDATION PASSED\n\n")
	fmt.Printf("Loaded %d source(s):\n", len(loaded))

	for i, entry := range loaded {
		fmt.Printf("\n%d. Source: %s\n", i+1, entry.Source)
		fmt.Printf("   Enabled:                %t\n", entry.Enabled)
		fmt.Printf("   Signature verification: %t\n", entry.Security.SignatureVerification)
		fmt.Printf("   Replay protection:      %t\n", entry.Security.ReplayProtection)
		if entry.Security.Tolerance > 0 {
			fmt.Printf("   Timestamp tolerance:    %s\n", entry.Security.Tolerance)
		}
		if entry.Security.NonceTTL > 0 {
			fmt.Printf("   Nonce TTL:              %s\n", entry.Security.NonceTTL)
		}
	}

	fmt.Printf("\nAll sources are valid!\n")
	os.Exit(0)
}
