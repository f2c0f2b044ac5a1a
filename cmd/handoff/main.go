package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dgellow/handoff/internal"
	"github.com/dgellow/handoff/internal/config"
	"github.com/dgellow/handoff/internal/log"
	"gopkg.in/yaml.v3"
)

var BuildVersion = "dev"

func defaultConfig() map[string]any {
	return map[string]any{
		"version": config.VersionPrefix,
		"server": map[string]any{
			"baseURL": "https://auth.yourcompany.com",
			"addr":    ":8080",
		},
		"app": map[string]any{
			"name":           "Your App",
			"deepLinkScheme": "yourapp://",
		},
		"auth": map[string]any{
			"encryptionKey":    map[string]string{"$env": "HANDOFF_ENCRYPTION_KEY"},
			"sessionTtl":       "720h",
			"callbackTokenTtl": "5m",
			"allowedDomains":   []string{"yourcompany.com"},
			"storage":          "memory",
			"providers": []any{
				map[string]any{
					"provider":     "google",
					"clientId":     map[string]string{"$env": "GOOGLE_CLIENT_ID"},
					"clientSecret": map[string]string{"$env": "GOOGLE_CLIENT_SECRET"},
				},
				map[string]any{
					"provider":     "github",
					"clientId":     map[string]string{"$env": "GITHUB_CLIENT_ID"},
					"clientSecret": map[string]string{"$env": "GITHUB_CLIENT_SECRET"},
				},
			},
		},
	}
}

func generateDefaultConfig(path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(defaultConfig())
	default:
		data, err = json.MarshalIndent(defaultConfig(), "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func validateConfig(path string) error {
	result, err := config.ValidateFile(path)
	if err != nil {
		return fmt.Errorf("error during validation: %w", err)
	}

	fmt.Printf("Validating: %s\n", path)

	printIssues := func(title string, issues []config.ValidationError) {
		if len(issues) == 0 {
			return
		}
		fmt.Printf("\n%s (%d):\n", title, len(issues))
		for _, issue := range issues {
			if issue.Path != "" {
				fmt.Printf("  - %s: %s\n", issue.Path, issue.Message)
			} else {
				fmt.Printf("  - %s\n", issue.Message)
			}
		}
	}
	printIssues("Errors", result.Errors)
	printIssues("Warnings", result.Warnings)

	fmt.Println()
	switch {
	case len(result.Errors) > 0:
		fmt.Println("Result: FAIL")
		return fmt.Errorf("validation failed: %d error(s), %d warning(s)", len(result.Errors), len(result.Warnings))
	case len(result.Warnings) > 0:
		fmt.Println("Result: PASS (with warnings)")
	default:
		fmt.Println("Result: PASS")
	}
	return nil
}

func main() {
	conf := flag.String("config", "", "path to config file, JSON or YAML (required)")
	version := flag.Bool("version", false, "print version and exit")
	help := flag.Bool("help", false, "print help and exit")
	configInit := flag.String("config-init", "", "generate default config file at specified path")
	validate := flag.Bool("validate", false, "validate config file and exit")
	flag.Parse()
	if *help {
		flag.Usage()
		return
	}
	if *version {
		fmt.Println(BuildVersion)
		return
	}
	if *configInit != "" {
		if err := generateDefaultConfig(*configInit); err != nil {
			log.LogError("Failed to generate config: %v", err)
			os.Exit(1)
		}
		fmt.Printf("Generated default config at: %s\n", *configInit)
		return
	}

	if *validate {
		if *conf == "" {
			fmt.Fprintf(os.Stderr, "Error: -config flag is required for validation\n")
			os.Exit(1)
		}
		if err := validateConfig(*conf); err != nil {
			os.Exit(1)
		}
		return
	}

	if *conf == "" {
		fmt.Fprintf(os.Stderr, "Error: -config flag is required\n")
		fmt.Fprintf(os.Stderr, "Run with -help for usage information\n")
		os.Exit(1)
	}

	cfg, err := config.Load(*conf)
	if err != nil {
		log.LogError("Failed to load config: %v", err)
		os.Exit(1)
	}

	log.LogInfoWithFields("main", "Starting handoff", map[string]any{
		"version": BuildVersion,
		"config":  *conf,
	})

	app, err := internal.NewApp(context.Background(), cfg)
	if err != nil {
		log.LogError("Failed to create application: %v", err)
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		log.LogError("Failed to start server: %v", err)
		os.Exit(1)
	}
}
