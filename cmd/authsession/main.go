package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/dgellow/authsession/internal"
	"github.com/dgellow/authsession/internal/config"
	"github.com/dgellow/authsession/internal/log"
)

var BuildVersion = "dev"

func generateDefaultConfig(path string) error {
	defaultConfig := map[string]any{
		"version": config.ConfigVersion,
		"provider": map[string]any{
			"provider":     "identidadv2",
			"clientId":     map[string]string{"$env": "AUTHSESSION_CLIENT_ID"},
			"clientSecret": map[string]string{"$env": "AUTHSESSION_CLIENT_SECRET"},
			"realm":        "your-realm",
			"redirectUri":  "https://app.yourcompany.com/callback",
			"isProduction": false,
			"accessType":   "offline",
		},
		"storage": map[string]any{
			"backend":   "redis",
			"redisAddr": "localhost:6379",
		},
		"idle": map[string]any{
			"enabled":       true,
			"timeout":       "15m",
			"redirectUrl":   "/session-expired",
			"resetOn":       []string{"mousemove", "keydown", "mousedown", "touchstart", "navigate"},
			"criticalPaths": []string{"/checkout"},
		},
	}

	data, err := json.MarshalIndent(defaultConfig, "", "  ")
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

	if len(result.Errors) > 0 {
		fmt.Printf("\nErrors (%d):\n", len(result.Errors))
		for _, err := range result.Errors {
			if err.Path != "" {
				fmt.Printf("  - %s: %s\n", err.Path, err.Message)
			} else {
				fmt.Printf("  - %s\n", err.Message)
			}
		}
	}

	if len(result.Warnings) > 0 {
		fmt.Printf("\nWarnings (%d):\n", len(result.Warnings))
		for _, warn := range result.Warnings {
			if warn.Path != "" {
				fmt.Printf("  - %s: %s\n", warn.Path, warn.Message)
			} else {
				fmt.Printf("  - %s\n", warn.Message)
			}
		}
	}

	fmt.Println()
	if len(result.Errors) == 0 && len(result.Warnings) == 0 {
		fmt.Println("Result: PASS")
	} else if len(result.Errors) == 0 {
		fmt.Println("Result: FAIL (warnings present)")
	} else {
		fmt.Println("Result: FAIL")
	}

	if len(result.Errors) > 0 || len(result.Warnings) > 0 {
		return fmt.Errorf("validation failed: %d error(s), %d warning(s)", len(result.Errors), len(result.Warnings))
	}
	return nil
}

func loadConfig(path string, fromEnv bool) (config.Config, error) {
	if fromEnv {
		return config.FromEnv()
	}
	return config.Load(path)
}

func main() {
	conf := flag.String("config", "", "path to config file")
	fromEnv := flag.Bool("env", false, "read config from AUTHSESSION_* environment variables")
	version := flag.Bool("version", false, "print version and exit")
	help := flag.Bool("help", false, "print help and exit")
	configInit := flag.String("config-init", "", "generate default config file at specified path")
	validate := flag.Bool("validate", false, "validate config file and exit")
	login := flag.Bool("login", false, "start a login and print the provider URL")
	callback := flag.String("callback", "", "complete a login from the provider callback URL")
	watch := flag.Bool("watch", false, "keep the session running and read activity from stdin")
	metricsAddr := flag.String("metrics", "", "serve /session and /metrics on this address while watching")
	flag.Parse()

	if *help {
		flag.Usage()
		if usage, err := config.Usage(); err == nil {
			fmt.Fprintf(os.Stderr, "\n%s\n", usage)
		}
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

	if *conf == "" && !*fromEnv {
		fmt.Fprintf(os.Stderr, "Error: -config or -env is required\n")
		fmt.Fprintf(os.Stderr, "Run with -help for usage information\n")
		os.Exit(1)
	}

	cfg, err := loadConfig(*conf, *fromEnv)
	if err != nil {
		log.LogError("Failed to load config: %v", err)
		os.Exit(1)
	}

	log.LogInfoWithFields("main", "Starting authsession", map[string]any{
		"version":  BuildVersion,
		"provider": cfg.Provider.Provider,
	})

	ctx := context.Background()
	host, err := internal.NewHost(ctx, cfg, internal.HostOptions{
		StartURL:    *callback,
		MetricsAddr: *metricsAddr,
	})
	if err != nil {
		log.LogError("Failed to create session host: %v", err)
		os.Exit(1)
	}

	if *login {
		target, err := host.Login(ctx)
		_ = host.Shutdown(ctx)
		if err != nil {
			log.LogError("Login failed: %v", err)
			os.Exit(1)
		}
		// Memory storage loses the verifier on exit; use redis or firestore
		// to finish the login with -callback.
		fmt.Println(target)
		return
	}

	if *watch {
		if err := host.Run(ctx, os.Stdin); err != nil {
			log.LogError("Session host failed: %v", err)
			os.Exit(1)
		}
		return
	}

	snap := host.Start(ctx)
	if err := host.Shutdown(ctx); err != nil {
		log.LogError("Shutdown failed: %v", err)
	}
	out, _ := json.MarshalIndent(map[string]any{
		"isAuthenticated":  snap.IsAuthenticated,
		"isSessionExpired": snap.IsSessionExpired,
		"user":             snap.User,
	}, "", "  ")
	fmt.Println(string(out))
	if !snap.IsAuthenticated {
		os.Exit(2)
	}
}
