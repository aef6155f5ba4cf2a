package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/bankdesk/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("bankdesk setup")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		cfg.LLM.Provider = ask(scanner, "LLM provider (gemini or openai)", cfg.LLM.Provider)
		if cfg.LLM.Provider == "openai" {
			cfg.LLM.BaseURL = ask(scanner, "LLM base URL", cfg.LLM.BaseURL)
		}
		cfg.LLM.APIKey = ask(scanner, "LLM API key", cfg.LLM.APIKey)
		cfg.LLM.Model = ask(scanner, "LLM model name", cfg.LLM.Model)

		maxTokens := ask(scanner, "Max output tokens", strconv.Itoa(cfg.LLM.MaxTokens))
		if n, err := strconv.Atoi(maxTokens); err == nil {
			cfg.LLM.MaxTokens = n
		}

		cfg.Storage.Backend = ask(scanner, "Session storage (file, sqlite or redis)", cfg.Storage.Backend)
		if cfg.Storage.Backend == "redis" {
			cfg.Storage.Redis.Addr = ask(scanner, "Redis address", cfg.Storage.Redis.Addr)
		}

		cfg.HTTP.Addr = ask(scanner, "HTTP listen address", cfg.HTTP.Addr)
		cfg.Telegram.Token = ask(scanner, "Telegram bot token (optional)", cfg.Telegram.Token)

		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		return nil
	},
}

// ask displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func ask(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}
