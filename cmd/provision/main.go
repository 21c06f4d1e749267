// Command provision creates or updates a user record directly in the user
// store. It is how the first admin gets in.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"papers-gateway/internal/app"
	"papers-gateway/internal/config"
	"papers-gateway/internal/domain"
	"papers-gateway/internal/logger"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "provision: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var email string
	var admin bool

	flagSet := pflag.NewFlagSet("provision", pflag.ContinueOnError)
	flagSet.StringVar(&email, "email", "", "email of the user to create or update (required)")
	flagSet.BoolVar(&admin, "admin", false, "grant the admin flag")
	backend := flagSet.String("store", "", "override USER_STORE (dynamodb or sqlite)")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if strings.TrimSpace(email) == "" {
		return errors.New("--email is required")
	}

	storeCfg, err := loadStoreConfig(os.Getenv, *backend)
	if err != nil {
		return err
	}
	log := logger.SetupDefault(os.Stderr, slog.LevelInfo)

	ctx := context.Background()
	users, closeUsers, err := app.OpenUserStore(ctx, storeCfg)
	if err != nil {
		return err
	}
	defer closeUsers()

	if err := users.UpsertUser(ctx, domain.User{Email: email, IsAdmin: admin}); err != nil {
		return err
	}
	log.Info("user provisioned", "user_email", email, "is_admin", admin, "store", storeCfg.Backend)
	return nil
}

func loadStoreConfig(getenv func(string) string, backendOverride string) (config.Store, error) {
	return config.LoadStore(func(key string) string {
		if key == "USER_STORE" && backendOverride != "" {
			return backendOverride
		}
		return getenv(key)
	})
}
