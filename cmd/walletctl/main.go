package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/coinvault/backend/internal/config"
	"github.com/coinvault/backend/internal/database"
	"github.com/coinvault/backend/internal/logger"
	"github.com/coinvault/backend/internal/services"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	zlog  *zap.Logger
	store services.Store
	db    *sql.DB

	rootCmd = &cobra.Command{
		Use:   "walletctl",
		Short: "Operator tooling for the wallet account store",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			viper.SetConfigFile(".env")
			viper.AutomaticEnv()
			viper.BindEnv("database.host", "DATABASE_HOST")
			viper.BindEnv("database.port", "DATABASE_PORT")
			viper.BindEnv("database.user", "DATABASE_USER")
			viper.BindEnv("database.password", "DATABASE_PASSWORD")
			viper.BindEnv("database.name", "DATABASE_NAME")
			viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")
			viper.ReadInConfig()

			svcCfg := config.LoadServiceConfig()
			var err error
			zlog, err = logger.New(svcCfg.Environment, svcCfg.LogLevel)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			db, err = database.InitDB(ctx, zlog)
			if err != nil {
				return fmt.Errorf("connect to database: %w", err)
			}
			store = database.NewAccountStore(db)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if db != nil {
				db.Close()
			}
			if zlog != nil {
				zlog.Sync()
			}
		},
		SilenceUsage: true,
	}
)

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Printf("Error executing command: %v", err)
		os.Exit(1)
	}
}
