package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/classnet/classchat/config"
	"github.com/classnet/classchat/internal/auth"
	"github.com/classnet/classchat/internal/store"
	"github.com/classnet/classchat/internal/ws"
	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "classchat",
	Short:         "ClassNet chat server",
	Long:          `classchat serves the per-room chat of ClassNet over WebSocket.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

var (
	tokenUserID   string
	tokenUsername string
	tokenTTL      time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an access token for a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ttl := cfg.Auth.TokenTTL
		if tokenTTL > 0 {
			ttl = tokenTTL
		}

		token, err := auth.NewJWT(cfg.Auth.Secret, cfg.Auth.Issuer, ttl).Issue(tokenUserID, tokenUsername)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/config.yml", "path to the YAML config file")

	tokenCmd.Flags().StringVar(&tokenUserID, "user-id", "", "user id (token subject)")
	tokenCmd.Flags().StringVar(&tokenUsername, "username", "", "display name")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (defaults to auth.token_ttl)")
	_ = tokenCmd.MarkFlagRequired("user-id")
	_ = tokenCmd.MarkFlagRequired("username")

	rootCmd.AddCommand(serveCmd, tokenCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func serve() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Store.Timeout)
	st, err := store.Open(ctx, cfg.Store, cfg.Cache)
	cancel()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	jwt := auth.NewJWT(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	server := ws.NewServer(cfg, st, jwt)

	go func() {
		if err := server.Serve(); err != nil {
			log.Fatalf("[Server] WebSocket server error: %v", err)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.Server.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"server": func(ctx context.Context) error {
				if err := server.Shutdown(ctx); err != nil {
					return err
				}
				return st.Close()
			},
		},
	)

	exitCode := <-wait
	log.Printf("classchat exited with code: %d", exitCode)
	os.Exit(exitCode)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
