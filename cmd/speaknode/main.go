// Command speaknode runs the SpeakNode meeting graph service and its
// maintenance subcommands.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/speaknode/speaknode/pkg/config"
	"github.com/speaknode/speaknode/pkg/extract"
	"github.com/speaknode/speaknode/pkg/graph"
	"github.com/speaknode/speaknode/pkg/server"
	"github.com/speaknode/speaknode/pkg/session"
	"github.com/speaknode/speaknode/pkg/snapshot"
)

var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "speaknode",
		Short:         "Meeting knowledge graph service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	root.AddCommand(
		serveCmd(&configPath),
		exportCmd(&configPath),
		importCmd(&configPath),
		snapshotCmd(&configPath),
		decodeCmd(),
		versionCmd(),
	)
	return root
}

func setup(configPath string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing log level: %w", err)
	}
	logCfg := zap.NewProductionConfig()
	logCfg.Level = zap.NewAtomicLevelAt(level)
	logger, err := logCfg.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("building logger: %w", err)
	}
	return cfg, logger, nil
}

func openManager(cfg *config.Config, logger *zap.Logger) (*session.Manager, error) {
	opts := cfg.StoreOptions()
	opts.Logger = logger
	return session.NewManager(cfg.DataDir, session.Options{
		StoreOptions: opts,
		Logger:       logger,
	})
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync()

			sessions, err := openManager(cfg, logger)
			if err != nil {
				return err
			}
			defer sessions.Close()

			srv := server.New(cfg, sessions, server.Options{
				Embedder:   extract.HashEmbedder{Dim: cfg.EmbeddingDim},
				Translator: extract.TemplateTranslator{},
				Logger:     logger,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return srv.Run(ctx)
		},
	}
}

func exportCmd(configPath *string) *cobra.Command {
	var chatID, outPath string
	var embeddings bool

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a chat's graph dump as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync()
			sessions, err := openManager(cfg, logger)
			if err != nil {
				return err
			}
			defer sessions.Close()

			var dump *graph.Dump
			err = sessions.WithScope(cmd.Context(), chatID,
				func(_ context.Context, store *graph.Store) error {
					dump, err = store.Dump(embeddings)
					return err
				})
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(dump, "", "  ")
			if err != nil {
				return err
			}
			if outPath == "" || outPath == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			return os.WriteFile(outPath, data, 0o644)
		},
	}
	cmd.Flags().StringVar(&chatID, "chat", "", "chat scope id (required)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "-", "output file, - for stdout")
	cmd.Flags().BoolVar(&embeddings, "embeddings", false, "include embedding vectors")
	_ = cmd.MarkFlagRequired("chat")
	return cmd
}

func importCmd(configPath *string) *cobra.Command {
	var chatID, inPath string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a JSON graph dump into a chat",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync()
			sessions, err := openManager(cfg, logger)
			if err != nil {
				return err
			}
			defer sessions.Close()

			data, err := os.ReadFile(inPath)
			if err != nil {
				return err
			}
			var dump graph.Dump
			if err := json.Unmarshal(data, &dump); err != nil {
				return fmt.Errorf("parsing dump: %w", err)
			}

			if _, err := sessions.Get(chatID); err != nil {
				if _, err := sessions.Create(session.Meta{ID: chatID}); err != nil {
					return err
				}
			}
			return sessions.WithScope(cmd.Context(), chatID,
				func(_ context.Context, store *graph.Store) error {
					if err := store.ValidateDump(&dump, len(data)); err != nil {
						return err
					}
					return store.Restore(&dump)
				})
		},
	}
	cmd.Flags().StringVar(&chatID, "chat", "", "chat scope id (required)")
	cmd.Flags().StringVarP(&inPath, "file", "f", "", "dump file (required)")
	_ = cmd.MarkFlagRequired("chat")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func snapshotCmd(configPath *string) *cobra.Command {
	var chatID, outPath string
	var embeddings bool

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Export a chat as a shareable PNG snapshot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync()
			sessions, err := openManager(cfg, logger)
			if err != nil {
				return err
			}
			defer sessions.Close()

			var image []byte
			err = sessions.WithScope(cmd.Context(), chatID,
				func(_ context.Context, store *graph.Store) error {
					dump, err := store.Dump(embeddings)
					if err != nil {
						return err
					}
					image, err = snapshot.Encode(snapshot.NewBundle(dump, nil, embeddings))
					return err
				})
			if err != nil {
				return err
			}
			return os.WriteFile(outPath, image, 0o644)
		},
	}
	cmd.Flags().StringVar(&chatID, "chat", "", "chat scope id (required)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "snapshot.png", "output image path")
	cmd.Flags().BoolVar(&embeddings, "embeddings", false, "include embedding vectors")
	_ = cmd.MarkFlagRequired("chat")
	return cmd
}

func decodeCmd() *cobra.Command {
	var inPath string

	cmd := &cobra.Command{
		Use:   "decode",
		Short: "Print the graph bundle embedded in a snapshot image",
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := os.ReadFile(inPath)
			if err != nil {
				return err
			}
			bundle, ok, err := snapshot.Decode(data)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "no embedded graph data")
				return nil
			}
			out, err := json.MarshalIndent(bundle, "", "  ")
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.Flags().StringVarP(&inPath, "file", "f", "", "snapshot image (required)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "speaknode", version)
		},
	}
}
