package main

import (
	"context"
	"fmt"
	"os"

	"github.com/Atom112/AIO-sub000/internal/app"
	"github.com/Atom112/AIO-sub000/internal/tui"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const version = "1.0.0"

var (
	configPath string
	mockMode   bool
	debugMode  bool
)

func main() {
	root := &cobra.Command{
		Use:     "aio",
		Short:   "AIO - multi-assistant AI chat",
		Long:    "AIO is a terminal chat client with multiple assistants, per-topic history,\nautomatic topic titles and long-term memory compaction.",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat()
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: user config dir)")
	root.PersistentFlags().BoolVar(&mockMode, "mock", false, "run against a simulated model backend")
	root.PersistentFlags().BoolVar(&debugMode, "debug", false, "verbose logging")

	root.AddCommand(modelsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runChat() error {
	cfg, err := app.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := app.NewLogger(cfg.StorageRoot, cfg.Debug || debugMode)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	store := openStore(cfg, logger)
	defer func() { _ = store.Close() }()

	events := make(chan app.StreamChunk, 64)
	var backend app.LLMBackend
	if mockMode {
		backend = app.NewMockBackend(events)
	} else {
		backend = app.NewOpenAIClient(events, logger)
	}

	session := app.NewChatSession(context.Background(), backend, store, app.LocalFileProcessor{}, cfg.Target, logger)
	go forwardChunks(events, session)

	return tui.Run(session)
}

// openStore prefers SQLite and falls back to the JSON file layout when the
// database cannot be opened.
func openStore(cfg app.Config, logger *zap.Logger) app.AssistantStore {
	store, err := app.NewSQLiteAssistantStore(cfg.StorageRoot)
	if err != nil {
		logger.Warn("sqlite store unavailable, using file store", zap.Error(err))
		return app.NewFileAssistantStore(cfg.StorageRoot)
	}
	return store
}

// forwardChunks bridges the backend's emit channel to the session's ingest
// channel. Separate channels keep backend construction independent from
// session construction.
func forwardChunks(from <-chan app.StreamChunk, session *app.ChatSession) {
	for chunk := range from {
		session.Events() <- chunk
	}
}

func modelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Manage the provider model catalog",
	}

	fetch := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch the model list from the configured provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(configPath)
			if err != nil {
				return err
			}
			client := app.NewOpenAIClient(nil, nil)
			models, err := client.FetchModels(cmd.Context(), cfg.APIURL, cfg.APIKey)
			if err != nil {
				return err
			}
			catalog := app.NewModelCatalog(cfg.StorageRoot)
			if err := catalog.SaveFetched(models); err != nil {
				return err
			}
			for _, m := range models {
				fmt.Println(m.ID)
			}
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List previously fetched models",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(configPath)
			if err != nil {
				return err
			}
			catalog := app.NewModelCatalog(cfg.StorageRoot)
			models, err := catalog.LoadFetched()
			if err != nil {
				return err
			}
			if len(models) == 0 {
				fmt.Println("no fetched models; run 'aio models fetch' first")
				return nil
			}
			for _, m := range models {
				if m.OwnedBy != "" {
					fmt.Printf("%s\t%s\n", m.ID, m.OwnedBy)
					continue
				}
				fmt.Println(m.ID)
			}
			return nil
		},
	}

	activate := &cobra.Command{
		Use:   "activate <model-id>",
		Short: "Activate a model for chatting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(configPath)
			if err != nil {
				return err
			}
			catalog := app.NewModelCatalog(cfg.StorageRoot)
			return catalog.Activate(app.ActivatedModel{
				APIURL:  cfg.APIURL,
				APIKey:  cfg.APIKey,
				ModelID: args[0],
			})
		},
	}

	cmd.AddCommand(fetch, list, activate)
	return cmd
}
