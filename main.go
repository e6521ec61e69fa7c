package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ferrosa-tutor/prompts"
	"ferrosa-tutor/utils"
	"ferrosa-tutor/work-flows/agents"
	"ferrosa-tutor/work-flows/client"
	"ferrosa-tutor/work-flows/gateway"
	"ferrosa-tutor/work-flows/managers"
	"ferrosa-tutor/work-flows/services"
)

var (
	verbose  bool
	tabsDir  string
	startTab string
	port     string

	settings *utils.Settings
	logger   *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ferrosa",
	Short: "Ferrosa Tutor - scripted tutoring and legal consultation tabs",
	Long: `Ferrosa Tutor drives stress-management lessons, a role-integration
exercise and Pakistani family-law consultation through per-tab scripts,
LLM evaluation of free-text answers and open chat.

Run without arguments to start the interactive chat interface.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err != nil {
			utils.PrintInfo("No .env file found, using system environment variables")
		}

		var err error
		settings, err = utils.LoadSettings()
		if err != nil {
			return err
		}
		if tabsDir != "" {
			settings.TabsDir = tabsDir
		}
		if verbose {
			settings.Debug = true
		}

		// The interactive UI owns the terminal; it only logs when asked to.
		if cmd.Name() != "serve" && !verbose {
			logger = zap.NewNop()
			return nil
		}
		logger, err = utils.NewLogger(settings.Debug)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd.Context(), startTab)
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive session in the terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd.Context(), startTab)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the tabs over HTTP with server-sent event streaming",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var tabsCmd = &cobra.Command{
	Use:   "tabs",
	Short: "List the configured tabs and check their tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		tabs, err := utils.LoadTabConfig(settings.TabsDir)
		if err != nil {
			return err
		}
		yellow := color.New(color.FgYellow, color.Bold)
		white := color.New(color.FgWhite)
		yellow.Println("📋 Tabs:")
		for i, tab := range tabs.All() {
			white.Printf("%d. %-28s %-20s %-10s %d stages\n", i+1, tab.Label, tab.ID, tab.Kind, len(tab.Stages))
		}
		utils.PrintSuccess(fmt.Sprintf("%d tabs loaded", len(tabs.All())))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&tabsDir, "tabs-dir", "", "Directory of tab YAML tables (default: built-in tables)")
	rootCmd.Flags().StringVarP(&startTab, "tab", "t", "", "Tab to open first")
	chatCmd.Flags().StringVarP(&startTab, "tab", "t", "", "Tab to open first")
	serveCmd.Flags().StringVarP(&port, "port", "p", "", "Port to listen on (default: $PORT)")

	rootCmd.AddCommand(chatCmd, serveCmd, tabsCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		utils.PrintError(err.Error())
		os.Exit(1)
	}
}

// buildSessionManager wires the LLM client, the agents and the tab tables.
func buildSessionManager() (*managers.SessionManager, error) {
	retry := client.DefaultRetryConfig
	retry.MaxRetries = settings.LLMMaxRetries

	apiClient, err := client.New(client.Config{
		Provider: settings.Provider,
		APIKey:   settings.APIKey,
		BaseURL:  settings.BaseURL,
		Timeout:  settings.LLMTimeout,
		Retry:    retry,
	}, logger)
	if err != nil {
		return nil, err
	}

	retriever, err := services.NewKeywordRetriever(prompts.FS, "corpus")
	if err != nil {
		return nil, fmt.Errorf("failed to load reference corpus: %w", err)
	}

	tabs, err := utils.LoadTabConfig(settings.TabsDir)
	if err != nil {
		return nil, err
	}

	agentManager := agents.NewManager(apiClient, agents.ManagerOptions{
		Model:             settings.Model,
		Retriever:         retriever,
		RetrievalMinChars: settings.RetrievalMinChars,
		RetrievalTopK:     settings.RetrievalTopK,
	}, logger)

	return managers.NewSessionManager(agentManager, tabs, managers.Options{
		Model:      settings.Model,
		TTL:        settings.SessionTTL,
		ExportDir:  settings.ExportDir,
		Translator: services.NewTranslator("en", settings.TranslateTarget),
	}, logger), nil
}

func runChat(ctx context.Context, tab string) error {
	sm, err := buildSessionManager()
	if err != nil {
		return err
	}
	chatbot := gateway.NewChatbotOrchestrator(sm, os.Stdin, os.Stdout)
	return chatbot.StartConversation(ctx, tab)
}

func runServe(ctx context.Context) error {
	sm, err := buildSessionManager()
	if err != nil {
		return err
	}

	listen := settings.Port
	if port != "" {
		listen = port
	}
	web := gateway.NewChatbotWeb(sm, gateway.WebConfig{
		Port:               listen,
		RateLimitPerMinute: settings.RateLimitPerMinute,
	}, logger)

	logger.Info("starting web server",
		zap.String("port", listen),
		zap.String("provider", settings.Provider),
		zap.String("model", settings.Model))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sm.Run(ctx, time.Minute)
		return nil
	})
	g.Go(func() error {
		return web.StartWebServer(ctx)
	})
	return g.Wait()
}
