package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/soarhq/riposte/internal/adapter"
	"github.com/soarhq/riposte/internal/audit"
	"github.com/soarhq/riposte/internal/classify"
	"github.com/soarhq/riposte/internal/config"
	"github.com/soarhq/riposte/internal/engine"
	"github.com/soarhq/riposte/internal/override"
	"github.com/soarhq/riposte/internal/runbook"
	"github.com/soarhq/riposte/internal/server"
	"github.com/soarhq/riposte/internal/store"
)

var (
	serveListen  string
	serveSimTool bool
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", ":8080", "HTTP listen address")
	serveCmd.Flags().BoolVar(&serveSimTool, "memory-adapters", false, "register in-memory tool adapters (no external systems touched)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the riposte engine and HTTP API",
	Long: "Starts the engine with the configured runbook catalog and classifier\n" +
		"rules, exposes ingestion, approvals, audit export and the admin\n" +
		"override path over HTTP, and hot-reloads configuration on change.",
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	cfg, hash, err := config.LoadWithHash(configPath)
	if err != nil {
		return err
	}
	holder := config.NewHolder(cfg, hash)

	auditPath := cfg.AuditLogPath
	if auditPath == "" {
		auditPath = config.DefaultAuditLogPath()
	}
	auditLog, err := audit.Open(auditPath)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer auditLog.Close()

	storePath := cfg.StorePath
	if storePath == "" {
		storePath = config.DefaultStorePath()
	}
	st, err := store.Open(storePath)
	if err != nil {
		return fmt.Errorf("failed to open incident store: %w", err)
	}
	defer st.Close()

	registry, err := runbook.Load(cfg.RunbookPath)
	if err != nil {
		return err
	}
	classifier, err := loadClassifier(cfg)
	if err != nil {
		return err
	}

	adapters := adapter.NewRegistry()
	if serveSimTool {
		for _, tool := range engine.SimTools {
			adapters.Register(tool, adapter.NewMemoryAdapter())
		}
	}
	// Real enforcement adapters register here as they are built.

	overrides, err := override.NewStore(override.DefaultDir())
	if err != nil {
		return fmt.Errorf("failed to open override store: %w", err)
	}

	eng, err := engine.New(engine.Options{
		Config:     holder,
		Runbooks:   registry,
		Classifier: classifier,
		Adapters:   adapters,
		Audit:      auditLog,
		Store:      st,
		Overrides:  overrides,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		Addr:       serveListen,
		ConfigPath: configPath,
		Engine:     eng,
		Holder:     holder,
		Store:      st,
		Audit:      auditLog,
		Overrides:  overrides,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reloader, err := server.NewReloader(srv, []string{configPath, cfg.RunbookPath, cfg.RulesPath})
	if err != nil {
		logger.Warn("hot reload disabled", zap.Error(err))
	} else {
		go func() {
			if err := reloader.Run(ctx); err != nil {
				logger.Warn("reloader stopped", zap.Error(err))
			}
		}()
	}

	fmt.Fprintf(os.Stderr, "riposte serving on %s (autonomy %s)\n", serveListen, cfg.Autonomy)
	return srv.Run(ctx)
}

func loadClassifier(cfg *config.Config) (*classify.Classifier, error) {
	if cfg.RulesPath == "" {
		return classify.New(classify.DefaultRules()), nil
	}
	rules, _, err := classify.LoadRules(cfg.RulesPath)
	if err != nil {
		return nil, err
	}
	return classify.New(rules), nil
}
