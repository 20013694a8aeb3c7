package cli

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"askdan/assistant"
	"askdan/attachment"
	"askdan/chat"
	"askdan/db"
	"askdan/utils"
)

// app wires the store, the remote client and the orchestrator together
type app struct {
	config *utils.Config
	logger *utils.Logger
	store  *db.DB
	client *assistant.Client
	orch   *chat.Orchestrator
}

// assistantConfig converts the file configuration into client settings
func assistantConfig(config *utils.Config) assistant.Config {
	a := config.Assistant
	return assistant.Config{
		APIKey:         a.APIKey,
		Organization:   a.Organization,
		AssistantID:    a.AssistantID,
		BaseURL:        a.BaseURL,
		ProxyURL:       config.ProxyURL(),
		RequestTimeout: time.Duration(a.RequestTimeoutSeconds) * time.Second,
		PollInterval:   time.Duration(a.PollIntervalMillis) * time.Millisecond,
		MaxPolls:       a.MaxPolls,
	}
}

func revealOptions(config *utils.Config) chat.RevealOptions {
	return chat.RevealOptions{
		ChunkSize: config.Reveal.ChunkSize,
		Interval:  time.Duration(config.Reveal.IntervalMillis) * time.Millisecond,
	}
}

func newApp(opts *rootOptions) (*app, error) {
	config, err := utils.LoadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}

	logPath := opts.logPath
	if logPath == "" {
		logPath = utils.GetLogPath()
	}
	logger, err := utils.NewLogger(logPath)
	if err != nil {
		return nil, err
	}
	if !opts.verbose {
		logger.SetConsole(nil)
	}

	if missing := config.MissingCredentials(); len(missing) > 0 {
		logger.Warn("Assistant credentials missing: %v", missing)
	}

	store, err := db.New(config.Data.DBPath)
	if err != nil {
		logger.Close()
		return nil, errors.Wrap(err, "failed to open store")
	}
	logger.Info("Opened store %s", config.Data.DBPath)

	clientConfig := assistantConfig(config)
	transport, err := assistant.NewOpenAITransport(clientConfig)
	if err != nil {
		store.Close()
		logger.Close()
		return nil, err
	}
	client := assistant.NewClient(transport, store, clientConfig, logger)

	preparer := attachment.NewPreparer(
		int64(config.Upload.MaxFileSizeMB)*1024*1024,
		uint(config.Upload.MaxImageSize),
		config.Upload.ImageQuality,
	)
	uploader := attachment.NewUploader(transport, preparer, time.Duration(config.Upload.TimeoutSeconds)*time.Second, logger)

	return &app{
		config: config,
		logger: logger,
		store:  store,
		client: client,
		orch:   chat.NewOrchestrator(store, client, uploader, logger, revealOptions(config)),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("Failed to close store: %v", err)
	}
	a.logger.Close()
}

func historyDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		dir = filepath.Join(dir, "askdan")
		if os.MkdirAll(dir, 0755) == nil {
			return dir
		}
	}
	return os.TempDir()
}
