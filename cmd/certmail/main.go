package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dkarpov/certmail/internal/app"
	"github.com/dkarpov/certmail/internal/config"
	"github.com/dkarpov/certmail/internal/dataset"
	"github.com/dkarpov/certmail/internal/quota"
	"github.com/dkarpov/certmail/internal/sender"
	"github.com/dkarpov/certmail/internal/template"
)

var (
	cfgFile   string
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "certmail",
	Short: "Certmail - certificate generator and bulk mailer",
	Long:  `Certmail renders personalized certificates from a template and a dataset, and emails one to each recipient.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the certmail server",
	Long:  `Start the certmail HTTP API server for interactive template design and bulk sending.`,
	RunE:  runServe,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE:  runConfigValidate,
}

var (
	sendDataset    string
	sendTemplate   string
	sendSubject    string
	sendBody       string
	sendCredential string
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Run one batch from local files",
	Long: `Render and send one certificate batch without the HTTP API.
The dataset is a CSV or XLSX file whose first row holds column names;
the template is a JSON file with the background image and fields.`,
	RunE: runSend,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("certmail version %s\n", version)
		if commit != "unknown" {
			fmt.Printf("  commit: %s\n", commit)
		}
		if buildTime != "unknown" {
			fmt.Printf("  built:  %s\n", buildTime)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")

	sendCmd.Flags().StringVar(&sendDataset, "dataset", "", "CSV or XLSX dataset file")
	sendCmd.Flags().StringVar(&sendTemplate, "template", "", "template JSON file")
	sendCmd.Flags().StringVar(&sendSubject, "subject", "", "email subject, {column} placeholders allowed")
	sendCmd.Flags().StringVar(&sendBody, "body", "", "email body, {column} placeholders allowed")
	sendCmd.Flags().StringVar(&sendCredential, "credential", "", "bearer token for the mail provider (default $CERTMAIL_CREDENTIAL)")

	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(serveCmd, configCmd, sendCmd, versionCmd)
}

func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	application, err := app.New(cfg, version)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	return application.Run(context.Background())
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		return fmt.Errorf("config file is required (use -c flag)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	fmt.Printf("Configuration is valid\n")
	fmt.Printf("  API: %s\n", cfg.API.ListenAddr)
	fmt.Printf("  Backend: %s\n", cfg.Mail.Backend)
	fmt.Printf("  Send timeout: %s\n", cfg.Mail.SendTimeout)
	fmt.Printf("  Quota delay: %s\n", cfg.Quota.Delay)
	if cfg.Storage.Path != "" {
		fmt.Printf("  Storage: %s\n", cfg.Storage.Path)
	}

	return nil
}

func runSend(cmd *cobra.Command, args []string) error {
	if sendDataset == "" || sendTemplate == "" {
		return fmt.Errorf("--dataset and --template are required")
	}
	if sendSubject == "" || sendBody == "" {
		return fmt.Errorf("--subject and --body are required")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	credential := sendCredential
	if credential == "" {
		credential = os.Getenv("CERTMAIL_CREDENTIAL")
	}
	if credential == "" && cfg.Mail.Backend == config.BackendSMTP {
		credential = cfg.Mail.SMTP.Username
	}

	f, err := os.Open(sendDataset)
	if err != nil {
		return fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()
	d, err := dataset.FromFile(f, sendDataset)
	if err != nil {
		return fmt.Errorf("failed to parse dataset: %w", err)
	}

	data, err := os.ReadFile(sendTemplate)
	if err != nil {
		return fmt.Errorf("failed to read template: %w", err)
	}
	var tmpl template.Template
	if err := json.Unmarshal(data, &tmpl); err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}

	logger := app.SetupLogger(cfg.Logging)

	db, err := app.OpenQuotaDB(cfg.Storage.Path)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}
	limiter, err := quota.NewLimiter(db, cfg.Quota)
	if err != nil {
		return fmt.Errorf("failed to create quota limiter: %w", err)
	}

	compositor, err := app.BuildCompositor(cfg, logger)
	if err != nil {
		return err
	}

	snd := sender.New(compositor, app.BuildMailer(cfg), limiter, nil, logger, cfg.Mail.SendTimeout)

	job := &sender.Job{
		Credential: credential,
		Dataset:    d,
		Template:   tmpl,
		Email:      template.Email{Subject: sendSubject, Body: sendBody},
		Status:     func(line string) { fmt.Println(line) },
	}

	report, err := snd.Run(context.Background(), job)
	if err != nil {
		return err
	}

	for _, failure := range report.Failures {
		fmt.Printf("  failed: %s: %s\n", failure.Email, failure.Error)
	}
	if report.Failed > 0 {
		return fmt.Errorf("%d of %d messages failed", report.Failed, report.Total)
	}
	return nil
}
