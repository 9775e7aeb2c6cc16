// Package doctor runs health checks over a warden installation: config,
// crypto keys, trust policy, and the state databases. Used by
// `warden doctor`.
package doctor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/warden-ai/warden/internal/config"
	"github.com/warden-ai/warden/internal/credentials"
	"github.com/warden-ai/warden/internal/interaction"
	"github.com/warden-ai/warden/internal/pricing"
	"github.com/warden-ai/warden/internal/quarantine"
	"github.com/warden-ai/warden/internal/trust"
)

// CheckResult is a single check outcome.
type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // pass, warn, fail
	Message string `json:"message"`
	Fix     string `json:"fix,omitempty"`
}

// Summary tallies pass/warn/fail counts.
type Summary struct {
	Pass int `json:"pass"`
	Warn int `json:"warn"`
	Fail int `json:"fail"`
}

// Report is the complete doctor output.
type Report struct {
	Status  string        `json:"status"` // worst of all checks
	Checks  []CheckResult `json:"checks"`
	Summary Summary       `json:"summary"`
}

// Run executes all checks.
func Run(ctx context.Context) *Report {
	report := &Report{}

	cfg, err := config.Load()
	if err != nil {
		report.Checks = append(report.Checks, CheckResult{
			Name: "config_load", Status: "fail",
			Message: fmt.Sprintf("Cannot load config: %v", err),
			Fix:     "Check WARDEN_* env vars and warden.config.yaml",
		})
	} else {
		report.Checks = append(report.Checks, checkDataDir(cfg))
		report.Checks = append(report.Checks, checkCryptoKeys(cfg)...)
		report.Checks = append(report.Checks, checkTrustPolicy(ctx, cfg))
		report.Checks = append(report.Checks, checkStores(cfg)...)
		report.Checks = append(report.Checks, checkPricing(ctx, cfg))
	}

	for _, c := range report.Checks {
		switch c.Status {
		case "pass":
			report.Summary.Pass++
		case "warn":
			report.Summary.Warn++
		case "fail":
			report.Summary.Fail++
		}
	}

	report.Status = "pass"
	if report.Summary.Warn > 0 {
		report.Status = "warn"
	}
	if report.Summary.Fail > 0 {
		report.Status = "fail"
	}
	return report
}

func checkDataDir(cfg *config.Config) CheckResult {
	if err := cfg.EnsureDataDir(); err != nil {
		return CheckResult{
			Name: "data_dir", Status: "fail",
			Message: fmt.Sprintf("Data directory %s is not writable: %v", cfg.DataDir, err),
			Fix:     "Set WARDEN_DATA_DIR to a writable location",
		}
	}
	probe := filepath.Join(cfg.DataDir, ".doctor-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return CheckResult{
			Name: "data_dir", Status: "fail",
			Message: fmt.Sprintf("Cannot write to %s: %v", cfg.DataDir, err),
			Fix:     "Fix permissions on the data directory",
		}
	}
	_ = os.Remove(probe)
	return CheckResult{Name: "data_dir", Status: "pass", Message: fmt.Sprintf("Data directory %s is writable", cfg.DataDir)}
}

func checkCryptoKeys(cfg *config.Config) []CheckResult {
	if cfg.UsingDefaultKeys() {
		return []CheckResult{{
			Name: "crypto_keys", Status: "warn",
			Message: "Secrets or signing key derived from machine defaults",
			Fix:     "Set WARDEN_SECRETS_KEY and WARDEN_SIGNING_KEY explicitly for production",
		}}
	}
	return []CheckResult{{Name: "crypto_keys", Status: "pass", Message: "Crypto keys explicitly configured"}}
}

func checkTrustPolicy(ctx context.Context, cfg *config.Config) CheckResult {
	pol, err := trust.LoadPolicy(ctx, cfg.TrustPolicyPath)
	if err != nil {
		return CheckResult{
			Name: "trust_policy", Status: "fail",
			Message: fmt.Sprintf("Trust policy %s does not load: %v", cfg.TrustPolicyPath, err),
			Fix:     "Fix the YAML or remove the file to fall back to quarantine-everything",
		}
	}
	if _, err := trust.NewEngine(ctx, pol); err != nil {
		return CheckResult{
			Name: "trust_policy", Status: "fail",
			Message: fmt.Sprintf("Trust policy does not compile: %v", err),
		}
	}
	if len(pol.TrustedTools) == 0 && len(pol.Agents) == 0 {
		return CheckResult{
			Name: "trust_policy", Status: "warn",
			Message: "No trusted tools configured; every tool result will be quarantined",
			Fix:     fmt.Sprintf("Add trusted_tools to %s if that is not intended", cfg.TrustPolicyPath),
		}
	}
	return CheckResult{Name: "trust_policy", Status: "pass",
		Message: fmt.Sprintf("Trust policy loaded (%d trusted tools, %d blocked patterns)", len(pol.TrustedTools), len(pol.BlockedPatterns))}
}

func checkStores(cfg *config.Config) []CheckResult {
	var results []CheckResult

	if store, err := quarantine.NewStore(cfg.QuarantineDBPath()); err != nil {
		results = append(results, CheckResult{Name: "quarantine_db", Status: "fail", Message: err.Error()})
	} else {
		store.Close()
		results = append(results, CheckResult{Name: "quarantine_db", Status: "pass", Message: "Quarantine store opens"})
	}

	if store, err := interaction.NewStore(cfg.InteractionDBPath(), cfg.SigningKey); err != nil {
		results = append(results, CheckResult{Name: "interaction_db", Status: "fail", Message: err.Error()})
	} else {
		store.Close()
		results = append(results, CheckResult{Name: "interaction_db", Status: "pass", Message: "Interaction ledger opens"})
	}

	if vault, err := credentials.NewVault(cfg.CredentialsDBPath(), cfg.SecretsKey); err != nil {
		results = append(results, CheckResult{Name: "credentials_db", Status: "fail", Message: err.Error()})
	} else {
		vault.Close()
		results = append(results, CheckResult{Name: "credentials_db", Status: "pass", Message: "Credentials vault opens"})
	}

	return results
}

func checkPricing(ctx context.Context, cfg *config.Config) CheckResult {
	store, err := pricing.NewStore(cfg.PricingDBPath())
	if err != nil {
		return CheckResult{Name: "pricing_db", Status: "fail", Message: err.Error()}
	}
	defer store.Close()

	records, err := store.List(ctx)
	if err != nil {
		return CheckResult{Name: "pricing_db", Status: "fail", Message: err.Error()}
	}
	if len(records) == 0 {
		return CheckResult{
			Name: "pricing_db", Status: "warn",
			Message: "No pricing records; costs will use the default heuristic",
			Fix:     "Run `warden pricing sync`",
		}
	}
	return CheckResult{Name: "pricing_db", Status: "pass", Message: fmt.Sprintf("%d pricing records", len(records))}
}
