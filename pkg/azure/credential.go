package azure

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
)

const managementScope = "https://management.azure.com/.default"

// Preflight acquires a credential and proves it with a live token request
// before any enumeration starts. DefaultAzureCredential is attempted first,
// then the CLI session credential. Both failing is fatal for the run.
func Preflight(ctx context.Context, logger *slog.Logger) (azcore.TokenCredential, string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("performing preflight checks")

	if cred, err := azidentity.NewDefaultAzureCredential(nil); err == nil {
		if probeErr := probeToken(ctx, cred); probeErr == nil {
			logger.Info("authentication successful", "credential", "DefaultAzureCredential")
			logProxy(logger)
			return cred, "DefaultAzureCredential", nil
		} else {
			logger.Warn("DefaultAzureCredential failed", "error", probeErr)
		}
	} else {
		logger.Warn("DefaultAzureCredential failed", "error", err)
	}

	cred, err := azidentity.NewAzureCLICredential(nil)
	if err == nil {
		err = probeToken(ctx, cred)
	}
	if err != nil {
		logger.Error("AzureCliCredential failed", "error", err)
		return nil, "", fmt.Errorf("authentication failed, run 'az login' or configure SSO: %w", err)
	}

	logger.Info("authentication successful", "credential", "AzureCliCredential")
	logProxy(logger)
	return cred, "AzureCliCredential", nil
}

func probeToken(ctx context.Context, cred azcore.TokenCredential) error {
	_, err := cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{managementScope}})
	return err
}

func logProxy(logger *slog.Logger) {
	httpsProxy := firstEnv("HTTPS_PROXY", "https_proxy")
	httpProxy := firstEnv("HTTP_PROXY", "http_proxy")
	if httpsProxy != "" || httpProxy != "" {
		logger.Info("proxy detected", "https_proxy", httpsProxy, "http_proxy", httpProxy)
	}
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}
