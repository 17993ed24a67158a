package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/devanshuguptaa/Converge-AI/internal/config"
	"github.com/devanshuguptaa/Converge-AI/internal/integrations/google"
	"github.com/devanshuguptaa/Converge-AI/internal/pairing"
	"github.com/devanshuguptaa/Converge-AI/internal/rag"
	"github.com/devanshuguptaa/Converge-AI/pkg/models"
)

func runToolsList(cmd *cobra.Command, configPath string, scopes []string) error {
	cfg, err := config.Load(resolveConfigPath(configPath))
	if err != nil {
		return err
	}
	logger := newLogger(cfg, cmd.ErrOrStderr())
	comp, err := buildComponents(cmd.Context(), cfg, logger, nil, nil)
	if err != nil {
		return err
	}
	defer comp.Close()

	granted := comp.granted
	if len(scopes) > 0 {
		granted = models.ParseScopes(scopes)
	}
	return printCatalog(cmd.OutOrStdout(), comp, granted)
}

func printCatalog(out io.Writer, comp *components, granted models.ScopeSet) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSCOPES\tDESCRIPTION")
	for _, d := range comp.registry.Catalog(granted) {
		scopes := make([]string, len(d.Scopes))
		for i, s := range d.Scopes {
			scopes[i] = string(s)
		}
		label := strings.Join(scopes, ",")
		if label == "" {
			label = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", d.Name, label, firstLine(d.Description))
	}
	return w.Flush()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func runConfigValidate(cmd *cobra.Command, configPath string) error {
	path := resolveConfigPath(configPath)
	if _, err := config.Load(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", path)
	return nil
}

func runConfigSchema(cmd *cobra.Command) error {
	data, err := config.JSONSchema()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}

func openPairing(configPath string) (*pairing.Store, error) {
	cfg, err := config.Load(resolveConfigPath(configPath))
	if err != nil {
		return nil, err
	}
	return pairing.NewStore(cfg.Access.PairingDir)
}

func runPairingList(cmd *cobra.Command, configPath string) error {
	store, err := openPairing(configPath)
	if err != nil {
		return err
	}
	pending, err := store.Pending()
	if err != nil {
		return err
	}
	allowed, err := store.Allowlist()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(pending) == 0 {
		fmt.Fprintln(out, "No pending pairing requests.")
	} else {
		fmt.Fprintln(out, "Pending:")
		for _, req := range pending {
			left := time.Until(req.ExpiresAt).Round(time.Minute)
			if left < 0 {
				left = 0
			}
			fmt.Fprintf(out, "  %s  user=%s  expires in %s\n", req.Code, req.UserID, left)
		}
	}
	if len(allowed) > 0 {
		fmt.Fprintf(out, "Approved: %s\n", strings.Join(allowed, ", "))
	}
	return nil
}

func runPairingApprove(cmd *cobra.Command, configPath, code string) error {
	store, err := openPairing(configPath)
	if err != nil {
		return err
	}
	req, err := store.Approve(code)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Approved %s.\n", req.UserID)
	return nil
}

func runPairingDeny(cmd *cobra.Command, configPath, code string) error {
	store, err := openPairing(configPath)
	if err != nil {
		return err
	}
	req, err := store.Deny(code)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Denied %s.\n", req.UserID)
	return nil
}

func runPairingRevoke(cmd *cobra.Command, configPath, userID string) error {
	store, err := openPairing(configPath)
	if err != nil {
		return err
	}
	if err := store.Revoke(userID); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Revoked %s.\n", userID)
	return nil
}

func runIndex(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(resolveConfigPath(configPath))
	if err != nil {
		return err
	}
	if !cfg.RAG.Enabled {
		return fmt.Errorf("rag is disabled in %s", resolveConfigPath(configPath))
	}
	logger := newLogger(cfg, cmd.ErrOrStderr())
	comp, err := buildComponents(cmd.Context(), cfg, logger, nil, nil)
	if err != nil {
		return err
	}
	defer comp.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Minute)
	defer cancel()
	stats, err := rag.NewIndexer(comp.index, comp.slack, cfg.RAG.Lookback, logger).Run(ctx)
	if err != nil {
		return err
	}
	total, err := comp.index.Count(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d messages from %d channels (%d skipped, %d failed). Index holds %d messages.\n",
		stats.Documents, stats.Channels, stats.Skipped, stats.Failed, total)
	return nil
}

func runGoogleAuth(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(resolveConfigPath(configPath))
	if err != nil {
		return err
	}
	if _, err := google.Authorize(cmd.Context(), googleAuthConfig(cfg), cmd.InOrStdin(), cmd.OutOrStdout()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Token saved to %s.\n", cfg.Google.TokenFile)
	return nil
}
