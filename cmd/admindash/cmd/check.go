package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pitabwire/admindash/internal/config"
	"github.com/pitabwire/admindash/internal/openapi"
	"github.com/pitabwire/admindash/internal/query"
	"github.com/pitabwire/admindash/internal/serviceconfig"
	"github.com/pitabwire/admindash/model"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate service configs and their OpenAPI operations",
	Long: `check loads the configured service config source, parses every config,
and compares declared operations with the configured OpenAPI documents.
It exits non-zero when a config is rejected or an operation is undocumented.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		return check(cmd.Context(), cfg, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

// check writes one line per problem to out and fails if any were found.
func check(ctx context.Context, cfg *config.Config, out io.Writer) error {
	logger := zap.NewNop()
	client := query.NewClient()
	policy := query.Policy{StaleTime: cfg.Query.StaleTime, CacheTime: cfg.Query.CacheTime}

	src, err := buildConfigSource(ctx, cfg.Services, buildFetcher(cfg.Backend, logger), client, policy, logger)
	if err != nil {
		return err
	}
	if src.close != nil {
		defer src.close()
	}

	raw, err := src.source.Load(ctx)
	if err != nil {
		return err
	}

	problems := 0
	parsed := make([]model.ParsedServiceConfig, 0, len(raw))
	for _, c := range raw {
		p, err := serviceconfig.Parse(c)
		if err != nil {
			fmt.Fprintf(out, "rejected %s: %v\n", c.Code, err)
			problems++
			continue
		}
		parsed = append(parsed, p)
	}

	idx := openapi.NewIndex()
	if err := idx.Load(buildSpecSources(cfg.Services.OpenAPI)); err != nil {
		return err
	}
	for _, m := range serviceconfig.CheckOperations(parsed, idx) {
		fmt.Fprintf(out, "undocumented %s\n", m)
		problems++
	}

	fmt.Fprintf(out, "%d service configs, %d valid, %d problems\n", len(raw), len(parsed), problems)
	if problems > 0 {
		return fmt.Errorf("check found %d problems", problems)
	}
	return nil
}
