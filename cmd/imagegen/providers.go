package main

import (
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/shouni/image-fallback-kit/pkg/chain"
	"github.com/shouni/image-fallback-kit/pkg/config"
	"github.com/shouni/image-fallback-kit/pkg/providers"
)

func newProvidersCmd(load func() config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "解決されたプロバイダチェーンを表示します",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := load()
			c := chain.Resolve(cfg.ProviderOrder, providerUsable(cmd.Context(), cfg, cfg.StorageBucket != ""))

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Provider", "Credential", "Enabled", "Position"})
			table.SetAutoWrapText(false)
			table.SetBorder(false)
			table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
			table.SetAlignment(tablewriter.ALIGN_LEFT)
			table.SetCenterSeparator("")
			table.SetColumnSeparator("")
			table.SetRowSeparator("")
			table.SetHeaderLine(false)
			table.SetTablePadding("  ")
			table.SetNoWhiteSpace(true)

			positions := map[string]int{}
			for i, name := range c.Providers() {
				positions[name] = i + 1
			}
			for _, name := range providers.Known {
				pos := "-"
				if p, ok := positions[name]; ok {
					pos = strconv.Itoa(p)
				}
				table.Append([]string{
					name,
					strconv.FormatBool(cfg.HasCredential(name)),
					strconv.FormatBool(c.Enabled(name)),
					pos,
				})
			}
			table.Render()
			return nil
		},
	}
}
