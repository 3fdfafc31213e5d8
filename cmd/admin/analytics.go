package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"faceattend/internal/apperror"
)

var analyticsCmd = &cobra.Command{
	Use:   "analytics <external-key>",
	Short: "Print attendance analytics for an identity as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		uow := a.Sessions.Session()
		ident, err := uow.Identities().GetByExternalKey(ctx, args[0])
		if err != nil {
			return apperror.StoreUnavailable(err)
		}
		stats, err := a.Ledger().Analytics(ctx, uow, ident.ID)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"external_key": ident.ExternalKey, "name": ident.Name, "analytics": stats})
	},
}

func init() {
	rootCmd.AddCommand(analyticsCmd)
}
