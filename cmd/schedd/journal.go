package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"pewsched/internal/app"
	"pewsched/internal/config"
	"pewsched/internal/storage"
	logx "pewsched/pkg/logx"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Print recent dispatch journal records",
	Long:  `Print the newest journal records of the configured store, oldest first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Flags().GetString("config")
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		cfg, err := config.NewConfigManager(cfgPath).Parse()
		if err != nil {
			return err
		}
		sc, enabled, err := app.StorageConfig(cfg)
		if err != nil {
			return err
		}
		if !enabled {
			return storage.ErrDisabled
		}
		st, err := storage.Open(sc, logx.Nop())
		if err != nil {
			return err
		}
		defer st.Close()

		recs, err := st.RecentJournal(cmd.Context(), limit)
		if err != nil {
			return errors.Wrap(err, "read journal")
		}

		out := cmd.OutOrStdout()
		if asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(recs)
		}
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "AT\tRUN\tEVENT\tID\tNAME\tRETRIES\tTOOK")
		for _, r := range recs {
			fmt.Fprintf(tw, "%s\t%.8s\t%s\t%d\t%s\t%d\t%dms\n",
				r.At.Format("15:04:05.000"), r.RunID, r.Event, r.EntryID, r.Name, r.Retries, r.TookMS)
		}
		return tw.Flush()
	},
}

func init() {
	journalCmd.Flags().IntP("limit", "n", 50, "number of records")
	journalCmd.Flags().BoolP("json", "j", false, "output JSON")
}
