package cli

import (
	"encoding/json"
	"fmt"

	"github.com/rcliao/symbol-predict/internal/fingerprint"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "records [prefix...]",
		Short: "List stored sequences",
		Long:  "List the sequences stored for a scope in fingerprint order, optionally only those starting with the given symbols.",
		Run:   runRecords,
	}

	cmd.Flags().IntP("limit", "l", 0, "Max results (0 for all)")

	RootCmd.AddCommand(cmd)
}

func runRecords(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")

	prefix, err := fingerprint.Encode(args)
	if err != nil {
		exitErr("records", err)
	}

	cfg := loadConfig()
	s, err := openStore(cfg, newLogger(cfg))
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	records, err := s.RangeQuery(cmd.Context(), scopeFlag, prefix)
	if err != nil {
		exitErr("records", err)
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	if formatFlag == "text" {
		for _, rec := range records {
			fmt.Printf("%-40s %d\n", rec.Fingerprint, rec.Frequency)
		}
		return
	}

	b, _ := json.MarshalIndent(records, "", "  ")
	fmt.Println(string(b))
}
