package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "predict [context...]",
		Short: "Predict the next symbol",
		Run:   runPredict,
	}

	RootCmd.AddCommand(cmd)
}

func runPredict(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	svc, s := newService(cfg, nil)
	defer s.Close()

	res, err := svc.PredictNext(cmd.Context(), scopeFlag, args)
	if err != nil {
		exitErr("predict", err)
	}

	if formatFlag == "text" {
		for _, p := range res.Predictions {
			name := p.TokenID
			if p.Label != "" {
				name = p.Label
			}
			fmt.Printf("%-20s %5.1f%%\n", name, p.Probability*100)
		}
		if res.Note != "" {
			fmt.Printf("note: %s\n", res.Note)
		}
		return
	}

	b, _ := json.MarshalIndent(res, "", "  ")
	fmt.Println(string(b))
}
