package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"fraudgate/internal/app"
)

var (
	checkUserID        string
	checkAmount        float64
	checkBeneficiaryID string
	checkDescription   string
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Evaluate one prospective transfer and print the verdict",
	RunE: func(cmd *cobra.Command, args []string) error {
		if checkUserID == "" || checkAmount <= 0 {
			return fmt.Errorf("--user and a positive --amount are required")
		}

		result, err := getApp().Check(cmd.Context(), app.CheckOptions{
			UserID:        checkUserID,
			Amount:        checkAmount,
			BeneficiaryID: checkBeneficiaryID,
			Description:   checkDescription,
		})
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	checkCmd.Flags().StringVar(&checkUserID, "user", "", "User id to evaluate")
	checkCmd.Flags().Float64Var(&checkAmount, "amount", 0, "Proposed transfer amount")
	checkCmd.Flags().StringVar(&checkBeneficiaryID, "beneficiary", "", "Beneficiary id (optional)")
	checkCmd.Flags().StringVar(&checkDescription, "description", "", "Transfer memo passed to the adjudicator")
}
