package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dnitsch/aws-account/internal/awsclient"
	"github.com/dnitsch/aws-account/internal/awssession"
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Prints the caller identity of the assumed chain",
	Long: `Resolve the identity the chain lands on. With no role flags the base
identity is reported, otherwise each role in the chain is assumed first.`,
	RunE: whoami,
}

func init() {
	RootCmd.AddCommand(whoamiCmd)
}

type callerIdentity struct {
	Account string `json:"Account"`
	UserId  string `json:"UserId"`
	Arn     string `json:"Arn"`
	Region  string `json:"Region"`
	Depth   int    `json:"Depth"`
}

func whoami(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	user := os.Getenv("USER")
	if user == "" {
		user = "default"
	}

	steps, err := buildRoleSpecs(user)
	if err != nil {
		return err
	}

	session := awssession.New(awsclient.BaseParams{
		Profile: viper.GetString("profile"),
		Region:  viper.GetString("region"),
	})

	for _, spec := range steps {
		if err := session.AssumeRole(ctx, spec); err != nil {
			return err
		}
	}

	out := callerIdentity{Region: session.Region(), Depth: session.Depth()}
	if out.Account, err = session.AccountID(ctx); err != nil {
		return err
	}
	if out.UserId, err = session.UserID(ctx); err != nil {
		return err
	}
	if out.Arn, err = session.ARN(ctx); err != nil {
		return err
	}

	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return nil
}
