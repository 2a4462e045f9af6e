package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/dnitsch/aws-account/internal/credentialexport"
	"github.com/dnitsch/aws-account/internal/logging"
)

var (
	cfgFile        string
	cfgSectionName string
	storeInProfile bool
	verbose        bool

	role      string
	roleChain []string
	profile   string
	region    string

	RootCmd = &cobra.Command{
		Use:   credentialexport.SELF_NAME,
		Short: "CLI tool for assuming role chains and retrieving AWS temporary credentials",
		Long: `CLI tool for assuming a chain of AWS roles and retrieving the resulting temporary credentials.
Credentials are returned as a credential_process payload on stdout by default,
or stored under a named profile section in the shared credentials file.
Issued credentials are cached in the OS secret store keyed by the identity chain.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Init(verbose)
		},
	}
)

func Execute(ctx context.Context) error {
	if err := RootCmd.ExecuteContext(ctx); err != nil {
		logging.Get().Error("command failed", zap.Error(err))
		return err
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)
	RootCmd.PersistentFlags().StringVarP(&role, "role", "r", "", "Role arn to assume, prepended to any role chain")
	RootCmd.PersistentFlags().StringSliceVarP(&roleChain, "role-chain", "", []string{}, "Ordered list of role arns to assume, each on top of the previous")
	RootCmd.PersistentFlags().StringVarP(&profile, "profile", "p", "", "Shared config profile to resolve the base identity from")
	RootCmd.PersistentFlags().StringVarP(&region, "region", "", "", "Region for the base identity, falls back to the default chain")
	RootCmd.PersistentFlags().StringVarP(&cfgSectionName, "cfg-section", "", "", "config section name in the shared credentials file")
	RootCmd.PersistentFlags().BoolVarP(&storeInProfile, "store-profile", "s", false, "By default the credentials are returned to stdout to be used by the credential_process. Set this flag to instead store the credentials under a named profile section")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	viper.BindPFlag("role", RootCmd.PersistentFlags().Lookup("role"))
	viper.BindPFlag("role-chain", RootCmd.PersistentFlags().Lookup("role-chain"))
	viper.BindPFlag("profile", RootCmd.PersistentFlags().Lookup("profile"))
	viper.BindPFlag("region", RootCmd.PersistentFlags().Lookup("region"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(fmt.Sprintf(".%s", credentialexport.SELF_NAME))
	}

	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		logging.Get().Debug("using config file", zap.String("path", viper.ConfigFileUsed()))
	}
}
