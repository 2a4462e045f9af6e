package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/dnitsch/aws-account/internal/credentialexport"
)

var clearCmd = &cobra.Command{
	Use:   "clear-cache",
	Short: "Clears any stored credentials in the OS secret store",
	Long: `Remove every credential this tool stored in the OS secret store along
with the ini index that tracks them.`,
	RunE: clear,
}

func init() {
	RootCmd.AddCommand(clearCmd)
}

func clear(cmd *cobra.Command, args []string) error {
	user := os.Getenv("USER")
	if user == "" {
		user = "default"
	}

	store, err := credentialexport.NewSecretStore("", "", os.TempDir(), user)
	if err != nil {
		return err
	}
	if err := store.ClearAll(); err != nil {
		return err
	}
	if err := os.Remove(credentialexport.ConfigIniFile("")); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
