package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/dnitsch/aws-account/internal/awsclient"
	"github.com/dnitsch/aws-account/internal/awssession"
	"github.com/dnitsch/aws-account/internal/cachekey"
	"github.com/dnitsch/aws-account/internal/credentialexport"
	"github.com/dnitsch/aws-account/internal/logging"
)

var (
	duration         int
	reloadBeforeTime int
	username         string
	externalID       string
	serialNumber     string
	tokenCode        string
	webToken         bool

	assumeCmd = &cobra.Command{
		Use:   "assume",
		Short: "Assume the role chain and emit temporary credentials",
		Long: `Assume each role in the chain on top of the base identity and emit the
resulting temporary credentials. Previously issued credentials for the same
chain are reused from the OS secret store while they remain valid.`,
		RunE: getAssume,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if reloadBeforeTime != 0 && reloadBeforeTime > duration {
				return fmt.Errorf("reload-before: %v, must be less than duration (-d): %v", reloadBeforeTime, duration)
			}
			if serialNumber == "" && tokenCode != "" {
				return fmt.Errorf("token-code requires serial-number")
			}
			if storeInProfile && cfgSectionName == "" {
				return fmt.Errorf("cfg-section name must be provided if store-profile is enabled")
			}
			return nil
		},
	}
)

func init() {
	assumeCmd.PersistentFlags().IntVarP(&duration, "max-duration", "d", 900, "Max session duration, in seconds, of the role session [900-43200]")
	assumeCmd.PersistentFlags().IntVarP(&reloadBeforeTime, "reload-before", "", 0, "Triggers a credentials refresh before the specified max-duration. Value provided in seconds. Should be less than the max-duration of the session")
	assumeCmd.PersistentFlags().StringVarP(&username, "username", "u", "", "Username stamped into the role session name, defaults to $USER")
	assumeCmd.PersistentFlags().StringVarP(&externalID, "external-id", "", "", "External id passed to the first assume role step")
	assumeCmd.PersistentFlags().StringVarP(&serialNumber, "serial-number", "", "", "MFA device serial number, switches the flow to GetSessionToken")
	assumeCmd.PersistentFlags().StringVarP(&tokenCode, "token-code", "", "", "Current MFA token code, requires serial-number")
	assumeCmd.PersistentFlags().BoolVarP(&webToken, "web-token", "w", false, fmt.Sprintf("Assume the role named by %s with the web identity token file", credentialexport.AWS_ROLE_ARN))
	RootCmd.AddCommand(assumeCmd)
}

func getAssume(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	log := logging.Get()

	user := username
	if user == "" {
		user = os.Getenv("USER")
	}
	if user == "" {
		user = "default"
	}

	steps, err := buildRoleSpecs(user)
	if err != nil {
		return err
	}

	base := awsclient.BaseParams{
		Profile: viper.GetString("profile"),
		Region:  viper.GetString("region"),
	}

	chainKey, err := awssession.ChainKeyFor(base, steps)
	if err != nil {
		return err
	}

	baseConf := credentialexport.BaseConfig{
		Role:             role,
		RoleChain:        roleChain,
		Username:         user,
		CfgSectionName:   cfgSectionName,
		StoreInProfile:   storeInProfile,
		ReloadBeforeTime: reloadBeforeTime,
	}

	store, err := credentialexport.NewSecretStore(cachekey.Hex(chainKey), chainDescription(steps), os.TempDir(), user)
	if err != nil {
		return err
	}

	session := awssession.New(base)

	if stored := reusableCredential(cmd, session, store); stored != nil {
		log.Debug("reusing stored credential", zap.String("chain", chainDescription(steps)))
		return credentialexport.SetCredentials(cmd.OutOrStdout(), stored, baseConf)
	}

	for _, spec := range steps {
		if err := session.AssumeRole(ctx, spec); err != nil {
			return err
		}
	}

	h, err := session.ActiveHandle(ctx)
	if err != nil {
		return err
	}
	creds, err := h.Credentials(ctx)
	if err != nil {
		return err
	}

	exported := credentialexport.FromAWS(creds)
	if arn, err := session.ARN(ctx); err == nil {
		exported.PrincipalARN = arn
	}

	if err := store.SaveAWSCredential(exported); err != nil {
		return err
	}
	return credentialexport.SetCredentials(cmd.OutOrStdout(), exported, baseConf)
}

// reusableCredential returns the stored credential for the chain when
// it is still valid, nil whenever a fresh assumption is needed.
func reusableCredential(cmd *cobra.Command, session *awssession.Session, store *credentialexport.SecretStore) *credentialexport.AWSCredentials {
	stored, err := store.AWSCredential()
	if err != nil || stored == nil {
		return nil
	}

	ctx := cmd.Context()
	validateCfg, err := awsclient.LoadBase(ctx, awsclient.BaseParams{
		Region:          session.Region(),
		AccessKeyID:     stored.AWSAccessKey,
		SecretAccessKey: stored.AWSSecretKey,
		SessionToken:    stored.AWSSessionToken,
	})
	if err != nil {
		return nil
	}

	svc := awsclient.NewSTS(validateCfg, session.ClientSettings("sts"))
	valid, err := credentialexport.IsValid(ctx, stored, reloadBeforeTime, svc)
	if err != nil || !valid {
		return nil
	}
	return stored
}

// buildRoleSpecs translates the flag surface into ordered role
// assumption steps. Duration applies to the last step, the one whose
// credentials are exported.
func buildRoleSpecs(user string) ([]awssession.RoleSpec, error) {
	sessionName := credentialexport.SessionName(user, credentialexport.SELF_NAME)

	if webToken {
		roleArn, exists := os.LookupEnv(credentialexport.AWS_ROLE_ARN)
		if !exists {
			return nil, fmt.Errorf("roleVar not found, %s is empty, %w", credentialexport.AWS_ROLE_ARN, credentialexport.ErrMissingEnvVar)
		}
		token, err := credentialexport.GetWebIdTokenFileContents()
		if err != nil {
			return nil, err
		}
		params := map[string]string{
			"RoleArn":          roleArn,
			"RoleSessionName":  sessionName,
			"WebIdentityToken": token,
		}
		if duration > 0 {
			params["DurationSeconds"] = strconv.Itoa(duration)
		}
		return []awssession.RoleSpec{{Method: awssession.MethodAssumeRoleWithWebIdentity, Params: params}}, nil
	}

	if serialNumber != "" {
		params := map[string]string{"SerialNumber": serialNumber}
		if tokenCode != "" {
			params["TokenCode"] = tokenCode
		}
		if duration > 0 {
			params["DurationSeconds"] = strconv.Itoa(duration)
		}
		return []awssession.RoleSpec{{Method: awssession.MethodGetSessionToken, Params: params}}, nil
	}

	chain := credentialexport.InsertRoleIntoChain(viper.GetString("role"), viper.GetStringSlice("role-chain"))
	specs := make([]awssession.RoleSpec, 0, len(chain))
	for i, arn := range chain {
		params := map[string]string{
			"RoleArn":         arn,
			"RoleSessionName": sessionName,
		}
		if externalID != "" && i == 0 {
			params["ExternalId"] = externalID
		}
		if duration > 0 && i == len(chain)-1 {
			params["DurationSeconds"] = strconv.Itoa(duration)
		}
		specs = append(specs, awssession.RoleSpec{Method: awssession.MethodAssumeRole, Params: params})
	}
	return specs, nil
}

func chainDescription(steps []awssession.RoleSpec) string {
	parts := []string{"base"}
	for _, s := range steps {
		if arn := s.Params["RoleArn"]; arn != "" {
			parts = append(parts, arn)
			continue
		}
		parts = append(parts, s.Method)
	}
	return strings.Join(parts, " -> ")
}
