package credentialexport

const (
	SELF_NAME        = "aws-account"
	WEB_ID_TOKEN_VAR = "AWS_WEB_IDENTITY_TOKEN_FILE"
	AWS_ROLE_ARN     = "AWS_ROLE_ARN"
	INI_CONF_SECTION = "identity"
)

// BaseConfig carries the credential export knobs shared by the CLI
// commands.
type BaseConfig struct {
	Role             string
	RoleChain        []string
	Username         string
	CfgSectionName   string
	StoreInProfile   bool
	ReloadBeforeTime int
}
