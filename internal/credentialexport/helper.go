package credentialexport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"
	ini "gopkg.in/ini.v1"

	"github.com/dnitsch/aws-account/internal/logging"
)

var (
	ErrSectionNotFound = errors.New("section not found")
	ErrConfigFailure   = errors.New("config error")
	ErrMissingEnvVar   = errors.New("missing env var")
)

func HomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		logging.Get().Fatal("unable to get the user home dir", zap.Error(err))
	}
	return home
}

func ConfigIniFile(basePath string) string {
	var base string
	if basePath != "" {
		base = basePath
	} else {
		base = HomeDir()
	}
	return path.Join(base, fmt.Sprintf(".%s.ini", SELF_NAME))
}

func SessionName(username, selfName string) string {
	return fmt.Sprintf("%s-%s", username, selfName)
}

// InsertRoleIntoChain prepends the single role flag to the chain so a
// lone --role behaves like a one element chain.
func InsertRoleIntoChain(role string, roleChain []string) []string {
	if role == "" {
		return roleChain
	}
	return append([]string{role}, roleChain...)
}

// SetCredentials emits creds either into the shared credentials file
// or as credential_process JSON on w.
func SetCredentials(w io.Writer, creds *AWSCredentials, config BaseConfig) error {
	if config.StoreInProfile {
		return storeCredentialsInProfile(*creds, config.CfgSectionName)
	}
	return writeCredentialProcess(w, *creds)
}

func storeCredentialsInProfile(creds AWSCredentials, configSection string) error {
	var awsConfPath string

	if overriddenpath, exists := os.LookupEnv("AWS_SHARED_CREDENTIALS_FILE"); exists {
		awsConfPath = overriddenpath
	} else {
		awsConfPath = path.Join(HomeDir(), ".aws", "credentials")
		if err := os.MkdirAll(path.Dir(awsConfPath), 0o700); err != nil {
			return fmt.Errorf("%s, %w", err, ErrConfigFailure)
		}
	}

	cfg, err := ini.LooseLoad(awsConfPath)
	if err != nil {
		return fmt.Errorf("%s, %w", err, ErrConfigFailure)
	}
	cfg.Section(configSection).Key("aws_access_key_id").SetValue(creds.AWSAccessKey)
	cfg.Section(configSection).Key("aws_secret_access_key").SetValue(creds.AWSSecretKey)
	cfg.Section(configSection).Key("aws_session_token").SetValue(creds.AWSSessionToken)
	return cfg.SaveTo(awsConfPath)
}

func writeCredentialProcess(w io.Writer, creds AWSCredentials) error {
	creds.Version = 1

	jsonBytes, err := json.Marshal(creds)
	if err != nil {
		return err
	}
	fmt.Fprint(w, string(jsonBytes))
	return nil
}

// GetWebIdTokenFileContents reads the OIDC token from the file named
// by AWS_WEB_IDENTITY_TOKEN_FILE.
func GetWebIdTokenFileContents() (string, error) {
	file, exists := os.LookupEnv(WEB_ID_TOKEN_VAR)
	if !exists {
		return "", fmt.Errorf("fileNotPresent: %s, %w", WEB_ID_TOKEN_VAR, ErrMissingEnvVar)
	}
	content, err := os.ReadFile(file)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// ReloadBeforeExpiry returns true if the time
// to expiry is less than the specified time in seconds
// false if there is more than required time in seconds
// before needing to recycle credentials
func ReloadBeforeExpiry(expiry time.Time, reloadBeforeSeconds int) bool {
	now := time.Now().Local()
	diff := expiry.Local().Sub(now)
	return diff.Seconds() < float64(reloadBeforeSeconds)
}

// WriteIniSection records an identity key in the config ini so
// ClearAll can find every stored secret later. name is the human
// readable chain description.
func WriteIniSection(key, name string) error {
	section := fmt.Sprintf("%s.%s", INI_CONF_SECTION, key)
	cfg, err := ini.LooseLoad(ConfigIniFile(""))
	if err != nil {
		return fmt.Errorf("fail to read ini file: %v, %w", err, ErrConfigFailure)
	}
	if !cfg.HasSection(section) {
		sct, err := cfg.NewSection(section)
		if err != nil {
			return err
		}
		sct.Key("name").SetValue(name)
		return cfg.SaveTo(ConfigIniFile(""))
	}

	return nil
}

func GetAllIniSections() ([]string, error) {
	sections := []string{}
	cfg, err := ini.LooseLoad(ConfigIniFile(""))
	if err != nil {
		return nil, err
	}
	for _, v := range cfg.Section(INI_CONF_SECTION).ChildSections() {
		sections = append(sections, strings.Replace(v.Name(), fmt.Sprintf("%s.", INI_CONF_SECTION), "", -1))
	}
	return sections, nil
}
