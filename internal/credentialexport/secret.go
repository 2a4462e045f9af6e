package credentialexport

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/werf/lockgate"
	"github.com/werf/lockgate/pkg/file_locker"
	"github.com/zalando/go-keyring"
	"go.uber.org/zap"
	ini "gopkg.in/ini.v1"

	"github.com/dnitsch/aws-account/internal/logging"
)

var (
	ErrUnableToLoadAWSCred        = errors.New("unable to load AWS credential")
	ErrCannotLockDir              = errors.New("unable to create lock dir")
	ErrUnableToRetrieveSections   = errors.New("unable to retrieve sections")
	ErrUnableToLoadDueToLock      = errors.New("cannot load secret due to lock error")
	ErrUnableToAcquireLock        = errors.New("cannot acquire lock")
	ErrUnmarshallingSecret        = errors.New("cannot unmarshal secret")
	ErrFailedToClearSecretStorage = errors.New("failed to clear secret storage on OS")
)

// SecretStore caches issued credentials in the OS keychain, one entry
// per identity chain fingerprint. A file lock serializes concurrent
// invocations touching the same entry, the config ini indexes every
// stored key so ClearAll can sweep them.
type SecretStore struct {
	AWSCredentials *AWSCredentials
	AWSCredJson    string
	keyring        keyring.Keyring
	identityKey    string
	identityName   string
	lockDir        string
	locker         lockgate.Locker
	lockResource   string
	secretService  string
	secretUser     string
	log            *zap.Logger
}

func (s *SecretStore) WithLocker(locker lockgate.Locker) *SecretStore {
	s.locker = locker
	return s
}

func (s *SecretStore) WithKeyring(keyring keyring.Keyring) *SecretStore {
	s.keyring = keyring
	return s
}

func (s *SecretStore) WithLogger(log *zap.Logger) *SecretStore {
	s.log = log
	return s
}

// keyRingImpl is the default keyring implementation
type keyRingImpl struct{}

func (k *keyRingImpl) Set(service, user, password string) error {
	return keyring.Set(service, user, password)
}
func (k *keyRingImpl) Get(service, user string) (string, error) {
	return keyring.Get(service, user)
}
func (k *keyRingImpl) Delete(service, user string) error {
	return keyring.Delete(service, user)
}

// NewSecretStore keys the OS keychain entry by identityKey, usually
// the hex chain fingerprint. identityName is the human readable chain
// description recorded in the ini index.
func NewSecretStore(identityKey, identityName, baseDir, username string) (*SecretStore, error) {
	lockDir := path.Join(baseDir, fmt.Sprintf("%s-lock", SELF_NAME))
	locker, err := file_locker.NewFileLocker(lockDir)
	if err != nil {
		return nil, fmt.Errorf("cannot setup lock dir %s: %s, %w", lockDir, err, ErrCannotLockDir)
	}

	namer := fmt.Sprintf("%s-%s", SELF_NAME, identityKey)
	return &SecretStore{
		lockDir:       lockDir,
		locker:        locker,
		keyring:       &keyRingImpl{},
		lockResource:  namer,
		secretService: namer,
		identityKey:   identityKey,
		identityName:  identityName,
		secretUser:    username,
		log:           logging.Get(),
	}, nil
}

func (s *SecretStore) ensureLock() (func(), error) {
	acquired, lock, err := s.locker.Acquire(s.lockResource, lockgate.AcquireOptions{Shared: false, Timeout: 1 * time.Minute})
	if err != nil {
		return nil, fmt.Errorf("%s, %w", err, ErrUnableToAcquireLock)
	}

	if !acquired {
		return nil, fmt.Errorf("%s, %w", err, ErrUnableToLoadDueToLock)
	}
	return func() {
		if err := s.locker.Release(lock); err != nil {
			s.log.Warn("failed to release secret store lock", zap.Error(err))
		}
	}, nil
}

func (s *SecretStore) load() error {
	release, err := s.ensureLock()
	if err != nil {
		return err
	}
	defer release()

	creds := &AWSCredentials{}

	jsonStr, err := s.keyring.Get(s.secretService, s.secretUser)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil
		}
		return err
	}

	if err := json.Unmarshal([]byte(jsonStr), &creds); err != nil {
		return fmt.Errorf("%s, %w", err, ErrUnmarshallingSecret)
	}

	if err := WriteIniSection(s.identityKey, s.identityName); err != nil {
		return err
	}

	s.AWSCredentials = creds
	s.AWSCredJson = jsonStr
	return nil
}

func (s *SecretStore) save() error {
	release, err := s.ensureLock()
	if err != nil {
		return err
	}
	defer release()

	if err := WriteIniSection(s.identityKey, s.identityName); err != nil {
		return err
	}

	return s.keyring.Set(s.secretService, s.secretUser, s.AWSCredJson)
}

// AWSCredential returns the stored credential for this identity, nil
// when nothing was cached yet.
func (s *SecretStore) AWSCredential() (*AWSCredentials, error) {
	if err := s.load(); err != nil {
		return nil, fmt.Errorf("secret store: %s, %w", err, ErrUnableToLoadAWSCred)
	}

	if s.AWSCredentials == nil && s.AWSCredJson == "" {
		return nil, nil
	}

	s.log.Debug("using credential from OS secret store", zap.String("identity", s.identityName))
	return s.AWSCredentials, nil
}

func (s *SecretStore) SaveAWSCredential(cred *AWSCredentials) error {
	s.AWSCredentials = cred
	jsonStr, err := json.Marshal(cred)
	if err != nil {
		return err
	}
	s.AWSCredJson = string(jsonStr)
	return s.save()
}

func (s *SecretStore) Clear() error {
	return s.keyring.Delete(s.secretService, s.secretUser)
}

// ClearAll sweeps every identity recorded in the ini index out of the
// OS keychain and drops the index sections. Entries already missing
// from the keychain are skipped.
func (s *SecretStore) ClearAll() error {
	cfg, err := ini.LooseLoad(ConfigIniFile(""))
	if err != nil {
		return fmt.Errorf("unable to get sections from ini: %s, %w", err, ErrUnableToRetrieveSections)
	}

	for _, v := range cfg.Section(INI_CONF_SECTION).ChildSections() {
		key := strings.Replace(v.Name(), fmt.Sprintf("%s.", INI_CONF_SECTION), "", -1)
		if err := s.keyring.Delete(fmt.Sprintf("%s-%s", SELF_NAME, key), s.secretUser); err != nil {
			if errors.Is(err, keyring.ErrNotFound) {
				continue
			}
			return fmt.Errorf("%s, %w", err, ErrFailedToClearSecretStorage)
		}
		cfg.DeleteSection(v.Name())
	}

	return cfg.SaveTo(ConfigIniFile(""))
}
