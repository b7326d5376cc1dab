package profiles

import (
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"

	"github.com/opst/modelsync/pkg/configs/open"
	yaml "gopkg.in/yaml.v3"
)

var ErrProfileStoreNotFound = errors.New("profile store is not found")
var ErrCannotCreateConfig = errors.New("cannot create profile store")
var ErrCannotUpdateConfig = errors.New("cannot update profile store")
var ErrProfileInvalid = errors.New("profile is invalid")

// DefaultUserIDHeader is the header which the backend reads the user identity from.
const DefaultUserIDHeader = "kubeflow-userid"

// ProfileStore is a map from profile name to Profile.
type ProfileStore map[string]*Profile

type Cert struct {
	// base64 encoded CA certificate
	CA string `yaml:"ca,omitempty"`
}

type Auth struct {
	// bearer token sent in Authorization header.
	Token string `yaml:"token,omitempty"`

	// user identity sent in UserIDHeader.
	UserID string `yaml:"userid,omitempty"`

	// header name for UserID. DefaultUserIDHeader when empty.
	UserIDHeader string `yaml:"useridHeader,omitempty"`
}

// Profile tells how to reach a models web app backend.
type Profile struct {
	// endpoint of the backend, like "https://kubeflow.example.com/kserve-endpoints"
	ApiRoot string `yaml:"apiRoot"`

	Cert Cert `yaml:"cert,omitempty"`

	Auth Auth `yaml:"auth,omitempty"`
}

// Header returns the name of the header for the user identity.
func (a Auth) Header() string {
	if a.UserIDHeader == "" {
		return DefaultUserIDHeader
	}
	return a.UserIDHeader
}

func verifyUrl(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.IsAbs()
}

func verifyPEM(b64cert string) bool {
	bin, err := base64.StdEncoding.DecodeString(b64cert)
	if err != nil {
		return false
	}
	blk, _ := pem.Decode(bin)
	return blk != nil
}

// Verify Profile
//
// # Return
//
// nil if it is valid. Otherwise, ErrProfileInvalid error.
func (p *Profile) Verify() error {
	if !verifyUrl(p.ApiRoot) {
		return fmt.Errorf("%w: apiRoot is not URL: %s", ErrProfileInvalid, p.ApiRoot)
	}
	if p.Cert.CA != "" && !verifyPEM(p.Cert.CA) {
		return fmt.Errorf("%w: cert.ca is not PEM", ErrProfileInvalid)
	}

	return nil
}

// LoadProfileStore loads profile store from file.
func LoadProfileStore(filepath string) (ProfileStore, error) {
	buf, err := os.ReadFile(filepath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w at %s", ErrProfileStoreNotFound, filepath)
		}
		return nil, err
	}
	return Unmarshal(buf)
}

// Unmarshal profile store from yaml.
func Unmarshal(buf []byte) (ProfileStore, error) {
	ret := ProfileStore{}
	if err := yaml.Unmarshal(buf, &ret); err != nil {
		return nil, err
	}
	return ret, nil
}

// Save profile store to file.
//
// The previous content is kept in "{path}.backup" while writing,
// and remains there when writing is failed.
func (ps ProfileStore) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), os.FileMode(0700)); err != nil {
		return err
	}

	bkpath := path + ".backup"
	bk, err := open.NewSafeFile(bkpath)
	if err != nil {
		return err
	}
	keepBackup := false
	defer func() {
		if !keepBackup {
			os.Remove(bkpath)
		}
	}()
	defer bk.Close()

	f, err := os.OpenFile(path, os.O_RDWR, os.FileMode(0600))
	switch {
	case err == nil:
		// existing file may have loose permissions.
		if err := open.Restrict(path); err != nil {
			f.Close()
			return err
		}
	case os.IsPermission(err):
		return fmt.Errorf(
			"%w, because no permission to write file at %s",
			ErrCannotUpdateConfig, path,
		)
	case os.IsNotExist(err):
		f_, err_ := open.NewSafeFile(path)
		if err_ != nil {
			return fmt.Errorf("%w: cannot create a file at %s", ErrCannotCreateConfig, path)
		}
		f = f_
	default:
		return err
	}
	defer f.Close()

	if _, err := io.Copy(bk, f); err != nil {
		return err
	}

	buf, err := yaml.Marshal(ps)
	if err != nil {
		return err
	}

	keepBackup = true
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Write(buf); err != nil {
		return err
	}
	keepBackup = false
	return nil
}
