package init

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/opst/modelsync/cmd/modelsync/subcommands/common"
	"github.com/opst/modelsync/pkg/configs/profiles"
	"github.com/youta-t/flarc"
	"gopkg.in/yaml.v3"
)

type Flag struct {
	ApiRoot string `flag:"api-root" metavar:"URL" help:"root URL of the backend. Used when PROFILE_FILE is not given."`
	Token   string `flag:"token" help:"bearer token sent to the backend."`
	UserID  string `flag:"userid" help:"user identity sent to the backend."`
}

const ARG_PROFILE_FILE = "PROFILE_FILE"

func New() (flarc.Command, error) {
	return flarc.NewCommand(
		"Register a profile of the backend.",
		Flag{},
		flarc.Args{
			{
				Name: ARG_PROFILE_FILE, Required: false,
				Help: "filepath to profile file, which you received from your admin.",
			},
		},
		common.NewTaskWithCommonFlag(Task()),
		flarc.WithDescription(`
Register a new profile into your profile store.

"profile" is a file which tells where the backend is and how to authenticate to it.
"{{ .Command }}" registers the given profile into your profile store.

Instead of the profile file, the profile can be given by flags:

    {{ .Command }} --api-root https://models.example.com --userid user@example.com

The name of the profile is given by "--profile" ( default: "default" ).
`),
	)
}

func Task() common.TaskWithCommonFlag[Flag] {
	return func(
		ctx context.Context,
		logger *log.Logger,
		cf common.CommonFlags,
		cl flarc.Commandline[Flag],
		params []any,
	) error {
		flags := cl.Flags()
		newProf := new(profiles.Profile)

		if files := cl.Args()[ARG_PROFILE_FILE]; 0 < len(files) {
			profFile := files[0]
			content, err := os.ReadFile(profFile)
			if err != nil {
				return fmt.Errorf("failed to read profile file (%s): %w", profFile, err)
			}
			if err := yaml.Unmarshal(content, newProf); err != nil {
				return fmt.Errorf("failed to parse profile file (%s): %w", profFile, err)
			}
		} else if flags.ApiRoot != "" {
			newProf.ApiRoot = flags.ApiRoot
		} else {
			return fmt.Errorf("%w: PROFILE_FILE or --api-root is required", flarc.ErrUsage)
		}

		if flags.Token != "" {
			newProf.Auth.Token = flags.Token
		}
		if flags.UserID != "" {
			newProf.Auth.UserID = flags.UserID
		}
		if err := newProf.Verify(); err != nil {
			return err
		}

		store, err := profiles.LoadProfileStore(cf.ProfileStore)
		if errors.Is(err, profiles.ErrProfileStoreNotFound) {
			// ok.
			store = profiles.ProfileStore{}
		} else if err != nil {
			return fmt.Errorf("failed to load profile store (%s): %w", cf.ProfileStore, err)
		}

		store[cf.Profile] = newProf
		if err := store.Save(cf.ProfileStore); err != nil {
			return fmt.Errorf("failed to save profile store (%s): %w", cf.ProfileStore, err)
		}
		logger.Printf("profile %s is saved to %s", cf.Profile, cf.ProfileStore)
		return nil
	}
}
