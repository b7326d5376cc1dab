package common

import (
	"os"
	"path/filepath"
)

// DefaultProfile is the profile name used when --profile is not given.
const DefaultProfile = "default"

type CommonFlags struct {
	Profile      string `flag:"profile" help:"profile name to use"`
	ProfileStore string `flag:"profile-store" help:"path to profile store file"`
	Settings     string `flag:"settings" help:"path to settings file of synchronization"`
	Direct       bool   `flag:"direct" help:"read resources from the cluster directly, instead of the backend"`
	Kubeconfig   string `flag:"kubeconfig" help:"path to kubeconfig for --direct. KUBECONFIG or ~/.kube/config is used when empty"`
}

type commonFlagDetection struct {
	home string
}

type CommonFlagDetectionOption func(*commonFlagDetection) *commonFlagDetection

func WithHome(home string) CommonFlagDetectionOption {
	return func(opt *commonFlagDetection) *commonFlagDetection {
		opt.home = home
		return opt
	}
}

// Flags returns default values of common flags.
//
// Environment variable MODELSYNC_PROFILE, if set, is the default profile name.
func Flags(opt ...CommonFlagDetectionOption) CommonFlags {
	detparam := commonFlagDetection{}
	for _, o := range opt {
		detparam = *o(&detparam)
	}

	home := detparam.home
	if home == "" {
		_home, err := os.UserHomeDir()
		if err != nil {
			_home = ""
		}
		home = _home
	}

	profile := DefaultProfile
	if p := os.Getenv("MODELSYNC_PROFILE"); p != "" {
		profile = p
	}

	return CommonFlags{
		Profile:      profile,
		ProfileStore: filepath.Join(home, ".modelsync", "profile"),
		Settings:     filepath.Join(home, ".modelsync", "settings.yaml"),
	}
}
