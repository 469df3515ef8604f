package config

import (
	"os"
	"runtime"
	"strings"
)

const (
	defaultDownloadsDir           = "~/Downloads"
	defaultImportDirName          = "assetImport"
	defaultScriptsDir             = "~/.local/share/assetlib/scripts"
	defaultStateDir               = "~/.local/share/assetlib"
	defaultLogDir                 = "~/.local/share/assetlib/logs"
	defaultAPIBind                = "127.0.0.1:7490"
	defaultRegistryBaseURL        = "https://usd-asset-library.up.railway.app/api"
	defaultRegistryTimeoutSeconds = 30
	defaultTemplateSceneName      = "houdini_usd_template_v02.hiplc"
	defaultControllerNode         = "/obj/STAGE_V05/CONTROLLER"
	defaultAssetParameter         = "assetName"
	defaultCheckoutParameter      = "checked_out"
	defaultSceneFile              = "generated_scene.hip"
	defaultSourceExtension        = ".fbx"
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultLogRetentionDays       = 14
	defaultServiceName            = "assetlib"
)

// defaultVersions lists known Houdini builds, newest first.
var defaultVersions = []string{"20.5.550", "20.5.370", "20.5.410", "20.5.332"}

// Default returns a Config populated with repository defaults for the
// current platform.
func Default() Config {
	layout := platformLayout(runtime.GOOS, os.Getenv("PROGRAMFILES"))
	return Config{
		Paths: Paths{
			DownloadsDir:  defaultDownloadsDir,
			ImportDirName: defaultImportDirName,
			ScriptsDir:    defaultScriptsDir,
			StateDir:      defaultStateDir,
			LogDir:        defaultLogDir,
			APIBind:       defaultAPIBind,
		},
		Registry: Registry{
			BaseURL:        defaultRegistryBaseURL,
			TimeoutSeconds: defaultRegistryTimeoutSeconds,
			TrailingSlash:  true,
		},
		DCC: DCC{
			InstallRoots:      layout.roots,
			Versions:          append([]string(nil), defaultVersions...),
			InteractiveLayout: layout.interactive,
			HeadlessLayout:    layout.headless,
			ControllerNode:    defaultControllerNode,
			AssetParameter:    defaultAssetParameter,
			CheckoutParameter: defaultCheckoutParameter,
			SceneFile:         defaultSceneFile,
			SourceExtension:   defaultSourceExtension,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Telemetry: Telemetry{
			ServiceName: defaultServiceName,
		},
	}
}

type installLayout struct {
	roots       []string
	interactive string
	headless    string
}

// platformLayout returns the well-known Houdini install locations for goos.
func platformLayout(goos, programFiles string) installLayout {
	switch goos {
	case "windows":
		programFiles = strings.TrimSpace(programFiles)
		if programFiles == "" {
			programFiles = "C:/Program Files"
		}
		return installLayout{
			roots:       []string{programFiles + "/Side Effects Software"},
			interactive: "{root}/Houdini {version}/bin/houdini.exe",
			headless:    "{root}/Houdini {version}/bin/hython.exe",
		}
	case "darwin":
		return installLayout{
			roots:       []string{"/Applications/Houdini"},
			interactive: "{root}/Houdini{version}/Frameworks/Houdini.framework/Versions/Current/Resources/bin/houdini",
			headless:    "{root}/Houdini{version}/Frameworks/Houdini.framework/Versions/Current/Resources/bin/hython",
		}
	default:
		return installLayout{
			roots:       []string{"/opt"},
			interactive: "{root}/hfs{version}/bin/houdini",
			headless:    "{root}/hfs{version}/bin/hython",
		}
	}
}
