// Package constants is responsible for defining the constants used in the application.
// It also provides utility functions to get the default configuration and data paths.
package constants

import (
	"fmt"
	"os"
	"path/filepath"
)

var (
	// Version is the version of the application.
	Version = "Dev"
)

const (
	// EconServiceCmdName is the name of the economic data service command.
	EconServiceCmdName = "econ-service"
)

// Service constants.
const (
	// DefaultServiceFolder is the name of the default root folder for the service.
	DefaultServiceFolder = "econ-insights"

	// DefaultServiceDatasetsFolder is the name of the default datasets folder for the service.
	DefaultServiceDatasetsFolder = "datasets"
)

// Service variables.
var (
	// DefaultServiceDataDir is the default data directory for the service.
	DefaultServiceDataDir = DefaultServiceFolder

	// DefaultServiceDatasetsDir is the default datasets directory for the service.
	DefaultServiceDatasetsDir = filepath.Join(DefaultServiceDataDir, DefaultServiceDatasetsFolder)
)

func init() {
	userCacheDir, err := os.UserCacheDir()
	if err != nil {
		panic(fmt.Sprintf("Could not fetch cache directory: %v", err))
	}

	DefaultServiceDataDir = filepath.Join(userCacheDir, DefaultServiceFolder)
	DefaultServiceDatasetsDir = filepath.Join(DefaultServiceDataDir, DefaultServiceDatasetsFolder)
}
