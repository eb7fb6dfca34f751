package config

import "os"

// candidatePaths are tried, in order, when CONFIG_PATH is unset.
var candidatePaths = []string{
	"config/taskstream.yaml",
	"/etc/taskstream/config.yaml",
}

func viperConfigPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	for _, p := range candidatePaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
