package helpers

const (
	dirSuffix      = ".cache/go-plugctl"
	defaultHomeDir = "/root"
)
