package helpers

import "errors"

var (
	// ErrSymlinkTargetResolvesToSelf indicates a symlink resolves to itself.
	ErrSymlinkTargetResolvesToSelf = errors.New("symlink target resolves to self")
	// ErrSymlinkTargetEscapesDestination indicates a symlink escapes the target directory.
	ErrSymlinkTargetEscapesDestination = errors.New("symlink target escapes destination")
	// ErrSymlinkTarget indicates a symlink target is invalid.
	ErrSymlinkTarget = errors.New("symlink target is invalid")
	// ErrSymlinkTargetResolvesToRoot indicates a symlink resolves to the root directory.
	ErrSymlinkTargetResolvesToRoot = errors.New("symlink target resolves to root")
	// ErrSymlinkTargetIsAbsolute indicates a symlink target is an absolute path.
	ErrSymlinkTargetIsAbsolute = errors.New("symlink target is absolute")
	// ErrSymlinkTargetIsEmpty indicates a symlink target is empty.
	ErrSymlinkTargetIsEmpty = errors.New("symlink target is empty")

	// ErrArchivePathContainsSymlinkComponent indicates an archive path traverses a symlink.
	ErrArchivePathContainsSymlinkComponent = errors.New("archive path contains symlink component")
	// ErrArchiveExceedsMaxSize indicates an archive exceeds the maximum total size.
	ErrArchiveExceedsMaxSize = errors.New("archive exceeds maximum total size")
	// ErrArchiveEntryHasNegativeSize indicates an archive entry has a negative size.
	ErrArchiveEntryHasNegativeSize = errors.New("archive entry has negative size")
	// ErrArchiveEntryIsTooLarge indicates an archive entry is too large.
	ErrArchiveEntryIsTooLarge = errors.New("archive entry is too large")
	// ErrArchiveEntryEscapesDestination indicates an archive entry escapes the destination.
	ErrArchiveEntryEscapesDestination = errors.New("archive entry escapes destination")
	// ErrArchiveEntryIsAbsolutePath indicates an archive entry uses an absolute path.
	ErrArchiveEntryIsAbsolutePath = errors.New("archive entry is absolute path")
	// ErrArchiveEntryHasEmptyName indicates an archive entry has an empty name.
	ErrArchiveEntryHasEmptyName = errors.New("archive entry has empty name")
	// ErrHardlinkTargetIsEmpty indicates a hardlink target is empty.
	ErrHardlinkTargetIsEmpty = errors.New("hardlink target is empty")
	// ErrFileIsEmpty indicates a file is empty.
	ErrFileIsEmpty = errors.New("file is empty")

	// ErrPluginDirEmpty indicates the plugin directory is not configured.
	ErrPluginDirEmpty = errors.New("plugin directory is empty")
	// ErrInvalidPluginID indicates a plugin id is not usable as a path component.
	ErrInvalidPluginID = errors.New("invalid plugin id")
	// ErrInvalidVersion indicates a version is not major.minor.patch.
	ErrInvalidVersion = errors.New("invalid version")
	// ErrConfigIsNil indicates a nil config was provided.
	ErrConfigIsNil = errors.New("config is nil")
	// ErrConfigInvalid indicates a config file or flag value is unusable.
	ErrConfigInvalid = errors.New("config is invalid")

	// ErrAnotherInstanceIsRunning indicates another process holds a lock.
	ErrAnotherInstanceIsRunning = errors.New("another instance is running")
	// ErrLockTimeout indicates a lock could not be acquired in time.
	ErrLockTimeout = errors.New("timed out waiting for lock")

	// ErrStageFailed indicates a staging directory could not be created.
	ErrStageFailed = errors.New("STAGE_FAILED")
	// ErrPromoteFailed indicates staged content could not be promoted.
	ErrPromoteFailed = errors.New("PROMOTE_FAILED")
	// ErrNotCached indicates no index entry exists for a plugin version.
	ErrNotCached = errors.New("NOT_CACHED")
	// ErrCacheMissing indicates an index entry points at a missing path.
	ErrCacheMissing = errors.New("CACHE_MISSING")
	// ErrStagingPathInvalid indicates a staging path is outside the staging root.
	ErrStagingPathInvalid = errors.New("staging path is outside the staging root")
	// ErrCacheIndexCorrupt indicates the cache index could not be parsed.
	ErrCacheIndexCorrupt = errors.New("cache index is corrupt")
	// ErrUnsupportedIndexVersion indicates the cache index schema is newer than supported.
	ErrUnsupportedIndexVersion = errors.New("unsupported cache index version")

	// ErrPluginExists indicates a registry record already exists.
	ErrPluginExists = errors.New("PLUGIN_EXISTS")
	// ErrPluginNotFound indicates a registry record does not exist.
	ErrPluginNotFound = errors.New("PLUGIN_NOT_FOUND")
	// ErrValidationFailed indicates registry validation found errors.
	ErrValidationFailed = errors.New("VALIDATION_FAILED")
	// ErrRegistryCorrupt indicates the registry file could not be parsed.
	ErrRegistryCorrupt = errors.New("registry is corrupt")
	// ErrBackupNotFound indicates a registry backup does not exist.
	ErrBackupNotFound = errors.New("registry backup not found")

	// ErrManifestMissing indicates a plugin has no manifest.
	ErrManifestMissing = errors.New("plugin manifest is missing")
	// ErrManifestInvalid indicates a plugin manifest failed validation.
	ErrManifestInvalid = errors.New("plugin manifest is invalid")
	// ErrScriptNotDeclared indicates a lifecycle hook has no script.
	ErrScriptNotDeclared = errors.New("lifecycle script is not declared")
	// ErrScriptFailed indicates a lifecycle script exited non-zero.
	ErrScriptFailed = errors.New("lifecycle script failed")
	// ErrScriptTimeout indicates a lifecycle script exceeded its timeout.
	ErrScriptTimeout = errors.New("lifecycle script timed out")

	// ErrUnsupportedSource indicates an install source is neither a directory nor a tar.gz.
	ErrUnsupportedSource = errors.New("unsupported install source")
	// ErrChangelogURLEmpty indicates no changelog url is known for a plugin.
	ErrChangelogURLEmpty = errors.New("changelog url is empty")
)
