package helpers

import "time"

const (
	// DirMod is the default permission for created directories.
	DirMod = 0o755
	// FileMod is the default permission for created files.
	FileMod = 0o644

	// MiB is the number of bytes in one mebibyte.
	MiB = int64(1 << 20)

	// CacheDirName is the cache tree root under the plugin directory.
	CacheDirName = "cache"
	// CacheIndexFile is the cache index filename under the cache root.
	CacheIndexFile = "index.json"
	// CacheIndexLock is the lock file guarding cache index mutations.
	CacheIndexLock = ".index.lock"
	// CacheIndexVersion is the current cache index schema version.
	CacheIndexVersion = "1.0.0"
	// CacheDefaultMaxSizeMB is the default cache size cap in MiB.
	CacheDefaultMaxSizeMB = 512
	// CacheRetentionVersions is the per-plugin version retention limit.
	CacheRetentionVersions = 3
	// CacheRollbackFloor is the minimum number of versions one size-driven pass leaves per plugin.
	CacheRollbackFloor = 2
	// CacheEvictionLogLimit bounds the eviction log length.
	CacheEvictionLogLimit = 100

	// TmpDirName is the staging root under the plugin directory.
	TmpDirName = "tmp"
	// TmpOrphanAge is how old a staging directory must be before orphan cleanup removes it.
	TmpOrphanAge = time.Hour
	// ActiveDirName holds activation symlinks under the plugin directory.
	ActiveDirName = "active"
	// AuditDirName holds per-transaction audit records.
	AuditDirName = "audit"
	// BackupDirName holds registry snapshots.
	BackupDirName = "backups"

	// RegistryFile is the registry filename under the plugin directory.
	RegistryFile = "registry.json"
	// RegistryLock is the lock file guarding registry mutations.
	RegistryLock = ".registry.lock"
	// RegistryVersion is the current registry schema version.
	RegistryVersion = "1.0.0"
	// RegistryDefaultMaxBackups is how many registry snapshots are kept.
	RegistryDefaultMaxBackups = 20
	// RegistryModifiedBy is recorded in registry metadata on every write.
	RegistryModifiedBy = "go-plugctl"

	// ConfigFile is the default config filename under the plugin directory.
	ConfigFile = "plugctl.toml"
	// ConfigEnv names the environment variable pointing at a config file.
	ConfigEnv = "PLUGCTL_CONFIG"

	// ManifestFile is the plugin manifest filename at the plugin root.
	ManifestFile = "plugin.yaml"
	// ManifestMaxBytes caps a manifest read from an archive.
	ManifestMaxBytes = int64(256 << 10)
	// ManifestDefaultInterpreter runs lifecycle scripts when the manifest names none.
	ManifestDefaultInterpreter = "sh"

	// LockDefaultTimeout bounds how long a store waits for a lock held by another process.
	LockDefaultTimeout = 10 * time.Second
	// LockRetryInterval is the polling interval while waiting for a lock.
	LockRetryInterval = 50 * time.Millisecond

	// LifecycleDefaultTimeout bounds a single lifecycle script run.
	LifecycleDefaultTimeout = 30 * time.Second

	// ChangelogDefaultTimeout bounds a changelog fetch.
	ChangelogDefaultTimeout = 5 * time.Second
	// ChangelogCacheTTL is how long a successful changelog fetch is reused.
	ChangelogCacheTTL = 24 * time.Hour
	// ChangelogCacheDB is the bbolt file holding cached changelogs.
	ChangelogCacheDB = "changelog-cache.db"
	// ChangelogBucket is the bbolt bucket for changelog entries.
	ChangelogBucket = "changelog"
	// ChangelogMaxBytes caps a changelog body.
	ChangelogMaxBytes = int64(1 << 20)

	// UninstallDefaultKeepVersions is the default N for keep-last-n.
	UninstallDefaultKeepVersions = 3

	// ArchiveMaxEntrySize caps a single archive entry size during extraction.
	ArchiveMaxEntrySize = int64(512 << 20) // 512 MiB per file
	// ArchiveMaxTotalSize caps total extracted bytes per archive.
	ArchiveMaxTotalSize = int64(4 << 30) // 4 GiB per archive

	// FetchDialContextTimeout is the dial timeout for outbound connections.
	FetchDialContextTimeout = 5 * time.Second
	// FetchDialContextKeepAlive is the TCP keep-alive for dials.
	FetchDialContextKeepAlive = 30 * time.Second
	// FetchForceAttemptHTTP2 enables HTTP/2 attempts when possible.
	FetchForceAttemptHTTP2 = true
	// FetchMaxIdleConns is the maximum number of idle connections.
	FetchMaxIdleConns = 20
	// FetchMaxIdleConnsPerHost limits idle connections per host.
	FetchMaxIdleConnsPerHost = 4
	// FetchIdleConnTimeout is the idle connection timeout.
	FetchIdleConnTimeout = 30 * time.Second
	// FetchTLSHandshakeTimeout is the TLS handshake timeout.
	FetchTLSHandshakeTimeout = 3 * time.Second
	// FetchExpectContinueTimeout is the expect-continue timeout.
	FetchExpectContinueTimeout = 1 * time.Second
)
