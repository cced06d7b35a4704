package types

// SoftwareStatus describes how a catalog entry relates to the registry.
type SoftwareStatus string

const (
	// StatusManaged marks an entry backed by a persisted registry record
	StatusManaged SoftwareStatus = "managed"
	// StatusUnknownInstall marks an install directory with no registry record
	StatusUnknownInstall SoftwareStatus = "unknown_install"
	// StatusUnknownArchive marks an archive file with no registry record
	StatusUnknownArchive SoftwareStatus = "unknown_archive"
)

// SoftwareEntry represents one portable application in the catalog.
//
// Only the json-tagged fields are persisted. Status, BackupPath and the
// existence flags are recomputed on every reconcile and never written back.
type SoftwareEntry struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	InstallPath    string `json:"installPath"`
	ExecutablePath string `json:"executablePath"`
	ArchivePath    string `json:"archivePath"`
	IconPath       string `json:"iconPath,omitempty"`
	SortOrder      int    `json:"sortOrder"`

	Status          SoftwareStatus `json:"-"`
	BackupPath      string         `json:"-"`
	ArchiveExists   bool           `json:"-"`
	InstallExists   bool           `json:"-"`
	IsBackupArchive bool           `json:"-"`
}

// SourceType distinguishes what kind of file an ingestion started from.
type SourceType string

const (
	SourceArchive    SourceType = "archive"
	SourceExecutable SourceType = "executable"
)

// PendingAddition carries the state of an ingestion that produced more than
// one executable candidate. It is consumed by CompleteSelection or
// CancelPending and is never persisted.
type PendingAddition struct {
	Name               string
	SourcePath         string
	InstallPath        string
	ArchivePath        string
	ExecutablePaths    []string
	PreferredSortOrder *int
	// ExistingSoftwareID is set only for rehost flows.
	ExistingSoftwareID string
	// IsBackupArchive records that the source archive came out of the
	// backup directory, so finalize can note it as the backup reference.
	IsBackupArchive bool
}

// DuplicateInfo describes an ingestion conflict: the target install
// directory or archive file already exists, or a managed entry already
// references one of them. It is resolved by overwriting or renaming.
type DuplicateInfo struct {
	SourceType        SourceType
	SourcePath        string
	Name              string
	TargetInstallPath string
	TargetArchivePath string
	InstallExists     bool
	ArchiveExists     bool
	// Conflicting is the managed entry referencing one of the target
	// paths, nil when the conflict is purely filesystem state.
	Conflicting *SoftwareEntry
}

// NotifyFunc signals a condition (currently only missing configuration)
// to the presentation layer. Implementations must not block.
type NotifyFunc func(message string)
