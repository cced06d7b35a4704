// Package paths provides the canonical on-disk layout and the path
// sanitation used during archive extraction.
//
// # Directory Structure
//
//	<install root>/
//	  ├── <AppName>/              (one directory per managed application)
//	  └── ~archives/              (archive root, configurable)
//	      ├── software_list.json  (persisted catalog)
//	      ├── software_list.lock  (advisory lock sentinel, zero bytes)
//	      ├── <AppName>.zip       (ingestion archives)
//	      └── backup/             (timestamped zip backups)
//
// # Usage
//
//	target, err := paths.SecureJoin(installDir, entryName)
//	if err != nil {
//	    // entry escapes the destination, skip it
//	}
//
// SecureJoin is the single defense against zip-slip: every archive entry
// path goes through it before anything is written.
package paths
