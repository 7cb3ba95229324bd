package config

// DefaultAddr is the default listen address for the editor bridge.
const DefaultAddr = "127.0.0.1:7171"

// DefaultProjectRoot falls back to the current working directory.
const DefaultProjectRoot = "."

// DefaultManifestName is the manifest file created in the patch directory.
const DefaultManifestName = "manifest.txt"

// DefaultDecisionLogName is the decision log created in the patch directory.
const DefaultDecisionLogName = "user_decisions.txt"

// StateDirName holds the undo snapshot and the history database.
const StateDirName = ".fixdeck"

// DefaultFuzzFactor is the number of context lines a hunk may ignore.
const DefaultFuzzFactor = 2

// DefaultLogLevel is used when log_level is unset.
const DefaultLogLevel = "info"
