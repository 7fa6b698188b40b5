package ir

// Version is the parley release version.
const Version = "0.1.0"
