package version

// Version is the current webapi-moderator release.
var Version = "0.9.0"
