// Package config defines the configuration for a chirp node.
//
// Regardless of how chirp is started, it uses the Config object defined in
// this package to store and forward configuration options. A node relies on a
// storage root, defined by Config.DataDir, laid out as follows:
//
//	peers.csv        // the node directory: one "name, address, port" row per node
//	chirp.toml       // (optional) configuration file read by the CLI
//	<name>/log       // the append-only event log of node <name>
//	<name>/badger_db // the state store of node <name> (unless store=false)
//	<name>/chirp.log // the log output of node <name>
package config
