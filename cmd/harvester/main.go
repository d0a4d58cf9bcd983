// Package main provides the entry point for the harvester CLI.
//
// harvester runs resumable, deduplicating crawls: search autocomplete
// harvesting, batch word translation and public-account article export.
// Every job can be interrupted and restarted without fetching an item twice.
//
// Usage:
//
//	harvester suggest <root>
//	harvester translate <word-list>
//	harvester articles --token T --cookie C
//
// See --help for all available options.
package main

// main is the entry point for harvester.
func main() {
	Execute()
}
