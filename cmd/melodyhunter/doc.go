// Command melodyhunter runs the music metadata crawl service.
//
// Subcommands:
//
//	serve            HTTP task API plus the worker pool
//	crawl            create one task and execute it in the foreground
//	platforms init   seed or refresh the platform catalog
//	platforms list   print the platform catalog
//
// Configuration is read from the file given by --config and from MELODY_*
// environment variables (for example MELODY_STORAGE_DRIVER=sqlite).
package main
