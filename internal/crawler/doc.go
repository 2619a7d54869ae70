// Package crawler holds the task, log, platform and entity types shared by
// the orchestrator, strategies, reconciler and stores, plus the ports those
// components talk through.
package crawler
