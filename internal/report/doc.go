// Package report renders aggregated pipeline results for humans and tools.
//
// Three writers share one interface: SimpleWriter for terminal display,
// JSONWriter for programmatic consumption, and MarkdownWriter for sharing
// run summaries. Writers are separate from the result types in the model
// package so new output formats never touch the core data structures, and
// MultiWriter composes them for stdout-plus-file output.
package report
