// Package report writes run summaries and stored-state information.
//
// Writers exist for three formats:
//   - TextWriter: tables for the terminal
//   - MarkdownWriter: a Markdown document for sharing
//   - JSONWriter: structured output for other tools
//
// Writers implement the Writer interface and can be combined with
// MultiWriter.
package report
