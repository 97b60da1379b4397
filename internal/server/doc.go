// Package server hosts the Fiber HTTP front-end that serves cached artifacts
// from configured repositories. Artifact routes live under /<repo>/<path>;
// diagnostics (listing, index dump, build epoch control) live under /-/.
// Every request shares the process-wide build epoch held by EpochClock, so
// a build tool pointed at the server sees at most one origin round trip per
// resource until the epoch is advanced.
package server
