// Package campaign runs email campaigns.
//
// A Runner takes a recipient list, a template and one provider
// configuration, and produces exactly one recorded outcome per recipient:
// sent, failed or skipped. A bad row never aborts the run. Transient
// provider errors are retried with backoff; everything else fails the
// recipient immediately. The only fatal condition is a Status Store write
// failure, which halts the run and is returned to the caller together
// with the outcomes recorded so far.
//
// The Runner never skips recipients on its own. Callers resuming a run
// filter the list with FilterUnsent first.
package campaign
