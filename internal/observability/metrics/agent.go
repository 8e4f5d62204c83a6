package metrics

import (
	"fmt"
	"io"
	"sync/atomic"
)

var (
	intentsTotal = newCounterVec("neolink_intents_total",
		"Messages classified per intent.", "intent")
	providerFailures = newCounterVec("neolink_provider_failures_total",
		"Failed capability lookups.", "provider", "reason")
	replyErrors = newCounterVec("neolink_reply_errors_total",
		"Replies carrying an error code.", "code")
	liveSessions atomic.Int64
)

// Recorder is the view of the metrics registry handed to the agent.
type Recorder struct{}

// Default returns the process wide recorder.
func Default() Recorder { return Recorder{} }

// ObserveIntent counts a classified message.
func (Recorder) ObserveIntent(kind string) { intentsTotal.inc(kind) }

// ObserveProviderFailure counts a failed capability lookup by reason.
func (Recorder) ObserveProviderFailure(capability, reason string) {
	providerFailures.inc(capability, reason)
}

// ObserveErrorCode counts replies that carried an error code.
func (Recorder) ObserveErrorCode(code string) {
	if code != "" {
		replyErrors.inc(code)
	}
}

// SetSessions reports the number of live sessions.
func (Recorder) SetSessions(n int) { liveSessions.Store(int64(n)) }

func writeAgentMetrics(w io.Writer) {
	intentsTotal.writeTo(w)
	providerFailures.writeTo(w)
	replyErrors.writeTo(w)
	fmt.Fprintf(w, "# HELP neolink_sessions Live sessions held in memory.\n# TYPE neolink_sessions gauge\nneolink_sessions %d\n", liveSessions.Load())
}
