// Package agent routes inbound chat messages. The Agent serialises each
// user's turn through the session store, the Classifier picks one intent and
// the Dispatcher runs exactly one handler for it, delegating open questions
// to the conversational Fallback. Every failure ends as a user facing Reply.
package agent
