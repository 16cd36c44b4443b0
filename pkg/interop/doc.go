// Package interop carries bridge calls over a framed connection.
//
// Client implements bridge.Bridge on the application side. Requests are
// correlated with responses by message ID, and callback receivers passed
// as arguments are replaced by small integer handles that the host uses to
// address visibility callbacks.
//
// Host implements the page side for tests and the simulator: it accepts
// the adapter script, keeps one subscriber handle and pushes SetVisibility
// callbacks when the simulated page changes visibility.
//
// Message flow:
//
//	Client                                Host
//	  |-- Request{eval, script} ----------->|
//	  |<--------------- Response{OK} -------|
//	  |-- Request{subscribe, handle=1} ---->|
//	  |<--------------- Response{OK} -------|
//	  |<----- Callback{1, SetVisibility} ---|
//	  |              ...                    |
//	  |-- Request{unsubscribe} ------------>|
//	  |<--------------- Response{OK} -------|
package interop
