package instrumentation

import "strings"

// ExtractUserDomain reduces an email address to its lowercased domain so it
// can be used as a metric label.
//
//	ExtractUserDomain("Jane@Acme.io")  // "acme.io"
//	ExtractUserDomain("invalid")       // "unknown"
func ExtractUserDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return "unknown"
	}
	return strings.ToLower(email[at+1:])
}

// Operation label values.
const (
	OperationSend      = "send"
	OperationReply     = "reply"
	OperationMarkRead  = "mark_read"
	OperationList      = "list"
	OperationGet       = "get"
	OperationSync      = "sync"
	OperationRefresh   = "refresh"
	OperationExchange  = "exchange"
	OperationUserInfo  = "userinfo"
	OperationTokenInfo = "tokeninfo"
)
