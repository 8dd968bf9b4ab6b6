package irc

import "strings"

// supportedCapabilities is the set of capabilities the bridge knows how to use,
// in the order they are requested. chathistory is handled separately since
// either the draft or the ratified name may be advertised.
var supportedCapabilities = []string{
	"sasl",
	"echo-message",
	"server-time",
	"message-tags",
	"batch",
}

// capName strips a 302-style value ("sasl=PLAIN,EXTERNAL" -> "sasl")
func capName(c string) string {
	if idx := strings.IndexByte(c, '='); idx != -1 {
		return c[:idx]
	}
	return c
}

// requestedCapabilities intersects one line of advertised capabilities with
// the supported set. sasl is only requested when a password is configured.
func requestedCapabilities(advertised []string, withSASL bool) []string {
	offered := make(map[string]bool, len(advertised))
	for _, c := range advertised {
		offered[capName(c)] = true
	}

	var req []string
	for _, c := range supportedCapabilities {
		if !offered[c] {
			continue
		}
		if c == "sasl" && !withSASL {
			continue
		}
		req = append(req, c)
	}

	switch {
	case offered["draft/chathistory"]:
		req = append(req, "draft/chathistory")
	case offered["chathistory"]:
		req = append(req, "chathistory")
	}
	return req
}

// hasCapability reports whether the space separated list names c
func hasCapability(list []string, c string) bool {
	for _, item := range list {
		if capName(item) == c {
			return true
		}
	}
	return false
}
