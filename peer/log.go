// Copyright (c) 2015-2016 The btcsuite developers
// Copyright (c) 2016-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package peer

import (
	"fmt"

	"github.com/decred/addrgossip/wire"
	"github.com/decred/slog"
)

// log is a logger that is initialized with no output filters.  This
// means the package will not perform any logging by default until the caller
// requests it.
// The default amount of logging is none.
var log = slog.Disabled

// UseLogger uses a specified Logger to output package logging info.
func UseLogger(logger slog.Logger) {
	log = logger
}

// addrSummary returns an address list as a human-readable string.
func addrSummary(addrs []wire.NetAddress) string {
	switch len(addrs) {
	case 0:
		return "empty"
	case 1:
		return addrs[0].Endpoint.String()
	}
	return fmt.Sprintf("%d addrs (first %v)", len(addrs), addrs[0].Endpoint)
}

// messageSummary returns a human-readable string which summarizes a message.
// Not all messages have or need a summary.  This is used for debug logging.
func messageSummary(msg wire.Message) string {
	switch msg := msg.(type) {
	case *wire.MsgGetAddr:
		return fmt.Sprintf("max %d", msg.MaxCount)

	case *wire.MsgAddr:
		return addrSummary(msg.AddrList)
	}

	// No summary for other messages.
	return ""
}
