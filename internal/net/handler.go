package net

import (
	"fmt"
	"strings"

	"skoll/internal/book"
	"skoll/internal/common"
	"skoll/internal/floor"
)

// handle dispatches one command line and returns the single response
// line owed to the client. Malformed input gets an error line and
// mutates nothing.
func (s *Server) handle(sess *session, line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return errorLine(common.ErrMalformedOrder)
	}

	switch fields[0] {
	case "buy", "sell":
		req, err := floor.ParseRequest(line)
		if err != nil {
			return errorLine(err)
		}
		ack, err := s.floor.Submit(req, sess.id)
		if err != nil {
			return errorLine(err)
		}
		return ack.String()

	case "cancel":
		if len(fields) != 2 {
			return errorLine(fmt.Errorf("%w: usage: cancel <uuid>", common.ErrMalformedOrder))
		}
		if err := s.floor.Cancel(fields[1], sess.id); err != nil {
			return errorLine(err)
		}
		return "cancelled " + fields[1]

	case "price":
		if len(fields) != 2 {
			return errorLine(fmt.Errorf("%w: usage: price <ticker>", common.ErrMalformedOrder))
		}
		return fmt.Sprintf("price %s %.2f", fields[1], s.floor.CurrentPrice(fields[1]))

	case "book":
		if len(fields) != 2 {
			return errorLine(fmt.Errorf("%w: usage: book <ticker>", common.ErrMalformedOrder))
		}
		bids, asks := s.floor.Depth(fields[1])
		return renderDepth(fields[1], bids, asks)

	case "register":
		if len(fields) != 3 {
			return errorLine(fmt.Errorf("%w: usage: register <user> <password>", common.ErrMalformedOrder))
		}
		if err := s.auth.Register(fields[1], fields[2]); err != nil {
			return errorLine(err)
		}
		return "registered " + fields[1]

	case "login":
		if len(fields) != 3 {
			return errorLine(fmt.Errorf("%w: usage: login <user> <password>", common.ErrMalformedOrder))
		}
		token, err := s.auth.Login(fields[1], fields[2])
		if err != nil {
			return errorLine(err)
		}
		sess.setAuth(fields[1], token)
		return "token " + token

	case "logout":
		if token := sess.clearAuth(); token != "" {
			s.auth.Revoke(token)
		}
		return "bye"
	}

	return errorLine(fmt.Errorf("unknown command %q", fields[0]))
}

func errorLine(err error) string {
	return "error: " + err.Error()
}

// renderDepth prints a book as one line, bids then asks, levels as
// price x quantity.
func renderDepth(ticker string, bids, asks []book.Level) string {
	var sb strings.Builder
	sb.WriteString("book ")
	sb.WriteString(ticker)
	sb.WriteString(" bids")
	for _, level := range bids {
		fmt.Fprintf(&sb, " %.2fx%d", level.Price, level.Quantity)
	}
	sb.WriteString(" asks")
	for _, level := range asks {
		fmt.Fprintf(&sb, " %.2fx%d", level.Price, level.Quantity)
	}
	return sb.String()
}
