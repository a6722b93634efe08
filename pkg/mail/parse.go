package mail

import (
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	message "github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	gomessage "github.com/emersion/go-message/mail"
	"github.com/rotisserie/eris"
)

// ParseMessage parses an RFC 5322 message. The body is the first
// text/plain part, or the text of the first text/html part.
func ParseMessage(r io.Reader) (*InboundMessage, error) {
	mr, err := gomessage.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, eris.Wrap(err, "mail: parse message")
	}

	h := mr.Header
	msg := &InboundMessage{}
	if id, err := h.MessageID(); err == nil {
		msg.MessageID = NormalizeMessageID(id)
	}
	if ids, err := h.MsgIDList("In-Reply-To"); err == nil {
		msg.InReplyTo = ids
	}
	if ids, err := h.MsgIDList("References"); err == nil {
		msg.References = ids
	}
	if subj, err := h.Subject(); err == nil {
		msg.Subject = subj
	}
	if d, err := h.Date(); err == nil {
		msg.Date = d
	}
	if addrs, err := h.AddressList("From"); err == nil && len(addrs) > 0 {
		msg.From = strings.ToLower(addrs[0].Address)
	}

	var plain, html string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) {
				continue
			}
			return nil, eris.Wrap(err, "mail: read part")
		}
		ih, ok := p.Header.(*gomessage.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := ih.ContentType()
		b, err := io.ReadAll(p.Body)
		if err != nil {
			return nil, eris.Wrap(err, "mail: read body")
		}
		switch {
		case ct == "text/plain" && plain == "":
			plain = string(b)
		case ct == "text/html" && html == "":
			html = string(b)
		}
	}

	msg.Body = strings.TrimSpace(plain)
	if msg.Body == "" && html != "" {
		msg.Body = htmlText(html)
	}
	return msg, nil
}

func htmlText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	doc.Find("script, style, head").Remove()
	doc.Find("br, p, div, li, tr, h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		s.AfterHtml("\n")
	})
	var lines []string
	for _, l := range strings.Split(doc.Text(), "\n") {
		if l = strings.Join(strings.Fields(l), " "); l != "" {
			lines = append(lines, l)
		}
	}
	return strings.Join(lines, "\n")
}

// StripQuoted drops quoted history from a reply: ">" lines and everything
// after an "On ... wrote:" attribution line or an "Original Message" divider.
func StripQuoted(body string) string {
	var out []string
	for _, line := range strings.Split(body, "\n") {
		t := strings.TrimSpace(line)
		if strings.HasPrefix(t, ">") {
			continue
		}
		lower := strings.ToLower(t)
		if (strings.HasPrefix(lower, "on ") && strings.HasSuffix(lower, "wrote:")) ||
			strings.Contains(lower, "-----original message-----") {
			break
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
