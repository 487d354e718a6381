package composer

import (
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ClickURL builds the redirect wrapper for target.
func ClickURL(base, correlationID, target string) string {
	q := url.Values{}
	q.Set("correlationId", correlationID)
	q.Set("url", target)
	return strings.TrimRight(base, "/") + "/click?" + q.Encode()
}

// PixelURL builds the open-tracking image URL.
func PixelURL(base, correlationID, recipient string) string {
	q := url.Values{}
	q.Set("correlationId", correlationID)
	q.Set("recipient", recipient)
	return strings.TrimRight(base, "/") + "/track?" + q.Encode()
}

// injectTracking rewrites every absolute http(s) link to the click
// endpoint and appends the open pixel to <body>. It returns the new HTML
// and the number of rewritten links.
func injectTracking(body, base, correlationID, recipient string) (string, int, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return "", 0, fmt.Errorf("parse html: %w", err)
	}

	rewritten := 0
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if !trackable(href, base) {
			return
		}
		s.SetAttr("href", ClickURL(base, correlationID, href))
		rewritten++
	})

	pixel := fmt.Sprintf(`<img src="%s" width="1" height="1" alt="" style="display:none;border:0;" />`,
		html.EscapeString(PixelURL(base, correlationID, recipient)))
	doc.Find("body").AppendHtml(pixel)

	out, err := doc.Html()
	if err != nil {
		return "", 0, fmt.Errorf("render html: %w", err)
	}
	return out, rewritten, nil
}

// trackable reports whether href is an outbound web link that should go
// through the redirect. mailto:, tel:, anchors and links already pointing
// at the tracking host are left alone.
func trackable(href, base string) bool {
	u, err := url.Parse(href)
	if err != nil || u.Host == "" {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if b, err := url.Parse(base); err == nil && b.Host != "" && strings.EqualFold(b.Host, u.Host) {
		return false
	}
	return true
}

var whitespaceRun = regexp.MustCompile(`[ \t]*\n[ \t\n]*`)

// plainText derives a text fallback from HTML when the campaign has no
// text template.
func plainText(body string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return ""
	}
	doc.Find("script, style, head").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, div, tr, h1, h2, h3, h4, li").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if href != "" && strings.TrimSpace(s.Text()) != href {
			s.AppendHtml(" (" + html.EscapeString(href) + ")")
		}
	})
	text := whitespaceRun.ReplaceAllString(doc.Text(), "\n")
	return strings.TrimSpace(text)
}
