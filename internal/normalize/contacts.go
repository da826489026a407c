package normalize

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const minPhoneDigits = 9

var (
	phonePattern = regexp.MustCompile(`\+?\d{1,3}[\s\-.]?\(?\d{2,3}\)?[\s\-.]?\d{3}[\s\-.]?\d{3,4}`)
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

	placeholderEmailMarkers = []string{"example.", "test@", "noreply@", "no-reply@"}
	imageSuffixes           = []string{".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg", ".avif"}
)

func phoneNumbers(doc *html.Node, segments []string) []string {
	var out []string
	for _, href := range linkTargets(doc, "tel:") {
		if phone := strings.TrimSpace(href); countDigits(phone) >= minPhoneDigits {
			out = append(out, phone)
		}
	}
	for _, segment := range segments {
		for _, match := range phonePattern.FindAllString(segment, -1) {
			if phone := strings.TrimSpace(match); countDigits(phone) >= minPhoneDigits {
				out = append(out, phone)
			}
		}
	}
	return out
}

func emailAddresses(doc *html.Node, segments []string) []string {
	var out []string
	keep := func(candidate string) {
		email := strings.ToLower(strings.TrimSpace(candidate))
		if email == "" || isPlaceholderEmail(email) {
			return
		}
		out = append(out, email)
	}

	for _, href := range linkTargets(doc, "mailto:") {
		if query := strings.IndexByte(href, '?'); query >= 0 {
			href = href[:query]
		}
		if decoded, err := url.PathUnescape(href); err == nil {
			href = decoded
		}
		if email := emailPattern.FindString(href); email != "" {
			keep(email)
		}
	}
	for _, segment := range segments {
		for _, match := range emailPattern.FindAllString(segment, -1) {
			keep(match)
		}
	}
	return out
}

func isPlaceholderEmail(email string) bool {
	for _, marker := range placeholderEmailMarkers {
		if strings.Contains(email, marker) {
			return true
		}
	}
	// Retina asset names such as logo@2x.png look like addresses.
	for _, suffix := range imageSuffixes {
		if strings.HasSuffix(email, suffix) {
			return true
		}
	}
	return false
}

// linkTargets returns href values with the given scheme, scheme stripped.
func linkTargets(doc *html.Node, scheme string) []string {
	var out []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			href := strings.TrimSpace(attr(n, "href"))
			if len(href) > len(scheme) && strings.EqualFold(href[:len(scheme)], scheme) {
				out = append(out, href[len(scheme):])
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out
}
