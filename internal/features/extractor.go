package features

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Keyword sets are matched case-insensitively against the raw markup.
var (
	kwPay    = []string{"pay", "payment", "checkout"}
	kwBank   = []string{"bank", "securebank", "atm"}
	kwCrypto = []string{"crypto", "bitcoin", "wallet"}
)

// ExtractStructural computes page features from fetched markup. Empty
// markup yields an empty Partial, so every page feature falls back to 0.
func ExtractStructural(htmlContent string, targetURL string) Partial {
	var f Partial
	if htmlContent == "" {
		return f
	}

	// strings.Reader never fails, so the error path is unreachable in practice.
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return f
	}

	host := Hostname(targetURL)

	// --- Head ---
	title := strings.TrimSpace(doc.Find("title").First().Text())
	f.Set(HasTitle, boolToFloat(title != ""))
	f.Set(DomainTitleMatchScore, similarity(host, title))
	f.Set(URLTitleMatchScore, similarity(targetURL, title))

	f.Set(HasDescription, boolToFloat(doc.Find(`meta[name="description"]`).Length() > 0))
	f.Set(IsResponsive, boolToFloat(doc.Find(`meta[name="viewport"]`).Length() > 0))
	f.Set(Robots, boolToFloat(doc.Find(`meta[name="robots"]`).Length() > 0))

	hasFavicon := false
	stylesheets := 0
	doc.Find("link[rel]").Each(func(i int, s *goquery.Selection) {
		rel := strings.ToLower(s.AttrOr("rel", ""))
		if strings.Contains(rel, "icon") {
			hasFavicon = true
		}
		if strings.Contains(rel, "stylesheet") {
			stylesheets++
		}
	})
	f.Set(HasFavicon, boolToFloat(hasFavicon))

	// --- Elements ---
	f.Set(NoOfJS, float64(doc.Find("script").Length()))
	f.Set(NoOfImage, float64(doc.Find("img").Length()))
	f.Set(NoOfiFrame, float64(doc.Find("iframe").Length()))
	f.Set(NoOfCSS, float64(stylesheets))

	lines, longest := lineStats(htmlContent)
	f.Set(LineOfCode, float64(lines))
	f.Set(LargestLineLength, float64(longest))

	// --- Forms ---
	var submit, hidden, password, external bool
	doc.Find("form").Each(func(i int, form *goquery.Selection) {
		if form.Find("input[type=submit], button").Length() > 0 {
			submit = true
		}
		if form.Find("input[type=hidden]").Length() > 0 {
			hidden = true
		}
		if form.Find("input[type=password]").Length() > 0 {
			password = true
		}
		if action := actionHost(form.AttrOr("action", "")); action != "" && action != host {
			external = true
		}
	})
	f.Set(HasSubmitButton, boolToFloat(submit))
	f.Set(HasHiddenFields, boolToFloat(hidden))
	f.Set(HasPasswordField, boolToFloat(password))
	f.Set(HasExternalFormSubmit, boolToFloat(external))

	// --- Links ---
	selfRef, extRef, emptyRef := 0, 0, 0
	doc.Find("a").Each(func(i int, s *goquery.Selection) {
		href := s.AttrOr("href", "")
		switch trimmed := strings.TrimSpace(href); {
		case trimmed == "" || trimmed == "#":
			emptyRef++
		case strings.Contains(href, host):
			selfRef++
		default:
			extRef++
		}
	})
	f.Set(NoOfSelfRef, float64(selfRef))
	f.Set(NoOfExternalRef, float64(extRef))
	f.Set(NoOfEmptyRef, float64(emptyRef))

	// --- Keywords (case insensitive) ---
	lower := strings.ToLower(htmlContent)
	f.Set(Pay, boolToFloat(containsAny(lower, kwPay)))
	f.Set(Bank, boolToFloat(containsAny(lower, kwBank)))
	f.Set(Crypto, boolToFloat(containsAny(lower, kwCrypto)))

	// --- URL noise ---
	f.Set(CharContinuationRate, continuationRate(targetURL))
	f.Set(URLCharProb, charProbability(targetURL))

	return f
}

// actionHost is the host a form posts to, or "" for relative actions.
func actionHost(action string) string {
	action = strings.TrimSpace(action)
	switch {
	case strings.HasPrefix(action, "//"):
		return Hostname("http:" + action)
	case strings.Contains(action, "://"):
		return Hostname(action)
	}
	return ""
}

func containsAny(text string, kws []string) bool {
	for _, kw := range kws {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
