package features

import (
	"net"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/idna"
)

// ratioEpsilon keeps the length ratios finite for the empty string.
const ratioEpsilon = 1e-6

// allowedPunctuation is not counted as "other special" characters.
const allowedPunctuation = "/:._-?=&%+#~"

// ExtractLexical computes the features that depend only on the URL string.
// Counts run over the raw input, not a normalized form.
func ExtractLexical(rawURL string) Partial {
	var p Partial

	scheme, netloc := SplitURL(rawURL)
	host := hostFromNetloc(netloc)

	length := utf8.RuneCountInString(rawURL)
	var digits, letters, special int
	for _, r := range rawURL {
		switch {
		case unicode.IsDigit(r):
			digits++
			continue
		case unicode.IsLetter(r):
			letters++
			continue
		}
		if !unicode.IsNumber(r) && !strings.ContainsRune(allowedPunctuation, r) {
			special++
		}
	}

	p.Set(URLLength, float64(length))
	p.Set(NoOfAmpersandInURL, float64(strings.Count(rawURL, "&")))
	p.Set(NoOfEqualsInURL, float64(strings.Count(rawURL, "=")))
	p.Set(NoOfQMarkInURL, float64(strings.Count(rawURL, "?")))
	p.Set(NoOfAtInURL, float64(strings.Count(rawURL, "@")))
	p.Set(NoOfHyphenInURL, float64(strings.Count(rawURL, "-")))
	p.Set(NoOfDegitsInURL, float64(digits))
	p.Set(NoOfLettersInURL, float64(letters))
	p.Set(NoOfOtherSpecialCharsInURL, float64(special))

	p.Set(IsDomainIP, boolToFloat(net.ParseIP(host) != nil))
	p.Set(TLDLength, float64(tldLength(host)))
	p.Set(DomainLength, float64(utf8.RuneCountInString(host)))
	p.Set(NoOfSubDomain, float64(subdomainCount(host)))

	denom := float64(length) + ratioEpsilon
	p.Set(LetterRatioInURL, float64(letters)/denom)
	p.Set(DegitRatioInURL, float64(digits)/denom)
	p.Set(SpacialCharRatioInURL, float64(special)/denom)

	p.Set(IsHTTPS, boolToFloat(scheme == "https"))

	p.Set(IsPunycodeDomain, boolToFloat(strings.HasPrefix(host, "xn--") || strings.Contains(host, ".xn--")))
	p.Set(HasHomographDomain, boolToFloat(mixesScripts(host)))

	return p
}

func tldLength(host string) int {
	i := strings.LastIndexByte(host, '.')
	if i < 0 {
		return 0
	}
	return utf8.RuneCountInString(host[i+1:])
}

// subdomainCount is the number of host labels beyond the registrable pair.
func subdomainCount(host string) int {
	if dots := strings.Count(host, "."); dots > 1 {
		return dots - 1
	}
	return 0
}

// mixesScripts reports whether the decoded host combines Latin letters with
// letters from another script, the usual shape of a homograph domain.
func mixesScripts(host string) bool {
	if host == "" {
		return false
	}
	decoded, err := idna.ToUnicode(host)
	if err != nil {
		decoded = host
	}

	hasLatin, hasOther := false, false
	for _, r := range decoded {
		switch {
		case unicode.In(r, unicode.Latin):
			hasLatin = true
		case unicode.IsLetter(r):
			hasOther = true
		}
	}
	return hasLatin && hasOther
}
